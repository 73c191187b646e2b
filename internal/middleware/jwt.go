package middleware

import (
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/tapturf/tapturf/internal/auth"
)

// JWTAuth validates bearer session tokens and stores the account id in
// Locals under auth.LocalUserID.
func JWTAuth(tokens *auth.Tokens) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authz := c.Get(fiber.HeaderAuthorization)
		if len(authz) < len("Bearer ") || !strings.EqualFold(authz[:len("Bearer ")], "bearer ") {
			return fiber.NewError(http.StatusUnauthorized, "Access token required")
		}
		claims, err := tokens.Parse(strings.TrimSpace(authz[len("Bearer "):]))
		if err != nil {
			return fiber.NewError(http.StatusUnauthorized, "Invalid or expired token")
		}

		c.Locals(auth.LocalUserID, claims.Subject)
		c.Locals("role", claims.Role)
		return c.Next()
	}
}
