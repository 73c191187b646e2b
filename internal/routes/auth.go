package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/tapturf/tapturf/internal/auth"
)

// RegisterAuthRoutes wires phone and PIN authentication endpoints.
func RegisterAuthRoutes(r fiber.Router, h *auth.Handler, rateLimiter fiber.Handler) {
	group := r.Group("/auth")
	group.Post("/check-phone", h.CheckPhone)
	group.Post("/register", h.Register)
	group.Post("/pin/set", h.SetPIN)
	if rateLimiter != nil {
		group.Post("/pin/verify", rateLimiter, h.VerifyPIN)
	} else {
		group.Post("/pin/verify", h.VerifyPIN)
	}
}

// RegisterEmailRoutes wires email ownership verification. Handlers in mw run
// before both endpoints, in order.
func RegisterEmailRoutes(r fiber.Router, h *auth.Handler, mw ...fiber.Handler) {
	r.Post("/email/send-otp", chain(mw, h.SendEmailOTP)...)
	r.Post("/email/verify-otp", chain(mw, h.VerifyEmailOTP)...)
}

func chain(mw []fiber.Handler, last fiber.Handler) []fiber.Handler {
	out := make([]fiber.Handler, 0, len(mw)+1)
	out = append(out, mw...)
	return append(out, last)
}

// RegisterUserRoutes wires the profile endpoints behind authn.
func RegisterUserRoutes(r fiber.Router, h *auth.Handler, authn fiber.Handler) {
	r.Get("/me", authn, h.Me)
	r.Patch("/me", authn, h.UpdateMe)
}
