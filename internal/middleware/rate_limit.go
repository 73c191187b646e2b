package middleware

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

// KeyFunc maps a raw body value to the canonical subject it is counted under.
type KeyFunc func(raw string) string

// RateLimit caps requests per minute for a route group. Requests are keyed by
// the JSON body field named field (e.g. "phone" or "email") passed through
// normalize, falling back to the client IP. A nil normalize lowercases and
// trims. It is a no-op without Redis and fails open on cache errors.
func RateLimit(cache *redis.Client, scope, field string, normalize KeyFunc, maxPerMin int, logger *slog.Logger) fiber.Handler {
	if maxPerMin <= 0 {
		maxPerMin = 5
	}
	if normalize == nil {
		normalize = func(raw string) string { return strings.ToLower(strings.TrimSpace(raw)) }
	}
	return func(c *fiber.Ctx) error {
		if cache == nil {
			return c.Next()
		}
		subject := c.IP()
		if field != "" {
			var body map[string]any
			if err := c.BodyParser(&body); err == nil {
				if v, ok := body[field].(string); ok && strings.TrimSpace(v) != "" {
					if key := normalize(v); key != "" {
						subject = key
					}
				}
			}
		}
		key := "rl:" + scope + ":" + subject
		cnt, err := cache.Incr(c.UserContext(), key).Result()
		if err != nil {
			logger.Warn("rate limit lookup failed", slog.String("scope", scope), slog.Any("error", err))
			return c.Next()
		}
		if cnt == 1 {
			cache.Expire(c.UserContext(), key, time.Minute)
		}
		if cnt > int64(maxPerMin) {
			return fiber.NewError(http.StatusTooManyRequests, "Too many requests, try again later")
		}
		return c.Next()
	}
}
