package middleware

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/ajeer/ajeer-backend/internal/apperr"
	"github.com/ajeer/ajeer-backend/internal/locales"
)

// RateLimit returns a per-IP request limiter for the chat endpoints.
func RateLimit(requestsPerMinute int) fiber.Handler {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 100
	}
	return limiter.New(limiter.Config{
		Max:        requestsPerMinute,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			locale := GetLocale(c)
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"success": false,
				"error": fiber.Map{
					"code":    apperr.CodeTooManyRequests,
					"message": locales.Message(apperr.CodeTooManyRequests, nil, locale),
				},
				"requestId": RequestID(c),
			})
		},
	})
}
