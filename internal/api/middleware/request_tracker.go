package middleware

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/ajeer/ajeer-backend/internal/locales"
)

// Locals keys set by the trackers.
const (
	LocalRequestID = "request_id"
	LocalStartTime = "start_time"
	LocalLocale    = "locale"
)

// RequestTracker assigns each request a short id for log correlation and
// records its start time.
func RequestTracker() fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Locals(LocalRequestID, uuid.NewString()[:8])
		c.Locals(LocalStartTime, time.Now())
		return c.Next()
	}
}

// Locale resolves the request locale from the body's language field or the
// Accept-Language header, defaulting to English.
func Locale() fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body struct {
			Language string `json:"language"`
		}
		lang := ""
		if err := c.BodyParser(&body); err == nil {
			lang = body.Language
		}
		if lang == "" {
			if header := c.Get(fiber.HeaderAcceptLanguage); header != "" {
				lang = strings.TrimSpace(strings.Split(header, ",")[0])
			}
		}
		c.Locals(LocalLocale, locales.Normalize(lang))
		return c.Next()
	}
}

// RequestID returns the request id set by RequestTracker.
func RequestID(c *fiber.Ctx) string {
	if id, ok := c.Locals(LocalRequestID).(string); ok {
		return id
	}
	return ""
}

// GetLocale returns the resolved locale, defaulting to English.
func GetLocale(c *fiber.Ctx) string {
	if locale, ok := c.Locals(LocalLocale).(string); ok {
		return locale
	}
	return "en"
}

// StartTime returns the request start time set by RequestTracker.
func StartTime(c *fiber.Ctx) time.Time {
	if t, ok := c.Locals(LocalStartTime).(time.Time); ok {
		return t
	}
	return time.Now()
}
