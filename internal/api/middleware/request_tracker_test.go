package middleware

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func localeProbe(t *testing.T) (*fiber.App, *string) {
	t.Helper()
	var got string
	app := fiber.New()
	app.Post("/probe", Locale(), func(c *fiber.Ctx) error {
		got = GetLocale(c)
		return c.SendStatus(fiber.StatusOK)
	})
	return app, &got
}

func TestLocaleFromBody(t *testing.T) {
	app, got := localeProbe(t)

	req := httptest.NewRequest("POST", "/probe", strings.NewReader(`{"language":"ar"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "ar", *got)
}

func TestLocaleBodyWinsOverHeader(t *testing.T) {
	app, got := localeProbe(t)

	req := httptest.NewRequest("POST", "/probe", strings.NewReader(`{"language":"en"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept-Language", "ar-SA,ar;q=0.9")
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "en", *got)
}

func TestLocaleFromAcceptLanguage(t *testing.T) {
	app, got := localeProbe(t)

	req := httptest.NewRequest("POST", "/probe", nil)
	req.Header.Set("Accept-Language", "ar-SA,ar;q=0.9,en;q=0.8")
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "ar", *got)
}

func TestLocaleDefaultsToEnglish(t *testing.T) {
	app, got := localeProbe(t)

	req := httptest.NewRequest("POST", "/probe", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "en", *got)
}

func TestRequestTrackerSetsShortID(t *testing.T) {
	var id string
	app := fiber.New()
	app.Get("/probe", RequestTracker(), func(c *fiber.Ctx) error {
		id = RequestID(c)
		assert.False(t, StartTime(c).IsZero())
		return c.SendStatus(fiber.StatusOK)
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/probe", nil))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Len(t, id, 8)
}
