package middleware

import (
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
)

func newProtectedApp() *fiber.App {
	app := fiber.New()
	app.Get("/internal/ping", InternalAuthMiddleware(), func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"ok": true})
	})
	return app
}

func TestInternalAuthMiddleware(t *testing.T) {
	t.Setenv("RECONCILE_SECRET", "topsecret")
	app := newProtectedApp()

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{name: "missing header", header: "", want: fiber.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic topsecret", want: fiber.StatusUnauthorized},
		{name: "wrong token", header: "Bearer nope", want: fiber.StatusUnauthorized},
		{name: "valid token", header: "Bearer topsecret", want: fiber.StatusOK},
		{name: "case insensitive scheme", header: "bearer topsecret", want: fiber.StatusOK},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/internal/ping", nil)
			if tc.header != "" {
				req.Header.Set(fiber.HeaderAuthorization, tc.header)
			}
			resp, err := app.Test(req)
			assert.NoError(t, err)
			assert.Equal(t, tc.want, resp.StatusCode)
		})
	}
}

func TestInternalAuthMiddlewareFailsClosedWithoutSecret(t *testing.T) {
	t.Setenv("RECONCILE_SECRET", "")
	app := newProtectedApp()

	req := httptest.NewRequest("GET", "/internal/ping", nil)
	req.Header.Set(fiber.HeaderAuthorization, "Bearer anything")
	resp, err := app.Test(req)
	assert.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}
