package auth

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/spec-kit/ticket-manager/pkg/util/errorutil"
)

func TestTokenRoundTrip(t *testing.T) {
	tm := NewTokenManager("secret", 5)
	token, expires, err := tm.GenerateToken("survival-1", []string{ScopeAdmin})
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(5*time.Minute), expires, 5*time.Second)

	claims, err := tm.ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, "survival-1", claims.Service)
	assert.True(t, claims.HasScope(ScopeAdmin))

	_, err = NewTokenManager("other", 5).ParseToken(token)
	assert.Error(t, err)
}

func TestParseRejectsTokenWithoutExpiry(t *testing.T) {
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{Service: "x"}).SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = NewTokenManager("secret", 5).ParseToken(raw)
	assert.Error(t, err)
}

func TestGenerateWithoutSecret(t *testing.T) {
	_, _, err := NewTokenManager("", 5).GenerateToken("x", nil)
	assert.Error(t, err)
}

func newApp(tm *TokenManager) *fiber.App {
	m := NewAuthMiddleware(tm)
	app := fiber.New(fiber.Config{ErrorHandler: func(c *fiber.Ctx, err error) error {
		return c.SendStatus(apperrors.ToDomainError(err).HTTPStatus)
	}})
	app.Use(m.Handle)
	app.Get("/read", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })
	app.Get("/admin", m.RequireScope(ScopeAdmin), func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })
	return app
}

func status(t *testing.T, app *fiber.App, path, token string) int {
	req := httptest.NewRequest("GET", path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	return resp.StatusCode
}

func TestMiddleware(t *testing.T) {
	tm := NewTokenManager("secret", 5)
	app := newApp(tm)
	plain, _, err := tm.GenerateToken("plugin", nil)
	require.NoError(t, err)
	admin, _, err := tm.GenerateToken("ops", []string{ScopeAdmin})
	require.NoError(t, err)

	assert.Equal(t, fiber.StatusUnauthorized, status(t, app, "/read", ""))
	assert.Equal(t, fiber.StatusUnauthorized, status(t, app, "/read", "garbage"))
	assert.Equal(t, fiber.StatusOK, status(t, app, "/read", plain))
	assert.Equal(t, fiber.StatusForbidden, status(t, app, "/admin", plain))
	assert.Equal(t, fiber.StatusOK, status(t, app, "/admin", admin))
}

func TestMiddlewareDisabledWithoutSecret(t *testing.T) {
	app := newApp(NewTokenManager("", 5))
	assert.Equal(t, fiber.StatusOK, status(t, app, "/read", ""))
	assert.Equal(t, fiber.StatusOK, status(t, app, "/admin", ""))
}
