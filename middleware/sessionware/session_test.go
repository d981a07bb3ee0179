package sessionware_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	auth "github.com/campusease/go-auth"
	"github.com/campusease/go-auth/middleware/sessionware"
)

type codecValidator struct {
	codec *auth.TokenCodec
}

func (v codecValidator) SessionFromToken(token string) (auth.Session, error) {
	claims, err := v.codec.Verify(token, auth.PurposeSession)
	if err != nil {
		return nil, err
	}
	return &auth.SessionObject{
		UserID:   claims.AccountID(),
		Identity: claims.Identity(),
		Role:     claims.Role(),
	}, nil
}

func newApp(t *testing.T, cfg sessionware.Config) (*fiber.App, *auth.TokenCodec) {
	t.Helper()

	codec := auth.NewTokenCodec("test-secret", "campus-auth")
	cfg.Validator = codecValidator{codec: codec}

	app := fiber.New(fiber.Config{
		ErrorHandler: auth.NewErrorHandler(nil),
	})
	app.Get("/me", sessionware.New(cfg), func(c *fiber.Ctx) error {
		session, ok := auth.SessionFromContext(c.UserContext())
		if !ok {
			return fiber.ErrInternalServerError
		}
		local, ok := c.Locals("session").(auth.Session)
		if !ok || local.GetUserID() != session.GetUserID() {
			return fiber.ErrInternalServerError
		}
		return c.SendString(session.GetIdentity())
	})
	return app, codec
}

func issueSession(t *testing.T, codec *auth.TokenCodec, role string) string {
	t.Helper()
	token, err := codec.Issue("ada@campus.edu", auth.PurposeSession, time.Hour,
		auth.WithAccountID("5f0c8d2e-3c7a-4b55-9a40-0d7f4f0e8f11"),
		auth.WithRole(role),
	)
	require.NoError(t, err)
	return token
}

func TestSessionware_BearerHeader(t *testing.T) {
	app, codec := newApp(t, sessionware.Config{})
	token := issueSession(t, codec, auth.RoleStudent)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSessionware_MissingToken(t *testing.T) {
	app, _ := newApp(t, sessionware.Config{})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/me", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSessionware_WrongScheme(t *testing.T) {
	app, codec := newApp(t, sessionware.Config{})
	token := issueSession(t, codec, auth.RoleStudent)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Basic "+token)

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSessionware_SchemeNeedsSeparator(t *testing.T) {
	app, codec := newApp(t, sessionware.Config{})
	token := issueSession(t, codec, auth.RoleStudent)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer"+token)

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSessionware_Optional(t *testing.T) {
	codec := auth.NewTokenCodec("test-secret", "campus-auth")

	app := fiber.New(fiber.Config{
		ErrorHandler: auth.NewErrorHandler(nil),
	})
	app.Get("/whoami", sessionware.New(sessionware.Config{
		Validator: codecValidator{codec: codec},
		Optional:  true,
	}), func(c *fiber.Ctx) error {
		session, ok := auth.SessionFromContext(c.UserContext())
		if !ok {
			return c.SendString("anonymous")
		}
		return c.SendString(session.GetRole())
	})

	t.Run("no token", func(t *testing.T) {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/whoami", nil))
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Equal(t, "anonymous", string(body))
	})

	t.Run("valid token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
		req.Header.Set("Authorization", "Bearer "+issueSession(t, codec, auth.RoleAdmin))

		resp, err := app.Test(req)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Equal(t, auth.RoleAdmin, string(body))
	})

	t.Run("invalid token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
		req.Header.Set("Authorization", "Bearer not-a-token")

		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("malformed header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
		req.Header.Set("Authorization", "Basic abc")

		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})
}

func TestSessionware_RejectsOtherPurposes(t *testing.T) {
	app, codec := newApp(t, sessionware.Config{})
	token, err := codec.Issue("ada@campus.edu", auth.PurposeVerifyEmail, time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSessionware_CookieLookup(t *testing.T) {
	app, codec := newApp(t, sessionware.Config{
		TokenLookup: "header:Authorization,cookie:session",
	})
	token := issueSession(t, codec, auth.RoleStudent)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.AddCookie(&http.Cookie{Name: "session", Value: token})

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSessionware_MinimumRole(t *testing.T) {
	app, codec := newApp(t, sessionware.Config{
		MinimumRole: auth.RoleAdmin,
	})

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+issueSession(t, codec, auth.RoleStudent))
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	req = httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+issueSession(t, codec, auth.RoleAdmin))
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSessionware_Filter(t *testing.T) {
	app := fiber.New()
	app.Get("/open", sessionware.New(sessionware.Config{
		Validator: codecValidator{codec: auth.NewTokenCodec("test-secret", "campus-auth")},
		Filter: func(c *fiber.Ctx) bool {
			return c.Path() == "/open"
		},
	}), func(c *fiber.Ctx) error {
		return c.SendStatus(http.StatusNoContent)
	})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/open", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestGetExtractors(t *testing.T) {
	extractors := sessionware.GetExtractors("header:Authorization, cookie:session, query:token, bogus")
	assert.Len(t, extractors, 3)
}
