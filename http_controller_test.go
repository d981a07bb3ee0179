package auth_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	auth "github.com/campusease/go-auth"
	"github.com/campusease/go-auth/middleware/sessionware"
)

func newTestApp(h *harness) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler: auth.NewErrorHandler(nopLogger{}),
	})

	protected := sessionware.New(sessionware.Config{
		Validator:   h.auther,
		ContextKey:  h.cfg.ContextKey,
		TokenLookup: h.cfg.TokenLookup,
		AuthScheme:  h.cfg.AuthScheme,
	})

	optional := sessionware.New(sessionware.Config{
		Validator:   h.auther,
		ContextKey:  h.cfg.ContextKey,
		TokenLookup: h.cfg.TokenLookup,
		AuthScheme:  h.cfg.AuthScheme,
		Optional:    true,
	})

	auth.RegisterAuthRoutes(app, protected,
		auth.WithControllerOptionalSession(optional),
		auth.WithControllerLifecycle(h.lifecycle),
		auth.WithControllerAuthenticator(h.auther),
		auth.WithControllerContextKey(h.cfg.ContextKey),
		auth.WithControllerLogger(nopLogger{}),
	)
	return app
}

type apiResponse struct {
	*http.Response
	Body map[string]any
}

func doRequest(t *testing.T, app *fiber.App, method, target string, body any, token string) apiResponse {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	if token != "" {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
	}

	res, err := app.Test(req, -1)
	require.NoError(t, err)

	out := apiResponse{Response: res}
	raw, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	if len(raw) > 0 && strings.HasPrefix(res.Header.Get(fiber.HeaderContentType), fiber.MIMEApplicationJSON) {
		require.NoError(t, json.Unmarshal(raw, &out.Body))
	}
	return out
}

func registerPayload(email string) map[string]any {
	return map[string]any{
		"email":            email,
		"name":             "Ada Lovelace",
		"role":             auth.RoleStudent,
		"rollno":           "CS-2025-001",
		"password":         "initial-secret",
		"confirm_password": "initial-secret",
	}
}

func passwordPayload(password string) map[string]any {
	return map[string]any{
		"password":         password,
		"confirm_password": password,
	}
}

func signIn(t *testing.T, app *fiber.App, email, password string) string {
	t.Helper()
	res := doRequest(t, app, http.MethodPost, "/signin", map[string]any{
		"email":    email,
		"password": password,
	}, "")
	require.Equal(t, http.StatusOK, res.StatusCode, "sign in failed: %v", res.Body)
	token, _ := res.Body["token"].(string)
	require.NotEmpty(t, token)
	return token
}

// adminToken issues a session for an admin that is not stored
func adminToken(t *testing.T, h *harness) (string, uuid.UUID) {
	t.Helper()
	id := uuid.New()
	token, err := h.tokens.Issue("registrar@x.com", auth.PurposeSession, time.Hour,
		auth.WithAccountID(id.String()),
		auth.WithRole(auth.RoleAdmin),
	)
	require.NoError(t, err)
	return token, id
}

func TestAuthController_FullLifecycle(t *testing.T) {
	h := newHarness(t)
	app := newTestApp(h)

	res := doRequest(t, app, http.MethodPost, "/register", registerPayload("a@x.com"), "")
	require.Equal(t, http.StatusCreated, res.StatusCode)
	assert.Nil(t, res.Body["warning"])
	account, _ := res.Body["account"].(map[string]any)
	require.NotNil(t, account)
	assert.Equal(t, "a@x.com", account["email"])
	assert.NotContains(t, account, "password_hash")

	verifyLink, err := url.Parse(h.notifier.Last().Link)
	require.NoError(t, err)

	res = doRequest(t, app, http.MethodGet, "/verify-signup?"+verifyLink.RawQuery, nil, "")
	require.Equal(t, http.StatusSeeOther, res.StatusCode)
	location := res.Header.Get(fiber.HeaderLocation)
	assert.True(t, strings.HasPrefix(location, "http://frontend.test/set-password?token="))

	redirect, err := url.Parse(location)
	require.NoError(t, err)

	res = doRequest(t, app, http.MethodPost, "/set-password?"+redirect.RawQuery, passwordPayload("p1"), "")
	require.Equal(t, http.StatusOK, res.StatusCode)

	res = doRequest(t, app, http.MethodPost, "/set-password?"+redirect.RawQuery, passwordPayload("p2"), "")
	assert.Equal(t, http.StatusConflict, res.StatusCode)
	assert.Equal(t, auth.TextCodePasswordAlreadySet, res.Body["text_code"])

	res = doRequest(t, app, http.MethodPost, "/signin", map[string]any{
		"email":    "a@x.com",
		"password": "p1",
	}, "")
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.NotEmpty(t, res.Body["token"])

	var cookie *http.Cookie
	for _, c := range res.Cookies() {
		if c.Name == h.cfg.ContextKey {
			cookie = c
		}
	}
	require.NotNil(t, cookie)
	assert.True(t, cookie.HttpOnly)
	assert.Equal(t, res.Body["token"], cookie.Value)

	res = doRequest(t, app, http.MethodPost, "/register", registerPayload("a@x.com"), "")
	assert.Equal(t, http.StatusConflict, res.StatusCode)
	assert.Equal(t, auth.TextCodeAlreadyRegistered, res.Body["text_code"])
}

func TestAuthController_VerifySignupJSON(t *testing.T) {
	h := newHarness(t)
	app := newTestApp(h)

	reg := doRequest(t, app, http.MethodPost, "/register", registerPayload("a@x.com"), "")
	require.Equal(t, http.StatusCreated, reg.StatusCode)

	token := url.QueryEscape(h.notifier.Last().Token)

	res := doRequest(t, app, http.MethodGet, "/verify-signup?format=json&token="+token, nil, "")
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.NotEmpty(t, res.Body["set_password_token"])
	assert.Equal(t, false, res.Body["already_verified"])

	res = doRequest(t, app, http.MethodGet, "/verify-signup?format=json&token="+token, nil, "")
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, true, res.Body["already_verified"])

	res = doRequest(t, app, http.MethodGet, "/verify-signup?token=garbage", nil, "")
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Equal(t, auth.TextCodeTokenMalformed, res.Body["text_code"])
}

func TestAuthController_RegisterValidation(t *testing.T) {
	h := newHarness(t)
	app := newTestApp(h)

	payload := registerPayload("not-an-email")
	payload["confirm_password"] = "different"

	res := doRequest(t, app, http.MethodPost, "/register", payload, "")
	require.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Equal(t, auth.TextCodeInvalidPayload, res.Body["text_code"])

	fields, _ := res.Body["fields"].(map[string]any)
	assert.Contains(t, fields, "email")
	assert.Contains(t, fields, "confirm_password")
	assert.Zero(t, h.notifier.Count())

	req := httptest.NewRequest(http.MethodPost, "/register", strings.NewReader("{"))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	raw, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, raw.StatusCode)
}

func TestAuthController_NotificationWarning(t *testing.T) {
	h := newHarness(t)
	h.notifier.err = errors.New("smtp down")
	app := newTestApp(h)

	res := doRequest(t, app, http.MethodPost, "/register", registerPayload("a@x.com"), "")
	require.Equal(t, http.StatusCreated, res.StatusCode)

	warning, _ := res.Body["warning"].(map[string]any)
	require.NotNil(t, warning)
	assert.Equal(t, auth.TextCodeNotificationUnreachable, warning["text_code"])
}

func TestAuthController_SignInFailures(t *testing.T) {
	h := newHarness(t)
	app := newTestApp(h)
	h.activate(t, "active@x.com", "p1")

	_, err := h.lifecycle.Register(context.Background(), registerMessage("pending@x.com"))
	require.NoError(t, err)

	tests := []struct {
		name     string
		email    string
		password string
		status   int
		textCode string
	}{
		{"unknown identity", "nobody@x.com", "p1", http.StatusNotFound, auth.TextCodeIdentityNotFound},
		{"not verified", "pending@x.com", "initial-secret", http.StatusForbidden, auth.TextCodeNotVerified},
		{"wrong password", "active@x.com", "nope", http.StatusBadRequest, auth.TextCodeInvalidCreds},
		{"missing password", "active@x.com", "", http.StatusBadRequest, auth.TextCodeInvalidPayload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := doRequest(t, app, http.MethodPost, "/signin", map[string]any{
				"email":    tt.email,
				"password": tt.password,
			}, "")
			assert.Equal(t, tt.status, res.StatusCode)
			assert.Equal(t, tt.textCode, res.Body["text_code"])
		})
	}
}

func TestAuthController_SignInThrottled(t *testing.T) {
	h := newHarness(t)
	app := newTestApp(h)
	h.activate(t, "a@x.com", "p1")

	for i := 0; i < h.cfg.MaxLoginAttempts; i++ {
		res := doRequest(t, app, http.MethodPost, "/signin", map[string]any{
			"email":    "a@x.com",
			"password": "nope",
		}, "")
		require.Equal(t, http.StatusBadRequest, res.StatusCode)
	}

	res := doRequest(t, app, http.MethodPost, "/signin", map[string]any{
		"email":    "a@x.com",
		"password": "p1",
	}, "")
	assert.Equal(t, http.StatusTooManyRequests, res.StatusCode)
	assert.Equal(t, auth.TextCodeTooManyAttempts, res.Body["text_code"])
}

func TestAuthController_PasswordReset(t *testing.T) {
	h := newHarness(t)
	app := newTestApp(h)
	h.activate(t, "a@x.com", "p1")

	res := doRequest(t, app, http.MethodPost, "/request-reset-password", map[string]any{"email": "a@x.com"}, "")
	require.Equal(t, http.StatusOK, res.StatusCode)

	link, err := url.Parse(h.notifier.Last().Link)
	require.NoError(t, err)

	res = doRequest(t, app, http.MethodPost, "/reset-password?"+link.RawQuery, passwordPayload("p2"), "")
	require.Equal(t, http.StatusOK, res.StatusCode)

	res = doRequest(t, app, http.MethodPost, "/reset-password?"+link.RawQuery, passwordPayload("p3"), "")
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Equal(t, auth.TextCodeTokenAlreadyUsed, res.Body["text_code"])

	signIn(t, app, "a@x.com", "p2")
}

func TestAuthController_ResendVerification(t *testing.T) {
	h := newHarness(t)
	app := newTestApp(h)

	res := doRequest(t, app, http.MethodPost, "/register", registerPayload("a@x.com"), "")
	require.Equal(t, http.StatusCreated, res.StatusCode)

	res = doRequest(t, app, http.MethodPost, "/resend-verification", map[string]any{"email": "a@x.com"}, "")
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, 2, h.notifier.Count())

	res = doRequest(t, app, http.MethodPost, "/resend-verification", map[string]any{"email": "ghost@x.com"}, "")
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestAuthController_ChangePassword(t *testing.T) {
	h := newHarness(t)
	app := newTestApp(h)
	owner := h.activate(t, "owner@x.com", "p1")
	h.activate(t, "other@x.com", "p1")

	body := map[string]any{
		"old_password":     "p1",
		"password":         "p2",
		"confirm_password": "p2",
	}
	target := "/password/" + owner.ID.String()

	res := doRequest(t, app, http.MethodPut, target, body, "")
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	res = doRequest(t, app, http.MethodPut, target, body, "not-a-token")
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	otherToken := signIn(t, app, "other@x.com", "p1")
	res = doRequest(t, app, http.MethodPut, target, body, otherToken)
	assert.Equal(t, http.StatusForbidden, res.StatusCode)
	assert.Equal(t, auth.TextCodeForbidden, res.Body["text_code"])

	ownerToken := signIn(t, app, "owner@x.com", "p1")
	res = doRequest(t, app, http.MethodPut, "/password/not-a-uuid", body, ownerToken)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	res = doRequest(t, app, http.MethodPut, target, body, ownerToken)
	require.Equal(t, http.StatusOK, res.StatusCode)

	signIn(t, app, "owner@x.com", "p2")
}

func TestAuthController_ProfileUpdate(t *testing.T) {
	h := newHarness(t)
	app := newTestApp(h)
	owner := h.activate(t, "owner@x.com", "p1")
	token := signIn(t, app, "owner@x.com", "p1")
	target := "/profile/" + owner.ID.String()

	res := doRequest(t, app, http.MethodPatch, target, map[string]any{
		"address": "12 Library Road",
		"rollno":  "",
	}, token)
	require.Equal(t, http.StatusOK, res.StatusCode)

	account, _ := res.Body["account"].(map[string]any)
	require.NotNil(t, account)
	assert.Equal(t, "12 Library Road", account["address"])
	assert.NotContains(t, account, "roll_no")
	assert.Equal(t, "Ada Lovelace", account["display_name"])

	res = doRequest(t, app, http.MethodPatch, target, map[string]any{"role": auth.RoleAdmin}, token)
	assert.Equal(t, http.StatusForbidden, res.StatusCode)

	res = doRequest(t, app, http.MethodPatch, target, map[string]any{"photo_url": "not a url"}, token)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	res = doRequest(t, app, http.MethodPatch, "/profile/"+uuid.NewString(), map[string]any{"address": "x"}, token)
	assert.Equal(t, http.StatusForbidden, res.StatusCode)
}

func TestAuthController_RegisterRoles(t *testing.T) {
	h := newHarness(t)
	app := newTestApp(h)

	payload := registerPayload("mallory@x.com")
	payload["role"] = auth.RoleAdmin

	res := doRequest(t, app, http.MethodPost, "/register", payload, "")
	assert.Equal(t, http.StatusForbidden, res.StatusCode)
	assert.Zero(t, h.notifier.Count())

	student := h.activate(t, "student@x.com", "p1")
	res = doRequest(t, app, http.MethodPost, "/register", payload, signIn(t, app, "student@x.com", "p1"))
	assert.Equal(t, http.StatusForbidden, res.StatusCode)

	res = doRequest(t, app, http.MethodPost, "/register", payload, "not-a-token")
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	token, adminID := adminToken(t, h)
	staff := registerPayload("staff@x.com")
	staff["role"] = auth.RoleSecretary
	res = doRequest(t, app, http.MethodPost, "/register", staff, token)
	require.Equal(t, http.StatusCreated, res.StatusCode)
	assert.Equal(t, auth.RoleSecretary, h.account(t, "staff@x.com").Role)
	registered, ok := h.sink.Find(auth.ActivityEventRegistered)
	require.True(t, ok)
	assert.Equal(t, "staff@x.com", registered.Identity)
	assert.Equal(t, adminID.String(), registered.Metadata["actor_id"])

	_, err := h.store.FindByIdentity(context.Background(), "mallory@x.com")
	assert.ErrorIs(t, err, auth.ErrIdentityNotFound)
	assert.Equal(t, auth.RoleStudent, h.account(t, student.Email).Role)
}

func TestAuthController_ReRegisterUnverifiedIsOK(t *testing.T) {
	h := newHarness(t)
	app := newTestApp(h)

	res := doRequest(t, app, http.MethodPost, "/register", registerPayload("a@x.com"), "")
	require.Equal(t, http.StatusCreated, res.StatusCode)

	res = doRequest(t, app, http.MethodPost, "/register", registerPayload("a@x.com"), "")
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, 2, h.notifier.Count())
}

func TestAuthController_ProfileShow(t *testing.T) {
	h := newHarness(t)
	app := newTestApp(h)
	owner := h.activate(t, "owner@x.com", "p1")
	h.activate(t, "other@x.com", "p2")
	target := "/profile/" + owner.ID.String()

	res := doRequest(t, app, http.MethodGet, target, nil, "")
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	res = doRequest(t, app, http.MethodGet, target, nil, signIn(t, app, "owner@x.com", "p1"))
	require.Equal(t, http.StatusOK, res.StatusCode)
	account, _ := res.Body["account"].(map[string]any)
	require.NotNil(t, account)
	assert.Equal(t, "owner@x.com", account["email"])
	assert.NotContains(t, account, "password_hash")

	res = doRequest(t, app, http.MethodGet, target, nil, signIn(t, app, "other@x.com", "p2"))
	assert.Equal(t, http.StatusForbidden, res.StatusCode)

	token, _ := adminToken(t, h)
	res = doRequest(t, app, http.MethodGet, target, nil, token)
	assert.Equal(t, http.StatusOK, res.StatusCode)

	res = doRequest(t, app, http.MethodGet, "/profile/"+uuid.NewString(), nil, token)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestAuthController_AccountDelete(t *testing.T) {
	h := newHarness(t)
	app := newTestApp(h)
	owner := h.activate(t, "owner@x.com", "p1")
	target := "/accounts/" + owner.ID.String()

	res := doRequest(t, app, http.MethodDelete, target, nil, signIn(t, app, "owner@x.com", "p1"))
	assert.Equal(t, http.StatusForbidden, res.StatusCode)

	token, _ := adminToken(t, h)
	res = doRequest(t, app, http.MethodDelete, target, nil, token)
	require.Equal(t, http.StatusOK, res.StatusCode)

	_, err := h.store.FindByIdentity(context.Background(), "owner@x.com")
	assert.ErrorIs(t, err, auth.ErrIdentityNotFound)

	res = doRequest(t, app, http.MethodDelete, target, nil, token)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)

	res = doRequest(t, app, http.MethodDelete, "/accounts/not-a-uuid", nil, token)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestAuthController_Health(t *testing.T) {
	app := newTestApp(newHarness(t))

	res := doRequest(t, app, http.MethodGet, "/healthz", nil, "")
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "ok", res.Body["status"])
}

func TestNewAuthControllerRequiresServices(t *testing.T) {
	assert.Panics(t, func() {
		auth.NewAuthController()
	})

	h := newHarness(t)
	assert.Panics(t, func() {
		auth.NewAuthController(auth.WithControllerLifecycle(h.lifecycle))
	})
}
