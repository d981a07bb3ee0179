package auth_test

import (
	"errors"
	"net/http"
	"testing"

	goerrors "github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"

	auth "github.com/campusease/go-auth"
)

func TestErrorStatusCodes(t *testing.T) {
	tests := []struct {
		err    *goerrors.Error
		status int
	}{
		{auth.ErrInvalidPayload, http.StatusBadRequest},
		{auth.ErrPasswordConfirmation, http.StatusBadRequest},
		{auth.ErrPasswordReused, http.StatusBadRequest},
		{auth.ErrNoEmptyString, http.StatusBadRequest},
		{auth.ErrMismatchedHashAndPassword, http.StatusBadRequest},
		{auth.ErrIdentityNotFound, http.StatusNotFound},
		{auth.ErrAlreadyRegistered, http.StatusConflict},
		{auth.ErrAlreadyVerified, http.StatusConflict},
		{auth.ErrPasswordAlreadySet, http.StatusConflict},
		{auth.ErrNotVerified, http.StatusForbidden},
		{auth.ErrPasswordNotSet, http.StatusForbidden},
		{auth.ErrForbidden, http.StatusForbidden},
		{auth.ErrTooManyLoginAttempts, http.StatusTooManyRequests},
		{auth.ErrTokenExpired, http.StatusBadRequest},
		{auth.ErrTokenMalformed, http.StatusBadRequest},
		{auth.ErrPurposeMismatch, http.StatusBadRequest},
		{auth.ErrTokenAlreadyUsed, http.StatusBadRequest},
		{auth.ErrUnableToFindSession, http.StatusUnauthorized},
		{auth.ErrSigningUnavailable, http.StatusInternalServerError},
		{auth.ErrNotificationUnreachable, http.StatusInternalServerError},
		{auth.ErrStoreConflict, http.StatusConflict},
	}

	seen := map[string]bool{}
	for _, tt := range tests {
		t.Run(tt.err.TextCode, func(t *testing.T) {
			assert.Equal(t, tt.status, tt.err.Code)
			assert.NotEmpty(t, tt.err.TextCode)
			assert.False(t, seen[tt.err.TextCode], "text codes are unique")
			seen[tt.err.TextCode] = true
		})
	}
}

func TestIsTokenError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"expired", auth.ErrTokenExpired, true},
		{"malformed", auth.ErrTokenMalformed, true},
		{"purpose mismatch", auth.ErrPurposeMismatch, true},
		{"already used", auth.ErrTokenAlreadyUsed, true},
		{"wrapped by stdlib", errors.Join(errors.New("verify"), auth.ErrTokenExpired), true},
		{"identity not found", auth.ErrIdentityNotFound, false},
		{"plain error", errors.New("token is expired"), false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, auth.IsTokenError(tt.err))
		})
	}
}

func TestTextCode(t *testing.T) {
	assert.Equal(t, auth.TextCodeNotVerified, auth.TextCode(auth.ErrNotVerified))
	assert.Equal(t, auth.TextCodeTokenExpired, auth.TextCode(errors.Join(auth.ErrTokenExpired)))
	assert.Empty(t, auth.TextCode(errors.New("plain")))
	assert.Empty(t, auth.TextCode(nil))
}

func TestErrorCategories(t *testing.T) {
	assert.True(t, goerrors.IsCategory(auth.ErrNotificationUnreachable, goerrors.CategoryOperation))
	assert.True(t, goerrors.IsCategory(auth.ErrTokenAlreadyUsed, goerrors.CategoryConflict))
	assert.True(t, goerrors.IsCategory(auth.ErrMismatchedHashAndPassword, goerrors.CategoryAuth))
	assert.True(t, goerrors.IsCategory(auth.ErrTooManyLoginAttempts, goerrors.CategoryRateLimit))
}
