package auth

import (
	"errors"

	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeInvalidPayload          = "INVALID_PAYLOAD"
	TextCodePasswordConfirmation    = "PASSWORD_CONFIRMATION_MISMATCH"
	TextCodePasswordReused          = "PASSWORD_REUSED"
	TextCodeEmptyPassword           = "EMPTY_PASSWORD"
	TextCodeInvalidCreds            = "INVALID_CREDENTIALS"
	TextCodeTooManyAttempts         = "TOO_MANY_LOGIN_ATTEMPTS"
	TextCodeIdentityNotFound        = "IDENTITY_NOT_FOUND"
	TextCodeAlreadyRegistered       = "ALREADY_REGISTERED"
	TextCodeAlreadyVerified         = "ALREADY_VERIFIED"
	TextCodePasswordAlreadySet      = "PASSWORD_ALREADY_SET"
	TextCodeNotVerified             = "NOT_VERIFIED"
	TextCodePasswordNotSet          = "PASSWORD_NOT_SET"
	TextCodeTokenExpired            = "TOKEN_EXPIRED"
	TextCodeTokenMalformed          = "TOKEN_MALFORMED"
	TextCodePurposeMismatch         = "TOKEN_PURPOSE_MISMATCH"
	TextCodeTokenAlreadyUsed        = "TOKEN_ALREADY_USED"
	TextCodeSigningUnavailable      = "SIGNING_UNAVAILABLE"
	TextCodeNotificationUnreachable = "NOTIFICATION_UNREACHABLE"
	TextCodeStoreConflict           = "STORE_CONFLICT"
	TextCodeSessionNotFound         = "SESSION_NOT_FOUND"
	TextCodeForbidden               = "FORBIDDEN"
)

// Validation failures

var ErrInvalidPayload = goerrors.New("invalid request payload", goerrors.CategoryValidation).
	WithTextCode(TextCodeInvalidPayload).
	WithCode(goerrors.CodeBadRequest)

var ErrPasswordConfirmation = goerrors.New("passwords do not match", goerrors.CategoryValidation).
	WithTextCode(TextCodePasswordConfirmation).
	WithCode(goerrors.CodeBadRequest)

var ErrPasswordReused = goerrors.New("change to a new password", goerrors.CategoryValidation).
	WithTextCode(TextCodePasswordReused).
	WithCode(goerrors.CodeBadRequest)

var ErrNoEmptyString = goerrors.New("password must not be empty", goerrors.CategoryValidation).
	WithTextCode(TextCodeEmptyPassword).
	WithCode(goerrors.CodeBadRequest)

var ErrMismatchedHashAndPassword = goerrors.New("the credentials provided are invalid", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidCreds).
	WithCode(goerrors.CodeBadRequest)

// Precondition failures

var ErrIdentityNotFound = goerrors.New("identity not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeIdentityNotFound).
	WithCode(goerrors.CodeNotFound)

var ErrAlreadyRegistered = goerrors.New("account already registered", goerrors.CategoryConflict).
	WithTextCode(TextCodeAlreadyRegistered).
	WithCode(goerrors.CodeConflict)

var ErrAlreadyVerified = goerrors.New("account is already verified", goerrors.CategoryConflict).
	WithTextCode(TextCodeAlreadyVerified).
	WithCode(goerrors.CodeConflict)

var ErrPasswordAlreadySet = goerrors.New("password already set, please log in", goerrors.CategoryConflict).
	WithTextCode(TextCodePasswordAlreadySet).
	WithCode(goerrors.CodeConflict)

var ErrNotVerified = goerrors.New("account is not verified, please verify before login", goerrors.CategoryAuthz).
	WithTextCode(TextCodeNotVerified).
	WithCode(goerrors.CodeForbidden)

var ErrPasswordNotSet = goerrors.New("please set your password before logging in", goerrors.CategoryAuthz).
	WithTextCode(TextCodePasswordNotSet).
	WithCode(goerrors.CodeForbidden)

var ErrTooManyLoginAttempts = goerrors.New("too many login attempts, try again later", goerrors.CategoryRateLimit).
	WithTextCode(TextCodeTooManyAttempts).
	WithCode(goerrors.CodeTooManyRequests)

var ErrForbidden = goerrors.New("operation not allowed for this session", goerrors.CategoryAuthz).
	WithTextCode(TextCodeForbidden).
	WithCode(goerrors.CodeForbidden)

// Token failures

var ErrTokenExpired = goerrors.New("token has expired", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenExpired).
	WithCode(goerrors.CodeBadRequest)

var ErrTokenMalformed = goerrors.New("token is malformed", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenMalformed).
	WithCode(goerrors.CodeBadRequest)

var ErrPurposeMismatch = goerrors.New("token purpose does not match", goerrors.CategoryAuth).
	WithTextCode(TextCodePurposeMismatch).
	WithCode(goerrors.CodeBadRequest)

var ErrTokenAlreadyUsed = goerrors.New("token has already been used", goerrors.CategoryConflict).
	WithTextCode(TextCodeTokenAlreadyUsed).
	WithCode(goerrors.CodeBadRequest)

// Session failures

var ErrUnableToFindSession = goerrors.New("unable to find session", goerrors.CategoryAuth).
	WithTextCode(TextCodeSessionNotFound).
	WithCode(goerrors.CodeUnauthorized)

// Infrastructure failures

var ErrSigningUnavailable = goerrors.New("token signing secret is not configured", goerrors.CategoryInternal).
	WithTextCode(TextCodeSigningUnavailable).
	WithCode(goerrors.CodeInternal)

var ErrNotificationUnreachable = goerrors.New("notification gateway unreachable", goerrors.CategoryOperation).
	WithTextCode(TextCodeNotificationUnreachable).
	WithCode(goerrors.CodeInternal)

// ErrStoreConflict is returned by a CredentialStore when a conditional
// write found the record in a different state than expected.
var ErrStoreConflict = goerrors.New("credential store conflict", goerrors.CategoryConflict).
	WithTextCode(TextCodeStoreConflict).
	WithCode(goerrors.CodeConflict)

// IsTokenError reports whether err is one of the token validation failures
func IsTokenError(err error) bool {
	return errors.Is(err, ErrTokenExpired) ||
		errors.Is(err, ErrTokenMalformed) ||
		errors.Is(err, ErrPurposeMismatch) ||
		errors.Is(err, ErrTokenAlreadyUsed)
}

// TextCode extracts the text code from a rich error, empty otherwise
func TextCode(err error) string {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr.TextCode
	}
	return ""
}

func internalError(err error, message string) error {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr
	}
	return goerrors.Wrap(err, goerrors.CategoryInternal, message).
		WithCode(goerrors.CodeInternal)
}
