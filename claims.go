package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenPurpose scopes a lifecycle token to a single operation
type TokenPurpose string

const (
	PurposeVerifyEmail   TokenPurpose = "verify-email"
	PurposeSetPassword   TokenPurpose = "set-password"
	PurposeResetPassword TokenPurpose = "reset-password"
	PurposeSession       TokenPurpose = "session"
)

// IsValid reports whether p is a known purpose
func (p TokenPurpose) IsValid() bool {
	switch p {
	case PurposeVerifyEmail, PurposeSetPassword, PurposeResetPassword, PurposeSession:
		return true
	default:
		return false
	}
}

func (p TokenPurpose) String() string {
	return string(p)
}

// LifecycleClaims is the payload of every token the codec signs
type LifecycleClaims struct {
	jwt.RegisteredClaims
	Purpose     TokenPurpose `json:"purpose"`
	UID         string       `json:"uid,omitempty"`
	UserRole    string       `json:"role,omitempty"`
	Version     *int         `json:"ver,omitempty"`
	ExpiresAtMs int64        `json:"exp_ms,omitempty"`
}

// Identity returns the email the token was issued for
func (c *LifecycleClaims) Identity() string {
	return c.RegisteredClaims.Subject
}

// AccountID returns the account id, if one was embedded
func (c *LifecycleClaims) AccountID() string {
	return c.UID
}

// Role returns the embedded role
func (c *LifecycleClaims) Role() string {
	return c.UserRole
}

// CredentialVersion returns the embedded credential version
func (c *LifecycleClaims) CredentialVersion() (int, bool) {
	if c.Version == nil {
		return 0, false
	}
	return *c.Version, true
}

// Expires returns the millisecond precision expiry, zero if the token
// never expires.
func (c *LifecycleClaims) Expires() time.Time {
	if c.ExpiresAtMs > 0 {
		return time.UnixMilli(c.ExpiresAtMs)
	}
	if c.ExpiresAt != nil {
		return c.ExpiresAt.Time
	}
	return time.Time{}
}

// IssuedAt returns the issued at time
func (c *LifecycleClaims) IssuedAt() time.Time {
	if c.RegisteredClaims.IssuedAt == nil {
		return time.Time{}
	}
	return c.RegisteredClaims.IssuedAt.Time
}

// TokenID returns the jti claim
func (c *LifecycleClaims) TokenID() string {
	return c.RegisteredClaims.ID
}
