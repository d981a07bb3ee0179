package auth

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

var _ Session = &SessionObject{}

// SessionObject is the session carried by a session token
type SessionObject struct {
	UserID         string         `json:"user_id,omitempty"`
	Identity       string         `json:"identity,omitempty"`
	Role           UserRole       `json:"role,omitempty"`
	Audience       []string       `json:"audience,omitempty"`
	Issuer         string         `json:"issuer,omitempty"`
	IssuedAt       *time.Time     `json:"issued_at,omitempty"`
	ExpirationDate *time.Time     `json:"expiration_date,omitempty"`
	Data           map[string]any `json:"data,omitempty"`
}

func (s *SessionObject) GetUserID() string {
	return s.UserID
}

func (s *SessionObject) GetUserUUID() (uuid.UUID, error) {
	return uuid.Parse(s.UserID)
}

func (s *SessionObject) GetIdentity() string {
	return s.Identity
}

func (s *SessionObject) GetRole() string {
	return s.Role
}

func (s *SessionObject) GetAudience() []string {
	return s.Audience
}

func (s *SessionObject) GetIssuer() string {
	return s.Issuer
}

func (s *SessionObject) GetIssuedAt() *time.Time {
	return s.IssuedAt
}

func (s *SessionObject) GetData() map[string]any {
	return s.Data
}

// IsAtLeast checks if the session role is at least minRole
func (s *SessionObject) IsAtLeast(minRole UserRole) bool {
	return IsAtLeast(s.Role, minRole)
}

// CanActOn reports whether the session may modify the given account:
// its owner or an admin.
func (s *SessionObject) CanActOn(accountID string) bool {
	return s.UserID == accountID || s.Role == RoleAdmin
}

// IsExpired reports whether the session expired at now
func (s *SessionObject) IsExpired(now time.Time) bool {
	if s.ExpirationDate == nil {
		return false
	}
	return now.After(*s.ExpirationDate)
}

func (s SessionObject) String() string {
	issuedAt := "<nil>"
	if s.IssuedAt != nil {
		issuedAt = s.IssuedAt.Format(time.RFC1123)
	}
	return fmt.Sprintf(
		"user=%s identity=%s role=%s iss=%s iat=%s",
		s.UserID,
		s.Identity,
		s.Role,
		s.Issuer,
		issuedAt,
	)
}

func newSessionObject(account *Account, issuer string, now time.Time, ttl time.Duration) *SessionObject {
	session := &SessionObject{
		UserID:   account.ID.String(),
		Identity: account.Email,
		Role:     account.Role,
		Issuer:   issuer,
		IssuedAt: timePtr(now),
		Data: map[string]any{
			"role": account.Role,
		},
	}
	if ttl > 0 {
		session.ExpirationDate = timePtr(now.Add(ttl))
	}
	return session
}

func sessionFromClaims(claims *LifecycleClaims) *SessionObject {
	var audience []string
	for _, aud := range claims.Audience {
		audience = append(audience, aud)
	}

	session := &SessionObject{
		UserID:   claims.AccountID(),
		Identity: claims.Identity(),
		Role:     claims.Role(),
		Audience: audience,
		Issuer:   claims.Issuer,
		Data: map[string]any{
			"role": claims.Role(),
			"jti":  claims.TokenID(),
		},
	}

	if iat := claims.IssuedAt(); !iat.IsZero() {
		session.IssuedAt = &iat
	}
	if exp := claims.Expires(); !exp.IsZero() {
		session.ExpirationDate = &exp
	}
	return session
}
