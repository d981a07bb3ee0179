package auth

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Account is the credential record for a single campus identity
type Account struct {
	bun.BaseModel       `bun:"table:accounts,alias:acc"`
	ID                  uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Email               string     `bun:"email,notnull,unique" json:"email,omitempty"`
	DisplayName         string     `bun:"display_name,notnull" json:"display_name,omitempty"`
	Role                UserRole   `bun:"user_role,notnull" json:"user_role,omitempty"`
	RollNo              string     `bun:"roll_no,nullzero" json:"roll_no,omitempty"`
	Address             string     `bun:"address,nullzero" json:"address,omitempty"`
	PhotoURL            string     `bun:"photo_url,nullzero" json:"photo_url,omitempty"`
	PasswordHash        string     `bun:"password_hash,nullzero" json:"-"`
	PendingPasswordHash string     `bun:"pending_password_hash,nullzero" json:"-"`
	Verified            bool       `bun:"verified,notnull,default:false" json:"verified"`
	PasswordSet         bool       `bun:"password_set,notnull,default:false" json:"password_set"`
	CredentialVersion   int        `bun:"credential_version,notnull,default:0" json:"credential_version"`
	LoginAttempts       int        `bun:"login_attempts,notnull,default:0" json:"login_attempts,omitempty"`
	LoginAttemptAt      *time.Time `bun:"login_attempt_at,nullzero" json:"login_attempt_at,omitempty"`
	LoggedInAt          *time.Time `bun:"loggedin_at,nullzero" json:"loggedin_at,omitempty"`
	VerifiedAt          *time.Time `bun:"verified_at,nullzero" json:"verified_at,omitempty"`
	PasswordChangedAt   *time.Time `bun:"password_changed_at,nullzero" json:"password_changed_at,omitempty"`
	CreatedAt           *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt           *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// CanLogin reports whether the account completed the lifecycle
func (a *Account) CanLogin() bool {
	return a != nil && a.Verified && a.PasswordSet && a.PasswordHash != ""
}

// CheckInvariants returns false if the account is in a state the
// lifecycle never produces.
func (a *Account) CheckInvariants() bool {
	if a == nil {
		return true
	}
	if a.PasswordSet && a.PasswordHash == "" {
		return false
	}
	if !a.Verified && a.PasswordSet {
		return false
	}
	return true
}

// Clone returns a copy safe to hand out of a store
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	c := *a
	c.LoginAttemptAt = cloneTime(a.LoginAttemptAt)
	c.LoggedInAt = cloneTime(a.LoggedInAt)
	c.VerifiedAt = cloneTime(a.VerifiedAt)
	c.PasswordChangedAt = cloneTime(a.PasswordChangedAt)
	c.CreatedAt = cloneTime(a.CreatedAt)
	c.UpdatedAt = cloneTime(a.UpdatedAt)
	return &c
}

// NormalizeIdentity lower cases and trims an email identity
func NormalizeIdentity(identity string) string {
	return strings.ToLower(strings.TrimSpace(identity))
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func timePtr(t time.Time) *time.Time {
	return &t
}
