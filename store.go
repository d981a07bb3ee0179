package auth

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Field is an optional value in a partial update. A zero Field means
// "leave untouched", Set with a zero Value means "clear".
type Field[T any] struct {
	Value T
	Set   bool
}

// Some returns a Field holding v
func Some[T any](v T) Field[T] {
	return Field[T]{Value: v, Set: true}
}

// Get returns the value and whether it was provided
func (f Field[T]) Get() (T, bool) {
	return f.Value, f.Set
}

// AccountFlags are the expected values a conditional update checks
// before writing. Unset fields are not checked.
type AccountFlags struct {
	Verified          Field[bool]
	PasswordSet       Field[bool]
	CredentialVersion Field[int]
}

// AccountUpdate lists the columns a conditional update writes
type AccountUpdate struct {
	DisplayName         Field[string]
	Role                Field[UserRole]
	RollNo              Field[string]
	Address             Field[string]
	PhotoURL            Field[string]
	PasswordHash        Field[string]
	PendingPasswordHash Field[string]
	Verified            Field[bool]
	PasswordSet         Field[bool]
	CredentialVersion   Field[int]
	VerifiedAt          Field[*time.Time]
	PasswordChangedAt   Field[*time.Time]
}

// IsEmpty reports whether the update writes nothing
func (u AccountUpdate) IsEmpty() bool {
	return !u.DisplayName.Set && !u.Role.Set && !u.RollNo.Set &&
		!u.Address.Set && !u.PhotoURL.Set && !u.PasswordHash.Set &&
		!u.PendingPasswordHash.Set && !u.Verified.Set && !u.PasswordSet.Set &&
		!u.CredentialVersion.Set && !u.VerifiedAt.Set && !u.PasswordChangedAt.Set
}

// Matches reports whether the account satisfies every set flag
func (f AccountFlags) Matches(a *Account) bool {
	if a == nil {
		return false
	}
	if v, ok := f.Verified.Get(); ok && a.Verified != v {
		return false
	}
	if v, ok := f.PasswordSet.Get(); ok && a.PasswordSet != v {
		return false
	}
	if v, ok := f.CredentialVersion.Get(); ok && a.CredentialVersion != v {
		return false
	}
	return true
}

// Apply writes every set field of the update into the account
func (u AccountUpdate) Apply(a *Account) {
	if v, ok := u.DisplayName.Get(); ok {
		a.DisplayName = v
	}
	if v, ok := u.Role.Get(); ok {
		a.Role = v
	}
	if v, ok := u.RollNo.Get(); ok {
		a.RollNo = v
	}
	if v, ok := u.Address.Get(); ok {
		a.Address = v
	}
	if v, ok := u.PhotoURL.Get(); ok {
		a.PhotoURL = v
	}
	if v, ok := u.PasswordHash.Get(); ok {
		a.PasswordHash = v
	}
	if v, ok := u.PendingPasswordHash.Get(); ok {
		a.PendingPasswordHash = v
	}
	if v, ok := u.Verified.Get(); ok {
		a.Verified = v
	}
	if v, ok := u.PasswordSet.Get(); ok {
		a.PasswordSet = v
	}
	if v, ok := u.CredentialVersion.Get(); ok {
		a.CredentialVersion = v
	}
	if v, ok := u.VerifiedAt.Get(); ok {
		a.VerifiedAt = cloneTime(v)
	}
	if v, ok := u.PasswordChangedAt.Get(); ok {
		a.PasswordChangedAt = cloneTime(v)
	}
}

// CredentialStore persists accounts keyed by identity. Every write is a
// single atomic conditional operation for that identity.
type CredentialStore interface {
	// FindByIdentity returns ErrIdentityNotFound if there is no account
	FindByIdentity(ctx context.Context, identity string) (*Account, error)
	// FindByID returns ErrIdentityNotFound if there is no account
	FindByID(ctx context.Context, id uuid.UUID) (*Account, error)
	// CreateIfAbsent returns ErrStoreConflict if the identity exists
	CreateIfAbsent(ctx context.Context, account *Account) (*Account, error)
	// CompareAndUpdate writes update only if the stored flags match expect.
	// Returns ErrIdentityNotFound or ErrStoreConflict otherwise.
	CompareAndUpdate(ctx context.Context, identity string, expect AccountFlags, update AccountUpdate) (*Account, error)
	// UpdatePasswordHash replaces the hash if the credential version is
	// still expectedVersion and bumps the version.
	UpdatePasswordHash(ctx context.Context, identity string, expectedVersion int, hash string, at time.Time) (*Account, error)
	// ReserveLoginAttempt counts a login attempt in one atomic step. The
	// count restarts when the previous attempt is older than window. Once
	// limit attempts are counted it returns ErrTooManyLoginAttempts and
	// writes nothing. A limit of zero disables the check.
	ReserveLoginAttempt(ctx context.Context, id uuid.UUID, at time.Time, window time.Duration, limit int) (int, error)
	// TrackSuccessfulLogin clears the failed attempts
	TrackSuccessfulLogin(ctx context.Context, id uuid.UUID, at time.Time) error
	// DeleteByID removes the account, ErrIdentityNotFound if it is missing
	DeleteByID(ctx context.Context, id uuid.UUID) error
}

func passwordHashUpdate(expectedVersion int, hash string, at time.Time) (AccountFlags, AccountUpdate) {
	expect := AccountFlags{
		CredentialVersion: Some(expectedVersion),
	}
	update := AccountUpdate{
		PasswordHash:      Some(hash),
		CredentialVersion: Some(expectedVersion + 1),
		PasswordChangedAt: Some(timePtr(at)),
	}
	return expect, update
}

// nextLoginAttempt returns the attempt count after reserving one more at
// at, false if the account is locked out.
func nextLoginAttempt(a *Account, at time.Time, window time.Duration, limit int) (int, bool) {
	attempts := a.LoginAttempts
	if a.LoginAttemptAt == nil || at.Sub(*a.LoginAttemptAt) > window {
		attempts = 0
	}
	if limit > 0 && attempts >= limit {
		return attempts, false
	}
	return attempts + 1, true
}
