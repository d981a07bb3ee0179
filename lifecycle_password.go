package auth

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ResetRequestResult describes a password reset request
type ResetRequestResult struct {
	Account             *Account
	Token               string
	NotificationWarning error
}

// ChangePasswordMessage is the input to ChangePassword. The actor is the
// session owner performing the change.
type ChangePasswordMessage struct {
	AccountID       uuid.UUID `json:"-"`
	ActorID         string    `json:"-"`
	ActorRole       UserRole  `json:"-"`
	OldPassword     string    `json:"old_password"`
	Password        string    `json:"password"`
	ConfirmPassword string    `json:"confirm_password"`
}

// SetPassword consumes a set-password token and sets the first password
// of a verified account. It succeeds at most once per account.
func (m *LifecycleManager) SetPassword(ctx context.Context, token, password, confirm string) (*Account, error) {
	var account *Account
	err := m.run(ctx, OperationSetPassword, func(ctx context.Context) error {
		if err := validateNewPassword(password, confirm); err != nil {
			return err
		}

		claims, err := m.tokens.Verify(token, PurposeSetPassword)
		if err != nil {
			return err
		}

		identity := NormalizeIdentity(claims.Identity())
		current, err := m.store.FindByIdentity(ctx, identity)
		if err != nil {
			return err
		}

		if current.PasswordSet {
			return ErrPasswordAlreadySet
		}
		if !current.Verified {
			return ErrNotVerified
		}

		if current.PendingPasswordHash != "" {
			if err := m.hasher.ComparePasswordAndHash(password, current.PendingPasswordHash); err == nil {
				return ErrPasswordReused
			}
		}

		hash, err := m.hasher.HashPassword(password)
		if err != nil {
			return err
		}

		now := m.now()
		account, err = m.store.CompareAndUpdate(ctx, identity,
			AccountFlags{
				Verified:    Some(true),
				PasswordSet: Some(false),
			},
			AccountUpdate{
				PasswordHash:        Some(hash),
				PasswordSet:         Some(true),
				PendingPasswordHash: Some(""),
				CredentialVersion:   Some(current.CredentialVersion + 1),
				PasswordChangedAt:   Some(timePtr(now)),
			},
		)
		if isStoreConflict(err) {
			return ErrPasswordAlreadySet
		}
		if err != nil {
			return err
		}

		m.recordTransition(ctx, ActivityEventPasswordSet, SeverityInfo, StateOf(current), account, nil)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return account, nil
}

// RequestReset emails a reset-password link to an account that can log in
func (m *LifecycleManager) RequestReset(ctx context.Context, email string) (*ResetRequestResult, error) {
	var result *ResetRequestResult
	err := m.run(ctx, OperationRequestReset, func(ctx context.Context) error {
		identity := NormalizeIdentity(email)
		if err := validateIdentity(identity); err != nil {
			return err
		}

		account, err := m.store.FindByIdentity(ctx, identity)
		if err != nil {
			return err
		}

		if !account.Verified {
			return ErrNotVerified
		}
		if !account.PasswordSet {
			return ErrPasswordNotSet
		}

		token, err := m.tokens.Issue(identity, PurposeResetPassword, m.cfg.GetResetPasswordTTL(),
			WithAccountID(account.ID.String()),
			WithRole(account.Role),
			WithCredentialVersion(account.CredentialVersion),
		)
		if err != nil {
			return err
		}

		m.record(ctx, ActivityEventPasswordResetRequested, SeverityInfo, account, nil)

		result = &ResetRequestResult{
			Account: account,
			Token:   token,
		}
		result.NotificationWarning = m.notify(ctx, account, Notification{
			Kind:        NotificationResetPassword,
			Recipient:   identity,
			DisplayName: account.DisplayName,
			Link:        m.resetPasswordLink(token),
			Token:       token,
			ExpiresAt:   m.now().Add(m.cfg.GetResetPasswordTTL()),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ResetPassword consumes a reset-password token. The token is single use,
// any password change after it was issued invalidates it.
func (m *LifecycleManager) ResetPassword(ctx context.Context, token, password, confirm string) (*Account, error) {
	var account *Account
	err := m.run(ctx, OperationResetPassword, func(ctx context.Context) error {
		if err := validateNewPassword(password, confirm); err != nil {
			return err
		}

		claims, err := m.tokens.Verify(token, PurposeResetPassword)
		if err != nil {
			return err
		}

		version, ok := claims.CredentialVersion()
		if !ok {
			return ErrTokenMalformed
		}

		identity := NormalizeIdentity(claims.Identity())
		current, err := m.store.FindByIdentity(ctx, identity)
		if err != nil {
			return err
		}

		if !current.Verified {
			return ErrNotVerified
		}
		if !current.PasswordSet {
			return ErrPasswordNotSet
		}
		if current.CredentialVersion != version {
			return ErrTokenAlreadyUsed
		}

		hash, err := m.hasher.HashPassword(password)
		if err != nil {
			return err
		}

		account, err = m.store.UpdatePasswordHash(ctx, identity, version, hash, m.now())
		if isStoreConflict(err) {
			return ErrTokenAlreadyUsed
		}
		if err != nil {
			return err
		}

		m.recordTransition(ctx, ActivityEventPasswordReset, SeverityInfo, StateOf(current), account, nil)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return account, nil
}

// ChangePassword replaces the password of an account after checking the
// current one. Only the account owner or an admin may change it.
func (m *LifecycleManager) ChangePassword(ctx context.Context, msg ChangePasswordMessage) (*Account, error) {
	var account *Account
	err := m.run(ctx, OperationChangePassword, func(ctx context.Context) error {
		if msg.ActorID != msg.AccountID.String() && msg.ActorRole != RoleAdmin {
			return ErrForbidden
		}

		if msg.OldPassword == "" {
			return ErrNoEmptyString
		}
		if err := validateNewPassword(msg.Password, msg.ConfirmPassword); err != nil {
			return err
		}

		current, err := m.store.FindByID(ctx, msg.AccountID)
		if err != nil {
			return err
		}

		if !current.Verified {
			return ErrNotVerified
		}
		if !current.PasswordSet {
			return ErrPasswordNotSet
		}

		if err := m.hasher.ComparePasswordAndHash(msg.OldPassword, current.PasswordHash); err != nil {
			if errors.Is(err, ErrMismatchedHashAndPassword) {
				return ErrMismatchedHashAndPassword
			}
			return err
		}

		if msg.Password == msg.OldPassword {
			return ErrPasswordReused
		}

		hash, err := m.hasher.HashPassword(msg.Password)
		if err != nil {
			return err
		}

		account, err = m.store.UpdatePasswordHash(ctx, current.Email, current.CredentialVersion, hash, m.now())
		if err != nil {
			return err
		}

		m.recordTransition(ctx, ActivityEventPasswordChanged, SeverityInfo, StateOf(current), account, map[string]any{
			"actor_id": msg.ActorID,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return account, nil
}
