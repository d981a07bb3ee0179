package auth

import (
	"context"
	"errors"
)

// RegisterMessage is the input to Register
type RegisterMessage struct {
	Email           string   `json:"email" example:"student@campus.edu"`
	DisplayName     string   `json:"name" example:"Ada Lovelace"`
	Role            UserRole `json:"role" example:"student"`
	RollNo          string   `json:"rollno,omitempty" example:"CS-2025-001"`
	Password        string   `json:"password"`
	ConfirmPassword string   `json:"confirm_password"`
	// ActorID and ActorRole identify the session making the request, empty
	// for self registration
	ActorID   string   `json:"-"`
	ActorRole UserRole `json:"-"`
}

// RegisterResult describes a registration. NotificationWarning is set
// when the account was stored but the verification email failed.
type RegisterResult struct {
	Account             *Account
	Token               string
	Overwritten         bool
	NotificationWarning error
}

// ResendResult describes a resent verification email
type ResendResult struct {
	Account             *Account
	Token               string
	NotificationWarning error
}

// VerifyResult carries the set-password token and where to send the user
type VerifyResult struct {
	Account          *Account
	SetPasswordToken string
	RedirectURL      string
	AlreadyVerified  bool
}

// Register creates an unverified account, or overwrites one that was
// never verified, and emails a verification link.
func (m *LifecycleManager) Register(ctx context.Context, msg RegisterMessage) (*RegisterResult, error) {
	var result *RegisterResult
	err := m.run(ctx, OperationRegister, func(ctx context.Context) error {
		var err error
		result, err = m.register(ctx, msg)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (m *LifecycleManager) register(ctx context.Context, msg RegisterMessage) (*RegisterResult, error) {
	identity := NormalizeIdentity(msg.Email)
	if err := validateIdentity(identity); err != nil {
		return nil, err
	}

	if err := validateNewPassword(msg.Password, msg.ConfirmPassword); err != nil {
		return nil, err
	}

	role := msg.Role
	if role == "" {
		role = RoleStudent
	}
	if !IsValidRole(role) {
		return nil, ErrInvalidPayload
	}
	// self registration is always a student account
	if role != RoleStudent && msg.ActorRole != RoleAdmin {
		return nil, ErrForbidden
	}

	pendingHash, err := m.hasher.HashPassword(msg.Password)
	if err != nil {
		return nil, err
	}

	// one retry covers a concurrent first registration of the same identity
	for attempt := 0; attempt < 2; attempt++ {
		existing, err := m.store.FindByIdentity(ctx, identity)
		if err != nil && !errors.Is(err, ErrIdentityNotFound) {
			return nil, err
		}

		if existing != nil && existing.Verified {
			return nil, ErrAlreadyRegistered
		}

		accountID := m.newAccountID(identity)
		if existing != nil {
			accountID = existing.ID
		}

		token, err := m.tokens.Issue(identity, PurposeVerifyEmail, m.cfg.GetVerifyEmailTTL(),
			WithAccountID(accountID.String()),
			WithRole(role),
		)
		if err != nil {
			return nil, err
		}

		var account *Account
		overwritten := existing != nil

		if existing == nil {
			account, err = m.store.CreateIfAbsent(ctx, &Account{
				ID:                  accountID,
				Email:               identity,
				DisplayName:         msg.DisplayName,
				Role:                role,
				RollNo:              msg.RollNo,
				PendingPasswordHash: pendingHash,
			})
		} else {
			account, err = m.store.CompareAndUpdate(ctx, identity,
				AccountFlags{Verified: Some(false)},
				AccountUpdate{
					DisplayName:         Some(msg.DisplayName),
					Role:                Some(role),
					RollNo:              Some(msg.RollNo),
					PendingPasswordHash: Some(pendingHash),
				},
			)
		}

		if isStoreConflict(err) {
			continue
		}
		if err != nil {
			return nil, err
		}

		if overwritten {
			m.logger.Warn("registration overwrote an unverified account", "identity", identity)
			m.recordTransition(ctx, ActivityEventRegistrationOverwrite, SeverityWarning, StateOf(existing), account, nil)
		} else {
			metadata := map[string]any{"role": role}
			if msg.ActorID != "" {
				metadata["actor_id"] = msg.ActorID
			}
			m.recordTransition(ctx, ActivityEventRegistered, SeverityInfo, StateNone, account, metadata)
		}

		result := &RegisterResult{
			Account:     account,
			Token:       token,
			Overwritten: overwritten,
		}
		result.NotificationWarning = m.notify(ctx, account, Notification{
			Kind:        NotificationVerifyEmail,
			Recipient:   identity,
			DisplayName: account.DisplayName,
			Link:        m.verifyLink(token),
			Token:       token,
			ExpiresAt:   m.now().Add(m.cfg.GetVerifyEmailTTL()),
		})

		return result, nil
	}

	// the identity was created or verified concurrently, report its final state
	current, err := m.store.FindByIdentity(ctx, identity)
	if err == nil && current.Verified {
		return nil, ErrAlreadyRegistered
	}
	return nil, ErrStoreConflict
}

// ResendVerification issues a fresh verification token for an account
// that is not verified yet. The account is not modified.
func (m *LifecycleManager) ResendVerification(ctx context.Context, email string) (*ResendResult, error) {
	var result *ResendResult
	err := m.run(ctx, OperationResendVerification, func(ctx context.Context) error {
		identity := NormalizeIdentity(email)
		if err := validateIdentity(identity); err != nil {
			return err
		}

		account, err := m.store.FindByIdentity(ctx, identity)
		if err != nil {
			return err
		}

		if account.Verified {
			return ErrAlreadyVerified
		}

		token, err := m.tokens.Issue(identity, PurposeVerifyEmail, m.cfg.GetVerifyEmailTTL(),
			WithAccountID(account.ID.String()),
			WithRole(account.Role),
		)
		if err != nil {
			return err
		}

		m.record(ctx, ActivityEventVerificationResent, SeverityInfo, account, nil)

		result = &ResendResult{
			Account: account,
			Token:   token,
		}
		result.NotificationWarning = m.notify(ctx, account, Notification{
			Kind:        NotificationVerifyEmail,
			Recipient:   identity,
			DisplayName: account.DisplayName,
			Link:        m.verifyLink(token),
			Token:       token,
			ExpiresAt:   m.now().Add(m.cfg.GetVerifyEmailTTL()),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Verify consumes a verify-email token, marks the account verified and
// returns a set-password token. Verifying twice is not an error.
func (m *LifecycleManager) Verify(ctx context.Context, token string) (*VerifyResult, error) {
	var result *VerifyResult
	err := m.run(ctx, OperationVerify, func(ctx context.Context) error {
		claims, err := m.tokens.Verify(token, PurposeVerifyEmail)
		if err != nil {
			return err
		}

		identity := NormalizeIdentity(claims.Identity())
		alreadyVerified := false

		account, err := m.store.CompareAndUpdate(ctx, identity,
			AccountFlags{Verified: Some(false)},
			AccountUpdate{
				Verified:   Some(true),
				VerifiedAt: Some(timePtr(m.now())),
			},
		)
		if isStoreConflict(err) {
			alreadyVerified = true
			account, err = m.store.FindByIdentity(ctx, identity)
		}
		if err != nil {
			return err
		}

		if !alreadyVerified {
			m.recordTransition(ctx, ActivityEventVerified, SeverityInfo, StateRegistered, account, nil)
		}

		setToken, err := m.tokens.Issue(identity, PurposeSetPassword, m.cfg.GetSetPasswordTTL(),
			WithAccountID(account.ID.String()),
			WithRole(account.Role),
		)
		if err != nil {
			return err
		}

		result = &VerifyResult{
			Account:          account,
			SetPasswordToken: setToken,
			RedirectURL:      m.setPasswordLink(setToken),
			AlreadyVerified:  alreadyVerified,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
