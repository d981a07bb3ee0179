package auth

import (
	"context"
	"slices"

	"github.com/google/uuid"
)

// UpdateProfileMessage carries a partial profile update. Only fields
// marked Set are written, a Set field with an empty value clears it.
type UpdateProfileMessage struct {
	AccountID   uuid.UUID
	ActorID     string
	ActorRole   UserRole
	DisplayName Field[string]
	RollNo      Field[string]
	Address     Field[string]
	PhotoURL    Field[string]
	Role        Field[UserRole]
}

// UpdateProfile applies the fields present in msg to the account.
// Credential state is never touched. Changing the role requires an admin.
func (m *LifecycleManager) UpdateProfile(ctx context.Context, msg UpdateProfileMessage) (*Account, error) {
	var account *Account
	err := m.run(ctx, OperationUpdateProfile, func(ctx context.Context) error {
		isAdmin := msg.ActorRole == RoleAdmin
		if msg.ActorID != msg.AccountID.String() && !isAdmin {
			return ErrForbidden
		}

		if role, ok := msg.Role.Get(); ok {
			if !isAdmin {
				return ErrForbidden
			}
			if !IsValidRole(role) {
				return ErrInvalidPayload
			}
		}

		if name, ok := msg.DisplayName.Get(); ok && name == "" {
			return ErrInvalidPayload
		}

		current, err := m.store.FindByID(ctx, msg.AccountID)
		if err != nil {
			return err
		}

		update := AccountUpdate{
			DisplayName: msg.DisplayName,
			RollNo:      msg.RollNo,
			Address:     msg.Address,
			PhotoURL:    msg.PhotoURL,
			Role:        msg.Role,
		}
		if update.IsEmpty() {
			account = current
			return nil
		}

		account, err = m.store.CompareAndUpdate(ctx, current.Email, AccountFlags{}, update)
		if err != nil {
			return err
		}

		fields := []string{}
		for name, f := range map[string]bool{
			"name":      msg.DisplayName.Set,
			"rollno":    msg.RollNo.Set,
			"address":   msg.Address.Set,
			"photo_url": msg.PhotoURL.Set,
			"role":      msg.Role.Set,
		} {
			if f {
				fields = append(fields, name)
			}
		}
		slices.Sort(fields)

		m.record(ctx, ActivityEventProfileUpdated, SeverityInfo, account, map[string]any{
			"actor_id": msg.ActorID,
			"fields":   fields,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return account, nil
}

// AccountRequest names an account and the session acting on it
type AccountRequest struct {
	AccountID uuid.UUID
	ActorID   string
	ActorRole UserRole
}

// GetProfile returns the account to its owner or an admin
func (m *LifecycleManager) GetProfile(ctx context.Context, req AccountRequest) (*Account, error) {
	var account *Account
	err := m.run(ctx, OperationGetProfile, func(ctx context.Context) error {
		if req.ActorID != req.AccountID.String() && req.ActorRole != RoleAdmin {
			return ErrForbidden
		}

		var err error
		account, err = m.store.FindByID(ctx, req.AccountID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return account, nil
}

// DeleteAccount removes an account. Only admins may delete, and never
// their own account.
func (m *LifecycleManager) DeleteAccount(ctx context.Context, req AccountRequest) error {
	return m.run(ctx, OperationDeleteAccount, func(ctx context.Context) error {
		if req.ActorRole != RoleAdmin || req.ActorID == req.AccountID.String() {
			return ErrForbidden
		}

		account, err := m.store.FindByID(ctx, req.AccountID)
		if err != nil {
			return err
		}

		if err := m.store.DeleteByID(ctx, req.AccountID); err != nil {
			return err
		}

		m.record(ctx, ActivityEventAccountDeleted, SeverityWarning, account, map[string]any{
			"actor_id": req.ActorID,
		})
		return nil
	})
}
