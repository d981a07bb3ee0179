package auth

import (
	"context"
	"database/sql"
	"errors"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// BunStore is a CredentialStore backed by a bun database. Writes are
// conditional UPDATE statements so racing requests for the same identity
// see exactly one winner.
type BunStore struct {
	db    *bun.DB
	repo  repository.Repository[*Account]
	clock Clock
}

var _ CredentialStore = (*BunStore)(nil)

// BunStoreOption configures a BunStore
type BunStoreOption func(*BunStore)

// WithBunStoreClock sets the clock used for updated_at
func WithBunStoreClock(clock Clock) BunStoreOption {
	return func(s *BunStore) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewAccountsRepository returns the read repository for accounts
func NewAccountsRepository(db *bun.DB) repository.Repository[*Account] {
	handlers := repository.ModelHandlers[*Account]{
		NewRecord: func() *Account {
			return &Account{}
		},
		GetID: func(record *Account) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return record.ID
		},
		SetID: func(record *Account, id uuid.UUID) {
			if record != nil {
				record.ID = id
			}
		},
		GetIdentifier: func() string {
			return "email"
		},
	}
	return repository.NewRepository(db, handlers)
}

// NewBunStore returns a store using db
func NewBunStore(db *bun.DB, opts ...BunStoreOption) *BunStore {
	s := &BunStore{
		db:    db,
		repo:  NewAccountsRepository(db),
		clock: time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *BunStore) FindByIdentity(ctx context.Context, identity string) (*Account, error) {
	return s.findByIdentityTx(ctx, s.db, NormalizeIdentity(identity))
}

func (s *BunStore) FindByID(ctx context.Context, id uuid.UUID) (*Account, error) {
	record, err := s.repo.GetByID(ctx, id.String())
	if err != nil {
		return nil, s.mapReadError(err, "id", id.String())
	}
	return record, nil
}

func (s *BunStore) CreateIfAbsent(ctx context.Context, account *Account) (*Account, error) {
	record := account.Clone()
	record.Email = NormalizeIdentity(record.Email)
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	now := s.clock()
	record.CreatedAt = timePtr(now)
	record.UpdatedAt = timePtr(now)

	res, err := s.db.NewInsert().
		Model(record).
		On("CONFLICT (email) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to insert account").
			WithCode(goerrors.CodeInternal)
	}

	if rowsAffected(res) == 0 {
		return nil, ErrStoreConflict
	}

	return record, nil
}

func (s *BunStore) CompareAndUpdate(ctx context.Context, identity string, expect AccountFlags, update AccountUpdate) (*Account, error) {
	identity = NormalizeIdentity(identity)

	var out *Account
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		q := tx.NewUpdate().
			Model((*Account)(nil)).
			Where("email = ?", identity)

		q = applyAccountFlags(q, expect)
		q = applyAccountUpdate(q, update)
		q = q.Set("updated_at = ?", s.clock())

		res, err := q.Exec(ctx)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update account").
				WithCode(goerrors.CodeInternal)
		}

		if rowsAffected(res) == 0 {
			if _, err := s.findByIdentityTx(ctx, tx, identity); err != nil {
				return err
			}
			return ErrStoreConflict
		}

		out, err = s.findByIdentityTx(ctx, tx, identity)
		return err
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}

func (s *BunStore) UpdatePasswordHash(ctx context.Context, identity string, expectedVersion int, hash string, at time.Time) (*Account, error) {
	expect, update := passwordHashUpdate(expectedVersion, hash, at)
	return s.CompareAndUpdate(ctx, identity, expect, update)
}

func (s *BunStore) ReserveLoginAttempt(ctx context.Context, id uuid.UUID, at time.Time, window time.Duration, limit int) (int, error) {
	cutoff := at.Add(-window)

	var attempts int
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		q := tx.NewUpdate().
			Model((*Account)(nil)).
			Set("login_attempts = CASE WHEN login_attempt_at IS NULL OR login_attempt_at < ? THEN 1 ELSE login_attempts + 1 END", cutoff).
			Set("login_attempt_at = ?", at).
			Where("id = ?", id).
			Returning("login_attempts")
		if limit > 0 {
			q = q.Where("(login_attempt_at IS NULL OR login_attempt_at < ? OR login_attempts < ?)", cutoff, limit)
		}

		var counted []int
		if _, err := q.Exec(ctx, &counted); err != nil && !errors.Is(err, sql.ErrNoRows) {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to track login attempt").
				WithCode(goerrors.CodeInternal)
		}

		if len(counted) == 0 {
			current := &Account{}
			if err := tx.NewSelect().Model(current).Where("id = ?", id).Scan(ctx); err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return ErrIdentityNotFound
				}
				return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to read account").
					WithCode(goerrors.CodeInternal)
			}
			attempts = current.LoginAttempts
			return ErrTooManyLoginAttempts
		}

		attempts = counted[0]
		return nil
	})
	return attempts, err
}

func (s *BunStore) TrackSuccessfulLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	res, err := s.db.NewUpdate().
		Model((*Account)(nil)).
		Set("loggedin_at = ?", at).
		Set("login_attempt_at = NULL").
		Set("login_attempts = 0").
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to track login")
	}
	if rowsAffected(res) == 0 {
		return ErrIdentityNotFound
	}
	return nil
}

func (s *BunStore) DeleteByID(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.NewDelete().
		Model((*Account)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to delete account").
			WithCode(goerrors.CodeInternal)
	}
	if rowsAffected(res) == 0 {
		return ErrIdentityNotFound
	}
	return nil
}

func (s *BunStore) findByIdentityTx(ctx context.Context, tx bun.IDB, identity string) (*Account, error) {
	record, err := s.repo.GetByIdentifierTx(ctx, tx, identity)
	if err != nil {
		return nil, s.mapReadError(err, "email", identity)
	}
	return record, nil
}

func (s *BunStore) mapReadError(err error, key, value string) error {
	if repository.IsRecordNotFound(err) {
		return ErrIdentityNotFound
	}
	return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to read account").
		WithCode(goerrors.CodeInternal).
		WithMetadata(map[string]any{key: value})
}

func applyAccountFlags(q *bun.UpdateQuery, expect AccountFlags) *bun.UpdateQuery {
	if v, ok := expect.Verified.Get(); ok {
		q = q.Where("verified = ?", v)
	}
	if v, ok := expect.PasswordSet.Get(); ok {
		q = q.Where("password_set = ?", v)
	}
	if v, ok := expect.CredentialVersion.Get(); ok {
		q = q.Where("credential_version = ?", v)
	}
	return q
}

func applyAccountUpdate(q *bun.UpdateQuery, u AccountUpdate) *bun.UpdateQuery {
	if v, ok := u.DisplayName.Get(); ok {
		q = q.Set("display_name = ?", v)
	}
	if v, ok := u.Role.Get(); ok {
		q = q.Set("user_role = ?", v)
	}
	if v, ok := u.RollNo.Get(); ok {
		q = q.Set("roll_no = ?", v)
	}
	if v, ok := u.Address.Get(); ok {
		q = q.Set("address = ?", v)
	}
	if v, ok := u.PhotoURL.Get(); ok {
		q = q.Set("photo_url = ?", v)
	}
	if v, ok := u.PasswordHash.Get(); ok {
		q = q.Set("password_hash = ?", v)
	}
	if v, ok := u.PendingPasswordHash.Get(); ok {
		q = q.Set("pending_password_hash = ?", v)
	}
	if v, ok := u.Verified.Get(); ok {
		q = q.Set("verified = ?", v)
	}
	if v, ok := u.PasswordSet.Get(); ok {
		q = q.Set("password_set = ?", v)
	}
	if v, ok := u.CredentialVersion.Get(); ok {
		q = q.Set("credential_version = ?", v)
	}
	if v, ok := u.VerifiedAt.Get(); ok {
		q = q.Set("verified_at = ?", v)
	}
	if v, ok := u.PasswordChangedAt.Get(); ok {
		q = q.Set("password_changed_at = ?", v)
	}
	return q
}

func rowsAffected(res sql.Result) int64 {
	if res == nil {
		return 0
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0
	}
	return n
}
