package auth

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is a CredentialStore kept in process memory. It serializes
// every call with a mutex so conditional updates are atomic.
type MemoryStore struct {
	mu       sync.Mutex
	accounts map[string]*Account
	clock    Clock
}

var _ CredentialStore = (*MemoryStore)(nil)

// MemoryStoreOption configures a MemoryStore
type MemoryStoreOption func(*MemoryStore)

// WithMemoryStoreClock sets the clock used for timestamps
func WithMemoryStoreClock(clock Clock) MemoryStoreOption {
	return func(s *MemoryStore) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewMemoryStore returns an empty store
func NewMemoryStore(opts ...MemoryStoreOption) *MemoryStore {
	s := &MemoryStore{
		accounts: make(map[string]*Account),
		clock:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *MemoryStore) FindByIdentity(ctx context.Context, identity string) (*Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[NormalizeIdentity(identity)]
	if !ok {
		return nil, ErrIdentityNotFound
	}
	return account.Clone(), nil
}

func (s *MemoryStore) FindByID(ctx context.Context, id uuid.UUID) (*Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, account := range s.accounts {
		if account.ID == id {
			return account.Clone(), nil
		}
	}
	return nil, ErrIdentityNotFound
}

func (s *MemoryStore) CreateIfAbsent(ctx context.Context, account *Account) (*Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	record := account.Clone()
	record.Email = NormalizeIdentity(record.Email)
	if _, ok := s.accounts[record.Email]; ok {
		return nil, ErrStoreConflict
	}

	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	now := s.clock()
	record.CreatedAt = timePtr(now)
	record.UpdatedAt = timePtr(now)

	s.accounts[record.Email] = record
	return record.Clone(), nil
}

func (s *MemoryStore) CompareAndUpdate(ctx context.Context, identity string, expect AccountFlags, update AccountUpdate) (*Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[NormalizeIdentity(identity)]
	if !ok {
		return nil, ErrIdentityNotFound
	}

	if !expect.Matches(account) {
		return nil, ErrStoreConflict
	}

	update.Apply(account)
	account.UpdatedAt = timePtr(s.clock())

	return account.Clone(), nil
}

func (s *MemoryStore) UpdatePasswordHash(ctx context.Context, identity string, expectedVersion int, hash string, at time.Time) (*Account, error) {
	expect, update := passwordHashUpdate(expectedVersion, hash, at)
	return s.CompareAndUpdate(ctx, identity, expect, update)
}

func (s *MemoryStore) ReserveLoginAttempt(ctx context.Context, id uuid.UUID, at time.Time, window time.Duration, limit int) (int, error) {
	var (
		attempts int
		ok       bool
	)
	err := s.mutateByID(ctx, id, func(a *Account) {
		attempts, ok = nextLoginAttempt(a, at, window, limit)
		if ok {
			a.LoginAttempts = attempts
			a.LoginAttemptAt = timePtr(at)
		}
	})
	if err != nil {
		return 0, err
	}
	if !ok {
		return attempts, ErrTooManyLoginAttempts
	}
	return attempts, nil
}

func (s *MemoryStore) TrackSuccessfulLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	return s.mutateByID(ctx, id, func(a *Account) {
		a.LoginAttempts = 0
		a.LoginAttemptAt = nil
		a.LoggedInAt = timePtr(at)
	})
}

func (s *MemoryStore) DeleteByID(ctx context.Context, id uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for identity, account := range s.accounts {
		if account.ID == id {
			delete(s.accounts, identity)
			return nil
		}
	}
	return ErrIdentityNotFound
}

func (s *MemoryStore) mutateByID(ctx context.Context, id uuid.UUID, fn func(*Account)) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, account := range s.accounts {
		if account.ID == id {
			fn(account)
			return nil
		}
	}
	return ErrIdentityNotFound
}
