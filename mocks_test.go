package auth_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	auth "github.com/campusease/go-auth"
)

const testSigningKey = "test-signing-key"

func newTestConfig() *auth.EnvConfig {
	return &auth.EnvConfig{
		SigningKey:       testSigningKey,
		Issuer:           "test-issuer",
		Audience:         []string{"test:audience"},
		ContextKey:       "session",
		TokenLookup:      "header:Authorization",
		AuthScheme:       "Bearer",
		VerifyEmailTTL:   time.Hour,
		SetPasswordTTL:   15 * time.Minute,
		ResetPasswordTTL: time.Hour,
		SessionTTL:       24 * time.Hour,
		FrontendURL:      "http://frontend.test",
		BackendURL:       "http://backend.test",
		BcryptCost:       4,
		MaxLoginAttempts: 3,
		LoginCoolDown:    time.Hour,
	}
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type capturingSink struct {
	mu     sync.Mutex
	events []auth.ActivityEvent
}

func (s *capturingSink) Record(_ context.Context, event auth.ActivityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *capturingSink) Types() []auth.ActivityEventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]auth.ActivityEventType, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.EventType)
	}
	return out
}

// Find returns the most recent event of eventType
func (s *capturingSink) Find(eventType auth.ActivityEventType) (auth.ActivityEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.events) - 1; i >= 0; i-- {
		if s.events[i].EventType == eventType {
			return s.events[i], true
		}
	}
	return auth.ActivityEvent{}, false
}

func (s *capturingSink) Last() auth.ActivityEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.events) == 0 {
		return auth.ActivityEvent{}
	}
	return s.events[len(s.events)-1]
}

type capturingNotifier struct {
	mu   sync.Mutex
	sent []auth.Notification
	err  error
}

func (n *capturingNotifier) Send(_ context.Context, msg auth.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return n.err
}

func (n *capturingNotifier) Count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

func (n *capturingNotifier) Last() auth.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.sent) == 0 {
		return auth.Notification{}
	}
	return n.sent[len(n.sent)-1]
}

type harness struct {
	cfg       *auth.EnvConfig
	clock     *fakeClock
	store     auth.CredentialStore
	tokens    *auth.TokenCodec
	notifier  *capturingNotifier
	sink      *capturingSink
	lifecycle *auth.LifecycleManager
	auther    *auth.Authenticator
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clock := newFakeClock()
	return newHarnessWithStore(t, clock, auth.NewMemoryStore(auth.WithMemoryStoreClock(clock.Now)))
}

func newHarnessWithStore(t *testing.T, clock *fakeClock, store auth.CredentialStore) *harness {
	t.Helper()

	h := &harness{
		cfg:      newTestConfig(),
		clock:    clock,
		store:    store,
		notifier: &capturingNotifier{},
		sink:     &capturingSink{},
	}

	h.tokens = auth.NewTokenCodecFromConfig(h.cfg, auth.WithTokenCodecClock(clock.Now))
	h.lifecycle = auth.NewLifecycleManager(h.cfg, h.store, h.tokens, h.notifier,
		auth.WithLifecycleClock(clock.Now),
		auth.WithLifecycleActivitySink(h.sink),
		auth.WithLifecycleLogger(nopLogger{}),
	)
	h.auther = auth.NewAuthenticator(h.cfg, h.store, h.tokens,
		auth.WithAuthenticatorClock(clock.Now),
		auth.WithAuthenticatorActivitySink(h.sink),
		auth.WithAuthenticatorLogger(nopLogger{}),
	)
	return h
}

func registerMessage(email string) auth.RegisterMessage {
	return auth.RegisterMessage{
		Email:           email,
		DisplayName:     "Ada Lovelace",
		Role:            auth.RoleStudent,
		RollNo:          "CS-2025-001",
		Password:        "initial-secret",
		ConfirmPassword: "initial-secret",
	}
}

// activate drives email through register, verify and set-password
func (h *harness) activate(t *testing.T, email, password string) *auth.Account {
	t.Helper()
	ctx := context.Background()

	reg, err := h.lifecycle.Register(ctx, registerMessage(email))
	require.NoError(t, err)

	verified, err := h.lifecycle.Verify(ctx, reg.Token)
	require.NoError(t, err)

	account, err := h.lifecycle.SetPassword(ctx, verified.SetPasswordToken, password, password)
	require.NoError(t, err)
	return account
}

func (h *harness) account(t *testing.T, email string) *auth.Account {
	t.Helper()
	account, err := h.store.FindByIdentity(context.Background(), email)
	require.NoError(t, err)
	require.True(t, account.CheckInvariants(), "account invariants violated: %+v", account)
	return account
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// MockStore is a testify mock of auth.CredentialStore
type MockStore struct {
	mock.Mock
}

var _ auth.CredentialStore = (*MockStore)(nil)

func (m *MockStore) FindByIdentity(ctx context.Context, identity string) (*auth.Account, error) {
	args := m.Called(ctx, identity)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*auth.Account), args.Error(1)
}

func (m *MockStore) FindByID(ctx context.Context, id uuid.UUID) (*auth.Account, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*auth.Account), args.Error(1)
}

func (m *MockStore) CreateIfAbsent(ctx context.Context, account *auth.Account) (*auth.Account, error) {
	args := m.Called(ctx, account)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*auth.Account), args.Error(1)
}

func (m *MockStore) CompareAndUpdate(ctx context.Context, identity string, expect auth.AccountFlags, update auth.AccountUpdate) (*auth.Account, error) {
	args := m.Called(ctx, identity, expect, update)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*auth.Account), args.Error(1)
}

func (m *MockStore) UpdatePasswordHash(ctx context.Context, identity string, expectedVersion int, hash string, at time.Time) (*auth.Account, error) {
	args := m.Called(ctx, identity, expectedVersion, hash, at)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*auth.Account), args.Error(1)
}

func (m *MockStore) ReserveLoginAttempt(ctx context.Context, id uuid.UUID, at time.Time, window time.Duration, limit int) (int, error) {
	args := m.Called(ctx, id, at, window, limit)
	return args.Int(0), args.Error(1)
}

func (m *MockStore) TrackSuccessfulLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	args := m.Called(ctx, id, at)
	return args.Error(0)
}

func (m *MockStore) DeleteByID(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}
