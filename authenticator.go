package auth

import (
	"context"
	"errors"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// DefaultMaxLoginAttempts is the number of failed logins allowed within
// the cool down period
const DefaultMaxLoginAttempts = 5

// DefaultCoolDownPeriod is the window failed logins are counted in
const DefaultCoolDownPeriod = 24 * time.Hour

// SessionGrant is the result of a successful login
type SessionGrant struct {
	Token     string         `json:"token"`
	ExpiresAt *time.Time     `json:"expires_at,omitempty"`
	Account   *Account       `json:"account"`
	Session   *SessionObject `json:"-"`
}

// Authenticator checks passwords and issues session tokens. It only
// admits accounts that are verified and have a password set, and each
// rejection reason is reported with its own error.
type Authenticator struct {
	cfg         Config
	store       CredentialStore
	tokens      TokenService
	hasher      PasswordHasher
	activity    ActivitySink
	metrics     *Metrics
	logger      Logger
	now         Clock
	maxAttempts int
	coolDown    time.Duration
}

var _ SessionIssuer = (*Authenticator)(nil)

// AuthenticatorOption configures an Authenticator
type AuthenticatorOption func(*Authenticator)

// WithAuthenticatorClock injects a custom clock (useful for tests).
func WithAuthenticatorClock(clock Clock) AuthenticatorOption {
	return func(a *Authenticator) {
		if clock != nil {
			a.now = clock
		}
	}
}

// WithAuthenticatorHasher overrides the password hasher
func WithAuthenticatorHasher(hasher PasswordHasher) AuthenticatorOption {
	return func(a *Authenticator) {
		if hasher != nil {
			a.hasher = hasher
		}
	}
}

// WithAuthenticatorActivitySink sets the sink for login events
func WithAuthenticatorActivitySink(sink ActivitySink) AuthenticatorOption {
	return func(a *Authenticator) {
		a.activity = normalizeActivitySink(sink)
	}
}

// WithAuthenticatorMetrics sets the metrics collector
func WithAuthenticatorMetrics(metrics *Metrics) AuthenticatorOption {
	return func(a *Authenticator) {
		a.metrics = metrics
	}
}

// WithAuthenticatorLogger overrides the logger
func WithAuthenticatorLogger(logger Logger) AuthenticatorOption {
	return func(a *Authenticator) {
		a.logger = normalizeLogger(logger)
	}
}

// NewAuthenticator creates an authenticator with the login throttling
// settings from cfg
func NewAuthenticator(cfg Config, store CredentialStore, tokens TokenService, opts ...AuthenticatorOption) *Authenticator {
	a := &Authenticator{
		cfg:         cfg,
		store:       store,
		tokens:      tokens,
		hasher:      NewBcryptHasher(cfg.GetBcryptCost()),
		activity:    noopActivitySink{},
		logger:      defLogger{},
		now:         time.Now,
		maxAttempts: cfg.GetMaxLoginAttempts(),
		coolDown:    cfg.GetLoginCoolDown(),
	}
	if a.coolDown <= 0 {
		a.coolDown = DefaultCoolDownPeriod
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// Authenticate verifies identity and password and issues a session token
func (a *Authenticator) Authenticate(ctx context.Context, identity, password string) (*SessionGrant, error) {
	select {
	case <-ctx.Done():
		return nil, goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, "context cancelled during login")
	default:
	}

	ctx, cancel := context.WithTimeout(ctx, defaultOperationTimeout)
	defer cancel()

	grant, err := a.authenticate(ctx, NormalizeIdentity(identity), password)
	if err != nil {
		err = internalError(err, "login failed")
	}
	a.metrics.ObserveOperation(OperationAuthenticate, err)
	return grant, err
}

func (a *Authenticator) authenticate(ctx context.Context, identity, password string) (*SessionGrant, error) {
	if err := validateIdentity(identity); err != nil {
		return nil, err
	}
	if password == "" {
		return nil, ErrNoEmptyString
	}

	account, err := a.store.FindByIdentity(ctx, identity)
	if err != nil {
		return nil, err
	}

	if !account.Verified {
		a.recordFailure(ctx, account, TextCodeNotVerified)
		return nil, ErrNotVerified
	}
	if !account.PasswordSet {
		a.recordFailure(ctx, account, TextCodePasswordNotSet)
		return nil, ErrPasswordNotSet
	}

	// every guess holds its own slot before the hash is compared
	now := a.now()
	if _, err := a.store.ReserveLoginAttempt(ctx, account.ID, now, a.coolDown, a.maxAttempts); err != nil {
		if errors.Is(err, ErrTooManyLoginAttempts) {
			a.recordFailure(ctx, account, TextCodeTooManyAttempts)
			return nil, ErrTooManyLoginAttempts
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to track login attempt")
	}

	if err := a.hasher.ComparePasswordAndHash(password, account.PasswordHash); err != nil {
		a.recordFailure(ctx, account, TextCodeInvalidCreds)
		return nil, ErrMismatchedHashAndPassword
	}

	if err := a.store.TrackSuccessfulLogin(ctx, account.ID, now); err != nil {
		a.logger.Error("failed to track successful login", "error", err)
	}

	ttl := a.cfg.GetSessionTTL()
	token, err := a.tokens.Issue(identity, PurposeSession, ttl,
		WithAccountID(account.ID.String()),
		WithRole(account.Role),
	)
	if err != nil {
		return nil, err
	}

	grant := &SessionGrant{
		Token:   token,
		Account: account,
		Session: newSessionObject(account, a.cfg.GetIssuer(), now, ttl),
	}
	if ttl > 0 {
		grant.ExpiresAt = timePtr(now.Add(ttl))
	}

	a.record(ctx, ActivityEventLoginSuccess, SeverityInfo, account, nil)
	return grant, nil
}

// SessionFromToken validates a session token and returns its session
func (a *Authenticator) SessionFromToken(token string) (Session, error) {
	claims, err := a.tokens.Verify(token, PurposeSession)
	if err != nil {
		return nil, err
	}
	return sessionFromClaims(claims), nil
}

func (a *Authenticator) recordFailure(ctx context.Context, account *Account, reason string) {
	a.logger.Debug("login rejected", "identity", account.Email, "reason", reason)
	a.record(ctx, ActivityEventLoginFailure, SeverityWarning, account, map[string]any{"reason": reason})
}

func (a *Authenticator) record(ctx context.Context, eventType ActivityEventType, severity ActivitySeverity, account *Account, metadata map[string]any) {
	event := ActivityEvent{
		EventType:  eventType,
		Severity:   severity,
		AccountID:  account.ID.String(),
		Identity:   account.Email,
		Metadata:   metadata,
		OccurredAt: a.now(),
	}
	if err := normalizeActivitySink(a.activity).Record(ctx, event); err != nil {
		a.logger.Warn("activity sink error", "event", eventType, "error", err)
	}
}
