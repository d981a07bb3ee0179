package auth

import (
	"context"
	"errors"
	"net/url"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
)

const defaultOperationTimeout = time.Second * 10

const (
	OperationRegister           = "register"
	OperationResendVerification = "resend_verification"
	OperationVerify             = "verify"
	OperationSetPassword        = "set_password"
	OperationRequestReset       = "request_reset"
	OperationResetPassword      = "reset_password"
	OperationChangePassword     = "change_password"
	OperationUpdateProfile      = "update_profile"
	OperationGetProfile         = "get_profile"
	OperationDeleteAccount      = "delete_account"
	OperationAuthenticate       = "authenticate"
)

// TokenService issues and verifies lifecycle tokens
type TokenService interface {
	Issue(identity string, purpose TokenPurpose, ttl time.Duration, opts ...IssueOption) (string, error)
	Verify(token string, expected TokenPurpose) (*LifecycleClaims, error)
}

var _ TokenService = (*TokenCodec)(nil)

// LifecycleManager drives an account through registration, verification,
// password set and password recovery. Every transition is a single
// conditional store write, notifications are sent after the write.
type LifecycleManager struct {
	cfg      Config
	store    CredentialStore
	tokens   TokenService
	notifier Notifier
	hasher   PasswordHasher
	activity ActivitySink
	metrics  *Metrics
	logger   Logger
	now      Clock
	timeout  time.Duration
}

// LifecycleOption configures a LifecycleManager
type LifecycleOption func(*LifecycleManager)

// WithLifecycleClock injects a custom clock (useful for tests).
func WithLifecycleClock(clock Clock) LifecycleOption {
	return func(m *LifecycleManager) {
		if clock != nil {
			m.now = clock
		}
	}
}

// WithLifecycleHasher overrides the password hasher
func WithLifecycleHasher(hasher PasswordHasher) LifecycleOption {
	return func(m *LifecycleManager) {
		if hasher != nil {
			m.hasher = hasher
		}
	}
}

// WithLifecycleActivitySink sets the sink used to emit lifecycle events.
func WithLifecycleActivitySink(sink ActivitySink) LifecycleOption {
	return func(m *LifecycleManager) {
		m.activity = normalizeActivitySink(sink)
	}
}

// WithLifecycleMetrics sets the metrics collector
func WithLifecycleMetrics(metrics *Metrics) LifecycleOption {
	return func(m *LifecycleManager) {
		m.metrics = metrics
	}
}

// WithLifecycleLogger overrides the logger
func WithLifecycleLogger(logger Logger) LifecycleOption {
	return func(m *LifecycleManager) {
		m.logger = normalizeLogger(logger)
	}
}

// WithLifecycleTimeout bounds every operation
func WithLifecycleTimeout(timeout time.Duration) LifecycleOption {
	return func(m *LifecycleManager) {
		if timeout > 0 {
			m.timeout = timeout
		}
	}
}

// NewLifecycleManager creates a manager with sane defaults.
func NewLifecycleManager(cfg Config, store CredentialStore, tokens TokenService, notifier Notifier, opts ...LifecycleOption) *LifecycleManager {
	m := &LifecycleManager{
		cfg:      cfg,
		store:    store,
		tokens:   tokens,
		notifier: notifier,
		hasher:   NewBcryptHasher(cfg.GetBcryptCost()),
		activity: noopActivitySink{},
		logger:   defLogger{},
		now:      time.Now,
		timeout:  defaultOperationTimeout,
	}
	if m.notifier == nil {
		m.notifier = NewLogNotifier(m.logger)
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

func (m *LifecycleManager) run(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	select {
	case <-ctx.Done():
		err := goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, "context cancelled during "+operation)
		m.metrics.ObserveOperation(operation, err)
		return err
	default:
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	err := fn(ctx)
	if err != nil {
		err = internalError(err, operation+" failed")
	}
	m.metrics.ObserveOperation(operation, err)
	return err
}

// notify sends n and converts a delivery failure into a warning. The
// store transition has already been committed at this point.
func (m *LifecycleManager) notify(ctx context.Context, account *Account, n Notification) error {
	err := m.notifier.Send(ctx, n)
	m.metrics.ObserveNotification(n.Kind, err)
	if err == nil {
		return nil
	}

	m.logger.Warn("notification delivery failed", "kind", n.Kind, "recipient", n.Recipient, "error", err)
	m.record(ctx, ActivityEventNotificationFailed, SeverityWarning, account, map[string]any{
		"kind":  string(n.Kind),
		"error": err.Error(),
	})
	return ErrNotificationUnreachable
}

func (m *LifecycleManager) record(ctx context.Context, eventType ActivityEventType, severity ActivitySeverity, account *Account, metadata map[string]any) {
	event := ActivityEvent{
		EventType:  eventType,
		Severity:   severity,
		Metadata:   metadata,
		OccurredAt: m.now(),
	}
	if account != nil {
		event.AccountID = account.ID.String()
		event.Identity = account.Email
	}

	if err := normalizeActivitySink(m.activity).Record(ctx, event); err != nil {
		m.logger.Warn("activity sink error", "event", eventType, "error", err)
	}
}

// recordTransition records eventType with the states the account moved
// between. An edge outside the lifecycle graph is logged and the event is
// escalated to a warning, the write has already been committed.
func (m *LifecycleManager) recordTransition(ctx context.Context, eventType ActivityEventType, severity ActivitySeverity, from AccountState, account *Account, metadata map[string]any) {
	to := StateOf(account)
	if err := ValidateTransition(from, to); err != nil {
		m.logger.Error("account left the lifecycle graph", "identity", account.Email, "from", from, "to", to)
		severity = SeverityWarning
	}

	if metadata == nil {
		metadata = map[string]any{}
	}
	metadata["from_state"] = from.String()
	metadata["to_state"] = to.String()

	m.record(ctx, eventType, severity, account, metadata)
}

func (m *LifecycleManager) newAccountID(identity string) uuid.UUID {
	if m.cfg.GetUseHashid() {
		id, err := hashid.NewUUID(identity)
		if err == nil {
			return id
		}
		m.logger.Warn("hashid failed, falling back to random id", "error", err)
	}
	return uuid.New()
}

func (m *LifecycleManager) verifyLink(token string) string {
	return m.cfg.GetBackendURL() + "/verify-signup?token=" + url.QueryEscape(token)
}

func (m *LifecycleManager) setPasswordLink(token string) string {
	return m.cfg.GetFrontendURL() + "/set-password?token=" + url.QueryEscape(token)
}

func (m *LifecycleManager) resetPasswordLink(token string) string {
	return m.cfg.GetFrontendURL() + "/reset-password?token=" + url.QueryEscape(token)
}

func validateIdentity(identity string) error {
	if err := validation.Validate(identity, validation.Required, is.EmailFormat); err != nil {
		return ErrInvalidPayload
	}
	return nil
}

func validateNewPassword(password, confirm string) error {
	if password == "" {
		return ErrNoEmptyString
	}
	if password != confirm {
		return ErrPasswordConfirmation
	}
	return nil
}

func isStoreConflict(err error) bool {
	return errors.Is(err, ErrStoreConflict)
}
