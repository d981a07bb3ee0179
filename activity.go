package auth

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
)

// ActivityEventType enumerates supported activity categories.
type ActivityEventType string

const (
	ActivityEventRegistered             ActivityEventType = "account.registered"
	ActivityEventRegistrationOverwrite  ActivityEventType = "account.registration.overwritten"
	ActivityEventVerificationResent     ActivityEventType = "account.verification.resent"
	ActivityEventVerified               ActivityEventType = "account.verified"
	ActivityEventPasswordSet            ActivityEventType = "account.password.set"
	ActivityEventPasswordResetRequested ActivityEventType = "account.password.reset_requested"
	ActivityEventPasswordReset          ActivityEventType = "account.password.reset"
	ActivityEventPasswordChanged        ActivityEventType = "account.password.changed"
	ActivityEventProfileUpdated         ActivityEventType = "account.profile.updated"
	ActivityEventAccountDeleted         ActivityEventType = "account.deleted"
	ActivityEventNotificationFailed     ActivityEventType = "notification.failed"
	ActivityEventLoginSuccess           ActivityEventType = "auth.login.success"
	ActivityEventLoginFailure           ActivityEventType = "auth.login.failure"
)

// ActivitySeverity tells sinks how loud an event should be
type ActivitySeverity string

const (
	SeverityInfo    ActivitySeverity = "info"
	SeverityWarning ActivitySeverity = "warning"
)

// ActivityEvent captures audit-friendly information about an action.
type ActivityEvent struct {
	EventType  ActivityEventType `json:"event_type"`
	Severity   ActivitySeverity  `json:"severity"`
	AccountID  string            `json:"account_id,omitempty"`
	Identity   string            `json:"identity,omitempty"`
	Metadata   map[string]any    `json:"metadata,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// ActivitySink consumes activity events for auditing/telemetry purposes.
type ActivitySink interface {
	Record(ctx context.Context, event ActivityEvent) error
}

// ActivitySinkFunc adapts a function to the ActivitySink interface.
type ActivitySinkFunc func(ctx context.Context, event ActivityEvent) error

// Record implements ActivitySink.
func (f ActivitySinkFunc) Record(ctx context.Context, event ActivityEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

type noopActivitySink struct{}

func (noopActivitySink) Record(context.Context, ActivityEvent) error {
	return nil
}

func normalizeActivitySink(s ActivitySink) ActivitySink {
	if s == nil {
		return noopActivitySink{}
	}
	return s
}

// ActivitySinks fans every event out to each sink in order. All sinks
// are called, their errors are joined.
type ActivitySinks []ActivitySink

// Record implements ActivitySink.
func (s ActivitySinks) Record(ctx context.Context, event ActivityEvent) error {
	var errs []error
	for _, sink := range s {
		if sink == nil {
			continue
		}
		if err := sink.Record(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return goerrors.Join(errs...)
}

// LoggerActivitySink writes every event to a Logger. Warnings are logged
// at warn level, everything else at info.
type LoggerActivitySink struct {
	logger Logger
	dump   bool
}

// NewLoggerActivitySink returns a sink logging to logger. With dump set
// the masked event payload is printed at debug level.
func NewLoggerActivitySink(logger Logger, dump bool) *LoggerActivitySink {
	return &LoggerActivitySink{
		logger: normalizeLogger(logger),
		dump:   dump,
	}
}

// Record implements ActivitySink.
func (s *LoggerActivitySink) Record(_ context.Context, event ActivityEvent) error {
	args := []any{"event", event.EventType, "account_id", event.AccountID, "identity", event.Identity}
	if event.Severity == SeverityWarning {
		s.logger.Warn("activity", args...)
	} else {
		s.logger.Info("activity", args...)
	}

	if s.dump {
		s.logger.Debug("activity payload", "event", print.MaybeSecureJSON(event))
	}
	return nil
}
