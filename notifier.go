package auth

import (
	"context"
	"time"
)

// NotificationKind selects the message a notifier renders
type NotificationKind string

const (
	NotificationVerifyEmail   NotificationKind = "verify-email"
	NotificationResetPassword NotificationKind = "reset-password"
)

// Notification is a token bearing link addressed to an account
type Notification struct {
	Kind        NotificationKind `json:"kind"`
	Recipient   string           `json:"recipient"`
	DisplayName string           `json:"display_name,omitempty"`
	Link        string           `json:"link"`
	Token       string           `json:"-"`
	ExpiresAt   time.Time        `json:"expires_at"`
}

// Notifier delivers notifications. Delivery failures are returned, the
// caller decides how to surface them.
type Notifier interface {
	Send(ctx context.Context, n Notification) error
}

// NotifierFunc adapts a function to the Notifier interface
type NotifierFunc func(ctx context.Context, n Notification) error

// Send implements Notifier
func (f NotifierFunc) Send(ctx context.Context, n Notification) error {
	return f(ctx, n)
}

// LogNotifier writes notifications to a logger instead of delivering them
type LogNotifier struct {
	logger Logger
}

// NewLogNotifier returns a notifier for environments without a mail relay
func NewLogNotifier(logger Logger) *LogNotifier {
	return &LogNotifier{logger: normalizeLogger(logger)}
}

// Send implements Notifier
func (n *LogNotifier) Send(_ context.Context, msg Notification) error {
	n.logger.Info("notification",
		"kind", msg.Kind,
		"recipient", msg.Recipient,
		"link", msg.Link,
		"expires_at", msg.ExpiresAt.Format(time.RFC3339),
	)
	return nil
}
