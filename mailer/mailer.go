// Package mailer delivers lifecycle notifications over SMTP. Subjects and
// bodies are pongo2 (django syntax) templates.
package mailer

import (
	"context"
	"fmt"
	"net"
	"net/mail"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/flosch/pongo2/v6"
	goerrors "github.com/goliatone/go-errors"

	auth "github.com/campusease/go-auth"
)

// Config holds the SMTP relay settings
type Config interface {
	GetHost() string
	GetPort() int
	GetUsername() string
	GetPassword() string
	GetFrom() string
}

// SendFunc has the signature of smtp.SendMail
type SendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Template is a pair of subject and body templates for a notification kind
type Template struct {
	Subject string
	Body    string
}

type compiledTemplate struct {
	subject *pongo2.Template
	body    *pongo2.Template
}

// Mailer is an auth.Notifier backed by an SMTP relay
type Mailer struct {
	cfg       Config
	from      *mail.Address
	send      SendFunc
	appName   string
	logger    auth.Logger
	templates map[auth.NotificationKind]compiledTemplate
	pending   []pendingTemplate
	now       func() time.Time
}

var _ auth.Notifier = (*Mailer)(nil)

// Option configures a Mailer
type Option func(*Mailer)

// WithSendFunc replaces smtp.SendMail, tests use it to capture messages
func WithSendFunc(send SendFunc) Option {
	return func(m *Mailer) {
		if send != nil {
			m.send = send
		}
	}
}

// WithAppName sets the product name shown in messages
func WithAppName(name string) Option {
	return func(m *Mailer) {
		m.appName = name
	}
}

// WithLogger sets the logger
func WithLogger(logger auth.Logger) Option {
	return func(m *Mailer) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithTemplate overrides the template for kind
func WithTemplate(kind auth.NotificationKind, tpl Template) Option {
	return func(m *Mailer) {
		m.pending = append(m.pending, pendingTemplate{kind: kind, tpl: tpl})
	}
}

// WithClock sets the clock used for the Date header
func WithClock(now func() time.Time) Option {
	return func(m *Mailer) {
		if now != nil {
			m.now = now
		}
	}
}

// New returns a mailer for cfg with the default templates
func New(cfg Config, opts ...Option) (*Mailer, error) {
	from, err := mail.ParseAddress(cfg.GetFrom())
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "invalid sender address").
			WithMetadata(map[string]any{"from": cfg.GetFrom()})
	}

	m := &Mailer{
		cfg:       cfg,
		from:      from,
		send:      smtp.SendMail,
		appName:   "Campus",
		templates: map[auth.NotificationKind]compiledTemplate{},
		now:       time.Now,
	}

	for kind, tpl := range DefaultTemplates() {
		m.pending = append(m.pending, pendingTemplate{kind: kind, tpl: tpl})
	}

	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}

	for _, p := range m.pending {
		compiled, err := compile(p.tpl)
		if err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "invalid mail template").
				WithMetadata(map[string]any{"kind": string(p.kind)})
		}
		m.templates[p.kind] = compiled
	}
	m.pending = nil

	return m, nil
}

// Send renders n and hands it to the SMTP relay
func (m *Mailer) Send(ctx context.Context, n auth.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg, err := m.Render(n)
	if err != nil {
		return err
	}

	to, err := mail.ParseAddress(n.Recipient)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryBadInput, "invalid recipient address")
	}

	addr := net.JoinHostPort(m.cfg.GetHost(), strconv.Itoa(m.cfg.GetPort()))

	var smtpAuth smtp.Auth
	if m.cfg.GetUsername() != "" {
		smtpAuth = smtp.PlainAuth("", m.cfg.GetUsername(), m.cfg.GetPassword(), m.cfg.GetHost())
	}

	if err := m.send(addr, smtpAuth, m.from.Address, []string{to.Address}, msg); err != nil {
		if m.logger != nil {
			m.logger.Error("smtp send failed", "kind", n.Kind, "recipient", to.Address, "error", err)
		}
		return goerrors.Wrap(err, goerrors.CategoryExternal, "smtp send failed").
			WithTextCode(auth.TextCodeNotificationUnreachable)
	}

	if m.logger != nil {
		m.logger.Debug("notification sent", "kind", n.Kind, "recipient", to.Address)
	}
	return nil
}

// Render builds the full RFC 5322 message for n
func (m *Mailer) Render(n auth.Notification) ([]byte, error) {
	tpl, ok := m.templates[n.Kind]
	if !ok {
		return nil, goerrors.New(fmt.Sprintf("no mail template for %q", n.Kind), goerrors.CategoryBadInput)
	}

	data := pongo2.Context{
		"app_name":     m.appName,
		"name":         n.DisplayName,
		"recipient":    n.Recipient,
		"link":         n.Link,
		"expires_at":   n.ExpiresAt,
		"expires_in":   humanDuration(n.ExpiresAt.Sub(m.now())),
		"notification": n,
	}

	subject, err := tpl.subject.Execute(data)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to render mail subject")
	}

	body, err := tpl.body.Execute(data)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to render mail body")
	}

	to := mail.Address{Name: n.DisplayName, Address: n.Recipient}

	var b strings.Builder
	b.WriteString("From: " + m.from.String() + "\r\n")
	b.WriteString("To: " + to.String() + "\r\n")
	b.WriteString("Subject: " + strings.TrimSpace(subject) + "\r\n")
	b.WriteString("Date: " + m.now().Format(time.RFC1123Z) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))

	return []byte(b.String()), nil
}

type pendingTemplate struct {
	kind auth.NotificationKind
	tpl  Template
}

func compile(tpl Template) (compiledTemplate, error) {
	subject, err := pongo2.FromString(tpl.Subject)
	if err != nil {
		return compiledTemplate{}, err
	}
	body, err := pongo2.FromString(tpl.Body)
	if err != nil {
		return compiledTemplate{}, err
	}
	return compiledTemplate{subject: subject, body: body}, nil
}

func humanDuration(d time.Duration) string {
	switch {
	case d <= 0:
		return "now"
	case d < time.Minute:
		return "less than a minute"
	case d < time.Hour:
		return plural(int(d.Round(time.Minute).Minutes()), "minute")
	default:
		return plural(int(d.Round(time.Hour).Hours()), "hour")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
