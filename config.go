package auth

import (
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/joho/godotenv"
)

// Config holds the settings the lifecycle, token codec and
// authenticator read at construction time.
type Config interface {
	GetSigningKey() string
	GetIssuer() string
	GetAudience() []string
	GetContextKey() string
	GetTokenLookup() string
	GetAuthScheme() string
	GetVerifyEmailTTL() time.Duration
	GetSetPasswordTTL() time.Duration
	GetResetPasswordTTL() time.Duration
	GetSessionTTL() time.Duration
	GetFrontendURL() string
	GetBackendURL() string
	GetBcryptCost() int
	GetMaxLoginAttempts() int
	GetLoginCoolDown() time.Duration
	GetUseHashid() bool
}

// DatabaseConfig selects the credential store backend
type DatabaseConfig struct {
	Driver string `env:"DRIVER" envDefault:"sqlite"`
	DSN    string `env:"DSN" envDefault:"file:campus-auth.db?cache=shared"`
	Debug  bool   `env:"DEBUG" envDefault:"false"`
}

func (c DatabaseConfig) GetDriver() string { return c.Driver }
func (c DatabaseConfig) GetDSN() string    { return c.DSN }
func (c DatabaseConfig) GetDebug() bool    { return c.Debug }

// SMTPConfig configures the mail notifier. An empty host selects the
// log notifier.
type SMTPConfig struct {
	Host     string `env:"HOST"`
	Port     int    `env:"PORT" envDefault:"587"`
	Username string `env:"USERNAME"`
	Password string `env:"PASSWORD"`
	From     string `env:"FROM" envDefault:"no-reply@campus.local"`
}

func (c SMTPConfig) GetHost() string     { return c.Host }
func (c SMTPConfig) GetPort() int        { return c.Port }
func (c SMTPConfig) GetUsername() string { return c.Username }
func (c SMTPConfig) GetPassword() string { return c.Password }
func (c SMTPConfig) GetFrom() string     { return c.From }

// EnvConfig is a Config loaded from environment variables
type EnvConfig struct {
	SigningKey       string        `env:"AUTH_SIGNING_KEY"`
	Issuer           string        `env:"AUTH_ISSUER" envDefault:"campus-auth"`
	Audience         []string      `env:"AUTH_AUDIENCE" envSeparator:"," envDefault:"campus"`
	ContextKey       string        `env:"AUTH_CONTEXT_KEY" envDefault:"session"`
	TokenLookup      string        `env:"AUTH_TOKEN_LOOKUP" envDefault:"header:Authorization"`
	AuthScheme       string        `env:"AUTH_SCHEME" envDefault:"Bearer"`
	VerifyEmailTTL   time.Duration `env:"AUTH_VERIFY_EMAIL_TTL" envDefault:"1h"`
	SetPasswordTTL   time.Duration `env:"AUTH_SET_PASSWORD_TTL" envDefault:"15m"`
	ResetPasswordTTL time.Duration `env:"AUTH_RESET_PASSWORD_TTL" envDefault:"1h"`
	SessionTTL       time.Duration `env:"AUTH_SESSION_TTL" envDefault:"24h"`
	FrontendURL      string        `env:"FRONTEND_URL" envDefault:"http://localhost:4200"`
	BackendURL       string        `env:"BACKEND_URL" envDefault:"http://localhost:3200"`
	BcryptCost       int           `env:"AUTH_BCRYPT_COST" envDefault:"14"`
	MaxLoginAttempts int           `env:"AUTH_MAX_LOGIN_ATTEMPTS" envDefault:"5"`
	LoginCoolDown    time.Duration `env:"AUTH_LOGIN_COOL_DOWN" envDefault:"24h"`
	UseHashid        bool          `env:"AUTH_USE_HASHID" envDefault:"false"`

	HTTPAddr   string         `env:"HTTP_ADDR" envDefault:":3200"`
	LogLevel   string         `env:"LOG_LEVEL" envDefault:"info"`
	Database   DatabaseConfig `envPrefix:"DB_"`
	SMTP       SMTPConfig     `envPrefix:"SMTP_"`
	DebugDumps bool           `env:"DEBUG_DUMPS" envDefault:"false"`
}

var _ Config = (*EnvConfig)(nil)

// LoadEnvConfig reads an optional .env file and parses the environment.
// The result is validated before it is returned.
func LoadEnvConfig(envFiles ...string) (*EnvConfig, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		// missing files are fine, the environment is the source of truth
		_ = godotenv.Load(f)
	}

	return ParseEnvConfig(nil)
}

// ParseEnvConfig parses the configuration from environ, or from the
// process environment when environ is nil.
func ParseEnvConfig(environ map[string]string) (*EnvConfig, error) {
	cfg := &EnvConfig{}
	opts := env.Options{}
	if environ != nil {
		opts.Environment = environ
	}

	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "failed to parse configuration")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the configuration values
func (c *EnvConfig) Validate() error {
	err := validation.ValidateStruct(c,
		validation.Field(&c.Issuer, validation.Required),
		validation.Field(&c.FrontendURL, validation.Required, is.URL),
		validation.Field(&c.BackendURL, validation.Required, is.URL),
		validation.Field(&c.VerifyEmailTTL, validation.Required, validation.Min(time.Second)),
		validation.Field(&c.SetPasswordTTL, validation.Required, validation.Min(time.Second)),
		validation.Field(&c.ResetPasswordTTL, validation.Required, validation.Min(time.Second)),
		validation.Field(&c.SessionTTL, validation.Min(time.Duration(0))),
		validation.Field(&c.BcryptCost, validation.Min(4), validation.Max(31)),
		validation.Field(&c.MaxLoginAttempts, validation.Min(0)),
		validation.Field(&c.Database, validation.By(validateDatabaseConfig)),
	)
	if err != nil {
		return goerrors.FromOzzoValidation(err, "invalid configuration")
	}
	return nil
}

func validateDatabaseConfig(value any) error {
	cfg, _ := value.(DatabaseConfig)
	return validation.ValidateStruct(&cfg,
		validation.Field(&cfg.Driver, validation.Required, validation.In("sqlite", "postgres")),
		validation.Field(&cfg.DSN, validation.Required),
	)
}

func (c *EnvConfig) GetSigningKey() string              { return c.SigningKey }
func (c *EnvConfig) GetIssuer() string                  { return c.Issuer }
func (c *EnvConfig) GetAudience() []string              { return c.Audience }
func (c *EnvConfig) GetContextKey() string              { return c.ContextKey }
func (c *EnvConfig) GetTokenLookup() string             { return c.TokenLookup }
func (c *EnvConfig) GetAuthScheme() string              { return c.AuthScheme }
func (c *EnvConfig) GetVerifyEmailTTL() time.Duration   { return c.VerifyEmailTTL }
func (c *EnvConfig) GetSetPasswordTTL() time.Duration   { return c.SetPasswordTTL }
func (c *EnvConfig) GetResetPasswordTTL() time.Duration { return c.ResetPasswordTTL }
func (c *EnvConfig) GetSessionTTL() time.Duration       { return c.SessionTTL }
func (c *EnvConfig) GetFrontendURL() string             { return strings.TrimRight(c.FrontendURL, "/") }
func (c *EnvConfig) GetBackendURL() string              { return strings.TrimRight(c.BackendURL, "/") }
func (c *EnvConfig) GetBcryptCost() int                 { return c.BcryptCost }
func (c *EnvConfig) GetMaxLoginAttempts() int           { return c.MaxLoginAttempts }
func (c *EnvConfig) GetLoginCoolDown() time.Duration    { return c.LoginCoolDown }
func (c *EnvConfig) GetUseHashid() bool                 { return c.UseHashid }
