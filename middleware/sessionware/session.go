package sessionware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	goerrors "github.com/goliatone/go-errors"

	auth "github.com/campusease/go-auth"
)

var (
	defaultTokenLookup = "header:" + fiber.HeaderAuthorization

	ErrSessionMissingOrMalformed = goerrors.New("missing or malformed session token", goerrors.CategoryAuth).
		WithTextCode(auth.TextCodeSessionNotFound).
		WithCode(goerrors.CodeUnauthorized)
)

// SessionValidator turns a raw token into a session. auth.Authenticator
// implements it.
type SessionValidator interface {
	SessionFromToken(token string) (auth.Session, error)
}

// ValidationListener is invoked after a session has been validated
type ValidationListener func(c *fiber.Ctx, session auth.Session) error

type Config struct {
	Filter         func(*fiber.Ctx) bool
	SuccessHandler fiber.Handler
	ErrorHandler   fiber.ErrorHandler
	Validator      SessionValidator
	ContextKey     string
	TokenLookup    string
	AuthScheme     string
	// MinimumRole rejects sessions below this role with auth.ErrForbidden
	MinimumRole string
	// Optional lets requests without a token through with no session. A
	// token that is present must still be valid.
	Optional            bool
	ValidationListeners []ValidationListener
}

// New returns a middleware that requires a valid session token. The
// session is stored in Locals under ContextKey and in the user context.
func New(config ...Config) fiber.Handler {
	cfg := GetDefaultConfig(config...)
	extractors := GetExtractors(cfg.TokenLookup, cfg.AuthScheme)

	return func(c *fiber.Ctx) error {
		if cfg.Filter != nil && cfg.Filter(c) {
			return c.Next()
		}

		raw, err := ExtractRawToken(c, extractors)
		if err != nil {
			if cfg.Optional && !hasCredentials(c, cfg.TokenLookup) {
				return c.Next()
			}
			return cfg.ErrorHandler(c, err)
		}

		session, err := cfg.Validator.SessionFromToken(raw)
		if err != nil {
			return cfg.ErrorHandler(c, unauthorized(err))
		}

		for _, listener := range cfg.ValidationListeners {
			if listener == nil {
				continue
			}
			if err := listener(c, session); err != nil {
				return cfg.ErrorHandler(c, err)
			}
		}

		if cfg.MinimumRole != "" && !auth.IsAtLeast(session.GetRole(), cfg.MinimumRole) {
			return cfg.ErrorHandler(c, auth.ErrForbidden)
		}

		c.Locals(cfg.ContextKey, session)
		c.SetUserContext(auth.WithSessionContext(c.UserContext(), session))

		return cfg.SuccessHandler(c)
	}
}

func GetDefaultConfig(config ...Config) (cfg Config) {
	if len(config) > 0 {
		cfg = config[0]
	}

	if cfg.Validator == nil {
		panic("AUTH: session middleware configuration: Validator is required.")
	}

	if cfg.SuccessHandler == nil {
		cfg.SuccessHandler = func(c *fiber.Ctx) error {
			return c.Next()
		}
	}

	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = func(c *fiber.Ctx, err error) error {
			return err
		}
	}

	if cfg.ContextKey == "" {
		cfg.ContextKey = "session"
	}

	if cfg.TokenLookup == "" {
		cfg.TokenLookup = defaultTokenLookup
	}

	if cfg.AuthScheme == "" {
		cfg.AuthScheme = "Bearer"
	}

	return cfg
}

// token errors keep their own text code, everything else is a plain 401
func unauthorized(err error) error {
	if auth.IsTokenError(err) {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr.Clone().WithCode(goerrors.CodeUnauthorized)
		}
	}
	return goerrors.Wrap(err, goerrors.CategoryAuth, "invalid session token").
		WithTextCode(auth.TextCodeSessionNotFound).
		WithCode(goerrors.CodeUnauthorized)
}

type TokenExtractor func(c *fiber.Ctx) (string, error)

// ExtractRawToken returns the first token found by the extractors
func ExtractRawToken(c *fiber.Ctx, extractors []TokenExtractor) (string, error) {
	var raw string
	var err error = ErrSessionMissingOrMalformed

	for _, extractor := range extractors {
		raw, err = extractor(c)
		if raw != "" && err == nil {
			break
		}
	}

	return raw, err
}

// GetExtractors parses a lookup such as "header:Authorization,cookie:session"
func GetExtractors(tokenLookup string, authSchemes ...string) []TokenExtractor {
	extractors := make([]TokenExtractor, 0)

	authScheme := "Bearer"
	if len(authSchemes) > 0 {
		authScheme = strings.TrimSpace(authSchemes[0])
	}

	for _, rootPart := range strings.Split(tokenLookup, ",") {
		parts := strings.Split(strings.TrimSpace(rootPart), ":")
		if len(parts) != 2 {
			continue
		}

		for i, el := range parts {
			parts[i] = strings.TrimSpace(el)
		}

		switch parts[0] {
		case "header":
			extractors = append(extractors, tokenFromHeader(parts[1], authScheme))
		case "query":
			extractors = append(extractors, tokenFromQuery(parts[1]))
		case "param":
			extractors = append(extractors, tokenFromParam(parts[1]))
		case "cookie":
			extractors = append(extractors, tokenFromCookie(parts[1]))
		}
	}

	return extractors
}

func tokenFromHeader(header string, authScheme string) TokenExtractor {
	return func(c *fiber.Ctx) (string, error) {
		a := c.Get(header)
		l := len(authScheme)
		if l == 0 {
			if a == "" {
				return "", ErrSessionMissingOrMalformed
			}
			return strings.TrimSpace(a), nil
		}
		if len(a) > l+1 && a[l] == ' ' && strings.EqualFold(a[:l], authScheme) {
			return strings.TrimSpace(a[l:]), nil
		}
		return "", ErrSessionMissingOrMalformed
	}
}

func tokenFromQuery(param string) TokenExtractor {
	return func(c *fiber.Ctx) (string, error) {
		token := c.Query(param)
		if token == "" {
			return "", ErrSessionMissingOrMalformed
		}
		return token, nil
	}
}

func tokenFromParam(param string) TokenExtractor {
	return func(c *fiber.Ctx) (string, error) {
		token := c.Params(param)
		if token == "" {
			return "", ErrSessionMissingOrMalformed
		}
		return token, nil
	}
}

func tokenFromCookie(name string) TokenExtractor {
	return func(c *fiber.Ctx) (string, error) {
		token := c.Cookies(name)
		if token == "" {
			return "", ErrSessionMissingOrMalformed
		}
		return token, nil
	}
}

// hasCredentials reports whether any lookup source carries a value,
// well formed or not
func hasCredentials(c *fiber.Ctx, tokenLookup string) bool {
	for _, rootPart := range strings.Split(tokenLookup, ",") {
		parts := strings.Split(strings.TrimSpace(rootPart), ":")
		if len(parts) != 2 {
			continue
		}
		name := strings.TrimSpace(parts[1])

		var value string
		switch strings.TrimSpace(parts[0]) {
		case "header":
			value = c.Get(name)
		case "query":
			value = c.Query(name)
		case "param":
			value = c.Params(name)
		case "cookie":
			value = c.Cookies(name)
		}
		if strings.TrimSpace(value) != "" {
			return true
		}
	}
	return false
}
