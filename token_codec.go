package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// TokenCodec issues and verifies signed, purpose scoped tokens
type TokenCodec struct {
	signingKey []byte
	issuer     string
	audience   jwt.ClaimStrings
	clock      Clock
	logger     Logger
}

// TokenCodecOption configures a TokenCodec
type TokenCodecOption func(*TokenCodec)

// WithTokenCodecClock sets the time source for issuing and verifying
func WithTokenCodecClock(clock Clock) TokenCodecOption {
	return func(c *TokenCodec) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithTokenCodecLogger sets the logger
func WithTokenCodecLogger(logger Logger) TokenCodecOption {
	return func(c *TokenCodec) {
		c.logger = normalizeLogger(logger)
	}
}

// WithTokenCodecAudience sets the audience claim
func WithTokenCodecAudience(audience ...string) TokenCodecOption {
	return func(c *TokenCodec) {
		c.audience = append(jwt.ClaimStrings{}, audience...)
	}
}

// NewTokenCodec returns a codec signing with key. An empty key is
// accepted, every Issue and Verify call then fails with
// ErrSigningUnavailable.
func NewTokenCodec(signingKey, issuer string, opts ...TokenCodecOption) *TokenCodec {
	c := &TokenCodec{
		signingKey: []byte(signingKey),
		issuer:     issuer,
		clock:      time.Now,
		logger:     defLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// NewTokenCodecFromConfig builds a codec from the signing settings in cfg
func NewTokenCodecFromConfig(cfg Config, opts ...TokenCodecOption) *TokenCodec {
	opts = append([]TokenCodecOption{WithTokenCodecAudience(cfg.GetAudience()...)}, opts...)
	return NewTokenCodec(cfg.GetSigningKey(), cfg.GetIssuer(), opts...)
}

// IssueOption adds optional claims to an issued token
type IssueOption func(*LifecycleClaims)

// WithAccountID embeds the account id
func WithAccountID(id string) IssueOption {
	return func(c *LifecycleClaims) {
		c.UID = id
	}
}

// WithRole embeds the account role
func WithRole(role UserRole) IssueOption {
	return func(c *LifecycleClaims) {
		c.UserRole = role
	}
}

// WithCredentialVersion embeds the credential version, consuming the
// token requires the stored version to still match.
func WithCredentialVersion(version int) IssueOption {
	return func(c *LifecycleClaims) {
		v := version
		c.Version = &v
	}
}

// Issue signs a token for identity scoped to purpose. A session token
// issued with a zero ttl never expires, every other purpose requires a
// positive ttl.
func (c *TokenCodec) Issue(identity string, purpose TokenPurpose, ttl time.Duration, opts ...IssueOption) (string, error) {
	if len(c.signingKey) == 0 {
		return "", ErrSigningUnavailable
	}

	identity = strings.TrimSpace(identity)
	if identity == "" {
		return "", goerrors.New("token identity is required", goerrors.CategoryBadInput).
			WithCode(goerrors.CodeBadRequest)
	}

	if !purpose.IsValid() {
		return "", goerrors.New(fmt.Sprintf("unknown token purpose %q", purpose), goerrors.CategoryBadInput).
			WithCode(goerrors.CodeBadRequest)
	}

	if ttl < 0 || (ttl == 0 && purpose != PurposeSession) {
		return "", goerrors.New("token ttl must be positive", goerrors.CategoryBadInput).
			WithCode(goerrors.CodeBadRequest)
	}

	now := c.clock()
	claims := &LifecycleClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   c.issuer,
			Subject:  identity,
			Audience: c.audience,
			IssuedAt: jwt.NewNumericDate(now),
			ID:       uuid.NewString(),
		},
		Purpose: purpose,
	}

	if ttl > 0 {
		expiresAtMs := now.Add(ttl).UnixMilli()
		claims.ExpiresAtMs = expiresAtMs
		// exp is whole seconds and always past exp_ms, the parser rejects
		// at exp while exp_ms itself is still valid
		claims.ExpiresAt = jwt.NewNumericDate(time.Unix(expiresAtMs/1000+1, 0))
	}

	for _, opt := range opts {
		if opt != nil {
			opt(claims)
		}
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(c.signingKey)
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to sign token").
			WithCode(goerrors.CodeInternal)
	}

	return signed, nil
}

// Verify checks the signature, expiry and purpose of token
func (c *TokenCodec) Verify(token string, expected TokenPurpose) (*LifecycleClaims, error) {
	if len(c.signingKey) == 0 {
		return nil, ErrSigningUnavailable
	}

	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrTokenMalformed
	}

	parserOptions := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(c.clock),
	}
	if c.issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(c.issuer))
	}
	if len(c.audience) > 0 {
		parserOptions = append(parserOptions, jwt.WithAudience(c.audience[0]))
	}

	parsed, err := jwt.ParseWithClaims(token, &LifecycleClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			c.logger.Error("TokenCodec verify encountered unexpected signing method", "alg", t.Header["alg"])
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return c.signingKey, nil
	}, parserOptions...)

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		c.logger.Debug("TokenCodec verify rejected token", "error", err)
		return nil, ErrTokenMalformed
	}

	claims, ok := parsed.Claims.(*LifecycleClaims)
	if !ok || !parsed.Valid {
		return nil, ErrTokenMalformed
	}

	if !claims.Purpose.IsValid() || claims.Identity() == "" {
		return nil, ErrTokenMalformed
	}

	if claims.ExpiresAtMs > 0 {
		if c.clock().UnixMilli() > claims.ExpiresAtMs {
			return nil, ErrTokenExpired
		}
	} else if claims.Purpose != PurposeSession {
		return nil, ErrTokenMalformed
	}

	if claims.Purpose != expected {
		return nil, ErrPurposeMismatch
	}

	return claims, nil
}
