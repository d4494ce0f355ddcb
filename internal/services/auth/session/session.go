// Package session issues and verifies stateless session tokens.
//
// A session token is an HS256 JWT carrying the user id, issue time, and
// expiry. Verification needs only the signing secret; there is no
// server-side revocation list.
package session

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/louisbranch/parley/internal/platform/errors"
	"github.com/louisbranch/parley/internal/platform/id"
)

// MinSecretLength is the smallest accepted signing secret, in bytes.
const MinSecretLength = 32

const signingMethod = "HS256"

// ErrInvalid is returned for every token that fails verification.
var ErrInvalid = apperrors.New(apperrors.CodeSessionInvalid, "session token is invalid")

// Config defines how session tokens are signed.
type Config struct {
	Secret []byte
	TTL    time.Duration
	Issuer string
}

// Validate reports whether cfg can sign tokens.
func (c Config) Validate() error {
	if len(c.Secret) < MinSecretLength {
		return fmt.Errorf("session secret must be at least %d bytes", MinSecretLength)
	}
	if c.TTL <= 0 {
		return fmt.Errorf("session ttl must be greater than zero")
	}
	if strings.TrimSpace(c.Issuer) == "" {
		return fmt.Errorf("session issuer is required")
	}
	return nil
}

// Claims captures validated session claims.
type Claims struct {
	SessionID string
	UserID    string
	Issuer    string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Option customizes an Issuer.
type Option func(*Issuer)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(i *Issuer) {
		if now != nil {
			i.now = now
		}
	}
}

// WithIDGenerator overrides the session id generator.
func WithIDGenerator(idGenerator func() (string, error)) Option {
	return func(i *Issuer) {
		if idGenerator != nil {
			i.idGenerator = idGenerator
		}
	}
}

// Issuer signs and verifies session tokens. It is safe for concurrent use.
type Issuer struct {
	secret      []byte
	ttl         time.Duration
	issuer      string
	now         func() time.Time
	idGenerator func() (string, error)
}

// NewIssuer builds an Issuer from an explicit configuration.
func NewIssuer(cfg Config, opts ...Option) (*Issuer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	secret := make([]byte, len(cfg.Secret))
	copy(secret, cfg.Secret)
	i := &Issuer{
		secret:      secret,
		ttl:         cfg.TTL,
		issuer:      strings.TrimSpace(cfg.Issuer),
		now:         time.Now,
		idGenerator: id.NewID,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// TTL returns the configured session lifetime.
func (i *Issuer) TTL() time.Duration {
	return i.ttl
}

// Issue signs a new session token for userID.
func (i *Issuer) Issue(userID string) (string, Claims, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", Claims{}, fmt.Errorf("user id is required")
	}
	sessionID, err := i.idGenerator()
	if err != nil {
		return "", Claims{}, fmt.Errorf("generate session id: %w", err)
	}

	issuedAt := i.now().UTC().Truncate(time.Second)
	expiresAt := issuedAt.Add(i.ttl)
	registered := jwt.RegisteredClaims{
		ID:        sessionID,
		Subject:   userID,
		Issuer:    i.issuer,
		IssuedAt:  jwt.NewNumericDate(issuedAt),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, registered).SignedString(i.secret)
	if err != nil {
		return "", Claims{}, fmt.Errorf("sign session token: %w", err)
	}
	return token, Claims{
		SessionID: sessionID,
		UserID:    userID,
		Issuer:    i.issuer,
		IssuedAt:  issuedAt,
		ExpiresAt: expiresAt,
	}, nil
}

// Verify checks signature, algorithm, issuer, and expiry. Every failure
// yields ErrInvalid wrapping the underlying cause.
func (i *Issuer) Verify(token string) (Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Claims{}, ErrInvalid
	}

	var parsed jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &parsed, func(*jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{signingMethod}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return Claims{}, invalid(mapJWTError(err))
	}

	if parsed.Subject == "" {
		return Claims{}, invalid(errors.New("subject is required"))
	}
	if parsed.Issuer != i.issuer {
		return Claims{}, invalid(errors.New("issuer mismatch"))
	}
	if parsed.ExpiresAt == nil {
		return Claims{}, invalid(errors.New("exp is required"))
	}
	now := i.now().UTC()
	expiresAt := parsed.ExpiresAt.Time.UTC()
	if !now.Before(expiresAt) {
		return Claims{}, invalid(errors.New("token is expired"))
	}

	claims := Claims{
		SessionID: parsed.ID,
		UserID:    parsed.Subject,
		Issuer:    parsed.Issuer,
		ExpiresAt: expiresAt,
	}
	if parsed.IssuedAt != nil {
		claims.IssuedAt = parsed.IssuedAt.Time.UTC()
	}
	return claims, nil
}

func invalid(cause error) error {
	return apperrors.Wrap(apperrors.CodeSessionInvalid, ErrInvalid.Message, cause)
}

// mapJWTError narrows jwt library errors to a stable cause for logs.
func mapJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return errors.New("signature is invalid")
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		return errors.New("signing method is not accepted")
	case errors.Is(err, jwt.ErrTokenMalformed):
		return errors.New("token is malformed")
	default:
		return err
	}
}
