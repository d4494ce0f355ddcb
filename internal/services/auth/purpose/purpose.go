// Package purpose issues and consumes single-use tokens scoped to one
// account action.
//
// Purpose tokens are distinct from session tokens: they are stored
// server-side as a hash, expire within minutes, and can be consumed once.
// A leaked password-reset link therefore never grants a session.
package purpose

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	apperrors "github.com/louisbranch/parley/internal/platform/errors"
	"github.com/louisbranch/parley/internal/platform/id"
	"github.com/louisbranch/parley/internal/platform/otel"
	"github.com/louisbranch/parley/internal/platform/telemetry/metrics"
	"github.com/louisbranch/parley/internal/services/auth/storage"
	"github.com/louisbranch/parley/internal/services/auth/user"
)

// Purpose scopes a token to one action.
type Purpose string

const (
	EmailVerification Purpose = "email_verification"
	PasswordReset     Purpose = "password_reset"
)

// DeliveryEventType tags outbox events that carry a purpose token to the mailer.
const DeliveryEventType = "auth.purpose_token_delivery"

const secretBytes = 32

// ErrInvalid is returned for unknown, expired, consumed, revoked, or
// mismatched tokens. Callers cannot tell these cases apart.
var ErrInvalid = apperrors.New(apperrors.CodeTokenInvalid, "token is invalid or expired")

// Valid reports whether p is a known purpose.
func (p Purpose) Valid() bool {
	return p == EmailVerification || p == PasswordReset
}

// Delivery is the outbox payload handed to the mail collaborator.
type Delivery struct {
	Address   string    `json:"address"`
	Token     string    `json:"token"`
	Purpose   Purpose   `json:"purpose"`
	ExpiresAt time.Time `json:"expires_at"`
}

// UserLookup resolves the delivery address for a token owner.
type UserLookup interface {
	GetUser(ctx context.Context, userID string) (user.User, error)
}

// Option customizes a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.clock = now
		}
	}
}

// WithIDGenerator overrides record id generation.
func WithIDGenerator(idGenerator func() (string, error)) Option {
	return func(s *Service) {
		if idGenerator != nil {
			s.idGenerator = idGenerator
		}
	}
}

// WithSecretGenerator overrides token secret generation.
func WithSecretGenerator(secretGenerator func() (string, error)) Option {
	return func(s *Service) {
		if secretGenerator != nil {
			s.secretGenerator = secretGenerator
		}
	}
}

// WithMetrics records issue and consume results.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// Service issues and consumes purpose tokens.
type Service struct {
	store           storage.PurposeTokenStore
	users           UserLookup
	config          Config
	clock           func() time.Time
	idGenerator     func() (string, error)
	secretGenerator func() (string, error)
	metrics         *metrics.Metrics
}

// NewService builds a purpose token service.
func NewService(store storage.PurposeTokenStore, users UserLookup, cfg Config, opts ...Option) *Service {
	s := &Service{
		store:           store,
		users:           users,
		config:          cfg.Normalized(),
		clock:           time.Now,
		idGenerator:     id.NewID,
		secretGenerator: NewSecret,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Issue creates a token for userID and queues its delivery. Any earlier
// active token for the same user and purpose stops working.
func (s *Service) Issue(ctx context.Context, userID string, p Purpose) (string, time.Time, error) {
	ctx, span := otel.Tracer().Start(ctx, "purpose.Issue")
	defer span.End()
	span.SetAttributes(attribute.String("purpose", string(p)))

	if s == nil || s.store == nil || s.users == nil {
		return "", time.Time{}, fmt.Errorf("purpose token service is not configured")
	}
	if !p.Valid() {
		return "", time.Time{}, fmt.Errorf("unknown purpose %q", p)
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", time.Time{}, fmt.Errorf("user id is required")
	}

	owner, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("get token owner: %w", err)
	}

	secret, err := s.secretGenerator()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("generate token secret: %w", err)
	}
	tokenID, err := s.idGenerator()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("generate token id: %w", err)
	}
	eventID, err := s.idGenerator()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("generate delivery event id: %w", err)
	}

	now := s.clock().UTC()
	expiresAt := now.Add(s.config.TTL(p))
	payload, err := json.Marshal(Delivery{
		Address:   owner.Email,
		Token:     secret,
		Purpose:   p,
		ExpiresAt: expiresAt,
	})
	if err != nil {
		return "", time.Time{}, fmt.Errorf("marshal delivery payload: %w", err)
	}

	record := storage.PurposeToken{
		ID:        tokenID,
		TokenHash: HashSecret(secret),
		UserID:    owner.ID,
		Purpose:   string(p),
		CreatedAt: now,
		ExpiresAt: expiresAt,
	}
	event := storage.OutboxEvent{
		ID:            eventID,
		EventType:     DeliveryEventType,
		PayloadJSON:   string(payload),
		DedupeKey:     storage.PurposeTokenDeliveryKey(tokenID),
		Status:        storage.OutboxStatusPending,
		NextAttemptAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.IssuePurposeToken(ctx, record, event); err != nil {
		return "", time.Time{}, fmt.Errorf("store purpose token: %w", err)
	}
	s.metrics.PurposeToken(string(p), "issued")
	return secret, expiresAt, nil
}

// Consume marks token used for purpose p and returns its owner. The store
// performs the check and the mark as one conditional write, so of several
// concurrent attempts with the same token exactly one succeeds.
func (s *Service) Consume(ctx context.Context, token string, p Purpose) (string, error) {
	ctx, span := otel.Tracer().Start(ctx, "purpose.Consume")
	defer span.End()
	span.SetAttributes(attribute.String("purpose", string(p)))

	if s == nil || s.store == nil {
		return "", fmt.Errorf("purpose token service is not configured")
	}
	token = strings.TrimSpace(token)
	if token == "" || !p.Valid() {
		s.metrics.PurposeToken(string(p), "rejected")
		return "", ErrInvalid
	}

	now := s.clock().UTC()
	hash := HashSecret(token)

	// Expired or foreign tokens are rejected before any write is attempted.
	record, err := s.store.GetPurposeToken(ctx, hash)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.metrics.PurposeToken(string(p), "rejected")
			return "", ErrInvalid
		}
		return "", fmt.Errorf("get purpose token: %w", err)
	}
	if !usable(record, p, now) {
		s.metrics.PurposeToken(string(p), "rejected")
		return "", ErrInvalid
	}

	consumed, err := s.store.ConsumePurposeToken(ctx, hash, string(p), now)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.metrics.PurposeToken(string(p), "rejected")
			return "", ErrInvalid
		}
		return "", fmt.Errorf("consume purpose token: %w", err)
	}
	s.metrics.PurposeToken(string(p), "consumed")
	return consumed.UserID, nil
}

// PurgeExpired deletes tokens that expired before the retention cutoff.
func (s *Service) PurgeExpired(ctx context.Context, retention time.Duration) (int64, error) {
	if s == nil || s.store == nil {
		return 0, fmt.Errorf("purpose token service is not configured")
	}
	cutoff := s.clock().UTC().Add(-retention)
	return s.store.DeleteExpiredPurposeTokens(ctx, cutoff)
}

func usable(record storage.PurposeToken, p Purpose, now time.Time) bool {
	if record.Purpose != string(p) {
		return false
	}
	if record.ConsumedAt != nil || record.RevokedAt != nil {
		return false
	}
	return now.Before(record.ExpiresAt)
}

// NewSecret returns a random URL-safe token secret.
func NewSecret() (string, error) {
	buf := make([]byte, secretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// HashSecret returns the storage key for a token secret.
func HashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}
