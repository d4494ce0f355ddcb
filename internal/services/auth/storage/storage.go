package storage

import (
	"context"
	"time"

	"github.com/louisbranch/parley/internal/platform/errors"
	"github.com/louisbranch/parley/internal/services/auth/user"
)

var (
	// ErrNotFound indicates a requested record is missing.
	ErrNotFound = errors.New(errors.CodeNotFound, "record not found")
	// ErrConflict indicates a uniqueness constraint rejected a write.
	ErrConflict = errors.New(errors.CodeConflict, "record already exists")
)

// ConflictError names the unique field that rejected a write. It matches
// ErrConflict under errors.Is.
type ConflictError struct {
	Field string
}

func (e *ConflictError) Error() string {
	return e.Field + " already exists"
}

// Is reports whether target is the generic conflict sentinel.
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// UserStore persists account records.
type UserStore interface {
	// PutUser inserts a new user. Duplicate handle or email yields a
	// *ConflictError.
	PutUser(ctx context.Context, u user.User) error
	GetUser(ctx context.Context, userID string) (user.User, error)
	GetUserByEmail(ctx context.Context, email string) (user.User, error)
	GetUserByHandle(ctx context.Context, handle string) (user.User, error)
	UpdateUserProfile(ctx context.Context, userID string, displayName string, updatedAt time.Time) error
	UpdateUserPassword(ctx context.Context, userID string, passwordHash string, updatedAt time.Time) error
	MarkUserEmailVerified(ctx context.Context, userID string, verifiedAt time.Time) error
}

// PurposeToken is the server-side record of a single-use token. Only the
// SHA-256 hash of the secret is stored.
type PurposeToken struct {
	ID         string
	TokenHash  string
	UserID     string
	Purpose    string
	CreatedAt  time.Time
	ExpiresAt  time.Time
	ConsumedAt *time.Time
	RevokedAt  *time.Time
}

// PurposeTokenStore persists purpose tokens.
// PurposeTokenDeliveryKey is the outbox dedupe key of a token's delivery.
func PurposeTokenDeliveryKey(tokenID string) string {
	return "purpose_token:" + tokenID + ":v1"
}

type PurposeTokenStore interface {
	// IssuePurposeToken revokes every active token for the same user and
	// purpose, stores token, and enqueues delivery in one transaction.
	// Undelivered outbox events of the revoked tokens are dead-lettered so a
	// superseded link is never mailed.
	IssuePurposeToken(ctx context.Context, token PurposeToken, delivery OutboxEvent) error
	GetPurposeToken(ctx context.Context, tokenHash string) (PurposeToken, error)
	// ConsumePurposeToken marks the token consumed if and only if it matches
	// purpose, is unconsumed, unrevoked, and unexpired at now. It returns
	// ErrNotFound when no row qualified.
	ConsumePurposeToken(ctx context.Context, tokenHash string, purpose string, now time.Time) (PurposeToken, error)
	DeleteExpiredPurposeTokens(ctx context.Context, before time.Time) (int64, error)
}

// Outbox status values.
const (
	OutboxStatusPending   = "pending"
	OutboxStatusLeased    = "leased"
	OutboxStatusSucceeded = "succeeded"
	OutboxStatusDead      = "dead"
)

// OutboxEvent is a durable delivery request written alongside the state
// change that produced it.
type OutboxEvent struct {
	ID             string
	EventType      string
	PayloadJSON    string
	DedupeKey      string
	Status         string
	AttemptCount   int
	NextAttemptAt  time.Time
	LeaseOwner     string
	LeaseExpiresAt *time.Time
	LastError      string
	ProcessedAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// OutboxStore leases and acknowledges outbox events.
type OutboxStore interface {
	EnqueueOutboxEvent(ctx context.Context, event OutboxEvent) error
	GetOutboxEvent(ctx context.Context, id string) (OutboxEvent, error)
	LeaseOutboxEvents(ctx context.Context, consumer string, limit int, now time.Time, leaseTTL time.Duration) ([]OutboxEvent, error)
	MarkOutboxSucceeded(ctx context.Context, id string, consumer string, processedAt time.Time) error
	MarkOutboxRetry(ctx context.Context, id string, consumer string, nextAttemptAt time.Time, lastError string) error
	MarkOutboxDead(ctx context.Context, id string, consumer string, lastError string, processedAt time.Time) error
}
