package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/louisbranch/parley/internal/services/auth/storage"
)

const outboxColumns = `id, event_type, payload_json, dedupe_key, status, attempt_count, next_attempt_at, lease_owner, lease_expires_at, last_error, processed_at, created_at, updated_at`

// clearedPayload replaces delivered payloads so raw tokens do not outlive
// their delivery.
const clearedPayload = "{}"

type outboxRow struct {
	ID             string        `db:"id"`
	EventType      string        `db:"event_type"`
	PayloadJSON    string        `db:"payload_json"`
	DedupeKey      string        `db:"dedupe_key"`
	Status         string        `db:"status"`
	AttemptCount   int           `db:"attempt_count"`
	NextAttemptAt  int64         `db:"next_attempt_at"`
	LeaseOwner     string        `db:"lease_owner"`
	LeaseExpiresAt sql.NullInt64 `db:"lease_expires_at"`
	LastError      string        `db:"last_error"`
	ProcessedAt    sql.NullInt64 `db:"processed_at"`
	CreatedAt      int64         `db:"created_at"`
	UpdatedAt      int64         `db:"updated_at"`
}

func (r outboxRow) toDomain() storage.OutboxEvent {
	return storage.OutboxEvent{
		ID:             r.ID,
		EventType:      r.EventType,
		PayloadJSON:    r.PayloadJSON,
		DedupeKey:      r.DedupeKey,
		Status:         r.Status,
		AttemptCount:   r.AttemptCount,
		NextAttemptAt:  fromMillis(r.NextAttemptAt),
		LeaseOwner:     r.LeaseOwner,
		LeaseExpiresAt: fromNullMillis(r.LeaseExpiresAt),
		LastError:      r.LastError,
		ProcessedAt:    fromNullMillis(r.ProcessedAt),
		CreatedAt:      fromMillis(r.CreatedAt),
		UpdatedAt:      fromMillis(r.UpdatedAt),
	}
}

func normalizeOutboxEvent(event storage.OutboxEvent) (storage.OutboxEvent, error) {
	event.ID = strings.TrimSpace(event.ID)
	event.EventType = strings.TrimSpace(event.EventType)
	event.PayloadJSON = strings.TrimSpace(event.PayloadJSON)
	event.DedupeKey = strings.TrimSpace(event.DedupeKey)
	event.Status = strings.TrimSpace(event.Status)
	event.LeaseOwner = strings.TrimSpace(event.LeaseOwner)
	event.LastError = strings.TrimSpace(event.LastError)
	if event.ID == "" {
		return storage.OutboxEvent{}, fmt.Errorf("event id is required")
	}
	if event.EventType == "" {
		return storage.OutboxEvent{}, fmt.Errorf("event type is required")
	}
	if event.PayloadJSON == "" {
		event.PayloadJSON = clearedPayload
	}
	if event.Status == "" {
		event.Status = storage.OutboxStatusPending
	}
	if event.AttemptCount < 0 {
		return storage.OutboxEvent{}, fmt.Errorf("attempt count must be greater than or equal to zero")
	}
	now := time.Now().UTC()
	if event.CreatedAt.IsZero() {
		event.CreatedAt = now
	}
	if event.UpdatedAt.IsZero() {
		event.UpdatedAt = event.CreatedAt
	}
	if event.NextAttemptAt.IsZero() {
		event.NextAttemptAt = event.CreatedAt
	}
	return event, nil
}

func enqueueOutboxEvent(ctx context.Context, target sqlx.ExtContext, event storage.OutboxEvent) error {
	normalized, err := normalizeOutboxEvent(event)
	if err != nil {
		return err
	}

	_, err = target.ExecContext(ctx, target.Rebind(`
INSERT INTO outbox_events (`+outboxColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (dedupe_key) WHERE dedupe_key <> '' DO NOTHING
`),
		normalized.ID,
		normalized.EventType,
		normalized.PayloadJSON,
		normalized.DedupeKey,
		normalized.Status,
		normalized.AttemptCount,
		toMillis(normalized.NextAttemptAt),
		normalized.LeaseOwner,
		nullMillis(normalized.LeaseExpiresAt),
		normalized.LastError,
		nullMillis(normalized.ProcessedAt),
		toMillis(normalized.CreatedAt),
		toMillis(normalized.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("enqueue outbox event: %w", err)
	}
	return nil
}

// EnqueueOutboxEvent stores one pending event. A repeated dedupe key is
// ignored.
func (s *Store) EnqueueOutboxEvent(ctx context.Context, event storage.OutboxEvent) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	return enqueueOutboxEvent(ctx, s.db, event)
}

// GetOutboxEvent returns one outbox event by id.
func (s *Store) GetOutboxEvent(ctx context.Context, id string) (storage.OutboxEvent, error) {
	if err := s.ready(ctx); err != nil {
		return storage.OutboxEvent{}, err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return storage.OutboxEvent{}, fmt.Errorf("event id is required")
	}

	var row outboxRow
	if err := s.db.GetContext(ctx, &row, s.db.Rebind(`SELECT `+outboxColumns+` FROM outbox_events WHERE id = ?`), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.OutboxEvent{}, storage.ErrNotFound
		}
		return storage.OutboxEvent{}, fmt.Errorf("get outbox event: %w", err)
	}
	return row.toDomain(), nil
}

// LeaseOutboxEvents leases due events for one consumer. Expired leases are
// eligible again, so a crashed worker's events are picked up after leaseTTL.
func (s *Store) LeaseOutboxEvents(ctx context.Context, consumer string, limit int, now time.Time, leaseTTL time.Duration) ([]storage.OutboxEvent, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	consumer = strings.TrimSpace(consumer)
	if consumer == "" {
		return nil, fmt.Errorf("consumer is required")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}
	if leaseTTL <= 0 {
		return nil, fmt.Errorf("lease ttl must be greater than zero")
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	now = now.UTC()
	leaseExpiresAt := now.Add(leaseTTL)

	leased := make([]storage.OutboxEvent, 0, limit)
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		var candidateIDs []string
		if err := tx.SelectContext(ctx, &candidateIDs, tx.Rebind(`
SELECT id
FROM outbox_events
WHERE (
	(status = ? AND next_attempt_at <= ?)
	OR
	(status = ? AND lease_expires_at IS NOT NULL AND lease_expires_at <= ?)
)
ORDER BY next_attempt_at ASC, created_at ASC, id ASC
LIMIT ?
`),
			storage.OutboxStatusPending,
			toMillis(now),
			storage.OutboxStatusLeased,
			toMillis(now),
			limit,
		); err != nil {
			return fmt.Errorf("select lease candidates: %w", err)
		}

		for _, id := range candidateIDs {
			result, err := tx.ExecContext(ctx, tx.Rebind(`
UPDATE outbox_events
SET
	status = ?,
	lease_owner = ?,
	lease_expires_at = ?,
	updated_at = ?
WHERE id = ?
AND (
	(status = ? AND next_attempt_at <= ?)
	OR
	(status = ? AND lease_expires_at IS NOT NULL AND lease_expires_at <= ?)
)
`),
				storage.OutboxStatusLeased,
				consumer,
				toMillis(leaseExpiresAt),
				toMillis(now),
				id,
				storage.OutboxStatusPending,
				toMillis(now),
				storage.OutboxStatusLeased,
				toMillis(now),
			)
			if err != nil {
				return fmt.Errorf("lease outbox event %s: %w", id, err)
			}
			affected, err := rowsAffected(result, "lease outbox event "+id)
			if err != nil {
				return err
			}
			if affected == 0 {
				continue
			}

			var row outboxRow
			if err := tx.GetContext(ctx, &row, tx.Rebind(`SELECT `+outboxColumns+` FROM outbox_events WHERE id = ?`), id); err != nil {
				return fmt.Errorf("read leased outbox event %s: %w", id, err)
			}
			leased = append(leased, row.toDomain())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return leased, nil
}

// MarkOutboxSucceeded acknowledges delivery and clears the payload.
func (s *Store) MarkOutboxSucceeded(ctx context.Context, id string, consumer string, processedAt time.Time) error {
	if processedAt.IsZero() {
		processedAt = time.Now().UTC()
	}
	return s.ackOutbox(ctx, "mark outbox succeeded", id, consumer, `
UPDATE outbox_events
SET
	status = ?,
	payload_json = ?,
	lease_owner = '',
	lease_expires_at = NULL,
	last_error = '',
	processed_at = ?,
	updated_at = ?
WHERE id = ?
AND status = ?
AND lease_owner = ?
`,
		storage.OutboxStatusSucceeded,
		clearedPayload,
		toMillis(processedAt),
		toMillis(processedAt),
	)
}

// MarkOutboxRetry returns a leased event to pending with a later due time.
func (s *Store) MarkOutboxRetry(ctx context.Context, id string, consumer string, nextAttemptAt time.Time, lastError string) error {
	if nextAttemptAt.IsZero() {
		return fmt.Errorf("next attempt at is required")
	}
	return s.ackOutbox(ctx, "mark outbox retry", id, consumer, `
UPDATE outbox_events
SET
	status = ?,
	attempt_count = attempt_count + 1,
	next_attempt_at = ?,
	lease_owner = '',
	lease_expires_at = NULL,
	last_error = ?,
	processed_at = NULL,
	updated_at = ?
WHERE id = ?
AND status = ?
AND lease_owner = ?
`,
		storage.OutboxStatusPending,
		toMillis(nextAttemptAt),
		strings.TrimSpace(lastError),
		toMillis(time.Now()),
	)
}

// MarkOutboxDead gives up on a leased event and clears its payload.
func (s *Store) MarkOutboxDead(ctx context.Context, id string, consumer string, lastError string, processedAt time.Time) error {
	if processedAt.IsZero() {
		processedAt = time.Now().UTC()
	}
	return s.ackOutbox(ctx, "mark outbox dead", id, consumer, `
UPDATE outbox_events
SET
	status = ?,
	payload_json = ?,
	attempt_count = attempt_count + 1,
	lease_owner = '',
	lease_expires_at = NULL,
	last_error = ?,
	processed_at = ?,
	updated_at = ?
WHERE id = ?
AND status = ?
AND lease_owner = ?
`,
		storage.OutboxStatusDead,
		clearedPayload,
		strings.TrimSpace(lastError),
		toMillis(processedAt),
		toMillis(processedAt),
	)
}

// ackOutbox runs an acknowledgement update whose trailing placeholders are
// id, leased status, and consumer. A lease held by another consumer or
// already released yields storage.ErrNotFound.
func (s *Store) ackOutbox(ctx context.Context, action, id, consumer, query string, args ...any) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	id = strings.TrimSpace(id)
	consumer = strings.TrimSpace(consumer)
	if id == "" {
		return fmt.Errorf("event id is required")
	}
	if consumer == "" {
		return fmt.Errorf("consumer is required")
	}

	args = append(args, id, storage.OutboxStatusLeased, consumer)
	result, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return fmt.Errorf("%s: %w", action, err)
	}
	affected, err := rowsAffected(result, action)
	if err != nil {
		return err
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}
