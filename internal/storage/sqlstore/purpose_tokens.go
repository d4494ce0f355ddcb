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

const purposeTokenColumns = `id, token_hash, user_id, purpose, created_at, expires_at, consumed_at, revoked_at`

type purposeTokenRow struct {
	ID         string        `db:"id"`
	TokenHash  string        `db:"token_hash"`
	UserID     string        `db:"user_id"`
	Purpose    string        `db:"purpose"`
	CreatedAt  int64         `db:"created_at"`
	ExpiresAt  int64         `db:"expires_at"`
	ConsumedAt sql.NullInt64 `db:"consumed_at"`
	RevokedAt  sql.NullInt64 `db:"revoked_at"`
}

func (r purposeTokenRow) toDomain() storage.PurposeToken {
	return storage.PurposeToken{
		ID:         r.ID,
		TokenHash:  r.TokenHash,
		UserID:     r.UserID,
		Purpose:    r.Purpose,
		CreatedAt:  fromMillis(r.CreatedAt),
		ExpiresAt:  fromMillis(r.ExpiresAt),
		ConsumedAt: fromNullMillis(r.ConsumedAt),
		RevokedAt:  fromNullMillis(r.RevokedAt),
	}
}

// IssuePurposeToken revokes active tokens for the same user and purpose,
// inserts token, and enqueues delivery in one transaction.
func (s *Store) IssuePurposeToken(ctx context.Context, token storage.PurposeToken, delivery storage.OutboxEvent) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if strings.TrimSpace(token.ID) == "" || strings.TrimSpace(token.TokenHash) == "" {
		return fmt.Errorf("token id and hash are required")
	}
	if strings.TrimSpace(token.UserID) == "" || strings.TrimSpace(token.Purpose) == "" {
		return fmt.Errorf("token user and purpose are required")
	}

	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		var revokedIDs []string
		if err := tx.SelectContext(ctx, &revokedIDs, tx.Rebind(`
SELECT id
FROM purpose_tokens
WHERE user_id = ?
AND purpose = ?
AND consumed_at IS NULL
AND revoked_at IS NULL
`),
			token.UserID,
			token.Purpose,
		); err != nil {
			return fmt.Errorf("select active purpose tokens: %w", err)
		}

		if _, err := tx.ExecContext(ctx, tx.Rebind(`
UPDATE purpose_tokens
SET revoked_at = ?
WHERE user_id = ?
AND purpose = ?
AND consumed_at IS NULL
AND revoked_at IS NULL
`),
			toMillis(token.CreatedAt),
			token.UserID,
			token.Purpose,
		); err != nil {
			return fmt.Errorf("revoke prior purpose tokens: %w", err)
		}
		for _, id := range revokedIDs {
			if err := supersedeDelivery(ctx, tx, id, token.CreatedAt); err != nil {
				return err
			}
		}

		if _, err := tx.ExecContext(ctx, tx.Rebind(`
INSERT INTO purpose_tokens (`+purposeTokenColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`),
			token.ID,
			token.TokenHash,
			token.UserID,
			token.Purpose,
			toMillis(token.CreatedAt),
			toMillis(token.ExpiresAt),
			nullMillis(token.ConsumedAt),
			nullMillis(token.RevokedAt),
		); err != nil {
			return fmt.Errorf("insert purpose token: %w", err)
		}

		return enqueueOutboxEvent(ctx, tx, delivery)
	})
}

// supersededError is recorded on deliveries dropped because a newer token
// replaced theirs.
const supersededError = "superseded by a newer token"

// supersedeDelivery dead-letters the pending or leased delivery of a revoked
// token and clears its payload. A leased event's later ack then finds no row.
func supersedeDelivery(ctx context.Context, tx *sqlx.Tx, tokenID string, now time.Time) error {
	if _, err := tx.ExecContext(ctx, tx.Rebind(`
UPDATE outbox_events
SET
	status = ?,
	payload_json = ?,
	lease_owner = '',
	lease_expires_at = NULL,
	last_error = ?,
	processed_at = ?,
	updated_at = ?
WHERE dedupe_key = ?
AND status IN (?, ?)
`),
		storage.OutboxStatusDead,
		clearedPayload,
		supersededError,
		toMillis(now),
		toMillis(now),
		storage.PurposeTokenDeliveryKey(tokenID),
		storage.OutboxStatusPending,
		storage.OutboxStatusLeased,
	); err != nil {
		return fmt.Errorf("supersede delivery of %s: %w", tokenID, err)
	}
	return nil
}

// GetPurposeToken fetches a token record by secret hash.
func (s *Store) GetPurposeToken(ctx context.Context, tokenHash string) (storage.PurposeToken, error) {
	if err := s.ready(ctx); err != nil {
		return storage.PurposeToken{}, err
	}
	tokenHash = strings.TrimSpace(tokenHash)
	if tokenHash == "" {
		return storage.PurposeToken{}, storage.ErrNotFound
	}

	var row purposeTokenRow
	query := s.db.Rebind(`SELECT ` + purposeTokenColumns + ` FROM purpose_tokens WHERE token_hash = ?`)
	if err := s.db.GetContext(ctx, &row, query, tokenHash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.PurposeToken{}, storage.ErrNotFound
		}
		return storage.PurposeToken{}, fmt.Errorf("get purpose token: %w", err)
	}
	return row.toDomain(), nil
}

// ConsumePurposeToken marks a usable token consumed. The guard lives in the
// UPDATE's WHERE clause, so concurrent callers race on one row write and
// only the first sees a row affected.
func (s *Store) ConsumePurposeToken(ctx context.Context, tokenHash string, purpose string, now time.Time) (storage.PurposeToken, error) {
	if err := s.ready(ctx); err != nil {
		return storage.PurposeToken{}, err
	}
	tokenHash = strings.TrimSpace(tokenHash)
	purpose = strings.TrimSpace(purpose)
	if tokenHash == "" || purpose == "" {
		return storage.PurposeToken{}, storage.ErrNotFound
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	var consumed storage.PurposeToken
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		result, err := tx.ExecContext(ctx, tx.Rebind(`
UPDATE purpose_tokens
SET consumed_at = ?
WHERE token_hash = ?
AND purpose = ?
AND consumed_at IS NULL
AND revoked_at IS NULL
AND expires_at > ?
`),
			toMillis(now),
			tokenHash,
			purpose,
			toMillis(now),
		)
		if err != nil {
			return fmt.Errorf("consume purpose token: %w", err)
		}
		affected, err := rowsAffected(result, "consume purpose token")
		if err != nil {
			return err
		}
		if affected == 0 {
			return storage.ErrNotFound
		}

		var row purposeTokenRow
		query := tx.Rebind(`SELECT ` + purposeTokenColumns + ` FROM purpose_tokens WHERE token_hash = ?`)
		if err := tx.GetContext(ctx, &row, query, tokenHash); err != nil {
			return fmt.Errorf("read consumed purpose token: %w", err)
		}
		consumed = row.toDomain()
		return nil
	})
	if err != nil {
		return storage.PurposeToken{}, err
	}
	return consumed, nil
}

// DeleteExpiredPurposeTokens removes tokens that expired before the cutoff.
func (s *Store) DeleteExpiredPurposeTokens(ctx context.Context, before time.Time) (int64, error) {
	if err := s.ready(ctx); err != nil {
		return 0, err
	}
	result, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM purpose_tokens WHERE expires_at < ?`), toMillis(before))
	if err != nil {
		return 0, fmt.Errorf("delete expired purpose tokens: %w", err)
	}
	return rowsAffected(result, "delete expired purpose tokens")
}
