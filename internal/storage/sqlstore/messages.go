package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/louisbranch/parley/internal/services/chat/conversation"
	chatstorage "github.com/louisbranch/parley/internal/services/chat/storage"
)

const messageColumns = `id, conversation_id, sender_id, body, media_ref, reply_to_id, created_at, deleted_at, deleted_by`

type messageRow struct {
	ID             string        `db:"id"`
	ConversationID string        `db:"conversation_id"`
	SenderID       string        `db:"sender_id"`
	Body           string        `db:"body"`
	MediaRef       string        `db:"media_ref"`
	ReplyToID      string        `db:"reply_to_id"`
	CreatedAt      int64         `db:"created_at"`
	DeletedAt      sql.NullInt64 `db:"deleted_at"`
	DeletedBy      string        `db:"deleted_by"`
}

func (r messageRow) toDomain() conversation.Message {
	return conversation.Message{
		ID:             r.ID,
		ConversationID: r.ConversationID,
		SenderID:       r.SenderID,
		Body:           r.Body,
		MediaRef:       r.MediaRef,
		ReplyToID:      r.ReplyToID,
		CreatedAt:      fromMillis(r.CreatedAt),
		DeletedAt:      fromNullMillis(r.DeletedAt),
		DeletedBy:      r.DeletedBy,
	}
}

// PutMessage stores m and bumps the conversation's activity time.
func (s *Store) PutMessage(ctx context.Context, m conversation.Message) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if strings.TrimSpace(m.ID) == "" {
		return fmt.Errorf("message id is required")
	}

	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, tx.Rebind(`
INSERT INTO messages (`+messageColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
`),
			m.ID,
			m.ConversationID,
			m.SenderID,
			m.Body,
			m.MediaRef,
			m.ReplyToID,
			toMillis(m.CreatedAt),
			nullMillis(m.DeletedAt),
			m.DeletedBy,
		); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE conversations SET updated_at = ? WHERE id = ?`),
			toMillis(m.CreatedAt), m.ConversationID); err != nil {
			return fmt.Errorf("touch conversation: %w", err)
		}
		return nil
	})
}

// GetMessage fetches a message by id, deleted or not.
func (s *Store) GetMessage(ctx context.Context, messageID string) (conversation.Message, error) {
	if err := s.ready(ctx); err != nil {
		return conversation.Message{}, err
	}
	var row messageRow
	query := s.db.Rebind(`SELECT ` + messageColumns + ` FROM messages WHERE id = ?`)
	if err := s.db.GetContext(ctx, &row, query, strings.TrimSpace(messageID)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return conversation.Message{}, chatstorage.ErrNotFound
		}
		return conversation.Message{}, fmt.Errorf("get message: %w", err)
	}
	return row.toDomain(), nil
}

// ListMessages returns undeleted messages of a conversation, oldest first.
// Deleted messages are filtered here for every reader alike.
func (s *Store) ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]conversation.Message, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}
	if offset < 0 {
		offset = 0
	}
	var rows []messageRow
	query := s.db.Rebind(`
SELECT ` + messageColumns + `
FROM messages
WHERE conversation_id = ?
AND deleted_at IS NULL
ORDER BY created_at ASC, id ASC
LIMIT ? OFFSET ?
`)
	if err := s.db.SelectContext(ctx, &rows, query, strings.TrimSpace(conversationID), limit, offset); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	messages := make([]conversation.Message, 0, len(rows))
	for _, row := range rows {
		messages = append(messages, row.toDomain())
	}
	return messages, nil
}

// MarkMessageDeleted sets the deletion marker on a visible message.
func (s *Store) MarkMessageDeleted(ctx context.Context, messageID, deletedBy string, deletedAt time.Time) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx, s.db.Rebind(`
UPDATE messages
SET deleted_at = ?, deleted_by = ?
WHERE id = ?
AND deleted_at IS NULL
`),
		toMillis(deletedAt),
		strings.TrimSpace(deletedBy),
		strings.TrimSpace(messageID),
	)
	if err != nil {
		return fmt.Errorf("mark message deleted: %w", err)
	}
	affected, err := rowsAffected(result, "mark message deleted")
	if err != nil {
		return err
	}
	if affected == 0 {
		return chatstorage.ErrNotFound
	}
	return nil
}
