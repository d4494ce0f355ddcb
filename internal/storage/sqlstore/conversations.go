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

const conversationColumns = `c.id, c.is_group, c.name, c.created_by, c.created_at, c.updated_at`

type conversationRow struct {
	ID        string `db:"id"`
	IsGroup   bool   `db:"is_group"`
	Name      string `db:"name"`
	CreatedBy string `db:"created_by"`
	CreatedAt int64  `db:"created_at"`
	UpdatedAt int64  `db:"updated_at"`
}

func (r conversationRow) toDomain() conversation.Conversation {
	return conversation.Conversation{
		ID:        r.ID,
		IsGroup:   r.IsGroup,
		Name:      r.Name,
		CreatedBy: r.CreatedBy,
		CreatedAt: fromMillis(r.CreatedAt),
		UpdatedAt: fromMillis(r.UpdatedAt),
	}
}

type membershipRow struct {
	ConversationID    string        `db:"conversation_id"`
	UserID            string        `db:"user_id"`
	LastSeenMessageID string        `db:"last_seen_message_id"`
	LastSeenAt        sql.NullInt64 `db:"last_seen_at"`
	JoinedAt          int64         `db:"joined_at"`
}

func (r membershipRow) toDomain() conversation.Membership {
	return conversation.Membership{
		ConversationID:    r.ConversationID,
		UserID:            r.UserID,
		LastSeenMessageID: r.LastSeenMessageID,
		LastSeenAt:        fromNullMillis(r.LastSeenAt),
		JoinedAt:          fromMillis(r.JoinedAt),
	}
}

// CreateConversation stores c with one membership per member id.
func (s *Store) CreateConversation(ctx context.Context, c conversation.Conversation, memberIDs []string) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if strings.TrimSpace(c.ID) == "" {
		return fmt.Errorf("conversation id is required")
	}
	if len(memberIDs) == 0 {
		return fmt.Errorf("conversation needs at least one member")
	}

	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, tx.Rebind(`
INSERT INTO conversations (id, is_group, name, created_by, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
`),
			c.ID,
			boolToInt(c.IsGroup),
			c.Name,
			c.CreatedBy,
			toMillis(c.CreatedAt),
			toMillis(c.UpdatedAt),
		); err != nil {
			return fmt.Errorf("insert conversation: %w", err)
		}
		for _, memberID := range memberIDs {
			if _, err := insertMembership(ctx, tx, conversation.Membership{
				ConversationID: c.ID,
				UserID:         memberID,
				JoinedAt:       c.CreatedAt,
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetConversation fetches a conversation by id.
func (s *Store) GetConversation(ctx context.Context, conversationID string) (conversation.Conversation, error) {
	if err := s.ready(ctx); err != nil {
		return conversation.Conversation{}, err
	}
	var row conversationRow
	query := s.db.Rebind(`SELECT ` + conversationColumns + ` FROM conversations c WHERE c.id = ?`)
	if err := s.db.GetContext(ctx, &row, query, strings.TrimSpace(conversationID)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return conversation.Conversation{}, chatstorage.ErrNotFound
		}
		return conversation.Conversation{}, fmt.Errorf("get conversation: %w", err)
	}
	return row.toDomain(), nil
}

// FindDirectConversation returns the oldest direct conversation in which
// both users still hold a membership.
func (s *Store) FindDirectConversation(ctx context.Context, a, b string) (conversation.Conversation, error) {
	if err := s.ready(ctx); err != nil {
		return conversation.Conversation{}, err
	}
	var row conversationRow
	query := s.db.Rebind(`
SELECT ` + conversationColumns + `
FROM conversations c
JOIN memberships ma ON ma.conversation_id = c.id AND ma.user_id = ?
JOIN memberships mb ON mb.conversation_id = c.id AND mb.user_id = ?
WHERE c.is_group = 0
ORDER BY c.created_at ASC, c.id ASC
LIMIT 1
`)
	if err := s.db.GetContext(ctx, &row, query, strings.TrimSpace(a), strings.TrimSpace(b)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return conversation.Conversation{}, chatstorage.ErrNotFound
		}
		return conversation.Conversation{}, fmt.Errorf("find direct conversation: %w", err)
	}
	return row.toDomain(), nil
}

// ListConversationsForUser returns conversations with a membership for
// userID, most recently active first.
func (s *Store) ListConversationsForUser(ctx context.Context, userID string) ([]conversation.Conversation, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	var rows []conversationRow
	query := s.db.Rebind(`
SELECT ` + conversationColumns + `
FROM conversations c
JOIN memberships m ON m.conversation_id = c.id
WHERE m.user_id = ?
ORDER BY c.updated_at DESC, c.id ASC
`)
	if err := s.db.SelectContext(ctx, &rows, query, strings.TrimSpace(userID)); err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	conversations := make([]conversation.Conversation, 0, len(rows))
	for _, row := range rows {
		conversations = append(conversations, row.toDomain())
	}
	return conversations, nil
}

// RenameConversation sets the name of a conversation.
func (s *Store) RenameConversation(ctx context.Context, conversationID string, name string, updatedAt time.Time) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx, s.db.Rebind(`UPDATE conversations SET name = ?, updated_at = ? WHERE id = ?`),
		name, toMillis(updatedAt), strings.TrimSpace(conversationID))
	if err != nil {
		return fmt.Errorf("rename conversation: %w", err)
	}
	affected, err := rowsAffected(result, "rename conversation")
	if err != nil {
		return err
	}
	if affected == 0 {
		return chatstorage.ErrNotFound
	}
	return nil
}

// GetMembership fetches the membership row for the pair.
func (s *Store) GetMembership(ctx context.Context, conversationID, userID string) (conversation.Membership, error) {
	if err := s.ready(ctx); err != nil {
		return conversation.Membership{}, err
	}
	var row membershipRow
	query := s.db.Rebind(`
SELECT conversation_id, user_id, last_seen_message_id, last_seen_at, joined_at
FROM memberships
WHERE conversation_id = ? AND user_id = ?
`)
	if err := s.db.GetContext(ctx, &row, query, strings.TrimSpace(conversationID), strings.TrimSpace(userID)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return conversation.Membership{}, chatstorage.ErrNotFound
		}
		return conversation.Membership{}, fmt.Errorf("get membership: %w", err)
	}
	return row.toDomain(), nil
}

// AddMembership inserts m unless the pair already exists.
func (s *Store) AddMembership(ctx context.Context, m conversation.Membership) (bool, error) {
	if err := s.ready(ctx); err != nil {
		return false, err
	}
	return insertMembership(ctx, s.db, m)
}

func insertMembership(ctx context.Context, target sqlx.ExtContext, m conversation.Membership) (bool, error) {
	result, err := target.ExecContext(ctx, target.Rebind(`
INSERT INTO memberships (conversation_id, user_id, last_seen_message_id, last_seen_at, joined_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (conversation_id, user_id) DO NOTHING
`),
		strings.TrimSpace(m.ConversationID),
		strings.TrimSpace(m.UserID),
		m.LastSeenMessageID,
		nullMillis(m.LastSeenAt),
		toMillis(m.JoinedAt),
	)
	if err != nil {
		return false, fmt.Errorf("insert membership: %w", err)
	}
	affected, err := rowsAffected(result, "insert membership")
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// DeleteMembership removes one user's membership; the conversation and its
// messages remain for everyone else.
func (s *Store) DeleteMembership(ctx context.Context, conversationID, userID string) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM memberships WHERE conversation_id = ? AND user_id = ?`),
		strings.TrimSpace(conversationID), strings.TrimSpace(userID))
	if err != nil {
		return fmt.Errorf("delete membership: %w", err)
	}
	affected, err := rowsAffected(result, "delete membership")
	if err != nil {
		return err
	}
	if affected == 0 {
		return chatstorage.ErrNotFound
	}
	return nil
}

// MarkSeen moves the member's last-seen marker.
func (s *Store) MarkSeen(ctx context.Context, conversationID, userID, messageID string, seenAt time.Time) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx, s.db.Rebind(`
UPDATE memberships
SET last_seen_message_id = ?, last_seen_at = ?
WHERE conversation_id = ? AND user_id = ?
`),
		strings.TrimSpace(messageID),
		toMillis(seenAt),
		strings.TrimSpace(conversationID),
		strings.TrimSpace(userID),
	)
	if err != nil {
		return fmt.Errorf("mark seen: %w", err)
	}
	affected, err := rowsAffected(result, "mark seen")
	if err != nil {
		return err
	}
	if affected == 0 {
		return chatstorage.ErrNotFound
	}
	return nil
}

type candidateRow struct {
	UserID        string `db:"user_id"`
	Handle        string `db:"handle"`
	DisplayName   string `db:"display_name"`
	AlreadyMember bool   `db:"already_member"`
}

// SearchUsersForConversation matches query as a case-insensitive substring
// of handle or display name. Rows order by relevance (exact handle, handle
// prefix, other), then lowercase display name, then id, which keeps offset
// pages stable.
func (s *Store) SearchUsersForConversation(ctx context.Context, conversationID, requesterID, query string, limit, offset int) ([]chatstorage.MemberCandidate, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}
	if offset < 0 {
		offset = 0
	}
	needle := strings.ToLower(strings.TrimSpace(query))
	escaped := escapeLike(needle)

	var rows []candidateRow
	statement := s.db.Rebind(`
SELECT
	u.id AS user_id,
	u.handle,
	u.display_name,
	CASE WHEN m.user_id IS NULL THEN 0 ELSE 1 END AS already_member
FROM users u
LEFT JOIN memberships m ON m.conversation_id = ? AND m.user_id = u.id
WHERE u.id <> ?
AND (LOWER(u.handle) LIKE ? ESCAPE '\' OR LOWER(u.display_name) LIKE ? ESCAPE '\')
ORDER BY
	CASE
		WHEN LOWER(u.handle) = ? THEN 0
		WHEN LOWER(u.handle) LIKE ? ESCAPE '\' THEN 1
		ELSE 2
	END,
	LOWER(u.display_name) ASC,
	u.id ASC
LIMIT ? OFFSET ?
`)
	if err := s.db.SelectContext(ctx, &rows, statement,
		strings.TrimSpace(conversationID),
		strings.TrimSpace(requesterID),
		"%"+escaped+"%",
		"%"+escaped+"%",
		needle,
		escaped+"%",
		limit,
		offset,
	); err != nil {
		return nil, fmt.Errorf("search users: %w", err)
	}

	candidates := make([]chatstorage.MemberCandidate, 0, len(rows))
	for _, row := range rows {
		candidates = append(candidates, chatstorage.MemberCandidate(row))
	}
	return candidates, nil
}

func escapeLike(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(value)
}
