package storage

import (
	"context"
	"time"

	"github.com/louisbranch/parley/internal/platform/errors"
	"github.com/louisbranch/parley/internal/services/chat/conversation"
)

// ErrNotFound indicates a requested conversation, membership, or message is
// missing.
var ErrNotFound = errors.New(errors.CodeNotFound, "record not found")

// MemberCandidate is one user row returned by a member search.
type MemberCandidate struct {
	UserID        string
	Handle        string
	DisplayName   string
	AlreadyMember bool
}

// ConversationStore persists conversations and the membership join.
type ConversationStore interface {
	// CreateConversation stores c and one membership per member id in a
	// single transaction.
	CreateConversation(ctx context.Context, c conversation.Conversation, memberIDs []string) error
	GetConversation(ctx context.Context, conversationID string) (conversation.Conversation, error)
	// FindDirectConversation returns the direct conversation whose members
	// are exactly a and b.
	FindDirectConversation(ctx context.Context, a, b string) (conversation.Conversation, error)
	ListConversationsForUser(ctx context.Context, userID string) ([]conversation.Conversation, error)
	RenameConversation(ctx context.Context, conversationID string, name string, updatedAt time.Time) error
}

// MembershipStore persists membership rows.
type MembershipStore interface {
	GetMembership(ctx context.Context, conversationID, userID string) (conversation.Membership, error)
	// AddMembership inserts a membership and reports whether a new row was
	// written.
	AddMembership(ctx context.Context, m conversation.Membership) (bool, error)
	DeleteMembership(ctx context.Context, conversationID, userID string) error
	MarkSeen(ctx context.Context, conversationID, userID, messageID string, seenAt time.Time) error
	// SearchUsersForConversation matches handle or display name against
	// query, excludes requesterID, and flags members of conversationID.
	SearchUsersForConversation(ctx context.Context, conversationID, requesterID, query string, limit, offset int) ([]MemberCandidate, error)
	// UsersExist reports whether every id names a stored user.
	UsersExist(ctx context.Context, userIDs []string) (bool, error)
}

// MessageStore persists messages.
type MessageStore interface {
	PutMessage(ctx context.Context, m conversation.Message) error
	GetMessage(ctx context.Context, messageID string) (conversation.Message, error)
	// ListMessages returns undeleted messages, oldest first.
	ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]conversation.Message, error)
	// MarkMessageDeleted sets the deletion marker once. It returns
	// ErrNotFound when the message is absent or already deleted.
	MarkMessageDeleted(ctx context.Context, messageID, deletedBy string, deletedAt time.Time) error
}

// Store is the full chat persistence surface.
type Store interface {
	ConversationStore
	MembershipStore
	MessageStore
}
