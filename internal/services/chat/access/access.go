// Package access implements the membership and message authorizers.
//
// Authorize is the one gate every conversation-scoped operation passes
// through. It reads the membership row on every call; nothing is cached
// across requests because membership can change between them.
package access

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	apperrors "github.com/louisbranch/parley/internal/platform/errors"
	"github.com/louisbranch/parley/internal/platform/otel"
	"github.com/louisbranch/parley/internal/platform/telemetry/metrics"
	"github.com/louisbranch/parley/internal/services/chat/conversation"
	"github.com/louisbranch/parley/internal/services/chat/storage"
)

// Operation names a conversation-scoped action.
type Operation string

const (
	OpRead          Operation = "read"
	OpRename        Operation = "rename"
	OpSearchMembers Operation = "search_members"
	OpAddMember     Operation = "add_member"
	OpPost          Operation = "post"
	OpLeave         Operation = "leave"
	// OpDeleteMessage is recorded by CanDelete; it is not a conversation gate.
	OpDeleteMessage Operation = "delete_message"
)

// GroupOnly reports whether op is restricted to group conversations.
func (op Operation) GroupOnly() bool {
	return op == OpRename || op == OpAddMember
}

const (
	// DefaultPageSize applies when a search omits the page size.
	DefaultPageSize = 10
	// MaxPageSize caps member search pages.
	MaxPageSize = 50
)

var (
	// ErrMembershipRequired rejects callers without a membership row. A
	// missing conversation yields the same error so ids cannot be probed.
	ErrMembershipRequired = apperrors.New(apperrors.CodeConversationMembershipRequired, "conversation membership required")
	// ErrGroupOnly rejects group-only operations on direct conversations.
	ErrGroupOnly = apperrors.New(apperrors.CodeConversationGroupOnly, "operation is only allowed in group conversations")
	// ErrSenderRequired rejects message deletion by anyone but the sender.
	ErrSenderRequired = apperrors.New(apperrors.CodeMessageSenderRequired, "only the sender can delete a message")
	// ErrMessageNotFound reports an absent or already deleted message.
	ErrMessageNotFound = apperrors.New(apperrors.CodeNotFound, "message not found")
	// ErrInvalidPage rejects page numbers below one or past the addressable range.
	ErrInvalidPage = apperrors.New(apperrors.CodeInvalidPage, "page is out of range")
	// ErrInvalidSearch rejects an empty member search query.
	ErrInvalidSearch = apperrors.New(apperrors.CodeInvalidSearch, "search query is required")
)

// Store is the read surface the authorizers need.
type Store interface {
	GetConversation(ctx context.Context, conversationID string) (conversation.Conversation, error)
	GetMembership(ctx context.Context, conversationID, userID string) (conversation.Membership, error)
	GetMessage(ctx context.Context, messageID string) (conversation.Message, error)
	SearchUsersForConversation(ctx context.Context, conversationID, requesterID, query string, limit, offset int) ([]storage.MemberCandidate, error)
}

// MemberPage is one page of member search results.
type MemberPage struct {
	Candidates []storage.MemberCandidate
	Page       int
	PageSize   int
	HasMore    bool
}

// Authorizer decides conversation and message access.
type Authorizer struct {
	store   Store
	metrics *metrics.Metrics
}

// NewAuthorizer builds an authorizer over store. m may be nil.
func NewAuthorizer(store Store, m *metrics.Metrics) *Authorizer {
	return &Authorizer{store: store, metrics: m}
}

// IsMember reports whether a membership row exists for the pair.
func (a *Authorizer) IsMember(ctx context.Context, userID, conversationID string) (bool, error) {
	if a == nil || a.store == nil {
		return false, fmt.Errorf("authorizer is not configured")
	}
	userID = strings.TrimSpace(userID)
	conversationID = strings.TrimSpace(conversationID)
	if userID == "" || conversationID == "" {
		return false, nil
	}
	if _, err := a.store.GetMembership(ctx, conversationID, userID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("get membership: %w", err)
	}
	return true, nil
}

// Authorize checks membership first and then any restriction op carries. It
// returns the conversation so callers do not read it a second time.
func (a *Authorizer) Authorize(ctx context.Context, userID, conversationID string, op Operation) (conversation.Conversation, error) {
	ctx, span := otel.Tracer().Start(ctx, "access.Authorize")
	defer span.End()
	span.SetAttributes(
		attribute.String("operation", string(op)),
		attribute.String("conversation.id", conversationID),
	)

	c, err := a.authorize(ctx, userID, conversationID, op)
	a.record(op, err)
	if err != nil {
		span.SetAttributes(attribute.String("denied.code", string(apperrors.CodeOf(err))))
	}
	return c, err
}

func (a *Authorizer) authorize(ctx context.Context, userID, conversationID string, op Operation) (conversation.Conversation, error) {
	member, err := a.IsMember(ctx, userID, conversationID)
	if err != nil {
		return conversation.Conversation{}, err
	}
	if !member {
		return conversation.Conversation{}, ErrMembershipRequired
	}

	c, err := a.store.GetConversation(ctx, strings.TrimSpace(conversationID))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return conversation.Conversation{}, ErrMembershipRequired
		}
		return conversation.Conversation{}, fmt.Errorf("get conversation: %w", err)
	}
	if op.GroupOnly() && !c.IsGroup {
		return conversation.Conversation{}, ErrGroupOnly
	}
	return c, nil
}

// CanRename reports whether userID is a member of a group conversation.
func (a *Authorizer) CanRename(ctx context.Context, userID, conversationID string) (bool, error) {
	return a.allowed(ctx, userID, conversationID, OpRename)
}

// CanPost reports whether userID may post; membership is the only
// requirement.
func (a *Authorizer) CanPost(ctx context.Context, userID, conversationID string) (bool, error) {
	return a.allowed(ctx, userID, conversationID, OpPost)
}

func (a *Authorizer) allowed(ctx context.Context, userID, conversationID string, op Operation) (bool, error) {
	if _, err := a.Authorize(ctx, userID, conversationID, op); err != nil {
		if apperrors.KindOf(err) == apperrors.KindUnauthorized {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// CanDelete returns the message when userID sent it. Deletion is global, so
// there is no per-viewer path here.
func (a *Authorizer) CanDelete(ctx context.Context, userID, messageID string) (conversation.Message, error) {
	ctx, span := otel.Tracer().Start(ctx, "access.CanDelete")
	defer span.End()
	span.SetAttributes(attribute.String("message.id", messageID))

	m, err := a.canDelete(ctx, userID, messageID)
	a.record(OpDeleteMessage, err)
	return m, err
}

func (a *Authorizer) canDelete(ctx context.Context, userID, messageID string) (conversation.Message, error) {
	if a == nil || a.store == nil {
		return conversation.Message{}, fmt.Errorf("authorizer is not configured")
	}
	messageID = strings.TrimSpace(messageID)
	if messageID == "" {
		return conversation.Message{}, ErrMessageNotFound
	}
	m, err := a.store.GetMessage(ctx, messageID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return conversation.Message{}, ErrMessageNotFound
		}
		return conversation.Message{}, fmt.Errorf("get message: %w", err)
	}
	if m.Deleted() {
		return conversation.Message{}, ErrMessageNotFound
	}
	if m.SenderID != strings.TrimSpace(userID) {
		return conversation.Message{}, ErrSenderRequired
	}
	return m, nil
}

// SearchMembers pages through users matching query, flagging those already
// in the conversation. The membership gate runs before the query is looked
// at, so non-members learn nothing from validation errors either.
func (a *Authorizer) SearchMembers(ctx context.Context, userID, conversationID, query string, page, pageSize int) (MemberPage, error) {
	c, err := a.Authorize(ctx, userID, conversationID, OpSearchMembers)
	if err != nil {
		return MemberPage{}, err
	}

	query = strings.TrimSpace(query)
	if query == "" {
		return MemberPage{}, ErrInvalidSearch
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	offset, err := PageOffset(page, pageSize)
	if err != nil {
		return MemberPage{}, err
	}
	rows, err := a.store.SearchUsersForConversation(ctx, c.ID, strings.TrimSpace(userID), query, pageSize+1, offset)
	if err != nil {
		return MemberPage{}, fmt.Errorf("search members: %w", err)
	}
	result := MemberPage{Page: page, PageSize: pageSize}
	if len(rows) > pageSize {
		result.HasMore = true
		rows = rows[:pageSize]
	}
	result.Candidates = rows
	return result, nil
}

// PageOffset returns the row offset of a 1-based page. Pages below one, or
// whose offset would not fit in an int, are rejected with ErrInvalidPage.
func PageOffset(page, pageSize int) (int, error) {
	if page < 1 || pageSize < 1 {
		return 0, ErrInvalidPage
	}
	if page-1 > math.MaxInt/pageSize {
		return 0, ErrInvalidPage
	}
	return (page - 1) * pageSize, nil
}

func (a *Authorizer) record(op Operation, err error) {
	if a == nil {
		return
	}
	switch {
	case err == nil:
		a.metrics.AuthzDecision(string(op), metrics.OutcomeAllowed)
	case apperrors.KindOf(err) == apperrors.KindInternal:
		a.metrics.AuthzDecision(string(op), metrics.OutcomeError)
	default:
		a.metrics.AuthzDecision(string(op), metrics.OutcomeDenied)
	}
}
