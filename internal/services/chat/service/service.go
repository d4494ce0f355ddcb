// Package service composes conversation operations over the access gate.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/louisbranch/parley/internal/platform/errors"
	"github.com/louisbranch/parley/internal/platform/id"
	"github.com/louisbranch/parley/internal/services/chat/access"
	"github.com/louisbranch/parley/internal/services/chat/conversation"
	"github.com/louisbranch/parley/internal/services/chat/storage"
)

const (
	defaultMessagePageSize = 50
	maxMessagePageSize     = 200
)

var (
	// ErrParticipantNotFound rejects participants that are not stored users.
	ErrParticipantNotFound = apperrors.New(apperrors.CodeNotFound, "participant not found")
	// ErrInvalidReply rejects replies to messages outside the conversation
	// or already deleted.
	ErrInvalidReply = apperrors.New(apperrors.CodeMessageInvalidReply, "reply target is not a visible message in this conversation")
)

// MessagePage is one page of visible messages, oldest first.
type MessagePage struct {
	Messages []conversation.Message
	Page     int
	PageSize int
	HasMore  bool
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

// WithIDGenerator overrides conversation and message id generation.
func WithIDGenerator(idGenerator func() (string, error)) Option {
	return func(s *Service) {
		if idGenerator != nil {
			s.idGenerator = idGenerator
		}
	}
}

// Service runs conversation operations. Each one passes through the
// authorizer before touching state.
type Service struct {
	store       storage.Store
	authz       *access.Authorizer
	clock       func() time.Time
	idGenerator func() (string, error)
}

// NewService builds a conversation service.
func NewService(store storage.Store, authz *access.Authorizer, opts ...Option) *Service {
	s := &Service{
		store:       store,
		authz:       authz,
		clock:       time.Now,
		idGenerator: id.NewID,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateConversation creates a direct or group conversation with a
// membership for every participant. A direct conversation that already
// exists between the pair is returned instead of a duplicate.
func (s *Service) CreateConversation(ctx context.Context, input conversation.CreateInput) (conversation.Conversation, error) {
	if err := s.ready(); err != nil {
		return conversation.Conversation{}, err
	}
	normalized, err := conversation.NormalizeCreateInput(input)
	if err != nil {
		return conversation.Conversation{}, err
	}

	exist, err := s.store.UsersExist(ctx, normalized.Others)
	if err != nil {
		return conversation.Conversation{}, fmt.Errorf("check participants: %w", err)
	}
	if !exist {
		return conversation.Conversation{}, ErrParticipantNotFound
	}

	if !normalized.IsGroup {
		existing, err := s.store.FindDirectConversation(ctx, normalized.CreatorID, normalized.Others[0])
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return conversation.Conversation{}, fmt.Errorf("find direct conversation: %w", err)
		}
	}

	c, err := conversation.New(normalized, s.clock, s.idGenerator)
	if err != nil {
		return conversation.Conversation{}, err
	}
	if err := s.store.CreateConversation(ctx, c, normalized.Members); err != nil {
		return conversation.Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	return c, nil
}

// ListConversations returns the conversations userID belongs to.
func (s *Service) ListConversations(ctx context.Context, userID string) ([]conversation.Conversation, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	conversations, err := s.store.ListConversationsForUser(ctx, strings.TrimSpace(userID))
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return conversations, nil
}

// Rename sets the name of a group conversation.
func (s *Service) Rename(ctx context.Context, userID, conversationID, name string) (conversation.Conversation, error) {
	if err := s.ready(); err != nil {
		return conversation.Conversation{}, err
	}
	c, err := s.authz.Authorize(ctx, userID, conversationID, access.OpRename)
	if err != nil {
		return conversation.Conversation{}, err
	}
	name, err = conversation.NormalizeName(name)
	if err != nil {
		return conversation.Conversation{}, err
	}
	updatedAt := s.clock().UTC()
	if err := s.store.RenameConversation(ctx, c.ID, name, updatedAt); err != nil {
		return conversation.Conversation{}, fmt.Errorf("rename conversation: %w", err)
	}
	c.Name = name
	c.UpdatedAt = updatedAt
	return c, nil
}

// AddMember adds inviteeID to a group conversation. Adding an existing
// member succeeds and reports false.
func (s *Service) AddMember(ctx context.Context, userID, conversationID, inviteeID string) (bool, error) {
	if err := s.ready(); err != nil {
		return false, err
	}
	c, err := s.authz.Authorize(ctx, userID, conversationID, access.OpAddMember)
	if err != nil {
		return false, err
	}
	inviteeID = strings.TrimSpace(inviteeID)
	if inviteeID == "" {
		return false, ErrParticipantNotFound
	}
	exist, err := s.store.UsersExist(ctx, []string{inviteeID})
	if err != nil {
		return false, fmt.Errorf("check invitee: %w", err)
	}
	if !exist {
		return false, ErrParticipantNotFound
	}
	added, err := s.store.AddMembership(ctx, conversation.Membership{
		ConversationID: c.ID,
		UserID:         inviteeID,
		JoinedAt:       s.clock().UTC(),
	})
	if err != nil {
		return false, fmt.Errorf("add membership: %w", err)
	}
	return added, nil
}

// Leave removes the caller's own membership. Other participants keep the
// conversation and its history.
func (s *Service) Leave(ctx context.Context, userID, conversationID string) error {
	if err := s.ready(); err != nil {
		return err
	}
	c, err := s.authz.Authorize(ctx, userID, conversationID, access.OpLeave)
	if err != nil {
		return err
	}
	if err := s.store.DeleteMembership(ctx, c.ID, strings.TrimSpace(userID)); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return access.ErrMembershipRequired
		}
		return fmt.Errorf("delete membership: %w", err)
	}
	return nil
}

// PostMessage stores a message from a member.
func (s *Service) PostMessage(ctx context.Context, input conversation.MessageInput) (conversation.Message, error) {
	if err := s.ready(); err != nil {
		return conversation.Message{}, err
	}
	c, err := s.authz.Authorize(ctx, input.SenderID, input.ConversationID, access.OpPost)
	if err != nil {
		return conversation.Message{}, err
	}
	input.ConversationID = c.ID
	m, err := conversation.NewMessage(input, s.clock, s.idGenerator)
	if err != nil {
		return conversation.Message{}, err
	}
	if m.ReplyToID != "" {
		target, err := s.store.GetMessage(ctx, m.ReplyToID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return conversation.Message{}, ErrInvalidReply
			}
			return conversation.Message{}, fmt.Errorf("get reply target: %w", err)
		}
		if target.ConversationID != c.ID || target.Deleted() {
			return conversation.Message{}, ErrInvalidReply
		}
	}
	if err := s.store.PutMessage(ctx, m); err != nil {
		return conversation.Message{}, fmt.Errorf("put message: %w", err)
	}
	return m, nil
}

// ListMessages pages through the visible messages of a conversation.
func (s *Service) ListMessages(ctx context.Context, userID, conversationID string, page, pageSize int) (MessagePage, error) {
	if err := s.ready(); err != nil {
		return MessagePage{}, err
	}
	c, err := s.authz.Authorize(ctx, userID, conversationID, access.OpRead)
	if err != nil {
		return MessagePage{}, err
	}
	if pageSize <= 0 {
		pageSize = defaultMessagePageSize
	}
	if pageSize > maxMessagePageSize {
		pageSize = maxMessagePageSize
	}
	offset, err := access.PageOffset(page, pageSize)
	if err != nil {
		return MessagePage{}, err
	}
	messages, err := s.store.ListMessages(ctx, c.ID, pageSize+1, offset)
	if err != nil {
		return MessagePage{}, fmt.Errorf("list messages: %w", err)
	}
	result := MessagePage{Page: page, PageSize: pageSize}
	if len(messages) > pageSize {
		result.HasMore = true
		messages = messages[:pageSize]
	}
	result.Messages = messages
	return result, nil
}

// DeleteMessage hides a message from every participant. Only the sender may
// delete.
func (s *Service) DeleteMessage(ctx context.Context, userID, messageID string) error {
	if err := s.ready(); err != nil {
		return err
	}
	m, err := s.authz.CanDelete(ctx, userID, messageID)
	if err != nil {
		return err
	}
	if err := s.store.MarkMessageDeleted(ctx, m.ID, m.SenderID, s.clock().UTC()); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return access.ErrMessageNotFound
		}
		return fmt.Errorf("mark message deleted: %w", err)
	}
	return nil
}

// MarkSeen moves the caller's last-seen marker to messageID.
func (s *Service) MarkSeen(ctx context.Context, userID, conversationID, messageID string) error {
	if err := s.ready(); err != nil {
		return err
	}
	c, err := s.authz.Authorize(ctx, userID, conversationID, access.OpRead)
	if err != nil {
		return err
	}
	messageID = strings.TrimSpace(messageID)
	if messageID == "" {
		return access.ErrMessageNotFound
	}
	m, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return access.ErrMessageNotFound
		}
		return fmt.Errorf("get message: %w", err)
	}
	if m.ConversationID != c.ID || m.Deleted() {
		return access.ErrMessageNotFound
	}
	if err := s.store.MarkSeen(ctx, c.ID, strings.TrimSpace(userID), m.ID, s.clock().UTC()); err != nil {
		return fmt.Errorf("mark seen: %w", err)
	}
	return nil
}

func (s *Service) ready() error {
	if s == nil || s.store == nil || s.authz == nil {
		return fmt.Errorf("conversation service is not configured")
	}
	return nil
}
