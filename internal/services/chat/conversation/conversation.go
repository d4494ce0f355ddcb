// Package conversation defines the conversation, membership, and message
// model.
package conversation

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	apperrors "github.com/louisbranch/parley/internal/platform/errors"
	"github.com/louisbranch/parley/internal/platform/id"
)

const (
	maxNameLength = 64
	// MaxBodyLength bounds message text, in runes.
	MaxBodyLength = 4000
)

var (
	// ErrInvalidParticipants rejects a participant set that does not fit the
	// conversation kind.
	ErrInvalidParticipants = apperrors.New(apperrors.CodeConversationInvalidParticipants, "direct conversations need exactly one other participant and groups need at least one")
	// ErrNameNotAllowed rejects a name on a direct conversation.
	ErrNameNotAllowed = apperrors.New(apperrors.CodeConversationNameNotAllowed, "only group conversations can be named")
	// ErrNameEmpty rejects an empty or oversized rename.
	ErrNameEmpty = apperrors.New(apperrors.CodeConversationNameEmpty, "conversation name must be 1-64 characters")
	// ErrMessageEmpty rejects a message with neither body nor media.
	ErrMessageEmpty = apperrors.New(apperrors.CodeMessageEmpty, "message needs a body or a media reference")
	// ErrMessageTooLong rejects an oversized message body.
	ErrMessageTooLong = apperrors.New(apperrors.CodeMessageTooLong, "message body is too long")
)

// Conversation is a direct or group thread.
type Conversation struct {
	ID        string    `json:"id"`
	IsGroup   bool      `json:"is_group"`
	Name      string    `json:"name,omitempty"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Membership records that a user participates in a conversation. Its
// existence is the only source of truth for participation.
type Membership struct {
	ConversationID    string     `json:"conversation_id"`
	UserID            string     `json:"user_id"`
	LastSeenMessageID string     `json:"last_seen_message_id,omitempty"`
	LastSeenAt        *time.Time `json:"last_seen_at,omitempty"`
	JoinedAt          time.Time  `json:"joined_at"`
}

// Message belongs to one conversation and one sender. Content never changes
// after creation; deletion only sets the marker fields.
type Message struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversation_id"`
	SenderID       string     `json:"sender_id"`
	Body           string     `json:"body,omitempty"`
	MediaRef       string     `json:"media_ref,omitempty"`
	ReplyToID      string     `json:"reply_to_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	DeletedAt      *time.Time `json:"-"`
	DeletedBy      string     `json:"-"`
}

// Deleted reports whether the message carries the deletion marker.
func (m Message) Deleted() bool {
	return m.DeletedAt != nil
}

// CreateInput describes a new conversation.
type CreateInput struct {
	CreatorID      string
	ParticipantIDs []string
	IsGroup        bool
	Name           string
}

// Normalized holds a validated CreateInput. Members includes the creator.
type Normalized struct {
	CreatorID string
	Others    []string
	Members   []string
	IsGroup   bool
	Name      string
}

// NormalizeCreateInput trims ids, drops duplicates and the creator from the
// participant list, and checks the participant count for the kind.
func NormalizeCreateInput(input CreateInput) (Normalized, error) {
	creator := strings.TrimSpace(input.CreatorID)
	if creator == "" {
		return Normalized{}, fmt.Errorf("creator id is required")
	}

	seen := map[string]struct{}{creator: {}}
	others := make([]string, 0, len(input.ParticipantIDs))
	for _, participant := range input.ParticipantIDs {
		participant = strings.TrimSpace(participant)
		if participant == "" {
			continue
		}
		if _, ok := seen[participant]; ok {
			continue
		}
		seen[participant] = struct{}{}
		others = append(others, participant)
	}

	name := strings.TrimSpace(input.Name)
	if input.IsGroup {
		if len(others) < 1 {
			return Normalized{}, ErrInvalidParticipants
		}
		if name != "" {
			var err error
			if name, err = NormalizeName(name); err != nil {
				return Normalized{}, err
			}
		}
	} else {
		if len(others) != 1 {
			return Normalized{}, ErrInvalidParticipants
		}
		if name != "" {
			return Normalized{}, ErrNameNotAllowed
		}
	}

	return Normalized{
		CreatorID: creator,
		Others:    others,
		Members:   append([]string{creator}, others...),
		IsGroup:   input.IsGroup,
		Name:      name,
	}, nil
}

// NormalizeName trims and validates a group name.
func NormalizeName(name string) (string, error) {
	trimmed := norm.NFC.String(strings.TrimSpace(name))
	if trimmed == "" || len([]rune(trimmed)) > maxNameLength {
		return "", ErrNameEmpty
	}
	return trimmed, nil
}

// New builds a conversation from normalized input.
func New(input Normalized, now func() time.Time, idGenerator func() (string, error)) (Conversation, error) {
	if now == nil {
		now = time.Now
	}
	if idGenerator == nil {
		idGenerator = id.NewID
	}
	conversationID, err := idGenerator()
	if err != nil {
		return Conversation{}, fmt.Errorf("generate conversation id: %w", err)
	}
	createdAt := now().UTC()
	return Conversation{
		ID:        conversationID,
		IsGroup:   input.IsGroup,
		Name:      input.Name,
		CreatedBy: input.CreatorID,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}, nil
}

// MessageInput describes a message to post.
type MessageInput struct {
	ConversationID string
	SenderID       string
	Body           string
	MediaRef       string
	ReplyToID      string
}

// NewMessage validates input and builds a message.
func NewMessage(input MessageInput, now func() time.Time, idGenerator func() (string, error)) (Message, error) {
	if now == nil {
		now = time.Now
	}
	if idGenerator == nil {
		idGenerator = id.NewID
	}
	body := strings.TrimSpace(input.Body)
	mediaRef := strings.TrimSpace(input.MediaRef)
	if body == "" && mediaRef == "" {
		return Message{}, ErrMessageEmpty
	}
	if len([]rune(body)) > MaxBodyLength {
		return Message{}, ErrMessageTooLong
	}
	messageID, err := idGenerator()
	if err != nil {
		return Message{}, fmt.Errorf("generate message id: %w", err)
	}
	return Message{
		ID:             messageID,
		ConversationID: strings.TrimSpace(input.ConversationID),
		SenderID:       strings.TrimSpace(input.SenderID),
		Body:           body,
		MediaRef:       mediaRef,
		ReplyToID:      strings.TrimSpace(input.ReplyToID),
		CreatedAt:      now().UTC(),
	}, nil
}
