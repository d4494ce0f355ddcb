package user

import (
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	apperrors "github.com/louisbranch/parley/internal/platform/errors"
	"github.com/louisbranch/parley/internal/platform/id"
)

const maxDisplayNameLength = 64

var (
	// ErrInvalidHandle indicates a handle that does not match the required format.
	ErrInvalidHandle = apperrors.New(apperrors.CodeUserInvalidHandle, "handle must be 3-32 lowercase alphanumeric, dot, dash, or underscore characters")
	// ErrInvalidEmail indicates an email that is not a bare RFC 5322 address.
	ErrInvalidEmail = apperrors.New(apperrors.CodeUserInvalidEmail, "email address is invalid")
	// ErrEmptyDisplayName indicates a missing or oversized display name.
	ErrEmptyDisplayName = apperrors.New(apperrors.CodeUserEmptyDisplayName, "display name must be 1-64 characters")

	handlePattern = regexp.MustCompile(`^[a-z0-9_.\-]{3,32}$`)
)

// User represents an account record. PasswordHash never leaves the server;
// use Public for anything serialized to clients.
type User struct {
	ID              string
	Handle          string
	Email           string
	PasswordHash    string
	DisplayName     string
	EmailVerifiedAt *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Public is the client-facing view of a user.
type Public struct {
	ID            string    `json:"id"`
	Handle        string    `json:"handle"`
	Email         string    `json:"email,omitempty"`
	DisplayName   string    `json:"display_name"`
	EmailVerified bool      `json:"email_verified"`
	CreatedAt     time.Time `json:"created_at"`
}

// Public returns the view of u that is safe to return to its owner.
func (u User) Public() Public {
	return Public{
		ID:            u.ID,
		Handle:        u.Handle,
		Email:         u.Email,
		DisplayName:   u.DisplayName,
		EmailVerified: u.EmailVerifiedAt != nil,
		CreatedAt:     u.CreatedAt,
	}
}

// Profile returns the view of u that other users may see.
func (u User) Profile() Public {
	return Public{
		ID:          u.ID,
		Handle:      u.Handle,
		DisplayName: u.DisplayName,
		CreatedAt:   u.CreatedAt,
	}
}

// CreateUserInput describes the metadata needed to create a user.
type CreateUserInput struct {
	Handle       string
	Email        string
	DisplayName  string
	PasswordHash string
}

// ValidateHandle enforces canonical handle constraints used by login, member
// search, and conversation display.
func ValidateHandle(s string) error {
	if !handlePattern.MatchString(s) {
		return ErrInvalidHandle
	}
	return nil
}

// NormalizeHandle lowercases and trims a handle.
func NormalizeHandle(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// NormalizeEmail validates and canonicalizes an email address. Display-name
// forms such as "Alice <a@b.c>" are rejected.
func NormalizeEmail(s string) (string, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return "", ErrInvalidEmail
	}
	addr, err := mail.ParseAddress(trimmed)
	if err != nil || addr.Name != "" || addr.Address != trimmed {
		return "", ErrInvalidEmail
	}
	return strings.ToLower(addr.Address), nil
}

// NormalizeDisplayName trims and validates a display name.
func NormalizeDisplayName(s string) (string, error) {
	trimmed := norm.NFC.String(strings.TrimSpace(s))
	if trimmed == "" || len([]rune(trimmed)) > maxDisplayNameLength {
		return "", ErrEmptyDisplayName
	}
	return trimmed, nil
}

// CreateUser creates a durable user identity from validated input.
//
// This is the canonical point where untrusted signup data becomes a stable
// identity used by sessions, purpose tokens, and conversations.
func CreateUser(input CreateUserInput, now func() time.Time, idGenerator func() (string, error)) (User, error) {
	if now == nil {
		now = time.Now
	}
	if idGenerator == nil {
		idGenerator = id.NewID
	}

	normalized, err := NormalizeCreateUserInput(input)
	if err != nil {
		return User{}, err
	}
	if normalized.PasswordHash == "" {
		return User{}, fmt.Errorf("password hash is required")
	}

	userID, err := idGenerator()
	if err != nil {
		return User{}, fmt.Errorf("generate user id: %w", err)
	}

	createdAt := now().UTC()
	return User{
		ID:           userID,
		Handle:       normalized.Handle,
		Email:        normalized.Email,
		PasswordHash: normalized.PasswordHash,
		DisplayName:  normalized.DisplayName,
		CreatedAt:    createdAt,
		UpdatedAt:    createdAt,
	}, nil
}

// NormalizeCreateUserInput trims and normalizes input before validation.
// An empty display name falls back to the handle.
func NormalizeCreateUserInput(input CreateUserInput) (CreateUserInput, error) {
	input.Handle = NormalizeHandle(input.Handle)
	if err := ValidateHandle(input.Handle); err != nil {
		return CreateUserInput{}, err
	}
	email, err := NormalizeEmail(input.Email)
	if err != nil {
		return CreateUserInput{}, err
	}
	input.Email = email
	if strings.TrimSpace(input.DisplayName) == "" {
		input.DisplayName = input.Handle
	}
	displayName, err := NormalizeDisplayName(input.DisplayName)
	if err != nil {
		return CreateUserInput{}, err
	}
	input.DisplayName = displayName
	return input, nil
}
