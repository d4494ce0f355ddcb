// Package credential verifies and manages password credentials.
//
// Accounts are looked up by identifier alone; the presented password is
// then checked against the stored bcrypt hash. Unknown accounts and wrong
// passwords produce the same error and a comparable amount of work.
package credential

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/crypto/bcrypt"

	apperrors "github.com/louisbranch/parley/internal/platform/errors"
	"github.com/louisbranch/parley/internal/platform/id"
	"github.com/louisbranch/parley/internal/platform/otel"
	"github.com/louisbranch/parley/internal/platform/telemetry/metrics"
	"github.com/louisbranch/parley/internal/services/auth/storage"
	"github.com/louisbranch/parley/internal/services/auth/user"
)

const (
	// MinPasswordLength is the shortest accepted password, in bytes.
	MinPasswordLength = 8
	// MaxPasswordLength is bcrypt's input limit, in bytes.
	MaxPasswordLength = 72

	dummyPassword = "parley-dummy-password"
)

var (
	// ErrInvalidCredentials is the only failure Authenticate reports for a
	// bad identifier or password.
	ErrInvalidCredentials = apperrors.New(apperrors.CodeInvalidCredentials, "invalid credentials")
	// ErrPasswordTooShort rejects passwords under MinPasswordLength.
	ErrPasswordTooShort = apperrors.New(apperrors.CodeUserPasswordTooShort, "password must be at least 8 bytes")
	// ErrPasswordTooLong rejects passwords over MaxPasswordLength.
	ErrPasswordTooLong = apperrors.New(apperrors.CodeUserPasswordTooLong, "password must be at most 72 bytes")
	// ErrHandleTaken reports a duplicate handle at signup.
	ErrHandleTaken = apperrors.New(apperrors.CodeUserHandleTaken, "handle is already taken")
	// ErrEmailTaken reports a duplicate email at signup.
	ErrEmailTaken = apperrors.New(apperrors.CodeUserEmailTaken, "email is already registered")
)

// ValidatePassword enforces the password length policy.
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return ErrPasswordTooShort
	}
	if len(password) > MaxPasswordLength {
		return ErrPasswordTooLong
	}
	return nil
}

// Option customizes a Service.
type Option func(*Service)

// WithCost overrides the bcrypt cost. Tests use bcrypt.MinCost.
func WithCost(cost int) Option {
	return func(s *Service) {
		if cost >= bcrypt.MinCost && cost <= bcrypt.MaxCost {
			s.cost = cost
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.clock = now
		}
	}
}

// WithIDGenerator overrides user id generation.
func WithIDGenerator(idGenerator func() (string, error)) Option {
	return func(s *Service) {
		if idGenerator != nil {
			s.idGenerator = idGenerator
		}
	}
}

// WithMetrics records authentication failures.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// Service authenticates accounts and owns password changes.
type Service struct {
	users       storage.UserStore
	cost        int
	clock       func() time.Time
	idGenerator func() (string, error)
	metrics     *metrics.Metrics
	dummyHash   []byte
}

// NewService builds a credential service over users.
func NewService(users storage.UserStore, opts ...Option) (*Service, error) {
	s := &Service{
		users:       users,
		cost:        bcrypt.DefaultCost,
		clock:       time.Now,
		idGenerator: id.NewID,
	}
	for _, opt := range opts {
		opt(s)
	}
	dummyHash, err := bcrypt.GenerateFromPassword([]byte(dummyPassword), s.cost)
	if err != nil {
		return nil, fmt.Errorf("prepare dummy hash: %w", err)
	}
	s.dummyHash = dummyHash
	return s, nil
}

// HashPassword validates password and returns its bcrypt hash.
func (s *Service) HashPassword(password string) (string, error) {
	if err := ValidatePassword(password); err != nil {
		return "", err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// Authenticate looks up the account by email when identifierIsEmail is set,
// otherwise by handle, and verifies password against its stored hash.
func (s *Service) Authenticate(ctx context.Context, identifierIsEmail bool, identifier, password string) (user.User, error) {
	ctx, span := otel.Tracer().Start(ctx, "credential.Authenticate")
	defer span.End()
	span.SetAttributes(attribute.Bool("identifier_is_email", identifierIsEmail))

	if s == nil || s.users == nil {
		return user.User{}, fmt.Errorf("credential service is not configured")
	}

	account, err := s.lookup(ctx, identifierIsEmail, identifier)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			return user.User{}, fmt.Errorf("lookup account: %w", err)
		}
		// Spend the same bcrypt work as a real comparison.
		_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
		s.metrics.AuthnFailure(string(apperrors.CodeInvalidCredentials))
		return user.User{}, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		s.metrics.AuthnFailure(string(apperrors.CodeInvalidCredentials))
		return user.User{}, ErrInvalidCredentials
	}
	return account, nil
}

func (s *Service) lookup(ctx context.Context, identifierIsEmail bool, identifier string) (user.User, error) {
	if identifierIsEmail {
		email, err := user.NormalizeEmail(identifier)
		if err != nil {
			return user.User{}, storage.ErrNotFound
		}
		return s.users.GetUserByEmail(ctx, email)
	}
	handle := user.NormalizeHandle(identifier)
	if user.ValidateHandle(handle) != nil {
		return user.User{}, storage.ErrNotFound
	}
	return s.users.GetUserByHandle(ctx, handle)
}

// SignupInput describes a new account.
type SignupInput struct {
	Handle      string
	Email       string
	DisplayName string
	Password    string
}

// Signup validates input, hashes the password, and stores the account.
func (s *Service) Signup(ctx context.Context, input SignupInput) (user.User, error) {
	ctx, span := otel.Tracer().Start(ctx, "credential.Signup")
	defer span.End()

	if s == nil || s.users == nil {
		return user.User{}, fmt.Errorf("credential service is not configured")
	}
	normalized, err := user.NormalizeCreateUserInput(user.CreateUserInput{
		Handle:      input.Handle,
		Email:       input.Email,
		DisplayName: input.DisplayName,
	})
	if err != nil {
		return user.User{}, err
	}
	hash, err := s.HashPassword(input.Password)
	if err != nil {
		return user.User{}, err
	}
	normalized.PasswordHash = hash

	created, err := user.CreateUser(normalized, s.clock, s.idGenerator)
	if err != nil {
		return user.User{}, err
	}
	if err := s.users.PutUser(ctx, created); err != nil {
		return user.User{}, mapConflict(err)
	}
	return created, nil
}

// ChangePassword replaces the password after verifying the current one.
func (s *Service) ChangePassword(ctx context.Context, userID, current, next string) error {
	ctx, span := otel.Tracer().Start(ctx, "credential.ChangePassword")
	defer span.End()

	if s == nil || s.users == nil {
		return fmt.Errorf("credential service is not configured")
	}
	account, err := s.users.GetUser(ctx, strings.TrimSpace(userID))
	if err != nil {
		return fmt.Errorf("get account: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(current)); err != nil {
		s.metrics.AuthnFailure(string(apperrors.CodeInvalidCredentials))
		return ErrInvalidCredentials
	}
	return s.SetPassword(ctx, account.ID, next)
}

// SetPassword replaces the password without checking the current one. It is
// reserved for flows that already proved control of the account.
func (s *Service) SetPassword(ctx context.Context, userID, next string) error {
	if s == nil || s.users == nil {
		return fmt.Errorf("credential service is not configured")
	}
	hash, err := s.HashPassword(next)
	if err != nil {
		return err
	}
	if err := s.users.UpdateUserPassword(ctx, userID, hash, s.clock().UTC()); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

// UpdateProfile changes the display name and returns the updated account.
func (s *Service) UpdateProfile(ctx context.Context, userID, displayName string) (user.User, error) {
	if s == nil || s.users == nil {
		return user.User{}, fmt.Errorf("credential service is not configured")
	}
	normalized, err := user.NormalizeDisplayName(displayName)
	if err != nil {
		return user.User{}, err
	}
	if err := s.users.UpdateUserProfile(ctx, userID, normalized, s.clock().UTC()); err != nil {
		return user.User{}, fmt.Errorf("update profile: %w", err)
	}
	return s.users.GetUser(ctx, userID)
}

func mapConflict(err error) error {
	var conflict *storage.ConflictError
	if errors.As(err, &conflict) {
		switch conflict.Field {
		case "handle":
			return ErrHandleTaken
		case "email":
			return ErrEmailTaken
		}
	}
	if errors.Is(err, storage.ErrConflict) {
		return apperrors.Wrap(apperrors.CodeConflict, "account already exists", err)
	}
	return fmt.Errorf("put user: %w", err)
}
