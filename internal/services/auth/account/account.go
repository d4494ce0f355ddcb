// Package account composes credentials and purpose tokens into the email
// verification and password reset flows.
package account

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/louisbranch/parley/internal/platform/errors"
	"github.com/louisbranch/parley/internal/services/auth/credential"
	"github.com/louisbranch/parley/internal/services/auth/purpose"
	"github.com/louisbranch/parley/internal/services/auth/storage"
	"github.com/louisbranch/parley/internal/services/auth/user"
)

// ErrEmailAlreadyVerified rejects a verification request for a verified address.
var ErrEmailAlreadyVerified = apperrors.New(apperrors.CodeUserEmailAlreadyVerify, "email is already verified")

// Tokens issues and consumes purpose tokens.
type Tokens interface {
	Issue(ctx context.Context, userID string, p purpose.Purpose) (string, time.Time, error)
	Consume(ctx context.Context, token string, p purpose.Purpose) (string, error)
}

// Passwords validates and replaces account passwords.
type Passwords interface {
	SetPassword(ctx context.Context, userID, next string) error
}

// Users reads accounts and records verification.
type Users interface {
	GetUser(ctx context.Context, userID string) (user.User, error)
	GetUserByEmail(ctx context.Context, email string) (user.User, error)
	MarkUserEmailVerified(ctx context.Context, userID string, verifiedAt time.Time) error
}

// Flows runs verification and reset flows.
type Flows struct {
	users     Users
	tokens    Tokens
	passwords Passwords
	clock     func() time.Time
}

// NewFlows builds account flows. A nil clock uses time.Now.
func NewFlows(users Users, tokens Tokens, passwords Passwords, clock func() time.Time) *Flows {
	if clock == nil {
		clock = time.Now
	}
	return &Flows{users: users, tokens: tokens, passwords: passwords, clock: clock}
}

// RequestEmailVerification sends a verification token to the account email.
func (f *Flows) RequestEmailVerification(ctx context.Context, userID string) (time.Time, error) {
	if err := f.check(); err != nil {
		return time.Time{}, err
	}
	account, err := f.users.GetUser(ctx, userID)
	if err != nil {
		return time.Time{}, fmt.Errorf("get account: %w", err)
	}
	if account.EmailVerifiedAt != nil {
		return time.Time{}, ErrEmailAlreadyVerified
	}
	_, expiresAt, err := f.tokens.Issue(ctx, account.ID, purpose.EmailVerification)
	if err != nil {
		return time.Time{}, err
	}
	return expiresAt, nil
}

// VerifyEmail consumes a verification token and marks the owner verified.
func (f *Flows) VerifyEmail(ctx context.Context, token string) (string, error) {
	if err := f.check(); err != nil {
		return "", err
	}
	userID, err := f.tokens.Consume(ctx, token, purpose.EmailVerification)
	if err != nil {
		return "", err
	}
	if err := f.users.MarkUserEmailVerified(ctx, userID, f.clock().UTC()); err != nil {
		return "", fmt.Errorf("mark email verified: %w", err)
	}
	return userID, nil
}

// RequestPasswordReset sends a reset token when email belongs to an
// account. Unknown or malformed addresses succeed silently so the response
// cannot be used to discover accounts.
func (f *Flows) RequestPasswordReset(ctx context.Context, email string) error {
	if err := f.check(); err != nil {
		return err
	}
	normalized, err := user.NormalizeEmail(email)
	if err != nil {
		return nil
	}
	account, err := f.users.GetUserByEmail(ctx, normalized)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("get account: %w", err)
	}
	if _, _, err := f.tokens.Issue(ctx, account.ID, purpose.PasswordReset); err != nil {
		return err
	}
	return nil
}

// ResetPassword consumes a reset token and replaces the owner's password.
// The new password is validated first so a typo does not burn the token.
func (f *Flows) ResetPassword(ctx context.Context, token, newPassword string) (string, error) {
	if err := f.check(); err != nil {
		return "", err
	}
	if err := credential.ValidatePassword(newPassword); err != nil {
		return "", err
	}
	userID, err := f.tokens.Consume(ctx, token, purpose.PasswordReset)
	if err != nil {
		return "", err
	}
	if err := f.passwords.SetPassword(ctx, userID, newPassword); err != nil {
		return "", err
	}
	return userID, nil
}

func (f *Flows) check() error {
	if f == nil || f.users == nil || f.tokens == nil || f.passwords == nil {
		return fmt.Errorf("account flows are not configured")
	}
	return nil
}
