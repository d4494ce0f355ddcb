package account

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/louisbranch/parley/internal/services/auth/credential"
	"github.com/louisbranch/parley/internal/services/auth/purpose"
	"github.com/louisbranch/parley/internal/services/auth/storage"
	"github.com/louisbranch/parley/internal/services/auth/user"
)

type fakeUsers struct {
	users    map[string]user.User
	verified map[string]time.Time
}

func (f *fakeUsers) GetUser(_ context.Context, userID string) (user.User, error) {
	u, ok := f.users[userID]
	if !ok {
		return user.User{}, storage.ErrNotFound
	}
	return u, nil
}

func (f *fakeUsers) GetUserByEmail(_ context.Context, email string) (user.User, error) {
	for _, u := range f.users {
		if u.Email == email {
			return u, nil
		}
	}
	return user.User{}, storage.ErrNotFound
}

func (f *fakeUsers) MarkUserEmailVerified(_ context.Context, userID string, verifiedAt time.Time) error {
	f.verified[userID] = verifiedAt
	return nil
}

type issued struct {
	userID  string
	purpose purpose.Purpose
}

type fakeTokens struct {
	issued   []issued
	owners   map[string]string
	consumed []string
}

func (f *fakeTokens) Issue(_ context.Context, userID string, p purpose.Purpose) (string, time.Time, error) {
	f.issued = append(f.issued, issued{userID: userID, purpose: p})
	return "token-" + string(p), time.Date(2026, 6, 1, 0, 30, 0, 0, time.UTC), nil
}

func (f *fakeTokens) Consume(_ context.Context, token string, p purpose.Purpose) (string, error) {
	f.consumed = append(f.consumed, token)
	owner, ok := f.owners[token+"|"+string(p)]
	if !ok {
		return "", purpose.ErrInvalid
	}
	delete(f.owners, token+"|"+string(p))
	return owner, nil
}

type fakePasswords struct {
	set map[string]string
}

func (f *fakePasswords) SetPassword(_ context.Context, userID, next string) error {
	f.set[userID] = next
	return nil
}

func newTestFlows() (*Flows, *fakeUsers, *fakeTokens, *fakePasswords) {
	users := &fakeUsers{
		users: map[string]user.User{
			"user-1": {ID: "user-1", Email: "alice@example.com"},
		},
		verified: make(map[string]time.Time),
	}
	tokens := &fakeTokens{owners: make(map[string]string)}
	passwords := &fakePasswords{set: make(map[string]string)}
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	return NewFlows(users, tokens, passwords, func() time.Time { return now }), users, tokens, passwords
}

func TestRequestEmailVerification(t *testing.T) {
	flows, users, tokens, _ := newTestFlows()

	if _, err := flows.RequestEmailVerification(context.Background(), "user-1"); err != nil {
		t.Fatalf("request verification: %v", err)
	}
	if len(tokens.issued) != 1 || tokens.issued[0].purpose != purpose.EmailVerification {
		t.Fatalf("issued = %+v", tokens.issued)
	}

	verifiedAt := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	u := users.users["user-1"]
	u.EmailVerifiedAt = &verifiedAt
	users.users["user-1"] = u
	if _, err := flows.RequestEmailVerification(context.Background(), "user-1"); !errors.Is(err, ErrEmailAlreadyVerified) {
		t.Fatalf("request for verified = %v, want %v", err, ErrEmailAlreadyVerified)
	}
}

func TestVerifyEmailMarksOwner(t *testing.T) {
	flows, users, tokens, _ := newTestFlows()
	tokens.owners["abc|email_verification"] = "user-1"

	userID, err := flows.VerifyEmail(context.Background(), "abc")
	if err != nil {
		t.Fatalf("verify email: %v", err)
	}
	if userID != "user-1" {
		t.Fatalf("userID = %q, want %q", userID, "user-1")
	}
	if _, ok := users.verified["user-1"]; !ok {
		t.Fatal("expected user to be marked verified")
	}
	if _, err := flows.VerifyEmail(context.Background(), "abc"); !errors.Is(err, purpose.ErrInvalid) {
		t.Fatalf("replay = %v, want %v", err, purpose.ErrInvalid)
	}
}

func TestRequestPasswordResetIsSilentForUnknownEmail(t *testing.T) {
	flows, _, tokens, _ := newTestFlows()

	for _, email := range []string{"nobody@example.com", "not-an-email", ""} {
		if err := flows.RequestPasswordReset(context.Background(), email); err != nil {
			t.Fatalf("RequestPasswordReset(%q) = %v, want nil", email, err)
		}
	}
	if len(tokens.issued) != 0 {
		t.Fatalf("issued = %d, want 0", len(tokens.issued))
	}

	if err := flows.RequestPasswordReset(context.Background(), "Alice@Example.com"); err != nil {
		t.Fatalf("request reset: %v", err)
	}
	if len(tokens.issued) != 1 || tokens.issued[0].purpose != purpose.PasswordReset {
		t.Fatalf("issued = %+v", tokens.issued)
	}
}

func TestResetPasswordValidatesBeforeConsuming(t *testing.T) {
	flows, _, tokens, passwords := newTestFlows()
	tokens.owners["reset|password_reset"] = "user-1"

	if _, err := flows.ResetPassword(context.Background(), "reset", "short"); !errors.Is(err, credential.ErrPasswordTooShort) {
		t.Fatalf("short password = %v, want %v", err, credential.ErrPasswordTooShort)
	}
	if len(tokens.consumed) != 0 {
		t.Fatal("expected token to stay unconsumed after invalid password")
	}

	userID, err := flows.ResetPassword(context.Background(), "reset", "new password")
	if err != nil {
		t.Fatalf("reset password: %v", err)
	}
	if userID != "user-1" || passwords.set["user-1"] != "new password" {
		t.Fatalf("unexpected reset result user=%q set=%v", userID, passwords.set)
	}

	if _, err := flows.ResetPassword(context.Background(), "reset", "another password"); !errors.Is(err, purpose.ErrInvalid) {
		t.Fatalf("replay = %v, want %v", err, purpose.ErrInvalid)
	}
}

func TestVerificationTokenCannotResetPassword(t *testing.T) {
	flows, _, tokens, _ := newTestFlows()
	tokens.owners["abc|email_verification"] = "user-1"

	if _, err := flows.ResetPassword(context.Background(), "abc", "new password"); !errors.Is(err, purpose.ErrInvalid) {
		t.Fatalf("reset with verification token = %v, want %v", err, purpose.ErrInvalid)
	}
}
