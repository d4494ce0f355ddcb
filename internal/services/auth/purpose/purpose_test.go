package purpose

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	apperrors "github.com/louisbranch/parley/internal/platform/errors"
	"github.com/louisbranch/parley/internal/services/auth/storage"
	"github.com/louisbranch/parley/internal/services/auth/user"
)

type fakeTokenStore struct {
	mu           sync.Mutex
	tokens       map[string]storage.PurposeToken
	events       []storage.OutboxEvent
	consumeCalls int
	issueErr     error
}

func newFakeTokenStore() *fakeTokenStore {
	return &fakeTokenStore{tokens: make(map[string]storage.PurposeToken)}
}

func (s *fakeTokenStore) IssuePurposeToken(_ context.Context, token storage.PurposeToken, delivery storage.OutboxEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.issueErr != nil {
		return s.issueErr
	}
	for hash, existing := range s.tokens {
		if existing.UserID == token.UserID && existing.Purpose == token.Purpose && existing.ConsumedAt == nil && existing.RevokedAt == nil {
			revokedAt := token.CreatedAt
			existing.RevokedAt = &revokedAt
			s.tokens[hash] = existing
		}
	}
	s.tokens[token.TokenHash] = token
	s.events = append(s.events, delivery)
	return nil
}

func (s *fakeTokenStore) GetPurposeToken(_ context.Context, tokenHash string) (storage.PurposeToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	token, ok := s.tokens[tokenHash]
	if !ok {
		return storage.PurposeToken{}, storage.ErrNotFound
	}
	return token, nil
}

func (s *fakeTokenStore) ConsumePurposeToken(_ context.Context, tokenHash string, purpose string, now time.Time) (storage.PurposeToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consumeCalls++
	token, ok := s.tokens[tokenHash]
	if !ok || token.Purpose != purpose || token.ConsumedAt != nil || token.RevokedAt != nil || !now.Before(token.ExpiresAt) {
		return storage.PurposeToken{}, storage.ErrNotFound
	}
	consumedAt := now
	token.ConsumedAt = &consumedAt
	s.tokens[tokenHash] = token
	return token, nil
}

func (s *fakeTokenStore) DeleteExpiredPurposeTokens(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int64
	for hash, token := range s.tokens {
		if token.ExpiresAt.Before(before) {
			delete(s.tokens, hash)
			removed++
		}
	}
	return removed, nil
}

type fakeUsers map[string]user.User

func (f fakeUsers) GetUser(_ context.Context, userID string) (user.User, error) {
	u, ok := f[userID]
	if !ok {
		return user.User{}, storage.ErrNotFound
	}
	return u, nil
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestService(t *testing.T) (*Service, *fakeTokenStore, *testClock) {
	t.Helper()
	store := newFakeTokenStore()
	clock := &testClock{now: time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)}
	seq := 0
	svc := NewService(store, fakeUsers{
		"user-1": {ID: "user-1", Email: "alice@example.com"},
	}, Config{}, WithClock(clock.Now), WithIDGenerator(func() (string, error) {
		seq++
		return fmt.Sprintf("id-%d", seq), nil
	}))
	return svc, store, clock
}

func TestConfigNormalizedDefaults(t *testing.T) {
	cfg := Config{}.Normalized()
	if cfg.TTL(EmailVerification) != 30*time.Minute {
		t.Fatalf("verification ttl = %s, want 30m", cfg.TTL(EmailVerification))
	}
	if cfg.TTL(PasswordReset) != 15*time.Minute {
		t.Fatalf("reset ttl = %s, want 15m", cfg.TTL(PasswordReset))
	}
	if cfg.TTL(Purpose("other")) != 0 {
		t.Fatal("expected unknown purpose to have no ttl")
	}
}

func TestIssueStoresHashAndQueuesDelivery(t *testing.T) {
	svc, store, clock := newTestService(t)

	token, expiresAt, err := svc.Issue(context.Background(), "user-1", PasswordReset)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if want := clock.Now().Add(15 * time.Minute); !expiresAt.Equal(want) {
		t.Fatalf("expiresAt = %v, want %v", expiresAt, want)
	}
	if _, ok := store.tokens[token]; ok {
		t.Fatal("expected raw token not to be used as storage key")
	}
	record, ok := store.tokens[HashSecret(token)]
	if !ok {
		t.Fatal("expected token stored by hash")
	}
	if record.UserID != "user-1" || record.Purpose != string(PasswordReset) {
		t.Fatalf("unexpected record %+v", record)
	}

	if len(store.events) != 1 {
		t.Fatalf("events = %d, want 1", len(store.events))
	}
	event := store.events[0]
	if event.EventType != DeliveryEventType || event.Status != storage.OutboxStatusPending {
		t.Fatalf("unexpected event %+v", event)
	}
	var delivery Delivery
	if err := json.Unmarshal([]byte(event.PayloadJSON), &delivery); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if delivery.Address != "alice@example.com" || delivery.Token != token || delivery.Purpose != PasswordReset {
		t.Fatalf("unexpected delivery %+v", delivery)
	}
}

func TestConsumeSucceedsOnce(t *testing.T) {
	svc, _, _ := newTestService(t)
	token, _, err := svc.Issue(context.Background(), "user-1", EmailVerification)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	userID, err := svc.Consume(context.Background(), token, EmailVerification)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if userID != "user-1" {
		t.Fatalf("userID = %q, want %q", userID, "user-1")
	}

	_, err = svc.Consume(context.Background(), token, EmailVerification)
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("second consume = %v, want %v", err, ErrInvalid)
	}
	if apperrors.KindOf(err) != apperrors.KindTokenInvalid {
		t.Fatalf("kind = %q, want %q", apperrors.KindOf(err), apperrors.KindTokenInvalid)
	}
}

func TestConsumeRejectsExpiredBeforeWriting(t *testing.T) {
	svc, store, clock := newTestService(t)
	token, _, err := svc.Issue(context.Background(), "user-1", PasswordReset)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	clock.Advance(15 * time.Minute)
	if _, err := svc.Consume(context.Background(), token, PasswordReset); !errors.Is(err, ErrInvalid) {
		t.Fatalf("consume expired = %v, want %v", err, ErrInvalid)
	}
	if store.consumeCalls != 0 {
		t.Fatalf("consume calls = %d, want 0", store.consumeCalls)
	}
}

func TestConsumeRejectsPurposeMismatch(t *testing.T) {
	svc, _, _ := newTestService(t)
	token, _, err := svc.Issue(context.Background(), "user-1", EmailVerification)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	if _, err := svc.Consume(context.Background(), token, PasswordReset); !errors.Is(err, ErrInvalid) {
		t.Fatalf("consume wrong purpose = %v, want %v", err, ErrInvalid)
	}
	if _, err := svc.Consume(context.Background(), token, EmailVerification); err != nil {
		t.Fatalf("expected token to survive a mismatched attempt: %v", err)
	}
}

func TestConsumeRejectsUnknownAndEmpty(t *testing.T) {
	svc, _, _ := newTestService(t)
	for _, token := range []string{"", "  ", "never-issued"} {
		if _, err := svc.Consume(context.Background(), token, EmailVerification); !errors.Is(err, ErrInvalid) {
			t.Fatalf("Consume(%q) = %v, want %v", token, err, ErrInvalid)
		}
	}
}

func TestIssueRevokesPriorTokens(t *testing.T) {
	svc, _, _ := newTestService(t)
	first, _, err := svc.Issue(context.Background(), "user-1", PasswordReset)
	if err != nil {
		t.Fatalf("issue first: %v", err)
	}
	verification, _, err := svc.Issue(context.Background(), "user-1", EmailVerification)
	if err != nil {
		t.Fatalf("issue verification: %v", err)
	}
	second, _, err := svc.Issue(context.Background(), "user-1", PasswordReset)
	if err != nil {
		t.Fatalf("issue second: %v", err)
	}

	if _, err := svc.Consume(context.Background(), first, PasswordReset); !errors.Is(err, ErrInvalid) {
		t.Fatalf("consume revoked = %v, want %v", err, ErrInvalid)
	}
	if _, err := svc.Consume(context.Background(), second, PasswordReset); err != nil {
		t.Fatalf("consume latest: %v", err)
	}
	if _, err := svc.Consume(context.Background(), verification, EmailVerification); err != nil {
		t.Fatalf("expected other purpose to stay active: %v", err)
	}
}

func TestConsumeConcurrentDoubleSubmission(t *testing.T) {
	svc, _, _ := newTestService(t)
	token, _, err := svc.Issue(context.Background(), "user-1", PasswordReset)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	const attempts = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		invalid   int
	)
	start := make(chan struct{})
	for range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := svc.Consume(context.Background(), token, PasswordReset)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrInvalid):
				invalid++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if successes != 1 {
		t.Fatalf("successes = %d, want 1", successes)
	}
	if invalid != attempts-1 {
		t.Fatalf("invalid = %d, want %d", invalid, attempts-1)
	}
}

func TestIssueRejectsUnknownUserAndPurpose(t *testing.T) {
	svc, _, _ := newTestService(t)
	if _, _, err := svc.Issue(context.Background(), "missing", EmailVerification); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("issue unknown user = %v, want %v", err, storage.ErrNotFound)
	}
	if _, _, err := svc.Issue(context.Background(), "user-1", Purpose("login")); err == nil {
		t.Fatal("expected unknown purpose error")
	}
}

func TestIssuePropagatesStoreFailure(t *testing.T) {
	svc, store, _ := newTestService(t)
	store.issueErr = errors.New("disk full")
	if _, _, err := svc.Issue(context.Background(), "user-1", EmailVerification); err == nil {
		t.Fatal("expected store failure")
	}
}

func TestPurgeExpired(t *testing.T) {
	svc, store, clock := newTestService(t)
	if _, _, err := svc.Issue(context.Background(), "user-1", PasswordReset); err != nil {
		t.Fatalf("issue: %v", err)
	}
	clock.Advance(2 * time.Hour)
	removed, err := svc.PurgeExpired(context.Background(), time.Hour)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if removed != 1 || len(store.tokens) != 0 {
		t.Fatalf("removed = %d, remaining = %d", removed, len(store.tokens))
	}
}

func TestNewSecretIsRandom(t *testing.T) {
	a, err := NewSecret()
	if err != nil {
		t.Fatalf("new secret: %v", err)
	}
	b, err := NewSecret()
	if err != nil {
		t.Fatalf("new secret: %v", err)
	}
	if a == b {
		t.Fatal("expected distinct secrets")
	}
	if len(a) != 43 {
		t.Fatalf("secret length = %d, want 43", len(a))
	}
}
