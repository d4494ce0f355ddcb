package sqlstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/louisbranch/parley/internal/services/auth/storage"
)

func enqueueEvent(t *testing.T, store *Store, id string, now time.Time) storage.OutboxEvent {
	t.Helper()
	event := storage.OutboxEvent{
		ID:            id,
		EventType:     "auth.purpose_token_delivery",
		PayloadJSON:   `{"address":"alice@example.com","token":"secret"}`,
		DedupeKey:     "purpose_token:" + id + ":v1",
		Status:        storage.OutboxStatusPending,
		NextAttemptAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := store.EnqueueOutboxEvent(context.Background(), event); err != nil {
		t.Fatalf("enqueue outbox event: %v", err)
	}
	return event
}

func TestOutboxEnqueueLeaseAndAckSucceeded(t *testing.T) {
	store := openTempStore(t)
	now := time.Date(2026, 2, 21, 22, 0, 0, 0, time.UTC)
	event := enqueueEvent(t, store, "evt-1", now)

	leased, err := store.LeaseOutboxEvents(context.Background(), "worker-1", 10, now, 5*time.Minute)
	if err != nil {
		t.Fatalf("lease outbox events: %v", err)
	}
	if len(leased) != 1 {
		t.Fatalf("leased len = %d, want 1", len(leased))
	}
	if leased[0].Status != storage.OutboxStatusLeased {
		t.Fatalf("leased status = %q, want %q", leased[0].Status, storage.OutboxStatusLeased)
	}
	if leased[0].LeaseOwner != "worker-1" {
		t.Fatalf("lease owner = %q, want %q", leased[0].LeaseOwner, "worker-1")
	}
	if leased[0].LeaseExpiresAt == nil {
		t.Fatal("expected lease expiry")
	}

	// Wrong owner cannot ack.
	if err := store.MarkOutboxSucceeded(context.Background(), event.ID, "worker-2", now.Add(time.Minute)); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for wrong owner ack, got %v", err)
	}
	if err := store.MarkOutboxSucceeded(context.Background(), event.ID, "worker-1", now.Add(time.Minute)); err != nil {
		t.Fatalf("ack succeeded: %v", err)
	}

	updated, err := store.GetOutboxEvent(context.Background(), event.ID)
	if err != nil {
		t.Fatalf("get outbox event: %v", err)
	}
	if updated.Status != storage.OutboxStatusSucceeded {
		t.Fatalf("status = %q, want %q", updated.Status, storage.OutboxStatusSucceeded)
	}
	if updated.PayloadJSON != "{}" {
		t.Fatalf("payload = %q, want cleared", updated.PayloadJSON)
	}
	if updated.LeaseOwner != "" || updated.LeaseExpiresAt != nil {
		t.Fatalf("lease not released: owner %q, expiry %v", updated.LeaseOwner, updated.LeaseExpiresAt)
	}
	if updated.ProcessedAt == nil {
		t.Fatal("expected processed_at")
	}
}

func TestOutboxDedupeKeyIgnoresRepeat(t *testing.T) {
	store := openTempStore(t)
	now := time.Date(2026, 2, 21, 22, 0, 0, 0, time.UTC)
	enqueueEvent(t, store, "evt-1", now)

	repeat := storage.OutboxEvent{ID: "evt-2", EventType: "auth.purpose_token_delivery", DedupeKey: "purpose_token:evt-1:v1"}
	if err := store.EnqueueOutboxEvent(context.Background(), repeat); err != nil {
		t.Fatalf("enqueue repeat: %v", err)
	}
	if _, err := store.GetOutboxEvent(context.Background(), "evt-2"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("repeat event = %v, want %v", err, storage.ErrNotFound)
	}
}

func TestOutboxLeaseRespectsExpiry(t *testing.T) {
	store := openTempStore(t)
	now := time.Date(2026, 2, 21, 22, 5, 0, 0, time.UTC)
	enqueueEvent(t, store, "evt-1", now)

	if _, err := store.LeaseOutboxEvents(context.Background(), "worker-1", 10, now, time.Minute); err != nil {
		t.Fatalf("first lease: %v", err)
	}
	again, err := store.LeaseOutboxEvents(context.Background(), "worker-2", 10, now.Add(30*time.Second), time.Minute)
	if err != nil {
		t.Fatalf("second lease: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("leased len while lease active = %d, want 0", len(again))
	}
	stolen, err := store.LeaseOutboxEvents(context.Background(), "worker-2", 10, now.Add(2*time.Minute), time.Minute)
	if err != nil {
		t.Fatalf("lease after expiry: %v", err)
	}
	if len(stolen) != 1 || stolen[0].LeaseOwner != "worker-2" {
		t.Fatalf("lease after expiry = %+v, want one event owned by worker-2", stolen)
	}
}

func TestOutboxRetryAndDead(t *testing.T) {
	store := openTempStore(t)
	now := time.Date(2026, 2, 21, 22, 10, 0, 0, time.UTC)
	event := enqueueEvent(t, store, "evt-1", now)
	ctx := context.Background()

	if _, err := store.LeaseOutboxEvents(ctx, "worker-1", 1, now, time.Minute); err != nil {
		t.Fatalf("lease: %v", err)
	}
	next := now.Add(10 * time.Second)
	if err := store.MarkOutboxRetry(ctx, event.ID, "worker-1", next, "smtp unavailable"); err != nil {
		t.Fatalf("retry: %v", err)
	}
	retried, err := store.GetOutboxEvent(ctx, event.ID)
	if err != nil {
		t.Fatalf("get retried: %v", err)
	}
	if retried.Status != storage.OutboxStatusPending || retried.AttemptCount != 1 || !retried.NextAttemptAt.Equal(next) {
		t.Fatalf("unexpected retried event: %+v", retried)
	}
	if retried.LastError != "smtp unavailable" {
		t.Fatalf("last error = %q, want %q", retried.LastError, "smtp unavailable")
	}

	early, err := store.LeaseOutboxEvents(ctx, "worker-1", 1, now.Add(5*time.Second), time.Minute)
	if err != nil {
		t.Fatalf("early lease: %v", err)
	}
	if len(early) != 0 {
		t.Fatalf("leased before next attempt: %d", len(early))
	}
	if _, err := store.LeaseOutboxEvents(ctx, "worker-1", 1, next, time.Minute); err != nil {
		t.Fatalf("lease again: %v", err)
	}
	if err := store.MarkOutboxDead(ctx, event.ID, "worker-1", "bad address", next); err != nil {
		t.Fatalf("dead: %v", err)
	}
	dead, err := store.GetOutboxEvent(ctx, event.ID)
	if err != nil {
		t.Fatalf("get dead: %v", err)
	}
	if dead.Status != storage.OutboxStatusDead || dead.AttemptCount != 2 || dead.PayloadJSON != "{}" {
		t.Fatalf("unexpected dead event: %+v", dead)
	}
}
