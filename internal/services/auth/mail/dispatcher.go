package mail

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/louisbranch/parley/internal/platform/telemetry/metrics"
	"github.com/louisbranch/parley/internal/platform/timeouts"
	"github.com/louisbranch/parley/internal/services/auth/purpose"
	"github.com/louisbranch/parley/internal/services/auth/storage"
)

const (
	defaultConsumer      = "parley-mail"
	defaultPollInterval  = 5 * time.Second
	defaultLeaseTTL      = 30 * time.Second
	defaultBatchSize     = 20
	defaultMaxAttempts   = 5
	defaultRetryBackoff  = 5 * time.Second
	defaultRetryMaxDelay = 5 * time.Minute
)

// Outcome labels for dispatch results.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeRetry     = "retry"
	OutcomeDead      = "dead"
)

// Config controls dispatcher loop behavior.
type Config struct {
	Consumer      string
	PollInterval  time.Duration
	LeaseTTL      time.Duration
	BatchSize     int
	MaxAttempts   int
	RetryBackoff  time.Duration
	RetryMaxDelay time.Duration
}

func (c Config) normalized() Config {
	c.Consumer = strings.TrimSpace(c.Consumer)
	if c.Consumer == "" {
		c.Consumer = defaultConsumer
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = defaultLeaseTTL
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = defaultRetryBackoff
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = defaultRetryMaxDelay
	}
	return c
}

// Dispatcher leases outbox events and hands them to a Mailer.
type Dispatcher struct {
	store   storage.OutboxStore
	mailer  Mailer
	config  Config
	clock   func() time.Time
	metrics *metrics.Metrics
}

// NewDispatcher builds a dispatcher. A nil clock uses time.Now.
func NewDispatcher(store storage.OutboxStore, mailer Mailer, cfg Config, clock func() time.Time, m *metrics.Metrics) *Dispatcher {
	if clock == nil {
		clock = time.Now
	}
	return &Dispatcher{
		store:   store,
		mailer:  mailer,
		config:  cfg.normalized(),
		clock:   clock,
		metrics: m,
	}
}

// Run polls the outbox until ctx ends.
func (d *Dispatcher) Run(ctx context.Context) error {
	if d == nil || d.store == nil || d.mailer == nil {
		return fmt.Errorf("mail dispatcher is not configured")
	}
	ticker := time.NewTicker(d.config.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := d.DispatchOnce(ctx); err != nil && ctx.Err() == nil {
			log.Printf("mail dispatch: %v", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// DispatchOnce processes one leased batch and returns how many events were
// acknowledged.
func (d *Dispatcher) DispatchOnce(ctx context.Context) (int, error) {
	if d == nil || d.store == nil || d.mailer == nil {
		return 0, fmt.Errorf("mail dispatcher is not configured")
	}
	now := d.clock().UTC()
	events, err := d.store.LeaseOutboxEvents(ctx, d.config.Consumer, d.config.BatchSize, now, d.config.LeaseTTL)
	if err != nil {
		return 0, fmt.Errorf("lease outbox events: %w", err)
	}

	acked := 0
	for _, event := range events {
		outcome, err := d.handle(ctx, event)
		if errors.Is(err, errLeaseLost) {
			log.Printf("mail dispatch: %v", err)
			continue
		}
		if err != nil {
			return acked, err
		}
		d.metrics.OutboxDelivery(outcome)
		acked++
	}
	return acked, nil
}

func (d *Dispatcher) handle(ctx context.Context, event storage.OutboxEvent) (string, error) {
	deliverErr := d.deliver(ctx, event)
	now := d.clock().UTC()

	switch {
	case deliverErr == nil:
		if err := d.store.MarkOutboxSucceeded(ctx, event.ID, d.config.Consumer, now); err != nil {
			return "", ackError(event.ID, err)
		}
		return OutcomeSucceeded, nil
	case IsPermanent(deliverErr) || event.AttemptCount+1 >= d.config.MaxAttempts:
		log.Printf("mail dispatch: event %s dead after %d attempts: %v", event.ID, event.AttemptCount+1, deliverErr)
		if err := d.store.MarkOutboxDead(ctx, event.ID, d.config.Consumer, deliverErr.Error(), now); err != nil {
			return "", ackError(event.ID, err)
		}
		return OutcomeDead, nil
	default:
		next := now.Add(d.backoff(event.AttemptCount))
		if err := d.store.MarkOutboxRetry(ctx, event.ID, d.config.Consumer, next, deliverErr.Error()); err != nil {
			return "", ackError(event.ID, err)
		}
		return OutcomeRetry, nil
	}
}

func (d *Dispatcher) deliver(ctx context.Context, event storage.OutboxEvent) error {
	if event.EventType != purpose.DeliveryEventType {
		return Permanent(fmt.Errorf("unsupported event type %q", event.EventType))
	}
	var payload purpose.Delivery
	if err := json.Unmarshal([]byte(event.PayloadJSON), &payload); err != nil {
		return Permanent(fmt.Errorf("decode delivery payload: %w", err))
	}
	if !payload.ExpiresAt.IsZero() && !d.clock().UTC().Before(payload.ExpiresAt) {
		return Permanent(fmt.Errorf("token expired before delivery"))
	}

	deliverCtx, cancel := context.WithTimeout(ctx, timeouts.MailDelivery)
	defer cancel()
	return d.mailer.Deliver(deliverCtx, Delivery{
		Address: payload.Address,
		Token:   payload.Token,
		Purpose: string(payload.Purpose),
	})
}

// backoff doubles RetryBackoff per prior attempt, capped at RetryMaxDelay.
func (d *Dispatcher) backoff(attempts int) time.Duration {
	delay := d.config.RetryBackoff
	for i := 0; i < attempts; i++ {
		delay *= 2
		if delay >= d.config.RetryMaxDelay {
			return d.config.RetryMaxDelay
		}
	}
	return delay
}

var errLeaseLost = errors.New("lease lost")

func ackError(eventID string, err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("ack outbox event %s: %w", eventID, errLeaseLost)
	}
	return fmt.Errorf("ack outbox event %s: %w", eventID, err)
}
