// Package timeouts defines shared timeout constants used across services.
// Centralizing these values prevents drift between service boundaries and
// makes the durations discoverable.
package timeouts

import "time"

// ReadHeader limits how long an HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long an HTTP server waits for in-flight requests
// during graceful shutdown.
const Shutdown = 5 * time.Second

// StoreClose caps how long the server waits for the database to close.
const StoreClose = 2 * time.Second

// MailDelivery caps a single outbound mail delivery attempt.
const MailDelivery = 10 * time.Second

// HealthCheck caps a single gRPC health probe.
const HealthCheck = time.Second
