// Package metrics provides operational metrics collection.
//
// Collectors live on a dedicated Prometheus registry owned by the process so
// tests can build isolated instances. The registry is exposed in Prometheus
// text format on /metrics.
//
// # Metric Categories
//
//   - Authentication: rejected session and credential checks by reason
//   - Authorization: conversation access decisions by operation and outcome
//   - Purpose tokens: issue and consume results by purpose
//   - Outbox: mail delivery outcomes
//   - HTTP: request latency by route and status
package metrics
