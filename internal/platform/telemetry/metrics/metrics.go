package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "parley"

// Authorization outcomes.
const (
	OutcomeAllowed = "allowed"
	OutcomeDenied  = "denied"
	OutcomeError   = "error"
)

// Metrics groups the collectors recorded by parley services. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	authnFailures  *prometheus.CounterVec
	authzDecisions *prometheus.CounterVec
	purposeTokens  *prometheus.CounterVec
	outbox         *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
}

// New creates collectors on a fresh registry, including Go runtime and
// process collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		authnFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "authn_failures_total",
			Help:      "Rejected authentication attempts by reason code.",
		}, []string{"reason"}),
		authzDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "authz_decisions_total",
			Help:      "Conversation access decisions by operation and outcome.",
		}, []string{"operation", "outcome"}),
		purposeTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "purpose_tokens_total",
			Help:      "Purpose token issue and consume results.",
		}, []string{"purpose", "result"}),
		outbox: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_deliveries_total",
			Help:      "Outbox mail delivery attempts by outcome.",
		}, []string{"outcome"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route template and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method", "status"}),
	}
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.authnFailures,
		m.authzDecisions,
		m.purposeTokens,
		m.outbox,
		m.httpDuration,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// AuthnFailure counts a rejected authentication attempt.
func (m *Metrics) AuthnFailure(reason string) {
	if m == nil {
		return
	}
	m.authnFailures.WithLabelValues(reason).Inc()
}

// AuthzDecision counts an authorization decision.
func (m *Metrics) AuthzDecision(operation, outcome string) {
	if m == nil {
		return
	}
	m.authzDecisions.WithLabelValues(operation, outcome).Inc()
}

// PurposeToken counts a purpose token issue or consume result.
func (m *Metrics) PurposeToken(purpose, result string) {
	if m == nil {
		return
	}
	m.purposeTokens.WithLabelValues(purpose, result).Inc()
}

// OutboxDelivery counts an outbox delivery outcome.
func (m *Metrics) OutboxDelivery(outcome string) {
	if m == nil {
		return
	}
	m.outbox.WithLabelValues(outcome).Inc()
}

// ObserveHTTP records one HTTP request.
func (m *Metrics) ObserveHTTP(route, method string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpDuration.WithLabelValues(route, method, strconv.Itoa(status)).Observe(elapsed.Seconds())
}
