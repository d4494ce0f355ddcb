package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCountersRecordLabels(t *testing.T) {
	m := New()

	m.AuthnFailure("SESSION_INVALID")
	m.AuthnFailure("SESSION_INVALID")
	m.AuthzDecision("rename", OutcomeDenied)
	m.PurposeToken("password_reset", "consumed")
	m.OutboxDelivery("succeeded")

	if got := testutil.ToFloat64(m.authnFailures.WithLabelValues("SESSION_INVALID")); got != 2 {
		t.Fatalf("authn failures = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.authzDecisions.WithLabelValues("rename", OutcomeDenied)); got != 1 {
		t.Fatalf("authz decisions = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.purposeTokens.WithLabelValues("password_reset", "consumed")); got != 1 {
		t.Fatalf("purpose tokens = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.outbox.WithLabelValues("succeeded")); got != 1 {
		t.Fatalf("outbox deliveries = %v, want 1", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.AuthnFailure("AUTH_REQUIRED")
	m.AuthzDecision("send", OutcomeAllowed)
	m.PurposeToken("email_verification", "issued")
	m.OutboxDelivery("dead")
	m.ObserveHTTP("/v1/conversations", http.MethodGet, http.StatusOK, time.Millisecond)
	if m.Registry() != nil {
		t.Fatal("expected nil registry")
	}
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.ObserveHTTP("/v1/conversations/{id}", http.MethodPatch, http.StatusForbidden, 5*time.Millisecond)
	m.AuthnFailure("AUTH_REQUIRED")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	body := rec.Body.String()
	for _, want := range []string{
		"parley_http_request_duration_seconds",
		`parley_authn_failures_total{reason="AUTH_REQUIRED"} 1`,
		"go_goroutines",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected metrics output to contain %q", want)
		}
	}
}
