package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	apperrors "github.com/louisbranch/parley/internal/platform/errors"
	"github.com/louisbranch/parley/internal/platform/otel"
	"github.com/louisbranch/parley/internal/platform/requestctx"
)

// SessionHeader carries the session token.
const SessionHeader = "auth_key"

var (
	// ErrAuthRequired rejects requests that carry no session token.
	ErrAuthRequired = apperrors.New(apperrors.CodeAuthRequired, "authentication required")
	errNotFound     = apperrors.New(apperrors.CodeNotFound, "route not found")
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// instrument opens a span and records latency per route template.
func (h *handler) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := r.URL.Path
		if current := mux.CurrentRoute(r); current != nil {
			if template, err := current.GetPathTemplate(); err == nil {
				route = template
			}
		}

		ctx, span := otel.Tracer().Start(r.Context(), r.Method+" "+route)
		defer span.End()
		span.SetAttributes(
			semconv.HTTPRequestMethodKey.String(r.Method),
			semconv.HTTPRoute(route),
		)

		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		started := time.Now()
		next.ServeHTTP(recorder, r.WithContext(ctx))

		span.SetAttributes(semconv.HTTPResponseStatusCode(recorder.status))
		h.metrics.ObserveHTTP(route, r.Method, recorder.status, time.Since(started))
	})
}

// requireSession verifies the session token and stores the acting identity
// in the request context. A missing token and an invalid one are distinct
// codes but both answer 401.
func (h *handler) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := sessionToken(r)
		if !ok {
			h.metrics.AuthnFailure(string(apperrors.CodeAuthRequired))
			h.writeError(w, r, ErrAuthRequired)
			return
		}
		claims, err := h.sessions.Verify(token)
		if err != nil {
			h.metrics.AuthnFailure(string(apperrors.CodeOf(err)))
			h.writeError(w, r, err)
			return
		}
		ctx := requestctx.WithSession(r.Context(), requestctx.Session{ID: claims.SessionID, UserID: claims.UserID})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// sessionToken reads the auth_key header, falling back to an Authorization
// bearer credential.
func sessionToken(r *http.Request) (string, bool) {
	if token := strings.TrimSpace(r.Header.Get(SessionHeader)); token != "" {
		return token, true
	}
	authorization := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, found := strings.Cut(authorization, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func (h *handler) notFound(w http.ResponseWriter, r *http.Request) {
	h.writeError(w, r, errNotFound)
}

func (h *handler) methodNotAllowed(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusMethodNotAllowed, errorBody{Code: "METHOD_NOT_ALLOWED", Message: "method not allowed"})
}
