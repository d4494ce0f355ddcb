package httpapi

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/louisbranch/parley/internal/platform/telemetry/metrics"
	"github.com/louisbranch/parley/internal/services/auth/credential"
	"github.com/louisbranch/parley/internal/services/auth/session"
	"github.com/louisbranch/parley/internal/services/auth/user"
	"github.com/louisbranch/parley/internal/services/chat/access"
	"github.com/louisbranch/parley/internal/services/chat/conversation"
	"github.com/louisbranch/parley/internal/services/chat/service"
)

// Sessions issues and verifies session tokens.
type Sessions interface {
	Issue(userID string) (string, session.Claims, error)
	Verify(token string) (session.Claims, error)
}

// Credentials authenticates and manages password accounts.
type Credentials interface {
	Authenticate(ctx context.Context, identifierIsEmail bool, identifier, password string) (user.User, error)
	Signup(ctx context.Context, input credential.SignupInput) (user.User, error)
	ChangePassword(ctx context.Context, userID, current, next string) error
	UpdateProfile(ctx context.Context, userID, displayName string) (user.User, error)
}

// Accounts runs the email verification and password reset flows.
type Accounts interface {
	RequestEmailVerification(ctx context.Context, userID string) (time.Time, error)
	VerifyEmail(ctx context.Context, token string) (string, error)
	RequestPasswordReset(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, token, newPassword string) (string, error)
}

// Users reads accounts.
type Users interface {
	GetUser(ctx context.Context, userID string) (user.User, error)
}

// Conversations runs gated conversation operations.
type Conversations interface {
	CreateConversation(ctx context.Context, input conversation.CreateInput) (conversation.Conversation, error)
	ListConversations(ctx context.Context, userID string) ([]conversation.Conversation, error)
	Rename(ctx context.Context, userID, conversationID, name string) (conversation.Conversation, error)
	AddMember(ctx context.Context, userID, conversationID, inviteeID string) (bool, error)
	Leave(ctx context.Context, userID, conversationID string) error
	PostMessage(ctx context.Context, input conversation.MessageInput) (conversation.Message, error)
	ListMessages(ctx context.Context, userID, conversationID string, page, pageSize int) (service.MessagePage, error)
	DeleteMessage(ctx context.Context, userID, messageID string) error
	MarkSeen(ctx context.Context, userID, conversationID, messageID string) error
}

// Members searches users for a conversation.
type Members interface {
	SearchMembers(ctx context.Context, userID, conversationID, query string, page, pageSize int) (access.MemberPage, error)
}

// Deps holds the collaborators the API needs.
type Deps struct {
	Sessions      Sessions
	Credentials   Credentials
	Accounts      Accounts
	Users         Users
	Conversations Conversations
	Members       Members
	Metrics       *metrics.Metrics
	// Health reports whether backing stores are reachable. Optional.
	Health func(ctx context.Context) error
	// Logf receives internal errors. Defaults to log.Printf.
	Logf func(format string, args ...any)
}

type handler struct {
	sessions      Sessions
	credentials   Credentials
	accounts      Accounts
	users         Users
	conversations Conversations
	members       Members
	metrics       *metrics.Metrics
	health        func(ctx context.Context) error
	logf          func(format string, args ...any)
}

// NewHandler builds the HTTP handler.
func NewHandler(deps Deps) (http.Handler, error) {
	switch {
	case deps.Sessions == nil:
		return nil, fmt.Errorf("sessions are required")
	case deps.Credentials == nil:
		return nil, fmt.Errorf("credentials are required")
	case deps.Accounts == nil:
		return nil, fmt.Errorf("accounts are required")
	case deps.Users == nil:
		return nil, fmt.Errorf("users are required")
	case deps.Conversations == nil:
		return nil, fmt.Errorf("conversations are required")
	case deps.Members == nil:
		return nil, fmt.Errorf("members are required")
	}
	h := &handler{
		sessions:      deps.Sessions,
		credentials:   deps.Credentials,
		accounts:      deps.Accounts,
		users:         deps.Users,
		conversations: deps.Conversations,
		members:       deps.Members,
		metrics:       deps.Metrics,
		health:        deps.Health,
		logf:          deps.Logf,
	}
	if h.logf == nil {
		h.logf = log.Printf
	}
	return h.routes(), nil
}

func (h *handler) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(h.instrument)
	r.NotFoundHandler = http.HandlerFunc(h.notFound)
	r.MethodNotAllowedHandler = http.HandlerFunc(h.methodNotAllowed)

	r.HandleFunc("/healthz", h.healthz).Methods(http.MethodGet)
	if h.metrics != nil {
		r.Handle("/metrics", h.metrics.Handler()).Methods(http.MethodGet)
	}

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/auth/signup", h.signup).Methods(http.MethodPost)
	v1.HandleFunc("/auth/login", h.login).Methods(http.MethodPost)
	v1.HandleFunc("/auth/email/verify", h.verifyEmail).Methods(http.MethodPost)
	v1.HandleFunc("/auth/password/forgot", h.forgotPassword).Methods(http.MethodPost)
	v1.HandleFunc("/auth/password/reset", h.resetPassword).Methods(http.MethodPost)

	// Session checks wrap each route; a wrong method answers 405 before auth.
	authed := func(fn http.HandlerFunc) http.Handler {
		return h.requireSession(fn)
	}
	v1.Handle("/auth/logout", authed(h.logout)).Methods(http.MethodPost)
	v1.Handle("/auth/email/verification", authed(h.requestEmailVerification)).Methods(http.MethodPost)

	v1.Handle("/users/me", authed(h.getMe)).Methods(http.MethodGet)
	v1.Handle("/users/me", authed(h.updateMe)).Methods(http.MethodPatch)
	v1.Handle("/users/me/password", authed(h.changePassword)).Methods(http.MethodPut)

	v1.Handle("/conversations", authed(h.createConversation)).Methods(http.MethodPost)
	v1.Handle("/conversations", authed(h.listConversations)).Methods(http.MethodGet)
	v1.Handle("/conversations/{id}", authed(h.renameConversation)).Methods(http.MethodPatch)
	v1.Handle("/conversations/{id}", authed(h.leaveConversation)).Methods(http.MethodDelete)
	v1.Handle("/conversations/{id}/members/search", authed(h.searchMembers)).Methods(http.MethodGet)
	v1.Handle("/conversations/{id}/members", authed(h.addMember)).Methods(http.MethodPost)
	v1.Handle("/conversations/{id}/messages", authed(h.postMessage)).Methods(http.MethodPost)
	v1.Handle("/conversations/{id}/messages", authed(h.listMessages)).Methods(http.MethodGet)
	v1.Handle("/conversations/{id}/seen", authed(h.markSeen)).Methods(http.MethodPut)
	v1.Handle("/messages/{id}", authed(h.deleteMessage)).Methods(http.MethodDelete)
	return r
}

func (h *handler) healthz(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		if err := h.health(r.Context()); err != nil {
			h.logf("health check failed: %v", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
