package httpapi

import (
	"net/http"
	"strings"
	"time"

	apperrors "github.com/louisbranch/parley/internal/platform/errors"
	"github.com/louisbranch/parley/internal/platform/requestctx"
	"github.com/louisbranch/parley/internal/services/auth/credential"
	"github.com/louisbranch/parley/internal/services/auth/user"
)

var errLoginIdentifier = apperrors.New(apperrors.CodeInvalidInput, "exactly one of email or handle is required")

type sessionResponse struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expires_at"`
	User      user.Public `json:"user"`
}

type signupRequest struct {
	Handle      string `json:"handle"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Password    string `json:"password"`
}

func (h *handler) signup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	created, err := h.credentials.Signup(r.Context(), credential.SignupInput{
		Handle:      req.Handle,
		Email:       req.Email,
		DisplayName: req.DisplayName,
		Password:    req.Password,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	// The account exists at this point; a failed verification request is
	// retried by the user through /auth/email/verification.
	if _, err := h.accounts.RequestEmailVerification(r.Context(), created.ID); err != nil {
		h.logf("signup verification request for %s: %v", created.ID, err)
	}
	h.startSession(w, r, http.StatusCreated, created)
}

type loginRequest struct {
	Email    string `json:"email"`
	Handle   string `json:"handle"`
	Password string `json:"password"`
}

func (h *handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	email := strings.TrimSpace(req.Email)
	handle := strings.TrimSpace(req.Handle)
	if (email == "") == (handle == "") {
		h.writeError(w, r, errLoginIdentifier)
		return
	}
	identifierIsEmail := email != ""
	identifier := handle
	if identifierIsEmail {
		identifier = email
	}

	account, err := h.credentials.Authenticate(r.Context(), identifierIsEmail, identifier, req.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.startSession(w, r, http.StatusOK, account)
}

func (h *handler) startSession(w http.ResponseWriter, r *http.Request, status int, account user.User) {
	token, claims, err := h.sessions.Issue(account.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, status, sessionResponse{
		Token:     token,
		ExpiresAt: claims.ExpiresAt,
		User:      account.Public(),
	})
}

// logout is a signature check only; sessions are stateless, so the client
// discards its token.
func (h *handler) logout(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) requestEmailVerification(w http.ResponseWriter, r *http.Request) {
	expiresAt, err := h.accounts.RequestEmailVerification(r.Context(), requestctx.UserIDFromContext(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]time.Time{"expires_at": expiresAt})
}

type tokenRequest struct {
	Token string `json:"token"`
}

func (h *handler) verifyEmail(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	userID, err := h.accounts.VerifyEmail(r.Context(), req.Token)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user_id": userID, "email_verified": true})
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

// forgotPassword always answers 202 so callers cannot probe for accounts.
func (h *handler) forgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.accounts.RequestPasswordReset(r.Context(), req.Email); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

type resetPasswordRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

func (h *handler) resetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if _, err := h.accounts.ResetPassword(r.Context(), req.Token, req.Password); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) getMe(w http.ResponseWriter, r *http.Request) {
	account, err := h.users.GetUser(r.Context(), requestctx.UserIDFromContext(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, account.Public())
}

type updateMeRequest struct {
	DisplayName string `json:"display_name"`
}

func (h *handler) updateMe(w http.ResponseWriter, r *http.Request) {
	var req updateMeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	updated, err := h.credentials.UpdateProfile(r.Context(), requestctx.UserIDFromContext(r.Context()), req.DisplayName)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated.Public())
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

func (h *handler) changePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.credentials.ChangePassword(r.Context(), requestctx.UserIDFromContext(r.Context()), req.CurrentPassword, req.NewPassword); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
