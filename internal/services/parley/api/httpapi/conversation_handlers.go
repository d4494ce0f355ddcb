package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/louisbranch/parley/internal/platform/requestctx"
	"github.com/louisbranch/parley/internal/services/chat/access"
	"github.com/louisbranch/parley/internal/services/chat/conversation"
)

type createConversationRequest struct {
	ParticipantIDs []string `json:"participant_ids"`
	IsGroup        bool     `json:"is_group"`
	Name           string   `json:"name"`
}

func (h *handler) createConversation(w http.ResponseWriter, r *http.Request) {
	var req createConversationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	created, err := h.conversations.CreateConversation(r.Context(), conversation.CreateInput{
		CreatorID:      requestctx.UserIDFromContext(r.Context()),
		ParticipantIDs: req.ParticipantIDs,
		IsGroup:        req.IsGroup,
		Name:           req.Name,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *handler) listConversations(w http.ResponseWriter, r *http.Request) {
	conversations, err := h.conversations.ListConversations(r.Context(), requestctx.UserIDFromContext(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": conversations})
}

type renameRequest struct {
	Name string `json:"name"`
}

func (h *handler) renameConversation(w http.ResponseWriter, r *http.Request) {
	var req renameRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	renamed, err := h.conversations.Rename(r.Context(), requestctx.UserIDFromContext(r.Context()), mux.Vars(r)["id"], req.Name)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, renamed)
}

func (h *handler) leaveConversation(w http.ResponseWriter, r *http.Request) {
	if err := h.conversations.Leave(r.Context(), requestctx.UserIDFromContext(r.Context()), mux.Vars(r)["id"]); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type candidateResponse struct {
	UserID        string `json:"user_id"`
	Handle        string `json:"handle"`
	DisplayName   string `json:"display_name"`
	AlreadyMember bool   `json:"already_member"`
}

type memberPageResponse struct {
	Results  []candidateResponse `json:"results"`
	Page     int                 `json:"page"`
	PageSize int                 `json:"page_size"`
	HasMore  bool                `json:"has_more"`
}

func (h *handler) searchMembers(w http.ResponseWriter, r *http.Request) {
	page, err := h.members.SearchMembers(
		r.Context(),
		requestctx.UserIDFromContext(r.Context()),
		mux.Vars(r)["id"],
		r.URL.Query().Get("q"),
		queryInt(r, "page", 1),
		queryInt(r, "page_size", access.DefaultPageSize),
	)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response := memberPageResponse{
		Results:  make([]candidateResponse, 0, len(page.Candidates)),
		Page:     page.Page,
		PageSize: page.PageSize,
		HasMore:  page.HasMore,
	}
	for _, candidate := range page.Candidates {
		response.Results = append(response.Results, candidateResponse(candidate))
	}
	writeJSON(w, http.StatusOK, response)
}

type addMemberRequest struct {
	UserID string `json:"user_id"`
}

func (h *handler) addMember(w http.ResponseWriter, r *http.Request) {
	var req addMemberRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	added, err := h.conversations.AddMember(r.Context(), requestctx.UserIDFromContext(r.Context()), mux.Vars(r)["id"], req.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if added {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]bool{"added": added})
}

type postMessageRequest struct {
	Body      string `json:"body"`
	MediaRef  string `json:"media_ref"`
	ReplyToID string `json:"reply_to_id"`
}

func (h *handler) postMessage(w http.ResponseWriter, r *http.Request) {
	var req postMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	posted, err := h.conversations.PostMessage(r.Context(), conversation.MessageInput{
		ConversationID: mux.Vars(r)["id"],
		SenderID:       requestctx.UserIDFromContext(r.Context()),
		Body:           req.Body,
		MediaRef:       req.MediaRef,
		ReplyToID:      req.ReplyToID,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, posted)
}

type messagePageResponse struct {
	Messages []conversation.Message `json:"messages"`
	Page     int                    `json:"page"`
	PageSize int                    `json:"page_size"`
	HasMore  bool                   `json:"has_more"`
}

func (h *handler) listMessages(w http.ResponseWriter, r *http.Request) {
	page, err := h.conversations.ListMessages(
		r.Context(),
		requestctx.UserIDFromContext(r.Context()),
		mux.Vars(r)["id"],
		queryInt(r, "page", 1),
		queryInt(r, "page_size", 0),
	)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	messages := page.Messages
	if messages == nil {
		messages = []conversation.Message{}
	}
	writeJSON(w, http.StatusOK, messagePageResponse{
		Messages: messages,
		Page:     page.Page,
		PageSize: page.PageSize,
		HasMore:  page.HasMore,
	})
}

type markSeenRequest struct {
	MessageID string `json:"message_id"`
}

func (h *handler) markSeen(w http.ResponseWriter, r *http.Request) {
	var req markSeenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.conversations.MarkSeen(r.Context(), requestctx.UserIDFromContext(r.Context()), mux.Vars(r)["id"], req.MessageID); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) deleteMessage(w http.ResponseWriter, r *http.Request) {
	if err := h.conversations.DeleteMessage(r.Context(), requestctx.UserIDFromContext(r.Context()), mux.Vars(r)["id"]); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
