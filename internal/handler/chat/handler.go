package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/finpulse/backend/internal/handler/httperr"
	"github.com/zhouzirui/finpulse/backend/internal/middleware"
	"github.com/zhouzirui/finpulse/backend/internal/model/agent"
	"github.com/zhouzirui/finpulse/backend/internal/model/chat"
	"github.com/zhouzirui/finpulse/backend/internal/model/user"
	chatService "github.com/zhouzirui/finpulse/backend/internal/service/chat"
	"github.com/zhouzirui/finpulse/backend/pkg/utils"
)

const maxBodyBytes = 1 << 20

var errBadIfMatch = errors.New("If-Match must be a revision number")

// Handler serves the support conversation stored on each user record.
type Handler struct {
	chatSvc *chatService.Service
}

// New creates a chat handler.
func New(chatSvc *chatService.Service) *Handler {
	return &Handler{chatSvc: chatSvc}
}

// RegisterRoutes registers the agent inbox.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.With(middleware.RequireAgent).Get("/users", h.handleInbox)
}

// RegisterUserRoutes registers the message routes on a router mounted at
// /users/{key}.
func (h *Handler) RegisterUserRoutes(r chi.Router) {
	r.Get("/messages", h.handleHistory)
	r.Post("/messages", h.handleAppend)
	r.Put("/messages", h.handleReplace)
	r.Post("/messages/read", h.handleMarkRead)
}

// handleInbox lists customer conversations, optionally filtered by ?q=.
func (h *Handler) handleInbox(w http.ResponseWriter, r *http.Request) {
	convs, err := h.chatSvc.Inbox(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		httperr.Respond(w, r, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, convs)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	transcript, err := h.chatSvc.History(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		httperr.Respond(w, r, err)
		return
	}
	w.Header().Set("ETag", etag(transcript.Revision))
	utils.RespondJSON(w, http.StatusOK, transcript)
}

// handleAppend stores one message and returns the updated record.
func (h *Handler) handleAppend(w http.ResponseWriter, r *http.Request) {
	var msg chat.Message
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&msg); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if msg.Sender == "" {
		msg.Sender = chat.SenderUser
	}
	if middleware.WriterRole(r.Context()) == chat.SenderUser && !customerMaySend(msg) {
		utils.RespondError(w, http.StatusForbidden, "customers can only send as user")
		return
	}

	u, err := h.chatSvc.Append(r.Context(), chi.URLParam(r, "key"), msg)
	if err != nil {
		httperr.Respond(w, r, err)
		return
	}
	w.Header().Set("ETag", etag(u.Revision))
	utils.RespondJSON(w, http.StatusCreated, u)
}

// handleReplace overwrites the conversation with the array in the body. An
// If-Match revision makes the write conditional.
func (h *Handler) handleReplace(w http.ResponseWriter, r *http.Request) {
	ifRevision, err := parseIfMatch(r.Header.Get("If-Match"))
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	var msgs []chat.Message
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&msgs); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid data format, expected an array of messages")
		return
	}
	if msgs == nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid data format, expected an array of messages")
		return
	}

	u, err := h.chatSvc.Replace(r.Context(), chi.URLParam(r, "key"), msgs, ifRevision, middleware.WriterRole(r.Context()))
	if err != nil {
		httperr.Respond(w, r, err)
		return
	}
	w.Header().Set("ETag", etag(u.Revision))
	utils.RespondJSON(w, http.StatusOK, u)
}

func (h *Handler) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	u, err := h.chatSvc.MarkRead(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		httperr.Respond(w, r, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, u)
}

// customerMaySend allows the customer's own messages and the automatic
// acknowledgement, which the customer's client composes and stores.
func customerMaySend(msg chat.Message) bool {
	return msg.Sender == chat.SenderUser ||
		(msg.Sender == chat.SenderAgent && msg.Name == agent.DefaultAgentName)
}

func etag(revision int64) string {
	return fmt.Sprintf("%q", strconv.FormatInt(revision, 10))
}

// parseIfMatch accepts 3, "3" or W/"3". An empty header or * means any
// revision.
func parseIfMatch(header string) (int64, error) {
	v := strings.TrimSpace(header)
	if v == "" || v == "*" {
		return user.AnyRevision, nil
	}
	v = strings.TrimPrefix(v, "W/")
	v = strings.Trim(v, `"`)
	rev, err := strconv.ParseInt(v, 10, 64)
	if err != nil || rev < 0 {
		return 0, errBadIfMatch
	}
	return rev, nil
}
