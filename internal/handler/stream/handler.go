package stream

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/finpulse/backend/internal/handler/httperr"
	"github.com/zhouzirui/finpulse/backend/internal/model/user"
	chatService "github.com/zhouzirui/finpulse/backend/internal/service/chat"
	"github.com/zhouzirui/finpulse/backend/pkg/utils"
)

const (
	eventMessages    = "messages"
	defaultKeepAlive = 15 * time.Second
)

// Handler pushes conversation changes to browsers over Server-Sent Events.
type Handler struct {
	chatSvc   *chatService.Service
	keepAlive time.Duration
	logger    *slog.Logger
}

// New creates a stream handler.
func New(chatSvc *chatService.Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		chatSvc:   chatSvc,
		keepAlive: defaultKeepAlive,
		logger:    logger.With("component", "sse"),
	}
}

// RegisterUserRoutes registers the stream on a router mounted at /users/{key}.
func (h *Handler) RegisterUserRoutes(r chi.Router) {
	r.Get("/messages/stream", h.handleStream)
}

// handleStream sends the current conversation, then every later change,
// until the client goes away.
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	ctx := r.Context()
	key := user.NormalizeKey(chi.URLParam(r, "key"))

	// Subscribe before reading so no write between the two is missed.
	updates, unsubscribe := h.chatSvc.Hub().Subscribe(key)
	defer unsubscribe()

	transcript, err := h.chatSvc.History(ctx, key)
	if err != nil {
		httperr.Respond(w, r, err)
		return
	}

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)

	last := transcript.Revision
	if err := utils.SendSSEEvent(w, flusher, eventMessages, chatService.Update{
		Key:      key,
		Messages: transcript.Messages,
		Revision: transcript.Revision,
	}); err != nil {
		return
	}
	h.logger.Debug("stream opened", "key", key, "revision", last)

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("stream closed", "key", key)
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			if u.Revision <= last {
				continue
			}
			last = u.Revision
			if err := utils.SendSSEEvent(w, flusher, eventMessages, u); err != nil {
				return
			}
		case <-ticker.C:
			if err := utils.SendSSEComment(w, flusher, "keep-alive"); err != nil {
				return
			}
		}
	}
}
