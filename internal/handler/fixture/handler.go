package fixture

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/finpulse/backend/internal/fixture"
	"github.com/zhouzirui/finpulse/backend/internal/handler/httperr"
	"github.com/zhouzirui/finpulse/backend/pkg/utils"
)

const maxBodyBytes = 8 << 20

// Handler exposes the seed file the web client bootstraps from.
type Handler struct {
	file *fixture.File
}

// New creates a fixture handler.
func New(file *fixture.File) *Handler {
	return &Handler{file: file}
}

// RegisterRoutes registers the fixture file routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/loadJson", h.handleLoad)
	r.Post("/saveJson", h.handleSave)
}

func (h *Handler) handleLoad(w http.ResponseWriter, r *http.Request) {
	raw, err := h.file.Load()
	if err != nil {
		httperr.Respond(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}

func (h *Handler) handleSave(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.file.Save(raw); err != nil {
		httperr.Respond(w, r, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]bool{"success": true})
}
