package agent

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/finpulse/backend/internal/model/agent"
	"github.com/zhouzirui/finpulse/backend/pkg/utils"
)

// Handler serves support agent profiles.
type Handler struct {
	agents agent.Store
}

// New creates an agent handler.
func New(agents agent.Store) *Handler {
	return &Handler{agents: agents}
}

// RegisterRoutes registers the agent routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/agents", h.handleListAgents)
	r.Get("/agents/{id}", h.handleGetAgent)
}

func (h *Handler) handleListAgents(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.agents.List())
}

func (h *Handler) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	profile, ok := h.agents.FindByID(chi.URLParam(r, "id"))
	if !ok {
		utils.RespondError(w, http.StatusNotFound, "agent not found")
		return
	}
	utils.RespondJSON(w, http.StatusOK, profile)
}
