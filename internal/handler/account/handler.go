package account

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/finpulse/backend/internal/handler/httperr"
	"github.com/zhouzirui/finpulse/backend/internal/middleware"
	accountService "github.com/zhouzirui/finpulse/backend/internal/service/account"
	"github.com/zhouzirui/finpulse/backend/pkg/utils"
)

const maxBodyBytes = 1 << 20

// Handler serves registration, login and the account routes.
type Handler struct {
	accounts *accountService.Service
}

// New creates an account handler.
func New(accounts *accountService.Service) *Handler {
	return &Handler{accounts: accounts}
}

// RegisterPublicRoutes registers the routes that work without a token.
func (h *Handler) RegisterPublicRoutes(r chi.Router) {
	r.Post("/auth/register", h.handleRegister)
	r.Post("/auth/login", h.handleLogin)
}

// RegisterUserRoutes registers the account routes on a router mounted at
// /users/{key}.
func (h *Handler) RegisterUserRoutes(r chi.Router) {
	r.Get("/", h.handleGet)
	r.Put("/", h.handleUpdate)
	r.Delete("/", h.handleDelete)
	r.Post("/transactions", h.handleAddTransaction)
	r.Delete("/transactions/{id}", h.handleRemoveTransaction)
	r.Post("/analytics", h.handleAnalytics)
	r.Get("/export", h.handleExport)
	r.Post("/import", h.handleImport)
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var in accountService.RegisterInput
	if !decode(w, r, &in) {
		return
	}
	u, err := h.accounts.Register(r.Context(), in)
	if err != nil {
		httperr.Respond(w, r, err)
		return
	}
	utils.RespondJSON(w, http.StatusCreated, u)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !decode(w, r, &payload) {
		return
	}
	if payload.Email == "" || payload.Password == "" {
		utils.RespondError(w, http.StatusBadRequest, "email and password are required")
		return
	}
	session, err := h.accounts.Login(r.Context(), payload.Email, payload.Password)
	if err != nil {
		httperr.Respond(w, r, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, session)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	u, err := h.accounts.Get(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		httperr.Respond(w, r, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, u)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var patch accountService.ProfilePatch
	if !decode(w, r, &patch) {
		return
	}
	u, err := h.accounts.UpdateProfile(r.Context(), chi.URLParam(r, "key"), patch)
	if err != nil {
		httperr.Respond(w, r, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, u)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.accounts.Delete(r.Context(), chi.URLParam(r, "key")); err != nil {
		httperr.Respond(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleAddTransaction(w http.ResponseWriter, r *http.Request) {
	var in accountService.TransactionInput
	if !decode(w, r, &in) {
		return
	}
	u, err := h.accounts.AddTransaction(r.Context(), chi.URLParam(r, "key"), in)
	if err != nil {
		httperr.Respond(w, r, err)
		return
	}
	utils.RespondJSON(w, http.StatusCreated, u)
}

func (h *Handler) handleRemoveTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "transaction id must be a number")
		return
	}
	u, err := h.accounts.RemoveTransaction(r.Context(), chi.URLParam(r, "key"), id)
	if err != nil {
		httperr.Respond(w, r, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, u)
}

// handleAnalytics recomputes balance, spending windows and category shares.
func (h *Handler) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	u, err := h.accounts.RefreshAnalytics(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		httperr.Respond(w, r, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, u)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	u, err := h.accounts.Get(r.Context(), key)
	if err != nil {
		httperr.Respond(w, r, err)
		return
	}
	raw, err := h.accounts.Export(r.Context(), key)
	if err != nil {
		httperr.Respond(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", accountService.ExportFileName(u.Name)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}

func (h *Handler) handleImport(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	u, err := h.accounts.Import(r.Context(), chi.URLParam(r, "key"), raw, middleware.WriterRole(r.Context()))
	if err != nil {
		httperr.Respond(w, r, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, u)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}
