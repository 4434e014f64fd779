// Package httperr maps service errors to HTTP responses.
package httperr

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/zhouzirui/finpulse/backend/internal/fixture"
	"github.com/zhouzirui/finpulse/backend/internal/model/chat"
	"github.com/zhouzirui/finpulse/backend/internal/model/user"
	"github.com/zhouzirui/finpulse/backend/internal/service/account"
	chatService "github.com/zhouzirui/finpulse/backend/internal/service/chat"
	"github.com/zhouzirui/finpulse/backend/pkg/utils"
)

// Status returns the HTTP status for err.
func Status(err error) int {
	switch {
	case errors.Is(err, user.ErrNotFound), errors.Is(err, fixture.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, user.ErrDuplicateKey), errors.Is(err, user.ErrRevisionConflict):
		return http.StatusConflict
	case errors.Is(err, user.ErrInvalid),
		errors.Is(err, account.ErrInvalidInput),
		errors.Is(err, account.ErrKeyMismatch),
		errors.Is(err, fixture.ErrNotArray),
		errors.Is(err, chatService.ErrEmptyText),
		errors.Is(err, chatService.ErrInvalidSender):
		return http.StatusBadRequest
	case errors.Is(err, account.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, chat.ErrAgentMessage):
		return http.StatusForbidden
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Respond writes err as {"error": ...}. Server errors are logged and their
// details withheld.
func Respond(w http.ResponseWriter, r *http.Request, err error) {
	status := Status(err)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		utils.RespondError(w, status, http.StatusText(status))
		return
	}
	utils.RespondError(w, status, err.Error())
}
