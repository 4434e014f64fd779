package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/finpulse/backend/internal/model/chat"
	"github.com/zhouzirui/finpulse/backend/internal/model/user"
	"github.com/zhouzirui/finpulse/backend/internal/service/account"
	"github.com/zhouzirui/finpulse/backend/pkg/utils"
)

type claimsKey struct{}

// TokenValidator verifies bearer tokens.
type TokenValidator interface {
	Enabled() bool
	Validate(token string) (*account.Claims, error)
}

// ClaimsFromContext returns the claims Authenticate stored, if any.
func ClaimsFromContext(ctx context.Context) (*account.Claims, bool) {
	claims, ok := ctx.Value(claimsKey{}).(*account.Claims)
	return claims, ok
}

// WithClaims returns ctx carrying claims.
func WithClaims(ctx context.Context, claims *account.Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, claims)
}

// Authenticate requires a valid bearer token when v is enabled. Browsers
// cannot set headers on EventSource or WebSocket requests, so the token may
// also arrive as the access_token query parameter.
func Authenticate(v TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if v == nil || !v.Enabled() {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				utils.RespondError(w, http.StatusUnauthorized, "authorization required, use 'Bearer <token>'")
				return
			}
			claims, err := v.Validate(token)
			if err != nil {
				msg := "invalid token"
				if errors.Is(err, account.ErrExpiredToken) {
					msg = "token expired"
				}
				slog.Debug("token rejected", "path", r.URL.Path, "error", err)
				utils.RespondError(w, http.StatusUnauthorized, msg)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// RequireKeyAccess lets agents through to any user record and customers only
// to their own, identified by the {param} URL parameter. Requests without
// claims pass, which is the case when authentication is disabled.
func RequireKeyAccess(param string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r.Context())
			if ok && !CanAccess(claims, chi.URLParam(r, param)) {
				utils.RespondError(w, http.StatusForbidden, "access to this user is not allowed")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAgent restricts a route to support agents when claims are present.
func RequireAgent(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if claims, ok := ClaimsFromContext(r.Context()); ok && claims.Role != user.TypeAgent {
			utils.RespondError(w, http.StatusForbidden, "agent role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// WriterRole is the sender role a request writes messages as. Without claims
// authentication is off and the caller is trusted like an agent.
func WriterRole(ctx context.Context) chat.Sender {
	if claims, ok := ClaimsFromContext(ctx); ok && claims.Role != user.TypeAgent {
		return chat.SenderUser
	}
	return chat.SenderAgent
}

// CanAccess reports whether claims may read or write the record under key.
func CanAccess(claims *account.Claims, key string) bool {
	if claims.Role == user.TypeAgent {
		return true
	}
	return user.NormalizeKey(claims.Email) == user.NormalizeKey(key)
}

func bearerToken(r *http.Request) (string, bool) {
	if header := r.Header.Get("Authorization"); header != "" {
		scheme, token, found := strings.Cut(header, " ")
		if !found || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
			return "", false
		}
		return strings.TrimSpace(token), true
	}
	if token := r.URL.Query().Get("access_token"); token != "" {
		return token, true
	}
	return "", false
}
