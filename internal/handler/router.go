package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/finpulse/backend/internal/fixture"
	"github.com/zhouzirui/finpulse/backend/internal/handler/account"
	"github.com/zhouzirui/finpulse/backend/internal/handler/agent"
	"github.com/zhouzirui/finpulse/backend/internal/handler/chat"
	fixtureHandler "github.com/zhouzirui/finpulse/backend/internal/handler/fixture"
	"github.com/zhouzirui/finpulse/backend/internal/handler/stream"
	middlewarePkg "github.com/zhouzirui/finpulse/backend/internal/middleware"
	agentModel "github.com/zhouzirui/finpulse/backend/internal/model/agent"
	accountService "github.com/zhouzirui/finpulse/backend/internal/service/account"
	chatService "github.com/zhouzirui/finpulse/backend/internal/service/chat"
	"github.com/zhouzirui/finpulse/backend/pkg/utils"
)

// Deps are the services the HTTP surface is built on.
type Deps struct {
	Accounts *accountService.Service
	Chat     *chatService.Service
	Agents   agentModel.Store
	Fixture  *fixture.File
	Logger   *slog.Logger
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	// Account imports rewrite conversations too; push them to stream subscribers.
	deps.Accounts.OnMessagesChanged(deps.Chat.Publish)

	accountHandler := account.New(deps.Accounts)
	chatHandler := chat.New(deps.Chat)
	streamHandler := stream.New(deps.Chat, deps.Logger)
	wsHandler := stream.NewWebSocketHandler(deps.Chat, deps.Logger)

	r.Route("/api", func(api chi.Router) {
		api.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			utils.RespondJSON(w, http.StatusOK, map[string]any{
				"status": "ok",
				"store":  deps.Accounts.Status(r.Context()),
			})
		})

		accountHandler.RegisterPublicRoutes(api)
		if deps.Agents != nil {
			agent.New(deps.Agents).RegisterRoutes(api)
		}
		if deps.Fixture != nil {
			fixtureHandler.New(deps.Fixture).RegisterRoutes(api)
		}

		api.Group(func(private chi.Router) {
			private.Use(middlewarePkg.Authenticate(deps.Accounts.Tokens()))

			chatHandler.RegisterRoutes(private)
			wsHandler.RegisterRoutes(private)

			private.Route("/users/{key}", func(u chi.Router) {
				u.Use(middlewarePkg.RequireKeyAccess("key"))
				accountHandler.RegisterUserRoutes(u)
				chatHandler.RegisterUserRoutes(u)
				streamHandler.RegisterUserRoutes(u)
			})
		})
	})

	return r
}
