package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/zhouzirui/finpulse/backend/internal/config"
	"github.com/zhouzirui/finpulse/backend/internal/fixture"
	"github.com/zhouzirui/finpulse/backend/internal/handler"
	"github.com/zhouzirui/finpulse/backend/internal/model/agent"
	"github.com/zhouzirui/finpulse/backend/internal/model/user"
	"github.com/zhouzirui/finpulse/backend/internal/service/account"
	"github.com/zhouzirui/finpulse/backend/internal/service/chat"
	"github.com/zhouzirui/finpulse/backend/internal/store/postgres"
	"github.com/zhouzirui/finpulse/backend/internal/telemetry"
)

const serviceName = "finpulse-api"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, logFile, err := telemetry.InitLogger(telemetry.LoggerOptions{
		Dir:    cfg.Log.Dir,
		File:   serviceName + ".log",
		Level:  cfg.Log.Level,
		Stdout: true,
	})
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logFile.Close()

	if cfg.Log.OTelEnabled {
		cleanup, err := telemetry.InitTelemetry(ctx, cfg.Log.Dir, serviceName)
		if err != nil {
			logger.Warn("telemetry disabled", "error", err)
		} else {
			defer cleanup()
		}
	}

	file := fixture.New(cfg.Fixture)
	tokens := account.NewTokens(cfg.Auth.Secret, cfg.Auth.TTL)
	if !tokens.Enabled() {
		logger.Warn("JWT_SECRET not set, API routes are unauthenticated")
	}

	store, closeStore, err := openStore(ctx, cfg.Database, logger)
	if err != nil {
		logger.Error("failed to open user store", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	accounts := account.NewService(store, tokens, logger)
	if cfg.Database.URL == "" {
		seedMemoryStore(ctx, accounts, file, logger)
	}

	router := handler.NewRouter(handler.Deps{
		Accounts: accounts,
		Chat:     chat.NewService(store, logger),
		Agents:   agent.NewMemoryStore(agent.Seed()),
		Fixture:  file,
		Logger:   logger,
	})

	startServer(ctx, cfg.Server, router, logger)
}

// openStore returns the Postgres store when DATABASE_URL is set, otherwise an
// empty in-memory store.
func openStore(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (user.Store, func(), error) {
	if cfg.URL == "" {
		logger.Info("DATABASE_URL not set, using in-memory store")
		return user.NewMemoryStore(nil), func() {}, nil
	}
	if err := postgres.Migrate(cfg.URL); err != nil {
		return nil, nil, err
	}
	pool, err := postgres.Open(ctx, cfg.URL, cfg.MaxConns)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("connected to postgres", "max_conns", cfg.MaxConns)
	store := postgres.NewUserStore(pool)
	return store, store.Close, nil
}

// seedMemoryStore loads the fixture file, falling back to the demo accounts.
func seedMemoryStore(ctx context.Context, accounts *account.Service, file *fixture.File, logger *slog.Logger) {
	raw, err := file.Load()
	if err == nil {
		var fixtures []user.Fixture
		fixtures, err = user.DecodeFixtures(raw)
		if err == nil {
			if _, err = accounts.SeedFixtures(ctx, fixtures); err == nil {
				return
			}
		}
	}
	logger.Warn("fixture seeding failed, using demo accounts", "path", file.Path(), "error", err)

	demo := user.Seed()
	fixtures := make([]user.Fixture, 0, len(demo))
	for _, u := range demo {
		fixtures = append(fixtures, user.Fixture{User: u, Password: u.Password})
	}
	if _, err := accounts.SeedFixtures(ctx, fixtures); err != nil {
		logger.Error("demo seeding failed", "error", err)
	}
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler, logger *slog.Logger) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger.Info("FinPulse backend listening", "addr", addr)
	if err := runServer(ctx, srv); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
