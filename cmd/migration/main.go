package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/joho/godotenv"

	"github.com/zhouzirui/finpulse/backend/internal/config"
	"github.com/zhouzirui/finpulse/backend/internal/fixture"
	"github.com/zhouzirui/finpulse/backend/internal/model/user"
	"github.com/zhouzirui/finpulse/backend/internal/service/account"
	"github.com/zhouzirui/finpulse/backend/internal/store/postgres"
	"github.com/zhouzirui/finpulse/backend/internal/telemetry"
)

func main() {
	seed := flag.Bool("seed", true, "import the fixture file after migrating")
	fixturePath := flag.String("fixture", "", "fixture file (default FIXTURE_PATH)")
	timeout := flag.Duration("timeout", 60*time.Second, "overall timeout")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: .env file not found: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	if cfg.Database.URL == "" {
		log.Fatal("DATABASE_URL is required")
	}

	logger, logFile, err := telemetry.InitLogger(telemetry.LoggerOptions{
		Dir:    cfg.Log.Dir,
		File:   "finpulse-migration.log",
		Level:  cfg.Log.Level,
		Stdout: true,
	})
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logFile.Close()

	if err := postgres.Migrate(cfg.Database.URL); err != nil {
		log.Fatalf("migration failed: %v", err)
	}
	if !*seed {
		logger.Info("migrations applied, seeding skipped")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	pool, err := postgres.Open(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	store := postgres.NewUserStore(pool)
	defer store.Close()

	path := cfg.Fixture
	if *fixturePath != "" {
		path = *fixturePath
	}
	raw, err := fixture.New(path).Load()
	if err != nil {
		log.Fatalf("failed to read fixtures from %s: %v", path, err)
	}
	fixtures, err := user.DecodeFixtures(raw)
	if err != nil {
		log.Fatalf("failed to decode fixtures: %v", err)
	}

	created, err := account.NewService(store, nil, logger).SeedFixtures(ctx, fixtures)
	if err != nil {
		log.Fatalf("seeding failed after %d users: %v", created, err)
	}
	logger.Info("migration complete", "fixture", path, "created", created, "skipped", len(fixtures)-created)
}
