package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/zhouzirui/finpulse/backend/internal/cache"
	"github.com/zhouzirui/finpulse/backend/internal/session"
	"github.com/zhouzirui/finpulse/backend/internal/store/remote"
	"github.com/zhouzirui/finpulse/backend/internal/telemetry"
)

var (
	configFile     string
	serverOverride string
)

var rootCmd = &cobra.Command{
	Use:   "finchat",
	Short: "FinPulse support chat client",
	Long: "Terminal client for FinPulse support conversations.\n" +
		"Customers chat with support; agents browse the inbox and answer.\n" +
		"Settings are read from ~/.finchat.toml.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default ~/.finchat.toml)")
	rootCmd.PersistentFlags().StringVar(&serverOverride, "server", "", "server URL, overrides the config file")
}

// app bundles what every command needs. Close releases it.
type app struct {
	cfg     Config
	cache   *cache.Cache
	session *session.Context
	logger  *slog.Logger
	closers []io.Closer
}

func newApp() (*app, error) {
	_ = godotenv.Load()

	path := configFile
	if path == "" {
		p, err := defaultConfigPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	cfg, err := loadConfig(path)
	if err != nil {
		return nil, err
	}
	if serverOverride != "" {
		cfg.Server = serverOverride
	}

	logger, logFile, err := telemetry.InitLogger(telemetry.LoggerOptions{
		Dir:   cfg.LogDir,
		File:  "finchat.log",
		Level: cfg.LogLevel,
	})
	if err != nil {
		return nil, err
	}

	c, err := cache.Open(cfg.Cache)
	if err != nil {
		logFile.Close()
		return nil, err
	}

	return &app{
		cfg:     cfg,
		cache:   c,
		session: session.New(c),
		logger:  logger,
		closers: []io.Closer{c, logFile},
	}, nil
}

func (a *app) Close() {
	for _, c := range a.closers {
		_ = c.Close()
	}
}

// restore loads the saved login or explains how to create one.
func (a *app) restore(ctx context.Context) error {
	err := a.session.Restore(ctx)
	if errors.Is(err, session.ErrNotLoggedIn) {
		return errors.New("not logged in, run 'finchat login <email>' first")
	}
	return err
}

func (a *app) client() *remote.Client {
	return remote.New(a.cfg.Server, a.session.Token())
}

// withApp adapts a command body that needs an app.
func withApp(run func(cmd *cobra.Command, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()
		return run(cmd, a, args)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
