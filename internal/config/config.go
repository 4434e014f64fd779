package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"

	"github.com/zhouzirui/finpulse/backend/internal/service/chatsync"
)

// Config aggregates the server configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Auth     AuthConfig
	Sync     SyncConfig
	Log      LogConfig
	AI       AIConfig
	Fixture  string
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	database, err := loadDatabaseConfig()
	if err != nil {
		return nil, err
	}

	auth, err := loadAuthConfig()
	if err != nil {
		return nil, err
	}

	sync, err := loadSyncConfig()
	if err != nil {
		return nil, err
	}

	logCfg, err := loadLogConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:   server,
		Database: database,
		Auth:     auth,
		Sync:     sync,
		Log:      logCfg,
		AI:       ai,
		Fixture:  getEnvOrDefault("FIXTURE_PATH", "data/user.json"),
	}, nil
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Addr string
}

func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// Accept ":8080" or "127.0.0.1:8080" as well.
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// DatabaseConfig selects the user store. An empty URL means in memory.
type DatabaseConfig struct {
	URL      string
	MaxConns int32
}

func loadDatabaseConfig() (DatabaseConfig, error) {
	maxConns, err := parseOptionalIntEnv("DB_MAX_CONNS")
	if err != nil {
		return DatabaseConfig{}, err
	}
	cfg := DatabaseConfig{URL: strings.TrimSpace(os.Getenv("DATABASE_URL")), MaxConns: 10}
	if maxConns != nil {
		if *maxConns < 1 {
			return DatabaseConfig{}, fmt.Errorf("invalid DB_MAX_CONNS value %d: must be positive", *maxConns)
		}
		cfg.MaxConns = int32(*maxConns)
	}
	return cfg, nil
}

// AuthConfig holds the token settings. Auth is off without a secret.
type AuthConfig struct {
	Secret string
	TTL    time.Duration
}

// Enabled reports whether requests must carry a token.
func (c AuthConfig) Enabled() bool {
	return c.Secret != ""
}

func loadAuthConfig() (AuthConfig, error) {
	ttl, err := parsePositiveIntEnv("JWT_TTL_HOURS", 24)
	if err != nil {
		return AuthConfig{}, err
	}
	return AuthConfig{
		Secret: strings.TrimSpace(os.Getenv("JWT_SECRET")),
		TTL:    time.Duration(ttl) * time.Hour,
	}, nil
}

// SyncConfig tunes the chat sync engines run by clients of this process.
type SyncConfig struct {
	PollInterval time.Duration
	AutoReply    chatsync.AutoReplyPolicy
}

func loadSyncConfig() (SyncConfig, error) {
	poll, err := parsePositiveIntEnv("SYNC_POLL_INTERVAL_MS", 3000)
	if err != nil {
		return SyncConfig{}, err
	}
	typing, err := parsePositiveIntEnv("AUTO_REPLY_TYPING_MS", 1000)
	if err != nil {
		return SyncConfig{}, err
	}
	delay, err := parsePositiveIntEnv("AUTO_REPLY_DELAY_MS", 2500)
	if err != nil {
		return SyncConfig{}, err
	}
	quiet, err := parsePositiveIntEnv("AUTO_REPLY_QUIET_HOURS", 2)
	if err != nil {
		return SyncConfig{}, err
	}

	policy := chatsync.DefaultAutoReply()
	policy.TypingDelay = time.Duration(typing) * time.Millisecond
	policy.ReplyDelay = time.Duration(delay) * time.Millisecond
	policy.QuietPeriod = time.Duration(quiet) * time.Hour
	return SyncConfig{
		PollInterval: time.Duration(poll) * time.Millisecond,
		AutoReply:    policy,
	}, nil
}

// LogConfig controls log and telemetry output.
type LogConfig struct {
	Dir         string
	Level       string
	OTelEnabled bool
}

func loadLogConfig() (LogConfig, error) {
	otelEnabled, err := parseBoolEnv("OTEL_ENABLED", false)
	if err != nil {
		return LogConfig{}, err
	}
	level := strings.ToLower(getEnvOrDefault("LOG_LEVEL", "info"))
	switch level {
	case "debug", "info", "warn", "error":
	default:
		return LogConfig{}, fmt.Errorf("invalid LOG_LEVEL value %q", level)
	}
	return LogConfig{
		Dir:         getEnvOrDefault("LOG_DIR", "logs"),
		Level:       level,
		OTelEnabled: otelEnabled,
	}, nil
}

// AIConfig describes the Ark chat model that composes auto-replies.
type AIConfig struct {
	APIKey      string
	AccessKey   string
	SecretKey   string
	Model       string
	BaseURL     string
	Region      string
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
	HistorySize int
}

// Enabled reports whether the required credentials are present.
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel creates a model client from the configuration.
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("Ark credentials or model missing, set ARK_API_KEY + Model or an AK/SK pair")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	history := 6
	if override, err := parseOptionalIntEnv("AI_HISTORY_LIMIT"); err != nil {
		return AIConfig{}, err
	} else if override != nil {
		history = max(*override, 1)
	}

	return AIConfig{
		APIKey:      strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:   strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:   strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:       strings.TrimSpace(os.Getenv("Model")),
		BaseURL:     getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:      getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature: temperature,
		TopP:        topP,
		MaxTokens:   maxTokens,
		HistorySize: history,
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parsePositiveIntEnv(key string, defaultValue int) (int, error) {
	val, err := parseOptionalIntEnv(key)
	if err != nil {
		return 0, err
	}
	if val == nil {
		return defaultValue, nil
	}
	if *val <= 0 {
		return 0, fmt.Errorf("invalid %s value %d: must be positive", key, *val)
	}
	return *val, nil
}
