package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/zhouzirui/finpulse/backend/internal/service/chatsync"
)

// Config is the client configuration stored in ~/.finchat.toml.
type Config struct {
	Server       string `toml:"server"`
	Cache        string `toml:"cache"`
	PollInterval string `toml:"poll_interval"`
	WriteMode    string `toml:"write_mode"`
	LogDir       string `toml:"log_dir"`
	LogLevel     string `toml:"log_level"`
}

const (
	defaultServer = "http://localhost:8080"
	configName    = ".finchat.toml"
)

// defaultConfig returns the settings used for keys the file leaves out.
func defaultConfig(home string) Config {
	dir := filepath.Join(home, ".finchat")
	return Config{
		Server:       defaultServer,
		Cache:        filepath.Join(dir, "cache.db"),
		PollInterval: chatsync.DefaultPollInterval.String(),
		WriteMode:    chatsync.WriteAppend.String(),
		LogDir:       filepath.Join(dir, "logs"),
		LogLevel:     "info",
	}
}

func defaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, configName), nil
}

// loadConfig reads path over the defaults. A missing file is not an error.
func loadConfig(path string) (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, fmt.Errorf("cannot determine home directory: %w", err)
	}
	cfg := defaultConfig(home)

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("cannot read config: %w", err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("cannot parse config %s: %w", path, err)
	}
	if _, err := cfg.pollInterval(); err != nil {
		return Config{}, err
	}
	if _, err := cfg.writeMode(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// saveConfig writes cfg back to disk as TOML.
func saveConfig(path string, cfg Config) error {
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("cannot write config: %w", err)
	}
	return nil
}

func (c Config) pollInterval() (time.Duration, error) {
	d, err := time.ParseDuration(c.PollInterval)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid poll_interval %q: want a positive duration such as 3s", c.PollInterval)
	}
	return d, nil
}

func (c Config) writeMode() (chatsync.WriteMode, error) {
	m, ok := chatsync.ParseWriteMode(c.WriteMode)
	if !ok {
		return 0, fmt.Errorf("invalid write_mode %q: want append, conditional or read-modify-write", c.WriteMode)
	}
	return m, nil
}
