package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/jwebster45206/situation-engine/pkg/engine"
)

type Config struct {
	Port        string     `env:"PORT" envDefault:"8080"`
	Environment string     `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    slog.Level
	RawLogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	RedisURL string `env:"REDIS_URL" envDefault:"redis://localhost:6379"`

	// StorageBackend selects where slots live: redis or file
	StorageBackend string        `env:"STORAGE_BACKEND" envDefault:"redis"`
	SlotTTL        time.Duration `env:"SLOT_TTL" envDefault:"0s"`

	// DataDir holds content packs under packs/ and player characters under pcs/
	DataDir     string `env:"DATA_DIR" envDefault:"data"`
	SnapshotDir string `env:"SNAPSHOT_DIR" envDefault:"snapshots"`
	JournalDB   string `env:"JOURNAL_DB" envDefault:"journal.db"`
	TuningFile  string `env:"TUNING_FILE" envDefault:"tuning.yaml"`
	WorkerID    string `env:"WORKER_ID"`
}

// Load reads configuration from the environment
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.LogLevel = parseLogLevel(cfg.RawLogLevel)
	switch cfg.StorageBackend {
	case "redis", "file":
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", cfg.StorageBackend)
	}
	return &cfg, nil
}

// PacksDir is where content packs live
func (c *Config) PacksDir() string {
	return filepath.Join(c.DataDir, "packs")
}

// PCsDir is where player character files live
func (c *Config) PCsDir() string {
	return filepath.Join(c.DataDir, "pcs")
}

// Tuning is the YAML form of the engine limits. Zero fields keep the
// defaults.
type Tuning struct {
	MaxCascadeDepth int `yaml:"max_cascade_depth"`
	MaxDiscoverable int `yaml:"max_discoverable"`
	JournalLimit    int `yaml:"journal_limit"`
	HistoryLimit    int `yaml:"history_limit"`
}

// EngineConfig returns engine defaults overlaid with the tuning file. A
// missing tuning file is not an error.
func (c *Config) EngineConfig() (engine.Config, error) {
	cfg := engine.DefaultConfig()
	raw, err := os.ReadFile(c.TuningFile)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read tuning file: %w", err)
	}

	var t Tuning
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return cfg, fmt.Errorf("%s: %w", c.TuningFile, err)
	}
	if t.MaxCascadeDepth < 0 || t.MaxDiscoverable < 0 || t.JournalLimit < 0 || t.HistoryLimit < 0 {
		return cfg, fmt.Errorf("%s: limits cannot be negative", c.TuningFile)
	}
	if t.MaxCascadeDepth > 0 {
		cfg.MaxCascadeDepth = t.MaxCascadeDepth
	}
	if t.MaxDiscoverable > 0 {
		cfg.MaxDiscoverable = t.MaxDiscoverable
	}
	if t.JournalLimit > 0 {
		cfg.JournalLimit = t.JournalLimit
	}
	if t.HistoryLimit > 0 {
		cfg.HistoryLimit = t.HistoryLimit
	}
	return cfg, nil
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
