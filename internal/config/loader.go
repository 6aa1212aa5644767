package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/tailscale/hujson"
)

var envTemplateRe = regexp.MustCompile(`\$\{\{\s*\.Env\.(\w+)\s*\}\}`)

// Overrides are environment variables applied on top of the config file.
type Overrides struct {
	LogLevel string `envconfig:"LOG_LEVEL"`
	Workers  int    `envconfig:"WORKERS"`
	MaxTurns int    `envconfig:"MAX_TURNS"`
	DocRoot  string `envconfig:"DOC_ROOT"`
}

// Load reads a JSONC config file, expands ${{ .Env.VAR }} templates,
// unmarshals it into Config, applies CADRE_* overrides and defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := expandEnvTemplates(string(data))

	std, err := hujson.Standardize([]byte(expanded))
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(std, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := ApplyOverrides(&cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

// Default returns a config with only defaults and environment overrides.
func Default() *Config {
	var cfg Config
	if err := ApplyOverrides(&cfg); err != nil {
		slog.Warn("invalid environment overrides", "error", err)
	}
	applyDefaults(&cfg)
	return &cfg
}

// ApplyOverrides copies non-zero CADRE_* environment values into cfg.
func ApplyOverrides(cfg *Config) error {
	var o Overrides
	if err := envconfig.Process("cadre", &o); err != nil {
		return fmt.Errorf("env overrides: %w", err)
	}
	if o.LogLevel != "" {
		cfg.Log.Level = o.LogLevel
	}
	if o.Workers > 0 {
		cfg.Workers.MaxConcurrent = o.Workers
	}
	if o.MaxTurns > 0 {
		cfg.Engine.MaxTurns = o.MaxTurns
	}
	if o.DocRoot != "" {
		cfg.Storage.DocRoot = o.DocRoot
	}
	return nil
}

// SlogLevel maps the configured level name to a slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.Log.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// expandEnvTemplates replaces ${{ .Env.VAR }} with the env var value.
func expandEnvTemplates(s string) string {
	return envTemplateRe.ReplaceAllStringFunc(s, func(match string) string {
		parts := envTemplateRe.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		return os.Getenv(parts[1])
	})
}

// applyDefaults fills in zero-value fields with sensible defaults.
func applyDefaults(cfg *Config) {
	root := CadrePath()
	expandPaths(cfg)

	if cfg.Engine.MaxTurns <= 0 {
		cfg.Engine.MaxTurns = 5
	}
	if cfg.Engine.MinAnswerChars <= 0 {
		cfg.Engine.MinAnswerChars = 40
	}
	if cfg.Engine.ForcingTurns <= 0 {
		cfg.Engine.ForcingTurns = 2
	}
	if cfg.Engine.ActivityTail <= 0 {
		cfg.Engine.ActivityTail = 20
	}

	if cfg.Events.BufferSize == 0 {
		cfg.Events.BufferSize = 1024
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}

	if cfg.Storage.DocRoot == "" {
		cfg.Storage.DocRoot = filepath.Join(root, "documents")
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "local"
	}
	if cfg.Storage.DBPath == "" {
		cfg.Storage.DBPath = filepath.Join(root, "cadre.db")
	}
	if cfg.Storage.TasksDir == "" {
		cfg.Storage.TasksDir = filepath.Join(root, "tasks")
	}
	if cfg.Storage.JournalPath == "" {
		cfg.Storage.JournalPath = filepath.Join(root, "logs", "error_journal.log")
	}
	if cfg.Storage.ActivityPath == "" {
		cfg.Storage.ActivityPath = filepath.Join(root, "logs", "activity.md")
	}
	if cfg.Storage.EventsDir == "" {
		cfg.Storage.EventsDir = filepath.Join(root, "logs", "events")
	}
	if cfg.Storage.HeartbeatPath == "" {
		cfg.Storage.HeartbeatPath = filepath.Join(root, "serve.heartbeat.json")
	}

	if cfg.Plugins.Dir == "" {
		cfg.Plugins.Dir = filepath.Join(root, "plugins")
	}
	if cfg.Plugins.Timeout <= 0 {
		cfg.Plugins.Timeout = Duration(30 * time.Second)
	}
	if cfg.Plugins.ScriptsDir == "" {
		cfg.Plugins.ScriptsDir = filepath.Join(root, "skills")
	}

	if cfg.Skills.ReadMaxChars <= 0 {
		cfg.Skills.ReadMaxChars = 10000
	}
	if cfg.Skills.ImageModel == "" {
		cfg.Skills.ImageModel = "imagen-3.0-generate-002"
	}
	if cfg.Skills.WebSearch.Provider == "" {
		cfg.Skills.WebSearch.Provider = "duckduckgo"
	}

	for name, p := range cfg.Models.Providers {
		if p.MaxConcurrent <= 0 {
			p.MaxConcurrent = 1
			cfg.Models.Providers[name] = p
		}
	}
	if cfg.Models.Default == "" && len(cfg.Models.Providers) == 1 {
		for name := range cfg.Models.Providers {
			cfg.Models.Default = name
		}
	}

	if cfg.Workers.MaxConcurrent <= 0 {
		total := 0
		for _, p := range cfg.Models.Providers {
			total += p.MaxConcurrent
		}
		if total == 0 {
			total = 1
		}
		cfg.Workers.MaxConcurrent = total
	}
	if cfg.Workers.PollInterval <= 0 {
		cfg.Workers.PollInterval = Duration(5 * time.Second)
	}
}
