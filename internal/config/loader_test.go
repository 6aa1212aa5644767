package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.jsonc")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `{
	// This is a JSONC comment
	"models": {
		"default": "gpt",
		"providers": {
			"gpt": {
				"driver": "openai",
				"model": "gpt-4o",
				"auth": {
					"api_key": "${{ .Env.OPENAI_API_KEY }}"
				},
				"max_tokens": 4096,
				"max_concurrent": 3,
				"temperature": 0.4,
			},
		},
	},
	"engine": { "max_turns": 7 },
	"storage": { "doc_root": "/srv/docs" },
}`)

	t.Setenv("OPENAI_API_KEY", "test-key-123")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Models.Default != "gpt" {
		t.Errorf("default: got %q, want %q", cfg.Models.Default, "gpt")
	}
	p, ok := cfg.Models.Providers["gpt"]
	if !ok {
		t.Fatal("expected gpt provider")
	}
	if p.Auth.APIKey != "test-key-123" {
		t.Errorf("api_key: got %q, want %q", p.Auth.APIKey, "test-key-123")
	}
	if p.MaxTokens != 4096 {
		t.Errorf("max_tokens: got %d, want 4096", p.MaxTokens)
	}
	if p.Temperature == nil || *p.Temperature != 0.4 {
		t.Errorf("temperature: got %v, want 0.4", p.Temperature)
	}
	if cfg.Engine.MaxTurns != 7 {
		t.Errorf("max_turns: got %d, want 7", cfg.Engine.MaxTurns)
	}
	if cfg.Storage.DocRoot != "/srv/docs" {
		t.Errorf("doc_root: got %q, want %q", cfg.Storage.DocRoot, "/srv/docs")
	}
	if cfg.Workers.MaxConcurrent != 3 {
		t.Errorf("workers: got %d, want 3 (sum of providers)", cfg.Workers.MaxConcurrent)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CADRE_PATH", "/tmp/cadre-defaults")
	cfg, err := Load(writeConfig(t, `{}`))
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Engine.MaxTurns != 5 {
		t.Errorf("max_turns: got %d, want 5", cfg.Engine.MaxTurns)
	}
	if cfg.Engine.ActivityTail != 20 {
		t.Errorf("activity_tail: got %d, want 20", cfg.Engine.ActivityTail)
	}
	if cfg.Events.BufferSize != 1024 {
		t.Errorf("buffer_size: got %d, want 1024", cfg.Events.BufferSize)
	}
	if cfg.Storage.DocRoot != "/tmp/cadre-defaults/documents" {
		t.Errorf("doc_root: got %q", cfg.Storage.DocRoot)
	}
	if cfg.Storage.Backend != "local" {
		t.Errorf("backend: got %q, want local", cfg.Storage.Backend)
	}
	if cfg.Skills.ReadMaxChars != 10000 {
		t.Errorf("read_max_chars: got %d, want 10000", cfg.Skills.ReadMaxChars)
	}
	if cfg.Workers.MaxConcurrent != 1 {
		t.Errorf("workers: got %d, want 1", cfg.Workers.MaxConcurrent)
	}
	if cfg.Workers.PollInterval.Duration() != 5*time.Second {
		t.Errorf("poll_interval: got %s, want 5s", cfg.Workers.PollInterval.Duration())
	}
}

func TestLoadDefaults_SingleProviderIsDefault(t *testing.T) {
	cfg, err := Load(writeConfig(t, `{"models": {"providers": {"local": {"driver": "ollama", "model": "llama3"}}}}`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Models.Default != "local" {
		t.Errorf("default: got %q, want %q", cfg.Models.Default, "local")
	}
	if cfg.Models.Providers["local"].MaxConcurrent != 1 {
		t.Errorf("max_concurrent: got %d, want 1", cfg.Models.Providers["local"].MaxConcurrent)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("CADRE_MAX_TURNS", "3")
	t.Setenv("CADRE_WORKERS", "8")
	t.Setenv("CADRE_LOG_LEVEL", "debug")

	cfg, err := Load(writeConfig(t, `{"engine": {"max_turns": 9}}`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Engine.MaxTurns != 3 {
		t.Errorf("max_turns: got %d, want 3", cfg.Engine.MaxTurns)
	}
	if cfg.Workers.MaxConcurrent != 8 {
		t.Errorf("workers: got %d, want 8", cfg.Workers.MaxConcurrent)
	}
	if cfg.SlogLevel() != slog.LevelDebug {
		t.Errorf("level: got %v, want debug", cfg.SlogLevel())
	}
}

func TestLoad_InvalidJSONC(t *testing.T) {
	if _, err := Load(writeConfig(t, `{"models": `)); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestExpandEnvTemplates(t *testing.T) {
	t.Setenv("TEST_KEY", "my-secret")
	result := expandEnvTemplates(`{"key": "${{ .Env.TEST_KEY }}"}`)
	expected := `{"key": "my-secret"}`
	if result != expected {
		t.Errorf("expected %s, got %s", expected, result)
	}
}
