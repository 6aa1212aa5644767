package models

import (
	"fmt"
	"os"
	"strings"

	"github.com/dohr-michael/cadre/internal/config"
)

// driverEnv lists the environment variables consulted, in order, when a
// provider has no explicit key.
var driverEnv = map[string][]string{
	"openai":    {"OPENAI_API_KEY"},
	"anthropic": {"ANTHROPIC_API_KEY"},
	"gemini":    {"GEMINI_API_KEY", "GOOGLE_API_KEY"},
}

// ResolveAuth resolves the API key for a provider.
// Resolution order: direct api_key (or ${VAR}) → driver default env.
// Ollama needs no key and resolves to "".
func ResolveAuth(cfg config.ProviderConfig) (string, error) {
	key := strings.TrimSpace(cfg.Auth.APIKey)
	if strings.HasPrefix(key, "${") && strings.HasSuffix(key, "}") {
		key = os.Getenv(key[2 : len(key)-1])
	}
	if key != "" {
		return key, nil
	}

	driver := strings.ToLower(cfg.Driver)
	if driver == "ollama" {
		return "", nil
	}
	vars, ok := driverEnv[driver]
	if !ok {
		return "", fmt.Errorf("unknown driver %q: cannot resolve auth", cfg.Driver)
	}
	for _, v := range vars {
		if key := os.Getenv(v); key != "" {
			return key, nil
		}
	}
	return "", fmt.Errorf("%s not set", vars[0])
}
