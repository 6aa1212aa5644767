package config

import (
	"os"
	"path/filepath"
	"strings"
)

// CadrePath is the data root: $CADRE_PATH, else ~/.cadre. Every default
// path in Config hangs off it.
func CadrePath() string {
	if v := os.Getenv("CADRE_PATH"); v != "" {
		return ExpandHome(v)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".cadre"
	}
	return filepath.Join(home, ".cadre")
}

// ConfigPath is $CADRE_CONFIG when set, else config.jsonc in the data root.
func ConfigPath() string {
	if v := os.Getenv("CADRE_CONFIG"); v != "" {
		return ExpandHome(v)
	}
	return filepath.Join(CadrePath(), "config.jsonc")
}

// DotenvPath is the .env file loaded before the config.
func DotenvPath() string { return filepath.Join(CadrePath(), ".env") }

// KeyPath is the age identity that seals stored secrets.
func KeyPath() string { return filepath.Join(CadrePath(), ".age-key") }

// ExpandHome resolves a leading "~" or "~/" against the user's home.
// Anything else is returned unchanged.
func ExpandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}

// expandPaths applies ExpandHome to every configured filesystem path.
func expandPaths(cfg *Config) {
	for _, p := range []*string{
		&cfg.Storage.DocRoot,
		&cfg.Storage.DBPath,
		&cfg.Storage.TasksDir,
		&cfg.Storage.JournalPath,
		&cfg.Storage.ActivityPath,
		&cfg.Storage.EventsDir,
		&cfg.Storage.HeartbeatPath,
		&cfg.Plugins.Dir,
		&cfg.Plugins.ScriptsDir,
	} {
		*p = ExpandHome(*p)
	}
}
