// Package repository stores personas, their skill assignments, global
// settings, the skill catalog and plugin state in a sqlite database.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/dohr-michael/cadre/internal/secrets"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

// Repository is the sqlite-backed store.
type Repository struct {
	db    *sql.DB
	vault *secrets.Vault
}

// Open opens (or creates) the database at path and applies the schema.
// vault seals settings flagged secret; it may be nil, in which case secret
// settings are refused.
func Open(ctx context.Context, path string, vault *secrets.Vault) (*Repository, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	r := &Repository{db: db, vault: vault}
	if err := r.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

// Close closes the database.
func (r *Repository) Close() error {
	return r.db.Close()
}

var schema = []string{
	`PRAGMA foreign_keys = ON;`,
	`PRAGMA busy_timeout = 5000;`,
	`CREATE TABLE IF NOT EXISTS personas (
		id            TEXT PRIMARY KEY,
		name          TEXT NOT NULL UNIQUE,
		role          TEXT NOT NULL DEFAULT '',
		job_title     TEXT NOT NULL DEFAULT '',
		department    TEXT NOT NULL DEFAULT '',
		level         TEXT NOT NULL DEFAULT '',
		system_prompt TEXT NOT NULL DEFAULT '',
		provider      TEXT NOT NULL DEFAULT '',
		model         TEXT NOT NULL DEFAULT '',
		temperature   REAL,
		created_at    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`,
	`CREATE TABLE IF NOT EXISTS persona_skills (
		persona_id  TEXT NOT NULL REFERENCES personas(id) ON DELETE CASCADE,
		skill       TEXT NOT NULL,
		enabled     INTEGER NOT NULL DEFAULT 1,
		config_json TEXT NOT NULL DEFAULT '{}',
		PRIMARY KEY (persona_id, skill)
	);`,
	`CREATE TABLE IF NOT EXISTS settings (
		key    TEXT PRIMARY KEY,
		value  TEXT NOT NULL,
		secret INTEGER NOT NULL DEFAULT 0
	);`,
	`CREATE TABLE IF NOT EXISTS plugin_kv (
		plugin     TEXT NOT NULL,
		key        TEXT NOT NULL,
		value      BLOB NOT NULL,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (plugin, key)
	);`,
	`CREATE TABLE IF NOT EXISTS skills (
		name         TEXT PRIMARY KEY,
		display_name TEXT NOT NULL DEFAULT '',
		description  TEXT NOT NULL DEFAULT '',
		category     TEXT NOT NULL DEFAULT '',
		params_json  TEXT NOT NULL DEFAULT '[]'
	);`,
}

func (r *Repository) migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
