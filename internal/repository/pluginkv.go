package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// PluginKV is the persistent key-value space of one plugin.
type PluginKV struct {
	db     *sql.DB
	plugin string
}

// PluginStore returns the key-value space of plugin.
func (r *Repository) PluginStore(plugin string) *PluginKV {
	return &PluginKV{db: r.db, plugin: plugin}
}

// Get returns the value of key, or nil when unset.
func (kv *PluginKV) Get(ctx context.Context, key string) ([]byte, error) {
	var v []byte
	err := kv.db.QueryRowContext(ctx,
		`SELECT value FROM plugin_kv WHERE plugin = ? AND key = ?;`, kv.plugin, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("plugin %s: get %s: %w", kv.plugin, key, err)
	}
	return v, nil
}

// Set stores value under key.
func (kv *PluginKV) Set(ctx context.Context, key string, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	_, err := kv.db.ExecContext(ctx, `
		INSERT INTO plugin_kv (plugin, key, value) VALUES (?, ?, ?)
		ON CONFLICT(plugin, key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP;`,
		kv.plugin, key, value)
	if err != nil {
		return fmt.Errorf("plugin %s: set %s: %w", kv.plugin, key, err)
	}
	return nil
}
