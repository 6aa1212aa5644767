package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrNoVault is returned when a secret setting is written without a vault.
var ErrNoVault = errors.New("no vault configured for secret settings")

// SetSetting stores a global setting. Secret values are sealed at rest.
func (r *Repository) SetSetting(ctx context.Context, key, value string, secret bool) error {
	stored := value
	if secret {
		if r.vault == nil {
			return fmt.Errorf("set %s: %w", key, ErrNoVault)
		}
		sealed, err := r.vault.Seal(value)
		if err != nil {
			return fmt.Errorf("set %s: %w", key, err)
		}
		stored = sealed
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO settings (key, value, secret) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, secret = excluded.secret;`,
		key, stored, boolInt(secret))
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// GetSetting returns the plaintext value of key.
func (r *Repository) GetSetting(ctx context.Context, key string) (string, error) {
	var (
		value  string
		secret int
	)
	err := r.db.QueryRowContext(ctx, `SELECT value, secret FROM settings WHERE key = ?;`, key).Scan(&value, &secret)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("setting %s: %w", key, ErrNotFound)
		}
		return "", fmt.Errorf("get %s: %w", key, err)
	}
	return r.reveal(key, value, secret != 0)
}

// Settings returns every setting in plaintext. This is the global layer of
// the skill config merge.
func (r *Repository) Settings(ctx context.Context) (map[string]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT key, value, secret FROM settings;`)
	if err != nil {
		return nil, fmt.Errorf("list settings: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var (
			key, value string
			secret     int
		)
		if err := rows.Scan(&key, &value, &secret); err != nil {
			return nil, fmt.Errorf("scan setting: %w", err)
		}
		plain, err := r.reveal(key, value, secret != 0)
		if err != nil {
			return nil, err
		}
		out[key] = plain
	}
	return out, rows.Err()
}

// IsSecret reports whether key is stored sealed.
func (r *Repository) IsSecret(ctx context.Context, key string) (bool, error) {
	var secret int
	err := r.db.QueryRowContext(ctx, `SELECT secret FROM settings WHERE key = ?;`, key).Scan(&secret)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, fmt.Errorf("setting %s: %w", key, ErrNotFound)
		}
		return false, err
	}
	return secret != 0, nil
}

func (r *Repository) reveal(key, value string, secret bool) (string, error) {
	if !secret {
		return value, nil
	}
	if r.vault == nil {
		return "", fmt.Errorf("get %s: %w", key, ErrNoVault)
	}
	plain, err := r.vault.Open(value)
	if err != nil {
		return "", fmt.Errorf("get %s: %w", key, err)
	}
	return plain, nil
}
