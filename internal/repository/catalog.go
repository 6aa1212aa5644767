package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dohr-michael/cadre/internal/skills"
)

// CatalogEntry is the presentation copy of a registered skill.
type CatalogEntry struct {
	Name        string         `json:"name"`
	DisplayName string         `json:"display_name"`
	Description string         `json:"description"`
	Category    string         `json:"category"`
	Params      []skills.Param `json:"params"`
}

// SyncSkills replaces the catalog with the registry contents. The registry
// stays authoritative; this copy only serves listings.
func (r *Repository) SyncSkills(ctx context.Context, reg *skills.Registry) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sync skills: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM skills;`); err != nil {
		return fmt.Errorf("sync skills: clear: %w", err)
	}
	for _, def := range reg.All() {
		params, err := json.Marshal(def.Params)
		if err != nil {
			return fmt.Errorf("sync skills: encode %s: %w", def.Name, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO skills (name, display_name, description, category, params_json) VALUES (?, ?, ?, ?, ?);`,
			def.Name, def.DisplayName, def.Description, def.Category, string(params)); err != nil {
			return fmt.Errorf("sync skills: insert %s: %w", def.Name, err)
		}
	}
	return tx.Commit()
}

// ListSkills returns the catalog sorted by category then name.
func (r *Repository) ListSkills(ctx context.Context) ([]CatalogEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT name, display_name, description, category, params_json FROM skills ORDER BY category, name;`)
	if err != nil {
		return nil, fmt.Errorf("list skills: %w", err)
	}
	defer rows.Close()

	var out []CatalogEntry
	for rows.Next() {
		var (
			e   CatalogEntry
			raw string
		)
		if err := rows.Scan(&e.Name, &e.DisplayName, &e.Description, &e.Category, &raw); err != nil {
			return nil, fmt.Errorf("scan skill: %w", err)
		}
		if err := json.Unmarshal([]byte(raw), &e.Params); err != nil {
			return nil, fmt.Errorf("decode params for %s: %w", e.Name, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
