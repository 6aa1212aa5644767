package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Persona is an LLM-backed actor with an identity and an allow-list of skills.
type Persona struct {
	ID           string         `json:"id" yaml:"-"`
	Name         string         `json:"name" yaml:"name"`
	Role         string         `json:"role" yaml:"role"`
	JobTitle     string         `json:"job_title" yaml:"job_title"`
	Department   string         `json:"department" yaml:"department"`
	Level        string         `json:"level" yaml:"level"`
	SystemPrompt string         `json:"system_prompt" yaml:"system_prompt"`
	Provider     string         `json:"provider" yaml:"provider"`
	Model        string         `json:"model" yaml:"model"`
	Temperature  *float32       `json:"temperature,omitempty" yaml:"temperature"`
	Skills       []PersonaSkill `json:"skills,omitempty" yaml:"skills"`
	CreatedAt    time.Time      `json:"created_at" yaml:"-"`
}

// PersonaSkill is one skill assignment with its per-persona overrides.
type PersonaSkill struct {
	Skill   string            `json:"skill" yaml:"name"`
	Enabled bool              `json:"enabled" yaml:"enabled"`
	Config  map[string]string `json:"config,omitempty" yaml:"config"`
}

// EnabledSkills returns the names of enabled skills, sorted.
func (p *Persona) EnabledSkills() []string {
	var names []string
	for _, s := range p.Skills {
		if s.Enabled {
			names = append(names, s.Skill)
		}
	}
	sort.Strings(names)
	return names
}

// SkillConfig returns the per-persona override for skill, or nil.
func (p *Persona) SkillConfig(skill string) map[string]string {
	for _, s := range p.Skills {
		if s.Skill == skill {
			return s.Config
		}
	}
	return nil
}

// CreatePersona inserts p with its skill assignments. ID is generated when empty.
func (r *Repository) CreatePersona(ctx context.Context, p *Persona) error {
	if strings.TrimSpace(p.Name) == "" {
		return errors.New("create persona: name is required")
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("create persona: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO personas (id, name, role, job_title, department, level, system_prompt, provider, model, temperature, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		p.ID, p.Name, p.Role, p.JobTitle, p.Department, p.Level, p.SystemPrompt,
		p.Provider, p.Model, nullFloat(p.Temperature), p.CreatedAt)
	if err != nil {
		return fmt.Errorf("create persona %s: %w", p.Name, err)
	}
	for _, s := range p.Skills {
		if err := upsertSkill(ctx, tx, p.ID, s); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// UpdatePersona rewrites the identity columns of an existing persona.
// Skill assignments are managed with SetPersonaSkill.
func (r *Repository) UpdatePersona(ctx context.Context, p *Persona) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE personas SET name = ?, role = ?, job_title = ?, department = ?, level = ?,
			system_prompt = ?, provider = ?, model = ?, temperature = ?
		WHERE id = ?;`,
		p.Name, p.Role, p.JobTitle, p.Department, p.Level, p.SystemPrompt,
		p.Provider, p.Model, nullFloat(p.Temperature), p.ID)
	if err != nil {
		return fmt.Errorf("update persona %s: %w", p.Name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("persona %s: %w", p.ID, ErrNotFound)
	}
	return nil
}

// GetPersona loads a persona by id.
func (r *Repository) GetPersona(ctx context.Context, id string) (*Persona, error) {
	return r.getPersona(ctx, `WHERE id = ?`, id)
}

// GetPersonaByName loads a persona by exact name.
func (r *Repository) GetPersonaByName(ctx context.Context, name string) (*Persona, error) {
	return r.getPersona(ctx, `WHERE name = ?`, name)
}

const personaColumns = `id, name, role, job_title, department, level, system_prompt, provider, model, temperature, created_at`

func (r *Repository) getPersona(ctx context.Context, where string, arg any) (*Persona, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+personaColumns+` FROM personas `+where+`;`, arg)
	p, err := scanPersona(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("persona %v: %w", arg, ErrNotFound)
		}
		return nil, fmt.Errorf("get persona: %w", err)
	}
	if p.Skills, err = r.PersonaSkills(ctx, p.ID); err != nil {
		return nil, err
	}
	return p, nil
}

// ListPersonas returns every persona with skills, sorted by name.
func (r *Repository) ListPersonas(ctx context.Context) ([]Persona, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+personaColumns+` FROM personas ORDER BY name;`)
	if err != nil {
		return nil, fmt.Errorf("list personas: %w", err)
	}
	var out []Persona
	for rows.Next() {
		p, err := scanPersona(rows)
		if err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("list personas: %w", err)
		}
		out = append(out, *p)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}

	for i := range out {
		if out[i].Skills, err = r.PersonaSkills(ctx, out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// DeletePersona removes a persona and its skill assignments.
func (r *Repository) DeletePersona(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM personas WHERE id = ?;`, id)
	if err != nil {
		return fmt.Errorf("delete persona: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("persona %s: %w", id, ErrNotFound)
	}
	return nil
}

// PersonaSkills returns the skill assignments of a persona, sorted by skill.
func (r *Repository) PersonaSkills(ctx context.Context, personaID string) ([]PersonaSkill, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT skill, enabled, config_json FROM persona_skills WHERE persona_id = ? ORDER BY skill;`, personaID)
	if err != nil {
		return nil, fmt.Errorf("list persona skills: %w", err)
	}
	defer rows.Close()

	var out []PersonaSkill
	for rows.Next() {
		var (
			s       PersonaSkill
			enabled int
			raw     string
		)
		if err := rows.Scan(&s.Skill, &enabled, &raw); err != nil {
			return nil, fmt.Errorf("scan persona skill: %w", err)
		}
		s.Enabled = enabled != 0
		if raw != "" && raw != "{}" {
			if err := json.Unmarshal([]byte(raw), &s.Config); err != nil {
				return nil, fmt.Errorf("decode config for %s: %w", s.Skill, err)
			}
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// SetPersonaSkill enables or disables a skill for a persona and replaces its
// override config.
func (r *Repository) SetPersonaSkill(ctx context.Context, personaID string, s PersonaSkill) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("set persona skill: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM personas WHERE id = ?;`, personaID).Scan(&exists); err != nil {
		return fmt.Errorf("set persona skill: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("persona %s: %w", personaID, ErrNotFound)
	}
	if err := upsertSkill(ctx, tx, personaID, s); err != nil {
		return err
	}
	return tx.Commit()
}

func upsertSkill(ctx context.Context, tx *sql.Tx, personaID string, s PersonaSkill) error {
	cfg := s.Config
	if cfg == nil {
		cfg = map[string]string{}
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config for %s: %w", s.Skill, err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO persona_skills (persona_id, skill, enabled, config_json) VALUES (?, ?, ?, ?)
		ON CONFLICT(persona_id, skill) DO UPDATE SET enabled = excluded.enabled, config_json = excluded.config_json;`,
		personaID, s.Skill, boolInt(s.Enabled), string(raw))
	if err != nil {
		return fmt.Errorf("upsert skill %s: %w", s.Skill, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPersona(row rowScanner) (*Persona, error) {
	var (
		p    Persona
		temp sql.NullFloat64
	)
	if err := row.Scan(&p.ID, &p.Name, &p.Role, &p.JobTitle, &p.Department, &p.Level,
		&p.SystemPrompt, &p.Provider, &p.Model, &temp, &p.CreatedAt); err != nil {
		return nil, err
	}
	if temp.Valid {
		v := float32(temp.Float64)
		p.Temperature = &v
	}
	return &p, nil
}

func nullFloat(v *float32) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: float64(*v), Valid: true}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
