// Package skills defines the tools personas invoke through directives and the
// immutable registry that holds them.
package skills

import (
	"context"
	"fmt"
	"strings"
)

// Config is the merged string configuration handed to a handler: global
// settings, persona identity, then per-persona overrides.
type Config map[string]string

// Args are the parsed directive arguments.
type Args map[string]any

// Handler executes a skill. Returned errors are rendered as observations by
// the dispatcher; they never abort the action loop.
type Handler func(ctx context.Context, cfg Config, args Args) (string, error)

// Param describes one argument of a skill.
type Param struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Description string   `json:"description,omitempty"`
	Required    bool     `json:"required,omitempty"`
	Enum        []string `json:"enum,omitempty"`
	Default     any      `json:"default,omitempty"`
}

// Definition is a named, described, invocable skill.
type Definition struct {
	Name        string  `json:"name"`
	DisplayName string  `json:"display_name"`
	Description string  `json:"description"`
	Category    string  `json:"category,omitempty"`
	Params      []Param `json:"params"`
	Handler     Handler `json:"-"`
}

// Validate checks the definition is usable.
func (d *Definition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("skill name is required")
	}
	if strings.ContainsAny(d.Name, " |[](){}:") {
		return fmt.Errorf("skill %q: name contains directive syntax", d.Name)
	}
	if d.Handler == nil {
		return fmt.Errorf("skill %q: handler is required", d.Name)
	}
	seen := make(map[string]bool, len(d.Params))
	for _, p := range d.Params {
		if p.Name == "" {
			return fmt.Errorf("skill %q: parameter name is required", d.Name)
		}
		if seen[p.Name] {
			return fmt.Errorf("skill %q: duplicate parameter %q", d.Name, p.Name)
		}
		seen[p.Name] = true
	}
	return nil
}

// RequiredParams returns required parameter names in declaration order.
func (d *Definition) RequiredParams() []string {
	var out []string
	for _, p := range d.Params {
		if p.Required {
			out = append(out, p.Name)
		}
	}
	return out
}

// Label returns the display name, falling back to the name.
func (d *Definition) Label() string {
	if d.DisplayName != "" {
		return d.DisplayName
	}
	return d.Name
}

// String reads a string argument. Numbers and booleans are formatted.
func (a Args) String(key string) string {
	v, ok := a[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// First returns the first non-empty string among keys.
func (a Args) First(keys ...string) string {
	for _, k := range keys {
		if s := strings.TrimSpace(a.String(k)); s != "" {
			return s
		}
	}
	return ""
}
