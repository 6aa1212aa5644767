// Package plugins discovers skills at startup: WASM plugins run through
// extism, Go skill scripts interpreted with yaegi, and the builtin skills.
package plugins

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/tailscale/hujson"

	"github.com/dohr-michael/cadre/internal/skills"
)

// ManifestFile is the file name that marks a directory as a WASM plugin.
const ManifestFile = "manifest.jsonc"

// PluginManifest describes a WASM plugin, its capabilities and the skills it
// exports.
type PluginManifest struct {
	Name         string            `json:"name"`
	Description  string            `json:"description"`
	WasmPath     string            `json:"wasm_path"` // relative to the manifest directory
	Capabilities CapabilitySet     `json:"capabilities"`
	Skills       []SkillSpec       `json:"skills"` // 1..N skills per plugin
	Config       map[string]string `json:"config"`
}

// SkillSpec describes one skill exported by a plugin.
type SkillSpec struct {
	Name        string         `json:"name" yaml:"name"`
	DisplayName string         `json:"display_name" yaml:"display_name"`
	Description string         `json:"description" yaml:"description"`
	Category    string         `json:"category,omitempty" yaml:"category"`
	Params      []skills.Param `json:"params,omitempty" yaml:"params"`
	Func        string         `json:"func,omitempty" yaml:"func"` // WASM export name (default: "handle")
}

// Definition turns the manifest entry into a skill definition bound to handler.
func (s SkillSpec) Definition(handler skills.Handler) skills.Definition {
	category := s.Category
	if category == "" {
		category = "plugin"
	}
	return skills.Definition{
		Name:        s.Name,
		DisplayName: s.DisplayName,
		Description: s.Description,
		Category:    category,
		Params:      s.Params,
		Handler:     handler,
	}
}

// LoadManifest reads and parses a JSONC manifest file.
func LoadManifest(path string) (*PluginManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", path, err)
	}
	return ParseManifest(path, data)
}

// ParseManifest parses manifest bytes; path is used in error messages.
func ParseManifest(path string, data []byte) (*PluginManifest, error) {
	std, err := hujson.Standardize(data)
	if err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}

	var m PluginManifest
	if err := json.Unmarshal(std, &m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}

	if m.Name == "" {
		return nil, fmt.Errorf("manifest %s: name is required", path)
	}
	if len(m.Skills) == 0 {
		return nil, fmt.Errorf("manifest %s: at least one skill is required", path)
	}

	for i := range m.Skills {
		if m.Skills[i].Func == "" {
			m.Skills[i].Func = "handle"
		}
		// A single unnamed skill takes the plugin name.
		if m.Skills[i].Name == "" {
			if len(m.Skills) == 1 {
				m.Skills[i].Name = m.Name
			} else {
				return nil, fmt.Errorf("manifest %s: skill at index %d must have a name", path, i)
			}
		}
		if m.Skills[i].Description == "" {
			m.Skills[i].Description = m.Description
		}
	}

	return &m, nil
}
