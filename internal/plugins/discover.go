package plugins

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dohr-michael/cadre/internal/skills"
)

// Discoverer finds plugin skills on disk.
type Discoverer struct {
	Runtime    *ExtismRuntime
	PluginDir  string // subdirectories holding manifest.jsonc + .wasm
	ScriptsDir string // *.go skill scripts

	// Enabled lists plugin names, script stems or script skill names;
	// empty enables everything.
	Enabled []string
}

// Discover loads every enabled WASM plugin and skill script. Broken plugins
// are logged and skipped.
func (d *Discoverer) Discover(ctx context.Context) []skills.Definition {
	var defs []skills.Definition
	defs = append(defs, d.discoverWasm(ctx)...)
	defs = append(defs, d.discoverScripts()...)
	return defs
}

func (d *Discoverer) enabled(name string) bool {
	if len(d.Enabled) == 0 {
		return true
	}
	for _, n := range d.Enabled {
		if strings.EqualFold(n, name) {
			return true
		}
	}
	return false
}

func (d *Discoverer) discoverWasm(ctx context.Context) []skills.Definition {
	if d.PluginDir == "" || d.Runtime == nil {
		return nil
	}
	entries, err := os.ReadDir(d.PluginDir)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("read plugin dir", "dir", d.PluginDir, "error", err)
		}
		return nil
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var defs []skills.Definition
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(d.PluginDir, entry.Name())
		manifestPath := filepath.Join(dir, ManifestFile)
		if _, err := os.Stat(manifestPath); err != nil {
			continue
		}
		manifest, err := LoadManifest(manifestPath)
		if err != nil {
			slog.Warn("skip plugin", "dir", dir, "error", err)
			continue
		}
		if !d.enabled(manifest.Name) {
			slog.Debug("plugin disabled", "name", manifest.Name)
			continue
		}
		loaded, err := d.Runtime.Load(ctx, dir, manifest)
		if err != nil {
			slog.Warn("skip plugin", "name", manifest.Name, "error", err)
			continue
		}
		defs = append(defs, loaded...)
	}
	return defs
}

func (d *Discoverer) discoverScripts() []skills.Definition {
	paths, err := scriptFiles(d.ScriptsDir)
	if err != nil {
		slog.Warn("read scripts dir", "dir", d.ScriptsDir, "error", err)
		return nil
	}
	var defs []skills.Definition
	for _, path := range paths {
		fileDefs, err := LoadScript(path)
		if err != nil {
			slog.Warn("skip skill script", "path", path, "error", err)
			continue
		}
		defs = append(defs, d.filterScript(scriptStem(path), fileDefs)...)
	}
	return defs
}

// filterScript keeps every skill of an enabled script stem, or else only
// the skills enabled by name.
func (d *Discoverer) filterScript(stem string, defs []skills.Definition) []skills.Definition {
	if d.enabled(stem) {
		return defs
	}
	var out []skills.Definition
	for _, def := range defs {
		if d.enabled(def.Name) {
			out = append(out, def)
		}
	}
	return out
}

// RegisterAll adds defs to b, logging and skipping duplicates and invalid
// definitions.
func RegisterAll(b *skills.Builder, defs []skills.Definition) int {
	n := 0
	for _, def := range defs {
		if err := b.Register(def); err != nil {
			slog.Warn("skip skill", "skill", def.Name, "error", err)
			continue
		}
		n++
	}
	return n
}
