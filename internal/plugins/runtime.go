package plugins

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	extism "github.com/extism/go-sdk"

	"github.com/dohr-michael/cadre/internal/events"
	"github.com/dohr-michael/cadre/internal/skills"
)

// ExtismRuntime manages the lifecycle of WASM plugins.
type ExtismRuntime struct {
	bus     *events.Bus
	sandbox Sandbox
	openKV  KVOpener

	mu      sync.Mutex
	plugins map[string]*loadedPlugin
}

type loadedPlugin struct {
	manifest *PluginManifest

	// extism plugin instances are not safe for concurrent calls.
	mu     sync.Mutex
	plugin *extism.Plugin
}

// wasmInput is the JSON document handed to a plugin export.
type wasmInput struct {
	Config skills.Config `json:"config"`
	Args   skills.Args   `json:"args"`
}

// NewExtismRuntime creates a runtime whose plugins run inside sb. Plugins
// granted the kv capability get openKV(name), or a MemoryKV when openKV is nil.
func NewExtismRuntime(bus *events.Bus, sb Sandbox, openKV KVOpener) *ExtismRuntime {
	if openKV == nil {
		openKV = func(string) KVStore { return NewMemoryKV() }
	}
	return &ExtismRuntime{
		bus:     bus,
		sandbox: sb,
		openKV:  openKV,
		plugins: make(map[string]*loadedPlugin),
	}
}

// Load instantiates the plugin described by manifest (located in dir) and
// returns one skill definition per exported skill.
func (r *ExtismRuntime) Load(ctx context.Context, dir string, manifest *PluginManifest) ([]skills.Definition, error) {
	if manifest.WasmPath == "" {
		return nil, fmt.Errorf("runtime: wasm_path is required for plugin %q", manifest.Name)
	}
	if !filepath.IsAbs(manifest.WasmPath) {
		manifest.WasmPath = filepath.Join(dir, manifest.WasmPath)
	}

	em := BuildExtismManifest(manifest, r.sandbox)

	var kv KVStore
	if manifest.Capabilities.KV {
		kv = r.openKV(manifest.Name)
	}
	hostFns := NewHostFunctions(manifest.Name, r.bus, kv, manifest.Config)

	plugin, err := extism.NewPlugin(ctx, em, extism.PluginConfig{EnableWasi: true}, hostFns)
	if err != nil {
		return nil, fmt.Errorf("runtime: load plugin %q: %w", manifest.Name, err)
	}

	for _, spec := range manifest.Skills {
		if !plugin.FunctionExists(spec.Func) {
			plugin.Close(ctx)
			return nil, fmt.Errorf("runtime: plugin %q missing required %q export", manifest.Name, spec.Func)
		}
	}

	lp := &loadedPlugin{manifest: manifest, plugin: plugin}

	r.mu.Lock()
	if old, ok := r.plugins[manifest.Name]; ok {
		old.plugin.Close(ctx)
	}
	r.plugins[manifest.Name] = lp
	r.mu.Unlock()

	slog.Info("plugin loaded", "name", manifest.Name, "wasm", manifest.WasmPath, "skills", len(manifest.Skills))

	defs := make([]skills.Definition, 0, len(manifest.Skills))
	for _, spec := range manifest.Skills {
		defs = append(defs, spec.Definition(lp.handler(spec.Func)))
	}
	return defs, nil
}

// handler calls export fn with the merged config and parsed args.
func (lp *loadedPlugin) handler(fn string) skills.Handler {
	return func(ctx context.Context, cfg skills.Config, args skills.Args) (string, error) {
		input, err := json.Marshal(wasmInput{Config: cfg, Args: args})
		if err != nil {
			return "", fmt.Errorf("%s: marshal input: %w", lp.manifest.Name, err)
		}

		lp.mu.Lock()
		defer lp.mu.Unlock()

		exit, out, err := lp.plugin.CallWithContext(ctx, fn, input)
		if err != nil {
			return "", fmt.Errorf("%s: call %s: %w", lp.manifest.Name, fn, err)
		}
		if exit != 0 {
			return "", fmt.Errorf("%s: %s exited with code %d", lp.manifest.Name, fn, exit)
		}
		return strings.TrimSpace(string(out)), nil
	}
}

// Close releases all loaded plugins.
func (r *ExtismRuntime) Close(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, lp := range r.plugins {
		if err := lp.plugin.Close(ctx); err != nil {
			slog.Warn("runtime: close plugin", "name", name, "error", err)
		}
	}
	r.plugins = make(map[string]*loadedPlugin)
}
