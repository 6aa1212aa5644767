package plugins

import (
	"context"
	"log/slog"

	"github.com/dohr-michael/cadre/internal/config"
	"github.com/dohr-michael/cadre/internal/docstore"
	"github.com/dohr-michael/cadre/internal/events"
	"github.com/dohr-michael/cadre/internal/skills"
)

// SetupSkillRegistry registers the builtin skills, then every discovered
// plugin skill, and freezes the result. Builtins win name clashes. The
// returned runtime owns the WASM instances and must be closed on shutdown.
func SetupSkillRegistry(ctx context.Context, cfg *config.Config, store *docstore.Store, bus *events.Bus, openKV KVOpener) (*skills.Registry, *ExtismRuntime) {
	b := skills.NewBuilder()

	RegisterAll(b, BuiltinSkills(ctx, cfg, store))

	sb := Sandbox{Timeout: cfg.Plugins.Timeout.Duration()}
	if cfg.Storage.Backend == "" || cfg.Storage.Backend == "local" {
		sb.DocRoot = cfg.Storage.DocRoot
	}
	runtime := NewExtismRuntime(bus, sb, openKV)
	d := &Discoverer{
		Runtime:    runtime,
		PluginDir:  cfg.Plugins.Dir,
		ScriptsDir: cfg.Plugins.ScriptsDir,
		Enabled:    cfg.Plugins.Enabled,
	}
	n := RegisterAll(b, d.Discover(ctx))

	reg := b.Build()
	slog.Info("skill registry ready", "skills", reg.Len(), "plugin_skills", n)
	return reg, runtime
}

// BuiltinSkills returns image_generation, web_search, read_file, list_files
// and write_file. A web search provider that fails to initialize is skipped.
func BuiltinSkills(ctx context.Context, cfg *config.Config, store *docstore.Store) []skills.Definition {
	defs := []skills.Definition{
		NewImageSkill(store, cfg.Skills.ImageModel).Definition(),
	}

	if search, err := WebSearchSkill(ctx, cfg.Skills.WebSearch); err != nil {
		slog.Warn("web_search unavailable", "provider", cfg.Skills.WebSearch.Provider, "error", err)
	} else {
		defs = append(defs, search)
	}

	defs = append(defs, NewFileSkills(store, cfg.Skills.ReadMaxChars).Definitions()...)
	return defs
}
