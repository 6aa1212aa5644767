package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/cadre/internal/actors"
	"github.com/dohr-michael/cadre/internal/config"
	"github.com/dohr-michael/cadre/internal/delegation"
	"github.com/dohr-michael/cadre/internal/docstore"
	"github.com/dohr-michael/cadre/internal/engine"
	"github.com/dohr-michael/cadre/internal/events"
	"github.com/dohr-michael/cadre/internal/models"
	"github.com/dohr-michael/cadre/internal/plugins"
	"github.com/dohr-michael/cadre/internal/repository"
	"github.com/dohr-michael/cadre/internal/secrets"
	"github.com/dohr-michael/cadre/internal/skills"
	"github.com/dohr-michael/cadre/internal/storage"
	"github.com/dohr-michael/cadre/internal/tasks"
	"github.com/dohr-michael/cadre/internal/workflow"
)

// app holds the state every command shares. The engine half (models,
// skills, pool) is only built by commands that run personas.
type app struct {
	cfg      *config.Config
	bus      *events.Bus
	repo     *repository.Repository
	docs     *docstore.Store
	activity *storage.ActivityLog
	journal  *storage.Journal
	store    *tasks.FileStore
	plans    *workflow.Manager

	models *models.Registry
	skills *skills.Registry
	exec   *engine.Executor
	coord  *delegation.Coordinator
	pool   *actors.ActorPool

	closers []func()
}

// loadConfig reads the config file named by --config. A missing file falls
// back to defaults.
func loadConfig(cmd *cli.Command) (*config.Config, error) {
	path := cmd.String("config")
	cfg, err := config.Load(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			slog.Debug("config not found, using defaults", "path", path)
			return config.Default(), nil
		}
		return nil, err
	}
	return cfg, nil
}

func setupLogging(cmd *cli.Command, cfg *config.Config) {
	level := cfg.SlogLevel()
	if cmd.Bool("debug") {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// openApp opens the repository, document store and logs.
func openApp(ctx context.Context, cmd *cli.Command) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	setupLogging(cmd, cfg)

	a := &app{cfg: cfg, bus: events.NewBus(cfg.Events.BufferSize)}
	a.closers = append(a.closers, a.bus.Close)

	vault, err := secrets.OpenVault(config.KeyPath())
	if err != nil {
		slog.Warn("secret settings disabled", "error", err)
	}
	if a.repo, err = repository.Open(ctx, cfg.Storage.DBPath, vault); err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, func() { _ = a.repo.Close() })

	backend, err := openBackend(ctx, cfg.Storage)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.docs = docstore.New(backend)

	if a.activity, err = storage.NewActivityLog(cfg.Storage.ActivityPath); err != nil {
		a.Close()
		return nil, err
	}
	if a.journal, err = storage.NewJournal(cfg.Storage.JournalPath); err != nil {
		a.Close()
		return nil, err
	}
	a.store = tasks.NewFileStore(cfg.Storage.TasksDir)
	a.plans = workflow.NewManager(a.docs, a.bus)
	return a, nil
}

func openBackend(ctx context.Context, cfg config.StorageConfig) (docstore.Backend, error) {
	switch cfg.Backend {
	case "", "local":
		return docstore.NewLocalBackend(cfg.DocRoot)
	case "s3":
		return docstore.NewS3Backend(ctx, cfg.S3.Bucket, cfg.S3.Prefix, cfg.S3.Region)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// startEngine builds the model registry, the skill registry, the action loop,
// the coordinator and the worker pool. The pool is created but not started.
func (a *app) startEngine(ctx context.Context) {
	a.models = models.NewRegistry(a.cfg.Models)

	reg, runtime := plugins.SetupSkillRegistry(ctx, a.cfg, a.docs, a.bus, func(name string) plugins.KVStore {
		return a.repo.PluginStore(name)
	})
	a.skills = reg
	a.closers = append(a.closers, func() { runtime.Close(context.Background()) })
	if err := a.repo.SyncSkills(ctx, reg); err != nil {
		slog.Warn("sync skill catalog", "error", err)
	}

	a.exec = engine.NewExecutor(engine.Options{
		Completer: models.NewChatCompleter(a.models),
		Skills:    reg,
		Global:    a.globalSkillConfig(ctx),
		Docs:      a.docs,
		Activity:  a.activity,
		Store:     a.store,
		Bus:       a.bus,
		Config:    a.cfg.Engine,
		Roster:    a.personaNames,
		DriverOf: func(provider string) string {
			pc, _ := a.models.Config(provider)
			return pc.Driver
		},
	})

	providers := a.cfg.Models.Providers
	if len(providers) == 0 {
		providers = map[string]config.ProviderConfig{"default": {MaxConcurrent: 1}}
	}

	// The runner needs the coordinator, which launches through the pool.
	var runner actors.Runner
	a.pool = actors.NewActorPool(actors.ActorPoolConfig{
		Providers:     providers,
		MaxConcurrent: a.cfg.Workers.MaxConcurrent,
		PollInterval:  a.cfg.Workers.PollInterval.Duration(),
		Store:         a.store,
		Bus:           a.bus,
		Journal:       a.journal,
		Runner: actors.RunnerFunc(func(ctx context.Context, t *tasks.Task) actors.Result {
			return runner.RunTask(ctx, t)
		}),
	})
	a.coord = delegation.New(delegation.Config{
		Roster:   a.repo,
		Plans:    a.plans,
		Launcher: a.pool,
		Store:    a.store,
		Activity: a.activity,
		Bus:      a.bus,
	})
	runner = delegation.NewTaskRunner(a.exec, a.repo, a.coord)
	a.pool.OnFinished(a.coord.OnTaskFinished)

	recorder := storage.NewRecorder(a.activity, a.bus)
	eventLog := storage.NewEventLogger(a.cfg.Storage.EventsDir, a.bus)
	a.closers = append(a.closers, recorder.Close, eventLog.Close)
}

// globalSkillConfig is the configuration layer every skill sees: provider
// credentials first, then the stored settings.
func (a *app) globalSkillConfig(ctx context.Context) skills.Config {
	global := skills.Config{"doc_root": a.cfg.Storage.DocRoot}
	for _, name := range a.models.Names() {
		pc, _ := a.models.Config(name)
		key, err := models.ResolveAuth(pc)
		if err != nil || key == "" {
			continue
		}
		switch pc.Driver {
		case "gemini":
			setDefault(global, "gemini_api_key", key)
		case "openai":
			setDefault(global, "api_key", key)
			if pc.BaseURL != "" {
				setDefault(global, "base_url", pc.BaseURL)
			}
		}
	}

	settings, err := a.repo.Settings(ctx)
	if err != nil {
		slog.Warn("load settings", "error", err)
		return global
	}
	for k, v := range settings {
		global[k] = v
	}
	return global
}

func setDefault(cfg skills.Config, key, value string) {
	if _, ok := cfg[key]; !ok {
		cfg[key] = value
	}
}

func (a *app) personaNames(ctx context.Context) ([]string, error) {
	list, err := a.repo.ListPersonas(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(list))
	for _, p := range list {
		names = append(names, p.Name)
	}
	return names, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}
