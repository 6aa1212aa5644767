package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/cadre/internal/heartbeat"
	"github.com/dohr-michael/cadre/internal/storage"
	"github.com/dohr-michael/cadre/internal/tasks"
)

// NewServeCommand returns the serve subcommand.
func NewServeCommand() *cli.Command {
	return &cli.Command{
		Name:   "serve",
		Usage:  "Run queued tasks until interrupted",
		Action: runServe,
	}
}

func runServe(ctx context.Context, cmd *cli.Command) error {
	a, err := openApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	a.startEngine(ctx)

	recovered, err := tasks.RecoverTasks(a.store)
	if err != nil {
		return fmt.Errorf("recover tasks: %w", err)
	}
	for _, t := range recovered {
		slog.Warn("interrupted task marked failed", "task_id", t.ID, "persona", t.Persona)
		if err := a.activity.Append(storage.KindTaskFailed, t.Persona, fmt.Sprintf("'%s' interrupted by a restart", t.Title)); err != nil {
			slog.Warn("activity log", "error", err)
		}
	}

	a.pool.Start()
	defer a.pool.Stop()

	beatCtx, stopBeat := context.WithCancel(ctx)
	beatDone := make(chan struct{})
	go func() {
		defer close(beatDone)
		heartbeat.Beat(beatCtx, a.cfg.Storage.HeartbeatPath, heartbeat.DefaultInterval, a.pool.Snapshot)
	}()
	defer func() {
		stopBeat()
		<-beatDone
	}()

	slog.Info("cadre serving",
		"providers", a.models.Names(),
		"skills", a.skills.Len(),
		"workers", a.cfg.Workers.MaxConcurrent,
		"doc_root", a.cfg.Storage.DocRoot,
	)
	<-ctx.Done()
	slog.Info("shutting down...")
	return nil
}
