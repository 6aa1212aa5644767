package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/cadre/internal/delegation"
	"github.com/dohr-michael/cadre/internal/tasks"
)

// NewDispatchCommand returns the dispatch subcommand.
func NewDispatchCommand() *cli.Command {
	return &cli.Command{
		Name:      "dispatch",
		Usage:     "Queue a task for a persona",
		ArgsUsage: "<persona> <instruction>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "title",
				Aliases: []string{"t"},
				Usage:   "Task title (default: derived from the instruction)",
			},
			&cli.BoolFlag{
				Name:    "wait",
				Aliases: []string{"w"},
				Usage:   "Run the task in this process and print its output",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Give up waiting after this long",
				Value: 10 * time.Minute,
			},
		},
		Action: runDispatch,
	}
}

// queueLauncher writes pending tasks for a serving process to pick up.
type queueLauncher struct {
	store tasks.Store
}

func (l queueLauncher) Submit(t *tasks.Task) error {
	if t.ID == "" {
		t.ID = tasks.GenerateTaskID()
	}
	t.Status = tasks.TaskPending
	return l.store.Create(t)
}

// queueCoordinator is a coordinator that only enqueues.
func (a *app) queueCoordinator() *delegation.Coordinator {
	return delegation.New(delegation.Config{
		Roster:   a.repo,
		Plans:    a.plans,
		Launcher: queueLauncher{store: a.store},
		Store:    a.store,
		Activity: a.activity,
		Bus:      a.bus,
	})
}

func runDispatch(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() < 2 {
		return fmt.Errorf("usage: cadre dispatch <persona> <instruction>")
	}
	persona := cmd.Args().First()
	instruction := strings.Join(cmd.Args().Slice()[1:], " ")

	a, err := openApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	coord := a.queueCoordinator()
	if cmd.Bool("wait") {
		a.startEngine(ctx)
		coord = a.coord
		a.pool.Start()
		defer a.pool.Stop()
	}

	t, err := coord.Assign(ctx, delegation.Assignment{
		Target:      persona,
		Title:       cmd.String("title"),
		Instruction: instruction,
	})
	if err != nil {
		return err
	}
	fmt.Printf("Task %s queued for %s: %s\n", t.ID, t.Persona, t.Title)
	if !cmd.Bool("wait") {
		return nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, cmd.Duration("timeout"))
	defer cancel()
	done, err := a.pool.Wait(waitCtx, t.ID)
	if err != nil {
		return fmt.Errorf("wait for %s: %w", t.ID, err)
	}
	printTaskResult(done)
	if done.Status == tasks.TaskFailed {
		return fmt.Errorf("task %s failed", t.ID)
	}
	return nil
}

func printTaskResult(t *tasks.Task) {
	fmt.Println()
	statusColor(string(t.Status)).Printf("%s", strings.ToUpper(string(t.Status)))
	fmt.Printf("  %s\n", t.Title)
	for _, p := range t.Artifacts {
		muted.Printf("  -> %s\n", p)
	}
	if t.Error != "" {
		failure.Printf("\n%s\n", t.Error)
	}
	if t.Output != "" {
		fmt.Printf("\n%s\n", renderMarkdown(t.Output))
	}
}
