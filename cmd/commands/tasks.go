package commands

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/cadre/internal/events"
	"github.com/dohr-michael/cadre/internal/storage"
	"github.com/dohr-michael/cadre/internal/tasks"
)

// NewTasksCommand returns the tasks subcommand.
func NewTasksCommand() *cli.Command {
	return &cli.Command{
		Name:  "tasks",
		Usage: "Inspect and cancel tasks",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List tasks",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "status", Usage: "Filter by status (pending, running, completed, failed)"},
					&cli.StringFlag{Name: "persona", Usage: "Filter by persona"},
					&cli.StringFlag{Name: "plan", Usage: "Filter by plan reference"},
				},
				Action: runTasksList,
			},
			{
				Name:      "show",
				Usage:     "Show task details",
				ArgsUsage: "<task_id>",
				Action:    runTasksShow,
			},
			{
				Name:      "cancel",
				Usage:     "Cancel a pending or running task",
				ArgsUsage: "<task_id>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "reason", Usage: "Reason recorded on the task", Value: "cancelled by user"},
				},
				Action: runTasksCancel,
			},
		},
		DefaultCommand: "list",
	}
}

func runTasksList(ctx context.Context, cmd *cli.Command) error {
	a, err := openApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	list, err := a.store.List(tasks.ListFilter{
		Status:  tasks.TaskStatus(cmd.String("status")),
		Persona: cmd.String("persona"),
		PlanRef: cmd.String("plan"),
	})
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}
	if len(list) == 0 {
		fmt.Println("No tasks found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tPERSONA\tCREATED\tTITLE")
	for _, t := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			t.ID,
			statusColor(string(t.Status)).Sprint(t.Status),
			t.Persona,
			t.CreatedAt.Local().Format("2006-01-02 15:04"),
			t.Title,
		)
	}
	return w.Flush()
}

func runTasksShow(ctx context.Context, cmd *cli.Command) error {
	taskID := cmd.Args().First()
	if taskID == "" {
		return fmt.Errorf("usage: cadre tasks show <task_id>")
	}

	a, err := openApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	t, err := a.store.Get(taskID)
	if err != nil {
		return fmt.Errorf("get task: %w", err)
	}

	fmt.Printf("ID:          %s\n", t.ID)
	fmt.Printf("Title:       %s\n", t.Title)
	fmt.Printf("Status:      %s\n", statusColor(string(t.Status)).Sprint(t.Status))
	fmt.Printf("Persona:     %s\n", t.Persona)
	if t.Provider != "" {
		fmt.Printf("Provider:    %s\n", t.Provider)
	}
	if t.DelegatedBy != "" {
		fmt.Printf("Delegated:   by %s\n", t.DelegatedBy)
	}
	if t.PlanRef != "" {
		fmt.Printf("Plan:        %s\n", t.PlanRef)
		if t.StepNo > 0 {
			fmt.Printf("Step:        #%d %s\n", t.StepNo, t.StepText)
		} else {
			fmt.Printf("Step:        %s\n", t.StepText)
		}
	}
	fmt.Printf("Created:     %s\n", t.CreatedAt.Local().Format(time.DateTime))
	if t.StartedAt != nil {
		fmt.Printf("Started:     %s\n", t.StartedAt.Local().Format(time.DateTime))
	}
	if t.CompletedAt != nil {
		fmt.Printf("Completed:   %s\n", t.CompletedAt.Local().Format(time.DateTime))
	}

	heading.Println("\nInstruction:")
	fmt.Println(t.Instruction)

	if cps, _ := a.store.LoadCheckpoints(taskID); len(cps) > 0 {
		heading.Println("\nCheckpoints:")
		for _, cp := range cps {
			muted.Printf("  [%s] ", cp.Ts.Local().Format("15:04:05"))
			fmt.Printf("turn %d %s: %s\n", cp.Turn, cp.Type, cp.Summary)
		}
	}

	if len(t.Artifacts) > 0 {
		heading.Println("\nArtifacts:")
		for _, p := range t.Artifacts {
			fmt.Printf("  %s\n", p)
		}
	}
	if t.Error != "" {
		failure.Printf("\nError: %s\n", t.Error)
	}
	if t.Output != "" {
		heading.Println("\nOutput:")
		fmt.Println(renderMarkdown(t.Output))
	}
	if cmd.Bool("events") {
		evs, err := storage.ReadTaskEvents(a.cfg.Storage.EventsDir, taskID)
		if err != nil {
			warning.Printf("event journal: %v\n", err)
		}
		printEvents(evs)
	}
	return nil
}

func printEvents(evs []events.Event) {
	if len(evs) == 0 {
		return
	}
	heading.Println("\nEvents:")
	for _, e := range evs {
		muted.Printf("  [%s] ", e.Timestamp.Local().Format("15:04:05"))
		fmt.Printf("%-22s %s\n", e.Type, e.Source)
	}
}

// runTasksCancel marks the task failed in the store. A serving process
// notices on its next write, which the store rejects as an invalid transition.
func runTasksCancel(ctx context.Context, cmd *cli.Command) error {
	taskID := cmd.Args().First()
	if taskID == "" {
		return fmt.Errorf("usage: cadre tasks cancel <task_id>")
	}
	reason := strings.TrimSpace(cmd.String("reason"))

	a, err := openApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	t, err := a.store.Transition(taskID, tasks.TaskFailed, func(t *tasks.Task) {
		t.Error = "cancelled: " + reason
	})
	if err != nil {
		return fmt.Errorf("cancel task: %w", err)
	}
	_ = a.store.AppendCheckpoint(taskID, tasks.Checkpoint{
		Ts:      time.Now().UTC(),
		Type:    tasks.CheckpointCancel,
		Summary: reason,
	})
	if err := a.activity.Append(storage.KindTaskFailed, t.Persona, fmt.Sprintf("'%s' cancelled: %s", t.Title, reason)); err != nil {
		warning.Printf("activity log: %v\n", err)
	}

	fmt.Printf("Task %s cancelled.\n", taskID)
	return nil
}
