package commands

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/cadre/internal/storage"
	"github.com/dohr-michael/cadre/internal/tasks"
)

// NewPlansCommand returns the plans subcommand.
func NewPlansCommand() *cli.Command {
	return &cli.Command{
		Name:  "plans",
		Usage: "Inspect project checklists",
		Commands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List plans, newest first",
				Action: runPlansList,
			},
			{
				Name:      "show",
				Usage:     "Show a plan and the tasks launched for it",
				ArgsUsage: "<plan_ref>",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "events", Aliases: []string{"e"}, Usage: "Include the plan's event journal"},
				},
				Action: runPlansShow,
			},
		},
		DefaultCommand: "list",
	}
}

func runPlansList(ctx context.Context, cmd *cli.Command) error {
	a, err := openApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	plans, err := a.plans.List(ctx)
	if err != nil {
		return err
	}
	if len(plans) == 0 {
		fmt.Println("No plans found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "REF\tMODE\tPROGRESS\tTITLE")
	for _, p := range plans {
		done := 0
		for _, s := range p.Steps {
			if s.Done {
				done++
			}
		}
		fmt.Fprintf(w, "%s\t%s\t%d/%d\t%s\n", p.Ref, p.Mode(), done, len(p.Steps), p.Title)
	}
	return w.Flush()
}

func runPlansShow(ctx context.Context, cmd *cli.Command) error {
	ref := cmd.Args().First()
	if ref == "" {
		return fmt.Errorf("usage: cadre plans show <plan_ref>")
	}

	a, err := openApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	p, err := a.plans.Load(ctx, ref)
	if err != nil {
		return err
	}
	fmt.Println(renderMarkdown(p.Render()))

	launched, err := a.store.List(tasks.ListFilter{PlanRef: p.Ref})
	if err != nil {
		return err
	}
	if len(launched) > 0 {
		heading.Println("Tasks:")
		for _, t := range launched {
			statusColor(string(t.Status)).Printf("  %-10s", t.Status)
			fmt.Printf(" %s  %s: %s\n", t.ID, t.Persona, t.Title)
		}
	}
	if cmd.Bool("events") {
		evs, err := storage.ReadPlanEvents(a.cfg.Storage.EventsDir, p.Ref)
		if err != nil {
			warning.Printf("event journal: %v\n", err)
		}
		printEvents(evs)
	}
	return nil
}
