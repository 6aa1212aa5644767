package commands

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/cadre/internal/repository"
)

// NewSkillsCommand returns the skills subcommand.
func NewSkillsCommand() *cli.Command {
	return &cli.Command{
		Name:  "skills",
		Usage: "Inspect the skill catalog",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List registered skills",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "refresh", Usage: "Rediscover plugins before listing"},
				},
				Action: runSkillsList,
			},
			{
				Name:      "show",
				Usage:     "Show a skill and its parameters",
				ArgsUsage: "<skill>",
				Action:    runSkillsShow,
			},
		},
		DefaultCommand: "list",
	}
}

// catalog returns the stored catalog, rebuilding it from the plugin
// directories when empty or when refresh is set.
func (a *app) catalog(ctx context.Context, refresh bool) ([]repository.CatalogEntry, error) {
	if !refresh {
		entries, err := a.repo.ListSkills(ctx)
		if err != nil || len(entries) > 0 {
			return entries, err
		}
	}
	a.startEngine(ctx)
	return a.repo.ListSkills(ctx)
}

func runSkillsList(ctx context.Context, cmd *cli.Command) error {
	a, err := openApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	entries, err := a.catalog(ctx, cmd.Bool("refresh"))
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("No skills registered.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tCATEGORY\tDESCRIPTION")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\n", e.Name, orDash(e.Category), firstLine(e.Description))
	}
	return w.Flush()
}

func runSkillsShow(ctx context.Context, cmd *cli.Command) error {
	name := cmd.Args().First()
	if name == "" {
		return fmt.Errorf("usage: cadre skills show <skill>")
	}

	a, err := openApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	entries, err := a.catalog(ctx, false)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.Name != name {
			continue
		}
		heading.Println(orDash(e.DisplayName))
		fmt.Printf("Name:      %s\n", e.Name)
		fmt.Printf("Category:  %s\n", orDash(e.Category))
		if e.Description != "" {
			fmt.Printf("\n%s\n", e.Description)
		}
		if len(e.Params) > 0 {
			heading.Println("\nParameters:")
			for _, p := range e.Params {
				req := ""
				if p.Required {
					req = " (required)"
				}
				fmt.Printf("  %s %s%s", p.Name, p.Type, req)
				if len(p.Enum) > 0 {
					fmt.Printf(" [%s]", strings.Join(p.Enum, "|"))
				}
				if p.Description != "" {
					muted.Printf("  %s", p.Description)
				}
				fmt.Println()
			}
		}
		return nil
	}
	return fmt.Errorf("skill %q not found", name)
}

func firstLine(s string) string {
	s, _, _ = strings.Cut(strings.TrimSpace(s), "\n")
	return s
}
