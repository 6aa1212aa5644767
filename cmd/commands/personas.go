package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"

	"github.com/dohr-michael/cadre/internal/repository"
)

// NewPersonasCommand returns the personas subcommand.
func NewPersonasCommand() *cli.Command {
	return &cli.Command{
		Name:  "personas",
		Usage: "Manage personas",
		Commands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List personas and their enabled skills",
				Action: runPersonasList,
			},
			{
				Name:      "add",
				Usage:     "Create a persona",
				ArgsUsage: "<name>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "role", Usage: "Role description"},
					&cli.StringFlag{Name: "job-title", Usage: "Job title"},
					&cli.StringFlag{Name: "department", Usage: "Department"},
					&cli.StringFlag{Name: "level", Usage: "Seniority level"},
					&cli.StringFlag{Name: "prompt", Usage: "System prompt"},
					&cli.StringFlag{Name: "provider", Usage: "Model provider name (default: the default provider)"},
					&cli.StringFlag{Name: "model", Usage: "Model override"},
					&cli.FloatFlag{Name: "temperature", Usage: "Sampling temperature"},
					&cli.StringSliceFlag{Name: "skill", Usage: "Enable a skill (repeatable)"},
				},
				Action: runPersonasAdd,
			},
			{
				Name:      "import",
				Usage:     "Create or update personas from a YAML file",
				ArgsUsage: "<file.yaml>",
				Action:    runPersonasImport,
			},
			{
				Name:      "enable-skill",
				Usage:     "Enable (or disable) a skill for a persona",
				ArgsUsage: "<persona> <skill>",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "disable", Usage: "Disable instead of enable"},
					&cli.StringSliceFlag{Name: "set", Usage: "Override config as key=value (repeatable)"},
				},
				Action: runPersonasEnableSkill,
			},
		},
		DefaultCommand: "list",
	}
}

func runPersonasList(ctx context.Context, cmd *cli.Command) error {
	a, err := openApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	list, err := a.repo.ListPersonas(ctx)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Println("No personas found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tJOB TITLE\tDEPARTMENT\tPROVIDER\tSKILLS")
	for _, p := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			p.Name,
			orDash(p.JobTitle),
			orDash(p.Department),
			orDash(p.Provider),
			orDash(strings.Join(p.EnabledSkills(), ",")),
		)
	}
	return w.Flush()
}

func runPersonasAdd(ctx context.Context, cmd *cli.Command) error {
	name := strings.TrimSpace(cmd.Args().First())
	if name == "" {
		return fmt.Errorf("usage: cadre personas add <name>")
	}

	a, err := openApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	p := &repository.Persona{
		Name:         name,
		Role:         cmd.String("role"),
		JobTitle:     cmd.String("job-title"),
		Department:   cmd.String("department"),
		Level:        cmd.String("level"),
		SystemPrompt: cmd.String("prompt"),
		Provider:     cmd.String("provider"),
		Model:        cmd.String("model"),
	}
	if cmd.IsSet("temperature") {
		t := float32(cmd.Float("temperature"))
		p.Temperature = &t
	}
	for _, s := range cmd.StringSlice("skill") {
		p.Skills = append(p.Skills, repository.PersonaSkill{Skill: s, Enabled: true})
	}

	if err := a.repo.CreatePersona(ctx, p); err != nil {
		return err
	}
	success.Printf("Persona %s created (%s)\n", p.Name, p.ID)
	return nil
}

// personaFile is the import format: either a `personas:` list or a bare list.
type personaFile struct {
	Personas []repository.Persona `yaml:"personas"`
}

func decodePersonas(data []byte) ([]repository.Persona, error) {
	var f personaFile
	if err := yaml.Unmarshal(data, &f); err == nil && len(f.Personas) > 0 {
		return f.Personas, nil
	}
	var list []repository.Persona
	if err := yaml.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("decode personas: %w", err)
	}
	return list, nil
}

func runPersonasImport(ctx context.Context, cmd *cli.Command) error {
	path := cmd.Args().First()
	if path == "" {
		return fmt.Errorf("usage: cadre personas import <file.yaml>")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	list, err := decodePersonas(data)
	if err != nil {
		return err
	}

	a, err := openApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	created, updated := 0, 0
	for i := range list {
		p := &list[i]
		existing, err := a.repo.GetPersonaByName(ctx, p.Name)
		switch {
		case errors.Is(err, repository.ErrNotFound):
			if err := a.repo.CreatePersona(ctx, p); err != nil {
				return err
			}
			created++
		case err != nil:
			return err
		default:
			p.ID = existing.ID
			if err := a.repo.UpdatePersona(ctx, p); err != nil {
				return err
			}
			for _, s := range p.Skills {
				if err := a.repo.SetPersonaSkill(ctx, p.ID, s); err != nil {
					return err
				}
			}
			updated++
		}
	}
	success.Printf("Imported %d persona(s): %d created, %d updated\n", len(list), created, updated)
	return nil
}

func runPersonasEnableSkill(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() < 2 {
		return fmt.Errorf("usage: cadre personas enable-skill <persona> <skill>")
	}
	name, skill := cmd.Args().Get(0), cmd.Args().Get(1)

	overrides := map[string]string{}
	for _, kv := range cmd.StringSlice("set") {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return fmt.Errorf("invalid --set %q: want key=value", kv)
		}
		overrides[strings.TrimSpace(k)] = v
	}

	a, err := openApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	p, err := a.repo.GetPersonaByName(ctx, name)
	if err != nil {
		return err
	}
	cfg := p.SkillConfig(skill)
	if cfg == nil {
		cfg = map[string]string{}
	}
	for k, v := range overrides {
		cfg[k] = v
	}

	enabled := !cmd.Bool("disable")
	if err := a.repo.SetPersonaSkill(ctx, p.ID, repository.PersonaSkill{Skill: skill, Enabled: enabled, Config: cfg}); err != nil {
		return err
	}
	state := "enabled"
	if !enabled {
		state = "disabled"
	}
	success.Printf("%s: %s %s\n", p.Name, skill, state)
	return nil
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
