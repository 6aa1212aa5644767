package commands

import (
	"context"

	"github.com/fatih/color"
	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/cadre/internal/config"
)

// Version is stamped at build time with -ldflags "-X ...commands.Version=".
var Version = "dev"

// NewRootCommand returns the top-level CLI command.
func NewRootCommand() *cli.Command {
	return &cli.Command{
		Name:    "cadre",
		Usage:   "Run a team of LLM personas that delegate, plan and hand work to each other",
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Config file (also $CADRE_CONFIG)",
				Value:   config.ConfigPath(),
			},
			&cli.BoolFlag{
				Name:    "debug",
				Usage:   "Log at debug level",
				Sources: cli.EnvVars("CADRE_DEBUG"),
			},
			&cli.BoolFlag{
				Name:  "no-color",
				Usage: "Disable colored output",
			},
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			if cmd.Bool("no-color") {
				color.NoColor = true
			}
			return ctx, nil
		},
		Commands: []*cli.Command{
			NewServeCommand(),
			NewStatusCommand(),
			NewDispatchCommand(),
			NewChatCommand(),
			NewTasksCommand(),
			NewPlansCommand(),
			NewPersonasCommand(),
			NewSkillsCommand(),
			NewSettingsCommand(),
			NewActivityCommand(),
		},
	}
}
