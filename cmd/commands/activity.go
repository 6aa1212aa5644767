package commands

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"
)

// NewActivityCommand returns the activity subcommand.
func NewActivityCommand() *cli.Command {
	return &cli.Command{
		Name:  "activity",
		Usage: "Read the shared activity log",
		Commands: []*cli.Command{
			{
				Name:  "tail",
				Usage: "Show the most recent entries",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:    "lines",
						Aliases: []string{"n"},
						Usage:   "Number of entries",
						Value:   20,
					},
				},
				Action: runActivityTail,
			},
		},
		DefaultCommand: "tail",
	}
}

func runActivityTail(ctx context.Context, cmd *cli.Command) error {
	a, err := openApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	lines, err := a.activity.Tail(int(cmd.Int("lines")))
	if err != nil {
		return err
	}
	if len(lines) == 0 {
		fmt.Println("No activity yet.")
		return nil
	}
	for _, l := range lines {
		fmt.Println(l)
	}
	return nil
}
