package commands

import (
	"context"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/urfave/cli/v3"
)

// NewSettingsCommand returns the settings subcommand.
func NewSettingsCommand() *cli.Command {
	return &cli.Command{
		Name:  "settings",
		Usage: "Manage global skill settings",
		Commands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List settings (secret values are masked)",
				Action: runSettingsList,
			},
			{
				Name:      "get",
				Usage:     "Print one setting",
				ArgsUsage: "<key>",
				Action:    runSettingsGet,
			},
			{
				Name:      "set",
				Usage:     "Store a setting",
				ArgsUsage: "<key> <value>",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "secret", Aliases: []string{"s"}, Usage: "Encrypt the value at rest"},
				},
				Action: runSettingsSet,
			},
		},
		DefaultCommand: "list",
	}
}

func runSettingsList(ctx context.Context, cmd *cli.Command) error {
	a, err := openApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	settings, err := a.repo.Settings(ctx)
	if err != nil {
		return err
	}
	if len(settings) == 0 {
		fmt.Println("No settings.")
		return nil
	}
	keys := make([]string, 0, len(settings))
	for k := range settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tVALUE")
	for _, k := range keys {
		v := settings[k]
		if secret, _ := a.repo.IsSecret(ctx, k); secret {
			v = "********"
		}
		fmt.Fprintf(w, "%s\t%s\n", k, v)
	}
	return w.Flush()
}

func runSettingsGet(ctx context.Context, cmd *cli.Command) error {
	key := cmd.Args().First()
	if key == "" {
		return fmt.Errorf("usage: cadre settings get <key>")
	}
	a, err := openApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	v, err := a.repo.GetSetting(ctx, key)
	if err != nil {
		return err
	}
	fmt.Println(v)
	return nil
}

func runSettingsSet(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() != 2 {
		return fmt.Errorf("usage: cadre settings set <key> <value>")
	}
	key, value := cmd.Args().Get(0), cmd.Args().Get(1)

	a, err := openApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.repo.SetSetting(ctx, key, value, cmd.Bool("secret")); err != nil {
		return err
	}
	success.Printf("%s saved\n", key)
	return nil
}
