package commands

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/cadre/internal/heartbeat"
	"github.com/dohr-michael/cadre/internal/tasks"
)

// NewStatusCommand returns the status subcommand.
func NewStatusCommand() *cli.Command {
	return &cli.Command{
		Name:   "status",
		Usage:  "Show whether a serving process is running and the task queue",
		Action: runStatus,
	}
}

func runStatus(ctx context.Context, cmd *cli.Command) error {
	a, err := openApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	status, hb, err := heartbeat.Check(a.cfg.Storage.HeartbeatPath, 3*heartbeat.DefaultInterval)
	if err != nil {
		return err
	}
	switch status {
	case heartbeat.StatusAlive:
		success.Printf("serve: alive")
		fmt.Printf(" (pid %d, up %s)\n", hb.PID, hb.Uptime())
		for _, actor := range hb.Pool.Actors {
			line := fmt.Sprintf("  %-16s %s", actor.ID, actor.Status)
			if actor.CurrentTask != "" {
				line += "  " + actor.CurrentTask
			}
			fmt.Println(line)
		}
	case heartbeat.StatusStale:
		warning.Printf("serve: stale")
		fmt.Printf(" (pid %d, last seen %s)\n", hb.PID, hb.Timestamp.Local().Format("2006-01-02 15:04:05"))
	default:
		if hb != nil {
			failure.Printf("serve: exited without cleanup (pid %d, last seen %s)\n", hb.PID, hb.Timestamp.Local().Format("2006-01-02 15:04:05"))
			break
		}
		failure.Println("serve: not running (queued tasks wait until `cadre serve` starts)")
	}

	counts := map[tasks.TaskStatus]int{}
	all, err := a.store.List(tasks.ListFilter{})
	if err != nil {
		return err
	}
	for _, t := range all {
		counts[t.Status]++
	}
	fmt.Println()
	for _, s := range []tasks.TaskStatus{tasks.TaskPending, tasks.TaskRunning, tasks.TaskCompleted, tasks.TaskFailed} {
		statusColor(string(s)).Printf("%-10s", s)
		fmt.Printf(" %d\n", counts[s])
	}
	return nil
}
