package tasks

import (
	"log/slog"
	"time"
)

// RecoveredError is the error recorded on tasks interrupted by a restart.
const RecoveredError = "interrupted: process restarted while the task was running"

// RecoverTasks fails every task a previous process left running and returns
// them. Interrupted work is not requeued since status never moves back;
// pending tasks stay queued. Call before the pool starts.
func RecoverTasks(store Store) ([]*Task, error) {
	running, err := store.List(ListFilter{Status: TaskRunning})
	if err != nil {
		return nil, err
	}

	var failed []*Task
	for _, t := range running {
		lastTurn := 0
		if cps, _ := store.LoadCheckpoints(t.ID); len(cps) > 0 {
			lastTurn = cps[len(cps)-1].Turn
		}
		done, err := store.Transition(t.ID, TaskFailed, func(t *Task) { t.Error = RecoveredError })
		if err != nil {
			slog.Warn("recover task", "task_id", t.ID, "error", err)
			continue
		}
		if err := store.AppendCheckpoint(t.ID, Checkpoint{
			Ts:      time.Now().UTC(),
			Turn:    lastTurn,
			Type:    CheckpointRecovery,
			Summary: "failed on restart",
		}); err != nil {
			slog.Warn("recover task checkpoint", "task_id", t.ID, "error", err)
		}
		failed = append(failed, done)
	}
	return failed, nil
}
