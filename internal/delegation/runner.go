package delegation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dohr-michael/cadre/internal/actors"
	"github.com/dohr-michael/cadre/internal/engine"
	"github.com/dohr-michael/cadre/internal/repository"
	"github.com/dohr-michael/cadre/internal/tasks"
)

// Executor runs the action loop for one task.
type Executor interface {
	Execute(ctx context.Context, task *tasks.Task, persona *repository.Persona) engine.Outcome
}

// PersonaLookup loads a persona by name.
type PersonaLookup interface {
	GetPersonaByName(ctx context.Context, name string) (*repository.Persona, error)
}

// TaskRunner is the pool runner: it loads the task's persona, runs the
// action loop and applies any coordination tags found in the result.
type TaskRunner struct {
	exec     Executor
	personas PersonaLookup
	coord    *Coordinator
}

var _ actors.Runner = (*TaskRunner)(nil)

// NewTaskRunner creates a TaskRunner. coord may be nil, in which case tags
// in task output are left alone.
func NewTaskRunner(exec Executor, personas PersonaLookup, coord *Coordinator) *TaskRunner {
	return &TaskRunner{exec: exec, personas: personas, coord: coord}
}

// RunTask implements actors.Runner.
func (r *TaskRunner) RunTask(ctx context.Context, t *tasks.Task) actors.Result {
	persona, err := r.personas.GetPersonaByName(ctx, t.Persona)
	if err != nil {
		return actors.Result{Err: fmt.Errorf("load persona %q: %w", t.Persona, err)}
	}

	out := r.exec.Execute(ctx, t, persona)
	if out.Status != tasks.TaskCompleted {
		if out.Err == nil {
			out.Err = fmt.Errorf("task ended %s", out.Status)
		}
		return actors.Result{Err: out.Err}
	}

	if r.coord != nil {
		rep, err := r.coord.Process(ctx, persona.Name, out.Content)
		if err != nil {
			slog.Warn("apply coordination tags", "task_id", t.ID, "persona", persona.Name, "error", err)
		}
		if !rep.Empty() {
			slog.Info("task output coordinated", "task_id", t.ID, "tasks", len(rep.Tasks), "plans", len(rep.Plans))
		}
	}
	return actors.Result{Output: out.Content, Artifacts: out.Artifacts}
}
