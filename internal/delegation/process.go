package delegation

import (
	"context"
	"errors"
	"fmt"

	"github.com/dohr-michael/cadre/internal/tasks"
	"github.com/dohr-michael/cadre/internal/workflow"
)

// Report lists what Process did with the tags of one message.
type Report struct {
	Tasks  []*tasks.Task
	Plans  []*workflow.Plan
	Logged int
}

// Empty reports whether no tag had an effect.
func (r Report) Empty() bool {
	return len(r.Tasks) == 0 && len(r.Plans) == 0 && r.Logged == 0
}

// Process applies every coordination tag in text on behalf of speaker.
// A tag that fails does not stop the others; the failures are joined.
func (c *Coordinator) Process(ctx context.Context, speaker, text string) (Report, error) {
	var rep Report
	var errs []error
	for _, d := range ScanDirectives(text) {
		switch d.Kind {
		case KindDelegate:
			t, err := c.Delegate(ctx, speaker, d.Target, d.Instruction)
			if err != nil {
				errs = append(errs, fmt.Errorf("delegate to %q: %w", d.Target, err))
				continue
			}
			rep.Tasks = append(rep.Tasks, t)
		case KindExecuteTask:
			t, err := c.ExecuteTask(ctx, speaker, d.Title, d.Instruction)
			if err != nil {
				errs = append(errs, fmt.Errorf("execute task %q: %w", d.Title, err))
				continue
			}
			rep.Tasks = append(rep.Tasks, t)
		case KindCreateProject:
			plan, launched, err := c.CreateProject(ctx, speaker, d.Title, d.Sequential, d.Steps)
			if plan != nil {
				rep.Plans = append(rep.Plans, plan)
			}
			rep.Tasks = append(rep.Tasks, launched...)
			if err != nil {
				errs = append(errs, fmt.Errorf("create project %q: %w", d.Title, err))
			}
		case KindLog:
			if err := c.Log(speaker, d.Text); err != nil {
				errs = append(errs, fmt.Errorf("log: %w", err))
				continue
			}
			rep.Logged++
		}
	}
	return rep, errors.Join(errs...)
}
