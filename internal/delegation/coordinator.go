package delegation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/dohr-michael/cadre/internal/events"
	"github.com/dohr-michael/cadre/internal/repository"
	"github.com/dohr-michael/cadre/internal/storage"
	"github.com/dohr-michael/cadre/internal/tasks"
	"github.com/dohr-michael/cadre/internal/workflow"
)

// ErrPersonaNotFound is returned when no persona matches a delegation target.
var ErrPersonaNotFound = errors.New("persona not found")

// titleRunes caps task titles derived from an instruction.
const titleRunes = 48

// Launcher queues a task for execution.
type Launcher interface {
	Submit(t *tasks.Task) error
}

// Roster lists the personas delegation targets are resolved against.
type Roster interface {
	ListPersonas(ctx context.Context) ([]repository.Persona, error)
}

// Config wires a Coordinator.
type Config struct {
	Roster   Roster
	Plans    *workflow.Manager
	Launcher Launcher
	// Store, when set, is consulted so a step that already has a task is
	// not launched again after a restart.
	Store    tasks.Store
	Activity *storage.ActivityLog
	Bus      *events.Bus
}

// Coordinator resolves delegation targets, creates tasks and hands plans
// from one completed step to the next. There is no central plan scheduler:
// each completed step task launches its successors.
type Coordinator struct {
	roster   Roster
	plans    *workflow.Manager
	launcher Launcher
	store    tasks.Store
	activity *storage.ActivityLog
	bus      *events.Bus

	mu       sync.Mutex
	launched map[string]map[int]bool // plan ref → step number
}

// New creates a Coordinator.
func New(cfg Config) *Coordinator {
	return &Coordinator{
		roster:   cfg.Roster,
		plans:    cfg.Plans,
		launcher: cfg.Launcher,
		store:    cfg.Store,
		activity: cfg.Activity,
		bus:      cfg.Bus,
		launched: make(map[string]map[int]bool),
	}
}

// Assignment describes one unit of work to hand to a persona.
type Assignment struct {
	// From is the persona handing the work over; empty for direct dispatch.
	From        string
	Target      string
	Title       string
	Instruction string
	PlanRef     string
	StepNo      int
	Step        string
}

// ResolvePersona finds the persona named name: an exact match first, then a
// case-insensitive match, then containment either way, then the job title.
func (c *Coordinator) ResolvePersona(ctx context.Context, name string) (*repository.Persona, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("resolve persona: empty name: %w", ErrPersonaNotFound)
	}
	roster, err := c.roster.ListPersonas(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve persona: %w", err)
	}
	return resolve(roster, name)
}

func resolve(roster []repository.Persona, name string) (*repository.Persona, error) {
	lower := strings.ToLower(name)
	matchers := []func(p *repository.Persona) bool{
		func(p *repository.Persona) bool { return p.Name == name },
		func(p *repository.Persona) bool { return strings.EqualFold(p.Name, name) },
		func(p *repository.Persona) bool {
			n := strings.ToLower(strings.TrimSpace(p.Name))
			return n != "" && (strings.Contains(n, lower) || strings.Contains(lower, n))
		},
		func(p *repository.Persona) bool {
			return p.JobTitle != "" && strings.Contains(strings.ToLower(p.JobTitle), lower)
		},
	}
	for _, match := range matchers {
		for i := range roster {
			if match(&roster[i]) {
				return &roster[i], nil
			}
		}
	}
	return nil, fmt.Errorf("%q: %w", name, ErrPersonaNotFound)
}

// Assign resolves the target persona and queues a task for it.
func (c *Coordinator) Assign(ctx context.Context, a Assignment) (*tasks.Task, error) {
	persona, err := c.ResolvePersona(ctx, a.Target)
	if err != nil {
		return nil, err
	}

	title := strings.TrimSpace(a.Title)
	if title == "" {
		title = deriveTitle(a.Instruction)
	}
	instruction := a.Instruction
	if a.From != "" && a.From != persona.Name {
		instruction = fmt.Sprintf("Source: Delegated by %s.\nTask: %s", a.From, a.Instruction)
	}

	t := &tasks.Task{
		Title:       title,
		Persona:     persona.Name,
		Provider:    persona.Provider,
		Instruction: instruction,
		PlanRef:     a.PlanRef,
		StepNo:      a.StepNo,
		StepText:    a.Step,
		DelegatedBy: a.From,
	}
	if err := c.launcher.Submit(t); err != nil {
		return nil, fmt.Errorf("launch task for %s: %w", persona.Name, err)
	}

	if a.From != "" && a.From != persona.Name {
		slog.Info("task delegated", "from", a.From, "to", persona.Name, "task_id", t.ID, "plan", a.PlanRef)
		c.bus.Publish(events.NewTypedEventForTask(events.SourceCoordinator, events.DelegationPayload{
			From:    a.From,
			To:      persona.Name,
			TaskID:  t.ID,
			PlanRef: a.PlanRef,
		}, t.ID))
		c.record(storage.KindDelegated, a.From, fmt.Sprintf("delegated '%s' to %s", title, persona.Name))
	}
	return t, nil
}

// Delegate hands instruction from one persona to another.
func (c *Coordinator) Delegate(ctx context.Context, from, target, instruction string) (*tasks.Task, error) {
	return c.Assign(ctx, Assignment{From: from, Target: target, Instruction: instruction})
}

// ExecuteTask queues a titled task for the speaking persona itself.
func (c *Coordinator) ExecuteTask(ctx context.Context, persona, title, instruction string) (*tasks.Task, error) {
	return c.Assign(ctx, Assignment{Target: persona, Title: title, Instruction: instruction})
}

// Log writes a meeting note to the activity log.
func (c *Coordinator) Log(persona, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	return c.activity.Append(storage.KindMeetingLog, persona, text)
}

// CreateProject writes a plan and launches its first ready steps. Steps
// without a persona prefix are assigned to from.
func (c *Coordinator) CreateProject(ctx context.Context, from, title string, sequential bool, steps []string) (*workflow.Plan, []*tasks.Task, error) {
	plan, err := c.plans.Create(ctx, title, steps, sequential)
	if err != nil {
		return nil, nil, err
	}
	launched, err := c.launchPending(ctx, plan.Ref, from)
	return plan, launched, err
}

// OnTaskFinished advances the plan of a finished step task. A completed
// step is flagged and every newly ready step launched; a failed step leaves
// the plan stalled.
func (c *Coordinator) OnTaskFinished(t *tasks.Task) {
	if t.PlanRef == "" {
		return
	}
	if t.Status != tasks.TaskCompleted {
		slog.Warn("plan stalled on failed step", "plan", t.PlanRef, "step", t.StepText, "task_id", t.ID, "error", t.Error)
		return
	}

	ctx := context.Background()
	step := t.StepText
	if step == "" {
		step = t.Instruction
	}
	ok, err := c.plans.MarkStep(ctx, t.PlanRef, t.StepNo, step)
	if err != nil {
		slog.Error("mark plan step", "plan", t.PlanRef, "task_id", t.ID, "error", err)
		return
	}
	if !ok {
		slog.Warn("completed task matched no plan step", "plan", t.PlanRef, "task_id", t.ID)
	}

	if _, err := c.launchPending(ctx, t.PlanRef, t.Persona); err != nil {
		slog.Error("launch next plan steps", "plan", t.PlanRef, "error", err)
	}
}

// launchPending queues a task for each ready step that has none yet.
func (c *Coordinator) launchPending(ctx context.Context, ref, fallback string) ([]*tasks.Task, error) {
	plan, err := c.plans.Load(ctx, ref)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if plan.IsComplete() {
		delete(c.launched, ref)
		return nil, nil
	}
	seen := c.launched[ref]
	if seen == nil {
		seen = c.existingSteps(plan)
		c.launched[ref] = seen
	}

	var out []*tasks.Task
	var errs []error
	for _, no := range plan.Ready() {
		if seen[no] {
			continue
		}
		step := plan.Steps[no-1].Text
		persona, instruction, ok := workflow.ParseStep(step)
		if !ok {
			persona, instruction = fallback, step
		}
		t, err := c.Assign(ctx, Assignment{
			From:        fallback,
			Target:      persona,
			Instruction: instruction,
			PlanRef:     ref,
			StepNo:      no,
			Step:        step,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("step %d %q: %w", no, step, err))
			continue
		}
		seen[no] = true
		out = append(out, t)
	}
	return out, errors.Join(errs...)
}

// existingSteps returns the step numbers of plan that already have a task.
// Tasks recorded without a step number claim the first unclaimed step with
// the same text. Caller must hold c.mu.
func (c *Coordinator) existingSteps(plan *workflow.Plan) map[int]bool {
	seen := make(map[int]bool)
	if c.store == nil {
		return seen
	}
	list, err := c.store.List(tasks.ListFilter{PlanRef: plan.Ref})
	if err != nil {
		slog.Warn("list plan tasks", "plan", plan.Ref, "error", err)
		return seen
	}
	var legacy []string
	for _, t := range list {
		switch {
		case t.StepNo > 0:
			seen[t.StepNo] = true
		case t.StepText != "":
			legacy = append(legacy, t.StepText)
		}
	}
	for _, text := range legacy {
		for i, s := range plan.Steps {
			if !seen[i+1] && s.Text == text {
				seen[i+1] = true
				break
			}
		}
	}
	return seen
}

func (c *Coordinator) record(kind, persona, text string) {
	if err := c.activity.Append(kind, persona, text); err != nil {
		slog.Warn("record activity", "kind", kind, "error", err)
	}
}

// deriveTitle builds a short task title from the first line of an
// instruction.
func deriveTitle(instruction string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(instruction), "\n")
	line = strings.TrimSpace(line)
	if r := []rune(line); len(r) > titleRunes {
		line = strings.TrimSpace(string(r[:titleRunes]))
	}
	if line == "" {
		return "Task"
	}
	return line
}
