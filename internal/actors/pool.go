package actors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"

	"github.com/dohr-michael/cadre/internal/config"
	"github.com/dohr-michael/cadre/internal/events"
	"github.com/dohr-michael/cadre/internal/storage"
	"github.com/dohr-michael/cadre/internal/tasks"
)

const defaultPollInterval = 5 * time.Second

// Result is what a Runner produced for one task.
type Result struct {
	Output    string
	Artifacts []string
	Err       error
}

// Runner executes one task. It runs on a pool goroutine; ctx is cancelled
// when the task is cancelled or the pool stops.
type Runner interface {
	RunTask(ctx context.Context, t *tasks.Task) Result
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, t *tasks.Task) Result

func (f RunnerFunc) RunTask(ctx context.Context, t *tasks.Task) Result { return f(ctx, t) }

// FinishHook is called once per task after it reaches a terminal status.
type FinishHook func(t *tasks.Task)

// runningTask tracks a task currently executing on an actor.
type runningTask struct {
	taskID string
	actor  *Actor
	cancel context.CancelFunc
}

// ActorPool manages capacity slots and task scheduling.
type ActorPool struct {
	mu        sync.Mutex
	actors    []*Actor
	providers map[string]bool
	limit     int
	runners   map[string]*runningTask // taskID → running state
	waiters   map[string][]chan *tasks.Task
	hooks     []FinishHook
	store     tasks.Store
	bus       *events.Bus
	runner    Runner
	journal   *storage.Journal
	poll      time.Duration

	scheduleCh chan struct{} // wake-up signal for the scheduler
	ctx        context.Context
	cancel     context.CancelFunc
	wg         conc.WaitGroup
}

// ActorPoolConfig holds configuration for building an ActorPool.
type ActorPoolConfig struct {
	Providers map[string]config.ProviderConfig
	// MaxConcurrent caps running tasks across all providers; 0 means the
	// sum of the providers' slots.
	MaxConcurrent int
	PollInterval  time.Duration
	Store         tasks.Store
	Bus           *events.Bus
	Runner        Runner
	Journal       *storage.Journal
}

// NewActorPool creates an ActorPool from provider configurations.
func NewActorPool(cfg ActorPoolConfig) *ActorPool {
	var actors []*Actor
	providers := make(map[string]bool, len(cfg.Providers))

	names := make([]string, 0, len(cfg.Providers))
	for name := range cfg.Providers {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		providers[name] = true
		n := cfg.Providers[name].MaxConcurrent
		if n <= 0 {
			n = 1
		}
		for i := 0; i < n; i++ {
			actors = append(actors, &Actor{
				ID:           fmt.Sprintf("%s-%d", name, i),
				ProviderName: name,
				Status:       ActorIdle,
			})
		}
	}

	poll := cfg.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}

	return &ActorPool{
		actors:     actors,
		providers:  providers,
		limit:      cfg.MaxConcurrent,
		runners:    make(map[string]*runningTask),
		waiters:    make(map[string][]chan *tasks.Task),
		store:      cfg.Store,
		bus:        cfg.Bus,
		runner:     cfg.Runner,
		journal:    cfg.Journal,
		poll:       poll,
		scheduleCh: make(chan struct{}, 1),
	}
}

// OnFinished registers a hook run after every terminal transition. Hooks
// must be registered before Start.
func (p *ActorPool) OnFinished(h FinishHook) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hooks = append(p.hooks, h)
}

// Start launches the scheduler loop.
func (p *ActorPool) Start() {
	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.wg.Go(p.scheduleLoop)
	slog.Info("actor pool started", "actors", len(p.actors), "limit", p.limit)
}

// Stop cancels all running tasks and waits for goroutines to finish.
func (p *ActorPool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	slog.Info("actor pool stopped")
}

// Store returns the underlying task store.
func (p *ActorPool) Store() tasks.Store {
	return p.store
}

// Snapshot returns a copy of the slots.
func (p *ActorPool) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := Snapshot{Running: len(p.runners)}
	for _, a := range p.actors {
		s.Actors = append(s.Actors, *a)
	}
	return s
}

// Submit creates a pending task and wakes the scheduler.
func (p *ActorPool) Submit(t *tasks.Task) error {
	if t.ID == "" {
		t.ID = tasks.GenerateTaskID()
	}
	t.Status = tasks.TaskPending

	if err := p.store.Create(t); err != nil {
		return err
	}

	p.bus.Publish(events.NewTypedEventForTask(events.SourcePool, events.TaskCreatedPayload{
		TaskID:  t.ID,
		Title:   t.Title,
		Persona: t.Persona,
		PlanRef: t.PlanRef,
	}, t.ID))

	p.wakeScheduler()
	return nil
}

// Cancel stops a running task or fails a pending one. Terminal tasks are
// left untouched.
func (p *ActorPool) Cancel(taskID string, reason string) error {
	p.mu.Lock()
	rt, running := p.runners[taskID]
	if running {
		rt.cancel()
	}
	p.mu.Unlock()

	if running {
		// The worker records the failure once the runner returns.
		p.bus.Publish(events.NewTypedEventForTask(events.SourcePool, events.TaskCancelledPayload{
			TaskID: taskID,
			Reason: reason,
		}, taskID))
		return nil
	}

	task, err := p.store.Get(taskID)
	if err != nil {
		return err
	}
	if task.Status.Terminal() {
		return nil
	}

	failed, err := p.store.Transition(taskID, tasks.TaskFailed, func(t *tasks.Task) {
		t.Error = "cancelled: " + reason
	})
	if err != nil {
		if errors.Is(err, tasks.ErrInvalidTransition) {
			// Picked up by a worker in the meantime.
			return p.Cancel(taskID, reason)
		}
		return err
	}

	_ = p.store.AppendCheckpoint(taskID, tasks.Checkpoint{
		Ts:      time.Now(),
		Type:    tasks.CheckpointCancel,
		Summary: reason,
	})
	p.bus.Publish(events.NewTypedEventForTask(events.SourcePool, events.TaskCancelledPayload{
		TaskID: taskID,
		Reason: reason,
	}, taskID))
	p.finish(failed)
	return nil
}

// Wait blocks until the task reaches a terminal status or ctx ends.
func (p *ActorPool) Wait(ctx context.Context, taskID string) (*tasks.Task, error) {
	ch := make(chan *tasks.Task, 1)
	p.mu.Lock()
	p.waiters[taskID] = append(p.waiters[taskID], ch)
	p.mu.Unlock()

	// The task may have finished before the waiter was registered.
	if t, err := p.store.Get(taskID); err != nil {
		return nil, err
	} else if t.Status.Terminal() {
		return t, nil
	}

	select {
	case t := <-ch:
		return t, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// wakeScheduler sends a non-blocking signal to the schedule loop.
func (p *ActorPool) wakeScheduler() {
	select {
	case p.scheduleCh <- struct{}{}:
	default:
	}
}

// scheduleLoop is the main scheduler goroutine.
func (p *ActorPool) scheduleLoop() {
	pollTicker := time.NewTicker(p.poll)
	defer pollTicker.Stop()

	for {
		p.schedule()

		select {
		case <-p.ctx.Done():
			return
		case <-p.scheduleCh:
		case <-pollTicker.C:
		}
	}
}

// schedule assigns pending tasks to idle actors, oldest first.
func (p *ActorPool) schedule() {
	pending, err := p.store.List(tasks.ListFilter{Status: tasks.TaskPending})
	if err != nil {
		slog.Error("list pending tasks", "error", err)
		return
	}
	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})

	p.mu.Lock()
	defer p.mu.Unlock()

	for _, t := range pending {
		if p.ctx.Err() != nil {
			return
		}
		if p.limit > 0 && len(p.runners) >= p.limit {
			return
		}
		if _, ok := p.runners[t.ID]; ok {
			continue
		}
		actor := p.findIdleActor(t.Provider)
		if actor == nil {
			continue
		}
		actor.Status = ActorBusy
		actor.CurrentTask = t.ID

		p.startTask(t, actor)
	}
}

// findIdleActor returns the first idle actor serving provider. Providers
// without slots of their own run on any idle actor.
// Caller must hold p.mu.
func (p *ActorPool) findIdleActor(provider string) *Actor {
	if !p.providers[provider] {
		provider = ""
	}
	for _, a := range p.actors {
		if a.Status == ActorIdle && a.Serves(provider) {
			return a
		}
	}
	return nil
}

// startTask launches a goroutine to execute a task on an actor.
// Caller must hold p.mu.
func (p *ActorPool) startTask(t *tasks.Task, actor *Actor) {
	taskCtx, taskCancel := context.WithCancel(p.ctx)
	p.runners[t.ID] = &runningTask{taskID: t.ID, actor: actor, cancel: taskCancel}

	p.wg.Go(func() {
		var finished *tasks.Task
		defer func() {
			taskCancel()
			p.mu.Lock()
			delete(p.runners, t.ID)
			actor.Status = ActorIdle
			actor.CurrentTask = ""
			p.mu.Unlock()
			if finished != nil {
				p.finish(finished)
			}
			p.wakeScheduler()
		}()

		finished = p.executeTask(taskCtx, t, actor)
	})
}

// executeTask runs a single task and records its terminal status. Panics in
// the runner are caught here and journaled.
func (p *ActorPool) executeTask(ctx context.Context, t *tasks.Task, actor *Actor) *tasks.Task {
	started, err := p.store.Transition(t.ID, tasks.TaskRunning, func(t *tasks.Task) {
		if t.Provider == "" {
			t.Provider = actor.ProviderName
		}
	})
	if err != nil {
		slog.Warn("start task", "task_id", t.ID, "error", err)
		return nil
	}

	slog.Info("actor executing task", "actor", actor.ID, "task_id", t.ID, "title", t.Title, "persona", t.Persona)
	p.bus.Publish(events.NewTypedEventForTask(events.SourcePool, events.TaskStartedPayload{
		TaskID:  t.ID,
		Title:   t.Title,
		Persona: t.Persona,
		Worker:  actor.ID,
	}, t.ID))

	ctx = events.ContextWithTaskID(ctx, t.ID)
	begin := time.Now()

	var res Result
	var stack []byte
	if p.runner == nil {
		res.Err = fmt.Errorf("no task runner configured")
	} else {
		var catcher panics.Catcher
		catcher.Try(func() { res = p.runner.RunTask(ctx, started) })
		if r := catcher.Recovered(); r != nil {
			res = Result{Err: r.AsError()}
			stack = r.Stack
		}
	}
	if res.Err == nil && ctx.Err() != nil {
		res.Err = ctx.Err()
	}

	if res.Err != nil {
		return p.failTask(started, res.Err, stack)
	}

	done, err := p.store.Transition(t.ID, tasks.TaskCompleted, func(t *tasks.Task) {
		t.Output = res.Output
		t.Artifacts = res.Artifacts
	})
	if err != nil {
		slog.Error("complete task", "task_id", t.ID, "error", err)
		return nil
	}
	slog.Info("task completed", "task_id", t.ID, "duration", time.Since(begin).Round(time.Millisecond))
	p.bus.Publish(events.NewTypedEventForTask(events.SourcePool, events.TaskCompletedPayload{
		TaskID:    t.ID,
		Title:     t.Title,
		Persona:   t.Persona,
		Artifacts: res.Artifacts,
		Duration:  time.Since(begin),
	}, t.ID))
	return done
}

// failTask journals the full failure and records a redacted summary.
func (p *ActorPool) failTask(t *tasks.Task, failure error, stack []byte) *tasks.Task {
	if _, err := p.journal.Record(t.ID, failure, stack); err != nil {
		slog.Warn("journal failure", "task_id", t.ID, "error", err)
	}
	summary := p.journal.Summary(failure)
	if errors.Is(failure, context.Canceled) {
		summary = "cancelled"
	}

	failed, err := p.store.Transition(t.ID, tasks.TaskFailed, func(t *tasks.Task) {
		t.Error = summary
	})
	if err != nil {
		slog.Error("fail task", "task_id", t.ID, "error", err)
		return nil
	}
	slog.Error("task failed", "task_id", t.ID, "error", failure)
	p.bus.Publish(events.NewTypedEventForTask(events.SourcePool, events.TaskFailedPayload{
		TaskID:  t.ID,
		Title:   t.Title,
		Persona: t.Persona,
		Error:   summary,
	}, t.ID))
	return failed
}

// finish notifies waiters and runs the finish hooks.
func (p *ActorPool) finish(t *tasks.Task) {
	p.mu.Lock()
	waiters := p.waiters[t.ID]
	delete(p.waiters, t.ID)
	hooks := append([]FinishHook(nil), p.hooks...)
	p.mu.Unlock()

	for _, ch := range waiters {
		ch <- t
	}
	for _, h := range hooks {
		var catcher panics.Catcher
		catcher.Try(func() { h(t) })
		if r := catcher.Recovered(); r != nil {
			slog.Error("finish hook panicked", "task_id", t.ID, "error", r.AsError())
		}
	}
}
