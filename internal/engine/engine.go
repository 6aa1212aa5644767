// Package engine runs one task to completion: a bounded sequence of model
// turns, each of which may call a skill whose output feeds the next turn.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"

	"github.com/dohr-michael/cadre/internal/config"
	"github.com/dohr-michael/cadre/internal/dispatch"
	"github.com/dohr-michael/cadre/internal/docstore"
	"github.com/dohr-michael/cadre/internal/events"
	"github.com/dohr-michael/cadre/internal/models"
	"github.com/dohr-michael/cadre/internal/repository"
	"github.com/dohr-michael/cadre/internal/skills"
	"github.com/dohr-michael/cadre/internal/storage"
	"github.com/dohr-michael/cadre/internal/tasks"
)

// referencesPerAuthor caps how many documents of one colleague are listed
// in the first-turn prompt.
const referencesPerAuthor = 3

// Outcome is the result of one Execute call.
type Outcome struct {
	Status        tasks.TaskStatus
	Content       string
	Artifacts     []string
	Turns         int
	ProviderCalls int
	SkillCalls    int
	Err           error
}

// Options wires an Executor.
type Options struct {
	Completer models.Completer
	Skills    *skills.Registry
	// Global is the configuration every skill handler sees.
	Global   skills.Config
	Docs     *docstore.Store
	Activity *storage.ActivityLog
	Store    tasks.Store // optional: checkpoints are skipped when nil
	Bus      *events.Bus
	Config   config.EngineConfig
	// Roster lists persona names for reference document discovery.
	Roster func(ctx context.Context) ([]string, error)
	// DriverOf maps a provider name to its driver, which skills use to pick
	// a backend. Nil passes the provider name through.
	DriverOf func(provider string) string
}

// Executor is the action loop.
type Executor struct {
	opts Options
	cfg  config.EngineConfig
}

// NewExecutor creates an executor; unset limits fall back to the defaults.
func NewExecutor(opts Options) *Executor {
	cfg := opts.Config
	def := config.Default().Engine
	if cfg == (config.EngineConfig{}) {
		cfg = def
	}
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = def.MaxTurns
	}
	if cfg.ForcingTurns < 0 {
		cfg.ForcingTurns = 0
	}
	if cfg.MinAnswerChars <= 0 {
		cfg.MinAnswerChars = def.MinAnswerChars
	}
	if cfg.ActivityTail < 0 {
		cfg.ActivityTail = 0
	}
	return &Executor{opts: opts, cfg: cfg}
}

// run is the per-execution state.
type run struct {
	e         *Executor
	task      *tasks.Task
	persona   *repository.Persona
	provider  string
	system    string
	history   []*schema.Message
	out       Outcome
	assets    []string
	lastCall  string
	executed  bool
	buffer    string
	retried   bool
	startedAt time.Time
}

// Dispatcher builds the skill dispatcher for persona.
func (e *Executor) Dispatcher(persona *repository.Persona) *dispatch.Dispatcher {
	view := dispatch.PersonaFrom(persona)
	if e.opts.DriverOf != nil && view.Provider != "" {
		if driver := e.opts.DriverOf(view.Provider); driver != "" {
			view.Provider = driver
		}
	}
	return dispatch.New(e.opts.Skills, e.opts.Global, view, dispatch.WithBus(e.opts.Bus))
}

// Execute drives task through at most MaxTurns model turns. Provider errors
// end the run as Failed; skill errors are fed back to the model. The final
// content is saved as an artifact in the persona's folder.
func (e *Executor) Execute(ctx context.Context, task *tasks.Task, persona *repository.Persona) Outcome {
	ctx = events.ContextWithTaskID(ctx, task.ID)
	d := e.Dispatcher(persona)

	r := &run{
		e:         e,
		task:      task,
		persona:   persona,
		provider:  task.Provider,
		system:    SystemPrompt(persona, d.PromptSection()),
		startedAt: time.Now(),
	}
	if r.provider == "" {
		r.provider = persona.Provider
	}

	final, err := r.loop(ctx, d)
	if err != nil {
		r.out.Status = tasks.TaskFailed
		r.out.Err = err
		return r.out
	}

	content := AppendAssets(final, r.assets)
	r.out.Content = content

	if e.opts.Docs != nil {
		p, err := e.opts.Docs.SaveArtifact(ctx, persona.Name, task.Title, tasks.ShortID(task.ID), content)
		if err != nil {
			r.out.Status = tasks.TaskFailed
			r.out.Err = err
			return r.out
		}
		r.out.Artifacts = append(r.out.Artifacts, p)
		text := fmt.Sprintf("Created file: %s (Task: %s)", p, task.Title)
		if err := e.opts.Activity.Append(storage.KindFileCreated, persona.Name, text); err != nil {
			slog.Warn("append activity", "task_id", task.ID, "error", err)
		}
	}

	r.out.Status = tasks.TaskCompleted
	slog.Info("task executed",
		"task_id", task.ID,
		"persona", persona.Name,
		"turns", r.out.Turns,
		"provider_calls", r.out.ProviderCalls,
		"skill_calls", r.out.SkillCalls,
		"duration", time.Since(r.startedAt).Round(time.Millisecond),
	)
	return r.out
}

func (r *run) loop(ctx context.Context, d *dispatch.Dispatcher) (string, error) {
	cfg := r.e.cfg
	first := r.e.initialPrompt(ctx, r.task, r.persona)

	for turn := 0; turn < cfg.MaxTurns; turn++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		r.out.Turns = turn + 1

		prompt := ContinueMarker
		if turn == 0 {
			prompt = first
		}
		text, err := r.complete(ctx, turn, prompt)
		if err != nil {
			return "", err
		}

		if turn == 0 && !cfg.NoRefusalRetry && !r.retried && IsRefusal(text) {
			r.retried = true
			slog.Debug("refusal detected, rephrasing", "task_id", r.task.ID)
			text, err = r.complete(ctx, turn, Rephrase(first))
			if err != nil {
				return "", err
			}
			prompt = Rephrase(first)
		}
		r.history = append(r.history, schema.UserMessage(prompt))

		if directive, _, ok := dispatch.FindDirective(text); ok {
			if directive == r.lastCall {
				r.history = append(r.history,
					schema.AssistantMessage(directive, nil),
					schema.UserMessage(loopCorrection))
				r.e.opts.Bus.Publish(events.NewTypedEventForTask(events.SourceEngine, events.LoopDetectedPayload{
					Turn:      turn,
					Directive: directive,
				}, r.task.ID))
				r.checkpoint(turn, tasks.CheckpointLoop, directive)
				continue
			}
			r.lastCall = directive

			res := d.ParseAndExecute(ctx, text)
			r.executed = true
			r.out.SkillCalls++
			r.assets = append(r.assets, ExtractAssets(res.Output)...)
			r.history = append(r.history,
				schema.AssistantMessage(res.Directive, nil),
				schema.UserMessage(ObservationPrefix+res.Output))
			r.checkpoint(turn, tasks.CheckpointSkill, fmt.Sprintf("%s -> %s", res.Skill, truncate(res.Output, 120)))
			continue
		}

		trimmed := strings.TrimSpace(text)
		if trimmed != "" {
			r.buffer = trimmed
		}
		if turn < cfg.ForcingTurns && !r.executed && len([]rune(trimmed)) < cfg.MinAnswerChars {
			r.history = append(r.history,
				schema.AssistantMessage(text, nil),
				schema.UserMessage(forcingMessage))
			r.checkpoint(turn, tasks.CheckpointForced, truncate(trimmed, 120))
			continue
		}

		r.checkpoint(turn, tasks.CheckpointTurn, "final content accepted")
		return trimmed, nil
	}

	if r.buffer != "" {
		return r.buffer, nil
	}
	return NoContent, nil
}

// complete performs one provider call. The caller appends prompt to the
// history once the turn's reply is settled.
func (r *run) complete(ctx context.Context, turn int, prompt string) (string, error) {
	r.out.ProviderCalls++
	req := models.Request{
		Provider:    r.provider,
		System:      r.system,
		History:     r.history,
		Prompt:      prompt,
		Model:       r.persona.Model,
		Temperature: r.persona.Temperature,
		Stream:      r.e.cfg.Stream,
	}
	resp, err := r.e.opts.Completer.Complete(ctx, req)

	payload := events.LLMCallPayload{
		Turn:     turn,
		Model:    r.persona.Model,
		Provider: resp.Provider,
		Messages: len(r.history) + 2,
		Duration: resp.Duration,
	}
	if err != nil {
		payload.Error = err.Error()
	}
	r.e.opts.Bus.Publish(events.NewTypedEventForTask(events.SourceEngine, payload, r.task.ID))

	if err != nil {
		return "", fmt.Errorf("turn %d: %w", turn, err)
	}
	return resp.Text, nil
}

func (r *run) checkpoint(turn int, kind, summary string) {
	if r.e.opts.Store == nil {
		return
	}
	err := r.e.opts.Store.AppendCheckpoint(r.task.ID, tasks.Checkpoint{
		Ts:      time.Now(),
		Turn:    turn,
		Type:    kind,
		Summary: summary,
	})
	if err != nil {
		slog.Warn("append checkpoint", "task_id", r.task.ID, "error", err)
	}
}

// initialPrompt adds the activity tail and colleagues' documents to the
// instruction. Failures to gather context are logged, never fatal.
func (e *Executor) initialPrompt(ctx context.Context, task *tasks.Task, persona *repository.Persona) string {
	var activity []string
	if e.cfg.ActivityTail > 0 && e.opts.Activity != nil {
		lines, err := e.opts.Activity.Tail(e.cfg.ActivityTail)
		if err != nil {
			slog.Warn("read activity tail", "task_id", task.ID, "error", err)
		}
		activity = lines
	}

	var refs []string
	if e.opts.Docs != nil && e.opts.Roster != nil {
		names, err := e.opts.Roster(ctx)
		if err != nil {
			slog.Warn("list personas", "task_id", task.ID, "error", err)
		} else {
			refs, err = e.opts.Docs.FindByAuthor(ctx, task.Instruction, persona.Name, names, referencesPerAuthor)
			if err != nil {
				slog.Warn("find reference documents", "task_id", task.ID, "error", err)
			}
		}
	}

	return InitialPrompt(task.Instruction, activity, refs)
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
