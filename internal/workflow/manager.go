package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dohr-michael/cadre/internal/docstore"
	"github.com/dohr-michael/cadre/internal/events"
)

// ProjectsDir is the docstore folder holding plan documents.
const ProjectsDir = "Projects"

// Manager creates and advances plans. Every read-modify-write of one plan
// document happens under that plan's mutex.
type Manager struct {
	docs *docstore.Store
	bus  *events.Bus
	now  func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewManager creates a plan manager storing documents in docs.
func NewManager(docs *docstore.Store, bus *events.Bus) *Manager {
	return &Manager{
		docs:  docs,
		bus:   bus,
		now:   time.Now,
		locks: make(map[string]*sync.Mutex),
	}
}

// lock returns the mutex guarding ref, creating it on first use.
func (m *Manager) lock(ref string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[ref]
	if !ok {
		l = &sync.Mutex{}
		m.locks[ref] = l
	}
	return l
}

// PlanRef returns the document path for a plan created at t.
func PlanRef(title string, t time.Time) string {
	return path.Join(ProjectsDir, fmt.Sprintf("Project_%d_%s.md", t.Unix(), docstore.SanitizeTitle(title)))
}

// Create writes a new plan with every step unflagged.
func (m *Manager) Create(ctx context.Context, title string, steps []string, sequential bool) (*Plan, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, fmt.Errorf("create plan: title is required")
	}
	p := &Plan{
		Title:      title,
		Created:    m.now().Truncate(time.Second),
		Sequential: sequential,
	}
	for _, s := range steps {
		if s = strings.TrimSpace(s); s != "" {
			p.Steps = append(p.Steps, Step{Text: s})
		}
	}
	if len(p.Steps) == 0 {
		return nil, fmt.Errorf("create plan %q: at least one step is required", title)
	}

	p.Ref = PlanRef(title, p.Created)
	l := m.lock(p.Ref)
	l.Lock()
	defer l.Unlock()

	if ok, err := m.docs.Exists(ctx, p.Ref); err != nil {
		return nil, fmt.Errorf("create plan: %w", err)
	} else if ok {
		return nil, fmt.Errorf("create plan: %s already exists", p.Ref)
	}
	if err := m.docs.Write(ctx, p.Ref, []byte(p.Render())); err != nil {
		return nil, fmt.Errorf("create plan: %w", err)
	}

	slog.Info("plan created", "plan", p.Ref, "steps", len(p.Steps), "sequential", sequential)
	m.bus.Publish(events.NewTypedEvent(events.SourceWorkflow, events.PlanCreatedPayload{
		PlanRef:    p.Ref,
		Title:      p.Title,
		Sequential: p.Sequential,
		Steps:      len(p.Steps),
	}))
	return p, nil
}

// Load reads a plan document.
func (m *Manager) Load(ctx context.Context, ref string) (*Plan, error) {
	l := m.lock(ref)
	l.Lock()
	defer l.Unlock()
	return m.load(ctx, ref)
}

func (m *Manager) load(ctx context.Context, ref string) (*Plan, error) {
	data, err := m.docs.Read(ctx, ref)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", ref, ErrPlanNotFound)
		}
		return nil, fmt.Errorf("load plan: %w", err)
	}
	return Parse(ref, data)
}

// MarkStepCompleted flags the step matching text. It reports false, with no
// error, when no unflagged step matches.
func (m *Manager) MarkStepCompleted(ctx context.Context, ref, text string) (bool, error) {
	return m.MarkStep(ctx, ref, 0, text)
}

// MarkStep flags step no (1-based) of ref, falling back to a text match when
// no is zero or the line at no no longer reads text.
func (m *Manager) MarkStep(ctx context.Context, ref string, no int, text string) (bool, error) {
	l := m.lock(ref)
	l.Lock()
	defer l.Unlock()

	p, err := m.load(ctx, ref)
	if err != nil {
		return false, err
	}
	if !p.MarkAt(no, text) {
		slog.Warn("no pending plan step matches", "plan", ref, "step", text)
		return false, nil
	}
	if err := m.docs.Write(ctx, ref, []byte(p.Render())); err != nil {
		return false, fmt.Errorf("mark step: %w", err)
	}

	pending := 0
	for _, s := range p.Steps {
		if !s.Done {
			pending++
		}
	}
	m.bus.Publish(events.NewTypedEvent(events.SourceWorkflow, events.PlanStepCompletedPayload{
		PlanRef: ref,
		Step:    text,
		Pending: pending,
	}))
	if pending == 0 {
		slog.Info("plan completed", "plan", ref)
		m.bus.Publish(events.NewTypedEvent(events.SourceWorkflow, events.PlanCompletedPayload{
			PlanRef: ref,
			Title:   p.Title,
		}))
	}
	return true, nil
}

// PendingSteps returns the steps ready to run.
func (m *Manager) PendingSteps(ctx context.Context, ref string) ([]string, error) {
	p, err := m.Load(ctx, ref)
	if err != nil {
		return nil, err
	}
	return p.Pending(), nil
}

// IsComplete reports whether every step of the plan is flagged.
func (m *Manager) IsComplete(ctx context.Context, ref string) (bool, error) {
	p, err := m.Load(ctx, ref)
	if err != nil {
		return false, err
	}
	return p.IsComplete(), nil
}

// List returns every plan, newest first. Unreadable documents are skipped.
func (m *Manager) List(ctx context.Context) ([]*Plan, error) {
	entries, err := m.docs.List(ctx, ProjectsDir, false)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("list plans: %w", err)
	}

	var plans []*Plan
	for _, e := range entries {
		if e.Dir || !strings.HasSuffix(e.Path, ".md") {
			continue
		}
		p, err := m.Load(ctx, e.Path)
		if err != nil {
			slog.Warn("skip unreadable plan", "plan", e.Path, "error", err)
			continue
		}
		plans = append(plans, p)
	}
	sort.SliceStable(plans, func(i, j int) bool {
		if plans[i].Created.Equal(plans[j].Created) {
			return plans[i].Ref > plans[j].Ref
		}
		return plans[i].Created.After(plans[j].Created)
	})
	return plans, nil
}
