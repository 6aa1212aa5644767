package storage

import (
	"fmt"
	"log/slog"

	"github.com/dohr-michael/cadre/internal/events"
)

// Recorder mirrors task and plan lifecycle events into the activity log so
// that later tasks see what their colleagues have been doing.
type Recorder struct {
	log         *ActivityLog
	unsubscribe func()
}

// NewRecorder subscribes to lifecycle events on bus.
func NewRecorder(log *ActivityLog, bus *events.Bus) *Recorder {
	r := &Recorder{log: log}
	r.unsubscribe = bus.Subscribe(r.handle,
		events.EventTaskStarted,
		events.EventTaskCompleted,
		events.EventTaskFailed,
		events.EventPlanCreated,
		events.EventPlanCompleted,
	)
	return r
}

// Close stops recording.
func (r *Recorder) Close() {
	if r.unsubscribe != nil {
		r.unsubscribe()
	}
}

func (r *Recorder) handle(e events.Event) {
	kind, persona, text, ok := describe(e)
	if !ok {
		return
	}
	if err := r.log.Append(kind, persona, text); err != nil {
		slog.Warn("record activity", "type", e.Type, "error", err)
	}
}

func describe(e events.Event) (kind, persona, text string, ok bool) {
	switch e.Type {
	case events.EventTaskStarted:
		p, ok := events.ExtractPayload[events.TaskStartedPayload](e)
		if !ok {
			return "", "", "", false
		}
		return KindTaskStarted, p.Persona, fmt.Sprintf("started '%s'", p.Title), true
	case events.EventTaskCompleted:
		p, ok := events.ExtractPayload[events.TaskCompletedPayload](e)
		if !ok {
			return "", "", "", false
		}
		text := fmt.Sprintf("completed '%s'", p.Title)
		if len(p.Artifacts) > 0 {
			text += fmt.Sprintf(" -> %s", p.Artifacts[len(p.Artifacts)-1])
		}
		return KindTaskCompleted, p.Persona, text, true
	case events.EventTaskFailed:
		p, ok := events.ExtractPayload[events.TaskFailedPayload](e)
		if !ok {
			return "", "", "", false
		}
		return KindTaskFailed, p.Persona, fmt.Sprintf("'%s' failed: %s", p.Title, p.Error), true
	case events.EventPlanCreated:
		p, ok := events.ExtractPayload[events.PlanCreatedPayload](e)
		if !ok {
			return "", "", "", false
		}
		mode := "parallel"
		if p.Sequential {
			mode = "sequential"
		}
		return KindProject, "", fmt.Sprintf("'%s' (%s, %d steps) at %s", p.Title, mode, p.Steps, p.PlanRef), true
	case events.EventPlanCompleted:
		p, ok := events.ExtractPayload[events.PlanCompletedPayload](e)
		if !ok {
			return "", "", "", false
		}
		return KindProjectDone, "", fmt.Sprintf("'%s' at %s", p.Title, p.PlanRef), true
	}
	return "", "", "", false
}
