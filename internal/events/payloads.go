package events

import (
	"encoding/json"
	"time"
)

// EventPayload is the interface all typed payloads implement.
type EventPayload interface {
	EventType() EventType
}

// =============================================================================
// TASK EVENTS
// =============================================================================

type TaskCreatedPayload struct {
	TaskID  string `json:"task_id"`
	Title   string `json:"title"`
	Persona string `json:"persona"`
	PlanRef string `json:"plan_ref,omitempty"`
}

func (TaskCreatedPayload) EventType() EventType { return EventTaskCreated }

type TaskStartedPayload struct {
	TaskID  string `json:"task_id"`
	Title   string `json:"title"`
	Persona string `json:"persona"`
	Worker  string `json:"worker"`
}

func (TaskStartedPayload) EventType() EventType { return EventTaskStarted }

type TaskCompletedPayload struct {
	TaskID    string        `json:"task_id"`
	Title     string        `json:"title"`
	Persona   string        `json:"persona"`
	Artifacts []string      `json:"artifacts,omitempty"`
	Duration  time.Duration `json:"duration"`
}

func (TaskCompletedPayload) EventType() EventType { return EventTaskCompleted }

type TaskFailedPayload struct {
	TaskID  string `json:"task_id"`
	Title   string `json:"title"`
	Persona string `json:"persona"`
	Error   string `json:"error"`
}

func (TaskFailedPayload) EventType() EventType { return EventTaskFailed }

type TaskCancelledPayload struct {
	TaskID string `json:"task_id"`
	Reason string `json:"reason"`
}

func (TaskCancelledPayload) EventType() EventType { return EventTaskCancelled }

// =============================================================================
// ACTION LOOP EVENTS
// =============================================================================

type LLMCallPayload struct {
	Turn     int           `json:"turn"`
	Model    string        `json:"model"`
	Provider string        `json:"provider,omitempty"`
	Messages int           `json:"messages"`
	Duration time.Duration `json:"duration,omitempty"`
	Error    string        `json:"error,omitempty"`
}

func (LLMCallPayload) EventType() EventType { return EventLLMCall }

type SkillCallPayload struct {
	Skill     string         `json:"skill"`
	Requested string         `json:"requested,omitempty"`
	Persona   string         `json:"persona"`
	Arguments map[string]any `json:"arguments,omitempty"`
	Error     string         `json:"error,omitempty"`
}

func (SkillCallPayload) EventType() EventType { return EventSkillCall }

type LoopDetectedPayload struct {
	Turn      int    `json:"turn"`
	Directive string `json:"directive"`
}

func (LoopDetectedPayload) EventType() EventType { return EventLoopDetect }

// =============================================================================
// PLAN EVENTS
// =============================================================================

type PlanCreatedPayload struct {
	PlanRef    string `json:"plan_ref"`
	Title      string `json:"title"`
	Sequential bool   `json:"sequential"`
	Steps      int    `json:"steps"`
}

func (PlanCreatedPayload) EventType() EventType { return EventPlanCreated }

type PlanStepCompletedPayload struct {
	PlanRef string `json:"plan_ref"`
	Step    string `json:"step"`
	Pending int    `json:"pending"`
}

func (PlanStepCompletedPayload) EventType() EventType { return EventPlanStepCompleted }

type PlanCompletedPayload struct {
	PlanRef string `json:"plan_ref"`
	Title   string `json:"title"`
}

func (PlanCompletedPayload) EventType() EventType { return EventPlanCompleted }

// =============================================================================
// DELEGATION EVENTS
// =============================================================================

type DelegationPayload struct {
	From    string `json:"from,omitempty"`
	To      string `json:"to"`
	TaskID  string `json:"task_id"`
	PlanRef string `json:"plan_ref,omitempty"`
}

func (DelegationPayload) EventType() EventType { return EventDelegation }

// =============================================================================
// TYPED EVENT CONSTRUCTORS
// =============================================================================

func NewTypedEvent(source EventSource, payload EventPayload) Event {
	return Event{
		ID:        generateEventID(),
		Type:      payload.EventType(),
		Timestamp: time.Now(),
		Source:    source,
		Payload:   toMap(payload),
	}
}

func NewTypedEventForTask(source EventSource, payload EventPayload, taskID string) Event {
	e := NewTypedEvent(source, payload)
	e.TaskID = taskID
	return e
}

func toMap(v any) map[string]any {
	var result map[string]any
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil
	}
	return result
}

// =============================================================================
// TYPED PAYLOAD EXTRACTORS
// =============================================================================

func ExtractPayload[T EventPayload](e Event) (T, bool) {
	var result T
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return result, false
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return result, false
	}
	return result, true
}
