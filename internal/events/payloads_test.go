package events

import (
	"testing"
	"time"
)

func TestTypedEvent_TaskCompleted(t *testing.T) {
	payload := TaskCompletedPayload{
		TaskID:    "task_1",
		Title:     "Draft copy",
		Persona:   "Alice",
		Artifacts: []string{"Alice/Draft_copy_task_1.md"},
		Duration:  2 * time.Second,
	}
	evt := NewTypedEventForTask(SourcePool, payload, "task_1")

	if evt.Type != EventTaskCompleted {
		t.Fatalf("expected type %q, got %q", EventTaskCompleted, evt.Type)
	}
	if evt.TaskID != "task_1" {
		t.Fatalf("expected task id %q, got %q", "task_1", evt.TaskID)
	}
	got, ok := ExtractPayload[TaskCompletedPayload](evt)
	if !ok {
		t.Fatal("ExtractPayload returned false")
	}
	if got.Persona != "Alice" {
		t.Fatalf("expected persona %q, got %q", "Alice", got.Persona)
	}
	if len(got.Artifacts) != 1 || got.Artifacts[0] != "Alice/Draft_copy_task_1.md" {
		t.Fatalf("unexpected artifacts %v", got.Artifacts)
	}
	if got.Duration != 2*time.Second {
		t.Fatalf("expected duration 2s, got %s", got.Duration)
	}
}

func TestTypedEvent_SkillCall(t *testing.T) {
	payload := SkillCallPayload{
		Skill:     "image_generation",
		Requested: "image_generation_v2",
		Persona:   "Mei",
		Arguments: map[string]any{"prompt": "a logo"},
	}
	evt := NewTypedEvent(SourceDispatcher, payload)

	if evt.Type != EventSkillCall {
		t.Fatalf("expected type %q, got %q", EventSkillCall, evt.Type)
	}
	got, ok := ExtractPayload[SkillCallPayload](evt)
	if !ok {
		t.Fatal("ExtractPayload returned false")
	}
	if got.Requested != "image_generation_v2" {
		t.Fatalf("expected requested %q, got %q", "image_generation_v2", got.Requested)
	}
	if got.Arguments["prompt"] != "a logo" {
		t.Fatalf("expected prompt argument, got %v", got.Arguments)
	}
}

func TestTypedEvent_PlanStepCompleted(t *testing.T) {
	evt := NewTypedEvent(SourceWorkflow, PlanStepCompletedPayload{PlanRef: "Projects/p.md", Step: "Bob: design", Pending: 1})
	got, ok := ExtractPayload[PlanStepCompletedPayload](evt)
	if !ok {
		t.Fatal("ExtractPayload returned false")
	}
	if got.Pending != 1 {
		t.Fatalf("expected pending 1, got %d", got.Pending)
	}
}
