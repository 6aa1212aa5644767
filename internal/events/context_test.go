package events

import (
	"context"
	"testing"
)

func TestTaskIDRoundTrip(t *testing.T) {
	ctx := ContextWithTaskID(context.Background(), "task_abc123")
	got := TaskIDFromContext(ctx)
	if got != "task_abc123" {
		t.Errorf("got %q, want %q", got, "task_abc123")
	}
}

func TestTaskIDFromEmptyContext(t *testing.T) {
	got := TaskIDFromContext(context.Background())
	if got != "" {
		t.Errorf("got %q, want empty string", got)
	}
}
