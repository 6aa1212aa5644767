// Package tasks provides the persistent task record executed by personas.
package tasks

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a task does not exist.
	ErrNotFound = errors.New("task not found")
	// ErrInvalidTransition is returned when a status change would move a
	// task backwards or out of a terminal state.
	ErrInvalidTransition = errors.New("invalid task status transition")
	// ErrDuplicate is returned when creating a task whose id is taken.
	ErrDuplicate = errors.New("task already exists")
)

// TaskStatus represents the lifecycle state of a task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// CanTransition reports whether a task may move from one status to another.
// Status only moves forward: pending -> running -> completed|failed.
// A pending task may fail directly (cancelled before it started).
func CanTransition(from, to TaskStatus) bool {
	switch from {
	case TaskPending:
		return to == TaskRunning || to == TaskFailed
	case TaskRunning:
		return to == TaskCompleted || to == TaskFailed
	}
	return false
}

// Task is a unit of work assigned to one persona.
type Task struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Persona     string     `json:"persona"`
	Provider    string     `json:"provider,omitempty"`
	Instruction string     `json:"instruction"`
	Status      TaskStatus `json:"status"`
	Output      string     `json:"output,omitempty"`
	Artifacts   []string   `json:"artifacts,omitempty"`
	Error       string     `json:"error,omitempty"`

	// PlanRef, StepNo and StepText link the task to the checklist step it
	// fulfils. StepNo is 1-based; zero on records written before it existed.
	PlanRef  string `json:"plan_ref,omitempty"`
	StepNo   int    `json:"step_no,omitempty"`
	StepText string `json:"step_text,omitempty"`

	// DelegatedBy names the persona whose reply spawned this task.
	DelegatedBy string `json:"delegated_by,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Checkpoint records a point-in-time note about task progress.
type Checkpoint struct {
	Ts      time.Time `json:"ts"`
	Turn    int       `json:"turn"`
	Type    string    `json:"type"`
	Summary string    `json:"summary"`
}

// Checkpoint types.
const (
	CheckpointTurn     = "turn"
	CheckpointSkill    = "skill"
	CheckpointLoop     = "loop"
	CheckpointForced   = "forced"
	CheckpointRecovery = "recovery"
	CheckpointCancel   = "cancelled"
)

// GenerateTaskID creates a unique task identifier.
func GenerateTaskID() string {
	u := uuid.New().String()
	return "task_" + strings.ReplaceAll(u[:8], "-", "")
}

// ShortID returns the eight characters used in artifact names.
func ShortID(id string) string {
	id = strings.TrimPrefix(id, "task_")
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
