package tasks

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestFileStoreCRUD(t *testing.T) {
	store := NewFileStore(t.TempDir())

	task := &Task{
		Title:       "Draft copy",
		Persona:     "Alice",
		Instruction: "Write the launch copy",
	}
	if err := store.Create(task); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if task.ID == "" {
		t.Fatal("expected non-empty task ID")
	}
	if task.Status != TaskPending {
		t.Errorf("Status: got %q, want %q", task.Status, TaskPending)
	}

	got, err := store.Get(task.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Title != "Draft copy" {
		t.Errorf("Title: got %q, want %q", got.Title, "Draft copy")
	}

	got.Status = TaskRunning
	if err := store.Update(got); err != nil {
		t.Fatalf("Update: %v", err)
	}
	got2, err := store.Get(task.ID)
	if err != nil {
		t.Fatalf("Get after update: %v", err)
	}
	if got2.Status != TaskRunning {
		t.Errorf("Status after update: got %q, want %q", got2.Status, TaskRunning)
	}

	if err := store.Delete(task.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Get(task.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestFileStoreUpdate_RejectsRegression(t *testing.T) {
	store := NewFileStore(t.TempDir())
	task := &Task{Title: "t", Persona: "Alice"}
	if err := store.Create(task); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := store.Transition(task.ID, TaskRunning, nil); err != nil {
		t.Fatalf("Transition running: %v", err)
	}
	if _, err := store.Transition(task.ID, TaskCompleted, nil); err != nil {
		t.Fatalf("Transition completed: %v", err)
	}

	got, _ := store.Get(task.ID)
	got.Status = TaskPending
	if err := store.Update(got); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestFileStoreList(t *testing.T) {
	store := NewFileStore(t.TempDir())

	tasks := []struct {
		title   string
		persona string
		plan    string
	}{
		{"task-a", "Alice", "Projects/p.md"},
		{"task-b", "Bob", "Projects/p.md"},
		{"task-c", "Alice", ""},
	}
	for _, tc := range tasks {
		task := &Task{Title: tc.title, Persona: tc.persona, PlanRef: tc.plan}
		if err := store.Create(task); err != nil {
			t.Fatalf("Create %s: %v", tc.title, err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	all, err := store.List(ListFilter{})
	if err != nil {
		t.Fatalf("List all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("List all: got %d, want 3", len(all))
	}
	if all[0].Title != "task-a" {
		t.Errorf("oldest first: got %q, want %q", all[0].Title, "task-a")
	}

	alice, err := store.List(ListFilter{Persona: "Alice"})
	if err != nil {
		t.Fatalf("List persona: %v", err)
	}
	if len(alice) != 2 {
		t.Errorf("List persona Alice: got %d, want 2", len(alice))
	}

	plan, err := store.List(ListFilter{PlanRef: "Projects/p.md"})
	if err != nil {
		t.Fatalf("List plan: %v", err)
	}
	if len(plan) != 2 {
		t.Errorf("List plan: got %d, want 2", len(plan))
	}

	pending, err := store.List(ListFilter{Status: TaskPending})
	if err != nil {
		t.Fatalf("List pending: %v", err)
	}
	if len(pending) != 3 {
		t.Errorf("List pending: got %d, want 3", len(pending))
	}
}

func TestFileStoreTransition(t *testing.T) {
	store := NewFileStore(t.TempDir())
	task := &Task{Title: "t", Persona: "Alice"}
	if err := store.Create(task); err != nil {
		t.Fatalf("Create: %v", err)
	}

	running, err := store.Transition(task.ID, TaskRunning, nil)
	if err != nil {
		t.Fatalf("Transition running: %v", err)
	}
	if running.StartedAt == nil {
		t.Error("expected StartedAt to be set")
	}

	done, err := store.Transition(task.ID, TaskCompleted, func(t *Task) {
		t.Output = "final"
		t.Artifacts = append(t.Artifacts, "Alice/t_abc.md")
		t.Status = TaskPending // ignored
	})
	if err != nil {
		t.Fatalf("Transition completed: %v", err)
	}
	if done.Status != TaskCompleted || done.CompletedAt == nil {
		t.Errorf("unexpected record %+v", done)
	}

	stored, _ := store.Get(task.ID)
	if stored.Output != "final" || len(stored.Artifacts) != 1 {
		t.Errorf("mutation not persisted: %+v", stored)
	}

	for _, to := range []TaskStatus{TaskPending, TaskRunning, TaskFailed, TaskCompleted} {
		if _, err := store.Transition(task.ID, to, nil); !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("completed -> %s: expected ErrInvalidTransition, got %v", to, err)
		}
	}
}

func TestFileStoreTransition_NotFound(t *testing.T) {
	store := NewFileStore(t.TempDir())
	if _, err := store.Transition("task_missing", TaskRunning, nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFileStoreTransition_ConcurrentSingleWinner(t *testing.T) {
	store := NewFileStore(t.TempDir())
	task := &Task{Title: "t", Persona: "Alice"}
	if err := store.Create(task); err != nil {
		t.Fatalf("Create: %v", err)
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.Transition(task.ID, TaskRunning, nil); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("got %d winners, want 1", wins)
	}
}

func TestFileStoreCheckpoints(t *testing.T) {
	store := NewFileStore(t.TempDir())

	task := &Task{Title: "checkpoint-task", Persona: "Alice"}
	if err := store.Create(task); err != nil {
		t.Fatalf("Create: %v", err)
	}

	cp1 := Checkpoint{Ts: time.Now(), Turn: 0, Type: CheckpointSkill, Summary: "read_file"}
	cp2 := Checkpoint{Ts: time.Now(), Turn: 1, Type: CheckpointTurn, Summary: "final answer"}
	if err := store.AppendCheckpoint(task.ID, cp1); err != nil {
		t.Fatalf("AppendCheckpoint 1: %v", err)
	}
	if err := store.AppendCheckpoint(task.ID, cp2); err != nil {
		t.Fatalf("AppendCheckpoint 2: %v", err)
	}

	cps, err := store.LoadCheckpoints(task.ID)
	if err != nil {
		t.Fatalf("LoadCheckpoints: %v", err)
	}
	if len(cps) != 2 {
		t.Fatalf("LoadCheckpoints: got %d, want 2", len(cps))
	}
	if cps[0].Type != CheckpointSkill || cps[1].Turn != 1 {
		t.Errorf("unexpected checkpoints %+v", cps)
	}
}

func TestFileStoreCheckpoint_UnknownTask(t *testing.T) {
	store := NewFileStore(t.TempDir())
	err := store.AppendCheckpoint("task_missing", Checkpoint{Type: CheckpointTurn})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFileStoreLoadCheckpointsEmpty(t *testing.T) {
	store := NewFileStore(t.TempDir())

	cps, err := store.LoadCheckpoints("nonexistent")
	if err != nil {
		t.Fatalf("LoadCheckpoints nonexistent: %v", err)
	}
	if cps != nil {
		t.Errorf("expected nil, got %v", cps)
	}
}

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to TaskStatus
		want     bool
	}{
		{TaskPending, TaskRunning, true},
		{TaskPending, TaskFailed, true},
		{TaskPending, TaskCompleted, false},
		{TaskRunning, TaskCompleted, true},
		{TaskRunning, TaskFailed, true},
		{TaskRunning, TaskPending, false},
		{TaskCompleted, TaskRunning, false},
		{TaskFailed, TaskPending, false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestShortID(t *testing.T) {
	if got := ShortID("task_1a2b3c4d"); got != "1a2b3c4d" {
		t.Errorf("got %q, want %q", got, "1a2b3c4d")
	}
	if got := ShortID("abcdef0123456789"); got != "abcdef01" {
		t.Errorf("got %q, want %q", got, "abcdef01")
	}
}

func TestFileStoreCreate_DuplicateID(t *testing.T) {
	store := NewFileStore(t.TempDir())
	if err := store.Create(&Task{ID: "task_fixed", Title: "first"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	err := store.Create(&Task{ID: "task_fixed", Title: "second"})
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	got, _ := store.Get("task_fixed")
	if got.Title != "first" {
		t.Errorf("Title = %q, the first record must survive", got.Title)
	}
}

func TestListFilterMatch(t *testing.T) {
	task := &Task{Status: TaskRunning, Persona: "Alice", PlanRef: "projects/p.md"}
	cases := []struct {
		f    ListFilter
		want bool
	}{
		{ListFilter{}, true},
		{ListFilter{Status: TaskRunning, Persona: "Alice"}, true},
		{ListFilter{Status: TaskPending}, false},
		{ListFilter{Persona: "Bob"}, false},
		{ListFilter{PlanRef: "projects/other.md"}, false},
	}
	for _, c := range cases {
		if got := c.f.Match(task); got != c.want {
			t.Errorf("%+v.Match = %v, want %v", c.f, got, c.want)
		}
	}
}
