package tasks

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dohr-michael/cadre/internal/storage/dirstore"
)

const checkpointsFile = "checkpoints.jsonl"

// FileStore keeps each task in its own directory: meta.json for the record,
// checkpoints.jsonl for the audit trail.
type FileStore struct {
	records *dirstore.Store[Task]
	now     func() time.Time
}

// NewFileStore creates a FileStore rooted at baseDir.
func NewFileStore(baseDir string) *FileStore {
	return &FileStore{records: dirstore.New[Task](baseDir, "task"), now: time.Now}
}

// Create persists a new task, assigning an id and pending status when unset.
// Reusing an existing id fails.
func (fs *FileStore) Create(t *Task) error {
	if t.ID == "" {
		t.ID = GenerateTaskID()
	}
	if t.Status == "" {
		t.Status = TaskPending
	}
	t.CreatedAt = fs.now()
	t.UpdatedAt = t.CreatedAt
	return taskErr(fs.records.Insert(t.ID, t))
}

// Get reads a task by id.
func (fs *FileStore) Get(id string) (*Task, error) {
	t, err := fs.records.Get(id)
	return t, taskErr(err)
}

// List returns the tasks accepted by filter, oldest first.
func (fs *FileStore) List(filter ListFilter) ([]*Task, error) {
	list, err := fs.records.Select(filter.Match)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
	return list, nil
}

// Update replaces the stored record with t. A status change must be a
// valid transition.
func (fs *FileStore) Update(t *Task) error {
	_, err := fs.records.Modify(t.ID, func(cur *Task) error {
		if cur.Status != t.Status && !CanTransition(cur.Status, t.Status) {
			return fmt.Errorf("%s: %s -> %s: %w", t.ID, cur.Status, t.Status, ErrInvalidTransition)
		}
		t.UpdatedAt = fs.now()
		*cur = *t
		return nil
	})
	return taskErr(err)
}

// Transition moves a task to status under the store lock, stamping the
// start or completion time. Concurrent callers racing on the same task see
// exactly one success.
func (fs *FileStore) Transition(id string, to TaskStatus, mutate func(*Task)) (*Task, error) {
	t, err := fs.records.Modify(id, func(t *Task) error {
		if !CanTransition(t.Status, to) {
			return fmt.Errorf("%s: %s -> %s: %w", id, t.Status, to, ErrInvalidTransition)
		}
		now := fs.now()
		t.UpdatedAt = now
		switch to {
		case TaskRunning:
			t.StartedAt = &now
		case TaskCompleted, TaskFailed:
			t.CompletedAt = &now
		}
		if mutate != nil {
			mutate(t)
		}
		t.Status = to
		return nil
	})
	return t, taskErr(err)
}

// Delete removes a task and its checkpoints.
func (fs *FileStore) Delete(id string) error {
	return fs.records.Remove(id)
}

// AppendCheckpoint records one audit entry for an existing task.
func (fs *FileStore) AppendCheckpoint(taskID string, cp Checkpoint) error {
	return taskErr(fs.records.Append(taskID, checkpointsFile, cp))
}

// LoadCheckpoints returns a task's audit entries in write order.
func (fs *FileStore) LoadCheckpoints(taskID string) ([]Checkpoint, error) {
	return dirstore.Lines[Checkpoint](fs.records, taskID, checkpointsFile)
}

// taskErr maps record errors onto the package's sentinels.
func taskErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, dirstore.ErrNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, dirstore.ErrExists):
		return fmt.Errorf("%w: %w", ErrDuplicate, err)
	}
	return err
}
