package storage

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dohr-michael/cadre/internal/events"
)

// Journal layout under the events directory.
const (
	journalTasksDir = "tasks"
	journalPlansDir = "plans"
	journalMainFile = "cadre.jsonl"
)

// EventLogger journals bus events as JSON lines. Events tied to a task go to
// tasks/<id>.jsonl, plan events to plans/<plan>.jsonl, the rest to cadre.jsonl.
type EventLogger struct {
	dir         string
	mu          sync.Mutex
	unsubscribe func()
}

// NewEventLogger subscribes to every bus event and journals it under dir.
func NewEventLogger(dir string, bus *events.Bus) *EventLogger {
	el := &EventLogger{dir: dir}
	el.unsubscribe = bus.Subscribe(func(e events.Event) {
		if err := el.append(e); err != nil {
			slog.Warn("journal event", "type", e.Type, "task", e.TaskID, "error", err)
		}
	})
	return el
}

// Close stops journaling.
func (el *EventLogger) Close() {
	if el.unsubscribe != nil {
		el.unsubscribe()
	}
}

func (el *EventLogger) append(e events.Event) error {
	line, err := json.Marshal(e)
	if err != nil {
		return err
	}
	file := journalFile(el.dir, e)

	// Handlers run concurrently; keep each line whole.
	el.mu.Lock()
	defer el.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(file, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// journalFile picks the file an event belongs to. The task id comes from
// the envelope or, failing that, from a task_id payload field.
func journalFile(dir string, e events.Event) string {
	if id := eventTaskID(e); id != "" {
		return filepath.Join(dir, journalTasksDir, id+".jsonl")
	}
	if ref, _ := e.Payload["plan_ref"].(string); ref != "" {
		return filepath.Join(dir, journalPlansDir, planJournalName(ref)+".jsonl")
	}
	return filepath.Join(dir, journalMainFile)
}

func eventTaskID(e events.Event) string {
	if e.TaskID != "" {
		return e.TaskID
	}
	id, _ := e.Payload["task_id"].(string)
	return id
}

// planJournalName turns "projects/Project_1_x.md" into "Project_1_x".
func planJournalName(ref string) string {
	return strings.TrimSuffix(path.Base(filepath.ToSlash(ref)), ".md")
}

// ReadTaskEvents returns the journaled events of a task, oldest first.
// A task with no journal yields an empty slice.
func ReadTaskEvents(dir, taskID string) ([]events.Event, error) {
	return readJournal(filepath.Join(dir, journalTasksDir, taskID+".jsonl"))
}

// ReadPlanEvents returns the journaled events of a plan, oldest first.
func ReadPlanEvents(dir, planRef string) ([]events.Event, error) {
	return readJournal(filepath.Join(dir, journalPlansDir, planJournalName(planRef)+".jsonl"))
}

func readJournal(file string) ([]events.Event, error) {
	f, err := os.Open(file)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []events.Event
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	n := 0
	for sc.Scan() {
		n++
		if len(strings.TrimSpace(sc.Text())) == 0 {
			continue
		}
		var e events.Event
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return out, fmt.Errorf("%s line %d: %w", filepath.Base(file), n, err)
		}
		out = append(out, e)
	}
	return out, sc.Err()
}
