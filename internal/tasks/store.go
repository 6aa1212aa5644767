package tasks

// ListFilter selects tasks. Zero fields match everything.
type ListFilter struct {
	Status  TaskStatus `json:"status,omitempty"`
	Persona string     `json:"persona,omitempty"`
	PlanRef string     `json:"plan_ref,omitempty"`
}

// Match reports whether t passes the filter.
func (f ListFilter) Match(t *Task) bool {
	return (f.Status == "" || t.Status == f.Status) &&
		(f.Persona == "" || t.Persona == f.Persona) &&
		(f.PlanRef == "" || t.PlanRef == f.PlanRef)
}

// Store is where tasks live between the coordinator, the pool and the CLI.
type Store interface {
	Create(t *Task) error
	Get(id string) (*Task, error)
	List(filter ListFilter) ([]*Task, error)
	// Update rewrites the record. A status change must be a valid transition.
	Update(t *Task) error
	// Transition moves a task to status atomically and applies mutate to the
	// stored record before it is written.
	Transition(id string, to TaskStatus, mutate func(*Task)) (*Task, error)
	Delete(id string) error
	AppendCheckpoint(taskID string, cp Checkpoint) error
	LoadCheckpoints(taskID string) ([]Checkpoint, error)
}
