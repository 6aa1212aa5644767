// Package actors runs tasks on a bounded set of capacity slots (actors),
// one group of slots per model provider.
package actors

// ActorStatus represents the state of an actor slot.
type ActorStatus string

const (
	ActorIdle ActorStatus = "idle"
	ActorBusy ActorStatus = "busy"
)

// Actor represents a single capacity slot bound to a provider.
type Actor struct {
	ID           string      `json:"id"`
	ProviderName string      `json:"provider_name"`
	Status       ActorStatus `json:"status"`
	CurrentTask  string      `json:"current_task,omitempty"`
}

// Serves reports whether the actor may run a task for provider. A task with
// no provider runs anywhere.
func (a *Actor) Serves(provider string) bool {
	return provider == "" || a.ProviderName == provider
}

// Snapshot is a point-in-time copy of the pool's slots.
type Snapshot struct {
	Actors  []Actor `json:"actors"`
	Running int     `json:"running"`
}
