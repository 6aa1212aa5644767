// Package events carries engine notifications between components: task
// lifecycle, action loop turns, plans and delegations.
package events

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// EventType represents the type of event.
type EventType string

const (
	// Task lifecycle
	EventTaskCreated   EventType = "task.created"
	EventTaskStarted   EventType = "task.started"
	EventTaskCompleted EventType = "task.completed"
	EventTaskFailed    EventType = "task.failed"
	EventTaskCancelled EventType = "task.cancelled"

	// Action loop
	EventLLMCall    EventType = "internal.llm.call"
	EventSkillCall  EventType = "skill.call"
	EventLoopDetect EventType = "loop.detected"

	// Plans
	EventPlanCreated       EventType = "plan.created"
	EventPlanStepCompleted EventType = "plan.step.completed"
	EventPlanCompleted     EventType = "plan.completed"

	// Delegation
	EventDelegation EventType = "delegation.launched"

	// Plugins
	EventPlugin EventType = "plugin.event"
)

// EventSource identifies the component that emitted an event.
type EventSource string

const (
	SourceEngine      EventSource = "engine"
	SourceDispatcher  EventSource = "dispatcher"
	SourcePool        EventSource = "pool"
	SourceWorkflow    EventSource = "workflow"
	SourceCoordinator EventSource = "coordinator"
	SourcePlugin      EventSource = "plugin"
)

// Event represents an event in the system.
type Event struct {
	ID        string         `json:"id"`
	TaskID    string         `json:"task_id,omitempty"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Source    EventSource    `json:"source"`
	Payload   map[string]any `json:"payload"`
}

// eventIDCounter is used to generate sequential event IDs.
var eventIDCounter uint64

// NewEvent creates a new event with the current timestamp.
func NewEvent(eventType EventType, source EventSource, payload map[string]any) Event {
	return Event{
		ID:        generateEventID(),
		Type:      eventType,
		Timestamp: time.Now(),
		Source:    source,
		Payload:   payload,
	}
}

func generateEventID() string {
	seq := atomic.AddUint64(&eventIDCounter, 1)
	return fmt.Sprintf("%d-%d", time.Now().UnixNano(), seq)
}

// Subscriber is a function that receives events.
type Subscriber func(Event)

// subscription delivers matching events to one handler, in publish order,
// from its own goroutine.
type subscription struct {
	types  map[EventType]bool
	inbox  chan Event
	stop   chan struct{}
	exited chan struct{}
	once   sync.Once
}

func (s *subscription) wants(t EventType) bool {
	return len(s.types) == 0 || s.types[t]
}

func (s *subscription) run(handler Subscriber) {
	defer close(s.exited)
	for {
		select {
		case e := <-s.inbox:
			handler(e)
		case <-s.stop:
			return
		}
	}
}

func (s *subscription) cancel() { s.once.Do(func() { close(s.stop) }) }

// Bus fans published events out to subscribers. Publishing never blocks:
// an event that finds a full queue is dropped and counted.
type Bus struct {
	mu      sync.RWMutex
	subs    map[int]*subscription
	nextID  int
	queue   chan Event
	size    int
	closed  bool
	done    chan struct{}
	dropped atomic.Uint64
}

// NewBus creates a bus whose queues hold bufferSize events.
func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	b := &Bus{
		subs:  make(map[int]*subscription),
		queue: make(chan Event, bufferSize),
		size:  bufferSize,
		done:  make(chan struct{}),
	}
	go b.fanOut()
	return b
}

func (b *Bus) fanOut() {
	for {
		select {
		case e := <-b.queue:
			b.mu.RLock()
			for _, s := range b.subs {
				if !s.wants(e.Type) {
					continue
				}
				select {
				case s.inbox <- e:
				default:
					b.dropped.Add(1)
				}
			}
			b.mu.RUnlock()
		case <-b.done:
			return
		}
	}
}

// Publish queues an event. A nil or closed bus ignores it.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	select {
	case b.queue <- e:
	default:
		b.dropped.Add(1)
	}
}

// Dropped reports how many deliveries were lost to full queues.
func (b *Bus) Dropped() uint64 { return b.dropped.Load() }

// Subscribe runs handler for every event of the given types, or for all
// events when none are given. The returned func unsubscribes; it may be
// called from inside the handler.
func (b *Bus) Subscribe(handler Subscriber, eventTypes ...EventType) func() {
	s := b.subscribe(eventTypes)
	go s.run(handler)
	return s.cancel
}

func (b *Bus) subscribe(eventTypes []EventType) *subscription {
	s := &subscription{
		inbox:  make(chan Event, b.size),
		stop:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	if len(eventTypes) > 0 {
		s.types = make(map[EventType]bool, len(eventTypes))
		for _, t := range eventTypes {
			s.types[t] = true
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		s.cancel()
		return s
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = s
	go func() {
		<-s.stop
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}()
	return s
}

// SubscribeChan delivers matching events on a channel of size bufSize.
// Events are dropped while the channel is full. The returned func
// unsubscribes and closes the channel.
func (b *Bus) SubscribeChan(bufSize int, eventTypes ...EventType) (<-chan Event, func()) {
	ch := make(chan Event, bufSize)
	s := b.subscribe(eventTypes)
	go s.run(func(e Event) {
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
		}
	})
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.cancel()
			<-s.exited
			close(ch)
		})
	}
}

// Close stops delivery to every subscriber. Safe to call twice.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.done)
	for _, s := range b.subs {
		s.cancel()
	}
}
