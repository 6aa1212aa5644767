package events

import (
	"testing"
	"time"
)

func recv(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
	return Event{}
}

func TestBus_FiltersByType(t *testing.T) {
	bus := NewBus(16)
	defer bus.Close()

	ch, unsub := bus.SubscribeChan(8, EventTaskCreated)
	defer unsub()

	bus.Publish(NewTypedEvent(SourcePool, TaskStartedPayload{TaskID: "task_1"}))
	bus.Publish(NewTypedEvent(SourcePool, TaskCreatedPayload{TaskID: "task_1", Title: "hello"}))

	if e := recv(t, ch); e.Type != EventTaskCreated {
		t.Fatalf("got %s, want task.created", e.Type)
	}
	select {
	case e := <-ch:
		t.Fatalf("unexpected extra event %s", e.Type)
	case <-time.After(30 * time.Millisecond):
	}
}

func TestBus_OrderedPerSubscriber(t *testing.T) {
	bus := NewBus(64)
	defer bus.Close()

	got := make(chan int, 20)
	unsub := bus.Subscribe(func(e Event) {
		p, _ := ExtractPayload[LLMCallPayload](e)
		got <- p.Turn
	})
	defer unsub()

	for i := 1; i <= 20; i++ {
		bus.Publish(NewTypedEventForTask(SourceEngine, LLMCallPayload{Turn: i}, "task_1"))
	}
	for want := 1; want <= 20; want++ {
		select {
		case turn := <-got:
			if turn != want {
				t.Fatalf("turn %d delivered at position %d", turn, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("timeout at turn %d", want)
		}
	}
}

func TestBus_UnsubscribeFromHandler(t *testing.T) {
	bus := NewBus(16)
	defer bus.Close()

	calls := make(chan struct{}, 4)
	var unsub func()
	unsub = bus.Subscribe(func(Event) {
		calls <- struct{}{}
		unsub()
	}, EventPlugin)

	bus.Publish(NewEvent(EventPlugin, SourcePlugin, nil))
	select {
	case <-calls:
	case <-time.After(time.Second):
		t.Fatal("handler never ran")
	}

	time.Sleep(20 * time.Millisecond)
	bus.Publish(NewEvent(EventPlugin, SourcePlugin, nil))
	select {
	case <-calls:
		t.Fatal("handler ran after unsubscribing")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBus_DropsWhenFull(t *testing.T) {
	bus := NewBus(2)
	defer bus.Close()

	block := make(chan struct{})
	defer close(block)
	bus.Subscribe(func(Event) { <-block })

	for i := 0; i < 50; i++ {
		bus.Publish(NewEvent(EventPlugin, SourcePlugin, nil))
	}
	deadline := time.Now().Add(time.Second)
	for bus.Dropped() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if bus.Dropped() == 0 {
		t.Error("expected dropped deliveries with a stuck subscriber")
	}
}

func TestBus_SubscribeChanClose(t *testing.T) {
	bus := NewBus(8)
	defer bus.Close()

	ch, unsub := bus.SubscribeChan(4, EventPlanCreated)
	bus.Publish(NewTypedEvent(SourceWorkflow, PlanCreatedPayload{PlanRef: "projects/p.md"}))
	recv(t, ch)

	unsub()
	unsub()
	if _, ok := <-ch; ok {
		t.Error("channel still open after unsubscribe")
	}
}

func TestBus_ClosedAndNil(t *testing.T) {
	bus := NewBus(4)
	bus.Close()
	bus.Publish(NewTypedEvent(SourcePool, TaskCreatedPayload{TaskID: "task_1"}))
	ch, unsub := bus.SubscribeChan(1)
	unsub()
	if _, ok := <-ch; ok {
		t.Error("subscription on a closed bus delivered")
	}
	bus.Close()

	var none *Bus
	none.Publish(NewTypedEvent(SourcePool, TaskCreatedPayload{TaskID: "task_1"}))
}
