package events

import (
	"fmt"
	"testing"
	"time"
)

// TestPublishSubscribe verifies basic publish/subscribe functionality.
func TestPublishSubscribe(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch := bus.Subscribe(TopicTask, 10)

	event := TaskAssignedEvent{
		ID:        "task-1",
		Agent:     "researcher",
		Timestamp: time.Now(),
	}

	bus.Publish(TopicTask, event)

	select {
	case received := <-ch:
		if received.Subject() != "task-1" {
			t.Errorf("expected subject 'task-1', got '%s'", received.Subject())
		}
		if received.EventType() != EventTypeTaskAssigned {
			t.Errorf("expected event type '%s', got '%s'", EventTypeTaskAssigned, received.EventType())
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for event")
	}
}

// TestMultipleSubscribers verifies multiple subscribers receive the same event.
func TestMultipleSubscribers(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch1 := bus.Subscribe(TopicTask, 10)
	ch2 := bus.Subscribe(TopicTask, 10)

	event := TaskCompletedEvent{
		ID:        "task-2",
		Agent:     "writer",
		Result:    "success",
		Duration:  100 * time.Millisecond,
		Timestamp: time.Now(),
	}

	bus.Publish(TopicTask, event)

	for i, ch := range []<-chan Event{ch1, ch2} {
		select {
		case received := <-ch:
			if received.Subject() != "task-2" {
				t.Errorf("subscriber %d: expected subject 'task-2', got '%s'", i+1, received.Subject())
			}
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("subscriber %d: timeout waiting for event", i+1)
		}
	}
}

// TestTopicIsolation verifies a topic subscriber never sees other topics.
func TestTopicIsolation(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	taskCh := bus.Subscribe(TopicTask, 10)
	allCh := bus.SubscribeAll(10)

	bus.Publish(TopicAgent, AgentRegisteredEvent{Name: "analyst", Timestamp: time.Now()})

	select {
	case received := <-taskCh:
		t.Fatalf("task subscriber received %s from another topic", received.EventType())
	case <-time.After(50 * time.Millisecond):
	}

	select {
	case received := <-allCh:
		if received.EventType() != EventTypeAgentRegistered {
			t.Errorf("firehose received '%s', want agent registration", received.EventType())
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("firehose subscriber missed the event")
	}
}

// TestNonBlockingPublish verifies that publishing doesn't block when channels are full.
func TestNonBlockingPublish(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch := bus.Subscribe(TopicTask, 1)

	done := make(chan bool)
	go func() {
		for i := 0; i < 10; i++ {
			bus.Publish(TopicTask, TaskSubmittedEvent{
				ID:        fmt.Sprintf("task-%d", i),
				Timestamp: time.Now(),
			})
		}
		done <- true
	}()

	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("publisher blocked (expected non-blocking behavior)")
	}

	select {
	case received := <-ch:
		if received == nil {
			t.Error("received nil event")
		}
	default:
		t.Error("expected at least one event in buffer")
	}
}

// TestCloseSignalsSubscribers verifies that closing the bus closes subscriber channels.
func TestCloseSignalsSubscribers(t *testing.T) {
	bus := NewBus()

	ch := bus.Subscribe(TopicTask, 10)
	all := bus.SubscribeAll(10)

	bus.Close()
	bus.Close() // idempotent

	for range ch {
		t.Fatal("topic channel not closed")
	}
	for range all {
		t.Fatal("firehose channel not closed")
	}

	// Publishing and subscribing after close are safe no-ops.
	bus.Publish(TopicTask, TaskSubmittedEvent{ID: "late"})
	late := bus.Subscribe(TopicTask, 10)
	if _, open := <-late; open {
		t.Error("subscription on a closed bus returned an open channel")
	}
}
