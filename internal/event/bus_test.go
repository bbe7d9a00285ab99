package event

import (
	"bytes"
	"strings"
	"sync"
	"testing"

	"github.com/Iron-Ham/provenance/internal/logging"
)

func TestBus_Subscribe(t *testing.T) {
	bus := NewBus(nil)

	called := false
	id := bus.Subscribe(TypeSessionStarted, func(e Event) {
		called = true
	})

	if id == "" {
		t.Error("Subscribe should return a non-empty ID")
	}
	if bus.SubscriptionCount() != 1 {
		t.Errorf("Expected 1 subscription, got %d", bus.SubscriptionCount())
	}
	if called {
		t.Error("Handler should not be called until an event is published")
	}
}

func TestBus_Publish(t *testing.T) {
	bus := NewBus(nil)

	var received Event
	bus.Subscribe(TypeSessionStarted, func(e Event) {
		received = e
	})

	bus.Publish(NewSessionStartedEvent("42"))

	if received == nil {
		t.Fatal("Handler should have received the event")
	}
	started, ok := received.(SessionStartedEvent)
	if !ok {
		t.Fatalf("received %T, want SessionStartedEvent", received)
	}
	if started.SessionID != "42" {
		t.Errorf("SessionID = %q, want %q", started.SessionID, "42")
	}
	if started.Timestamp().IsZero() {
		t.Error("Timestamp should be set")
	}
}

func TestBus_Ordering(t *testing.T) {
	bus := NewBus(nil)

	var order []string
	bus.SubscribeAll(func(e Event) { order = append(order, "wildcard") })
	bus.Subscribe(TypeBatchFailed, func(e Event) { order = append(order, "first") })
	bus.Subscribe(TypeBatchFailed, func(e Event) { order = append(order, "second") })

	bus.Publish(NewBatchFailedEvent("1", 3, 5, "boom"))

	want := []string{"first", "second", "wildcard"}
	if strings.Join(order, ",") != strings.Join(want, ",") {
		t.Errorf("order = %v, want %v", order, want)
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus(nil)

	count := 0
	id := bus.Subscribe(TypeBatchDelivered, func(e Event) { count++ })
	bus.Subscribe(TypeBatchDelivered, func(e Event) { count += 10 })

	if !bus.Unsubscribe(id) {
		t.Fatal("Unsubscribe should return true for a known ID")
	}
	if bus.Unsubscribe(id) {
		t.Error("Unsubscribe should return false for an already removed ID")
	}

	bus.Publish(NewBatchDeliveredEvent("1", 1, false))
	if count != 10 {
		t.Errorf("count = %d, want 10", count)
	}
}

func TestBus_PanicRecovery(t *testing.T) {
	var buf bytes.Buffer
	bus := NewBus(logging.NewLoggerWithWriter(&buf, logging.LevelDebug))

	called := false
	bus.Subscribe(TypeBufferOverflow, func(e Event) { panic("handler exploded") })
	bus.Subscribe(TypeBufferOverflow, func(e Event) { called = true })

	bus.Publish(NewBufferOverflowEvent("1", 100))

	if !called {
		t.Error("handler after a panicking handler should still run")
	}
	if !strings.Contains(buf.String(), "handler exploded") {
		t.Errorf("panic should be logged, got %q", buf.String())
	}
}

func TestBus_NilIsNoop(t *testing.T) {
	var bus *Bus
	bus.Publish(NewCaptureArmedEvent("1"))
}

func TestBus_ConcurrentPublish(t *testing.T) {
	bus := NewBus(nil)

	var mu sync.Mutex
	count := 0
	bus.SubscribeAll(func(e Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bus.Publish(NewCaptureDroppedEvent("1", 1, "test"))
		}()
	}
	wg.Wait()

	if count != 50 {
		t.Errorf("count = %d, want 50", count)
	}
}

func TestBus_Clear(t *testing.T) {
	bus := NewBus(nil)
	bus.Subscribe(TypeCaptureArmed, func(e Event) {})
	bus.SubscribeAll(func(e Event) {})

	bus.Clear()
	if bus.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d after Clear, want 0", bus.SubscriptionCount())
	}
}
