// Package event provides a pub-sub event bus that lets the CLI, the control
// server and tests observe the capture pipeline without reaching into the
// state owned by the controller or the buffer.
//
// Handlers are called synchronously in registration order. Specific handlers
// run before wildcard handlers. A panicking handler is recovered and logged so
// it cannot stop delivery to the others. A nil *Bus is valid and drops every
// event, so components can take an optional bus.
//
//	bus := event.NewBus(logger)
//	bus.Subscribe(event.TypeBatchFailed, func(e event.Event) {
//	    failed := e.(event.BatchFailedEvent)
//	    fmt.Println("retrying", failed.BatchSize, "events later")
//	})
package event

import (
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/Iron-Ham/provenance/internal/logging"
)

// Handler is a function that handles an event.
type Handler func(Event)

type subscription struct {
	id        string
	eventType string
	handler   Handler
}

// Bus is a simple synchronous pub-sub event bus.
type Bus struct {
	mu            sync.RWMutex
	subscriptions map[string][]subscription // eventType -> subscriptions
	nextID        atomic.Uint64
	logger        *logging.Logger
}

// NewBus creates a new event bus. Handler panics are reported to logger,
// which may be nil.
func NewBus(logger *logging.Logger) *Bus {
	return &Bus{
		subscriptions: make(map[string][]subscription),
		logger:        logging.OrNop(logger).WithComponent("event"),
	}
}

// Subscribe registers a handler for a specific event type.
// Returns a subscription ID that can be used to unsubscribe.
func (b *Bus) Subscribe(eventType string, handler Handler) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := fmt.Sprintf("sub-%d", b.nextID.Add(1))
	b.subscriptions[eventType] = append(b.subscriptions[eventType], subscription{
		id:        id,
		eventType: eventType,
		handler:   handler,
	})
	return id
}

// SubscribeAll registers a handler for all event types.
func (b *Bus) SubscribeAll(handler Handler) string {
	return b.Subscribe("*", handler)
}

// Unsubscribe removes a subscription by ID.
// Returns true if the subscription was found and removed.
func (b *Bus) Unsubscribe(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for eventType, subs := range b.subscriptions {
		for i, sub := range subs {
			if sub.id == id {
				b.subscriptions[eventType] = append(subs[:i:i], subs[i+1:]...)
				return true
			}
		}
	}
	return false
}

// Publish dispatches an event to all registered handlers.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}

	b.mu.RLock()
	eventType := e.EventType()
	specific := append([]subscription(nil), b.subscriptions[eventType]...)
	wildcard := append([]subscription(nil), b.subscriptions["*"]...)
	b.mu.RUnlock()

	for _, sub := range specific {
		b.safeCall(sub.handler, e)
	}
	for _, sub := range wildcard {
		b.safeCall(sub.handler, e)
	}
}

func (b *Bus) safeCall(handler Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				"event_type", e.EventType(),
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
		}
	}()
	handler(e)
}

// Clear removes all subscriptions.
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscriptions = make(map[string][]subscription)
}

// SubscriptionCount returns the total number of active subscriptions.
func (b *Bus) SubscriptionCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	count := 0
	for _, subs := range b.subscriptions {
		count += len(subs)
	}
	return count
}
