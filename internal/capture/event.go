// Package capture owns the ordered buffer of input events for the active
// session and decides when buffered events are handed to delivery.
package capture

import (
	"context"
	"time"
)

// TimestampLayout renders timestamps the way browsers do for
// Date.prototype.toISOString: UTC with millisecond precision.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// CapturedEvent is a single observed input event. It is a value type and is
// never modified after creation.
type CapturedEvent struct {
	Character string `json:"character"`
	Timestamp string `json:"timestamp"`
}

// NewEvent creates a CapturedEvent for key observed at t.
func NewEvent(key string, t time.Time) CapturedEvent {
	return CapturedEvent{
		Character: key,
		Timestamp: t.UTC().Format(TimestampLayout),
	}
}

// Batch is an ordered, detached snapshot of buffered events sent in one
// delivery call.
type Batch []CapturedEvent

// Sender delivers one batch for a session. A nil return means the collector
// accepted the whole batch.
type Sender interface {
	Send(ctx context.Context, sessionID string, batch Batch) error
}

// SenderFunc adapts a function to the Sender interface.
type SenderFunc func(ctx context.Context, sessionID string, batch Batch) error

// Send calls f.
func (f SenderFunc) Send(ctx context.Context, sessionID string, batch Batch) error {
	return f(ctx, sessionID, batch)
}
