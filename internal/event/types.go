package event

import "time"

// Event is the interface that all events must implement.
type Event interface {
	// EventType returns a string identifier for this event type.
	// Convention: "category.action" (e.g., "session.started", "batch.failed")
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// Event type identifiers.
const (
	TypeSessionStarted   = "session.started"
	TypeSessionFinalized = "session.finalized"
	TypeCaptureArmed     = "capture.armed"
	TypeCaptureDisarmed  = "capture.disarmed"
	TypeCaptureDropped   = "capture.dropped"
	TypeBatchDelivered   = "batch.delivered"
	TypeBatchFailed      = "batch.failed"
	TypeBufferOverflow   = "buffer.overflow"
)

type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

func newBaseEvent(eventType string) baseEvent {
	return baseEvent{
		eventType: eventType,
		timestamp: time.Now(),
	}
}

// -----------------------------------------------------------------------------
// Session Lifecycle Events
// -----------------------------------------------------------------------------

// SessionStartedEvent is emitted once the collector has assigned a session id.
type SessionStartedEvent struct {
	baseEvent
	SessionID string
}

// NewSessionStartedEvent creates a SessionStartedEvent.
func NewSessionStartedEvent(sessionID string) SessionStartedEvent {
	return SessionStartedEvent{
		baseEvent: newBaseEvent(TypeSessionStarted),
		SessionID: sessionID,
	}
}

// SessionFinalizedEvent is emitted when a session returns to Idle, whether or
// not the finalize call succeeded.
type SessionFinalizedEvent struct {
	baseEvent
	SessionID string
	Success   bool
	Error     string // Error message (if failed)
}

// NewSessionFinalizedEvent creates a SessionFinalizedEvent.
func NewSessionFinalizedEvent(sessionID string, success bool, errMsg string) SessionFinalizedEvent {
	return SessionFinalizedEvent{
		baseEvent: newBaseEvent(TypeSessionFinalized),
		SessionID: sessionID,
		Success:   success,
		Error:     errMsg,
	}
}

// -----------------------------------------------------------------------------
// Capture Events
// -----------------------------------------------------------------------------

// CaptureArmedEvent is emitted when the buffer starts accepting events.
type CaptureArmedEvent struct {
	baseEvent
	SessionID string
}

// NewCaptureArmedEvent creates a CaptureArmedEvent.
func NewCaptureArmedEvent(sessionID string) CaptureArmedEvent {
	return CaptureArmedEvent{
		baseEvent: newBaseEvent(TypeCaptureArmed),
		SessionID: sessionID,
	}
}

// CaptureDisarmedEvent is emitted after the forced flush of a session settles.
type CaptureDisarmedEvent struct {
	baseEvent
	SessionID string
	Delivered int // Events delivered by the forced flush
	Dropped   int // Events left undelivered when the session closed
}

// NewCaptureDisarmedEvent creates a CaptureDisarmedEvent.
func NewCaptureDisarmedEvent(sessionID string, delivered, dropped int) CaptureDisarmedEvent {
	return CaptureDisarmedEvent{
		baseEvent: newBaseEvent(TypeCaptureDisarmed),
		SessionID: sessionID,
		Delivered: delivered,
		Dropped:   dropped,
	}
}

// CaptureDroppedEvent is emitted when buffered events are discarded because
// their session closed before they could be delivered.
type CaptureDroppedEvent struct {
	baseEvent
	SessionID string
	Count     int
	Reason    string
}

// NewCaptureDroppedEvent creates a CaptureDroppedEvent.
func NewCaptureDroppedEvent(sessionID string, count int, reason string) CaptureDroppedEvent {
	return CaptureDroppedEvent{
		baseEvent: newBaseEvent(TypeCaptureDropped),
		SessionID: sessionID,
		Count:     count,
		Reason:    reason,
	}
}

// BufferOverflowEvent is emitted when a capture is rejected because the
// buffer reached its cap.
type BufferOverflowEvent struct {
	baseEvent
	SessionID string
	Capacity  int
}

// NewBufferOverflowEvent creates a BufferOverflowEvent.
func NewBufferOverflowEvent(sessionID string, capacity int) BufferOverflowEvent {
	return BufferOverflowEvent{
		baseEvent: newBaseEvent(TypeBufferOverflow),
		SessionID: sessionID,
		Capacity:  capacity,
	}
}

// -----------------------------------------------------------------------------
// Delivery Events
// -----------------------------------------------------------------------------

// BatchDeliveredEvent is emitted when the collector accepts a batch.
type BatchDeliveredEvent struct {
	baseEvent
	SessionID string
	BatchSize int
	Forced    bool // Delivered by the forced flush at stop
}

// NewBatchDeliveredEvent creates a BatchDeliveredEvent.
func NewBatchDeliveredEvent(sessionID string, batchSize int, forced bool) BatchDeliveredEvent {
	return BatchDeliveredEvent{
		baseEvent: newBaseEvent(TypeBatchDelivered),
		SessionID: sessionID,
		BatchSize: batchSize,
		Forced:    forced,
	}
}

// BatchFailedEvent is emitted when a batch delivery fails.
type BatchFailedEvent struct {
	baseEvent
	SessionID string
	BatchSize int
	Buffered  int // Buffer length after the batch was merged back
	Error     string
}

// NewBatchFailedEvent creates a BatchFailedEvent.
func NewBatchFailedEvent(sessionID string, batchSize, buffered int, errMsg string) BatchFailedEvent {
	return BatchFailedEvent{
		baseEvent: newBaseEvent(TypeBatchFailed),
		SessionID: sessionID,
		BatchSize: batchSize,
		Buffered:  buffered,
		Error:     errMsg,
	}
}
