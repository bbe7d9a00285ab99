package capture

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/Iron-Ham/provenance/internal/errors"
	"github.com/Iron-Ham/provenance/internal/event"
	"github.com/Iron-Ham/provenance/internal/logging"
)

// Options configures a Buffer.
type Options struct {
	Policy Policy
	// MaxBuffered caps the number of undelivered events. Captures beyond the
	// cap are rejected with errors.ErrBufferFull. Failed batches are always
	// merged back, even above the cap. 0 disables the cap.
	MaxBuffered int
	Logger      *logging.Logger
	Bus         *event.Bus
}

// FlushResult summarizes the forced flush performed by Disarm.
type FlushResult struct {
	SessionID string
	Delivered int
	Dropped   int   // Events that could not be delivered before the session closed
	Err       error // Delivery error of the forced flush, if any
}

// Buffer is the ordered accumulator of captured events for the active
// session. It is the only writer of its event slice.
//
// At most one delivery is in flight at a time. Triggers that fire while a
// delivery is running are coalesced and re-evaluated once it settles, which
// keeps batches in capture order.
type Buffer struct {
	sender Sender
	logger *logging.Logger
	bus    *event.Bus

	mu          sync.Mutex
	events      []CapturedEvent
	sessionID   string
	armed       bool
	policy      Policy
	maxBuffered int
	lastFlush   time.Time
	inFlight    bool
	pending     bool
	timer       *time.Timer
	timerGen    uint64

	deliveries conc.WaitGroup
}

// NewBuffer creates a disarmed Buffer that hands batches to sender.
func NewBuffer(sender Sender, opts Options) *Buffer {
	return &Buffer{
		sender:      sender,
		logger:      logging.OrNop(opts.Logger).WithComponent("buffer"),
		bus:         opts.Bus,
		policy:      opts.Policy.normalized(),
		maxBuffered: opts.MaxBuffered,
	}
}

// Arm starts accepting events for sessionID. The time threshold is measured
// from the moment of arming.
func (b *Buffer) Arm(sessionID string) error {
	if sessionID == "" {
		return errors.New("arm requires a session id")
	}

	b.mu.Lock()
	if b.armed || b.sessionID != "" {
		b.mu.Unlock()
		return errors.ErrSessionActive
	}
	b.sessionID = sessionID
	b.armed = true
	b.events = make([]CapturedEvent, 0, b.policy.CountThreshold)
	b.lastFlush = time.Now()
	b.mu.Unlock()

	b.logger.Info("capture armed", "session_id", sessionID)
	b.bus.Publish(event.NewCaptureArmedEvent(sessionID))
	return nil
}

// Capture appends ev to the buffer and applies the flush policy. It never
// blocks on delivery. Events arriving while disarmed are dropped with
// errors.ErrNotArmed.
func (b *Buffer) Capture(ev CapturedEvent) error {
	b.mu.Lock()
	if !b.armed || b.sessionID == "" {
		b.mu.Unlock()
		return errors.ErrNotArmed
	}
	if b.maxBuffered > 0 && len(b.events) >= b.maxBuffered {
		sessionID, capacity := b.sessionID, b.maxBuffered
		b.mu.Unlock()

		b.logger.Warn("buffer full, event rejected",
			"session_id", sessionID,
			"capacity", capacity,
		)
		b.bus.Publish(event.NewBufferOverflowEvent(sessionID, capacity))
		return errors.ErrBufferFull
	}

	b.events = append(b.events, ev)
	b.evaluateLocked(time.Now())
	b.mu.Unlock()
	return nil
}

// Flush hands the current buffer to delivery regardless of the thresholds.
// It returns immediately; the delivery runs in the background.
func (b *Buffer) Flush() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.armed {
		return
	}
	b.flushLocked(time.Now())
}

// Disarm stops accepting events, waits for any in-flight delivery to settle,
// then delivers everything still buffered in one final batch and waits for
// that too. Events that cannot be delivered are dropped so they never carry
// over into another session.
func (b *Buffer) Disarm(ctx context.Context) FlushResult {
	b.mu.Lock()
	if !b.armed && b.sessionID == "" {
		b.mu.Unlock()
		return FlushResult{}
	}
	b.armed = false
	b.cancelTimerLocked()
	b.mu.Unlock()

	b.deliveries.Wait()

	b.mu.Lock()
	sessionID := b.sessionID
	batch := Batch(b.events)
	b.events = nil
	b.lastFlush = time.Now()
	b.mu.Unlock()

	result := FlushResult{SessionID: sessionID}
	if len(batch) > 0 {
		if err := b.send(ctx, sessionID, batch); err != nil {
			result.Dropped = len(batch)
			result.Err = err
			b.logger.Error("final flush failed, dropping events",
				"session_id", sessionID,
				"events", len(batch),
				"error", err.Error(),
			)
			b.bus.Publish(event.NewCaptureDroppedEvent(sessionID, len(batch), err.Error()))
		} else {
			result.Delivered = len(batch)
			b.logger.Debug("final batch delivered", "session_id", sessionID, "events", len(batch))
			b.bus.Publish(event.NewBatchDeliveredEvent(sessionID, len(batch), true))
		}
	}

	b.mu.Lock()
	b.sessionID = ""
	b.mu.Unlock()

	b.logger.Info("capture disarmed",
		"session_id", sessionID,
		"delivered", result.Delivered,
		"dropped", result.Dropped,
	)
	b.bus.Publish(event.NewCaptureDisarmedEvent(sessionID, result.Delivered, result.Dropped))
	return result
}

// SetPolicy replaces the flush policy. The new thresholds apply from the
// next evaluation.
func (b *Buffer) SetPolicy(p Policy) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.policy = p.normalized()
	if b.timer != nil {
		b.cancelTimerLocked()
		if b.armed {
			b.scheduleLocked(time.Now())
		}
	}
}

// Policy returns the active flush policy.
func (b *Buffer) Policy() Policy {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.policy
}

// Len returns the number of buffered, undelivered events.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}

// Snapshot returns a copy of the buffered events in order.
func (b *Buffer) Snapshot() []CapturedEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]CapturedEvent(nil), b.events...)
}

// Armed reports whether captures are currently accepted.
func (b *Buffer) Armed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.armed
}

// evaluateLocked applies the flush policy. Must be called with mu held.
func (b *Buffer) evaluateLocked(now time.Time) {
	if b.policy.Due(len(b.events), b.lastFlush, now) {
		b.flushLocked(now)
		return
	}
	b.scheduleLocked(now)
}

// flushLocked detaches the buffer and starts its delivery. The detach and the
// installation of the fresh buffer happen under mu, before the network call.
func (b *Buffer) flushLocked(now time.Time) {
	if b.inFlight {
		b.pending = true
		return
	}
	if len(b.events) == 0 {
		return
	}

	batch := Batch(b.events)
	b.events = make([]CapturedEvent, 0, b.policy.CountThreshold)
	b.lastFlush = now
	b.inFlight = true
	b.cancelTimerLocked()

	sessionID := b.sessionID
	b.deliveries.Go(func() {
		b.deliver(sessionID, batch)
	})
}

func (b *Buffer) deliver(sessionID string, batch Batch) {
	err := b.send(context.Background(), sessionID, batch)

	b.mu.Lock()
	b.inFlight = false
	pending := b.pending
	b.pending = false
	if err != nil {
		merged := make([]CapturedEvent, 0, len(batch)+len(b.events))
		merged = append(merged, batch...)
		b.events = append(merged, b.events...)
	}
	buffered := len(b.events)
	if b.armed {
		now := time.Now()
		// A failed batch waits for the next trigger instead of being resent
		// immediately.
		if err == nil && (pending || b.policy.Due(buffered, b.lastFlush, now)) {
			b.flushLocked(now)
		} else {
			b.scheduleLocked(now)
		}
	}
	b.mu.Unlock()

	if err != nil {
		b.logger.Warn("batch delivery failed, merged back into buffer",
			"session_id", sessionID,
			"events", len(batch),
			"buffered", buffered,
			"error", err.Error(),
		)
		b.bus.Publish(event.NewBatchFailedEvent(sessionID, len(batch), buffered, err.Error()))
		return
	}

	b.logger.Debug("batch delivered", "session_id", sessionID, "events", len(batch))
	b.bus.Publish(event.NewBatchDeliveredEvent(sessionID, len(batch), false))
}

// send calls the sender, converting a panic into a delivery failure so the
// batch is merged back instead of lost.
func (b *Buffer) send(ctx context.Context, sessionID string, batch Batch) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.NewDeliveryError(sessionID, len(batch), fmt.Errorf("sender panicked: %v", r))
		}
	}()
	return b.sender.Send(ctx, sessionID, batch)
}

// scheduleLocked arms the deadline timer so the time threshold fires even
// when no further capture arrives.
func (b *Buffer) scheduleLocked(now time.Time) {
	if b.inFlight || len(b.events) == 0 || b.timer != nil {
		return
	}

	wait := b.lastFlush.Add(b.policy.FlushInterval).Sub(now)
	if wait < 0 {
		wait = 0
	}

	b.timerGen++
	gen := b.timerGen
	b.timer = time.AfterFunc(wait, func() {
		b.onDeadline(gen)
	})
}

func (b *Buffer) onDeadline(gen uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if gen != b.timerGen {
		return
	}
	b.timer = nil
	if !b.armed {
		return
	}
	b.evaluateLocked(time.Now())
}

func (b *Buffer) cancelTimerLocked() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.timerGen++
}
