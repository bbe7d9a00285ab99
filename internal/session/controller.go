// Package session owns the lifecycle of a recording session: creating it on
// the collector, arming and disarming capture, and finalizing it.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/Iron-Ham/provenance/internal/capture"
	"github.com/Iron-Ham/provenance/internal/errors"
	"github.com/Iron-Ham/provenance/internal/event"
	"github.com/Iron-Ham/provenance/internal/logging"
)

// State is the lifecycle state of a Controller.
type State int

// Lifecycle states. Idle -> Starting -> Active -> Stopping -> Idle.
const (
	StateIdle State = iota
	StateStarting
	StateActive
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateActive:
		return "active"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Session is a point-in-time view of the controller. ID is empty unless the
// state is Active or Stopping.
type Session struct {
	ID    string
	State State
}

// SessionCollector is the part of the collector API the controller uses.
type SessionCollector interface {
	StartSession(ctx context.Context) (string, error)
	FinalizeSession(ctx context.Context, sessionID string) error
}

// CaptureTarget is the capture buffer as seen by the controller.
type CaptureTarget interface {
	Arm(sessionID string) error
	Disarm(ctx context.Context) capture.FlushResult
}

// Options holds the optional collaborators of a Controller.
type Options struct {
	Store  StatusStore
	Bus    *event.Bus
	Logger *logging.Logger
}

// Controller drives one capture context. At most one session is live at a
// time; every transition happens under mu, the network calls do not.
type Controller struct {
	collector SessionCollector
	capture   CaptureTarget
	store     StatusStore
	bus       *event.Bus
	logger    *logging.Logger

	mu        sync.Mutex
	state     State
	sessionID string
}

// NewController creates an Idle controller.
func NewController(collector SessionCollector, target CaptureTarget, opts Options) *Controller {
	return &Controller{
		collector: collector,
		capture:   target,
		store:     opts.Store,
		bus:       opts.Bus,
		logger:    logging.OrNop(opts.Logger).WithComponent("session"),
	}
}

// Start creates a session on the collector and arms capture with its id.
//
// Start is only valid from Idle. While a session is starting or active it
// returns errors.ErrSessionActive without contacting the collector. A failed
// creation leaves the controller Idle and returns a *errors.SessionStartError;
// it is not retried. A session created on the collector whose capture cannot
// be armed is finalized before Start returns.
func (c *Controller) Start(ctx context.Context) (string, error) {
	c.mu.Lock()
	switch c.state {
	case StateStarting, StateActive:
		c.mu.Unlock()
		return "", errors.ErrSessionActive
	case StateStopping:
		c.mu.Unlock()
		return "", errors.ErrSessionStopping
	}
	c.state = StateStarting
	c.mu.Unlock()

	id, err := c.collector.StartSession(ctx)
	if err == nil {
		if err = c.capture.Arm(id); err != nil {
			c.abandon(ctx, id, err)
		}
	}
	if err != nil {
		c.mu.Lock()
		c.state = StateIdle
		c.mu.Unlock()

		c.logger.Warn("session start failed", "error", err.Error())
		return "", errors.NewSessionStartError(err)
	}

	c.mu.Lock()
	c.state = StateActive
	c.sessionID = id
	c.mu.Unlock()

	if c.store != nil {
		record := StatusRecord{SessionID: id, StartedAt: time.Now()}
		if err := c.store.SaveStatus(ctx, record); err != nil {
			c.logger.Warn("failed to save session status", "session_id", id, "error", err.Error())
		}
	}

	c.logger.Info("session started", "session_id", id)
	c.bus.Publish(event.NewSessionStartedEvent(id))
	return id, nil
}

// abandon finalizes a session the collector created but capture could not be
// armed for, so it is not left open with no recorder behind it.
func (c *Controller) abandon(ctx context.Context, id string, armErr error) {
	logger := c.logger.WithSession(id)
	logger.Warn("capture arm failed, finalizing orphaned session", "error", armErr.Error())
	if err := c.collector.FinalizeSession(ctx, id); err != nil {
		logger.Warn("orphaned session finalize failed", "error", err.Error())
	}
}

// Stop disarms capture, waits for the forced flush to settle, then finalizes
// the session on the collector.
//
// Stop is only valid from Active; from Idle it returns
// errors.ErrNoActiveSession and never calls the collector. Whatever the
// finalize outcome, the controller returns to Idle and forgets the session id.
// A finalize failure is returned as a *errors.SessionFinalizeError and is not
// retried.
func (c *Controller) Stop(ctx context.Context) (capture.FlushResult, error) {
	c.mu.Lock()
	switch c.state {
	case StateIdle, StateStarting:
		c.mu.Unlock()
		return capture.FlushResult{}, errors.ErrNoActiveSession
	case StateStopping:
		c.mu.Unlock()
		return capture.FlushResult{}, errors.ErrSessionStopping
	}
	c.state = StateStopping
	id := c.sessionID
	c.mu.Unlock()

	logger := c.logger.WithSession(id)
	logger.Info("stopping session")

	flush := c.capture.Disarm(ctx)
	finalizeErr := c.collector.FinalizeSession(ctx, id)

	c.mu.Lock()
	c.state = StateIdle
	c.sessionID = ""
	c.mu.Unlock()

	if c.store != nil {
		if err := c.store.ClearStatus(ctx); err != nil {
			logger.Warn("failed to clear session status", "error", err.Error())
		}
	}

	if finalizeErr != nil {
		logger.Error("session finalize failed",
			"delivered", flush.Delivered,
			"dropped", flush.Dropped,
			"error", finalizeErr.Error(),
		)
		c.bus.Publish(event.NewSessionFinalizedEvent(id, false, finalizeErr.Error()))
		return flush, errors.NewSessionFinalizeError(id, finalizeErr)
	}

	logger.Info("session finalized", "delivered", flush.Delivered, "dropped", flush.Dropped)
	c.bus.Publish(event.NewSessionFinalizedEvent(id, true, ""))
	return flush, nil
}

// Session returns the current state and session id.
func (c *Controller) Session() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Session{ID: c.sessionID, State: c.state}
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	return c.Session().State
}

// SessionID returns the active session id, or "" when none is live.
func (c *Controller) SessionID() string {
	return c.Session().ID
}
