// Package errors provides centralized error definitions and error handling utilities
// for the recorder. It defines sentinel errors, domain error types for each stage
// of the capture pipeline, and classification helpers.
//
// # Error Types
//
// Lifecycle errors are surfaced to whoever issued the start or stop command:
//   - SessionStartError: the collector was unreachable or rejected session creation
//   - SessionFinalizeError: the finalize call failed after the forced flush
//
// Pipeline errors are absorbed by the buffering layer and only logged:
//   - DeliveryError: a batch could not be delivered and was merged back
//   - CaptureWiringError: the input surface could not be attached
//
// CollectorError describes a single failed call against the collector API and is
// usually found as the cause of one of the errors above.
//
// # Usage
//
//	if errors.Is(err, errors.ErrSessionActive) { ... }
//
//	var startErr *errors.SessionStartError
//	if errors.As(err, &startErr) { ... }
//
//	if errors.IsRetryable(err) { ... }
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Session lifecycle sentinel errors
var (
	// ErrSessionActive is returned by Start when a session is starting or active.
	ErrSessionActive = New("session already active")
	// ErrNoActiveSession is returned by Stop when there is nothing to finalize.
	ErrNoActiveSession = New("no active session")
	// ErrSessionStopping is returned by Stop while a previous stop is still settling.
	ErrSessionStopping = New("session is stopping")
)

// Collector sentinel errors
var (
	// ErrCollectorUnavailable indicates the collector could not be reached.
	ErrCollectorUnavailable = New("collector unavailable")
	// ErrCollectorRejected indicates the collector answered with a non-2xx status.
	ErrCollectorRejected = New("collector rejected request")
	// ErrMalformedResponse indicates the collector answered with an unexpected body.
	ErrMalformedResponse = New("malformed collector response")
)

// Capture sentinel errors
var (
	// ErrNotArmed is returned when an event arrives while capture is disarmed.
	ErrNotArmed = New("capture not armed")
	// ErrBufferFull is returned when the buffer has reached its configured cap.
	ErrBufferFull = New("capture buffer full")
	// ErrCaptureTargetMissing indicates the input surface could not be located.
	ErrCaptureTargetMissing = New("capture target not found")
)

// -----------------------------------------------------------------------------
// Collector Errors
// -----------------------------------------------------------------------------

// CollectorError describes a failed call against the collector API.
type CollectorError struct {
	Op         string // e.g. "start", "finalize", "events", "verify"
	StatusCode int    // 0 when the request never got a response
	cause      error
}

// NewCollectorError creates a CollectorError. A zero status code marks a
// transport failure.
func NewCollectorError(op string, statusCode int, cause error) *CollectorError {
	return &CollectorError{Op: op, StatusCode: statusCode, cause: cause}
}

func (e *CollectorError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("collector %s: status %d %s: %v",
			e.Op, e.StatusCode, http.StatusText(e.StatusCode), e.cause)
	}
	return fmt.Sprintf("collector %s: %v", e.Op, e.cause)
}

func (e *CollectorError) Unwrap() error { return e.cause }

// Transient reports whether the failure could clear up on its own: transport
// errors and 5xx/429 responses.
func (e *CollectorError) Transient() bool {
	if e.StatusCode == 0 {
		return true
	}
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// -----------------------------------------------------------------------------
// Lifecycle Errors
// -----------------------------------------------------------------------------

// SessionStartError is returned when the collector could not create a session.
// The controller stays Idle.
type SessionStartError struct {
	cause error
}

// NewSessionStartError wraps the underlying collector failure.
func NewSessionStartError(cause error) *SessionStartError {
	return &SessionStartError{cause: cause}
}

func (e *SessionStartError) Error() string {
	return fmt.Sprintf("session start failed: %v", e.cause)
}

func (e *SessionStartError) Unwrap() error { return e.cause }

// SessionFinalizeError is returned when finalize fails. The session id has
// already been cleared when this error is observed.
type SessionFinalizeError struct {
	SessionID string
	cause     error
}

// NewSessionFinalizeError wraps the finalize failure for the given session.
func NewSessionFinalizeError(sessionID string, cause error) *SessionFinalizeError {
	return &SessionFinalizeError{SessionID: sessionID, cause: cause}
}

func (e *SessionFinalizeError) Error() string {
	return fmt.Sprintf("session finalize failed [session=%s]: %v", e.SessionID, e.cause)
}

func (e *SessionFinalizeError) Unwrap() error { return e.cause }

// -----------------------------------------------------------------------------
// Pipeline Errors
// -----------------------------------------------------------------------------

// DeliveryError reports a batch that the collector did not accept.
type DeliveryError struct {
	SessionID string
	BatchSize int
	cause     error
}

// NewDeliveryError creates a DeliveryError for a batch of the given size.
func NewDeliveryError(sessionID string, batchSize int, cause error) *DeliveryError {
	return &DeliveryError{SessionID: sessionID, BatchSize: batchSize, cause: cause}
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery failed [session=%s, events=%d]: %v", e.SessionID, e.BatchSize, e.cause)
}

func (e *DeliveryError) Unwrap() error { return e.cause }

// CaptureWiringError reports that an input surface could not be attached.
// Events for that surface are never captured.
type CaptureWiringError struct {
	Surface string
	cause   error
}

// NewCaptureWiringError creates a CaptureWiringError for the named surface.
func NewCaptureWiringError(surface string, cause error) *CaptureWiringError {
	return &CaptureWiringError{Surface: surface, cause: cause}
}

func (e *CaptureWiringError) Error() string {
	return fmt.Sprintf("capture wiring failed [surface=%s]: %v", e.Surface, e.cause)
}

func (e *CaptureWiringError) Unwrap() error { return e.cause }

// -----------------------------------------------------------------------------
// Classification
// -----------------------------------------------------------------------------

// IsRetryable returns true if a later attempt of the same operation may
// succeed. Delivery failures are always retryable since the batch stays
// buffered; collector failures are retryable when transient.
//
// Example:
//
//	if errors.IsRetryable(err) {
//	    // leave the batch in the buffer
//	}
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var deliveryErr *DeliveryError
	if As(err, &deliveryErr) {
		return true
	}

	var collectorErr *CollectorError
	if As(err, &collectorErr) {
		return collectorErr.Transient()
	}

	return Is(err, ErrCollectorUnavailable)
}

// IsUserFacing returns true if the error describes a lifecycle outcome the
// person who issued the command should see.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}

	var startErr *SessionStartError
	var finalizeErr *SessionFinalizeError
	if As(err, &startErr) || As(err, &finalizeErr) {
		return true
	}

	return Is(err, ErrSessionActive) || Is(err, ErrNoActiveSession) || Is(err, ErrSessionStopping)
}

// Wrap wraps an error with additional context message.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted context message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
