// Package control turns start, stop and status commands into human-readable
// responses and serves them over a local HTTP endpoint.
package control

import (
	"context"

	"github.com/Iron-Ham/provenance/internal/capture"
	"github.com/Iron-Ham/provenance/internal/errors"
	"github.com/Iron-Ham/provenance/internal/logging"
	"github.com/Iron-Ham/provenance/internal/session"
)

// Response messages.
const (
	MsgStarted         = "Session started: "
	MsgStartFailed     = "Failed to start session."
	MsgAlreadyActive   = "Session already active."
	MsgStopping        = "Session is stopping."
	MsgFinalized       = "Session finalized successfully."
	MsgFinalizeFailed  = "Failed to finalize session."
	MsgNoActiveSession = "No active session to finalize."
	MsgActive          = "Session active: "
	MsgIdle            = "No active session."
)

// Outcome classifies a Response.
type Outcome string

// Outcomes.
const (
	OutcomeOK       Outcome = "ok"
	OutcomeRejected Outcome = "rejected" // The command was not valid in the current state
	OutcomeFailed   Outcome = "failed"   // The collector call failed
)

// Response is the result of one command.
type Response struct {
	Message   string  `json:"message"`
	SessionID string  `json:"session_id,omitempty"`
	Outcome   Outcome `json:"outcome"`
	Delivered int     `json:"delivered,omitempty"`
	Dropped   int     `json:"dropped,omitempty"`
}

// Lifecycle is the session surface the handler drives.
type Lifecycle interface {
	Start(ctx context.Context) (string, error)
	Stop(ctx context.Context) (capture.FlushResult, error)
	Session() session.Session
}

// Handler maps commands onto a Lifecycle.
type Handler struct {
	lc     Lifecycle
	logger *logging.Logger
}

// NewHandler creates a Handler.
func NewHandler(lc Lifecycle, logger *logging.Logger) *Handler {
	return &Handler{lc: lc, logger: logging.OrNop(logger).WithComponent("control")}
}

// Start handles the start command.
func (h *Handler) Start(ctx context.Context) Response {
	id, err := h.lc.Start(ctx)
	switch {
	case err == nil:
		return Response{Message: MsgStarted + id, SessionID: id, Outcome: OutcomeOK}
	case errors.Is(err, errors.ErrSessionActive):
		return Response{Message: MsgAlreadyActive, SessionID: h.lc.Session().ID, Outcome: OutcomeRejected}
	case errors.Is(err, errors.ErrSessionStopping):
		return Response{Message: MsgStopping, Outcome: OutcomeRejected}
	default:
		h.logger.Warn("start command failed", "error", err.Error())
		return Response{Message: MsgStartFailed, Outcome: OutcomeFailed}
	}
}

// Stop handles the stop command.
func (h *Handler) Stop(ctx context.Context) Response {
	flush, err := h.lc.Stop(ctx)
	resp := Response{SessionID: flush.SessionID, Delivered: flush.Delivered, Dropped: flush.Dropped}

	switch {
	case err == nil:
		resp.Message, resp.Outcome = MsgFinalized, OutcomeOK
	case errors.Is(err, errors.ErrNoActiveSession):
		resp.Message, resp.Outcome = MsgNoActiveSession, OutcomeRejected
	case errors.Is(err, errors.ErrSessionStopping):
		resp.Message, resp.Outcome = MsgStopping, OutcomeRejected
	default:
		h.logger.Warn("stop command failed", "error", err.Error())
		resp.Message, resp.Outcome = MsgFinalizeFailed, OutcomeFailed
	}
	return resp
}

// Status reports the live session, if any.
func (h *Handler) Status() Response {
	s := h.lc.Session()
	if s.ID != "" {
		return Response{Message: MsgActive + s.ID, SessionID: s.ID, Outcome: OutcomeOK}
	}
	return Response{Message: MsgIdle, Outcome: OutcomeOK}
}
