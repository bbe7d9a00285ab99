// Package delivery ships captured batches to the collector.
package delivery

import (
	"context"
	"time"

	"github.com/Iron-Ham/provenance/internal/capture"
	"github.com/Iron-Ham/provenance/internal/errors"
	"github.com/Iron-Ham/provenance/internal/logging"
)

// EventSink is the collector operation the client depends on.
type EventSink interface {
	SendEvents(ctx context.Context, sessionID string, events []capture.CapturedEvent) error
}

// Client sends one batch per call. It holds no state between calls and never
// retries: a failed batch is reported to the caller, which keeps it buffered.
type Client struct {
	sink   EventSink
	logger *logging.Logger
}

var _ capture.Sender = (*Client)(nil)

// NewClient creates a delivery client on top of sink.
func NewClient(sink EventSink, logger *logging.Logger) *Client {
	return &Client{
		sink:   sink,
		logger: logging.OrNop(logger).WithComponent("delivery"),
	}
}

// Send delivers batch for sessionID. Any failure is returned as a
// *errors.DeliveryError wrapping the collector error.
func (c *Client) Send(ctx context.Context, sessionID string, batch capture.Batch) error {
	if sessionID == "" {
		return errors.NewDeliveryError(sessionID, len(batch), errors.ErrNoActiveSession)
	}
	if len(batch) == 0 {
		return nil
	}

	start := time.Now()
	if err := c.sink.SendEvents(ctx, sessionID, batch); err != nil {
		return errors.NewDeliveryError(sessionID, len(batch), err)
	}

	c.logger.Debug("batch sent",
		"session_id", sessionID,
		"events", len(batch),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}
