package capture

import (
	"time"

	"github.com/Iron-Ham/provenance/internal/errors"
	"github.com/Iron-Ham/provenance/internal/logging"
)

// KeyHandler receives the name of each observed key, e.g. "a" or "Enter".
// It must not block.
type KeyHandler func(key string)

// Registrar is an input surface that can accept a key handler.
type Registrar interface {
	// Surface names the input surface for logs, e.g. "terminal".
	Surface() string
	// Register attaches handler to the surface.
	Register(handler KeyHandler) error
}

// Wire attaches buf to the input surface. A failure is logged and returned as
// a *errors.CaptureWiringError; it is not fatal, but nothing will ever be
// captured from that surface.
func Wire(reg Registrar, buf *Buffer, logger *logging.Logger) error {
	logger = logging.OrNop(logger).WithComponent("capture")

	err := reg.Register(func(key string) {
		if err := buf.Capture(NewEvent(key, time.Now())); err != nil && !errors.Is(err, errors.ErrNotArmed) {
			logger.Debug("event not captured", "surface", reg.Surface(), "error", err.Error())
		}
	})
	if err != nil {
		var wiringErr *errors.CaptureWiringError
		if !errors.As(err, &wiringErr) {
			err = errors.NewCaptureWiringError(reg.Surface(), err)
		}
		logger.Warn("capture wiring failed, no events will be captured",
			"surface", reg.Surface(),
			"error", err.Error(),
		)
		return err
	}

	logger.Debug("capture wired", "surface", reg.Surface())
	return nil
}
