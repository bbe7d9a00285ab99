// Package recorder assembles one capture context: the collector client, the
// delivery client, the capture buffer and the session controller, plus the
// local state they share.
package recorder

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/Iron-Ham/provenance/internal/capture"
	"github.com/Iron-Ham/provenance/internal/collector"
	"github.com/Iron-Ham/provenance/internal/config"
	"github.com/Iron-Ham/provenance/internal/delivery"
	"github.com/Iron-Ham/provenance/internal/errors"
	"github.com/Iron-Ham/provenance/internal/event"
	"github.com/Iron-Ham/provenance/internal/logging"
	"github.com/Iron-Ham/provenance/internal/session"
)

// Options holds optional collaborators for New.
type Options struct {
	Logger     *logging.Logger
	Bus        *event.Bus
	HTTPClient *http.Client
}

// Recorder owns a single capture context. Its zero value is not usable;
// create one with New and release it with Close.
type Recorder struct {
	contextID string
	stateDir  string
	logger    *logging.Logger
	bus       *event.Bus

	collector  *collector.Client
	buffer     *capture.Buffer
	controller *session.Controller
	lock       *session.Lock
}

// PolicyFrom converts the capture configuration into a flush policy.
func PolicyFrom(c config.CaptureConfig) capture.Policy {
	return capture.Policy{
		CountThreshold: c.CountThreshold,
		FlushInterval:  c.FlushInterval(),
	}
}

// New builds a Recorder from cfg and claims the state directory. It fails
// if another live recorder owns the same state directory.
func New(cfg *config.Config, opts Options) (*Recorder, error) {
	contextID := uuid.NewString()
	logger := logging.OrNop(opts.Logger).With("context_id", contextID)
	bus := opts.Bus
	if bus == nil {
		bus = event.NewBus(logger)
	}

	stateDir := cfg.Paths.ResolveStateDir()
	lock, err := session.AcquireLock(stateDir, contextID, logger)
	if err != nil {
		return nil, err
	}

	store, err := session.NewFileStore(stateDir)
	if err != nil {
		_ = lock.Release()
		return nil, err
	}

	client, err := collector.New(cfg.Collector.BaseURL,
		collector.WithLogger(logger),
		collector.WithHTTPClient(opts.HTTPClient),
	)
	if err != nil {
		_ = lock.Release()
		return nil, err
	}

	buffer := capture.NewBuffer(delivery.NewClient(client, logger), capture.Options{
		Policy:      PolicyFrom(cfg.Capture),
		MaxBuffered: cfg.Capture.MaxBufferedEvents,
		Logger:      logger,
		Bus:         bus,
	})

	controller := session.NewController(client, buffer, session.Options{
		Store:  store,
		Bus:    bus,
		Logger: logger,
	})

	logger.Info("recorder ready",
		"collector", client.BaseURL(),
		"state_dir", stateDir,
		"count_threshold", cfg.Capture.CountThreshold,
		"flush_interval_ms", cfg.Capture.FlushIntervalMs,
	)

	return &Recorder{
		contextID:  contextID,
		stateDir:   stateDir,
		logger:     logger,
		bus:        bus,
		collector:  client,
		buffer:     buffer,
		controller: controller,
		lock:       lock,
	}, nil
}

// ContextID identifies this capture context in logs.
func (r *Recorder) ContextID() string { return r.contextID }

// StateDir is the directory holding the lock and status files.
func (r *Recorder) StateDir() string { return r.stateDir }

// Bus returns the lifecycle event bus.
func (r *Recorder) Bus() *event.Bus { return r.bus }

// Collector returns the collector client.
func (r *Recorder) Collector() *collector.Client { return r.collector }

// Buffer returns the capture buffer.
func (r *Recorder) Buffer() *capture.Buffer { return r.buffer }

// Controller returns the session controller.
func (r *Recorder) Controller() *session.Controller { return r.controller }

// Attach wires an input surface to the capture buffer. A failure is logged
// and returned but leaves the recorder usable.
func (r *Recorder) Attach(reg capture.Registrar) error {
	return capture.Wire(reg, r.buffer, r.logger)
}

// Start begins a session.
func (r *Recorder) Start(ctx context.Context) (string, error) {
	return r.controller.Start(ctx)
}

// Stop ends the active session.
func (r *Recorder) Stop(ctx context.Context) (capture.FlushResult, error) {
	return r.controller.Stop(ctx)
}

// Session returns the current session view.
func (r *Recorder) Session() session.Session {
	return r.controller.Session()
}

// Flush hands buffered events to delivery without waiting for a threshold.
// Pages call it through the unload frame.
func (r *Recorder) Flush() {
	r.buffer.Flush()
}

// ApplyConfig applies the reloadable parts of cfg to the running recorder.
// Only the flush policy can change without a restart.
func (r *Recorder) ApplyConfig(cfg *config.Config) {
	policy := PolicyFrom(cfg.Capture)
	r.buffer.SetPolicy(policy)
	r.logger.Info("flush policy updated",
		"count_threshold", policy.CountThreshold,
		"flush_interval_ms", policy.FlushInterval.Milliseconds(),
	)
}

// Close stops an active session so pending events are flushed, then
// releases the state directory. Close is safe to call more than once.
func (r *Recorder) Close(ctx context.Context) error {
	var stopErr error
	if state := r.controller.State(); state == session.StateActive {
		r.logger.Info("stopping active session before exit")
		if _, err := r.controller.Stop(ctx); err != nil && !errors.Is(err, errors.ErrNoActiveSession) {
			stopErr = err
		}
	}

	if err := r.lock.Release(); err != nil {
		return errors.Join(stopErr, errors.Wrap(err, "failed to release state lock"))
	}
	return stopErr
}
