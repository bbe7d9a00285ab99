package control

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/Iron-Ham/provenance/internal/errors"
	"github.com/Iron-Ham/provenance/internal/logging"
)

// ShutdownTimeout bounds how long Serve waits for open requests on exit.
const ShutdownTimeout = 5 * time.Second

// LifecycleTimeout bounds a start or stop once the request has been accepted.
// The caller disconnecting does not cancel it.
const LifecycleTimeout = 30 * time.Second

// Server exposes a Handler over HTTP:
//
//	POST /start    start a session
//	POST /stop     stop the active session
//	GET  /status   report the active session
//	GET  /capture  websocket for page key frames, when a capture handler is set
type Server struct {
	handler *Handler
	capture http.Handler
	logger  *logging.Logger
	mux     *http.ServeMux
}

// NewServer creates a Server. capture may be nil.
func NewServer(h *Handler, capture http.Handler, logger *logging.Logger) *Server {
	s := &Server{
		handler: h,
		capture: capture,
		logger:  logging.OrNop(logger).WithComponent("server"),
		mux:     http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /start", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := lifecycleContext(r)
		defer cancel()
		s.writeResponse(w, s.handler.Start(ctx))
	})
	s.mux.HandleFunc("POST /stop", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := lifecycleContext(r)
		defer cancel()
		s.writeResponse(w, s.handler.Stop(ctx))
	})
	s.mux.HandleFunc("GET /status", func(w http.ResponseWriter, r *http.Request) {
		s.writeResponse(w, s.handler.Status())
	})
	if s.capture != nil {
		s.mux.Handle("GET /capture", s.capture)
	}
}

func lifecycleContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(r.Context()), LifecycleTimeout)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// ListenAndServe listens on addr and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", addr)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	s.logger.Info("control server listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("control server shutdown incomplete", "error", err.Error())
		return err
	}
	s.logger.Info("control server stopped")
	return nil
}

func (s *Server) writeResponse(w http.ResponseWriter, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusFor(resp.Outcome))
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Debug("failed to write response", "error", err.Error())
	}
}

func statusFor(o Outcome) int {
	switch o {
	case OutcomeRejected:
		return http.StatusConflict
	case OutcomeFailed:
		return http.StatusBadGateway
	default:
		return http.StatusOK
	}
}
