package input

import (
	"context"
	"io"
	"os"
	"sync"

	"golang.org/x/term"

	"github.com/Iron-Ham/provenance/internal/capture"
	"github.com/Iron-Ham/provenance/internal/errors"
	"github.com/Iron-Ham/provenance/internal/logging"
)

// Input surface names.
const (
	SurfaceTerminal  = "terminal"
	SurfaceStream    = "stdin"
	SurfaceWebSocket = "websocket"
)

// KeySource reads keystrokes from a byte stream and reports them to a
// registered handler. When the stream is a terminal it is switched to raw
// mode while Run is active.
type KeySource struct {
	surface string
	r       io.Reader
	fd      int // -1 unless r is a terminal
	logger  *logging.Logger

	mu      sync.Mutex
	handler capture.KeyHandler
}

var _ capture.Registrar = (*KeySource)(nil)

// NewTerminal creates a KeySource on f. Registration fails if f is not a
// terminal.
func NewTerminal(f *os.File, logger *logging.Logger) *KeySource {
	fd := int(f.Fd())
	if !term.IsTerminal(fd) {
		fd = -1
	}
	return &KeySource{
		surface: SurfaceTerminal,
		r:       f,
		fd:      fd,
		logger:  logging.OrNop(logger).WithComponent("input"),
	}
}

// NewStream creates a KeySource on a plain reader, e.g. piped stdin. The end
// of the stream ends Run.
func NewStream(r io.Reader, logger *logging.Logger) *KeySource {
	return &KeySource{
		surface: SurfaceStream,
		r:       r,
		fd:      -1,
		logger:  logging.OrNop(logger).WithComponent("input"),
	}
}

// Surface implements capture.Registrar.
func (s *KeySource) Surface() string {
	return s.surface
}

// Register implements capture.Registrar.
func (s *KeySource) Register(handler capture.KeyHandler) error {
	if handler == nil {
		return errors.NewCaptureWiringError(s.surface, errors.New("nil key handler"))
	}
	if s.surface == SurfaceTerminal && s.fd < 0 {
		return errors.NewCaptureWiringError(s.surface, errors.ErrCaptureTargetMissing)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = handler
	return nil
}

// Run reads keys until Ctrl-C or Ctrl-D is typed, the stream ends, or ctx is
// done. It returns nil in the first two cases and ctx.Err() in the last.
func (s *KeySource) Run(ctx context.Context) error {
	s.mu.Lock()
	handler := s.handler
	s.mu.Unlock()
	if handler == nil {
		return errors.NewCaptureWiringError(s.surface, errors.New("no key handler registered"))
	}

	if s.fd >= 0 {
		state, err := term.MakeRaw(s.fd)
		if err != nil {
			return errors.NewCaptureWiringError(s.surface, err)
		}
		defer func() { _ = term.Restore(s.fd, state) }()
	}

	chunks := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		buf := make([]byte, 256)
		for {
			n, err := s.r.Read(buf)
			if n > 0 {
				chunk := append([]byte(nil), buf[:n]...)
				select {
				case chunks <- chunk:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				readErr <- err
				return
			}
		}
	}()

	var dec keyDecoder
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readErr:
			if err == io.EOF {
				s.logger.Debug("input stream ended", "surface", s.surface)
				return nil
			}
			return errors.Wrap(err, "failed to read input")
		case chunk := <-chunks:
			keys, stop := dec.decode(chunk)
			for _, k := range keys {
				handler(k)
			}
			if stop {
				s.logger.Debug("stop key received", "surface", s.surface)
				return nil
			}
		}
	}
}
