package input

import (
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Iron-Ham/provenance/internal/capture"
	"github.com/Iron-Ham/provenance/internal/errors"
	"github.com/Iron-Ham/provenance/internal/logging"
)

const (
	readLimit   = 4 << 10
	pongTimeout = 60 * time.Second
)

// Frame types accepted from a page.
const (
	FrameKey    = "key"
	FrameUnload = "unload"
)

// Frame is one message sent by a page. A frame without a type is a key
// frame.
type Frame struct {
	Type string `json:"type,omitempty"`
	Key  string `json:"key,omitempty"`
}

// WebSocketBridge accepts websocket connections from browser pages and turns
// their key frames into captured keys. A page sends {"key": "a"} for every
// keydown and {"type": "unload"} before it goes away.
type WebSocketBridge struct {
	upgrader       websocket.Upgrader
	allowedOrigins map[string]bool
	allowedHosts   map[string]bool
	logger         *logging.Logger

	mu      sync.Mutex
	handler capture.KeyHandler
	unload  func()
	conns   map[*websocket.Conn]struct{}
	closed  bool
}

var _ capture.Registrar = (*WebSocketBridge)(nil)

// NewWebSocketBridge creates a bridge. With no allowed origins, only
// same-host and loopback pages may connect.
func NewWebSocketBridge(allowedOrigins []string, logger *logging.Logger) *WebSocketBridge {
	b := &WebSocketBridge{
		allowedOrigins: make(map[string]bool),
		allowedHosts:   make(map[string]bool),
		logger:         logging.OrNop(logger).WithComponent("websocket"),
		conns:          make(map[*websocket.Conn]struct{}),
	}
	for _, origin := range allowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		b.allowedOrigins[trimmed] = true
		if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
			b.allowedHosts[parsed.Host] = true
		}
	}
	b.upgrader = websocket.Upgrader{CheckOrigin: b.checkOrigin}
	return b
}

// Surface implements capture.Registrar.
func (b *WebSocketBridge) Surface() string {
	return SurfaceWebSocket
}

// Register implements capture.Registrar.
func (b *WebSocketBridge) Register(handler capture.KeyHandler) error {
	if handler == nil {
		return errors.NewCaptureWiringError(SurfaceWebSocket, errors.New("nil key handler"))
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handler = handler
	return nil
}

// OnUnload sets the function called when a page reports it is unloading.
func (b *WebSocketBridge) OnUnload(fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.unload = fn
}

// Connections returns the number of connected pages.
func (b *WebSocketBridge) Connections() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.conns)
}

// ServeHTTP upgrades the request and reads frames until the page disconnects.
func (b *WebSocketBridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	wired, closed := b.handler != nil, b.closed
	b.mu.Unlock()
	if !wired || closed {
		http.Error(w, "capture not available", http.StatusServiceUnavailable)
		return
	}

	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err.Error())
		return
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		_ = conn.Close()
		return
	}
	b.conns[conn] = struct{}{}
	b.mu.Unlock()
	b.logger.Info("page connected", "remote", r.RemoteAddr)

	defer func() {
		b.mu.Lock()
		delete(b.conns, conn)
		b.mu.Unlock()
		_ = conn.Close()
		b.logger.Info("page disconnected", "remote", r.RemoteAddr)
	}()

	conn.SetReadLimit(readLimit)
	_ = conn.SetReadDeadline(time.Now().Add(pongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})

	for {
		var frame Frame
		if err := conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				b.logger.Debug("websocket read ended", "remote", r.RemoteAddr, "error", err.Error())
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongTimeout))
		b.dispatch(frame)
	}
}

func (b *WebSocketBridge) dispatch(frame Frame) {
	b.mu.Lock()
	handler, unload := b.handler, b.unload
	b.mu.Unlock()

	switch frame.Type {
	case "", FrameKey:
		if frame.Key != "" && handler != nil {
			handler(frame.Key)
		}
	case FrameUnload:
		if unload != nil {
			unload()
		}
	default:
		b.logger.Debug("unknown frame ignored", "type", frame.Type)
	}
}

// Close disconnects every page and rejects new connections.
func (b *WebSocketBridge) Close() {
	b.mu.Lock()
	b.closed = true
	conns := make([]*websocket.Conn, 0, len(b.conns))
	for c := range b.conns {
		conns = append(conns, c)
	}
	b.mu.Unlock()

	deadline := time.Now().Add(time.Second)
	for _, c := range conns {
		_ = c.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "recorder shutting down"), deadline)
		_ = c.Close()
	}
}

func (b *WebSocketBridge) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if b.allowedOrigins[origin] {
		return true
	}

	parsed, err := url.Parse(origin)
	if err != nil || parsed.Host == "" {
		return false
	}
	if len(b.allowedOrigins) > 0 {
		return b.allowedHosts[parsed.Host]
	}
	if parsed.Host == r.Host {
		return true
	}

	switch parsed.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}
