// Package testutil provides testing utilities for provenance tests.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"github.com/Iron-Ham/provenance/internal/capture"
)

// Collector operations recorded by FakeCollector.
const (
	OpStart    = "start"
	OpEvents   = "events"
	OpFinalize = "finalize"
	OpVerify   = "verify"
	OpHealth   = "health"
)

// Call is one request received by a FakeCollector.
type Call struct {
	Op        string
	SessionID string
	Events    []capture.CapturedEvent
	Failed    bool // The request was answered with an injected failure
}

// FakeCollector is an in-process collector that records every call in
// arrival order. Failures can be injected per operation.
type FakeCollector struct {
	server *httptest.Server

	mu         sync.Mutex
	calls      []Call
	nextID     int
	stringIDs  bool
	failures   map[string]int
	events     map[string][]capture.CapturedEvent
	finalized  map[string]bool
	eventsGate chan struct{}
}

// NewFakeCollector starts a FakeCollector. It is closed when the test ends.
func NewFakeCollector(t *testing.T) *FakeCollector {
	t.Helper()

	f := &FakeCollector{
		nextID:    1,
		failures:  make(map[string]int),
		events:    make(map[string][]capture.CapturedEvent),
		finalized: make(map[string]bool),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", f.handleRoot)
	mux.HandleFunc("POST /sessions/start", f.handleStart)
	mux.HandleFunc("POST /sessions/{id}/events", f.handleEvents)
	mux.HandleFunc("POST /sessions/{id}/finalize", f.handleFinalize)
	mux.HandleFunc("GET /sessions/{id}/verify", f.handleVerify)

	f.server = httptest.NewServer(mux)
	t.Cleanup(f.Close)
	return f
}

// URL returns the base URL of the fake collector.
func (f *FakeCollector) URL() string {
	return f.server.URL
}

// Close shuts the server down. Later requests fail at the transport level.
func (f *FakeCollector) Close() {
	f.mu.Lock()
	gate := f.eventsGate
	f.eventsGate = nil
	f.mu.Unlock()
	if gate != nil {
		close(gate)
	}
	f.server.Close()
}

// UseStringIDs makes the collector return session ids as JSON strings
// instead of numbers.
func (f *FakeCollector) UseStringIDs() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stringIDs = true
}

// FailStart answers the next n start calls with 503. A negative n fails
// every call.
func (f *FakeCollector) FailStart(n int) { f.fail(OpStart, n) }

// FailEvents answers the next n event calls with 503. A negative n fails
// every call.
func (f *FakeCollector) FailEvents(n int) { f.fail(OpEvents, n) }

// FailFinalize answers the next n finalize calls with 503. A negative n fails
// every call.
func (f *FakeCollector) FailFinalize(n int) { f.fail(OpFinalize, n) }

func (f *FakeCollector) fail(op string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[op] = n
}

// HoldEvents makes event calls block until ReleaseEvents is called.
func (f *FakeCollector) HoldEvents() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.eventsGate == nil {
		f.eventsGate = make(chan struct{})
	}
}

// ReleaseEvents unblocks event calls held by HoldEvents.
func (f *FakeCollector) ReleaseEvents() {
	f.mu.Lock()
	gate := f.eventsGate
	f.eventsGate = nil
	f.mu.Unlock()
	if gate != nil {
		close(gate)
	}
}

// Calls returns every call received so far, in arrival order.
func (f *FakeCollector) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// Ops returns the operation name of every call, in arrival order.
func (f *FakeCollector) Ops() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ops := make([]string, len(f.calls))
	for i, c := range f.calls {
		ops[i] = c.Op
	}
	return ops
}

// CallCount returns the number of calls received for op.
func (f *FakeCollector) CallCount(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.Op == op {
			n++
		}
	}
	return n
}

// Events returns the events accepted for sessionID, in arrival order.
func (f *FakeCollector) Events(sessionID string) []capture.CapturedEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]capture.CapturedEvent(nil), f.events[sessionID]...)
}

// Finalized reports whether sessionID was finalized.
func (f *FakeCollector) Finalized(sessionID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.finalized[sessionID]
}

// record appends a call and reports whether it should fail.
func (f *FakeCollector) record(c Call) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := f.failures[c.Op]
	if n != 0 {
		c.Failed = true
		if n > 0 {
			f.failures[c.Op] = n - 1
		}
	}
	f.calls = append(f.calls, c)
	return c.Failed
}

func (f *FakeCollector) handleRoot(w http.ResponseWriter, r *http.Request) {
	f.record(Call{Op: OpHealth})
	writeJSON(w, http.StatusOK, map[string]string{"name": "Provenance", "version": "0.1", "status": "ok"})
}

func (f *FakeCollector) handleStart(w http.ResponseWriter, r *http.Request) {
	if f.record(Call{Op: OpStart}) {
		writeDetail(w, http.StatusServiceUnavailable, "injected failure")
		return
	}

	f.mu.Lock()
	id := f.nextID
	f.nextID++
	stringIDs := f.stringIDs
	f.events[strconv.Itoa(id)] = nil
	f.mu.Unlock()

	if stringIDs {
		writeJSON(w, http.StatusOK, map[string]string{"session_id": strconv.Itoa(id)})
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"session_id": id})
}

func (f *FakeCollector) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var events []capture.CapturedEvent
	if err := json.NewDecoder(r.Body).Decode(&events); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	f.mu.Lock()
	gate := f.eventsGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}

	if f.record(Call{Op: OpEvents, SessionID: id, Events: events}) {
		writeDetail(w, http.StatusServiceUnavailable, "injected failure")
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.events[id]; !ok {
		writeDetail(w, http.StatusNotFound, "Session not found")
		return
	}
	if f.finalized[id] {
		writeDetail(w, http.StatusBadRequest, "Session already finalized")
		return
	}
	f.events[id] = append(f.events[id], events...)
	writeJSON(w, http.StatusOK, map[string]string{"status": "events recorded"})
}

func (f *FakeCollector) handleFinalize(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if f.record(Call{Op: OpFinalize, SessionID: id}) {
		writeDetail(w, http.StatusServiceUnavailable, "injected failure")
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.events[id]; !ok {
		writeDetail(w, http.StatusNotFound, "Session not found")
		return
	}
	if f.finalized[id] {
		writeDetail(w, http.StatusBadRequest, "Session already finalized")
		return
	}
	f.finalized[id] = true
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (f *FakeCollector) handleVerify(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	f.record(Call{Op: OpVerify, SessionID: id})

	f.mu.Lock()
	_, known := f.events[id]
	finalized := f.finalized[id]
	f.mu.Unlock()

	switch {
	case !known:
		writeDetail(w, http.StatusNotFound, "Session not found")
	case !finalized:
		writeJSON(w, http.StatusOK, map[string]any{"verified": false, "message": "No signature or data hash found."})
	default:
		writeJSON(w, http.StatusOK, map[string]any{"verified": true, "message": "Verification successful."})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
