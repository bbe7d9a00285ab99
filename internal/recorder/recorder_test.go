package recorder

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/Iron-Ham/provenance/internal/capture"
	"github.com/Iron-Ham/provenance/internal/config"
	"github.com/Iron-Ham/provenance/internal/input"
	"github.com/Iron-Ham/provenance/internal/session"
	"github.com/Iron-Ham/provenance/internal/testutil"
)

func testConfig(t *testing.T, collectorURL string) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Collector.BaseURL = collectorURL
	cfg.Paths.StateDir = t.TempDir()
	return cfg
}

func newTestRecorder(t *testing.T, cfg *config.Config) *Recorder {
	t.Helper()
	r, err := New(cfg, Options{})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { _ = r.Close(context.Background()) })
	return r
}

func TestNew(t *testing.T) {
	fake := testutil.NewFakeCollector(t)
	cfg := testConfig(t, fake.URL())

	r := newTestRecorder(t, cfg)

	if r.ContextID() == "" {
		t.Error("ContextID() is empty")
	}
	if r.StateDir() != cfg.Paths.StateDir {
		t.Errorf("StateDir() = %q, want %q", r.StateDir(), cfg.Paths.StateDir)
	}
	if _, locked := session.IsLocked(cfg.Paths.StateDir); !locked {
		t.Error("state directory not locked")
	}
	if got := r.Buffer().Policy(); got != (capture.Policy{CountThreshold: 10, FlushInterval: 2 * time.Second}) {
		t.Errorf("Policy() = %+v", got)
	}
	if r.Collector().BaseURL() != fake.URL() {
		t.Errorf("collector = %q, want %q", r.Collector().BaseURL(), fake.URL())
	}
}

func TestNew_InvalidCollectorReleasesLock(t *testing.T) {
	cfg := testConfig(t, "not a url")

	if _, err := New(cfg, Options{}); err == nil {
		t.Fatal("New should fail with an invalid collector URL")
	}
	if _, err := os.Stat(filepath.Join(cfg.Paths.StateDir, session.LockFileName)); !os.IsNotExist(err) {
		t.Errorf("lock file left behind: %v", err)
	}
}

func TestRecorder_RecordFromStream(t *testing.T) {
	fake := testutil.NewFakeCollector(t)
	cfg := testConfig(t, fake.URL())
	r := newTestRecorder(t, cfg)
	ctx := context.Background()

	src := input.NewStream(strings.NewReader("hey\n"), nil)
	if err := r.Attach(src); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}

	id, err := r.Start(ctx)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := src.Run(ctx); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if _, err := r.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	var keys []string
	for _, ev := range fake.Events(id) {
		keys = append(keys, ev.Character)
	}
	if want := []string{"h", "e", "y", input.KeyEnter}; !reflect.DeepEqual(keys, want) {
		t.Errorf("collector keys = %q, want %q", keys, want)
	}
	if !fake.Finalized(id) {
		t.Error("session not finalized")
	}
}

func TestRecorder_StatusRecorded(t *testing.T) {
	fake := testutil.NewFakeCollector(t)
	cfg := testConfig(t, fake.URL())
	r := newTestRecorder(t, cfg)
	ctx := context.Background()

	id, err := r.Start(ctx)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	store, err := session.NewFileStore(cfg.Paths.StateDir)
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	record, err := store.LoadStatus(ctx)
	if err != nil {
		t.Fatalf("LoadStatus failed: %v", err)
	}
	if record.SessionID != id {
		t.Errorf("recorded session = %q, want %q", record.SessionID, id)
	}
}

func TestRecorder_ApplyConfig(t *testing.T) {
	fake := testutil.NewFakeCollector(t)
	cfg := testConfig(t, fake.URL())
	r := newTestRecorder(t, cfg)

	updated := *cfg
	updated.Capture.CountThreshold = 3
	updated.Capture.FlushIntervalMs = 500
	r.ApplyConfig(&updated)

	want := capture.Policy{CountThreshold: 3, FlushInterval: 500 * time.Millisecond}
	if got := r.Buffer().Policy(); got != want {
		t.Errorf("Policy() = %+v, want %+v", got, want)
	}
}

func TestRecorder_CloseStopsActiveSession(t *testing.T) {
	fake := testutil.NewFakeCollector(t)
	cfg := testConfig(t, fake.URL())
	r, err := New(cfg, Options{})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	ctx := context.Background()

	id, err := r.Start(ctx)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := r.Buffer().Capture(capture.NewEvent("z", time.Now())); err != nil {
		t.Fatalf("Capture failed: %v", err)
	}

	if err := r.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := r.Close(ctx); err != nil {
		t.Errorf("second Close = %v, want nil", err)
	}

	if got := fake.Events(id); len(got) != 1 || got[0].Character != "z" {
		t.Errorf("collector events = %v, want the pending event", got)
	}
	if !fake.Finalized(id) {
		t.Error("session not finalized on Close")
	}
	if _, locked := session.IsLocked(cfg.Paths.StateDir); locked {
		t.Error("state directory still locked after Close")
	}
}
