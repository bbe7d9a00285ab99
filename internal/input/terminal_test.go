package input

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Iron-Ham/provenance/internal/errors"
)

type keyRecorder struct {
	mu   sync.Mutex
	keys []string
}

func (r *keyRecorder) handle(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys = append(r.keys, key)
}

func (r *keyRecorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.keys...)
}

func TestStream_Run(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"ends at eof", "hi\n", []string{"h", "i", KeyEnter}},
		{"ends at ctrl-c", "ab\x03ignored", []string{"a", "b"}},
		{"empty", "", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := NewStream(strings.NewReader(tt.input), nil)
			rec := &keyRecorder{}
			if err := src.Register(rec.handle); err != nil {
				t.Fatalf("Register failed: %v", err)
			}

			if err := src.Run(context.Background()); err != nil {
				t.Fatalf("Run() = %v, want nil", err)
			}
			if got := rec.all(); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("keys = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStream_RunStopsOnCancel(t *testing.T) {
	pr, pw := io.Pipe()
	defer func() { _ = pw.Close() }()

	src := NewStream(pr, nil)
	rec := &keyRecorder{}
	if err := src.Register(rec.handle); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- src.Run(ctx) }()

	if _, err := pw.Write([]byte("k")); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for len(rec.all()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("key never delivered")
		}
		time.Sleep(time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestStream_RunWithoutHandler(t *testing.T) {
	src := NewStream(strings.NewReader("a"), nil)

	var wiringErr *errors.CaptureWiringError
	if err := src.Run(context.Background()); !errors.As(err, &wiringErr) {
		t.Errorf("Run() = %v, want *CaptureWiringError", err)
	}
}

func TestTerminal_RegisterRequiresTerminal(t *testing.T) {
	f, err := os.Create(filepath.Join(t.TempDir(), "not-a-tty"))
	if err != nil {
		t.Fatalf("create file: %v", err)
	}
	defer func() { _ = f.Close() }()

	src := NewTerminal(f, nil)
	if src.Surface() != SurfaceTerminal {
		t.Errorf("Surface() = %q, want %q", src.Surface(), SurfaceTerminal)
	}

	err = src.Register(func(string) {})
	var wiringErr *errors.CaptureWiringError
	if !errors.As(err, &wiringErr) {
		t.Fatalf("Register() = %v, want *CaptureWiringError", err)
	}
	if !errors.Is(err, errors.ErrCaptureTargetMissing) {
		t.Errorf("Register() = %v, should wrap ErrCaptureTargetMissing", err)
	}
}

func TestRegister_NilHandler(t *testing.T) {
	if err := NewStream(strings.NewReader(""), nil).Register(nil); err == nil {
		t.Error("Register(nil) should fail")
	}
}
