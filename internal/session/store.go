package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ErrNotFound is returned when a requested key does not exist.
var ErrNotFound = errors.New("not found")

// StatusKey is the store key holding the last started session.
const StatusKey = "last_session_id"

// StatusRecord describes the live session for display purposes only. The
// controller never reads it back.
type StatusRecord struct {
	SessionID string    `json:"session_id"`
	StartedAt time.Time `json:"started_at"`
	PID       int       `json:"pid"`
}

// Stale reports whether the process that wrote the record is gone.
func (r *StatusRecord) Stale() bool {
	return r.PID == 0 || !isProcessAlive(r.PID)
}

// StatusStore persists the StatusRecord of the live session.
type StatusStore interface {
	SaveStatus(ctx context.Context, record StatusRecord) error
	// LoadStatus returns ErrNotFound when no session is recorded.
	LoadStatus(ctx context.Context) (*StatusRecord, error)
	ClearStatus(ctx context.Context) error
}

// -----------------------------------------------------------------------------
// FileStore - Key-Value File Storage
// -----------------------------------------------------------------------------

// FileStore is a small file-backed key-value store. Each key maps to a file
// within a base directory, with keys using "/" as path separators.
type FileStore struct {
	baseDir string
	mu      sync.RWMutex
}

var _ StatusStore = (*FileStore)(nil)

// NewFileStore creates a FileStore rooted at baseDir, creating it if needed.
func NewFileStore(baseDir string) (*FileStore, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	return &FileStore{baseDir: baseDir}, nil
}

// Dir returns the directory the store writes to.
func (fs *FileStore) Dir() string {
	return fs.baseDir
}

// Save persists data under key using an atomic write.
func (fs *FileStore) Save(ctx context.Context, key string, data []byte) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	path := fs.keyToPath(key)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	return atomicWriteFile(path, data, 0644)
}

// Load returns the data stored under key.
func (fs *FileStore) Load(ctx context.Context, key string) ([]byte, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	data, err := os.ReadFile(fs.keyToPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return data, nil
}

// Delete removes key. Deleting a missing key returns ErrNotFound.
func (fs *FileStore) Delete(ctx context.Context, key string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := os.Remove(fs.keyToPath(key)); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

// SaveStatus records the live session. A zero PID is replaced by the
// current process id.
func (fs *FileStore) SaveStatus(ctx context.Context, record StatusRecord) error {
	if record.PID == 0 {
		record.PID = os.Getpid()
	}
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal status: %w", err)
	}
	return fs.Save(ctx, StatusKey, data)
}

// LoadStatus returns the recorded session, or ErrNotFound.
func (fs *FileStore) LoadStatus(ctx context.Context) (*StatusRecord, error) {
	data, err := fs.Load(ctx, StatusKey)
	if err != nil {
		return nil, err
	}

	var record StatusRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to parse status: %w", err)
	}
	if record.SessionID == "" {
		return nil, ErrNotFound
	}
	return &record, nil
}

// ClearStatus forgets the recorded session. Clearing twice is not an error.
func (fs *FileStore) ClearStatus(ctx context.Context) error {
	if err := fs.Delete(ctx, StatusKey); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	return nil
}

func (fs *FileStore) keyToPath(key string) string {
	return filepath.Join(fs.baseDir, filepath.FromSlash(key))
}

// atomicWriteFile writes data to a temp file in the target directory and
// renames it into place.
func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	tmpFile, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}
