package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/Iron-Ham/provenance/internal/logging"
)

// LockFileName is the name of the lock file within the state directory.
const LockFileName = "recorder.lock"

// ErrContextLocked is returned when another live recorder owns the state
// directory.
var ErrContextLocked = errors.New("capture context is owned by another process")

// Lock marks a state directory as owned by one recorder process. A state
// directory is one capture context, so two recorders never share a status
// record.
type Lock struct {
	ContextID string    `json:"context_id"`
	PID       int       `json:"pid"`
	Hostname  string    `json:"hostname"`
	StartedAt time.Time `json:"started_at"`

	lockFile string
	logger   *logging.Logger
}

// held maps lock file paths to the context id this process holds them for.
// A lock file naming our own pid but missing from here was left by a dead
// process whose pid we reused.
var held = struct {
	sync.Mutex
	paths map[string]string
}{paths: make(map[string]string)}

func heldBy(lockPath string) (string, bool) {
	held.Lock()
	defer held.Unlock()
	id, ok := held.paths[lockPath]
	return id, ok
}

// AcquireLock claims stateDir for the capture context contextID. A lock left
// behind by a dead process is removed first. logger may be nil.
func AcquireLock(stateDir, contextID string, logger *logging.Logger) (*Lock, error) {
	logger = logging.OrNop(logger).WithComponent("lock")
	lockPath := filepath.Join(stateDir, LockFileName)

	if existing, err := ReadLock(lockPath); err == nil {
		owned := isProcessAlive(existing.PID) && existing.PID != os.Getpid()
		if existing.PID == os.Getpid() {
			if id, ok := heldBy(lockPath); ok && id == existing.ContextID {
				owned = true
			}
		}
		if owned {
			logger.Error("failed to acquire lock",
				"context_id", contextID,
				"owner_pid", existing.PID,
				"owner_host", existing.Hostname,
			)
			return nil, fmt.Errorf("%w: PID %d on %s", ErrContextLocked, existing.PID, existing.Hostname)
		}
		if err := os.Remove(lockPath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to remove stale lock: %w", err)
		}
		logger.Warn("stale lock cleaned", "context_id", contextID, "old_pid", existing.PID)
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	lock := &Lock{
		ContextID: contextID,
		PID:       os.Getpid(),
		Hostname:  hostname,
		StartedAt: time.Now(),
		lockFile:  lockPath,
		logger:    logger,
	}

	data, err := json.MarshalIndent(lock, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal lock: %w", err)
	}

	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	// O_EXCL loses the race cleanly if another process created the file
	// after the check above.
	f, err := os.OpenFile(lockPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if os.IsExist(err) {
			return nil, ErrContextLocked
		}
		return nil, fmt.Errorf("failed to create lock file: %w", err)
	}
	defer func() { _ = f.Close() }()

	if _, err := f.Write(data); err != nil {
		_ = os.Remove(lockPath)
		return nil, fmt.Errorf("failed to write lock file: %w", err)
	}

	held.Lock()
	held.paths[lockPath] = contextID
	held.Unlock()

	logger.Debug("lock acquired", "context_id", contextID, "pid", lock.PID)
	return lock, nil
}

// Release removes the lock file if this process still owns it. It is safe to
// call more than once and on a nil Lock.
func (l *Lock) Release() error {
	if l == nil || l.lockFile == "" {
		return nil
	}

	held.Lock()
	if held.paths[l.lockFile] == l.ContextID {
		delete(held.paths, l.lockFile)
	}
	held.Unlock()

	existing, err := ReadLock(l.lockFile)
	if err != nil || existing.PID != l.PID {
		return nil
	}
	if err := os.Remove(l.lockFile); err != nil && !os.IsNotExist(err) {
		return err
	}

	logging.OrNop(l.logger).Debug("lock released", "context_id", l.ContextID)
	return nil
}

// ReadLock reads a lock file.
func ReadLock(lockPath string) (*Lock, error) {
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return nil, err
	}

	var lock Lock
	if err := json.Unmarshal(data, &lock); err != nil {
		return nil, fmt.Errorf("failed to parse lock file: %w", err)
	}
	lock.lockFile = lockPath
	return &lock, nil
}

// IsLocked reports whether a live process owns stateDir.
func IsLocked(stateDir string) (*Lock, bool) {
	lock, err := ReadLock(filepath.Join(stateDir, LockFileName))
	if err != nil {
		return nil, false
	}
	return lock, isProcessAlive(lock.PID)
}

// isProcessAlive sends signal 0, which checks for existence without
// affecting the process.
func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
