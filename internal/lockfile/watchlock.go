package lockfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

var errProcessLocked = errors.New("watch lock already held by another process")

const (
	lockFileName = "watch.lock"
	pidFileName  = "watch.pid"
)

// LockInfo is the JSON metadata recorded in a held watch lock file: which
// process holds it, which database it is watching, and when it started.
type LockInfo struct {
	PID       int       `json:"pid"`
	ParentPID int       `json:"parent_pid,omitempty"`
	Database  string    `json:"database"`
	Version   string    `json:"version"`
	StartedAt time.Time `json:"started_at"`
}

// ReadLockInfo reads and parses the lock file in dir, accepting both the
// current JSON format and the legacy plain-PID format.
func ReadLockInfo(dir string) (*LockInfo, error) {
	data, err := os.ReadFile(filepath.Join(dir, lockFileName))
	if err != nil {
		return nil, err
	}

	var info LockInfo
	if err := json.Unmarshal(data, &info); err == nil && info.PID != 0 {
		return &info, nil
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("parse lock file: invalid format")
	}
	return &LockInfo{PID: pid}, nil
}

// checkPIDFile reports whether dir's PID file names a currently-running
// process, falling back to this when the lock file itself can't resolve it.
func checkPIDFile(dir string) (running bool, pid int) {
	data, err := os.ReadFile(filepath.Join(dir, pidFileName))
	if err != nil {
		return false, 0
	}
	p, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || !isProcessRunning(p) {
		return false, 0
	}
	return true, p
}

// TryDaemonLock reports whether another process already holds the watch
// lock in dir, without acquiring it itself: it briefly takes a shared lock
// (which only conflicts with the orchestrator's exclusive watch lock, not
// with other concurrent probes), falling back to the recorded PID file when
// the lock file is missing, unreadable, or its contents can't be resolved
// to a live PID.
func TryDaemonLock(dir string) (running bool, pid int) {
	f, err := os.OpenFile(filepath.Join(dir, lockFileName), os.O_RDWR, 0600)
	if err != nil {
		return checkPIDFile(dir)
	}
	defer f.Close()

	if lockErr := FlockSharedNonBlock(f); lockErr == nil {
		_ = FlockUnlock(f)
		return checkPIDFile(dir)
	}

	if info, err := ReadLockInfo(dir); err == nil && isProcessRunning(info.PID) {
		return true, info.PID
	}
	if running, pid := checkPIDFile(dir); running {
		return true, pid
	}
	return true, 0
}

// Lock represents a held watch lock; Close releases it.
type Lock struct {
	file *os.File
}

// Close releases the lock and closes its file handle.
func (l *Lock) Close() error {
	if l.file == nil {
		return nil
	}
	_ = FlockUnlock(l.file)
	err := l.file.Close()
	l.file = nil
	return err
}

// AcquireWatchLock takes an exclusive non-blocking lock on a watch.lock file
// inside dir and stamps it with the calling process's metadata, so at most
// one orchestrator watch loop runs against a given project at a time.
// Returns ErrLocked if another live process already holds it.
func AcquireWatchLock(dir, dbPath, version string) (*Lock, error) {
	lockPath := filepath.Join(dir, lockFileName)

	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := flockExclusive(f); err != nil {
		_ = f.Close()
		if err == errDaemonLocked {
			return nil, errProcessLocked
		}
		return nil, fmt.Errorf("lock file: %w", err)
	}

	info := LockInfo{
		PID:       os.Getpid(),
		ParentPID: os.Getppid(),
		Database:  dbPath,
		Version:   version,
		StartedAt: time.Now().UTC(),
	}
	_ = f.Truncate(0)
	_, _ = f.Seek(0, 0)
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	_ = enc.Encode(info)
	_ = f.Sync()

	_ = os.WriteFile(filepath.Join(dir, pidFileName), []byte(fmt.Sprintf("%d\n", os.Getpid())), 0600)

	return &Lock{file: f}, nil
}
