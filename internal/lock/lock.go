// Package lock implements a distributed mutual-exclusion lock built entirely
// out of atomic file-creation semantics on a shared folder.
//
// The lock is a single well-known JSON file next to the shared snapshot.
// Acquisition relies on the filesystem's exclusive-create primitive
// (create-fails-if-exists) as the sole atomicity guarantee; there is no
// server-side lease service. A holder that crashes leaves its lock file
// behind, so any other machine may reclaim a lock whose age exceeds the
// staleness threshold.
package lock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/mkrause/deskpad/internal/netfs"
)

// FileName is the well-known lock file name on the shared folder.
const FileName = "deskpad.lock"

// Info is the lock file content.
type Info struct {
	OwnerID    string `json:"owner_id"`
	AcquiredAt int64  `json:"acquired_at"`
	ProcessID  int    `json:"process_id"`
	Nonce      string `json:"nonce"`
}

// Config holds lock timing parameters.
type Config struct {
	// Timeout bounds one Acquire call end to end.
	Timeout time.Duration

	// PollInterval is how long to wait between acquisition attempts while
	// the lock is contended.
	PollInterval time.Duration

	// StaleAfter is the age past which another machine's lock is presumed
	// abandoned and may be deleted. It must comfortably exceed the
	// scheduler's sync interval so a live holder never looks stale
	// mid-cycle.
	StaleAfter time.Duration

	// Logger for lock activity.
	Logger *log.Logger
}

// DefaultConfig returns the standard timings: 5s acquisition timeout, 100ms
// poll, 30s staleness.
func DefaultConfig() *Config {
	return &Config{
		Timeout:      5 * time.Second,
		PollInterval: 100 * time.Millisecond,
		StaleAfter:   30 * time.Second,
		Logger:       log.New(os.Stderr, "[lock] ", log.LstdFlags),
	}
}

// TimeoutError reports an acquisition that ran out its timeout. Owner is the
// last owner observed holding the lock (empty if none was ever read), and
// SawNetworkError records whether any network-class error occurred along the
// way.
type TimeoutError struct {
	Owner           string
	SawNetworkError bool
}

func (e *TimeoutError) Error() string {
	if e.Owner != "" {
		return fmt.Sprintf("timed out waiting for lock held by %s", e.Owner)
	}
	return "timed out waiting for lock"
}

// FileLock is a mutual-exclusion lock for one shared folder, bound to one
// owning machine. Acquire is idempotent within a process: re-acquiring a
// lock this process already holds refreshes its timestamp.
type FileLock struct {
	dir     string
	ownerID string
	pid     int
	nonce   string
	config  *Config
}

// New creates a FileLock for the shared folder at dir, owned by ownerID
// (the machine ID). A nil config uses DefaultConfig.
func New(dir, ownerID string, config *Config) *FileLock {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[lock] ", log.LstdFlags)
	}
	return &FileLock{
		dir:     dir,
		ownerID: ownerID,
		pid:     os.Getpid(),
		nonce:   uuid.NewString(),
		config:  config,
	}
}

// Path returns the lock file location.
func (l *FileLock) Path() string {
	return filepath.Join(l.dir, FileName)
}

// Acquire takes the lock, polling until it succeeds, the timeout elapses, or
// ctx is cancelled.
//
// A network-class error aborts immediately without retrying: the shared
// folder is down, not merely contended, and the caller's circuit breaker
// needs to know the difference.
func (l *FileLock) Acquire(ctx context.Context) error {
	deadline := time.Now().Add(l.config.Timeout)

	var lastOwner string
	sawNetworkError := false

	for {
		acquired, owner, err := l.tryAcquire()
		if err != nil {
			if errors.Is(err, netfs.ErrUnreachable) {
				return err
			}
			// Non-network errors (permission, parse) are retried until the
			// timeout; the share may be mid-update by another machine.
			l.config.Logger.Printf("Acquisition attempt failed: %v", err)
		}
		if acquired {
			return nil
		}
		if owner != "" {
			lastOwner = owner
		}

		if time.Now().After(deadline) {
			return &TimeoutError{Owner: lastOwner, SawNetworkError: sawNetworkError}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.config.PollInterval):
		}
	}
}

// tryAcquire makes one pass of the acquisition state machine. It returns
// whether the lock was acquired and, when contended, the current owner.
func (l *FileLock) tryAcquire() (acquired bool, owner string, err error) {
	path := l.Path()

	data, readErr := os.ReadFile(path)
	switch {
	case readErr == nil:
		var info Info
		if jsonErr := json.Unmarshal(data, &info); jsonErr != nil {
			// A half-formed lock file: another machine may be mid-create on
			// a filesystem without atomic small writes. Treat as contended
			// unless it has gone stale by mtime.
			if stat, statErr := os.Stat(path); statErr == nil && time.Since(stat.ModTime()) > l.config.StaleAfter {
				l.config.Logger.Printf("Removing unparseable stale lock file: %v", jsonErr)
				os.Remove(path)
			}
			return false, "", nil
		}

		if info.OwnerID == l.ownerID && info.ProcessID == l.pid {
			// Idempotent re-entry: refresh the timestamp, keep the original
			// nonce.
			info.AcquiredAt = time.Now().UnixMilli()
			if err := l.writeInfo(path, info, false); err != nil {
				return false, "", err
			}
			return true, "", nil
		}

		age := time.Since(time.UnixMilli(info.AcquiredAt))
		if age > l.config.StaleAfter {
			l.config.Logger.Printf("Reclaiming stale lock held by %s (age %s)", info.OwnerID, age.Round(time.Second))
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				if netfs.IsNetworkError(err) {
					return false, "", fmt.Errorf("failed to remove stale lock: %w", errors.Join(netfs.ErrUnreachable, err))
				}
				return false, "", fmt.Errorf("failed to remove stale lock: %w", err)
			}
			// Removed (or someone beat us to it); race for it next pass
			// through the exclusive create below.
			return false, info.OwnerID, nil
		}

		return false, info.OwnerID, nil

	case netfs.IsNetworkError(readErr):
		return false, "", fmt.Errorf("failed to read lock file: %w", errors.Join(netfs.ErrUnreachable, readErr))

	case os.IsNotExist(readErr):
		info := Info{
			OwnerID:    l.ownerID,
			AcquiredAt: time.Now().UnixMilli(),
			ProcessID:  l.pid,
			Nonce:      l.nonce,
		}
		if err := l.writeInfo(path, info, true); err != nil {
			if os.IsExist(err) {
				// Lost the creation race; contended.
				return false, "", nil
			}
			if os.IsNotExist(err) {
				// The lock file's parent is gone: the shared folder itself
				// is not there. That's unreachability, not contention.
				return false, "", fmt.Errorf("shared folder missing: %w", errors.Join(netfs.ErrUnreachable, err))
			}
			return false, "", err
		}
		return true, "", nil

	default:
		return false, "", fmt.Errorf("failed to read lock file: %w", readErr)
	}
}

// writeInfo writes the lock file. With exclusive set it fails if the file
// already exists, which is the atomic primitive the whole lock rests on.
func (l *FileLock) writeInfo(path string, info Info, exclusive bool) error {
	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if exclusive {
		flags = os.O_WRONLY | os.O_CREATE | os.O_EXCL
	}

	f, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		if netfs.IsNetworkError(err) {
			return fmt.Errorf("failed to create lock file: %w", errors.Join(netfs.ErrUnreachable, err))
		}
		return err
	}

	data, err := json.Marshal(info)
	if err != nil {
		f.Close()
		return fmt.Errorf("failed to marshal lock info: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(path)
		if netfs.IsNetworkError(err) {
			return fmt.Errorf("failed to write lock file: %w", errors.Join(netfs.ErrUnreachable, err))
		}
		return fmt.Errorf("failed to write lock file: %w", err)
	}
	return f.Close()
}

// Release deletes the lock file if this machine owns it.
//
// Release is idempotent: a lock that is already gone counts as released. A
// matching owner with a different process ID is released with a warning,
// since a lock can outlive its owning process across a crash and restart on
// the same machine.
func (l *FileLock) Release() error {
	path := l.Path()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read lock file for release: %w", err)
	}

	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		return fmt.Errorf("failed to parse lock file for release: %w", err)
	}

	if info.OwnerID != l.ownerID {
		return fmt.Errorf("cannot release lock owned by %s", info.OwnerID)
	}
	if info.ProcessID != l.pid {
		l.config.Logger.Printf("Warning: releasing lock held by process %d (this process is %d)", info.ProcessID, l.pid)
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}
	return nil
}

// ReadInfo returns the current lock file content, or nil if no lock is held.
func (l *FileLock) ReadInfo() (*Info, error) {
	data, err := os.ReadFile(l.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read lock file: %w", err)
	}
	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("failed to parse lock file: %w", err)
	}
	return &info, nil
}
