// Package netfs provides filesystem helpers for working against a network
// share: classification of network-class I/O errors, and atomic
// replace-on-write for snapshot files.
//
// The distinction between "the share is down" and "an ordinary filesystem
// condition" matters throughout the sync engine: contention is retried,
// unreachability is not.
package netfs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

// ErrUnreachable indicates the network share itself is down, as opposed to
// an ordinary filesystem condition such as a missing file or a lost
// exclusive-create race. Callers wrap it with errors.Join so errors.Is
// classification survives the usual %w chains.
var ErrUnreachable = errors.New("shared folder unreachable")

// networkErrnos are the errno values that indicate the underlying share is
// unreachable rather than merely contended. EIO and ESTALE show up when a
// mounted network filesystem loses its backing host mid-operation.
var networkErrnos = []syscall.Errno{
	syscall.ETIMEDOUT,
	syscall.ECONNRESET,
	syscall.ECONNREFUSED,
	syscall.ECONNABORTED,
	syscall.EHOSTUNREACH,
	syscall.ENETUNREACH,
	syscall.ENETDOWN,
	syscall.ENETRESET,
	syscall.ENOTCONN,
	syscall.EIO,
	syscall.ESTALE,
}

// IsNetworkError reports whether err looks like the network share being
// unreachable, as opposed to a normal filesystem condition such as a missing
// file or a lost exclusive-create race.
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}
	for _, errno := range networkErrnos {
		if errors.Is(err, errno) {
			return true
		}
	}
	return false
}

// WriteFileAtomic writes data to path by writing a uniquely named temporary
// file in the same directory and renaming it over the target. A reader never
// observes a half-written file: it sees either the old content or the new,
// which is the only durability guarantee a network filesystem offers here.
//
// The unique suffix keeps two machines' in-flight temp files from colliding.
func WriteFileAtomic(path string, data []byte, perm os.FileMode, unique string) error {
	dir := filepath.Dir(path)
	tmp := filepath.Join(dir, fmt.Sprintf(".%s.%s.tmp", filepath.Base(path), unique))

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to rename temp file into place: %w", err)
	}
	return nil
}
