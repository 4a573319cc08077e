// Package shared provides read/write access to the shared-folder-resident
// snapshot file, the single cross-machine source of truth.
//
// The snapshot is read fully, merged, and replaced wholesale on every sync
// round; there is no append-only log. Writes go through a temp-file-and-rename
// replace so no reader ever observes a half-written snapshot.
package shared

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/mkrause/deskpad/internal/netfs"
	"github.com/mkrause/deskpad/internal/schema"
)

// SnapshotFileName is the well-known snapshot file name on the shared folder.
const SnapshotFileName = "deskpad.json"

// ErrUnreachable indicates the shared folder itself is down, as opposed to
// the snapshot file merely not existing yet. Merge must never run against an
// unreachable store, and the circuit breaker treats this differently from
// transient contention.
var ErrUnreachable = netfs.ErrUnreachable

// Snapshot is the shared store content.
type Snapshot struct {
	Tasks          []schema.Task `json:"tasks"`
	Notes          []schema.Note `json:"notes"`
	LastModifiedAt int64         `json:"last_modified_at"`
	LastModifiedBy string        `json:"last_modified_by"`
}

// Accessor reads and writes the shared snapshot for one machine.
type Accessor struct {
	dir       string
	machineID string
	logger    *log.Logger
}

// New creates an Accessor for the shared folder at dir. machineID is stamped
// into every written snapshot as LastModifiedBy and keeps this machine's
// temp files distinct from other machines'.
func New(dir, machineID string, logger *log.Logger) *Accessor {
	if logger == nil {
		logger = log.New(os.Stderr, "[shared] ", log.LstdFlags)
	}
	return &Accessor{dir: dir, machineID: machineID, logger: logger}
}

// SnapshotPath returns the full path of the snapshot file.
func (a *Accessor) SnapshotPath() string {
	return filepath.Join(a.dir, SnapshotFileName)
}

// Dir returns the shared folder path.
func (a *Accessor) Dir() string {
	return a.dir
}

// Read returns the parsed shared snapshot. A missing snapshot file on a
// reachable folder yields an empty snapshot (first-ever sync); an
// unreachable folder yields an error wrapping ErrUnreachable.
func (a *Accessor) Read() (*Snapshot, error) {
	path := a.SnapshotPath()

	data, err := os.ReadFile(path)
	if err != nil {
		if netfs.IsNetworkError(err) {
			return nil, fmt.Errorf("failed to read shared snapshot: %w", errors.Join(ErrUnreachable, err))
		}
		if os.IsNotExist(err) {
			// Distinguish "no snapshot yet" from "folder is gone".
			if _, statErr := os.Stat(a.dir); statErr != nil {
				return nil, fmt.Errorf("shared folder %s not accessible: %w", a.dir, errors.Join(ErrUnreachable, statErr))
			}
			return &Snapshot{}, nil
		}
		return nil, fmt.Errorf("failed to read shared snapshot %s: %w", path, err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to parse shared snapshot %s: %w", path, err)
	}
	return &snap, nil
}

// Write replaces the shared snapshot atomically, stamping it with this
// machine's identity and the given modification time.
func (a *Accessor) Write(snap *Snapshot, modifiedAt int64) error {
	snap.LastModifiedAt = modifiedAt
	snap.LastModifiedBy = a.machineID

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal shared snapshot: %w", err)
	}

	if err := netfs.WriteFileAtomic(a.SnapshotPath(), data, 0644, a.machineID); err != nil {
		if netfs.IsNetworkError(err) {
			return fmt.Errorf("failed to write shared snapshot: %w", errors.Join(ErrUnreachable, err))
		}
		return fmt.Errorf("failed to write shared snapshot: %w", err)
	}

	a.logger.Printf("Wrote shared snapshot (%d tasks, %d notes)", len(snap.Tasks), len(snap.Notes))
	return nil
}
