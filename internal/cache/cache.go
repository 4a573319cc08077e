// Package cache implements the durable, process-local record store: a
// snapshot of all records plus the queue of pending changes not yet confirmed
// written to the shared store.
//
// The cache file is exclusively owned by the running process (one process per
// machine), so no cross-process locking applies here. Persistence is best
// effort: a failed write degrades the store to in-memory-only operation for
// the rest of the process lifetime rather than failing the mutation, and the
// caller learns about it through an explicit PersistResult.
package cache

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/mkrause/deskpad/internal/netfs"
	"github.com/mkrause/deskpad/internal/schema"
)

// Version is the current on-disk cache format version.
const Version = 1

// PersistResult reports whether a mutation reached disk.
type PersistResult int

const (
	// PersistOK means the mutation was written to the cache file.
	PersistOK PersistResult = iota
	// PersistFailed means the mutation is held in memory only. The
	// in-memory state remains authoritative for the rest of the process.
	PersistFailed
)

// State is the full persisted cache content.
type State struct {
	Version        int                    `json:"version"`
	Tasks          []schema.Task          `json:"tasks"`
	Notes          []schema.Note          `json:"notes"`
	PendingChanges []schema.PendingChange `json:"pending_changes"`
	LastSyncAt     int64                  `json:"last_sync_at"`
}

// legacyState is the pre-versioned cache layout written by old releases:
// tasks lived under "todos" and there was no pending-change queue.
type legacyState struct {
	Todos    []schema.Task `json:"todos"`
	Notes    []schema.Note `json:"notes"`
	LastSync int64         `json:"lastSync"`
}

// UpsertPending inserts a pending change, replacing any existing entry for
// the same (table, record) pair. This is the coalescing invariant: the
// outbound change set is bounded by record count, not by edit count.
func (s *State) UpsertPending(c schema.PendingChange) {
	key := c.Key()
	for i := range s.PendingChanges {
		if s.PendingChanges[i].Key() == key {
			s.PendingChanges[i] = c
			return
		}
	}
	s.PendingChanges = append(s.PendingChanges, c)
}

// PendingFor returns the pending changes for one table, keyed by record ID.
func (s *State) PendingFor(table schema.Table) map[string]schema.PendingChange {
	out := make(map[string]schema.PendingChange)
	for _, c := range s.PendingChanges {
		if c.Table == table {
			out[c.RecordID] = c
		}
	}
	return out
}

// FindTask returns a pointer into s.Tasks for the given ID, or nil.
func (s *State) FindTask(id string) *schema.Task {
	for i := range s.Tasks {
		if s.Tasks[i].ID == id {
			return &s.Tasks[i]
		}
	}
	return nil
}

// FindNote returns a pointer into s.Notes for the given ID, or nil.
func (s *State) FindNote(id string) *schema.Note {
	for i := range s.Notes {
		if s.Notes[i].ID == id {
			return &s.Notes[i]
		}
	}
	return nil
}

// clone returns a deep copy safe to hand outside the store's lock.
func (s *State) clone() State {
	out := State{
		Version:    s.Version,
		LastSyncAt: s.LastSyncAt,
	}
	out.Tasks = append([]schema.Task(nil), s.Tasks...)
	for i := range out.Tasks {
		if due := out.Tasks[i].DueAt; due != nil {
			d := *due
			out.Tasks[i].DueAt = &d
		}
	}
	out.Notes = append([]schema.Note(nil), s.Notes...)
	out.PendingChanges = append([]schema.PendingChange(nil), s.PendingChanges...)
	return out
}

// Store is the local cache store.
type Store struct {
	path   string
	logger *log.Logger

	mu       sync.Mutex
	state    State
	degraded bool
}

// Open loads the cache from path, or starts from empty defaults if the file
// is absent or corrupt. Corrupt JSON is never fatal: the damaged file is
// simply superseded on the next successful persist.
func Open(path string, logger *log.Logger) (*Store, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[cache] ", log.LstdFlags)
	}

	st := &Store{path: path, logger: logger}
	st.state = load(path, logger)
	return st, nil
}

// load reads and migrates the cache file, falling back to defaults.
func load(path string, logger *log.Logger) State {
	empty := State{Version: Version}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Printf("Warning: failed to read cache file %s, starting empty: %v", path, err)
		}
		return empty
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		logger.Printf("Warning: cache file %s is corrupt, starting empty: %v", path, err)
		return empty
	}

	if state.Version == 0 {
		// Pre-versioned layout. Re-parse with the legacy field names and
		// carry the records forward; pending changes did not exist yet.
		var legacy legacyState
		if err := json.Unmarshal(data, &legacy); err == nil && legacy.Todos != nil {
			logger.Printf("Migrating legacy cache file %s (%d tasks, %d notes)", path, len(legacy.Todos), len(legacy.Notes))
			state = State{
				Tasks:      legacy.Todos,
				Notes:      legacy.Notes,
				LastSyncAt: legacy.LastSync,
			}
		}
		state.Version = Version
	}

	return state
}

// Snapshot returns a deep copy of the current state.
func (st *Store) Snapshot() State {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.state.clone()
}

// PendingCount returns the number of queued pending changes.
func (st *Store) PendingCount() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.state.PendingChanges)
}

// Degraded reports whether a persist has failed since the process started.
func (st *Store) Degraded() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.degraded
}

// Mutate applies updater to the state under the store's lock and persists
// synchronously before returning. A persist failure is logged and reported,
// never raised: the in-memory state keeps the mutation either way.
func (st *Store) Mutate(updater func(*State)) PersistResult {
	st.mu.Lock()
	defer st.mu.Unlock()

	updater(&st.state)
	st.state.Version = Version
	return st.persistLocked()
}

// RecordPendingChange queues a pending change for the given record,
// replacing any existing entry for the same (table, record) pair, and
// persists the cache.
func (st *Store) RecordPendingChange(table schema.Table, recordID string, op schema.Operation, id string) PersistResult {
	return st.Mutate(func(s *State) {
		s.UpsertPending(schema.PendingChange{
			ID:        id,
			Table:     table,
			RecordID:  recordID,
			Operation: op,
			Timestamp: schema.NowMillis(),
		})
	})
}

// ClearPending removes exactly the given pending changes (matched by entry
// ID) from the queue. Entries queued after the sync round captured its
// snapshot keep their place for the next round.
func (st *Store) ClearPending(applied []schema.PendingChange) PersistResult {
	appliedIDs := make(map[string]bool, len(applied))
	for _, c := range applied {
		appliedIDs[c.ID] = true
	}
	return st.Mutate(func(s *State) {
		kept := s.PendingChanges[:0]
		for _, c := range s.PendingChanges {
			if !appliedIDs[c.ID] {
				kept = append(kept, c)
			}
		}
		s.PendingChanges = kept
	})
}

// persistLocked writes the state to disk. Caller holds st.mu.
func (st *Store) persistLocked() PersistResult {
	data, err := json.MarshalIndent(&st.state, "", "  ")
	if err != nil {
		st.logger.Printf("Error: failed to marshal cache: %v", err)
		st.degraded = true
		return PersistFailed
	}

	if err := os.MkdirAll(filepath.Dir(st.path), 0755); err != nil {
		st.logger.Printf("Error: failed to create cache directory: %v", err)
		st.degraded = true
		return PersistFailed
	}

	if err := netfs.WriteFileAtomic(st.path, data, 0600, "local"); err != nil {
		st.logger.Printf("Error: failed to persist cache to %s: %v", st.path, err)
		st.degraded = true
		return PersistFailed
	}
	return PersistOK
}

// Path returns the cache file location.
func (st *Store) Path() string {
	return st.path
}

// DefaultPath returns the default cache file location inside dir.
func DefaultPath(dir string) string {
	return filepath.Join(dir, "cache.json")
}
