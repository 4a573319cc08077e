// Package engine orchestrates synchronization between the local cache and
// the shared snapshot: when sync rounds run (periodic, debounced-on-write,
// manual), how each round proceeds (lock, read, merge, write back, release),
// and how failures feed the circuit breaker.
//
// One round at a time per process: a trigger arriving while a round is in
// flight is dropped, not queued. The next periodic tick picks up whatever
// work is outstanding. Across machines, serialization comes solely from the
// distributed file lock.
package engine

import (
	"context"
	"errors"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/mkrause/deskpad/internal/breaker"
	"github.com/mkrause/deskpad/internal/cache"
	"github.com/mkrause/deskpad/internal/config"
	"github.com/mkrause/deskpad/internal/history"
	"github.com/mkrause/deskpad/internal/lock"
	"github.com/mkrause/deskpad/internal/merge"
	"github.com/mkrause/deskpad/internal/netfs"
	"github.com/mkrause/deskpad/internal/schema"
	"github.com/mkrause/deskpad/internal/shared"
)

// Trigger identifies what started a sync round.
type Trigger string

const (
	// TriggerInterval is the fixed periodic timer.
	TriggerInterval Trigger = "interval"
	// TriggerDebounced is the quiet-period timer armed by local mutations.
	TriggerDebounced Trigger = "debounced"
	// TriggerManual is a user-initiated sync.
	TriggerManual Trigger = "manual"
)

// Status is the sync state surfaced to the UI layer. Reads never block on a
// sync round.
type Status struct {
	IsOnline     bool  `json:"is_online"`
	PendingCount int   `json:"pending_count"`
	LastSyncAt   int64 `json:"last_sync_at"`
	CircuitOpen  bool  `json:"circuit_open"`
	NextRetryAt  int64 `json:"next_retry_at,omitempty"`
	Syncing      bool  `json:"syncing"`
}

// StatusListener receives status updates after every completed round and
// breaker reset. Emission is synchronous and in subscription order.
type StatusListener func(Status)

// Config holds engine timing parameters.
type Config struct {
	// SyncInterval is the fixed period between automatic sync attempts.
	SyncInterval time.Duration

	// Debounce is the quiet period after a local mutation before the
	// debounced sync fires. Bursts of edits coalesce into one round.
	Debounce time.Duration

	// Logger for engine activity.
	Logger *log.Logger
}

// DefaultConfig returns the standard timings: 5s interval, 1s debounce.
func DefaultConfig() *Config {
	return &Config{
		SyncInterval: 5 * time.Second,
		Debounce:     time.Second,
		Logger:       log.New(os.Stderr, "[engine] ", log.LstdFlags),
	}
}

// Engine is the sync scheduler. Construct with New, start the periodic loop
// with Run, and feed it local mutations through ScheduleDebounced.
type Engine struct {
	cache   *cache.Store
	store   *shared.Accessor
	lock    *lock.FileLock
	breaker *breaker.Breaker
	cfg     *config.Config
	hist    *history.DB // optional
	config  *Config

	mu        sync.Mutex
	syncing   bool
	online    bool
	closed    bool
	listeners []StatusListener

	debounceMu sync.Mutex
	debounce   *time.Timer
}

// New creates an Engine. hist may be nil to disable history recording; a nil
// engineConfig uses DefaultConfig.
func New(cacheStore *cache.Store, store *shared.Accessor, fileLock *lock.FileLock, brk *breaker.Breaker, cfg *config.Config, hist *history.DB, engineConfig *Config) *Engine {
	if engineConfig == nil {
		engineConfig = DefaultConfig()
	}
	if engineConfig.Logger == nil {
		engineConfig.Logger = log.New(os.Stderr, "[engine] ", log.LstdFlags)
	}
	return &Engine{
		cache:   cacheStore,
		store:   store,
		lock:    fileLock,
		breaker: brk,
		cfg:     cfg,
		hist:    hist,
		config:  engineConfig,
		online:  true,
	}
}

// Run drives the periodic sync loop until ctx is cancelled. On shutdown the
// periodic and debounce timers are stopped; no final best-effort sync is
// attempted, since that could race a lock timeout against process exit.
func (e *Engine) Run(ctx context.Context) error {
	e.config.Logger.Printf("Sync engine started (interval %s, debounce %s)", e.config.SyncInterval, e.config.Debounce)

	ticker := time.NewTicker(e.config.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.shutdown()
			return nil
		case <-ticker.C:
			e.trySync(ctx, TriggerInterval)
		}
	}
}

// shutdown marks the engine closed and stops the debounce timer.
func (e *Engine) shutdown() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	e.debounceMu.Lock()
	if e.debounce != nil {
		e.debounce.Stop()
	}
	e.debounceMu.Unlock()

	e.config.Logger.Println("Sync engine stopped")
}

// ScheduleDebounced arms (or re-arms) the debounced sync. Each call resets
// the quiet period, so a burst of local edits produces a single round.
func (e *Engine) ScheduleDebounced() {
	e.debounceMu.Lock()
	defer e.debounceMu.Unlock()

	if e.debounce != nil {
		e.debounce.Stop()
	}
	e.debounce = time.AfterFunc(e.config.Debounce, func() {
		e.trySync(context.Background(), TriggerDebounced)
	})
}

// TriggerSync runs a sync round now, bypassing the periodic timer. The
// circuit breaker still applies. Returns without waiting if a round is
// already in flight.
func (e *Engine) TriggerSync() {
	e.trySync(context.Background(), TriggerManual)
}

// ResetBreaker unconditionally closes the circuit and clears the failure
// count, then attempts a sync immediately.
func (e *Engine) ResetBreaker() {
	e.breaker.Reset()
	e.notify()
	e.trySync(context.Background(), TriggerManual)
}

// Subscribe registers a status listener. Not safe to call concurrently with
// round completion; subscribe during composition, before Run.
func (e *Engine) Subscribe(l StatusListener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = append(e.listeners, l)
}

// Status returns the current sync status. Never blocks on a round.
func (e *Engine) Status() Status {
	e.mu.Lock()
	online := e.online
	syncing := e.syncing
	e.mu.Unlock()

	state, _, resetAt := e.breaker.Status()

	s := Status{
		IsOnline:     online,
		PendingCount: e.cache.PendingCount(),
		LastSyncAt:   e.cache.Snapshot().LastSyncAt,
		CircuitOpen:  state != breaker.Closed,
		Syncing:      syncing,
	}
	if !resetAt.IsZero() {
		s.NextRetryAt = resetAt.UnixMilli()
	}
	return s
}

// trySync runs one sync round if none is in flight and the circuit allows
// it. Overlapping triggers are dropped.
func (e *Engine) trySync(ctx context.Context, trigger Trigger) {
	e.mu.Lock()
	if e.closed || e.syncing {
		e.mu.Unlock()
		return
	}
	if !e.breaker.Allow() {
		e.mu.Unlock()
		return
	}
	e.syncing = true
	e.mu.Unlock()

	started := schema.NowMillis()
	flushed, err := e.runRound(ctx)
	finished := schema.NowMillis()

	unreachable := errors.Is(err, netfs.ErrUnreachable)

	e.mu.Lock()
	e.syncing = false
	e.online = !unreachable
	e.mu.Unlock()

	if err != nil {
		e.config.Logger.Printf("Sync round failed (%s): %v", trigger, err)
		e.breaker.RecordFailure()
		e.recordHistory(history.Round{
			StartedAt:  started,
			FinishedAt: finished,
			Trigger:    string(trigger),
			Outcome:    history.OutcomeFailure,
			Error:      err.Error(),
		})
	} else {
		e.breaker.RecordSuccess()
		e.recordHistory(history.Round{
			StartedAt:      started,
			FinishedAt:     finished,
			Trigger:        string(trigger),
			Outcome:        history.OutcomeSuccess,
			PendingFlushed: flushed,
		})
	}

	e.notify()
}

// runRound executes one sync round: acquire the lock, read the shared
// snapshot, reconcile, write back if local intent exists, update the local
// cache, release. Returns the number of pending changes flushed.
func (e *Engine) runRound(ctx context.Context) (flushed int, err error) {
	if err := e.lock.Acquire(ctx); err != nil {
		return 0, err
	}
	defer func() {
		if relErr := e.lock.Release(); relErr != nil {
			e.config.Logger.Printf("Warning: failed to release lock: %v", relErr)
		}
	}()

	snap, err := e.store.Read()
	if err != nil {
		return 0, err
	}

	local := e.cache.Snapshot()
	applied := local.PendingChanges
	now := schema.NowMillis()

	if len(applied) > 0 {
		merged := &shared.Snapshot{
			Tasks: merge.Records(local.Tasks, snap.Tasks, local.PendingFor(schema.TableTasks)),
			Notes: merge.Records(local.Notes, snap.Notes, local.PendingFor(schema.TableNotes)),
		}
		if err := e.store.Write(merged, now); err != nil {
			return 0, err
		}
		e.adopt(merged.Tasks, merged.Notes, applied, now)
		flushed = len(applied)
	} else {
		// Nothing local to push: adopt the shared snapshot as-is.
		e.adopt(snap.Tasks, snap.Notes, nil, now)
	}

	if err := e.cfg.SetLastSyncAt(now); err != nil {
		e.config.Logger.Printf("Warning: failed to persist last sync time: %v", err)
	}
	return flushed, nil
}

// adopt installs the reconciled record set into the local cache, clears the
// pending changes this round incorporated, and stamps the sync time.
//
// Pending entries queued after the round captured its snapshot are kept for
// the next round, and the local versions of their records take precedence
// over the incoming set so the unsynced intent is not clobbered in between.
func (e *Engine) adopt(tasks []schema.Task, notes []schema.Note, applied []schema.PendingChange, now int64) {
	appliedIDs := make(map[string]bool, len(applied))
	for _, c := range applied {
		appliedIDs[c.ID] = true
	}

	e.cache.Mutate(func(s *cache.State) {
		kept := make([]schema.PendingChange, 0, len(s.PendingChanges))
		for _, c := range s.PendingChanges {
			if !appliedIDs[c.ID] {
				kept = append(kept, c)
			}
		}

		keptTasks := make(map[string]schema.PendingChange)
		keptNotes := make(map[string]schema.PendingChange)
		for _, c := range kept {
			switch c.Table {
			case schema.TableTasks:
				keptTasks[c.RecordID] = c
			case schema.TableNotes:
				keptNotes[c.RecordID] = c
			}
		}

		s.Tasks = overrideKept(tasks, s.Tasks, keptTasks)
		s.Notes = overrideKept(notes, s.Notes, keptNotes)
		s.PendingChanges = kept
		s.LastSyncAt = now
	})
}

// overrideKept adopts the incoming record set wholesale, then reapplies the
// local versions (or omissions) of records that still carry pending intent.
func overrideKept[T schema.Record](incoming, current []T, kept map[string]schema.PendingChange) []T {
	if len(kept) == 0 {
		return incoming
	}

	byID := make(map[string]T, len(incoming))
	for _, r := range incoming {
		byID[r.RecordID()] = r
	}
	currentByID := make(map[string]T, len(current))
	for _, r := range current {
		currentByID[r.RecordID()] = r
	}

	for id, change := range kept {
		if change.Operation == schema.OpDelete {
			delete(byID, id)
			continue
		}
		if cur, ok := currentByID[id]; ok {
			byID[id] = cur
		} else {
			delete(byID, id)
		}
	}

	out := make([]T, 0, len(byID))
	for _, r := range byID {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RecordID() < out[j].RecordID() })
	return out
}

// recordHistory persists the round outcome; pure telemetry, never fatal.
func (e *Engine) recordHistory(r history.Round) {
	if e.hist == nil {
		return
	}
	if err := e.hist.Record(r); err != nil {
		e.config.Logger.Printf("Warning: failed to record sync history: %v", err)
	}
}

// notify delivers the current status to every listener, synchronously and in
// subscription order.
func (e *Engine) notify() {
	e.mu.Lock()
	listeners := append([]StatusListener(nil), e.listeners...)
	e.mu.Unlock()

	status := e.Status()
	for _, l := range listeners {
		l(status)
	}
}
