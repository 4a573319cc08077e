// Package service is the boundary between the sync engine and the excluded
// UI/IPC layer: record CRUD, sync status, and change notification.
//
// Mutations write synchronously to the local cache, queue a pending change,
// and arm the engine's debounced sync. Reads always answer immediately from
// the cache, even while a sync round is in flight or failing. Validation
// errors are rejected before touching storage and are the only errors a
// caller ever sees from a mutation; durability problems degrade to in-memory
// operation and show up in sync status instead.
package service

import (
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/mkrause/deskpad/internal/cache"
	"github.com/mkrause/deskpad/internal/engine"
	"github.com/mkrause/deskpad/internal/schema"
)

// ErrNotFound is returned when an update targets a record that does not
// exist in the local cache.
var ErrNotFound = errors.New("record not found")

// ValidationError rejects malformed input before it reaches storage.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + e.Reason
}

// Observer receives a synchronous notification after every completed
// mutation. Notifications are delivered in registration order.
type Observer interface {
	RecordsChanged(table schema.Table)
}

// Scheduler is the slice of the sync engine the service needs.
type Scheduler interface {
	ScheduleDebounced()
	TriggerSync()
	ResetBreaker()
	Status() engine.Status
}

// TaskParams carries the mutable fields of a task.
type TaskParams struct {
	Title     string
	Body      string
	Category  schema.Category
	Completed bool
	DueAt     *int64
}

// NoteParams carries the mutable fields of a note.
type NoteParams struct {
	Title    string
	Body     string
	Category schema.Category
}

// Service exposes the record and sync operations consumed by the UI layer.
type Service struct {
	cache  *cache.Store
	sched  Scheduler
	logger *log.Logger

	mu        sync.Mutex
	observers []Observer
}

// New creates a Service. If logger is nil, a default stderr logger is used.
func New(cacheStore *cache.Store, sched Scheduler, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.New(os.Stderr, "[service] ", log.LstdFlags)
	}
	return &Service{
		cache:  cacheStore,
		sched:  sched,
		logger: logger,
	}
}

// RegisterObserver adds an observer. Duplicate registrations are ignored.
func (s *Service) RegisterObserver(o Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.observers {
		if existing == o {
			return
		}
	}
	s.observers = append(s.observers, o)
}

// UnregisterObserver removes an observer.
func (s *Service) UnregisterObserver(o Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.observers {
		if existing == o {
			s.observers = append(s.observers[:i], s.observers[i+1:]...)
			return
		}
	}
}

// notifyChanged delivers a changed notification, synchronously and in
// registration order.
func (s *Service) notifyChanged(table schema.Table) {
	s.mu.Lock()
	observers := append([]Observer(nil), s.observers...)
	s.mu.Unlock()

	for _, o := range observers {
		o.RecordsChanged(table)
	}
}

// ListTasks returns all tasks, most recently updated first.
func (s *Service) ListTasks() []schema.Task {
	tasks := s.cache.Snapshot().Tasks
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].UpdatedAt > tasks[j].UpdatedAt })
	return tasks
}

// ListNotes returns all notes, most recently updated first.
func (s *Service) ListNotes() []schema.Note {
	notes := s.cache.Snapshot().Notes
	sort.Slice(notes, func(i, j int) bool { return notes[i].UpdatedAt > notes[j].UpdatedAt })
	return notes
}

// CreateTask validates and stores a new task, queues its pending change, and
// arms the debounced sync.
func (s *Service) CreateTask(p TaskParams) (*schema.Task, error) {
	task := schema.Task{
		ID:        uuid.NewString(),
		Title:     strings.TrimSpace(p.Title),
		Body:      p.Body,
		Category:  p.Category,
		Completed: p.Completed,
		DueAt:     p.DueAt,
	}
	task.SetDefaults()
	if err := task.Validate(); err != nil {
		return nil, &ValidationError{Reason: err.Error()}
	}

	s.applyMutation(schema.TableTasks, task.ID, schema.OpCreate, func(st *cache.State) {
		st.Tasks = append(st.Tasks, task)
	})
	return &task, nil
}

// UpdateTask validates and applies new field values to an existing task.
func (s *Service) UpdateTask(id string, p TaskParams) (*schema.Task, error) {
	snapshot := s.cache.Snapshot()
	existing := snapshot.FindTask(id)
	if existing == nil {
		return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}

	updated := *existing
	updated.Title = strings.TrimSpace(p.Title)
	updated.Body = p.Body
	updated.Category = p.Category
	updated.Completed = p.Completed
	updated.DueAt = p.DueAt
	updated.Touch()
	if err := updated.Validate(); err != nil {
		return nil, &ValidationError{Reason: err.Error()}
	}

	s.applyMutation(schema.TableTasks, id, schema.OpUpdate, func(st *cache.State) {
		if t := st.FindTask(id); t != nil {
			*t = updated
		}
	})
	return &updated, nil
}

// DeleteTask removes a task and queues a pending delete. Deleting a task
// that does not exist is a no-op; the delete intent is still recorded so a
// copy lingering in the shared snapshot is omitted on the next merge.
func (s *Service) DeleteTask(id string) {
	s.applyMutation(schema.TableTasks, id, schema.OpDelete, func(st *cache.State) {
		for i := range st.Tasks {
			if st.Tasks[i].ID == id {
				st.Tasks = append(st.Tasks[:i], st.Tasks[i+1:]...)
				break
			}
		}
	})
}

// CreateNote validates and stores a new note.
func (s *Service) CreateNote(p NoteParams) (*schema.Note, error) {
	note := schema.Note{
		ID:       uuid.NewString(),
		Title:    strings.TrimSpace(p.Title),
		Body:     p.Body,
		Category: p.Category,
	}
	note.SetDefaults()
	if err := note.Validate(); err != nil {
		return nil, &ValidationError{Reason: err.Error()}
	}

	s.applyMutation(schema.TableNotes, note.ID, schema.OpCreate, func(st *cache.State) {
		st.Notes = append(st.Notes, note)
	})
	return &note, nil
}

// UpdateNote validates and applies new field values to an existing note.
func (s *Service) UpdateNote(id string, p NoteParams) (*schema.Note, error) {
	snapshot := s.cache.Snapshot()
	existing := snapshot.FindNote(id)
	if existing == nil {
		return nil, fmt.Errorf("note %s: %w", id, ErrNotFound)
	}

	updated := *existing
	updated.Title = strings.TrimSpace(p.Title)
	updated.Body = p.Body
	updated.Category = p.Category
	updated.Touch()
	if err := updated.Validate(); err != nil {
		return nil, &ValidationError{Reason: err.Error()}
	}

	s.applyMutation(schema.TableNotes, id, schema.OpUpdate, func(st *cache.State) {
		if n := st.FindNote(id); n != nil {
			*n = updated
		}
	})
	return &updated, nil
}

// DeleteNote removes a note and queues a pending delete.
func (s *Service) DeleteNote(id string) {
	s.applyMutation(schema.TableNotes, id, schema.OpDelete, func(st *cache.State) {
		for i := range st.Notes {
			if st.Notes[i].ID == id {
				st.Notes = append(st.Notes[:i], st.Notes[i+1:]...)
				break
			}
		}
	})
}

// applyMutation runs the record update and the pending-change upsert as one
// cache mutation, arms the debounced sync, and notifies observers. A persist
// failure is logged; the mutation stands in memory either way.
func (s *Service) applyMutation(table schema.Table, recordID string, op schema.Operation, update func(*cache.State)) {
	result := s.cache.Mutate(func(st *cache.State) {
		update(st)
		st.UpsertPending(schema.PendingChange{
			ID:        uuid.NewString(),
			Table:     table,
			RecordID:  recordID,
			Operation: op,
			Timestamp: schema.NowMillis(),
		})
	})
	if result == cache.PersistFailed {
		s.logger.Printf("Warning: %s %s/%s not persisted, continuing in memory", op, table, recordID)
	}

	s.sched.ScheduleDebounced()
	s.notifyChanged(table)
}

// SyncStatus returns the engine's current status.
func (s *Service) SyncStatus() engine.Status {
	return s.sched.Status()
}

// TriggerSync requests an immediate sync round. The circuit breaker still
// applies.
func (s *Service) TriggerSync() {
	s.sched.TriggerSync()
}

// ResetCircuitBreaker forces the circuit closed and retries immediately.
func (s *Service) ResetCircuitBreaker() {
	s.sched.ResetBreaker()
}
