// Package schema defines the record types shared by the cache, merge, and sync
// layers: tasks, notes, and the pending-change entries that track unsynced
// local mutations.
//
// Records are plain data. All timestamps are wall-clock milliseconds so that
// snapshots written by different machines compare directly, and UpdatedAt is
// the sole ordering signal used by the merge engine.
package schema

import (
	"fmt"
	"time"
)

// Table identifies which record collection an entry belongs to.
type Table string

const (
	// TableTasks is the task collection.
	TableTasks Table = "tasks"
	// TableNotes is the note collection.
	TableNotes Table = "notes"
)

// Valid reports whether the table name is one the engine tracks.
func (t Table) Valid() bool {
	return t == TableTasks || t == TableNotes
}

// Category is the user-visible bucket a record lives in.
type Category string

const (
	CategoryInbox    Category = "inbox"
	CategoryActive   Category = "active"
	CategorySomeday  Category = "someday"
	CategoryArchived Category = "archived"
)

// Valid reports whether the category is a known value.
func (c Category) Valid() bool {
	switch c {
	case CategoryInbox, CategoryActive, CategorySomeday, CategoryArchived:
		return true
	}
	return false
}

// Field size limits enforced by Validate. Oversized input is rejected before
// it ever reaches storage.
const (
	MaxTitleLen = 500
	MaxBodyLen  = 64 * 1024
)

// Task is a task-like record. Fields are flat and independently updatable
// with last-write-wins semantics across machines.
type Task struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	Body      string   `json:"body,omitempty"`
	Category  Category `json:"category"`
	Completed bool     `json:"completed"`

	// DueAt is an optional due time in wall-clock milliseconds.
	DueAt *int64 `json:"due_at,omitempty"`

	CreatedAt int64 `json:"created_at"`
	UpdatedAt int64 `json:"updated_at"`

	// IsDeleted is carried in the schema for forward compatibility; deletions
	// are realized by omission from the merged set, driven by pending-change
	// intent, not by readers consulting this flag.
	IsDeleted bool `json:"is_deleted,omitempty"`
}

// Note is a note-like record.
type Note struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	Body      string   `json:"body,omitempty"`
	Category  Category `json:"category"`
	CreatedAt int64    `json:"created_at"`
	UpdatedAt int64    `json:"updated_at"`
	IsDeleted bool     `json:"is_deleted,omitempty"`
}

// Record is the surface the merge engine needs from any record type.
type Record interface {
	RecordID() string
	ModifiedAt() int64
}

// RecordID implements Record.
func (t Task) RecordID() string { return t.ID }

// ModifiedAt implements Record.
func (t Task) ModifiedAt() int64 { return t.UpdatedAt }

// RecordID implements Record.
func (n Note) RecordID() string { return n.ID }

// ModifiedAt implements Record.
func (n Note) ModifiedAt() int64 { return n.UpdatedAt }

// Validate checks the Task's field values.
func (t *Task) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("id is required")
	}
	if t.Title == "" {
		return fmt.Errorf("title is required")
	}
	if len(t.Title) > MaxTitleLen {
		return fmt.Errorf("title must be %d characters or less (got %d)", MaxTitleLen, len(t.Title))
	}
	if len(t.Body) > MaxBodyLen {
		return fmt.Errorf("body must be %d bytes or less (got %d)", MaxBodyLen, len(t.Body))
	}
	if !t.Category.Valid() {
		return fmt.Errorf("unknown category %q", t.Category)
	}
	if t.CreatedAt == 0 {
		return fmt.Errorf("created_at is required")
	}
	if t.UpdatedAt == 0 {
		return fmt.Errorf("updated_at is required")
	}
	return nil
}

// Validate checks the Note's field values.
func (n *Note) Validate() error {
	if n.ID == "" {
		return fmt.Errorf("id is required")
	}
	if n.Title == "" {
		return fmt.Errorf("title is required")
	}
	if len(n.Title) > MaxTitleLen {
		return fmt.Errorf("title must be %d characters or less (got %d)", MaxTitleLen, len(n.Title))
	}
	if len(n.Body) > MaxBodyLen {
		return fmt.Errorf("body must be %d bytes or less (got %d)", MaxBodyLen, len(n.Body))
	}
	if !n.Category.Valid() {
		return fmt.Errorf("unknown category %q", n.Category)
	}
	if n.CreatedAt == 0 {
		return fmt.Errorf("created_at is required")
	}
	if n.UpdatedAt == 0 {
		return fmt.Errorf("updated_at is required")
	}
	return nil
}

// SetDefaults applies default values for optional fields.
func (t *Task) SetDefaults() {
	if t.Category == "" {
		t.Category = CategoryInbox
	}
	now := NowMillis()
	if t.CreatedAt == 0 {
		t.CreatedAt = now
	}
	if t.UpdatedAt == 0 {
		t.UpdatedAt = now
	}
}

// SetDefaults applies default values for optional fields.
func (n *Note) SetDefaults() {
	if n.Category == "" {
		n.Category = CategoryInbox
	}
	now := NowMillis()
	if n.CreatedAt == 0 {
		n.CreatedAt = now
	}
	if n.UpdatedAt == 0 {
		n.UpdatedAt = now
	}
}

// Touch refreshes UpdatedAt. The new value never moves backward, even if the
// wall clock does: rapid successive edits within the same millisecond still
// produce strictly increasing timestamps.
func (t *Task) Touch() {
	t.UpdatedAt = NextTimestamp(t.UpdatedAt)
}

// Touch refreshes UpdatedAt without ever moving it backward.
func (n *Note) Touch() {
	n.UpdatedAt = NextTimestamp(n.UpdatedAt)
}

// NowMillis returns the current wall-clock time in milliseconds.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}

// NextTimestamp returns the current time in milliseconds, bumped past prev if
// the clock has not advanced (or has gone backward) since prev was taken.
func NextTimestamp(prev int64) int64 {
	now := NowMillis()
	if now <= prev {
		return prev + 1
	}
	return now
}
