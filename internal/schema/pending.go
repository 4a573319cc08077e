package schema

import "fmt"

// Operation is the kind of local mutation a pending change records.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Valid reports whether the operation is a known value.
func (op Operation) Valid() bool {
	return op == OpCreate || op == OpUpdate || op == OpDelete
}

// PendingChange is a queued, not-yet-reconciled local mutation intent for one
// record. At most one entry exists per (table, record) pair: a newer change
// replaces the older one, so a burst of edits coalesces into a single
// outbound operation.
type PendingChange struct {
	ID        string    `json:"id"`
	Table     Table     `json:"table"`
	RecordID  string    `json:"record_id"`
	Operation Operation `json:"operation"`
	Timestamp int64     `json:"timestamp"`
}

// Key returns the coalescing key: one pending change per (table, record).
func (c PendingChange) Key() string {
	return fmt.Sprintf("%s/%s", c.Table, c.RecordID)
}

// Validate checks the pending change's field values.
func (c *PendingChange) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("id is required")
	}
	if !c.Table.Valid() {
		return fmt.Errorf("unknown table %q", c.Table)
	}
	if c.RecordID == "" {
		return fmt.Errorf("record_id is required")
	}
	if !c.Operation.Valid() {
		return fmt.Errorf("unknown operation %q", c.Operation)
	}
	return nil
}
