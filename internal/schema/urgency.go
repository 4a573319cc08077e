package schema

import "time"

// Urgency buckets a task by proximity to its due time.
type Urgency int

const (
	// UrgencyNone means the task has no due time or is already completed.
	UrgencyNone Urgency = iota
	// UrgencyLow means the task is due more than a day out.
	UrgencyLow
	// UrgencyMedium means the task is due within the next day.
	UrgencyMedium
	// UrgencyHigh means the task is due within the next hour, or overdue.
	// Overdue tasks share the top tier rather than getting one of their own.
	UrgencyHigh
)

// String returns a human-readable representation of the urgency tier.
func (u Urgency) String() string {
	switch u {
	case UrgencyLow:
		return "low"
	case UrgencyMedium:
		return "medium"
	case UrgencyHigh:
		return "high"
	default:
		return "none"
	}
}

// TaskUrgency returns the urgency tier for a task at the given time (millis).
func TaskUrgency(t Task, now int64) Urgency {
	if t.Completed || t.DueAt == nil {
		return UrgencyNone
	}
	remaining := *t.DueAt - now
	switch {
	case remaining <= time.Hour.Milliseconds():
		return UrgencyHigh
	case remaining <= 24*time.Hour.Milliseconds():
		return UrgencyMedium
	default:
		return UrgencyLow
	}
}
