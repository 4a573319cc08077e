package history

import (
	"path/filepath"
	"testing"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestRecordAndRecent(t *testing.T) {
	db := openTestDB(t)

	rounds := []Round{
		{StartedAt: 1000, FinishedAt: 1050, Trigger: "manual", Outcome: OutcomeSuccess, PendingFlushed: 3},
		{StartedAt: 2000, FinishedAt: 2010, Trigger: "interval", Outcome: OutcomeFailure, Error: "shared folder unreachable"},
		{StartedAt: 3000, FinishedAt: 3005, Trigger: "debounced", Outcome: OutcomeSuccess, PendingFlushed: 1},
	}
	for _, r := range rounds {
		if err := db.Record(r); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	got, err := db.Recent(10)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 rounds, got %d", len(got))
	}

	// Newest first.
	if got[0].StartedAt != 3000 || got[2].StartedAt != 1000 {
		t.Errorf("rounds not ordered newest first: %v, %v, %v",
			got[0].StartedAt, got[1].StartedAt, got[2].StartedAt)
	}
	if got[1].Outcome != OutcomeFailure || got[1].Error != "shared folder unreachable" {
		t.Errorf("failure round not preserved: outcome=%q error=%q", got[1].Outcome, got[1].Error)
	}
	if got[2].PendingFlushed != 3 {
		t.Errorf("expected PendingFlushed=3, got %d", got[2].PendingFlushed)
	}
}

func TestRecentLimit(t *testing.T) {
	db := openTestDB(t)

	for i := int64(0); i < 5; i++ {
		if err := db.Record(Round{StartedAt: 1000 + i, FinishedAt: 1001 + i, Trigger: "interval", Outcome: OutcomeSuccess}); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	got, err := db.Recent(2)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 rounds, got %d", len(got))
	}
	if got[0].StartedAt != 1004 {
		t.Errorf("expected newest round first, got StartedAt=%d", got[0].StartedAt)
	}
}

func TestRecentEmpty(t *testing.T) {
	db := openTestDB(t)

	got, err := db.Recent(10)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no rounds, got %d", len(got))
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")

	db, err := Open(path)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	if err := db.Record(Round{StartedAt: 1, FinishedAt: 2, Trigger: "manual", Outcome: OutcomeSuccess}); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	db2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer db2.Close()

	got, err := db2.Recent(10)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("expected 1 round after reopen, got %d", len(got))
	}
}
