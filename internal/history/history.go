// Package history records the outcome of every sync round in a per-machine
// SQLite database, giving the user (and the doctor-style tooling built on
// top) a queryable log of what the engine has been doing.
//
// The database is machine-local and advisory: failures to record history are
// logged by callers and never affect the sync round itself.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Outcome values for a recorded round.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeSkipped = "skipped"
)

// Round is one recorded sync round.
type Round struct {
	ID             int64
	StartedAt      int64 // millis
	FinishedAt     int64 // millis
	Trigger        string
	Outcome        string
	Error          string
	PendingFlushed int
}

// DB wraps the history database connection.
type DB struct {
	conn *sql.DB
	path string
}

// Open creates or opens the history database at path and ensures the schema
// exists. The caller must Close it when done.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping history database: %w", err)
	}

	db := &DB{conn: conn, path: path}
	if err := db.initSchema(); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return db, nil
}

func (db *DB) initSchema() error {
	const schemaSQL = `
CREATE TABLE IF NOT EXISTS sync_rounds (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    started_at      INTEGER NOT NULL,
    finished_at     INTEGER NOT NULL,
    trigger_kind    TEXT    NOT NULL DEFAULT '',
    outcome         TEXT    NOT NULL,
    error           TEXT    NOT NULL DEFAULT '',
    pending_flushed INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_sync_rounds_started ON sync_rounds(started_at);
`
	if _, err := db.conn.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to initialize history schema: %w", err)
	}
	return nil
}

// Record inserts one round.
func (db *DB) Record(r Round) error {
	_, err := db.conn.Exec(
		`INSERT INTO sync_rounds (started_at, finished_at, trigger_kind, outcome, error, pending_flushed)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		r.StartedAt, r.FinishedAt, r.Trigger, r.Outcome, r.Error, r.PendingFlushed,
	)
	if err != nil {
		return fmt.Errorf("failed to record sync round: %w", err)
	}
	return nil
}

// Recent returns up to limit rounds, newest first.
func (db *DB) Recent(limit int) ([]Round, error) {
	rows, err := db.conn.Query(
		`SELECT id, started_at, finished_at, trigger_kind, outcome, error, pending_flushed
		 FROM sync_rounds ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync rounds: %w", err)
	}
	defer rows.Close()

	var out []Round
	for rows.Next() {
		var r Round
		if err := rows.Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &r.Trigger, &r.Outcome, &r.Error, &r.PendingFlushed); err != nil {
			return nil, fmt.Errorf("failed to scan sync round: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// DefaultPath returns the default history database location inside dir.
func DefaultPath(dir string) string {
	return filepath.Join(dir, "history.db")
}
