package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// DB is the event log: daemon lifecycle and per-process lifecycle events,
// append-only, queried by the status surfaces.
type DB struct {
	conn *sql.DB
	path string
}

// Open opens or creates the SQLite database at path.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// WAL keeps the daemon's writes from blocking status readers.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	db := &DB{conn: conn, path: path}
	if err := db.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return db, nil
}

// Close checkpoints the WAL and closes the connection.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}
	db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return db.conn.Close()
}

// Flush forces a WAL checkpoint so pending writes land in the main file.
func (db *DB) Flush() error {
	if db.conn == nil {
		return nil
	}
	_, err := db.conn.Exec("PRAGMA wal_checkpoint(RESTART)")
	return err
}

func (db *DB) initSchema() error {
	schema := `
	-- Engine process lifecycle events
	CREATE TABLE IF NOT EXISTS process_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		process_id INTEGER NOT NULL,
		event_type TEXT NOT NULL,
		details TEXT,
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Daemon lifecycle events
	CREATE TABLE IF NOT EXISTS daemon_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event_type TEXT NOT NULL,
		details TEXT,
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_process_events_timestamp ON process_events(timestamp);
	CREATE INDEX IF NOT EXISTS idx_process_events_pid ON process_events(process_id);
	CREATE INDEX IF NOT EXISTS idx_daemon_events_timestamp ON daemon_events(timestamp);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// ProcessEvent is one engine process lifecycle event.
type ProcessEvent struct {
	ID        int64
	ProcessID int
	EventType string
	Details   string
	Timestamp time.Time
}

// LogProcessEvent records an engine process lifecycle event. Retries
// briefly on SQLITE_BUSY; best effort, the caller should not block on it.
func (db *DB) LogProcessEvent(processID int, eventType, details string) error {
	var err error
	for i := 0; i < 3; i++ {
		_, err = db.conn.Exec(
			`INSERT INTO process_events (process_id, event_type, details, timestamp)
			 VALUES (?, ?, ?, ?)`,
			processID, eventType, details, time.Now(),
		)
		if err == nil {
			return nil
		}
		if !busy(err) {
			return err
		}
		time.Sleep(5 * time.Millisecond)
	}
	return err
}

// LogDaemonEvent records a daemon lifecycle event.
func (db *DB) LogDaemonEvent(eventType, details string) error {
	_, err := db.conn.Exec(
		`INSERT INTO daemon_events (event_type, details, timestamp)
		 VALUES (?, ?, ?)`,
		eventType, details, time.Now(),
	)
	return err
}

// RecentProcessEvents returns the newest events for one process, newest
// first, capped at limit.
func (db *DB) RecentProcessEvents(processID, limit int) ([]ProcessEvent, error) {
	rows, err := db.conn.Query(
		`SELECT id, process_id, event_type, details, timestamp
		 FROM process_events WHERE process_id = ?
		 ORDER BY timestamp DESC, id DESC LIMIT ?`,
		processID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []ProcessEvent
	for rows.Next() {
		var e ProcessEvent
		var details sql.NullString
		if err := rows.Scan(&e.ID, &e.ProcessID, &e.EventType, &details, &e.Timestamp); err != nil {
			return nil, err
		}
		e.Details = details.String
		events = append(events, e)
	}
	return events, rows.Err()
}

func busy(err error) bool {
	return strings.Contains(err.Error(), "database is locked") ||
		strings.Contains(err.Error(), "SQLITE_BUSY")
}
