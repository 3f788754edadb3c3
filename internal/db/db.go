// Package db provides the SQLite connection and schema for motiond.
package db

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite database connection
type DB struct {
	*sql.DB
}

// Open opens the database and initializes the schema
func Open(dbPath string) (*DB, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &DB{db}, nil
}

// initSchema creates all required tables
func initSchema(db *sql.DB) error {
	// Event history - append-only record of motion events, phase
	// transitions and send failures, for auditing only. Controller state
	// is never restored from it.
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS event_history (
			id TEXT PRIMARY KEY,
			event_type TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			payload TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_history_type_ts ON event_history(event_type, timestamp);
		CREATE INDEX IF NOT EXISTS idx_history_ts ON event_history(timestamp);
	`)
	if err != nil {
		return fmt.Errorf("failed to create event_history table: %w", err)
	}

	return nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.DB.Close()
}
