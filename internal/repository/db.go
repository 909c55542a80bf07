package repository

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// InitDB opens (or creates) a SQLite database at the given path and ensures
// all required tables exist. Pass ":memory:" for an in-memory database.
func InitDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// Every connection to ":memory:" is a separate database.
	if dsn == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set wal mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	return db, nil
}

func createTables(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			username TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			email TEXT NOT NULL UNIQUE,
			phone TEXT NOT NULL DEFAULT '',
			role TEXT NOT NULL DEFAULT 'USER',
			is_deleted INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS receipts (
			id TEXT PRIMARY KEY,
			external_id TEXT UNIQUE,
			sender_name TEXT,
			amount REAL CHECK (amount IS NULL OR amount >= 0),
			date TEXT,
			confirmation_code TEXT,
			commission REAL NOT NULL DEFAULT 0 CHECK (commission >= 0 AND commission <= 100),
			memo TEXT,
			is_deleted INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_receipts_date ON receipts(date)`,
		`CREATE INDEX IF NOT EXISTS idx_receipts_confirmation_code ON receipts(confirmation_code)`,
		`CREATE INDEX IF NOT EXISTS idx_receipts_created_at ON receipts(created_at)`,

		`CREATE TABLE IF NOT EXISTS confirmations (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			code TEXT NOT NULL,
			is_deleted INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			FOREIGN KEY (user_id) REFERENCES users(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_confirmations_user ON confirmations(user_id)`,
		// At most one active confirmation per code; deleted ones may repeat.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_confirmations_active_code
			ON confirmations(code) WHERE is_deleted = 0`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", firstLine(stmt), err)
		}
	}

	return nil
}

func firstLine(s string) string {
	for i, c := range s {
		if c == '\n' {
			return s[:i]
		}
	}
	return s
}
