// Package sqlite implements the repository interfaces on SQLite.
//
// The driver is modernc.org/sqlite — a pure-Go translation of SQLite, so the
// binary cross-compiles without CGo. WAL mode lets verification reads proceed
// while an upsert is committing, which matters because progress snapshots are
// recomputed on every read.
//
// Natural-key uniqueness lives here, in the schema: the UNIQUE constraints on
// social_accounts and verification_records plus `INSERT … ON CONFLICT DO
// UPDATE` are what make concurrent verifications for the same key collapse to
// one row instead of two.
package sqlite

import (
	"database/sql"
	"fmt"

	// Registers the "sqlite" driver with database/sql at init time.
	_ "modernc.org/sqlite"
)

// DB wraps a sql.DB connection pool and implements repository.Store.
type DB struct {
	conn *sql.DB
}

// New opens (or creates) the database at dbPath and runs migrations.
// Use ":memory:" for tests.
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}

	// SQLite allows a single writer. One pooled connection serializes writes
	// at the pool instead of surfacing SQLITE_BUSY to racing upserts, and it
	// keeps ":memory:" databases from splitting across connections in tests.
	conn.SetMaxOpenConns(1)

	// Surface a bad path or permissions problem now, not on the first query.
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	// WAL allows concurrent reads while a write is in flight.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting WAL mode: %w", err)
	}

	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: enabling foreign keys: %w", err)
	}

	db := &DB{conn: conn}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

// Close closes the connection pool. Callers should defer this right after New.
func (db *DB) Close() error {
	return db.conn.Close()
}

// migrate creates the schema. CREATE TABLE IF NOT EXISTS keeps this safe to
// run on every start.
func (db *DB) migrate() error {
	// Linked platform identities. One row per (user, platform).
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS social_accounts (
			id                TEXT PRIMARY KEY,
			user_id           TEXT NOT NULL,
			platform          TEXT NOT NULL,
			platform_user_id  TEXT NOT NULL,
			platform_username TEXT NOT NULL DEFAULT '',
			access_token      TEXT NOT NULL DEFAULT '',
			refresh_token     TEXT NOT NULL DEFAULT '',
			token_expires_at  DATETIME,
			profile_data      TEXT NOT NULL DEFAULT '',
			created_at        DATETIME NOT NULL,
			updated_at        DATETIME NOT NULL,
			UNIQUE (user_id, platform)
		);
		CREATE INDEX IF NOT EXISTS idx_social_accounts_user ON social_accounts(user_id);
	`)
	if err != nil {
		return fmt.Errorf("creating social_accounts table: %w", err)
	}

	// Task outcomes — the single source of truth for completion.
	// The UNIQUE constraint is the concurrency control: racing upserts on the
	// same (user, raffle, task) resolve to one row.
	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS verification_records (
			id                   TEXT PRIMARY KEY,
			user_id              TEXT NOT NULL,
			raffle_id            TEXT NOT NULL,
			task_type            TEXT NOT NULL,
			platform             TEXT NOT NULL,
			status               TEXT NOT NULL,
			verification_details TEXT NOT NULL DEFAULT '',
			created_at           DATETIME NOT NULL,
			updated_at           DATETIME NOT NULL,
			completed_at         DATETIME,
			UNIQUE (user_id, raffle_id, task_type)
		);
		CREATE INDEX IF NOT EXISTS idx_verification_records_pair
			ON verification_records(user_id, raffle_id);
	`)
	if err != nil {
		return fmt.Errorf("creating verification_records table: %w", err)
	}

	// One outstanding Telegram code per user; a new initiate replaces the row.
	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS pending_verification_codes (
			user_id           TEXT PRIMARY KEY,
			code              TEXT NOT NULL,
			telegram_username TEXT NOT NULL DEFAULT '',
			expires_at        DATETIME NOT NULL,
			verified          INTEGER NOT NULL DEFAULT 0,
			created_at        DATETIME NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("creating pending_verification_codes table: %w", err)
	}

	// Append-only event log. seq (rowid alias) breaks created_at ties so the
	// per-pair emission order is total. The partial unique index makes
	// all_completed once-per-pair at the schema level: two racing appends
	// resolve to one row, the loser's insert is a no-op.
	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS verification_events (
			seq        INTEGER PRIMARY KEY AUTOINCREMENT,
			id         TEXT NOT NULL UNIQUE,
			user_id    TEXT NOT NULL,
			raffle_id  TEXT NOT NULL,
			event_type TEXT NOT NULL,
			task_type  TEXT NOT NULL DEFAULT '',
			metadata   TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_verification_events_pair
			ON verification_events(user_id, raffle_id, seq);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_verification_events_all_completed
			ON verification_events(user_id, raffle_id)
			WHERE event_type = 'all_completed';
	`)
	if err != nil {
		return fmt.Errorf("creating verification_events table: %w", err)
	}

	return nil
}
