package persistence

import (
	"database/sql"
	"fmt"
)

// schemaVersion is tracked through PRAGMA user_version so reopening an
// existing journal is a no-op and a journal written by a newer build fails
// loudly instead of being rewritten.
const schemaVersion = 1

func initSchema(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	if version == schemaVersion {
		return nil
	}
	if version > schemaVersion {
		return fmt.Errorf("journal schema version %d is newer than supported version %d", version, schemaVersion)
	}

	tables := []string{
		`CREATE TABLE IF NOT EXISTS research (
			unit_id TEXT PRIMARY KEY,
			content TEXT NOT NULL,
			tokens INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS journal (
			id TEXT PRIMARY KEY,
			unit_id TEXT NOT NULL,
			kind TEXT NOT NULL CHECK (kind IN ('unit_started','unit_complete','unit_failed','flush','session_forked')),
			detail TEXT,
			created_at DATETIME NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_journal_unit ON journal(unit_id)`,
		`CREATE INDEX IF NOT EXISTS idx_journal_kind ON journal(kind)`,
	}

	for _, stmt := range tables {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create journal schema: %w", err)
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return fmt.Errorf("failed to set schema version: %w", err)
	}
	return nil
}
