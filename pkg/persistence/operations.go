package persistence

import (
	"database/sql"
	"fmt"
	"time"

	"prpipe/pkg/utils"
)

// Request is one operation for the background writer. Response is nil for
// fire-and-forget writes and carries the query result otherwise.
type Request struct {
	Data      any
	Response  chan<- any
	Operation string
}

// Operation constants for Request.
const (
	// Write operations (fire-and-forget).
	OpUpsertResearch = "upsert_research"
	OpAppendJournal  = "append_journal"

	// Query operations (with response).
	OpGetResearch = "get_research"
)

// RecordResearch inserts or replaces the archived findings for a unit. A
// zero Tokens field is filled from an estimate over the content.
func (d *DB) RecordResearch(rec *ResearchRecord) error {
	if rec.UnitID == "" {
		return fmt.Errorf("failed to record research: empty unit id")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if rec.Tokens == 0 {
		rec.Tokens = utils.EstimateTokens(rec.Content)
	}

	query := `
		INSERT INTO research (unit_id, content, tokens, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(unit_id) DO UPDATE SET
			content = excluded.content,
			tokens = excluded.tokens,
			created_at = excluded.created_at
	`
	if _, err := d.db.Exec(query, rec.UnitID, rec.Content, rec.Tokens, rec.CreatedAt); err != nil {
		return fmt.Errorf("failed to record research for %s: %w", rec.UnitID, err)
	}
	return nil
}

// GetResearch returns the archived findings for a unit. The error wraps
// sql.ErrNoRows when nothing was archived.
func (d *DB) GetResearch(unitID string) (*ResearchRecord, error) {
	rec := &ResearchRecord{}
	query := `SELECT unit_id, content, tokens, created_at FROM research WHERE unit_id = ?`
	err := d.db.QueryRow(query, unitID).Scan(&rec.UnitID, &rec.Content, &rec.Tokens, &rec.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get research for %s: %w", unitID, err)
	}
	return rec, nil
}

// AppendJournal appends one run event. A missing ID or CreatedAt is filled
// in; the kind must be one of ValidKinds.
func (d *DB) AppendJournal(entry *JournalEntry) error {
	if !IsValidKind(entry.Kind) {
		return fmt.Errorf("failed to append journal entry: invalid kind %q", entry.Kind)
	}
	if entry.ID == "" {
		entry.ID = GenerateEntryID()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	query := `INSERT INTO journal (id, unit_id, kind, detail, created_at) VALUES (?, ?, ?, ?, ?)`
	if _, err := d.db.Exec(query, entry.ID, entry.UnitID, entry.Kind, entry.Detail, entry.CreatedAt); err != nil {
		return fmt.Errorf("failed to append journal entry %s: %w", entry.ID, err)
	}
	return nil
}

// JournalEntries returns run events in append order, all of them for an
// empty unitID or the given unit's otherwise.
func (d *DB) JournalEntries(unitID string) ([]*JournalEntry, error) {
	query := `SELECT id, unit_id, kind, detail, created_at FROM journal ORDER BY rowid`
	args := []any{}
	if unitID != "" {
		query = `SELECT id, unit_id, kind, detail, created_at FROM journal WHERE unit_id = ? ORDER BY rowid`
		args = append(args, unitID)
	}

	rows, err := d.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query journal: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []*JournalEntry
	for rows.Next() {
		entry := &JournalEntry{}
		var detail sql.NullString
		if err := rows.Scan(&entry.ID, &entry.UnitID, &entry.Kind, &detail, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan journal entry: %w", err)
		}
		entry.Detail = detail.String
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read journal rows: %w", err)
	}
	return entries, nil
}
