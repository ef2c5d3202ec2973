// Package persistence archives research findings and the run journal in a
// per-session SQLite database. The archive is never authoritative for unit
// status; backlog.json is.
package persistence

import (
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite" // SQLite driver

	"prpipe/pkg/logx"
)

// DB wraps one session's journal database. Open one instance per session
// directory; SQLite allows a single writer, so the connection pool is pinned
// to one connection.
type DB struct {
	db  *sql.DB
	log *logx.Logger

	mu     sync.Mutex
	ch     chan *Request
	done   chan struct{}
	closed bool
}

// Open opens (creating if needed) the journal database at path and brings
// the schema up to the current version.
func Open(path string) (*DB, error) {
	sqldb, err := sql.Open("sqlite", fmt.Sprintf(
		"file:%s?_foreign_keys=ON&_journal_mode=WAL&_busy_timeout=5000",
		path,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to open journal database: %w", err)
	}

	if err := sqldb.Ping(); err != nil {
		_ = sqldb.Close()
		return nil, fmt.Errorf("failed to ping journal database: %w", err)
	}

	if err := initSchema(sqldb); err != nil {
		_ = sqldb.Close()
		return nil, fmt.Errorf("failed to initialize journal schema: %w", err)
	}

	// SQLite only supports one writer.
	sqldb.SetMaxOpenConns(1)
	sqldb.SetMaxIdleConns(1)

	d := &DB{
		db:  sqldb,
		log: logx.NewLogger("persistence"),
	}
	d.log.Debug("journal database ready: %s", path)
	return d, nil
}

// Close stops the background writer, draining queued requests, and closes
// the database. Safe to call more than once.
func (d *DB) Close() error {
	d.StopWriter()

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true

	if err := d.db.Close(); err != nil {
		return fmt.Errorf("failed to close journal database: %w", err)
	}
	return nil
}
