// Package audit persists a record of connection lifecycle and
// authentication events — never event payloads or subscription state,
// which the protocol explicitly does not persist across restarts. It is
// an optional adapter: a server run without an audit path configured
// never touches this package.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Kind enumerates the connection-lifecycle events this store records.
type Kind string

const (
	KindConnected        Kind = "connected"
	KindAuthenticated    Kind = "authenticated"
	KindAuthFailed       Kind = "auth_failed"
	KindClosed           Kind = "closed"
	KindMethodNotAllowed Kind = "method_not_allowed"
)

// Record is one audit entry.
type Record struct {
	Timestamp    time.Time
	ConnectionID string
	Kind         Kind
	Detail       string
}

// Store is a sqlite-backed append-only log of Records.
type Store struct {
	db *sql.DB
}

// Open creates or reuses a sqlite database at path and ensures its
// schema exists. path may be ":memory:" for ephemeral/test use.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("audit: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite is not safe for concurrent writers

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS connection_events (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp     TEXT    NOT NULL,
			connection_id TEXT    NOT NULL,
			kind          TEXT    NOT NULL,
			detail        TEXT    NOT NULL DEFAULT ''
		)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("audit: create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Append inserts one connection-lifecycle record.
func (s *Store) Append(ctx context.Context, rec Record) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO connection_events (timestamp, connection_id, kind, detail) VALUES (?, ?, ?, ?)`,
		rec.Timestamp.UTC().Format(time.RFC3339Nano), rec.ConnectionID, string(rec.Kind), rec.Detail,
	)
	if err != nil {
		return fmt.Errorf("audit: append: %w", err)
	}
	return nil
}

// Recent returns the last n records, newest first.
func (s *Store) Recent(ctx context.Context, n int) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT timestamp, connection_id, kind, detail FROM connection_events ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("audit: recent: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var ts, kind string
		if err := rows.Scan(&ts, &rec.ConnectionID, &kind, &rec.Detail); err != nil {
			return nil, fmt.Errorf("audit: scan: %w", err)
		}
		rec.Timestamp, err = time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("audit: parse timestamp: %w", err)
		}
		rec.Kind = Kind(kind)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ForConnection returns every record for a single connection, oldest
// first — the full lifecycle of one socket from accept to close.
func (s *Store) ForConnection(ctx context.Context, connectionID string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT timestamp, connection_id, kind, detail FROM connection_events WHERE connection_id = ? ORDER BY id ASC`,
		connectionID)
	if err != nil {
		return nil, fmt.Errorf("audit: for connection: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var ts, kind string
		if err := rows.Scan(&ts, &rec.ConnectionID, &kind, &rec.Detail); err != nil {
			return nil, fmt.Errorf("audit: scan: %w", err)
		}
		rec.Timestamp, err = time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("audit: parse timestamp: %w", err)
		}
		rec.Kind = Kind(kind)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
