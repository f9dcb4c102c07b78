// Package auditlog is a durable, append-only record of session and
// execution lifecycle events, independent of the ephemeral in-memory
// Stream Hub. It exists for operators, not for session state recovery —
// this repository does not restart a session's interpreter across a crash
// (see the Non-goals), so the audit log is never read back to reconstruct
// a Session.
//
// Grounded directly on the teacher's internal/schedule.Store and
// internal/auth.Store: a modernc.org/sqlite (pure-Go driver) database
// opened with WAL mode and a busy timeout, migrated with a single static
// schema on open.
package auditlog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Entry is one row of the audit log.
type Entry struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Event     string    `json:"event"`
	Detail    string    `json:"detail,omitempty"`
	Code      string    `json:"code,omitempty"`
	At        time.Time `json:"at"`
}

// Store is the SQLite-backed audit log.
type Store struct {
	db *sql.DB
}

// Open creates or attaches to the audit database under dataDir.
func Open(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("auditlog: create data dir: %w", err)
	}
	dbPath := filepath.Join(dataDir, "audit.db")
	db, err := sql.Open("sqlite", dbPath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("auditlog: open database: %w", err)
	}
	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("auditlog: migrate: %w", err)
	}
	return store, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS audit_events (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		event TEXT NOT NULL,
		detail TEXT,
		code TEXT,
		at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_audit_session ON audit_events(session_id);
	CREATE INDEX IF NOT EXISTS idx_audit_at ON audit_events(at);
	`)
	return err
}

func (s *Store) Close() error { return s.db.Close() }

// RecordSessionEvent implements session.AuditSink, letting the Session
// Manager log lifecycle transitions without importing this package's
// storage details.
func (s *Store) RecordSessionEvent(sessionID, event, detail string) {
	s.insert(sessionID, event, detail, "")
}

// RecordError logs a taxonomy-coded failure against a session. The HTTP
// layer's error responses (internal/httpapi writeError) do not call it.
func (s *Store) RecordError(sessionID, code, detail string) {
	s.insert(sessionID, "error", detail, code)
}

func (s *Store) insert(sessionID, event, detail, code string) {
	_, _ = s.db.ExecContext(context.Background(),
		`INSERT INTO audit_events (id, session_id, event, detail, code, at) VALUES (?, ?, ?, ?, ?, ?)`,
		"evt_"+uuid.New().String(), sessionID, event, detail, code, time.Now(),
	)
}

// Recent returns the most recent entries for a session, newest first,
// bounded by limit.
func (s *Store) Recent(sessionID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(
		`SELECT id, session_id, event, detail, code, at FROM audit_events WHERE session_id = ? ORDER BY at DESC LIMIT ?`,
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("auditlog: query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var detail, code sql.NullString
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Event, &detail, &code, &e.At); err != nil {
			return nil, fmt.Errorf("auditlog: scan: %w", err)
		}
		e.Detail = detail.String
		e.Code = code.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
