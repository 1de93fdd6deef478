// Package store persists decoded envelopes in a local SQLite database
// for the dashboard's query surface.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/janus-scope/backend/internal/event"
	"github.com/janus-scope/backend/internal/metrics"
)

const schema = `
CREATE TABLE IF NOT EXISTS janus_events (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	type       INTEGER NOT NULL,
	subtype    INTEGER NOT NULL DEFAULT 0,
	emitter    TEXT NOT NULL DEFAULT '',
	timestamp  INTEGER NOT NULL DEFAULT 0,
	session_id INTEGER NOT NULL DEFAULT 0,
	handle_id  INTEGER NOT NULL DEFAULT 0,
	opaque_id  TEXT NOT NULL DEFAULT '',
	payload    TEXT NOT NULL DEFAULT '{}',
	received_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS janus_idx_events_session ON janus_events (session_id, handle_id);
CREATE INDEX IF NOT EXISTS janus_idx_events_type ON janus_events (type);
CREATE INDEX IF NOT EXISTS janus_idx_events_received ON janus_events (received_at);
`

// StoredEvent is one persisted envelope row.
type StoredEvent struct {
	ID         int64           `json:"id"`
	Type       event.Type      `json:"type"`
	Subtype    int             `json:"subtype,omitempty"`
	Emitter    string          `json:"emitter,omitempty"`
	Timestamp  int64           `json:"timestamp,omitempty"`
	SessionID  int64           `json:"session_id,omitempty"`
	HandleID   int64           `json:"handle_id,omitempty"`
	OpaqueID   string          `json:"opaque_id,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	ReceivedAt time.Time       `json:"received_at"`
}

// Store is the SQLite-backed event store. Safe for concurrent use; the
// underlying *sql.DB serializes access.
type Store struct {
	db *sql.DB

	// maxEvents caps retention; older rows are pruned after insert.
	// Zero means unbounded.
	maxEvents int
}

// Open opens (creating if needed) the database at path. Use ":memory:"
// for an ephemeral store.
func Open(path string, maxEvents int) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db, maxEvents: maxEvents}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// BatchInsert writes the envelopes in one transaction.
func (s *Store) BatchInsert(envs []*event.Envelope) error {
	if len(envs) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO janus_events
		(type, subtype, emitter, timestamp, session_id, handle_id, opaque_id, payload, received_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, env := range envs {
		payload, err := json.Marshal(env.Payload())
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		if _, err := stmt.Exec(int(env.Type), env.Subtype, env.Emitter, env.Timestamp,
			env.SessionID, env.HandleID, env.OpaqueID, string(payload), now); err != nil {
			return fmt.Errorf("insert: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	metrics.StoredEvents.Add(float64(len(envs)))

	if s.maxEvents > 0 {
		return s.prune()
	}
	return nil
}

// prune deletes the oldest rows beyond the retention cap.
func (s *Store) prune() error {
	_, err := s.db.Exec(`DELETE FROM janus_events WHERE id <= (
		SELECT id FROM janus_events ORDER BY id DESC LIMIT 1 OFFSET ?)`, s.maxEvents)
	if err != nil {
		return fmt.Errorf("prune: %w", err)
	}
	return nil
}

// Recent returns up to limit events, newest first.
func (s *Store) Recent(limit int) ([]StoredEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`SELECT id, type, subtype, emitter, timestamp, session_id,
		handle_id, opaque_id, payload, received_at
		FROM janus_events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent: %w", err)
	}
	defer rows.Close()

	var out []StoredEvent
	for rows.Next() {
		var ev StoredEvent
		var typ int
		var payload string
		if err := rows.Scan(&ev.ID, &typ, &ev.Subtype, &ev.Emitter, &ev.Timestamp,
			&ev.SessionID, &ev.HandleID, &ev.OpaqueID, &payload, &ev.ReceivedAt); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		ev.Type = event.Type(typ)
		ev.Payload = json.RawMessage(payload)
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate: %w", err)
	}
	return out, nil
}

// Clear purges all stored events.
func (s *Store) Clear() error {
	if _, err := s.db.Exec(`DELETE FROM janus_events`); err != nil {
		return fmt.Errorf("clear: %w", err)
	}
	return nil
}

// Count returns the number of stored events.
func (s *Store) Count() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM janus_events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return n, nil
}
