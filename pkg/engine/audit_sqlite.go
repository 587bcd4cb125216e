// Copyright 2026 © The Westodyssey Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/westodyssey/westodyssey/pkg/core"
)

// SQLiteAuditStore persists audit events in SQLite.
type SQLiteAuditStore struct {
	db    *sql.DB
	owned bool
}

// NewSQLiteAuditStore creates a SQLite-backed audit store and ensures schema.
func NewSQLiteAuditStore(db *sql.DB) (*SQLiteAuditStore, error) {
	if db == nil {
		return nil, errors.New("db is nil")
	}
	if err := ensureAuditSchema(db); err != nil {
		return nil, err
	}
	return &SQLiteAuditStore{db: db}, nil
}

// OpenSQLiteAuditStore opens (or creates) the database at path.
func OpenSQLiteAuditStore(path string) (*SQLiteAuditStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	store, err := NewSQLiteAuditStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	store.owned = true
	return store, nil
}

// Close closes the database when the store opened it.
func (s *SQLiteAuditStore) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}

// Record stores a single audit event.
func (s *SQLiteAuditStore) Record(ctx context.Context, event AuditEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO turn_audit_events (
			session, round, turn, role, agent_id, status, error_text, started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		event.Session,
		event.Round,
		event.Turn,
		string(event.Role),
		event.AgentID,
		event.Status,
		event.Error,
		normalizeAuditTime(event.Started),
		normalizeAuditTime(event.Finished),
	)
	return err
}

// List returns audit events matching the filter.
func (s *SQLiteAuditStore) List(ctx context.Context, filter AuditFilter) ([]AuditEvent, error) {
	query := `
		SELECT session, round, turn, role, agent_id, status, error_text, started_at, finished_at
		FROM turn_audit_events
	`
	var args []any
	where := ""
	addFilter := func(clause string, value any) {
		if where == "" {
			where = " WHERE " + clause
		} else {
			where += " AND " + clause
		}
		args = append(args, value)
	}
	if filter.Session != "" {
		addFilter("session = ?", filter.Session)
	}
	if filter.Role != "" {
		addFilter("role = ?", string(filter.Role))
	}
	if filter.Status != "" {
		addFilter("status = ?", filter.Status)
	}
	query += where + " ORDER BY id ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []AuditEvent
	for rows.Next() {
		var (
			event    AuditEvent
			role     string
			started  sql.NullTime
			finished sql.NullTime
		)
		if err := rows.Scan(
			&event.Session,
			&event.Round,
			&event.Turn,
			&role,
			&event.AgentID,
			&event.Status,
			&event.Error,
			&started,
			&finished,
		); err != nil {
			return nil, err
		}
		event.Role = core.Role(role)
		if started.Valid {
			event.Started = started.Time
		}
		if finished.Valid {
			event.Finished = finished.Time
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func ensureAuditSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS turn_audit_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session TEXT NOT NULL,
			round INTEGER NOT NULL,
			turn INTEGER NOT NULL,
			role TEXT NOT NULL,
			agent_id TEXT,
			status TEXT NOT NULL,
			error_text TEXT,
			started_at TIMESTAMP,
			finished_at TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_turn_audit_session ON turn_audit_events(session);
		CREATE INDEX IF NOT EXISTS idx_turn_audit_status ON turn_audit_events(status);
	`)
	return err
}
