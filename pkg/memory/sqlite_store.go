// Copyright 2026 © The Westodyssey Authors
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/westodyssey/westodyssey/pkg/core"
	_ "modernc.org/sqlite"
)

// SQLiteStore persists entries in a SQLite database.
type SQLiteStore struct {
	db    *sql.DB
	owned bool
}

// OpenSQLiteStore opens (or creates) the database file at path. Other
// processes may write the same file; they wait on each other's locks.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// modernc's driver serializes writers; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	store, err := NewSQLiteStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	store.owned = true
	return store, nil
}

// NewSQLiteStore wraps an existing database and ensures the schema.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, errors.New("db is nil")
	}
	if err := ensureMemorySchema(db); err != nil {
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

// Append implements Store. Entries of one call are written atomically.
func (s *SQLiteStore) Append(ctx context.Context, session string, entries ...Entry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, e := range entries {
		args, err := entryArgs(session, e)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO memory_entries (id, session, seq, round, author, kind, content, metadata_json, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, args...); err != nil {
			return mapConstraint(err)
		}
	}
	return tx.Commit()
}

// AppendAt implements HeadAppender. The head check and the insert are a
// single statement, so a concurrent writer either sees the new row or
// hits the (session, seq) constraint.
func (s *SQLiteStore) AppendAt(ctx context.Context, session string, head int, entry Entry) error {
	args, err := entryArgs(session, entry)
	if err != nil {
		return err
	}
	args = append(args, session, head)
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO memory_entries (id, session, seq, round, author, kind, content, metadata_json, created_at)
		SELECT ?, ?, ?, ?, ?, ?, ?, ?, ?
		WHERE (SELECT COALESCE(MAX(seq), 0) FROM memory_entries WHERE session = ?) = ?
	`, args...)
	if err != nil {
		return mapConstraint(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

func entryArgs(session string, e Entry) ([]any, error) {
	var metadata []byte
	if len(e.Metadata) > 0 {
		var err error
		if metadata, err = json.Marshal(e.Metadata); err != nil {
			return nil, fmt.Errorf("failed to marshal metadata: %w", err)
		}
	}
	return []any{
		e.ID,
		session,
		e.Seq,
		e.Round,
		string(e.Author),
		string(e.Kind),
		e.Content,
		string(metadata),
		e.CreatedAt.UTC(),
	}, nil
}

// mapConstraint reports a duplicate (session, seq) as ErrConflict.
func mapConstraint(err error) error {
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return err
}

// Load implements Store.
func (s *SQLiteStore) Load(ctx context.Context, session string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session, seq, round, author, kind, content, metadata_json, created_at
		FROM memory_entries
		WHERE session = ?
		ORDER BY seq ASC
	`, session)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e        Entry
			author   string
			kind     string
			metadata sql.NullString
			created  sql.NullTime
		)
		if err := rows.Scan(&e.ID, &e.Session, &e.Seq, &e.Round, &author, &kind, &e.Content, &metadata, &created); err != nil {
			return nil, err
		}
		e.Author = core.Role(author)
		e.Kind = Kind(kind)
		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &e.Metadata); err != nil {
				return nil, fmt.Errorf("entry %s: bad metadata: %w", e.ID, err)
			}
		}
		if created.Valid {
			e.CreatedAt = created.Time
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Sessions implements Store.
func (s *SQLiteStore) Sessions(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT session FROM memory_entries ORDER BY session`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// Delete implements Store.
func (s *SQLiteStore) Delete(ctx context.Context, session string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM memory_entries WHERE session = ?`, session)
	return err
}

// Close closes the database when the store opened it.
func (s *SQLiteStore) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}

func ensureMemorySchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS memory_entries (
			id TEXT PRIMARY KEY,
			session TEXT NOT NULL,
			seq INTEGER NOT NULL,
			round INTEGER NOT NULL DEFAULT 0,
			author TEXT NOT NULL,
			kind TEXT NOT NULL,
			content TEXT NOT NULL,
			metadata_json TEXT,
			created_at TIMESTAMP NOT NULL,
			UNIQUE (session, seq)
		);
		CREATE INDEX IF NOT EXISTS idx_memory_entries_session ON memory_entries(session, seq);
	`)
	return err
}
