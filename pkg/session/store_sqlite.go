package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps a session in a SQLite database, one row per entry.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (creating if needed) a session database.
func OpenSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}

	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open session database: %w", err)
	}
	// One writer; keeps appends ordered.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping session database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS session_header (
		singleton INTEGER PRIMARY KEY CHECK (singleton = 1),
		data      TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS entries (
		seq       INTEGER PRIMARY KEY AUTOINCREMENT,
		id        TEXT NOT NULL UNIQUE,
		parent_id TEXT,
		type      TEXT NOT NULL,
		data      TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_entries_parent ON entries(parent_id);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *SQLiteStore) Load(ctx context.Context) (*Header, []*Entry, error) {
	var header *Header
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM session_header WHERE singleton = 1`).Scan(&raw)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return nil, nil, err
	default:
		var h Header
		if err := json.Unmarshal([]byte(raw), &h); err != nil {
			return nil, nil, fmt.Errorf("decode session header: %w", err)
		}
		header = &h
	}

	rows, err := s.db.QueryContext(ctx, `SELECT data FROM entries ORDER BY seq`)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	entries := make([]*Entry, 0)
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, nil, err
		}
		entry, err := decodeEntry([]byte(data))
		if err != nil {
			return nil, nil, fmt.Errorf("decode entry: %w", err)
		}
		if entry != nil {
			entries = append(entries, entry)
		}
	}
	return header, entries, rows.Err()
}

func (s *SQLiteStore) Append(ctx context.Context, entry *Entry) error {
	return insertEntry(ctx, s.db, entry)
}

func (s *SQLiteStore) Rewrite(ctx context.Context, header Header, entries []*Entry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	data, err := json.Marshal(header)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO session_header (singleton, data) VALUES (1, ?)
		ON CONFLICT(singleton) DO UPDATE SET data = excluded.data`, string(data)); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM entries`); err != nil {
		return err
	}
	for _, entry := range entries {
		if err := insertEntry(ctx, tx, entry); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertEntry(ctx context.Context, db execer, entry *Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	var parentID any
	if entry.ParentID != nil {
		parentID = *entry.ParentID
	}
	_, err = db.ExecContext(ctx, `INSERT INTO entries (id, parent_id, type, data) VALUES (?, ?, ?, ?)`,
		entry.ID, parentID, entry.Type, string(data))
	return err
}
