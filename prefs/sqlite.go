package prefs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hazyhaar/treewatch/dbopen"
)

const schema = `CREATE TABLE IF NOT EXISTS prefs (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	rev        INTEGER NOT NULL DEFAULT 0,
	updated_at INTEGER NOT NULL DEFAULT (unixepoch())
)`

// SQLite stores preferences in one table of an SQLite file.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (and creates if needed) the preference file at path.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(schema))
	if err != nil {
		return nil, fmt.Errorf("prefs: %w", err)
	}
	return &SQLite{db: db}, nil
}

// NewSQLite wraps an open database, creating the table if needed.
func NewSQLite(db *sql.DB) (*SQLite, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("prefs: schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Get(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM prefs WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("prefs: get %s: %w", key, err)
	}
	return v, true, nil
}

func (s *SQLite) Set(ctx context.Context, key, value string) error {
	_, err := dbopen.Exec(ctx, s.db,
		`INSERT INTO prefs (key, value, rev) VALUES (?, ?, (SELECT COALESCE(MAX(rev), 0) + 1 FROM prefs))
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, rev = excluded.rev, updated_at = unixepoch()`,
		key, value)
	if err != nil {
		return fmt.Errorf("prefs: set %s: %w", key, err)
	}
	return nil
}

// Revision returns the revision of the last write. Every Set, from any
// connection or process, moves it forward.
func (s *SQLite) Revision(ctx context.Context) (int64, error) {
	var rev int64
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(rev), 0) FROM prefs`).Scan(&rev); err != nil {
		return 0, fmt.Errorf("prefs: revision: %w", err)
	}
	return rev, nil
}

// Keys lists the stored keys in order.
func (s *SQLite) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM prefs ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("prefs: keys: %w", err)
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("prefs: keys: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (s *SQLite) Close() error { return s.db.Close() }
