// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore keeps entries in a single table. Each Put is one upsert
// statement, so concurrent writers never observe a partial entry.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore opens or creates the cache database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &SQLiteStore{db: db, now: time.Now}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS cache_entries (
			namespace   TEXT NOT NULL,
			key         TEXT NOT NULL,
			value       BLOB NOT NULL,
			stored_at   INTEGER NOT NULL,
			ttl_seconds INTEGER NOT NULL,
			PRIMARY KEY (namespace, key)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cache_entries_stored_at ON cache_entries(stored_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, namespace, key string) (Entry, bool, error) {
	var (
		e        Entry
		storedAt int64
		value    []byte
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT namespace, key, value, stored_at, ttl_seconds FROM cache_entries WHERE namespace = ? AND key = ?`,
		namespace, key,
	).Scan(&e.Namespace, &e.Key, &value, &storedAt, &e.TTLSeconds)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("querying cache entry: %w", err)
	}
	e.Value = value
	e.StoredAt = time.Unix(0, storedAt)
	if !e.Valid(s.now()) {
		return Entry{}, false, nil
	}
	return e, true, nil
}

// Put implements Store.
func (s *SQLiteStore) Put(ctx context.Context, e Entry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cache_entries (namespace, key, value, stored_at, ttl_seconds)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(namespace, key) DO UPDATE SET
		   value = excluded.value,
		   stored_at = excluded.stored_at,
		   ttl_seconds = excluded.ttl_seconds`,
		e.Namespace, e.Key, []byte(e.Value), e.StoredAt.UnixNano(), e.TTLSeconds,
	)
	if err != nil {
		return fmt.Errorf("storing cache entry: %w", err)
	}
	return nil
}

// Prune implements Store.
func (s *SQLiteStore) Prune(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE stored_at + ttl_seconds * 1000000000 <= ?`,
		s.now().UnixNano(),
	)
	if err != nil {
		return 0, fmt.Errorf("pruning cache: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Clear implements Store.
func (s *SQLiteStore) Clear(ctx context.Context, namespace string) (int, error) {
	var (
		res sql.Result
		err error
	)
	if namespace == "" {
		res, err = s.db.ExecContext(ctx, `DELETE FROM cache_entries`)
	} else {
		res, err = s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE namespace = ?`, namespace)
	}
	if err != nil {
		return 0, fmt.Errorf("clearing cache: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Close releases the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
