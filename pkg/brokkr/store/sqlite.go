package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	_ "modernc.org/sqlite" // pure Go SQLite driver
)

// SQLite persists the key/value contract to a single SQLite file. It is
// suitable for single-process production use where an external Redis
// deployment is not warranted.
type SQLite struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewSQLite opens (creating if necessary) a SQLite-backed store at path,
// or ":memory:" for an ephemeral store.
//
// The database file is created with restrictive permissions (0600) before
// sql.Open touches it, so it is never briefly world-readable.
func NewSQLite(path string) (*SQLite, error) {
	if path != ":memory:" {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			f, createErr := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
			if createErr == nil {
				if closeErr := f.Close(); closeErr != nil {
					slog.Warn("failed to close store file after creation",
						slog.String("path", path),
						slog.String("error", closeErr.Error()))
				}
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS kv (
			table_name TEXT NOT NULL,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			PRIMARY KEY (table_name, key)
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	if path != ":memory:" {
		if err := os.Chmod(path, 0600); err != nil {
			slog.Warn("failed to set restrictive permissions on store file",
				slog.String("path", path),
				slog.String("error", err.Error()))
		}
	}

	return &SQLite{db: db}, nil
}

// ErrClosed is returned by operations on a closed SQLite store.
var ErrClosed = errors.New("store: sqlite store closed")

// Set upserts value under (table, key).
func (s *SQLite) Set(ctx context.Context, table, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return wrap("set", table, key, ErrClosed)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv (table_name, key, value) VALUES (?, ?, ?)
		ON CONFLICT(table_name, key) DO UPDATE SET value = excluded.value
	`, table, key, value)
	return wrap("set", table, key, err)
}

// Get returns the value stored under (table, key), or Missing if absent.
func (s *SQLite) Get(ctx context.Context, table, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return "", wrap("get", table, key, ErrClosed)
	}

	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM kv WHERE table_name = ? AND key = ?`, table, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", Missing
	}
	if err != nil {
		return "", wrap("get", table, key, err)
	}
	return value, nil
}

// ListKeys returns every key currently present in table.
func (s *SQLite) ListKeys(ctx context.Context, table string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, wrap("listKeys", table, "", ErrClosed)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT key FROM kv WHERE table_name = ?`, table)
	if err != nil {
		return nil, wrap("listKeys", table, "", err)
	}
	defer rows.Close()

	keys := []string{}
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, wrap("listKeys", table, "", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("listKeys", table, "", err)
	}
	return keys, nil
}

// MultiGet returns values positionally aligned with keys.
func (s *SQLite) MultiGet(ctx context.Context, table string, keys []string) ([]Result, error) {
	if len(keys) == 0 {
		return []Result{}, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, wrap("multiGet", table, "", ErrClosed)
	}

	results := make([]Result, len(keys))
	for i, k := range keys {
		var value string
		err := s.db.QueryRowContext(ctx,
			`SELECT value FROM kv WHERE table_name = ? AND key = ?`, table, k).Scan(&value)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			results[i] = Result{OK: false}
		case err != nil:
			return nil, wrap("multiGet", table, k, err)
		default:
			results[i] = Result{Value: value, OK: true}
		}
	}
	return results, nil
}

// Close releases the underlying database connection.
func (s *SQLite) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

var _ Store = (*SQLite)(nil)
