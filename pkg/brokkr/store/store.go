// Package store defines the namespaced key/value contract that backs every
// persisted brokkr entity, plus three concrete drivers: an in-memory map,
// a pure-Go SQLite file, and a Redis hash-per-table store.
package store

import (
	"context"
	"errors"
	"fmt"
)

// Missing is returned by Get when the key does not exist in the table.
// Drivers return Missing itself, with an empty value, not wrapped in an
// *Error.
var Missing = errors.New("store: key not found")

// IsMissing reports whether err indicates a missing key rather than an
// I/O failure.
func IsMissing(err error) bool {
	return errors.Is(err, Missing)
}

// Store is the namespaced key/value contract every brokkr persistence
// driver must satisfy. All operations may fail with an *Error.
//
// Implementations must be safe for concurrent use and must preserve JSON
// round-trip semantics: the caller always passes and receives already
// JSON-encoded strings, the store never interprets them.
type Store interface {
	// Set upserts value under (table, key).
	Set(ctx context.Context, table, key, value string) error

	// Get returns the value stored under (table, key), or Missing if
	// absent.
	Get(ctx context.Context, table, key string) (string, error)

	// ListKeys returns every key currently present in table, in
	// unspecified order.
	ListKeys(ctx context.Context, table string) ([]string, error)

	// MultiGet returns values positionally aligned with keys; a missing
	// key yields "" at that position with ok=false. Calling MultiGet
	// with an empty keys slice must return an empty slice without
	// touching the underlying store.
	MultiGet(ctx context.Context, table string, keys []string) ([]Result, error)
}

// Result is one positional entry of a MultiGet response.
type Result struct {
	Value string
	OK    bool
}

// Error wraps a driver failure with the operation and table/key that
// triggered it, so callers can log or categorize without parsing strings.
type Error struct {
	Op    string
	Table string
	Key   string
	Err   error
}

func (e *Error) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("store: %s %s/%s: %v", e.Op, e.Table, e.Key, e.Err)
	}
	return fmt.Sprintf("store: %s %s: %v", e.Op, e.Table, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func wrap(op, table, key string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Table: table, Key: key, Err: err}
}
