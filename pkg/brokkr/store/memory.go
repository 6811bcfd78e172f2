package store

import (
	"context"
	"sync"
)

// Memory is an in-memory Store implementation, the reference driver for
// tests and single-process deployments.
type Memory struct {
	mu     sync.RWMutex
	tables map[string]map[string]string
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{tables: make(map[string]map[string]string)}
}

// Set upserts value under (table, key).
func (m *Memory) Set(_ context.Context, table, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tables[table]
	if !ok {
		t = make(map[string]string)
		m.tables[table] = t
	}
	t[key] = value
	return nil
}

// Get returns the value stored under (table, key), or Missing if absent.
func (m *Memory) Get(_ context.Context, table, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tables[table]
	if !ok {
		return "", Missing
	}
	v, ok := t[key]
	if !ok {
		return "", Missing
	}
	return v, nil
}

// ListKeys returns every key currently present in table.
func (m *Memory) ListKeys(_ context.Context, table string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tables[table]
	if !ok {
		return []string{}, nil
	}
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	return keys, nil
}

// MultiGet returns values positionally aligned with keys.
func (m *Memory) MultiGet(_ context.Context, table string, keys []string) ([]Result, error) {
	if len(keys) == 0 {
		return []Result{}, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	t := m.tables[table]
	results := make([]Result, len(keys))
	for i, k := range keys {
		v, ok := t[k]
		results[i] = Result{Value: v, OK: ok}
	}
	return results, nil
}

var _ Store = (*Memory)(nil)
