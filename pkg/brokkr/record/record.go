// Package record implements the id-allocating CRUD layer between brokkr
// entities (saga, step) and the raw store.Store contract: it owns the
// per-table "lastId" counter and the JSON encode/decode round trip spec.md
// requires of every driver.
package record

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/FleekHQ/brokkr/pkg/brokkr/errs"
	"github.com/FleekHQ/brokkr/pkg/brokkr/store"
)

// metaTable holds the per-table monotonic id counter, scoped by namespace
// the same way every other table is.
const metaTable = "meta"

// Layer provides create/update/get/list operations on untyped
// map[string]any records over a store.Store, namespacing every table as
// "<namespace>_<table>".
//
// create and update are NOT atomic across the meta and data writes:
// concurrent writers to the same table may race on the id counter. This
// mirrors spec.md §4.2/§9 exactly — a single orchestrator process is
// assumed; multi-writer deployments must swap in a store with an atomic
// increment primitive.
type Layer struct {
	store     store.Store
	namespace string
}

// New creates a record layer over s, namespacing tables under namespace.
func New(s store.Store, namespace string) *Layer {
	return &Layer{store: s, namespace: namespace}
}

func (l *Layer) ns(table string) string {
	return l.namespace + "_" + table
}

// Create allocates the next id for table, merges it into record, and
// persists the result. The caller's record map is not mutated; the
// returned map includes the assigned "id" field.
func (l *Layer) Create(ctx context.Context, table string, fields map[string]any) (map[string]any, error) {
	nextID, err := l.nextID(ctx, table)
	if err != nil {
		return nil, err
	}

	idStr := strconv.Itoa(nextID)

	stored := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		stored[k] = v
	}
	stored["id"] = idStr

	if err := l.putString(ctx, table, idStr, stored); err != nil {
		return nil, err
	}
	return stored, nil
}

// CreateWithID persists fields under the caller-supplied id, bypassing
// the per-table counter entirely. spec.md §9 offers this as the
// alternative to meta-table id allocation: "use a generator with enough
// entropy that collisions are improbable... removes the meta table
// entirely." Used for tables (like the top-level saga table) where many
// independent writers may create records concurrently and a counter
// would serialize them.
func (l *Layer) CreateWithID(ctx context.Context, table, id string, fields map[string]any) (map[string]any, error) {
	stored := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		stored[k] = v
	}
	stored["id"] = id

	if err := l.putString(ctx, table, id, stored); err != nil {
		return nil, err
	}
	return stored, nil
}

// Update shallow-merges patch over the current record at (table, id):
// patch keys override, everything else is preserved.
func (l *Layer) Update(ctx context.Context, table, id string, patch map[string]any) (map[string]any, error) {
	current, err := l.Get(ctx, table, id)
	if err != nil {
		return nil, err
	}

	for k, v := range patch {
		current[k] = v
	}

	if err := l.putString(ctx, table, id, current); err != nil {
		return nil, err
	}
	return current, nil
}

// Get fetches the record at (table, id).
func (l *Layer) Get(ctx context.Context, table, id string) (map[string]any, error) {
	raw, err := l.store.Get(ctx, l.ns(table), id)
	if err != nil {
		return nil, &errs.StoreError{Op: "get", Table: table, Key: id, Err: err}
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("record: decode %s/%s: %w", table, id, err)
	}
	return rec, nil
}

// GetIds returns every id present in table, in unspecified order.
func (l *Layer) GetIds(ctx context.Context, table string) ([]string, error) {
	ids, err := l.store.ListKeys(ctx, l.ns(table))
	if err != nil {
		return nil, &errs.StoreError{Op: "listKeys", Table: table, Err: err}
	}
	return ids, nil
}

// GetMultiple fetches several records positionally; a missing id yields
// a nil map at that position.
func (l *Layer) GetMultiple(ctx context.Context, table string, ids []string) ([]map[string]any, error) {
	results, err := l.store.MultiGet(ctx, l.ns(table), ids)
	if err != nil {
		return nil, &errs.StoreError{Op: "multiGet", Table: table, Err: err}
	}

	out := make([]map[string]any, len(results))
	for i, r := range results {
		if !r.OK {
			continue
		}
		var rec map[string]any
		if err := json.Unmarshal([]byte(r.Value), &rec); err != nil {
			return nil, fmt.Errorf("record: decode %s/%s: %w", table, ids[i], err)
		}
		out[i] = rec
	}
	return out, nil
}

func (l *Layer) nextID(ctx context.Context, table string) (int, error) {
	raw, err := l.store.Get(ctx, l.ns(metaTable), table)
	if err != nil && !store.IsMissing(err) {
		return 0, &errs.StoreError{Op: "get", Table: metaTable, Key: table, Err: err}
	}

	prev := 0
	if err == nil {
		prev, err = strconv.Atoi(raw)
		if err != nil {
			return 0, fmt.Errorf("record: corrupt id counter for %s: %w", table, err)
		}
	}

	next := prev + 1
	if err := l.store.Set(ctx, l.ns(metaTable), table, strconv.Itoa(next)); err != nil {
		return 0, &errs.StoreError{Op: "set", Table: metaTable, Key: table, Err: err}
	}
	return next, nil
}

func (l *Layer) putString(ctx context.Context, table, id string, rec map[string]any) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return &errs.EncodingError{Value: rec, Err: err}
	}
	if err := l.store.Set(ctx, l.ns(table), id, string(data)); err != nil {
		return &errs.StoreError{Op: "set", Table: table, Key: id, Err: err}
	}
	return nil
}
