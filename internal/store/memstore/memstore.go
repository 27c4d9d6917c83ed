// Package memstore is an in-process store backend
package memstore

import (
	"context"
	"sync"

	"github.com/Dremora/endpoints/internal/jsonapi"
	"github.com/Dremora/endpoints/internal/store"
)

// Backend keeps records in a map guarded by a mutex
type Backend struct {
	mu      sync.RWMutex
	records map[jsonapi.Identifier]*store.Record
}

// New creates an empty backend
func New() *Backend {
	return &Backend{records: make(map[jsonapi.Identifier]*store.Record)}
}

var _ store.Backend = (*Backend)(nil)

// Load returns a copy of the record
func (b *Backend) Load(ctx context.Context, ref jsonapi.Identifier) (*store.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	rec, ok := b.records[ref]
	if !ok {
		return nil, store.ErrNotFound
	}
	return rec.Clone(), nil
}

// Missing returns the refs that have no record
func (b *Backend) Missing(ctx context.Context, refs []jsonapi.Identifier) ([]jsonapi.Identifier, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	var missing []jsonapi.Identifier
	for _, ref := range refs {
		if _, ok := b.records[ref]; !ok {
			missing = append(missing, ref)
		}
	}
	return missing, nil
}

// lockedTx reads the map while Mutate holds the write lock
type lockedTx struct {
	b *Backend
}

// Lookup scans records of typ for an attribute value
func (t lockedTx) Lookup(ctx context.Context, typ, attr string, value any) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var ids []string
	for ref, rec := range t.b.records {
		if ref.Type != typ {
			continue
		}
		if v, ok := rec.Attributes[attr]; ok && store.ValueEqual(v, value) {
			ids = append(ids, ref.ID)
		}
	}
	return ids, nil
}

// Mutate runs fn under the write lock against a copy of the record and
// swaps the copy in only when fn reports a change. Lookups made through the
// Tx see the map under the same lock.
func (b *Backend) Mutate(ctx context.Context, ref jsonapi.Identifier, fn store.MutateFunc) (*store.Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	rec, ok := b.records[ref]
	if !ok {
		return nil, false, store.ErrNotFound
	}
	next := rec.Clone()
	changed, err := fn(lockedTx{b}, next)
	if err != nil {
		return nil, false, err
	}
	if !changed {
		return rec.Clone(), false, nil
	}
	b.records[ref] = next
	return next.Clone(), true, nil
}

// Put inserts or replaces a record
func (b *Backend) Put(ctx context.Context, rec *store.Record) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := rec.Clone()
	b.records[c.Identifier()] = c
	return nil
}

// Clear removes every record
func (b *Backend) Clear(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.records = make(map[jsonapi.Identifier]*store.Record)
	return nil
}
