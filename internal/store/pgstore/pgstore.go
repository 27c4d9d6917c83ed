// Package pgstore persists resources in PostgreSQL. Each resource is one row
// of the resource table with attributes and relationship linkage held as
// JSONB.
package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Dremora/endpoints/internal/jsonapi"
	"github.com/Dremora/endpoints/internal/store"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// Backend is a store.Backend over a pgx pool
type Backend struct {
	DB *pgxpool.Pool
}

// New creates a Backend
func New(db *pgxpool.Pool) *Backend {
	return &Backend{DB: db}
}

var _ store.Backend = (*Backend)(nil)

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Load reads a resource row
func (b *Backend) Load(ctx context.Context, ref jsonapi.Identifier) (*store.Record, error) {
	return load(ctx, b.DB, ref, false)
}

func load(ctx context.Context, q querier, ref jsonapi.Identifier, forUpdate bool) (*store.Record, error) {
	sql := `SELECT attributes, relationships FROM resource WHERE type = $1 AND id = $2`
	if forUpdate {
		sql += ` FOR UPDATE`
	}

	var attrsJSON, relsJSON []byte
	err := q.QueryRow(ctx, sql, ref.Type, ref.ID).Scan(&attrsJSON, &relsJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", ref, err)
	}

	rec := &store.Record{
		Type:          ref.Type,
		ID:            ref.ID,
		Attributes:    map[string]any{},
		Relationships: map[string]jsonapi.Linkage{},
	}
	if err := json.Unmarshal(attrsJSON, &rec.Attributes); err != nil {
		return nil, fmt.Errorf("decode attributes of %s: %w", ref, err)
	}
	if err := json.Unmarshal(relsJSON, &rec.Relationships); err != nil {
		return nil, fmt.Errorf("decode relationships of %s: %w", ref, err)
	}
	return rec, nil
}

// Missing returns the refs without a row, in request order
func (b *Backend) Missing(ctx context.Context, refs []jsonapi.Identifier) ([]jsonapi.Identifier, error) {
	if len(refs) == 0 {
		return nil, nil
	}
	types := make([]string, len(refs))
	ids := make([]string, len(refs))
	for i, r := range refs {
		types[i], ids[i] = r.Type, r.ID
	}

	rows, err := b.DB.Query(ctx, `
		SELECT r.type, r.id
		FROM unnest($1::text[], $2::text[]) WITH ORDINALITY AS r(type, id, ord)
		WHERE NOT EXISTS (
			SELECT 1 FROM resource WHERE resource.type = r.type AND resource.id = r.id
		)
		ORDER BY r.ord
	`, types, ids)
	if err != nil {
		return nil, fmt.Errorf("query missing references: %w", err)
	}
	defer rows.Close()

	var missing []jsonapi.Identifier
	for rows.Next() {
		var ref jsonapi.Identifier
		if err := rows.Scan(&ref.Type, &ref.ID); err != nil {
			return nil, err
		}
		missing = append(missing, ref)
	}
	return missing, rows.Err()
}

// pgTx runs lookups inside the Mutate transaction
type pgTx struct {
	tx pgx.Tx
}

// Lookup takes a transaction-scoped advisory lock on (type, attr, value)
// before reading, so two transactions claiming the same value serialize and
// the later one sees the earlier one's commit
func (t pgTx) Lookup(ctx context.Context, typ, attr string, value any) ([]string, error) {
	v, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", attr, err)
	}
	lockKey := typ + "." + attr + "=" + string(v)
	if _, err := t.tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, lockKey); err != nil {
		return nil, fmt.Errorf("lock %s.%s: %w", typ, attr, err)
	}

	rows, err := t.tx.Query(ctx,
		`SELECT id FROM resource WHERE type = $1 AND attributes -> $2 = $3::jsonb ORDER BY id`,
		typ, attr, string(v))
	if err != nil {
		return nil, fmt.Errorf("lookup %s.%s: %w", typ, attr, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Mutate locks the row for the duration of fn so concurrent updates of the
// same resource serialize
func (b *Backend) Mutate(ctx context.Context, ref jsonapi.Identifier, fn store.MutateFunc) (*store.Record, bool, error) {
	tx, err := b.DB.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := load(ctx, tx, ref, true)
	if err != nil {
		return nil, false, err
	}
	changed, err := fn(pgTx{tx: tx}, rec)
	if err != nil {
		return nil, false, err
	}
	if !changed {
		return rec, false, nil
	}

	if err := write(ctx, tx, rec); err != nil {
		return nil, false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("commit %s: %w", ref, err)
	}

	log.Ctx(ctx).Debug().Str("type", ref.Type).Str("id", ref.ID).Msg("resource written")
	return rec, true, nil
}

func write(ctx context.Context, tx pgx.Tx, rec *store.Record) error {
	attrs, err := json.Marshal(rec.Attributes)
	if err != nil {
		return fmt.Errorf("encode attributes: %w", err)
	}
	rels, err := json.Marshal(rec.Relationships)
	if err != nil {
		return fmt.Errorf("encode relationships: %w", err)
	}
	_, err = tx.Exec(ctx, `
		UPDATE resource
		SET attributes = $3::jsonb, relationships = $4::jsonb, updated_at = now()
		WHERE type = $1 AND id = $2
	`, rec.Type, rec.ID, string(attrs), string(rels))
	if err != nil {
		return fmt.Errorf("update %s: %w", rec.Identifier(), err)
	}
	return nil
}

// Put inserts or replaces a record
func (b *Backend) Put(ctx context.Context, rec *store.Record) error {
	attrs, err := json.Marshal(nonNilAttrs(rec.Attributes))
	if err != nil {
		return fmt.Errorf("encode attributes: %w", err)
	}
	rels, err := json.Marshal(nonNilRels(rec.Relationships))
	if err != nil {
		return fmt.Errorf("encode relationships: %w", err)
	}
	_, err = b.DB.Exec(ctx, `
		INSERT INTO resource (type, id, attributes, relationships)
		VALUES ($1, $2, $3::jsonb, $4::jsonb)
		ON CONFLICT (type, id) DO UPDATE SET
			attributes    = EXCLUDED.attributes,
			relationships = EXCLUDED.relationships,
			updated_at    = now()
	`, rec.Type, rec.ID, string(attrs), string(rels))
	if err != nil {
		return fmt.Errorf("put %s: %w", rec.Identifier(), err)
	}
	return nil
}

// Clear removes every resource
func (b *Backend) Clear(ctx context.Context) error {
	_, err := b.DB.Exec(ctx, `DELETE FROM resource`)
	return err
}

func nonNilAttrs(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func nonNilRels(m map[string]jsonapi.Linkage) map[string]jsonapi.Linkage {
	if m == nil {
		return map[string]jsonapi.Linkage{}
	}
	return m
}
