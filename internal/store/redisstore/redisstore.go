// Package redisstore persists resources in Redis. Each resource is a JSON
// value under <prefix>:res:<type>:<id>; a set per type indexes its ids.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Dremora/endpoints/internal/jsonapi"
	"github.com/Dremora/endpoints/internal/store"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// DefaultPrefix namespaces every key the backend writes
const DefaultPrefix = "endpoints"

// maxRetries bounds optimistic transaction retries under contention
const maxRetries = 16

// Backend is a store.Backend over a go-redis client
type Backend struct {
	client *redis.Client
	prefix string
}

// New creates a Backend. An empty prefix uses DefaultPrefix.
func New(client *redis.Client, prefix string) *Backend {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Backend{client: client, prefix: prefix}
}

var _ store.Backend = (*Backend)(nil)

type stored struct {
	Attributes    map[string]any             `json:"attributes"`
	Relationships map[string]jsonapi.Linkage `json:"relationships"`
}

func (b *Backend) key(ref jsonapi.Identifier) string {
	return fmt.Sprintf("%s:res:%s:%s", b.prefix, ref.Type, ref.ID)
}

func (b *Backend) indexKey(typ string) string {
	return fmt.Sprintf("%s:idx:%s", b.prefix, typ)
}

func decode(ref jsonapi.Identifier, data []byte) (*store.Record, error) {
	var s stored
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode %s: %w", ref, err)
	}
	rec := &store.Record{
		Type:          ref.Type,
		ID:            ref.ID,
		Attributes:    s.Attributes,
		Relationships: s.Relationships,
	}
	if rec.Attributes == nil {
		rec.Attributes = map[string]any{}
	}
	if rec.Relationships == nil {
		rec.Relationships = map[string]jsonapi.Linkage{}
	}
	return rec, nil
}

func encode(rec *store.Record) ([]byte, error) {
	return json.Marshal(stored{Attributes: rec.Attributes, Relationships: rec.Relationships})
}

// Load reads and decodes a resource key
func (b *Backend) Load(ctx context.Context, ref jsonapi.Identifier) (*store.Record, error) {
	data, err := b.client.Get(ctx, b.key(ref)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", ref, err)
	}
	return decode(ref, data)
}

// Missing checks key existence for every ref in one pipeline
func (b *Backend) Missing(ctx context.Context, refs []jsonapi.Identifier) ([]jsonapi.Identifier, error) {
	if len(refs) == 0 {
		return nil, nil
	}
	cmds := make([]*redis.IntCmd, len(refs))
	_, err := b.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, ref := range refs {
			cmds[i] = pipe.Exists(ctx, b.key(ref))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("check references: %w", err)
	}

	var missing []jsonapi.Identifier
	for i, cmd := range cmds {
		if cmd.Val() == 0 {
			missing = append(missing, refs[i])
		}
	}
	return missing, nil
}

// watchTx reads inside a Mutate transaction. Everything it reads is
// watched, so a concurrent write to any of it fails the EXEC and Mutate
// retries.
type watchTx struct {
	b  *Backend
	tx *redis.Tx
}

// Lookup scans the records of typ for an attribute value
func (t watchTx) Lookup(ctx context.Context, typ, attr string, value any) ([]string, error) {
	index := t.b.indexKey(typ)
	if err := t.tx.Watch(ctx, index).Err(); err != nil {
		return nil, fmt.Errorf("watch %s: %w", index, err)
	}
	ids, err := t.tx.SMembers(ctx, index).Result()
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", typ, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = t.b.key(jsonapi.Identifier{Type: typ, ID: id})
	}
	if err := t.tx.Watch(ctx, keys...).Err(); err != nil {
		return nil, fmt.Errorf("watch %s: %w", typ, err)
	}
	values, err := t.tx.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", typ, err)
	}

	var matches []string
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		rec, err := decode(jsonapi.Identifier{Type: typ, ID: ids[i]}, []byte(s))
		if err != nil {
			return nil, err
		}
		if got, ok := rec.Attributes[attr]; ok && store.ValueEqual(got, value) {
			matches = append(matches, ids[i])
		}
	}
	return matches, nil
}

// Mutate uses WATCH/MULTI so a concurrent writer of the same key forces a
// retry instead of a lost update
func (b *Backend) Mutate(ctx context.Context, ref jsonapi.Identifier, fn store.MutateFunc) (*store.Record, bool, error) {
	key := b.key(ref)

	for attempt := 0; attempt < maxRetries; attempt++ {
		var (
			result  *store.Record
			changed bool
		)
		err := b.client.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if errors.Is(err, redis.Nil) {
				return store.ErrNotFound
			}
			if err != nil {
				return err
			}
			rec, err := decode(ref, data)
			if err != nil {
				return err
			}
			changed, err = fn(watchTx{b: b, tx: tx}, rec)
			if err != nil {
				return err
			}
			result = rec
			if !changed {
				return nil
			}
			payload, err := encode(rec)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, payload, 0)
				return nil
			})
			return err
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			log.Ctx(ctx).Debug().Str("key", key).Int("attempt", attempt+1).Msg("resource changed concurrently, retrying")
			continue
		}
		if err != nil {
			return nil, false, err
		}
		return result, changed, nil
	}
	return nil, false, fmt.Errorf("update %s: too much contention", ref)
}

// Put inserts or replaces a record
func (b *Backend) Put(ctx context.Context, rec *store.Record) error {
	payload, err := encode(rec)
	if err != nil {
		return err
	}
	_, err = b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, b.key(rec.Identifier()), payload, 0)
		pipe.SAdd(ctx, b.indexKey(rec.Type), rec.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", rec.Identifier(), err)
	}
	return nil
}

// Clear removes every key under the prefix
func (b *Backend) Clear(ctx context.Context) error {
	iter := b.client.Scan(ctx, 0, b.prefix+":*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return b.client.Del(ctx, keys...).Err()
}

// Ping checks connectivity
func (b *Backend) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}
