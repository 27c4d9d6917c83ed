package redisstore

import (
	"context"
	"testing"

	"github.com/Dremora/endpoints/internal/jsonapi"
	"github.com/Dremora/endpoints/internal/store"
	"github.com/Dremora/endpoints/internal/store/storetest"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*Backend, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return New(client, ""), mr
}

func TestBackend(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storetest.Backend {
		b, _ := setupTestRedis(t)
		return b
	})
}

func TestKeys(t *testing.T) {
	b, mr := setupTestRedis(t)
	require.NoError(t, storetest.Reset(context.Background(), b))

	assert.True(t, mr.Exists("endpoints:res:books:1"))
	members, err := mr.Members("endpoints:idx:books")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"1", "2", "3"}, members)
}

func TestClearOnlyTouchesPrefix(t *testing.T) {
	b, mr := setupTestRedis(t)
	ctx := context.Background()
	require.NoError(t, mr.Set("other:key", "keep"))
	require.NoError(t, storetest.Reset(ctx, b))

	require.NoError(t, b.Clear(ctx))
	assert.True(t, mr.Exists("other:key"))
	assert.False(t, mr.Exists("endpoints:res:books:1"))
}

func TestMutateUnchangedDoesNotWrite(t *testing.T) {
	b, mr := setupTestRedis(t)
	ctx := context.Background()
	require.NoError(t, storetest.Reset(ctx, b))
	before, err := mr.Get("endpoints:res:books:1")
	require.NoError(t, err)

	_, changed, err := b.Mutate(ctx, jsonapi.Identifier{Type: "books", ID: "1"}, func(tx store.Tx, rec *store.Record) (bool, error) {
		return false, nil
	})
	require.NoError(t, err)
	assert.False(t, changed)

	after, err := mr.Get("endpoints:res:books:1")
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestUnavailable(t *testing.T) {
	b, mr := setupTestRedis(t)
	mr.Close()

	_, err := b.Load(context.Background(), jsonapi.Identifier{Type: "books", ID: "1"})
	assert.Error(t, err)
	assert.NotErrorIs(t, err, store.ErrNotFound)
}
