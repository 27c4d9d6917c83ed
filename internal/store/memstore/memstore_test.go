package memstore

import (
	"context"
	"errors"
	"testing"

	"github.com/Dremora/endpoints/internal/jsonapi"
	"github.com/Dremora/endpoints/internal/store"
	"github.com/Dremora/endpoints/internal/store/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackend(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storetest.Backend {
		return New()
	})
}

func TestMutateDoesNotLeakPartialWrites(t *testing.T) {
	b := New()
	ctx := context.Background()
	require.NoError(t, storetest.Reset(ctx, b))
	ref := jsonapi.Identifier{Type: "books", ID: "1"}

	boom := errors.New("boom")
	_, _, err := b.Mutate(ctx, ref, func(tx store.Tx, rec *store.Record) (bool, error) {
		rec.Attributes["title"] = "half written"
		return true, boom
	})
	assert.ErrorIs(t, err, boom)

	rec, err := b.Load(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, "The Fellowship of the Ring", rec.Attributes["title"])
}

func TestLoadReturnsCopies(t *testing.T) {
	b := New()
	ctx := context.Background()
	require.NoError(t, storetest.Reset(ctx, b))
	ref := jsonapi.Identifier{Type: "books", ID: "1"}

	rec, err := b.Load(ctx, ref)
	require.NoError(t, err)
	rec.Attributes["title"] = "mutated by caller"

	again, err := b.Load(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, "The Fellowship of the Ring", again.Attributes["title"])
}

func TestCancelledContext(t *testing.T) {
	b := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := b.Load(ctx, jsonapi.Identifier{Type: "books", ID: "1"})
	assert.ErrorIs(t, err, context.Canceled)
}
