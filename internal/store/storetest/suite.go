package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Dremora/endpoints/internal/jsonapi"
	"github.com/Dremora/endpoints/internal/schema"
	"github.com/Dremora/endpoints/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Backend is what the suite needs from a backend under test
type Backend interface {
	store.Backend
	Seeder
}

// Clock is the fixed time the suite stamps touch attributes with
var Clock = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

// Run exercises a store.Store over the backend returned by factory. The
// backend is reset to the fixture before every subtest.
func Run(t *testing.T, factory func(t *testing.T) Backend) {
	setup := func(t *testing.T) (*store.Store, Backend) {
		t.Helper()
		b := factory(t)
		require.NoError(t, Reset(context.Background(), b))
		s := store.New(b, schema.Default(), store.WithClock(func() time.Time { return Clock }))
		return s, b
	}
	ctx := context.Background()
	stamp := Clock.Format(time.RFC3339Nano)

	t.Run("find", func(t *testing.T) {
		s, _ := setup(t)

		rec, err := s.Find(ctx, "books", "1")
		require.NoError(t, err)
		assert.Equal(t, "The Fellowship of the Ring", rec.Attributes["title"])
		assert.True(t, rec.Linkage("author", false).Equal(jsonapi.ToOne(ref("authors", "1"))))

		_, err = s.Find(ctx, "books", "404")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("update attributes merges and stamps", func(t *testing.T) {
		s, _ := setup(t)

		res, err := s.Update(ctx, "books", "1", store.Patch{Attributes: map[string]any{"title": "The Hobbit"}})
		require.NoError(t, err)
		assert.Equal(t, store.Applied, res.Outcome)
		require.NotNil(t, res.Resource)
		assert.Equal(t, "The Hobbit", res.Resource.Attributes["title"])
		assert.Equal(t, "9780618346257", res.Resource.Attributes["isbn"])
		assert.Equal(t, stamp, res.Resource.Attributes["updated_at"])

		rec, err := s.Find(ctx, "books", "1")
		require.NoError(t, err)
		assert.Equal(t, "The Hobbit", rec.Attributes["title"])
		assert.Equal(t, float64(423), rec.Attributes["page_count"])
	})

	t.Run("update with current values is no change", func(t *testing.T) {
		s, _ := setup(t)

		res, err := s.Update(ctx, "books", "1", store.Patch{Attributes: map[string]any{
			"title":      "The Fellowship of the Ring",
			"page_count": float64(423),
		}})
		require.NoError(t, err)
		assert.Equal(t, store.NoChange, res.Outcome)

		rec, err := s.Find(ctx, "books", "1")
		require.NoError(t, err)
		_, stamped := rec.Attributes["updated_at"]
		assert.False(t, stamped)
	})

	t.Run("null clears an attribute", func(t *testing.T) {
		s, _ := setup(t)

		res, err := s.Update(ctx, "books", "1", store.Patch{Attributes: map[string]any{"date_published": nil}})
		require.NoError(t, err)
		assert.Equal(t, store.Applied, res.Outcome)

		rec, err := s.Find(ctx, "books", "1")
		require.NoError(t, err)
		v, present := rec.Attributes["date_published"]
		assert.True(t, present)
		assert.Nil(t, v)
	})

	t.Run("update of missing resource", func(t *testing.T) {
		s, _ := setup(t)

		res, err := s.Update(ctx, "books", "404", store.Patch{Attributes: map[string]any{"title": "x"}})
		require.NoError(t, err)
		assert.Equal(t, store.NotFound, res.Outcome)
		assert.Empty(t, res.Missing)
	})

	t.Run("update relationships", func(t *testing.T) {
		s, _ := setup(t)

		res, err := s.Update(ctx, "books", "2", store.Patch{Relationships: map[string]jsonapi.Linkage{
			"author": jsonapi.ToOne(ref("authors", "2")),
			"stores": jsonapi.ToMany(ref("stores", "3")),
		}})
		require.NoError(t, err)
		assert.Equal(t, store.Applied, res.Outcome)

		rec, err := s.Find(ctx, "books", "2")
		require.NoError(t, err)
		assert.True(t, rec.Linkage("author", false).Equal(jsonapi.ToOne(ref("authors", "2"))))
		assert.True(t, rec.Linkage("stores", true).Equal(jsonapi.ToMany(ref("stores", "3"))))
	})

	t.Run("missing references are reported and nothing is written", func(t *testing.T) {
		s, _ := setup(t)

		res, err := s.Update(ctx, "books", "1", store.Patch{
			Attributes: map[string]any{"title": "Changed"},
			Relationships: map[string]jsonapi.Linkage{
				"author": jsonapi.ToOne(ref("authors", "99")),
				"tags":   jsonapi.ToMany(ref("genres", "1"), ref("series", "42")),
			},
		})
		require.NoError(t, err)
		assert.Equal(t, store.NotFound, res.Outcome)
		assert.ElementsMatch(t, []jsonapi.Identifier{ref("authors", "99"), ref("series", "42")}, res.Missing)

		rec, err := s.Find(ctx, "books", "1")
		require.NoError(t, err)
		assert.Equal(t, "The Fellowship of the Ring", rec.Attributes["title"])
	})

	t.Run("unique attribute", func(t *testing.T) {
		s, _ := setup(t)

		res, err := s.Update(ctx, "books", "1", store.Patch{Attributes: map[string]any{"isbn": "9780618346264"}})
		require.NoError(t, err)
		assert.Equal(t, store.Conflict, res.Outcome)
		assert.Contains(t, res.Reason, "isbn")

		res, err = s.Update(ctx, "books", "1", store.Patch{Attributes: map[string]any{"isbn": "9780618346257"}})
		require.NoError(t, err)
		assert.Equal(t, store.NoChange, res.Outcome)
	})

	t.Run("concurrent claims of a unique value", func(t *testing.T) {
		s, b := setup(t)

		ids := []string{"1", "2", "3"}
		results := make([]store.Result, len(ids))
		errs := make([]error, len(ids))
		start := make(chan struct{})
		var wg sync.WaitGroup
		for i, id := range ids {
			wg.Add(1)
			go func(i int, id string) {
				defer wg.Done()
				<-start
				results[i], errs[i] = s.Update(ctx, "books", id, store.Patch{Attributes: map[string]any{"isbn": "X-SAME"}})
			}(i, id)
		}
		close(start)
		wg.Wait()

		applied := 0
		for i := range ids {
			require.NoError(t, errs[i])
			switch results[i].Outcome {
			case store.Applied:
				applied++
			case store.Conflict:
			default:
				t.Errorf("book %s: unexpected outcome %s", ids[i], results[i].Outcome)
			}
		}
		assert.Equal(t, 1, applied)

		holders := 0
		for _, id := range ids {
			rec, err := b.Load(ctx, ref("books", id))
			require.NoError(t, err)
			if rec.Attributes["isbn"] == "X-SAME" {
				holders++
			}
		}
		assert.Equal(t, 1, holders)
	})

	t.Run("constraint violation", func(t *testing.T) {
		s, _ := setup(t)

		res, err := s.Update(ctx, "books", "1", store.Patch{Attributes: map[string]any{"title": ""}})
		require.NoError(t, err)
		assert.Equal(t, store.Conflict, res.Outcome)
		assert.Contains(t, res.Reason, "title-not-blank")

		rec, err := s.Find(ctx, "books", "1")
		require.NoError(t, err)
		assert.Equal(t, "The Fellowship of the Ring", rec.Attributes["title"])
	})

	t.Run("replace relationship", func(t *testing.T) {
		s, _ := setup(t)

		res, err := s.ReplaceRelationship(ctx, "books", "1", "tags", jsonapi.ToMany(ref("genres", "2"), ref("series", "1")))
		require.NoError(t, err)
		assert.Equal(t, store.Applied, res.Outcome)

		res, err = s.ReplaceRelationship(ctx, "books", "1", "tags", jsonapi.ToMany(ref("genres", "2"), ref("series", "1")))
		require.NoError(t, err)
		assert.Equal(t, store.NoChange, res.Outcome)

		res, err = s.ReplaceRelationship(ctx, "books", "1", "author", jsonapi.Empty())
		require.NoError(t, err)
		assert.Equal(t, store.Applied, res.Outcome)

		rec, err := s.Find(ctx, "books", "1")
		require.NoError(t, err)
		assert.Equal(t, jsonapi.LinkageEmpty, rec.Linkage("author", false).Kind)
		assert.True(t, rec.Linkage("tags", true).Equal(jsonapi.ToMany(ref("genres", "2"), ref("series", "1"))))
	})

	t.Run("replace collapses repeated members", func(t *testing.T) {
		s, _ := setup(t)

		res, err := s.ReplaceRelationship(ctx, "authors", "1", "books",
			jsonapi.ToMany(ref("books", "3"), ref("books", "3"), ref("books", "1")))
		require.NoError(t, err)
		assert.Equal(t, store.Applied, res.Outcome)

		rec, err := s.Find(ctx, "authors", "1")
		require.NoError(t, err)
		assert.Equal(t, []jsonapi.Identifier{ref("books", "3"), ref("books", "1")}, rec.Linkage("books", true).Many)

		res, err = s.ReplaceRelationship(ctx, "authors", "1", "books",
			jsonapi.ToMany(ref("books", "3"), ref("books", "1"), ref("books", "1")))
		require.NoError(t, err)
		assert.Equal(t, store.NoChange, res.Outcome)

		res, err = s.Update(ctx, "books", "1", store.Patch{Relationships: map[string]jsonapi.Linkage{
			"tags": jsonapi.ToMany(ref("genres", "2"), ref("genres", "2")),
		}})
		require.NoError(t, err)
		assert.Equal(t, store.Applied, res.Outcome)

		rec, err = s.Find(ctx, "books", "1")
		require.NoError(t, err)
		assert.Equal(t, []jsonapi.Identifier{ref("genres", "2")}, rec.Linkage("tags", true).Many)
	})

	t.Run("replace refused by policy", func(t *testing.T) {
		s, _ := setup(t)

		res, err := s.ReplaceRelationship(ctx, "books", "1", "stores", jsonapi.ToMany(ref("stores", "3")))
		require.NoError(t, err)
		assert.Equal(t, store.Forbidden, res.Outcome)
	})

	t.Run("replace with wrong member type", func(t *testing.T) {
		s, _ := setup(t)

		res, err := s.ReplaceRelationship(ctx, "books", "1", "tags", jsonapi.ToMany(ref("books", "2")))
		require.NoError(t, err)
		assert.Equal(t, store.ValidationError, res.Outcome)
	})

	t.Run("append keeps existing members", func(t *testing.T) {
		s, _ := setup(t)

		res, err := s.AppendRelationship(ctx, "books", "1", "stores", []jsonapi.Identifier{ref("stores", "2"), ref("stores", "3")})
		require.NoError(t, err)
		assert.Equal(t, store.Applied, res.Outcome)

		rec, err := s.Find(ctx, "books", "1")
		require.NoError(t, err)
		assert.True(t, rec.Linkage("stores", true).Equal(jsonapi.ToMany(ref("stores", "1"), ref("stores", "2"), ref("stores", "3"))))
		assert.Equal(t, stamp, rec.Attributes["updated_at"])

		res, err = s.AppendRelationship(ctx, "books", "1", "stores", []jsonapi.Identifier{ref("stores", "3")})
		require.NoError(t, err)
		assert.Equal(t, store.NoChange, res.Outcome)
	})

	t.Run("append to a to-one relationship", func(t *testing.T) {
		s, _ := setup(t)

		res, err := s.AppendRelationship(ctx, "books", "1", "author", []jsonapi.Identifier{ref("authors", "2")})
		require.NoError(t, err)
		assert.Equal(t, store.Forbidden, res.Outcome)
	})

	t.Run("append missing member", func(t *testing.T) {
		s, _ := setup(t)

		res, err := s.AppendRelationship(ctx, "books", "3", "stores", []jsonapi.Identifier{ref("stores", "9")})
		require.NoError(t, err)
		assert.Equal(t, store.NotFound, res.Outcome)
		assert.Equal(t, []jsonapi.Identifier{ref("stores", "9")}, res.Missing)
	})

	t.Run("remove members", func(t *testing.T) {
		s, _ := setup(t)

		res, err := s.RemoveRelationship(ctx, "books", "1", "stores", []jsonapi.Identifier{ref("stores", "1"), ref("stores", "3")})
		require.NoError(t, err)
		assert.Equal(t, store.Applied, res.Outcome)

		rec, err := s.Find(ctx, "books", "1")
		require.NoError(t, err)
		assert.True(t, rec.Linkage("stores", true).Equal(jsonapi.ToMany(ref("stores", "2"))))

		res, err = s.RemoveRelationship(ctx, "books", "1", "stores", []jsonapi.Identifier{ref("stores", "3")})
		require.NoError(t, err)
		assert.Equal(t, store.NoChange, res.Outcome)
	})

	t.Run("remove refused by policy", func(t *testing.T) {
		s, _ := setup(t)

		res, err := s.RemoveRelationship(ctx, "authors", "1", "books", []jsonapi.Identifier{ref("books", "1")})
		require.NoError(t, err)
		assert.Equal(t, store.Forbidden, res.Outcome)
	})

	t.Run("unknown relationship", func(t *testing.T) {
		s, _ := setup(t)

		res, err := s.ReplaceRelationship(ctx, "books", "1", "publisher", jsonapi.Empty())
		require.NoError(t, err)
		assert.Equal(t, store.NotFound, res.Outcome)
	})

	t.Run("relationship of missing resource", func(t *testing.T) {
		s, _ := setup(t)

		res, err := s.AppendRelationship(ctx, "books", "404", "stores", []jsonapi.Identifier{ref("stores", "1")})
		require.NoError(t, err)
		assert.Equal(t, store.NotFound, res.Outcome)
		assert.Empty(t, res.Missing)
	})
}
