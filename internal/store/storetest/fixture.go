// Package storetest seeds store backends with a known set of resources and
// holds the behaviour checks every backend must pass.
package storetest

import (
	"context"
	"fmt"

	"github.com/Dremora/endpoints/internal/jsonapi"
	"github.com/Dremora/endpoints/internal/store"
)

// Seeder is implemented by backends that can be reset to a fixture
type Seeder interface {
	Put(ctx context.Context, rec *store.Record) error
	Clear(ctx context.Context) error
}

func ref(typ, id string) jsonapi.Identifier {
	return jsonapi.Identifier{Type: typ, ID: id}
}

// Fixture returns the seed records:
//
//	books 1..3 (book 1 has an author, series, two stores and a genre tag)
//	authors 1..2, stores 1..3, series 1, genres 1..2
func Fixture() []*store.Record {
	recs := []*store.Record{
		{
			Type: "books",
			ID:   "1",
			Attributes: map[string]any{
				"title":          "The Fellowship of the Ring",
				"date_published": "1954-07-29",
				"isbn":           "9780618346257",
				"page_count":     float64(423),
			},
			Relationships: map[string]jsonapi.Linkage{
				"author": jsonapi.ToOne(ref("authors", "1")),
				"series": jsonapi.ToOne(ref("series", "1")),
				"stores": jsonapi.ToMany(ref("stores", "1"), ref("stores", "2")),
				"tags":   jsonapi.ToMany(ref("genres", "1")),
			},
		},
		{
			Type: "books",
			ID:   "2",
			Attributes: map[string]any{
				"title":          "The Two Towers",
				"date_published": "1954-11-11",
				"isbn":           "9780618346264",
			},
			Relationships: map[string]jsonapi.Linkage{
				"author": jsonapi.ToOne(ref("authors", "1")),
			},
		},
		{
			Type: "books",
			ID:   "3",
			Attributes: map[string]any{
				"title": "Harry Potter and the Philosopher's Stone",
			},
		},
		{Type: "authors", ID: "1", Attributes: map[string]any{"name": "J. R. R. Tolkien", "date_of_birth": "1892-01-03", "date_of_death": "1973-09-02"}},
		{Type: "authors", ID: "2", Attributes: map[string]any{"name": "J. K. Rowling", "date_of_birth": "1965-07-31"}},
		{Type: "series", ID: "1", Attributes: map[string]any{"title": "The Lord of the Rings"}},
		{Type: "genres", ID: "1", Attributes: map[string]any{"name": "Fantasy"}},
		{Type: "genres", ID: "2", Attributes: map[string]any{"name": "Adventure"}},
	}
	for i := 1; i <= 3; i++ {
		recs = append(recs, &store.Record{
			Type:       "stores",
			ID:         fmt.Sprint(i),
			Attributes: map[string]any{"name": fmt.Sprintf("Store %d", i)},
		})
	}

	recs[3].Relationships = map[string]jsonapi.Linkage{
		"books": jsonapi.ToMany(ref("books", "1"), ref("books", "2")),
	}
	return recs
}

// Reset clears the backend and writes the fixture
func Reset(ctx context.Context, s Seeder) error {
	if err := s.Clear(ctx); err != nil {
		return fmt.Errorf("clear: %w", err)
	}
	for _, rec := range Fixture() {
		if err := s.Put(ctx, rec); err != nil {
			return fmt.Errorf("seed %s: %w", rec.Identifier(), err)
		}
	}
	return nil
}
