package schema

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	reg := Default()

	books, ok := reg.Type("books")
	require.True(t, ok)
	assert.True(t, books.AllowsAttribute("title"))
	assert.False(t, books.AllowsAttribute("colour"))
	assert.Equal(t, "updated_at", books.Touch)
	assert.Equal(t, []string{"author", "series", "stores", "tags"}, books.RelationshipNames())

	stores, ok := books.Relationship("stores")
	require.True(t, ok)
	assert.Equal(t, ToMany, stores.Kind)
	assert.False(t, stores.ReplaceAllowed())
	assert.True(t, stores.DeleteAllowed())
	assert.True(t, stores.Accepts("stores"))
	assert.False(t, stores.Accepts("genres"))

	tags, _ := books.Relationship("tags")
	assert.True(t, tags.Accepts("genres"))
	assert.True(t, tags.Accepts("series"))
	assert.False(t, tags.Accepts("books"))

	authors, _ := reg.Type("authors")
	authorBooks, _ := authors.Relationship("books")
	assert.False(t, authorBooks.DeleteAllowed())
	assert.True(t, authorBooks.ReplaceAllowed())

	_, ok = reg.Type("chapters")
	assert.False(t, ok)

	names := make([]string, 0)
	for _, rt := range reg.Types() {
		names = append(names, rt.Name)
	}
	assert.Equal(t, []string{"authors", "books", "genres", "series", "stores"}, names)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"no types", `types: {}`, "no resource types"},
		{"bad yaml", `types: [`, "decode yaml"},
		{"bad kind", "types:\n  a:\n    relationships:\n      r: {kind: many, type: a}\n", "kind must be"},
		{"unknown target", "types:\n  a:\n    relationships:\n      r: {kind: to-one, type: b}\n", "unknown type"},
		{"heterogeneous to-one", "types:\n  a:\n    relationships:\n      r: {kind: to-one, heterogeneous: true, types: [a]}\n", "cannot be heterogeneous"},
		{"heterogeneous without types", "types:\n  a:\n    relationships:\n      r: {kind: to-many, heterogeneous: true}\n", "must list types"},
		{"missing type", "types:\n  a:\n    relationships:\n      r: {kind: to-many}\n", "type is required"},
		{"undeclared unique", "types:\n  a:\n    attributes: [x]\n    unique: [y]\n", "unique attribute"},
		{"undeclared touch", "types:\n  a:\n    attributes: [x]\n    touch: y\n", "touch attribute"},
		{"bad expression", "types:\n  a:\n    constraints:\n      - expr: \"attrs.x >\"\n", "constraint"},
		{"empty expression", "types:\n  a:\n    constraints:\n      - name: nothing\n", "no expression"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestCheck(t *testing.T) {
	reg, err := Parse([]byte(`
types:
  books:
    constraints:
      - name: title-not-blank
        expr: "!has(attrs.title) || type(attrs.title) != string || size(attrs.title) > 0"
        message: title must not be blank
      - name: positive-pages
        expr: "!has(attrs.page_count) || type(attrs.page_count) != double || attrs.page_count > 0.0"
`))
	require.NoError(t, err)
	books, _ := reg.Type("books")

	assert.NoError(t, books.Check("1", map[string]any{"title": "Dune"}))
	assert.NoError(t, books.Check("1", map[string]any{}))
	assert.NoError(t, books.Check("1", nil))
	assert.NoError(t, books.Check("1", map[string]any{"title": nil}))
	assert.NoError(t, books.Check("1", map[string]any{"page_count": float64(412)}))

	err = books.Check("1", map[string]any{"title": ""})
	var v *Violation
	require.True(t, errors.As(err, &v))
	assert.Equal(t, "title-not-blank", v.Constraint)
	assert.Contains(t, err.Error(), "title must not be blank")

	err = books.Check("1", map[string]any{"page_count": float64(0)})
	require.True(t, errors.As(err, &v))
	assert.Equal(t, "positive-pages", v.Constraint)
}

func TestLoad(t *testing.T) {
	reg, err := Load("")
	require.NoError(t, err)
	_, ok := reg.Type("books")
	assert.True(t, ok)

	path := filepath.Join(t.TempDir(), "schema.yaml")
	require.NoError(t, os.WriteFile(path, []byte("types:\n  widgets:\n    attributes: [name]\n"), 0o600))
	reg, err = Load(path)
	require.NoError(t, err)
	_, ok = reg.Type("widgets")
	assert.True(t, ok)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
