package jsonapi

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeRequest(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		wantStatus  int
		wantPointer string
		wantHasData bool
	}{
		{name: "empty body", body: ``, wantStatus: http.StatusBadRequest},
		{name: "not json", body: `{nope`, wantStatus: http.StatusBadRequest},
		{name: "array document", body: `[]`, wantStatus: http.StatusBadRequest},
		{name: "unknown member", body: `{"data":{},"errors":[]}`, wantStatus: http.StatusBadRequest, wantPointer: "/errors"},
		{name: "meta not object", body: `{"meta":1}`, wantStatus: http.StatusBadRequest, wantPointer: "/meta"},
		{name: "data and meta", body: `{"data":null,"meta":{"a":1}}`, wantHasData: true},
		{name: "later spellings accepted", body: `{"data":null,"jsonapi":{"version":"1.0"},"included":[]}`, wantHasData: true},
		{name: "no data", body: `{"meta":{}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, p := DecodeRequest([]byte(tt.body))
			if tt.wantStatus != 0 {
				require.NotNil(t, p)
				assert.Equal(t, tt.wantStatus, p.Status)
				if tt.wantPointer != "" {
					require.NotNil(t, p.Errors[0].Source)
					assert.Equal(t, tt.wantPointer, p.Errors[0].Source.Pointer)
				}
				return
			}
			require.Nil(t, p)
			assert.Equal(t, tt.wantHasData, req.HasData)
		})
	}
}

func TestDecodeRequest_ReportsEveryUnknownMember(t *testing.T) {
	_, p := DecodeRequest([]byte(`{"data":{},"zeta":1,"alpha":2}`))
	require.NotNil(t, p)
	require.Len(t, p.Errors, 2)
	assert.Equal(t, "/alpha", p.Errors[0].Source.Pointer)
	assert.Equal(t, "/zeta", p.Errors[1].Source.Pointer)
}

func TestDecodeResource(t *testing.T) {
	t.Run("flattened attributes with numeric id", func(t *testing.T) {
		in, p := DecodeResource(json.RawMessage(`{"type":"books","id":1,"title":"tiddlywinks"}`))
		require.Nil(t, p)
		assert.Equal(t, "books", in.Type)
		assert.Equal(t, "1", in.ID)
		assert.True(t, in.HasID)
		assert.Equal(t, map[string]any{"title": "tiddlywinks"}, in.Attributes)
	})

	t.Run("attributes member wins over flattened", func(t *testing.T) {
		in, p := DecodeResource(json.RawMessage(`{"type":"books","id":"1","title":"a","attributes":{"title":"b","isbn":null}}`))
		require.Nil(t, p)
		assert.Equal(t, "b", in.Attributes["title"])
		v, present := in.Attributes["isbn"]
		assert.True(t, present, "present null must be kept")
		assert.Nil(t, v)
	})

	t.Run("missing id", func(t *testing.T) {
		in, p := DecodeResource(json.RawMessage(`{"type":"books"}`))
		require.Nil(t, p)
		assert.False(t, in.HasID)
		assert.Empty(t, in.Attributes)
	})

	t.Run("relationships", func(t *testing.T) {
		in, p := DecodeResource(json.RawMessage(`{"type":"books","id":"1","relationships":{"author":{"data":{"type":"authors","id":"2"}},"stores":{"data":[]}}}`))
		require.Nil(t, p)
		assert.True(t, in.Relationships["author"].Equal(ToOne(Identifier{"authors", "2"})))
		assert.Equal(t, LinkageToMany, in.Relationships["stores"].Kind)
	})

	shapeErrors := []struct {
		name    string
		input   string
		pointer string
	}{
		{"array", `[{"type":"books","id":"1"}]`, "/data"},
		{"null", `null`, "/data"},
		{"scalar", `"books"`, "/data"},
		{"missing type", `{"id":"1","title":"x"}`, "/data/type"},
		{"empty type", `{"type":"","id":"1"}`, "/data/type"},
		{"numeric type", `{"type":5,"id":"1"}`, "/data/type"},
		{"bad id", `{"type":"books","id":{}}`, "/data/id"},
		{"attributes not object", `{"type":"books","attributes":[]}`, "/data/attributes"},
		{"relationship without data", `{"type":"books","relationships":{"author":{}}}`, "/data/relationships/author"},
		{"relationship bad linkage", `{"type":"books","relationships":{"author":{"data":{"type":"authors"}}}}`, "/data/relationships/author/data/id"},
	}
	for _, tt := range shapeErrors {
		t.Run(tt.name, func(t *testing.T) {
			_, p := DecodeResource(json.RawMessage(tt.input))
			require.NotNil(t, p)
			assert.Equal(t, http.StatusBadRequest, p.Status)
			require.NotNil(t, p.Errors[0].Source)
			assert.Equal(t, tt.pointer, p.Errors[0].Source.Pointer)
		})
	}
}

func TestDecodeRelationshipData(t *testing.T) {
	req, p := DecodeRequest([]byte(`{"meta":{}}`))
	require.Nil(t, p)
	_, p = DecodeRelationshipData(req)
	require.NotNil(t, p)
	assert.Equal(t, http.StatusBadRequest, p.Status)

	req, p = DecodeRequest([]byte(`{"data":[{"type":"stores","id":"1"},{"id":"2"}]}`))
	require.Nil(t, p)
	_, p = DecodeRelationshipData(req)
	require.NotNil(t, p)
	assert.Equal(t, "/data/1/type", p.Errors[0].Source.Pointer)

	req, p = DecodeRequest([]byte(`{"data":null}`))
	require.Nil(t, p)
	linkage, p := DecodeRelationshipData(req)
	require.Nil(t, p)
	assert.Equal(t, LinkageEmpty, linkage.Kind)
}

func TestProblemDocument(t *testing.T) {
	p := NotFound("books:9 does not exist").Add(CodeNotFound, "authors:7 does not exist", "/data/relationships/author/data")
	b, err := json.Marshal(p.Document())
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(b, &doc))
	errs, ok := doc["errors"].([]any)
	require.True(t, ok)
	assert.Len(t, errs, 2)
	assert.Contains(t, p.Error(), "authors:7")
}

func TestPointer(t *testing.T) {
	assert.Equal(t, "/data/attributes/a~1b~0c", Pointer("data", "attributes", "a/b~c"))
	assert.Equal(t, "", Pointer())
}
