package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Dremora/endpoints/internal/jsonapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResourceRoutes(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		wantStatus int
	}{
		{"read", "GET", "/books/1", "", 200},
		{"read missing", "GET", "/books/404", "", 404},
		{"update", "PATCH", "/books/1", `{"data":{"type":"books","id":1,"title":"tiddlywinks"}}`, 200},
		{"update with put", "PUT", "/books/1", `{"data":{"type":"books","id":"1","title":"tiddlywinks"}}`, 200},
		{"update unknown id", "PATCH", "/books/1", `{"data":{"type":"books","id":"asdf","title":"tiddlywinks"}}`, 404},
		{"update wrong type", "PATCH", "/books/1", `{"data":{"type":"authors","id":"1","title":"tiddlywinks"}}`, 409},
		{"update array", "PATCH", "/books/1", `{"data":[]}`, 400},
		{"unchanged", "PATCH", "/books/1", `{"data":{"type":"books","id":"1","title":"The Fellowship of the Ring"}}`, 204},
		{"read relationship", "GET", "/books/1/relationships/stores", "", 200},
		{"append", "POST", "/books/1/relationships/stores", `{"data":[{"type":"stores","id":"3"}]}`, 204},
		{"replace disabled", "PATCH", "/books/1/relationships/stores", `{"data":[]}`, 403},
		{"remove", "DELETE", "/books/1/relationships/stores", `{"data":[{"type":"stores","id":"1"}]}`, 204},
		{"to-one", "PUT", "/books/1/relationships/author", `{"data":null}`, 204},
		{"unknown relationship", "PATCH", "/books/1/relationships/publisher", `{"data":null}`, 404},
		{"no collection route", "GET", "/books", "", 404},
		{"no create route", "POST", "/books/1", `{"data":{"type":"books"}}`, 405},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTestServer(t).Routes()
			w := makeRequest(t, router, tt.method, tt.path, tt.body)

			if w.Code != tt.wantStatus {
				t.Fatalf("Expected status %d, got %d: %s", tt.wantStatus, w.Code, w.Body.String())
			}
			switch {
			case w.Code == 204:
				assert.Empty(t, w.Body.Bytes())
			case w.Code == 200:
				assert.Equal(t, jsonapi.MediaType, w.Header().Get("Content-Type"))
				var doc map[string]any
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doc))
				for key := range doc {
					assert.Contains(t, []string{"data", "meta", "links", "linked"}, key)
				}
			default:
				assert.Equal(t, jsonapi.MediaType, w.Header().Get("Content-Type"))
				var doc struct {
					Errors []map[string]any `json:"errors"`
				}
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doc))
				assert.NotEmpty(t, doc.Errors)
			}
		})
	}
}

func TestHeadersReachHandler(t *testing.T) {
	router := newTestServer(t).Routes()
	body := `{"data":{"type":"books","id":"1","title":"tiddlywinks"}}`

	req := httptest.NewRequest("PATCH", "/books/1", strings.NewReader(body))
	req.Header.Set("Content-Type", jsonapi.MediaType)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotAcceptable, w.Code)

	req = httptest.NewRequest("PATCH", "/books/1", strings.NewReader(body))
	req.Header.Set("Accept", jsonapi.MediaType)
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)

	// Accept split across header lines
	req = httptest.NewRequest("PATCH", "/books/1", strings.NewReader(body))
	req.Header.Add("Accept", "text/html")
	req.Header.Add("Accept", jsonapi.MediaType)
	req.Header.Set("Content-Type", jsonapi.MediaType)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestLinksUseBasePathAndHost(t *testing.T) {
	srv := newTestServer(t)
	srv.BasePath = "/v1/"
	router := srv.Routes()

	req := httptest.NewRequest("GET", "/v1/books/1", nil)
	req.Host = "api.example.com"
	req.Header.Set("Accept", jsonapi.MediaType)
	req.Header.Set("X-Forwarded-Proto", "https")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var doc struct {
		Links map[string]string `json:"links"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doc))
	assert.Equal(t, "https://api.example.com/v1/books/1", doc.Links["self"])

	w = makeRequest(t, router, "GET", "/books/1", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestOversizedBody(t *testing.T) {
	router := newTestServer(t).Routes()
	body := `{"data":{"type":"books","id":"1","title":"` + strings.Repeat("a", maxBodyBytes) + `"}}`

	w := makeRequest(t, router, "PATCH", "/books/1", body)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestHealthAndCorrelation(t *testing.T) {
	srv := newTestServer(t)
	router := srv.Routes()

	req := httptest.NewRequest("GET", "/healthz", nil)
	req.Header.Set("X-Correlation-ID", "abc-123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, 200, w.Code)
	assert.Equal(t, "ok", w.Body.String())
	assert.Equal(t, "abc-123", w.Header().Get("X-Correlation-ID"))

	w = makeRequest(t, router, "GET", "/healthz", "")
	assert.NotEmpty(t, w.Header().Get("X-Correlation-ID"))
}
