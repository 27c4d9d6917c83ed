package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Dremora/endpoints/internal/endpoint"
	"github.com/Dremora/endpoints/internal/jsonapi"
	"github.com/Dremora/endpoints/internal/schema"
	"github.com/Dremora/endpoints/internal/store"
	"github.com/Dremora/endpoints/internal/store/memstore"
	"github.com/Dremora/endpoints/internal/store/storetest"
)

// newTestServer builds a Server over a freshly seeded in-memory store
func newTestServer(t *testing.T) *Server {
	t.Helper()

	backend := memstore.New()
	if err := storetest.Reset(context.Background(), backend); err != nil {
		t.Fatalf("Failed to seed store: %v", err)
	}
	reg := schema.Default()
	st := store.New(backend, reg, store.WithClock(func() time.Time { return storetest.Clock }))

	return &Server{
		Handler: endpoint.New(st, reg, endpoint.Options{
			Negotiator: jsonapi.NewNegotiator(),
			Timeout:    time.Second,
		}),
		StoreDriver: "memory",
		Metrics:     NewMetrics(),
	}
}

// makeRequest sends a JSON:API request through router
func makeRequest(t *testing.T, router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Accept", jsonapi.MediaType)
	if body != "" {
		req.Header.Set("Content-Type", jsonapi.MediaType)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}
