package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Dremora/endpoints/internal/jsonapi"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInfo(t *testing.T) {
	srv := newTestServer(t)
	srv.RateLimitConfig = RateLimitInfo{WindowSeconds: 60, MaxRequests: 100, Burst: 10}
	router := srv.Routes()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/info", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var info ServerInfo
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&info))

	assert.Equal(t, jsonapi.MediaType, info.MediaType)
	assert.Equal(t, "memory", info.StoreDriver)
	require.NotNil(t, info.RateLimit)
	assert.Equal(t, 100, info.RateLimit.MaxRequests)
	assert.NotEmpty(t, info.ServerTime)

	books, ok := info.Types["books"]
	require.True(t, ok)
	assert.Equal(t, "updated_at", books.Touch)
	assert.Contains(t, books.Unique, "isbn")

	stores := books.Relationships["stores"]
	assert.Equal(t, "to-many", stores.Kind)
	assert.Equal(t, []string{"stores"}, stores.Types)
	assert.False(t, stores.AllowReplace)
	assert.True(t, stores.AllowAppend)
	assert.True(t, stores.AllowDelete)

	author := books.Relationships["author"]
	assert.Equal(t, "to-one", author.Kind)
	assert.True(t, author.AllowReplace)
	assert.False(t, author.AllowAppend)
	assert.False(t, author.AllowDelete)

	tags := books.Relationships["tags"]
	assert.ElementsMatch(t, []string{"genres", "series"}, tags.Types)
}

func TestHealthReportsStoreFailure(t *testing.T) {
	srv := newTestServer(t)
	srv.Ping = func(ctx context.Context) error { return errors.New("connection refused") }
	router := srv.Routes()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "unavailable", rec.Body.String())
}

func TestMetrics(t *testing.T) {
	srv := newTestServer(t)
	router := srv.Routes()

	makeRequest(t, router, "GET", "/books/1", "")
	makeRequest(t, router, "GET", "/books/2", "")
	makeRequest(t, router, "GET", "/books/404", "")

	assert.Equal(t, 2.0, testutil.ToFloat64(srv.Metrics.RequestsTotal.WithLabelValues("/{type}/{id}", "GET", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(srv.Metrics.RequestsTotal.WithLabelValues("/{type}/{id}", "GET", "404")))
	assert.Equal(t, 0.0, testutil.ToFloat64(srv.Metrics.InFlight))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "endpoints_http_requests_total"))
	assert.True(t, strings.Contains(body, "go_goroutines"))
}
