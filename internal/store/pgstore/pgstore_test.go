package pgstore

import (
	"context"
	"os"
	"testing"

	"github.com/Dremora/endpoints/internal/db"
	"github.com/Dremora/endpoints/internal/store/storetest"
)

// getTestDB returns a pool against TEST_DATABASE_URL with migrations applied,
// or skips the test
func getTestDB(t *testing.T) *Backend {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping database test in short mode")
	}
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	if err := db.Migrate(url); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}
	pool, err := db.Open(context.Background(), url, db.PoolOptions{MaxConns: 4})
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}
	t.Cleanup(pool.Close)
	return New(pool)
}

func TestBackend(t *testing.T) {
	b := getTestDB(t)
	storetest.Run(t, func(t *testing.T) storetest.Backend {
		return b
	})
}
