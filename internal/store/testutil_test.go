package store

import (
	"context"
	"os"
	"testing"
)

// newTestStore connects to BROKKR_TEST_DATABASE_URL and ensures the schema.
// These are integration tests against a real Postgres instance, grounded on
// the teacher's newTestStore(t) helper pattern (internal/controlplane/jobs/
// store_test.go) adapted from a throwaway SQLite temp file to a throwaway
// Postgres connection, since pgx has no in-process equivalent.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("BROKKR_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("BROKKR_TEST_DATABASE_URL not set; skipping Postgres-backed test")
	}
	st, err := New(context.Background(), dsn, 4)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(st.Close)
	return st
}
