package testutil

import (
	"path/filepath"
	"testing"

	"github.com/mailsweep/mailsweep/internal/store"
)

// NewTestStore creates a temporary database for testing. Open runs the
// schema migrations, and the database is cleaned up when the test
// completes.
func NewTestStore(t *testing.T) *store.Store {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := store.Open(dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}

	t.Cleanup(func() {
		st.Close()
	})

	return st
}
