package testsupport

import (
	"testing"

	"dubber/internal/history"
)

// MustOpenHistory opens the run ledger at path and registers cleanup.
func MustOpenHistory(t testing.TB, path string) *history.Store {
	t.Helper()
	store, err := history.Open(path)
	if err != nil {
		t.Fatalf("history.Open: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}
