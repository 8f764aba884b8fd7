package testfixtures

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/example/deskbot/internal/persistence/sqlite"
)

// NewSQLiteStorage opens a migrated file-backed storage in a temporary
// directory and registers its cleanup with the test.
func NewSQLiteStorage(tb testing.TB) *sqlite.Storage {
	tb.Helper()

	path := filepath.Join(tb.TempDir(), "deskbot.db")
	storage, err := sqlite.Open(path)
	if err != nil {
		tb.Fatalf("open sqlite storage: %v", err)
	}
	tb.Cleanup(func() { storage.Close() })

	if err := storage.Migrate(context.Background()); err != nil {
		tb.Fatalf("migrate sqlite storage: %v", err)
	}
	return storage
}
