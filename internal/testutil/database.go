package testutil

import (
	"testing"

	"scribe-go/internal/database"
	"scribe-go/internal/scribe"
)

// NewTestDatabase creates a migrated in-memory SQLite index. The database
// is closed when the test completes.
func NewTestDatabase(t *testing.T, clock scribe.Clock) *database.SQLiteDatabase {
	t.Helper()

	db, err := database.NewSQLiteDatabase(":memory:", clock)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})

	if err := db.Migrate(); err != nil {
		t.Fatalf("failed to migrate database: %v", err)
	}
	return db
}
