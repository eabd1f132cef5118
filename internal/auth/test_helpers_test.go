package auth

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/infrastructure/database"
	_ "github.com/benjaminthomas/neer-thuli-main-sub000/migrations"
)

// testDB opens a migrated temporary database.
func testDB(t *testing.T) *database.DB {
	t.Helper()

	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "auth.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("migrating test db: %v", err)
	}
	return db
}

// fastVerifier keeps Argon2id cost low so tests stay quick.
var fastVerifier = Argon2Verifier{Time: 1, Memory: 8 * 1024, Threads: 1}
