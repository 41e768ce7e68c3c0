// Package testing provides database helpers, fixtures and fakes shared by the package tests.
package testing

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/aristath/restock/internal/database"
)

// NewTestDB opens a migrated in-memory database that is closed when the test ends
func NewTestDB(t *testing.T) *database.DB {
	t.Helper()
	return open(t, "file::memory:")
}

// NewFileTestDB opens a migrated database backed by a file in t.TempDir().
// Use it when the test needs a real database file on disk.
func NewFileTestDB(t *testing.T) *database.DB {
	t.Helper()
	return open(t, filepath.Join(t.TempDir(), "restock.db"))
}

func open(t *testing.T, path string) *database.DB {
	t.Helper()
	db, err := database.New(database.Config{
		Path:    path,
		Profile: database.ProfileStandard,
		Name:    "test",
	})
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Logf("Warning: Failed to close test database: %v", err)
		}
	})

	if err := db.Migrate(); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}
	return db
}

// Exec runs a statement and fails the test on error
func Exec(t *testing.T, db *sql.DB, query string, args ...interface{}) {
	t.Helper()
	if _, err := db.Exec(query, args...); err != nil {
		t.Fatalf("Failed to execute %q: %v", query, err)
	}
}
