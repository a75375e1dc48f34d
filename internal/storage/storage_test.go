package storage

import (
	"path/filepath"
	"testing"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "relay-test.db")
	db, err := New(path, 0)
	if err != nil {
		t.Fatalf("could not open test db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	return &db
}
