// Package testutil provides shared test helpers for setting up vaults and databases.
package testutil

import (
	"io"
	"log/slog"
	"os"
	"testing"

	"github.com/starford/othala/internal/index"
	"github.com/starford/othala/internal/storage"
	"github.com/starford/othala/internal/vault"
)

// TestDB creates a temporary SQLite database that is automatically cleaned up.
func TestDB(t *testing.T) *index.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "othala-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := index.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestVault creates a temporary vault directory with a storage.Provider and
// writes the given files into it.
func TestVault(t *testing.T, files map[string]string) (string, storage.Provider) {
	t.Helper()
	vaultDir := t.TempDir()
	store, err := storage.NewFS(vaultDir)
	if err != nil {
		t.Fatal(err)
	}
	for path, content := range files {
		if err := store.Write(path, []byte(content)); err != nil {
			t.Fatalf("seed %s: %v", path, err)
		}
	}
	return vaultDir, store
}

// TestCollection builds a seeded vault, syncs a temporary index over it, and
// loads the collection.
func TestCollection(t *testing.T, files map[string]string) (*vault.Collection, storage.Provider, *index.DB) {
	t.Helper()
	_, store := TestVault(t, files)
	db := TestDB(t)
	if err := index.Sync(db, store, DiscardLogger()); err != nil {
		t.Fatalf("sync: %v", err)
	}
	coll, err := vault.Load(store, db)
	if err != nil {
		t.Fatalf("load collection: %v", err)
	}
	return coll, store, db
}

// DiscardLogger returns a logger that drops everything.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
