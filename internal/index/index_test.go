package index

import (
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/starford/othala/internal/storage"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "othala-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestUpsertAndPathsWithTag(t *testing.T) {
	db := testDB(t)

	docs := []struct {
		path string
		tags []string
	}{
		{"b.md", []string{"draft", "work"}},
		{"a.md", []string{"draft"}},
		{"c.md", []string{"archive"}},
	}
	for _, d := range docs {
		row := DocRow{Path: d.path, Checksum: "cs", UpdatedAt: time.Now()}
		if err := db.UpsertDocument(row, d.tags); err != nil {
			t.Fatalf("UpsertDocument(%s): %v", d.path, err)
		}
	}

	paths, err := db.PathsWithTag("draft")
	if err != nil {
		t.Fatalf("PathsWithTag: %v", err)
	}
	if len(paths) != 2 || paths[0] != "a.md" || paths[1] != "b.md" {
		t.Errorf("paths = %v, want [a.md b.md]", paths)
	}

	paths, err = db.PathsWithTag("missing")
	if err != nil {
		t.Fatalf("PathsWithTag: %v", err)
	}
	if len(paths) != 0 {
		t.Errorf("paths = %v, want empty", paths)
	}
}

func TestUpsertReplacesTags(t *testing.T) {
	db := testDB(t)
	row := DocRow{Path: "a.md", Checksum: "1", UpdatedAt: time.Now()}
	if err := db.UpsertDocument(row, []string{"old"}); err != nil {
		t.Fatal(err)
	}
	row.Checksum = "2"
	if err := db.UpsertDocument(row, []string{"new"}); err != nil {
		t.Fatal(err)
	}

	paths, _ := db.PathsWithTag("old")
	if len(paths) != 0 {
		t.Errorf("stale tag still matches: %v", paths)
	}
	paths, _ = db.PathsWithTag("new")
	if len(paths) != 1 {
		t.Errorf("new tag missing: %v", paths)
	}
}

func TestDeleteDocument(t *testing.T) {
	db := testDB(t)
	_ = db.UpsertDocument(DocRow{Path: "a.md", UpdatedAt: time.Now()}, []string{"t"})
	if err := db.DeleteDocument("a.md"); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}
	paths, _ := db.PathsWithTag("t")
	if len(paths) != 0 {
		t.Errorf("tags survived delete: %v", paths)
	}
	cs, _ := db.AllChecksums()
	if len(cs) != 0 {
		t.Errorf("document survived delete: %v", cs)
	}
}

func TestSync(t *testing.T) {
	db := testDB(t)
	dir := t.TempDir()
	store, err := storage.NewFS(dir)
	if err != nil {
		t.Fatal(err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	_ = store.Write("one.md", []byte("---\ntags:\n  - draft\n---\nbody\n"))
	_ = store.Write("two.md", []byte("no frontmatter\n"))

	if err := Sync(db, store, logger); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	paths, err := db.PathsWithTag("draft")
	if err != nil {
		t.Fatal(err)
	}
	if len(paths) != 1 || paths[0] != "one.md" {
		t.Errorf("paths = %v, want [one.md]", paths)
	}

	all, err := db.ListPaths()
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Errorf("ListPaths = %v, want 2 entries", all)
	}

	// Removing a file on disk removes it from the index on the next sync.
	os.Remove(dir + "/two.md")
	if err := Sync(db, store, logger); err != nil {
		t.Fatalf("Sync after delete: %v", err)
	}
	all, _ = db.ListPaths()
	if len(all) != 1 || all[0] != "one.md" {
		t.Errorf("ListPaths = %v, want [one.md]", all)
	}
}
