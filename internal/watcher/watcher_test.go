package watcher

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pyrite-go/kbsearch/internal/store"
	"github.com/pyrite-go/kbsearch/internal/worker"
)

func newTestDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.RegisterKB("notes", "notes", "", "", false); err != nil {
		t.Fatalf("RegisterKB: %v", err)
	}
	return db
}

func TestEntryIDForPath(t *testing.T) {
	cases := map[string]string{
		"/vault/launch-plan.md":        "launch-plan",
		"/vault/sub/dir/note.md":       "note",
		"note-without-extension.md":    "note-without-extension",
	}
	for path, want := range cases {
		if got := entryIDForPath(path); got != want {
			t.Errorf("entryIDForPath(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestWalkDirsSkipsConfigured(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, ".git"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(root, "notes"), 0o755); err != nil {
		t.Fatal(err)
	}

	dirs := walkDirs(root)
	var sawGit, sawNotes bool
	for _, d := range dirs {
		if filepath.Base(d) == ".git" {
			sawGit = true
		}
		if filepath.Base(d) == "notes" {
			sawNotes = true
		}
	}
	if sawGit {
		t.Errorf("walkDirs descended into .git, should be skipped")
	}
	if !sawNotes {
		t.Errorf("walkDirs missed the notes directory")
	}
}

func TestReindexFilesUpsertsAndEnqueues(t *testing.T) {
	db := newTestDB(t)
	root := t.TempDir()
	path := filepath.Join(root, "plan.md")
	content := "---\nid: plan\ntitle: Launch Plan\n---\n\nBody text.\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	w := worker.New(db, nil, store.DefaultMaxAttempts)
	reindexFiles(db, w, "notes", nil, []string{path})

	entry, err := db.GetEntry("plan", "notes")
	if err != nil {
		t.Fatalf("GetEntry: %v", err)
	}
	if entry.Title != "Launch Plan" {
		t.Errorf("Title = %q, want %q", entry.Title, "Launch Plan")
	}

	status, err := db.QueueStatus()
	if err != nil {
		t.Fatalf("QueueStatus: %v", err)
	}
	if status.Pending != 1 {
		t.Errorf("QueueStatus.Pending = %d, want 1", status.Pending)
	}
}
