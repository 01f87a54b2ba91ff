package store

import (
	"errors"
	"strings"
	"testing"

	"github.com/pyrite-go/kbsearch/internal/config"
)

// stubEmbedProvider is a minimal embedding.Provider for store-package tests;
// it returns a deterministic vector sized to match vec_entry's configured
// dimension so inserts never hit a dimension-mismatch error.
type stubEmbedProvider struct {
	fail bool
	dim  int
	vec  func(text string) []float32
}

func (s stubEmbedProvider) GetEmbedding(text, purpose string) ([]float32, error) {
	return s.GetDocumentEmbedding(text)
}

func (s stubEmbedProvider) GetDocumentEmbedding(text string) ([]float32, error) {
	if s.fail {
		return nil, errors.New("stub embedding failure")
	}
	if s.vec != nil {
		return s.vec(text), nil
	}
	dim := s.dim
	if dim == 0 {
		// vec_entry is created with a fixed dimension at migration time
		// (config.EmbeddingDimensions()); the stub must match it or every
		// insert fails with a dimension mismatch.
		dim = config.EmbeddingDimensions()
	}
	v := make([]float32, dim)
	v[0] = 1
	return v, nil
}

func (s stubEmbedProvider) GetQueryEmbedding(text string) ([]float32, error) {
	return s.GetDocumentEmbedding(text)
}

func (s stubEmbedProvider) Name() string  { return "stub" }
func (s stubEmbedProvider) Model() string { return "stub-model" }
func (s stubEmbedProvider) Dimensions() int {
	if s.dim == 0 {
		return config.EmbeddingDimensions()
	}
	return s.dim
}

func openVecTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if !db.VecAvailable() {
		t.Skip("sqlite-vec extension not available in this build")
	}
	return db
}

func TestEntryText(t *testing.T) {
	e := &Entry{Title: "Title", Summary: "Summary", Body: strings.Repeat("x", 600)}
	text := entryText(e)
	const prefix = "Title Summary "
	if !strings.HasPrefix(text, prefix) {
		t.Fatalf("expected title/summary prefix, got %q", text[:len(prefix)])
	}
	if strings.Count(text, "x") != 500 {
		t.Errorf("expected body truncated to 500 runes, got %d", strings.Count(text, "x"))
	}
}

func TestEntryTextSkipsEmptyFields(t *testing.T) {
	e := &Entry{Title: "", Summary: "", Body: ""}
	if got := entryText(e); got != "" {
		t.Errorf("expected empty text for textless entry, got %q", got)
	}
}

func TestEmbedEntrySkipsMissingOrTextless(t *testing.T) {
	db := openVecTestDB(t)

	ok, err := db.EmbedEntry(stubEmbedProvider{}, "missing", "notes")
	if err != nil || ok {
		t.Fatalf("expected (false, nil) for missing entry, got (%v, %v)", ok, err)
	}

	if err := db.UpsertEntry(Entry{ID: "empty", KBName: "notes"}); err != nil {
		t.Fatalf("UpsertEntry: %v", err)
	}
	ok, err = db.EmbedEntry(stubEmbedProvider{}, "empty", "notes")
	if err != nil || ok {
		t.Fatalf("expected (false, nil) for textless entry, got (%v, %v)", ok, err)
	}
}

func TestEmbedEntrySuccess(t *testing.T) {
	db := openVecTestDB(t)

	if err := db.UpsertEntry(Entry{ID: "a", KBName: "notes", Title: "A", Body: "content"}); err != nil {
		t.Fatalf("UpsertEntry: %v", err)
	}
	ok, err := db.EmbedEntry(stubEmbedProvider{}, "a", "notes")
	if err != nil {
		t.Fatalf("EmbedEntry: %v", err)
	}
	if !ok {
		t.Fatal("expected EmbedEntry to succeed")
	}
	if !db.HasEmbeddings() {
		t.Error("expected HasEmbeddings true after embedding")
	}
}

// TestEmbedAllLifecycle checks that embed_all returns {embedded:N,
// skipped:0}, and a second call returns {embedded:0, skipped:N}.
func TestEmbedAllLifecycle(t *testing.T) {
	db := openVecTestDB(t)

	entries := []string{"climate-policy", "tax-reform", "immigration"}
	for _, id := range entries {
		if err := db.UpsertEntry(Entry{ID: id, KBName: "research", Title: id, Body: "content about " + id}); err != nil {
			t.Fatalf("UpsertEntry %s: %v", id, err)
		}
	}

	provider := stubEmbedProvider{}
	stats, err := db.EmbedAll(provider, "", false, nil)
	if err != nil {
		t.Fatalf("EmbedAll: %v", err)
	}
	if stats.Embedded != 3 || stats.Skipped != 0 || stats.Errors != 0 {
		t.Fatalf("expected {3,0,0}, got %+v", stats)
	}

	stats, err = db.EmbedAll(provider, "", false, nil)
	if err != nil {
		t.Fatalf("EmbedAll second pass: %v", err)
	}
	if stats.Embedded != 0 || stats.Skipped != 3 {
		t.Fatalf("expected {0,3,*} on second pass, got %+v", stats)
	}
}

func TestEmbedAllProgressCallback(t *testing.T) {
	db := openVecTestDB(t)

	if err := db.UpsertEntry(Entry{ID: "a", KBName: "notes", Title: "A", Body: "x"}); err != nil {
		t.Fatalf("UpsertEntry: %v", err)
	}
	var calls int
	_, err := db.EmbedAll(stubEmbedProvider{}, "", false, func(current, total int) {
		calls++
	})
	if err != nil {
		t.Fatalf("EmbedAll: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected progress callback once per entry, got %d calls", calls)
	}
}

func TestSearchSimilarDegradesWithoutProvider(t *testing.T) {
	db := openVecTestDB(t)
	hits, err := db.SearchSimilar(nil, "query", "", 10, 1.1)
	if err != nil {
		t.Fatalf("expected nil error on degrade, got %v", err)
	}
	if hits != nil {
		t.Errorf("expected nil hits, got %v", hits)
	}
}

func TestSearchSimilarRanksClosestFirst(t *testing.T) {
	db := openVecTestDB(t)

	dim := config.EmbeddingDimensions()
	vecFor := func(x float32) func(string) []float32 {
		return func(string) []float32 {
			v := make([]float32, dim)
			v[0] = x
			return v
		}
	}

	if err := db.UpsertEntry(Entry{ID: "climate-policy", KBName: "research", Title: "Climate Policy", Body: "environmental regulations"}); err != nil {
		t.Fatalf("UpsertEntry: %v", err)
	}
	if err := db.UpsertEntry(Entry{ID: "tax-reform", KBName: "research", Title: "Tax Reform", Body: "fiscal policy"}); err != nil {
		t.Fatalf("UpsertEntry: %v", err)
	}

	if _, err := db.EmbedEntry(stubEmbedProvider{vec: vecFor(1.0)}, "climate-policy", "research"); err != nil {
		t.Fatalf("EmbedEntry climate-policy: %v", err)
	}
	if _, err := db.EmbedEntry(stubEmbedProvider{vec: vecFor(-1.0)}, "tax-reform", "research"); err != nil {
		t.Fatalf("EmbedEntry tax-reform: %v", err)
	}

	hits, err := db.SearchSimilar(stubEmbedProvider{vec: vecFor(0.9)}, "environmental regulations", "", 10, 2.0)
	if err != nil {
		t.Fatalf("SearchSimilar: %v", err)
	}
	if len(hits) == 0 || hits[0].ID != "climate-policy" {
		t.Fatalf("expected climate-policy ranked first, got %v", hits)
	}
}

func TestEmbeddingStatsCoverage(t *testing.T) {
	db := openVecTestDB(t)

	if err := db.UpsertEntry(Entry{ID: "a", KBName: "notes", Title: "A", Body: "x"}); err != nil {
		t.Fatalf("UpsertEntry a: %v", err)
	}
	if err := db.UpsertEntry(Entry{ID: "b", KBName: "notes", Title: "B", Body: "y"}); err != nil {
		t.Fatalf("UpsertEntry b: %v", err)
	}
	if _, err := db.EmbedEntry(stubEmbedProvider{}, "a", "notes"); err != nil {
		t.Fatalf("EmbedEntry: %v", err)
	}

	total, embedded, pct, err := db.EmbeddingStats()
	if err != nil {
		t.Fatalf("EmbeddingStats: %v", err)
	}
	if total != 2 || embedded != 1 || pct != 50.0 {
		t.Fatalf("expected {2,1,50.0}, got {%d,%d,%v}", total, embedded, pct)
	}
}
