package worker

import (
	"errors"
	"testing"

	"github.com/pyrite-go/kbsearch/internal/config"
	"github.com/pyrite-go/kbsearch/internal/store"
)

type stubProvider struct {
	fail bool
	dim  int
}

func (s stubProvider) GetEmbedding(text, purpose string) ([]float32, error) {
	return s.GetDocumentEmbedding(text)
}

func (s stubProvider) GetDocumentEmbedding(text string) ([]float32, error) {
	if s.fail {
		return nil, errors.New("stub failure")
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

func (s stubProvider) GetQueryEmbedding(text string) ([]float32, error) {
	return s.GetDocumentEmbedding(text)
}

func (s stubProvider) Name() string  { return "stub" }
func (s stubProvider) Model() string { return "stub-model" }
func (s stubProvider) Dimensions() int {
	if s.dim == 0 {
		return config.EmbeddingDimensions()
	}
	return s.dim
}

func newTestDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.RegisterKB("research", "research", "", "", false); err != nil {
		t.Fatalf("RegisterKB: %v", err)
	}
	if err := db.UpsertEntry(store.Entry{ID: "a", KBName: "research", Title: "A", Body: "body a"}); err != nil {
		t.Fatalf("UpsertEntry: %v", err)
	}
	return db
}

func TestWorker_ProcessBatch_Success(t *testing.T) {
	db := newTestDB(t)
	w := New(db, stubProvider{}, 3)

	if err := w.Enqueue("a", "research"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	result, err := w.ProcessBatch(10)
	if err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	if result.Succeeded != 1 || result.Failed != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}

	status, err := w.GetStatus()
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if status.Total != 0 {
		t.Fatalf("expected queue drained, got %+v", status)
	}
}

func TestWorker_ProcessBatch_RetryThenQuarantine(t *testing.T) {
	db := newTestDB(t)
	w := New(db, stubProvider{fail: true}, 2)

	if err := w.Enqueue("a", "research"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	if _, err := w.ProcessBatch(10); err != nil {
		t.Fatalf("ProcessBatch 1: %v", err)
	}
	status, _ := w.GetStatus()
	if status.Pending != 1 || status.Failed != 0 {
		t.Fatalf("expected still pending after first failure: %+v", status)
	}

	if _, err := w.ProcessBatch(10); err != nil {
		t.Fatalf("ProcessBatch 2: %v", err)
	}
	status, _ = w.GetStatus()
	if status.Failed != 1 || status.Pending != 0 {
		t.Fatalf("expected quarantined after max attempts: %+v", status)
	}

	// A third batch must skip the quarantined row entirely.
	result, err := w.ProcessBatch(10)
	if err != nil {
		t.Fatalf("ProcessBatch 3: %v", err)
	}
	if result.Attempted != 0 {
		t.Fatalf("expected quarantined row skipped, got %+v", result)
	}

	if err := w.Reset("a", "research"); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	status, _ = w.GetStatus()
	if status.Pending != 1 || status.Failed != 0 {
		t.Fatalf("expected reset row pending: %+v", status)
	}
}

func TestWorker_Enqueue_Idempotent(t *testing.T) {
	db := newTestDB(t)
	w := New(db, stubProvider{}, 3)

	if err := w.Enqueue("a", "research"); err != nil {
		t.Fatalf("Enqueue 1: %v", err)
	}
	if err := w.Enqueue("a", "research"); err != nil {
		t.Fatalf("Enqueue 2: %v", err)
	}
	status, err := w.GetStatus()
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if status.Total != 1 {
		t.Fatalf("expected one row after duplicate enqueue, got %+v", status)
	}
}
