package store

import (
	"errors"
	"testing"
)

func TestEnqueueEmbeddingIdempotent(t *testing.T) {
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer db.Close()

	if err := db.EnqueueEmbedding("a", "notes"); err != nil {
		t.Fatalf("enqueue 1: %v", err)
	}
	if err := db.EnqueueEmbedding("a", "notes"); err != nil {
		t.Fatalf("enqueue 2: %v", err)
	}

	status, err := db.QueueStatus()
	if err != nil {
		t.Fatalf("QueueStatus: %v", err)
	}
	if status.Total != 1 {
		t.Fatalf("expected 1 row for duplicate enqueue, got %d", status.Total)
	}
}

func TestPendingQueueRowsFIFO(t *testing.T) {
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer db.Close()

	if _, err := db.conn.Exec(`INSERT INTO embed_queue (entry_id, kb_name, queued_at, status, attempts) VALUES
		('b', 'notes', '2024-01-02T00:00:00Z', 'pending', 0),
		('a', 'notes', '2024-01-01T00:00:00Z', 'pending', 0)`); err != nil {
		t.Fatalf("seed: %v", err)
	}

	rows, err := db.PendingQueueRows(10, DefaultMaxAttempts)
	if err != nil {
		t.Fatalf("PendingQueueRows: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].EntryID != "a" || rows[1].EntryID != "b" {
		t.Errorf("expected FIFO order by queued_at, got %v then %v", rows[0].EntryID, rows[1].EntryID)
	}
}

// TestApplyQueueOutcomesStateMachine checks that a row failing max_attempts
// times is quarantined: status 'failed' and no longer returned as pending.
func TestApplyQueueOutcomesStateMachine(t *testing.T) {
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer db.Close()

	if err := db.EnqueueEmbedding("a", "notes"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	maxAttempts := 2
	for i := 0; i < maxAttempts; i++ {
		err := db.ApplyQueueOutcomes([]QueueOutcome{{EntryID: "a", KBName: "notes", Success: false, Err: errors.New("boom")}}, maxAttempts)
		if err != nil {
			t.Fatalf("ApplyQueueOutcomes %d: %v", i, err)
		}
	}

	rows, err := db.PendingQueueRows(10, maxAttempts)
	if err != nil {
		t.Fatalf("PendingQueueRows: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected quarantined row excluded from pending, got %v", rows)
	}

	status, err := db.QueueStatus()
	if err != nil {
		t.Fatalf("QueueStatus: %v", err)
	}
	if status.Failed != 1 || status.Pending != 0 {
		t.Fatalf("expected quarantined row, got %+v", status)
	}
}

func TestApplyQueueOutcomesSuccessDeletesRow(t *testing.T) {
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer db.Close()

	if err := db.EnqueueEmbedding("a", "notes"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := db.ApplyQueueOutcomes([]QueueOutcome{{EntryID: "a", KBName: "notes", Success: true}}, DefaultMaxAttempts); err != nil {
		t.Fatalf("ApplyQueueOutcomes: %v", err)
	}

	status, err := db.QueueStatus()
	if err != nil {
		t.Fatalf("QueueStatus: %v", err)
	}
	if status.Total != 0 {
		t.Fatalf("expected queue drained after success, got %+v", status)
	}
}

func TestResetQueueRow(t *testing.T) {
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer db.Close()

	if err := db.EnqueueEmbedding("a", "notes"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := db.ApplyQueueOutcomes([]QueueOutcome{{EntryID: "a", KBName: "notes", Success: false, Err: errors.New("x")}}, 1); err != nil {
		t.Fatalf("ApplyQueueOutcomes: %v", err)
	}
	status, _ := db.QueueStatus()
	if status.Failed != 1 {
		t.Fatalf("expected quarantined before reset: %+v", status)
	}

	if err := db.ResetQueueRow("a", "notes"); err != nil {
		t.Fatalf("ResetQueueRow: %v", err)
	}
	status, _ = db.QueueStatus()
	if status.Pending != 1 || status.Failed != 0 {
		t.Fatalf("expected pending after reset: %+v", status)
	}

	if err := db.ResetQueueRow("missing", "notes"); !errors.Is(err, ErrEntryNotFound) {
		t.Fatalf("expected ErrEntryNotFound for unknown row, got %v", err)
	}
}
