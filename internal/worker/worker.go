// Package worker drains the durable embed_queue table, invoking an
// embedding provider for each pending (entry, kb) pair and recording
// per-row outcomes back onto the store.
package worker

import (
	"fmt"

	"github.com/pyrite-go/kbsearch/internal/embedding"
	"github.com/pyrite-go/kbsearch/internal/store"
)

// Worker is a single-threaded drainer of one DB's embed_queue.
type Worker struct {
	db          *store.DB
	provider    embedding.Provider
	maxAttempts int
}

// New constructs a Worker. maxAttempts <= 0 uses store.DefaultMaxAttempts.
func New(db *store.DB, provider embedding.Provider, maxAttempts int) *Worker {
	if maxAttempts <= 0 {
		maxAttempts = store.DefaultMaxAttempts
	}
	return &Worker{db: db, provider: provider, maxAttempts: maxAttempts}
}

// Enqueue adds (id, kb) to the durable queue.
func (w *Worker) Enqueue(entryID, kbName string) error {
	return w.db.EnqueueEmbedding(entryID, kbName)
}

// BatchResult reports the outcome of one process_batch call.
type BatchResult struct {
	Attempted int
	Succeeded int
	Failed    int
	Quarantined int
}

// ProcessBatch drains up to batchSize eligible rows: each row's embedding
// is attempted individually, but every resulting state transition is
// committed together in one transaction. Per-entry failures are never
// returned to the caller — only aggregate counts are.
func (w *Worker) ProcessBatch(batchSize int) (BatchResult, error) {
	var result BatchResult

	rows, err := w.db.PendingQueueRows(batchSize, w.maxAttempts)
	if err != nil {
		return result, fmt.Errorf("list pending rows: %w", err)
	}
	if len(rows) == 0 {
		return result, nil
	}

	outcomes := make([]store.QueueOutcome, 0, len(rows))
	for _, row := range rows {
		result.Attempted++
		ok, embedErr := w.db.EmbedEntry(w.provider, row.EntryID, row.KBName)
		outcome := store.QueueOutcome{EntryID: row.EntryID, KBName: row.KBName}
		switch {
		case embedErr != nil:
			outcome.Success = false
			outcome.Err = embedErr
		case !ok:
			outcome.Success = false
			outcome.Err = fmt.Errorf("entry not found or has no embeddable text")
		default:
			outcome.Success = true
			result.Succeeded++
		}
		if !outcome.Success {
			result.Failed++
			if row.Attempts+1 >= w.maxAttempts {
				result.Quarantined++
			}
		}
		outcomes = append(outcomes, outcome)
	}

	if err := w.db.ApplyQueueOutcomes(outcomes, w.maxAttempts); err != nil {
		return result, fmt.Errorf("commit batch outcomes: %w", err)
	}
	return result, nil
}

// GetStatus reports aggregate queue counts.
func (w *Worker) GetStatus() (store.QueueStatus, error) {
	return w.db.QueueStatus()
}

// Reset clears a quarantined row back to pending, the manual escape hatch
// in the queue's state machine.
func (w *Worker) Reset(entryID, kbName string) error {
	return w.db.ResetQueueRow(entryID, kbName)
}
