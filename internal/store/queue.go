package store

import (
	"fmt"
	"time"
)

// DefaultMaxAttempts bounds embed_queue retries before a row is quarantined.
const DefaultMaxAttempts = 5

// QueueRow is a single embed_queue entry.
type QueueRow struct {
	EntryID  string
	KBName   string
	QueuedAt string
	Status   string
	Error    string
	Attempts int
}

// EnqueueEmbedding inserts (id, kb) into embed_queue, a no-op if the pair is
// already present (idempotent via INSERT OR IGNORE).
func (db *DB) EnqueueEmbedding(entryID, kbName string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	_, err := db.conn.Exec(
		`INSERT OR IGNORE INTO embed_queue (entry_id, kb_name, queued_at, status, attempts)
		 VALUES (?, ?, ?, 'pending', 0)`,
		entryID, kbName, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("enqueue embedding: %w", err)
	}
	return nil
}

// PendingQueueRows returns up to batchSize rows eligible for processing:
// status='pending' AND attempts<maxAttempts, FIFO by queued_at.
func (db *DB) PendingQueueRows(batchSize, maxAttempts int) ([]QueueRow, error) {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	rows, err := db.conn.Query(
		`SELECT entry_id, kb_name, queued_at, status, COALESCE(error,''), attempts
		 FROM embed_queue
		 WHERE status = 'pending' AND attempts < ?
		 ORDER BY queued_at ASC
		 LIMIT ?`,
		maxAttempts, batchSize,
	)
	if err != nil {
		return nil, fmt.Errorf("list pending queue rows: %w", err)
	}
	defer rows.Close()

	var out []QueueRow
	for rows.Next() {
		var r QueueRow
		if err := rows.Scan(&r.EntryID, &r.KBName, &r.QueuedAt, &r.Status, &r.Error, &r.Attempts); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// QueueOutcome is the result of attempting to embed one queue row, reported
// back to ApplyQueueOutcomes by the caller that actually invoked the
// embedding service (kept out of the store so it has no provider
// dependency).
type QueueOutcome struct {
	EntryID string
	KBName  string
	Success bool
	Err     error
}

// ApplyQueueOutcomes commits a batch's results in a single transaction:
// successful rows are deleted; failed rows have attempts incremented and,
// once the count reaches maxAttempts, status set to 'failed' (quarantined).
func (db *DB) ApplyQueueOutcomes(outcomes []QueueOutcome, maxAttempts int) error {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if len(outcomes) == 0 {
		return nil
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, o := range outcomes {
		if o.Success {
			if _, err := tx.Exec(`DELETE FROM embed_queue WHERE entry_id = ? AND kb_name = ?`, o.EntryID, o.KBName); err != nil {
				return fmt.Errorf("delete queue row: %w", err)
			}
			continue
		}

		errText := ""
		if o.Err != nil {
			errText = truncateRunes(o.Err.Error(), 500)
		}
		var attempts int
		if err := tx.QueryRow(`SELECT attempts FROM embed_queue WHERE entry_id = ? AND kb_name = ?`, o.EntryID, o.KBName).Scan(&attempts); err != nil {
			return fmt.Errorf("read attempts: %w", err)
		}
		attempts++
		status := "pending"
		if attempts >= maxAttempts {
			status = "failed"
		}
		if _, err := tx.Exec(
			`UPDATE embed_queue SET attempts = ?, status = ?, error = ? WHERE entry_id = ? AND kb_name = ?`,
			attempts, status, errText, o.EntryID, o.KBName,
		); err != nil {
			return fmt.Errorf("update queue row: %w", err)
		}
	}

	return tx.Commit()
}

// QueueStatus is the get_status() aggregate.
type QueueStatus struct {
	Pending int
	Failed  int
	Total   int
}

// QueueStatus reports aggregate counts across embed_queue.
func (db *DB) QueueStatus() (QueueStatus, error) {
	var s QueueStatus
	row := db.conn.QueryRow(
		`SELECT
			COALESCE(SUM(CASE WHEN status = 'pending' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0),
			COUNT(*)
		 FROM embed_queue`,
	)
	if err := row.Scan(&s.Pending, &s.Failed, &s.Total); err != nil {
		return s, fmt.Errorf("queue status: %w", err)
	}
	return s, nil
}

// ResetQueueRow returns a quarantined row to pending with attempts cleared,
// a manual-reset escape hatch out of the quarantined state.
func (db *DB) ResetQueueRow(entryID, kbName string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	res, err := db.conn.Exec(
		`UPDATE embed_queue SET status = 'pending', attempts = 0, error = NULL WHERE entry_id = ? AND kb_name = ?`,
		entryID, kbName,
	)
	if err != nil {
		return fmt.Errorf("reset queue row: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%w: no queue row for (%s, %s)", ErrEntryNotFound, entryID, kbName)
	}
	return nil
}
