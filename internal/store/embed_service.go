package store

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pyrite-go/kbsearch/internal/embedding"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
)

// entryText derives the text an entry is embedded from: title, summary, and
// the first 500 runes of body, space-joined, omitting empty fields.
func entryText(e *Entry) string {
	parts := make([]string, 0, 3)
	if t := strings.TrimSpace(e.Title); t != "" {
		parts = append(parts, t)
	}
	if s := strings.TrimSpace(e.Summary); s != "" {
		parts = append(parts, s)
	}
	if b := strings.TrimSpace(e.Body); b != "" {
		parts = append(parts, truncateRunes(b, 500))
	}
	return strings.Join(parts, " ")
}

// upsertVector replaces any existing vec_entry row for rowID with vec.
// vec0 virtual tables don't support UPDATE, so this deletes then inserts
// within one transaction, keeping at most one vec_entry row per entry
// rowid.
func (db *DB) upsertVector(rowID int64, vec []float32) error {
	if !db.vecAvailable {
		return fmt.Errorf("%w: vector index unavailable", ErrEmbeddingUnavailable)
	}
	blob, err := sqlite_vec.SerializeFloat32(vec)
	if err != nil {
		return fmt.Errorf("serialize embedding: %w", err)
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM vec_entry WHERE rowid = ?`, rowID); err != nil {
		return fmt.Errorf("clear existing vector: %w", err)
	}
	if _, err := tx.Exec(`INSERT INTO vec_entry(rowid, embedding) VALUES (?, ?)`, rowID, blob); err != nil {
		return fmt.Errorf("insert vector: %w", err)
	}
	return tx.Commit()
}

// EmbedEntry computes and stores the embedding for a single entry. Returns
// false, not an error, if the entry is missing or has no embeddable text.
func (db *DB) EmbedEntry(provider embedding.Provider, id, kbName string) (bool, error) {
	e, err := db.GetEntry(id, kbName)
	if err != nil {
		if errors.Is(err, ErrEntryNotFound) {
			return false, nil
		}
		return false, err
	}

	text := entryText(e)
	if text == "" {
		return false, nil
	}

	vec, err := provider.GetDocumentEmbedding(text)
	if err != nil {
		return false, fmt.Errorf("EmbeddingFailed: %w", err)
	}
	if err := db.upsertVector(e.RowID, vec); err != nil {
		return false, err
	}
	return true, nil
}

// EmbedStats reports the outcome of an embed_all pass.
type EmbedStats struct {
	Embedded int
	Skipped  int
	Errors   int
}

type embeddableEntry struct {
	rowID   int64
	title   string
	summary string
	body    string
}

// embeddedRowIDs returns the set of entry rowids already present in
// vec_entry, queried once up front by EmbedAll when force is false.
func (db *DB) embeddedRowIDs() (map[int64]bool, error) {
	rows, err := db.conn.Query(`SELECT rowid FROM vec_entry`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[int64]bool)
	for rows.Next() {
		var rid int64
		if err := rows.Scan(&rid); err != nil {
			return nil, err
		}
		out[rid] = true
	}
	return out, rows.Err()
}

// EmbedAll embeds every entry (optionally filtered by kbName), committing
// all vector writes in a single transaction. If force is false,
// already-embedded rowids are counted as skipped rather than recomputed.
// Individual per-entry failures are counted in Errors and never
// propagated; progress fires once per entry considered.
func (db *DB) EmbedAll(provider embedding.Provider, kbName string, force bool, progress func(current, total int)) (EmbedStats, error) {
	var stats EmbedStats

	where := ""
	args := []any{}
	if kbName != "" {
		where = " WHERE kb_name = ?"
		args = append(args, kbName)
	}
	rows, err := db.conn.Query(`SELECT rowid, title, COALESCE(summary,''), COALESCE(body,'') FROM entry`+where, args...)
	if err != nil {
		return stats, fmt.Errorf("list entries: %w", err)
	}
	var entries []embeddableEntry
	for rows.Next() {
		var e embeddableEntry
		if err := rows.Scan(&e.rowID, &e.title, &e.summary, &e.body); err != nil {
			rows.Close()
			return stats, err
		}
		entries = append(entries, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return stats, err
	}

	var existing map[int64]bool
	if !force {
		existing, err = db.embeddedRowIDs()
		if err != nil {
			return stats, fmt.Errorf("list embedded rowids: %w", err)
		}
	}

	if !db.vecAvailable {
		return stats, fmt.Errorf("%w: vector index unavailable", ErrEmbeddingUnavailable)
	}

	db.mu.Lock()
	tx, err := db.conn.Begin()
	if err != nil {
		db.mu.Unlock()
		return stats, fmt.Errorf("begin tx: %w", err)
	}

	total := len(entries)
	for i, e := range entries {
		if !force && existing[e.rowID] {
			stats.Skipped++
			if progress != nil {
				progress(i+1, total)
			}
			continue
		}

		text := strings.TrimSpace(strings.Join(nonEmpty(e.title, e.summary, truncateRunes(e.body, 500)), " "))
		if text == "" {
			stats.Skipped++
			if progress != nil {
				progress(i+1, total)
			}
			continue
		}

		vec, verr := provider.GetDocumentEmbedding(text)
		if verr != nil {
			stats.Errors++
			if progress != nil {
				progress(i+1, total)
			}
			continue
		}

		blob, serr := sqlite_vec.SerializeFloat32(vec)
		if serr != nil {
			stats.Errors++
			if progress != nil {
				progress(i+1, total)
			}
			continue
		}
		if _, err := tx.Exec(`DELETE FROM vec_entry WHERE rowid = ?`, e.rowID); err != nil {
			tx.Rollback()
			db.mu.Unlock()
			return stats, fmt.Errorf("clear existing vector: %w", err)
		}
		if _, err := tx.Exec(`INSERT INTO vec_entry(rowid, embedding) VALUES (?, ?)`, e.rowID, blob); err != nil {
			tx.Rollback()
			db.mu.Unlock()
			return stats, fmt.Errorf("insert vector: %w", err)
		}
		stats.Embedded++
		if progress != nil {
			progress(i+1, total)
		}
	}

	err = tx.Commit()
	db.mu.Unlock()
	if err != nil {
		return stats, fmt.Errorf("commit embed_all: %w", err)
	}
	return stats, nil
}

func nonEmpty(vals ...string) []string {
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			out = append(out, v)
		}
	}
	return out
}

// SearchSimilar embeds query and runs a KNN search, dropping results past
// maxDistance and truncating to limit. Degrades to an empty, error-free
// result when the vector index or embedding backend is unavailable —
// ErrEmbeddingUnavailable is not surfaced to search callers.
func (db *DB) SearchSimilar(provider embedding.Provider, query, kbName string, limit int, maxDistance float64) ([]Hit, error) {
	if limit <= 0 {
		limit = 50
	}
	if provider == nil || !db.vecAvailable {
		return nil, nil
	}

	vec, err := provider.GetQueryEmbedding(query)
	if err != nil {
		return nil, nil // EmbeddingFailed on the query leg degrades silently.
	}

	// fetchK already over-fetches for the post-filter truncation below;
	// SemanticSearch applies its own over-fetch multiplier on top of
	// whatever limit it's given, so this compounds rather than adds — more
	// rows than strictly necessary, but harmless since the distance cutoff
	// below still truncates to the caller's limit.
	fetchK := limit * 2
	if kbName != "" {
		fetchK = limit * 3
	}

	hits, err := db.SemanticSearch(vec, SearchFilters{KBName: kbName}, fetchK)
	if err != nil {
		return nil, nil
	}

	out := make([]Hit, 0, len(hits))
	for _, h := range hits {
		if h.Distance <= maxDistance {
			out = append(out, h)
		}
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// HasEmbeddings reports whether any entry in the index has been embedded.
func (db *DB) HasEmbeddings() bool {
	var n int
	if err := db.conn.QueryRow(`SELECT COUNT(*) FROM vec_entry`).Scan(&n); err != nil {
		return false
	}
	return n > 0
}

// EmbeddingStats reports total entries, embedded count, and coverage
// percentage for observability.
func (db *DB) EmbeddingStats() (total, embedded int, coveragePct float64, err error) {
	if err = db.conn.QueryRow(`SELECT COUNT(*) FROM entry`).Scan(&total); err != nil {
		return
	}
	if !db.vecAvailable {
		return total, 0, 0, nil
	}
	if err = db.conn.QueryRow(`SELECT COUNT(*) FROM vec_entry`).Scan(&embedded); err != nil {
		return
	}
	if total > 0 {
		coveragePct = float64(embedded) / float64(total) * 100
	}
	return total, embedded, coveragePct, nil
}
