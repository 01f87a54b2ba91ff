package store

import (
	"fmt"
	"strings"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
)

// Hit is a single search result, produced by lexical search, semantic
// search, or their RRF fusion.
type Hit struct {
	ID         string
	KBName     string
	EntryType  string
	Title      string
	Date       string
	Importance int
	Tags       []string
	Snippet    string
	Rank       float64
	Distance   float64
	RRFScore   float64
	RowID      int64
}

// SearchFilters narrows a lexical or semantic search.
type SearchFilters struct {
	KBName    string
	EntryType string
	Tags      []string
	DateFrom  string
	DateTo    string
}

// Fixed delimiter pair wrapped around matched terms in lexical snippets.
const (
	snippetOpen  = "▐"
	snippetClose = "▌"
)

// LexicalSearch runs a parameterized FTS5 query with filters, ordered by
// bm25 relevance, paginated. The caller sanitizes query via
// SanitizeFTSQuery and normalizes the "All KBs" sentinel to an empty
// KBName before calling — both are service-boundary concerns, not store
// ones.
func (db *DB) LexicalSearch(query string, f SearchFilters, limit, offset int) ([]Hit, error) {
	if !db.ftsAvailable {
		return nil, fmt.Errorf("%w: FTS5 unavailable", ErrSchemaCorrupt)
	}
	if limit <= 0 {
		limit = 50
	}

	var where []string
	args := []any{query}

	if f.KBName != "" {
		where = append(where, "e.kb_name = ?")
		args = append(args, f.KBName)
	}
	if f.EntryType != "" {
		where = append(where, "e.entry_type = ?")
		args = append(args, f.EntryType)
	}
	if f.DateFrom != "" {
		where = append(where, "e.date >= ?")
		args = append(args, f.DateFrom)
	}
	if f.DateTo != "" {
		where = append(where, "e.date <= ?")
		args = append(args, f.DateTo)
	}

	whereSQL := ""
	if len(where) > 0 {
		whereSQL = " AND " + strings.Join(where, " AND ")
	}

	sqlQuery := fmt.Sprintf(`
		SELECT e.rowid, e.id, e.kb_name, e.entry_type, e.title, COALESCE(e.date,''),
			COALESCE(e.importance,0),
			snippet(entry_fts, 4, ?, ?, '...', 24) AS snip,
			bm25(entry_fts) AS rank
		FROM entry_fts
		JOIN entry e ON e.rowid = entry_fts.rowid
		WHERE entry_fts MATCH ? %s
		ORDER BY rank
		LIMIT ? OFFSET ?`, whereSQL)

	queryArgs := append([]any{snippetOpen, snippetClose}, args...)
	queryArgs = append(queryArgs, limit, offset)

	rows, err := db.conn.Query(sqlQuery, queryArgs...)
	if err != nil {
		return nil, fmt.Errorf("lexical search: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var h Hit
		if err := rows.Scan(&h.RowID, &h.ID, &h.KBName, &h.EntryType, &h.Title, &h.Date,
			&h.Importance, &h.Snippet, &h.Rank); err != nil {
			return nil, err
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(f.Tags) > 0 {
		hits, err = db.filterByTags(hits, f.Tags)
		if err != nil {
			return nil, err
		}
	}

	for i := range hits {
		tags, err := db.entryTags(hits[i].RowID)
		if err != nil {
			return nil, err
		}
		hits[i].Tags = tags
	}

	return hits, nil
}

// filterByTags keeps only hits whose entry carries every requested tag
// (AND semantics).
func (db *DB) filterByTags(hits []Hit, want []string) ([]Hit, error) {
	var out []Hit
	for _, h := range hits {
		tags, err := db.entryTags(h.RowID)
		if err != nil {
			return nil, err
		}
		if hasAllTags(tags, want) {
			out = append(out, h)
		}
	}
	return out, nil
}

func hasAllTags(have, want []string) bool {
	set := make(map[string]bool, len(have))
	for _, t := range have {
		set[t] = true
	}
	for _, w := range want {
		if !set[w] {
			return false
		}
	}
	return true
}

// SemanticSearch runs a KNN query over vec_entry for the supplied query
// embedding, then joins back to entry for display fields. fetchK
// controls the raw vec0 over-fetch before KB filtering is applied in
// memory, since vec0 cannot filter by kb_name directly.
func (db *DB) SemanticSearch(queryVec []float32, f SearchFilters, limit int) ([]Hit, error) {
	if !db.vecAvailable {
		return nil, fmt.Errorf("%w: vector index unavailable", ErrEmbeddingUnavailable)
	}
	if limit <= 0 {
		limit = 50
	}

	vecData, err := sqlite_vec.SerializeFloat32(queryVec)
	if err != nil {
		return nil, fmt.Errorf("serialize query vector: %w", err)
	}

	fetchK := limit * 2
	if f.KBName != "" {
		fetchK = limit * 3
	}

	rows, err := db.conn.Query(`
		SELECT v.distance, e.rowid, e.id, e.kb_name, e.entry_type, e.title,
			COALESCE(e.date,''), COALESCE(e.importance,0), COALESCE(e.summary,''), COALESCE(e.body,'')
		FROM vec_entry v
		JOIN entry e ON e.rowid = v.rowid
		WHERE v.embedding MATCH ? AND k = ?
		ORDER BY v.distance`,
		vecData, fetchK,
	)
	if err != nil {
		return nil, fmt.Errorf("semantic search: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var h Hit
		var summary, body string
		if err := rows.Scan(&h.Distance, &h.RowID, &h.ID, &h.KBName, &h.EntryType, &h.Title,
			&h.Date, &h.Importance, &summary, &body); err != nil {
			return nil, err
		}
		if f.KBName != "" && h.KBName != f.KBName {
			continue
		}
		if f.EntryType != "" && h.EntryType != f.EntryType {
			continue
		}
		h.Snippet = buildSnippet(summary, body)
		hits = append(hits, h)
		if len(hits) >= limit {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(f.Tags) > 0 {
		hits, err = db.filterByTags(hits, f.Tags)
		if err != nil {
			return nil, err
		}
	}

	for i := range hits {
		tags, err := db.entryTags(hits[i].RowID)
		if err != nil {
			return nil, err
		}
		hits[i].Tags = tags
	}

	return hits, nil
}

// buildSnippet prefers the summary; falls back to the first paragraph of
// body, truncated to 200 runes with an ellipsis.
func buildSnippet(summary, body string) string {
	if s := strings.TrimSpace(summary); s != "" {
		return truncateRunes(s, 200)
	}
	para := body
	if idx := strings.Index(body, "\n\n"); idx >= 0 {
		para = body[:idx]
	}
	return truncateRunes(strings.TrimSpace(para), 200)
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

// rrfKey is the union key RRF scores over: (id, kb_name).
type rrfKey struct {
	id     string
	kbName string
}

// HybridFusion combines a lexical result list and a semantic result list via
// Reciprocal Rank Fusion with constant k: score = Σ 1/(k+rank) over each
// leg a key appears in. When a key appears in both legs, the lexical
// leg's record (richer: snippet, tags) is preferred for display.
func HybridFusion(lexical, semantic []Hit, k int, offset, limit int) []Hit {
	if k <= 0 {
		k = 60
	}
	if len(semantic) == 0 {
		end := offset + limit
		if end > len(lexical) || limit <= 0 {
			end = len(lexical)
		}
		if offset > len(lexical) {
			offset = len(lexical)
		}
		return lexical[offset:end]
	}

	scores := make(map[rrfKey]float64)
	entries := make(map[rrfKey]Hit)
	var order []rrfKey

	for rank, h := range lexical {
		key := rrfKey{h.ID, h.KBName}
		if _, seen := scores[key]; !seen {
			order = append(order, key)
		}
		scores[key] += 1.0 / float64(k+rank)
		entries[key] = h
	}
	for rank, h := range semantic {
		key := rrfKey{h.ID, h.KBName}
		if _, seen := scores[key]; !seen {
			order = append(order, key)
			entries[key] = h
		}
		scores[key] += 1.0 / float64(k+rank)
	}

	// Stable descending sort by score; ties keep first-seen order.
	sorted := make([]rrfKey, len(order))
	copy(sorted, order)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && scores[sorted[j]] > scores[sorted[j-1]]; j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}

	if offset > len(sorted) {
		offset = len(sorted)
	}
	end := offset + limit
	if end > len(sorted) || limit <= 0 {
		end = len(sorted)
	}

	out := make([]Hit, 0, end-offset)
	for _, key := range sorted[offset:end] {
		h := entries[key]
		h.RRFScore = scores[key]
		out = append(out, h)
	}
	return out
}
