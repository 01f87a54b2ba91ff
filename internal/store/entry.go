package store

import (
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Sentinel error kinds, compared with errors.Is.
var (
	ErrSchemaCorrupt       = errors.New("SchemaCorrupt")
	ErrKBNotFound          = errors.New("KBNotFound")
	ErrEntryNotFound       = errors.New("EntryNotFound")
	ErrKBReadOnly          = errors.New("KBReadOnly")
	ErrStoreBusy           = errors.New("StoreBusy")
	ErrEmbeddingUnavailable = errors.New("EmbeddingUnavailable")
)

// Entry is the primary record: a markdown file plus its frontmatter,
// addressed by (ID, KBName).
type Entry struct {
	RowID      int64
	ID         string
	KBName     string
	EntryType  string
	Title      string
	Summary    string
	Body       string
	Location   string
	Date       string
	Importance int
	Status     string
	FilePath   string
	CreatedBy  string
	ModifiedBy string
	Tags       []string
	Links      []Link
	Sources    []string
}

// Link is a wikilink-style reference owned by an entry.
type Link struct {
	Target string
	Alias  string
}

// UpsertEntry inserts or replaces an entry and its dependent rows
// (tag/link/source), transactionally. On replace, dependents are deleted
// then reinserted (no diff) — the FTS shadow updates automatically via the
// triggers installed at migration time; callers never touch entry_fts
// directly.
func (db *DB) UpsertEntry(e Entry) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.KBReadOnly(e.KBName) {
		return fmt.Errorf("%w: %s", ErrKBReadOnly, e.KBName)
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var existingBody sql.NullString
	var existingRowID sql.NullInt64
	_ = tx.QueryRow(`SELECT rowid, body FROM entry WHERE id = ? AND kb_name = ?`, e.ID, e.KBName).
		Scan(&existingRowID, &existingBody)

	res, err := tx.Exec(`
		INSERT INTO entry (id, kb_name, entry_type, title, summary, body, location, date,
			importance, status, file_path, created_by, modified_by, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		ON CONFLICT(id, kb_name) DO UPDATE SET
			entry_type = excluded.entry_type, title = excluded.title, summary = excluded.summary,
			body = excluded.body, location = excluded.location, date = excluded.date,
			importance = excluded.importance, status = excluded.status, file_path = excluded.file_path,
			modified_by = excluded.modified_by, updated_at = excluded.updated_at`,
		e.ID, e.KBName, e.EntryType, e.Title, nullIfEmptyStr(e.Summary), nullIfEmptyStr(e.Body),
		nullIfEmptyStr(e.Location), nullIfEmptyStr(e.Date), nullIfZero(e.Importance),
		nullIfEmptyStr(e.Status), e.FilePath, nullIfEmptyStr(e.CreatedBy), nullIfEmptyStr(e.ModifiedBy),
	)
	if err != nil {
		return fmt.Errorf("upsert entry: %w", err)
	}

	// An upsert that updates leaves LastInsertId at the connection's previous
	// insert, so an existing row's rowid is taken from the lookup above.
	var rowID int64
	if existingRowID.Valid {
		rowID = existingRowID.Int64
	} else if id, err := res.LastInsertId(); err == nil && id != 0 {
		rowID = id
	} else {
		if err := tx.QueryRow(`SELECT rowid FROM entry WHERE id = ? AND kb_name = ?`, e.ID, e.KBName).Scan(&rowID); err != nil {
			return fmt.Errorf("lookup rowid: %w", err)
		}
	}

	if existingRowID.Valid && existingBody.String != e.Body {
		if err := db.recordVersion(tx, e.ID, e.KBName, existingRowID.Int64, existingBody.String); err != nil {
			return fmt.Errorf("record version: %w", err)
		}
	}

	if _, err := tx.Exec(`DELETE FROM tag WHERE entry_rowid = ?`, rowID); err != nil {
		return fmt.Errorf("clear tags: %w", err)
	}
	for _, t := range e.Tags {
		if t == "" {
			continue
		}
		if _, err := tx.Exec(`INSERT INTO tag (entry_rowid, name) VALUES (?, ?)`, rowID, t); err != nil {
			return fmt.Errorf("insert tag: %w", err)
		}
	}

	if _, err := tx.Exec(`DELETE FROM link WHERE entry_rowid = ?`, rowID); err != nil {
		return fmt.Errorf("clear links: %w", err)
	}
	for _, l := range e.Links {
		if _, err := tx.Exec(`INSERT INTO link (entry_rowid, target, alias) VALUES (?, ?, ?)`,
			rowID, l.Target, nullIfEmptyStr(l.Alias)); err != nil {
			return fmt.Errorf("insert link: %w", err)
		}
	}

	if _, err := tx.Exec(`DELETE FROM source WHERE entry_rowid = ?`, rowID); err != nil {
		return fmt.Errorf("clear sources: %w", err)
	}
	for _, s := range e.Sources {
		if s == "" {
			continue
		}
		if _, err := tx.Exec(`INSERT INTO source (entry_rowid, value) VALUES (?, ?)`, rowID, s); err != nil {
			return fmt.Errorf("insert source: %w", err)
		}
	}

	return tx.Commit()
}

// recordVersion appends an entry_version snapshot when body changes.
func (db *DB) recordVersion(tx *sql.Tx, id, kbName string, rowID int64, oldBody string) error {
	var maxVersion int
	_ = tx.QueryRow(`SELECT COALESCE(MAX(version_no), 0) FROM entry_version WHERE entry_rowid = ?`, rowID).Scan(&maxVersion)
	_, err := tx.Exec(`INSERT INTO entry_version (entry_id, kb_name, entry_rowid, version_no, body_snapshot)
		VALUES (?, ?, ?, ?, ?)`, id, kbName, rowID, maxVersion+1, oldBody)
	return err
}

// GetEntry returns a single entry by (id, kb_name), or ErrEntryNotFound.
// It loads tags but not links or sources; those are write-side only for
// now since nothing in the search surface reads them back.
func (db *DB) GetEntry(id, kbName string) (*Entry, error) {
	var e Entry
	var summary, body, location, date, status, createdBy, modifiedBy sql.NullString
	var importance sql.NullInt64
	err := db.conn.QueryRow(`
		SELECT rowid, id, kb_name, entry_type, title, summary, body, location, date,
			importance, status, file_path, created_by, modified_by
		FROM entry WHERE id = ? AND kb_name = ?`, id, kbName).Scan(
		&e.RowID, &e.ID, &e.KBName, &e.EntryType, &e.Title, &summary, &body, &location, &date,
		&importance, &status, &e.FilePath, &createdBy, &modifiedBy,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s/%s", ErrEntryNotFound, kbName, id)
	}
	if err != nil {
		return nil, err
	}
	e.Summary, e.Body, e.Location, e.Date = summary.String, body.String, location.String, date.String
	e.Status, e.CreatedBy, e.ModifiedBy = status.String, createdBy.String, modifiedBy.String
	e.Importance = int(importance.Int64)

	e.Tags, err = db.entryTags(e.RowID)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (db *DB) entryTags(rowID int64) ([]string, error) {
	rows, err := db.conn.Query(`SELECT name FROM tag WHERE entry_rowid = ?`, rowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var tags []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}

// DeleteEntry removes an entry and cascades to its dependents. The FTS
// delete trigger removes the shadow row; the vector index row is removed
// explicitly in the same transaction, since vec_entry is not wired to the
// FTS trigger protocol.
func (db *DB) DeleteEntry(id, kbName string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var rowID int64
	err = tx.QueryRow(`SELECT rowid FROM entry WHERE id = ? AND kb_name = ?`, id, kbName).Scan(&rowID)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: %s/%s", ErrEntryNotFound, kbName, id)
	}
	if err != nil {
		return err
	}

	if db.vecAvailable {
		if _, err := tx.Exec(`DELETE FROM vec_entry WHERE rowid = ?`, rowID); err != nil {
			return fmt.Errorf("delete vector: %w", err)
		}
	}
	if _, err := tx.Exec(`DELETE FROM embed_queue WHERE entry_id = ? AND kb_name = ?`, id, kbName); err != nil {
		return fmt.Errorf("delete queue row: %w", err)
	}
	// tag/link/source/entry_version cascade via ON DELETE CASCADE FKs.
	if _, err := tx.Exec(`DELETE FROM entry WHERE rowid = ?`, rowID); err != nil {
		return fmt.Errorf("delete entry: %w", err)
	}

	return tx.Commit()
}

// embeddingToBlob little-endian packs a float32 vector, 4 bytes per
// component.
func embeddingToBlob(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// blobToEmbedding is the inverse of embeddingToBlob.
func blobToEmbedding(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("invalid vector blob length: %d", len(data))
	}
	n := len(data) / 4
	vec := make([]float32, n)
	for i := 0; i < n; i++ {
		bits := binary.LittleEndian.Uint32(data[i*4 : (i+1)*4])
		vec[i] = math.Float32frombits(bits)
	}
	return vec, nil
}

func nullIfEmptyStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullIfZero(n int) any {
	if n == 0 {
		return nil
	}
	return n
}
