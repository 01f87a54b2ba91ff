// Package store provides the SQLite + sqlite-vec storage layer for the
// knowledge base search engine: the entry table and its dependents, the
// content-external FTS5 shadow, the adjacent vector index, and the durable
// embedding work queue.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/pyrite-go/kbsearch/internal/config"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

func init() {
	sqlite_vec.Auto()
}

// DB wraps a SQLite connection with sqlite-vec and FTS5 support.
type DB struct {
	conn         *sql.DB
	mu           sync.Mutex // serialize writes; the scheduling model is single-writer
	ftsAvailable bool
	vecAvailable bool
}

// Open opens or creates the database at the configured path.
func Open() (*DB, error) {
	return OpenPath(config.IndexPath())
}

// OpenPath opens or creates the database at the given path.
func OpenPath(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	if _, err := conn.Exec("PRAGMA foreign_keys = ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	db := &DB{conn: conn}

	var vecVersion string
	if err := conn.QueryRow("SELECT vec_version()").Scan(&vecVersion); err != nil {
		// No vector extension loaded: semantic search degrades to keyword-only, not fatal.
		db.vecAvailable = false
	} else {
		db.vecAvailable = true
	}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

// OpenMemory opens an in-memory database for testing.
func OpenMemory() (*DB, error) {
	conn, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return nil, err
	}
	if _, err := conn.Exec("PRAGMA foreign_keys = ON"); err != nil {
		conn.Close()
		return nil, err
	}

	db := &DB{conn: conn}
	var vecVersion string
	if err := conn.QueryRow("SELECT vec_version()").Scan(&vecVersion); err == nil {
		db.vecAvailable = true
	}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Conn returns the underlying sql.DB for direct queries.
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// VecAvailable reports whether the sqlite-vec extension loaded successfully.
func (db *DB) VecAvailable() bool {
	return db.vecAvailable
}

// migrate brings the database to the current schema head, applying every
// migration whose version is strictly greater than the stored head, in
// ascending order, recording the new head after each one.
func (db *DB) migrate() error {
	if _, err := db.conn.Exec(`CREATE TABLE IF NOT EXISTS schema_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`); err != nil {
		return fmt.Errorf("schema_meta: %w", err)
	}

	if err := db.stampBaselineIfNeeded(); err != nil {
		return fmt.Errorf("stamp baseline: %w", err)
	}

	currentVersion := db.SchemaVersion()
	versionedMigrations := []struct {
		version int
		fn      func() error
	}{
		{1, db.migrateV1}, // entry + dependents + entry_fts + triggers
		{2, db.migrateV2}, // collaboration tables (user/repo/workspace_repo/entry_version)
		{3, db.migrateV3}, // vec_entry vector index
		{4, db.migrateV4}, // embed_queue durable worker queue
		{5, db.migrateV5}, // setting table
	}
	for _, m := range versionedMigrations {
		if currentVersion < m.version {
			// CREATE TABLE/VIRTUAL TABLE/TRIGGER statements auto-commit in
			// SQLite regardless of an open transaction, so migrations run
			// directly against db.conn rather than behind a no-op Tx wrapper.
			if err := m.fn(); err != nil {
				return fmt.Errorf("%w: migration v%d: %w", ErrSchemaCorrupt, m.version, err)
			}
			if err := db.SetMeta("schema_version", strconv.Itoa(m.version)); err != nil {
				return fmt.Errorf("record migration v%d: %w", m.version, err)
			}
			currentVersion = m.version
		}
	}

	// migrateV1 sets ftsAvailable when it runs; an already-migrated database
	// skips it, so probe for the existing FTS table instead.
	if !db.ftsAvailable {
		db.ftsAvailable = db.tableExists("entry_fts")
	}

	return nil
}

// stampBaselineIfNeeded handles a database created before the migration
// system existed: if schema_meta has no version recorded but the entry
// table already exists, record version 1 as the baseline without running
// migrateV1's body again.
func (db *DB) stampBaselineIfNeeded() error {
	if _, ok := db.GetMeta("schema_version"); ok {
		return nil
	}
	if !db.tableExists("entry") {
		return nil
	}
	return db.SetMeta("schema_version", "1")
}

func (db *DB) tableExists(name string) bool {
	var n string
	err := db.conn.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, name).Scan(&n)
	return err == nil
}

// migrateV1 creates the primary entry table, its dependents, and the
// content-external FTS5 shadow with its synchronizing triggers, including
// the COALESCE collapse of nullable columns so the FTS row always has a
// defined value for every indexed column.
func (db *DB) migrateV1() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS entry (
			rowid INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL,
			kb_name TEXT NOT NULL,
			entry_type TEXT NOT NULL DEFAULT '',
			title TEXT NOT NULL DEFAULT '',
			summary TEXT,
			body TEXT,
			location TEXT,
			date TEXT,
			importance INTEGER,
			status TEXT,
			file_path TEXT NOT NULL DEFAULT '',
			created_by TEXT,
			modified_by TEXT,
			created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
			updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
			UNIQUE(id, kb_name)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_entry_kb ON entry(kb_name)`,
		`CREATE INDEX IF NOT EXISTS idx_entry_type ON entry(entry_type)`,
		`CREATE INDEX IF NOT EXISTS idx_entry_date ON entry(date)`,

		`CREATE TABLE IF NOT EXISTS tag (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			entry_rowid INTEGER NOT NULL REFERENCES entry(rowid) ON DELETE CASCADE,
			name TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tag_entry ON tag(entry_rowid)`,
		`CREATE INDEX IF NOT EXISTS idx_tag_name ON tag(name)`,

		`CREATE TABLE IF NOT EXISTS link (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			entry_rowid INTEGER NOT NULL REFERENCES entry(rowid) ON DELETE CASCADE,
			target TEXT NOT NULL,
			alias TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_link_entry ON link(entry_rowid)`,
		`CREATE INDEX IF NOT EXISTS idx_link_target ON link(target)`,

		`CREATE TABLE IF NOT EXISTS source (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			entry_rowid INTEGER NOT NULL REFERENCES entry(rowid) ON DELETE CASCADE,
			value TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_source_entry ON source(entry_rowid)`,

		`CREATE TABLE IF NOT EXISTS kb (
			name TEXT PRIMARY KEY,
			kb_type TEXT NOT NULL DEFAULT 'notes',
			root_path TEXT NOT NULL,
			repo_id TEXT,
			read_only INTEGER NOT NULL DEFAULT 0
		)`,

		`CREATE VIRTUAL TABLE IF NOT EXISTS entry_fts USING fts5(
			id, kb_name, entry_type, title, body, summary, location,
			content='entry', content_rowid='rowid',
			tokenize='porter unicode61'
		)`,

		`CREATE TRIGGER IF NOT EXISTS entry_ai AFTER INSERT ON entry BEGIN
			INSERT INTO entry_fts(rowid, id, kb_name, entry_type, title, body, summary, location)
			VALUES (new.rowid, new.id, new.kb_name, new.entry_type, new.title,
				COALESCE(new.body, ''), COALESCE(new.summary, ''), COALESCE(new.location, ''));
		END`,

		`CREATE TRIGGER IF NOT EXISTS entry_ad AFTER DELETE ON entry BEGIN
			INSERT INTO entry_fts(entry_fts, rowid, id, kb_name, entry_type, title, body, summary, location)
			VALUES('delete', old.rowid, old.id, old.kb_name, old.entry_type, old.title,
				COALESCE(old.body, ''), COALESCE(old.summary, ''), COALESCE(old.location, ''));
		END`,

		`CREATE TRIGGER IF NOT EXISTS entry_au AFTER UPDATE ON entry BEGIN
			INSERT INTO entry_fts(entry_fts, rowid, id, kb_name, entry_type, title, body, summary, location)
			VALUES('delete', old.rowid, old.id, old.kb_name, old.entry_type, old.title,
				COALESCE(old.body, ''), COALESCE(old.summary, ''), COALESCE(old.location, ''));
			INSERT INTO entry_fts(rowid, id, kb_name, entry_type, title, body, summary, location)
			VALUES (new.rowid, new.id, new.kb_name, new.entry_type, new.title,
				COALESCE(new.body, ''), COALESCE(new.summary, ''), COALESCE(new.location, ''));
		END`,
	}
	for _, s := range stmts {
		if _, err := db.conn.Exec(s); err != nil {
			db.ftsAvailable = false
			return fmt.Errorf("migrateV1: %w", err)
		}
	}
	db.ftsAvailable = true
	return nil
}

// migrateV2 creates the collaboration tables (user/repo/workspace_repo/
// entry_version). Duplicate-column ADD COLUMN errors are avoided by
// checking hasColumn()/PRAGMA table_info first rather than swallowing the
// error class broadly.
func (db *DB) migrateV2() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS user (
			login TEXT PRIMARY KEY,
			display_name TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		)`,
		`INSERT OR IGNORE INTO user (login, display_name) VALUES ('local', 'Local User')`,

		`CREATE TABLE IF NOT EXISTS repo (
			id TEXT PRIMARY KEY,
			remote_url TEXT NOT NULL DEFAULT '',
			default_branch TEXT NOT NULL DEFAULT 'main',
			local_path TEXT NOT NULL DEFAULT ''
		)`,

		`CREATE TABLE IF NOT EXISTS workspace_repo (
			workspace TEXT PRIMARY KEY,
			repo_id TEXT NOT NULL REFERENCES repo(id)
		)`,

		`CREATE TABLE IF NOT EXISTS entry_version (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			entry_id TEXT NOT NULL,
			kb_name TEXT NOT NULL,
			entry_rowid INTEGER NOT NULL REFERENCES entry(rowid) ON DELETE CASCADE,
			version_no INTEGER NOT NULL,
			body_snapshot TEXT,
			changed_by TEXT,
			changed_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		)`,
		`CREATE INDEX IF NOT EXISTS idx_entry_version_entry ON entry_version(entry_rowid)`,
	}
	for _, s := range stmts {
		if _, err := db.conn.Exec(s); err != nil {
			return fmt.Errorf("migrateV2: %w", err)
		}
	}

	// Pre-existing databases created by an ORM's create_all may already carry
	// these columns; adding them again would error. Check first rather than
	// swallowing the error class wholesale.
	if !db.hasColumn("kb", "repo_id") {
		if _, err := db.conn.Exec(`ALTER TABLE kb ADD COLUMN repo_id TEXT`); err != nil {
			return fmt.Errorf("migrateV2 add kb.repo_id: %w", err)
		}
	}
	return nil
}

// migrateV3 creates the vector index, keyed by the same rowid as entry.
func (db *DB) migrateV3() error {
	_, err := db.conn.Exec(fmt.Sprintf(`CREATE VIRTUAL TABLE IF NOT EXISTS vec_entry USING vec0(
		rowid INTEGER PRIMARY KEY,
		embedding float[%d]
	)`, config.EmbeddingDimensions()))
	if err != nil {
		db.vecAvailable = false
		return nil // EmbeddingUnavailable degrades, it does not abort migration.
	}
	return nil
}

// migrateV4 creates the durable embedding work queue.
func (db *DB) migrateV4() error {
	_, err := db.conn.Exec(`CREATE TABLE IF NOT EXISTS embed_queue (
		entry_id TEXT NOT NULL,
		kb_name TEXT NOT NULL,
		queued_at TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		error TEXT,
		attempts INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (entry_id, kb_name)
	)`)
	return err
}

// migrateV5 creates the process-wide settings table.
func (db *DB) migrateV5() error {
	_, err := db.conn.Exec(`CREATE TABLE IF NOT EXISTS setting (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`)
	return err
}

// SchemaVersion returns the current schema version (0 if unset).
func (db *DB) SchemaVersion() int {
	v, ok := db.GetMeta("schema_version")
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

// GetMeta reads a value from the schema_meta table. Returns ("", false) if not found.
func (db *DB) GetMeta(key string) (string, bool) {
	var value string
	err := db.conn.QueryRow(`SELECT value FROM schema_meta WHERE key = ?`, key).Scan(&value)
	if err != nil {
		return "", false
	}
	return value, true
}

// SetMeta writes a key-value pair to the schema_meta table.
func (db *DB) SetMeta(key, value string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	_, err := db.conn.Exec(
		`INSERT INTO schema_meta (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	return err
}

// hasColumn reports whether a table currently has a column.
func (db *DB) hasColumn(table, column string) bool {
	rows, err := db.conn.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid      int
			name     string
			colType  string
			notNull  int
			defaultV sql.NullString
			primaryK int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &defaultV, &primaryK); err != nil {
			continue
		}
		if strings.EqualFold(name, column) {
			return true
		}
	}
	return false
}

// SetEmbeddingMeta records the embedding provider, model, and dimensions used
// at the most recent reindex, for CheckEmbeddingMeta's mismatch detection.
func (db *DB) SetEmbeddingMeta(provider, model string, dims int) error {
	if err := db.SetMeta("embed_provider", provider); err != nil {
		return err
	}
	if err := db.SetMeta("embed_model", model); err != nil {
		return err
	}
	return db.SetMeta("embed_dims", strconv.Itoa(dims))
}

// CheckEmbeddingMeta compares the given embedding config against what was
// used at the last reindex. Returns an error on mismatch (most critically on
// dimension change, which produces garbage KNN results); returns nil if no
// stored metadata exists yet.
func (db *DB) CheckEmbeddingMeta(provider, model string, dims int) error {
	storedProvider, hasProvider := db.GetMeta("embed_provider")
	storedModel, hasModel := db.GetMeta("embed_model")
	storedDimsStr, hasDims := db.GetMeta("embed_dims")

	if !hasProvider && !hasModel && !hasDims {
		return nil
	}

	storedDims, _ := strconv.Atoi(storedDimsStr)

	if hasDims && dims > 0 && storedDims > 0 && storedDims != dims {
		return fmt.Errorf("embedding dimensions changed from %d to %d — reindex with --force to rebuild", storedDims, dims)
	}

	if hasProvider && hasModel && (storedProvider != provider || storedModel != model) {
		return fmt.Errorf("embedding model changed from %s/%s to %s/%s — reindex with --force to rebuild",
			storedProvider, storedModel, provider, model)
	}

	return nil
}

// FTSAvailable returns true if the FTS5 module is available.
func (db *DB) FTSAvailable() bool {
	return db.ftsAvailable
}

// RebuildFTS rebuilds the FTS5 index from the entry table. No-op if FTS5 is
// unavailable.
func (db *DB) RebuildFTS() error {
	if !db.ftsAvailable {
		return nil
	}
	_, err := db.conn.Exec(`INSERT INTO entry_fts(entry_fts) VALUES('rebuild')`)
	return err
}

// IntegrityCheck runs SQLite's PRAGMA integrity_check and returns an error if
// corruption is detected.
func (db *DB) IntegrityCheck() error {
	var result string
	err := db.conn.QueryRow("PRAGMA integrity_check").Scan(&result)
	if err != nil {
		return fmt.Errorf("integrity check query failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("%w: integrity check failed: %s", ErrSchemaCorrupt, result)
	}
	return nil
}

// RegisterKB inserts or updates a KB registration.
func (db *DB) RegisterKB(name, kbType, rootPath, repoID string, readOnly bool) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	ro := 0
	if readOnly {
		ro = 1
	}
	_, err := db.conn.Exec(
		`INSERT INTO kb (name, kb_type, root_path, repo_id, read_only) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET kb_type=excluded.kb_type, root_path=excluded.root_path,
			repo_id=excluded.repo_id, read_only=excluded.read_only`,
		name, kbType, rootPath, nullIfEmpty(repoID), ro,
	)
	return err
}

// KBReadOnly reports whether the named KB is registered read-only. Unknown
// KBs are treated as writable (KBNotFound is the caller's concern, not this
// helper's).
func (db *DB) KBReadOnly(name string) bool {
	var ro int
	err := db.conn.QueryRow(`SELECT read_only FROM kb WHERE name = ?`, name).Scan(&ro)
	if err != nil {
		return false
	}
	return ro == 1
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
