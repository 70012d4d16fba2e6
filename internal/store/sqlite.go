package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	"github.com/localdoc/docsearch/internal/xerrors"
)

// SQLiteStore holds the document registry, chunks, embeddings, and the FTS5
// BM25 index in one database file.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// validateIntegrity checks the database before opening for real.
func validateIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil // will be created
	}

	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("cannot open for validation: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database corrupted: %s", result)
	}
	return nil
}

// OpenSQLite opens (or creates) the store at path. An empty path opens an
// in-memory database for testing.
func OpenSQLite(path string) (*SQLiteStore, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, xerrors.Wrap(xerrors.KindIO, "create data directory", err)
		}
		if err := validateIntegrity(path); err != nil {
			return nil, xerrors.Wrap(xerrors.KindStoreCorruption, path, err)
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.KindIO, "open database", err)
	}

	// Single connection: one writer, and in-memory databases must not be
	// silently duplicated per connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA cache_size = -65536",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, xerrors.Wrap(xerrors.KindIO, "set pragma", err)
		}
	}

	s := &SQLiteStore{db: db, path: path}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, xerrors.Wrap(xerrors.KindStoreCorruption, "initialize schema", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);

	CREATE TABLE IF NOT EXISTS documents (
		id               TEXT PRIMARY KEY,
		content_hash     TEXT NOT NULL,
		path             TEXT NOT NULL,
		filename         TEXT NOT NULL,
		extension        TEXT NOT NULL,
		media_type       TEXT NOT NULL,
		size             INTEGER NOT NULL,
		inode            INTEGER NOT NULL DEFAULT 0,
		created_at       TIMESTAMP NOT NULL,
		modified_at      TIMESTAMP NOT NULL,
		indexed_at       TIMESTAMP NOT NULL,
		is_deleted       INTEGER NOT NULL DEFAULT 0,
		deleted_at       TIMESTAMP,
		duration_seconds REAL,
		width            INTEGER,
		height           INTEGER,
		last_error       TEXT NOT NULL DEFAULT ''
	);

	-- content_hash is unique among live documents only; tombstones keep
	-- theirs for restore matching.
	CREATE UNIQUE INDEX IF NOT EXISTS ux_documents_live_hash
		ON documents(content_hash) WHERE is_deleted = 0;
	CREATE INDEX IF NOT EXISTS ix_documents_inode ON documents(inode);
	CREATE INDEX IF NOT EXISTS ix_documents_path ON documents(path);

	CREATE TABLE IF NOT EXISTS chunks (
		id          TEXT PRIMARY KEY,
		document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
		chunk_index INTEGER NOT NULL,
		text        TEXT NOT NULL,
		start_time  REAL,
		end_time    REAL,
		page        INTEGER,
		metadata    TEXT NOT NULL DEFAULT '{}'
	);
	CREATE INDEX IF NOT EXISTS ix_chunks_document ON chunks(document_id, chunk_index);

	-- Embeddings live relationally too so the external vector index can
	-- always be repaired from committed state.
	CREATE TABLE IF NOT EXISTS embeddings (
		chunk_id TEXT PRIMARY KEY REFERENCES chunks(id) ON DELETE CASCADE,
		vector   BLOB NOT NULL
	);

	CREATE TABLE IF NOT EXISTS transcripts (
		document_id      TEXT PRIMARY KEY REFERENCES documents(id) ON DELETE CASCADE,
		full_text        TEXT NOT NULL,
		language         TEXT NOT NULL,
		duration_seconds REAL NOT NULL,
		word_count       INTEGER NOT NULL
	);

	CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(
		chunk_id UNINDEXED,
		text,
		path,
		filename,
		tokenize='unicode61'
	);

	-- FTS rows follow chunk rows via triggers, inside the same transaction.
	CREATE TRIGGER IF NOT EXISTS chunks_fts_ai AFTER INSERT ON chunks BEGIN
		INSERT INTO chunks_fts(chunk_id, text, path, filename)
		SELECT new.id, new.text, d.path, d.filename
		FROM documents d WHERE d.id = new.document_id;
	END;
	CREATE TRIGGER IF NOT EXISTS chunks_fts_ad AFTER DELETE ON chunks BEGIN
		DELETE FROM chunks_fts WHERE chunk_id = old.id;
	END;

	CREATE TABLE IF NOT EXISTS pending_markers (
		doc_id     TEXT PRIMARY KEY,
		phase      TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	);

	INSERT OR IGNORE INTO schema_version (version) VALUES (1);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- documents ---

const documentColumns = `id, content_hash, path, filename, extension, media_type, size, inode,
	created_at, modified_at, indexed_at, is_deleted, deleted_at, duration_seconds, width, height, last_error`

func scanDocument(row interface{ Scan(...any) error }) (*Document, error) {
	var d Document
	var isDeleted int
	var deletedAt sql.NullTime
	var duration sql.NullFloat64
	var width, height sql.NullInt64
	err := row.Scan(&d.ID, &d.ContentHash, &d.Path, &d.Filename, &d.Extension, &d.MediaType,
		&d.Size, &d.Inode, &d.CreatedAt, &d.ModifiedAt, &d.IndexedAt,
		&isDeleted, &deletedAt, &duration, &width, &height, &d.LastError)
	if err != nil {
		return nil, err
	}
	d.IsDeleted = isDeleted != 0
	if deletedAt.Valid {
		t := deletedAt.Time
		d.DeletedAt = &t
	}
	if duration.Valid {
		v := duration.Float64
		d.DurationSeconds = &v
	}
	if width.Valid {
		v := int(width.Int64)
		d.Width = &v
	}
	if height.Valid {
		v := int(height.Int64)
		d.Height = &v
	}
	return &d, nil
}

func (s *SQLiteStore) getDocumentWhere(ctx context.Context, where string, args ...any) (*Document, error) {
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM documents WHERE %s", documentColumns, where), args...)
	doc, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.KindIO, "query document", err)
	}
	return doc, nil
}

// GetDocument returns the document by ID, or nil.
func (s *SQLiteStore) GetDocument(ctx context.Context, id string) (*Document, error) {
	return s.getDocumentWhere(ctx, "id = ?", id)
}

// GetByContentHash returns the live or tombstoned document with the hash.
func (s *SQLiteStore) GetByContentHash(ctx context.Context, hash string, deleted bool) (*Document, error) {
	return s.getDocumentWhere(ctx, "content_hash = ? AND is_deleted = ? ORDER BY indexed_at DESC LIMIT 1", hash, boolToInt(deleted))
}

// GetByInode returns the live document with the inode, or nil.
func (s *SQLiteStore) GetByInode(ctx context.Context, inode uint64) (*Document, error) {
	if inode == 0 {
		return nil, nil
	}
	return s.getDocumentWhere(ctx, "inode = ? AND is_deleted = 0 LIMIT 1", inode)
}

// GetByPath returns the live document at the path, or nil.
func (s *SQLiteStore) GetByPath(ctx context.Context, path string) (*Document, error) {
	return s.getDocumentWhere(ctx, "path = ? AND is_deleted = 0 LIMIT 1", path)
}

// upsertDocumentTx writes the full document row.
func upsertDocumentTx(ctx context.Context, tx *sql.Tx, d *Document) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO documents (`+documentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content_hash = excluded.content_hash,
			path = excluded.path,
			filename = excluded.filename,
			extension = excluded.extension,
			media_type = excluded.media_type,
			size = excluded.size,
			inode = excluded.inode,
			created_at = excluded.created_at,
			modified_at = excluded.modified_at,
			indexed_at = excluded.indexed_at,
			is_deleted = excluded.is_deleted,
			deleted_at = excluded.deleted_at,
			duration_seconds = excluded.duration_seconds,
			width = excluded.width,
			height = excluded.height,
			last_error = excluded.last_error`,
		d.ID, d.ContentHash, d.Path, d.Filename, d.Extension, d.MediaType, d.Size, d.Inode,
		d.CreatedAt, d.ModifiedAt, d.IndexedAt, boolToInt(d.IsDeleted), nullTime(d.DeletedAt),
		nullFloat(d.DurationSeconds), nullInt(d.Width), nullInt(d.Height), d.LastError)
	return err
}

// UpdateDocumentPath records a rename/move without touching chunks.
func (s *SQLiteStore) UpdateDocumentPath(ctx context.Context, id, path, filename string, inode uint64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE documents SET path = ?, filename = ?, inode = ?, indexed_at = ? WHERE id = ?`,
		path, filename, inode, time.Now().UTC(), id)
	if err != nil {
		return xerrors.Wrap(xerrors.KindIO, "update document path", err)
	}
	// FTS carries path/filename for filter push-down; keep it in step.
	_, err = s.db.ExecContext(ctx, `
		UPDATE chunks_fts SET path = ?, filename = ?
		WHERE chunk_id IN (SELECT id FROM chunks WHERE document_id = ?)`,
		path, filename, id)
	if err != nil {
		return xerrors.Wrap(xerrors.KindIO, "update fts paths", err)
	}
	return nil
}

// RecordDocumentError stores the latest per-document failure.
func (s *SQLiteStore) RecordDocumentError(ctx context.Context, id, message string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE documents SET last_error = ? WHERE id = ?`, message, id)
	if err != nil {
		return xerrors.Wrap(xerrors.KindIO, "record document error", err)
	}
	return nil
}

// ChunkIDsForDocument returns the document's chunk IDs in index order.
func (s *SQLiteStore) ChunkIDsForDocument(ctx context.Context, docID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM chunks WHERE document_id = ? ORDER BY chunk_index`, docID)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.KindIO, "query chunk ids", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, xerrors.Wrap(xerrors.KindIO, "scan chunk id", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetChunk returns a chunk by ID, or nil.
func (s *SQLiteStore) GetChunk(ctx context.Context, id string) (*Chunk, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, document_id, chunk_index, text, start_time, end_time, page, metadata
		FROM chunks WHERE id = ?`, id)
	c, err := scanChunk(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.KindIO, "query chunk", err)
	}
	return c, nil
}

func scanChunk(row interface{ Scan(...any) error }) (*Chunk, error) {
	var c Chunk
	var start, end sql.NullFloat64
	var page sql.NullInt64
	var metadata string
	if err := row.Scan(&c.ID, &c.DocumentID, &c.ChunkIndex, &c.Text, &start, &end, &page, &metadata); err != nil {
		return nil, err
	}
	if start.Valid {
		v := start.Float64
		c.StartTime = &v
	}
	if end.Valid {
		v := end.Float64
		c.EndTime = &v
	}
	if page.Valid {
		v := int(page.Int64)
		c.Page = &v
	}
	if metadata != "" && metadata != "{}" {
		_ = json.Unmarshal([]byte(metadata), &c.Metadata)
	}
	return &c, nil
}

// SaveTranscript stores an audio/video transcript summary.
func (s *SQLiteStore) SaveTranscript(ctx context.Context, t *Transcript) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transcripts (document_id, full_text, language, duration_seconds, word_count)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(document_id) DO UPDATE SET
			full_text = excluded.full_text,
			language = excluded.language,
			duration_seconds = excluded.duration_seconds,
			word_count = excluded.word_count`,
		t.DocumentID, t.FullText, t.Language, t.DurationSeconds, t.WordCount)
	if err != nil {
		return xerrors.Wrap(xerrors.KindIO, "save transcript", err)
	}
	return nil
}

// GetTranscript returns the transcript for a document, or nil.
func (s *SQLiteStore) GetTranscript(ctx context.Context, docID string) (*Transcript, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT document_id, full_text, language, duration_seconds, word_count
		FROM transcripts WHERE document_id = ?`, docID)
	var t Transcript
	err := row.Scan(&t.DocumentID, &t.FullText, &t.Language, &t.DurationSeconds, &t.WordCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.KindIO, "query transcript", err)
	}
	return &t, nil
}

// Stats summarizes live documents and chunks.
func (s *SQLiteStore) Stats(ctx context.Context) (*StatsSnapshot, error) {
	snap := &StatsSnapshot{ByMediaType: make(map[string]int)}

	rows, err := s.db.QueryContext(ctx, `
		SELECT media_type, COUNT(*) FROM documents WHERE is_deleted = 0 GROUP BY media_type`)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.KindIO, "query stats", err)
	}
	defer rows.Close()
	for rows.Next() {
		var mt string
		var n int
		if err := rows.Scan(&mt, &n); err != nil {
			return nil, xerrors.Wrap(xerrors.KindIO, "scan stats", err)
		}
		snap.ByMediaType[mt] = n
		snap.TotalDocuments += n
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.KindIO, "stats rows", err)
	}

	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM chunks c
		JOIN documents d ON d.id = c.document_id WHERE d.is_deleted = 0`).Scan(&snap.TotalChunks); err != nil {
		return nil, xerrors.Wrap(xerrors.KindIO, "count chunks", err)
	}

	var last sql.NullString
	if err := s.db.QueryRowContext(ctx, `
		SELECT MAX(indexed_at) FROM documents WHERE is_deleted = 0`).Scan(&last); err != nil {
		return nil, xerrors.Wrap(xerrors.KindIO, "last indexed", err)
	}
	if last.Valid {
		t, err := time.Parse("2006-01-02 15:04:05.999999999 -0700 MST", last.String)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.KindIO, "parse last indexed", err)
		}
		snap.LastIndexedAt = &t
	}
	return snap, nil
}

// Directories aggregates live documents per parent directory.
func (s *SQLiteStore) Directories(ctx context.Context) ([]DirectoryCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT path FROM documents WHERE is_deleted = 0`)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.KindIO, "query directories", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, xerrors.Wrap(xerrors.KindIO, "scan path", err)
		}
		counts[filepath.Dir(p)]++
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.KindIO, "directories rows", err)
	}

	result := make([]DirectoryCount, 0, len(counts))
	for dir, n := range counts {
		result = append(result, DirectoryCount{Path: dir, FileCount: n})
	}
	sortDirectories(result)
	return result, nil
}

// RecentDocuments lists live documents, most recently indexed first.
func (s *SQLiteStore) RecentDocuments(ctx context.Context, limit int) ([]*Document, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM documents WHERE is_deleted = 0
		ORDER BY indexed_at DESC LIMIT ?`, documentColumns), limit)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.KindIO, "query recent documents", err)
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.KindIO, "scan document", err)
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func nullInt(n *int) any {
	if n == nil {
		return nil
	}
	return *n
}

func sortDirectories(dirs []DirectoryCount) {
	sort.Slice(dirs, func(i, j int) bool {
		if dirs[i].FileCount != dirs[j].FileCount {
			return dirs[i].FileCount > dirs[j].FileCount
		}
		return dirs[i].Path < dirs[j].Path
	})
}
