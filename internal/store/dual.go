package store

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/localdoc/docsearch/internal/xerrors"
)

// Marker phases for the two-phase apply.
const (
	phaseStaged = "staged"
)

// DualStore pairs the relational/FTS store with the vector index and keeps
// them transactionally consistent via a two-phase apply. All mutations
// serialize on a single writer lock; reads proceed concurrently.
type DualStore struct {
	db      *SQLiteStore
	vectors *HNSWStore

	vectorPath string

	writerMu sync.Mutex
}

// Open opens the dual store from the database at dbPath and the vector
// index under vectorsDir, loading the persisted vector index if present,
// and runs the crash-recovery pass.
func Open(ctx context.Context, dbPath, vectorsDir string, dims int) (*DualStore, error) {
	db, err := OpenSQLite(dbPath)
	if err != nil {
		return nil, err
	}

	vectors, err := NewHNSWStore(DefaultVectorStoreConfig(dims))
	if err != nil {
		_ = db.Close()
		return nil, xerrors.Wrap(xerrors.KindConfigInvalid, "vector store", err)
	}

	vectorPath := filepath.Join(vectorsDir, "chunks.hnsw")
	if _, statErr := os.Stat(vectorPath); statErr == nil {
		if err := vectors.Load(vectorPath); err != nil {
			// A vector index that cannot load is rebuilt from the
			// relational embeddings during recovery.
			slog.Warn("vector_index_load_failed", slog.String("error", err.Error()))
			vectors, err = NewHNSWStore(DefaultVectorStoreConfig(dims))
			if err != nil {
				_ = db.Close()
				return nil, xerrors.Wrap(xerrors.KindConfigInvalid, "vector store", err)
			}
		}
	}

	s := &DualStore{db: db, vectors: vectors, vectorPath: vectorPath}
	if err := s.Recover(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// DB exposes the relational store for read paths.
func (s *DualStore) DB() *SQLiteStore { return s.db }

// Vectors exposes the vector index for read paths.
func (s *DualStore) Vectors() *HNSWStore { return s.vectors }

// Close persists the vector index and closes both stores.
func (s *DualStore) Close() error {
	s.writerMu.Lock()
	defer s.writerMu.Unlock()
	if err := s.vectors.Save(s.vectorPath); err != nil {
		slog.Warn("vector_index_save_failed", slog.String("error", err.Error()))
	}
	verr := s.vectors.Close()
	derr := s.db.Close()
	if derr != nil {
		return derr
	}
	return verr
}

// ApplyUpsert replaces a document's chunks and embeddings wholesale.
//
// Phase 1 writes a staged marker and applies vector-index changes (new rows
// inserted first, then old rows deleted). Phase 2 applies all relational
// changes in one transaction that also clears the marker. A crash between
// the phases leaves a staged marker that Recover resolves from committed
// relational state.
func (s *DualStore) ApplyUpsert(ctx context.Context, doc *Document, chunks []Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return xerrors.Newf(xerrors.KindInternal, "chunks (%d) and vectors (%d) must align", len(chunks), len(vectors))
	}

	s.writerMu.Lock()
	defer s.writerMu.Unlock()

	oldIDs, err := s.db.ChunkIDsForDocument(ctx, doc.ID)
	if err != nil {
		return err
	}

	if err := s.setMarker(ctx, doc.ID); err != nil {
		return err
	}

	newIDs := make([]string, len(chunks))
	for i := range chunks {
		newIDs[i] = chunks[i].ID
	}
	if err := s.vectors.Add(ctx, newIDs, vectors); err != nil {
		if _, ok := err.(ErrDimensionMismatch); ok {
			return xerrors.Wrap(xerrors.KindModelShapeMismatch, "vector upsert", err)
		}
		return xerrors.Wrap(xerrors.KindInternal, "vector upsert", err)
	}
	stale := difference(oldIDs, newIDs)
	if err := s.vectors.Delete(ctx, stale); err != nil {
		return xerrors.Wrap(xerrors.KindInternal, "vector delete", err)
	}
	if err := s.vectors.Save(s.vectorPath); err != nil {
		return xerrors.Wrap(xerrors.KindIO, "persist vector index", err)
	}

	tx, err := s.db.db.BeginTx(ctx, nil)
	if err != nil {
		return xerrors.Wrap(xerrors.KindIO, "begin upsert tx", err)
	}
	defer tx.Rollback()

	if err := upsertDocumentTx(ctx, tx, doc); err != nil {
		return xerrors.Wrap(xerrors.KindIO, "upsert document", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = ?`, doc.ID); err != nil {
		return xerrors.Wrap(xerrors.KindIO, "delete old chunks", err)
	}
	for i := range chunks {
		if err := insertChunkTx(ctx, tx, &chunks[i]); err != nil {
			return err
		}
		if err := insertEmbeddingTx(ctx, tx, chunks[i].ID, vectors[i]); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM pending_markers WHERE doc_id = ?`, doc.ID); err != nil {
		return xerrors.Wrap(xerrors.KindIO, "clear marker", err)
	}
	if err := tx.Commit(); err != nil {
		return xerrors.Wrap(xerrors.KindIO, "commit upsert", err)
	}
	return nil
}

// ApplyTombstone soft-deletes a document and removes its chunks from every
// index, using the same two-phase discipline.
func (s *DualStore) ApplyTombstone(ctx context.Context, docID, reason string) error {
	s.writerMu.Lock()
	defer s.writerMu.Unlock()

	ids, err := s.db.ChunkIDsForDocument(ctx, docID)
	if err != nil {
		return err
	}
	if err := s.setMarker(ctx, docID); err != nil {
		return err
	}
	if err := s.vectors.Delete(ctx, ids); err != nil {
		return xerrors.Wrap(xerrors.KindInternal, "vector delete", err)
	}
	if err := s.vectors.Save(s.vectorPath); err != nil {
		return xerrors.Wrap(xerrors.KindIO, "persist vector index", err)
	}

	tx, err := s.db.db.BeginTx(ctx, nil)
	if err != nil {
		return xerrors.Wrap(xerrors.KindIO, "begin tombstone tx", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = ?`, docID); err != nil {
		return xerrors.Wrap(xerrors.KindIO, "delete chunks", err)
	}
	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `
		UPDATE documents SET is_deleted = 1, deleted_at = ?, last_error = ? WHERE id = ?`,
		now, reason, docID); err != nil {
		return xerrors.Wrap(xerrors.KindIO, "tombstone document", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM pending_markers WHERE doc_id = ?`, docID); err != nil {
		return xerrors.Wrap(xerrors.KindIO, "clear marker", err)
	}
	if err := tx.Commit(); err != nil {
		return xerrors.Wrap(xerrors.KindIO, "commit tombstone", err)
	}
	return nil
}

// Restore clears a tombstone, reusing the document identity. The restored
// document has no chunks until its content is processed again.
func (s *DualStore) Restore(ctx context.Context, docID, path, filename string, inode uint64) error {
	s.writerMu.Lock()
	defer s.writerMu.Unlock()

	_, err := s.db.db.ExecContext(ctx, `
		UPDATE documents SET is_deleted = 0, deleted_at = NULL, path = ?, filename = ?, inode = ?,
			indexed_at = ?, last_error = '' WHERE id = ?`,
		path, filename, inode, time.Now().UTC(), docID)
	if err != nil {
		return xerrors.Wrap(xerrors.KindIO, "restore document", err)
	}
	return nil
}

// Rename records a path move; chunk and vector state is untouched.
func (s *DualStore) Rename(ctx context.Context, docID, path, filename string, inode uint64) error {
	s.writerMu.Lock()
	defer s.writerMu.Unlock()
	return s.db.UpdateDocumentPath(ctx, docID, path, filename, inode)
}

// Recover enforces chunk/vector consistency after a crash: with any staged
// marker present, vectors whose chunk has no relational row are deleted and
// vectors missing for committed embeddings are re-inserted.
func (s *DualStore) Recover(ctx context.Context) error {
	s.writerMu.Lock()
	defer s.writerMu.Unlock()

	rows, err := s.db.db.QueryContext(ctx, `SELECT doc_id FROM pending_markers WHERE phase = ?`, phaseStaged)
	if err != nil {
		return xerrors.Wrap(xerrors.KindStoreCorruption, "read pending markers", err)
	}
	var staged []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return xerrors.Wrap(xerrors.KindStoreCorruption, "scan marker", err)
		}
		staged = append(staged, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return xerrors.Wrap(xerrors.KindStoreCorruption, "marker rows", err)
	}
	if len(staged) == 0 && s.vectors.Count() > 0 {
		return nil
	}

	// Drop orphan vectors (no committed chunk row).
	live := make(map[string]bool)
	chunkRows, err := s.db.db.QueryContext(ctx, `SELECT id FROM chunks`)
	if err != nil {
		return xerrors.Wrap(xerrors.KindStoreCorruption, "list chunks", err)
	}
	for chunkRows.Next() {
		var id string
		if err := chunkRows.Scan(&id); err != nil {
			chunkRows.Close()
			return xerrors.Wrap(xerrors.KindStoreCorruption, "scan chunk", err)
		}
		live[id] = true
	}
	chunkRows.Close()
	if err := chunkRows.Err(); err != nil {
		return xerrors.Wrap(xerrors.KindStoreCorruption, "chunk rows", err)
	}

	var orphans []string
	for _, id := range s.vectors.AllIDs() {
		if !live[id] {
			orphans = append(orphans, id)
		}
	}
	if len(orphans) > 0 {
		slog.Info("recovery_removing_orphan_vectors", slog.Int("count", len(orphans)))
		if err := s.vectors.Delete(ctx, orphans); err != nil {
			return xerrors.Wrap(xerrors.KindStoreCorruption, "delete orphan vectors", err)
		}
	}

	// Re-insert vectors for committed chunks missing from the index.
	var missing []string
	for id := range live {
		if !s.vectors.Contains(id) {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		slog.Info("recovery_reinserting_vectors", slog.Int("count", len(missing)))
		for _, id := range missing {
			vec, err := s.loadEmbedding(ctx, id)
			if err != nil {
				return err
			}
			if vec == nil {
				continue
			}
			if err := s.vectors.Add(ctx, []string{id}, [][]float32{vec}); err != nil {
				return xerrors.Wrap(xerrors.KindStoreCorruption, "reinsert vector", err)
			}
		}
	}

	if len(staged) > 0 {
		if _, err := s.db.db.ExecContext(ctx, `DELETE FROM pending_markers`); err != nil {
			return xerrors.Wrap(xerrors.KindStoreCorruption, "clear markers", err)
		}
	}
	if len(orphans) > 0 || len(missing) > 0 {
		if err := s.vectors.Save(s.vectorPath); err != nil {
			return xerrors.Wrap(xerrors.KindIO, "persist vector index", err)
		}
	}
	return nil
}

func (s *DualStore) setMarker(ctx context.Context, docID string) error {
	_, err := s.db.db.ExecContext(ctx, `
		INSERT INTO pending_markers (doc_id, phase, created_at) VALUES (?, ?, ?)
		ON CONFLICT(doc_id) DO UPDATE SET phase = excluded.phase, created_at = excluded.created_at`,
		docID, phaseStaged, time.Now().UTC())
	if err != nil {
		return xerrors.Wrap(xerrors.KindIO, "write pending marker", err)
	}
	return nil
}

func insertChunkTx(ctx context.Context, tx *sql.Tx, c *Chunk) error {
	metadata := "{}"
	if len(c.Metadata) > 0 {
		data, err := json.Marshal(c.Metadata)
		if err != nil {
			return xerrors.Wrap(xerrors.KindInternal, "marshal chunk metadata", err)
		}
		metadata = string(data)
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO chunks (id, document_id, chunk_index, text, start_time, end_time, page, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.DocumentID, c.ChunkIndex, c.Text,
		nullFloat(c.StartTime), nullFloat(c.EndTime), nullInt(c.Page), metadata)
	if err != nil {
		return xerrors.Wrap(xerrors.KindIO, "insert chunk", err)
	}
	return nil
}

func insertEmbeddingTx(ctx context.Context, tx *sql.Tx, chunkID string, vec []float32) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO embeddings (chunk_id, vector) VALUES (?, ?)
		ON CONFLICT(chunk_id) DO UPDATE SET vector = excluded.vector`,
		chunkID, encodeVector(vec))
	if err != nil {
		return xerrors.Wrap(xerrors.KindIO, "insert embedding", err)
	}
	return nil
}

func (s *DualStore) loadEmbedding(ctx context.Context, chunkID string) ([]float32, error) {
	var blob []byte
	err := s.db.db.QueryRowContext(ctx, `SELECT vector FROM embeddings WHERE chunk_id = ?`, chunkID).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.KindStoreCorruption, "load embedding", err)
	}
	return decodeVector(blob), nil
}

// encodeVector serializes a vector as little-endian float32 bytes.
func encodeVector(vec []float32) []byte {
	buf := bytes.NewBuffer(make([]byte, 0, len(vec)*4))
	for _, v := range vec {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], math.Float32bits(v))
		buf.Write(b[:])
	}
	return buf.Bytes()
}

func decodeVector(blob []byte) []float32 {
	vec := make([]float32, len(blob)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vec
}

// difference returns elements of a not present in b.
func difference(a, b []string) []string {
	inB := make(map[string]bool, len(b))
	for _, id := range b {
		inB[id] = true
	}
	var out []string
	for _, id := range a {
		if !inB[id] {
			out = append(out, id)
		}
	}
	return out
}
