// Package store provides the dual-index persistence layer: a SQLite
// database holding the document registry, chunks, and the BM25 full-text
// index, paired with an HNSW vector index over the same chunk corpus.
package store

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// MediaType classifies a tracked file.
type MediaType string

const (
	MediaDocument MediaType = "document"
	MediaImage    MediaType = "image"
	MediaAudio    MediaType = "audio"
	MediaVideo    MediaType = "video"
)

// Document represents a tracked file.
type Document struct {
	ID          string
	ContentHash string
	Path        string
	Filename    string
	Extension   string
	MediaType   MediaType
	Size        int64
	Inode       uint64

	CreatedAt  time.Time
	ModifiedAt time.Time
	IndexedAt  time.Time

	IsDeleted bool
	DeletedAt *time.Time

	DurationSeconds *float64
	Width           *int
	Height          *int

	// LastError records the most recent per-document failure, if any.
	LastError string
}

// Chunk is a retrievable unit owned by exactly one Document.
type Chunk struct {
	ID         string
	DocumentID string
	ChunkIndex int
	Text       string

	// StartTime/EndTime locate audio/video chunks in seconds.
	StartTime *float64
	EndTime   *float64

	// Page locates document chunks (1-based).
	Page *int

	Metadata map[string]string
}

// Transcript summarizes an audio/video document.
type Transcript struct {
	DocumentID      string
	FullText        string
	Language        string
	DurationSeconds float64
	WordCount       int
}

// VectorResult is a dense search hit with cosine similarity.
type VectorResult struct {
	ChunkID string
	Score   float32
}

// BM25Result is a lexical search hit.
type BM25Result struct {
	ChunkID string
	Score   float64
}

// Filters restrict a search to matching documents. Zero values mean no
// restriction.
type Filters struct {
	MediaTypes  []MediaType
	Extensions  []string
	PathPrefix  string
	DateFrom    *time.Time
	DateTo      *time.Time
	MinDuration *float64
	MaxDuration *float64
}

// Empty reports whether no filter is set.
func (f Filters) Empty() bool {
	return len(f.MediaTypes) == 0 && len(f.Extensions) == 0 && f.PathPrefix == "" &&
		f.DateFrom == nil && f.DateTo == nil && f.MinDuration == nil && f.MaxDuration == nil
}

// StatsSnapshot summarizes the index.
type StatsSnapshot struct {
	TotalDocuments int
	ByMediaType    map[string]int
	TotalChunks    int
	LastIndexedAt  *time.Time
}

// DirectoryCount aggregates indexed files per parent directory.
type DirectoryCount struct {
	Path      string
	FileCount int
}

// ChunkID derives a stable chunk identifier from its owner, position, and
// content. Renames leave it untouched; content changes produce a new one.
func ChunkID(documentID string, index int, text string) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s:%d:%x", documentID, index, sha256.Sum256([]byte(text)))))
	return hex.EncodeToString(h[:16])
}

// ErrDimensionMismatch indicates vector dimension mismatch.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}
