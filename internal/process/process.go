// Package process extracts text and locators from tracked files. One
// processor per media type; all are stateless, and concurrency is imposed
// by the scheduler.
package process

import (
	"context"

	"github.com/localdoc/docsearch/internal/chunk"
	"github.com/localdoc/docsearch/internal/store"
	"github.com/localdoc/docsearch/internal/xerrors"
)

// Result is what a processor produces for one document.
type Result struct {
	// Pieces are the chunker outputs with locators attached.
	Pieces []chunk.Piece

	// Transcript is set for audio/video documents.
	Transcript *store.Transcript

	// Probed document metadata, when the media carries it.
	Duration *float64
	Width    *int
	Height   *int

	// VLMPagesProcessed counts PDF pages that went through the VLM.
	VLMPagesProcessed int
}

// Processor turns one document into chunks plus metadata.
type Processor interface {
	// MediaType is the registry dispatch key.
	MediaType() store.MediaType

	// CanProcess reports whether this processor handles the document.
	CanProcess(doc *store.Document) bool

	// Process extracts text and locators.
	Process(ctx context.Context, doc *store.Document) (*Result, error)
}

// Registry dispatches documents to processors by media type.
type Registry struct {
	processors map[store.MediaType]Processor
}

// NewRegistry builds a registry from the given processors.
func NewRegistry(processors ...Processor) *Registry {
	m := make(map[store.MediaType]Processor, len(processors))
	for _, p := range processors {
		m[p.MediaType()] = p
	}
	return &Registry{processors: m}
}

// Process routes the document to its processor.
func (r *Registry) Process(ctx context.Context, doc *store.Document) (*Result, error) {
	p, ok := r.processors[doc.MediaType]
	if !ok || !p.CanProcess(doc) {
		return nil, xerrors.Newf(xerrors.KindExtraction, "no processor for media type %s (%s)", doc.MediaType, doc.Extension)
	}
	return p.Process(ctx, doc)
}
