package process

import (
	"bytes"
	"context"
	"image"
	_ "image/gif"  // decode config support
	_ "image/jpeg" // decode config support
	_ "image/png"  // decode config support
	"os"
	"strings"

	"github.com/localdoc/docsearch/internal/chunk"
	"github.com/localdoc/docsearch/internal/store"
	"github.com/localdoc/docsearch/internal/xerrors"
)

// imagePrompt asks the VLM for both a description and an OCR pass.
const imagePrompt = `Describe this image in detail. ` +
	`If the image contains any text, transcribe it completely and exactly.`

// ImageProcessor sends images through the VLM and chunks the description
// plus transcribed text.
type ImageProcessor struct {
	vlm      VLMClient
	vlmModel string
	chunker  *chunk.Chunker
}

// NewImageProcessor creates the image processor.
func NewImageProcessor(vlm VLMClient, vlmModel string, chunker *chunk.Chunker) *ImageProcessor {
	return &ImageProcessor{vlm: vlm, vlmModel: vlmModel, chunker: chunker}
}

// MediaType returns the dispatch key.
func (p *ImageProcessor) MediaType() store.MediaType { return store.MediaImage }

// CanProcess accepts every classified image.
func (p *ImageProcessor) CanProcess(doc *store.Document) bool { return true }

// Process describes the image and attaches pixel dimensions.
func (p *ImageProcessor) Process(ctx context.Context, doc *store.Document) (*Result, error) {
	data, err := os.ReadFile(doc.Path)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.KindIO, "read image", err)
	}

	result := &Result{}
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		w, h := cfg.Width, cfg.Height
		result.Width = &w
		result.Height = &h
	}

	description, err := p.vlm.Generate(ctx, p.vlmModel, imagePrompt, [][]byte{data})
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(description) == "" {
		return nil, xerrors.Newf(xerrors.KindExtraction, "empty VLM description").WithDetail("path", doc.Path)
	}

	result.Pieces = p.chunker.Chunk(description)
	return result, nil
}
