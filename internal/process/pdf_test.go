package process

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localdoc/docsearch/internal/chunk"
	"github.com/localdoc/docsearch/internal/config"
	"github.com/localdoc/docsearch/internal/store"
	"github.com/localdoc/docsearch/internal/xerrors"
)

// fakePDFRunner simulates pdfinfo/pdftotext/pdftoppm for a canned document.
type fakePDFRunner struct {
	pages    []string
	ppmCalls int
}

func (f *fakePDFRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	switch name {
	case "pdfinfo":
		return []byte(fmt.Sprintf("Title: test\nPages:          %d\n", len(f.pages))), nil
	case "pdftotext":
		page, _ := strconv.Atoi(args[1])
		if page < 1 || page > len(f.pages) {
			return nil, xerrors.Newf(xerrors.KindExtraction, "bad page %d", page)
		}
		return []byte(f.pages[page-1]), nil
	case "pdftoppm":
		f.ppmCalls++
		// args: -png -r DPI -f N -l N path prefix
		prefix := args[len(args)-1]
		page := args[4]
		return nil, os.WriteFile(prefix+"-"+page+".png", []byte("fake png bytes"), 0o644)
	default:
		return nil, xerrors.Newf(xerrors.KindExtraction, "unexpected command %s", name)
	}
}

// fakeVLM returns a fixed transcription, or errors for listed pages.
type fakeVLM struct {
	response string
	err      error
	calls    int
}

func (f *fakeVLM) Generate(ctx context.Context, m, prompt string, images [][]byte) (string, error) {
	f.calls++
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

func pdfDoc(path string) *store.Document {
	now := time.Now().UTC()
	return &store.Document{
		ID: "pdf1", Path: path, Filename: filepath.Base(path), Extension: ".pdf",
		MediaType: store.MediaDocument, CreatedAt: now, ModifiedAt: now, IndexedAt: now,
	}
}

func testPDFConfig() config.PDFConfig {
	return config.PDFConfig{
		VLMModel:        "minicpm-v",
		VLMTimeout:      5 * time.Second,
		DPI:             150,
		MaxPages:        5,
		Workers:         2,
		MinCharsPerPage: 100,
	}
}

func TestPDFTextWithVLMFallback(t *testing.T) {
	// Page 1 has plenty of text; page 2 is image-heavy.
	runner := &fakePDFRunner{pages: []string{
		strings.Repeat("real extracted text. ", 25), // ~500 chars
		"20 chars of content.",
	}}
	vlm := &fakeVLM{response: "page 2 content transcribed by the vision model"}
	pipeline := NewPDFPipeline(runner, vlm, chunk.New(0, 0, 0, 0), testPDFConfig())

	result, err := pipeline.Process(context.Background(), pdfDoc("/x/report.pdf"))
	require.NoError(t, err)
	require.NotEmpty(t, result.Pieces)

	assert.Equal(t, 1, result.VLMPagesProcessed)
	assert.Equal(t, 1, vlm.calls, "only the sparse page goes through the VLM")

	byPage := map[int][]string{}
	for _, piece := range result.Pieces {
		require.NotNil(t, piece.Page)
		byPage[*piece.Page] = append(byPage[*piece.Page], piece.Text)
	}
	require.NotEmpty(t, byPage[1])
	assert.Contains(t, byPage[1][0], "real extracted text")
	require.NotEmpty(t, byPage[2])
	assert.True(t, strings.HasPrefix(byPage[2][0], "page 2 content"), "VLM text replaces the sparse page")
}

func TestPDFAllTextNoVLMCalls(t *testing.T) {
	runner := &fakePDFRunner{pages: []string{
		strings.Repeat("page one. ", 30),
		strings.Repeat("page two. ", 30),
	}}
	vlm := &fakeVLM{response: "unused"}
	pipeline := NewPDFPipeline(runner, vlm, chunk.New(0, 0, 0, 0), testPDFConfig())

	result, err := pipeline.Process(context.Background(), pdfDoc("/x/text.pdf"))
	require.NoError(t, err)
	assert.Zero(t, result.VLMPagesProcessed)
	assert.Zero(t, vlm.calls)
}

func TestPDFFailedPageGetsPlaceholder(t *testing.T) {
	runner := &fakePDFRunner{pages: []string{
		strings.Repeat("good page. ", 30),
		"", // sparse, and the VLM will fail on it
	}}
	vlm := &fakeVLM{err: xerrors.Newf(xerrors.KindModelTimeout, "page timed out")}
	pipeline := NewPDFPipeline(runner, vlm, chunk.New(0, 0, 0, 0), testPDFConfig())

	result, err := pipeline.Process(context.Background(), pdfDoc("/x/partial.pdf"))
	require.NoError(t, err, "one failed page must not fail the document")

	var page2 []string
	for _, piece := range result.Pieces {
		if piece.Page != nil && *piece.Page == 2 {
			page2 = append(page2, piece.Text)
		}
	}
	require.Len(t, page2, 1)
	assert.Contains(t, page2[0], "extraction failed")
}

func TestPDFAllPagesFailedIsExtractionError(t *testing.T) {
	runner := &fakePDFRunner{pages: []string{"", ""}}
	vlm := &fakeVLM{err: xerrors.Newf(xerrors.KindModelTimeout, "down")}
	pipeline := NewPDFPipeline(runner, vlm, chunk.New(0, 0, 0, 0), testPDFConfig())

	_, err := pipeline.Process(context.Background(), pdfDoc("/x/broken.pdf"))
	require.Error(t, err)
	assert.Equal(t, xerrors.KindExtraction, xerrors.KindOf(err))
	assert.Contains(t, err.Error(), "extraction_failed")
}

func TestPDFMaxPagesCapsVLM(t *testing.T) {
	pages := make([]string, 6)
	runner := &fakePDFRunner{pages: pages} // all sparse
	vlm := &fakeVLM{response: "transcription"}
	cfg := testPDFConfig()
	cfg.MaxPages = 3
	pipeline := NewPDFPipeline(runner, vlm, chunk.New(0, 0, 0, 0), cfg)

	result, err := pipeline.Process(context.Background(), pdfDoc("/x/scan.pdf"))
	require.NoError(t, err)
	assert.Equal(t, 3, result.VLMPagesProcessed)
	assert.Equal(t, 3, vlm.calls)
}
