package process

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/localdoc/docsearch/internal/chunk"
	"github.com/localdoc/docsearch/internal/config"
	"github.com/localdoc/docsearch/internal/store"
	"github.com/localdoc/docsearch/internal/xerrors"
)

// vlmPrompt is the fixed transcription prompt for image-heavy pages.
const vlmPrompt = `Transcribe all text on this document page completely. ` +
	`Then describe the page structure: headings, tables, figures, and their layout. ` +
	`Output the transcription first, then the description.`

// VLMClient is the slice of the model runtime the pipeline needs.
type VLMClient interface {
	Generate(ctx context.Context, generationModel, prompt string, images [][]byte) (string, error)
}

// PDFPipeline is the two-stage PDF extractor: a text pass per page, then a
// bounded, concurrent VLM pass over pages too sparse to have real text.
type PDFPipeline struct {
	runner  Runner
	vlm     VLMClient
	chunker *chunk.Chunker
	cfg     config.PDFConfig
}

// NewPDFPipeline creates the pipeline.
func NewPDFPipeline(runner Runner, vlm VLMClient, chunker *chunk.Chunker, cfg config.PDFConfig) *PDFPipeline {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.VLMTimeout <= 0 {
		cfg.VLMTimeout = 60 * time.Second
	}
	if cfg.MinCharsPerPage <= 0 {
		cfg.MinCharsPerPage = 100
	}
	if cfg.DPI <= 0 {
		cfg.DPI = 150
	}
	return &PDFPipeline{runner: runner, vlm: vlm, chunker: chunker, cfg: cfg}
}

// Process extracts a PDF page by page. Pages whose text pass yields fewer
// than MinCharsPerPage characters are re-read through the VLM, up to
// MaxPages of them, merged back in page order. A page that fails gets a
// placeholder chunk; a document whose pages all fail is an extraction
// error.
func (p *PDFPipeline) Process(ctx context.Context, doc *store.Document) (*Result, error) {
	pageCount, err := p.pageCount(ctx, doc.Path)
	if err != nil {
		return nil, err
	}
	if pageCount == 0 {
		return &Result{}, nil
	}

	pages := make([]chunk.PageText, pageCount)
	failed := make([]bool, pageCount)
	for i := 0; i < pageCount; i++ {
		text, err := p.pageText(ctx, doc.Path, i+1)
		if err != nil {
			if xerrors.IsCancelled(err) {
				return nil, err
			}
			failed[i] = true
			text = ""
		}
		pages[i] = chunk.PageText{Number: i + 1, Text: text}
	}

	// Fallback decision: character count per page.
	var imageHeavy []int
	for i := range pages {
		if len(strings.TrimSpace(pages[i].Text)) < p.cfg.MinCharsPerPage {
			imageHeavy = append(imageHeavy, i)
		}
	}
	if p.cfg.MaxPages > 0 && len(imageHeavy) > p.cfg.MaxPages {
		slog.Info("pdf_vlm_page_cap",
			slog.String("path", doc.Path),
			slog.Int("image_heavy", len(imageHeavy)),
			slog.Int("max_pages", p.cfg.MaxPages))
		imageHeavy = imageHeavy[:p.cfg.MaxPages]
	}

	vlmProcessed := p.vlmPass(ctx, doc.Path, pages, failed, imageHeavy)
	if err := ctx.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.KindCancelled, "pdf pipeline", err)
	}

	allFailed := true
	for i := range pages {
		if !failed[i] {
			allFailed = false
			break
		}
	}
	if allFailed {
		return nil, xerrors.Newf(xerrors.KindExtraction, "extraction_failed: all %d pages failed", pageCount).
			WithDetail("path", doc.Path)
	}

	// Failed pages keep a placeholder so the document still indexes with
	// its page range intact.
	for i := range pages {
		if failed[i] {
			pages[i].Text = fmt.Sprintf("[page %d: extraction failed]", i+1)
		}
	}

	return &Result{
		Pieces:            p.chunker.ChunkPages(pages),
		VLMPagesProcessed: vlmProcessed,
	}, nil
}

// vlmPass renders and transcribes the given pages with bounded
// concurrency, replacing page text in place. Returns the success count.
func (p *PDFPipeline) vlmPass(ctx context.Context, path string, pages []chunk.PageText, failed []bool, pageIdx []int) int {
	if len(pageIdx) == 0 || p.vlm == nil {
		return 0
	}

	sem := semaphore.NewWeighted(int64(p.cfg.Workers))
	var wg sync.WaitGroup
	var mu sync.Mutex
	processed := 0

	for _, idx := range pageIdx {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			defer sem.Release(1)

			text, err := p.transcribePage(ctx, path, idx+1)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				slog.Warn("pdf_vlm_page_failed",
					slog.String("path", path),
					slog.Int("page", idx+1),
					slog.String("error", err.Error()))
				failed[idx] = true
				return
			}
			pages[idx].Text = text
			failed[idx] = false
			processed++
		}(idx)
	}
	wg.Wait()
	return processed
}

func (p *PDFPipeline) transcribePage(ctx context.Context, path string, pageNum int) (string, error) {
	img, err := p.renderPage(ctx, path, pageNum)
	if err != nil {
		return "", err
	}

	callCtx, cancel := context.WithTimeout(ctx, p.cfg.VLMTimeout)
	defer cancel()
	text, err := p.vlm.Generate(callCtx, p.cfg.VLMModel, vlmPrompt, [][]byte{img})
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", xerrors.Newf(xerrors.KindExtraction, "empty VLM response for page %d", pageNum)
	}
	return text, nil
}

// renderPage rasterizes one page to PNG via pdftoppm.
func (p *PDFPipeline) renderPage(ctx context.Context, path string, pageNum int) ([]byte, error) {
	dir, err := os.MkdirTemp("", "docsearch-pdf-")
	if err != nil {
		return nil, xerrors.Wrap(xerrors.KindIO, "create temp dir", err)
	}
	defer os.RemoveAll(dir)

	prefix := filepath.Join(dir, "page")
	_, err = p.runner.Run(ctx, "pdftoppm",
		"-png",
		"-r", strconv.Itoa(p.cfg.DPI),
		"-f", strconv.Itoa(pageNum),
		"-l", strconv.Itoa(pageNum),
		path, prefix)
	if err != nil {
		return nil, err
	}

	matches, err := filepath.Glob(prefix + "*.png")
	if err != nil || len(matches) == 0 {
		return nil, xerrors.Newf(xerrors.KindExtraction, "pdftoppm produced no image for page %d", pageNum)
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		return nil, xerrors.Wrap(xerrors.KindIO, "read rendered page", err)
	}
	return data, nil
}

// pageText extracts one page's text via pdftotext.
func (p *PDFPipeline) pageText(ctx context.Context, path string, pageNum int) (string, error) {
	out, err := p.runner.Run(ctx, "pdftotext",
		"-f", strconv.Itoa(pageNum),
		"-l", strconv.Itoa(pageNum),
		"-layout",
		path, "-")
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// pageCount reads the page count from pdfinfo.
func (p *PDFPipeline) pageCount(ctx context.Context, path string) (int, error) {
	out, err := p.runner.Run(ctx, "pdfinfo", path)
	if err != nil {
		return 0, err
	}
	for _, line := range strings.Split(string(out), "\n") {
		if !strings.HasPrefix(line, "Pages:") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, "Pages:")))
		if err != nil {
			return 0, xerrors.Newf(xerrors.KindExtraction, "unparseable pdfinfo page count: %q", line)
		}
		return n, nil
	}
	return 0, xerrors.Newf(xerrors.KindExtraction, "pdfinfo reported no page count").WithDetail("path", path)
}
