package process

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/localdoc/docsearch/internal/chunk"
	"github.com/localdoc/docsearch/internal/store"
	"github.com/localdoc/docsearch/internal/xerrors"
)

// DocumentProcessor extracts text documents: plain text and markup are
// read natively, Office containers are unzipped, PDFs go through the
// two-stage pipeline.
type DocumentProcessor struct {
	chunker *chunk.Chunker
	pdf     *PDFPipeline
}

// NewDocumentProcessor creates the document processor.
func NewDocumentProcessor(chunker *chunk.Chunker, pdf *PDFPipeline) *DocumentProcessor {
	return &DocumentProcessor{chunker: chunker, pdf: pdf}
}

// MediaType returns the dispatch key.
func (p *DocumentProcessor) MediaType() store.MediaType { return store.MediaDocument }

// CanProcess accepts every document extension; unknown ones were already
// gated as text-decodable at classification time.
func (p *DocumentProcessor) CanProcess(doc *store.Document) bool { return true }

// Process extracts and chunks document text.
func (p *DocumentProcessor) Process(ctx context.Context, doc *store.Document) (*Result, error) {
	switch doc.Extension {
	case ".pdf":
		return p.pdf.Process(ctx, doc)
	case ".docx":
		return p.processZipXML(doc, isDocxTextFile, "t", "p")
	case ".pptx":
		return p.processZipXML(doc, isPptxSlideFile, "t", "p")
	case ".xlsx":
		return p.processZipXML(doc, isXlsxSharedStrings, "t", "si")
	default:
		return p.processPlainText(doc)
	}
}

func (p *DocumentProcessor) processPlainText(doc *store.Document) (*Result, error) {
	data, err := os.ReadFile(doc.Path)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.KindIO, "read document", err)
	}
	return &Result{Pieces: p.chunker.Chunk(string(data))}, nil
}

// processZipXML extracts character data from Office Open XML containers:
// text lives in <t> elements, grouped into blocks by the given parent
// element (paragraphs in documents and slides, shared-string items in
// workbooks).
func (p *DocumentProcessor) processZipXML(doc *store.Document, match func(string) bool, textElem, blockElem string) (*Result, error) {
	r, err := zip.OpenReader(doc.Path)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.KindExtraction, "open office container", err)
	}
	defer r.Close()

	var names []string
	for _, f := range r.File {
		if match(f.Name) {
			names = append(names, f.Name)
		}
	}
	if len(names) == 0 {
		return nil, xerrors.Newf(xerrors.KindExtraction, "no text parts in %s", doc.Filename)
	}
	sort.Strings(names)

	var blocks []string
	for _, name := range names {
		for _, f := range r.File {
			if f.Name != name {
				continue
			}
			rc, err := f.Open()
			if err != nil {
				return nil, xerrors.Wrap(xerrors.KindExtraction, "open office part", err)
			}
			part, err := extractXMLText(rc, textElem, blockElem)
			rc.Close()
			if err != nil {
				return nil, err
			}
			blocks = append(blocks, part...)
		}
	}

	text := strings.Join(blocks, "\n\n")
	return &Result{Pieces: p.chunker.Chunk(text)}, nil
}

// extractXMLText streams an XML part, collecting character data inside
// textElem elements and flushing a block at each closing blockElem.
func extractXMLText(r io.Reader, textElem, blockElem string) ([]string, error) {
	decoder := xml.NewDecoder(r)
	var blocks []string
	var current strings.Builder
	inText := 0

	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, xerrors.Wrap(xerrors.KindExtraction, "parse office xml", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == textElem {
				inText++
			}
		case xml.EndElement:
			if t.Name.Local == textElem && inText > 0 {
				inText--
			}
			if t.Name.Local == blockElem {
				if s := strings.TrimSpace(current.String()); s != "" {
					blocks = append(blocks, s)
				}
				current.Reset()
			}
		case xml.CharData:
			if inText > 0 {
				current.Write(t)
			}
		}
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		blocks = append(blocks, s)
	}
	return blocks, nil
}

func isDocxTextFile(name string) bool { return name == "word/document.xml" }

func isXlsxSharedStrings(name string) bool { return name == "xl/sharedStrings.xml" }

func isPptxSlideFile(name string) bool {
	return strings.HasPrefix(name, "ppt/slides/slide") && strings.HasSuffix(name, ".xml")
}
