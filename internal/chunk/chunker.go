// Package chunk splits extracted text into bounded, overlapping pieces.
// Boundaries prefer paragraph breaks over line breaks over sentence ends
// over whitespace, with a hard cut as the last resort.
package chunk

import (
	"strings"
	"unicode"
)

// Size defaults in characters.
const (
	DefaultSize    = 800
	DefaultMaxSize = 1000
	DefaultMinSize = 100
	DefaultOverlap = 100

	// DefaultMaxTimeGap is the transcript silence above which chunks
	// never span, in seconds.
	DefaultMaxTimeGap = 2.0
)

// Piece is one chunk of text with optional locators.
type Piece struct {
	Text  string
	Index int

	// Page is the 1-based page locator for paginated documents.
	Page *int

	// StartTime/EndTime locate transcript chunks in seconds.
	StartTime *float64
	EndTime   *float64
}

// Segment is a timed transcript span.
type Segment struct {
	Text  string
	Start float64
	End   float64
}

// PageText is one page of extracted document text.
type PageText struct {
	// Number is 1-based.
	Number int
	Text   string
}

// Chunker splits text with configured size bounds.
type Chunker struct {
	Size    int
	MaxSize int
	MinSize int
	Overlap int

	// MaxTimeGap bounds transcript chunks (seconds).
	MaxTimeGap float64
}

// New returns a chunker with the given bounds; zero values take defaults.
func New(size, maxSize, minSize, overlap int) *Chunker {
	c := &Chunker{Size: size, MaxSize: maxSize, MinSize: minSize, Overlap: overlap, MaxTimeGap: DefaultMaxTimeGap}
	if c.Size <= 0 {
		c.Size = DefaultSize
	}
	if c.MaxSize <= 0 {
		c.MaxSize = DefaultMaxSize
	}
	if c.MinSize <= 0 {
		c.MinSize = DefaultMinSize
	}
	if c.Overlap < 0 || c.Overlap >= c.Size {
		c.Overlap = DefaultOverlap
	}
	return c
}

// Chunk splits plain text into pieces with dense 0-based indexes.
func (c *Chunker) Chunk(text string) []Piece {
	parts := c.split(text)
	pieces := make([]Piece, 0, len(parts))
	for i, p := range parts {
		pieces = append(pieces, Piece{Text: p, Index: i})
	}
	return pieces
}

// ChunkPages splits page by page, attaching page locators. Chunks never
// merge across pages, and every non-empty page yields at least one chunk.
func (c *Chunker) ChunkPages(pages []PageText) []Piece {
	var pieces []Piece
	index := 0
	for _, page := range pages {
		parts := c.split(page.Text)
		if len(parts) == 0 {
			continue
		}
		num := page.Number
		for _, p := range parts {
			n := num
			pieces = append(pieces, Piece{Text: p, Index: index, Page: &n})
			index++
		}
	}
	return pieces
}

// ChunkSegments groups timed transcript segments into chunks. A silence
// longer than MaxTimeGap always starts a new chunk, as does exceeding the
// target size.
func (c *Chunker) ChunkSegments(segments []Segment) []Piece {
	maxGap := c.MaxTimeGap
	if maxGap <= 0 {
		maxGap = DefaultMaxTimeGap
	}

	var pieces []Piece
	var texts []string
	var start, end float64
	length := 0

	flush := func() {
		if len(texts) == 0 {
			return
		}
		text := normalizeWhitespace(strings.Join(texts, " "))
		if text != "" {
			s, e := start, end
			pieces = append(pieces, Piece{Text: text, Index: len(pieces), StartTime: &s, EndTime: &e})
		}
		texts = nil
		length = 0
	}

	for _, seg := range segments {
		trimmed := strings.TrimSpace(seg.Text)
		if trimmed == "" {
			continue
		}
		if len(texts) > 0 && (seg.Start-end > maxGap || length+len(trimmed) > c.Size) {
			flush()
		}
		if len(texts) == 0 {
			start = seg.Start
		}
		texts = append(texts, trimmed)
		length += len(trimmed) + 1
		end = seg.End
	}
	flush()
	return pieces
}

// split produces the raw chunk texts for a block of text.
func (c *Chunker) split(text string) []string {
	text = normalizeWhitespaceKeepNewlines(text)
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if len(text) <= c.MaxSize {
		return []string{strings.TrimSpace(text)}
	}

	var parts []string
	start := 0
	for start < len(text) {
		end := start + c.Size
		if end >= len(text) {
			end = len(text)
		} else {
			end = c.findSplitPoint(text, start, end)
		}

		part := strings.TrimSpace(text[start:end])
		if part != "" {
			parts = append(parts, part)
		}

		if end >= len(text) {
			break
		}
		next := end - c.Overlap
		for next > start && !isRuneStart(text, next) {
			next--
		}
		if next <= start {
			next = end
		}
		start = next
	}

	// A trailing fragment below the minimum folds into its predecessor
	// when that stays within the hard cap.
	if n := len(parts); n >= 2 && len(parts[n-1]) < c.MinSize {
		merged := parts[n-2] + " " + parts[n-1]
		if len(merged) <= c.MaxSize {
			parts = append(parts[:n-2], merged)
		}
	}
	return parts
}

// findSplitPoint searches the window [start+80%·size, limit] for the best
// boundary: double newline, newline, sentence end, whitespace, hard cut.
func (c *Chunker) findSplitPoint(text string, start, limit int) int {
	searchStart := start + c.Size*8/10
	if searchStart >= limit {
		searchStart = start
	}
	window := text[searchStart:limit]

	if i := strings.LastIndex(window, "\n\n"); i >= 0 {
		return searchStart + i + 2
	}
	if i := strings.LastIndex(window, "\n"); i >= 0 {
		return searchStart + i + 1
	}
	if i := lastSentenceEnd(window); i >= 0 {
		return searchStart + i
	}
	if i := strings.LastIndexFunc(window, unicode.IsSpace); i >= 0 {
		return searchStart + i + 1
	}

	// Hard cut, but never beyond MaxSize and never inside a rune.
	cut := start + c.MaxSize
	if cut > limit {
		cut = limit
	}
	for cut > start && !isRuneStart(text, cut) {
		cut--
	}
	return cut
}

// lastSentenceEnd finds the byte offset just past the final sentence
// terminator (ASCII or CJK) in s, or -1.
func lastSentenceEnd(s string) int {
	best := -1
	for i, r := range s {
		switch r {
		case '.', '!', '?', '。', '！', '？':
			best = i + len(string(r))
		}
	}
	return best
}

func isRuneStart(s string, i int) bool {
	return i <= 0 || i >= len(s) || (s[i]&0xC0) != 0x80
}

// normalizeWhitespace collapses all whitespace runs to single spaces.
func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// normalizeWhitespaceKeepNewlines collapses horizontal whitespace but
// preserves line structure so boundary search can see it.
func normalizeWhitespaceKeepNewlines(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.Join(strings.Fields(line), " ")
	}
	out := strings.Join(lines, "\n")
	for strings.Contains(out, "\n\n\n") {
		out = strings.ReplaceAll(out, "\n\n\n", "\n\n")
	}
	return out
}
