package chunk

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultChunker() *Chunker {
	return New(DefaultSize, DefaultMaxSize, DefaultMinSize, DefaultOverlap)
}

func TestChunkEmptyText(t *testing.T) {
	c := defaultChunker()
	assert.Empty(t, c.Chunk(""))
	assert.Empty(t, c.Chunk("   \n\t  "))
}

func TestChunkShortTextSinglePiece(t *testing.T) {
	c := defaultChunker()
	pieces := c.Chunk("a short paragraph that fits easily")
	require.Len(t, pieces, 1)
	assert.Equal(t, 0, pieces[0].Index)
	assert.Equal(t, "a short paragraph that fits easily", pieces[0].Text)
}

func TestChunkRespectsSizeBounds(t *testing.T) {
	c := defaultChunker()
	sentence := "The quick brown fox jumps over the lazy dog near the river bank. "
	text := strings.Repeat(sentence, 100)

	pieces := c.Chunk(text)
	require.Greater(t, len(pieces), 1)
	for i, p := range pieces {
		assert.LessOrEqual(t, len(p.Text), DefaultMaxSize, "piece %d too large", i)
		assert.Equal(t, i, p.Index)
		if i < len(pieces)-1 {
			assert.GreaterOrEqual(t, len(p.Text), DefaultMinSize, "piece %d too small", i)
		}
	}
}

func TestChunkPrefersParagraphBoundary(t *testing.T) {
	c := New(100, 130, 20, 10)
	para1 := strings.Repeat("alpha ", 15) // 90 chars
	para2 := strings.Repeat("beta ", 20)
	text := para1 + "\n\n" + para2

	pieces := c.Chunk(text)
	require.GreaterOrEqual(t, len(pieces), 2)
	assert.Equal(t, strings.TrimSpace(para1), pieces[0].Text)
}

func TestChunkOverlapCarriesContext(t *testing.T) {
	c := New(200, 250, 50, 60)
	words := make([]string, 200)
	for i := range words {
		words[i] = "token"
	}
	text := strings.Join(words, " ")

	pieces := c.Chunk(text)
	require.Greater(t, len(pieces), 1)

	// Consecutive pieces share text due to overlap.
	tail := pieces[0].Text[len(pieces[0].Text)-20:]
	assert.Contains(t, pieces[1].Text, strings.TrimSpace(tail))
}

// No data loss: every word of the input appears in some chunk, in order.
func TestChunkPreservesContentAsSubsequence(t *testing.T) {
	c := defaultChunker()
	sentence := "Indexing heterogeneous local files with precise locators is the goal. "
	text := strings.Repeat(sentence, 60)

	pieces := c.Chunk(text)
	joined := make([]string, len(pieces))
	for i, p := range pieces {
		joined[i] = p.Text
	}
	concatenated := strings.Fields(strings.Join(joined, " "))
	original := strings.Fields(text)

	// The original word sequence must be a subsequence of the chunked
	// output (overlap repeats words, never drops them).
	i := 0
	for _, w := range concatenated {
		if i < len(original) && w == original[i] {
			i++
		}
	}
	assert.Equal(t, len(original), i, "original text must survive chunking as a subsequence")
}

func TestChunkPagesNeverMergeAcrossPages(t *testing.T) {
	c := defaultChunker()
	pages := []PageText{
		{Number: 1, Text: strings.Repeat("page one content. ", 80)},
		{Number: 2, Text: "tiny page"},
		{Number: 3, Text: ""},
		{Number: 4, Text: strings.Repeat("page four content. ", 80)},
	}

	pieces := c.ChunkPages(pages)
	require.NotEmpty(t, pieces)

	seenPages := map[int]int{}
	lastIndex := -1
	for _, p := range pieces {
		require.NotNil(t, p.Page)
		seenPages[*p.Page]++
		assert.Equal(t, lastIndex+1, p.Index, "chunk_index must be dense")
		lastIndex = p.Index
	}

	// Every non-empty page emits at least one chunk; the empty page none.
	assert.GreaterOrEqual(t, seenPages[1], 1)
	assert.Equal(t, 1, seenPages[2])
	assert.Zero(t, seenPages[3])
	assert.GreaterOrEqual(t, seenPages[4], 1)
}

func TestChunkSegmentsRespectsTimeGap(t *testing.T) {
	c := defaultChunker()
	segments := []Segment{
		{Text: "first part of speech", Start: 0.0, End: 2.0},
		{Text: "continues immediately", Start: 2.5, End: 4.0},
		{Text: "after a long silence", Start: 10.0, End: 12.0},
	}

	pieces := c.ChunkSegments(segments)
	require.Len(t, pieces, 2)

	assert.Equal(t, 0.0, *pieces[0].StartTime)
	assert.Equal(t, 4.0, *pieces[0].EndTime)
	assert.Contains(t, pieces[0].Text, "continues immediately")

	assert.Equal(t, 10.0, *pieces[1].StartTime)
	assert.Equal(t, 12.0, *pieces[1].EndTime)
}

func TestChunkSegmentsSplitsOnSize(t *testing.T) {
	c := New(100, 130, 20, 10)
	long := strings.Repeat("word ", 18) // ~90 chars
	segments := []Segment{
		{Text: long, Start: 0, End: 5},
		{Text: long, Start: 5.5, End: 10},
	}

	pieces := c.ChunkSegments(segments)
	require.Len(t, pieces, 2)
	assert.Equal(t, 0.0, *pieces[0].StartTime)
	assert.Equal(t, 5.5, *pieces[1].StartTime)
}

func TestChunkHardCutNeverSplitsRunes(t *testing.T) {
	c := New(100, 120, 20, 10)
	// Long CJK text with no whitespace forces hard cuts.
	text := strings.Repeat("日本語のテキスト", 60)

	pieces := c.Chunk(text)
	require.Greater(t, len(pieces), 1)
	for _, p := range pieces {
		assert.True(t, strings.ToValidUTF8(p.Text, "") == p.Text, "chunk must be valid UTF-8")
	}
}
