package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localdoc/docsearch/internal/store"
)

func vecResults(ids ...string) []store.VectorResult {
	out := make([]store.VectorResult, len(ids))
	for i, id := range ids {
		out[i] = store.VectorResult{ChunkID: id, Score: float32(0.9) - float32(i)*0.1}
	}
	return out
}

func bm25Results(ids ...string) []store.BM25Result {
	out := make([]store.BM25Result, len(ids))
	for i, id := range ids {
		out[i] = store.BM25Result{ChunkID: id, Score: 5.0 - float64(i)}
	}
	return out
}

func TestFuseEmptyInputs(t *testing.T) {
	f := NewRRFFusion(0)
	assert.Empty(t, f.Fuse(nil, nil, DefaultWeights()))
}

func TestFuseAgreementWins(t *testing.T) {
	f := NewRRFFusion(60)
	// A leads both lists; B and C trail one list each.
	vec := vecResults("A", "B")
	lex := bm25Results("A", "C")

	results := f.Fuse(vec, lex, DefaultWeights())
	require.Len(t, results, 3)
	assert.Equal(t, "A", results[0].ChunkID)

	wantA := 0.7/61.0 + 0.3/61.0
	assert.InDelta(t, wantA, results[0].RRFScore, 1e-9)
}

func TestFuseMissingListContributesZero(t *testing.T) {
	f := NewRRFFusion(60)
	results := f.Fuse(vecResults("X"), nil, DefaultWeights())
	require.Len(t, results, 1)
	assert.InDelta(t, 0.7/61.0, results[0].RRFScore, 1e-9)
	assert.False(t, results[0].InBM25List())
}

func TestFuseVectorWeightDominates(t *testing.T) {
	f := NewRRFFusion(60)
	// V ranks first in vector only, B first in BM25 only: with weights
	// 0.7/0.3 the vector-first chunk must win.
	results := f.Fuse(vecResults("V"), bm25Results("B"), DefaultWeights())
	require.Len(t, results, 2)
	assert.Equal(t, "V", results[0].ChunkID)
}

func TestFuseDeterministicTieBreak(t *testing.T) {
	f := NewRRFFusion(60)
	// Same rank in opposite lists with symmetric weights: tie on score,
	// broken by cosine similarity then chunk ID.
	vec := []store.VectorResult{{ChunkID: "b", Score: 0.5}}
	lex := []store.BM25Result{{ChunkID: "a", Score: 3.0}}
	even := Weights{Vector: 0.5, BM25: 0.5}

	results := f.Fuse(vec, lex, even)
	require.Len(t, results, 2)
	// b has cosine 0.5, a has none: b wins the tie.
	assert.Equal(t, "b", results[0].ChunkID)

	// With equal cosine the lower chunk ID wins.
	vec2 := []store.VectorResult{{ChunkID: "z", Score: 0}}
	lex2 := []store.BM25Result{{ChunkID: "a", Score: 3.0}}
	results2 := f.Fuse(vec2, lex2, even)
	assert.Equal(t, "a", results2[0].ChunkID)
}

func TestFuseRanksAreOneIndexed(t *testing.T) {
	f := NewRRFFusion(60)
	results := f.Fuse(vecResults("A", "B"), bm25Results("B"), DefaultWeights())

	byID := map[string]*FusedResult{}
	for _, r := range results {
		byID[r.ChunkID] = r
	}
	assert.Equal(t, 1, byID["A"].VecRank)
	assert.Equal(t, 0, byID["A"].BM25Rank)
	assert.Equal(t, 2, byID["B"].VecRank)
	assert.Equal(t, 1, byID["B"].BM25Rank)
}
