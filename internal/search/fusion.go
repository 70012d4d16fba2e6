// Package search provides hybrid retrieval: parallel dense and BM25
// searches fused by Reciprocal Rank Fusion, with optional reranking.
package search

import (
	"sort"

	"github.com/localdoc/docsearch/internal/store"
)

// DefaultRRFConstant is the standard RRF smoothing parameter; k=60 is
// empirically validated across domains.
const DefaultRRFConstant = 60

// Weights configures the relative importance of the two rankings.
type Weights struct {
	Vector float64
	BM25   float64
}

// DefaultWeights favors the dense ranking.
func DefaultWeights() Weights {
	return Weights{Vector: 0.7, BM25: 0.3}
}

// FusedResult is one chunk after RRF fusion.
type FusedResult struct {
	ChunkID  string
	RRFScore float64

	VecScore float64 // cosine similarity, 0 if absent from the vector list
	VecRank  int     // 1-indexed, 0 if absent
	BM25Rank int     // 1-indexed, 0 if absent
	BM25Raw  float64 // raw BM25 score, 0 if absent
}

// InVectorList reports presence in the dense ranking.
func (r *FusedResult) InVectorList() bool { return r.VecRank > 0 }

// InBM25List reports presence in the lexical ranking.
func (r *FusedResult) InBM25List() bool { return r.BM25Rank > 0 }

// RRFFusion combines the two rankings:
//
//	score(c) = w_v/(K + rank_V(c)) + w_b/(K + rank_B(c))
//
// A chunk missing from a list has rank ∞ there: that list contributes
// nothing.
type RRFFusion struct {
	K int
}

// NewRRFFusion creates a fusion instance; k <= 0 takes the default.
func NewRRFFusion(k int) *RRFFusion {
	if k <= 0 {
		k = DefaultRRFConstant
	}
	return &RRFFusion{K: k}
}

// Fuse merges the rankings and sorts deterministically: RRF score
// descending, then cosine similarity descending, then chunk ID ascending.
func (f *RRFFusion) Fuse(vec []store.VectorResult, bm25 []store.BM25Result, weights Weights) []*FusedResult {
	if len(vec) == 0 && len(bm25) == 0 {
		return []*FusedResult{}
	}

	scores := make(map[string]*FusedResult, len(vec)+len(bm25))
	get := func(id string) *FusedResult {
		if r, ok := scores[id]; ok {
			return r
		}
		r := &FusedResult{ChunkID: id}
		scores[id] = r
		return r
	}

	for rank, r := range vec {
		fr := get(r.ChunkID)
		fr.VecScore = float64(r.Score)
		fr.VecRank = rank + 1
		fr.RRFScore += weights.Vector / float64(f.K+rank+1)
	}
	for rank, r := range bm25 {
		fr := get(r.ChunkID)
		fr.BM25Raw = r.Score
		fr.BM25Rank = rank + 1
		fr.RRFScore += weights.BM25 / float64(f.K+rank+1)
	}

	results := make([]*FusedResult, 0, len(scores))
	for _, r := range scores {
		results = append(results, r)
	}
	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.RRFScore != b.RRFScore {
			return a.RRFScore > b.RRFScore
		}
		if a.VecScore != b.VecScore {
			return a.VecScore > b.VecScore
		}
		return a.ChunkID < b.ChunkID
	})
	return results
}
