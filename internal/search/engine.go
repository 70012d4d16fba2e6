package search

import (
	"context"
	"fmt"
	"math"

	"golang.org/x/sync/errgroup"

	"github.com/localdoc/docsearch/internal/embed"
	"github.com/localdoc/docsearch/internal/store"
	"github.com/localdoc/docsearch/internal/xerrors"
)

// Options configures one search.
type Options struct {
	// Limit is k, clamped to [1, MaxLimit]; zero takes the default.
	Limit   int
	Filters store.Filters

	// Rerank overrides the engine default when non-nil.
	Rerank *bool
}

// Result is one enriched search hit.
type Result struct {
	ChunkID    string
	DocumentID string
	Text       string
	Path       string
	Filename   string
	MediaType  store.MediaType
	Score      float64

	VecScore  float64
	BM25Score float64

	Page      *int
	StartTime *float64
	EndTime   *float64

	// PlaybackURL is a file:// URL with a time fragment for audio/video.
	PlaybackURL string
}

// Config configures the engine.
type Config struct {
	RRFConstant   int
	Weights       Weights
	MinSimilarity float64
	DefaultLimit  int
	MaxLimit      int
	RerankEnabled bool
	TopKRerank    int
}

// DefaultConfig returns the standard engine parameters.
func DefaultConfig() Config {
	return Config{
		RRFConstant:   DefaultRRFConstant,
		Weights:       DefaultWeights(),
		MinSimilarity: 0.3,
		DefaultLimit:  10,
		MaxLimit:      100,
		RerankEnabled: false,
		TopKRerank:    50,
	}
}

// Engine runs hybrid queries over the dual store.
type Engine struct {
	store    *store.DualStore
	embedder embed.Embedder
	reranker Reranker
	fusion   *RRFFusion
	cfg      Config
}

// NewEngine creates a search engine. reranker may be nil when reranking is
// disabled.
func NewEngine(dual *store.DualStore, embedder embed.Embedder, reranker Reranker, cfg Config) *Engine {
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = 10
	}
	if cfg.MaxLimit <= 0 {
		cfg.MaxLimit = 100
	}
	return &Engine{
		store:    dual,
		embedder: embedder,
		reranker: reranker,
		fusion:   NewRRFFusion(cfg.RRFConstant),
		cfg:      cfg,
	}
}

// Search embeds the query, runs both rankings in parallel, fuses, applies
// the similarity floor, optionally reranks, and enriches results.
func (e *Engine) Search(ctx context.Context, query string, opts Options) ([]*Result, error) {
	if query == "" {
		return nil, xerrors.Newf(xerrors.KindConfigInvalid, "query must not be empty")
	}
	k := opts.Limit
	if k <= 0 {
		k = e.cfg.DefaultLimit
	}
	if k > e.cfg.MaxLimit {
		k = e.cfg.MaxLimit
	}
	fetch := 4 * k

	var vec []store.VectorResult
	var lex []store.BM25Result

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		qvec, err := e.embedder.Embed(gctx, query)
		if err != nil {
			return err
		}
		vec, err = e.vectorSearch(gctx, qvec, fetch, opts.Filters)
		return err
	})
	group.Go(func() error {
		var err error
		lex, err = e.store.DB().BM25Search(gctx, query, fetch, opts.Filters)
		return err
	})
	if err := group.Wait(); err != nil {
		return nil, err
	}

	fused := e.fusion.Fuse(vec, lex, e.cfg.Weights)

	// Drop chunks weak on both signals: low similarity and absent from
	// the lexical ranking.
	kept := fused[:0]
	for _, r := range fused {
		if r.VecScore < e.cfg.MinSimilarity && !r.InBM25List() {
			continue
		}
		kept = append(kept, r)
	}

	rerank := e.cfg.RerankEnabled
	if opts.Rerank != nil {
		rerank = *opts.Rerank
	}
	if rerank && e.reranker != nil && len(kept) > 0 {
		top := e.cfg.TopKRerank
		if top <= 0 {
			top = 50
		}
		if top > len(kept) {
			top = len(kept)
		}
		reranked, err := e.rerank(ctx, query, kept[:top])
		if err != nil {
			return nil, err
		}
		kept = append(reranked, kept[top:]...)
	}

	if len(kept) > k {
		kept = kept[:k]
	}
	return e.enrich(ctx, kept)
}

// vectorSearch pushes filters down by post-filtering an overfetched
// candidate list against the document registry.
func (e *Engine) vectorSearch(ctx context.Context, qvec []float32, limit int, filters store.Filters) ([]store.VectorResult, error) {
	fetch := limit
	if !filters.Empty() {
		fetch = limit * 4
	}
	candidates, err := e.store.Vectors().Search(ctx, qvec, fetch)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.KindInternal, "vector search", err)
	}
	if len(candidates) == 0 {
		return candidates, nil
	}

	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.ChunkID
	}
	allowed, err := e.store.DB().FilterChunkIDs(ctx, ids, filters)
	if err != nil {
		return nil, err
	}
	keep := make(map[string]bool, len(allowed))
	for _, id := range allowed {
		keep[id] = true
	}

	out := make([]store.VectorResult, 0, limit)
	for _, c := range candidates {
		if keep[c.ChunkID] {
			out = append(out, c)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (e *Engine) rerank(ctx context.Context, query string, candidates []*FusedResult) ([]*FusedResult, error) {
	texts := make([]string, len(candidates))
	for i, c := range candidates {
		chunk, err := e.store.DB().GetChunk(ctx, c.ChunkID)
		if err != nil {
			return nil, err
		}
		if chunk != nil {
			texts[i] = chunk.Text
		}
	}
	order, err := e.reranker.Rerank(ctx, query, texts)
	if err != nil {
		return nil, err
	}
	out := make([]*FusedResult, 0, len(candidates))
	for _, idx := range order {
		if idx >= 0 && idx < len(candidates) {
			out = append(out, candidates[idx])
		}
	}
	return out, nil
}

func (e *Engine) enrich(ctx context.Context, fused []*FusedResult) ([]*Result, error) {
	results := make([]*Result, 0, len(fused))
	for _, f := range fused {
		chunk, err := e.store.DB().GetChunk(ctx, f.ChunkID)
		if err != nil {
			return nil, err
		}
		if chunk == nil {
			continue
		}
		doc, err := e.store.DB().GetDocument(ctx, chunk.DocumentID)
		if err != nil {
			return nil, err
		}
		if doc == nil || doc.IsDeleted {
			continue
		}

		r := &Result{
			ChunkID:    chunk.ID,
			DocumentID: doc.ID,
			Text:       chunk.Text,
			Path:       doc.Path,
			Filename:   doc.Filename,
			MediaType:  doc.MediaType,
			Score:      f.RRFScore,
			VecScore:   f.VecScore,
			BM25Score:  f.BM25Raw,
			Page:       chunk.Page,
			StartTime:  chunk.StartTime,
			EndTime:    chunk.EndTime,
		}
		if (doc.MediaType == store.MediaAudio || doc.MediaType == store.MediaVideo) && chunk.StartTime != nil {
			r.PlaybackURL = fmt.Sprintf("file://%s#t=%d", doc.Path, int(math.Floor(*chunk.StartTime)))
		}
		results = append(results, r)
	}
	return results, nil
}
