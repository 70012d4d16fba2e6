// Package embed turns chunk text into fixed-dimension dense vectors via
// the local model runtime, with batching, backpressure, retries, and an
// optional LRU cache.
package embed

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/localdoc/docsearch/internal/model"
	"github.com/localdoc/docsearch/internal/xerrors"
)

const (
	// DefaultBatchSize is the maximum texts per EmbedBatch slice.
	DefaultBatchSize = 32

	// ModelContextTokens is the embedding model context window.
	ModelContextTokens = 8192

	// charsPerToken approximates 4 characters per token.
	charsPerToken = 4

	// maxTextChars is the truncation limit in characters.
	maxTextChars = ModelContextTokens * charsPerToken
)

// Embedder generates vector embeddings for text.
type Embedder interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension.
	Dimensions() int

	// ModelName returns the model identifier.
	ModelName() string

	// Close releases resources.
	Close() error
}

// GatewayConfig configures the embedding gateway.
type GatewayConfig struct {
	Model string

	// Dimensions is the expected dimensionality. Zero means adopt
	// whatever the probe returns.
	Dimensions int

	BatchSize   int
	Timeout     time.Duration
	MaxInFlight int
}

// Gateway is the Embedder over the Ollama runtime. Dimensions are fixed by
// a probe call at construction; any later drift is fatal.
type Gateway struct {
	client *model.OllamaClient
	cfg    GatewayConfig
	dims   int
	sem    *semaphore.Weighted
	retry  xerrors.RetryConfig
}

// NewGateway probes the model once to fix dimensions and returns the
// gateway. A probe disagreeing with cfg.Dimensions is a shape mismatch.
func NewGateway(ctx context.Context, client *model.OllamaClient, cfg GatewayConfig) (*Gateway, error) {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = DefaultBatchSize
	}

	g := &Gateway{
		client: client,
		cfg:    cfg,
		sem:    semaphore.NewWeighted(int64(cfg.MaxInFlight)),
		retry:  xerrors.DefaultRetryConfig(),
	}

	probeCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	vec, err := client.Embed(probeCtx, cfg.Model, "dimension probe")
	if err != nil {
		return nil, xerrors.Wrap(xerrors.KindModelUnavailable, "probe embedding model", err)
	}
	if cfg.Dimensions > 0 && len(vec) != cfg.Dimensions {
		return nil, xerrors.Newf(xerrors.KindModelShapeMismatch,
			"model %s produces %d dimensions, configured %d", cfg.Model, len(vec), cfg.Dimensions)
	}
	g.dims = len(vec)
	return g, nil
}

// Embed generates an embedding for one text.
func (g *Gateway) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := g.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch generates embeddings for texts in order. Requests run
// concurrently up to the in-flight bound, in slices of BatchSize. Empty
// texts embed to zero vectors without a model call.
func (g *Gateway) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	if len(texts) == 0 {
		return results, nil
	}

	for start := 0; start < len(texts); start += g.cfg.BatchSize {
		end := start + g.cfg.BatchSize
		if end > len(texts) {
			end = len(texts)
		}
		if err := g.embedSlice(ctx, texts[start:end], results[start:end]); err != nil {
			return nil, err
		}
	}
	return results, nil
}

func (g *Gateway) embedSlice(ctx context.Context, texts []string, out [][]float32) error {
	group, gctx := errgroup.WithContext(ctx)
	for i, text := range texts {
		if isBlank(text) {
			out[i] = make([]float32, g.dims)
			continue
		}
		i, text := i, TruncateForModel(text)
		group.Go(func() error {
			if err := g.sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer g.sem.Release(1)

			vec, err := xerrors.RetryWithResult(gctx, g.retry, func() ([]float32, error) {
				callCtx, cancel := context.WithTimeout(gctx, g.cfg.Timeout)
				defer cancel()
				return g.client.Embed(callCtx, g.cfg.Model, text)
			})
			if err != nil {
				return err
			}
			if len(vec) != g.dims {
				return xerrors.Newf(xerrors.KindModelShapeMismatch,
					"embedding dimension drift: got %d, index built with %d", len(vec), g.dims)
			}
			out[i] = vec
			return nil
		})
	}
	return group.Wait()
}

// Dimensions returns the probed embedding dimension.
func (g *Gateway) Dimensions() int { return g.dims }

// ModelName returns the model identifier.
func (g *Gateway) ModelName() string { return g.cfg.Model }

// Close releases resources.
func (g *Gateway) Close() error { return nil }

// TruncateForModel cuts text exceeding the model context on a rune
// boundary so no invalid UTF-8 reaches the runtime.
func TruncateForModel(text string) string {
	if len(text) <= maxTextChars {
		return text
	}
	cut := maxTextChars
	for cut > 0 && (text[cut]&0xC0) == 0x80 {
		cut--
	}
	return text[:cut]
}

func isBlank(s string) bool {
	for _, r := range s {
		if r != ' ' && r != '\t' && r != '\n' && r != '\r' {
			return false
		}
	}
	return true
}
