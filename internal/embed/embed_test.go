package embed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localdoc/docsearch/internal/model"
	"github.com/localdoc/docsearch/internal/xerrors"
)

// fakeOllama serves /api/embeddings with deterministic vectors and counts
// calls.
func fakeOllama(t *testing.T, dims int) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var req struct {
			Prompt string `json:"prompt"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		vec := make([]float32, dims)
		for i := range vec {
			vec[i] = float32(len(req.Prompt)%7) + float32(i)*0.01
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"embedding": vec})
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func newTestGateway(t *testing.T, dims int) (*Gateway, *atomic.Int64) {
	t.Helper()
	srv, calls := fakeOllama(t, dims)
	g, err := NewGateway(context.Background(), model.NewOllamaClient(srv.URL), GatewayConfig{
		Model:      "bge-m3",
		Dimensions: dims,
	})
	require.NoError(t, err)
	return g, calls
}

func TestGatewayProbeFixesDimensions(t *testing.T) {
	g, calls := newTestGateway(t, 16)
	assert.Equal(t, 16, g.Dimensions())
	assert.Equal(t, int64(1), calls.Load(), "construction probes exactly once")
}

func TestGatewayProbeMismatchFatal(t *testing.T) {
	srv, _ := fakeOllama(t, 8)
	_, err := NewGateway(context.Background(), model.NewOllamaClient(srv.URL), GatewayConfig{
		Model:      "bge-m3",
		Dimensions: 1024,
	})
	require.Error(t, err)
	assert.Equal(t, xerrors.KindModelShapeMismatch, xerrors.KindOf(err))
}

func TestEmbedBatchOrderAndDims(t *testing.T) {
	g, _ := newTestGateway(t, 16)
	texts := []string{"alpha", "beta beta", "gamma gamma gamma", "d"}

	vecs, err := g.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vecs, len(texts))
	for i, v := range vecs {
		assert.Len(t, v, 16, "element %d", i)
	}

	// Deterministic fake: same text embeds identically.
	again, err := g.Embed(context.Background(), "alpha")
	require.NoError(t, err)
	assert.Equal(t, vecs[0], again)
}

func TestEmbedBatchEmptyTextsAreZeroVectors(t *testing.T) {
	g, calls := newTestGateway(t, 8)
	before := calls.Load()

	vecs, err := g.EmbedBatch(context.Background(), []string{"", "  \n\t "})
	require.NoError(t, err)
	assert.Equal(t, make([]float32, 8), vecs[0])
	assert.Equal(t, make([]float32, 8), vecs[1])
	assert.Equal(t, before, calls.Load(), "blank texts skip the model")
}

func TestTruncateForModel(t *testing.T) {
	short := "short text"
	assert.Equal(t, short, TruncateForModel(short))

	long := strings.Repeat("é", maxTextChars) // 2 bytes per rune
	got := TruncateForModel(long)
	assert.LessOrEqual(t, len(got), maxTextChars)
	assert.True(t, utf8.ValidString(got), "truncation must land on a rune boundary")
}

func TestCachedEmbedderAvoidsRepeatCalls(t *testing.T) {
	g, calls := newTestGateway(t, 8)
	cached := NewCachedEmbedder(g, 1)

	before := calls.Load()
	v1, err := cached.Embed(context.Background(), "repeated query")
	require.NoError(t, err)
	v2, err := cached.Embed(context.Background(), "repeated query")
	require.NoError(t, err)

	assert.Equal(t, v1, v2)
	assert.Equal(t, before+1, calls.Load(), "second call is a cache hit")
	assert.Equal(t, 1, cached.Len())
}

func TestCachedEmbedderBatchPartialHits(t *testing.T) {
	g, calls := newTestGateway(t, 8)
	cached := NewCachedEmbedder(g, 1)
	ctx := context.Background()

	_, err := cached.Embed(ctx, "warm")
	require.NoError(t, err)

	before := calls.Load()
	vecs, err := cached.EmbedBatch(ctx, []string{"warm", "cold"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Equal(t, before+1, calls.Load(), "only the miss reaches the model")
}
