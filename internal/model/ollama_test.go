package model

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localdoc/docsearch/internal/xerrors"
)

func TestEmbedProtocol(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/embeddings", r.URL.Path)

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "bge-m3", req["model"])
		assert.Equal(t, "hello", req["prompt"])

		_ = json.NewEncoder(w).Encode(map[string]any{"embedding": []float32{0.1, 0.2, 0.3}})
	}))
	defer srv.Close()

	c := NewOllamaClient(srv.URL)
	vec, err := c.Embed(context.Background(), "bge-m3", "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
}

func TestEmbedEmptyEmbeddingIsShapeMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"embedding": []float32{}})
	}))
	defer srv.Close()

	c := NewOllamaClient(srv.URL)
	_, err := c.Embed(context.Background(), "bge-m3", "hello")
	require.Error(t, err)
	assert.Equal(t, xerrors.KindModelShapeMismatch, xerrors.KindOf(err))
}

func TestGenerateProtocol(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/generate", r.URL.Path)

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "llava:7b", req["model"])
		assert.Equal(t, false, req["stream"])
		images, ok := req["images"].([]any)
		require.True(t, ok)
		assert.Len(t, images, 1)

		_ = json.NewEncoder(w).Encode(map[string]any{"response": "a cat on a mat"})
	}))
	defer srv.Close()

	c := NewOllamaClient(srv.URL)
	out, err := c.Generate(context.Background(), "llava:7b", "describe", [][]byte{{1, 2, 3}})
	require.NoError(t, err)
	assert.Equal(t, "a cat on a mat", out)
}

func TestUnreachableHostIsModelUnavailable(t *testing.T) {
	c := NewOllamaClient("http://127.0.0.1:1")
	_, err := c.Embed(context.Background(), "bge-m3", "hello")
	require.Error(t, err)
	assert.Equal(t, xerrors.KindModelUnavailable, xerrors.KindOf(err))
}

func TestTimeoutIsModelTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	c := NewOllamaClient(srv.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.Embed(ctx, "bge-m3", "hello")
	require.Error(t, err)
	assert.Equal(t, xerrors.KindModelTimeout, xerrors.KindOf(err))
}

func TestCircuitBreakerFailsFast(t *testing.T) {
	c := NewOllamaClient("http://127.0.0.1:1")
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, _ = c.Embed(ctx, "bge-m3", "x")
	}
	_, err := c.Embed(ctx, "bge-m3", "x")
	require.Error(t, err)
	assert.ErrorIs(t, err, xerrors.ErrCircuitOpen)
}

func TestAvailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/tags", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{"models": []any{}})
	}))
	defer srv.Close()

	assert.True(t, NewOllamaClient(srv.URL).Available(context.Background()))
	assert.False(t, NewOllamaClient("http://127.0.0.1:1").Available(context.Background()))
}
