package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localdoc/docsearch/internal/xerrors"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "http://localhost:11434", cfg.OllamaHost)
	assert.Equal(t, 1024, cfg.Models.EmbeddingDims)
	assert.Equal(t, 800, cfg.Chunk.Size)
	assert.Equal(t, 1000, cfg.Chunk.MaxSize)
	assert.Equal(t, 100, cfg.Chunk.Overlap)
	assert.Equal(t, 60*time.Second, cfg.PDF.VLMTimeout)
	assert.Equal(t, 150, cfg.PDF.DPI)
	assert.Equal(t, 2, cfg.PDF.Workers)
	assert.Equal(t, 100, cfg.PDF.MinCharsPerPage)
	assert.Equal(t, 0.7, cfg.Search.VectorWeight)
	assert.Equal(t, 0.3, cfg.Search.BM25Weight)
	assert.Equal(t, 10000, cfg.Scheduler.QueueCapacity)
	assert.Equal(t, int64(1024), cfg.Watch.MinFileSize)
	assert.Equal(t, int64(500*1024*1024), cfg.Watch.MaxFileSize)

	require.NoError(t, cfg.Validate())
}

func TestLoadYAMLAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yml := `
ollama_host: http://localhost:9999
log_level: debug
pdf:
  max_pages: 7
search:
  rerank_enabled: true
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o644))

	t.Setenv("OLLAMA_HOST", "http://127.0.0.1:11434")
	t.Setenv("PDF_VLM_WORKERS", "5")
	t.Setenv("PDF_VLM_TIMEOUT", "90")
	t.Setenv("DATA_DIR", dir)

	cfg, err := Load(path)
	require.NoError(t, err)

	// Env beats file, file beats defaults.
	assert.Equal(t, "http://127.0.0.1:11434", cfg.OllamaHost)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 7, cfg.PDF.MaxPages)
	assert.Equal(t, 5, cfg.PDF.Workers)
	assert.Equal(t, 90*time.Second, cfg.PDF.VLMTimeout)
	assert.True(t, cfg.Search.RerankEnabled)
	assert.Equal(t, dir, cfg.DataDir)
	assert.Equal(t, filepath.Join(dir, "docs.db"), cfg.SQLitePath())
}

func TestLoadMissingImplicitFileIsFine(t *testing.T) {
	t.Setenv("DATA_DIR", t.TempDir())
	_, err := Load("")
	require.NoError(t, err)
}

func TestLoadBadEnvInteger(t *testing.T) {
	t.Setenv("DATA_DIR", t.TempDir())
	t.Setenv("PDF_VLM_DPI", "high")
	_, err := Load("")
	require.Error(t, err)
	assert.Equal(t, xerrors.KindConfigInvalid, xerrors.KindOf(err))
}

func TestValidateRejectsBadChunking(t *testing.T) {
	cfg := Default()
	cfg.Chunk.Overlap = cfg.Chunk.Size
	err := cfg.Validate()
	require.Error(t, err)
	assert.Equal(t, xerrors.KindConfigInvalid, xerrors.KindOf(err))
}

func TestValidateRejectsBadSizeGate(t *testing.T) {
	cfg := Default()
	cfg.Watch.MaxFileSize = cfg.Watch.MinFileSize
	require.Error(t, cfg.Validate())
}
