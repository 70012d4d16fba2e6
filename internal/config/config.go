// Package config loads docsearch configuration from defaults, an optional
// YAML file, and environment variable overrides, in that order.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/localdoc/docsearch/internal/xerrors"
)

// Config is the complete docsearch configuration.
type Config struct {
	OllamaHost string `yaml:"ollama_host"`
	DataDir    string `yaml:"data_dir"`
	LogLevel   string `yaml:"log_level"`

	Models    ModelsConfig    `yaml:"models"`
	Chunk     ChunkConfig     `yaml:"chunking"`
	PDF       PDFConfig       `yaml:"pdf"`
	Search    SearchConfig    `yaml:"search"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Watch     WatchConfig     `yaml:"watch"`
	Server    ServerConfig    `yaml:"server"`
}

// ModelsConfig configures the local model runtime.
type ModelsConfig struct {
	EmbeddingModel string `yaml:"embedding_model"`
	// EmbeddingDims is the expected embedding dimensionality. A probe at
	// startup must agree, and any drift at runtime is fatal.
	EmbeddingDims  int           `yaml:"embedding_dims"`
	EmbedBatchSize int           `yaml:"embed_batch_size"`
	EmbedTimeout   time.Duration `yaml:"embed_timeout"`
	// EmbedMaxInFlight bounds concurrent embedding requests.
	EmbedMaxInFlight int `yaml:"embed_max_in_flight"`
	// EmbedCacheMB is the embedding cache budget in megabytes.
	EmbedCacheMB int `yaml:"embed_cache_mb"`

	VLMModel      string `yaml:"vlm_model"`
	RerankerModel string `yaml:"reranker_model"`

	WhisperHost    string        `yaml:"whisper_host"`
	WhisperTimeout time.Duration `yaml:"whisper_timeout"`
}

// ChunkConfig configures the text chunker.
type ChunkConfig struct {
	Size    int `yaml:"size"`
	MaxSize int `yaml:"max_size"`
	MinSize int `yaml:"min_size"`
	Overlap int `yaml:"overlap"`
	// MaxTimeGapSeconds is the transcript gap above which chunks never span.
	MaxTimeGapSeconds float64 `yaml:"max_time_gap_seconds"`
}

// PDFConfig configures the PDF sub-pipeline.
type PDFConfig struct {
	VLMModel        string        `yaml:"vlm_model"`
	VLMTimeout      time.Duration `yaml:"vlm_timeout"`
	DPI             int           `yaml:"dpi"`
	MaxPages        int           `yaml:"max_pages"`
	Workers         int           `yaml:"workers"`
	MinCharsPerPage int           `yaml:"min_chars_per_page"`
}

// SearchConfig configures hybrid search.
type SearchConfig struct {
	RRFConstant   int     `yaml:"rrf_constant"`
	VectorWeight  float64 `yaml:"vector_weight"`
	BM25Weight    float64 `yaml:"bm25_weight"`
	MinSimilarity float64 `yaml:"min_similarity"`
	RerankEnabled bool    `yaml:"rerank_enabled"`
	TopKRerank    int     `yaml:"top_k_rerank"`
	DefaultLimit  int     `yaml:"default_limit"`
	MaxLimit      int     `yaml:"max_limit"`
}

// SchedulerConfig configures the indexing scheduler.
type SchedulerConfig struct {
	QueueCapacity int `yaml:"queue_capacity"`
	Workers       int `yaml:"workers"`
	MaxRetries    int `yaml:"max_retries"`

	DocumentDeadline time.Duration `yaml:"document_deadline"`
	ImageDeadline    time.Duration `yaml:"image_deadline"`
	MediaDeadline    time.Duration `yaml:"media_deadline"`
}

// WatchConfig configures the file watcher and size gate.
type WatchConfig struct {
	Include []string `yaml:"include"`
	Exclude []string `yaml:"exclude"`

	MinFileSize int64 `yaml:"min_file_size"`
	MaxFileSize int64 `yaml:"max_file_size"`

	DebounceWindow time.Duration `yaml:"debounce_window"`
}

// ServerConfig configures the localhost HTTP API.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DefaultExcludes are directory patterns never indexed.
var DefaultExcludes = []string{
	".*", "node_modules", ".git", "venv", ".venv", "__pycache__",
	"target", "build", "dist", ".cache",
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		OllamaHost: "http://localhost:11434",
		DataDir:    defaultDataDir(),
		LogLevel:   "info",
		Models: ModelsConfig{
			EmbeddingModel:   "bge-m3",
			EmbeddingDims:    1024,
			EmbedBatchSize:   32,
			EmbedTimeout:     30 * time.Second,
			EmbedMaxInFlight: 32,
			EmbedCacheMB:     1000,
			VLMModel:         "llava:7b",
			RerankerModel:    "bge-reranker-v2-m3",
			WhisperHost:      "http://localhost:8090",
			WhisperTimeout:   30 * time.Minute,
		},
		Chunk: ChunkConfig{
			Size:              800,
			MaxSize:           1000,
			MinSize:           100,
			Overlap:           100,
			MaxTimeGapSeconds: 2.0,
		},
		PDF: PDFConfig{
			VLMModel:        "minicpm-v",
			VLMTimeout:      60 * time.Second,
			DPI:             150,
			MaxPages:        20,
			Workers:         2,
			MinCharsPerPage: 100,
		},
		Search: SearchConfig{
			RRFConstant:   60,
			VectorWeight:  0.7,
			BM25Weight:    0.3,
			MinSimilarity: 0.3,
			RerankEnabled: false,
			TopKRerank:    50,
			DefaultLimit:  10,
			MaxLimit:      100,
		},
		Scheduler: SchedulerConfig{
			QueueCapacity:    10000,
			Workers:          4,
			MaxRetries:       3,
			DocumentDeadline: 60 * time.Second,
			ImageDeadline:    30 * time.Second,
			MediaDeadline:    30 * time.Minute,
		},
		Watch: WatchConfig{
			Exclude:        DefaultExcludes,
			MinFileSize:    1024,
			MaxFileSize:    500 * 1024 * 1024,
			DebounceWindow: 200 * time.Millisecond,
		},
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 2602,
		},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "local-doc-search")
	}
	return filepath.Join(home, ".local", "share", "local-doc-search")
}

// Load builds the configuration: defaults, then the YAML file at path (if
// path is empty, ${DATA_DIR}/config.yaml is tried), then env overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	// DATA_DIR must apply before the implicit config path is derived.
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.DataDir = v
	}

	implicit := false
	if path == "" {
		path = filepath.Join(cfg.DataDir, "config.yaml")
		implicit = true
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, xerrors.Wrap(xerrors.KindConfigInvalid, fmt.Sprintf("parse %s", path), err)
		}
	case os.IsNotExist(err) && implicit:
		// No config file is fine.
	default:
		return cfg, xerrors.Wrap(xerrors.KindConfigInvalid, fmt.Sprintf("read %s", path), err)
	}

	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnv overrides configuration from the documented environment variables.
func applyEnv(cfg *Config) error {
	if v := os.Getenv("OLLAMA_HOST"); v != "" {
		cfg.OllamaHost = v
	}
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("EMBEDDING_MODEL"); v != "" {
		cfg.Models.EmbeddingModel = v
	}
	if v := os.Getenv("VLM_MODEL"); v != "" {
		cfg.Models.VLMModel = v
	}
	if v := os.Getenv("PDF_VLM_MODEL"); v != "" {
		cfg.PDF.VLMModel = v
	}

	ints := []struct {
		env string
		dst func(int)
	}{
		{"PDF_VLM_DPI", func(n int) { cfg.PDF.DPI = n }},
		{"PDF_VLM_MAX_PAGES", func(n int) { cfg.PDF.MaxPages = n }},
		{"PDF_VLM_WORKERS", func(n int) { cfg.PDF.Workers = n }},
		{"PDF_MIN_CHARS_PER_PAGE", func(n int) { cfg.PDF.MinCharsPerPage = n }},
	}
	for _, it := range ints {
		v := os.Getenv(it.env)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return xerrors.Newf(xerrors.KindConfigInvalid, "%s: not an integer: %q", it.env, v)
		}
		it.dst(n)
	}

	if v := os.Getenv("PDF_VLM_TIMEOUT"); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil {
			return xerrors.Newf(xerrors.KindConfigInvalid, "PDF_VLM_TIMEOUT: not an integer: %q", v)
		}
		cfg.PDF.VLMTimeout = time.Duration(secs) * time.Second
	}
	return nil
}

// Validate checks invariants that would otherwise fail deep in the pipeline.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return xerrors.Newf(xerrors.KindConfigInvalid, "data_dir must not be empty")
	}
	if c.Models.EmbeddingDims <= 0 {
		return xerrors.Newf(xerrors.KindConfigInvalid, "embedding_dims must be positive, got %d", c.Models.EmbeddingDims)
	}
	if c.Chunk.MinSize <= 0 || c.Chunk.Size < c.Chunk.MinSize || c.Chunk.MaxSize < c.Chunk.Size {
		return xerrors.Newf(xerrors.KindConfigInvalid,
			"chunk sizes must satisfy 0 < min (%d) <= size (%d) <= max (%d)",
			c.Chunk.MinSize, c.Chunk.Size, c.Chunk.MaxSize)
	}
	if c.Chunk.Overlap >= c.Chunk.Size {
		return xerrors.Newf(xerrors.KindConfigInvalid, "chunk overlap (%d) must be below chunk size (%d)", c.Chunk.Overlap, c.Chunk.Size)
	}
	if c.Search.VectorWeight < 0 || c.Search.BM25Weight < 0 {
		return xerrors.Newf(xerrors.KindConfigInvalid, "search weights must be non-negative")
	}
	if c.Watch.MinFileSize < 0 || c.Watch.MaxFileSize <= c.Watch.MinFileSize {
		return xerrors.Newf(xerrors.KindConfigInvalid, "file size gate invalid: [%d, %d]", c.Watch.MinFileSize, c.Watch.MaxFileSize)
	}
	if c.Scheduler.Workers <= 0 || c.Scheduler.QueueCapacity <= 0 {
		return xerrors.Newf(xerrors.KindConfigInvalid, "scheduler needs positive workers and queue capacity")
	}
	return nil
}

// SQLitePath is the relational + FTS database location.
func (c *Config) SQLitePath() string { return filepath.Join(c.DataDir, "docs.db") }

// VectorsDir holds the on-disk vector index.
func (c *Config) VectorsDir() string { return filepath.Join(c.DataDir, "vectors") }

// CacheDir holds embedding cache segments.
func (c *Config) CacheDir() string { return filepath.Join(c.DataDir, "cache") }
