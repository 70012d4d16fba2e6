// Package core wires the pipeline together: store, embedder, processors,
// scheduler, and search engine behind one explicit context handle that is
// plumbed through the CLI and the HTTP API.
package core

import (
	"context"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/localdoc/docsearch/internal/chunk"
	"github.com/localdoc/docsearch/internal/config"
	"github.com/localdoc/docsearch/internal/embed"
	"github.com/localdoc/docsearch/internal/identity"
	"github.com/localdoc/docsearch/internal/model"
	"github.com/localdoc/docsearch/internal/process"
	"github.com/localdoc/docsearch/internal/scheduler"
	"github.com/localdoc/docsearch/internal/search"
	"github.com/localdoc/docsearch/internal/store"
	"github.com/localdoc/docsearch/internal/watcher"
	"github.com/localdoc/docsearch/internal/xerrors"
)

// Context is the explicit handle over every core component. No package
// holds global state besides the default logger.
type Context struct {
	Config    config.Config
	Store     *store.DualStore
	Embedder  embed.Embedder
	Resolver  *identity.Resolver
	Scheduler *scheduler.Scheduler
	Engine    *search.Engine

	ollama *model.OllamaClient
}

// New builds the full pipeline. onFatal is invoked when processing halts
// on a fatal error; the HTTP layer uses it to enter read-only mode.
func New(ctx context.Context, cfg config.Config, onFatal func(error)) (*Context, error) {
	dual, err := store.Open(ctx, cfg.SQLitePath(), cfg.VectorsDir(), cfg.Models.EmbeddingDims)
	if err != nil {
		return nil, err
	}

	ollama := model.NewOllamaClient(cfg.OllamaHost)
	gateway, err := embed.NewGateway(ctx, ollama, embed.GatewayConfig{
		Model:       cfg.Models.EmbeddingModel,
		Dimensions:  cfg.Models.EmbeddingDims,
		BatchSize:   cfg.Models.EmbedBatchSize,
		Timeout:     cfg.Models.EmbedTimeout,
		MaxInFlight: cfg.Models.EmbedMaxInFlight,
	})
	if err != nil {
		_ = dual.Close()
		return nil, err
	}
	embedder := embed.NewCachedEmbedder(gateway, cfg.Models.EmbedCacheMB)

	chunker := chunk.New(cfg.Chunk.Size, cfg.Chunk.MaxSize, cfg.Chunk.MinSize, cfg.Chunk.Overlap)
	chunker.MaxTimeGap = cfg.Chunk.MaxTimeGapSeconds

	runner := process.ExecRunner{}
	whisper := model.NewWhisperClient(cfg.Models.WhisperHost)
	registry := process.NewRegistry(
		process.NewDocumentProcessor(chunker, process.NewPDFPipeline(runner, ollama, chunker, cfg.PDF)),
		process.NewImageProcessor(ollama, cfg.Models.VLMModel, chunker),
		process.NewAudioProcessor(runner, whisper, chunker),
		process.NewVideoProcessor(runner, whisper, chunker),
	)

	sched := scheduler.New(cfg.Scheduler, registry, embedder, dual, onFatal)

	engineCfg := search.Config{
		RRFConstant:   cfg.Search.RRFConstant,
		Weights:       search.Weights{Vector: cfg.Search.VectorWeight, BM25: cfg.Search.BM25Weight},
		MinSimilarity: cfg.Search.MinSimilarity,
		DefaultLimit:  cfg.Search.DefaultLimit,
		MaxLimit:      cfg.Search.MaxLimit,
		RerankEnabled: cfg.Search.RerankEnabled,
		TopKRerank:    cfg.Search.TopKRerank,
	}
	reranker := search.NewOllamaReranker(ollama, cfg.Models.RerankerModel)
	engine := search.NewEngine(dual, embedder, reranker, engineCfg)

	return &Context{
		Config:    cfg,
		Store:     dual,
		Embedder:  embedder,
		Resolver:  identity.NewResolver(dual.DB()),
		Scheduler: sched,
		Engine:    engine,
		ollama:    ollama,
	}, nil
}

// ModelRuntimeAvailable checks the Ollama endpoint.
func (c *Context) ModelRuntimeAvailable(ctx context.Context) bool {
	return c.ollama.Available(ctx)
}

// Close releases every resource.
func (c *Context) Close() error {
	if c.Scheduler != nil {
		c.Scheduler.Stop()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
	if c.Store != nil {
		return c.Store.Close()
	}
	return nil
}

// IndexResult summarizes a synchronous directory index.
type IndexResult struct {
	IndexedCount int
	Paths        []string
	Stats        scheduler.Stats
}

// IndexPath walks a file or directory, resolves each eligible file, and
// ingests synchronously. Per-document failures are logged and skipped.
func (c *Context) IndexPath(ctx context.Context, root string, recursive bool) (*IndexResult, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.KindConfigInvalid, "resolve path", err)
	}

	paths, err := c.collectFiles(root, recursive)
	if err != nil {
		return nil, err
	}

	result := &IndexResult{}
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, xerrors.Wrap(xerrors.KindCancelled, "index", err)
		}
		if err := c.indexOne(ctx, path); err != nil {
			if xerrors.IsFatal(err) {
				return nil, err
			}
			if xerrors.IsCancelled(err) {
				return nil, err
			}
			slog.Warn("index_file_failed",
				slog.String("path", path),
				slog.String("error", err.Error()))
			continue
		}
		result.IndexedCount++
		result.Paths = append(result.Paths, path)
	}
	result.Stats = c.Scheduler.Stats()
	return result, nil
}

func (c *Context) indexOne(ctx context.Context, path string) error {
	ev, err := watcher.StatEvent(path)
	if err != nil {
		return err
	}
	resolved, err := c.Resolver.Resolve(ctx, *ev)
	if err != nil {
		return err
	}
	switch resolved.Action {
	case identity.ActionRename:
		return c.Store.Rename(ctx, resolved.DocID, ev.Path, filepath.Base(ev.Path), ev.Inode)
	case identity.ActionRestore:
		if err := c.Store.Restore(ctx, resolved.DocID, ev.Path, filepath.Base(ev.Path), ev.Inode); err != nil {
			return err
		}
		return c.Scheduler.Ingest(ctx, *resolved)
	default:
		return c.Scheduler.Ingest(ctx, *resolved)
	}
}

// collectFiles gathers gated candidate files under root.
func (c *Context) collectFiles(root string, recursive bool) ([]string, error) {
	var paths []string
	excluded := func(name string) bool {
		for _, pattern := range c.Config.Watch.Exclude {
			if pattern == ".*" {
				if strings.HasPrefix(name, ".") {
					return true
				}
				continue
			}
			if ok, _ := filepath.Match(pattern, name); ok {
				return true
			}
		}
		return false
	}

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != root && (!recursive || excluded(d.Name())) {
				return filepath.SkipDir
			}
			return nil
		}
		if excluded(d.Name()) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if !identity.SizeGate(info.Size(), c.Config.Watch.MinFileSize, c.Config.Watch.MaxFileSize) {
			slog.Info("SizeGate", slog.String("path", path), slog.Int64("size", info.Size()))
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return nil, xerrors.Wrap(xerrors.KindIO, "walk "+root, err)
	}
	return paths, nil
}
