// Package scheduler drives indexing: a bounded FIFO queue of resolved
// events drained by worker goroutines, with per-document serialization,
// per-media deadlines, retries, and progress stats.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/localdoc/docsearch/internal/config"
	"github.com/localdoc/docsearch/internal/embed"
	"github.com/localdoc/docsearch/internal/identity"
	"github.com/localdoc/docsearch/internal/process"
	"github.com/localdoc/docsearch/internal/store"
	"github.com/localdoc/docsearch/internal/xerrors"
)

// Scheduler owns the indexing queue and worker pool.
type Scheduler struct {
	cfg      config.SchedulerConfig
	queue    chan identity.ResolvedEvent
	registry *process.Registry
	embedder embed.Embedder
	store    *store.DualStore

	docLocks keyedMutex
	stats    stats
	started  time.Time

	halted  atomic.Bool
	onFatal func(error)

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New creates a scheduler. onFatal is invoked once when a fatal error
// halts processing; it may be nil.
func New(cfg config.SchedulerConfig, registry *process.Registry, embedder embed.Embedder, dual *store.DualStore, onFatal func(error)) *Scheduler {
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 10000
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	return &Scheduler{
		cfg:      cfg,
		queue:    make(chan identity.ResolvedEvent, cfg.QueueCapacity),
		registry: registry,
		embedder: embedder,
		store:    dual,
		onFatal:  onFatal,
	}
}

// Start launches the worker pool. Workers stop when the context is
// cancelled and in-flight work observes the cancellation cooperatively.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.started = time.Now()
	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.worker(ctx)
		}()
	}
}

// Stop cancels workers and waits for them to drain.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// Enqueue adds a resolved event without blocking. A saturated queue is a
// QueueFull error the caller can surface or retry.
func (s *Scheduler) Enqueue(ev identity.ResolvedEvent) error {
	if s.halted.Load() {
		return xerrors.Newf(xerrors.KindInternal, "scheduler halted after fatal error")
	}
	select {
	case s.queue <- ev:
		return nil
	default:
		return xerrors.Newf(xerrors.KindQueueFull, "indexing queue at capacity %d", s.cfg.QueueCapacity)
	}
}

// Halted reports whether a fatal error stopped processing.
func (s *Scheduler) Halted() bool { return s.halted.Load() }

func (s *Scheduler) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-s.queue:
			if s.halted.Load() {
				continue
			}
			s.handle(ctx, ev)
		}
	}
}

// handle serializes events per document and routes by action.
func (s *Scheduler) handle(ctx context.Context, ev identity.ResolvedEvent) {
	unlock := s.docLocks.Lock(ev.DocID)
	defer unlock()

	var err error
	switch ev.Action {
	case identity.ActionInsert, identity.ActionUpdate:
		err = s.ingestWithRetry(ctx, ev)
	case identity.ActionRename:
		err = s.store.Rename(ctx, ev.DocID, ev.Document.Path, ev.Document.Filename, ev.Document.Inode)
	case identity.ActionRestore:
		if err = s.store.Restore(ctx, ev.DocID, ev.Document.Path, ev.Document.Filename, ev.Document.Inode); err == nil {
			// A restored tombstone has no chunks; reprocess content.
			err = s.ingestWithRetry(ctx, ev)
		}
	case identity.ActionTombstone:
		err = s.store.ApplyTombstone(ctx, ev.DocID, "deleted")
	}

	switch {
	case err == nil:
		s.stats.recordSuccess(ev)
	case xerrors.IsCancelled(err):
		// Cancellation never converts to an error; in-flight work rolled
		// back inside the store.
	case xerrors.IsFatal(err):
		slog.Error("scheduler_fatal",
			slog.String("doc_id", ev.DocID),
			slog.String("error", err.Error()))
		if s.halted.CompareAndSwap(false, true) && s.onFatal != nil {
			s.onFatal(err)
		}
	default:
		s.stats.recordFailure()
		slog.Warn("document_failed",
			slog.String("doc_id", ev.DocID),
			slog.String("path", ev.Document.Path),
			slog.String("kind", string(xerrors.KindOf(err))),
			slog.String("error", err.Error()))
		if recErr := s.store.DB().RecordDocumentError(ctx, ev.DocID, err.Error()); recErr != nil {
			slog.Warn("record_error_failed", slog.String("error", recErr.Error()))
		}
	}
}

// ingestWithRetry runs the full ingest with the per-media deadline,
// retrying transient failures with exponential backoff.
func (s *Scheduler) ingestWithRetry(ctx context.Context, ev identity.ResolvedEvent) error {
	retry := xerrors.RetryConfig{
		MaxRetries:   s.cfg.MaxRetries - 1,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
	return xerrors.Retry(ctx, retry, func() error {
		deadlineCtx, cancel := context.WithTimeout(ctx, s.deadlineFor(ev.Document.MediaType))
		defer cancel()
		return s.ingest(deadlineCtx, ev)
	})
}

// Ingest processes one document synchronously: extract, chunk, embed,
// two-phase apply. Exported for the synchronous index API path.
func (s *Scheduler) Ingest(ctx context.Context, ev identity.ResolvedEvent) error {
	unlock := s.docLocks.Lock(ev.DocID)
	defer unlock()
	deadlineCtx, cancel := context.WithTimeout(ctx, s.deadlineFor(ev.Document.MediaType))
	defer cancel()
	if err := s.ingest(deadlineCtx, ev); err != nil {
		if !xerrors.IsCancelled(err) && !xerrors.IsFatal(err) {
			s.stats.recordFailure()
			_ = s.store.DB().RecordDocumentError(ctx, ev.DocID, err.Error())
		}
		if xerrors.IsFatal(err) && s.halted.CompareAndSwap(false, true) && s.onFatal != nil {
			s.onFatal(err)
		}
		return err
	}
	s.stats.recordSuccess(ev)
	return nil
}

func (s *Scheduler) ingest(ctx context.Context, ev identity.ResolvedEvent) error {
	doc := ev.Document

	result, err := s.registry.Process(ctx, doc)
	if err != nil {
		// A PDF whose pages all failed tombstones with the reason.
		if xerrors.KindOf(err) == xerrors.KindExtraction && doc.MediaType == store.MediaDocument && doc.Extension == ".pdf" {
			if tsErr := s.store.ApplyTombstone(ctx, doc.ID, "extraction_failed"); tsErr == nil {
				return err
			}
		}
		return err
	}

	// Cooperative cancellation point between extraction and embedding.
	if err := ctx.Err(); err != nil {
		return xerrors.Wrap(xerrors.KindCancelled, "ingest", err)
	}

	texts := make([]string, len(result.Pieces))
	for i, piece := range result.Pieces {
		texts[i] = piece.Text
	}
	vectors, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return err
	}

	chunks := make([]store.Chunk, len(result.Pieces))
	for i, piece := range result.Pieces {
		chunks[i] = store.Chunk{
			ID:         store.ChunkID(doc.ID, piece.Index, piece.Text),
			DocumentID: doc.ID,
			ChunkIndex: piece.Index,
			Text:       piece.Text,
			Page:       piece.Page,
			StartTime:  piece.StartTime,
			EndTime:    piece.EndTime,
		}
	}

	updated := *doc
	updated.IndexedAt = time.Now().UTC()
	updated.IsDeleted = false
	updated.DeletedAt = nil
	updated.LastError = ""
	if result.Duration != nil {
		updated.DurationSeconds = result.Duration
	}
	if result.Width != nil {
		updated.Width = result.Width
		updated.Height = result.Height
	}

	if err := s.store.ApplyUpsert(ctx, &updated, chunks, vectors); err != nil {
		return err
	}
	if result.Transcript != nil {
		if err := s.store.DB().SaveTranscript(ctx, result.Transcript); err != nil {
			return err
		}
	}
	s.stats.recordVLMPages(result.VLMPagesProcessed)
	return nil
}

func (s *Scheduler) deadlineFor(mediaType store.MediaType) time.Duration {
	switch mediaType {
	case store.MediaImage:
		if s.cfg.ImageDeadline > 0 {
			return s.cfg.ImageDeadline
		}
		return 30 * time.Second
	case store.MediaAudio, store.MediaVideo:
		if s.cfg.MediaDeadline > 0 {
			return s.cfg.MediaDeadline
		}
		return 30 * time.Minute
	default:
		if s.cfg.DocumentDeadline > 0 {
			return s.cfg.DocumentDeadline
		}
		return 60 * time.Second
	}
}

// Stats returns a snapshot of progress counters.
func (s *Scheduler) Stats() Stats {
	snap := s.stats.snapshot()
	if !s.started.IsZero() {
		snap.ElapsedSeconds = time.Since(s.started).Seconds()
	}
	return snap
}

// keyedMutex serializes work per document ID.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	mu   sync.Mutex
	refs int
}

// Lock acquires the per-key lock and returns its release function.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*entry)
	}
	e, ok := k.locks[key]
	if !ok {
		e = &entry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
