// Package watcher emits gated, debounced file events for the indexing
// pipeline. Raw fsnotify events are coalesced per path, filtered through
// include/exclude globs and the size gate, and stat'ed into
// identity.FileEvent values.
package watcher

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/localdoc/docsearch/internal/identity"
)

// Options configures the watcher.
type Options struct {
	// Include restricts watching to matching base-name globs. Empty means
	// everything not excluded.
	Include []string

	// Exclude skips matching directory or file base names.
	Exclude []string

	// MinFileSize/MaxFileSize bound ingested files, both inclusive.
	MinFileSize int64
	MaxFileSize int64

	// DebounceWindow coalesces rapid events per path.
	DebounceWindow time.Duration

	// EventBufferSize is the output channel buffer.
	EventBufferSize int
}

// DefaultOptions returns the standard watcher options.
func DefaultOptions() Options {
	return Options{
		MinFileSize:     1024,
		MaxFileSize:     500 * 1024 * 1024,
		DebounceWindow:  200 * time.Millisecond,
		EventBufferSize: 1000,
	}
}

// transient I/O retries: a file still being written settles quickly or
// gets dropped after the last delay.
var transientBackoff = []time.Duration{50 * time.Millisecond, 200 * time.Millisecond, 1 * time.Second, 5 * time.Second}

const transientAttempts = 3

// Watcher watches directory trees and emits identity.FileEvent values.
type Watcher struct {
	opts      Options
	fswatcher *fsnotify.Watcher
	debouncer *Debouncer
	events    chan identity.FileEvent
	errs      chan error
}

// New creates a watcher with the given options.
func New(opts Options) (*Watcher, error) {
	if opts.DebounceWindow <= 0 {
		opts.DebounceWindow = 200 * time.Millisecond
	}
	if opts.EventBufferSize <= 0 {
		opts.EventBufferSize = 1000
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		opts:      opts,
		fswatcher: fsw,
		debouncer: NewDebouncer(opts.DebounceWindow),
		events:    make(chan identity.FileEvent, opts.EventBufferSize),
		errs:      make(chan error, 16),
	}, nil
}

// Events is the stream of gated file events.
func (w *Watcher) Events() <-chan identity.FileEvent { return w.events }

// Errors carries non-fatal watcher errors.
func (w *Watcher) Errors() <-chan error { return w.errs }

// Add registers a directory tree for watching.
func (w *Watcher) Add(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable subtree: skip, keep walking
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && w.excluded(d.Name()) {
			return filepath.SkipDir
		}
		return w.fswatcher.Add(path)
	})
}

// Run pumps events until the context is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	defer close(w.events)
	defer close(w.errs)
	defer w.fswatcher.Close()
	defer w.debouncer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case batch := <-w.debouncer.Output():
			for _, raw := range batch {
				w.emit(ctx, raw)
			}
		case ev, ok := <-w.fswatcher.Events:
			if !ok {
				return
			}
			w.handleRaw(ev)
		case err, ok := <-w.fswatcher.Errors:
			if !ok {
				return
			}
			select {
			case w.errs <- err:
			default:
			}
		}
	}
}

func (w *Watcher) handleRaw(ev fsnotify.Event) {
	name := filepath.Base(ev.Name)
	if w.excluded(name) {
		return
	}

	// New directories join the watch set immediately.
	if ev.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			_ = w.fswatcher.Add(ev.Name)
			return
		}
	}

	var kind identity.EventKind
	switch {
	case ev.Op.Has(fsnotify.Create):
		kind = identity.Created
	case ev.Op.Has(fsnotify.Write):
		kind = identity.Modified
	case ev.Op.Has(fsnotify.Rename):
		// fsnotify reports the old path of a rename; the new path shows
		// up as a separate Create. Treat the old path as deleted.
		kind = identity.Deleted
	case ev.Op.Has(fsnotify.Remove):
		kind = identity.Deleted
	default:
		return
	}

	w.debouncer.Add(RawEvent{Kind: kind, Path: ev.Name})
}

// emit stats and gates a debounced event, deferring transient I/O errors
// with backoff before dropping.
func (w *Watcher) emit(ctx context.Context, raw RawEvent) {
	if raw.Kind == identity.Deleted {
		w.send(ctx, identity.FileEvent{Kind: identity.Deleted, Path: raw.Path})
		return
	}

	var info os.FileInfo
	var err error
	for attempt := 0; ; attempt++ {
		info, err = os.Stat(raw.Path)
		if err == nil {
			break
		}
		if os.IsNotExist(err) || attempt >= transientAttempts {
			slog.Warn("watch_event_dropped",
				slog.String("path", raw.Path),
				slog.String("error", err.Error()))
			return
		}
		delay := transientBackoff[min(attempt, len(transientBackoff)-1)]
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
	if info.IsDir() {
		return
	}

	if !w.included(filepath.Base(raw.Path)) {
		return
	}
	if !identity.SizeGate(info.Size(), w.opts.MinFileSize, w.opts.MaxFileSize) {
		slog.Info("SizeGate",
			slog.String("path", raw.Path),
			slog.Int64("size", info.Size()))
		return
	}

	w.send(ctx, identity.FileEvent{
		Kind:  raw.Kind,
		Path:  raw.Path,
		Inode: inodeOf(info),
		Size:  info.Size(),
		MTime: info.ModTime(),
	})
}

func (w *Watcher) send(ctx context.Context, ev identity.FileEvent) {
	select {
	case w.events <- ev:
	case <-ctx.Done():
	default:
		slog.Warn("watch_event_queue_full", slog.String("path", ev.Path))
	}
}

func (w *Watcher) excluded(name string) bool {
	for _, pattern := range w.opts.Exclude {
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

func (w *Watcher) included(name string) bool {
	if w.excluded(name) {
		return false
	}
	if len(w.opts.Include) == 0 {
		return true
	}
	for _, pattern := range w.opts.Include {
		if ok, _ := filepath.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
