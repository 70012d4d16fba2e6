package watcher

import (
	"sync"
	"time"

	"github.com/localdoc/docsearch/internal/identity"
)

// RawEvent is a pre-stat file event inside the debounce window.
type RawEvent struct {
	Kind identity.EventKind
	Path string
}

// Debouncer coalesces rapid events for the same path so editor
// write-bursts do not thrash the index. Coalescing rules:
//   - CREATE + MODIFY = CREATE (file is still new)
//   - CREATE + DELETE = nothing (file never really existed)
//   - MODIFY + DELETE = DELETE (file is gone)
//   - DELETE + CREATE = MODIFY (file was replaced)
type Debouncer struct {
	window  time.Duration
	mu      sync.Mutex
	pending map[string]*pendingEvent
	output  chan []RawEvent
	timer   *time.Timer
	stopped bool
}

type pendingEvent struct {
	event   RawEvent
	firstOp identity.EventKind
}

// NewDebouncer creates a debouncer with the given window.
func NewDebouncer(window time.Duration) *Debouncer {
	return &Debouncer{
		window:  window,
		pending: make(map[string]*pendingEvent),
		output:  make(chan []RawEvent, 10),
	}
}

// Output delivers coalesced batches after each quiet window.
func (d *Debouncer) Output() <-chan []RawEvent { return d.output }

// Add feeds an event into the current window.
func (d *Debouncer) Add(event RawEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	if existing, ok := d.pending[event.Path]; ok {
		coalesced := coalesce(existing, event)
		if coalesced == nil {
			delete(d.pending, event.Path)
		} else {
			existing.event = *coalesced
		}
	} else {
		d.pending[event.Path] = &pendingEvent{event: event, firstOp: event.Kind}
	}

	if d.timer == nil {
		d.timer = time.AfterFunc(d.window, d.flush)
	} else {
		d.timer.Reset(d.window)
	}
}

func coalesce(existing *pendingEvent, next RawEvent) *RawEvent {
	switch existing.firstOp {
	case identity.Created:
		switch next.Kind {
		case identity.Modified:
			return &existing.event
		case identity.Deleted:
			return nil
		default:
			return &next
		}
	case identity.Modified:
		return &next
	case identity.Deleted:
		if next.Kind == identity.Created {
			replaced := next
			replaced.Kind = identity.Modified
			return &replaced
		}
		return &next
	default:
		return &next
	}
}

func (d *Debouncer) flush() {
	d.mu.Lock()
	if d.stopped || len(d.pending) == 0 {
		d.mu.Unlock()
		return
	}
	batch := make([]RawEvent, 0, len(d.pending))
	for _, p := range d.pending {
		batch = append(batch, p.event)
	}
	d.pending = make(map[string]*pendingEvent)
	d.mu.Unlock()

	select {
	case d.output <- batch:
	default:
		// A stalled consumer re-queues the batch for the next flush.
		d.mu.Lock()
		for _, ev := range batch {
			if _, ok := d.pending[ev.Path]; !ok {
				d.pending[ev.Path] = &pendingEvent{event: ev, firstOp: ev.Kind}
			}
		}
		if d.timer != nil {
			d.timer.Reset(d.window)
		}
		d.mu.Unlock()
	}
}

// Stop drops pending events and stops the timer.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
}
