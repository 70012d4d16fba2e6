package watcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localdoc/docsearch/internal/identity"
)

func collectBatch(t *testing.T, d *Debouncer) []RawEvent {
	t.Helper()
	select {
	case batch := <-d.Output():
		return batch
	case <-time.After(2 * time.Second):
		t.Fatal("debouncer never flushed")
		return nil
	}
}

func TestDebouncerCreateModifyIsCreate(t *testing.T) {
	d := NewDebouncer(20 * time.Millisecond)
	defer d.Stop()

	d.Add(RawEvent{Kind: identity.Created, Path: "/x/a.md"})
	d.Add(RawEvent{Kind: identity.Modified, Path: "/x/a.md"})

	batch := collectBatch(t, d)
	require.Len(t, batch, 1)
	assert.Equal(t, identity.Created, batch[0].Kind)
}

func TestDebouncerCreateDeleteCancelsOut(t *testing.T) {
	d := NewDebouncer(20 * time.Millisecond)
	defer d.Stop()

	d.Add(RawEvent{Kind: identity.Created, Path: "/x/tmp.md"})
	d.Add(RawEvent{Kind: identity.Deleted, Path: "/x/tmp.md"})
	d.Add(RawEvent{Kind: identity.Created, Path: "/x/keep.md"})

	batch := collectBatch(t, d)
	require.Len(t, batch, 1)
	assert.Equal(t, "/x/keep.md", batch[0].Path)
}

func TestDebouncerDeleteCreateIsModify(t *testing.T) {
	d := NewDebouncer(20 * time.Millisecond)
	defer d.Stop()

	d.Add(RawEvent{Kind: identity.Deleted, Path: "/x/a.md"})
	d.Add(RawEvent{Kind: identity.Created, Path: "/x/a.md"})

	batch := collectBatch(t, d)
	require.Len(t, batch, 1)
	assert.Equal(t, identity.Modified, batch[0].Kind)
}

func TestDebouncerModifyDeleteIsDelete(t *testing.T) {
	d := NewDebouncer(20 * time.Millisecond)
	defer d.Stop()

	d.Add(RawEvent{Kind: identity.Modified, Path: "/x/a.md"})
	d.Add(RawEvent{Kind: identity.Deleted, Path: "/x/a.md"})

	batch := collectBatch(t, d)
	require.Len(t, batch, 1)
	assert.Equal(t, identity.Deleted, batch[0].Kind)
}

func TestDebouncerSeparatePathsStaySeparate(t *testing.T) {
	d := NewDebouncer(20 * time.Millisecond)
	defer d.Stop()

	d.Add(RawEvent{Kind: identity.Created, Path: "/x/a.md"})
	d.Add(RawEvent{Kind: identity.Modified, Path: "/x/b.md"})

	batch := collectBatch(t, d)
	assert.Len(t, batch, 2)
}
