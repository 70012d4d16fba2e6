// Package identity decides, for each file event, whether it is a new
// document, an in-place modification, a rename, a restore, or a deletion.
// Identity is content-addressed: a hash over the head, tail, and size of
// the file survives renames and moves.
package identity

import (
	"time"

	"github.com/localdoc/docsearch/internal/store"
)

// EventKind is the raw filesystem event type.
type EventKind int

const (
	Created EventKind = iota
	Modified
	Moved
	Deleted
)

// String returns a human-readable representation of the kind.
func (k EventKind) String() string {
	switch k {
	case Created:
		return "CREATED"
	case Modified:
		return "MODIFIED"
	case Moved:
		return "MOVED"
	case Deleted:
		return "DELETED"
	default:
		return "UNKNOWN"
	}
}

// FileEvent is a filesystem event after debouncing and gating.
type FileEvent struct {
	Kind     EventKind
	Path     string
	PrevPath string
	Inode    uint64
	Size     int64
	MTime    time.Time
}

// Action is the resolved indexing action for an event.
type Action string

const (
	ActionInsert    Action = "insert"
	ActionUpdate    Action = "update"
	ActionRename    Action = "rename"
	ActionRestore   Action = "restore"
	ActionTombstone Action = "tombstone"
)

// ResolvedEvent carries a resolved action and the document it applies to.
type ResolvedEvent struct {
	DocID  string
	Action Action

	// Document is the target row: the new row for inserts, the updated
	// row for updates/restores, and the existing row for renames and
	// tombstones.
	Document *store.Document
}
