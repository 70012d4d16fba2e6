package identity

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/localdoc/docsearch/internal/store"
	"github.com/localdoc/docsearch/internal/xerrors"
)

// Registry is the document lookup surface the resolver needs.
type Registry interface {
	GetByContentHash(ctx context.Context, hash string, deleted bool) (*store.Document, error)
	GetByInode(ctx context.Context, inode uint64) (*store.Document, error)
	GetByPath(ctx context.Context, path string) (*store.Document, error)
}

// Resolver turns raw file events into resolved indexing actions.
type Resolver struct {
	registry Registry
}

// NewResolver creates a resolver over the given document registry.
func NewResolver(registry Registry) *Resolver {
	return &Resolver{registry: registry}
}

// Resolve implements the identity resolution priority:
//  1. Deletions look up by inode then path and tombstone.
//  2. A live document with the same content hash means rename/move.
//  3. A tombstoned document with the same hash is restored.
//  4. A live document on the same inode with a different hash was
//     modified in place.
//  5. Otherwise the file is new.
//
// The inode lookup only applies after the hash lookups miss and only to
// the document tracked at the same path, so a sibling path with different
// content never takes over a tracked document through its inode. A
// hard-linked sibling carries the same bytes, though: it matches the live
// content hash in step 2 and resolves as a rename of the tracked document,
// so hard links are not kept as separate documents.
func (r *Resolver) Resolve(ctx context.Context, ev FileEvent) (*ResolvedEvent, error) {
	if ev.Kind == Deleted {
		return r.resolveDelete(ctx, ev)
	}

	hash, err := ContentHash(ev.Path)
	if err != nil {
		return nil, err
	}

	if doc, err := r.registry.GetByContentHash(ctx, hash, false); err != nil {
		return nil, err
	} else if doc != nil {
		// Same content, possibly a new path: rename/move. A same-path hit
		// degenerates to a timestamp refresh without reprocessing.
		moved := *doc
		moved.Path = ev.Path
		moved.Filename = filepath.Base(ev.Path)
		moved.Inode = ev.Inode
		return &ResolvedEvent{DocID: doc.ID, Action: ActionRename, Document: &moved}, nil
	}

	if doc, err := r.registry.GetByContentHash(ctx, hash, true); err != nil {
		return nil, err
	} else if doc != nil {
		restored := *doc
		restored.IsDeleted = false
		restored.DeletedAt = nil
		restored.Path = ev.Path
		restored.Filename = filepath.Base(ev.Path)
		restored.Inode = ev.Inode
		restored.Size = ev.Size
		restored.ModifiedAt = ev.MTime
		return &ResolvedEvent{DocID: doc.ID, Action: ActionRestore, Document: &restored}, nil
	}

	if doc, err := r.registry.GetByInode(ctx, ev.Inode); err != nil {
		return nil, err
	} else if doc != nil && doc.Path == ev.Path {
		updated := *doc
		updated.ContentHash = hash
		updated.Size = ev.Size
		updated.ModifiedAt = ev.MTime
		return &ResolvedEvent{DocID: doc.ID, Action: ActionUpdate, Document: &updated}, nil
	}

	// A known path whose inode changed (editor save-and-swap) is still a
	// modification of the same document.
	if doc, err := r.registry.GetByPath(ctx, ev.Path); err != nil {
		return nil, err
	} else if doc != nil {
		updated := *doc
		updated.ContentHash = hash
		updated.Size = ev.Size
		updated.Inode = ev.Inode
		updated.ModifiedAt = ev.MTime
		return &ResolvedEvent{DocID: doc.ID, Action: ActionUpdate, Document: &updated}, nil
	}

	doc, err := r.newDocument(ev, hash)
	if err != nil {
		return nil, err
	}
	return &ResolvedEvent{DocID: doc.ID, Action: ActionInsert, Document: doc}, nil
}

func (r *Resolver) resolveDelete(ctx context.Context, ev FileEvent) (*ResolvedEvent, error) {
	doc, err := r.registry.GetByInode(ctx, ev.Inode)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		doc, err = r.registry.GetByPath(ctx, ev.Path)
		if err != nil {
			return nil, err
		}
	}
	if doc == nil {
		return nil, xerrors.Newf(xerrors.KindIO, "delete for untracked path").WithDetail("path", ev.Path)
	}
	return &ResolvedEvent{DocID: doc.ID, Action: ActionTombstone, Document: doc}, nil
}

func (r *Resolver) newDocument(ev FileEvent, hash string) (*store.Document, error) {
	mediaType, err := Classify(ev.Path)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	created := ev.MTime
	if created.IsZero() {
		created = now
	}
	return &store.Document{
		ID:          uuid.NewString(),
		ContentHash: hash,
		Path:        ev.Path,
		Filename:    filepath.Base(ev.Path),
		Extension:   strings.ToLower(filepath.Ext(ev.Path)),
		MediaType:   mediaType,
		Size:        ev.Size,
		Inode:       ev.Inode,
		CreatedAt:   created,
		ModifiedAt:  ev.MTime,
		IndexedAt:   now,
	}, nil
}
