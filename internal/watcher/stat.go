package watcher

import (
	"os"

	"github.com/localdoc/docsearch/internal/identity"
	"github.com/localdoc/docsearch/internal/xerrors"
)

// StatEvent builds a Created file event from a stat of the path. The
// synchronous index path uses it to feed files through the same identity
// resolution as watch events.
func StatEvent(path string) (*identity.FileEvent, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.KindIO, "stat "+path, err)
	}
	return &identity.FileEvent{
		Kind:  identity.Created,
		Path:  path,
		Inode: inodeOf(info),
		Size:  info.Size(),
		MTime: info.ModTime(),
	}, nil
}
