//go:build !unix

package watcher

import "os"

// inodeOf has no inode to report on this platform; identity falls back to
// content hash and path.
func inodeOf(info os.FileInfo) uint64 {
	return 0
}
