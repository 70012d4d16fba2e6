//go:build unix

package watcher

import (
	"os"
	"syscall"
)

// inodeOf extracts the inode from stat data where the platform exposes it.
func inodeOf(info os.FileInfo) uint64 {
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		return st.Ino
	}
	return 0
}
