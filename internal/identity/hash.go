package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"strconv"

	"github.com/localdoc/docsearch/internal/xerrors"
)

// hashChunkSize is how much of the head and tail participate in the hash.
const hashChunkSize = 64 * 1024

// ContentHash computes SHA-256 over {first 64 KiB ‖ last 64 KiB ‖ size}.
// Reading only the edges keeps hashing fast on large media files while
// still catching every realistic content change.
func ContentHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", xerrors.Wrap(xerrors.KindIO, "open for hashing", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", xerrors.Wrap(xerrors.KindIO, "stat for hashing", err)
	}
	size := info.Size()

	hasher := sha256.New()
	head := make([]byte, hashChunkSize)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return "", xerrors.Wrap(xerrors.KindIO, "read head", err)
	}
	hasher.Write(head[:n])

	// The tail only participates once it no longer overlaps the head.
	if size > hashChunkSize*2 {
		if _, err := f.Seek(-hashChunkSize, io.SeekEnd); err != nil {
			return "", xerrors.Wrap(xerrors.KindIO, "seek tail", err)
		}
		tail := make([]byte, hashChunkSize)
		n, err := io.ReadFull(f, tail)
		if err != nil && err != io.ErrUnexpectedEOF {
			return "", xerrors.Wrap(xerrors.KindIO, "read tail", err)
		}
		hasher.Write(tail[:n])
	}

	hasher.Write([]byte(strconv.FormatInt(size, 10)))
	return hex.EncodeToString(hasher.Sum(nil)), nil
}
