package identity

import (
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/localdoc/docsearch/internal/store"
	"github.com/localdoc/docsearch/internal/xerrors"
)

var imageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true,
	".webp": true, ".bmp": true, ".tiff": true,
}

var videoExtensions = map[string]bool{
	".mp4": true, ".avi": true, ".mov": true, ".mkv": true,
	".webm": true, ".wmv": true, ".flv": true,
}

var audioExtensions = map[string]bool{
	".mp3": true, ".wav": true, ".flac": true, ".m4a": true,
	".ogg": true, ".aac": true, ".wma": true,
}

var documentExtensions = map[string]bool{
	".pdf": true, ".docx": true, ".xlsx": true, ".pptx": true,
	".txt": true, ".md": true, ".json": true, ".csv": true,
	".xml": true, ".html": true,
}

// Classify maps a path to its media type. Unknown extensions classify as
// document only when the file head decodes as UTF-8 text.
func Classify(path string) (store.MediaType, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch {
	case imageExtensions[ext]:
		return store.MediaImage, nil
	case videoExtensions[ext]:
		return store.MediaVideo, nil
	case audioExtensions[ext]:
		return store.MediaAudio, nil
	case documentExtensions[ext]:
		return store.MediaDocument, nil
	}

	ok, err := looksLikeText(path)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", xerrors.Newf(xerrors.KindExtraction, "unsupported file type: %s", ext).
			WithDetail("path", path)
	}
	return store.MediaDocument, nil
}

// looksLikeText probes the first bytes for valid, NUL-free UTF-8.
func looksLikeText(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, xerrors.Wrap(xerrors.KindIO, "open for probe", err)
	}
	defer f.Close()

	probe := make([]byte, 4096)
	n, err := f.Read(probe)
	if err != nil && n == 0 {
		return false, nil
	}
	buf := probe[:n]

	// A rune truncated by the probe window is not corruption; trim up to
	// 3 trailing bytes before judging.
	if n == len(probe) {
		for i := 0; i < 3 && len(buf) > 0 && !utf8.Valid(buf); i++ {
			buf = buf[:len(buf)-1]
		}
	}
	if !utf8.Valid(buf) {
		return false, nil
	}
	for _, b := range buf {
		if b == 0 {
			return false, nil
		}
	}
	return true, nil
}

// SizeGate reports whether a file's size is inside the [min, max] bounds,
// both inclusive.
func SizeGate(size, min, max int64) bool {
	return size >= min && size <= max
}
