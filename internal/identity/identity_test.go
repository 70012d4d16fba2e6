package identity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localdoc/docsearch/internal/store"
)

func writeFile(t *testing.T, dir, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, content, 0o644))
	return path
}

func TestContentHashSmallFile(t *testing.T) {
	dir := t.TempDir()
	content := []byte("hello world")
	path := writeFile(t, dir, "a.txt", content)

	got, err := ContentHash(path)
	require.NoError(t, err)

	// Small files hash head + size only (tail overlaps the head).
	h := sha256.New()
	h.Write(content)
	h.Write([]byte(strconv.Itoa(len(content))))
	assert.Equal(t, hex.EncodeToString(h.Sum(nil)), got)
}

func TestContentHashLargeFileUsesHeadTailSize(t *testing.T) {
	dir := t.TempDir()
	content := make([]byte, 3*64*1024)
	for i := range content {
		content[i] = byte(i % 251)
	}
	path := writeFile(t, dir, "big.bin", content)

	got, err := ContentHash(path)
	require.NoError(t, err)

	h := sha256.New()
	h.Write(content[:64*1024])
	h.Write(content[len(content)-64*1024:])
	h.Write([]byte(strconv.Itoa(len(content))))
	assert.Equal(t, hex.EncodeToString(h.Sum(nil)), got)
}

func TestContentHashStableAcrossCopies(t *testing.T) {
	dir := t.TempDir()
	content := []byte(strings.Repeat("stable content ", 100))
	a := writeFile(t, dir, "a.md", content)
	b := writeFile(t, dir, "b.md", content)

	ha, err := ContentHash(a)
	require.NoError(t, err)
	hb, err := ContentHash(b)
	require.NoError(t, err)
	assert.Equal(t, ha, hb)
}

func TestClassifyKnownExtensions(t *testing.T) {
	tests := []struct {
		path string
		want store.MediaType
	}{
		{"/x/report.pdf", store.MediaDocument},
		{"/x/notes.md", store.MediaDocument},
		{"/x/deck.pptx", store.MediaDocument},
		{"/x/photo.JPG", store.MediaImage},
		{"/x/song.mp3", store.MediaAudio},
		{"/x/clip.mkv", store.MediaVideo},
	}
	for _, tt := range tests {
		got, err := Classify(tt.path)
		require.NoError(t, err, tt.path)
		assert.Equal(t, tt.want, got, tt.path)
	}
}

func TestClassifyUnknownExtension(t *testing.T) {
	dir := t.TempDir()

	textPath := writeFile(t, dir, "notes.unknownext", []byte("plain readable text\n"))
	got, err := Classify(textPath)
	require.NoError(t, err)
	assert.Equal(t, store.MediaDocument, got)

	binPath := writeFile(t, dir, "blob.unknownext", []byte{0x00, 0xFF, 0x13, 0x37, 0x00})
	_, err = Classify(binPath)
	require.Error(t, err)
}

func TestSizeGateBoundaries(t *testing.T) {
	min := int64(1024)
	max := int64(500 * 1024 * 1024)

	assert.False(t, SizeGate(1023, min, max))
	assert.True(t, SizeGate(1024, min, max))
	assert.True(t, SizeGate(max, min, max))
	assert.False(t, SizeGate(max+1, min, max))
}

// fakeRegistry is an in-memory Registry for resolver tests.
type fakeRegistry struct {
	docs []*store.Document
}

func (f *fakeRegistry) GetByContentHash(_ context.Context, hash string, deleted bool) (*store.Document, error) {
	for _, d := range f.docs {
		if d.ContentHash == hash && d.IsDeleted == deleted {
			return d, nil
		}
	}
	return nil, nil
}

func (f *fakeRegistry) GetByInode(_ context.Context, inode uint64) (*store.Document, error) {
	if inode == 0 {
		return nil, nil
	}
	for _, d := range f.docs {
		if d.Inode == inode && !d.IsDeleted {
			return d, nil
		}
	}
	return nil, nil
}

func (f *fakeRegistry) GetByPath(_ context.Context, path string) (*store.Document, error) {
	for _, d := range f.docs {
		if d.Path == path && !d.IsDeleted {
			return d, nil
		}
	}
	return nil, nil
}

func TestResolveNewFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "new.md", []byte("# fresh content"))

	r := NewResolver(&fakeRegistry{})
	ev := FileEvent{Kind: Created, Path: path, Inode: 7, Size: 15, MTime: time.Now()}

	resolved, err := r.Resolve(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, ActionInsert, resolved.Action)
	require.NotNil(t, resolved.Document)
	assert.Equal(t, store.MediaDocument, resolved.Document.MediaType)
	assert.Equal(t, ".md", resolved.Document.Extension)
	assert.NotEmpty(t, resolved.DocID)
}

func TestResolveRenamePreservesIdentity(t *testing.T) {
	dir := t.TempDir()
	content := []byte("unchanged content that moved")
	newPath := writeFile(t, dir, "moved.md", content)

	hash, err := ContentHash(newPath)
	require.NoError(t, err)

	existing := &store.Document{ID: "doc1", ContentHash: hash, Path: "/old/moved.md", Inode: 7}
	r := NewResolver(&fakeRegistry{docs: []*store.Document{existing}})

	resolved, err := r.Resolve(context.Background(), FileEvent{Kind: Moved, Path: newPath, Inode: 7})
	require.NoError(t, err)
	assert.Equal(t, ActionRename, resolved.Action)
	assert.Equal(t, "doc1", resolved.DocID)
}

func TestResolveRestoreFromTombstone(t *testing.T) {
	dir := t.TempDir()
	content := []byte("deleted then recreated")
	path := writeFile(t, dir, "back.md", content)

	hash, err := ContentHash(path)
	require.NoError(t, err)

	tombstoned := &store.Document{ID: "doc1", ContentHash: hash, Path: path, IsDeleted: true}
	r := NewResolver(&fakeRegistry{docs: []*store.Document{tombstoned}})

	resolved, err := r.Resolve(context.Background(), FileEvent{Kind: Created, Path: path, Inode: 9})
	require.NoError(t, err)
	assert.Equal(t, ActionRestore, resolved.Action)
	assert.Equal(t, "doc1", resolved.DocID)
}

func TestResolveInPlaceModification(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "edited.md", []byte("version B of the file"))

	existing := &store.Document{ID: "doc1", ContentHash: "oldhash", Path: path, Inode: 7}
	r := NewResolver(&fakeRegistry{docs: []*store.Document{existing}})

	resolved, err := r.Resolve(context.Background(), FileEvent{Kind: Modified, Path: path, Inode: 7, Size: 21})
	require.NoError(t, err)
	assert.Equal(t, ActionUpdate, resolved.Action)
	assert.Equal(t, "doc1", resolved.DocID)
	assert.NotEqual(t, "oldhash", resolved.Document.ContentHash)
}

func TestResolveHardLinkSiblingStaysDistinct(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "sibling.md", []byte("hard link sibling content"))

	// Same inode, different path, different content hash: the inode match
	// must not apply because the tracked path differs.
	other := &store.Document{ID: "doc1", ContentHash: "otherhash", Path: "/elsewhere/a.md", Inode: 7}
	r := NewResolver(&fakeRegistry{docs: []*store.Document{other}})

	resolved, err := r.Resolve(context.Background(), FileEvent{Kind: Created, Path: path, Inode: 7})
	require.NoError(t, err)
	assert.Equal(t, ActionInsert, resolved.Action)
	assert.NotEqual(t, "doc1", resolved.DocID)
}

func TestResolveDeleteByInode(t *testing.T) {
	existing := &store.Document{ID: "doc1", ContentHash: "h", Path: "/x/gone.md", Inode: 7}
	r := NewResolver(&fakeRegistry{docs: []*store.Document{existing}})

	resolved, err := r.Resolve(context.Background(), FileEvent{Kind: Deleted, Path: "/x/gone.md", Inode: 7})
	require.NoError(t, err)
	assert.Equal(t, ActionTombstone, resolved.Action)
	assert.Equal(t, "doc1", resolved.DocID)
}

func TestResolveDeleteUntracked(t *testing.T) {
	r := NewResolver(&fakeRegistry{})
	_, err := r.Resolve(context.Background(), FileEvent{Kind: Deleted, Path: "/x/never-seen.md"})
	require.Error(t, err)
}
