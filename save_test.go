package rope

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSaveRenamesAsideWhenDestinationIsMapped(t *testing.T) {
	ed, err := New(&Config{MaxOpenSize: 1, HasSeed: true, Seed: 3})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ed.Close() })

	dir := t.TempDir()
	path := filepath.Join(dir, "doc.txt")
	original := "this content is long enough to force a mapped fragment"
	require.NoError(t, os.WriteFile(path, []byte(original), 0o644))

	b, err := ed.Open(path)
	require.NoError(t, err)
	require.True(t, b.HasHealthyMmap())

	b.Freeze()
	w := b.Thaw()
	require.NoError(t, w.Insert(0, []byte(">>")))

	require.NoError(t, w.Save(path))

	// A side file bearing the mandated "skak-" suffix must remain, holding
	// the original mapped inode alive until teardown.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var sideFound bool
	for _, e := range entries {
		if containsSkakMarker(e.Name()) {
			sideFound = true
		}
	}
	require.True(t, sideFound, "expected a .doc.txt.skak-XXXXXXXX side file, got %v", entries)

	saved, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, ">>"+original, string(saved))

	// The original buffer still reads the pre-edit bytes through the
	// moved-aside inode; Save never mutates the source buffer it reads from.
	require.Equal(t, original, string(readBuf(t, b)))
}

func containsSkakMarker(name string) bool {
	const marker = ".skak-"
	for i := 0; i+len(marker) <= len(name); i++ {
		if name[i:i+len(marker)] == marker {
			return true
		}
	}
	return false
}

func TestSaveRefusesMultiplyLinkedMappedDestination(t *testing.T) {
	ed, err := New(&Config{MaxOpenSize: 1, HasSeed: true, Seed: 9})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ed.Close() })

	dir := t.TempDir()
	primary := filepath.Join(dir, "primary.txt")
	linked := filepath.Join(dir, "linked.txt")
	content := "shared content long enough to exceed the mapping threshold"
	require.NoError(t, os.WriteFile(primary, []byte(content), 0o644))
	require.NoError(t, os.Link(primary, linked))

	b, err := ed.Open(primary)
	require.NoError(t, err)
	require.True(t, b.HasHealthyMmap())

	err = b.Thaw().Save(linked)
	require.True(t, IsKind(err, KindMultipleHardLinks))
}

func TestSaveCreatesNewFileWhenMissing(t *testing.T) {
	ed := testEditor(t)
	b := ed.newEmptyBuffer()
	require.NoError(t, b.Insert(0, []byte("brand new contents")))

	dir := t.TempDir()
	path := filepath.Join(dir, "new.txt")

	require.NoError(t, b.Save(path))

	saved, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "brand new contents", string(saved))
}

func TestSaveOverwritesUnmappedDestinationInPlace(t *testing.T) {
	ed := testEditor(t)
	b := ed.newEmptyBuffer()
	require.NoError(t, b.Insert(0, []byte("replacement")))

	dir := t.TempDir()
	path := filepath.Join(dir, "plain.txt")
	require.NoError(t, os.WriteFile(path, []byte("stale content that is not mapped"), 0o644))

	require.NoError(t, b.Save(path))

	saved, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "replacement", string(saved))
}

func TestCloseUnlinksMovedAsideSideFiles(t *testing.T) {
	ed, err := New(&Config{MaxOpenSize: 1, HasSeed: true, Seed: 11})
	require.NoError(t, err)

	dir := t.TempDir()
	path := filepath.Join(dir, "doc.txt")
	original := "long enough original content to force mapping of the file"
	require.NoError(t, os.WriteFile(path, []byte(original), 0o644))

	b, err := ed.Open(path)
	require.NoError(t, err)
	w := b.Thaw()
	require.NoError(t, w.Insert(0, []byte("X")))
	require.NoError(t, w.Save(path))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 2) // doc.txt + the side file

	require.NoError(t, ed.Close())

	entries, err = os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1) // side file unlinked at teardown
	require.Equal(t, "doc.txt", entries[0].Name())
}
