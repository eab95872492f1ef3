package rope

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func readBuf(t *testing.T, b *Buffer) []byte {
	t.Helper()
	out := make([]byte, b.Len())
	n, err := b.Read(0, out)
	require.NoError(t, err)
	require.EqualValues(t, b.Len(), n)
	return out
}

func TestInsertIntoEmptyBuffer(t *testing.T) {
	ed := testEditor(t)
	b := ed.newEmptyBuffer()

	require.NoError(t, b.Insert(0, []byte("hello")))
	require.Equal(t, "hello", string(readBuf(t, b)))

	require.True(t, IsKind(b.Insert(99, []byte("x")), KindOutOfBounds))
}

func TestInsertAppendAndMiddle(t *testing.T) {
	ed := testEditor(t)
	b := ed.newEmptyBuffer()
	require.NoError(t, b.Insert(0, []byte("helloworld")))
	require.NoError(t, b.Insert(5, []byte(" ")))
	require.Equal(t, "hello world", string(readBuf(t, b)))
}

func TestDeleteRoundTrip(t *testing.T) {
	ed := testEditor(t)
	b := ed.newEmptyBuffer()
	original := []byte("the quick brown fox")
	require.NoError(t, b.Insert(0, original))

	require.NoError(t, b.Delete(4, 10)) // removes "quick "
	require.Equal(t, "the brown fox", string(readBuf(t, b)))

	require.NoError(t, b.Insert(4, []byte("quick ")))
	require.Equal(t, string(original), string(readBuf(t, b)))
}

func TestDeleteNoopWhenStartGEEnd(t *testing.T) {
	ed := testEditor(t)
	b := ed.newEmptyBuffer()
	require.NoError(t, b.Insert(0, []byte("abc")))
	require.NoError(t, b.Delete(2, 2))
	require.Equal(t, "abc", string(readBuf(t, b)))
}

func TestDeleteOutOfBounds(t *testing.T) {
	ed := testEditor(t)
	b := ed.newEmptyBuffer()
	require.NoError(t, b.Insert(0, []byte("abc")))
	require.True(t, IsKind(b.Delete(0, 4), KindOutOfBounds))
}

func TestFreezeThenThawIsolatesEdits(t *testing.T) {
	ed := testEditor(t)
	b := ed.newEmptyBuffer()
	require.NoError(t, b.Insert(0, []byte("original")))

	b.Freeze()
	require.True(t, IsKind(b.Insert(0, []byte("x")), KindBufferFrozen))

	w := b.Thaw()
	require.NotSame(t, b, w)
	require.NoError(t, w.Insert(0, []byte("NEW-")))

	require.Equal(t, "original", string(readBuf(t, b)))
	require.Equal(t, "NEW-original", string(readBuf(t, w)))
}

func TestThawOfUnfrozenBufferReturnsSelf(t *testing.T) {
	ed := testEditor(t)
	b := ed.newEmptyBuffer()
	require.Same(t, b, b.Thaw())
}

func TestCopyNonOverlappingRangesMatchesExtractThenReinsert(t *testing.T) {
	ed := testEditor(t)
	src := ed.newEmptyBuffer()
	require.NoError(t, src.Insert(0, []byte("abcdefghij")))

	dst := ed.newEmptyBuffer()
	require.NoError(t, dst.Insert(0, []byte("XXXX")))

	require.NoError(t, dst.Copy(2, src, 3, 7)) // "defg"
	require.Equal(t, "XXdefgXX", string(readBuf(t, dst)))

	// src is untouched and now frozen as a side effect of Copy.
	require.Equal(t, "abcdefghij", string(readBuf(t, src)))
	require.True(t, IsKind(src.Insert(0, []byte("z")), KindBufferFrozen))
}

func TestCopySelfNonOverlapping(t *testing.T) {
	ed := testEditor(t)
	b := ed.newEmptyBuffer()
	require.NoError(t, b.Insert(0, []byte("abcdef")))

	b.Freeze()
	w := b.Thaw()
	require.NotSame(t, b, w)

	// src == dst is the interesting case here: Copy must freeze src (w's
	// shared root) without mistaking that for w itself being frozen.
	require.NoError(t, w.Copy(0, w, 3, 6))
	require.Equal(t, "defabcdef", string(readBuf(t, w)))

	// Equivalent to extracting [3,6) by read and re-inserting at 0.
	extracted := make([]byte, 3)
	n, err := b.Read(3, extracted)
	require.NoError(t, err)
	require.Equal(t, 3, n)

	manual := ed.newEmptyBuffer()
	require.NoError(t, manual.Insert(0, []byte("abcdef")))
	require.NoError(t, manual.Insert(0, extracted))
	require.Equal(t, string(readBuf(t, manual)), string(readBuf(t, w)))
}

func TestCopyRequiresSameEditor(t *testing.T) {
	ed1 := testEditor(t)
	ed2 := testEditor(t)

	src := ed1.newEmptyBuffer()
	require.NoError(t, src.Insert(0, []byte("abc")))
	dst := ed2.newEmptyBuffer()

	err := dst.Copy(0, src, 0, 3)
	require.Error(t, err)
}

func TestZeroByteReadOnEmptyBuffer(t *testing.T) {
	ed := testEditor(t)
	b := ed.newEmptyBuffer()
	n, err := b.Read(0, nil)
	require.NoError(t, err)
	require.Equal(t, 0, n)

	_, err = b.Read(1, make([]byte, 1))
	require.True(t, IsKind(err, KindOutOfBounds))
}

func TestCloseReleasesRoot(t *testing.T) {
	ed := testEditor(t)
	b := ed.newEmptyBuffer()
	require.NoError(t, b.Insert(0, []byte("abc")))
	root := b.root
	root.Ref() // keep alive so we can inspect refc after Close
	b.Close()
	require.Equal(t, 1, root.refc)
	root.Unref()
}
