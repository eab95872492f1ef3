package rope

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIteratorForwardTraversal(t *testing.T) {
	ed := testEditor(t)
	b := ed.newEmptyBuffer()
	require.NoError(t, b.Insert(0, []byte("abcdef")))

	it, err := b.Iter(0)
	require.NoError(t, err)
	defer it.Close()

	var got []byte
	for {
		c, ok := it.Next()
		if !ok {
			break
		}
		got = append(got, c)
	}
	require.Equal(t, "abcdef", string(got))
}

func TestIteratorBackwardTraversal(t *testing.T) {
	ed := testEditor(t)
	b := ed.newEmptyBuffer()
	require.NoError(t, b.Insert(0, []byte("abcdef")))

	it, err := b.Iter(b.Len())
	require.NoError(t, err)
	defer it.Close()

	var got []byte
	for {
		c, ok := it.Prev()
		if !ok {
			break
		}
		got = append([]byte{c}, got...)
	}
	require.Equal(t, "abcdef", string(got))
}

func TestIteratorAcrossMultipleFragments(t *testing.T) {
	ed := testEditor(t)
	b := ed.newEmptyBuffer()
	require.NoError(t, b.Insert(0, []byte("hello")))
	require.NoError(t, b.Insert(5, []byte(" ")))
	require.NoError(t, b.Insert(6, []byte("world")))
	require.NoError(t, b.Insert(0, []byte(">>")))

	it, err := b.Iter(0)
	require.NoError(t, err)
	defer it.Close()

	var got []byte
	for {
		c, ok := it.Next()
		if !ok {
			break
		}
		got = append(got, c)
	}
	require.Equal(t, ">>hello world", string(got))
}

func TestIteratorRewind(t *testing.T) {
	ed := testEditor(t)
	b := ed.newEmptyBuffer()
	require.NoError(t, b.Insert(0, []byte("0123456789")))

	it, err := b.Iter(8)
	require.NoError(t, err)
	defer it.Close()

	require.NoError(t, it.Rewind(5))
	require.EqualValues(t, 5, it.LastAdvance())

	c, ok := it.Next()
	require.True(t, ok)
	require.Equal(t, byte('3'), c)
}

func TestIteratorRewindOutOfBounds(t *testing.T) {
	ed := testEditor(t)
	b := ed.newEmptyBuffer()
	require.NoError(t, b.Insert(0, []byte("abc")))

	it, err := b.Iter(1)
	require.NoError(t, err)
	defer it.Close()

	require.True(t, IsKind(it.Rewind(5), KindOutOfBounds))
	require.True(t, IsKind(it.Rewind(-1), KindOutOfBounds))
}

func TestIteratorOnEmptyBuffer(t *testing.T) {
	ed := testEditor(t)
	b := ed.newEmptyBuffer()

	it, err := b.Iter(0)
	require.NoError(t, err)
	defer it.Close()

	_, ok := it.Next()
	require.False(t, ok)
	_, ok = it.Prev()
	require.False(t, ok)
}

func TestIterOutOfBoundsOffset(t *testing.T) {
	ed := testEditor(t)
	b := ed.newEmptyBuffer()
	require.NoError(t, b.Insert(0, []byte("abc")))

	_, err := b.Iter(4)
	require.True(t, IsKind(err, KindOutOfBounds))
}
