package buffer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStageWriteAndDelete(t *testing.T) {
	b := New[string, int](0, 0)

	b.StageWrite("a", 1)
	b.StageWrite("a", 2)
	v, ok := b.Get("a")
	require.True(t, ok)
	require.Equal(t, 2, v)
	require.False(t, b.deleted("a"))

	b.StageDelete("a")
	_, ok = b.Get("a")
	require.False(t, ok)
	require.True(t, b.deleted("a"))

	b.StageWrite("a", 3)
	require.False(t, b.deleted("a"))
	writes, deletes := b.Len()
	require.Equal(t, 1, writes)
	require.Zero(t, deletes)
}

func TestExceeded(t *testing.T) {
	b := New[int, int](3, 2)
	for i := 0; i < 3; i++ {
		b.StageWrite(i, i)
	}
	require.False(t, b.Exceeded())
	b.StageWrite(3, 3)
	require.True(t, b.Exceeded())

	b.Reset()
	require.False(t, b.Exceeded())
	writes, deletes := b.Len()
	require.Zero(t, writes)
	require.Zero(t, deletes)

	for i := 0; i < 3; i++ {
		b.StageDelete(i)
	}
	require.True(t, b.Exceeded())
}

func TestDefaults(t *testing.T) {
	b := New[int, struct{}](-1, 0)
	require.Equal(t, DefaultWriteLimit, b.writeLimit)
	require.Equal(t, DefaultDeleteLimit, b.deleteLimit)
}
