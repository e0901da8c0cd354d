package primary_test

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/ipld/go-kvstore/internal/testutil"
	"github.com/ipld/go-kvstore/store/primary"
	"github.com/ipld/go-kvstore/store/types"
	"github.com/stretchr/testify/require"
)

func openLog(t *testing.T) (*primary.ValueLog, string) {
	path := filepath.Join(t.TempDir(), "kvstore.data")
	vl, err := primary.Open(path)
	require.NoError(t, err)
	return vl, path
}

func TestPutGet(t *testing.T) {
	vl, _ := openLog(t)
	defer vl.Close()

	values := [][]byte{testutil.RandomBytes(100), {}, testutil.RandomBytes(7)}
	expectedOffset := types.Position(0)
	var blks []types.Block
	for _, value := range values {
		blk, err := vl.Put(value)
		require.NoError(t, err)
		require.Equal(t, expectedOffset, blk.Offset)
		require.Equal(t, types.Size(len(value)), blk.Size)
		expectedOffset += primary.RecordHeaderSize + types.Position(len(value))
		blks = append(blks, blk)
	}
	require.Equal(t, types.Work(expectedOffset), vl.OutstandingWork())
	require.Equal(t, expectedOffset, vl.Length())

	// Reading buffered records flushes them first.
	for i, blk := range blks {
		value, err := vl.Get(blk.Offset)
		require.NoError(t, err)
		require.Equal(t, values[i], value)
	}
	require.Zero(t, vl.OutstandingWork())
}

func TestFlushAndReopen(t *testing.T) {
	vl, path := openLog(t)
	value := testutil.RandomBytes(64)
	blk, err := vl.Put(value)
	require.NoError(t, err)

	work, err := vl.Flush()
	require.NoError(t, err)
	require.Equal(t, types.Work(primary.RecordHeaderSize+64), work)
	require.NoError(t, vl.Sync())
	require.NoError(t, vl.Close())

	vl, err = primary.Open(path)
	require.NoError(t, err)
	defer vl.Close()

	got, err := vl.Get(blk.Offset)
	require.NoError(t, err)
	require.Equal(t, value, got)

	// Appends continue after existing data.
	blk2, err := vl.Put([]byte("next"))
	require.NoError(t, err)
	require.Equal(t, types.Position(primary.RecordHeaderSize+64), blk2.Offset)

	size, err := vl.StorageSize()
	require.NoError(t, err)
	require.Equal(t, int64(primary.RecordHeaderSize+64), size)
}

func TestGetOutOfBounds(t *testing.T) {
	vl, _ := openLog(t)
	defer vl.Close()

	_, err := vl.Get(0)
	require.ErrorIs(t, err, types.ErrOutOfBounds)
	var ioErr *types.ErrIOFailure
	require.True(t, errors.As(err, &ioErr))

	_, err = vl.Put([]byte("abc"))
	require.NoError(t, err)
	_, err = vl.Get(1000)
	require.ErrorIs(t, err, types.ErrOutOfBounds)
}

func TestChecksumMismatch(t *testing.T) {
	vl, path := openLog(t)
	blk, err := vl.Put([]byte("hello world"))
	require.NoError(t, err)
	require.NoError(t, vl.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[len(data)-1] ^= 0xff
	require.NoError(t, os.WriteFile(path, data, 0o644))

	vl, err = primary.Open(path)
	require.NoError(t, err)
	defer vl.Close()
	_, err = vl.Get(blk.Offset)
	require.ErrorIs(t, err, types.ErrChecksum)
}

func TestTruncatedRecord(t *testing.T) {
	vl, path := openLog(t)
	_, err := vl.Put(testutil.RandomBytes(32))
	require.NoError(t, err)
	require.NoError(t, vl.Close())
	require.NoError(t, os.Truncate(path, primary.RecordHeaderSize+10))

	vl, err = primary.Open(path)
	require.NoError(t, err)
	defer vl.Close()
	_, err = vl.Get(0)
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestClosed(t *testing.T) {
	vl, _ := openLog(t)
	require.NoError(t, vl.Close())
	require.ErrorIs(t, vl.Close(), types.ErrClosedStore)
	_, err := vl.Put([]byte("x"))
	require.ErrorIs(t, err, types.ErrClosedStore)
	_, err = vl.Get(0)
	require.ErrorIs(t, err, types.ErrClosedStore)
}

func TestIter(t *testing.T) {
	vl, _ := openLog(t)
	defer vl.Close()

	values := [][]byte{[]byte("one"), []byte("two"), []byte("three")}
	for _, v := range values {
		_, err := vl.Put(v)
		require.NoError(t, err)
	}

	iter, err := vl.Iter()
	require.NoError(t, err)
	var pos types.Position
	for _, expected := range values {
		blk, value, err := iter.Next()
		require.NoError(t, err)
		require.Equal(t, pos, blk.Offset)
		require.Equal(t, expected, value)
		pos += primary.RecordHeaderSize + types.Position(len(expected))
	}
	_, _, err = iter.Next()
	require.EqualError(t, err, io.EOF.Error())
}
