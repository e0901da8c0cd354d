package index_test

import (
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/ipld/go-kvstore/codec"
	"github.com/ipld/go-kvstore/store/index"
	"github.com/ipld/go-kvstore/store/types"
	"github.com/stretchr/testify/require"
)

const stringTag = "String : String"

func TestOpenNew(t *testing.T) {
	dir := t.TempDir()
	idx, err := index.Open(dir, codec.String, stringTag)
	require.NoError(t, err)
	require.True(t, idx.Created())
	require.Zero(t, idx.Len())

	// Nothing is written until the index is persisted.
	_, err = os.Stat(filepath.Join(dir, index.HeaderFileName))
	require.True(t, os.IsNotExist(err))
}

func TestPutGetRemove(t *testing.T) {
	idx, err := index.Open(t.TempDir(), codec.String, stringTag)
	require.NoError(t, err)

	_, replaced := idx.Put("a", 0)
	require.False(t, replaced)
	_, replaced = idx.Put("b", 20)
	require.False(t, replaced)
	prev, replaced := idx.Put("a", 40)
	require.True(t, replaced)
	require.Equal(t, types.Position(0), prev)

	pos, ok := idx.Get("a")
	require.True(t, ok)
	require.Equal(t, types.Position(40), pos)
	require.Equal(t, 2, idx.Len())
	require.ElementsMatch(t, []string{"a", "b"}, idx.Keys())

	pos, ok = idx.Remove("b")
	require.True(t, ok)
	require.Equal(t, types.Position(20), pos)
	_, ok = idx.Remove("b")
	require.False(t, ok)
	_, ok = idx.Get("b")
	require.False(t, ok)
	require.Equal(t, 1, idx.Len())
}

func TestPersistAndReload(t *testing.T) {
	dir := t.TempDir()
	idx, err := index.Open(dir, codec.Int64, "Int64 : Float64")
	require.NoError(t, err)

	expected := make(map[int64]types.Position)
	for i := int64(0); i < 500; i++ {
		pos := types.Position(i * 20)
		idx.Put(i, pos)
		expected[i] = pos
	}
	for i := int64(0); i < 500; i += 3 {
		idx.Remove(i)
		delete(expected, i)
	}

	require.NoError(t, idx.Persist())
	require.Zero(t, idx.Len())

	header, err := index.ReadHeader(dir)
	require.NoError(t, err)
	require.Equal(t, index.NewHeader("Int64 : Float64"), header)

	idx, err = index.Open(dir, codec.Int64, "Int64 : Float64")
	require.NoError(t, err)
	require.False(t, idx.Created())
	require.Equal(t, len(expected), idx.Len())
	for k, expectedPos := range expected {
		pos, ok := idx.Get(k)
		require.True(t, ok)
		require.Equal(t, expectedPos, pos)
	}
}

func TestTypeMismatch(t *testing.T) {
	dir := t.TempDir()
	idx, err := index.Open(dir, codec.String, stringTag)
	require.NoError(t, err)
	idx.Put("a", 0)
	require.NoError(t, idx.Persist())

	idx, err = index.Open(dir, codec.String, "String : Int64")
	require.Nil(t, idx)
	var mismatch types.ErrTypeMismatch
	require.ErrorAs(t, err, &mismatch)
	require.Equal(t, stringTag, mismatch.Stored)
	require.Equal(t, "String : Int64", mismatch.Expected)
}

func TestCorruptIndex(t *testing.T) {
	newPersisted := func(t *testing.T) string {
		dir := t.TempDir()
		idx, err := index.Open(dir, codec.String, stringTag)
		require.NoError(t, err)
		idx.Put("alpha", 0)
		idx.Put("beta", 17)
		require.NoError(t, idx.Persist())
		return dir
	}
	requireCorrupt := func(t *testing.T, dir string) {
		idx, err := index.Open(dir, codec.String, stringTag)
		require.Nil(t, idx)
		var corrupt *types.ErrCorruptIndex
		require.ErrorAs(t, err, &corrupt)
	}

	t.Run("truncated", func(t *testing.T) {
		dir := newPersisted(t)
		keysPath := filepath.Join(dir, index.KeysFileName)
		fi, err := os.Stat(keysPath)
		require.NoError(t, err)
		require.NoError(t, os.Truncate(keysPath, fi.Size()-3))
		requireCorrupt(t, dir)
	})

	t.Run("count too large", func(t *testing.T) {
		dir := newPersisted(t)
		keysPath := filepath.Join(dir, index.KeysFileName)
		data, err := os.ReadFile(keysPath)
		require.NoError(t, err)
		countPos := 4 + len(stringTag)
		binary.LittleEndian.PutUint32(data[countPos:], 3)
		require.NoError(t, os.WriteFile(keysPath, data, 0o644))
		requireCorrupt(t, dir)
	})

	t.Run("count too small", func(t *testing.T) {
		dir := newPersisted(t)
		keysPath := filepath.Join(dir, index.KeysFileName)
		data, err := os.ReadFile(keysPath)
		require.NoError(t, err)
		countPos := 4 + len(stringTag)
		binary.LittleEndian.PutUint32(data[countPos:], 1)
		require.NoError(t, os.WriteFile(keysPath, data, 0o644))
		requireCorrupt(t, dir)
	})

	t.Run("missing keys file", func(t *testing.T) {
		dir := newPersisted(t)
		require.NoError(t, os.Remove(filepath.Join(dir, index.KeysFileName)))
		requireCorrupt(t, dir)
	})

	t.Run("bad header", func(t *testing.T) {
		dir := newPersisted(t)
		require.NoError(t, os.WriteFile(filepath.Join(dir, index.HeaderFileName), []byte("{"), 0o644))
		requireCorrupt(t, dir)
	})

	t.Run("undecodable key", func(t *testing.T) {
		dir := t.TempDir()
		idx, err := index.Open(dir, codec.String, "Int64 : String")
		require.NoError(t, err)
		idx.Put("abc", 0)
		require.NoError(t, idx.Persist())

		idx2, err := index.Open(dir, codec.Int64, "Int64 : String")
		require.Nil(t, idx2)
		var corrupt *types.ErrCorruptIndex
		require.ErrorAs(t, err, &corrupt)
		require.NotErrorIs(t, err, io.EOF)
	})
}

func TestCheckBounds(t *testing.T) {
	idx, err := index.Open(t.TempDir(), codec.String, stringTag)
	require.NoError(t, err)
	idx.Put("a", 0)
	idx.Put("b", 100)
	require.NoError(t, idx.CheckBounds(101))
	var corrupt *types.ErrCorruptIndex
	require.ErrorAs(t, idx.CheckBounds(100), &corrupt)
}

func TestStorageSize(t *testing.T) {
	dir := t.TempDir()
	idx, err := index.Open(dir, codec.String, stringTag)
	require.NoError(t, err)
	size, err := idx.StorageSize()
	require.NoError(t, err)
	require.Zero(t, size)

	idx.Put("a", 0)
	require.NoError(t, idx.Persist())
	size, err = idx.StorageSize()
	require.NoError(t, err)
	require.Greater(t, size, int64(0))
}
