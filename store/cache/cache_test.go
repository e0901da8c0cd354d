package cache_test

import (
	"fmt"
	"testing"

	"github.com/ipld/go-kvstore/store/cache"
	"github.com/ipld/go-kvstore/store/types"
	"github.com/stretchr/testify/require"
)

type countingLoader struct {
	values map[string]int
	loads  map[string]int
}

func (l *countingLoader) load(key string) (int, error) {
	l.loads[key]++
	v, ok := l.values[key]
	if !ok {
		return 0, types.ErrKeyNotFound
	}
	return v, nil
}

func newLoader(n int) *countingLoader {
	l := &countingLoader{values: map[string]int{}, loads: map[string]int{}}
	for i := 0; i < n; i++ {
		l.values[fmt.Sprint("k", i)] = i
	}
	return l
}

func TestGetLoadsOnce(t *testing.T) {
	l := newLoader(3)
	c, err := cache.New[string, int](2, l.load)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		v, err := c.Get("k1")
		require.NoError(t, err)
		require.Equal(t, 1, v)
	}
	require.Equal(t, 1, l.loads["k1"])
	require.Equal(t, 1, c.Len())
}

func TestEvictsLeastRecentlyUsed(t *testing.T) {
	l := newLoader(3)
	c, err := cache.New[string, int](2, l.load)
	require.NoError(t, err)

	_, err = c.Get("k0")
	require.NoError(t, err)
	_, err = c.Get("k1")
	require.NoError(t, err)
	_, err = c.Get("k0")
	require.NoError(t, err)
	_, err = c.Get("k2")
	require.NoError(t, err)
	require.Equal(t, 2, c.Len())

	// k0 is still cached; k1 was the least recently used and is loaded again.
	v, err := c.Get("k0")
	require.NoError(t, err)
	require.Equal(t, 0, v)
	require.Equal(t, 1, l.loads["k0"])
	_, err = c.Get("k1")
	require.NoError(t, err)
	require.Equal(t, 2, l.loads["k1"])
}

func TestLoaderErrorNotCached(t *testing.T) {
	l := newLoader(1)
	c, err := cache.New[string, int](2, l.load)
	require.NoError(t, err)

	_, err = c.Get("missing")
	require.ErrorIs(t, err, types.ErrKeyNotFound)
	require.Zero(t, c.Len())
}

func TestInvalidateAndClear(t *testing.T) {
	l := newLoader(3)
	c, err := cache.New[string, int](0, l.load)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err = c.Get(fmt.Sprint("k", i))
		require.NoError(t, err)
	}
	c.Invalidate("k0")
	c.Invalidate("absent")
	require.Equal(t, 2, c.Len())

	c.Clear()
	require.Zero(t, c.Len())
}

func TestDefaultCapacity(t *testing.T) {
	l := newLoader(cache.DefaultCapacity + 10)
	c, err := cache.New[string, int](0, l.load)
	require.NoError(t, err)
	for k := range l.values {
		_, err = c.Get(k)
		require.NoError(t, err)
	}
	require.Equal(t, cache.DefaultCapacity, c.Len())
}
