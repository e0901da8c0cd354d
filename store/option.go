package store

import (
	"time"

	"github.com/ipld/go-kvstore/store/buffer"
	"github.com/ipld/go-kvstore/store/cache"
)

const (
	defaultCacheSize    = cache.DefaultCapacity
	defaultWriteLimit   = buffer.DefaultWriteLimit
	defaultDeleteLimit  = buffer.DefaultDeleteLimit
	defaultSyncInterval = time.Second
)

type config struct {
	cacheSize    int
	writeLimit   int
	deleteLimit  int
	syncInterval time.Duration
}

type Option func(*config)

func newConfig() config {
	return config{
		cacheSize:    defaultCacheSize,
		writeLimit:   defaultWriteLimit,
		deleteLimit:  defaultDeleteLimit,
		syncInterval: defaultSyncInterval,
	}
}

// apply applies the given options to this config.
func (c *config) apply(opts []Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// CacheSize is the maximum number of deserialized values kept in memory.
func CacheSize(size int) Option {
	return func(c *config) {
		c.cacheSize = size
	}
}

// WriteBufferLimit is the number of staged writes above which the write and
// delete buffers and the value cache are reset.
func WriteBufferLimit(limit int) Option {
	return func(c *config) {
		c.writeLimit = limit
	}
}

// DeleteBufferLimit is the number of staged deletes above which the write
// and delete buffers and the value cache are reset.
func DeleteBufferLimit(limit int) Option {
	return func(c *config) {
		c.deleteLimit = limit
	}
}

// SyncInterval determines how frequently buffered data is flushed to disk
// once Start has been called. A zero interval disables background flushing.
func SyncInterval(syncInterval time.Duration) Option {
	return func(c *config) {
		c.syncInterval = syncInterval
	}
}
