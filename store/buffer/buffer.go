// Package buffer stages the keys written and deleted since the last reset.
// Staged writes hold the freshest value of a key and are served before the
// value cache.
package buffer

const (
	DefaultWriteLimit  = 1000
	DefaultDeleteLimit = 2000
)

// Buffer holds staged writes and deletes. It is not safe for concurrent use.
type Buffer[K comparable, V any] struct {
	writes      map[K]V
	deletes     map[K]struct{}
	writeLimit  int
	deleteLimit int
}

// New returns an empty Buffer that is exceeded once it holds more than
// writeLimit writes or more than deleteLimit deletes. Non-positive limits
// select the defaults.
func New[K comparable, V any](writeLimit, deleteLimit int) *Buffer[K, V] {
	if writeLimit <= 0 {
		writeLimit = DefaultWriteLimit
	}
	if deleteLimit <= 0 {
		deleteLimit = DefaultDeleteLimit
	}
	return &Buffer[K, V]{
		writes:      make(map[K]V),
		deletes:     make(map[K]struct{}),
		writeLimit:  writeLimit,
		deleteLimit: deleteLimit,
	}
}

// StageWrite records value as the latest value of key.
func (b *Buffer[K, V]) StageWrite(key K, value V) {
	delete(b.deletes, key)
	b.writes[key] = value
}

// StageDelete records that key was deleted.
func (b *Buffer[K, V]) StageDelete(key K) {
	delete(b.writes, key)
	b.deletes[key] = struct{}{}
}

// Get returns the staged value of key.
func (b *Buffer[K, V]) Get(key K) (V, bool) {
	v, ok := b.writes[key]
	return v, ok
}

// deleted reports whether key was deleted since the last reset.
func (b *Buffer[K, V]) deleted(key K) bool {
	_, ok := b.deletes[key]
	return ok
}

// Len returns the number of staged writes and deletes.
func (b *Buffer[K, V]) Len() (writes, deletes int) {
	return len(b.writes), len(b.deletes)
}

// Exceeded reports whether either staging area is over its limit.
func (b *Buffer[K, V]) Exceeded() bool {
	return len(b.writes) > b.writeLimit || len(b.deletes) > b.deleteLimit
}

// Reset discards all staged writes and deletes.
func (b *Buffer[K, V]) Reset() {
	b.writes = make(map[K]V)
	b.deletes = make(map[K]struct{})
}
