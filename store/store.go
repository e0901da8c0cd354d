package store

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/ipld/go-kvstore/codec"
	"github.com/ipld/go-kvstore/store/buffer"
	"github.com/ipld/go-kvstore/store/cache"
	"github.com/ipld/go-kvstore/store/freelist"
	"github.com/ipld/go-kvstore/store/index"
	"github.com/ipld/go-kvstore/store/primary"
	"github.com/ipld/go-kvstore/store/types"
	"go.uber.org/multierr"
)

var log = logging.Logger("kvstore")

const (
	DataFileName     = "kvstore.data"
	FreeListFileName = "kvstore.free"
)

// Store is a key-value store backed by an append-only value log and an
// in-memory offset index. The index is written to disk only by Close, so
// changes made since the last Close are lost if the process exits without
// closing the store.
//
// Values passed to Put must not be modified afterwards.
type Store[K comparable, V any] struct {
	dir        string
	valueCodec codec.Codec[V]

	// lk guards the index, buffer and open. Mutations take it exclusively.
	// Get only takes it shared: the cache and primary synchronize
	// themselves.
	lk       sync.RWMutex
	index    *index.Index[K]
	primary  primary.PrimaryStorage
	freelist *freelist.FreeList
	buffer   *buffer.Buffer[K, V]
	cache    *cache.Cache[K, V]
	open     bool

	stateLk      sync.Mutex
	running      bool
	stopped      bool
	err          error
	closing      chan struct{}
	closed       chan struct{}
	syncInterval time.Duration
}

// TypeTag returns the header tag for a pairing of key and value codecs.
func TypeTag[K, V any](keyCodec codec.Codec[K], valueCodec codec.Codec[V]) string {
	return keyCodec.TypeTag() + " : " + valueCodec.TypeTag()
}

// Open opens the store in dir, which must be an existing directory. If the
// directory holds no store, a new empty one is created. Opening a store with
// codecs whose tags differ from the ones it was created with fails with
// types.ErrTypeMismatch.
func Open[K comparable, V any](dir string, keyCodec codec.Codec[K], valueCodec codec.Codec[V], options ...Option) (*Store[K, V], error) {
	c := newConfig()
	c.apply(options)

	fi, err := os.Stat(dir)
	if err != nil {
		return nil, &types.ErrIOFailure{Op: "open store directory", Err: err}
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("cannot open store: %s is not a directory", dir)
	}

	typeTag := TypeTag(keyCodec, valueCodec)
	idx, err := index.Open(dir, keyCodec, typeTag)
	if err != nil {
		return nil, err
	}

	vl, err := primary.Open(filepath.Join(dir, DataFileName))
	if err != nil {
		return nil, err
	}
	if err = idx.CheckBounds(vl.Length()); err != nil {
		vl.Close()
		return nil, err
	}

	fl, err := freelist.Open(filepath.Join(dir, FreeListFileName))
	if err != nil {
		vl.Close()
		return nil, err
	}

	s := &Store[K, V]{
		dir:          dir,
		valueCodec:   valueCodec,
		index:        idx,
		primary:      vl,
		freelist:     fl,
		buffer:       buffer.New[K, V](c.writeLimit, c.deleteLimit),
		open:         true,
		closing:      make(chan struct{}),
		closed:       make(chan struct{}),
		syncInterval: c.syncInterval,
	}
	s.cache, err = cache.New[K, V](c.cacheSize, s.load)
	if err != nil {
		vl.Close()
		fl.Close()
		return nil, err
	}

	if idx.Created() {
		log.Infow("Created new store", "dir", dir, "type", typeTag)
	} else {
		log.Infow("Opened store", "dir", dir, "type", typeTag, "keys", idx.Len())
	}
	return s, nil
}

// Dir returns the directory of the store.
func (s *Store[K, V]) Dir() string {
	return s.dir
}

// TypeTag returns the key and value type tag recorded in the store header.
func (s *Store[K, V]) TypeTag() string {
	return s.index.TypeTag()
}

// Start launches a goroutine that periodically flushes buffered data to
// disk. It does nothing if the sync interval is zero or the store is closed.
func (s *Store[K, V]) Start() {
	if s.syncInterval == 0 {
		return
	}
	s.stateLk.Lock()
	start := !s.running && !s.stopped
	if start {
		s.running = true
	}
	s.stateLk.Unlock()
	if start {
		go s.run()
	}
}

func (s *Store[K, V]) run() {
	defer close(s.closed)
	t := time.NewTicker(s.syncInterval)
	defer t.Stop()

	for {
		select {
		case <-s.closing:
			return
		case <-t.C:
			if err := s.Flush(); err != nil {
				if errors.Is(err, types.ErrClosedStore) {
					return
				}
				log.Errorw("Background flush failed", "dir", s.dir, "err", err)
				s.setErr(err)
			}
		}
	}
}

// Err returns the error of the last failed background flush, if any.
func (s *Store[K, V]) Err() error {
	s.stateLk.Lock()
	defer s.stateLk.Unlock()
	return s.err
}

func (s *Store[K, V]) setErr(err error) {
	s.stateLk.Lock()
	s.err = err
	s.stateLk.Unlock()
}

// load reads the value of key from the value log. It is the cache loader and
// runs with s.lk held at least shared.
func (s *Store[K, V]) load(key K) (V, error) {
	var zero V
	pos, ok := s.index.Get(key)
	if !ok {
		return zero, types.ErrKeyNotFound
	}
	data, err := s.primary.Get(pos)
	if err != nil {
		return zero, fmt.Errorf("%w: %w", types.ErrKeyNotFound, err)
	}
	v, err := s.valueCodec.Unmarshal(data)
	if err != nil {
		return zero, fmt.Errorf("%w: %w", types.ErrKeyNotFound, &types.ErrIOFailure{
			Op:  fmt.Sprintf("decode value at %d", pos),
			Err: err,
		})
	}
	return v, nil
}

// Get returns the value stored for key. The returned bool is false if the
// key was never written or has been removed.
func (s *Store[K, V]) Get(key K) (V, bool, error) {
	var zero V
	s.lk.RLock()
	defer s.lk.RUnlock()

	if !s.open {
		return zero, false, types.ErrClosedStore
	}
	if _, found := s.index.Get(key); !found {
		return zero, false, nil
	}
	if v, ok := s.buffer.Get(key); ok {
		return v, true, nil
	}
	v, err := s.cache.Get(key)
	if err != nil {
		return zero, false, err
	}
	return v, true, nil
}

// Put stores value for key, replacing any previous value. The previous value
// remains in the value log but is no longer reachable.
func (s *Store[K, V]) Put(key K, value V) error {
	if err := s.Err(); err != nil {
		return err
	}

	data, err := s.valueCodec.Marshal(value)
	if err != nil {
		return fmt.Errorf("cannot encode value: %w", err)
	}

	s.lk.Lock()
	defer s.lk.Unlock()

	if !s.open {
		return types.ErrClosedStore
	}

	blk, err := s.primary.Put(data)
	if err != nil {
		return err
	}
	if prev, replaced := s.index.Put(key, blk.Offset); replaced {
		s.freelist.Put(prev)
	}
	s.cache.Invalidate(key)
	s.buffer.StageWrite(key, value)
	s.checkBuffer()
	return nil
}

// Remove deletes key from the store. It returns false if the key was not
// present.
func (s *Store[K, V]) Remove(key K) (bool, error) {
	if err := s.Err(); err != nil {
		return false, err
	}

	s.lk.Lock()
	defer s.lk.Unlock()

	if !s.open {
		return false, types.ErrClosedStore
	}

	pos, found := s.index.Remove(key)
	if !found {
		return false, nil
	}
	s.freelist.Put(pos)
	s.cache.Invalidate(key)
	s.buffer.StageDelete(key)
	s.checkBuffer()
	return true, nil
}

// checkBuffer resets the staging buffers and the value cache once a buffer
// limit is exceeded. Must be called with s.lk held exclusively.
//
// The mutation that triggered the check has already been applied, so a failed
// flush is logged and the buffers are kept. Staged values keep being served
// from the buffer and the reset is retried by the next mutation.
func (s *Store[K, V]) checkBuffer() {
	if !s.buffer.Exceeded() {
		return
	}
	writes, deletes := s.buffer.Len()
	// Values are no longer served from the buffer after the reset, so their
	// records must be readable from the log file.
	if _, err := s.primary.Flush(); err != nil {
		log.Errorw("Buffer reset postponed, value log flush failed", "dir", s.dir, "writes", writes, "deletes", deletes, "err", err)
		return
	}
	s.buffer.Reset()
	s.cache.Clear()
	log.Debugw("Reset write buffers", "dir", s.dir, "writes", writes, "deletes", deletes)
}

// Has reports whether key is present in the store.
func (s *Store[K, V]) Has(key K) (bool, error) {
	s.lk.RLock()
	defer s.lk.RUnlock()

	if !s.open {
		return false, types.ErrClosedStore
	}
	_, found := s.index.Get(key)
	return found, nil
}

// Len returns the number of keys in the store.
func (s *Store[K, V]) Len() (int, error) {
	s.lk.RLock()
	defer s.lk.RUnlock()

	if !s.open {
		return 0, types.ErrClosedStore
	}
	return s.index.Len(), nil
}

// Keys returns an iterator over the keys present at the time of the call.
// Later changes to the store are not visible to the iterator.
func (s *Store[K, V]) Keys() (*KeyIter[K], error) {
	s.lk.RLock()
	defer s.lk.RUnlock()

	if !s.open {
		return nil, types.ErrClosedStore
	}
	return &KeyIter[K]{keys: s.index.Keys()}, nil
}

// KeyIter iterates over a snapshot of the store's keys.
type KeyIter[K comparable] struct {
	keys []K
	pos  int
}

// Next returns the next key, or io.EOF when all keys have been returned.
func (it *KeyIter[K]) Next() (K, error) {
	if it.pos >= len(it.keys) {
		var zero K
		return zero, io.EOF
	}
	k := it.keys[it.pos]
	it.pos++
	return k, nil
}

// Reset restarts the iteration from the first key.
func (it *KeyIter[K]) Reset() {
	it.pos = 0
}

// Len returns the number of keys in the snapshot.
func (it *KeyIter[K]) Len() int {
	return len(it.keys)
}

// Flush writes buffered value log and freelist data to their files and syncs
// them to permanent storage. It does not persist the index.
func (s *Store[K, V]) Flush() error {
	s.lk.RLock()
	defer s.lk.RUnlock()

	if !s.open {
		return types.ErrClosedStore
	}
	if _, err := s.primary.Flush(); err != nil {
		return err
	}
	if _, err := s.freelist.Flush(); err != nil {
		return err
	}
	if err := s.primary.Sync(); err != nil {
		return err
	}
	return s.freelist.Sync()
}

// Close stops the background flush, closes the value log and persists the
// index and header. Every later operation fails with types.ErrClosedStore.
func (s *Store[K, V]) Close() error {
	s.stateLk.Lock()
	running := s.running
	s.running = false
	s.stopped = true
	s.stateLk.Unlock()

	if running {
		close(s.closing)
		<-s.closed
	}

	s.lk.Lock()
	defer s.lk.Unlock()

	if !s.open {
		return types.ErrClosedStore
	}
	s.open = false
	keys := s.index.Len()

	// The index is only persisted if every record it refers to reached the
	// log file.
	err := s.primary.Close()
	if err == nil {
		err = s.index.Persist()
	} else {
		log.Errorw("Index not persisted, value log close failed", "dir", s.dir, "err", err)
	}
	err = multierr.Append(err, s.freelist.Close())

	s.buffer.Reset()
	s.cache.Clear()

	if err != nil {
		return err
	}
	log.Infow("Closed store", "dir", s.dir, "keys", keys)
	return nil
}

// Stats describes the contents and disk usage of a store.
type Stats struct {
	Keys           int
	StagedWrites   int
	StagedDeletes  int
	CachedValues   int
	GarbageRecords int64
	ValueLogSize   int64
	IndexSize      int64
	FreeListSize   int64
}

// Stats returns current statistics of the store.
func (s *Store[K, V]) Stats() (Stats, error) {
	s.lk.RLock()
	defer s.lk.RUnlock()

	if !s.open {
		return Stats{}, types.ErrClosedStore
	}

	st := Stats{
		Keys:           s.index.Len(),
		CachedValues:   s.cache.Len(),
		GarbageRecords: s.freelist.Len(),
	}
	st.StagedWrites, st.StagedDeletes = s.buffer.Len()

	var err error
	if st.ValueLogSize, err = s.primary.StorageSize(); err != nil {
		return Stats{}, err
	}
	if st.IndexSize, err = s.index.StorageSize(); err != nil {
		return Stats{}, err
	}
	if st.FreeListSize, err = s.freelist.StorageSize(); err != nil {
		return Stats{}, err
	}
	return st, nil
}
