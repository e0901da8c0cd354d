// Package freelist records the value log records that are no longer
// reachable from the index because their key was overwritten or deleted.
// The value log is never compacted; the freelist only accounts for the space
// a compaction could reclaim.
//
// The freelist file is a sequence of 8-byte little-endian value log offsets.
package freelist

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"

	logging "github.com/ipfs/go-log/v2"
	"github.com/ipld/go-kvstore/store/types"
)

var log = logging.Logger("kvstore/freelist")

const (
	// blockBufferSize is the size of I/O buffers. It has the same size as the
	// linux pipe size.
	blockBufferSize = 16 * 4096
	// blockPoolSize is the initial capacity of the pending offsets pool.
	blockPoolSize = 1024
)

// FreeList is an append-only list of unreachable value log offsets.
type FreeList struct {
	file            *os.File
	writer          *bufio.Writer
	outstandingWork types.Work
	pool            []types.Position
	count           int64
	poolLk          sync.RWMutex
	flushLock       sync.Mutex
}

// Open opens the freelist at path, creating it if needed. A trailing partial
// entry left by an interrupted write is truncated.
func Open(path string) (*FreeList, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return nil, &types.ErrIOFailure{Op: "open freelist", Err: err}
	}
	fi, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, &types.ErrIOFailure{Op: "stat freelist", Err: err}
	}
	size := fi.Size()
	if rem := size % types.OffBytesLen; rem != 0 {
		log.Warnw("Truncating partial freelist entry", "path", path, "bytes", rem)
		size -= rem
		if err = file.Truncate(size); err != nil {
			file.Close()
			return nil, &types.ErrIOFailure{Op: "truncate freelist", Err: err}
		}
	}
	return &FreeList{
		file:   file,
		writer: bufio.NewWriterSize(file, blockBufferSize),
		pool:   make([]types.Position, 0, blockPoolSize),
		count:  size / types.OffBytesLen,
	}, nil
}

// Put records that the value log record at offset is unreachable.
func (fl *FreeList) Put(offset types.Position) {
	fl.poolLk.Lock()
	defer fl.poolLk.Unlock()
	fl.pool = append(fl.pool, offset)
	fl.count++
	fl.outstandingWork += types.OffBytesLen
}

// Len returns the number of unreachable records, flushed or not.
func (fl *FreeList) Len() int64 {
	fl.poolLk.RLock()
	defer fl.poolLk.RUnlock()
	return fl.count
}

// Flush writes pending offsets to the freelist file.
func (fl *FreeList) Flush() (types.Work, error) {
	fl.flushLock.Lock()
	defer fl.flushLock.Unlock()

	fl.poolLk.Lock()
	if len(fl.pool) == 0 {
		fl.poolLk.Unlock()
		return 0, nil
	}
	pending := fl.pool
	fl.pool = make([]types.Position, 0, blockPoolSize)
	fl.outstandingWork = 0
	fl.poolLk.Unlock()

	// The pool lock is released allowing Put to continue. The flushLock is
	// still held, preventing concurrent flushes from using the writer.

	var buf [types.OffBytesLen]byte
	for _, offset := range pending {
		binary.LittleEndian.PutUint64(buf[:], uint64(offset))
		if _, err := fl.writer.Write(buf[:]); err != nil {
			return 0, &types.ErrIOFailure{Op: "write freelist", Err: err}
		}
	}
	if err := fl.writer.Flush(); err != nil {
		return 0, &types.ErrIOFailure{
			Op:  fmt.Sprintf("flush freelist %s", fl.file.Name()),
			Err: err,
		}
	}
	return types.Work(len(pending) * types.OffBytesLen), nil
}

// Sync commits the contents of the freelist file to disk. Flush should be
// called before calling Sync.
func (fl *FreeList) Sync() error {
	if err := fl.file.Sync(); err != nil {
		return &types.ErrIOFailure{Op: "sync freelist", Err: err}
	}
	return nil
}

// Close calls Flush to write pending offsets, and then closes the file.
func (fl *FreeList) Close() error {
	_, err := fl.Flush()
	if err != nil {
		fl.file.Close()
		return err
	}
	if err = fl.file.Close(); err != nil {
		return &types.ErrIOFailure{Op: "close freelist", Err: err}
	}
	return nil
}

func (fl *FreeList) OutstandingWork() types.Work {
	fl.poolLk.RLock()
	defer fl.poolLk.RUnlock()
	return fl.outstandingWork
}

// StorageSize returns bytes of storage used by the freelist.
func (fl *FreeList) StorageSize() (int64, error) {
	fi, err := fl.file.Stat()
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	return fi.Size(), nil
}

// Iter returns an iterator over the flushed offsets.
func (fl *FreeList) Iter() (*Iterator, error) {
	if _, err := fl.Flush(); err != nil {
		return nil, err
	}
	return NewIterator(fl.file), nil
}

// NewIterator returns an iterator over a freelist file.
func NewIterator(reader io.ReaderAt) *Iterator {
	return &Iterator{reader: reader}
}

type Iterator struct {
	reader io.ReaderAt
	pos    int64
}

// Next returns the next unreachable offset, or io.EOF when done.
func (iter *Iterator) Next() (types.Position, error) {
	var buf [types.OffBytesLen]byte
	n, err := iter.reader.ReadAt(buf[:], iter.pos)
	if n < len(buf) {
		if err == nil || err == io.EOF {
			return 0, io.EOF
		}
		return 0, err
	}
	iter.pos += types.OffBytesLen
	return types.Position(binary.LittleEndian.Uint64(buf[:])), nil
}
