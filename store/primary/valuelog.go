// Package primary implements the value log, the append-only file that is the
// only place values are physically stored.
//
// The format of the log is:
//
//	|                        Repeated                        |
//	|     4 bytes    |      8 bytes      |  Variable size | … |
//	| Size of value  | HighwayHash-64    |     Value      | … |
//
// A record is addressed by the offset of its size prefix. Records are never
// rewritten or removed.
package primary

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sync"

	logging "github.com/ipfs/go-log/v2"
	"github.com/ipld/go-kvstore/store/types"
	"github.com/minio/highwayhash"
)

var log = logging.Logger("kvstore/primary")

const (
	// sizePrefixSize is the number of bytes used for the size prefix of a
	// record.
	sizePrefixSize = 4
	// checksumSize is the number of bytes used for the record checksum.
	checksumSize = 8
	// RecordHeaderSize is the number of bytes preceding each value.
	RecordHeaderSize = sizePrefixSize + checksumSize

	// blockBufferSize is the size of the value log write buffer. It has the
	// same size as the linux pipe size.
	blockBufferSize = 16 * 4096
)

// checksumKey is the fixed HighwayHash key. Checksums detect torn or
// misaddressed reads, they are not a security measure.
var checksumKey = []byte("kvstore-value-log-checksum-key-1")

// ValueLog is an append-only log of values.
type ValueLog struct {
	file   *os.File
	writer *bufio.Writer

	lk              sync.Mutex
	length          types.Position // end of the log, including buffered records
	outstandingWork types.Work
	closed          bool
}

// Open opens the value log at path, creating it if it does not exist. New
// records are appended after any existing data.
func Open(path string) (*ValueLog, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return nil, &types.ErrIOFailure{Op: "open value log", Err: err}
	}
	length, err := file.Seek(0, io.SeekEnd)
	if err != nil {
		file.Close()
		return nil, &types.ErrIOFailure{Op: "open value log", Err: err}
	}
	return &ValueLog{
		file:   file,
		writer: bufio.NewWriterSize(file, blockBufferSize),
		length: types.Position(length),
	}, nil
}

// Put appends one value to the end of the log and returns the location of
// the new record.
func (vl *ValueLog) Put(value []byte) (types.Block, error) {
	if uint64(len(value)) > math.MaxUint32 {
		return types.Block{}, fmt.Errorf("value of %d bytes is too large for value log", len(value))
	}

	var header [RecordHeaderSize]byte
	binary.LittleEndian.PutUint32(header[:sizePrefixSize], uint32(len(value)))
	binary.LittleEndian.PutUint64(header[sizePrefixSize:], highwayhash.Sum64(value, checksumKey))

	vl.lk.Lock()
	defer vl.lk.Unlock()

	if vl.closed {
		return types.Block{}, types.ErrClosedStore
	}

	blk := types.Block{Offset: vl.length, Size: types.Size(len(value))}
	if _, err := vl.writer.Write(header[:]); err != nil {
		return types.Block{}, &types.ErrIOFailure{Op: "append to value log", Err: err}
	}
	if _, err := vl.writer.Write(value); err != nil {
		return types.Block{}, &types.ErrIOFailure{Op: "append to value log", Err: err}
	}

	work := types.Work(RecordHeaderSize + len(value))
	vl.length += types.Position(work)
	vl.outstandingWork += work
	return blk, nil
}

// Get reads the value of the record that starts at offset.
func (vl *ValueLog) Get(offset types.Position) ([]byte, error) {
	vl.lk.Lock()
	if vl.closed {
		vl.lk.Unlock()
		return nil, types.ErrClosedStore
	}
	if offset+RecordHeaderSize > vl.length {
		vl.lk.Unlock()
		return nil, &types.ErrIOFailure{
			Op:  fmt.Sprintf("read value log at %d", offset),
			Err: types.ErrOutOfBounds,
		}
	}
	// A record may still be sitting in the write buffer.
	if vl.writer.Buffered() != 0 {
		if _, err := vl.flush(); err != nil {
			vl.lk.Unlock()
			return nil, err
		}
	}
	vl.lk.Unlock()

	_, value, err := readRecord(vl.file, int64(offset))
	if err != nil {
		return nil, &types.ErrIOFailure{Op: fmt.Sprintf("read value log at %d", offset), Err: err}
	}
	return value, nil
}

func readRecord(r io.ReaderAt, pos int64) (types.Size, []byte, error) {
	var header [RecordHeaderSize]byte
	if _, err := r.ReadAt(header[:], pos); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return 0, nil, err
	}
	size := binary.LittleEndian.Uint32(header[:sizePrefixSize])
	sum := binary.LittleEndian.Uint64(header[sizePrefixSize:])

	value := make([]byte, size)
	if _, err := r.ReadAt(value, pos+RecordHeaderSize); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return 0, nil, err
	}
	if highwayhash.Sum64(value, checksumKey) != sum {
		return 0, nil, types.ErrChecksum
	}
	return types.Size(size), value, nil
}

// flush must be called with vl.lk held.
func (vl *ValueLog) flush() (types.Work, error) {
	if vl.writer.Buffered() == 0 && vl.outstandingWork == 0 {
		return 0, nil
	}
	if err := vl.writer.Flush(); err != nil {
		return 0, &types.ErrIOFailure{
			Op:  "flush value log " + vl.file.Name(),
			Err: err,
		}
	}
	work := vl.outstandingWork
	vl.outstandingWork = 0
	return work, nil
}

// Flush writes buffered records to the value log file.
func (vl *ValueLog) Flush() (types.Work, error) {
	vl.lk.Lock()
	defer vl.lk.Unlock()
	if vl.closed {
		return 0, types.ErrClosedStore
	}
	return vl.flush()
}

// Sync commits the contents of the value log file to disk. Flush should be
// called before calling Sync.
func (vl *ValueLog) Sync() error {
	vl.lk.Lock()
	defer vl.lk.Unlock()
	if vl.closed {
		return types.ErrClosedStore
	}
	if err := vl.file.Sync(); err != nil {
		return &types.ErrIOFailure{Op: "sync value log", Err: err}
	}
	return nil
}

// Close flushes buffered records and closes the value log file. The file
// handle is released exactly once; later calls return ErrClosedStore.
func (vl *ValueLog) Close() error {
	vl.lk.Lock()
	defer vl.lk.Unlock()
	if vl.closed {
		return types.ErrClosedStore
	}
	vl.closed = true

	_, err := vl.flush()
	if err != nil {
		log.Errorw("Cannot flush value log before close", "path", vl.file.Name(), "err", err)
		vl.file.Close()
		return err
	}
	if err = vl.file.Close(); err != nil {
		return &types.ErrIOFailure{Op: "close value log", Err: err}
	}
	return nil
}

// OutstandingWork returns the number of bytes appended but not yet flushed.
func (vl *ValueLog) OutstandingWork() types.Work {
	vl.lk.Lock()
	defer vl.lk.Unlock()
	return vl.outstandingWork
}

// Length returns the logical size of the log, including buffered records.
func (vl *ValueLog) Length() types.Position {
	vl.lk.Lock()
	defer vl.lk.Unlock()
	return vl.length
}

// StorageSize returns bytes of storage used by the value log file.
func (vl *ValueLog) StorageSize() (int64, error) {
	fi, err := vl.file.Stat()
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

// Iter returns an iterator over the records flushed so far.
func (vl *ValueLog) Iter() (*Iterator, error) {
	if _, err := vl.Flush(); err != nil {
		return nil, err
	}
	return NewIterator(vl.file), nil
}

// Iterator reads value log records in the order they were appended.
type Iterator struct {
	reader io.ReaderAt
	pos    types.Position
}

// NewIterator returns an Iterator that starts at the beginning of reader.
func NewIterator(reader io.ReaderAt) *Iterator {
	return &Iterator{reader: reader}
}

// Next returns the location and value of the next record. It returns io.EOF
// after the last record and io.ErrUnexpectedEOF if the log ends within a
// record.
func (iter *Iterator) Next() (types.Block, []byte, error) {
	var probe [1]byte
	if _, err := iter.reader.ReadAt(probe[:], int64(iter.pos)); err != nil {
		if errors.Is(err, io.EOF) {
			return types.Block{}, nil, io.EOF
		}
		return types.Block{}, nil, err
	}
	size, value, err := readRecord(iter.reader, int64(iter.pos))
	if err != nil {
		return types.Block{}, nil, err
	}
	blk := types.Block{Offset: iter.pos, Size: size}
	iter.pos += RecordHeaderSize + types.Position(size)
	return blk, value, nil
}
