// Package index keeps the in-memory offset index that maps each key to the
// position of its value in the value log, and persists it on close.
//
// Two files are written by Persist. The header file holds JSON:
//
//	{"version":1,"typeTag":"String : String"}
//
// The key index file holds:
//
//	|  4 bytes  | Variable |  4 bytes  |              Repeated                 |
//	| Tag size  |   Tag    |   Count   | Key size | Key | 8 byte value offset |
//
// All integers are little-endian.
package index

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	logging "github.com/ipfs/go-log/v2"
	"github.com/ipld/go-kvstore/codec"
	"github.com/ipld/go-kvstore/store/types"
)

var log = logging.Logger("kvstore/index")

const (
	// IndexVersion is stored in the header to indicate how to interpret the
	// key index file.
	IndexVersion = 1

	HeaderFileName = "kvstore.info"
	KeysFileName   = "kvstore.keys"

	// sizePrefixSize is the number of bytes used for the size prefix of the
	// tag and of each key.
	sizePrefixSize = 4
	countSize      = 4

	indexBufferSize = 32 * 4096
)

// Header is the header of the index.
type Header struct {
	// A version number in case we change the header
	Version int `json:"version"`
	// Identifies the key and value codecs the store was created with
	TypeTag string `json:"typeTag"`
}

func NewHeader(typeTag string) Header {
	return Header{
		Version: IndexVersion,
		TypeTag: typeTag,
	}
}

// Index maps keys to value log positions. A key is present in the store if
// and only if it is present in the index.
//
// Index is not safe for concurrent use; the store serializes access to it.
type Index[K comparable] struct {
	headerPath string
	keysPath   string
	keyCodec   codec.Codec[K]
	typeTag    string
	created    bool
	offsets    map[K]types.Position
}

// Open loads the index stored in dir, or returns a new empty index if no
// header exists. An existing header whose tag differs from typeTag results in
// ErrTypeMismatch, and a truncated or malformed key index in
// ErrCorruptIndex. When an error is returned nothing has been loaded.
func Open[K comparable](dir string, keyCodec codec.Codec[K], typeTag string) (*Index[K], error) {
	idx := &Index[K]{
		headerPath: filepath.Join(dir, HeaderFileName),
		keysPath:   filepath.Join(dir, KeysFileName),
		keyCodec:   keyCodec,
		typeTag:    typeTag,
		offsets:    make(map[K]types.Position),
	}

	header, err := readHeader(idx.headerPath)
	if os.IsNotExist(err) {
		idx.created = true
		return idx, nil
	}
	if err != nil {
		var corrupt *types.ErrCorruptIndex
		if !errors.As(err, &corrupt) {
			err = &types.ErrIOFailure{Op: "read index header", Err: err}
		}
		return nil, err
	}
	if header.Version != IndexVersion {
		return nil, &types.ErrCorruptIndex{
			Path: idx.headerPath,
			Err:  fmt.Errorf("unsupported index version %d", header.Version),
		}
	}
	if header.TypeTag != typeTag {
		return nil, types.ErrTypeMismatch{Stored: header.TypeTag, Expected: typeTag}
	}

	offsets, err := loadKeys(idx.keysPath, keyCodec, typeTag)
	if err != nil {
		return nil, err
	}
	idx.offsets = offsets
	log.Debugw("Loaded key index", "path", idx.keysPath, "keys", len(offsets))
	return idx, nil
}

func loadKeys[K comparable](path string, keyCodec codec.Codec[K], typeTag string) (map[K]types.Position, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &types.ErrCorruptIndex{Path: path, Err: err}
		}
		return nil, &types.ErrIOFailure{Op: "open key index", Err: err}
	}
	defer file.Close()

	fi, err := file.Stat()
	if err != nil {
		return nil, &types.ErrIOFailure{Op: "stat key index", Err: err}
	}

	r := &limitedReader{
		reader:    bufio.NewReaderSize(file, indexBufferSize),
		remaining: fi.Size(),
	}
	corrupt := func(err error) error {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return &types.ErrCorruptIndex{Path: path, Err: err}
	}

	storedTag, err := r.readSized()
	if err != nil {
		return nil, corrupt(err)
	}
	if string(storedTag) != typeTag {
		return nil, types.ErrTypeMismatch{Stored: string(storedTag), Expected: typeTag}
	}

	count, err := r.readUint32()
	if err != nil {
		return nil, corrupt(err)
	}
	// Each entry takes at least its size prefix and offset.
	if int64(count)*(sizePrefixSize+types.OffBytesLen) > r.remaining {
		return nil, corrupt(fmt.Errorf("index claims %d keys but only %d bytes remain", count, r.remaining))
	}

	offsets := make(map[K]types.Position, count)
	for i := uint32(0); i < count; i++ {
		data, err := r.readSized()
		if err != nil {
			return nil, corrupt(err)
		}
		key, err := keyCodec.Unmarshal(data)
		if err != nil {
			return nil, corrupt(fmt.Errorf("cannot decode key %d: %w", i, err))
		}
		offset, err := r.readUint64()
		if err != nil {
			return nil, corrupt(err)
		}
		offsets[key] = types.Position(offset)
	}
	if r.remaining != 0 {
		return nil, corrupt(fmt.Errorf("%d unexpected bytes after %d keys", r.remaining, count))
	}
	return offsets, nil
}

// limitedReader reads size-prefixed fields while tracking how many bytes of
// the file are left, so a bad size prefix cannot trigger a huge allocation.
type limitedReader struct {
	reader    *bufio.Reader
	remaining int64
}

func (r *limitedReader) readFull(buf []byte) error {
	if int64(len(buf)) > r.remaining {
		return io.ErrUnexpectedEOF
	}
	if _, err := io.ReadFull(r.reader, buf); err != nil {
		return err
	}
	r.remaining -= int64(len(buf))
	return nil
}

func (r *limitedReader) readUint32() (uint32, error) {
	var buf [4]byte
	if err := r.readFull(buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

func (r *limitedReader) readUint64() (uint64, error) {
	var buf [8]byte
	if err := r.readFull(buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

func (r *limitedReader) readSized() ([]byte, error) {
	size, err := r.readUint32()
	if err != nil {
		return nil, err
	}
	data := make([]byte, size)
	if err = r.readFull(data); err != nil {
		return nil, err
	}
	return data, nil
}

// Created reports whether the index was created empty because no header
// existed in the directory.
func (i *Index[K]) Created() bool {
	return i.created
}

// TypeTag returns the tag of the codecs the index was opened with.
func (i *Index[K]) TypeTag() string {
	return i.typeTag
}

// Get returns the value log position of key.
func (i *Index[K]) Get(key K) (types.Position, bool) {
	pos, ok := i.offsets[key]
	return pos, ok
}

// Put records the position of key, returning the position it replaced.
func (i *Index[K]) Put(key K, pos types.Position) (types.Position, bool) {
	prev, ok := i.offsets[key]
	i.offsets[key] = pos
	return prev, ok
}

// Remove deletes key from the index, returning its last position.
func (i *Index[K]) Remove(key K) (types.Position, bool) {
	pos, ok := i.offsets[key]
	if ok {
		delete(i.offsets, key)
	}
	return pos, ok
}

// Len returns the number of keys in the index.
func (i *Index[K]) Len() int {
	return len(i.offsets)
}

// Keys returns a snapshot of all keys in the index, in no particular order.
func (i *Index[K]) Keys() []K {
	keys := make([]K, 0, len(i.offsets))
	for k := range i.offsets {
		keys = append(keys, k)
	}
	return keys
}

// CheckBounds verifies that no indexed position lies at or beyond end, the
// length of the value log.
func (i *Index[K]) CheckBounds(end types.Position) error {
	for _, pos := range i.offsets {
		if pos >= end {
			return &types.ErrCorruptIndex{
				Path: i.keysPath,
				Err:  fmt.Errorf("offset %d beyond value log length %d", pos, end),
			}
		}
	}
	return nil
}

// Persist writes the key index and header files, then clears the in-memory
// index. The index must be reopened to be used again.
func (i *Index[K]) Persist() error {
	if uint64(len(i.offsets)) > math.MaxUint32 {
		return fmt.Errorf("too many keys to persist: %d", len(i.offsets))
	}
	if err := i.writeKeys(); err != nil {
		return err
	}
	if err := writeHeader(i.headerPath, NewHeader(i.typeTag)); err != nil {
		return &types.ErrIOFailure{Op: "write index header", Err: err}
	}
	log.Debugw("Persisted key index", "path", i.keysPath, "keys", len(i.offsets))
	i.offsets = make(map[K]types.Position)
	return nil
}

func (i *Index[K]) writeKeys() error {
	tmpPath := i.keysPath + ".tmp"
	file, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return &types.ErrIOFailure{Op: "create key index", Err: err}
	}
	fail := func(err error) error {
		file.Close()
		os.Remove(tmpPath)
		return &types.ErrIOFailure{Op: "write key index", Err: err}
	}

	w := bufio.NewWriterSize(file, indexBufferSize)
	var scratch [8]byte
	writeSized := func(data []byte) error {
		binary.LittleEndian.PutUint32(scratch[:4], uint32(len(data)))
		if _, err := w.Write(scratch[:4]); err != nil {
			return err
		}
		_, err := w.Write(data)
		return err
	}

	if err = writeSized([]byte(i.typeTag)); err != nil {
		return fail(err)
	}
	binary.LittleEndian.PutUint32(scratch[:4], uint32(len(i.offsets)))
	if _, err = w.Write(scratch[:4]); err != nil {
		return fail(err)
	}
	for key, pos := range i.offsets {
		data, err := i.keyCodec.Marshal(key)
		if err != nil {
			return fail(fmt.Errorf("cannot encode key: %w", err))
		}
		if uint64(len(data)) > math.MaxUint32 {
			return fail(fmt.Errorf("key of %d bytes is too large", len(data)))
		}
		if err = writeSized(data); err != nil {
			return fail(err)
		}
		binary.LittleEndian.PutUint64(scratch[:], uint64(pos))
		if _, err = w.Write(scratch[:]); err != nil {
			return fail(err)
		}
	}
	if err = w.Flush(); err != nil {
		return fail(err)
	}
	if err = file.Sync(); err != nil {
		return fail(err)
	}
	if err = file.Close(); err != nil {
		os.Remove(tmpPath)
		return &types.ErrIOFailure{Op: "close key index", Err: err}
	}
	if err = os.Rename(tmpPath, i.keysPath); err != nil {
		return &types.ErrIOFailure{Op: "rename key index", Err: err}
	}
	return nil
}

// StorageSize returns the bytes used by the header and key index files.
func (i *Index[K]) StorageSize() (int64, error) {
	var size int64
	for _, path := range []string{i.headerPath, i.keysPath} {
		fi, err := os.Stat(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return 0, err
		}
		size += fi.Size()
	}
	return size, nil
}

func readHeader(filePath string) (Header, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return Header{}, err
	}

	var header Header
	err = json.Unmarshal(data, &header)
	if err != nil {
		return Header{}, &types.ErrCorruptIndex{Path: filePath, Err: err}
	}

	return header, nil
}

// ReadHeader reads the header stored in dir without loading the index.
func ReadHeader(dir string) (Header, error) {
	return readHeader(filepath.Join(dir, HeaderFileName))
}

func writeHeader(headerPath string, header Header) error {
	data, err := json.Marshal(&header)
	if err != nil {
		return err
	}

	tmpPath := headerPath + ".tmp"
	if err = os.WriteFile(tmpPath, data, 0o666); err != nil {
		return err
	}
	return os.Rename(tmpPath, headerPath)
}
