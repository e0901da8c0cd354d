// Package codec provides the serialization strategies used by the store to
// convert keys and values to and from bytes.
//
// The type tag of a codec is recorded in the store header when a store is
// created. Reopening a store with codecs that produce a different tag fails,
// so a tag must stay stable for as long as data written with it is kept.
package codec

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
)

// Codec converts a value of type T to bytes and back.
type Codec[T any] interface {
	// Marshal returns the serialized form of v.
	Marshal(v T) ([]byte, error)
	// Unmarshal parses data produced by Marshal. All of data must be
	// consumed.
	Unmarshal(data []byte) (T, error)
	// TypeTag identifies the serialized format.
	TypeTag() string
}

// ErrWrongSize is returned when fixed size data has an unexpected length.
type ErrWrongSize struct {
	Tag      string
	Expected int
	Actual   int
}

func (e ErrWrongSize) Error() string {
	return fmt.Sprintf("%s: expected %d bytes, got %d", e.Tag, e.Expected, e.Actual)
}

var (
	String  Codec[string]  = stringCodec{}
	Bytes   Codec[[]byte]  = bytesCodec{}
	Int32   Codec[int32]   = int32Codec{}
	Int64   Codec[int64]   = int64Codec{}
	Float64 Codec[float64] = float64Codec{}
	Bool    Codec[bool]    = boolCodec{}
)

type stringCodec struct{}

func (stringCodec) Marshal(v string) ([]byte, error) { return []byte(v), nil }

func (stringCodec) Unmarshal(data []byte) (string, error) { return string(data), nil }

func (stringCodec) TypeTag() string { return "String" }

type bytesCodec struct{}

func (bytesCodec) Marshal(v []byte) ([]byte, error) { return v, nil }

func (bytesCodec) Unmarshal(data []byte) ([]byte, error) {
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (bytesCodec) TypeTag() string { return "Bytes" }

type int32Codec struct{}

func (int32Codec) Marshal(v int32) ([]byte, error) {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, uint32(v))
	return buf, nil
}

func (c int32Codec) Unmarshal(data []byte) (int32, error) {
	if len(data) != 4 {
		return 0, ErrWrongSize{c.TypeTag(), 4, len(data)}
	}
	return int32(binary.LittleEndian.Uint32(data)), nil
}

func (int32Codec) TypeTag() string { return "Int32" }

type int64Codec struct{}

func (int64Codec) Marshal(v int64) ([]byte, error) {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, uint64(v))
	return buf, nil
}

func (c int64Codec) Unmarshal(data []byte) (int64, error) {
	if len(data) != 8 {
		return 0, ErrWrongSize{c.TypeTag(), 8, len(data)}
	}
	return int64(binary.LittleEndian.Uint64(data)), nil
}

func (int64Codec) TypeTag() string { return "Int64" }

type float64Codec struct{}

func (float64Codec) Marshal(v float64) ([]byte, error) {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, math.Float64bits(v))
	return buf, nil
}

func (c float64Codec) Unmarshal(data []byte) (float64, error) {
	if len(data) != 8 {
		return 0, ErrWrongSize{c.TypeTag(), 8, len(data)}
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(data)), nil
}

func (float64Codec) TypeTag() string { return "Float64" }

type boolCodec struct{}

func (boolCodec) Marshal(v bool) ([]byte, error) {
	if v {
		return []byte{1}, nil
	}
	return []byte{0}, nil
}

func (c boolCodec) Unmarshal(data []byte) (bool, error) {
	if len(data) != 1 {
		return false, ErrWrongSize{c.TypeTag(), 1, len(data)}
	}
	return data[0] != 0, nil
}

func (boolCodec) TypeTag() string { return "Bool" }

// JSON returns a codec that stores values as JSON. The tag names the
// type of T and becomes part of the store header.
func JSON[T any](tag string) Codec[T] {
	return jsonCodec[T]{tag: tag}
}

type jsonCodec[T any] struct {
	tag string
}

func (c jsonCodec[T]) Marshal(v T) ([]byte, error) {
	return json.Marshal(v)
}

func (c jsonCodec[T]) Unmarshal(data []byte) (T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("cannot decode %s: %w", c.tag, err)
	}
	return v, nil
}

func (c jsonCodec[T]) TypeTag() string { return "JSON(" + c.tag + ")" }
