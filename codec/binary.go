package codec

import (
	"github.com/viant/bintly"
)

var (
	writers = bintly.NewWriters()
	readers = bintly.NewReaders()
)

// BinaryValue is implemented by pointers to types that encode themselves to
// a bintly stream.
type BinaryValue[T any] interface {
	*T
	bintly.Encoder
	bintly.Decoder
}

// Binary returns a codec for struct types that implement bintly's
// EncodeBinary and DecodeBinary on their pointer receiver.
//
//	var students = codec.Binary[Student]("Student")
func Binary[T any, PT BinaryValue[T]](tag string) Codec[T] {
	return binaryCodec[T, PT]{tag: tag}
}

type binaryCodec[T any, PT BinaryValue[T]] struct {
	tag string
}

func (c binaryCodec[T, PT]) Marshal(v T) ([]byte, error) {
	w := writers.Get()
	defer writers.Put(w)
	if err := PT(&v).EncodeBinary(w); err != nil {
		return nil, err
	}
	bs := w.Bytes()
	out := make([]byte, len(bs))
	copy(out, bs)
	return out, nil
}

func (c binaryCodec[T, PT]) Unmarshal(data []byte) (T, error) {
	var v T
	r := readers.Get()
	defer readers.Put(r)
	if err := r.FromBytes(data); err != nil {
		return v, err
	}
	if err := PT(&v).DecodeBinary(r); err != nil {
		return v, err
	}
	return v, nil
}

func (c binaryCodec[T, PT]) TypeTag() string { return "Binary(" + c.tag + ")" }
