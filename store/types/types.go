package types

// Position indicates a position in a file
type Position uint64

// Size is the size of a record in the value log, excluding the record header.
type Size uint32

// Work is the amount of buffered data waiting to be written.
type Work uint64

// Block is the location of a record in the value log.
type Block struct {
	Offset Position
	Size   Size
}

const (
	// OffBytesLen is the number of bytes used to persist a Position.
	OffBytesLen = 8
	// SizeBytesLen is the number of bytes used to persist a Size.
	SizeBytesLen = 4
)
