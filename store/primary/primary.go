package primary

import "github.com/ipld/go-kvstore/store/types"

// PrimaryStorage is the interface the store uses to append and read values.
// ValueLog is the on-disk implementation.
type PrimaryStorage interface {
	Put(value []byte) (types.Block, error)
	Get(offset types.Position) ([]byte, error)
	Flush() (types.Work, error)
	Sync() error
	Close() error
	OutstandingWork() types.Work
	Length() types.Position
	StorageSize() (int64, error)
}

var _ PrimaryStorage = &ValueLog{}
