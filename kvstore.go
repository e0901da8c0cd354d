// Package kvstore is an embedded key-value store built from an append-only
// value log and an in-memory offset index. The generic store lives in the
// store package; this package adapts it to an IPFS blockstore.
package kvstore

import (
	"context"

	blocks "github.com/ipfs/go-block-format"
	"github.com/ipfs/go-cid"
	bstore "github.com/ipfs/go-ipfs-blockstore"
	ipld "github.com/ipfs/go-ipld-format"
	"github.com/ipld/go-kvstore/codec"
	"github.com/ipld/go-kvstore/store"
	"github.com/ipld/go-kvstore/store/types"
)

// Blockstore is a blockstore that keeps blocks in a Store keyed by CID.
type Blockstore struct {
	store      *store.Store[cid.Cid, []byte]
	hashOnRead bool
}

// OpenBlockstore opens the Blockstore kept in dir.
func OpenBlockstore(dir string, options ...store.Option) (*Blockstore, error) {
	s, err := store.Open(dir, codec.Cid, codec.Bytes, options...)
	if err != nil {
		return nil, err
	}
	return &Blockstore{store: s}, nil
}

// DeleteBlock removes a block from the blockstore
func (bs *Blockstore) DeleteBlock(ctx context.Context, c cid.Cid) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	_, err := bs.store.Remove(c)
	return err
}

// Has indicates if a block is present in a block store
func (bs *Blockstore) Has(ctx context.Context, c cid.Cid) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	return bs.store.Has(c)
}

// Get returns a block
func (bs *Blockstore) Get(ctx context.Context, c cid.Cid) (blocks.Block, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	value, found, err := bs.store.Get(c)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ipld.ErrNotFound{Cid: c}
	}
	// if hash on read is enabled, rehash and compare blocks
	if bs.hashOnRead {
		newCid, err := c.Prefix().Sum(value)
		if err != nil {
			return nil, err
		}
		if !newCid.Equals(c) {
			return nil, blocks.ErrWrongHash
		}
	}
	return blocks.NewBlockWithCid(value, c)
}

// GetSize returns the CIDs mapped BlockSize
func (bs *Blockstore) GetSize(ctx context.Context, c cid.Cid) (int, error) {
	blk, err := bs.Get(ctx, c)
	if err != nil {
		return -1, err
	}
	return len(blk.RawData()), nil
}

// Put puts a given block to the underlying datastore
func (bs *Blockstore) Put(ctx context.Context, blk blocks.Block) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return bs.put(blk)
}

func (bs *Blockstore) put(blk blocks.Block) error {
	// Blocks are immutable, so an existing block is never rewritten.
	has, err := bs.store.Has(blk.Cid())
	if err != nil || has {
		return err
	}
	data := make([]byte, len(blk.RawData()))
	copy(data, blk.RawData())
	return bs.store.Put(blk.Cid(), data)
}

// PutMany puts a slice of blocks at the same time.
func (bs *Blockstore) PutMany(ctx context.Context, blks []blocks.Block) error {
	for _, blk := range blks {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := bs.put(blk); err != nil {
			return err
		}
	}
	return nil
}

// AllKeysChan returns a channel from which the CIDs in the Blockstore can be
// read. The CIDs are those present when AllKeysChan was called. The channel
// is closed when all CIDs are sent or when ctx is done.
func (bs *Blockstore) AllKeysChan(ctx context.Context) (<-chan cid.Cid, error) {
	iter, err := bs.store.Keys()
	if err != nil {
		return nil, err
	}
	ch := make(chan cid.Cid)
	go func() {
		defer close(ch)
		for {
			c, err := iter.Next()
			if err != nil {
				return
			}
			select {
			case ch <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// HashOnRead specifies if every read block should be
// rehashed to make sure it matches its CID.
func (bs *Blockstore) HashOnRead(enabled bool) {
	bs.hashOnRead = enabled
}

// Start starts the background flush of the underlying store.
func (bs *Blockstore) Start() {
	bs.store.Start()
}

// Close closes the underlying store, persisting its index.
func (bs *Blockstore) Close() error {
	return bs.store.Close()
}

// Store returns the underlying store.
func (bs *Blockstore) Store() *store.Store[cid.Cid, []byte] {
	return bs.store
}

var _ bstore.Blockstore = &Blockstore{}

// ErrClosedStore is returned by operations on a closed store.
const ErrClosedStore = types.ErrClosedStore

// ErrKeyNotFound indicates the index refers to a value that cannot be read.
const ErrKeyNotFound = types.ErrKeyNotFound

type ErrTypeMismatch = types.ErrTypeMismatch

type ErrCorruptIndex = types.ErrCorruptIndex

type ErrIOFailure = types.ErrIOFailure
