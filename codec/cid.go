package codec

import (
	"fmt"

	"github.com/ipfs/go-cid"
	util "github.com/ipld/go-car/util"
	"github.com/multiformats/go-multihash"
)

var (
	// Cid stores content identifiers in their binary form.
	Cid Codec[cid.Cid] = cidCodec{}
	// Multihash stores multihashes. The stored bytes are validated on both
	// marshal and unmarshal.
	Multihash Codec[multihash.Multihash] = multihashCodec{}
)

type cidCodec struct{}

func (cidCodec) Marshal(c cid.Cid) ([]byte, error) {
	if !c.Defined() {
		return nil, cid.ErrCidTooShort
	}
	return c.Bytes(), nil
}

func (cidCodec) Unmarshal(data []byte) (cid.Cid, error) {
	c, n, err := util.ReadCid(data)
	if err != nil {
		return cid.Undef, fmt.Errorf("error reading cid from data: %w", err)
	}
	if n != len(data) {
		return cid.Undef, fmt.Errorf("trailing %d bytes after cid", len(data)-n)
	}
	return c, nil
}

func (cidCodec) TypeTag() string { return "Cid" }

type multihashCodec struct{}

func (multihashCodec) Marshal(mh multihash.Multihash) ([]byte, error) {
	if _, err := multihash.Cast(mh); err != nil {
		return nil, err
	}
	return []byte(mh), nil
}

func (multihashCodec) Unmarshal(data []byte) (multihash.Multihash, error) {
	mh, err := multihash.Cast(data)
	if err != nil {
		return nil, fmt.Errorf("error reading multihash from data: %w", err)
	}
	out := make(multihash.Multihash, len(mh))
	copy(out, mh)
	return out, nil
}

func (multihashCodec) TypeTag() string { return "Multihash" }
