// Package block implements the DataBlock data model of §3: a
// content-addressed byte string, composed from github.com/ipfs/go-cid
// and github.com/ipfs/go-block-format so the rest of the module (and
// anything built against github.com/ipfs/go-ipld-format) can treat our
// blocks as ordinary blocks.Block values.
package block

import (
	"bytes"
	"fmt"

	blocks "github.com/ipfs/go-block-format"
	"github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"

	"bex/cidutil"
	"bex/errs"
)

// Block is a DataBlock: {id, size, bytes} per §3, with the invariant
// that id.Hash() verifies against bytes (or, for identity hashes,
// equals bytes itself).
type Block struct {
	blocks.Block
}

// New builds a Block by hashing data under prefix. If prefix's
// multihash algorithm is identity, the CID inlines data directly and
// nothing is hashed.
func New(data []byte, prefix cid.Prefix) (*Block, error) {
	c, err := prefix.Sum(data)
	if err != nil {
		return nil, fmt.Errorf("sum block: %w", err)
	}
	b, err := blocks.NewBlockWithCid(data, c)
	if err != nil {
		return nil, fmt.Errorf("new block: %w", err)
	}
	return &Block{Block: b}, nil
}

// NewIdentity builds an inline block: its CID's multihash digest is
// data itself, and the block is never meant to be persisted (§3, §4.A).
func NewIdentity(data []byte, codec uint64) (*Block, error) {
	return New(data, cidutil.IdentityPrefix(codec))
}

// FromCID wraps raw bytes already known to hash to id, re-verifying
// the invariant (used when accepting blocks pushed by peers, §4.H).
func FromCID(id cid.Cid, data []byte) (*Block, error) {
	b, err := blocks.NewBlockWithCid(data, id)
	if err != nil {
		return nil, fmt.Errorf("from cid: %w", err)
	}
	blk := &Block{Block: b}
	if err := Verify(blk); err != nil {
		return nil, err
	}
	return blk, nil
}

// Size returns len(RawData()).
func (b *Block) Size() uint64 { return uint64(len(b.RawData())) }

// Verify re-derives the block's CID from its bytes and confirms it
// matches the stored identifier, per the §3 DataBlock invariant.
// Identity-hashed blocks are verified by byte-equality against the
// inlined digest instead of rehashing.
func Verify(b *Block) error {
	if inline, ok := cidutil.InlineDigest(b.Cid()); ok {
		if !bytes.Equal(inline, b.RawData()) {
			return fmt.Errorf("%w: identity cid %s", errs.ErrCorruptBlock, b.Cid())
		}
		return nil
	}
	decoded, err := mh.Decode(b.Cid().Hash())
	if err != nil {
		return fmt.Errorf("decode multihash: %w", err)
	}
	sum, err := mh.Sum(b.RawData(), decoded.Code, decoded.Length)
	if err != nil {
		return fmt.Errorf("sum multihash: %w", err)
	}
	if !bytes.Equal(sum, b.Cid().Hash()) {
		return fmt.Errorf("%w: %s", errs.ErrCorruptBlock, b.Cid())
	}
	return nil
}
