// Package reader implements the Chunked Reader of §4.F: random access
// over a DAG built by the §4.E builder, descending through
// UnixFS.BlockSizes prefix sums to the single leaf an offset falls in,
// with a one-block cache for sequential access.
package reader

import (
	"fmt"
	"io"

	"github.com/ipfs/go-cid"

	"bex/block"
	"bex/dag"
	"bex/errs"
)

// Getter is the read-side of the active block service. *bex/blockstore.Store
// satisfies it directly.
type Getter interface {
	Get(c cid.Cid) (*block.Block, error)
}

type fetched struct {
	isLeaf     bool
	data       []byte
	links      []dag.Link
	blockSizes []uint64
}

func fetch(get Getter, c cid.Cid) (fetched, error) {
	b, err := get.Get(c)
	if err != nil {
		return fetched{}, err
	}
	if c.Type() == cid.Raw {
		return fetched{isLeaf: true, data: b.RawData()}, nil
	}
	n, err := dag.Unmarshal(b.RawData())
	if err != nil {
		return fetched{}, fmt.Errorf("reader: unmarshal node %s: %w", c, err)
	}
	ufs, err := dag.UnmarshalUnixFS(n.Data)
	if err != nil {
		return fetched{}, fmt.Errorf("reader: unmarshal unixfs %s: %w", c, err)
	}
	if len(n.Links) == 0 {
		return fetched{isLeaf: true, data: ufs.Data}, nil
	}
	return fetched{links: n.Links, blockSizes: ufs.BlockSizes}, nil
}

type cachedBlock struct {
	start uint64
	data  []byte
}

// Reader is a random-access, read-only view over the file rooted at a
// CID. It is not safe for concurrent use by multiple goroutines.
type Reader struct {
	get      Getter
	root     cid.Cid
	fileSize uint64
	offset   uint64
	cache    *cachedBlock
}

// New opens a Reader over the file DAG rooted at root.
func New(get Getter, root cid.Cid) (*Reader, error) {
	f, err := fetch(get, root)
	if err != nil {
		return nil, err
	}
	var size uint64
	if f.isLeaf {
		size = uint64(len(f.data))
	} else {
		for _, sz := range f.blockSizes {
			size += sz
		}
	}
	return &Reader{get: get, root: root, fileSize: size}, nil
}

// Length reports the logical byte length of the file (§4.F).
func (r *Reader) Length() uint64 { return r.fileSize }

func (r *Reader) descend(c cid.Cid, target, base uint64) (data []byte, start uint64, err error) {
	f, err := fetch(r.get, c)
	if err != nil {
		return nil, 0, err
	}
	if f.isLeaf {
		return f.data, base, nil
	}
	acc := base
	for i, l := range f.links {
		var sz uint64
		if i < len(f.blockSizes) {
			sz = f.blockSizes[i]
		}
		if target < acc+sz || (sz == 0 && target == acc) {
			return r.descend(l.ID, target, acc)
		}
		acc += sz
	}
	return nil, 0, fmt.Errorf("reader: offset %d out of range under %s", target, c)
}

// Read implements io.Reader (§4.F). It never returns more bytes than
// fit in the leaf the current offset falls in; callers wanting a full
// buffer should loop, as with any io.Reader.
func (r *Reader) Read(p []byte) (int, error) {
	if r.offset >= r.fileSize {
		return 0, io.EOF
	}
	if r.cache == nil || r.offset < r.cache.start || r.offset >= r.cache.start+uint64(len(r.cache.data)) {
		data, start, err := r.descend(r.root, r.offset, 0)
		if err != nil {
			return 0, err
		}
		if len(data) == 0 {
			return 0, io.EOF
		}
		r.cache = &cachedBlock{start: start, data: data}
	}
	n := copy(p, r.cache.data[r.offset-r.cache.start:])
	r.offset += uint64(n)
	return n, nil
}

// Seek implements io.Seeker.
func (r *Reader) Seek(offset int64, whence int) (int64, error) {
	var base int64
	switch whence {
	case io.SeekStart:
		base = 0
	case io.SeekCurrent:
		base = int64(r.offset)
	case io.SeekEnd:
		base = int64(r.fileSize)
	default:
		return 0, fmt.Errorf("reader: invalid whence %d", whence)
	}
	pos := base + offset
	if pos < 0 {
		return 0, fmt.Errorf("reader: negative seek position")
	}
	r.offset = uint64(pos)
	return pos, nil
}

// Write is unsupported: this component is read-only (§4.F Non-goals).
func (r *Reader) Write([]byte) (int, error) {
	return 0, &errs.Unsupported{Feature: "write"}
}

// SetLength is unsupported: file size is derived from the DAG, not
// mutated in place (§4.F Non-goals).
func (r *Reader) SetLength(uint64) error {
	return &errs.Unsupported{Feature: "set length"}
}
