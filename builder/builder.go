// Package builder implements the Chunker / DAG Builder of §4.E: it
// splits an input stream into fixed-size leaf blocks with
// github.com/ipfs/boxo/chunker and assembles them into a balanced Merkle DAG
// with fan-out F, emitting a root identifier.
package builder

import (
	"context"
	"io"

	chunker "github.com/ipfs/boxo/chunker"
	"github.com/ipfs/go-cid"
	logging "github.com/ipfs/go-log/v2"

	"bex/block"
	"bex/cidutil"
	"bex/dag"
	"bex/errs"
	"bex/netiface"
)

var log = logging.Logger("bex/builder")

// DefaultFanout is F from §2/§4.E.
const DefaultFanout = 174

// DefaultChunkSize is the default fixed-window size (§4.E step 1).
const DefaultChunkSize = 256 << 10

// Options configures one Add operation.
type Options struct {
	// ChunkSize is the fixed leaf window size. Zero selects
	// DefaultChunkSize.
	ChunkSize int
	// Fanout is the maximum children per interior node. Zero selects
	// DefaultFanout.
	Fanout int
	// RawLeaves stores leaves as bare Raw blocks instead of
	// UnixFS-File-wrapped DagNodes.
	RawLeaves bool
	// Rabin splits with a content-defined (Rabin fingerprint) window
	// instead of fixed size, when set.
	Rabin bool
	// Wrap constructs a directory node whose sole link is (Name, root).
	Wrap bool
	// Name is the link name used when Wrap is set.
	Name string
	// OnlyHash computes CIDs without persisting any block (§4.E
	// "Hash-only mode").
	OnlyHash bool
	// Pin announces the root to the router passed to Add once built,
	// whenever that router is non-nil (§4.E "Advertise"). Add does not
	// check whether any engine is started.
	Pin bool
	// Trickle layout is explicitly unsupported (§4.E).
	Trickle bool
}

func (o Options) withDefaults() Options {
	if o.ChunkSize == 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.Fanout == 0 {
		o.Fanout = DefaultFanout
	}
	return o
}

// Putter is the active block service leaves and interior nodes are
// written through. *bex/blockstore.Store satisfies it directly;
// hash-only mode substitutes a no-op stub.
type Putter interface {
	Put(b *block.Block) error
}

type hashOnlyPutter struct{}

func (hashOnlyPutter) Put(*block.Block) error { return nil }

// FileSystemNode is one node of the DAG under construction: its CID,
// its logical (content) size, and its serialized (DAG) size (§4.E
// step 1).
type FileSystemNode struct {
	ID      cid.Cid
	Size    uint64
	DagSize uint64
}

// Add implements §4.E end to end: chunk r, build the balanced tree,
// optionally wrap in a directory, optionally advertise the root.
// I/O errors on r are fatal; leaves already Put are not rolled back
// (§4.E "Failure semantics").
func Add(ctx context.Context, r io.Reader, opts Options, put Putter, router netiface.Router) (cid.Cid, error) {
	opts = opts.withDefaults()
	if opts.Trickle {
		return cid.Undef, &errs.Unsupported{Feature: "trickle"}
	}
	if opts.OnlyHash {
		put = hashOnlyPutter{}
	}

	leaves, err := chunk(r, opts, put)
	if err != nil {
		return cid.Undef, err
	}

	root, err := buildTree(leaves, opts.Fanout, put)
	if err != nil {
		return cid.Undef, err
	}

	rootID := root.ID
	if opts.Wrap {
		rootID, err = wrap(opts.Name, root, put)
		if err != nil {
			return cid.Undef, err
		}
	}

	if opts.Pin && router != nil {
		if err := router.Provide(ctx, rootID, true); err != nil {
			log.Warnf("advertise %s: %v", rootID, err)
		}
	}

	return rootID, nil
}

func chunk(r io.Reader, opts Options, put Putter) ([]FileSystemNode, error) {
	var spl chunker.Splitter
	if opts.Rabin {
		spl = chunker.NewRabinMinMax(r, opts.ChunkSize/2, opts.ChunkSize, opts.ChunkSize*2)
	} else {
		spl = chunker.NewSizeSplitter(r, int64(opts.ChunkSize))
	}

	var leaves []FileSystemNode
	for {
		data, err := spl.NextBytes()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &errs.IoError{Op: "read chunk", Err: err}
		}
		leaf, err := putLeaf(data, opts.RawLeaves, put)
		if err != nil {
			return nil, err
		}
		leaves = append(leaves, leaf)
	}
	if len(leaves) == 0 {
		// Empty input still yields one zero-length leaf, matching the
		// "round trip small file" family of invariants down to size 0.
		leaf, err := putLeaf(nil, opts.RawLeaves, put)
		if err != nil {
			return nil, err
		}
		leaves = append(leaves, leaf)
	}
	return leaves, nil
}

func putLeaf(data []byte, raw bool, put Putter) (FileSystemNode, error) {
	if raw {
		prefix := cidutil.Prefix(cid.Raw, cidutil.DefaultHash, -1)
		b, err := block.New(data, prefix)
		if err != nil {
			return FileSystemNode{}, err
		}
		if err := put.Put(b); err != nil {
			return FileSystemNode{}, err
		}
		return FileSystemNode{ID: b.Cid(), Size: uint64(len(data)), DagSize: b.Size()}, nil
	}

	ufs := &dag.UnixFS{Type: dag.TFile, Data: data, FileSize: uint64(len(data))}
	node := &dag.Node{Data: ufs.Marshal()}
	b, err := putNode(node, put)
	if err != nil {
		return FileSystemNode{}, err
	}
	return FileSystemNode{ID: b.Cid(), Size: uint64(len(data)), DagSize: b.Size()}, nil
}

func putNode(n *dag.Node, put Putter) (*block.Block, error) {
	raw, err := n.Marshal()
	if err != nil {
		return nil, err
	}
	c, err := n.Cid()
	if err != nil {
		return nil, err
	}
	b, err := block.FromCID(c, raw)
	if err != nil {
		return nil, err
	}
	if err := put.Put(b); err != nil {
		return nil, err
	}
	return b, nil
}

// buildTree groups successive leaves into bundles of up to fanout,
// emitting one interior node per bundle, recursing until exactly one
// node remains (§4.E step 2).
func buildTree(level []FileSystemNode, fanout int, put Putter) (FileSystemNode, error) {
	if len(level) == 1 {
		return level[0], nil
	}

	var next []FileSystemNode
	for i := 0; i < len(level); i += fanout {
		end := i + fanout
		if end > len(level) {
			end = len(level)
		}
		bundle := level[i:end]

		links := make([]dag.Link, len(bundle))
		blockSizes := make([]uint64, len(bundle))
		var fileSize uint64
		for j, child := range bundle {
			links[j] = dag.Link{Name: "", ID: child.ID, Size: child.DagSize}
			blockSizes[j] = child.Size
			fileSize += child.Size
		}

		ufs := &dag.UnixFS{Type: dag.TFile, FileSize: fileSize, BlockSizes: blockSizes}
		node := &dag.Node{Data: ufs.Marshal(), Links: links}
		b, err := putNode(node, put)
		if err != nil {
			return FileSystemNode{}, err
		}
		next = append(next, FileSystemNode{ID: b.Cid(), Size: fileSize, DagSize: b.Size()})
	}

	return buildTree(next, fanout, put)
}

// wrap constructs a directory node whose sole link is (name, root)
// (§4.E step 3).
func wrap(name string, root FileSystemNode, put Putter) (cid.Cid, error) {
	node := &dag.Node{
		Data:  (&dag.UnixFS{Type: dag.TDirectory}).Marshal(),
		Links: []dag.Link{{Name: name, ID: root.ID, Size: root.DagSize}},
	}
	b, err := putNode(node, put)
	if err != nil {
		return cid.Undef, err
	}
	return b.Cid(), nil
}
