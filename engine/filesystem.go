package engine

import (
	"context"
	"fmt"
	"io"

	"github.com/ipfs/go-cid"

	"bex/block"
	"bex/blockstore"
	"bex/builder"
	"bex/dag"
	"bex/netiface"
	"bex/reader"
)

// FileSystem is the file-oriented view over the Engine's store: adding
// content through the Chunker/DAG Builder (§4.E), reading it back
// through the Chunked Reader (§4.F), and the §12 directory supplement.
type FileSystem struct {
	store  *blockstore.Store
	router netiface.Router
}

// AddFile chunks and builds a DAG for r, returning its root CID.
func (fs *FileSystem) AddFile(ctx context.Context, r io.Reader, opts builder.Options) (cid.Cid, error) {
	return builder.Add(ctx, r, opts, fs.store, fs.router)
}

// GetReader opens a random-access Reader over the file rooted at root.
func (fs *FileSystem) GetReader(root cid.Cid) (*reader.Reader, error) {
	return reader.New(fs.store, root)
}

// DirEntry is one named link inside a directory node.
type DirEntry struct {
	Name string
	ID   cid.Cid
}

// AddDirectory builds a directory node out of the given (name, root)
// pairs (§12: directory listing generalizes beyond a single wrapped
// file to N named links).
func (fs *FileSystem) AddDirectory(entries []DirEntry) (cid.Cid, error) {
	links := make([]dag.Link, len(entries))
	for i, e := range entries {
		stat, err := fs.store.StatCid(e.ID)
		if err != nil {
			return cid.Undef, fmt.Errorf("filesystem: stat %s for directory entry %q: %w", e.ID, e.Name, err)
		}
		links[i] = dag.Link{Name: e.Name, ID: e.ID, Size: stat.Size}
	}
	node := &dag.Node{Data: (&dag.UnixFS{Type: dag.TDirectory}).Marshal(), Links: links}
	raw, err := node.Marshal()
	if err != nil {
		return cid.Undef, err
	}
	c, err := node.Cid()
	if err != nil {
		return cid.Undef, err
	}
	b, err := block.FromCID(c, raw)
	if err != nil {
		return cid.Undef, err
	}
	if err := fs.store.Put(b); err != nil {
		return cid.Undef, err
	}
	return c, nil
}

// ListFile lists the named links of the directory node at root.
func (fs *FileSystem) ListFile(root cid.Cid) ([]DirEntry, error) {
	b, err := fs.store.Get(root)
	if err != nil {
		return nil, err
	}
	n, err := dag.Unmarshal(b.RawData())
	if err != nil {
		return nil, fmt.Errorf("filesystem: unmarshal %s: %w", root, err)
	}
	out := make([]DirEntry, len(n.Links))
	for i, l := range n.Links {
		out[i] = DirEntry{Name: l.Name, ID: l.ID}
	}
	return out, nil
}
