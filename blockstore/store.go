// Package blockstore implements the Block Store of §4.A: a
// content-addressed, hash-keyed persistent map rooted at a directory,
// one file per block, named by the base32 encoding of the block's
// multihash (§6 on-disk layout). A single process-wide RWMutex gives
// any number of concurrent readers OR one writer; writes are
// fail-atomic via a temp-file-then-rename.
package blockstore

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/ipfs/go-cid"
	logging "github.com/ipfs/go-log/v2"
	"github.com/multiformats/go-multibase"

	"bex/block"
	"bex/cidutil"
	"bex/dag"
	"bex/errs"
)

var log = logging.Logger("bex/blockstore")

// Sizing defaults per §6.
const (
	DefaultMaxBlockSize     = 1 << 20 // 1 MiB, user blocks
	DefaultBuilderBlockSize = 4 << 20 // 4 MiB, builder-constructed DAG nodes
	DefaultInlineCidLimit   = cidutil.InlineCidLimit
)

// Config configures a Store.
type Config struct {
	// Dir is the root directory; blocks live in Dir/blocks/.
	Dir string
	// MaxBlockSize rejects Put of anything larger with BlockTooLarge.
	// Zero selects DefaultMaxBlockSize.
	MaxBlockSize int
	// InlineCidLimit is the inline-size setting of §6, defaulted to
	// DefaultInlineCidLimit. The Store records it but does not read it.
	InlineCidLimit int
	// AllowInlineCid is the inline setting of §6. The Store records it
	// but does not read it: identity-hashed CIDs are always served from
	// their digest and never written, whatever this is set to.
	AllowInlineCid bool
	// CacheSize is the number of hot blocks kept in the read cache.
	// Zero selects a built-in default.
	CacheSize int
}

func (c Config) withDefaults() Config {
	if c.MaxBlockSize == 0 {
		c.MaxBlockSize = DefaultMaxBlockSize
	}
	if c.InlineCidLimit == 0 {
		c.InlineCidLimit = DefaultInlineCidLimit
	}
	if c.CacheSize == 0 {
		c.CacheSize = 1024
	}
	return c
}

// Store is the Block Store of §4.A.
type Store struct {
	cfg           Config
	blocksDir     string
	mu            sync.RWMutex
	cache         *lru.Cache[string, *block.Block]
	emptyNodeCid  cid.Cid
	emptyDirCid   cid.Cid
}

// New opens (creating if absent) a Store rooted at cfg.Dir.
func New(cfg Config) (*Store, error) {
	cfg = cfg.withDefaults()
	if cfg.Dir == "" {
		return nil, fmt.Errorf("blockstore: Dir is required")
	}
	blocksDir := filepath.Join(cfg.Dir, "blocks")
	if err := os.MkdirAll(blocksDir, 0o755); err != nil {
		return nil, fmt.Errorf("blockstore: mkdir %s: %w", blocksDir, err)
	}
	cache, err := lru.New[string, *block.Block](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("blockstore: new cache: %w", err)
	}
	s := &Store{cfg: cfg, blocksDir: blocksDir, cache: cache}

	emptyNode := &dag.Node{}
	emptyNodeRaw, _ := emptyNode.Marshal()
	s.emptyNodeCid, _ = cidutil.Sum(emptyNodeRaw, cidutil.Prefix(cidutil.DefaultCodec, cidutil.DefaultHash, -1))

	emptyDir := &dag.Node{Data: (&dag.UnixFS{Type: dag.TDirectory}).Marshal()}
	emptyDirRaw, _ := emptyDir.Marshal()
	s.emptyDirCid, _ = cidutil.Sum(emptyDirRaw, cidutil.Prefix(cidutil.DefaultCodec, cidutil.DefaultHash, -1))

	return s, nil
}

// EmptyNodeCid is the virtual empty-DAG-node sentinel (§4.A).
func (s *Store) EmptyNodeCid() cid.Cid { return s.emptyNodeCid }

// EmptyDirCid is the virtual empty-directory sentinel (§4.A).
func (s *Store) EmptyDirCid() cid.Cid { return s.emptyDirCid }

func (s *Store) filename(c cid.Cid) (string, error) {
	enc, err := multibase.Encode(multibase.Base32, c.Hash())
	if err != nil {
		return "", fmt.Errorf("encode key: %w", err)
	}
	return strings.ToLower(enc), nil
}

func (s *Store) path(c cid.Cid) (string, error) {
	name, err := s.filename(c)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.blocksDir, name), nil
}

// virtual returns the synthesized bytes for a sentinel or
// identity-hashed CID, without touching disk, if c is one.
func (s *Store) virtual(c cid.Cid) (*block.Block, bool, error) {
	if digest, ok := cidutil.InlineDigest(c); ok {
		b, err := block.FromCID(c, digest)
		return b, true, err
	}
	switch c {
	case s.emptyNodeCid:
		b, err := block.FromCID(c, mustMarshal(&dag.Node{}))
		return b, true, err
	case s.emptyDirCid:
		b, err := block.FromCID(c, mustMarshal(&dag.Node{Data: (&dag.UnixFS{Type: dag.TDirectory}).Marshal()}))
		return b, true, err
	}
	return nil, false, nil
}

func mustMarshal(n *dag.Node) []byte {
	raw, _ := n.Marshal()
	return raw
}

// Put persists block atomically, replacing any existing file under the
// same key. A serialization/write failure leaves no partial file
// behind. Blocks addressable by an identity or virtual CID are never
// written to disk.
func (s *Store) Put(b *block.Block) error {
	if b.Size() > uint64(s.cfg.MaxBlockSize) {
		return fmt.Errorf("%w: %d > %d", errs.ErrBlockTooLarge, b.Size(), s.cfg.MaxBlockSize)
	}
	if _, virtual, _ := s.virtual(b.Cid()); virtual {
		return nil
	}

	path, err := s.path(b.Cid())
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(s.blocksDir, ".put-*")
	if err != nil {
		return &errs.IoError{Op: "create temp", Err: err}
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(b.RawData()); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return &errs.IoError{Op: "write", Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return &errs.IoError{Op: "close", Err: err}
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return &errs.IoError{Op: "rename", Err: err}
	}
	s.cache.Add(b.Cid().String(), b)
	return nil
}

// TryGet returns the block for c, or (nil, nil) on miss.
func (s *Store) TryGet(c cid.Cid) (*block.Block, error) {
	if vb, virtual, err := s.virtual(c); virtual {
		return vb, err
	}
	if cached, ok := s.cache.Get(c.String()); ok {
		return cached, nil
	}

	path, err := s.path(c)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	raw, err := os.ReadFile(path)
	s.mu.RUnlock()
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &errs.IoError{Op: "read", Err: err}
	}
	b, err := block.FromCID(c, raw)
	if err != nil {
		return nil, err
	}
	s.cache.Add(c.String(), b)
	return b, nil
}

// Get returns the block for c, or a NotFound error on miss.
func (s *Store) Get(c cid.Cid) (*block.Block, error) {
	b, err := s.TryGet(c)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, &errs.NotFound{CID: c}
	}
	return b, nil
}

// Exists reports whether c is present (including virtual CIDs).
func (s *Store) Exists(c cid.Cid) (bool, error) {
	if _, virtual, _ := s.virtual(c); virtual {
		return true, nil
	}
	if _, ok := s.cache.Get(c.String()); ok {
		return true, nil
	}
	path, err := s.path(c)
	if err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, err = os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, &errs.IoError{Op: "stat", Err: err}
}

// Length returns the byte length of the block for c, or (0, false) if
// absent.
func (s *Store) Length(c cid.Cid) (uint64, bool, error) {
	if vb, virtual, err := s.virtual(c); virtual {
		if err != nil {
			return 0, false, err
		}
		return vb.Size(), true, nil
	}
	path, err := s.path(c)
	if err != nil {
		return 0, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	fi, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, false, nil
		}
		return 0, false, &errs.IoError{Op: "stat", Err: err}
	}
	return uint64(fi.Size()), true, nil
}

// Remove deletes the block keyed by c, if present. Removing a virtual
// or absent CID is a no-op.
func (s *Store) Remove(c cid.Cid) error {
	if _, virtual, _ := s.virtual(c); virtual {
		return nil
	}
	path, err := s.path(c)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Remove(c.String())
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return &errs.IoError{Op: "remove", Err: err}
	}
	return nil
}

// Names lazily enumerates every persisted key. Virtual/identity CIDs
// are never enumerated, since they were never written.
func (s *Store) Names() (<-chan cid.Cid, <-chan error) {
	out := make(chan cid.Cid)
	errc := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errc)
		s.mu.RLock()
		entries, err := os.ReadDir(s.blocksDir)
		s.mu.RUnlock()
		if err != nil {
			errc <- &errs.IoError{Op: "readdir", Err: err}
			return
		}
		for _, e := range entries {
			if e.IsDir() || strings.HasPrefix(e.Name(), ".put-") {
				continue
			}
			_, data, err := multibase.Decode(e.Name())
			if err != nil {
				log.Warnf("skip unrecognized block filename %q: %v", e.Name(), err)
				continue
			}
			c := cid.NewCidV1(cidutil.DefaultCodec, data)
			// The filename encodes only the multihash; NewCidV1 over
			// its bytes is a structurally valid handle even though the
			// wrapped codec may not reflect the original.
			out <- c
		}
	}()
	return out, errc
}

// Stat is the §12 supplement to Length: the on-disk size of the block
// plus, if it parses as a DAG node with links, the sum of the sizes
// recorded in its direct links (see dag.Link.Size). Linked nodes are
// not fetched; with no links, CumulativeSize equals Size.
type Stat struct {
	Size           uint64
	CumulativeSize uint64
}

func (s *Store) StatCid(c cid.Cid) (*Stat, error) {
	b, err := s.Get(c)
	if err != nil {
		return nil, err
	}
	st := &Stat{Size: b.Size(), CumulativeSize: b.Size()}
	if n, err := dag.Unmarshal(b.RawData()); err == nil {
		var cum uint64
		for _, l := range n.Links {
			cum += l.Size
		}
		if cum > 0 {
			st.CumulativeSize = cum
		}
	}
	return st, nil
}

// Close releases in-process resources. The on-disk store needs no
// teardown beyond what the OS already guarantees for closed file
// descriptors.
func (s *Store) Close() error { return nil }
