package dag

import (
	"fmt"

	"github.com/ipfs/go-cid"
	format "github.com/ipfs/go-ipld-format"

	"bex/block"
)

// FormatNode adapts a Node (plus the CID it was stored under) to
// github.com/ipfs/go-ipld-format's Node interface, so the rest of the
// boxo/go-ipfs ecosystem can walk a graph built by this module without
// knowing about our concrete type (§4.C, SPEC_FULL §11).
type FormatNode struct {
	id  cid.Cid
	n   *Node
	raw []byte
}

var _ format.Node = (*FormatNode)(nil)

// NewFormatNode wraps n, serialized under id.
func NewFormatNode(id cid.Cid, n *Node) (*FormatNode, error) {
	raw, err := n.Marshal()
	if err != nil {
		return nil, err
	}
	return &FormatNode{id: id, n: n, raw: raw}, nil
}

func (f *FormatNode) RawData() []byte { return f.raw }
func (f *FormatNode) Cid() cid.Cid    { return f.id }
func (f *FormatNode) String() string  { return f.id.String() }
func (f *FormatNode) Loggable() map[string]interface{} {
	return map[string]interface{}{"node": f.id.String()}
}

func (f *FormatNode) Links() []*format.Link {
	out := make([]*format.Link, 0, len(f.n.Links))
	for _, l := range f.n.Links {
		out = append(out, &format.Link{Name: l.Name, Size: l.Size, Cid: l.ID})
	}
	return out
}

func (f *FormatNode) ResolveLink(path []string) (*format.Link, []string, error) {
	if len(path) == 0 {
		return nil, nil, fmt.Errorf("path too short")
	}
	for _, l := range f.n.Links {
		if l.Name == path[0] {
			return &format.Link{Name: l.Name, Size: l.Size, Cid: l.ID}, path[1:], nil
		}
	}
	return nil, nil, format.ErrLinkNotFound
}

func (f *FormatNode) Resolve(path []string) (interface{}, []string, error) {
	lnk, rest, err := f.ResolveLink(path)
	if err != nil {
		return nil, nil, err
	}
	return lnk, rest, nil
}

func (f *FormatNode) Copy() format.Node {
	cp := &Node{Data: append([]byte(nil), f.n.Data...), Links: append([]Link(nil), f.n.Links...)}
	return &FormatNode{id: f.id, n: cp, raw: append([]byte(nil), f.raw...)}
}

func (f *FormatNode) Size() (uint64, error) { return uint64(len(f.raw)), nil }

func (f *FormatNode) Stat() (*format.NodeStat, error) {
	linksSize := 0
	for _, l := range f.n.Links {
		linksSize += len(l.Name) + l.ID.ByteLen() + 8
	}
	return &format.NodeStat{
		Hash:           f.id.String(),
		NumLinks:       len(f.n.Links),
		BlockSize:      len(f.raw),
		LinksSize:      linksSize,
		DataSize:       len(f.n.Data),
		CumulativeSize: len(f.raw),
	}, nil
}

func (f *FormatNode) Tree(path string, depth int) []string {
	if path != "" || depth == 0 {
		return nil
	}
	names := make([]string, 0, len(f.n.Links))
	for _, l := range f.n.Links {
		names = append(names, l.Name)
	}
	return names
}

// AsBlock exposes the underlying serialized bytes as a block.Block.
func (f *FormatNode) AsBlock() (*block.Block, error) {
	return block.FromCID(f.id, f.raw)
}
