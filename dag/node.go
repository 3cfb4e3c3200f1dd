// Package dag implements the Merkle DAG node and UnixFS metadata of
// §4.C/§4.D: an in-memory node with raw payload and named, sized
// links, serialized as a length-prefixed, protocol-buffer-compatible
// record (the same wire shape as the dag-pb codec).
//
// We hand-encode the record with google.golang.org/protobuf/encoding/protowire
// instead of depending on a generated dag-pb package: the field layout
// below (Data=1, Links=2; PBLink{Hash=1,Name=2,Tsize=3}) is the real
// dag-pb schema, so any protobuf-aware reader of the resulting bytes
// interops with it.
package dag

import (
	"fmt"

	"github.com/ipfs/go-cid"
	"google.golang.org/protobuf/encoding/protowire"

	"bex/cidutil"
)

// Link is a named, sized reference to another node (§4.C DagLink).
// Size is whatever the node's builder recorded; the builders in this
// module (builder, engine.FileSystem.AddDirectory) record the
// serialized size of the linked block alone, not the cumulative size
// of the subgraph under it.
type Link struct {
	Name string
	ID   cid.Cid
	Size uint64
}

// Node is the in-memory Merkle DAG node of §4.C: raw data plus an
// ordered list of links. Link order is caller-supplied and preserved
// through Marshal/Unmarshal.
type Node struct {
	Data  []byte
	Links []Link
}

const (
	fieldNodeData  = 1
	fieldNodeLinks = 2

	fieldLinkHash  = 1
	fieldLinkName  = 2
	fieldLinkTsize = 3
)

// Marshal serializes the node to its length-prefixed record form.
// Links are written in the order stored on the node, matching §4.C's
// "readers MUST preserve that order".
func (n *Node) Marshal() ([]byte, error) {
	var b []byte
	// dag-pb convention: links before data, but field order on the
	// wire is insignificant for protobuf decoders; we still emit
	// links first to match the canonical dag-pb byte layout other
	// tooling expects to diff against.
	for _, l := range n.Links {
		linkBytes, err := marshalLink(l)
		if err != nil {
			return nil, fmt.Errorf("marshal link %q: %w", l.Name, err)
		}
		b = protowire.AppendTag(b, fieldNodeLinks, protowire.BytesType)
		b = protowire.AppendBytes(b, linkBytes)
	}
	if n.Data != nil {
		b = protowire.AppendTag(b, fieldNodeData, protowire.BytesType)
		b = protowire.AppendBytes(b, n.Data)
	}
	return b, nil
}

func marshalLink(l Link) ([]byte, error) {
	var b []byte
	if l.ID.Defined() {
		b = protowire.AppendTag(b, fieldLinkHash, protowire.BytesType)
		b = protowire.AppendBytes(b, l.ID.Bytes())
	}
	b = protowire.AppendTag(b, fieldLinkName, protowire.BytesType)
	b = protowire.AppendString(b, l.Name)
	b = protowire.AppendTag(b, fieldLinkTsize, protowire.VarintType)
	b = protowire.AppendVarint(b, l.Size)
	return b, nil
}

// Unmarshal decodes a node from its serialized record form, preserving
// link order.
func Unmarshal(data []byte) (*Node, error) {
	n := &Node{}
	for len(data) > 0 {
		num, typ, n2 := protowire.ConsumeTag(data)
		if n2 < 0 {
			return nil, fmt.Errorf("consume tag: %w", protowire.ParseError(n2))
		}
		data = data[n2:]
		switch {
		case num == fieldNodeData && typ == protowire.BytesType:
			v, n3 := protowire.ConsumeBytes(data)
			if n3 < 0 {
				return nil, fmt.Errorf("consume data: %w", protowire.ParseError(n3))
			}
			n.Data = append([]byte(nil), v...)
			data = data[n3:]
		case num == fieldNodeLinks && typ == protowire.BytesType:
			v, n3 := protowire.ConsumeBytes(data)
			if n3 < 0 {
				return nil, fmt.Errorf("consume link: %w", protowire.ParseError(n3))
			}
			link, err := unmarshalLink(v)
			if err != nil {
				return nil, err
			}
			n.Links = append(n.Links, link)
			data = data[n3:]
		default:
			n3 := protowire.ConsumeFieldValue(num, typ, data)
			if n3 < 0 {
				return nil, fmt.Errorf("skip field: %w", protowire.ParseError(n3))
			}
			data = data[n3:]
		}
	}
	return n, nil
}

func unmarshalLink(data []byte) (Link, error) {
	var l Link
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return l, fmt.Errorf("consume link tag: %w", protowire.ParseError(n))
		}
		data = data[n:]
		switch {
		case num == fieldLinkHash && typ == protowire.BytesType:
			v, n2 := protowire.ConsumeBytes(data)
			if n2 < 0 {
				return l, fmt.Errorf("consume hash: %w", protowire.ParseError(n2))
			}
			c, err := cid.Cast(v)
			if err != nil {
				return l, fmt.Errorf("cast link cid: %w", err)
			}
			l.ID = c
			data = data[n2:]
		case num == fieldLinkName && typ == protowire.BytesType:
			v, n2 := protowire.ConsumeString(data)
			if n2 < 0 {
				return l, fmt.Errorf("consume name: %w", protowire.ParseError(n2))
			}
			l.Name = v
			data = data[n2:]
		case num == fieldLinkTsize && typ == protowire.VarintType:
			v, n2 := protowire.ConsumeVarint(data)
			if n2 < 0 {
				return l, fmt.Errorf("consume tsize: %w", protowire.ParseError(n2))
			}
			l.Size = v
			data = data[n2:]
		default:
			n2 := protowire.ConsumeFieldValue(num, typ, data)
			if n2 < 0 {
				return l, fmt.Errorf("skip link field: %w", protowire.ParseError(n2))
			}
			data = data[n2:]
		}
	}
	return l, nil
}

// Cid computes the node's content identifier: a deterministic function
// of its serialized bytes (§4.C), addressed as dag-pb/sha2-256 by
// default per §4.B's version-selection rule.
func (n *Node) Cid() (cid.Cid, error) {
	raw, err := n.Marshal()
	if err != nil {
		return cid.Undef, err
	}
	return cidutil.Sum(raw, cidutil.Prefix(cidutil.DefaultCodec, cidutil.DefaultHash, -1))
}
