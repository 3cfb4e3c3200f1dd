package dag

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Type tags the payload carried inside a DagNode.Data field (§4.D).
type Type int32

const (
	// TRaw addresses identity leaves and raw-leaf-mode chunks: no
	// links, no embedded UnixFS framing beyond the tag.
	TRaw Type = 0
	// TDirectory is used for directory nodes (§4.E step 3, §12).
	TDirectory Type = 1
	// TFile is used for every interior and embedded-leaf file node.
	TFile Type = 2
)

// UnixFS is the UnixFsDataMessage of §4.D.
type UnixFS struct {
	Type       Type
	Data       []byte   // embedded leaf bytes, for File-typed leaves
	FileSize   uint64
	BlockSizes []uint64 // per-child recursive byte length, interior nodes only
}

const (
	fieldUFSType       = 1
	fieldUFSData       = 2
	fieldUFSFilesize   = 3
	fieldUFSBlocksizes = 4
)

// Marshal encodes the message with the same field layout as the real
// UnixFS protobuf schema (Type=1, Data=2, Filesize=3, Blocksizes=4
// repeated, one tagged varint per entry, not packed), so the resulting
// bytes are wire-compatible.
func (u *UnixFS) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldUFSType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(u.Type))
	if u.Data != nil {
		b = protowire.AppendTag(b, fieldUFSData, protowire.BytesType)
		b = protowire.AppendBytes(b, u.Data)
	}
	b = protowire.AppendTag(b, fieldUFSFilesize, protowire.VarintType)
	b = protowire.AppendVarint(b, u.FileSize)
	for _, sz := range u.BlockSizes {
		b = protowire.AppendTag(b, fieldUFSBlocksizes, protowire.VarintType)
		b = protowire.AppendVarint(b, sz)
	}
	return b
}

// UnmarshalUnixFS decodes a UnixFS message from a DagNode's Data field.
func UnmarshalUnixFS(data []byte) (*UnixFS, error) {
	u := &UnixFS{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("consume unixfs tag: %w", protowire.ParseError(n))
		}
		data = data[n:]
		switch {
		case num == fieldUFSType && typ == protowire.VarintType:
			v, n2 := protowire.ConsumeVarint(data)
			if n2 < 0 {
				return nil, fmt.Errorf("consume type: %w", protowire.ParseError(n2))
			}
			u.Type = Type(v)
			data = data[n2:]
		case num == fieldUFSData && typ == protowire.BytesType:
			v, n2 := protowire.ConsumeBytes(data)
			if n2 < 0 {
				return nil, fmt.Errorf("consume data: %w", protowire.ParseError(n2))
			}
			u.Data = append([]byte(nil), v...)
			data = data[n2:]
		case num == fieldUFSFilesize && typ == protowire.VarintType:
			v, n2 := protowire.ConsumeVarint(data)
			if n2 < 0 {
				return nil, fmt.Errorf("consume filesize: %w", protowire.ParseError(n2))
			}
			u.FileSize = v
			data = data[n2:]
		case num == fieldUFSBlocksizes && typ == protowire.VarintType:
			v, n2 := protowire.ConsumeVarint(data)
			if n2 < 0 {
				return nil, fmt.Errorf("consume blocksize: %w", protowire.ParseError(n2))
			}
			u.BlockSizes = append(u.BlockSizes, v)
			data = data[n2:]
		default:
			n2 := protowire.ConsumeFieldValue(num, typ, data)
			if n2 < 0 {
				return nil, fmt.Errorf("skip unixfs field: %w", protowire.ParseError(n2))
			}
			data = data[n2:]
		}
	}
	return u, nil
}
