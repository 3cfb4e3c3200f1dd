// Package wire implements §4.I: the two message codecs a connection
// negotiates (v1.0 multihash-keyed, v1.1 full-CID-keyed with
// presences), framed as length-prefixed messages via
// github.com/libp2p/go-msgio. The on-wire field layout mirrors the
// real bitswap message.proto shape so a capture is recognizable to
// anyone who has read that project's wire format.
package wire

import (
	"fmt"

	"github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"
	"google.golang.org/protobuf/encoding/protowire"

	"bex/block"
)

// Version selects the wire codec in effect for a connection (§4.I).
type Version int

const (
	// V1_0 keys wantlist entries and blocks by bare multihash and
	// carries no WantType, BlockPresence, or PendingBytes fields.
	V1_0 Version = iota
	// V1_1 keys everything by full CID, adds WantType (Block vs Have),
	// SendDontHave, BlockPresence replies, and PendingBytes.
	V1_1
)

// WantType distinguishes a want for the block itself from a want for
// only a have/don't-have signal (§4.I, v1.1 only).
type WantType int32

const (
	WantBlock WantType = 0
	WantHave  WantType = 1
)

// PresenceType is the BlockPresence reply kind (v1.1 only).
type PresenceType int32

const (
	Have     PresenceType = 0
	DontHave PresenceType = 1
)

// Entry is one line of a wantlist.
type Entry struct {
	Cid          cid.Cid
	Priority     int32
	Cancel       bool
	WantType     WantType
	SendDontHave bool
}

// Presence is one BlockPresence reply line (v1.1 only).
type Presence struct {
	Cid  cid.Cid
	Type PresenceType
}

// Message is one bitswap-style protocol message: a wantlist diff (or
// full state), block payloads, and, under v1.1, presence replies and a
// pending-bytes hint.
type Message struct {
	Wantlist       []Entry
	Full           bool
	Blocks         []*block.Block
	BlockPresences []Presence
	PendingBytes   int32
}

const (
	fieldMsgWantlist = 1
	fieldMsgBlocks   = 2 // v1.0: raw block data only
	fieldMsgPayload  = 3 // v1.1: {prefix, data} blocks
	fieldMsgPresence = 4
	fieldMsgPending  = 5

	fieldWantlistEntries = 1
	fieldWantlistFull    = 2

	fieldEntryKey          = 1
	fieldEntryPriority     = 2
	fieldEntryCancel       = 3
	fieldEntryWantType     = 4
	fieldEntrySendDontHave = 5

	fieldPayloadPrefix = 1
	fieldPayloadData   = 2

	fieldPresenceCid  = 1
	fieldPresenceType = 2
)

func encodeEntryKey(c cid.Cid, v Version) []byte {
	if v == V1_0 {
		return c.Hash()
	}
	return c.Bytes()
}

func decodeEntryKey(b []byte, v Version) (cid.Cid, error) {
	if v == V1_0 {
		hash, err := mh.Cast(b)
		if err != nil {
			return cid.Undef, fmt.Errorf("wire: bad v1.0 entry key: %w", err)
		}
		return cid.NewCidV0(hash), nil
	}
	c, err := cid.Cast(b)
	if err != nil {
		return cid.Undef, fmt.Errorf("wire: bad v1.1 entry key: %w", err)
	}
	return c, nil
}

func marshalEntry(e Entry, v Version) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldEntryKey, protowire.BytesType)
	b = protowire.AppendBytes(b, encodeEntryKey(e.Cid, v))
	b = protowire.AppendTag(b, fieldEntryPriority, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.Priority))
	if e.Cancel {
		b = protowire.AppendTag(b, fieldEntryCancel, protowire.VarintType)
		b = protowire.AppendVarint(b, 1)
	}
	if v == V1_1 {
		b = protowire.AppendTag(b, fieldEntryWantType, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(e.WantType))
		if e.SendDontHave {
			b = protowire.AppendTag(b, fieldEntrySendDontHave, protowire.VarintType)
			b = protowire.AppendVarint(b, 1)
		}
	}
	return b
}

func unmarshalEntry(data []byte, v Version) (Entry, error) {
	var e Entry
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return e, fmt.Errorf("wire: entry tag: %w", protowire.ParseError(n))
		}
		data = data[n:]
		switch {
		case num == fieldEntryKey && typ == protowire.BytesType:
			raw, n2 := protowire.ConsumeBytes(data)
			if n2 < 0 {
				return e, fmt.Errorf("wire: entry key: %w", protowire.ParseError(n2))
			}
			c, err := decodeEntryKey(raw, v)
			if err != nil {
				return e, err
			}
			e.Cid = c
			data = data[n2:]
		case num == fieldEntryPriority && typ == protowire.VarintType:
			val, n2 := protowire.ConsumeVarint(data)
			if n2 < 0 {
				return e, fmt.Errorf("wire: entry priority: %w", protowire.ParseError(n2))
			}
			e.Priority = int32(val)
			data = data[n2:]
		case num == fieldEntryCancel && typ == protowire.VarintType:
			val, n2 := protowire.ConsumeVarint(data)
			if n2 < 0 {
				return e, fmt.Errorf("wire: entry cancel: %w", protowire.ParseError(n2))
			}
			e.Cancel = val != 0
			data = data[n2:]
		case num == fieldEntryWantType && typ == protowire.VarintType:
			val, n2 := protowire.ConsumeVarint(data)
			if n2 < 0 {
				return e, fmt.Errorf("wire: entry wanttype: %w", protowire.ParseError(n2))
			}
			e.WantType = WantType(val)
			data = data[n2:]
		case num == fieldEntrySendDontHave && typ == protowire.VarintType:
			val, n2 := protowire.ConsumeVarint(data)
			if n2 < 0 {
				return e, fmt.Errorf("wire: entry senddonthave: %w", protowire.ParseError(n2))
			}
			e.SendDontHave = val != 0
			data = data[n2:]
		default:
			n2 := protowire.ConsumeFieldValue(num, typ, data)
			if n2 < 0 {
				return e, fmt.Errorf("wire: skip entry field: %w", protowire.ParseError(n2))
			}
			data = data[n2:]
		}
	}
	return e, nil
}

func marshalPresence(p Presence) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldPresenceCid, protowire.BytesType)
	b = protowire.AppendBytes(b, p.Cid.Bytes())
	b = protowire.AppendTag(b, fieldPresenceType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(p.Type))
	return b
}

func unmarshalPresence(data []byte) (Presence, error) {
	var p Presence
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return p, fmt.Errorf("wire: presence tag: %w", protowire.ParseError(n))
		}
		data = data[n:]
		switch {
		case num == fieldPresenceCid && typ == protowire.BytesType:
			raw, n2 := protowire.ConsumeBytes(data)
			if n2 < 0 {
				return p, fmt.Errorf("wire: presence cid: %w", protowire.ParseError(n2))
			}
			c, err := cid.Cast(raw)
			if err != nil {
				return p, fmt.Errorf("wire: presence cid: %w", err)
			}
			p.Cid = c
			data = data[n2:]
		case num == fieldPresenceType && typ == protowire.VarintType:
			val, n2 := protowire.ConsumeVarint(data)
			if n2 < 0 {
				return p, fmt.Errorf("wire: presence type: %w", protowire.ParseError(n2))
			}
			p.Type = PresenceType(val)
			data = data[n2:]
		default:
			n2 := protowire.ConsumeFieldValue(num, typ, data)
			if n2 < 0 {
				return p, fmt.Errorf("wire: skip presence field: %w", protowire.ParseError(n2))
			}
			data = data[n2:]
		}
	}
	return p, nil
}

// Marshal encodes m for the given protocol version.
func Marshal(m Message, v Version) ([]byte, error) {
	var wantlist []byte
	for _, e := range m.Wantlist {
		wantlist = protowire.AppendTag(wantlist, fieldWantlistEntries, protowire.BytesType)
		wantlist = protowire.AppendBytes(wantlist, marshalEntry(e, v))
	}
	if m.Full {
		wantlist = protowire.AppendTag(wantlist, fieldWantlistFull, protowire.VarintType)
		wantlist = protowire.AppendVarint(wantlist, 1)
	}

	var out []byte
	if len(wantlist) > 0 {
		out = protowire.AppendTag(out, fieldMsgWantlist, protowire.BytesType)
		out = protowire.AppendBytes(out, wantlist)
	}

	for _, b := range m.Blocks {
		if v == V1_0 {
			out = protowire.AppendTag(out, fieldMsgBlocks, protowire.BytesType)
			out = protowire.AppendBytes(out, b.RawData())
			continue
		}
		var payload []byte
		payload = protowire.AppendTag(payload, fieldPayloadPrefix, protowire.BytesType)
		payload = protowire.AppendBytes(payload, b.Cid().Prefix().Bytes())
		payload = protowire.AppendTag(payload, fieldPayloadData, protowire.BytesType)
		payload = protowire.AppendBytes(payload, b.RawData())
		out = protowire.AppendTag(out, fieldMsgPayload, protowire.BytesType)
		out = protowire.AppendBytes(out, payload)
	}

	if v == V1_1 {
		for _, p := range m.BlockPresences {
			out = protowire.AppendTag(out, fieldMsgPresence, protowire.BytesType)
			out = protowire.AppendBytes(out, marshalPresence(p))
		}
		if m.PendingBytes != 0 {
			out = protowire.AppendTag(out, fieldMsgPending, protowire.VarintType)
			out = protowire.AppendVarint(out, uint64(m.PendingBytes))
		}
	}

	return out, nil
}

// Unmarshal decodes a Message under protocol version v.
func Unmarshal(data []byte, v Version) (Message, error) {
	var m Message
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return m, fmt.Errorf("wire: message tag: %w", protowire.ParseError(n))
		}
		data = data[n:]
		switch {
		case num == fieldMsgWantlist && typ == protowire.BytesType:
			raw, n2 := protowire.ConsumeBytes(data)
			if n2 < 0 {
				return m, fmt.Errorf("wire: wantlist: %w", protowire.ParseError(n2))
			}
			wl, full, err := unmarshalWantlist(raw, v)
			if err != nil {
				return m, err
			}
			m.Wantlist = wl
			m.Full = full
			data = data[n2:]
		case num == fieldMsgBlocks && typ == protowire.BytesType:
			raw, n2 := protowire.ConsumeBytes(data)
			if n2 < 0 {
				return m, fmt.Errorf("wire: block: %w", protowire.ParseError(n2))
			}
			prefix := cidFallbackPrefix()
			c, err := prefix.Sum(raw)
			if err != nil {
				return m, fmt.Errorf("wire: hash v1.0 block: %w", err)
			}
			b, err := block.FromCID(c, raw)
			if err != nil {
				return m, err
			}
			m.Blocks = append(m.Blocks, b)
			data = data[n2:]
		case num == fieldMsgPayload && typ == protowire.BytesType:
			raw, n2 := protowire.ConsumeBytes(data)
			if n2 < 0 {
				return m, fmt.Errorf("wire: payload: %w", protowire.ParseError(n2))
			}
			b, err := unmarshalPayload(raw)
			if err != nil {
				return m, err
			}
			m.Blocks = append(m.Blocks, b)
			data = data[n2:]
		case num == fieldMsgPresence && typ == protowire.BytesType:
			raw, n2 := protowire.ConsumeBytes(data)
			if n2 < 0 {
				return m, fmt.Errorf("wire: presence: %w", protowire.ParseError(n2))
			}
			p, err := unmarshalPresence(raw)
			if err != nil {
				return m, err
			}
			m.BlockPresences = append(m.BlockPresences, p)
			data = data[n2:]
		case num == fieldMsgPending && typ == protowire.VarintType:
			val, n2 := protowire.ConsumeVarint(data)
			if n2 < 0 {
				return m, fmt.Errorf("wire: pending: %w", protowire.ParseError(n2))
			}
			m.PendingBytes = int32(val)
			data = data[n2:]
		default:
			n2 := protowire.ConsumeFieldValue(num, typ, data)
			if n2 < 0 {
				return m, fmt.Errorf("wire: skip message field: %w", protowire.ParseError(n2))
			}
			data = data[n2:]
		}
	}
	return m, nil
}

func unmarshalWantlist(data []byte, v Version) ([]Entry, bool, error) {
	var entries []Entry
	var full bool
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, false, fmt.Errorf("wire: wantlist tag: %w", protowire.ParseError(n))
		}
		data = data[n:]
		switch {
		case num == fieldWantlistEntries && typ == protowire.BytesType:
			raw, n2 := protowire.ConsumeBytes(data)
			if n2 < 0 {
				return nil, false, fmt.Errorf("wire: wantlist entry: %w", protowire.ParseError(n2))
			}
			e, err := unmarshalEntry(raw, v)
			if err != nil {
				return nil, false, err
			}
			entries = append(entries, e)
			data = data[n2:]
		case num == fieldWantlistFull && typ == protowire.VarintType:
			val, n2 := protowire.ConsumeVarint(data)
			if n2 < 0 {
				return nil, false, fmt.Errorf("wire: wantlist full: %w", protowire.ParseError(n2))
			}
			full = val != 0
			data = data[n2:]
		default:
			n2 := protowire.ConsumeFieldValue(num, typ, data)
			if n2 < 0 {
				return nil, false, fmt.Errorf("wire: skip wantlist field: %w", protowire.ParseError(n2))
			}
			data = data[n2:]
		}
	}
	return entries, full, nil
}

func unmarshalPayload(data []byte) (*block.Block, error) {
	var prefixBytes, blockData []byte
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("wire: payload tag: %w", protowire.ParseError(n))
		}
		data = data[n:]
		switch {
		case num == fieldPayloadPrefix && typ == protowire.BytesType:
			raw, n2 := protowire.ConsumeBytes(data)
			if n2 < 0 {
				return nil, fmt.Errorf("wire: payload prefix: %w", protowire.ParseError(n2))
			}
			prefixBytes = raw
			data = data[n2:]
		case num == fieldPayloadData && typ == protowire.BytesType:
			raw, n2 := protowire.ConsumeBytes(data)
			if n2 < 0 {
				return nil, fmt.Errorf("wire: payload data: %w", protowire.ParseError(n2))
			}
			blockData = raw
			data = data[n2:]
		default:
			n2 := protowire.ConsumeFieldValue(num, typ, data)
			if n2 < 0 {
				return nil, fmt.Errorf("wire: skip payload field: %w", protowire.ParseError(n2))
			}
			data = data[n2:]
		}
	}
	prefix, err := cid.PrefixFromBytes(prefixBytes)
	if err != nil {
		return nil, fmt.Errorf("wire: payload prefix: %w", err)
	}
	c, err := prefix.Sum(blockData)
	if err != nil {
		return nil, fmt.Errorf("wire: payload sum: %w", err)
	}
	return block.FromCID(c, blockData)
}

func cidFallbackPrefix() cid.Prefix {
	return cid.Prefix{Version: 0, Codec: cid.DagProtobuf, MhType: mh.SHA2_256, MhLength: -1}
}
