package wire

import (
	"context"
	"fmt"

	"github.com/ipfs/go-cid"
	msgio "github.com/libp2p/go-msgio"
	"github.com/libp2p/go-libp2p/core/protocol"

	"bex/block"
	"bex/errs"
	"bex/netiface"
)

// Protocol IDs negotiated over the Swarm (§4.I).
const (
	ProtocolV1_0 protocol.ID = "/bex/exchange/1.0.0"
	ProtocolV1_1 protocol.ID = "/bex/exchange/1.1.0"
)

// VersionForProtocol maps a negotiated protocol.ID to its Version, or
// reports ok=false for anything this module doesn't speak.
func VersionForProtocol(id protocol.ID) (Version, bool) {
	switch id {
	case ProtocolV1_0:
		return V1_0, true
	case ProtocolV1_1:
		return V1_1, true
	default:
		return 0, false
	}
}

// ProtocolForVersion is the inverse of VersionForProtocol.
func ProtocolForVersion(v Version) protocol.ID {
	if v == V1_0 {
		return ProtocolV1_0
	}
	return ProtocolV1_1
}

// Send frames and writes one message over stream using v's codec.
func Send(stream netiface.Stream, v Version, m Message) error {
	raw, err := Marshal(m, v)
	if err != nil {
		return err
	}
	w := msgio.NewVarintWriter(stream)
	if err := w.WriteMsg(raw); err != nil {
		return &errs.IoError{Op: "write message", Err: err}
	}
	return nil
}

// ReceiveLoop reads framed messages off stream until it closes or ctx
// is cancelled, decoding each with v's codec and invoking onMessage.
// onMessage returning an error stops the loop and propagates it.
func ReceiveLoop(ctx context.Context, stream netiface.Stream, v Version, onMessage func(Message) error) error {
	r := msgio.NewVarintReader(stream)
	defer r.Close()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		raw, err := r.ReadMsg()
		if err != nil {
			return &errs.IoError{Op: "read message", Err: err}
		}
		m, err := Unmarshal(raw, v)
		r.ReleaseMsg(raw)
		if err != nil {
			return fmt.Errorf("wire: decode message: %w", &errs.ProtocolError{Reason: err.Error()})
		}
		if err := onMessage(m); err != nil {
			return err
		}
	}
}

// Getter is the read side of the active block service consulted when
// answering a remote wantlist.
type Getter interface {
	Get(c cid.Cid) (*block.Block, error)
}

// GetBlockForRemote answers the entries of one incoming wantlist
// (§4.I): entries asking for WantBlock that resolve produce a block
// to send back; a WantHave hit produces a Have presence; a miss of
// either kind produces a DontHave presence only when SendDontHave is
// set, and nothing otherwise. Cancel entries are skipped.
func GetBlockForRemote(get Getter, entries []Entry) (blocks []*block.Block, presences []Presence) {
	for _, e := range entries {
		if e.Cancel {
			continue
		}
		b, err := get.Get(e.Cid)
		found := err == nil && b != nil
		switch {
		case e.WantType == WantHave:
			if found {
				presences = append(presences, Presence{Cid: e.Cid, Type: Have})
			} else if e.SendDontHave {
				presences = append(presences, Presence{Cid: e.Cid, Type: DontHave})
			}
		case found:
			blocks = append(blocks, b)
		case e.SendDontHave:
			presences = append(presences, Presence{Cid: e.Cid, Type: DontHave})
		}
	}
	return blocks, presences
}
