// Package netiface defines the external contracts §6 names as
// consumed collaborators: Router (provider discovery), Swarm (peer
// connection / protocol multiplexing), PeerConnection, and KeyChain.
// None of these are implemented here — DHT lookup, transport framing,
// and secure-channel negotiation are explicitly out of the core's
// scope (§1) — only the shapes the core dials against.
//
// Identifiers reuse github.com/libp2p/go-libp2p's core types (peer.ID,
// protocol.ID, crypto.PrivKey) so a real libp2p Swarm/DHT can satisfy
// these interfaces without an adapter layer.
package netiface

import (
	"context"
	"io"

	"github.com/ipfs/go-cid"
	ic "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
)

// Stream is the opaque, already-negotiated duplex byte stream the
// Swarm hands back from Dial. The wire protocol layer (§4.I) frames
// its own messages over it; transport and secure-channel negotiation
// happened before the core ever sees this value.
type Stream interface {
	io.ReadWriteCloser
	RemotePeer() peer.ID
}

// StreamHandler is invoked by the Swarm for each inbound stream opened
// against a protocol the core registered with AddProtocol.
type StreamHandler func(Stream)

// Router is the provider-lookup collaborator (§6). The core consumes
// it only through this interface; the concrete DHT walk is out of
// scope (§1).
type Router interface {
	// FindProviders streams up to limit providers of cid to onProvider,
	// stopping early if onProvider returns false. Cancelling ctx stops
	// further dials but does not revoke wants already placed (§5).
	FindProviders(ctx context.Context, c cid.Cid, limit int, onProvider func(peer.AddrInfo) bool) error
	// Provide announces that the local node has cid. If advertise,
	// the announcement is pushed to the wider network; otherwise it
	// is recorded locally only.
	Provide(ctx context.Context, c cid.Cid, advertise bool) error
}

// PeerConnection is a single established connection to a remote peer.
type PeerConnection struct {
	RemotePeer peer.ID
	// IdentityEstablished resolves once the peer's identity handshake
	// completes (§4.H, §4.I: "await peer identity handshake").
	IdentityEstablished <-chan struct{}
}

// Swarm is the peer-connection and protocol-multiplexing collaborator
// (§6). Transport and secure-channel negotiation happen beneath it;
// the core only dials, registers protocol handlers, and observes
// connection-established events.
type Swarm interface {
	// DialAsync opens a stream to peer speaking protoID. Suspends on
	// the network (§5).
	DialAsync(ctx context.Context, p peer.ID, protoID protocol.ID) (Stream, error)
	// KnownPeers enumerates peers with a connected address.
	KnownPeers() []peer.ID
	// Subscribe registers for ConnectionEstablished events; the
	// returned channel delivers one PeerConnection per new connection.
	// The returned cancel func unsubscribes.
	Subscribe() (<-chan PeerConnection, func())
	// AddProtocol/RemoveProtocol register or deregister an inbound
	// stream handler for protoID.
	AddProtocol(protoID protocol.ID, h StreamHandler)
	RemoveProtocol(protoID protocol.ID)
	// RegisterPeer records a peer as known to the swarm (e.g. after a
	// successful FindProviders dial).
	RegisterPeer(p peer.ID)
}

// KeyChain is the local key-material collaborator (§6). The engine
// facade accepts one in its Config and keeps it; no component of this
// module calls it, and the chunked reader does no decryption.
type KeyChain interface {
	FindKeyByName(name string) (ic.PrivKey, bool)
	GetPrivateKeyAsync(ctx context.Context, name string) (ic.PrivKey, error)
}
