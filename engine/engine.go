// Package engine implements the Engine Facade of §4.J: it wires the
// Block Store (§4.A), Want Registry (§4.G), Bitswap Engine (§4.H), and
// Wire Protocol (§4.I) layers together against a caller-supplied Swarm
// and Router (§6), and exposes the lifecycle and handles the rest of
// this module's consumers actually touch.
package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/ipfs/go-cid"
	logging "github.com/ipfs/go-log/v2"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"

	"bex/bitswap"
	"bex/block"
	"bex/blockstore"
	"bex/errs"
	"bex/netiface"
	"bex/want"
	"bex/wire"
)

var log = logging.Logger("bex/engine")

// Config wires the Engine's dependencies.
type Config struct {
	Store    blockstore.Config
	Swarm    netiface.Swarm
	Router   netiface.Router
	KeyChain netiface.KeyChain
	// Version is the protocol version used for outbound dials that
	// deliver blocks or single wants. Want-list broadcasts try v1.1
	// first and then v1.0, whatever this is set to. Inbound streams are
	// served in whichever version the remote dialed.
	Version Version
	// MetricsCtx roots the bitswap engine's counters; nil disables them.
	MetricsCtx context.Context
}

// Version re-exports wire.Version so callers configuring an Engine
// don't need to import the wire package directly.
type Version = wire.Version

const (
	V1_0 = wire.V1_0
	V1_1 = wire.V1_1
)

// Engine is the facade of §4.J.
type Engine struct {
	store    *blockstore.Store
	wants    *want.Registry
	bitswap  *bitswap.Engine
	swarm    netiface.Swarm
	router   netiface.Router
	keychain netiface.KeyChain
	version  wire.Version

	mu             sync.Mutex
	started        bool
	cancel         context.CancelFunc
	streams        map[peer.ID]netiface.Stream
	streamVersions map[peer.ID]wire.Version
}

// New constructs an Engine against cfg. It does not start any
// background work; call Start for that.
func New(cfg Config) (*Engine, error) {
	store, err := blockstore.New(cfg.Store)
	if err != nil {
		return nil, err
	}
	wants := want.New()
	version := cfg.Version
	if version != wire.V1_0 && version != wire.V1_1 {
		version = wire.V1_1
	}
	e := &Engine{
		store:          store,
		wants:          wants,
		bitswap:        bitswap.NewEngine(store, wants, cfg.MetricsCtx),
		swarm:          cfg.Swarm,
		router:         cfg.Router,
		keychain:       cfg.KeyChain,
		version:        version,
		streams:        make(map[peer.ID]netiface.Stream),
		streamVersions: make(map[peer.ID]wire.Version),
	}
	e.bitswap.SetBroadcastFunc(e.broadcastWantList)
	return e, nil
}

// Block exposes the Block Store (§4.A).
func (e *Engine) Block() *blockstore.Store { return e.store }

// FileSystem builds the Chunker/DAG-Builder and Chunked-Reader facade
// (§4.E, §4.F, §12) rooted at this Engine's store and router.
func (e *Engine) FileSystem() *FileSystem {
	return &FileSystem{store: e.store, router: e.router}
}

// Bitswap exposes the Bitswap Engine (§4.H).
func (e *Engine) Bitswap() *bitswap.Engine { return e.bitswap }

// Router exposes the configured provider-lookup collaborator, or nil.
func (e *Engine) Router() netiface.Router { return e.router }

// Swarm exposes the configured peer/protocol collaborator, or nil.
func (e *Engine) Swarm() netiface.Swarm { return e.swarm }

// Start launches the bitswap engine, registers wire protocol handlers
// on the Swarm, and begins draining outbound envelopes. Calling Start
// twice returns ErrAlreadyStarted.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return errs.ErrAlreadyStarted
	}
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.started = true
	e.mu.Unlock()

	if err := e.bitswap.Start(ctx); err != nil {
		return err
	}

	if e.swarm != nil {
		e.swarm.AddProtocol(wire.ProtocolV1_0, func(s netiface.Stream) { e.onStream(ctx, s, wire.V1_0) })
		e.swarm.AddProtocol(wire.ProtocolV1_1, func(s netiface.Stream) { e.onStream(ctx, s, wire.V1_1) })
		conns, unsub := e.swarm.Subscribe()
		go e.watchConnections(ctx, conns, unsub)
	}

	go e.drainOutbox(ctx)
	return nil
}

// Stop is always safe to call, including before Start or more than
// once.
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.started {
		return nil
	}
	e.cancel()
	e.started = false
	if e.swarm != nil {
		e.swarm.RemoveProtocol(wire.ProtocolV1_0)
		e.swarm.RemoveProtocol(wire.ProtocolV1_1)
	}
	return e.bitswap.Stop()
}

func (e *Engine) watchConnections(ctx context.Context, conns <-chan netiface.PeerConnection, unsub func()) {
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case pc, ok := <-conns:
			if !ok {
				return
			}
			go func(pc netiface.PeerConnection) {
				select {
				case <-pc.IdentityEstablished:
					e.bitswap.PeerConnected(pc.RemotePeer)
					// Connection-established trigger (§4.H): once identity
					// is established, send the full want-list to the new
					// peer if the registry is non-empty. Fire-and-forget.
					if lw := e.wants.LocalWants(); len(lw) > 0 {
						go e.sendWantListTo(ctx, pc.RemotePeer, wantEntries(lw), true)
					}
				case <-ctx.Done():
				}
			}(pc)
		}
	}
}

func (e *Engine) drainOutbox(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-e.bitswap.Outbox():
			if !ok {
				return
			}
			e.sendEnvelope(ctx, env)
		}
	}
}

func (e *Engine) sendEnvelope(ctx context.Context, env *bitswap.Envelope) {
	s, v, err := e.streamFor(ctx, env.Peer)
	if err != nil {
		log.Warnf("dial %s to deliver %s: %v", env.Peer, env.Block.Cid(), err)
		env.Sent()
		return
	}
	if err := wire.Send(s, v, wire.Message{Blocks: []*block.Block{env.Block}}); err != nil {
		log.Warnf("send %s to %s: %v", env.Block.Cid(), env.Peer, err)
	}
	env.Sent()
	e.bitswap.OnBlockSentAsync(env.Peer, env.Block)
}

// broadcastWantList implements §4.H "want-list broadcast"
// (SendWantListToAllAsync): it dials every peer the Swarm currently
// knows about in parallel and sends wants. A failed dial to one peer
// never aborts delivery to the others. Installed into the bitswap
// engine via SetBroadcastFunc, so it fires whenever WantAsync creates
// a CID's first local waiter.
func (e *Engine) broadcastWantList(wants []cid.Cid, full bool) {
	if e.swarm == nil || len(wants) == 0 {
		return
	}
	entries := wantEntries(wants)
	for _, p := range e.swarm.KnownPeers() {
		go e.sendWantListTo(context.Background(), p, entries, full)
	}
}

// sendWantListTo delivers entries to p over a dialed-or-reused stream.
// Failures are logged and swallowed (§5 "background tasks ... are
// fire-and-forget").
func (e *Engine) sendWantListTo(ctx context.Context, p peer.ID, entries []wire.Entry, full bool) {
	s, v, err := e.dialWantStream(ctx, p)
	if err != nil {
		log.Debugf("dial %s for want-list: %v", p, err)
		return
	}
	if err := wire.Send(s, v, wire.Message{Wantlist: entries, Full: full}); err != nil {
		log.Debugf("send want-list to %s: %v", p, err)
	}
}

// wantEntries converts a local want-list snapshot into wire entries
// requesting the full block (not just a Have/DontHave presence).
func wantEntries(cids []cid.Cid) []wire.Entry {
	out := make([]wire.Entry, len(cids))
	for i, c := range cids {
		out[i] = wire.Entry{Cid: c, Priority: 1, WantType: wire.WantBlock, SendDontHave: true}
	}
	return out
}

// dialWantStream opens (or reuses) a stream to p for want-list
// delivery, trying each supported protocol in preference order —
// v1.1 before v1.0 — and stopping at the first successful dial (§4.H
// "want-list broadcast").
func (e *Engine) dialWantStream(ctx context.Context, p peer.ID) (netiface.Stream, wire.Version, error) {
	e.mu.Lock()
	if s, ok := e.streams[p]; ok {
		v := e.streamVersions[p]
		e.mu.Unlock()
		return s, v, nil
	}
	e.mu.Unlock()

	if e.swarm == nil {
		return nil, 0, &errs.RouterError{Op: "dial", Err: errs.ErrNotStarted}
	}

	var lastErr error
	for _, proto := range []protocol.ID{wire.ProtocolV1_1, wire.ProtocolV1_0} {
		s, err := e.swarm.DialAsync(ctx, p, proto)
		if err != nil {
			lastErr = err
			continue
		}
		v, _ := wire.VersionForProtocol(proto)
		e.mu.Lock()
		e.streams[p] = s
		e.streamVersions[p] = v
		e.mu.Unlock()
		go e.onStream(ctx, s, v)
		return s, v, nil
	}
	return nil, 0, lastErr
}

func (e *Engine) streamFor(ctx context.Context, p peer.ID) (netiface.Stream, wire.Version, error) {
	e.mu.Lock()
	if s, ok := e.streams[p]; ok {
		v := e.streamVersions[p]
		e.mu.Unlock()
		return s, v, nil
	}
	e.mu.Unlock()

	if e.swarm == nil {
		return nil, 0, &errs.RouterError{Op: "dial", Err: errs.ErrNotStarted}
	}
	s, err := e.swarm.DialAsync(ctx, p, wire.ProtocolForVersion(e.version))
	if err != nil {
		return nil, 0, err
	}
	e.mu.Lock()
	e.streams[p] = s
	e.streamVersions[p] = e.version
	e.mu.Unlock()
	go e.onStream(ctx, s, e.version)
	return s, e.version, nil
}

func (e *Engine) onStream(ctx context.Context, s netiface.Stream, v wire.Version) {
	p := s.RemotePeer()
	e.mu.Lock()
	if _, ok := e.streams[p]; !ok {
		e.streams[p] = s
		e.streamVersions[p] = v
	}
	e.mu.Unlock()

	err := wire.ReceiveLoop(ctx, s, v, func(m wire.Message) error {
		e.handleMessage(p, v, m)
		return nil
	})
	if err != nil {
		log.Debugf("receive loop with %s ended: %v", p, err)
	}

	e.mu.Lock()
	if e.streams[p] == s {
		delete(e.streams, p)
		delete(e.streamVersions, p)
	}
	e.mu.Unlock()
	e.bitswap.PeerDisconnected(p)
}

func (e *Engine) handleMessage(p peer.ID, v wire.Version, m wire.Message) {
	for _, b := range m.Blocks {
		e.bitswap.OnBlockReceivedAsync(p, b)
	}

	if len(m.Wantlist) == 0 {
		return
	}

	var haveQueries, blockWants []wire.Entry
	for _, entry := range m.Wantlist {
		if !entry.Cancel && entry.WantType == wire.WantHave {
			haveQueries = append(haveQueries, entry)
		} else {
			blockWants = append(blockWants, entry)
		}
	}

	if len(haveQueries) > 0 {
		_, presences := wire.GetBlockForRemote(e.store, haveQueries)
		if len(presences) > 0 {
			if s, sv, err := e.streamFor(context.Background(), p); err == nil {
				if err := wire.Send(s, sv, wire.Message{BlockPresences: presences}); err != nil {
					log.Warnf("send presence to %s: %v", p, err)
				}
			}
		}
	}

	if len(blockWants) > 0 {
		bsEntries := make([]bitswap.WantEntry, len(blockWants))
		for i, entry := range blockWants {
			bsEntries[i] = bitswap.WantEntry{Cid: entry.Cid, Priority: entry.Priority, Cancel: entry.Cancel}
		}
		e.bitswap.OnPeerWantlist(p, bsEntries)
	}
}

// GetBlock resolves c, checking the local store first and, failing
// that, finding providers via Router and requesting the block from
// each over the wire protocol, blocking until one answers or ctx is
// done.
func (e *Engine) GetBlock(ctx context.Context, c cid.Cid) (*block.Block, error) {
	if b, err := e.store.TryGet(c); err == nil && b != nil {
		return b, nil
	}

	ch := e.bitswap.WantAsync([]cid.Cid{c})[0]

	if e.router != nil {
		go func() {
			err := e.router.FindProviders(ctx, c, 20, func(ai peer.AddrInfo) bool {
				if e.swarm != nil {
					e.swarm.RegisterPeer(ai.ID)
				}
				go e.sendWant(ctx, ai.ID, c)
				return true
			})
			if err != nil {
				log.Debugf("find providers for %s: %v", c, err)
			}
		}()
	}

	select {
	case b, ok := <-ch:
		if !ok || b == nil {
			return nil, &errs.NotFound{CID: c}
		}
		return b, nil
	case <-ctx.Done():
		e.bitswap.Unwant(c)
		return nil, fmt.Errorf("%w: %w", errs.ErrCancelled, ctx.Err())
	}
}

func (e *Engine) sendWant(ctx context.Context, p peer.ID, c cid.Cid) {
	s, v, err := e.streamFor(ctx, p)
	if err != nil {
		log.Debugf("dial %s to want %s: %v", p, c, err)
		return
	}
	entry := wire.Entry{Cid: c, Priority: 1, WantType: wire.WantBlock, SendDontHave: true}
	if err := wire.Send(s, v, wire.Message{Wantlist: []wire.Entry{entry}}); err != nil {
		log.Debugf("send want %s to %s: %v", c, p, err)
	}
}
