// Package want implements the Want Registry of §4.G: the bookkeeping
// of which CIDs the local process is waiting on, which goroutines are
// waiting for each, and which remote peers have announced interest in
// them. It holds no network or storage state of its own; the bitswap
// engine (§4.H) drives it from both directions.
package want

import (
	"sync"

	"github.com/ipfs/go-cid"
	"github.com/libp2p/go-libp2p/core/peer"

	"bex/block"
)

// entry is the bookkeeping kept for one wanted CID.
type entry struct {
	waiters map[int]chan *block.Block
	nextID  int
	peers   map[peer.ID]struct{}
}

func newEntry() *entry {
	return &entry{waiters: make(map[int]chan *block.Block), peers: make(map[peer.ID]struct{})}
}

// Registry tracks, for every CID of current interest, the local
// waiters blocked on it and the remote peers known to want it.
type Registry struct {
	mu      sync.Mutex
	entries map[cid.Cid]*entry
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{entries: make(map[cid.Cid]*entry)}
}

func (r *Registry) entryFor(c cid.Cid) *entry {
	e, ok := r.entries[c]
	if !ok {
		e = newEntry()
		r.entries[c] = e
	}
	return e
}

// Want registers local interest in c and returns a channel that
// receives the block exactly once Found(c's block) is called, plus a
// cancel func. Calling cancel removes only this waiter; it does not
// affect other waiters on the same CID or any peer interest recorded
// via PeerWants (§9: cancelling one waiter releases only that waiter).
// The third return value reports whether c had no local waiter before
// this call, the trigger the bitswap engine uses to decide whether a
// fresh want-list broadcast is due.
func (r *Registry) Want(c cid.Cid) (<-chan *block.Block, func(), bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.entryFor(c)
	wasNew := len(e.waiters) == 0
	id := e.nextID
	e.nextID++
	ch := make(chan *block.Block, 1)
	e.waiters[id] = ch

	cancel := func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		cur, ok := r.entries[c]
		if !ok {
			return
		}
		if w, ok := cur.waiters[id]; ok {
			delete(cur.waiters, id)
			close(w)
		}
		r.gc(c, cur)
	}
	return ch, cancel, wasNew
}

// LocalWants lists every CID with at least one live local waiter,
// i.e. the current outbound want-list (§4.H "want-list broadcast").
// Peer interest recorded via PeerWants does not count.
func (r *Registry) LocalWants() []cid.Cid {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []cid.Cid
	for c, e := range r.entries {
		if len(e.waiters) > 0 {
			out = append(out, c)
		}
	}
	return out
}

// Unwant drops every local waiter on c, closing their channels without
// delivering a block, and clears any recorded peer interest (§9: the
// whole-entry variant of cancellation).
func (r *Registry) Unwant(c cid.Cid) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[c]
	if !ok {
		return
	}
	for _, w := range e.waiters {
		close(w)
	}
	delete(r.entries, c)
}

// Found delivers b to every current local waiter on b's CID, then
// clears the entry's waiters. Peer interest recorded via PeerWants is
// left untouched; it is removed only by PeerCancels or
// PeerDisconnected.
func (r *Registry) Found(b *block.Block) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := b.Cid()
	e, ok := r.entries[c]
	if !ok {
		return
	}
	for _, w := range e.waiters {
		w <- b
		close(w)
	}
	e.waiters = make(map[int]chan *block.Block)
	r.gc(c, e)
}

// PeerWants records that p has announced interest in c.
func (r *Registry) PeerWants(p peer.ID, c cid.Cid) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entryFor(c).peers[p] = struct{}{}
}

// PeerCancels removes p's recorded interest in c.
func (r *Registry) PeerCancels(p peer.ID, c cid.Cid) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[c]
	if !ok {
		return
	}
	delete(e.peers, p)
	r.gc(c, e)
}

// PeerDisconnected clears p's interest from every tracked CID, e.g.
// once the swarm reports the connection gone.
func (r *Registry) PeerDisconnected(p peer.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for c, e := range r.entries {
		delete(e.peers, p)
		r.gc(c, e)
	}
}

// InterestedPeers lists the peers currently recorded as wanting c.
func (r *Registry) InterestedPeers(c cid.Cid) []peer.ID {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[c]
	if !ok {
		return nil
	}
	out := make([]peer.ID, 0, len(e.peers))
	for p := range e.peers {
		out = append(out, p)
	}
	return out
}

// Wanted reports whether c has any local waiter or recorded peer
// interest.
func (r *Registry) Wanted(c cid.Cid) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[c]
	return ok && (len(e.waiters) > 0 || len(e.peers) > 0)
}

// gc drops c's entry once it has no waiters and no interested peers.
// Caller must hold r.mu.
func (r *Registry) gc(c cid.Cid, e *entry) {
	if len(e.waiters) == 0 && len(e.peers) == 0 {
		delete(r.entries, c)
	}
}
