package bitswap

import (
	"sync"

	"github.com/ipfs/go-cid"
	pq "github.com/ipfs/go-ipfs-pq"
	"github.com/libp2p/go-libp2p/core/peer"
)

// wantEntry is one CID a remote peer has told us it wants, carrying
// the priority it assigned. Sorted listings of a ledger's wantlist are
// produced by loading entries into a fresh priority queue
// (github.com/ipfs/go-ipfs-pq) rather than keeping the heap live
// across cancellations, since the plain map already answers the
// membership questions the engine asks on the hot path.
type wantEntry struct {
	cid      cid.Cid
	priority int32
	index    int
}

func (w *wantEntry) SetIndex(i int) { w.index = i }
func (w *wantEntry) Index() int     { return w.index }

func wantEntryLess(a, b pq.Elem) bool {
	return a.(*wantEntry).priority > b.(*wantEntry).priority
}

// Accounting is the byte-level ledger of one peer relationship.
type Accounting struct {
	BytesSent uint64
	BytesRecv uint64
}

// Value is a crude peer-desirability score: bytes sent divided by
// bytes received (bytes sent alone when nothing has been received).
// The engine's task scheduler does not consult it.
func (a Accounting) Value() float64 {
	if a.BytesRecv == 0 {
		return float64(a.BytesSent)
	}
	return float64(a.BytesSent) / float64(a.BytesRecv)
}

// Receipt is a point-in-time snapshot of a Ledger, safe to hand out
// after the lock is released.
type Receipt struct {
	Peer       peer.ID
	Accounting Accounting
	Exchanged  uint64
}

// Ledger is the per-peer bookkeeping the engine keeps: byte
// accounting, a reference count of live connections, and the set of
// CIDs that peer has told us it wants.
type Ledger struct {
	Partner peer.ID

	mu         sync.Mutex
	ref        int
	accounting Accounting
	exchanges  uint64
	wants      map[cid.Cid]int32
}

func newLedger(p peer.ID) *Ledger {
	return &Ledger{Partner: p, wants: make(map[cid.Cid]int32)}
}

func (l *Ledger) addWant(c cid.Cid, priority int32) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.wants[c] = priority
}

func (l *Ledger) cancelWant(c cid.Cid) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.wants, c)
}

func (l *Ledger) wantsCid(c cid.Cid) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.wants[c]
	return ok
}

// sortedWants returns this peer's wanted CIDs, highest priority first.
func (l *Ledger) sortedWants() []cid.Cid {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.wants) == 0 {
		return nil
	}
	q := pq.New(wantEntryLess)
	for c, p := range l.wants {
		q.Push(&wantEntry{cid: c, priority: p})
	}
	out := make([]cid.Cid, 0, len(l.wants))
	for q.Len() > 0 {
		out = append(out, q.Pop().(*wantEntry).cid)
	}
	return out
}

func (l *Ledger) sentBytes(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.accounting.BytesSent += uint64(n)
	l.exchanges++
}

func (l *Ledger) receivedBytes(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.accounting.BytesRecv += uint64(n)
	l.exchanges++
}

func (l *Ledger) receipt() *Receipt {
	l.mu.Lock()
	defer l.mu.Unlock()
	return &Receipt{Peer: l.Partner, Accounting: l.accounting, Exchanged: l.exchanges}
}
