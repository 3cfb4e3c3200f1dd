package want

import (
	"testing"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/stretchr/testify/require"

	"bex/block"
	"bex/cidutil"
)

func mustBlock(t *testing.T, s string) *block.Block {
	t.Helper()
	b, err := block.New([]byte(s), cidutil.Prefix(cid.Raw, cidutil.DefaultHash, -1))
	require.NoError(t, err)
	return b
}

func TestWantAndFoundDeliversToWaiter(t *testing.T) {
	r := New()
	b := mustBlock(t, "payload")

	ch, cancel, wasNew := r.Want(b.Cid())
	defer cancel()
	require.True(t, wasNew)

	r.Found(b)

	select {
	case got := <-ch:
		require.Equal(t, b.Cid(), got.Cid())
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for block")
	}
}

func TestCancelOneWaiterDoesNotAffectOthers(t *testing.T) {
	r := New()
	b := mustBlock(t, "shared")

	ch1, cancel1, wasNew1 := r.Want(b.Cid())
	ch2, _, wasNew2 := r.Want(b.Cid())
	require.True(t, wasNew1)
	require.False(t, wasNew2)

	cancel1()
	_, stillOpen := <-ch1
	require.False(t, stillOpen)

	r.Found(b)
	select {
	case got := <-ch2:
		require.Equal(t, b.Cid(), got.Cid())
	case <-time.After(time.Second):
		t.Fatal("second waiter never got its block")
	}
}

func TestUnwantClearsWholeEntry(t *testing.T) {
	r := New()
	b := mustBlock(t, "discarded")

	ch, _, _ := r.Want(b.Cid())
	r.Unwant(b.Cid())

	_, stillOpen := <-ch
	require.False(t, stillOpen)
	require.False(t, r.Wanted(b.Cid()))
}

func TestPeerInterest(t *testing.T) {
	r := New()
	b := mustBlock(t, "peer-wanted")
	p := peer.ID("peer-1")

	r.PeerWants(p, b.Cid())
	require.True(t, r.Wanted(b.Cid()))
	require.Contains(t, r.InterestedPeers(b.Cid()), p)

	r.PeerCancels(p, b.Cid())
	require.False(t, r.Wanted(b.Cid()))
}

func TestPeerDisconnected(t *testing.T) {
	r := New()
	b := mustBlock(t, "disconnect-me")
	p := peer.ID("peer-2")

	r.PeerWants(p, b.Cid())
	r.PeerDisconnected(p)
	require.False(t, r.Wanted(b.Cid()))
}

func TestLocalWantsExcludesPeerOnlyInterest(t *testing.T) {
	r := New()
	local := mustBlock(t, "local-want")
	peerOnly := mustBlock(t, "peer-only-want")

	_, cancel, _ := r.Want(local.Cid())
	defer cancel()
	r.PeerWants(peer.ID("peer-3"), peerOnly.Cid())

	require.ElementsMatch(t, []cid.Cid{local.Cid()}, r.LocalWants())
}
