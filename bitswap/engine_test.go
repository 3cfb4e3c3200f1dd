package bitswap

import (
	"context"
	"testing"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/stretchr/testify/require"

	"bex/block"
	"bex/blockstore"
	"bex/cidutil"
	"bex/want"
)

func newTestEngine(t *testing.T) (*Engine, *blockstore.Store) {
	t.Helper()
	s, err := blockstore.New(blockstore.Config{Dir: t.TempDir()})
	require.NoError(t, err)
	e := NewEngine(s, want.New(), nil)
	return e, s
}

func TestWantAsyncDeliversLocallyFoundBlock(t *testing.T) {
	e, _ := newTestEngine(t)
	b, err := block.New([]byte("local"), cidutil.Prefix(cid.Raw, cidutil.DefaultHash, -1))
	require.NoError(t, err)

	chans := e.WantAsync([]cid.Cid{b.Cid()})
	require.Len(t, chans, 1)

	e.Found(b)

	select {
	case got := <-chans[0]:
		require.Equal(t, b.Cid(), got.Cid())
	case <-time.After(time.Second):
		t.Fatal("never delivered")
	}
}

func TestPeerWantlistSchedulesEnvelope(t *testing.T) {
	e, s := newTestEngine(t)
	b, err := block.New([]byte("requested"), cidutil.Prefix(cid.Raw, cidutil.DefaultHash, -1))
	require.NoError(t, err)
	require.NoError(t, s.Put(b))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, e.Start(ctx))
	defer e.Stop()

	p := peer.ID("remote-1")
	e.PeerConnected(p)
	e.OnPeerWantlist(p, []WantEntry{{Cid: b.Cid(), Priority: 1}})

	select {
	case env := <-e.Outbox():
		require.Equal(t, p, env.Peer)
		require.Equal(t, b.Cid(), env.Block.Cid())
		env.Sent()
		e.OnBlockSentAsync(p, env.Block)
	case <-time.After(2 * time.Second):
		t.Fatal("no envelope produced")
	}

	receipt := e.LedgerFor(p)
	require.EqualValues(t, b.Size(), receipt.Accounting.BytesSent)
}

func TestStartTwiceFails(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, e.Start(ctx))
	defer e.Stop()
	require.Error(t, e.Start(ctx))
}

func TestStopIsAlwaysSafe(t *testing.T) {
	e, _ := newTestEngine(t)
	require.NoError(t, e.Stop())
	require.NoError(t, e.Start(context.Background()))
	require.NoError(t, e.Stop())
	require.NoError(t, e.Stop())
}

func TestStatisticsAggregates(t *testing.T) {
	e, _ := newTestEngine(t)
	b, err := block.New([]byte("stats"), cidutil.Prefix(cid.Raw, cidutil.DefaultHash, -1))
	require.NoError(t, err)

	p := peer.ID("remote-stats")
	e.OnBlockReceivedAsync(p, b)

	stats := e.Statistics()
	require.ElementsMatch(t, []peer.ID{p}, stats.Peers)
	require.EqualValues(t, 1, stats.BlocksReceived)
	require.EqualValues(t, b.Size(), stats.DataReceived)
	require.Zero(t, stats.DupBlocksReceived)
	require.Zero(t, stats.DupDataReceived)
}

func TestOnBlockReceivedAsyncDetectsDuplicate(t *testing.T) {
	e, s := newTestEngine(t)
	b, err := block.New([]byte("already-have-this"), cidutil.Prefix(cid.Raw, cidutil.DefaultHash, -1))
	require.NoError(t, err)
	require.NoError(t, s.Put(b))

	p := peer.ID("remote-dup")
	e.OnBlockReceivedAsync(p, b)

	stats := e.Statistics()
	require.EqualValues(t, 1, stats.BlocksReceived)
	require.EqualValues(t, b.Size(), stats.DataReceived)
	require.EqualValues(t, 1, stats.DupBlocksReceived)
	require.EqualValues(t, b.Size(), stats.DupDataReceived)
}
