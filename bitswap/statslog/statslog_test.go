package statslog

import (
	"path/filepath"
	"testing"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/stretchr/testify/require"

	"bex/bitswap"
)

func TestRecordAndHistory(t *testing.T) {
	l, err := Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	defer l.Close()

	p := peer.ID("peer-history")
	require.NoError(t, l.Record(&bitswap.Receipt{
		Peer:       p,
		Accounting: bitswap.Accounting{BytesSent: 100, BytesRecv: 10},
		Exchanged:  1,
	}))
	require.NoError(t, l.Record(&bitswap.Receipt{
		Peer:       p,
		Accounting: bitswap.Accounting{BytesSent: 200, BytesRecv: 20},
		Exchanged:  2,
	}))

	history, err := l.History(p, 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.EqualValues(t, 200, history[0].Accounting.BytesSent)
	require.EqualValues(t, 100, history[1].Accounting.BytesSent)
}
