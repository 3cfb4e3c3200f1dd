package wire

import (
	"fmt"
	"testing"

	"github.com/ipfs/go-cid"
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

func TestMessageRoundTripV1_0(t *testing.T) {
	b := mustBlock(t, "v1.0 payload")
	msg := Message{
		Wantlist: []Entry{{Cid: b.Cid(), Priority: 3}},
		Full:     true,
		Blocks:   []*block.Block{b},
	}

	raw, err := Marshal(msg, V1_0)
	require.NoError(t, err)

	out, err := Unmarshal(raw, V1_0)
	require.NoError(t, err)
	require.True(t, out.Full)
	require.Len(t, out.Wantlist, 1)
	require.EqualValues(t, 3, out.Wantlist[0].Priority)
	require.Len(t, out.Blocks, 1)
	require.Equal(t, b.RawData(), out.Blocks[0].RawData())
}

func TestMessageRoundTripV1_1(t *testing.T) {
	b := mustBlock(t, "v1.1 payload")
	msg := Message{
		Wantlist: []Entry{
			{Cid: b.Cid(), Priority: 5, WantType: WantHave, SendDontHave: true},
		},
		Blocks:         []*block.Block{b},
		BlockPresences: []Presence{{Cid: b.Cid(), Type: Have}},
		PendingBytes:   42,
	}

	raw, err := Marshal(msg, V1_1)
	require.NoError(t, err)

	out, err := Unmarshal(raw, V1_1)
	require.NoError(t, err)
	require.Len(t, out.Wantlist, 1)
	require.Equal(t, WantHave, out.Wantlist[0].WantType)
	require.True(t, out.Wantlist[0].SendDontHave)
	require.Len(t, out.Blocks, 1)
	require.True(t, out.Blocks[0].Cid().Equals(b.Cid()))
	require.Len(t, out.BlockPresences, 1)
	require.Equal(t, Have, out.BlockPresences[0].Type)
	require.EqualValues(t, 42, out.PendingBytes)
}

func TestCancelEntry(t *testing.T) {
	c := mustBlock(t, "cancel-me").Cid()
	msg := Message{Wantlist: []Entry{{Cid: c, Cancel: true}}}

	raw, err := Marshal(msg, V1_1)
	require.NoError(t, err)
	out, err := Unmarshal(raw, V1_1)
	require.NoError(t, err)
	require.True(t, out.Wantlist[0].Cancel)
}

func TestGetBlockForRemote(t *testing.T) {
	b := mustBlock(t, "answerable")
	missing := mustBlock(t, "missing").Cid()

	store := fakeGetter{b.Cid(): b}
	blocks, presences := GetBlockForRemote(store, []Entry{
		{Cid: b.Cid(), WantType: WantBlock},
		{Cid: missing, WantType: WantBlock, SendDontHave: true},
		{Cid: b.Cid(), WantType: WantHave},
	})
	require.Len(t, blocks, 1)
	require.Equal(t, b.Cid(), blocks[0].Cid())
	require.Len(t, presences, 2)
}

type fakeGetter map[cid.Cid]*block.Block

func (f fakeGetter) Get(c cid.Cid) (*block.Block, error) {
	b, ok := f[c]
	if !ok {
		return nil, fmt.Errorf("not found: %s", c)
	}
	return b, nil
}
