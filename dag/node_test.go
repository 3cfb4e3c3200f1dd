package dag

import (
	"testing"

	"github.com/ipfs/go-cid"
	"github.com/stretchr/testify/require"
)

func TestNodeRoundTrip(t *testing.T) {
	leafCid, err := cid.Parse("bafkreigh2akiscaildcqabsyg3dfr6chu3fgpregiymsck7e7aqa4s52zy")
	require.NoError(t, err)

	n := &Node{
		Data: (&UnixFS{Type: TFile, FileSize: 11, BlockSizes: []uint64{11}}).Marshal(),
		Links: []Link{
			{Name: "child", ID: leafCid, Size: 11},
		},
	}
	raw, err := n.Marshal()
	require.NoError(t, err)

	out, err := Unmarshal(raw)
	require.NoError(t, err)
	require.Len(t, out.Links, 1)
	require.Equal(t, "child", out.Links[0].Name)
	require.True(t, out.Links[0].ID.Equals(leafCid))
	require.EqualValues(t, 11, out.Links[0].Size)

	ufs, err := UnmarshalUnixFS(out.Data)
	require.NoError(t, err)
	require.Equal(t, TFile, ufs.Type)
	require.EqualValues(t, 11, ufs.FileSize)
	require.Equal(t, []uint64{11}, ufs.BlockSizes)
}

func TestNodeCidDeterministic(t *testing.T) {
	n := &Node{Data: (&UnixFS{Type: TRaw, Data: []byte("x")}).Marshal()}
	c1, err := n.Cid()
	require.NoError(t, err)
	c2, err := n.Cid()
	require.NoError(t, err)
	require.True(t, c1.Equals(c2))
}

func TestUnixFSEmptyDirectory(t *testing.T) {
	raw := (&UnixFS{Type: TDirectory}).Marshal()
	u, err := UnmarshalUnixFS(raw)
	require.NoError(t, err)
	require.Equal(t, TDirectory, u.Type)
	require.Empty(t, u.BlockSizes)
}
