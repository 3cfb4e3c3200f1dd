package cidutil

import (
	"testing"

	"github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"
	"github.com/stretchr/testify/require"
)

func TestChooseVersion(t *testing.T) {
	require.EqualValues(t, 0, ChooseVersion(cid.DagProtobuf, mh.SHA2_256))
	require.EqualValues(t, 1, ChooseVersion(cid.Raw, mh.SHA2_256))
	require.EqualValues(t, 1, ChooseVersion(cid.DagProtobuf, mh.SHA3_256))
}

func TestSumAndIdentity(t *testing.T) {
	data := []byte("hello world")
	c, err := Sum(data, Prefix(DefaultCodec, DefaultHash, -1))
	require.NoError(t, err)
	require.False(t, IsIdentity(c))
	require.EqualValues(t, 0, c.Version())

	small := []byte("tiny")
	ic, err := Sum(small, IdentityPrefix(cid.Raw))
	require.NoError(t, err)
	require.True(t, IsIdentity(ic))
	digest, ok := InlineDigest(ic)
	require.True(t, ok)
	require.Equal(t, small, digest)
}

func TestShouldInline(t *testing.T) {
	require.True(t, ShouldInline(10, InlineCidLimit, true))
	require.False(t, ShouldInline(10, InlineCidLimit, false))
	require.False(t, ShouldInline(1000, InlineCidLimit, true))
}
