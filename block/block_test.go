package block

import (
	"testing"

	"github.com/ipfs/go-cid"
	"github.com/stretchr/testify/require"

	"bex/cidutil"
)

func TestNewAndVerify(t *testing.T) {
	data := []byte("the quick brown fox")
	b, err := New(data, cidutil.Prefix(cid.Raw, cidutil.DefaultHash, -1))
	require.NoError(t, err)
	require.Equal(t, data, b.RawData())
	require.NoError(t, Verify(b))
}

func TestFromCIDRejectsCorruption(t *testing.T) {
	data := []byte("payload")
	b, err := New(data, cidutil.Prefix(cid.Raw, cidutil.DefaultHash, -1))
	require.NoError(t, err)

	_, err = FromCID(b.Cid(), []byte("tampered"))
	require.Error(t, err)
}

func TestNewIdentity(t *testing.T) {
	data := []byte("tiny")
	b, err := NewIdentity(data, cid.Raw)
	require.NoError(t, err)
	require.True(t, cidutil.IsIdentity(b.Cid()))
	require.NoError(t, Verify(b))
}
