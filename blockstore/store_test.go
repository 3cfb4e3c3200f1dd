package blockstore

import (
	"testing"

	"github.com/ipfs/go-cid"
	"github.com/stretchr/testify/require"

	"bex/block"
	"bex/cidutil"
	"bex/errs"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(Config{Dir: t.TempDir()})
	require.NoError(t, err)
	return s
}

func TestPutGetRoundTrip(t *testing.T) {
	s := newTestStore(t)
	b, err := block.New([]byte("hello blockstore"), cidutil.Prefix(cid.Raw, cidutil.DefaultHash, -1))
	require.NoError(t, err)

	require.NoError(t, s.Put(b))

	got, err := s.Get(b.Cid())
	require.NoError(t, err)
	require.Equal(t, b.RawData(), got.RawData())

	ok, err := s.Exists(b.Cid())
	require.NoError(t, err)
	require.True(t, ok)
}

func TestGetMissingIsNotFound(t *testing.T) {
	s := newTestStore(t)
	b, err := block.New([]byte("never stored"), cidutil.Prefix(cid.Raw, cidutil.DefaultHash, -1))
	require.NoError(t, err)

	_, err = s.Get(b.Cid())
	require.True(t, errs.IsNotFound(err))
}

func TestVirtualBlocksNeverTouchDisk(t *testing.T) {
	s := newTestStore(t)

	b, err := s.Get(s.EmptyNodeCid())
	require.NoError(t, err)
	require.Empty(t, b.RawData())

	ok, err := s.Exists(s.EmptyDirCid())
	require.NoError(t, err)
	require.True(t, ok)

	entries, err := readDir(s)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestIdentityBlockNeverPersisted(t *testing.T) {
	s := newTestStore(t)
	b, err := block.NewIdentity([]byte("tiny"), cid.Raw)
	require.NoError(t, err)

	require.NoError(t, s.Put(b))
	got, err := s.Get(b.Cid())
	require.NoError(t, err)
	require.Equal(t, []byte("tiny"), got.RawData())

	entries, err := readDir(s)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestRemove(t *testing.T) {
	s := newTestStore(t)
	b, err := block.New([]byte("removable"), cidutil.Prefix(cid.Raw, cidutil.DefaultHash, -1))
	require.NoError(t, err)
	require.NoError(t, s.Put(b))
	require.NoError(t, s.Remove(b.Cid()))

	ok, err := s.Exists(b.Cid())
	require.NoError(t, err)
	require.False(t, ok)
}

func TestBlockTooLarge(t *testing.T) {
	s, err := New(Config{Dir: t.TempDir(), MaxBlockSize: 4})
	require.NoError(t, err)
	b, err := block.New([]byte("waytoobig"), cidutil.Prefix(cid.Raw, cidutil.DefaultHash, -1))
	require.NoError(t, err)
	err = s.Put(b)
	require.ErrorIs(t, err, errs.ErrBlockTooLarge)
}

func readDir(s *Store) ([]cid.Cid, error) {
	out, errc := s.Names()
	var entries []cid.Cid
	for c := range out {
		entries = append(entries, c)
	}
	return entries, <-errc
}
