package builder

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"bex/blockstore"
	"bex/reader"
)

func TestAddSmallFileRoundTrip(t *testing.T) {
	s, err := blockstore.New(blockstore.Config{Dir: t.TempDir()})
	require.NoError(t, err)

	content := []byte("hello, chunked world")
	root, err := Add(context.Background(), bytes.NewReader(content), Options{}, s, nil)
	require.NoError(t, err)

	r, err := reader.New(s, root)
	require.NoError(t, err)
	require.EqualValues(t, len(content), r.Length())

	got := make([]byte, len(content))
	_, err = r.Read(got)
	require.NoError(t, err)
	require.Equal(t, content, got)
}

func TestAddMultiLevelTree(t *testing.T) {
	s, err := blockstore.New(blockstore.Config{Dir: t.TempDir()})
	require.NoError(t, err)

	content := []byte(strings.Repeat("abcdefgh", 4000)) // forces many chunks
	root, err := Add(context.Background(), bytes.NewReader(content), Options{ChunkSize: 64, Fanout: 4}, s, nil)
	require.NoError(t, err)

	r, err := reader.New(s, root)
	require.NoError(t, err)
	require.EqualValues(t, len(content), r.Length())

	var got bytes.Buffer
	buf := make([]byte, 37) // deliberately uneven read size
	for {
		n, err := r.Read(buf)
		got.Write(buf[:n])
		if err != nil {
			break
		}
	}
	require.Equal(t, content, got.Bytes())
}

func TestAddRawLeaves(t *testing.T) {
	s, err := blockstore.New(blockstore.Config{Dir: t.TempDir()})
	require.NoError(t, err)

	content := []byte(strings.Repeat("x", 300))
	root, err := Add(context.Background(), bytes.NewReader(content), Options{ChunkSize: 32, RawLeaves: true}, s, nil)
	require.NoError(t, err)

	r, err := reader.New(s, root)
	require.NoError(t, err)
	require.EqualValues(t, len(content), r.Length())
}

func TestAddEmptyFile(t *testing.T) {
	s, err := blockstore.New(blockstore.Config{Dir: t.TempDir()})
	require.NoError(t, err)

	root, err := Add(context.Background(), bytes.NewReader(nil), Options{}, s, nil)
	require.NoError(t, err)

	r, err := reader.New(s, root)
	require.NoError(t, err)
	require.EqualValues(t, 0, r.Length())
}

func TestOnlyHashDoesNotPersist(t *testing.T) {
	s, err := blockstore.New(blockstore.Config{Dir: t.TempDir()})
	require.NoError(t, err)

	content := []byte("not actually stored")
	root, err := Add(context.Background(), bytes.NewReader(content), Options{OnlyHash: true}, s, nil)
	require.NoError(t, err)

	ok, err := s.Exists(root)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestTrickleUnsupported(t *testing.T) {
	s, err := blockstore.New(blockstore.Config{Dir: t.TempDir()})
	require.NoError(t, err)
	_, err = Add(context.Background(), bytes.NewReader([]byte("x")), Options{Trickle: true}, s, nil)
	require.Error(t, err)
}

func TestWrapDirectory(t *testing.T) {
	s, err := blockstore.New(blockstore.Config{Dir: t.TempDir()})
	require.NoError(t, err)

	root, err := Add(context.Background(), bytes.NewReader([]byte("wrapped")), Options{Wrap: true, Name: "file.txt"}, s, nil)
	require.NoError(t, err)

	ok, err := s.Exists(root)
	require.NoError(t, err)
	require.True(t, ok)
}
