package engine

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"bex/blockstore"
	"bex/builder"
)

func TestAddAndReadBackFile(t *testing.T) {
	e, err := New(Config{Store: blockstore.Config{Dir: t.TempDir()}})
	require.NoError(t, err)

	content := []byte("round trip through the engine facade")
	root, err := e.FileSystem().AddFile(context.Background(), bytes.NewReader(content), builder.Options{})
	require.NoError(t, err)

	r, err := e.FileSystem().GetReader(root)
	require.NoError(t, err)
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, content, got)
}

func TestDirectoryListing(t *testing.T) {
	e, err := New(Config{Store: blockstore.Config{Dir: t.TempDir()}})
	require.NoError(t, err)

	fs := e.FileSystem()
	aRoot, err := fs.AddFile(context.Background(), bytes.NewReader([]byte("a")), builder.Options{})
	require.NoError(t, err)
	bRoot, err := fs.AddFile(context.Background(), bytes.NewReader([]byte("bb")), builder.Options{})
	require.NoError(t, err)

	dir, err := fs.AddDirectory([]DirEntry{
		{Name: "a.txt", ID: aRoot},
		{Name: "b.txt", ID: bRoot},
	})
	require.NoError(t, err)

	entries, err := fs.ListFile(dir)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "a.txt", entries[0].Name)
	require.Equal(t, "b.txt", entries[1].Name)
}
