package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"bex/blockstore"
	"bex/errs"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := New(Config{Store: blockstore.Config{Dir: t.TempDir()}})
	require.NoError(t, err)
	return e
}

func TestStartStopLifecycle(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.Stop()) // safe before Start

	require.NoError(t, e.Start(context.Background()))
	require.ErrorIs(t, e.Start(context.Background()), errs.ErrAlreadyStarted)
	require.NoError(t, e.Stop())
	require.NoError(t, e.Stop()) // safe to call twice
}

func TestHandlesAccessible(t *testing.T) {
	e := newTestEngine(t)
	require.NotNil(t, e.Block())
	require.NotNil(t, e.FileSystem())
	require.NotNil(t, e.Bitswap())
	require.Nil(t, e.Router())
	require.Nil(t, e.Swarm())
}
