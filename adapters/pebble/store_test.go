package pebble

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/partitionkit/streamproc/core/stream"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{Dir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_lastProcessedPositionDefaultsToUnset(t *testing.T) {
	s := openTestStore(t)

	pos, err := s.LastProcessedPosition(t.Context())
	require.NoError(t, err)
	require.Equal(t, stream.UnsetPosition, pos)
}

func TestStore_commitPersistsScalarAndKeys(t *testing.T) {
	s := openTestStore(t)

	tx, err := s.Begin(t.Context())
	require.NoError(t, err)
	require.NoError(t, tx.Put(t.Context(), "k", []byte("v")))
	tx.SetProcessedPosition(stream.Position(7))
	require.NoError(t, tx.Commit(t.Context()))

	pos, err := s.LastProcessedPosition(t.Context())
	require.NoError(t, err)
	require.Equal(t, stream.Position(7), pos)

	tx2, err := s.Begin(t.Context())
	require.NoError(t, err)
	defer tx2.Discard()
	v, err := tx2.Get(t.Context(), "k")
	require.NoError(t, err)
	require.Equal(t, []byte("v"), v)
}

func TestStore_discardDropsWrites(t *testing.T) {
	s := openTestStore(t)

	tx, err := s.Begin(t.Context())
	require.NoError(t, err)
	require.NoError(t, tx.Put(t.Context(), "k", []byte("v")))
	tx.Discard()

	tx2, err := s.Begin(t.Context())
	require.NoError(t, err)
	defer tx2.Discard()
	_, err = tx2.Get(t.Context(), "k")
	require.ErrorIs(t, err, stream.ErrKeyNotFound)
}

func TestStore_indexedBatchSeesOwnUncommittedWrites(t *testing.T) {
	s := openTestStore(t)

	tx, err := s.Begin(t.Context())
	require.NoError(t, err)
	defer tx.Discard()
	require.NoError(t, tx.Put(t.Context(), "k", []byte("v")))

	v, err := tx.Get(t.Context(), "k")
	require.NoError(t, err)
	require.Equal(t, []byte("v"), v)
}

func TestStore_saveAndLoadSnapshot(t *testing.T) {
	s := openTestStore(t)

	_, _, err := s.LoadSnapshot(t.Context())
	require.NoError(t, err)

	require.NoError(t, s.SaveSnapshot(t.Context(), stream.Position(3), []byte("snap")))

	pos, data, err := s.LoadSnapshot(t.Context())
	require.NoError(t, err)
	require.Equal(t, stream.Position(3), pos)
	require.Equal(t, []byte("snap"), data)
}
