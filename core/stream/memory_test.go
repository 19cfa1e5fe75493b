package stream

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemoryLog_appendAssignsSequentialPositions(t *testing.T) {
	log := NewMemoryLog(0)
	pos, err := log.Writer().Append(t.Context(), []Record{{Key: "a"}})
	require.NoError(t, err)
	require.Equal(t, Position(0), pos)

	pos, err = log.Writer().Append(t.Context(), []Record{{Key: "b"}, {Key: "c"}})
	require.NoError(t, err)
	require.Equal(t, Position(2), pos)

	highest, err := log.HighestPosition(t.Context())
	require.NoError(t, err)
	require.Equal(t, Position(2), highest)
}

func TestMemoryLog_readerReadsFromBeginning(t *testing.T) {
	log := NewMemoryLog(0)
	_, err := log.Writer().Append(t.Context(), []Record{{Key: "a"}, {Key: "b"}})
	require.NoError(t, err)

	reader, err := log.OpenReader(t.Context(), UnsetPosition)
	require.NoError(t, err)
	defer reader.Close()

	rec, err := reader.Next(t.Context())
	require.NoError(t, err)
	require.Equal(t, "a", rec.Key)
	require.Equal(t, Position(0), rec.Position)

	rec, err = reader.Next(t.Context())
	require.NoError(t, err)
	require.Equal(t, "b", rec.Key)
}

func TestMemoryLog_seekToNextEvent(t *testing.T) {
	log := NewMemoryLog(0)
	_, err := log.Writer().Append(t.Context(), []Record{{Key: "a"}, {Key: "b"}, {Key: "c"}})
	require.NoError(t, err)

	reader, err := log.OpenReader(t.Context(), UnsetPosition)
	require.NoError(t, err)
	defer reader.Close()

	require.NoError(t, reader.SeekToNextEvent(t.Context(), Position(0)))
	rec, err := reader.Next(t.Context())
	require.NoError(t, err)
	require.Equal(t, "b", rec.Key)
}

func TestMemoryStore_commitPersistsScalarAndKeys(t *testing.T) {
	store := NewMemoryStore()

	pos, err := store.LastProcessedPosition(t.Context())
	require.NoError(t, err)
	require.Equal(t, UnsetPosition, pos)

	tx, err := store.Begin(t.Context())
	require.NoError(t, err)
	require.NoError(t, tx.Put(t.Context(), "k", []byte("v")))
	tx.SetProcessedPosition(Position(5))
	require.NoError(t, tx.Commit(t.Context()))

	pos, err = store.LastProcessedPosition(t.Context())
	require.NoError(t, err)
	require.Equal(t, Position(5), pos)

	tx2, err := store.Begin(t.Context())
	require.NoError(t, err)
	v, err := tx2.Get(t.Context(), "k")
	require.NoError(t, err)
	require.Equal(t, []byte("v"), v)
	tx2.Discard()
}

func TestMemoryStore_discardDropsWrites(t *testing.T) {
	store := NewMemoryStore()

	tx, err := store.Begin(t.Context())
	require.NoError(t, err)
	require.NoError(t, tx.Put(t.Context(), "k", []byte("v")))
	tx.Discard()

	tx2, err := store.Begin(t.Context())
	require.NoError(t, err)
	defer tx2.Discard()
	_, err = tx2.Get(t.Context(), "k")
	require.ErrorIs(t, err, ErrKeyNotFound)
}
