package nats

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/partitionkit/streamproc/core/stream"
)

func TestJetStreamLog_appendAndReadBack(t *testing.T) {
	connectNatsC := NewTestContainer(t)

	log, err := NewJetStreamLog(t.Context(), LogConfig{
		Connect:     connectNatsC,
		PartitionID: 1,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })

	pos, err := log.Writer().Append(t.Context(), []stream.Record{
		{Key: "o-1", Type: stream.TypeKey{ValueType: "order", Intent: "create"}, Payload: []byte("p1")},
	})
	require.NoError(t, err)
	require.Equal(t, stream.Position(0), pos)

	reader, err := log.OpenReader(t.Context(), stream.UnsetPosition)
	require.NoError(t, err)
	defer reader.Close()

	rec, err := reader.Next(t.Context())
	require.NoError(t, err)
	require.Equal(t, "o-1", rec.Key)
	require.Equal(t, stream.Position(0), rec.Position)
	require.True(t, rec.IsCommand())
	require.Equal(t, []byte("p1"), rec.Payload)

	highest, err := log.HighestPosition(t.Context())
	require.NoError(t, err)
	require.Equal(t, stream.Position(0), highest)
}

func TestJetStreamLog_seekToNextEventSkipsFirstRecord(t *testing.T) {
	connectNatsC := NewTestContainer(t)

	log, err := NewJetStreamLog(t.Context(), LogConfig{
		Connect:     connectNatsC,
		PartitionID: 2,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })

	_, err = log.Writer().Append(t.Context(), []stream.Record{
		{Key: "a", Type: stream.TypeKey{ValueType: "order", Intent: "create"}},
	})
	require.NoError(t, err)
	_, err = log.Writer().Append(t.Context(), []stream.Record{
		{Key: "b", Type: stream.TypeKey{ValueType: "order", Intent: "create"}},
	})
	require.NoError(t, err)

	reader, err := log.OpenReader(t.Context(), stream.UnsetPosition)
	require.NoError(t, err)
	defer reader.Close()

	require.NoError(t, reader.SeekToNextEvent(t.Context(), stream.Position(0)))
	rec, err := reader.Next(t.Context())
	require.NoError(t, err)
	require.Equal(t, "b", rec.Key)
}
