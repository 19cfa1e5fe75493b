// Package pebble implements stream.StateStore on top of an embedded
// Pebble database, one directory per partition.
package pebble

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/partitionkit/streamproc/core/stream"
)

// processedPositionKey is the single distinguished key holding
// lastSuccessfulProcessedRecordPosition, stored alongside application
// state so both commit atomically in the same Pebble batch.
var processedPositionKey = []byte("\x00stream/processed-position")

// Store is the Pebble realization of stream.StateStore.
type Store struct {
	db *pebble.DB
}

// Config controls where the partition's database directory lives.
type Config struct {
	// Dir is the partition's database directory, e.g.
	// "/var/lib/streamproc/p3". Must be unique per partition.
	Dir string
}

// Open opens (creating if absent) the Pebble database at cfg.Dir.
func Open(cfg Config) (*Store, error) {
	if cfg.Dir == "" {
		return nil, errors.New("pebble: Dir is required")
	}
	db, err := pebble.Open(cfg.Dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("pebble: open %s: %w", cfg.Dir, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Begin(context.Context) (stream.DbContext, error) {
	return &tx{db: s.db, batch: s.db.NewIndexedBatch(), pos: stream.UnsetPosition}, nil
}

func (s *Store) LastProcessedPosition(context.Context) (stream.Position, error) {
	v, closer, err := s.db.Get(processedPositionKey)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return stream.UnsetPosition, nil
		}
		return stream.UnsetPosition, err
	}
	defer closer.Close()
	return decodePosition(v), nil
}

// snapshotKey holds the most recent SaveSnapshot payload; snapshotPosKey
// holds the position it was taken at. Both are committed together.
var (
	snapshotKey    = []byte("\x00stream/snapshot")
	snapshotPosKey = []byte("\x00stream/snapshot-position")
)

func (s *Store) SaveSnapshot(_ context.Context, pos stream.Position, data []byte) error {
	batch := s.db.NewBatch()
	defer batch.Close()
	if err := batch.Set(snapshotKey, data, nil); err != nil {
		return err
	}
	if err := batch.Set(snapshotPosKey, encodePosition(pos), nil); err != nil {
		return err
	}
	return batch.Commit(pebble.Sync)
}

func (s *Store) LoadSnapshot(context.Context) (stream.Position, []byte, error) {
	posBytes, closer, err := s.db.Get(snapshotPosKey)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return stream.UnsetPosition, nil, nil
		}
		return stream.UnsetPosition, nil, err
	}
	pos := decodePosition(posBytes)
	closer.Close()

	data, closer, err := s.db.Get(snapshotKey)
	if err != nil {
		return stream.UnsetPosition, nil, err
	}
	defer closer.Close()
	out := make([]byte, len(data))
	copy(out, data)
	return pos, out, nil
}

var (
	_ stream.StateStore  = (*Store)(nil)
	_ stream.Snapshotter = (*Store)(nil)
)

// tx is one Pebble batch used as a stream.DbContext. An indexed batch is
// used so Get observes the transaction's own uncommitted writes.
type tx struct {
	db    *pebble.DB
	batch *pebble.Batch
	pos   stream.Position
	done  bool
}

func (t *tx) Get(_ context.Context, key string) ([]byte, error) {
	v, closer, err := t.batch.Get([]byte(key))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, stream.ErrKeyNotFound
		}
		return nil, err
	}
	defer closer.Close()
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (t *tx) Put(_ context.Context, key string, value []byte) error {
	return t.batch.Set([]byte(key), value, nil)
}

func (t *tx) Delete(_ context.Context, key string) error {
	return t.batch.Delete([]byte(key), nil)
}

func (t *tx) SetProcessedPosition(pos stream.Position) { t.pos = pos }

func (t *tx) Commit(context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	if t.pos.IsSet() {
		if err := t.batch.Set(processedPositionKey, encodePosition(t.pos), nil); err != nil {
			return fmt.Errorf("pebble: stage processed position: %w", err)
		}
	}
	if err := t.batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("pebble: commit batch: %w", err)
	}
	return nil
}

func (t *tx) Discard() {
	if t.done {
		return
	}
	t.done = true
	_ = t.batch.Close()
}

func encodePosition(p stream.Position) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(int64(p)))
	return buf
}

func decodePosition(v []byte) stream.Position {
	if len(v) != 8 {
		return stream.UnsetPosition
	}
	return stream.Position(int64(binary.BigEndian.Uint64(v)))
}

var _ stream.DbContext = (*tx)(nil)
