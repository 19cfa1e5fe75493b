package stream

import (
	"context"
	"errors"
)

// ErrKeyNotFound is returned by DbContext.Get when key has no value.
var ErrKeyNotFound = errors.New("stream: key not found")

// DbContext is one transaction scope against the embedded StateStore. All
// reads and writes made through a DbContext become visible atomically on
// Commit, together with the lastSuccessfulProcessedRecordPosition scalar
// written via SetProcessedPosition — this pairing is invariant I4.
type DbContext interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error

	// SetProcessedPosition stages the scalar write committed atomically
	// with this transaction's other mutations.
	SetProcessedPosition(pos Position)

	Commit(ctx context.Context) error
	// Discard abandons the transaction; safe to call after Commit as a
	// no-op, matching the defer-discard idiom.
	Discard()
}

// StateStore is the embedded key-value store backing one partition: an
// opaque application-state keyspace plus the single distinguished scalar
// lastSuccessfulProcessedRecordPosition, committed together via DbContext.
type StateStore interface {
	// Begin opens a new transaction scope.
	Begin(ctx context.Context) (DbContext, error)

	// LastProcessedPosition returns the most recently committed scalar, or
	// UnsetPosition if nothing has ever been committed.
	LastProcessedPosition(ctx context.Context) (Position, error)

	Close() error
}

// Snapshotter is implemented optionally by a StateStore that can produce
// and restore a point-in-time snapshot of its opaque keyspace. The
// Reprocessing State Machine does not consult it; replay starts from the
// store's LastProcessedPosition.
type Snapshotter interface {
	SaveSnapshot(ctx context.Context, pos Position, data []byte) error
	LoadSnapshot(ctx context.Context) (pos Position, data []byte, err error)
}
