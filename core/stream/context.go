package stream

import (
	"context"
	"log/slog"
)

// AbortPredicate is consulted between iterations; returning true tells
// both state machines to stop looping and return control to the
// Supervisor (used for pause/drain requests).
type AbortPredicate func() bool

// Context bundles the collaborators shared by the Reprocessing and
// Processing state machines. Its collaborators are set while the Supervisor
// is assembling a partition (via the unexported setters below); while the
// state machines run, the current transaction and the staged follow-ups
// still change for every record, without locking, so a Context is used
// only from the goroutine running the state machine.
type Context struct {
	PartitionID int

	log    Log
	store  StateStore
	reg    *HandlerRegistry
	cache  *RecordValueCache
	logger *slog.Logger

	maxFragmentSize int
	abort           AbortPredicate

	tx      DbContext // the transaction scope for the record currently being applied
	pending []Record  // follow-up records staged by the current handler invocation
}

// newContext builds a Context for partitionID. Collaborators are filled
// in by the Supervisor during Open before either state machine runs.
func newContext(partitionID int, logger *slog.Logger) *Context {
	if logger == nil {
		logger = slog.Default()
	}
	return &Context{
		PartitionID: partitionID,
		cache:       NewRecordValueCache(),
		logger:      logger.With(slog.Int("partition_id", partitionID)),
		abort:       func() bool { return false },
	}
}

func (c *Context) setLog(l Log)                   { c.log = l }
func (c *Context) setStore(s StateStore)           { c.store = s }
func (c *Context) setRegistry(r *HandlerRegistry)  { c.reg = r }
func (c *Context) setMaxFragmentSize(n int)        { c.maxFragmentSize = n }
func (c *Context) setAbortPredicate(p AbortPredicate) {
	if p != nil {
		c.abort = p
	}
}

// Log returns the partition's append-only log.
func (c *Context) Log() Log { return c.log }

// Store returns the partition's embedded key-value state store.
func (c *Context) Store() StateStore { return c.store }

// Tx returns the transaction scope for the record currently being applied.
// Only valid from within a RecordProcessor.Process call.
func (c *Context) Tx() DbContext { return c.tx }

func (c *Context) setTx(tx DbContext) { c.tx = tx }

// Registry returns the handler registry this partition dispatches
// through.
func (c *Context) Registry() *HandlerRegistry { return c.reg }

// Cache returns the per-value-type decoder pool.
func (c *Context) Cache() *RecordValueCache { return c.cache }

// Logger returns a logger pre-bound with this partition's identity.
func (c *Context) Logger() *slog.Logger { return c.logger }

// MaxFragmentSize is the largest single record payload the Log's
// BatchWriter accepts, sourced from the adapter at Supervisor start.
func (c *Context) MaxFragmentSize() int { return c.maxFragmentSize }

// Aborted reports whether the current iteration should stop early (e.g.
// a pause was requested mid-batch).
func (c *Context) Aborted() bool { return c.abort() }

// Emit stages a follow-up record to be appended after the current
// command's handler returns successfully. Ignored outside ModeProcessing
// by the processing state machine's caller (handlers may call it
// unconditionally; the loop discards staged records in ModeReplay).
func (c *Context) Emit(valueType, intent, key string, payload []byte) {
	c.pending = append(c.pending, Record{
		Key:     key,
		Type:    TypeKey{ValueType: valueType, Intent: intent},
		Payload: payload,
		Kind:    KindFollowUp,
	})
}

// takePending returns and clears the follow-up records staged since the
// last call, stamping sourcePos as their SourceEventPosition.
func (c *Context) takePending(sourcePos Position) []Record {
	if len(c.pending) == 0 {
		return nil
	}
	out := make([]Record, len(c.pending))
	for i, r := range c.pending {
		r.SourceEventPosition = sourcePos
		out[i] = r
	}
	c.pending = c.pending[:0]
	return out
}

// background is a convenience for collaborators that need a non-nil
// context.Context but are not handed a request-scoped one (e.g. startup).
func background() context.Context { return context.Background() }
