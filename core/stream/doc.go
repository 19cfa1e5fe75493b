// Package stream implements the per-partition stream processor: a durable,
// single-writer engine that reads an append-only, totally-ordered log of
// records for one partition, applies deterministic handlers, persists
// derived state in an embedded key-value store, and appends follow-up
// records back to the log.
//
// # Core components
//
// [Context] bundles the collaborators shared by both state machines (the
// log reader/writer, the handler [HandlerRegistry], the [StateStore], a
// [RecordValueCache] and an abort predicate). Its collaborators are set
// during supervisor setup; the current transaction and staged follow-ups
// change per record on the state machine's goroutine.
//
// [ReprocessingMachine] replays the log from the store's snapshot boundary
// up to the last position written before a crash, reapplying store
// mutations without re-emitting follow-up records. [ProcessingMachine] is
// the steady-state read/apply/persist/write/acknowledge loop.
//
// [Engine] is the outer lifecycle owner: it opens collaborators, drives
// recovery, exposes pause/resume/health, and forwards failures. It hosts
// both state machines on a single cooperative task using
// github.com/partitionkit/streamproc/core/actor/v2, so all mutable engine
// state is touched from exactly one goroutine per partition.
//
//	registry := stream.NewHandlerRegistry()
//	registry.Register("order", "create", myHandler)
//
//	engine := stream.NewEngine(stream.EngineConfig{
//	    PartitionID: 1,
//	    Log:         natsLog,
//	    Store:       pebbleStore,
//	    Registry:    registry,
//	})
//	if err := engine.Open(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer engine.Close(ctx)
package stream
