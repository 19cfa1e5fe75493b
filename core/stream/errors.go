package stream

import "errors"

var (
	// ErrEngineClosed names the Closed terminal state. Engine's methods do
	// not return it: after Close they fail with the hosting actor's
	// "actor stopped" error.
	ErrEngineClosed = errors.New("stream: engine closed")

	// ErrEngineFailed names the Failed terminal state. Engine's methods do
	// not return it: Open returns the recovery error itself, and pause or
	// resume on a failed engine return ErrNotProcessing or ErrNotPaused.
	ErrEngineFailed = errors.New("stream: engine failed")

	// ErrCannotRecover is returned when the Reprocessing State Machine
	// cannot establish a consistent boundary (e.g. the store's recorded
	// position has no corresponding record in the log).
	ErrCannotRecover = errors.New("stream: cannot recover partition")

	// ErrConcurrentWriter is returned by a StateStore/Log implementation
	// that detects a second writer for the same partition, violating the
	// single-writer invariant.
	ErrConcurrentWriter = errors.New("stream: concurrent writer detected")

	// ErrNotPaused is returned by resumeProcessing when the engine is not
	// currently in the Paused state.
	ErrNotPaused = errors.New("stream: engine not paused")

	// ErrNotProcessing is returned by pauseProcessing when the engine is
	// not currently in the Processing state.
	ErrNotProcessing = errors.New("stream: engine not processing")

	// ErrRecordTooLarge is returned by a BatchWriter when a record exceeds
	// the log's maximum fragment size.
	ErrRecordTooLarge = errors.New("stream: record exceeds max fragment size")
)
