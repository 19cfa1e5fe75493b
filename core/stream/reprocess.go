package stream

import (
	"context"
	"errors"
	"fmt"
)

// ReprocessingMachine performs the one-shot crash-recovery replay: it scans
// forward from the store's last committed position, reapplies handler
// effects to reach a consistent state, and never re-emits follow-up
// records that a previous run may already have appended. It runs exactly
// once per partition open, before the Processing State Machine starts.
type ReprocessingMachine struct{}

// Run drives recovery to completion, returning the position processing
// should resume from. An empty log or a store with no prior commits both
// resolve to UnsetPosition with no error (spec.md's "empty log" scenario).
func (ReprocessingMachine) Run(ctx context.Context, sc *Context) (Position, error) {
	logger := sc.Logger().With("component", "reprocess")

	lastProcessed, err := sc.Store().LastProcessedPosition(ctx)
	if err != nil {
		return UnsetPosition, fmt.Errorf("reprocess: read last processed position: %w", err)
	}

	boundary, err := scanRecoveryBoundary(ctx, sc, lastProcessed)
	if err != nil {
		return UnsetPosition, err
	}
	if boundary == lastProcessed {
		logger.Debug("nothing to reprocess", "last_processed", int64(lastProcessed))
		return lastProcessed, nil
	}

	logger.Debug("reprocessing to boundary",
		"last_processed", int64(lastProcessed), "boundary", int64(boundary))

	reader, err := sc.Log().OpenReader(ctx, lastProcessed)
	if err != nil {
		return UnsetPosition, fmt.Errorf("reprocess: open reader: %w", err)
	}
	defer reader.Close()

	if lastProcessed.IsSet() {
		if err := reader.SeekToNextEvent(ctx, lastProcessed); err != nil {
			return UnsetPosition, fmt.Errorf("%w: partition %d missing record at position %d: %v",
				ErrCannotRecover, sc.PartitionID, int64(lastProcessed), err)
		}
	}

	replayed := 0
	cur := lastProcessed
	for cur < boundary {
		rec, err := reader.Next(ctx)
		if err != nil {
			return UnsetPosition, fmt.Errorf("reprocess: read next record: %w", err)
		}

		// Follow-up records were already durably appended by the crashed
		// run (or they would not be in the log at all); replay must
		// consume them without applying, advancing past them without
		// touching the store or re-staging new follow-ups.
		if !rec.IsCommand() {
			cur = rec.Position
			continue
		}

		dbc, err := sc.Store().Begin(ctx)
		if err != nil {
			return UnsetPosition, fmt.Errorf("reprocess: begin transaction: %w", err)
		}
		if err := applyRecord(sc, dbc, ModeReplay, rec); err != nil {
			dbc.Discard()
			return UnsetPosition, fmt.Errorf("reprocess: apply record at %d: %w", int64(rec.Position), err)
		}
		sc.takePending(rec.Position) // discard anything staged during replay
		dbc.SetProcessedPosition(rec.Position)
		if err := dbc.Commit(ctx); err != nil {
			dbc.Discard()
			return UnsetPosition, fmt.Errorf("reprocess: commit at %d: %w", int64(rec.Position), err)
		}

		cur = rec.Position
		replayed++
	}

	logger.Debug("reprocessing complete", "records_replayed", replayed, "resume_at", int64(cur))
	return cur, nil
}

// scanRecoveryBoundary implements the chosen resolution of the open
// question on how far reprocessing must scan: a single forward pass over
// the log from lastProcessed, tracking the greatest position that is the
// source of a follow-up seen so far. The pass stops at the log's highest
// position or at the first position gap, whichever comes first. That
// position is the recovery boundary L: replay must reach it to guarantee
// every command whose follow-ups are already durable has itself been
// applied, but never needs to go further, since nothing beyond L can
// contain effects not yet reflected in the store.
func scanRecoveryBoundary(ctx context.Context, sc *Context, lastProcessed Position) (Position, error) {
	highest, err := sc.Log().HighestPosition(ctx)
	if err != nil {
		return UnsetPosition, fmt.Errorf("reprocess: read highest log position: %w", err)
	}
	if !highest.IsSet() || highest <= lastProcessed {
		return lastProcessed, nil
	}

	reader, err := sc.Log().OpenReader(ctx, lastProcessed)
	if err != nil {
		return UnsetPosition, fmt.Errorf("reprocess: open scan reader: %w", err)
	}
	defer reader.Close()

	if lastProcessed.IsSet() {
		if err := reader.SeekToNextEvent(ctx, lastProcessed); err != nil {
			return UnsetPosition, fmt.Errorf("%w: partition %d missing record at position %d: %v",
				ErrCannotRecover, sc.PartitionID, int64(lastProcessed), err)
		}
	}

	boundary := lastProcessed
	highestSourceSeen := lastProcessed
	for boundary < highest {
		rec, err := reader.Next(ctx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				return UnsetPosition, err
			}
			break
		}
		if rec.Position != boundary+1 {
			// gap: nothing beyond this point was committed contiguously.
			break
		}
		boundary = rec.Position
		if !rec.IsCommand() && rec.SourceEventPosition > highestSourceSeen {
			highestSourceSeen = rec.SourceEventPosition
		}
	}
	return highestSourceSeen, nil
}
