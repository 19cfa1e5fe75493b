package stream

import (
	"context"
	"fmt"
	"time"
)

type processingState int

const (
	stateIdle processingState = iota
	stateReading
	stateDispatching
	stateWriting
	stateCommitting
	stateRetrying
)

func (s processingState) String() string {
	switch s {
	case stateReading:
		return "reading"
	case stateDispatching:
		return "dispatching"
	case stateWriting:
		return "writing"
	case stateCommitting:
		return "committing"
	case stateRetrying:
		return "retrying"
	default:
		return "idle"
	}
}

// ProcessingMachine is the steady-state read/apply/persist/write/commit
// loop. One Step call performs at most one command's worth of work; the
// Supervisor drives Step repeatedly for as long as the partition is in
// the Processing lifecycle state.
type ProcessingMachine struct {
	reader Reader
	state  processingState
	policy RetryPolicy
}

// NewProcessingMachine opens a live reader positioned just after resumeAt
// and returns a machine ready for repeated Step calls.
func NewProcessingMachine(ctx context.Context, sc *Context, resumeAt Position, policy RetryPolicy) (*ProcessingMachine, error) {
	reader, err := sc.Log().OpenReader(ctx, resumeAt)
	if err != nil {
		return nil, fmt.Errorf("process: open reader: %w", err)
	}
	if resumeAt.IsSet() {
		if err := reader.SeekToNextEvent(ctx, resumeAt); err != nil {
			reader.Close()
			return nil, fmt.Errorf("process: seek reader: %w", err)
		}
	}
	return &ProcessingMachine{reader: reader, state: stateIdle, policy: policy}, nil
}

func (m *ProcessingMachine) Close() error { return m.reader.Close() }

// StepOutcome reports what a single Step accomplished, so the Supervisor
// can drive metrics and health without re-deriving it.
type StepOutcome struct {
	Advanced bool
	Skipped  bool
	Position Position
	Type     TypeKey
}

// Step performs one full iteration: read the next record, dispatch it
// (skip silently if unregistered), persist store effects and the advanced
// position atomically, then append any staged follow-up records. Read
// errors and context cancellation propagate; store/log write failures are
// retried per policy before propagating.
func (m *ProcessingMachine) Step(ctx context.Context, sc *Context) (StepOutcome, error) {
	m.state = stateReading
	rec, err := m.reader.Next(ctx)
	if err != nil {
		return StepOutcome{}, fmt.Errorf("process: read next record: %w", err)
	}

	m.state = stateDispatching
	var attempt int
	var outcome StepOutcome
	for {
		attempt++
		out, stepErr := m.tryApply(ctx, sc, rec)
		if stepErr == nil {
			outcome = out
			break
		}
		if attempt >= m.policy.MaxAttempts {
			return StepOutcome{}, fmt.Errorf("process: apply record at %d: %w", int64(rec.Position), stepErr)
		}
		m.state = stateRetrying
		sc.Logger().Warn("retrying record application",
			"position", int64(rec.Position), "attempt", attempt, "error", stepErr)
		if !sleepOrAbort(ctx, m.policy.backoff(attempt)) {
			return StepOutcome{}, ctx.Err()
		}
	}
	m.state = stateIdle
	return outcome, nil
}

func (m *ProcessingMachine) tryApply(ctx context.Context, sc *Context, rec Record) (StepOutcome, error) {
	dbc, err := sc.Store().Begin(ctx)
	if err != nil {
		return StepOutcome{}, fmt.Errorf("begin transaction: %w", err)
	}

	_, handled := sc.Registry().Lookup(rec.Type)
	if handled {
		if err := applyRecord(sc, dbc, ModeProcessing, rec); err != nil {
			dbc.Discard()
			return StepOutcome{}, err
		}
	}

	followUps := sc.takePending(rec.Position)

	m.state = stateWriting
	if len(followUps) > 0 {
		writePos, err := sc.Log().Writer().Append(ctx, followUps)
		if err != nil {
			dbc.Discard()
			return StepOutcome{}, fmt.Errorf("append follow-ups: %w", err)
		}
		sc.Logger().Debug("appended follow-ups", "count", len(followUps), "highest_position", int64(writePos))
	}

	// Invariant: store effects and the advanced watermark commit together,
	// after the follow-up append succeeds (write-before-commit, I3).
	dbc.SetProcessedPosition(rec.Position)

	m.state = stateCommitting
	if err := dbc.Commit(ctx); err != nil {
		dbc.Discard()
		return StepOutcome{}, fmt.Errorf("commit: %w", err)
	}

	return StepOutcome{Advanced: true, Skipped: !handled, Position: rec.Position, Type: rec.Type}, nil
}

func sleepOrAbort(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
