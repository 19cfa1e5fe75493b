package stream

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/partitionkit/streamproc/core/actor/v2"
	"github.com/partitionkit/streamproc/core/sf"
)

// LifecycleState is the Supervisor's coarse state, per spec.md §4.5's
// transition diagram: Reprocessing runs once, then Processing and Paused
// cycle freely, and any state can fall into the terminal Failed or Closed
// states.
type LifecycleState int

const (
	StateReprocessing LifecycleState = iota
	StateProcessing
	StatePaused
	StateFailed
	StateClosed
)

func (s LifecycleState) String() string {
	switch s {
	case StateProcessing:
		return "processing"
	case StatePaused:
		return "paused"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "reprocessing"
	}
}

// FailureListener is notified exactly once, in registration order, when
// the engine transitions to Failed.
type FailureListener func(err error)

// EngineConfig wires a Supervisor's collaborators for one partition.
type EngineConfig struct {
	PartitionID int
	Log         Log
	Store       StateStore
	Registry    *HandlerRegistry
	Metrics     StreamMetrics
	Logger      *slog.Logger
	RetryPolicy RetryPolicy

	// pollInterval bounds how often the processing loop checks for new
	// records when the reader has caught up to the log's tail; adapters
	// with a blocking live Reader.Next can leave this at its zero value.
	PollInterval time.Duration
}

// Engine is the Supervisor: it owns collaborator setup, drives recovery
// once, then hosts the Processing State Machine for the partition's
// lifetime, exposing pause/resume/health/failure-notification. All
// mutable engine state is touched from exactly one goroutine, the hosting
// actor's mailbox loop.
type Engine struct {
	act       actor.Actor
	cfg       EngineConfig
	failureRe *failureRegistry
	commits   *commitSignal

	// posGroup collapses concurrent external LastProcessedPosition /
	// LastWrittenPosition calls into a single actor round trip each,
	// rather than letting every caller queue its own message.
	posGroup *sf.Singleflight[Position]
}

// failureRegistry decouples FailureListener registration (an ordinary
// method call, since a func value cannot cross the actor's JSON-encoded
// mailbox) from notification (which happens on the actor's goroutine).
type failureRegistry struct {
	mu        sync.Mutex
	listeners []FailureListener
}

func (r *failureRegistry) add(l FailureListener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, l)
}

func (r *failureRegistry) notify(err error) {
	r.mu.Lock()
	listeners := make([]FailureListener, len(r.listeners))
	copy(listeners, r.listeners)
	r.mu.Unlock()
	for _, l := range listeners {
		l(err)
	}
}

// internal actor message types
type (
	openMsg                     struct{}
	closeMsg                    struct{}
	pauseMsg                    struct{}
	resumeMsg                   struct{}
	getLastProcessedPositionMsg struct{}
	getLastWrittenPositionMsg   struct{}
	getHealthStatusMsg          struct{}
	stepMsg                     struct{}

	positionResult struct{ Position Position }
	healthResult   struct{ Status HealthStatus }
)

// engineState holds everything mutated by the actor's handlers; it is
// captured by closures registered with the TypedHandlerRegistry and never
// touched outside the actor's own goroutine, with the exception of
// lifecycleAtomic below, cfg (never modified after NewEngine) and the
// mutex-guarded commits, which the driveLoop goroutine also reads.
type engineState struct {
	cfg     EngineConfig
	sc      *Context
	metrics StreamMetrics
	health  *healthMonitor

	lifecycle       LifecycleState
	lifecycleAtomic atomic.Int32 // mirrors lifecycle for driveLoop's pacing decision
	proc            *ProcessingMachine

	lastWritten Position
	failureRe   *failureRegistry
	commits     *commitSignal

	loopCancel context.CancelFunc
}

// NewEngine constructs a Supervisor for one partition. Call Open to begin
// recovery and processing.
func NewEngine(cfg EngineConfig) *Engine {
	if cfg.Metrics == nil {
		cfg.Metrics = NopStreamMetrics()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.RetryPolicy == (RetryPolicy{}) {
		cfg.RetryPolicy = DefaultRetryPolicy()
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 50 * time.Millisecond
	}

	failureRe := &failureRegistry{}
	commits := newCommitSignal()
	st := &engineState{cfg: cfg, health: newHealthMonitor(), metrics: cfg.Metrics, failureRe: failureRe, commits: commits}

	var openErr error
	registry := actor.TypedHandlers(
		actor.Init(func(hc actor.HandlerCtx) error {
			openErr = st.open(hc)
			return openErr
		}),
		actor.HandleMsg[openMsg](func(hc actor.HandlerCtx, _ openMsg) error { return openErr }),
		actor.HandleMsg[closeMsg](func(hc actor.HandlerCtx, _ closeMsg) error {
			return st.close()
		}),
		actor.HandleMsg[pauseMsg](func(hc actor.HandlerCtx, _ pauseMsg) error {
			return st.pause()
		}),
		actor.HandleMsg[resumeMsg](func(hc actor.HandlerCtx, _ resumeMsg) error {
			return st.resume(hc)
		}),
		actor.HandleRequest[getLastProcessedPositionMsg, positionResult](
			func(hc actor.HandlerCtx, _ getLastProcessedPositionMsg) (*positionResult, error) {
				pos, err := st.cfg.Store.LastProcessedPosition(hc)
				if err != nil {
					return nil, err
				}
				return &positionResult{Position: pos}, nil
			},
		),
		actor.HandleRequest[getLastWrittenPositionMsg, positionResult](
			func(hc actor.HandlerCtx, _ getLastWrittenPositionMsg) (*positionResult, error) {
				return &positionResult{Position: st.lastWritten}, nil
			},
		),
		actor.HandleRequest[getHealthStatusMsg, healthResult](
			func(hc actor.HandlerCtx, _ getHealthStatusMsg) (*healthResult, error) {
				status := st.health.status()
				if st.lifecycle == StateFailed || st.lifecycle == StateClosed {
					status = Unhealthy
				}
				return &healthResult{Status: status}, nil
			},
		),
		actor.HandleMsg[stepMsg](func(hc actor.HandlerCtx, _ stepMsg) error {
			return st.step(hc)
		}),
	)

	return &Engine{
		act: registry.ToActor(actor.Options{
			Logger: cfg.Logger,
			OnPanic: func(recovered any, stack []byte, msg any) {
				cfg.Logger.Error("stream engine panicked",
					slog.Any("recovered", recovered), slog.Any("msg", msg))
				st.fail(fmt.Errorf("panic: %v", recovered))
			},
		}),
		cfg:       cfg,
		failureRe: failureRe,
		commits:   commits,
		posGroup:  sf.New[Position](),
	}
}

// AddFailureListener registers l to be invoked, exactly once and in
// registration order, if this partition transitions to Failed. Safe to
// call at any time, including before Open.
func (e *Engine) AddFailureListener(l FailureListener) {
	e.failureRe.add(l)
}

// Open blocks until recovery has completed and processing has started.
// Recovery itself runs synchronously inside actor initialization, before
// the actor accepts any other message, so Open returning nil guarantees
// the partition is caught up to at least the position observed at start.
func (e *Engine) Open(ctx context.Context) error {
	return actor.Publish(ctx, e.act, openMsg{})
}

// Close stops the processing loop and releases collaborators. Idempotent.
func (e *Engine) Close(ctx context.Context) error {
	select {
	case <-e.act.Done():
		return nil
	default:
	}
	err := actor.Publish(ctx, e.act, closeMsg{})
	e.act.Stop()
	return err
}

// PauseProcessing stops the loop from starting new iterations; an
// in-flight iteration completes first.
func (e *Engine) PauseProcessing(ctx context.Context) error {
	return actor.Publish(ctx, e.act, pauseMsg{})
}

// ResumeProcessing restarts the loop after a pause.
func (e *Engine) ResumeProcessing(ctx context.Context) error {
	return actor.Publish(ctx, e.act, resumeMsg{})
}

// LastProcessedPosition returns the store's committed watermark.
func (e *Engine) LastProcessedPosition(ctx context.Context) (Position, error) {
	pos, err := e.posGroup.Do("last-processed", func() (*Position, error) {
		res, err := actor.Request[getLastProcessedPositionMsg, positionResult](ctx, e.act, getLastProcessedPositionMsg{})
		if err != nil {
			return nil, err
		}
		return &res.Position, nil
	})
	if err != nil {
		return UnsetPosition, err
	}
	return *pos, nil
}

// LastWrittenPosition returns the highest position this partition has
// appended to the log (including follow-ups), independent of commit.
func (e *Engine) LastWrittenPosition(ctx context.Context) (Position, error) {
	pos, err := e.posGroup.Do("last-written", func() (*Position, error) {
		res, err := actor.Request[getLastWrittenPositionMsg, positionResult](ctx, e.act, getLastWrittenPositionMsg{})
		if err != nil {
			return nil, err
		}
		return &res.Position, nil
	})
	if err != nil {
		return UnsetPosition, err
	}
	return *pos, nil
}

// WaitForCommit blocks until the store's committed watermark advances
// past after, or ctx is done, returning the new watermark. Callers observe
// commit progress this way instead of polling LastProcessedPosition.
func (e *Engine) WaitForCommit(ctx context.Context, after Position) Position {
	return e.commits.waitChanged(ctx, after)
}

// HealthStatus reports the partition's current liveness.
func (e *Engine) HealthStatus(ctx context.Context) (HealthStatus, error) {
	res, err := actor.Request[getHealthStatusMsg, healthResult](ctx, e.act, getHealthStatusMsg{})
	if err != nil {
		return Unhealthy, err
	}
	return res.Status, nil
}

// --- engineState methods, run only on the actor's goroutine ---

// setLifecycle updates the authoritative state and its atomic mirror,
// which driveLoop's separate goroutine reads instead of lifecycle.
func (st *engineState) setLifecycle(s LifecycleState) {
	st.lifecycle = s
	st.lifecycleAtomic.Store(int32(s))
}

func (st *engineState) open(hc actor.HandlerCtx) error {
	st.sc = newContext(st.cfg.PartitionID, st.cfg.Logger)
	st.sc.setLog(st.cfg.Log)
	st.sc.setStore(st.cfg.Store)
	st.sc.setRegistry(st.cfg.Registry)
	st.sc.setMaxFragmentSize(st.cfg.Log.Writer().MaxFragmentLength())
	st.sc.setAbortPredicate(func() bool { return st.lifecycle != StateProcessing })

	if err := st.cfg.Registry.notifyLifecycle(func(l Lifecycle) error { return l.OnOpen() }); err != nil {
		return err
	}

	recoveryTimer := st.metrics.RecoveryDuration(st.cfg.PartitionID)
	resumeAt, err := (ReprocessingMachine{}).Run(hc, st.sc)
	recoveryTimer.ObserveDuration()
	if err != nil {
		st.fail(err)
		return fmt.Errorf("recovery failed: %w", err)
	}
	st.lastWritten = resumeAt
	st.commits.set(resumeAt)

	if err := st.cfg.Registry.notifyLifecycle(func(l Lifecycle) error { return l.OnRecovered() }); err != nil {
		return err
	}

	proc, err := NewProcessingMachine(hc, st.sc, resumeAt, st.cfg.RetryPolicy)
	if err != nil {
		st.fail(err)
		return fmt.Errorf("open processing loop: %w", err)
	}
	st.proc = proc
	st.setLifecycle(StateProcessing)
	st.metrics.Health(st.cfg.PartitionID, true)
	st.health.beat()

	loopCtx, cancel := context.WithCancel(hc)
	st.loopCancel = cancel
	go st.driveLoop(loopCtx, hc)

	return nil
}

// driveLoop feeds stepMsg into the actor's own mailbox so every iteration
// still executes sequentially inside the actor's goroutine; pause/resume
// preempt between sends exactly as any other control message would.
func (st *engineState) driveLoop(ctx context.Context, hc actor.HandlerCtx) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if err := hc.Send(ctx, stepMsg{}); err != nil {
			return
		}
		idle := LifecycleState(st.lifecycleAtomic.Load()) != StateProcessing
		if !idle {
			highest, err := st.cfg.Log.HighestPosition(ctx)
			idle = err != nil || highest <= st.commits.current()
		}
		if idle {
			select {
			case <-ctx.Done():
				return
			case <-time.After(st.cfg.PollInterval):
			}
		}
	}
}

func (st *engineState) step(hc actor.HandlerCtx) error {
	if st.lifecycle != StateProcessing {
		return nil
	}
	if st.sc.Aborted() {
		return nil
	}
	// Caught up: the reader would block in Next, so report liveness and
	// leave the mailbox free instead.
	highest, err := st.cfg.Log.HighestPosition(hc)
	if err != nil {
		st.fail(err)
		return err
	}
	if highest <= st.commits.current() {
		st.health.beat()
		return nil
	}

	iterTimer := st.metrics.IterationDuration(st.cfg.PartitionID)
	out, err := st.proc.Step(hc, st.sc)
	iterTimer.ObserveDuration()
	if err != nil {
		st.fail(err)
		return err
	}

	st.health.beat()
	if out.Advanced {
		st.lastWritten = out.Position
		st.commits.set(out.Position)
		if out.Skipped {
			st.metrics.RecordSkipped(st.cfg.PartitionID, out.Type.ValueType)
		} else {
			st.metrics.RecordProcessed(st.cfg.PartitionID, out.Type.ValueType, out.Type.Intent)
		}
	}
	return nil
}

func (st *engineState) pause() error {
	if st.lifecycle != StateProcessing {
		return ErrNotProcessing
	}
	st.setLifecycle(StatePaused)
	if err := st.cfg.Registry.notifyLifecycle(func(l Lifecycle) error { return l.OnPaused() }); err != nil {
		st.cfg.Logger.Warn("pause lifecycle listener error", "error", err)
	}
	return nil
}

func (st *engineState) resume(hc actor.HandlerCtx) error {
	if st.lifecycle != StatePaused {
		return ErrNotPaused
	}
	st.setLifecycle(StateProcessing)
	st.health.beat()
	if err := st.cfg.Registry.notifyLifecycle(func(l Lifecycle) error { return l.OnResumed() }); err != nil {
		st.cfg.Logger.Warn("resume lifecycle listener error", "error", err)
	}
	return nil
}

func (st *engineState) close() error {
	if st.lifecycle == StateClosed {
		return nil
	}
	if st.loopCancel != nil {
		st.loopCancel()
	}
	if st.proc != nil {
		_ = st.proc.Close()
	}
	prev := st.lifecycle
	st.setLifecycle(StateClosed)
	if prev != StateFailed {
		if err := st.cfg.Registry.notifyLifecycle(func(l Lifecycle) error { return l.OnClose() }); err != nil {
			st.cfg.Logger.Warn("close lifecycle listener error", "error", err)
		}
	}
	return nil
}

func (st *engineState) fail(err error) {
	if st.lifecycle == StateFailed {
		return
	}
	st.setLifecycle(StateFailed)
	st.metrics.Health(st.cfg.PartitionID, false)
	st.failureRe.notify(err)
	for _, lc := range st.cfg.Registry.Lifecycles() {
		lc.OnFailed(err)
	}
}
