// Package playback replays a sequence of streamed records at a fixed rate.
package playback

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BIST-Research/batbot/internal/logging"
	"github.com/BIST-Research/batbot/internal/metrics"
	"github.com/BIST-Research/batbot/pkg/transport"
)

var (
	ErrInvalidFrequency = errors.New("frequency must be positive")
	ErrAlreadyRunning   = errors.New("playback already running")
	ErrInvalidSequence  = errors.New("invalid sequence")
)

// State is the engine lifecycle state.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Event reports a completed cycle or, when Err is set, the failure that
// ended a run.
type Event struct {
	RunID uuid.UUID
	Cycle int // completed passes over the sequence
	Sent  int // records sent so far in this run
	Err   error
}

// Status is a snapshot of the engine.
type Status struct {
	State State
	RunID uuid.UUID
	Cycle int
	Sent  int
	Index int // next record to send
}

// Config holds engine settings.
type Config struct {
	// EventBuffer is the capacity of the Events channel. Default is 16.
	EventBuffer int

	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

type sleepFunc func(ctx context.Context, d time.Duration) error

// Engine streams a Sequence over a streamed transport from one background
// worker. Start, Stop, Wait, State and Status are safe for concurrent use.
type Engine struct {
	t       transport.Transport
	log     *zap.Logger
	metrics *metrics.Metrics
	events  chan Event
	sleep   sleepFunc

	mu     sync.Mutex
	state  State
	status Status
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// NewEngine creates an idle engine on t.
func NewEngine(t transport.Transport, cfg Config) *Engine {
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 16
	}
	return &Engine{
		t:       t,
		log:     logging.OrNop(cfg.Logger).Named("playback"),
		metrics: cfg.Metrics,
		events:  make(chan Event, cfg.EventBuffer),
		sleep:   sleepCtx,
	}
}

// Events returns the notification channel. When it is full the oldest event
// is dropped, so a slow reader sees the latest cycle count.
func (e *Engine) Events() <-chan Event {
	return e.events
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Status returns a snapshot of the current or last run.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.status
	s.State = e.state
	return s
}

// Start begins replaying seq at frequencyHz records per second.
func (e *Engine) Start(seq *Sequence, frequencyHz float64) error {
	if frequencyHz <= 0 || math.IsNaN(frequencyHz) || math.IsInf(frequencyHz, 0) {
		return fmt.Errorf("%w: %g", ErrInvalidFrequency, frequencyHz)
	}
	if seq == nil || seq.Len() == 0 {
		return fmt.Errorf("%w: empty", ErrInvalidSequence)
	}
	if e.t.Kind() != transport.KindStreamed {
		return fmt.Errorf("playback on %s link: %w", e.t.Kind(), transport.ErrUnsupportedOperation)
	}
	if sc, ok := e.t.(interface{ MotorCount() int }); ok && sc.MotorCount() != seq.MotorCount() {
		return fmt.Errorf("%w: sequence has %d motors, transport %d", ErrInvalidSequence, seq.MotorCount(), sc.MotorCount())
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateIdle {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(context.Background())
	runID := uuid.New()
	period := time.Duration(float64(time.Second) / frequencyHz)

	e.state = StateRunning
	e.status = Status{RunID: runID}
	e.cancel = cancel
	e.done = make(chan struct{})
	e.err = nil
	e.metrics.SetRunning(true)

	e.log.Info("playback started",
		zap.Stringer("run", runID),
		zap.Int("records", seq.Len()),
		zap.Float64("hz", frequencyHz))

	go e.run(ctx, runID, seq, period, e.done)
	return nil
}

// Stop ends the run at the next tick boundary and waits for the worker to
// exit. An in-flight transfer completes first. Stop on an idle engine is a
// no-op.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.state == StateIdle {
		e.mu.Unlock()
		return
	}
	e.state = StateStopping
	e.cancel()
	done := e.done
	e.mu.Unlock()

	<-done
}

// Wait blocks until the current run ends and returns the error that ended
// it, or nil if it was stopped. It returns immediately when idle.
func (e *Engine) Wait() error {
	e.mu.Lock()
	done := e.done
	e.mu.Unlock()
	if done == nil {
		return nil
	}
	<-done

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

func (e *Engine) run(ctx context.Context, runID uuid.UUID, seq *Sequence, period time.Duration, done chan struct{}) {
	var runErr error
	defer func() {
		e.metrics.SetRunning(false)
		e.mu.Lock()
		e.state = StateIdle
		e.err = runErr
		e.cancel()
		close(done)
		e.mu.Unlock()
	}()

	// Transfers are never interrupted by Stop; only the sleep is.
	sendCtx := context.WithoutCancel(ctx)

	idx, cycle, sent := 0, 0, 0
	for {
		if ctx.Err() != nil {
			e.log.Info("playback stopped", zap.Stringer("run", runID), zap.Int("cycles", cycle), zap.Int("sent", sent))
			return
		}

		if err := e.t.Send(sendCtx, seq.Record(idx)); err != nil {
			runErr = fmt.Errorf("record %d: %w", idx, err)
			e.metrics.PlaybackFailed()
			e.log.Error("playback failed", zap.Stringer("run", runID), zap.Error(runErr))
			e.emit(Event{RunID: runID, Cycle: cycle, Sent: sent, Err: runErr})
			return
		}
		sent++
		e.metrics.RecordSent()

		idx++
		if idx == seq.Len() {
			idx = 0
			cycle++
			e.metrics.CycleCompleted()
			e.emit(Event{RunID: runID, Cycle: cycle, Sent: sent})
		}

		e.mu.Lock()
		e.status.Cycle, e.status.Sent, e.status.Index = cycle, sent, idx
		e.mu.Unlock()

		if err := e.sleep(ctx, period); err != nil {
			e.log.Info("playback stopped", zap.Stringer("run", runID), zap.Int("cycles", cycle), zap.Int("sent", sent))
			return
		}
	}
}

// emit delivers ev, dropping the oldest queued events to make room. The
// worker is the only sender, so this terminates.
func (e *Engine) emit(ev Event) {
	for {
		select {
		case e.events <- ev:
			return
		default:
		}
		select {
		case <-e.events:
		default:
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
