package engine

import (
	"context"
	"log/slog"

	"github.com/roach88/livestore/internal/event"
	"github.com/roach88/livestore/internal/registry"
)

// Applier applies one envelope. *registry.Registry implements it.
type Applier interface {
	Apply(env event.Envelope) error
}

// Recorder stores envelopes before they are applied. The journal
// implements it.
type Recorder interface {
	Record(ctx context.Context, seq int64, env event.Envelope) error
}

// Engine is the single-writer ingestion loop.
//
// Thread-safety model:
//   - Enqueue(), Stop(), Len(): safe from any goroutine
//   - Run(), Drain(): must be called from exactly one goroutine, never
//     concurrently with each other
type Engine struct {
	applier  Applier
	clock    *Clock
	queue    *envelopeQueue
	recorder Recorder
	logger   *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithRecorder records every envelope before it is applied.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) {
		e.recorder = r
	}
}

// WithClock sets the clock, e.g. one resumed with NewClockAt.
func WithClock(c *Clock) Option {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// New creates an engine applying envelopes to a.
func New(a Applier, opts ...Option) *Engine {
	e := &Engine{
		applier: a,
		clock:   NewClock(),
		queue:   newEnvelopeQueue(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Enqueue submits envelopes, keeping their order.
// Thread-safe: may be called from any goroutine.
//
// Returns false if the engine has been stopped.
func (e *Engine) Enqueue(envs ...event.Envelope) bool {
	return e.queue.Enqueue(envs...)
}

// Len returns the number of envelopes waiting in the queue.
func (e *Engine) Len() int {
	return e.queue.Len()
}

// Clock returns the engine's logical clock.
func (e *Engine) Clock() *Clock {
	return e.clock
}

// Run applies envelopes until ctx is cancelled, Stop is called and the
// queue is drained, or a configuration error occurs.
//
// On a recoverable error the envelope is logged with its seq and
// processing continues; retrying would reorder the stream.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("engine starting")

	for {
		env, ok := e.queue.TryDequeue()
		if ok {
			if err := e.process(ctx, env); err != nil {
				e.queue.Close()
				e.logger.Error("engine stopping: configuration error", "error", err)
				return err
			}
			continue
		}

		select {
		case <-ctx.Done():
			e.logger.Info("engine stopping: context cancelled")
			e.queue.Close()
			return ctx.Err()

		case <-e.queue.Wait():
			// The signal channel is closed with the queue, so a closed
			// and empty queue lands here with nothing left to do.
			if e.queue.Len() == 0 && e.stopped() {
				e.logger.Info("engine stopping: queue closed")
				return nil
			}
		}
	}
}

// Drain applies every envelope currently queued, in the caller's
// goroutine, and returns. It is for batch use (CLI, tests) where no Run
// loop is active.
func (e *Engine) Drain(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		env, ok := e.queue.TryDequeue()
		if !ok {
			return nil
		}
		if err := e.process(ctx, env); err != nil {
			return err
		}
	}
}

// Stop closes the queue. Run returns once the envelopes already queued
// have been applied.
func (e *Engine) Stop() {
	e.queue.Close()
}

func (e *Engine) stopped() bool {
	e.queue.mu.Lock()
	defer e.queue.mu.Unlock()
	return e.queue.closed
}

// process records and applies one envelope. It returns only errors that
// must stop the engine.
// CRITICAL: Called only from the writer goroutine.
func (e *Engine) process(ctx context.Context, env event.Envelope) error {
	seq := e.clock.Next()

	if e.recorder != nil {
		if err := e.recorder.Record(ctx, seq, env); err != nil {
			e.logger.Warn("record envelope failed", "seq", seq, "envelope", env.String(), "error", err)
		}
	}

	err := e.applier.Apply(env)
	if err == nil {
		e.logger.Debug("envelope applied", "seq", seq, "envelope", env.String())
		return nil
	}
	if registry.IsConfigError(err) {
		return &RuntimeError{Code: ErrCodeConfig, Seq: seq, Envelope: env, Err: err}
	}
	// Log with full context for manual investigation; the stream goes on.
	e.logger.Error("envelope failed",
		"seq", seq,
		"store", env.Store,
		"type", event.TypeName(env.Event),
		"envelope", env.String(),
		"error", err,
	)
	return nil
}
