package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/roach88/livestore/internal/domain"
	"github.com/roach88/livestore/internal/engine"
	"github.com/roach88/livestore/internal/event"
	"github.com/roach88/livestore/internal/registry"
	"github.com/roach88/livestore/internal/resolver"
	"github.com/roach88/livestore/internal/schema"
	"github.com/roach88/livestore/internal/store"
)

// Option configures a run.
type Option func(*runConfig)

type runConfig struct {
	recorder engine.Recorder
	logger   *slog.Logger
}

// WithRecorder also records every envelope to r, e.g. a journal.
func WithRecorder(r engine.Recorder) Option {
	return func(c *runConfig) {
		c.recorder = r
	}
}

// WithLogger sets the logger for the registry and engine. Default:
// discard, so scenario runs are quiet.
func WithLogger(logger *slog.Logger) Option {
	return func(c *runConfig) {
		c.logger = logger
	}
}

// Run executes a scenario on a fresh registry and returns the result.
// It returns an error only when the scenario cannot be set up; step and
// assertion failures are reported in the Result.
//
// Execution flow:
//  1. Load the schema (CUE directory or the domain catalog)
//  2. Build a registry and an engine with a fresh clock
//  3. Enqueue every event and drain the engine
//  4. Check each step's expected error, then the assertions
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	cfg := runConfig{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(&cfg)
	}

	decls, err := loadDeclarations(scenario)
	if err != nil {
		return nil, err
	}

	result := NewResult()
	regOpts := append(decls.Options(nil),
		registry.WithLogger(cfg.logger),
		registry.WithResyncer(registry.ResyncerFunc(func(stores []string) error {
			result.Resyncs = append(result.Resyncs, append([]string(nil), stores...))
			return nil
		})),
	)
	if scenario.Orphans != "" {
		policy, err := store.ParseOrphanPolicy(scenario.Orphans)
		if err != nil {
			return nil, err
		}
		regOpts = append(regOpts, registry.WithOrphanPolicy(policy))
	}
	reg, err := registry.New(decls.Schemas, regOpts...)
	if err != nil {
		return nil, fmt.Errorf("build registry: %w", err)
	}

	envs := make([]event.Envelope, len(scenario.Events))
	for i, step := range scenario.Events {
		env, err := step.Envelope()
		if err != nil {
			return nil, fmt.Errorf("events[%d]: %w", i, err)
		}
		envs[i] = env
	}

	t := &tracer{reg: reg, next: cfg.recorder, result: result}
	eng := engine.New(t,
		engine.WithRecorder(t),
		engine.WithClock(engine.NewClock()),
		engine.WithLogger(cfg.logger),
	)
	eng.Enqueue(envs...)
	if err := eng.Drain(context.Background()); err != nil {
		if !engine.IsRuntimeError(err) {
			return nil, err
		}
		result.Fatal = err.Error()
	}

	checkSteps(scenario.Events, result)

	for i, a := range scenario.Assertions {
		if err := evaluate(reg, result, a); err != nil {
			result.AddError(fmt.Sprintf("assertions[%d] (%s): %v", i, a.Type, err))
		}
	}

	result.Snapshot = reg.Snapshot()
	if result.Digest, err = reg.Digest(); err != nil {
		return nil, err
	}
	return result, nil
}

func loadDeclarations(scenario *Scenario) (*schema.Result, error) {
	if scenario.Schema == "" {
		return domain.Declarations()
	}
	return schema.LoadDir(scenario.Schema)
}

// checkSteps matches each step against its trace entry. A configuration
// error stops the engine, so later steps have no entry.
func checkSteps(steps []Step, result *Result) {
	for i, step := range steps {
		if i >= len(result.Trace) {
			result.AddError(fmt.Sprintf("events[%d]: not applied", i))
			continue
		}
		entry := result.Trace[i]
		switch {
		case step.ExpectError == "" && entry.Error != "":
			result.AddError(fmt.Sprintf("events[%d] %s: unexpected error: %s", i, entry.Envelope, entry.Error))
		case step.ExpectError != "" && entry.Error == "":
			result.AddError(fmt.Sprintf("events[%d] %s: expected error %q, got none", i, entry.Envelope, step.ExpectError))
		case step.ExpectError != "" && entry.Code != step.ExpectError && !strings.Contains(entry.Error, step.ExpectError):
			result.AddError(fmt.Sprintf("events[%d] %s: expected error %q, got %s", i, entry.Envelope, step.ExpectError, entry.Error))
		}
	}
}

// tracer sits on both sides of the engine: as Recorder it opens a trace
// entry per seq, as Applier it fills in the outcome.
type tracer struct {
	reg    *registry.Registry
	next   engine.Recorder
	result *Result
}

func (t *tracer) Record(ctx context.Context, seq int64, env event.Envelope) error {
	t.result.Trace = append(t.result.Trace, TraceEntry{Seq: seq, Envelope: env.String()})
	if t.next != nil {
		return t.next.Record(ctx, seq, env)
	}
	return nil
}

func (t *tracer) Apply(env event.Envelope) error {
	err := t.reg.Apply(env)
	if err != nil && len(t.result.Trace) > 0 {
		entry := &t.result.Trace[len(t.result.Trace)-1]
		entry.Error = err.Error()
		entry.Code = errorCode(err)
	}
	return err
}

func errorCode(err error) string {
	var ce *store.ConfigError
	if errors.As(err, &ce) {
		return string(ce.Code)
	}
	var ge *resolver.GraphError
	if errors.As(err, &ge) {
		return string(ge.Code)
	}
	return ""
}
