// Package scheduler fans (descriptor x cycle) work items out to a bounded
// worker pool with deterministic dispatch order, per-cycle barriers and
// cooperative abort, aggregating outcomes into a cycle-indexed results
// table.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/runcycle/runcycle/coordinator"
	"github.com/runcycle/runcycle/internal/outdir"
	"github.com/runcycle/runcycle/lifecycle"
	"github.com/runcycle/runcycle/model"
	"github.com/runcycle/runcycle/model/types"
	"github.com/runcycle/runcycle/process"
	"github.com/runcycle/runcycle/tracing"
	"github.com/runcycle/runcycle/writer"
)

// CaseFactory resolves the test behaviour for a descriptor. Returning an
// error blocks the test (outcome BLOCKED) without aborting the run.
type CaseFactory func(descriptor *model.Descriptor) (lifecycle.Case, error)

// CycleHook observes the completion of one cycle, after its barrier.
type CycleHook func(ctx context.Context, cycle int, results *RunResults)

// Config holds the scheduler tunables.
type Config struct {
	// Workers is the pool size; 1 runs strictly sequentially in work-item
	// order and is the reference mode for ordering-sensitive behaviour.
	Workers int

	// Cycles is how many times the whole descriptor set is executed.
	Cycles int

	// IncludeManual also schedules descriptors of type manual.
	IncludeManual bool

	// PurgeOnPass removes zero-byte artifacts from a passed test's output
	// directory.
	PurgeOnPass bool

	// OutSubdir names the per-descriptor output subdirectory.
	OutSubdir string
}

// DefaultConfig returns the sequential single-cycle configuration.
func DefaultConfig() Config {
	return Config{Workers: 1, Cycles: 1, OutSubdir: "output"}
}

// Service schedules work items over a worker pool.
type Service struct {
	config  Config
	shared  *coordinator.Shared
	driver  *lifecycle.Driver
	outdirs *outdir.Manager
	writers *writer.Registry
	logger  *slog.Logger

	cycleHook CycleHook
}

// Option customizes the scheduler service.
type Option func(*Service)

// WithConfig replaces the whole configuration.
func WithConfig(config Config) Option {
	return func(s *Service) { s.config = config }
}

// WithWriters sets the results-writer registry the scheduler reports into.
func WithWriters(registry *writer.Registry) Option {
	return func(s *Service) { s.writers = registry }
}

// WithCycleHook registers the hook invoked after each cycle barrier.
func WithCycleHook(hook CycleHook) Option {
	return func(s *Service) { s.cycleHook = hook }
}

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithDriver overrides the lifecycle driver, mainly for tests that need a
// phase hook.
func WithDriver(driver *lifecycle.Driver) Option {
	return func(s *Service) { s.driver = driver }
}

// New creates a scheduler bound to the shared coordinators and supervisor.
func New(shared *coordinator.Shared, supervisor *process.Service, options ...Option) (*Service, error) {
	s := &Service{
		config: DefaultConfig(),
		shared: shared,
		logger: slog.Default(),
	}
	for _, opt := range options {
		opt(s)
	}
	if s.config.Workers < 1 {
		return nil, types.NewConfigError("worker count must be >= 1, got %d", s.config.Workers)
	}
	if s.config.Cycles < 1 {
		return nil, types.NewConfigError("cycle count must be >= 1, got %d", s.config.Cycles)
	}
	if s.driver == nil {
		s.driver = lifecycle.NewDriver(shared, supervisor, s.logger)
	}
	if s.writers == nil {
		s.writers = writer.NewRegistry(s.logger)
	}
	s.outdirs = outdir.New(s.config.OutSubdir, s.config.Cycles)
	return s, nil
}

// Run executes the ordered descriptor set for the configured number of
// cycles and returns the aggregated results. A ConfigError from descriptor
// validation is fatal: no tests execute.
func (s *Service) Run(ctx context.Context, descriptors model.Descriptors, factory CaseFactory) (results *RunResults, err error) {
	ctx, span := tracing.StartSpan(ctx, "scheduler.run", "INTERNAL")
	defer func() { tracing.EndSpan(span, err) }()

	if err = descriptors.Validate(); err != nil {
		return nil, err
	}
	ordered := append(model.Descriptors{}, descriptors...)
	ordered.Sort()

	results = NewRunResults(s.config.Cycles)
	s.writers.Setup(ctx, s.config.Cycles*len(ordered))

	for cycle := 0; cycle < s.config.Cycles; cycle++ {
		if s.shared.Abort.IsSet() {
			s.logger.Info("run aborted, skipping remaining cycles", slog.Int("cycle", cycle+1))
			break
		}
		s.runCycle(ctx, cycle, ordered, factory, results)
		if s.cycleHook != nil {
			s.cycleHook(ctx, cycle, results)
		}
	}

	s.writers.Cleanup(ctx)
	return results, nil
}

// runCycle dispatches all of one cycle's work items and blocks on the cycle
// barrier: it does not return until every item, including its cleanup phase,
// has completed.
func (s *Service) runCycle(ctx context.Context, cycle int, ordered model.Descriptors, factory CaseFactory, results *RunResults) {
	cycleCtx, span := tracing.StartSpan(ctx, fmt.Sprintf("scheduler.cycle %d", cycle+1), "INTERNAL")
	defer tracing.EndSpan(span, nil)

	q := newQueue(len(ordered), s.shared.Abort)
	for _, descriptor := range ordered {
		_ = q.publish(model.WorkItem{Descriptor: descriptor, Cycle: cycle})
	}
	q.close()

	g, workerCtx := errgroup.WithContext(cycleCtx)
	for i := 0; i < s.config.Workers; i++ {
		g.Go(func() error {
			for {
				item, ok, err := q.consume(workerCtx)
				if err != nil || !ok {
					// Drained, aborted or cancelled; in-flight items in
					// other workers still run to cleanup completion.
					return nil
				}
				s.execute(workerCtx, item, factory, results)
			}
		})
	}
	_ = g.Wait()
}

// execute runs a single work item end to end: output directory preparation,
// lifecycle, aggregation and writer notification.
func (s *Service) execute(ctx context.Context, item model.WorkItem, factory CaseFactory, results *RunResults) {
	dir, prepErr := s.outdirs.Prepare(ctx, item.Descriptor.OutputDir, item.Cycle)

	var setupErr error
	var testCase lifecycle.Case = lifecycle.CaseFunc(func(*lifecycle.Context) error { return nil })
	if prepErr != nil {
		setupErr = prepErr
	} else if resolved, factoryErr := factory(item.Descriptor); factoryErr != nil {
		setupErr = factoryErr
	} else if resolved != nil {
		testCase = resolved
	}

	logger, closeLog := s.runLogger(dir)
	runnable := item.Descriptor.Runnable &&
		(item.Descriptor.Type != model.TestTypeManual || s.config.IncludeManual)

	result := s.driver.Run(ctx, item, testCase, dir, runnable, setupErr, logger)

	results.Add(result)
	s.writers.ProcessResult(ctx, result)

	if s.config.PurgeOnPass && result.Outcome == model.Passed && dir != "" {
		if err := s.outdirs.PurgeOnPass(ctx, dir); err != nil {
			s.logger.Warn("purge on pass failed", slog.String("dir", dir), slog.Any("error", err))
		}
	}
	closeLog()
}

// runLogger opens the structured per-test run log inside the output
// directory; a preparation failure degrades to the engine logger.
func (s *Service) runLogger(dir string) (*slog.Logger, func()) {
	if dir == "" {
		return nil, func() {}
	}
	file, err := os.OpenFile(filepath.Join(dir, "run.log"), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, func() {}
	}
	logger := slog.New(slog.NewTextHandler(file, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return logger, func() { _ = file.Close() }
}
