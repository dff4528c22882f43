package runcycle

import (
	"context"
	"log/slog"

	"github.com/runcycle/runcycle/coordinator"
	"github.com/runcycle/runcycle/internal/idgen"
	"github.com/runcycle/runcycle/model"
	"github.com/runcycle/runcycle/process"
	"github.com/runcycle/runcycle/scheduler"
	"github.com/runcycle/runcycle/writer"
)

// Service is one engine instance: the shared coordinators, a process
// supervisor and a scheduler wired together. Instances are independent;
// several can run in the same binary.
type Service struct {
	config  Config
	logger  *slog.Logger
	writers []writer.Writer

	runID      string
	shared     *coordinator.Shared
	supervisor *process.Service
	scheduler  *scheduler.Service

	setupHook   func(ctx context.Context) error
	cycleHook   scheduler.CycleHook
	cleanupHook func(ctx context.Context) error
}

// New creates an engine service.
func New(options ...Option) (*Service, error) {
	s := &Service{
		config: DefaultConfig(),
		logger: slog.Default(),
		runID:  idgen.New(),
	}
	for _, opt := range options {
		opt(s)
	}
	if err := s.config.Validate(); err != nil {
		return nil, err
	}

	s.shared = coordinator.NewShared()
	s.supervisor = process.New(s.shared,
		process.WithLogger(s.logger),
		process.WithDefaultTimeout(s.config.DefaultTimeout))

	registry := writer.NewRegistry(s.logger)
	if s.config.Record {
		registry = writer.NewRegistry(s.logger, s.writers...)
	}

	sched, err := scheduler.New(s.shared, s.supervisor,
		scheduler.WithConfig(scheduler.Config{
			Workers:       s.config.Workers,
			Cycles:        s.config.Cycles,
			IncludeManual: s.config.IncludeManual,
			PurgeOnPass:   s.config.PurgeOnPass,
			OutSubdir:     s.config.OutSubdir,
		}),
		scheduler.WithWriters(registry),
		scheduler.WithCycleHook(s.cycleHook),
		scheduler.WithLogger(s.logger),
	)
	if err != nil {
		return nil, err
	}
	s.scheduler = sched
	return s, nil
}

// RunID identifies this engine instance in logs and traces.
func (s *Service) RunID() string { return s.runID }

// Shared exposes the coordinators, e.g. for port allocation outside a test.
func (s *Service) Shared() *coordinator.Shared { return s.shared }

// Supervisor exposes the process supervisor for embedding scenarios.
func (s *Service) Supervisor() *process.Service { return s.supervisor }

// Interrupt requests a cooperative stop: no new work items are dispatched,
// in-flight tests run to cleanup completion.
func (s *Service) Interrupt() { s.shared.Abort.Set() }

// InterruptHard additionally terminates in-flight tests' processes without
// waiting for graceful completion.
func (s *Service) InterruptHard() { s.shared.Abort.SetHard() }

// Run executes the selected descriptor set and returns the aggregated
// results. A ConfigError (empty set, duplicate ids, bad config) means no
// test was executed.
func (s *Service) Run(ctx context.Context, descriptors model.Descriptors, factory scheduler.CaseFactory) (*scheduler.RunResults, error) {
	s.logger.Info("run starting",
		slog.String("runId", s.runID),
		slog.Int("tests", len(descriptors)),
		slog.Int("cycles", s.config.Cycles),
		slog.Int("workers", s.config.Workers))

	if s.setupHook != nil {
		if err := s.setupHook(ctx); err != nil {
			return nil, err
		}
	}

	results, err := s.scheduler.Run(ctx, descriptors, factory)

	if s.cleanupHook != nil {
		if hookErr := s.cleanupHook(ctx); hookErr != nil {
			s.logger.Error("cleanup hook failed", slog.Any("error", hookErr))
		}
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info("run complete",
		slog.String("runId", s.runID),
		slog.Int("exitCode", results.ExitCode()))
	return results, nil
}
