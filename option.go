package runcycle

import (
	"context"
	"log/slog"

	"github.com/runcycle/runcycle/scheduler"
	"github.com/runcycle/runcycle/tracing"
	"github.com/runcycle/runcycle/writer"
)

// Option customizes the engine service.
type Option func(*Service)

// WithConfig replaces the whole engine configuration.
func WithConfig(config Config) Option {
	return func(s *Service) { s.config = config }
}

// WithWorkers sets the scheduler pool size.
func WithWorkers(count int) Option {
	return func(s *Service) { s.config.Workers = count }
}

// WithCycles sets how many times the whole test set is repeated.
func WithCycles(count int) Option {
	return func(s *Service) { s.config.Cycles = count }
}

// WithLogger sets the engine's structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithWriters registers results writers invoked in registration order.
func WithWriters(writers ...writer.Writer) Option {
	return func(s *Service) { s.writers = append(s.writers, writers...) }
}

// WithSetupHook registers a hook run once before any test.
func WithSetupHook(hook func(ctx context.Context) error) Option {
	return func(s *Service) { s.setupHook = hook }
}

// WithCycleHook registers a hook run after each cycle barrier.
func WithCycleHook(hook scheduler.CycleHook) Option {
	return func(s *Service) { s.cycleHook = hook }
}

// WithCleanupHook registers a hook run once at run end.
func WithCleanupHook(hook func(ctx context.Context) error) Option {
	return func(s *Service) { s.cleanupHook = hook }
}

// WithTracing configures OpenTelemetry tracing for the engine. If outputFile
// is empty the stdout exporter is used. The first successful initialisation
// wins.
func WithTracing(serviceName, serviceVersion, outputFile string) Option {
	return func(s *Service) {
		_ = tracing.Init(serviceName, serviceVersion, outputFile)
	}
}
