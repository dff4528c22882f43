// Package writer defines the results-writer interface the engine reports
// into, plus built-in console and JUnit-style implementations. Writers are
// invoked in registration order; a writer failure is logged and never aborts
// the run.
package writer

import (
	"context"
	"log/slog"

	"github.com/runcycle/runcycle/lifecycle"
)

// Writer consumes test results at defined points of a run.
type Writer interface {
	// Setup is called once before any test runs with the total number of
	// work items (descriptors x cycles).
	Setup(ctx context.Context, totalTests int) error

	// ProcessResult is called after each completed work item, once its
	// cycle results have been aggregated.
	ProcessResult(ctx context.Context, result lifecycle.Result) error

	// Cleanup is called once at run end.
	Cleanup(ctx context.Context) error
}

// Registry invokes a registration-ordered list of writers, isolating each
// writer's failures.
type Registry struct {
	writers []Writer
	logger  *slog.Logger
}

// NewRegistry creates a registry over the given writers.
func NewRegistry(logger *slog.Logger, writers ...Writer) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{writers: writers, logger: logger}
}

// Setup notifies every writer of the run size.
func (r *Registry) Setup(ctx context.Context, totalTests int) {
	for _, w := range r.writers {
		if err := w.Setup(ctx, totalTests); err != nil {
			r.logger.Error("results writer setup failed", slog.Any("error", err))
		}
	}
}

// ProcessResult forwards one finalized result to every writer.
func (r *Registry) ProcessResult(ctx context.Context, result lifecycle.Result) {
	for _, w := range r.writers {
		if err := w.ProcessResult(ctx, result); err != nil {
			r.logger.Error("results writer failed to process result",
				slog.String("testId", result.DescriptorID), slog.Any("error", err))
		}
	}
}

// Cleanup notifies every writer that the run is over.
func (r *Registry) Cleanup(ctx context.Context) {
	for _, w := range r.writers {
		if err := w.Cleanup(ctx); err != nil {
			r.logger.Error("results writer cleanup failed", slog.Any("error", err))
		}
	}
}
