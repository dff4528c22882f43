package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/runcycle/runcycle/coordinator"
	"github.com/runcycle/runcycle/internal/clock"
	"github.com/runcycle/runcycle/model"
	"github.com/runcycle/runcycle/model/types"
	"github.com/runcycle/runcycle/process"
	"github.com/runcycle/runcycle/tracing"
)

// Phase is the lifecycle state of one (descriptor, cycle) execution.
type Phase string

const (
	PhaseCreated    Phase = "created"
	PhaseSetup      Phase = "setup"
	PhaseExecuting  Phase = "executing"
	PhaseValidating Phase = "validating"
	PhaseCleaningUp Phase = "cleaningUp"
	PhaseDone       Phase = "done"
)

// Result is the finalized verdict of one work item.
type Result struct {
	DescriptorID string
	Mode         string
	Cycle        int
	Outcome      model.Outcome
	Reason       string
	Duration     time.Duration
}

// Driver runs test cases through the lifecycle state machine. Failures never
// propagate past a single test: every error raised by a phase is converted
// into an outcome before the driver returns.
type Driver struct {
	shared     *coordinator.Shared
	supervisor *process.Service
	logger     *slog.Logger

	// PhaseHook, when set, observes every phase transition; used by the
	// scheduler tests to assert barrier ordering.
	PhaseHook func(item model.WorkItem, phase Phase)
}

// NewDriver creates a lifecycle driver bound to the shared coordinators.
func NewDriver(shared *coordinator.Shared, supervisor *process.Service, logger *slog.Logger) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{shared: shared, supervisor: supervisor, logger: logger}
}

// Run executes one work item. setupErr carries a failure from preparing the
// output directory (the runner-side part of Setup); runnable=false marks an
// administratively excluded descriptor; runLogger, when non-nil, is the
// per-test structured log (typically run.log in the output directory).
// Cleanup is guaranteed in every path once the context exists.
func (d *Driver) Run(ctx context.Context, item model.WorkItem, testCase Case, outputDir string,
	runnable bool, setupErr error, runLogger *slog.Logger) Result {

	started := clock.Now()
	ctx, span := tracing.StartSpan(ctx, fmt.Sprintf("test.run %s", item), "INTERNAL")

	if runLogger == nil {
		runLogger = d.logger
	}
	logger := runLogger.With(
		slog.String("testId", item.Descriptor.Key()),
		slog.Int("cycle", item.Cycle+1))
	t := NewContext(ctx, item.Descriptor, item.Cycle, outputDir, d.shared, d.supervisor, logger)

	d.phase(item, PhaseSetup)
	switch {
	case setupErr != nil:
		logger.Error("test setup blocked", slog.Any("error", setupErr))
		t.AddOutcome(model.Blocked, fmt.Sprintf("setup failed: %v", setupErr))

	case !runnable:
		t.AddOutcome(model.Skipped, "test is not runnable in this configuration")

	default:
		if err := d.runPhase(item, t, PhaseSetup, testCase.Setup); err != nil {
			t.AddOutcome(model.Blocked, d.describe("setup", err))
		} else {
			if err := d.runPhase(item, t, PhaseExecuting, testCase.Execute); err != nil {
				t.AddOutcome(model.Blocked, d.describe("execute", err))
			} else if err := d.runPhase(item, t, PhaseValidating, testCase.Validate); err != nil {
				t.AddOutcome(model.Blocked, d.describe("validate", err))
			}
		}
	}

	d.phase(item, PhaseCleaningUp)
	t.cleanup()

	outcome, reason := t.finalOutcome()
	duration := clock.Now().Sub(started)
	logger.Info("test complete",
		slog.String("outcome", outcome.String()),
		slog.String("reason", reason),
		slog.Duration("duration", duration))

	d.phase(item, PhaseDone)
	var spanErr error
	if outcome.IsFail() {
		spanErr = fmt.Errorf("%s: %s", outcome, reason)
	}
	tracing.EndSpan(span, spanErr)

	return Result{
		DescriptorID: item.Descriptor.ID,
		Mode:         item.Descriptor.Mode,
		Cycle:        item.Cycle,
		Outcome:      outcome,
		Reason:       reason,
		Duration:     duration,
	}
}

// runPhase invokes one lifecycle phase, converting panics inside test code
// into ordinary errors so a misbehaving test can never take a worker down.
func (d *Driver) runPhase(item model.WorkItem, t *Context, phase Phase, fn func(*Context) error) (err error) {
	d.phase(item, phase)
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("unexpected panic in %s: %v", phase, recovered)
		}
	}()
	if d.shared.Abort.IsSet() {
		return fmt.Errorf("%s: %w", phase, types.ErrCancelled)
	}
	return fn(t)
}

// describe renders a phase failure for the outcome reason, flagging
// cancellation distinctly and signalling the scheduler to stop dispatching.
func (d *Driver) describe(phase string, err error) string {
	if types.IsCancelled(err) {
		d.shared.Abort.Set()
		return fmt.Sprintf("%s interrupted: run cancelled", phase)
	}
	return fmt.Sprintf("%s failed: %v", phase, err)
}

func (d *Driver) phase(item model.WorkItem, phase Phase) {
	if d.PhaseHook != nil {
		d.PhaseHook(item, phase)
	}
}
