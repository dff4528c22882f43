// Package lifecycle drives one test case through its fixed
// setup→execute→validate→cleanup lifecycle, converting failures and
// cooperative cancellation into outcomes.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/runcycle/runcycle/coordinator"
	"github.com/runcycle/runcycle/model"
	"github.com/runcycle/runcycle/model/types"
	"github.com/runcycle/runcycle/process"
)

// Case is the behaviour supplied by an externally-defined test. Each phase
// receives the per-test context; returning an error blocks the test and
// skips the remaining phases up to cleanup.
type Case interface {
	Setup(t *Context) error
	Execute(t *Context) error
	Validate(t *Context) error
}

// CaseFunc adapts a bare execute function into a Case with empty setup and
// validate phases.
type CaseFunc func(t *Context) error

func (f CaseFunc) Setup(*Context) error     { return nil }
func (f CaseFunc) Execute(t *Context) error { return f(t) }
func (f CaseFunc) Validate(*Context) error  { return nil }

type outcomeEntry struct {
	outcome model.Outcome
	reason  string
}

// Context is the per-(descriptor, cycle) test context handed to each
// lifecycle phase. It owns the processes and ports the test acquires and
// accumulates the outcome sequence the final verdict is reduced from.
type Context struct {
	descriptor *model.Descriptor
	cycle      int
	outputDir  string
	shared     *coordinator.Shared
	supervisor *process.Service
	logger     *slog.Logger
	ctx        context.Context

	mu        sync.Mutex
	outcomes  []outcomeEntry
	cleanups  []func() error
	processes []*process.Handle
	ports     []int
}

// NewContext creates the test context for one work item.
func NewContext(ctx context.Context, descriptor *model.Descriptor, cycle int, outputDir string,
	shared *coordinator.Shared, supervisor *process.Service, logger *slog.Logger) *Context {
	return &Context{
		ctx:        ctx,
		descriptor: descriptor,
		cycle:      cycle,
		outputDir:  outputDir,
		shared:     shared,
		supervisor: supervisor,
		logger:     logger,
	}
}

// Descriptor returns the immutable descriptor the test runs for.
func (t *Context) Descriptor() *model.Descriptor { return t.descriptor }

// Cycle returns the zero-based cycle index.
func (t *Context) Cycle() int { return t.cycle }

// OutputDir returns the prepared per-test output directory.
func (t *Context) OutputDir() string { return t.outputDir }

// Logger returns the structured run logger writing into the output
// directory.
func (t *Context) Logger() *slog.Logger { return t.logger }

// StartProcess launches a process owned by this test. The working directory
// defaults to the test output directory; ownership registration guarantees
// the process is force-stopped during cleanup if the test leaves it running.
func (t *Context) StartProcess(spec process.Spec) (*process.Handle, error) {
	if spec.WorkingDir == "" {
		spec.WorkingDir = t.outputDir
	}
	handle, err := t.supervisor.Start(t.ctx, spec)
	if handle != nil {
		t.mu.Lock()
		t.processes = append(t.processes, handle)
		t.mu.Unlock()
	}
	return handle, err
}

// AddOutcome appends an outcome (with a reason) to the accumulated sequence.
func (t *Context) AddOutcome(outcome model.Outcome, reason string) {
	t.mu.Lock()
	t.outcomes = append(t.outcomes, outcomeEntry{outcome: outcome, reason: reason})
	t.mu.Unlock()
	if reason != "" {
		t.logger.Info("outcome recorded", slog.String("outcome", outcome.String()), slog.String("reason", reason))
	}
}

// AddCleanup registers an action invoked during the guaranteed cleanup
// phase, in reverse registration order.
func (t *Context) AddCleanup(fn func() error) {
	if fn == nil {
		return
	}
	t.mu.Lock()
	t.cleanups = append(t.cleanups, fn)
	t.mu.Unlock()
}

// AllocatePort hands out a probed-free TCP server port; the port returns to
// the shared pool during cleanup.
func (t *Context) AllocatePort() (int, error) {
	port, err := t.shared.Ports.Allocate(t.shared.Abort)
	if err != nil {
		return 0, err
	}
	t.mu.Lock()
	t.ports = append(t.ports, port)
	t.mu.Unlock()
	return port, nil
}

// Sleep pauses for d, returning early with types.ErrCancelled when the run
// is aborted.
func (t *Context) Sleep(d time.Duration) error {
	return t.shared.Abort.Sleep(d)
}

// WaitForSocket polls until a TCP connection to host:port succeeds, the
// timeout elapses or the run is aborted.
func (t *Context) WaitForSocket(host string, port int, timeout time.Duration) error {
	address := net.JoinHostPort(host, strconv.Itoa(port))
	deadline := time.Now().Add(timeout)
	for {
		conn, err := net.DialTimeout("tcp", address, 200*time.Millisecond)
		if err == nil {
			_ = conn.Close()
			return nil
		}
		if t.shared.Abort.IsSet() {
			return fmt.Errorf("wait for socket %s: %w", address, types.ErrCancelled)
		}
		if time.Now().After(deadline) {
			return types.NewProcessTimeoutError("socket "+address, timeout)
		}
		if err := t.shared.Abort.Sleep(50 * time.Millisecond); err != nil {
			return fmt.Errorf("wait for socket %s: %w", address, err)
		}
	}
}

// finalOutcome reduces the accumulated sequence to the reported outcome and
// the reason of its first matching entry.
func (t *Context) finalOutcome() (model.Outcome, string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	outcomes := make([]model.Outcome, len(t.outcomes))
	for i, entry := range t.outcomes {
		outcomes[i] = entry.outcome
	}
	final := model.FinalOutcome(outcomes)
	for _, entry := range t.outcomes {
		if entry.outcome == final && entry.reason != "" {
			return final, entry.reason
		}
	}
	return final, ""
}

// hasOutcome reports whether any outcome has been recorded yet.
func (t *Context) hasOutcome() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.outcomes) > 0
}

// cleanup runs the registered actions in reverse order, each failure
// isolated, then force-stops any process still owned by the test and
// returns allocated ports to the pool. Safe to call exactly once.
func (t *Context) cleanup() {
	t.mu.Lock()
	cleanups := t.cleanups
	t.cleanups = nil
	t.mu.Unlock()

	anyFailed := false
	for i := len(cleanups) - 1; i >= 0; i-- {
		if err := cleanups[i](); err != nil {
			anyFailed = true
			t.logger.Error("cleanup action failed", slog.Int("index", i), slog.Any("error", err))
		}
	}

	t.mu.Lock()
	processes := t.processes
	t.processes = nil
	ports := t.ports
	t.ports = nil
	t.mu.Unlock()

	for _, handle := range processes {
		if !handle.Running() {
			continue
		}
		hard := t.shared.Abort.IsHard()
		if err := handle.Stop(30*time.Second, hard); err != nil {
			t.logger.Error("failed to stop process during cleanup",
				slog.String("process", handle.String()), slog.Any("error", err))
		}
	}
	for _, port := range ports {
		t.shared.Ports.Release(port)
	}

	// A cleanup failure must not mask a determined outcome, but a test that
	// recorded nothing cannot be treated as unverified when its cleanup blew
	// up.
	if anyFailed && !t.hasOutcome() {
		t.AddOutcome(model.Blocked, "cleanup action failed")
	}
}
