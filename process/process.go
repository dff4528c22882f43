// Package process implements the supervisor owning the lifecycle of one
// external OS process: creation inside a dedicated process group, foreground
// and background execution, timeout-bounded waits that observe the run-scoped
// abort flag, queued stdin writes, and idempotent group-targeted termination.
package process

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/runcycle/runcycle/coordinator"
	"github.com/runcycle/runcycle/model/types"
)

// State controls whether Start blocks until the process exits.
type State int

const (
	// Foreground blocks the caller until exit or timeout.
	Foreground State = iota
	// Background returns as soon as the OS confirms process creation.
	Background
)

// Spec describes one process to be started. All fields are read once by
// Start; the spec is not retained mutably afterwards.
type Spec struct {
	Command     string
	Args        []string
	Env         map[string]string
	WorkingDir  string
	State       State
	Timeout     time.Duration
	Stdout      string // sink path; empty redirects to the OS discard device
	Stderr      string
	DisplayName string

	// DisableChildKill skips placing the child in its own process group.
	// Escape hatch for embedding scenarios where group-kill would take the
	// embedding process down with it.
	DisableChildKill bool
}

func (s *Spec) displayName() string {
	if s.DisplayName != "" {
		return s.DisplayName
	}
	return filepath.Base(s.Command)
}

// Handle represents a started process. The mutable fields (pid, exit status,
// stdin pipe) are guarded by a per-handle lock because the owning test and
// the asynchronous stdin writer both touch them. A handle is never
// restarted.
type Handle struct {
	spec   Spec
	group  Group
	abort  *coordinator.Abort
	logger *slog.Logger

	mu        sync.Mutex
	cmd       *exec.Cmd
	pid       int
	exited    bool
	status    int
	signalled bool
	stdin     io.WriteCloser
	queue     chan []byte
	writerOn  bool
	info      map[string]string

	done      chan struct{} // closed exactly once when the exit status is captured
	closeOnce sync.Once
	sinks     []*os.File
}

func (h *Handle) String() string { return h.spec.displayName() }

// Pid returns the OS process id.
func (h *Handle) Pid() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pid
}

// ExitStatus returns the normalized exit status and whether the process has
// exited. Signal or fault termination reports the signal number with
// signalled=true via Signalled. Repeated calls return the cached value.
func (h *Handle) ExitStatus() (int, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status, h.exited
}

// Signalled reports whether the process was terminated by a signal or fault
// rather than exiting normally.
func (h *Handle) Signalled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.signalled
}

// Running reports whether the process is still executing.
func (h *Handle) Running() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.exited
}

// SetInfo stashes an opaque key/value on the handle, e.g. an allocated port.
func (h *Handle) SetInfo(key, value string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.info == nil {
		h.info = make(map[string]string)
	}
	h.info[key] = value
}

// Info returns a value previously stored with SetInfo.
func (h *Handle) Info(key string) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	value, ok := h.info[key]
	return value, ok
}

// Wait blocks until the process exits, the timeout elapses or the abort
// flag is raised. On timeout it returns a ProcessTimeoutError and leaves the
// process running; on abort it returns types.ErrCancelled. Repeated calls
// after exit return immediately.
func (h *Handle) Wait(timeout time.Duration) (int, error) {
	if status, exited := h.ExitStatus(); exited {
		return status, nil
	}
	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}
	var abortCh <-chan struct{}
	if h.abort != nil {
		abortCh = h.abort.Done()
	}
	select {
	case <-h.done:
		status, _ := h.ExitStatus()
		return status, nil
	case <-timeoutCh:
		return 0, types.NewProcessTimeoutError(h.String(), timeout)
	case <-abortCh:
		return 0, fmt.Errorf("wait for %s: %w", h, types.ErrCancelled)
	}
}

// waitExit blocks until the process exits or the timeout elapses. Unlike
// Wait it ignores the abort flag: stop confirmation must observe the real
// process state, not the run's cancellation.
func (h *Handle) waitExit(timeout time.Duration) error {
	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}
	select {
	case <-h.done:
		return nil
	case <-timeoutCh:
		return types.NewProcessTimeoutError(h.String(), timeout)
	}
}

// Write queues data for the process stdin. The dedicated writer goroutine is
// started lazily on the first write so tests that never touch stdin incur no
// extra goroutine. When addNewline is set a trailing newline is appended
// unless already present.
func (h *Handle) Write(data []byte, addNewline bool) error {
	if len(data) == 0 {
		return nil
	}
	if addNewline && data[len(data)-1] != '\n' {
		data = append(append([]byte{}, data...), '\n')
	}
	h.mu.Lock()
	if h.exited {
		h.mu.Unlock()
		return types.NewProcessError(h.String(), fmt.Errorf("cannot write to stdin of a stopped process"))
	}
	if !h.writerOn {
		h.writerOn = true
		go h.writeStdin()
	}
	h.mu.Unlock()

	select {
	case h.queue <- data:
		return nil
	case <-h.done:
		return types.NewProcessError(h.String(), fmt.Errorf("process exited before stdin write"))
	}
}

// writeStdin drains the stdin queue until the process exits.
func (h *Handle) writeStdin() {
	for {
		select {
		case data := <-h.queue:
			h.mu.Lock()
			stdin := h.stdin
			h.mu.Unlock()
			if stdin == nil {
				return
			}
			if _, err := stdin.Write(data); err != nil {
				return
			}
		case <-h.done:
			return
		}
	}
}

// Stop sends a graceful termination signal to the process and its group,
// waits up to timeout and escalates to a forceful group kill when the wait
// times out or hard was requested. Calling Stop after exit is a no-op.
// Termination failure never silently succeeds.
func (h *Handle) Stop(timeout time.Duration, hard bool) error {
	h.mu.Lock()
	if h.exited {
		h.mu.Unlock()
		return nil
	}
	cmd, pid := h.cmd, h.pid
	h.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return types.NewProcessError(h.String(), fmt.Errorf("process was never started"))
	}

	if hard {
		if err := h.kill(pid); err != nil {
			return err
		}
		if err := h.waitExit(timeout); err != nil {
			return types.NewProcessError(h.String(), fmt.Errorf("process survived forceful kill: %w", err))
		}
		return nil
	}

	// Signal the pid before the group: a child stopped in the window before
	// it entered its own group would otherwise leak.
	if err := h.group.Terminate(cmd.Process); err != nil {
		return types.NewProcessError(h.String(), err)
	}
	if !h.spec.DisableChildKill {
		// Best effort; the process itself was already signalled fine.
		if err := h.group.SignalGroup(pid, false); err != nil && h.logger != nil {
			h.logger.Debug("group signal failed",
				slog.String("process", h.String()),
				slog.Int("pid", pid),
				slog.Any("error", err))
		}
	}

	if err := h.waitExit(timeout); err != nil {
		killErr := h.kill(pid)
		if waitErr := h.waitExit(2 * time.Second); waitErr == nil && killErr == nil {
			// Forceful cleanup succeeded, but the graceful stop still failed
			// its budget; re-raise the original condition.
			return err
		}
		return types.NewProcessError(h.String(), fmt.Errorf("forceful kill after stop timeout failed: %w", err))
	}
	return nil
}

// kill forcefully terminates the process and, unless disabled, its group.
func (h *Handle) kill(pid int) error {
	h.mu.Lock()
	cmd := h.cmd
	h.mu.Unlock()
	if !h.spec.DisableChildKill {
		if err := h.group.SignalGroup(pid, true); err == nil {
			return nil
		}
	}
	if cmd != nil && cmd.Process != nil {
		return cmd.Process.Kill()
	}
	return nil
}

// captureExit records the exit status exactly once and releases the OS
// resources (sink files, stdin pipe) held by the handle.
func (h *Handle) captureExit(status int, signalled bool) {
	h.closeOnce.Do(func() {
		h.mu.Lock()
		h.status = status
		h.signalled = signalled
		h.exited = true
		stdin := h.stdin
		h.stdin = nil
		sinks := h.sinks
		h.sinks = nil
		h.mu.Unlock()

		if stdin != nil {
			_ = stdin.Close()
		}
		for _, sink := range sinks {
			_ = sink.Close()
		}
		close(h.done)
	})
}
