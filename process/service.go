package process

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/runcycle/runcycle/coordinator"
	"github.com/runcycle/runcycle/model/types"
	"github.com/runcycle/runcycle/tracing"
)

// Service starts and supervises external processes on behalf of one engine
// instance. The shared coordinators it is constructed with provide the
// process-launch lock and the abort flag observed by every wait.
type Service struct {
	shared         *coordinator.Shared
	logger         *slog.Logger
	group          Group
	defaultTimeout time.Duration
}

// Option customizes the supervisor service.
type Option func(*Service)

// WithLogger sets the structured logger used for process diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithGroup overrides the platform process-group capability, mainly for
// tests.
func WithGroup(group Group) Option {
	return func(s *Service) { s.group = group }
}

// WithDefaultTimeout bounds foreground execution for specs that do not set
// their own timeout.
func WithDefaultTimeout(timeout time.Duration) Option {
	return func(s *Service) { s.defaultTimeout = timeout }
}

// New creates a supervisor bound to the given shared coordinators.
func New(shared *coordinator.Shared, options ...Option) *Service {
	s := &Service{
		shared: shared,
		logger: slog.Default(),
		group:  newGroup(),
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// Start launches the process described by spec. For Foreground state it does
// not return until the process exits or spec.Timeout elapses; on timeout the
// returned handle is still valid, the process keeps running and the caller
// must stop it explicitly. For Background state it returns as soon as the OS
// confirms creation.
func (s *Service) Start(ctx context.Context, spec Spec) (handle *Handle, err error) {
	_, span := tracing.StartSpan(ctx, fmt.Sprintf("process.start %s", spec.displayName()), "INTERNAL")
	defer func() { tracing.EndSpan(span, err) }()

	if spec.WorkingDir != "" {
		info, statErr := os.Stat(spec.WorkingDir)
		if statErr != nil || !info.IsDir() {
			return nil, types.NewProcessError(spec.displayName(),
				fmt.Errorf("working directory %q does not exist", spec.WorkingDir))
		}
	}
	command := spec.Command
	if resolved, lookErr := exec.LookPath(command); lookErr == nil {
		command = resolved
	} else if !strings.ContainsRune(command, os.PathSeparator) {
		return nil, types.NewProcessError(spec.displayName(),
			fmt.Errorf("command %q not resolvable: %w", spec.Command, lookErr))
	}

	handle = &Handle{
		spec:   spec,
		group:  s.group,
		abort:  s.shared.Abort,
		logger: s.logger,
		queue:  make(chan []byte, 16),
		done:   make(chan struct{}),
	}
	if err = s.launch(handle, command); err != nil {
		return nil, err
	}

	s.logger.Debug("process started",
		slog.String("process", spec.displayName()),
		slog.Int("pid", handle.Pid()),
		slog.String("command", command),
		slog.String("workingDir", spec.WorkingDir))

	if spec.State == Foreground {
		timeout := spec.Timeout
		if timeout == 0 {
			timeout = s.defaultTimeout
		}
		if _, waitErr := handle.Wait(timeout); waitErr != nil {
			err = waitErr
			return handle, err
		}
	}
	return handle, nil
}

// launch performs the OS-level creation sequence under the process-launch
// lock and spawns the goroutine that blocks on the OS wait primitive.
func (s *Service) launch(h *Handle, command string) error {
	cmd := exec.Command(command, h.spec.Args...)
	cmd.Dir = h.spec.WorkingDir
	cmd.Env = flattenEnv(h.spec.Env)
	if !h.spec.DisableChildKill {
		s.group.Setup(cmd)
	}

	stdout, err := openSink(h.spec.Stdout)
	if err != nil {
		return types.NewProcessError(h.String(), err)
	}
	stderr, err := openSink(h.spec.Stderr)
	if err != nil {
		_ = stdout.Close()
		return types.NewProcessError(h.String(), err)
	}
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	h.sinks = []*os.File{stdout, stderr}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		_ = stdout.Close()
		_ = stderr.Close()
		return types.NewProcessError(h.String(), err)
	}
	h.stdin = stdin

	s.shared.Launch.Lock()
	startErr := cmd.Start()
	s.shared.Launch.Unlock()
	if startErr != nil {
		// Creation failure surfaces synchronously from the start call; no
		// racing on exit status.
		h.captureExit(0, false)
		return types.NewProcessError(h.String(), startErr)
	}

	h.mu.Lock()
	h.cmd = cmd
	h.pid = cmd.Process.Pid
	h.mu.Unlock()

	go s.reap(h, cmd)
	return nil
}

// reap blocks on the OS wait handle and captures the normalized exit status
// exactly once.
func (s *Service) reap(h *Handle, cmd *exec.Cmd) {
	err := cmd.Wait()
	status, signalled := normalizeStatus(cmd, err)
	h.captureExit(status, signalled)
	s.logger.Debug("process exited",
		slog.String("process", h.String()),
		slog.Int("pid", h.Pid()),
		slog.Int("exitStatus", status),
		slog.Bool("signalled", signalled))
}

// normalizeStatus folds the three OS outcomes into one integer result:
// normal exit code, or the signal number for signal/fault termination.
func normalizeStatus(cmd *exec.Cmd, waitErr error) (int, bool) {
	state := cmd.ProcessState
	if state == nil {
		return -1, false
	}
	if sig, ok := terminationSignal(state); ok {
		return sig, true
	}
	code := state.ExitCode()
	if code < 0 && waitErr != nil {
		return -1, false
	}
	return code, false
}

// openSink opens path for writing, truncating any previous content; an empty
// path redirects to the OS discard device so the child never inherits the
// supervisor's own streams.
func openSink(path string) (*os.File, error) {
	if path == "" {
		path = os.DevNull
	}
	return os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
}

// flattenEnv renders the environment map in deterministic order.
func flattenEnv(env map[string]string) []string {
	if len(env) == 0 {
		return os.Environ()
	}
	keys := make([]string, 0, len(env))
	for key := range env {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	flat := make([]string, 0, len(keys))
	for _, key := range keys {
		flat = append(flat, key+"="+env[key])
	}
	return flat
}
