//go:build unix

package process

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runcycle/runcycle/coordinator"
	"github.com/runcycle/runcycle/model/types"
)

func TestBackgroundExitStatus(t *testing.T) {
	service := New(coordinator.NewShared())
	handle, err := service.Start(context.Background(), Spec{
		Command: "sh",
		Args:    []string{"-c", "exit 3"},
		State:   Background,
	})
	require.NoError(t, err)

	status, err := handle.Wait(5 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, 3, status)
	assert.False(t, handle.Signalled())
	assert.False(t, handle.Running())

	// Waiting again returns the cached status.
	status, err = handle.Wait(time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 3, status)
}

func TestForegroundTimeoutLeavesProcessRunning(t *testing.T) {
	service := New(coordinator.NewShared())
	handle, err := service.Start(context.Background(), Spec{
		Command: "sleep",
		Args:    []string{"30"},
		State:   Foreground,
		Timeout: 100 * time.Millisecond,
	})
	require.NotNil(t, handle)
	assert.True(t, types.IsTimeout(err))
	assert.True(t, handle.Running())

	require.NoError(t, handle.Stop(5*time.Second, true))
	assert.False(t, handle.Running())
}

func TestForegroundDefaultTimeoutApplies(t *testing.T) {
	service := New(coordinator.NewShared(), WithDefaultTimeout(100*time.Millisecond))
	handle, err := service.Start(context.Background(), Spec{
		Command: "sleep",
		Args:    []string{"30"},
		State:   Foreground,
	})
	require.NotNil(t, handle)
	assert.True(t, types.IsTimeout(err))
	require.NoError(t, handle.Stop(5*time.Second, true))
}

func TestStopGracefulReportsSignal(t *testing.T) {
	service := New(coordinator.NewShared())
	handle, err := service.Start(context.Background(), Spec{
		Command: "sleep",
		Args:    []string{"30"},
		State:   Background,
	})
	require.NoError(t, err)

	require.NoError(t, handle.Stop(5*time.Second, false))
	status, exited := handle.ExitStatus()
	assert.True(t, exited)
	assert.True(t, handle.Signalled())
	assert.Equal(t, 15, status) // SIGTERM

	// Stop after exit is a no-op.
	assert.NoError(t, handle.Stop(time.Second, false))
}

func TestStdinWriteRoundTrip(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "cat.out")

	service := New(coordinator.NewShared())
	handle, err := service.Start(context.Background(), Spec{
		Command: "cat",
		State:   Background,
		Stdout:  out,
	})
	require.NoError(t, err)

	require.NoError(t, handle.Write([]byte("hello"), true))
	require.NoError(t, handle.Write([]byte("world\n"), true))

	// cat exits once stdin closes; a graceful stop closes the pipe on exit
	// capture, so give the writer a moment then terminate.
	time.Sleep(200 * time.Millisecond)
	require.NoError(t, handle.Stop(5*time.Second, false))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "hello\nworld\n", string(data))
}

func TestWriteToExitedProcessFails(t *testing.T) {
	service := New(coordinator.NewShared())
	handle, err := service.Start(context.Background(), Spec{
		Command: "true",
		State:   Background,
	})
	require.NoError(t, err)
	_, err = handle.Wait(5 * time.Second)
	require.NoError(t, err)

	err = handle.Write([]byte("late"), false)
	assert.Error(t, err)
}

func TestGroupKillTakesChildren(t *testing.T) {
	dir := t.TempDir()
	pidFile := filepath.Join(dir, "child.pid")

	service := New(coordinator.NewShared())
	// The shell spawns a grandchild sleep and records its pid, then idles.
	handle, err := service.Start(context.Background(), Spec{
		Command:    "sh",
		Args:       []string{"-c", "sleep 30 & echo $! > child.pid; wait"},
		State:      Background,
		WorkingDir: dir,
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, statErr := os.Stat(pidFile)
		return statErr == nil
	}, 5*time.Second, 20*time.Millisecond)

	data, err := os.ReadFile(pidFile)
	require.NoError(t, err)
	childPid := strings.TrimSpace(string(data))

	require.NoError(t, handle.Stop(5*time.Second, true))

	// The grandchild must be gone with the group.
	assert.Eventually(t, func() bool {
		_, statErr := os.Stat(filepath.Join("/proc", childPid))
		return statErr != nil
	}, 5*time.Second, 20*time.Millisecond)
}

func TestStopSucceedsAfterHardInterrupt(t *testing.T) {
	shared := coordinator.NewShared()
	service := New(shared)
	handle, err := service.Start(context.Background(), Spec{
		Command: "sleep",
		Args:    []string{"30"},
		State:   Background,
	})
	require.NoError(t, err)

	// A raised abort flag must not make stop confirmation report failure
	// for a kill that actually landed.
	shared.Abort.SetHard()
	assert.NoError(t, handle.Stop(10*time.Second, true))
	assert.False(t, handle.Running())
}

func TestStopKeepsGraceUnderSoftInterrupt(t *testing.T) {
	shared := coordinator.NewShared()
	service := New(shared)
	handle, err := service.Start(context.Background(), Spec{
		Command: "sleep",
		Args:    []string{"30"},
		State:   Background,
	})
	require.NoError(t, err)

	shared.Abort.Set()
	require.NoError(t, handle.Stop(5*time.Second, false))

	// SIGTERM (15), not an instant SIGKILL escalation: the graceful wait
	// must not collapse just because the run was interrupted.
	status, exited := handle.ExitStatus()
	assert.True(t, exited)
	assert.True(t, handle.Signalled())
	assert.Equal(t, 15, status)
}

// flakyGroup fails graceful group signalling while leaving individual
// termination intact.
type flakyGroup struct{ Group }

func (g flakyGroup) SignalGroup(pid int, kill bool) error {
	if !kill {
		return errors.New("signal group unavailable")
	}
	return g.Group.SignalGroup(pid, kill)
}

func TestGroupSignalFailureLoggedNotFatal(t *testing.T) {
	var logBuf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logBuf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	service := New(coordinator.NewShared(),
		WithLogger(logger),
		WithGroup(flakyGroup{newGroup()}))
	handle, err := service.Start(context.Background(), Spec{
		Command: "sleep",
		Args:    []string{"30"},
		State:   Background,
	})
	require.NoError(t, err)

	// The pid itself was signalled fine, so the stop succeeds.
	require.NoError(t, handle.Stop(5*time.Second, false))
	assert.Contains(t, logBuf.String(), "group signal failed")
}

func TestWaitObservesAbort(t *testing.T) {
	shared := coordinator.NewShared()
	service := New(shared)
	handle, err := service.Start(context.Background(), Spec{
		Command: "sleep",
		Args:    []string{"30"},
		State:   Background,
	})
	require.NoError(t, err)
	defer func() { _ = handle.Stop(5*time.Second, true) }()

	go func() {
		time.Sleep(50 * time.Millisecond)
		shared.Abort.Set()
	}()
	_, err = handle.Wait(10 * time.Second)
	assert.True(t, types.IsCancelled(err))
}
