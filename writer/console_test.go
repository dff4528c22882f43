package writer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runcycle/runcycle/lifecycle"
	"github.com/runcycle/runcycle/model"
)

func TestConsoleSummary(t *testing.T) {
	var buf bytes.Buffer
	console := NewConsole(&buf, 1)
	ctx := context.Background()

	require.NoError(t, console.Setup(ctx, 3))
	require.NoError(t, console.ProcessResult(ctx, lifecycle.Result{
		DescriptorID: "ok", Outcome: model.Passed, Duration: 1500 * time.Millisecond}))
	require.NoError(t, console.ProcessResult(ctx, lifecycle.Result{
		DescriptorID: "bad", Outcome: model.Failed, Reason: "assertion failed"}))
	require.NoError(t, console.ProcessResult(ctx, lifecycle.Result{
		DescriptorID: "slow", Mode: "tls", Outcome: model.TimedOut}))
	require.NoError(t, console.Cleanup(ctx))

	out := buf.String()
	assert.Contains(t, out, "Running 3 tests")
	assert.Contains(t, out, "PASSED")
	assert.Contains(t, out, "ok (1.50 secs)")
	assert.Contains(t, out, "Summary of non passes:")
	assert.Contains(t, out, "FAILED: bad")
	assert.Contains(t, out, "TIMED OUT: slow~tls")
	// The summary groups by severity: timed out before plain failures.
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("TIMED OUT: slow~tls")),
		bytes.Index(buf.Bytes(), []byte("FAILED: bad")))
}

func TestConsoleNoFailures(t *testing.T) {
	var buf bytes.Buffer
	console := NewConsole(&buf, 1)
	ctx := context.Background()

	require.NoError(t, console.ProcessResult(ctx, lifecycle.Result{
		DescriptorID: "ok", Outcome: model.Passed}))
	require.NoError(t, console.Cleanup(ctx))
	assert.Contains(t, buf.String(), "THERE WERE NO NON PASSES")
}

func TestConsoleCyclePrefix(t *testing.T) {
	var buf bytes.Buffer
	console := NewConsole(&buf, 2)
	ctx := context.Background()

	require.NoError(t, console.ProcessResult(ctx, lifecycle.Result{
		DescriptorID: "bad", Cycle: 1, Outcome: model.Failed}))
	require.NoError(t, console.Cleanup(ctx))
	assert.Contains(t, buf.String(), "[CYCLE 2] FAILED: bad")
}

func TestConsoleConcurrentResults(t *testing.T) {
	var buf bytes.Buffer
	console := NewConsole(&buf, 1)
	ctx := context.Background()

	// Multiple workers report into one sink; every line must land intact.
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_ = console.ProcessResult(ctx, lifecycle.Result{
					DescriptorID: fmt.Sprintf("t%d_%d", w, i), Outcome: model.Passed})
			}
		}(w)
	}
	wg.Wait()
	require.NoError(t, console.Cleanup(ctx))

	assert.Equal(t, 200, strings.Count(buf.String(), "PASSED"))
}

type failingWriter struct{ calls int }

func (f *failingWriter) Setup(context.Context, int) error { f.calls++; return errors.New("nope") }
func (f *failingWriter) ProcessResult(context.Context, lifecycle.Result) error {
	f.calls++
	return errors.New("nope")
}
func (f *failingWriter) Cleanup(context.Context) error { f.calls++; return errors.New("nope") }

func TestRegistryIsolatesWriterFailures(t *testing.T) {
	failing := &failingWriter{}
	var buf bytes.Buffer
	console := NewConsole(&buf, 1)
	registry := NewRegistry(nil, failing, console)
	ctx := context.Background()

	// Failures are logged, the run keeps notifying the remaining writers.
	registry.Setup(ctx, 1)
	registry.ProcessResult(ctx, lifecycle.Result{DescriptorID: "ok", Outcome: model.Passed})
	registry.Cleanup(ctx)

	assert.Equal(t, 3, failing.calls)
	assert.Contains(t, buf.String(), "ok")
}
