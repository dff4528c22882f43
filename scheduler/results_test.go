package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/runcycle/runcycle/lifecycle"
	"github.com/runcycle/runcycle/model"
)

func TestRunResultsAggregation(t *testing.T) {
	results := NewRunResults(2)
	results.Add(lifecycle.Result{DescriptorID: "a", Cycle: 0, Outcome: model.Passed})
	results.Add(lifecycle.Result{DescriptorID: "b", Mode: "tls", Cycle: 0, Outcome: model.Failed})
	results.Add(lifecycle.Result{DescriptorID: "a", Cycle: 1, Outcome: model.Passed})

	first := results.Cycle(0)
	assert.Equal(t, []string{"a"}, first[model.Passed])
	assert.Equal(t, []string{"b~tls"}, first[model.Failed])
	assert.Empty(t, first[model.Skipped])

	second := results.Cycle(1)
	assert.Equal(t, []string{"a"}, second[model.Passed])
	assert.Empty(t, second[model.Failed])

	assert.Len(t, results.Results(), 3)
}

func TestRunResultsExitCode(t *testing.T) {
	results := NewRunResults(1)
	assert.Equal(t, 0, results.ExitCode())

	results.Add(lifecycle.Result{DescriptorID: "a", Outcome: model.Passed})
	results.Add(lifecycle.Result{DescriptorID: "b", Outcome: model.Skipped})
	results.Add(lifecycle.Result{DescriptorID: "c", Outcome: model.NotVerified})
	assert.Equal(t, 0, results.ExitCode())
	assert.False(t, results.AnyFailed())

	results.Add(lifecycle.Result{DescriptorID: "d", Outcome: model.TimedOut})
	assert.Equal(t, 1, results.ExitCode())
	assert.True(t, results.AnyFailed())
}

func TestRunResultsCycleCopyIsolated(t *testing.T) {
	results := NewRunResults(1)
	results.Add(lifecycle.Result{DescriptorID: "a", Outcome: model.Passed})

	copied := results.Cycle(0)
	copied[model.Passed] = append(copied[model.Passed], "mutated")
	assert.Equal(t, []string{"a"}, results.Cycle(0)[model.Passed])
}
