package scheduler

import (
	"sync"

	"github.com/runcycle/runcycle/lifecycle"
	"github.com/runcycle/runcycle/model"
)

// RunResults is the cycle-indexed outcome table built incrementally as work
// items complete. It is the only structure written concurrently by multiple
// workers, so every access goes through the aggregator lock.
type RunResults struct {
	mu     sync.Mutex
	cycles map[int]map[model.Outcome][]string
	all    []lifecycle.Result
}

// NewRunResults creates an empty results table for the given cycle count.
func NewRunResults(cycles int) *RunResults {
	table := make(map[int]map[model.Outcome][]string, cycles)
	for cycle := 0; cycle < cycles; cycle++ {
		histogram := make(map[model.Outcome][]string, len(model.Precedent))
		for _, outcome := range model.Precedent {
			histogram[outcome] = []string{}
		}
		table[cycle] = histogram
	}
	return &RunResults{cycles: table}
}

// Add aggregates one finalized result.
func (r *RunResults) Add(result lifecycle.Result) {
	id := result.DescriptorID
	if result.Mode != "" {
		id += "~" + result.Mode
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	histogram, ok := r.cycles[result.Cycle]
	if !ok {
		histogram = make(map[model.Outcome][]string)
		r.cycles[result.Cycle] = histogram
	}
	histogram[result.Outcome] = append(histogram[result.Outcome], id)
	r.all = append(r.all, result)
}

// Cycle returns a copy of the per-cycle outcome histogram, the unit external
// writers consume.
func (r *RunResults) Cycle(cycle int) map[model.Outcome][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[model.Outcome][]string, len(r.cycles[cycle]))
	for outcome, ids := range r.cycles[cycle] {
		out[outcome] = append([]string{}, ids...)
	}
	return out
}

// Results returns all aggregated results in completion order.
func (r *RunResults) Results() []lifecycle.Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]lifecycle.Result{}, r.all...)
}

// AnyFailed reports whether any outcome across any cycle is in the FAILS
// subset.
func (r *RunResults) AnyFailed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, histogram := range r.cycles {
		for _, outcome := range model.Fails {
			if len(histogram[outcome]) > 0 {
				return true
			}
		}
	}
	return false
}

// ExitCode is 0 when no run-failing outcome occurred, non-zero otherwise.
func (r *RunResults) ExitCode() int {
	if r.AnyFailed() {
		return 1
	}
	return 0
}
