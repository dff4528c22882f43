package writer

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/runcycle/runcycle/lifecycle"
	"github.com/runcycle/runcycle/model"
)

// Console summarizes the run on an io.Writer: every completed test as it
// finishes, then all non-passes grouped by outcome severity at run end.
type Console struct {
	out    io.Writer
	cycles int

	mu      sync.Mutex
	results []lifecycle.Result
}

// NewConsole creates a console summary writer; cycles controls whether the
// final summary is prefixed with cycle numbers.
func NewConsole(out io.Writer, cycles int) *Console {
	return &Console{out: out, cycles: cycles}
}

func (c *Console) Setup(_ context.Context, totalTests int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := fmt.Fprintf(c.out, "Running %d tests\n", totalTests)
	return err
}

func (c *Console) ProcessResult(_ context.Context, result lifecycle.Result) error {
	// The lock also serializes output: workers share one sink.
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results = append(c.results, result)
	_, err := fmt.Fprintf(c.out, "%-20s %s (%.2f secs)\n",
		result.Outcome, testID(result), result.Duration.Seconds())
	return err
}

func (c *Console) Cleanup(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	fails := 0
	for _, result := range c.results {
		if result.Outcome.IsFail() {
			fails++
		}
	}
	fmt.Fprintf(c.out, "\nSummary of non passes:\n")
	if fails == 0 {
		fmt.Fprintf(c.out, "  THERE WERE NO NON PASSES\n")
		return nil
	}
	for _, outcome := range model.Fails {
		for _, result := range c.results {
			if result.Outcome != outcome {
				continue
			}
			if c.cycles > 1 {
				fmt.Fprintf(c.out, "  [CYCLE %d] %s: %s\n", result.Cycle+1, outcome, testID(result))
			} else {
				fmt.Fprintf(c.out, "  %s: %s\n", outcome, testID(result))
			}
		}
	}
	return nil
}

func testID(result lifecycle.Result) string {
	if result.Mode != "" {
		return result.DescriptorID + "~" + result.Mode
	}
	return result.DescriptorID
}
