package model

// Outcome is the categorical result of a single test execution.
type Outcome int

const (
	Passed Outcome = iota + 20
	Inspect
	NotVerified
	Failed
	TimedOut
	DumpedCore
	Blocked
	Skipped
)

// Precedent orders outcomes from highest to lowest reporting precedence.
// When a test accumulates several outcomes, the first entry of this list
// that appears anywhere in the accumulated sequence wins.
var Precedent = []Outcome{Skipped, Blocked, DumpedCore, TimedOut, Failed, NotVerified, Inspect, Passed}

// Fails is the subset of outcomes that makes the whole run fail for
// exit-code purposes.
var Fails = []Outcome{Blocked, DumpedCore, TimedOut, Failed}

var outcomeNames = map[Outcome]string{
	Passed:      "PASSED",
	Inspect:     "REQUIRES INSPECTION",
	NotVerified: "NOT VERIFIED",
	Failed:      "FAILED",
	TimedOut:    "TIMED OUT",
	DumpedCore:  "DUMPED CORE",
	Blocked:     "BLOCKED",
	Skipped:     "SKIPPED",
}

func (o Outcome) String() string {
	if name, ok := outcomeNames[o]; ok {
		return name
	}
	return "UNKNOWN"
}

// IsFail reports whether o counts as a run failure.
func (o Outcome) IsFail() bool {
	for _, f := range Fails {
		if o == f {
			return true
		}
	}
	return false
}

// precedence returns the position of o within Precedent; unknown outcomes
// sort after all known ones.
func (o Outcome) precedence() int {
	for i, p := range Precedent {
		if o == p {
			return i
		}
	}
	return len(Precedent)
}

// FinalOutcome reduces an accumulated outcome sequence to the single
// reported outcome. An empty sequence defaults to NotVerified: nothing
// asserted means nothing was verified.
func FinalOutcome(outcomes []Outcome) Outcome {
	if len(outcomes) == 0 {
		return NotVerified
	}
	final := outcomes[0]
	best := final.precedence()
	for _, o := range outcomes[1:] {
		if p := o.precedence(); p < best {
			final, best = o, p
		}
	}
	return final
}
