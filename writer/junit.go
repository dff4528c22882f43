package writer

import (
	"context"
	"encoding/xml"
	"os"
	"path/filepath"
	"sync"

	"github.com/runcycle/runcycle/lifecycle"
	"github.com/runcycle/runcycle/model"
)

// JUnit writes one JUnit-style XML report per run into the given directory,
// which most CI systems ingest natively.
type JUnit struct {
	dir string

	mu      sync.Mutex
	total   int
	results []lifecycle.Result
}

// NewJUnit creates a JUnit report writer rooted at dir.
func NewJUnit(dir string) *JUnit {
	return &JUnit{dir: dir}
}

type junitSuite struct {
	XMLName  xml.Name    `xml:"testsuite"`
	Name     string      `xml:"name,attr"`
	Tests    int         `xml:"tests,attr"`
	Failures int         `xml:"failures,attr"`
	Skipped  int         `xml:"skipped,attr"`
	Cases    []junitCase `xml:"testcase"`
}

type junitCase struct {
	Name     string        `xml:"name,attr"`
	Time     float64       `xml:"time,attr"`
	Failure  *junitMessage `xml:"failure,omitempty"`
	Skipped_ *junitMessage `xml:"skipped,omitempty"`
}

type junitMessage struct {
	Message string `xml:"message,attr"`
}

func (j *JUnit) Setup(_ context.Context, totalTests int) error {
	j.mu.Lock()
	j.total = totalTests
	j.mu.Unlock()
	return os.MkdirAll(j.dir, 0755)
}

func (j *JUnit) ProcessResult(_ context.Context, result lifecycle.Result) error {
	j.mu.Lock()
	j.results = append(j.results, result)
	j.mu.Unlock()
	return nil
}

func (j *JUnit) Cleanup(context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	suite := junitSuite{Name: "runcycle", Tests: len(j.results)}
	for _, result := range j.results {
		c := junitCase{Name: testID(result), Time: result.Duration.Seconds()}
		switch {
		case result.Outcome.IsFail():
			suite.Failures++
			c.Failure = &junitMessage{Message: result.Outcome.String() + ": " + result.Reason}
		case result.Outcome == model.Skipped:
			suite.Skipped++
			c.Skipped_ = &junitMessage{Message: result.Reason}
		}
		suite.Cases = append(suite.Cases, c)
	}

	data, err := xml.MarshalIndent(suite, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(j.dir, "TEST-runcycle.xml"),
		append([]byte(xml.Header), data...), 0644)
}
