package model

import (
	"path/filepath"
	"sort"

	"github.com/runcycle/runcycle/model/types"
)

// TestType distinguishes automated tests from ones requiring an operator.
type TestType string

const (
	TestTypeAuto   TestType = "auto"
	TestTypeManual TestType = "manual"
)

// Descriptor is the static definition of one test case. Instances are
// immutable once scheduling begins; mode expansion synthesizes copies with a
// distinct identity rather than mutating the original.
type Descriptor struct {
	ID                 string   `yaml:"id" json:"id"`
	Title              string   `yaml:"title,omitempty" json:"title,omitempty"`
	Groups             []string `yaml:"groups,omitempty" json:"groups,omitempty"`
	Modes              []string `yaml:"modes,omitempty" json:"modes,omitempty"`
	Mode               string   `yaml:"mode,omitempty" json:"mode,omitempty"`
	Type               TestType `yaml:"type,omitempty" json:"type,omitempty"`
	ExecutionOrderHint float64  `yaml:"executionOrderHint,omitempty" json:"executionOrderHint,omitempty"`
	OutputDir          string   `yaml:"outputDir" json:"outputDir"`
	Runnable           bool     `yaml:"runnable" json:"runnable"`
}

// Key is the identity used for output-directory purposes; a mode-expanded
// copy gets a distinct key even though it shares the descriptor id.
func (d *Descriptor) Key() string {
	if d.Mode != "" {
		return d.ID + "~" + d.Mode
	}
	return d.ID
}

// WithMode synthesizes a mode-specific copy of the descriptor with a
// distinct identity for output-directory purposes.
func (d *Descriptor) WithMode(mode string) *Descriptor {
	copied := *d
	copied.Mode = mode
	copied.OutputDir = filepath.Join(d.OutputDir, "~"+mode)
	return &copied
}

// HasGroup reports whether the descriptor belongs to the given group.
func (d *Descriptor) HasGroup(group string) bool {
	for _, g := range d.Groups {
		if g == group {
			return true
		}
	}
	return false
}

// Descriptors is an ordered descriptor set as supplied by the selector.
type Descriptors []*Descriptor

// Validate rejects descriptor sets the scheduler cannot run: empty sets and
// duplicate identities are hard configuration errors.
func (d Descriptors) Validate() error {
	if len(d) == 0 {
		return types.NewConfigError("no tests to run")
	}
	seen := make(map[string]bool, len(d))
	roots := make(map[string]string, len(d))
	for _, descriptor := range d {
		if descriptor.ID == "" {
			return types.NewConfigError("descriptor with empty id")
		}
		key := descriptor.Key()
		if seen[key] {
			return types.NewConfigError("duplicate test id: %s", key)
		}
		seen[key] = true
		// Output roots must be distinct: two work items may never touch the
		// same directory tree concurrently.
		if descriptor.OutputDir == "" {
			return types.NewConfigError("descriptor %s has no output directory", key)
		}
		if other, ok := roots[descriptor.OutputDir]; ok {
			return types.NewConfigError("descriptors %s and %s share output directory %s",
				other, key, descriptor.OutputDir)
		}
		roots[descriptor.OutputDir] = key
	}
	return nil
}

// Sort orders descriptors by (executionOrderHint, id) ascending; this is the
// dispatch order for every cycle regardless of pool size.
func (d Descriptors) Sort() {
	sort.SliceStable(d, func(i, j int) bool {
		if d[i].ExecutionOrderHint != d[j].ExecutionOrderHint {
			return d[i].ExecutionOrderHint < d[j].ExecutionOrderHint
		}
		return d[i].Key() < d[j].Key()
	})
}
