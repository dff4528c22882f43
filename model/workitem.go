package model

import "fmt"

// WorkItem is one (descriptor, cycle) execution unit, the unit the scheduler
// distributes. Immutable.
type WorkItem struct {
	Descriptor *Descriptor
	Cycle      int
}

func (w WorkItem) String() string {
	return fmt.Sprintf("%s [cycle %d]", w.Descriptor.Key(), w.Cycle+1)
}

// BuildWorkItems expands descriptors into per-cycle work items. Ordering is
// computed once from the already sorted descriptor set and is stable across
// cycles.
func BuildWorkItems(descriptors Descriptors, cycles int) []WorkItem {
	items := make([]WorkItem, 0, len(descriptors)*cycles)
	for cycle := 0; cycle < cycles; cycle++ {
		for _, descriptor := range descriptors {
			items = append(items, WorkItem{Descriptor: descriptor, Cycle: cycle})
		}
	}
	return items
}
