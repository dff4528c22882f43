// Package coordinator holds the shared mutable state of one engine instance:
// the process-launch lock, the TCP port allocator and the run-scoped abort
// flag. The state is injected into the supervisor and scheduler rather than
// kept in package globals so that multiple independent engines can coexist
// in a single binary.
package coordinator

import (
	"sync"
	"time"

	"github.com/runcycle/runcycle/model/types"
)

// Abort is the run-scoped cooperative cancellation flag. Setting it stops
// the scheduler from handing out new work items and makes every suspension
// point return types.ErrCancelled within a bounded delay. A second, harder
// signal additionally terminates in-flight work before cleanup completes.
type Abort struct {
	once     sync.Once
	hardOnce sync.Once
	ch       chan struct{}
	hardCh   chan struct{}
}

// NewAbort creates an unset abort flag.
func NewAbort() *Abort {
	return &Abort{ch: make(chan struct{}), hardCh: make(chan struct{})}
}

// Set raises the flag; safe to call more than once.
func (a *Abort) Set() {
	a.once.Do(func() { close(a.ch) })
}

// SetHard raises both the soft and the hard flag; in-flight work items stop
// waiting for graceful completion.
func (a *Abort) SetHard() {
	a.Set()
	a.hardOnce.Do(func() { close(a.hardCh) })
}

// IsSet reports whether the flag has been raised.
func (a *Abort) IsSet() bool {
	select {
	case <-a.ch:
		return true
	default:
		return false
	}
}

// IsHard reports whether the hard flag has been raised.
func (a *Abort) IsHard() bool {
	select {
	case <-a.hardCh:
		return true
	default:
		return false
	}
}

// Done returns a channel closed when the flag is raised, for use in selects
// at suspension points.
func (a *Abort) Done() <-chan struct{} { return a.ch }

// HardDone returns a channel closed when the hard flag is raised.
func (a *Abort) HardDone() <-chan struct{} { return a.hardCh }

// Sleep pauses for d or until the flag is raised, whichever comes first.
// Returns types.ErrCancelled when interrupted.
func (a *Abort) Sleep(d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-a.ch:
		return types.ErrCancelled
	}
}

// Shared bundles the coordinators one engine instance injects into its
// supervisor, lifecycle and scheduler components.
type Shared struct {
	// Launch serializes the narrow OS-level sequence around process
	// creation and port bind probes. It is never held for the lifetime of
	// a child process.
	Launch sync.Mutex

	Ports *PortAllocator
	Abort *Abort
}

// NewShared creates the coordinator set for a fresh engine instance.
func NewShared() *Shared {
	s := &Shared{Abort: NewAbort()}
	s.Ports = NewPortAllocator(&s.Launch)
	return s
}
