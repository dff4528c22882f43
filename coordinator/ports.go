package coordinator

import (
	"fmt"
	"math/rand"
	"net"
	"os"
	"runtime"
	"strings"
	"sync"

	"github.com/runcycle/runcycle/model/types"
)

// PortAllocator hands out TCP server ports that are free at allocation time.
// The pool covers all non-privileged, non-ephemeral ports, shuffled once per
// engine instance to reduce clashes between simultaneous runs on the same
// host, and is consumed as an LRU queue: a port found in use goes to the
// back and the next candidate is probed.
type PortAllocator struct {
	mu     sync.Mutex
	pool   []int
	launch *sync.Mutex
}

// NewPortAllocator builds the shuffled pool. The launch lock serializes the
// bind/listen/close probe against concurrent process creation.
func NewPortAllocator(launch *sync.Mutex) *PortAllocator {
	low, high := ephemeralPortRange()
	pool := make([]int, 0, (low-1024)+(65536-high-1))
	for p := 1024; p < low; p++ {
		pool = append(pool, p)
	}
	for p := high + 1; p < 65536; p++ {
		pool = append(pool, p)
	}
	rand.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })
	return &PortAllocator{pool: pool, launch: launch}
}

// ephemeralPortRange returns the range the OS allocates client-side ports
// from. On Linux it is read from /proc; elsewhere the IANA defaults apply.
func ephemeralPortRange() (low, high int) {
	low, high = 32768, 60999
	if runtime.GOOS == "windows" || runtime.GOOS == "darwin" {
		low, high = 49152, 65535
	}
	if runtime.GOOS == "linux" {
		if data, err := os.ReadFile("/proc/sys/net/ipv4/ip_local_port_range"); err == nil {
			var l, h int
			if _, err := fmt.Sscanf(strings.TrimSpace(string(data)), "%d %d", &l, &h); err == nil && l > 0 && h > l {
				low, high = l, h
			}
		}
	}
	return low, high
}

// Allocate pops ports off the front of the queue until one passes the bind
// probe, re-queueing in-use ports at the back. It observes the abort flag
// between probes.
func (a *PortAllocator) Allocate(abort *Abort) (int, error) {
	for {
		if abort != nil && abort.IsSet() {
			return 0, types.ErrCancelled
		}
		a.mu.Lock()
		if len(a.pool) == 0 {
			a.mu.Unlock()
			return 0, fmt.Errorf("tcp server port pool exhausted")
		}
		port := a.pool[0]
		a.pool = a.pool[1:]
		a.mu.Unlock()

		if a.probe(port) {
			return port, nil
		}
		// In use by someone else right now; move to the back for fair reuse.
		a.Release(port)
	}
}

// Release returns a port to the back of the queue.
func (a *PortAllocator) Release(port int) {
	a.mu.Lock()
	a.pool = append(a.pool, port)
	a.mu.Unlock()
}

// probe binds, listens and closes under the process-launch lock so that the
// check cannot race with a concurrently forked child inheriting the socket.
func (a *PortAllocator) probe(port int) bool {
	a.launch.Lock()
	defer a.launch.Unlock()
	l, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return false
	}
	_ = l.Close()
	return true
}

// Size returns the number of ports currently in the pool.
func (a *PortAllocator) Size() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pool)
}
