package coordinator

import (
	"fmt"
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runcycle/runcycle/model/types"
)

func TestPortAllocate(t *testing.T) {
	var launch sync.Mutex
	allocator := NewPortAllocator(&launch)
	before := allocator.Size()
	require.Greater(t, before, 0)

	port, err := allocator.Allocate(nil)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, port, 1024)
	assert.Less(t, port, 65536)
	assert.Equal(t, before-1, allocator.Size())

	// The allocated port must actually be bindable by the caller.
	l, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	require.NoError(t, err)
	_ = l.Close()

	allocator.Release(port)
	assert.Equal(t, before, allocator.Size())
}

func TestPortAllocateSkipsBusyPort(t *testing.T) {
	var launch sync.Mutex
	allocator := NewPortAllocator(&launch)

	// Occupy the next candidate so the allocator has to requeue it.
	busy := allocator.pool[0]
	l, err := net.Listen("tcp", fmt.Sprintf(":%d", busy))
	if err != nil {
		t.Skipf("cannot occupy port %d: %v", busy, err)
	}
	defer l.Close()

	port, err := allocator.Allocate(nil)
	require.NoError(t, err)
	assert.NotEqual(t, busy, port)
	// The busy port went to the back of the queue, not out of the pool.
	assert.Equal(t, busy, allocator.pool[len(allocator.pool)-1])
	allocator.Release(port)
}

func TestPortAllocateObservesAbort(t *testing.T) {
	var launch sync.Mutex
	allocator := NewPortAllocator(&launch)
	abort := NewAbort()
	abort.Set()

	_, err := allocator.Allocate(abort)
	assert.ErrorIs(t, err, types.ErrCancelled)
}

func TestPortAllocateReleaseLoop(t *testing.T) {
	var launch sync.Mutex
	allocator := NewPortAllocator(&launch)

	// Repeated allocate/release from a small working set must neither
	// deadlock nor shrink the pool.
	before := allocator.Size()
	for i := 0; i < 100; i++ {
		port, err := allocator.Allocate(nil)
		require.NoError(t, err)
		allocator.Release(port)
	}
	assert.Equal(t, before, allocator.Size())
}

func TestPortPoolExcludesEphemeralRange(t *testing.T) {
	var launch sync.Mutex
	allocator := NewPortAllocator(&launch)
	low, high := ephemeralPortRange()
	for _, p := range allocator.pool[:100] {
		assert.False(t, p >= low && p <= high, "port %d inside ephemeral range", p)
	}
}
