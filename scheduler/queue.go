package scheduler

import (
	"context"
	"fmt"

	"github.com/runcycle/runcycle/coordinator"
	"github.com/runcycle/runcycle/model"
	"github.com/runcycle/runcycle/model/types"
)

// queue is the in-memory work-item dispatch queue for one cycle. FIFO
// consumption preserves the deterministic (executionOrderHint, id) publish
// order; once the run-scoped abort flag is raised the queue stops handing
// out items.
type queue struct {
	items chan model.WorkItem
	abort *coordinator.Abort
}

func newQueue(capacity int, abort *coordinator.Abort) *queue {
	return &queue{
		items: make(chan model.WorkItem, capacity),
		abort: abort,
	}
}

// publish enqueues an item; the queue is sized for the full cycle upfront so
// this never blocks during dispatch.
func (q *queue) publish(item model.WorkItem) error {
	select {
	case q.items <- item:
		return nil
	default:
		return fmt.Errorf("work queue full publishing %s", item)
	}
}

// close marks the end of the cycle's dispatch.
func (q *queue) close() {
	close(q.items)
}

// consume retrieves the next item. ok=false means the cycle is drained; a
// raised abort flag surfaces as types.ErrCancelled even when items remain.
func (q *queue) consume(ctx context.Context) (model.WorkItem, bool, error) {
	if q.abort.IsSet() {
		return model.WorkItem{}, false, types.ErrCancelled
	}
	select {
	case item, ok := <-q.items:
		if !ok {
			return model.WorkItem{}, false, nil
		}
		if q.abort.IsSet() {
			return model.WorkItem{}, false, types.ErrCancelled
		}
		return item, true, nil
	case <-q.abort.Done():
		return model.WorkItem{}, false, types.ErrCancelled
	case <-ctx.Done():
		return model.WorkItem{}, false, ctx.Err()
	}
}
