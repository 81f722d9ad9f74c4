package order

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/yohan-kwon/kquant-core/internal/types"
)

// heapItem is one queued order plus its position in the backing slice,
// maintained by Swap so Queue can remove an arbitrary order by id in
// O(log n) during the expiry sweep.
type heapItem struct {
	order types.Order
	index int
}

type priorityHeap []*heapItem

func (h priorityHeap) Len() int { return len(h) }

func (h priorityHeap) Less(i, j int) bool {
	if h[i].order.PriorityKey != h[j].order.PriorityKey {
		return h[i].order.PriorityKey < h[j].order.PriorityKey
	}
	return h[i].order.CreatedTS.Before(h[j].order.CreatedTS)
}

func (h priorityHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *priorityHeap) Push(x any) {
	it := x.(*heapItem)
	it.index = len(*h)
	*h = append(*h, it)
}

func (h *priorityHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*h = old[:n-1]
	return it
}

// Queue is the Order Engine's priority dispatch queue (spec §4.H.2): a
// container/heap ordered by PriorityKey with FIFO tie-break, plus an
// expiry sweep for orders that age out before ever being submitted.
type Queue struct {
	mu    sync.Mutex
	heap  priorityHeap
	index map[string]*heapItem
	wake  chan struct{}
}

// NewQueue builds an empty priority queue.
func NewQueue() *Queue {
	return &Queue{index: make(map[string]*heapItem), wake: make(chan struct{}, 1)}
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Push enqueues o. The caller must have already set o.PriorityKey.
func (q *Queue) Push(o types.Order) {
	q.mu.Lock()
	it := &heapItem{order: o}
	heap.Push(&q.heap, it)
	q.index[o.ID] = it
	q.mu.Unlock()
	q.signal()
}

// Len reports the number of queued orders.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.heap.Len()
}

func (q *Queue) tryPop() (types.Order, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.heap.Len() == 0 {
		return types.Order{}, false
	}
	it := heap.Pop(&q.heap).(*heapItem)
	delete(q.index, it.order.ID)
	return it.order, true
}

// Pop blocks until an order is available, the queue is signaled, or ctx is
// done. A 50ms poll interval covers the race between an empty check and a
// concurrent Push's wake signal.
func (q *Queue) Pop(ctx context.Context) (types.Order, bool) {
	for {
		if o, ok := q.tryPop(); ok {
			return o, true
		}
		select {
		case <-ctx.Done():
			return types.Order{}, false
		case <-q.wake:
		case <-time.After(50 * time.Millisecond):
		}
	}
}

// RemoveExpired pulls out (without re-queueing) every order whose
// CreatedTS is older than maxAge, for the priority-timeout expiry sweep
// (spec §4.H.2): orders not submitted within priority_timeout transition
// to FAILED(expired) even if buried behind higher-priority work.
func (q *Queue) RemoveExpired(maxAge time.Duration) []types.Order {
	q.mu.Lock()
	defer q.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	var expiredIDs []string
	for id, it := range q.index {
		if it.order.CreatedTS.Before(cutoff) {
			expiredIDs = append(expiredIDs, id)
		}
	}

	expired := make([]types.Order, 0, len(expiredIDs))
	for _, id := range expiredIDs {
		it := q.index[id]
		expired = append(expired, it.order)
		heap.Remove(&q.heap, it.index)
		delete(q.index, id)
	}
	return expired
}
