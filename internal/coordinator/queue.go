package coordinator

import (
	"context"
	"sync"
	"time"
)

// notification is one entry of a party's delivery queue.
type notification struct {
	ProposalID string
	JobType    string
}

// deliveryQueue is an unbounded FIFO of notifications owned by one party
// registration. pending counts pushed notifications that have not yet been
// marked done, so Leave can wait for the stream to consume everything.
type deliveryQueue struct {
	mu      sync.Mutex
	items   []notification
	ready   chan struct{}
	pending int
	drained chan struct{}
}

func newDeliveryQueue() *deliveryQueue {
	return &deliveryQueue{ready: make(chan struct{}, 1)}
}

func (q *deliveryQueue) push(n notification) {
	q.mu.Lock()
	q.items = append(q.items, n)
	q.pending++
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// pop returns the head of the queue, waiting at most timeout for one to
// arrive. ok is false on timeout or when ctx ends.
func (q *deliveryQueue) pop(ctx context.Context, timeout time.Duration) (notification, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			n := q.items[0]
			q.items[0] = notification{}
			q.items = q.items[1:]
			more := len(q.items) > 0
			q.mu.Unlock()
			if more {
				select {
				case q.ready <- struct{}{}:
				default:
				}
			}
			return n, true
		}
		q.mu.Unlock()

		select {
		case <-q.ready:
		case <-timer.C:
			return notification{}, false
		case <-ctx.Done():
			return notification{}, false
		}
	}
}

// done marks one popped notification as consumed.
func (q *deliveryQueue) done() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.pending > 0 {
		q.pending--
	}
	q.signalDrainedLocked()
}

// discard drops everything still queued and releases drain waiters.
func (q *deliveryQueue) discard() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
	q.pending = 0
	q.signalDrainedLocked()
}

func (q *deliveryQueue) signalDrainedLocked() {
	if q.pending == 0 && q.drained != nil {
		close(q.drained)
		q.drained = nil
	}
}

// waitDrained blocks until every pushed notification has been marked done.
func (q *deliveryQueue) waitDrained(ctx context.Context) error {
	q.mu.Lock()
	if q.pending == 0 {
		q.mu.Unlock()
		return nil
	}
	if q.drained == nil {
		q.drained = make(chan struct{})
	}
	ch := q.drained
	q.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *deliveryQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
