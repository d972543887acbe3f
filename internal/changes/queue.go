package changes

import (
	"context"
	"sync"
	"sync/atomic"
)

// Queue is a bounded FIFO of events. It is safe for concurrent use.
type Queue struct {
	policy Policy

	mu     sync.Mutex
	buf    []Event
	head   int
	n      int
	closed bool

	// changed is closed and replaced whenever an event is added or removed,
	// or the queue is closed.
	changed chan struct{}

	dropped atomic.Uint64
}

// NewQueue returns an empty queue holding at most capacity events.
func NewQueue(capacity int, policy Policy) *Queue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &Queue{
		policy:  policy,
		buf:     make([]Event, capacity),
		changed: make(chan struct{}),
	}
}

// Push appends e. On a full queue PolicyBlock waits for room or ctx, and
// PolicyDropOldest discards the oldest event.
func (q *Queue) Push(ctx context.Context, e Event) error {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return ErrQueueClosed
		}
		if q.n == len(q.buf) && q.policy == PolicyDropOldest {
			q.buf[q.head] = Event{}
			q.head = (q.head + 1) % len(q.buf)
			q.n--
			q.dropped.Add(1)
		}
		if q.n < len(q.buf) {
			q.buf[(q.head+q.n)%len(q.buf)] = e
			q.n++
			q.notify()
			q.mu.Unlock()
			return nil
		}
		wait := q.changed
		q.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Pop removes and returns the oldest event, waiting while the queue is
// empty. A closed queue still hands out the events it holds, then returns
// ErrQueueClosed.
func (q *Queue) Pop(ctx context.Context) (Event, error) {
	for {
		q.mu.Lock()
		if q.n > 0 {
			e := q.buf[q.head]
			q.buf[q.head] = Event{}
			q.head = (q.head + 1) % len(q.buf)
			q.n--
			q.notify()
			q.mu.Unlock()
			return e, nil
		}
		if q.closed {
			q.mu.Unlock()
			return Event{}, ErrQueueClosed
		}
		wait := q.changed
		q.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return Event{}, ctx.Err()
		}
	}
}

// Close wakes every waiter. Later Push calls fail; Pop drains what is
// left.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		q.notify()
	}
}

// Discard closes the queue and throws away the events it holds.
func (q *Queue) Discard() {
	q.mu.Lock()
	defer q.mu.Unlock()
	clear(q.buf)
	q.head, q.n = 0, 0
	q.closed = true
	q.notify()
}

// Len returns the number of queued events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.n
}

// Cap returns the queue capacity.
func (q *Queue) Cap() int { return len(q.buf) }

// Dropped returns how many events overflowed the queue: discarded by
// PolicyDropOldest, or refused while the hub was stopping.
func (q *Queue) Dropped() uint64 { return q.dropped.Load() }

func (q *Queue) countDrop() { q.dropped.Add(1) }

// notify must be called with mu held.
func (q *Queue) notify() {
	close(q.changed)
	q.changed = make(chan struct{})
}
