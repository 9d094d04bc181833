package job

import "sync"

// Queue is an unbounded, multi-producer/single-consumer FIFO of requests.
// The corpus has no lock-free queue to ground this on, so it is built the
// idiomatic Go way: a mutex-guarded slice. Waking the worker is handled by
// a separate hook rather than the queue's own condition variable, since the
// worker's single wait point (see internal/worker) also needs to wake on
// state changes that have nothing to do with the queue.
type Queue struct {
	mu      sync.Mutex
	pending []Request
	notify  func()
}

// NewQueue constructs an empty queue. notify, if non-nil, is called after
// every successful Schedule, outside the queue's lock.
func NewQueue(notify func()) *Queue {
	return &Queue{notify: notify}
}

// Schedule appends a request to the back of the queue and invokes the
// queue's notify hook. It never blocks and never fails.
func (q *Queue) Schedule(r Request) {
	q.mu.Lock()
	q.pending = append(q.pending, r)
	q.mu.Unlock()
	if q.notify != nil {
		q.notify()
	}
}

// Drain removes and returns every request currently queued, in submission
// order, leaving the queue empty.
func (q *Queue) Drain() []Request {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil
	}
	drained := q.pending
	q.pending = nil
	return drained
}

// Len reports how many requests are currently queued.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
