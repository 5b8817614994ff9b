package apply

import "sync"

// Queue is a thread-safe FIFO of tasks feeding the workers of one action.
//
// The queue is unbounded; back-pressure comes from change sources waiting
// for their batches to be acknowledged. Workers wait on Wait() and drain
// with Take.
type Queue struct {
	mu     sync.Mutex
	tasks  []Task
	closed bool
	signal chan struct{} // buffered, size 1
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{
		tasks:  make([]Task, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue appends tasks. Returns false if the queue is closed.
func (q *Queue) Enqueue(tasks ...Task) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.tasks = append(q.tasks, tasks...)
	q.notify()
	return true
}

// notify wakes one waiter. Multiple signals coalesce. Caller holds mu.
func (q *Queue) notify() {
	if q.closed {
		return
	}
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// DrainUpTo removes and returns at most n tasks from the front. If tasks
// remain, another waiter is woken.
func (q *Queue) DrainUpTo(n int) []Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.drainLocked(n)
}

// Take is DrainUpTo that also reports whether more tasks can arrive. It
// returns open == false only when the queue is closed and empty.
func (q *Queue) Take(n int) (tasks []Task, open bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if tasks = q.drainLocked(n); len(tasks) > 0 {
		return tasks, true
	}
	return nil, !q.closed
}

func (q *Queue) drainLocked(n int) []Task {
	if len(q.tasks) == 0 || n < 1 {
		return nil
	}
	n = min(n, len(q.tasks))
	out := make([]Task, n)
	copy(out, q.tasks)

	// Clear drained slots so commit handlers can be collected.
	clear(q.tasks[:n])
	if n == len(q.tasks) {
		q.tasks = q.tasks[:0]
	} else {
		q.tasks = q.tasks[n:]
		q.notify()
	}
	return out
}

// Wait returns a channel that signals when tasks may be available. It is
// closed by Close.
func (q *Queue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the number of queued tasks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Closed reports whether Close was called.
func (q *Queue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close rejects further tasks and wakes every waiter. Queued tasks can
// still be drained.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
