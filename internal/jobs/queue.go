package jobs

import "sync"

// fifo is an unbounded first-in first-out queue. Push never blocks; Pop
// waits on ready until an item is available.
type fifo[T any] struct {
	mu    sync.Mutex
	items []T
	ready chan struct{}
}

func newFIFO[T any]() *fifo[T] {
	return &fifo[T]{ready: make(chan struct{}, 1)}
}

func (q *fifo[T]) Push(v T) {
	q.mu.Lock()
	q.items = append(q.items, v)
	q.mu.Unlock()
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// TryPop removes the head item if there is one.
func (q *fifo[T]) TryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	v := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	if len(q.items) > 0 {
		// keep the signal armed for the next pop
		select {
		case q.ready <- struct{}{}:
		default:
		}
	}
	return v, true
}

func (q *fifo[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Ready is signalled whenever the queue may be non-empty.
func (q *fifo[T]) Ready() <-chan struct{} { return q.ready }
