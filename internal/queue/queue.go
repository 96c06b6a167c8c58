package queue

import (
	"sync"

	"github.com/buildgate/buildgate/internal/message"
)

// Queue is an unbounded FIFO buffer decoupling notification arrival
// from application. Sources push records as they arrive; the tracker
// drains the whole buffer at each read. Safe for concurrent use.
type Queue struct {
	mu    sync.Mutex
	items []message.Notification
}

func New() *Queue { return &Queue{} }

// Push appends n to the buffer. It never blocks and never fails, so a
// burst of notifications cannot stall the reading side.
func (q *Queue) Push(n message.Notification) {
	q.mu.Lock()
	q.items = append(q.items, n)
	q.mu.Unlock()
}

// Drain removes and returns everything buffered so far in arrival
// order. An empty queue yields nil. Drain does not wait for more input.
func (q *Queue) Drain() []message.Notification {
	q.mu.Lock()
	items := q.items
	q.items = nil
	q.mu.Unlock()
	return items
}

// Len reports the number of currently buffered records.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
