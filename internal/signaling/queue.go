package signaling

import (
	"sync"
	"sync/atomic"
)

// sendQueue is an event-count-bounded FIFO queue.
//
// It buffers outbound wire messages so the router's fan-out never blocks on a
// slow client's TCP backpressure.
type sendQueue struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	closed   bool

	maxEvents int
	events    []serverMessage

	drops atomic.Uint64
}

func newSendQueue(maxEvents int) *sendQueue {
	q := &sendQueue{maxEvents: maxEvents}
	q.notEmpty = sync.NewCond(&q.mu)
	return q
}

func (q *sendQueue) DropCount() uint64 {
	return q.drops.Load()
}

// Enqueue appends msg to the queue if it fits within the depth budget.
// It never blocks.
func (q *sendQueue) Enqueue(msg serverMessage) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		q.drops.Add(1)
		return false
	}
	if len(q.events) >= q.maxEvents {
		q.drops.Add(1)
		return false
	}

	q.events = append(q.events, msg)
	q.notEmpty.Signal()
	return true
}

// Dequeue blocks until a message is available or the queue is closed and
// empty.
func (q *sendQueue) Dequeue() (serverMessage, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.events) == 0 && !q.closed {
		q.notEmpty.Wait()
	}
	if len(q.events) == 0 {
		return serverMessage{}, false
	}
	msg := q.events[0]
	copy(q.events, q.events[1:])
	q.events[len(q.events)-1] = serverMessage{}
	q.events = q.events[:len(q.events)-1]
	return msg, true
}

func (q *sendQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.events = nil
	q.mu.Unlock()
	q.notEmpty.Broadcast()
}
