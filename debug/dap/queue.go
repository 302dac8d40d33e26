package dap

import (
	"sync"
)

// eventQueue is an unbounded FIFO between the dispatcher and the goroutine
// delivering events to the session's handler. push never blocks, so a slow
// handler cannot stall protocol reads. The cost is that an adapter flooding
// events faster than the handler consumes them grows the queue without limit.
type eventQueue struct {
	mu     sync.Mutex
	items  []Payload
	closed bool
	notify chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{
		notify: make(chan struct{}, 1),
	}
}

func (q *eventQueue) push(p Payload) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, p)
	q.mu.Unlock()
	q.signal()
}

// close stops accepting payloads. Already queued payloads are still delivered.
func (q *eventQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

func (q *eventQueue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// run calls deliver for every payload in push order until the queue is
// closed and drained.
func (q *eventQueue) run(deliver func(Payload)) {
	for {
		q.mu.Lock()
		if len(q.items) == 0 {
			closed := q.closed
			q.mu.Unlock()
			if closed {
				return
			}
			<-q.notify
			continue
		}
		p := q.items[0]
		q.items[0] = nil
		q.items = q.items[1:]
		q.mu.Unlock()

		deliver(p)
	}
}

func (q *eventQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
