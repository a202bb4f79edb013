package runloop

import (
	"sync"

	"github.com/chrisbu/samza-runloop/internal/envelope"
)

// queuedEnvelope pairs an Envelope with the Coordinator token minted for
// its dispatch.
type queuedEnvelope struct {
	env   envelope.Envelope
	coord *Coordinator
}

// pendingEnvelopeQueue is the FIFO a TaskWorker drains into its bounded
// in-flight pool. Dispatch from the RunLoop never blocks on it; only the
// worker's own drain loop blocks waiting for the next item.
type pendingEnvelopeQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []queuedEnvelope
	closed bool
}

func newPendingEnvelopeQueue() *pendingEnvelopeQueue {
	q := &pendingEnvelopeQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// push appends e to the back of the queue and wakes the drain loop.
func (q *pendingEnvelopeQueue) push(e queuedEnvelope) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.items = append(q.items, e)
	q.cond.Signal()
}

// pop blocks until an item is available or the queue is closed, in which
// case ok is false.
func (q *pendingEnvelopeQueue) pop() (queuedEnvelope, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return queuedEnvelope{}, false
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item, true
}

// len reports the current queue depth.
func (q *pendingEnvelopeQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// close wakes any blocked pop call; subsequent pushes are discarded.
func (q *pendingEnvelopeQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}
