package modem

import "sync"

// urcQueue is an unbounded FIFO of unsolicited result codes. It has its
// own lock so URCs can be enqueued by the goroutine owning the transport
// while other goroutines dequeue.
type urcQueue struct {
	mu    sync.Mutex
	items []string
}

func (q *urcQueue) push(urc string) {
	q.mu.Lock()
	q.items = append(q.items, urc)
	q.mu.Unlock()
}

func (q *urcQueue) pop() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return "", false
	}
	urc := q.items[0]
	q.items[0] = ""
	q.items = q.items[1:]
	return urc, true
}

func (q *urcQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
