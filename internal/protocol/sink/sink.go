// Package sink queues encoded frames between interactions and the
// connection writer.
package sink

import (
	"sync"

	"github.com/danmuck/rsockcore/internal/buffer"
)

// Queue is an unbounded FIFO of outbound frames. Push never blocks. The queue
// owns every frame pushed into it until Poll hands it to the writer.
type Queue struct {
	mu     sync.Mutex
	items  []*buffer.Buf
	closed bool
	ready  chan struct{}
}

func New() *Queue {
	return &Queue{ready: make(chan struct{}, 1)}
}

// Push appends fr and wakes the writer. Frames pushed after Close are
// released and Push reports false.
func (q *Queue) Push(fr *buffer.Buf) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		fr.Release()
		return false
	}
	q.items = append(q.items, fr)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return true
}

// Poll removes the oldest frame. The caller owns it.
func (q *Queue) Poll() (*buffer.Buf, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	fr := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	if len(q.items) == 0 {
		q.items = nil
	}
	return fr, true
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) IsEmpty() bool {
	return q.Len() == 0
}

// Ready signals after at least one Push since the last receive.
func (q *Queue) Ready() <-chan struct{} {
	return q.ready
}

// Close rejects further pushes and releases frames not yet polled. It
// returns the number of frames released.
func (q *Queue) Close() int {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return 0
	}
	q.closed = true
	pending := q.items
	q.items = nil
	q.mu.Unlock()

	for _, fr := range pending {
		fr.Release()
	}
	select {
	case q.ready <- struct{}{}:
	default:
	}
	return len(pending)
}

func (q *Queue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
