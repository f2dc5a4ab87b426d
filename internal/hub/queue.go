package hub

import (
	"context"
	"errors"
	"sync"
)

// ErrQueueClosed is returned when pushing to, or popping from, a closed and drained
// queue.
var ErrQueueClosed = errors.New("outbound queue closed")

// Queue is an unbounded FIFO of serialized frames. Any number of producers may Push;
// a single consumer Pops.
type Queue struct {
	mutex  sync.Mutex
	items  [][]byte
	ready  chan struct{}
	closed bool
}

func NewQueue() *Queue {
	return &Queue{ready: make(chan struct{}, 1)}
}

func (q *Queue) Push(frame []byte) error {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	q.items = append(q.items, frame)
	q.signal()
	return nil
}

// Pop blocks until a frame is available, the queue is closed or ctx is done. Frames
// pushed before Close are discarded; a closed queue reports ErrQueueClosed at once.
func (q *Queue) Pop(ctx context.Context) ([]byte, error) {
	for {
		q.mutex.Lock()
		if q.closed {
			q.mutex.Unlock()
			return nil, ErrQueueClosed
		}
		if len(q.items) > 0 {
			frame := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			if len(q.items) > 0 {
				q.signal()
			}
			q.mutex.Unlock()
			return frame, nil
		}
		q.mutex.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.ready:
		}
	}
}

func (q *Queue) Len() int {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return len(q.items)
}

func (q *Queue) Close() {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.items = nil
	q.signal()
}

func (q *Queue) Closed() bool {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return q.closed
}

// signal must be called with the mutex held.
func (q *Queue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
