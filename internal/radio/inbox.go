package radio

import (
	"sync"
	"time"
)

// DefaultInboxSize is the number of frames an adapter buffers before it
// starts dropping the oldest ones.
const DefaultInboxSize = 64

// Inbox is a bounded frame queue fed by an adapter's reader side and drained
// by ReceiveRaw. When full, the oldest frame is overwritten.
type Inbox struct {
	mu     sync.Mutex
	frames [][]byte
	head   int // next pop
	count  int
	signal chan struct{}
	done   chan struct{}
	closed bool

	dropped int
}

// NewInbox creates an inbox holding at most size frames.
func NewInbox(size int) *Inbox {
	if size <= 0 {
		size = DefaultInboxSize
	}
	return &Inbox{
		frames: make([][]byte, size),
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Push copies frame into the queue.
func (q *Inbox) Push(frame []byte) {
	cp := make([]byte, len(frame))
	copy(cp, frame)

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	size := len(q.frames)
	if q.count == size {
		q.frames[q.head] = nil
		q.head = (q.head + 1) % size
		q.count--
		q.dropped++
	}
	q.frames[(q.head+q.count)%size] = cp
	q.count++
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// Pop waits up to timeout for a frame.
func (q *Inbox) Pop(timeout time.Duration) ([]byte, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		q.mu.Lock()
		if q.count > 0 {
			f := q.frames[q.head]
			q.frames[q.head] = nil
			q.head = (q.head + 1) % len(q.frames)
			q.count--
			q.mu.Unlock()
			return f, nil
		}
		closed := q.closed
		q.mu.Unlock()

		if closed {
			return nil, ErrClosed
		}

		select {
		case <-q.signal:
		case <-q.done:
		case <-deadline.C:
			return nil, ErrTimeout
		}
	}
}

// Len returns the number of queued frames.
func (q *Inbox) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Dropped returns how many frames were overwritten because the queue was full.
func (q *Inbox) Dropped() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Close wakes any waiter; queued frames can still be popped.
func (q *Inbox) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.done)
	}
}
