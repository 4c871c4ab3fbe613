package stream

import (
	"sync"

	"github.com/neurolens/neurolens/internal/model"
)

// frameQueue is a thread-safe bounded FIFO of frames awaiting send.
// When full, the oldest frame is dropped to admit the newest: during a
// long disconnection the most recent capture is worth more than a
// stale one.
type frameQueue struct {
	mu       sync.Mutex
	buf      []model.Frame
	head     int // read position
	count    int
	capacity int

	dropped int64
}

func newFrameQueue(capacity int) *frameQueue {
	if capacity < 1 {
		capacity = 1
	}
	return &frameQueue{
		buf:      make([]model.Frame, capacity),
		capacity: capacity,
	}
}

// Push appends a frame at the tail, evicting the oldest when full.
func (q *frameQueue) Push(f model.Frame) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == q.capacity {
		// Drop oldest
		q.head = (q.head + 1) % q.capacity
		q.count--
		q.dropped++
	}

	tail := (q.head + q.count) % q.capacity
	q.buf[tail] = f
	q.count++
}

// PushFront reinserts a frame at the head. Used to requeue the in-flight
// frame after a failed flush so FIFO order is preserved on retry. When
// full, the newest frame is evicted instead of the one being restored.
func (q *frameQueue) PushFront(f model.Frame) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == q.capacity {
		q.count--
		q.dropped++
	}

	q.head = (q.head - 1 + q.capacity) % q.capacity
	q.buf[q.head] = f
	q.count++
}

// Pop removes and returns the oldest frame.
func (q *frameQueue) Pop() (model.Frame, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == 0 {
		return model.Frame{}, false
	}

	f := q.buf[q.head]
	q.buf[q.head] = model.Frame{} // clear payload references for GC
	q.head = (q.head + 1) % q.capacity
	q.count--
	return f, true
}

// Len returns the number of queued frames.
func (q *frameQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Dropped returns how many frames were evicted by overflow.
func (q *frameQueue) Dropped() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Clear discards all queued frames.
func (q *frameQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i := range q.buf {
		q.buf[i] = model.Frame{}
	}
	q.head = 0
	q.count = 0
}

// Snapshot returns the queued frames in FIFO order without removing
// them. Used for inspection in tests.
func (q *frameQueue) Snapshot() []model.Frame {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]model.Frame, q.count)
	for i := 0; i < q.count; i++ {
		out[i] = q.buf[(q.head+i)%q.capacity]
	}
	return out
}
