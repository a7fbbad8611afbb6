package bus

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"
)

const defaultCapacity = 100

var (
	// ErrQueueFull is returned when an enqueue would have to block.
	ErrQueueFull = errors.New("queue full")
	// ErrQueueClosed is returned when enqueueing into a closed queue.
	ErrQueueClosed = errors.New("queue closed")
)

// Update is one raw webhook payload in flight between the dispatcher and a worker.
//
// Ownership transfers to the consuming worker at enqueue time; the dispatcher
// keeps no reference after a successful Enqueue.
type Update struct {
	// ID is a per-dispatch identifier used for log correlation.
	ID         string
	Payload    json.RawMessage
	ReceivedAt time.Time
}

// Queue is the FIFO channel between the webhook dispatcher and one bot's worker.
//
// Enqueue is safe for concurrent producers (HTTP handlers); Dequeue is meant
// for the single owning worker.
type Queue struct {
	items     chan Update
	done      chan struct{}
	closeOnce sync.Once
}

// NewQueue creates a queue with the given capacity (default when <= 0).
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Queue{
		items: make(chan Update, capacity),
		done:  make(chan struct{}),
	}
}

// Enqueue adds an update without ever blocking the caller.
//
// A full buffer is a dispatch failure, not a wait condition: the webhook
// response path must never stall behind a slow consumer.
func (q *Queue) Enqueue(update Update) error {
	select {
	case <-q.done:
		return ErrQueueClosed
	default:
	}

	select {
	case <-q.done:
		return ErrQueueClosed
	case q.items <- update:
		return nil
	default:
		return ErrQueueFull
	}
}

// Dequeue takes the next update, waiting at most wait before reporting empty.
//
// The bounded wait lets the consuming loop interleave shutdown checks instead
// of blocking forever on an idle queue. The second return is false on timeout,
// close, or context cancellation.
func (q *Queue) Dequeue(ctx context.Context, wait time.Duration) (Update, bool) {
	if ctx == nil {
		ctx = context.Background()
	}

	// Drain buffered items even after close so in-flight work finishes first.
	select {
	case update := <-q.items:
		return update, true
	default:
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return Update{}, false
	case <-q.done:
		return Update{}, false
	case <-timer.C:
		return Update{}, false
	case update := <-q.items:
		return update, true
	}
}

// Close marks the queue closed. Buffered items not yet consumed may be lost;
// delivery is at-most-once.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		close(q.done)
	})
}

// Closed reports whether Close has been called.
func (q *Queue) Closed() bool {
	select {
	case <-q.done:
		return true
	default:
		return false
	}
}

// Len reports the number of buffered updates.
func (q *Queue) Len() int {
	return len(q.items)
}
