package bus

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestEnqueueDequeueFIFO(t *testing.T) {
	q := NewQueue(4)
	t.Cleanup(q.Close)

	for _, id := range []string{"a", "b", "c"} {
		if err := q.Enqueue(Update{ID: id, Payload: json.RawMessage(`{}`)}); err != nil {
			t.Fatalf("Enqueue(%s) error: %v", id, err)
		}
	}

	for _, want := range []string{"a", "b", "c"} {
		got, ok := q.Dequeue(context.Background(), time.Second)
		if !ok {
			t.Fatalf("Dequeue for %s reported empty", want)
		}
		if got.ID != want {
			t.Fatalf("Dequeue id = %q, want %q", got.ID, want)
		}
	}
}

func TestEnqueueNeverBlocksWhenFull(t *testing.T) {
	q := NewQueue(1)
	t.Cleanup(q.Close)

	if err := q.Enqueue(Update{ID: "first"}); err != nil {
		t.Fatalf("Enqueue error: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- q.Enqueue(Update{ID: "second"})
	}()

	select {
	case err := <-done:
		if !errors.Is(err, ErrQueueFull) {
			t.Fatalf("Enqueue error = %v, want ErrQueueFull", err)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("Enqueue blocked on full queue")
	}
}

func TestEnqueueAfterClose(t *testing.T) {
	q := NewQueue(1)
	q.Close()

	if err := q.Enqueue(Update{ID: "late"}); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("Enqueue error = %v, want ErrQueueClosed", err)
	}
	if !q.Closed() {
		t.Fatal("Closed() = false after Close")
	}
}

func TestDequeueBoundedWait(t *testing.T) {
	q := NewQueue(1)
	t.Cleanup(q.Close)

	start := time.Now()
	_, ok := q.Dequeue(context.Background(), 30*time.Millisecond)
	if ok {
		t.Fatal("expected empty dequeue")
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("Dequeue waited %v, want bounded wait", elapsed)
	}
}

func TestDequeueUnblocksOnClose(t *testing.T) {
	q := NewQueue(1)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = q.Dequeue(context.Background(), time.Minute)
	}()

	q.Close()

	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("Dequeue did not unblock after close")
	}
}

func TestDequeueDrainsBufferedAfterClose(t *testing.T) {
	q := NewQueue(2)
	if err := q.Enqueue(Update{ID: "buffered"}); err != nil {
		t.Fatalf("Enqueue error: %v", err)
	}
	q.Close()

	got, ok := q.Dequeue(context.Background(), 50*time.Millisecond)
	if !ok {
		t.Fatal("expected buffered item after close")
	}
	if got.ID != "buffered" {
		t.Fatalf("Dequeue id = %q, want %q", got.ID, "buffered")
	}
}

func TestDequeueContextCancellation(t *testing.T) {
	q := NewQueue(1)
	t.Cleanup(q.Close)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, ok := q.Dequeue(ctx, time.Minute); ok {
		t.Fatal("expected dequeue to fail on canceled context")
	}
}
