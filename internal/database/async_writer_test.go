package database

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type recordedFlush struct {
	mu      sync.Mutex
	batches [][]string
	calls   int
	failFor int
}

func (r *recordedFlush) flush(_ context.Context, items []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.calls <= r.failFor {
		return errors.New("storage unavailable")
	}
	r.batches = append(r.batches, append([]string(nil), items...))
	return nil
}

func (r *recordedFlush) snapshot() ([][]string, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]string(nil), r.batches...), r.calls
}

func prefixKey(item string) string {
	return item[:1]
}

func TestAsyncWriterCoalescesByKey(t *testing.T) {
	rec := &recordedFlush{}
	w := NewAsyncWriter("test", prefixKey, rec.flush, WithBatchWindow(time.Hour))

	for _, item := range []string{"a1", "b1", "a2", "c1", "b2"} {
		if !w.Enqueue(item) {
			t.Fatalf("enqueue %s failed", item)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := w.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}

	batches, _ := rec.snapshot()
	if len(batches) != 1 {
		t.Fatalf("batches = %d, want 1", len(batches))
	}
	want := []string{"a2", "b2", "c1"}
	got := batches[0]
	if len(got) != len(want) {
		t.Fatalf("batch = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("batch = %v, want %v", got, want)
		}
	}
}

func TestAsyncWriterRetriesThenSucceeds(t *testing.T) {
	rec := &recordedFlush{failFor: 2}
	w := NewAsyncWriter("test", nil, rec.flush, WithBatchWindow(time.Millisecond), WithRetries(3, time.Millisecond))

	w.Enqueue("x")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := w.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}

	batches, calls := rec.snapshot()
	if calls != 3 {
		t.Fatalf("flush calls = %d, want 3", calls)
	}
	if len(batches) != 1 || batches[0][0] != "x" {
		t.Fatalf("unexpected batches: %v", batches)
	}
	if w.Failed() != 0 {
		t.Fatalf("failed = %d, want 0", w.Failed())
	}
}

func TestAsyncWriterDropsAfterRetries(t *testing.T) {
	rec := &recordedFlush{failFor: 100}
	w := NewAsyncWriter("test", nil, rec.flush, WithBatchWindow(time.Millisecond), WithRetries(3, 0))

	w.Enqueue("x")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := w.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}

	_, calls := rec.snapshot()
	if calls != 4 {
		t.Fatalf("flush calls = %d, want 4", calls)
	}
	if w.Failed() != 1 {
		t.Fatalf("failed = %d, want 1", w.Failed())
	}
}

func TestAsyncWriterEnqueueNeverBlocks(t *testing.T) {
	block := make(chan struct{})
	w := NewAsyncWriter("test", nil, func(context.Context, []int) error {
		<-block
		return nil
	}, WithQueueSize(1), WithMaxBatch(1))

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			w.Enqueue(i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Enqueue blocked on a full queue")
	}

	if w.Dropped() == 0 {
		t.Fatal("expected some items to be dropped")
	}

	close(block)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := w.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	if w.Enqueue(1) {
		t.Fatal("Enqueue after Close should fail")
	}
}
