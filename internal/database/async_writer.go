package database

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"privacyspace/internal/domain"

	"github.com/charmbracelet/log"
)

const (
	defaultWriterQueueSize   = 1024
	defaultWriterBatchWindow = 50 * time.Millisecond
	defaultWriterMaxItems    = 512
	defaultWriterRetries     = 3
	defaultWriterRetryDelay  = 200 * time.Millisecond
	writerFlushTimeout       = 5 * time.Second
)

// AsyncWriter batches items off the hot path and hands them to a flush
// function from a single goroutine. Items with the same key inside one batch
// are coalesced, the latest wins. A batch that still fails after the
// configured retries is logged and dropped.
type AsyncWriter[T any] struct {
	name  string
	key   func(T) string
	flush func(context.Context, []T) error

	requests   chan T
	window     time.Duration
	maxItems   int
	retries    int
	retryDelay time.Duration

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	dropped atomic.Uint64
	failed  atomic.Uint64
}

type writerOptions struct {
	queueSize  int
	window     time.Duration
	maxItems   int
	retries    int
	retryDelay time.Duration
}

type WriterOption func(*writerOptions)

func WithQueueSize(size int) WriterOption {
	return func(o *writerOptions) {
		if size > 0 {
			o.queueSize = size
		}
	}
}

func WithBatchWindow(window time.Duration) WriterOption {
	return func(o *writerOptions) {
		if window > 0 {
			o.window = window
		}
	}
}

func WithMaxBatch(items int) WriterOption {
	return func(o *writerOptions) {
		if items > 0 {
			o.maxItems = items
		}
	}
}

func WithRetries(retries int, delay time.Duration) WriterOption {
	return func(o *writerOptions) {
		if retries >= 0 {
			o.retries = retries
		}
		if delay >= 0 {
			o.retryDelay = delay
		}
	}
}

func NewAsyncWriter[T any](name string, key func(T) string, flush func(context.Context, []T) error, opts ...WriterOption) *AsyncWriter[T] {
	o := writerOptions{
		queueSize:  defaultWriterQueueSize,
		window:     defaultWriterBatchWindow,
		maxItems:   defaultWriterMaxItems,
		retries:    defaultWriterRetries,
		retryDelay: defaultWriterRetryDelay,
	}
	for _, opt := range opts {
		opt(&o)
	}

	w := &AsyncWriter[T]{
		name:       name,
		key:        key,
		flush:      flush,
		requests:   make(chan T, o.queueSize),
		window:     o.window,
		maxItems:   o.maxItems,
		retries:    o.retries,
		retryDelay: o.retryDelay,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	go w.run()
	return w
}

// Enqueue never blocks. It returns false when the queue is full or the writer
// is closed.
func (w *AsyncWriter[T]) Enqueue(item T) bool {
	select {
	case <-w.stop:
		return false
	default:
	}

	select {
	case w.requests <- item:
		return true
	default:
		w.dropped.Add(1)
		log.Warn("async writer queue full, dropping item", "writer", w.name)
		return false
	}
}

// Close flushes what is queued and stops the writer.
func (w *AsyncWriter[T]) Close(ctx context.Context) error {
	w.closeOnce.Do(func() {
		close(w.stop)
	})

	if ctx == nil {
		<-w.done
		return nil
	}

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dropped counts items lost to a full queue.
func (w *AsyncWriter[T]) Dropped() uint64 {
	return w.dropped.Load()
}

// Failed counts items lost after exhausting retries.
func (w *AsyncWriter[T]) Failed() uint64 {
	return w.failed.Load()
}

func (w *AsyncWriter[T]) run() {
	defer close(w.done)

	batch := make([]T, 0, w.maxItems)
	var timer *time.Timer
	var timerC <-chan time.Time

	stopTimer := func() {
		if timer != nil {
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer = nil
			timerC = nil
		}
	}

	flush := func() {
		if len(batch) == 0 {
			return
		}
		items := make([]T, len(batch))
		copy(items, batch)
		batch = batch[:0]
		w.processBatch(items)
	}

	for {
		select {
		case item := <-w.requests:
			batch = append(batch, item)
			if len(batch) >= w.maxItems {
				stopTimer()
				flush()
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.window)
				timerC = timer.C
			}
		case <-timerC:
			timer = nil
			timerC = nil
			flush()
		case <-w.stop:
			stopTimer()
		drain:
			for {
				select {
				case item := <-w.requests:
					batch = append(batch, item)
					if len(batch) >= w.maxItems {
						flush()
					}
				default:
					break drain
				}
			}
			flush()
			return
		}
	}
}

func (w *AsyncWriter[T]) processBatch(items []T) {
	items = w.coalesce(items)

	var lastErr error
	for attempt := 0; attempt <= w.retries; attempt++ {
		if attempt > 0 && w.retryDelay > 0 {
			time.Sleep(w.retryDelay)
		}

		ctx, cancel := context.WithTimeout(context.Background(), writerFlushTimeout)
		lastErr = w.flush(ctx, items)
		cancel()
		if lastErr == nil {
			return
		}

		log.Warn("async writer flush failed", "writer", w.name, "attempt", attempt+1, "items", len(items), "error", lastErr)
	}

	w.failed.Add(uint64(len(items)))
	err := &domain.TransientStorageError{Op: w.name, Err: lastErr}
	log.Error("async writer dropping batch", "writer", w.name, "items", len(items), "error", err)
}

func (w *AsyncWriter[T]) coalesce(items []T) []T {
	if w.key == nil || len(items) < 2 {
		return items
	}

	index := make(map[string]int, len(items))
	out := items[:0:0]
	for _, item := range items {
		k := w.key(item)
		if pos, ok := index[k]; ok {
			out[pos] = item
			continue
		}
		index[k] = len(out)
		out = append(out, item)
	}
	return out
}
