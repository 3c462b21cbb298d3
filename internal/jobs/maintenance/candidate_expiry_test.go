package maintenance

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"privacyspace/internal/config"
	"privacyspace/internal/ratelimit"
)

type recordingExpirer struct {
	mu      sync.Mutex
	cutoffs []time.Time
	calls   chan struct{}
}

func (e *recordingExpirer) ExpireCandidates(_ context.Context, cutoff time.Time) (int, error) {
	e.mu.Lock()
	e.cutoffs = append(e.cutoffs, cutoff)
	e.mu.Unlock()
	e.calls <- struct{}{}
	return 1, nil
}

func runInBackground(ctx context.Context, expirer Expirer, sweepers ...Sweeper) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		Run(ctx, expirer, sweepers...)
		close(done)
	}()
	return done
}

func TestRunExpiresImmediately(t *testing.T) {
	expirer := &recordingExpirer{calls: make(chan struct{}, 4)}
	ctx, cancel := context.WithCancel(context.Background())
	done := runInBackground(ctx, expirer)

	select {
	case <-expirer.calls:
	case <-time.After(2 * time.Second):
		t.Fatal("expiry did not run at start")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}

	expirer.mu.Lock()
	defer expirer.mu.Unlock()
	want := time.Now().Add(-config.GetCandidateTTL())
	if diff := want.Sub(expirer.cutoffs[0]); diff < 0 || diff > time.Minute {
		t.Fatalf("cutoff %s is not candidate TTL ago", expirer.cutoffs[0])
	}
}

func TestRunSweepsIdleReporterBuckets(t *testing.T) {
	limiter := ratelimit.NewMemoryLimiter(5, time.Minute)
	past := time.Now().Add(-time.Hour)
	for i := 0; i < 10000; i++ {
		if ok, _ := limiter.Allow(context.Background(), fmt.Sprintf("reporter-%d", i), past); !ok {
			t.Fatalf("first report of reporter-%d rejected", i)
		}
	}
	_, _ = limiter.Allow(context.Background(), "reporter-live", time.Now())

	expirer := &recordingExpirer{calls: make(chan struct{}, 4)}
	ctx, cancel := context.WithCancel(context.Background())
	done := runInBackground(ctx, expirer, limiter)
	defer func() {
		cancel()
		<-done
	}()

	deadline := time.Now().Add(2 * time.Second)
	for limiter.Keys() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("limiter holds %d keys after maintenance, want 1", limiter.Keys())
		}
		time.Sleep(5 * time.Millisecond)
	}
}
