package runtime

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"

	"privacyspace/internal/support"
)

const (
	ReporterActivityKeyPrefix  = "privacyspace:reporter:"
	DefaultReporterActivityTTL = 5 * time.Minute
	activityWriteTimeout       = 2 * time.Second
	activityScanBatch          = 500
)

// ReporterActivity tracks which reporters were active recently. Reporter ids
// are hashed before they leave the process. With a redis client the set is
// shared by all aggregator instances.
type ReporterActivity struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time

	mu   sync.Mutex
	seen map[string]time.Time
}

func NewReporterActivity(client *redis.Client, ttl time.Duration) *ReporterActivity {
	if ttl <= 0 {
		ttl = DefaultReporterActivityTTL
	}
	return &ReporterActivity{
		client: client,
		ttl:    ttl,
		now:    time.Now,
		seen:   make(map[string]time.Time),
	}
}

// Touch marks reporterID active. Redis is written at most twice per TTL per
// reporter, in the background.
func (a *ReporterActivity) Touch(reporterID string) {
	if reporterID == "" {
		return
	}
	hashed := support.HashIdentifier(reporterID)
	now := a.now()

	a.mu.Lock()
	last, ok := a.seen[hashed]
	a.seen[hashed] = now
	a.mu.Unlock()

	if a.client == nil || (ok && now.Sub(last) < a.ttl/2) {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), activityWriteTimeout)
		defer cancel()
		if err := a.client.SetEx(ctx, ReporterActivityKeyPrefix+hashed, "1", a.ttl).Err(); err != nil {
			log.Debug("Failed to record reporter activity", "error", err)
		}
	}()
}

// ActiveCount returns the number of reporters seen within the TTL.
func (a *ReporterActivity) ActiveCount(ctx context.Context) (int, error) {
	if a.client != nil {
		return countKeys(ctx, a.client, ReporterActivityKeyPrefix)
	}

	a.Sweep(a.now())

	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.seen), nil
}

// Sweep forgets reporters not seen within the TTL. The maintenance job calls
// it whether or not redis is configured.
func (a *ReporterActivity) Sweep(now time.Time) int {
	cutoff := now.Add(-a.ttl)

	a.mu.Lock()
	defer a.mu.Unlock()

	removed := 0
	for id, last := range a.seen {
		if last.Before(cutoff) {
			delete(a.seen, id)
			removed++
		}
	}
	return removed
}

func countKeys(ctx context.Context, client *redis.Client, prefix string) (int, error) {
	count := 0
	iter := client.Scan(ctx, 0, prefix+"*", activityScanBatch).Iterator()
	for iter.Next(ctx) {
		count++
	}
	if err := iter.Err(); err != nil {
		return 0, err
	}
	return count, nil
}
