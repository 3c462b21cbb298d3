package maintenance

import (
	"context"
	"time"

	"github.com/charmbracelet/log"

	"privacyspace/internal/config"
)

// Expirer drops candidates whose last report is older than cutoff.
type Expirer interface {
	ExpireCandidates(ctx context.Context, cutoff time.Time) (int, error)
}

// Run expires stale candidates and sweeps idle per-reporter state once at
// start and then every maintenance interval until ctx is done. Interval
// changes from the settings take effect on the next tick.
func Run(ctx context.Context, expirer Expirer, sweepers ...Sweeper) {
	updates, stop := config.MaintenanceIntervalUpdates()
	defer stop()
	interval := <-updates

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	tick := func() {
		expireCandidates(ctx, expirer)
		sweepIdle(time.Now(), sweepers)
	}
	tick()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick()
		case next := <-updates:
			if next == interval {
				continue
			}
			interval = next
			ticker.Reset(interval)
			log.Debug("Maintenance interval changed", "interval", interval)
		}
	}
}

func expireCandidates(ctx context.Context, expirer Expirer) {
	if expirer == nil {
		return
	}
	start := time.Now()
	cutoff := start.Add(-config.GetCandidateTTL())

	removed, err := expirer.ExpireCandidates(ctx, cutoff)
	if err != nil {
		log.Error("Failed to expire stale candidates", "error", err)
		return
	}
	if removed == 0 {
		return
	}

	log.Info("Stale candidates expired", "removed", removed, "cutoff", cutoff, "duration", time.Since(start))
}
