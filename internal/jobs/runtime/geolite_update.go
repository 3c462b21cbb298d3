package runtime

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"

	"privacyspace/internal/attribution"
	"privacyspace/internal/support"
)

const (
	geoLiteUpdateLockKey      = "privacyspace:leader:geolite_update"
	DefaultGeoLiteUpdateEvery = 7 * 24 * time.Hour
)

// StartGeoLiteUpdateRoutine refreshes the ASN database every interval on
// whichever instance holds the update lock.
func StartGeoLiteUpdateRoutine(ctx context.Context, client *redis.Client, updater *attribution.Updater, db *attribution.ASNDatabase, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultGeoLiteUpdateEvery
	}

	err := support.RunWithLeader(ctx, client, geoLiteUpdateLockKey, support.DefaultLeadershipTTL, func(leaderCtx context.Context) {
		runGeoLiteUpdateLoop(leaderCtx, updater, db, interval)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error("GeoLite update routine stopped", "error", err)
	}
}

func runGeoLiteUpdateLoop(ctx context.Context, updater *attribution.Updater, db *attribution.ASNDatabase, interval time.Duration) {
	if !db.Loaded() {
		triggerGeoLiteUpdate(ctx, updater, "startup")
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			triggerGeoLiteUpdate(ctx, updater, "scheduled")
		}
	}
}

func triggerGeoLiteUpdate(ctx context.Context, updater *attribution.Updater, reason string) {
	err := updater.Update(ctx)
	switch {
	case errors.Is(err, attribution.ErrNoLicenseKey):
		log.Debug("GeoLite update skipped: license key missing", "reason", reason)
	case err != nil:
		log.Error("GeoLite update failed", "reason", reason, "error", err)
	default:
		log.Info("GeoLite ASN database updated", "reason", reason)
	}
}
