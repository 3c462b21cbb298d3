package runtime

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"

	"privacyspace/internal/support"
)

const (
	InstanceHeartbeatKeyPrefix = "privacyspace:instance:"
	DefaultHeartbeatInterval   = 15 * time.Second
	DefaultHeartbeatTTL        = 30 * time.Second
)

var instanceID = support.NodeID("aggregator")

// LaunchInstanceHeartbeat announces this aggregator instance in redis until
// the returned cancel func is called.
func LaunchInstanceHeartbeat(parent context.Context, client *redis.Client) context.CancelFunc {
	ctx, cancel := context.WithCancel(parent)
	if client == nil {
		return cancel
	}
	go runInstanceHeartbeat(ctx, client, InstanceHeartbeatKeyPrefix+instanceID, DefaultHeartbeatInterval, DefaultHeartbeatTTL)
	return cancel
}

func runInstanceHeartbeat(ctx context.Context, client *redis.Client, key string, interval, ttl time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := client.SetEx(ctx, key, support.Hostname(), ttl).Err(); err != nil && ctx.Err() == nil {
			log.Error("instance heartbeat failed", "key", key, "error", err)
		}

		select {
		case <-ctx.Done():
			// Best effort; ttl expires the key otherwise.
			cleanupCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			_ = client.Del(cleanupCtx, key).Err()
			cancel()
			return
		case <-ticker.C:
		}
	}
}

// CountActiveInstances returns 1 without redis.
func CountActiveInstances(ctx context.Context, client *redis.Client) (int, error) {
	if client == nil {
		return 1, nil
	}
	return countKeys(ctx, client, InstanceHeartbeatKeyPrefix)
}
