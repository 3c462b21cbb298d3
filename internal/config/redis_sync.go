package config

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"

	"privacyspace/internal/support"
)

const (
	redisSettingsKey     = "privacyspace:config:settings"
	redisSettingsChannel = "privacyspace:config:updates"
	redisOpTimeout       = 5 * time.Second
	resubscribeDelay     = time.Second
)

// settingsEnvelope is the pub/sub message. Origin lets a replica skip its
// own broadcasts.
type settingsEnvelope struct {
	Origin   string          `json:"origin"`
	Settings json.RawMessage `json:"config"`
}

type settingsSync struct {
	mu     sync.RWMutex
	client *redis.Client
	ctx    context.Context
	cancel context.CancelFunc
}

var (
	replicaSync = &settingsSync{}
	replicaID   = support.NodeID("config-sync")
)

// EnableRedisSynchronization shares settings between aggregator replicas. The
// stored copy wins over the local file when one exists.
func EnableRedisSynchronization(ctx context.Context, client *redis.Client) {
	if client == nil {
		log.Warn("Config synchronization disabled: redis client is nil")
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	syncCtx, ok := replicaSync.attach(ctx, client)
	if !ok {
		return
	}

	loaded, err := pullSettings(syncCtx, client)
	if err != nil {
		log.Error("Config sync: failed to load settings from redis", "error", err)
	}
	if !loaded {
		if err := publishCurrentSettings(); err != nil {
			log.Error("Config sync: failed to seed settings in redis", "error", err)
		}
	}

	go followSettings(syncCtx, client)
}

// DisableRedisSynchronization stops the subscriber started by
// EnableRedisSynchronization.
func DisableRedisSynchronization() {
	replicaSync.detach()
}

func (s *settingsSync) attach(parent context.Context, client *redis.Client) (context.Context, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client != nil {
		return nil, false
	}
	s.ctx, s.cancel = context.WithCancel(parent)
	s.client = client
	return s.ctx, true
}

func (s *settingsSync) detach() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	s.client, s.ctx, s.cancel = nil, nil, nil
}

func (s *settingsSync) current() (*redis.Client, context.Context) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx := s.ctx
	if ctx == nil || ctx.Err() != nil {
		ctx = context.Background()
	}
	return s.client, ctx
}

// pullSettings applies the stored settings. loaded is false when redis has
// none yet.
func pullSettings(ctx context.Context, client *redis.Client) (loaded bool, err error) {
	opCtx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()

	payload, err := client.Get(opCtx, redisSettingsKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, applyRemoteSettings(payload)
}

func applyRemoteSettings(payload []byte) error {
	var cfg Config
	if err := json.Unmarshal(payload, &cfg); err != nil {
		return err
	}
	return applyConfigUpdate(cfg, configUpdateOptions{persistToFile: true, source: "redis"})
}

func followSettings(ctx context.Context, client *redis.Client) {
	pubsub := client.Subscribe(ctx, redisSettingsChannel)
	defer pubsub.Close()

	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, redis.ErrClosed) {
				return
			}
			log.Error("Config sync: subscription error", "error", err)
			time.Sleep(resubscribeDelay)
			continue
		}

		var env settingsEnvelope
		if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
			log.Error("Config sync: invalid payload", "error", err)
			continue
		}
		if env.Origin == replicaID {
			continue
		}
		if err := applyRemoteSettings(env.Settings); err != nil {
			log.Error("Config sync: failed to apply remote settings", "error", err)
		}
	}
}

func publishCurrentSettings() error {
	payload, err := json.Marshal(GetConfig())
	if err != nil {
		return err
	}
	return broadcastConfigUpdate(payload)
}

// broadcastConfigUpdate stores payload and tells the other replicas. It is a
// no-op while synchronization is disabled.
func broadcastConfigUpdate(payload []byte) error {
	client, ctx := replicaSync.current()
	if client == nil || len(payload) == 0 {
		return nil
	}

	msg, err := json.Marshal(settingsEnvelope{Origin: replicaID, Settings: payload})
	if err != nil {
		return err
	}

	opCtx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()

	_, err = client.TxPipelined(opCtx, func(pipe redis.Pipeliner) error {
		pipe.Set(opCtx, redisSettingsKey, payload, 0)
		pipe.Publish(opCtx, redisSettingsChannel, msg)
		return nil
	})
	return err
}
