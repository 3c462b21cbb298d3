package support

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultLeadershipTTL = 45 * time.Second
	leaseRetryDelay      = time.Second
	leaseOpTimeout       = 5 * time.Second
	minLeaseRenewal      = time.Second
)

var (
	errLeaseLost = errors.New("support: leader lease lost")

	// Both scripts only touch the key while it still holds our token.
	extendLeaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

	dropLeaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)
)

// RunWithLeader calls run once per leadership term of key. run gets a context
// that ends when the lease is lost or ctx is done, and a new term starts only
// after the previous run returned. With a nil client there is nothing to
// compete with and run is called exactly once.
func RunWithLeader(ctx context.Context, client *redis.Client, key string, ttl time.Duration, run func(context.Context)) error {
	if run == nil {
		return errors.New("support: leader run function cannot be nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if client == nil {
		run(ctx)
		return ctx.Err()
	}
	if ttl <= 0 {
		ttl = DefaultLeadershipTTL
	}

	for ctx.Err() == nil {
		l, err := acquireLease(ctx, client, key, ttl)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			log.Warn("leader lease: acquire failed", "key", key, "error", err)
			sleepCtx(ctx, leaseRetryDelay)
			continue
		}

		log.Debug("leader lease: acquired", "key", key)
		l.hold(ctx, run)
		log.Debug("leader lease: released", "key", key)

		sleepCtx(ctx, leaseRetryDelay)
	}
	return ctx.Err()
}

type lease struct {
	client *redis.Client
	key    string
	token  string
	ttl    time.Duration
}

// acquireLease polls SETNX until it wins or ctx ends.
func acquireLease(ctx context.Context, client *redis.Client, key string, ttl time.Duration) (*lease, error) {
	token := generateLeaderID()

	for {
		won, err := client.SetNX(ctx, key, token, ttl).Result()
		switch {
		case err != nil && ctx.Err() != nil:
			return nil, ctx.Err()
		case err != nil:
			log.Warn("leader lease: setnx failed", "key", key, "error", err)
		case won:
			return &lease{client: client, key: key, token: token, ttl: ttl}, nil
		}

		if !sleepCtx(ctx, leaseRetryDelay) {
			return nil, ctx.Err()
		}
	}
}

// hold runs fn while extending the lease, then releases it.
func (l *lease) hold(ctx context.Context, fn func(context.Context)) {
	termCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	renewed := make(chan struct{})
	go func() {
		defer close(renewed)
		if err := l.keepAlive(termCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Warn("leader lease: renewal stopped", "key", l.key, "error", err)
			cancel()
		}
	}()

	fn(termCtx)
	cancel()
	<-renewed

	if err := l.release(); err != nil {
		log.Warn("leader lease: release failed", "key", l.key, "error", err)
	}
}

func (l *lease) keepAlive(ctx context.Context) error {
	ticker := time.NewTicker(max(l.ttl/3, minLeaseRenewal))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := l.extend(); err != nil {
				return err
			}
		}
	}
}

func (l *lease) extend() error {
	ctx, cancel := context.WithTimeout(context.Background(), leaseOpTimeout)
	defer cancel()

	res, err := extendLeaseScript.Run(ctx, l.client, []string{l.key}, l.token, l.ttl.Milliseconds()).Int64()
	if err != nil {
		return err
	}
	if res == 0 {
		return errLeaseLost
	}
	return nil
}

func (l *lease) release() error {
	ctx, cancel := context.WithTimeout(context.Background(), leaseOpTimeout)
	defer cancel()

	err := dropLeaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	return nil
}

// sleepCtx waits d and reports false when ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func generateLeaderID() string {
	return NodeID("leader")
}
