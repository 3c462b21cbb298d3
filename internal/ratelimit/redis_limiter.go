package ratelimit

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "privacyspace:ratelimit:"

var (
	memberCounter atomic.Uint64

	slidingWindowScript = redis.NewScript(`
redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
if redis.call("ZCARD", KEYS[1]) >= tonumber(ARGV[3]) then
	return 0
end
redis.call("ZADD", KEYS[1], ARGV[2], ARGV[4])
redis.call("PEXPIRE", KEYS[1], ARGV[5])
return 1`)
)

// RedisLimiter keeps one sorted set per key, scored by event time in
// milliseconds, so the window survives restarts and is shared by replicas.
type RedisLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
}

func NewRedisLimiter(client *redis.Client, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{client: client, limit: limit, window: window}
}

func (l *RedisLimiter) Limit() int            { return l.limit }
func (l *RedisLimiter) Window() time.Duration { return l.window }

func (l *RedisLimiter) Allow(ctx context.Context, key string, now time.Time) (bool, error) {
	if l.limit <= 0 || l.window <= 0 {
		return true, nil
	}

	nowMs := now.UnixMilli()
	cutoff := nowMs - l.window.Milliseconds()
	member := fmt.Sprintf("%d-%d", nowMs, memberCounter.Add(1))

	res, err := slidingWindowScript.Run(ctx, l.client,
		[]string{redisKeyPrefix + key},
		cutoff, nowMs, l.limit, member, l.window.Milliseconds(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("ratelimit: redis sliding window: %w", err)
	}
	return res == 1, nil
}
