package support

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	envRedisURL      = "REDIS_URL"
	envRedisPoolSize = "REDIS_POOL_SIZE"
	redisPingTimeout = 5 * time.Second
)

var errRedisUnset = errors.New(envRedisURL + " is not set")

// sharedRedis lazily dials the one client the process uses for leases, rate
// limits and config sync.
var sharedRedis struct {
	sync.Mutex
	client *redis.Client
}

// RedisConfigured reports whether REDIS_URL is set. Without it every redis
// backed feature falls back to its in-process variant.
func RedisConfigured() bool {
	return redisURL() != ""
}

func redisURL() string {
	return strings.TrimSpace(GetEnv(envRedisURL, ""))
}

func GetRedisClient() (*redis.Client, error) {
	sharedRedis.Lock()
	defer sharedRedis.Unlock()

	if sharedRedis.client == nil {
		client, err := dialRedis(redisURL())
		if err != nil {
			return nil, err
		}
		sharedRedis.client = client
	}
	return sharedRedis.client, nil
}

func dialRedis(url string) (*redis.Client, error) {
	if url == "" {
		return nil, errRedisUnset
	}

	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", envRedisURL, err)
	}
	if size := GetEnvInt(envRedisPoolSize, 0); size > 0 {
		opt.PoolSize = size
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), redisPingTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opt.Addr, err)
	}
	return client, nil
}

func CloseRedisClient() error {
	sharedRedis.Lock()
	defer sharedRedis.Unlock()

	client := sharedRedis.client
	sharedRedis.client = nil
	if client == nil {
		return nil
	}
	return client.Close()
}
