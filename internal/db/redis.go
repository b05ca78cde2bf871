/**
 * @description
 * Redis connection manager using go-redis.
 * Used for caching race lists, race contexts and predictions, and pub/sub
 * for the prediction stream.
 *
 * @dependencies
 * - github.com/redis/go-redis/v9
 * - github.com/alicebob/miniredis/v2 (in-process fallback for one-shot tools)
 */

package db

import (
	"context"
	"fmt"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/racewise/backend/internal/config"
	"github.com/racewise/backend/internal/logger"
	"github.com/redis/go-redis/v9"
)

const redisPingTimeout = 5 * time.Second

// ConnectRedis initializes the Redis client and verifies it with a PING.
func ConnectRedis(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	opt, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	applyRedisDefaults(opt)

	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	logger.Info("✅ Connected to Redis")
	return client, nil
}

// NewMemoryRedis starts an in-process Redis. The returned stop func closes
// both the client and the server.
func NewMemoryRedis() (*redis.Client, func(), error) {
	mr, err := miniredis.Run()
	if err != nil {
		return nil, nil, fmt.Errorf("start in-memory redis: %w", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	stop := func() {
		_ = client.Close()
		mr.Close()
	}
	return client, stop, nil
}

func applyRedisDefaults(opt *redis.Options) {
	if opt.ReadTimeout == 0 {
		opt.ReadTimeout = 3 * time.Second
	}
	if opt.WriteTimeout == 0 {
		opt.WriteTimeout = 3 * time.Second
	}
	if opt.DialTimeout == 0 {
		opt.DialTimeout = 5 * time.Second
	}
	if opt.PoolTimeout == 0 {
		opt.PoolTimeout = 4 * time.Second
	}
	if opt.MaxRetries == 0 {
		opt.MaxRetries = 2
	}
	if opt.MinRetryBackoff == 0 {
		opt.MinRetryBackoff = 200 * time.Millisecond
	}
	if opt.MaxRetryBackoff == 0 {
		opt.MaxRetryBackoff = 2 * time.Second
	}
	if opt.PoolSize == 0 {
		opt.PoolSize = 10
	}
}
