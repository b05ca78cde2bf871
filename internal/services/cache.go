/**
 * @description
 * Best-effort JSON cache and event publisher over Redis.
 * Every failure is logged and swallowed: the cache never decides the outcome
 * of a request.
 *
 * @dependencies
 * - github.com/redis/go-redis/v9
 */

package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/racewise/backend/internal/logger"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultCacheTTL    = time.Hour
	PredictionCacheTTL = 2 * time.Hour
	RaceDataCacheTTL   = 10 * time.Minute

	CacheKeyTodayRaces = "races:today"

	PredictionCreatedChannel = "predictions:created"
)

func predictionCacheKey(raceID uint, predictionType string) string {
	return fmt.Sprintf("prediction:%d:%s", raceID, predictionType)
}

func raceContextCacheKey(raceID uint, compact bool) string {
	form := "full"
	if compact {
		form = "compact"
	}
	return fmt.Sprintf("race:context:%s:%d", form, raceID)
}

func racesByDateCacheKey(date string) string {
	return "races:date:" + date
}

// Cache is safe to use as a nil pointer; every method is then a no-op.
type Cache struct {
	Redis *redis.Client
}

func NewCache(rdb *redis.Client) *Cache {
	if rdb == nil {
		return nil
	}
	return &Cache{Redis: rdb}
}

func (c *Cache) enabled() bool {
	return c != nil && c.Redis != nil
}

// GetJSON decodes the cached value into dst and reports a hit.
func (c *Cache) GetJSON(ctx context.Context, key string, dst interface{}) bool {
	if !c.enabled() {
		return false
	}
	val, err := c.Redis.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logger.Warn("cache get %s failed: %v", key, err)
		}
		return false
	}
	if err := json.Unmarshal(val, dst); err != nil {
		logger.Warn("cache entry %s is corrupt, dropping: %v", key, err)
		c.Delete(ctx, key)
		return false
	}
	return true
}

func (c *Cache) SetJSON(ctx context.Context, key string, v interface{}, ttl time.Duration) {
	if !c.enabled() {
		return
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	data, err := json.Marshal(v)
	if err != nil {
		logger.Warn("cache marshal %s failed: %v", key, err)
		return
	}
	if err := c.Redis.Set(ctx, key, data, ttl).Err(); err != nil {
		logger.Warn("cache set %s failed: %v", key, err)
	}
}

func (c *Cache) Delete(ctx context.Context, keys ...string) {
	if !c.enabled() || len(keys) == 0 {
		return
	}
	if err := c.Redis.Del(ctx, keys...).Err(); err != nil {
		logger.Warn("cache delete %v failed: %v", keys, err)
	}
}

// DeletePattern removes every key matching a glob pattern using SCAN.
func (c *Cache) DeletePattern(ctx context.Context, pattern string) {
	if !c.enabled() {
		return
	}
	iter := c.Redis.Scan(ctx, 0, pattern, 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		logger.Warn("cache scan %s failed: %v", pattern, err)
		return
	}
	c.Delete(ctx, keys...)
}

// Publish sends v as JSON on a pub/sub channel.
func (c *Cache) Publish(ctx context.Context, channel string, v interface{}) error {
	if !c.enabled() {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.Redis.Publish(ctx, channel, data).Err()
}
