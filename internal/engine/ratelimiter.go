package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimiter keeps sliding windows of accepted events in Redis sorted sets.
// Each member is an event ID scored by its acceptance time in milliseconds.
// Counting and recording are separate point-in-time operations, so concurrent
// batches from one caller can overshoot a ceiling by one in-flight batch.
type RateLimiter struct {
	redisClient *redis.Client
	window      time.Duration
	script      *redis.Script
}

// Lua script for an atomic prune-and-count of one window.
// 1. Remove entries older than the window
// 2. Return the number of remaining entries
var windowCountScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])

-- Remove entries outside the sliding window
redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)

return redis.call('ZCARD', key)
`)

func NewRateLimiter(redisClient *redis.Client, window time.Duration) *RateLimiter {
	return &RateLimiter{
		redisClient: redisClient,
		window:      window,
		script:      windowCountScript,
	}
}

func userKey(tenantID, userID string) string {
	return fmt.Sprintf("rl:user:%s:%s", tenantID, userID)
}

func ipKey(tenantID, ipHash string) string {
	return fmt.Sprintf("rl:ip:%s:%s", tenantID, ipHash)
}

// Count returns how many events were recorded under key within the window ending at now.
func (rl *RateLimiter) Count(ctx context.Context, key string, now time.Time) (int64, error) {
	n, err := rl.script.Run(ctx, rl.redisClient, []string{key},
		now.UnixMilli(), rl.window.Milliseconds(),
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("counting window %s: %w", key, err)
	}
	return n, nil
}

// Record adds one event to each of the given windows.
func (rl *RateLimiter) Record(ctx context.Context, keys []string, member string, now time.Time) error {
	if len(keys) == 0 {
		return nil
	}

	pipe := rl.redisClient.Pipeline()
	for _, key := range keys {
		pipe.ZAdd(ctx, key, redis.Z{
			Score:  float64(now.UnixMilli()),
			Member: member,
		})
		// Let idle windows expire on their own
		pipe.PExpire(ctx, key, rl.window+time.Second)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("recording rate window: %w", err)
	}
	return nil
}
