package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RateLimiter is a sliding-window limiter backed by Redis sorted sets, one
// set per key with request timestamps as scores
type RateLimiter struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRateLimiter creates a Redis-based rate limiter
func NewRateLimiter(client *redis.Client, logger *zap.Logger) *RateLimiter {
	return &RateLimiter{client: client, logger: logger}
}

// Allow checks whether a request is admitted under limit per window
func (r *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	now := time.Now()
	windowStart := now.Add(-window)
	rateLimitKey := RateLimitPrefix + key

	pipe := r.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, rateLimitKey, "-inf",
		strconv.FormatInt(windowStart.UnixNano(), 10))
	countCmd := pipe.ZCard(ctx, rateLimitKey)

	requestID := fmt.Sprintf("%d-%d", now.UnixNano(), now.Nanosecond()%1000)
	pipe.ZAdd(ctx, rateLimitKey, redis.Z{
		Score:  float64(now.UnixNano()),
		Member: requestID,
	})
	pipe.Expire(ctx, rateLimitKey, window+time.Minute)

	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("rate limiter pipeline failed: %w", err)
	}

	if countCmd.Val() >= int64(limit) {
		// Back out the entry added for the rejected request
		r.client.ZRem(ctx, rateLimitKey, requestID)
		r.logger.Debug("rate limit exceeded",
			zap.String("key", key),
			zap.Int64("count", countCmd.Val()),
			zap.Int("limit", limit))
		return false, nil
	}
	return true, nil
}

// Remaining returns how many requests are left in the current window
func (r *RateLimiter) Remaining(ctx context.Context, key string, limit int, window time.Duration) (int, error) {
	now := time.Now()
	rateLimitKey := RateLimitPrefix + key

	err := r.client.ZRemRangeByScore(ctx, rateLimitKey, "-inf",
		strconv.FormatInt(now.Add(-window).UnixNano(), 10)).Err()
	if err != nil {
		return 0, fmt.Errorf("rate limiter cleanup failed: %w", err)
	}

	count, err := r.client.ZCard(ctx, rateLimitKey).Result()
	if err != nil {
		return 0, fmt.Errorf("rate limiter count failed: %w", err)
	}

	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// Reset clears the window for a key
func (r *RateLimiter) Reset(ctx context.Context, key string) error {
	return r.client.Del(ctx, RateLimitPrefix+key).Err()
}
