package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func setupDedupCache(t *testing.T) (*DedupCache, *miniredis.Miniredis) {
	t.Helper()

	s, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(s.Close)

	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	return NewDedupCache(client, zaptest.NewLogger(t), time.Hour), s
}

// TestDedupCacheSeen tests the commit-then-lookup round trip
func TestDedupCacheSeen(t *testing.T) {
	cache, _ := setupDedupCache(t)
	ctx := context.Background()

	committed := []uuid.UUID{uuid.New(), uuid.New()}
	unknown := uuid.New()

	assert.Empty(t, cache.Seen(ctx, committed))

	cache.MarkCommitted(ctx, committed)

	seen := cache.Seen(ctx, append(committed, unknown))
	assert.Len(t, seen, 2)
	assert.True(t, seen[committed[0]])
	assert.True(t, seen[committed[1]])
	assert.False(t, seen[unknown])
}

// TestDedupCacheTTL tests that entries expire
func TestDedupCacheTTL(t *testing.T) {
	cache, s := setupDedupCache(t)
	ctx := context.Background()

	id := uuid.New()
	cache.MarkCommitted(ctx, []uuid.UUID{id})
	require.True(t, cache.Seen(ctx, []uuid.UUID{id})[id])

	s.FastForward(2 * time.Hour)
	assert.Empty(t, cache.Seen(ctx, []uuid.UUID{id}))
}

// TestDedupCacheDegradesOnFailure tests that a dead Redis yields misses,
// not errors
func TestDedupCacheDegradesOnFailure(t *testing.T) {
	cache, s := setupDedupCache(t)
	ctx := context.Background()

	s.Close()

	seen := cache.Seen(ctx, []uuid.UUID{uuid.New()})
	assert.Empty(t, seen)

	// MarkCommitted must not panic either
	cache.MarkCommitted(ctx, []uuid.UUID{uuid.New()})
}

// TestRateLimiterWindow tests admission and refusal across the sliding
// window
func TestRateLimiterWindow(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(s.Close)

	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	limiter := NewRateLimiter(client, zaptest.NewLogger(t))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, err := limiter.Allow(ctx, "client-a", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, allowed, "request %d should be admitted", i)
	}

	allowed, err := limiter.Allow(ctx, "client-a", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, allowed)

	// Other keys are unaffected
	allowed, err = limiter.Allow(ctx, "client-b", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, allowed)

	remaining, err := limiter.Remaining(ctx, "client-a", 3, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 0, remaining)

	require.NoError(t, limiter.Reset(ctx, "client-a"))
	allowed, err = limiter.Allow(ctx, "client-a", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, allowed)
}
