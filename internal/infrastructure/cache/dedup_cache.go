package cache

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DedupCache is the fast path in front of the database existence check for
// incoming event IDs. It is advisory: a cache hit is authoritative (the ID
// was committed recently), a miss says nothing, and any Redis failure
// degrades to a miss so ingestion never stalls on the cache.
type DedupCache struct {
	client *redis.Client
	logger *zap.Logger
	ttl    time.Duration
}

// NewDedupCache creates a dedup cache with the given entry TTL
func NewDedupCache(client *redis.Client, logger *zap.Logger, ttl time.Duration) *DedupCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &DedupCache{
		client: client,
		logger: logger,
		ttl:    ttl,
	}
}

// Seen reports which of the given event IDs are known to be committed.
// Errors degrade to an empty result.
func (c *DedupCache) Seen(ctx context.Context, eventIDs []uuid.UUID) map[uuid.UUID]bool {
	seen := make(map[uuid.UUID]bool, len(eventIDs))
	if len(eventIDs) == 0 {
		return seen
	}

	pipe := c.client.Pipeline()
	cmds := make([]*redis.IntCmd, len(eventIDs))
	for i, id := range eventIDs {
		cmds[i] = pipe.Exists(ctx, DedupPrefix+id.String())
	}
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Warn("dedup cache lookup failed, degrading to database check",
			zap.Int("ids", len(eventIDs)), zap.Error(err))
		return seen
	}

	for i, cmd := range cmds {
		if cmd.Val() > 0 {
			seen[eventIDs[i]] = true
		}
	}
	return seen
}

// MarkCommitted records event IDs after a successful append. Failures are
// logged and ignored; the database unique constraint remains the backstop.
func (c *DedupCache) MarkCommitted(ctx context.Context, eventIDs []uuid.UUID) {
	if len(eventIDs) == 0 {
		return
	}

	pipe := c.client.Pipeline()
	for _, id := range eventIDs {
		pipe.Set(ctx, DedupPrefix+id.String(), 1, c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Warn("dedup cache write failed",
			zap.Int("ids", len(eventIDs)), zap.Error(err))
	}
}
