package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"tripboard-api/domain"
)

// Cache mirrors board reads into Redis. It is a disposable TTL-bounded
// accelerator: every failure is swallowed and logged, and a corrupt or
// unreadable entry is dropped so the next read repopulates it from the store
// of record.
type Cache struct {
	redis *redis.Client
	ttl   time.Duration
	log   *log.Logger
}

// NewCache creates a board cache using the provided Redis client and TTL. A
// nil client yields a cache where every lookup misses and every write is a
// no-op.
func NewCache(client *redis.Client, ttl time.Duration, logger *log.Logger) *Cache {
	if ttl < 0 {
		ttl = 0
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Cache{redis: client, ttl: ttl, log: logger}
}

func boardCacheKey(templateID string) string {
	return "member_tasks:" + templateID
}

// membersCacheKey lives in the namespace shared with the trip timeline
// feature, which caches the same member projection.
func membersCacheKey(templateID string) string {
	return "trip_timeline:" + templateID
}

// LoadBoard returns the cached grouped snapshot, if one exists.
func (c *Cache) LoadBoard(ctx context.Context, templateID string) (domain.GroupedBoard, bool) {
	var board domain.GroupedBoard
	if !c.load(ctx, boardCacheKey(templateID), &board) {
		return domain.GroupedBoard{}, false
	}
	return board, true
}

// StoreBoard overwrites the grouped snapshot wholesale.
func (c *Cache) StoreBoard(ctx context.Context, templateID string, board domain.GroupedBoard) {
	c.store(ctx, boardCacheKey(templateID), board)
}

// PrependTask puts a freshly created task at the front of its status bucket
// in the cached snapshot. Nothing happens when no snapshot is cached.
func (c *Cache) PrependTask(ctx context.Context, templateID string, t domain.EnrichedTask) {
	c.patchBoard(ctx, templateID, func(board *domain.GroupedBoard) {
		prepend(board.Bucket(t.Status), t)
	})
}

// ReplaceTask removes any cached copy of the task from every bucket and
// prepends the refreshed copy to its current bucket.
func (c *Cache) ReplaceTask(ctx context.Context, templateID string, t domain.EnrichedTask) {
	c.patchBoard(ctx, templateID, func(board *domain.GroupedBoard) {
		for _, s := range domain.Statuses {
			removeTask(board.Bucket(s), t.ID)
		}
		prepend(board.Bucket(t.Status), t)
	})
}

// LoadMembers returns the cached member projection, if one exists.
func (c *Cache) LoadMembers(ctx context.Context, templateID string) ([]domain.MemberView, bool) {
	var members []domain.MemberView
	if !c.load(ctx, membersCacheKey(templateID), &members) {
		return nil, false
	}
	return members, true
}

// StoreMembers caches the member projection.
func (c *Cache) StoreMembers(ctx context.Context, templateID string, members []domain.MemberView) {
	c.store(ctx, membersCacheKey(templateID), members)
}

// patchBoard is the single mirror helper: it loads the cached snapshot,
// applies the bucket patch and writes the result back with a refreshed TTL.
// A cache miss leaves the cache untouched; the next read rebuilds it.
func (c *Cache) patchBoard(ctx context.Context, templateID string, patch func(*domain.GroupedBoard)) {
	if c.redis == nil {
		return
	}
	key := boardCacheKey(templateID)
	var board domain.GroupedBoard
	if !c.load(ctx, key, &board) {
		return
	}
	patch(&board)
	c.store(ctx, key, board)
}

func (c *Cache) load(ctx context.Context, key string, dst any) bool {
	if c.redis == nil {
		return false
	}
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without
			// failing the operation.
			c.log.WithError(err).WithField("key", key).Warn("cache read failed")
			_ = c.redis.Del(ctx, key).Err()
		}
		return false
	}
	if err := json.Unmarshal(data, dst); err != nil {
		c.log.WithError(err).WithField("key", key).Warn("dropping corrupt cache entry")
		_ = c.redis.Del(ctx, key).Err()
		return false
	}
	return true
}

func (c *Cache) store(ctx context.Context, key string, value any) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		c.log.WithError(err).WithField("key", key).Warn("cache payload marshal failed")
		return
	}
	if err := c.redis.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.log.WithError(err).WithField("key", key).Warn("cache write failed")
	}
}

func prepend(bucket *[]domain.EnrichedTask, t domain.EnrichedTask) {
	*bucket = append([]domain.EnrichedTask{t}, *bucket...)
}

func removeTask(bucket *[]domain.EnrichedTask, id string) {
	kept := (*bucket)[:0]
	for _, t := range *bucket {
		if t.ID != id {
			kept = append(kept, t)
		}
	}
	*bucket = kept
}
