package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"board-sync/domain"
)

type backend interface {
	ListTasks(ctx context.Context, projectID string) ([]domain.Task, error)
}

// Cache wraps a task listing backend with Redis-backed caching of read queries.
type Cache struct {
	base  backend
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching wrapper using the provided Redis client and TTL.
func NewCache(base backend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl}
}

// ListTasks returns the tasks of a project, served from Redis when cached.
func (c *Cache) ListTasks(ctx context.Context, projectID string) ([]domain.Task, error) {
	var tasks []domain.Task
	if c.load(ctx, GroupKey(domain.GroupTasks, projectID), &tasks) {
		return tasks, nil
	}
	tasks, err := c.base.ListTasks(ctx, projectID)
	if err != nil {
		return nil, err
	}
	c.store(ctx, GroupKey(domain.GroupTasks, projectID), tasks)
	return tasks, nil
}

// ColumnCounts returns the number of tasks per column of a project.
func (c *Cache) ColumnCounts(ctx context.Context, projectID string) (map[string]int, error) {
	var counts map[string]int
	if c.load(ctx, GroupKey(domain.GroupColumnCounts, projectID), &counts) {
		return counts, nil
	}
	tasks, err := c.ListTasks(ctx, projectID)
	if err != nil {
		return nil, err
	}
	counts = make(map[string]int)
	for _, t := range tasks {
		counts[t.ColumnID]++
	}
	c.store(ctx, GroupKey(domain.GroupColumnCounts, projectID), counts)
	return counts, nil
}

// InvalidateGroup evicts the cached query group for a scope. Groups this
// cache never fills are accepted and evict nothing.
func (c *Cache) InvalidateGroup(ctx context.Context, group, scopeID string) error {
	if c.redis == nil {
		return nil
	}
	return c.redis.Del(ctx, GroupKey(group, scopeID)).Err()
}

func (c *Cache) load(ctx context.Context, key string, dst any) bool {
	if c.redis == nil {
		return false
	}
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, key).Err()
		}
		return false
	}
	if err := json.Unmarshal(data, dst); err != nil {
		_ = c.redis.Del(ctx, key).Err()
		return false
	}
	return true
}

func (c *Cache) store(ctx context.Context, key string, v any) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, key, data, c.ttl).Err()
}

// GroupKey is the Redis key of a cached query group.
func GroupKey(group, scopeID string) string {
	return group + ":" + scopeID
}
