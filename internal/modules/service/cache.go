package service

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/draftdeck/draftdeck/internal/modules/model"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const taskCacheTTL = 2 * time.Second

// TaskCache fronts the task table for the status polling hot path. Every
// status write invalidates; a short TTL bounds staleness either way.
type TaskCache struct {
	rdb *redis.Client
}

func NewTaskCache(rdb *redis.Client) *TaskCache {
	return &TaskCache{rdb: rdb}
}

func (c *TaskCache) key(id uuid.UUID) string { return "task:status:" + id.String() }

func (c *TaskCache) Get(ctx context.Context, id uuid.UUID) (*model.Task, bool) {
	if c == nil || c.rdb == nil {
		return nil, false
	}
	raw, err := c.rdb.Get(ctx, c.key(id)).Bytes()
	if err != nil {
		return nil, false
	}
	var t model.Task
	if err := sonic.Unmarshal(raw, &t); err != nil {
		return nil, false
	}
	return &t, true
}

func (c *TaskCache) Set(ctx context.Context, t *model.Task) {
	if c == nil || c.rdb == nil {
		return
	}
	raw, err := sonic.Marshal(t)
	if err != nil {
		return
	}
	_ = c.rdb.Set(ctx, c.key(t.ID), raw, taskCacheTTL).Err()
}

func (c *TaskCache) Invalidate(ctx context.Context, id uuid.UUID) {
	if c == nil || c.rdb == nil {
		return
	}
	_ = c.rdb.Del(ctx, c.key(id)).Err()
}
