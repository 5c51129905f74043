package cache

import (
	"github.com/draftdeck/draftdeck/internal/config"
	"github.com/redis/go-redis/v9"
)

// New builds the shared redis client used for queue job state and the
// task-status polling cache.
func New(cfg *config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
}
