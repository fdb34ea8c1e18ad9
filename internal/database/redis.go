package database

import (
	"context"
	"fmt"
	"time"

	"github.com/railconnect/booking-backend/internal/config"
	"github.com/redis/go-redis/v9"
)

// NewRedisClient creates the mirror's Redis client with a bounded pool and
// verifies it with a ping
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}

	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConns
	// An exhausted pool fails after PoolTimeout instead of blocking forever
	opts.PoolTimeout = 2 * time.Second

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return client, nil
}
