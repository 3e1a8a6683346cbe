package database

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/histograph/histograph-sink/pkg/apperrors"
	"github.com/histograph/histograph-sink/pkg/config"
	"github.com/histograph/histograph-sink/pkg/retry"
)

// NewRedisClient creates a Redis client for the mutation queue and pings it.
func NewRedisClient(ctx context.Context, cfg *config.RedisConfig) (*redis.Client, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("%w: redis host is not configured", apperrors.ErrConfig)
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	err := retry.Do(ctx, retry.DefaultConfig(), func() error {
		return client.Ping(ctx).Err()
	})
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: failed to connect to Redis at %s: %w", apperrors.ErrConnectivity, cfg.Addr(), err)
	}

	return client, nil
}
