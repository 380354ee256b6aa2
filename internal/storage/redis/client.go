package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/tracksync/internal/common"
)

// NewClient opens and pings a Redis client from the [storage.redis] section
func NewClient(ctx context.Context, config *common.RedisConfig, logger arbor.ILogger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Username: config.Username,
		Password: config.Password,
		DB:       config.DB,
		PoolSize: config.PoolSize,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", config.Addr, err)
	}

	logger.Info().Str("addr", config.Addr).Int("db", config.DB).Msg("Redis connection established")
	return client, nil
}
