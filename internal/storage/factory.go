package storage

import (
	"context"
	"fmt"

	goredis "github.com/go-redis/redis/v8"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/tracksync/internal/common"
	"github.com/ternarybob/tracksync/internal/interfaces"
	"github.com/ternarybob/tracksync/internal/storage/badger"
	"github.com/ternarybob/tracksync/internal/storage/redis"
)

// Storage is the Badger manager plus the optional Redis connection.
// When Redis is enabled it backs the key/value store.
type Storage struct {
	*badger.Manager
	redis  *goredis.Client
	kv     interfaces.KeyValueStorage
	logger arbor.ILogger
}

// NewStorageManager opens Badger and, with [storage.redis] enabled, Redis
func NewStorageManager(ctx context.Context, logger arbor.ILogger, config *common.Config) (*Storage, error) {
	manager, err := badger.NewManager(logger, &config.Storage.Badger)
	if err != nil {
		return nil, err
	}

	s := &Storage{
		Manager: manager,
		kv:      manager.KeyValueStorage(),
		logger:  logger,
	}

	if config.Storage.Redis.Enabled {
		client, err := redis.NewClient(ctx, &config.Storage.Redis, logger)
		if err != nil {
			manager.Close()
			return nil, fmt.Errorf("failed to open redis: %w", err)
		}
		s.redis = client
		s.kv = redis.NewKVStorage(client, config.Queue.QueueName+":kv:", logger)
	}

	return s, nil
}

// KeyValueStorage returns the Redis store when enabled, otherwise Badger's
func (s *Storage) KeyValueStorage() interfaces.KeyValueStorage {
	return s.kv
}

// Redis returns the Redis client, nil when disabled
func (s *Storage) Redis() *goredis.Client {
	return s.redis
}

func (s *Storage) Close() error {
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to close redis client")
		}
	}
	return s.Manager.Close()
}

var _ interfaces.StorageManager = (*Storage)(nil)
