package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/tracksync/internal/interfaces"
)

// KVStorage implements the KeyValueStorage interface on Redis strings
type KVStorage struct {
	client *redis.Client
	prefix string
	logger arbor.ILogger
}

// NewKVStorage creates a KVStorage whose keys are namespaced by prefix
func NewKVStorage(client *redis.Client, prefix string, logger arbor.ILogger) interfaces.KeyValueStorage {
	return &KVStorage{
		client: client,
		prefix: prefix,
		logger: logger,
	}
}

func (s *KVStorage) key(key string) string {
	return s.prefix + strings.ToLower(strings.TrimSpace(key))
}

func (s *KVStorage) Get(ctx context.Context, key string) (string, error) {
	value, err := s.client.Get(ctx, s.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", interfaces.ErrKeyNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get key: %w", err)
	}
	return value, nil
}

func (s *KVStorage) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set key: %w", err)
	}
	return nil
}

// SetIfAbsent maps to SET NX, atomic across processes
func (s *KVStorage) SetIfAbsent(ctx context.Context, key string, value string, ttl time.Duration) (bool, error) {
	created, err := s.client.SetNX(ctx, s.key(key), value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to set key: %w", err)
	}
	return created, nil
}

func (s *KVStorage) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("failed to delete key: %w", err)
	}
	return nil
}
