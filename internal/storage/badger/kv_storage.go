package badger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/tracksync/internal/interfaces"
)

const kvPrefix = "kv:"

// KVStorage implements the KeyValueStorage interface on raw Badger entries,
// so Badger's native TTL handles expiry.
type KVStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewKVStorage creates a new KVStorage instance
func NewKVStorage(db *BadgerDB, logger arbor.ILogger) interfaces.KeyValueStorage {
	return &KVStorage{
		db:     db,
		logger: logger,
	}
}

// normalizeKey converts a key to lowercase for case-insensitive storage
func (s *KVStorage) normalizeKey(key string) []byte {
	return []byte(kvPrefix + strings.ToLower(strings.TrimSpace(key)))
}

// Get retrieves a value by key (case-insensitive)
func (s *KVStorage) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.Badger().View(func(txn *badger.Txn) error {
		item, err := txn.Get(s.normalizeKey(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			value = string(val)
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", interfaces.ErrKeyNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get key: %w", err)
	}
	return value, nil
}

// Set inserts or replaces a value. A zero ttl never expires.
func (s *KVStorage) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	err := s.db.Badger().Update(func(txn *badger.Txn) error {
		return txn.SetEntry(s.entry(key, value, ttl))
	})
	if err != nil {
		return fmt.Errorf("failed to set key: %w", err)
	}
	return nil
}

// SetIfAbsent stores the value only when the key is missing or expired
func (s *KVStorage) SetIfAbsent(ctx context.Context, key string, value string, ttl time.Duration) (bool, error) {
	created := false
	err := s.db.Badger().Update(func(txn *badger.Txn) error {
		_, err := txn.Get(s.normalizeKey(key))
		if err == nil {
			return nil
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		created = true
		return txn.SetEntry(s.entry(key, value, ttl))
	})
	if err != nil {
		return false, fmt.Errorf("failed to set key: %w", err)
	}
	return created, nil
}

// Delete removes a key; missing keys are not an error
func (s *KVStorage) Delete(ctx context.Context, key string) error {
	err := s.db.Badger().Update(func(txn *badger.Txn) error {
		return txn.Delete(s.normalizeKey(key))
	})
	if err != nil {
		return fmt.Errorf("failed to delete key: %w", err)
	}
	return nil
}

func (s *KVStorage) entry(key, value string, ttl time.Duration) *badger.Entry {
	e := badger.NewEntry(s.normalizeKey(key), []byte(value))
	if ttl > 0 {
		e = e.WithTTL(ttl)
	}
	return e
}
