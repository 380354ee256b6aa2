package interfaces

import (
	"context"
	"errors"
	"time"
)

// ErrKeyNotFound is returned when a key is not found in the key/value store
var ErrKeyNotFound = errors.New("key not found")

// KeyValueStorage defines operations for expiring key/value storage
type KeyValueStorage interface {
	// Get retrieves a value by key, returns ErrKeyNotFound if missing or expired
	Get(ctx context.Context, key string) (string, error)

	// Set inserts or replaces a value. A zero ttl never expires.
	Set(ctx context.Context, key string, value string, ttl time.Duration) error

	// SetIfAbsent stores the value only when the key is missing.
	// Returns true if this call created the key.
	SetIfAbsent(ctx context.Context, key string, value string, ttl time.Duration) (bool, error)

	Delete(ctx context.Context, key string) error
}
