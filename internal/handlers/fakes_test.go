package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/tracksync/internal/interfaces"
	"github.com/ternarybob/tracksync/internal/models"
	badgerstore "github.com/ternarybob/tracksync/internal/storage/badger"
)

type sentMessage struct {
	headers models.TaskHeaders
	payload json.RawMessage
}

type fakeMQ struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (m *fakeMQ) SendMessage(ctx context.Context, headers models.TaskHeaders, payload json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentMessage{headers: headers, payload: payload})
	return nil
}

var _ interfaces.MQ = (*fakeMQ)(nil)

type failingKV struct{}

func (failingKV) Get(ctx context.Context, key string) (string, error) {
	return "", errors.New("kv down")
}

func (failingKV) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return errors.New("kv down")
}

func (failingKV) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return false, errors.New("kv down")
}

func (failingKV) Delete(ctx context.Context, key string) error {
	return errors.New("kv down")
}

func newTestStorage(t *testing.T) *badgerstore.Manager {
	t.Helper()
	logger := arbor.NewNoOpLogger()
	db, err := badgerstore.NewInMemoryBadgerDB(logger)
	require.NoError(t, err)
	store := badgerstore.NewManagerWithDB(db, logger)
	t.Cleanup(func() { store.Close() })
	return store
}
