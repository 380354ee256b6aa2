package badger

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	logger := arbor.NewNoOpLogger()
	db, err := NewInMemoryBadgerDB(logger)
	require.NoError(t, err)
	m := NewManagerWithDB(db, logger)
	t.Cleanup(func() { m.Close() })
	return m
}
