package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/tracksync/internal/models"
)

func newTestBadgerManager(t *testing.T, visibility time.Duration, maxReceive int) *BadgerManager {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfg := NewDefaultConfig()
	cfg.VisibilityTimeout = visibility
	cfg.MaxReceive = maxReceive
	mgr, err := NewBadgerManager(db, cfg, arbor.NewNoOpLogger())
	require.NoError(t, err)
	return mgr
}

func testMessage(jobID string, step models.StepID) Message {
	return Message{
		Headers: models.TaskHeaders{JobID: jobID, Type: string(step), Route: "importer"},
		Payload: json.RawMessage(`{"entities":[]}`),
	}
}

func TestBadgerManager_EnqueueReceiveDelete(t *testing.T) {
	ctx := context.Background()
	mgr := newTestBadgerManager(t, time.Minute, 3)

	require.NoError(t, mgr.Enqueue(ctx, testMessage("job-1", models.StepPull)))

	msg, deleteFn, err := mgr.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "job-1", msg.Headers.JobID)
	assert.Equal(t, "pull", msg.Headers.Type)
	assert.JSONEq(t, `{"entities":[]}`, string(msg.Payload))

	// Claimed, invisible until the timeout elapses
	_, _, err = mgr.Receive(ctx)
	assert.ErrorIs(t, err, ErrNoMessage)

	require.NoError(t, deleteFn())
	n, err := mgr.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestBadgerManager_FIFOOrder(t *testing.T) {
	ctx := context.Background()
	mgr := newTestBadgerManager(t, time.Minute, 3)

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, mgr.Enqueue(ctx, testMessage(id, models.StepPull)))
		time.Sleep(time.Millisecond)
	}

	for _, want := range []string{"a", "b", "c"} {
		msg, deleteFn, err := mgr.Receive(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, msg.Headers.JobID)
		require.NoError(t, deleteFn())
	}
}

func TestBadgerManager_RedeliversAfterVisibilityTimeout(t *testing.T) {
	ctx := context.Background()
	mgr := newTestBadgerManager(t, 20*time.Millisecond, 3)

	require.NoError(t, mgr.Enqueue(ctx, testMessage("job-1", models.StepPush)))

	_, _, err := mgr.Receive(ctx)
	require.NoError(t, err)

	time.Sleep(40 * time.Millisecond)

	msg, _, err := mgr.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "job-1", msg.Headers.JobID)
}

func TestBadgerManager_DeadLettersAfterMaxReceive(t *testing.T) {
	ctx := context.Background()
	mgr := newTestBadgerManager(t, 5*time.Millisecond, 2)

	require.NoError(t, mgr.Enqueue(ctx, testMessage("job-1", models.StepPush)))

	for i := 0; i < 2; i++ {
		_, _, err := mgr.Receive(ctx)
		require.NoError(t, err)
		time.Sleep(15 * time.Millisecond)
	}

	_, _, err := mgr.Receive(ctx)
	assert.ErrorIs(t, err, ErrNoMessage)

	dead, err := mgr.DeadLetters(ctx)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, "job-1", dead[0].Headers.JobID)

	n, err := mgr.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	// The move is permanent, later polls find nothing to dead-letter again
	_, _, err = mgr.Receive(ctx)
	assert.ErrorIs(t, err, ErrNoMessage)
	dead, err = mgr.DeadLetters(ctx)
	require.NoError(t, err)
	assert.Len(t, dead, 1)
}

func TestBadgerManager_DeadLetterAlongsideClaim(t *testing.T) {
	ctx := context.Background()
	mgr := newTestBadgerManager(t, 5*time.Millisecond, 1)

	require.NoError(t, mgr.Enqueue(ctx, testMessage("job-poison", models.StepPush)))
	_, _, err := mgr.Receive(ctx)
	require.NoError(t, err)
	time.Sleep(15 * time.Millisecond)

	require.NoError(t, mgr.Enqueue(ctx, testMessage("job-fresh", models.StepPull)))

	msg, _, err := mgr.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "job-fresh", msg.Headers.JobID)

	dead, err := mgr.DeadLetters(ctx)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, "job-poison", dead[0].Headers.JobID)
}

func TestBadgerManager_Extend(t *testing.T) {
	ctx := context.Background()
	mgr := newTestBadgerManager(t, 10*time.Millisecond, 3)

	require.NoError(t, mgr.Enqueue(ctx, testMessage("job-1", models.StepPull)))
	_, _, err := mgr.Receive(ctx)
	require.NoError(t, err)

	// Find the id through the key layout
	var id string
	require.NoError(t, mgr.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := mgr.indexPrefix()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			_, id, _ = mgr.parseIndexKey(it.Item().Key())
		}
		return nil
	}))
	require.NotEmpty(t, id)

	require.NoError(t, mgr.Extend(ctx, id, time.Minute))
	time.Sleep(25 * time.Millisecond)

	_, _, err = mgr.Receive(ctx)
	assert.ErrorIs(t, err, ErrNoMessage)
}

func TestNewBadgerManager_Validation(t *testing.T) {
	_, err := NewBadgerManager(nil, NewDefaultConfig(), arbor.NewNoOpLogger())
	assert.Error(t, err)
}
