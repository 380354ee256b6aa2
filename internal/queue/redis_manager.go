package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
)

// RedisManager implements the queue on Redis for deployments running more than one process.
//
// Keys:
//
//	{name}:ready      list of visible message ids (LPUSH, claimed from the right)
//	{name}:inflight   sorted set of claimed ids scored by visibility deadline
//
// An id moves between ready and inflight only inside a script, so it is always
// in one of the two until it is deleted or dead-lettered.
//	{name}:msg        hash of id to envelope
//	{name}:dead       list of envelopes that exceeded max receive
// claimScript pops the oldest ready id and records it in flight with the
// deadline in ARGV[1].
var claimScript = redis.NewScript(`
local id = redis.call('RPOP', KEYS[1])
if not id then
	return false
end
redis.call('ZADD', KEYS[2], ARGV[1], id)
return id
`)

// reclaimScript moves in-flight ids whose deadline is at or before ARGV[1] back to ready.
var reclaimScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
for _, id in ipairs(ids) do
	redis.call('ZREM', KEYS[1], id)
	redis.call('RPUSH', KEYS[2], id)
end
return ids
`)

type RedisManager struct {
	client            *redis.Client
	queueName         string
	visibilityTimeout time.Duration
	maxReceive        int
	logger            arbor.ILogger
}

// NewRedisManager creates a new Redis-backed queue manager
func NewRedisManager(client *redis.Client, cfg Config, logger arbor.ILogger) (*RedisManager, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if cfg.QueueName == "" {
		return nil, errors.New("queue name is required")
	}
	if cfg.VisibilityTimeout <= 0 {
		cfg.VisibilityTimeout = 5 * time.Minute
	}
	if cfg.MaxReceive <= 0 {
		cfg.MaxReceive = 3
	}

	return &RedisManager{
		client:            client,
		queueName:         cfg.QueueName,
		visibilityTimeout: cfg.VisibilityTimeout,
		maxReceive:        cfg.MaxReceive,
		logger:            logger,
	}, nil
}

// Enqueue adds a message to the queue, immediately visible
func (m *RedisManager) Enqueue(ctx context.Context, msg Message) error {
	env := envelope{
		ID:         uuid.New().String(),
		Body:       msg,
		EnqueuedAt: time.Now(),
	}
	env.VisibleAt = env.EnqueuedAt

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal queue message: %w", err)
	}

	_, err = m.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, m.key("msg"), env.ID, data)
		pipe.LPush(ctx, m.key("ready"), env.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to enqueue message: %w", err)
	}
	return nil
}

// Receive pulls the next visible message from the queue
func (m *RedisManager) Receive(ctx context.Context) (*Message, func() error, error) {
	if err := m.reclaimExpired(ctx); err != nil {
		return nil, nil, err
	}

	for {
		deadline := time.Now().Add(m.visibilityTimeout)
		id, err := claimScript.Run(ctx, m.client,
			[]string{m.key("ready"), m.key("inflight")},
			deadline.UnixMilli(),
		).Text()
		if errors.Is(err, redis.Nil) {
			return nil, nil, ErrNoMessage
		}
		if err != nil {
			return nil, nil, fmt.Errorf("failed to claim message: %w", err)
		}

		data, err := m.client.HGet(ctx, m.key("msg"), id).Bytes()
		if errors.Is(err, redis.Nil) {
			// Deleted while waiting
			if err := m.client.ZRem(ctx, m.key("inflight"), id).Err(); err != nil {
				return nil, nil, err
			}
			continue
		}
		if err != nil {
			return nil, nil, err
		}

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			return nil, nil, fmt.Errorf("failed to decode queue message %s: %w", id, err)
		}

		if env.ReceiveCount >= m.maxReceive {
			if err := m.deadLetter(ctx, env); err != nil {
				return nil, nil, err
			}
			continue
		}

		// The claim is already recorded; a failure here leaves the id in flight
		// for reclaim with its previous receive count.
		env.ReceiveCount++
		env.VisibleAt = deadline
		updated, err := json.Marshal(env)
		if err != nil {
			return nil, nil, err
		}
		if err := m.client.HSet(ctx, m.key("msg"), id, updated).Err(); err != nil {
			return nil, nil, fmt.Errorf("failed to record receive of message %s: %w", id, err)
		}

		deleteFn := func() error {
			_, err := m.client.TxPipelined(context.Background(), func(pipe redis.Pipeliner) error {
				pipe.HDel(context.Background(), m.key("msg"), id)
				pipe.ZRem(context.Background(), m.key("inflight"), id)
				return nil
			})
			return err
		}
		return &env.Body, deleteFn, nil
	}
}

// Extend extends the visibility timeout for a claimed message
func (m *RedisManager) Extend(ctx context.Context, messageID string, duration time.Duration) error {
	deadline := time.Now().Add(duration)
	return m.client.ZAddXX(ctx, m.key("inflight"), &redis.Z{Score: float64(deadline.UnixMilli()), Member: messageID}).Err()
}

// Len counts messages waiting or in flight
func (m *RedisManager) Len(ctx context.Context) (int, error) {
	ready, err := m.client.LLen(ctx, m.key("ready")).Result()
	if err != nil {
		return 0, err
	}
	inflight, err := m.client.ZCard(ctx, m.key("inflight")).Result()
	if err != nil {
		return 0, err
	}
	return int(ready + inflight), nil
}

// Close is a no-op, the client is owned by the storage layer
func (m *RedisManager) Close() error {
	return nil
}

// reclaimExpired makes claimed messages past their deadline visible again.
func (m *RedisManager) reclaimExpired(ctx context.Context) error {
	expired, err := reclaimScript.Run(ctx, m.client,
		[]string{m.key("inflight"), m.key("ready")},
		time.Now().UnixMilli(),
	).StringSlice()
	if err != nil {
		return fmt.Errorf("failed to reclaim inflight messages: %w", err)
	}

	for _, id := range expired {
		m.logger.Debug().Str("queue", m.queueName).Str("message_id", id).Msg("Visibility timeout expired, message redelivered")
	}
	return nil
}

func (m *RedisManager) deadLetter(ctx context.Context, env envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	_, err = m.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, m.key("dead"), data)
		pipe.HDel(ctx, m.key("msg"), env.ID)
		pipe.ZRem(ctx, m.key("inflight"), env.ID)
		return nil
	})
	if err != nil {
		return err
	}
	m.logger.Warn().
		Str("queue", m.queueName).
		Str("message_id", env.ID).
		Int("max_receive", m.maxReceive).
		Msg("Message exceeded max receive, moved to dead letter")
	return nil
}

func (m *RedisManager) key(suffix string) string {
	return m.queueName + ":" + suffix
}
