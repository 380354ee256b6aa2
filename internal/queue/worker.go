package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/tracksync/internal/interfaces"
)

// WorkerPool manages a pool of workers that process queue messages
type WorkerPool struct {
	queueMgr interfaces.QueueManager
	config   Config
	handlers map[string]interfaces.TaskHandler
	mu       sync.RWMutex
	logger   arbor.ILogger
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewWorkerPool creates a new worker pool
func NewWorkerPool(queueMgr interfaces.QueueManager, config Config, logger arbor.ILogger) *WorkerPool {
	ctx, cancel := context.WithCancel(context.Background())

	return &WorkerPool{
		queueMgr: queueMgr,
		config:   config,
		handlers: make(map[string]interfaces.TaskHandler),
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// RegisterHandler registers the task handler for a route
func (wp *WorkerPool) RegisterHandler(route string, handler interfaces.TaskHandler) {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	wp.handlers[route] = handler
	wp.logger.Debug().
		Str("route", route).
		Msg("Task handler registered")
}

// Start starts the worker pool
func (wp *WorkerPool) Start() error {
	if wp.config.Concurrency <= 0 {
		return fmt.Errorf("worker concurrency must be positive, got %d", wp.config.Concurrency)
	}

	wp.logger.Info().
		Int("concurrency", wp.config.Concurrency).
		Dur("poll_interval", wp.config.PollInterval).
		Msg("Starting worker pool")

	for i := 0; i < wp.config.Concurrency; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}

	return nil
}

// Stop gracefully stops the worker pool and waits for in-flight tasks
func (wp *WorkerPool) Stop() error {
	wp.logger.Info().Msg("Stopping worker pool")
	wp.cancel()
	wp.wg.Wait()
	return nil
}

// worker is the main worker loop that processes messages
func (wp *WorkerPool) worker(workerID int) {
	defer wp.wg.Done()

	// Stagger worker starts across the poll interval
	staggerDelay := (wp.config.PollInterval / time.Duration(wp.config.Concurrency)) * time.Duration(workerID)
	if staggerDelay > 0 {
		select {
		case <-time.After(staggerDelay):
		case <-wp.ctx.Done():
			return
		}
	}

	wp.logger.Debug().
		Int("worker_id", workerID).
		Dur("stagger_delay", staggerDelay).
		Msg("Worker started")

	ticker := time.NewTicker(wp.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-wp.ctx.Done():
			wp.logger.Debug().
				Int("worker_id", workerID).
				Msg("Worker stopped")
			return

		case <-ticker.C:
			// Drain everything visible before waiting for the next tick
			for wp.ctx.Err() == nil {
				processed, err := wp.ProcessNext(wp.ctx, workerID)
				if err != nil && !errors.Is(err, ErrNoMessage) {
					wp.logger.Warn().
						Err(err).
						Int("worker_id", workerID).
						Msg("Error processing message")
				}
				if !processed {
					break
				}
			}
		}
	}
}

// ProcessNext receives and handles a single message.
// Returns false when no message was available.
func (wp *WorkerPool) ProcessNext(ctx context.Context, workerID int) (bool, error) {
	msg, deleteFn, err := wp.queueMgr.Receive(ctx)
	if err != nil {
		if errors.Is(err, ErrNoMessage) {
			return false, err
		}
		return false, fmt.Errorf("failed to receive message: %w", err)
	}

	wp.mu.RLock()
	handler, exists := wp.handlers[msg.Headers.Route]
	wp.mu.RUnlock()

	if !exists {
		wp.logger.Error().
			Str("route", msg.Headers.Route).
			Str("job_id", msg.Headers.JobID).
			Msg("No handler registered for route")
		if delErr := deleteFn(); delErr != nil {
			wp.logger.Warn().Err(delErr).Msg("Failed to delete unroutable message")
		}
		return true, fmt.Errorf("no handler for route: %s", msg.Headers.Route)
	}

	wp.logger.Debug().
		Str("job_id", msg.Headers.JobID).
		Str("route", msg.Headers.Route).
		Str("type", msg.Headers.Type).
		Int("worker_id", workerID).
		Msg("Processing message")

	startTime := time.Now()
	ok := wp.invoke(ctx, handler, msg, workerID)
	duration := time.Since(startTime)

	if !ok {
		// Left in the queue, visible again after the visibility timeout
		wp.logger.Warn().
			Str("job_id", msg.Headers.JobID).
			Str("type", msg.Headers.Type).
			Dur("duration", duration).
			Int("worker_id", workerID).
			Msg("Task not handled, message left for redelivery")
		return true, nil
	}

	wp.logger.Info().
		Str("job_id", msg.Headers.JobID).
		Str("type", msg.Headers.Type).
		Dur("duration", duration).
		Int("worker_id", workerID).
		Msg("Task completed")

	if err := deleteFn(); err != nil {
		wp.logger.Warn().
			Err(err).
			Str("job_id", msg.Headers.JobID).
			Msg("Failed to delete message after successful processing")
		return true, err
	}

	return true, nil
}

// invoke runs the handler, converting a panic into an unhandled result
func (wp *WorkerPool) invoke(ctx context.Context, handler interfaces.TaskHandler, msg *Message, workerID int) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			wp.logger.Error().
				Str("panic", fmt.Sprintf("%v", r)).
				Str("job_id", msg.Headers.JobID).
				Str("route", msg.Headers.Route).
				Str("type", msg.Headers.Type).
				Int("worker_id", workerID).
				Msg("Task handler panicked")
			ok = false
		}
	}()
	return handler.HandleTask(ctx, msg.Headers, msg.Payload)
}
