package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/tracksync/internal/common"
	"github.com/ternarybob/tracksync/internal/interfaces"
	"github.com/ternarybob/tracksync/internal/models"
)

// Partition splits items into consecutive chunks of size, the last one possibly short.
// Concatenating the chunks in order yields items.
func Partition[T any](items []T, size int) [][]T {
	if size <= 0 || len(items) == 0 {
		return nil
	}
	chunks := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		chunks = append(chunks, items[start:end:end])
	}
	return chunks
}

// BatchDispatcher fans a step result out into one message per batch.
type BatchDispatcher struct {
	mq        interfaces.MQ
	plans     interfaces.BatchPlanStorage
	batchSize int
	now       func() time.Time
	logger    arbor.ILogger
}

// NewBatchDispatcher creates a dispatcher with a fixed batch size.
func NewBatchDispatcher(mq interfaces.MQ, plans interfaces.BatchPlanStorage, batchSize int, logger arbor.ILogger) *BatchDispatcher {
	return &BatchDispatcher{
		mq:        mq,
		plans:     plans,
		batchSize: batchSize,
		now:       time.Now,
		logger:    logger,
	}
}

// BatchSize returns the configured batch size.
func (d *BatchDispatcher) BatchSize() int {
	return d.batchSize
}

// Dispatch plans the batches of entities and publishes one message per batch
// to successor. The plan and the report totals are written together before
// anything is published; a failed write dispatches nothing.
func (d *BatchDispatcher) Dispatch(ctx context.Context, headers models.TaskHeaders, successor models.StepID, job *models.Job, entities []json.RawMessage) (int, error) {
	chunks := Partition(entities, d.batchSize)
	if len(chunks) == 0 {
		d.logger.Info().
			Str("job_id", job.ID).
			Msg("Step produced no entities, nothing to dispatch")
		return 0, nil
	}

	plan := &models.BatchPlan{
		ID:        common.NewBatchPlanID(),
		JobID:     job.ID,
		Route:     headers.Route,
		Step:      successor,
		Batches:   make([]models.Batch, len(chunks)),
		CreatedAt: time.Now(),
	}
	for i, chunk := range chunks {
		plan.Batches[i] = models.Batch{Entities: chunk}
	}

	if err := d.plans.CreatePlanAndCount(ctx, plan, job.ReportID, len(entities)); err != nil {
		return 0, fmt.Errorf("failed to record batch plan for job %s: %w", job.ID, err)
	}

	d.logger.Info().
		Str("job_id", job.ID).
		Str("plan_id", plan.ID).
		Int("entities", len(entities)).
		Int("batches", len(chunks)).
		Int("batch_size", d.batchSize).
		Msg("Batch plan recorded")

	for i := range plan.Batches {
		if err := d.publish(ctx, plan, i, headers); err != nil {
			return i, err
		}
	}
	return len(chunks), nil
}

// ResumePlans re-publishes batches of incomplete plans that were never published.
// Plans younger than minAge are skipped; their Dispatch may still be publishing.
// Pass 0 only when no dispatch can be in flight, i.e. before workers start.
func (d *BatchDispatcher) ResumePlans(ctx context.Context, minAge time.Duration) (int, error) {
	plans, err := d.plans.ListIncompletePlans(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list incomplete batch plans: %w", err)
	}

	cutoff := d.now().Add(-minAge)
	resumed := 0
	for _, plan := range plans {
		if minAge > 0 && plan.CreatedAt.After(cutoff) {
			continue
		}
		pending := plan.Pending()
		if len(pending) == 0 {
			continue
		}
		headers := models.TaskHeaders{JobID: plan.JobID, Route: plan.Route}
		for _, i := range pending {
			if err := d.publish(ctx, plan, i, headers); err != nil {
				return resumed, err
			}
			resumed++
		}
		d.logger.Info().
			Str("job_id", plan.JobID).
			Str("plan_id", plan.ID).
			Int("batches", len(pending)).
			Msg("Resumed undispatched batches")
	}
	return resumed, nil
}

func (d *BatchDispatcher) publish(ctx context.Context, plan *models.BatchPlan, index int, headers models.TaskHeaders) error {
	payload, err := json.Marshal(plan.Batches[index])
	if err != nil {
		return fmt.Errorf("failed to marshal batch %d: %w", index, err)
	}

	h := headers.WithType(plan.Step)
	h.BatchPlanID = plan.ID
	h.BatchIndex = index

	if err := d.mq.SendMessage(ctx, h, payload); err != nil {
		return fmt.Errorf("failed to publish batch %d of plan %s: %w", index, plan.ID, err)
	}
	if err := d.plans.MarkDispatched(ctx, plan.ID, index); err != nil {
		// The batch is on the queue; a resume would publish it again.
		d.logger.Warn().
			Err(err).
			Str("plan_id", plan.ID).
			Int("batch_index", index).
			Msg("Failed to mark batch dispatched")
	}
	return nil
}
