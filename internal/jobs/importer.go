package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/tracksync/internal/credentials"
	"github.com/ternarybob/tracksync/internal/interfaces"
	"github.com/ternarybob/tracksync/internal/models"
)

// Importer is the task handler of migration jobs. Each delivered message runs
// exactly one step and publishes the step's successor.
type Importer struct {
	storage   interfaces.StorageManager
	pipelines Pipelines
	sequencer *Sequencer
	batches   *BatchDispatcher
	providers map[models.IntegrationKey]interfaces.ProviderFactory
	internal  interfaces.InternalClientFactory
	logger    arbor.ILogger
}

// NewImporter creates the migration task handler.
func NewImporter(
	storage interfaces.StorageManager,
	pipelines Pipelines,
	sequencer *Sequencer,
	batches *BatchDispatcher,
	providers map[models.IntegrationKey]interfaces.ProviderFactory,
	internal interfaces.InternalClientFactory,
	logger arbor.ILogger,
) *Importer {
	return &Importer{
		storage:   storage,
		pipelines: pipelines,
		sequencer: sequencer,
		batches:   batches,
		providers: providers,
		internal:  internal,
		logger:    logger,
	}
}

// HandleTask runs the step named by headers.Type. It returns false on any
// downstream failure without publishing a successor, leaving redelivery to the
// queue. A step the job type does not declare panics.
func (i *Importer) HandleTask(ctx context.Context, headers models.TaskHeaders, payload json.RawMessage) bool {
	started := time.Now()
	logger := i.logger.WithCorrelationId(headers.JobID)

	job, err := i.storage.JobStorage().GetJob(ctx, headers.JobID)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			logger.Warn().Str("job_id", headers.JobID).Str("step", headers.Type).Msg("Job no longer exists, dropping message")
			return true
		}
		logger.Error().Err(err).Str("job_id", headers.JobID).Msg("Failed to load job")
		return false
	}

	if job.IsCancelled() {
		logger.Info().Str("job_id", job.ID).Str("step", headers.Type).Msg("Job cancelled, skipping step")
		return true
	}

	pipeline, err := i.pipelines.Get(job.Type)
	if err != nil {
		panic(err)
	}
	step := models.StepID(headers.Type)
	fn, err := pipeline.Step(step)
	if err != nil {
		panic(err)
	}

	var in models.StepPayload
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &in); err != nil {
			logger.Error().Err(err).Str("job_id", job.ID).Str("step", headers.Type).Msg("Invalid step payload")
			return false
		}
	}

	sc, err := i.stepContext(ctx, job, headers, logger)
	if err != nil {
		logger.Error().Err(err).Str("job_id", job.ID).Str("step", headers.Type).Msg("Failed to prepare step")
		return false
	}

	result, err := fn(ctx, sc, in)
	if err != nil {
		logger.Error().
			Err(err).
			Str("job_id", job.ID).
			Str("step", headers.Type).
			Str("batch_plan_id", headers.BatchPlanID).
			Int("batch_index", headers.BatchIndex).
			Msg("Step failed")
		if pipeline.IsLast(step) && headers.BatchPlanID != "" {
			i.recordFailedBatch(ctx, job, logger)
		}
		return false
	}

	if err := i.storage.JobStorage().MarkStep(ctx, job.ID, step); err != nil {
		logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to record step progress")
	}

	if err := i.advance(ctx, pipeline, job, headers, result); err != nil {
		logger.Error().Err(err).Str("job_id", job.ID).Str("step", headers.Type).Msg("Failed to dispatch next step")
		return false
	}

	logger.Info().
		Str("job_id", job.ID).
		Str("step", headers.Type).
		Int("entities", len(result.Payload.Entities)).
		Dur("duration", time.Since(started)).
		Msg("Step completed")
	return true
}

func (i *Importer) stepContext(ctx context.Context, job *models.Job, headers models.TaskHeaders, logger arbor.ILogger) (*StepContext, error) {
	cred, err := GetJobCredentials(ctx, i.storage.CredentialStorage(), job)
	if err != nil {
		return nil, err
	}

	factory, ok := i.providers[job.IntegrationKey]
	if !ok {
		return nil, fmt.Errorf("no provider registered for %s", job.IntegrationKey)
	}

	onRefresh := credentials.NewRefreshCallback(i.storage.CredentialStorage(), cred, logger)
	provider, err := factory(ctx, interfaces.ProviderTokens{
		AccessToken:  cred.SourceAccessToken,
		RefreshToken: cred.SourceRefreshToken,
	}, onRefresh, providerOptions(cred))
	if err != nil {
		return nil, fmt.Errorf("failed to create %s client: %w", job.IntegrationKey, err)
	}

	return &StepContext{
		Job:      job,
		Headers:  headers,
		Provider: provider,
		Internal: i.internal(job.WorkspaceSlug, cred.TargetAccessToken),
		Logger:   logger,
	}, nil
}

// advance publishes the successor, through the batch dispatcher when the step
// asked for fan-out, and records completion when the chain ends.
func (i *Importer) advance(ctx context.Context, pipeline *Pipeline, job *models.Job, headers models.TaskHeaders, result StepResult) error {
	step := models.StepID(headers.Type)

	if pipeline.IsLast(step) {
		return i.recordCompletedBatch(ctx, job, headers, result)
	}

	if result.Batch {
		next, _, err := pipeline.Next(step)
		if err != nil {
			return err
		}
		_, err = i.batches.Dispatch(ctx, headers, next, job, result.Payload.Entities)
		return err
	}

	return i.sequencer.DispatchNextStep(ctx, pipeline, headers, result.Payload)
}

func (i *Importer) recordCompletedBatch(ctx context.Context, job *models.Job, headers models.TaskHeaders, result StepResult) error {
	report, err := i.storage.ReportStorage().UpdateReport(ctx, job.ReportID, models.ReportDelta{
		ImportedBatches: 1,
		ImportedIssues:  result.Imported,
	})
	if err != nil {
		return fmt.Errorf("failed to update report %s: %w", job.ReportID, err)
	}

	if headers.BatchPlanID != "" {
		plan, err := i.storage.BatchPlanStorage().MarkCompleted(ctx, headers.BatchPlanID, headers.BatchIndex)
		if err != nil {
			return fmt.Errorf("failed to complete batch %d of plan %s: %w", headers.BatchIndex, headers.BatchPlanID, err)
		}
		if plan.IsComplete() {
			i.logger.Info().
				Str("job_id", job.ID).
				Str("plan_id", plan.ID).
				Int("imported_batches", report.ImportedBatchCount).
				Int("total_batches", report.TotalBatchCount).
				Int("imported_issues", report.ImportedIssueCount).
				Msg("All batches imported")
		}
	}
	return nil
}

// recordFailedBatch counts a failed final-step attempt. Redelivered attempts count again.
func (i *Importer) recordFailedBatch(ctx context.Context, job *models.Job, logger arbor.ILogger) {
	if _, err := i.storage.ReportStorage().UpdateReport(ctx, job.ReportID, models.ReportDelta{ErroredBatches: 1}); err != nil {
		logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to record errored batch")
	}
}

// Ensure interface compliance
var _ interfaces.TaskHandler = (*Importer)(nil)
