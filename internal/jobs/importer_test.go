package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/tracksync/internal/models"
)

func TestImporter_PullFansOutInto3Batches(t *testing.T) {
	env := newTestEnv(t, 50)
	env.provider.issues = makeIssues(125)
	job := env.createJob(t)

	msg, ok := env.handleNext(t)
	require.True(t, ok)
	assert.Equal(t, string(models.StepPull), msg.Headers.Type)
	assert.Equal(t, 2, env.provider.calls, "two provider pages")

	require.Equal(t, 3, env.mq.len())
	for _, want := range []int{50, 50, 25} {
		next, _ := env.mq.pop()
		assert.Equal(t, string(models.StepTransform), next.Headers.Type)
		var batch models.Batch
		require.NoError(t, json.Unmarshal(next.Payload, &batch))
		assert.Len(t, batch.Entities, want)
	}

	report, err := env.store.ReportStorage().GetReport(context.Background(), job.ReportID)
	require.NoError(t, err)
	assert.Equal(t, 3, report.TotalBatchCount)
	assert.Equal(t, 125, report.TotalIssueCount)

	stored, err := env.store.JobStorage().GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StepPull, stored.LastStep)
}

func TestImporter_FullChainImportsEveryIssue(t *testing.T) {
	env := newTestEnv(t, 50)
	env.provider.issues = makeIssues(125)
	job := env.createJob(t)

	handled := 0
	for env.mq.len() > 0 {
		_, ok := env.handleNext(t)
		require.True(t, ok)
		handled++
	}
	// pull + 3 transform + 3 push
	assert.Equal(t, 7, handled)
	assert.Equal(t, 125, env.internal.created)

	report, err := env.store.ReportStorage().GetReport(context.Background(), job.ReportID)
	require.NoError(t, err)
	assert.Equal(t, 3, report.TotalBatchCount)
	assert.Equal(t, 3, report.ImportedBatchCount)
	assert.Equal(t, 125, report.ImportedIssueCount)

	plans, err := env.store.BatchPlanStorage().ListIncompletePlans(context.Background())
	require.NoError(t, err)
	assert.Empty(t, plans)

	stored, err := env.store.JobStorage().GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StepPush, stored.LastStep)
}

func TestImporter_PushIsUpsertOnRedelivery(t *testing.T) {
	env := newTestEnv(t, 50)
	env.provider.issues = makeIssues(10)
	env.createJob(t)

	env.handleNext(t) // pull
	env.handleNext(t) // transform
	push, _ := env.mq.pop()

	assert.True(t, env.importer.HandleTask(context.Background(), push.Headers, push.Payload))
	assert.True(t, env.importer.HandleTask(context.Background(), push.Headers, push.Payload))

	assert.Equal(t, 10, env.internal.created)
	assert.Equal(t, 10, env.internal.updated)
}

func TestImporter_PushFailureReturnsFalseWithoutSuccessor(t *testing.T) {
	env := newTestEnv(t, 50)
	env.provider.issues = makeIssues(10)
	job := env.createJob(t)

	env.handleNext(t) // pull
	env.handleNext(t) // transform
	require.Equal(t, 1, env.mq.len())

	env.internal.err = errors.New("connection reset by peer")
	msg, ok := env.handleNext(t)
	assert.Equal(t, string(models.StepPush), msg.Headers.Type)
	assert.False(t, ok)
	assert.Equal(t, 0, env.mq.len())

	stored, err := env.store.JobStorage().GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StepTransform, stored.LastStep, "job stays logically at push")

	report, err := env.store.ReportStorage().GetReport(context.Background(), job.ReportID)
	require.NoError(t, err)
	assert.Equal(t, 0, report.ImportedBatchCount)
	assert.Equal(t, 1, report.ErroredBatchCount)
}

func TestImporter_PullFailureReturnsFalse(t *testing.T) {
	env := newTestEnv(t, 50)
	env.provider.err = errors.New("502 bad gateway")
	job := env.createJob(t)

	_, ok := env.handleNext(t)
	assert.False(t, ok)
	assert.Equal(t, 0, env.mq.len())

	report, err := env.store.ReportStorage().GetReport(context.Background(), job.ReportID)
	require.NoError(t, err)
	assert.Equal(t, 0, report.TotalBatchCount)
}

func TestImporter_CancelledJobIsAcknowledged(t *testing.T) {
	env := newTestEnv(t, 50)
	env.provider.issues = makeIssues(10)
	job := env.createJob(t)

	_, err := env.service.CancelJob(context.Background(), job.ID)
	require.NoError(t, err)

	_, ok := env.handleNext(t)
	assert.True(t, ok)
	assert.Equal(t, 0, env.provider.calls)
	assert.Equal(t, 0, env.mq.len())
}

func TestImporter_MissingJobIsDropped(t *testing.T) {
	env := newTestEnv(t, 50)
	ok := env.importer.HandleTask(context.Background(), models.TaskHeaders{JobID: "job_gone", Type: "pull", Route: testRoute}, nil)
	assert.True(t, ok)
}

func TestImporter_UnknownStepPanics(t *testing.T) {
	env := newTestEnv(t, 50)
	job := env.createJob(t)
	env.mq.pop()

	assert.Panics(t, func() {
		env.importer.HandleTask(context.Background(), models.TaskHeaders{JobID: job.ID, Type: "archive", Route: testRoute}, nil)
	})
}

func TestImporter_MaxPagesTruncatesPull(t *testing.T) {
	env := newTestEnv(t, 50)
	env.provider.issues = makeIssues(250)
	job, err := env.service.CreateJob(context.Background(), CreateJobRequest{
		Provider:      models.ProviderGitHub,
		WorkspaceID:   "ws1",
		WorkspaceSlug: "acme",
		ProjectID:     "proj1",
		UserID:        "u1",
		Config:        models.ImportConfig{Owner: "acme", Repository: "widgets", MaxPages: 1},
	})
	require.NoError(t, err)

	_, ok := env.handleNext(t)
	require.True(t, ok)
	assert.Equal(t, 1, env.provider.calls)

	report, err := env.store.ReportStorage().GetReport(context.Background(), job.ReportID)
	require.NoError(t, err)
	assert.Equal(t, 100, report.TotalIssueCount)
	assert.Equal(t, 2, report.TotalBatchCount)
}

func TestMatchesState(t *testing.T) {
	assert.True(t, matchesState("", "closed"))
	assert.True(t, matchesState("all", "open"))
	assert.True(t, matchesState("open", "opened"))
	assert.True(t, matchesState("opened", "open"))
	assert.False(t, matchesState("open", "closed"))
	assert.True(t, matchesState("closed", "CLOSED"))
}
