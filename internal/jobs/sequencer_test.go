package jobs

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/tracksync/internal/models"
)

func testPipeline() *Pipeline {
	noop := func(ctx context.Context, sc *StepContext, p models.StepPayload) (StepResult, error) {
		return StepResult{Payload: p}, nil
	}
	return &Pipeline{
		JobType: models.JobTypeIssueImport,
		Order:   []models.StepID{models.StepPull, models.StepTransform, models.StepPush},
		Steps: map[models.StepID]StepFunc{
			models.StepPull:      noop,
			models.StepTransform: noop,
			models.StepPush:      noop,
		},
	}
}

func TestPipeline_Next(t *testing.T) {
	p := testPipeline()
	assert.NoError(t, p.Validate())
	assert.Equal(t, models.StepPull, p.First())

	for i, step := range p.Order {
		next, ok, err := p.Next(step)
		require.NoError(t, err)
		if i == len(p.Order)-1 {
			assert.False(t, ok)
			assert.Empty(t, next)
			assert.True(t, p.IsLast(step))
			continue
		}
		assert.True(t, ok)
		assert.Equal(t, p.Order[i+1], next)
		assert.False(t, p.IsLast(step))
	}

	_, _, err := p.Next("archive")
	assert.ErrorIs(t, err, ErrUnknownStep)

	_, err = p.Step("archive")
	assert.ErrorIs(t, err, ErrUnknownStep)
}

func TestPipeline_Validate(t *testing.T) {
	p := testPipeline()
	delete(p.Steps, models.StepPush)
	assert.Error(t, p.Validate())

	assert.Error(t, (&Pipeline{JobType: "empty"}).Validate())
}

func TestPipelines_Get(t *testing.T) {
	pipelines := Pipelines{models.JobTypeIssueImport: testPipeline()}
	_, err := pipelines.Get(models.JobTypeIssueImport)
	assert.NoError(t, err)
	_, err = pipelines.Get("doc_import")
	assert.ErrorIs(t, err, ErrUnknownJobType)
}

func TestSequencer_DispatchesExactlyOneSuccessor(t *testing.T) {
	p := testPipeline()
	payload := models.StepPayload{Entities: []json.RawMessage{json.RawMessage(`{"n":1}`)}}

	for i, step := range p.Order {
		mq := &fakeMQ{}
		seq := NewSequencer(mq, arbor.NewNoOpLogger())
		headers := models.TaskHeaders{JobID: "job_1", Type: string(step), Route: testRoute, BatchPlanID: "plan_1", BatchIndex: 2}

		require.NoError(t, seq.DispatchNextStep(context.Background(), p, headers, payload))

		if i == len(p.Order)-1 {
			assert.Equal(t, 0, mq.len(), "last step must not publish")
			continue
		}
		require.Equal(t, 1, mq.len())
		msg, _ := mq.pop()
		assert.Equal(t, string(p.Order[i+1]), msg.Headers.Type)
		assert.Equal(t, "job_1", msg.Headers.JobID)
		assert.Equal(t, testRoute, msg.Headers.Route)
		assert.Equal(t, "plan_1", msg.Headers.BatchPlanID)
		assert.Equal(t, 2, msg.Headers.BatchIndex)

		var got models.StepPayload
		require.NoError(t, json.Unmarshal(msg.Payload, &got))
		assert.Equal(t, payload, got)
	}
}

func TestSequencer_UnknownStep(t *testing.T) {
	mq := &fakeMQ{}
	seq := NewSequencer(mq, arbor.NewNoOpLogger())

	err := seq.DispatchNextStep(context.Background(), testPipeline(), models.TaskHeaders{JobID: "job_1", Type: "archive"}, models.StepPayload{})
	assert.ErrorIs(t, err, ErrUnknownStep)
	assert.Equal(t, 0, mq.len())
}
