package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/tracksync/internal/interfaces"
	"github.com/ternarybob/tracksync/internal/models"
)

var (
	// ErrUnknownStep means a message names a step its job type does not declare.
	ErrUnknownStep = errors.New("unknown step")
	// ErrUnknownJobType means no pipeline is registered for a job type.
	ErrUnknownJobType = errors.New("unknown job type")
)

// StepContext is what a step function may touch besides its payload.
type StepContext struct {
	Job      *models.Job
	Headers  models.TaskHeaders
	Provider interfaces.ProviderClient
	Internal interfaces.InternalClient
	Logger   arbor.ILogger
}

// StepResult is the output of one step.
type StepResult struct {
	Payload models.StepPayload
	// Batch asks for the payload entities to be fanned out into fixed size batches.
	Batch bool
	// Imported counts entities written to the internal tracker.
	Imported int
}

// StepFunc runs one step. It performs the step's I/O and never touches the queue.
type StepFunc func(ctx context.Context, sc *StepContext, payload models.StepPayload) (StepResult, error)

// Pipeline is the transition table of one job type.
type Pipeline struct {
	JobType models.JobType
	Order   []models.StepID
	Steps   map[models.StepID]StepFunc
}

// First returns the entry step.
func (p *Pipeline) First() models.StepID {
	if len(p.Order) == 0 {
		return ""
	}
	return p.Order[0]
}

// Next returns the immediate successor of step. ok is false when step is last.
func (p *Pipeline) Next(step models.StepID) (next models.StepID, ok bool, err error) {
	for i, s := range p.Order {
		if s != step {
			continue
		}
		if i == len(p.Order)-1 {
			return "", false, nil
		}
		return p.Order[i+1], true, nil
	}
	return "", false, fmt.Errorf("%w: %q in %s", ErrUnknownStep, step, p.JobType)
}

// IsLast reports whether step terminates the chain.
func (p *Pipeline) IsLast(step models.StepID) bool {
	return len(p.Order) > 0 && p.Order[len(p.Order)-1] == step
}

// Step returns the function bound to step.
func (p *Pipeline) Step(step models.StepID) (StepFunc, error) {
	fn, ok := p.Steps[step]
	if !ok {
		return nil, fmt.Errorf("%w: %q in %s", ErrUnknownStep, step, p.JobType)
	}
	return fn, nil
}

// Validate checks that every ordered step has a function.
func (p *Pipeline) Validate() error {
	if len(p.Order) == 0 {
		return fmt.Errorf("pipeline %s has no steps", p.JobType)
	}
	for _, s := range p.Order {
		if _, ok := p.Steps[s]; !ok {
			return fmt.Errorf("pipeline %s: step %q has no function", p.JobType, s)
		}
	}
	return nil
}

// Pipelines maps job types to their transition tables.
type Pipelines map[models.JobType]*Pipeline

// Get returns the pipeline of a job type.
func (p Pipelines) Get(jobType models.JobType) (*Pipeline, error) {
	pipeline, ok := p[jobType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJobType, jobType)
	}
	return pipeline, nil
}

// Sequencer publishes the successor message of a completed step.
type Sequencer struct {
	mq     interfaces.MQ
	logger arbor.ILogger
}

// NewSequencer creates a Sequencer publishing through mq.
func NewSequencer(mq interfaces.MQ, logger arbor.ILogger) *Sequencer {
	return &Sequencer{mq: mq, logger: logger}
}

// DispatchNextStep publishes exactly one message addressed to the successor
// of headers.Type, or nothing when it is the last step. Batch routing headers
// are carried over so a batch keeps its identity through the chain.
func (s *Sequencer) DispatchNextStep(ctx context.Context, pipeline *Pipeline, headers models.TaskHeaders, result models.StepPayload) error {
	next, ok, err := pipeline.Next(models.StepID(headers.Type))
	if err != nil {
		return err
	}
	if !ok {
		s.logger.Debug().
			Str("job_id", headers.JobID).
			Str("step", headers.Type).
			Msg("Last step reached, chain complete")
		return nil
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal %s result: %w", headers.Type, err)
	}

	if err := s.mq.SendMessage(ctx, headers.WithType(next), payload); err != nil {
		return fmt.Errorf("failed to dispatch %s: %w", next, err)
	}

	s.logger.Debug().
		Str("job_id", headers.JobID).
		Str("from", headers.Type).
		Str("to", string(next)).
		Msg("Dispatched next step")
	return nil
}
