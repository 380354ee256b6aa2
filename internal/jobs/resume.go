package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
)

// ResumeScheduler periodically re-publishes undispatched batches.
type ResumeScheduler struct {
	dispatcher *BatchDispatcher
	cron       *cron.Cron
	grace      time.Duration
	timeout    time.Duration
	logger     arbor.ILogger
}

// NewResumeScheduler registers the sweep on schedule (standard cron or @every).
// Scheduled sweeps leave plans younger than grace alone.
func NewResumeScheduler(dispatcher *BatchDispatcher, schedule string, grace time.Duration, logger arbor.ILogger) (*ResumeScheduler, error) {
	s := &ResumeScheduler{
		dispatcher: dispatcher,
		cron:       cron.New(),
		grace:      grace,
		timeout:    time.Minute,
		logger:     logger,
	}
	if _, err := s.cron.AddFunc(schedule, func() { s.sweep(s.grace) }); err != nil {
		return nil, fmt.Errorf("invalid resume schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Start runs one sweep immediately and then follows the schedule. Call it
// before the workers start; the first sweep resumes plans of any age.
func (s *ResumeScheduler) Start() {
	s.sweep(0)
	s.cron.Start()
}

// Stop stops the schedule and waits for a running sweep.
func (s *ResumeScheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *ResumeScheduler) sweep(minAge time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	resumed, err := s.dispatcher.ResumePlans(ctx, minAge)
	if err != nil {
		s.logger.Error().Err(err).Msg("Batch plan resume failed")
		return
	}
	if resumed > 0 {
		s.logger.Info().Int("batches", resumed).Msg("Batch plan resume published batches")
	}
}
