package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/tracksync/internal/common"
	"github.com/ternarybob/tracksync/internal/interfaces"
	"github.com/ternarybob/tracksync/internal/models"
)

// CreateJobRequest is the input of a new migration job.
type CreateJobRequest struct {
	Type          models.JobType      `json:"type"`
	Provider      models.Provider     `json:"provider" validate:"required,oneof=github gitlab"`
	Enterprise    bool                `json:"enterprise"`
	WorkspaceID   string              `json:"workspace_id" validate:"required"`
	WorkspaceSlug string              `json:"workspace_slug" validate:"required"`
	ProjectID     string              `json:"project_id" validate:"required"`
	UserID        string              `json:"user_id" validate:"required"`
	CredentialID  string              `json:"credential_id,omitempty"`
	Config        models.ImportConfig `json:"config"`
}

// Service creates and controls migration jobs. This keeps the HTTP handler thin.
type Service struct {
	storage   interfaces.StorageManager
	mq        interfaces.MQ
	pipelines Pipelines
	route     string
	validate  *validator.Validate
	logger    arbor.ILogger
}

// NewService creates a job service publishing first steps on route.
func NewService(storage interfaces.StorageManager, mq interfaces.MQ, pipelines Pipelines, route string, logger arbor.ILogger) *Service {
	return &Service{
		storage:   storage,
		mq:        mq,
		pipelines: pipelines,
		route:     route,
		validate:  validator.New(),
		logger:    logger,
	}
}

// CreateJob stores the job and its report, then enqueues the first step.
func (s *Service) CreateJob(ctx context.Context, req CreateJobRequest) (*models.Job, error) {
	if req.Type == "" {
		req.Type = models.JobTypeIssueImport
	}
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("invalid job request: %w", err)
	}
	if err := s.validate.Struct(req.Config); err != nil {
		return nil, fmt.Errorf("invalid job config: %w", err)
	}

	pipeline, err := s.pipelines.Get(req.Type)
	if err != nil {
		return nil, err
	}

	key := models.IntegrationKeyFor(req.Provider, req.Enterprise)
	if req.CredentialID == "" {
		if _, err := s.storage.CredentialStorage().GetLatestCredential(ctx, key, req.WorkspaceID, req.UserID); err != nil {
			return nil, fmt.Errorf("no %s credential for workspace %s: %w", key, req.WorkspaceID, err)
		}
	}

	config, err := json.Marshal(req.Config)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job config: %w", err)
	}

	now := time.Now()
	job := &models.Job{
		ID:             common.NewJobID(),
		Type:           req.Type,
		IntegrationKey: key,
		WorkspaceID:    req.WorkspaceID,
		WorkspaceSlug:  req.WorkspaceSlug,
		ProjectID:      req.ProjectID,
		UserID:         req.UserID,
		CredentialID:   req.CredentialID,
		ReportID:       common.NewReportID(),
		Config:         config,
		CreatedAt:      now,
	}
	report := &models.ImportReport{
		ID:        job.ReportID,
		JobID:     job.ID,
		StartedAt: now,
		UpdatedAt: now,
	}

	if err := s.storage.ReportStorage().CreateReport(ctx, report); err != nil {
		return nil, fmt.Errorf("failed to create report: %w", err)
	}
	if err := s.storage.JobStorage().SaveJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to save job: %w", err)
	}

	headers := models.TaskHeaders{JobID: job.ID, Type: string(pipeline.First()), Route: s.route}
	if err := s.mq.SendMessage(ctx, headers, json.RawMessage("null")); err != nil {
		return nil, fmt.Errorf("failed to enqueue %s for job %s: %w", headers.Type, job.ID, err)
	}

	s.logger.Info().
		Str("job_id", job.ID).
		Str("type", string(job.Type)).
		Str("integration", string(key)).
		Str("repo", req.Config.Repo().FullName()).
		Msg("Job created")

	return job, nil
}

func (s *Service) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	return s.storage.JobStorage().GetJob(ctx, jobID)
}

func (s *Service) ListJobs(ctx context.Context, workspaceID string) ([]*models.Job, error) {
	return s.storage.JobStorage().ListJobs(ctx, workspaceID)
}

// GetReport returns the progress report of a job.
func (s *Service) GetReport(ctx context.Context, jobID string) (*models.ImportReport, error) {
	job, err := s.storage.JobStorage().GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return s.storage.ReportStorage().GetReport(ctx, job.ReportID)
}

// CancelJob marks the job cancelled. Messages already queued are acknowledged without running.
func (s *Service) CancelJob(ctx context.Context, jobID string) (*models.Job, error) {
	job, err := s.storage.JobStorage().CancelJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("job_id", jobID).Msg("Job cancelled")
	return job, nil
}
