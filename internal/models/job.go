package models

import (
	"encoding/json"
	"time"
)

// StepID identifies one phase of a job's pipeline.
type StepID string

const (
	StepPull      StepID = "pull"
	StepTransform StepID = "transform"
	StepPush      StepID = "push"
)

// JobType selects the pipeline a job runs through.
type JobType string

const (
	JobTypeIssueImport JobType = "issue_import"
)

// Job is one migration run between an external provider and the internal tracker.
// Status is implicit: it is the step carried by the job's in-flight message.
type Job struct {
	ID             string          `json:"id" badgerhold:"key"`
	Type           JobType         `json:"type" validate:"required"`
	IntegrationKey IntegrationKey  `json:"integration_key" validate:"required"`
	WorkspaceID    string          `json:"workspace_id" validate:"required"`
	WorkspaceSlug  string          `json:"workspace_slug" validate:"required"`
	ProjectID      string          `json:"project_id" validate:"required"`
	UserID         string          `json:"user_id" validate:"required"`
	CredentialID   string          `json:"credential_id,omitempty"`
	ReportID       string          `json:"report_id"`
	Config         json.RawMessage `json:"config"`
	LastStep       StepID          `json:"last_step,omitempty"`
	LastStepAt     *time.Time      `json:"last_step_at,omitempty"`
	CancelledAt    *time.Time      `json:"cancelled_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// IsCancelled reports whether the job was cancelled before the current step ran.
func (j *Job) IsCancelled() bool {
	return j.CancelledAt != nil
}

// ImportConfig is the provider-specific config of an issue import job.
type ImportConfig struct {
	Owner        string            `json:"owner"`
	Repository   string            `json:"repository" validate:"required"`
	RepositoryID string            `json:"repository_id,omitempty"`
	State        string            `json:"state,omitempty"`
	MaxPages     int               `json:"max_pages,omitempty" validate:"gte=0"`
	StateMapping map[string]string `json:"state_mapping,omitempty"`
}

// Repo returns the provider repository the import reads from.
func (c ImportConfig) Repo() RepoRef {
	return RepoRef{Owner: c.Owner, Name: c.Repository, ID: c.RepositoryID}
}

// ImportReport holds progress counters polled by monitoring surfaces.
type ImportReport struct {
	ID                 string    `json:"id" badgerhold:"key"`
	JobID              string    `json:"job_id" badgerhold:"index"`
	TotalBatchCount    int       `json:"total_batch_count"`
	ImportedBatchCount int       `json:"imported_batch_count"`
	ErroredBatchCount  int       `json:"errored_batch_count"`
	TotalIssueCount    int       `json:"total_issue_count"`
	ImportedIssueCount int       `json:"imported_issue_count"`
	StartedAt          time.Time `json:"started_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// ReportDelta is an additive change to an ImportReport.
type ReportDelta struct {
	TotalBatches    int
	ImportedBatches int
	ErroredBatches  int
	TotalIssues     int
	ImportedIssues  int
}

// Apply adds the delta to the report counters.
func (d ReportDelta) Apply(r *ImportReport) {
	r.TotalBatchCount += d.TotalBatches
	r.ImportedBatchCount += d.ImportedBatches
	r.ErroredBatchCount += d.ErroredBatches
	r.TotalIssueCount += d.TotalIssues
	r.ImportedIssueCount += d.ImportedIssues
	r.UpdatedAt = time.Now()
}

// BatchPlan is the durable record of a batch fan-out, written before any batch is published.
type BatchPlan struct {
	ID          string     `json:"id" badgerhold:"key"`
	JobID       string     `json:"job_id" badgerhold:"index"`
	Route       string     `json:"route"`
	Step        StepID     `json:"step"`
	Batches     []Batch    `json:"batches"`
	Dispatched  []bool     `json:"dispatched"`
	Completed   []bool     `json:"completed"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Pending returns the indexes of batches that were planned but never published.
func (p *BatchPlan) Pending() []int {
	var pending []int
	for i, sent := range p.Dispatched {
		if !sent {
			pending = append(pending, i)
		}
	}
	return pending
}

// IsComplete reports whether every batch in the plan has been pushed.
func (p *BatchPlan) IsComplete() bool {
	for _, done := range p.Completed {
		if !done {
			return false
		}
	}
	return true
}
