package interfaces

import (
	"context"
	"errors"

	"github.com/ternarybob/tracksync/internal/models"
)

// ErrNotFound is returned when a stored record does not exist
var ErrNotFound = errors.New("not found")

// JobStorage - interface for job persistence
type JobStorage interface {
	SaveJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, jobID string) (*models.Job, error)
	ListJobs(ctx context.Context, workspaceID string) ([]*models.Job, error)
	CancelJob(ctx context.Context, jobID string) (*models.Job, error)
	MarkStep(ctx context.Context, jobID string, step models.StepID) error
	DeleteJob(ctx context.Context, jobID string) error
}

// ReportStorage - interface for import report counters
type ReportStorage interface {
	CreateReport(ctx context.Context, report *models.ImportReport) error
	GetReport(ctx context.Context, reportID string) (*models.ImportReport, error)
	// UpdateReport applies an additive delta in a single transaction.
	UpdateReport(ctx context.Context, reportID string, delta models.ReportDelta) (*models.ImportReport, error)
}

// CredentialStorage - append-only credential records
type CredentialStorage interface {
	GetCredential(ctx context.Context, credentialID string) (*models.Credential, error)
	// GetLatestCredential resolves the most recent credential of a (provider, workspace, user).
	GetLatestCredential(ctx context.Context, key models.IntegrationKey, workspaceID, userID string) (*models.Credential, error)
	// CreateCredential appends a record. Returns models.ErrStaleRotation when the
	// sequence is not newer than the current head.
	CreateCredential(ctx context.Context, cred *models.Credential) error
	ListCredentials(ctx context.Context, key models.IntegrationKey, workspaceID, userID string) ([]*models.Credential, error)
}

// ConnectionStorage - workspace and project level provider mappings
type ConnectionStorage interface {
	SaveWorkspaceConnection(ctx context.Context, conn *models.WorkspaceConnection) error
	GetWorkspaceConnection(ctx context.Context, id string) (*models.WorkspaceConnection, error)
	ListWorkspaceConnections(ctx context.Context) ([]*models.WorkspaceConnection, error)
	SaveEntityConnection(ctx context.Context, conn *models.EntityConnection) error
	FindEntityConnection(ctx context.Context, key models.IntegrationKey, entityID string, connType models.EntityConnectionType) (*models.EntityConnection, error)
	ListEntityConnections(ctx context.Context, workspaceConnectionID string) ([]*models.EntityConnection, error)
}

// BatchPlanStorage - durable batch fan-out records
type BatchPlanStorage interface {
	// CreatePlanAndCount stores the plan and adds its batch and entity counts to the
	// job's report in one transaction.
	CreatePlanAndCount(ctx context.Context, plan *models.BatchPlan, reportID string, entityCount int) error
	GetPlan(ctx context.Context, planID string) (*models.BatchPlan, error)
	MarkDispatched(ctx context.Context, planID string, index int) error
	MarkCompleted(ctx context.Context, planID string, index int) (*models.BatchPlan, error)
	ListIncompletePlans(ctx context.Context) ([]*models.BatchPlan, error)
}

// StorageManager - composite interface for all storage operations
type StorageManager interface {
	JobStorage() JobStorage
	ReportStorage() ReportStorage
	CredentialStorage() CredentialStorage
	ConnectionStorage() ConnectionStorage
	BatchPlanStorage() BatchPlanStorage
	KeyValueStorage() KeyValueStorage
	Close() error
}
