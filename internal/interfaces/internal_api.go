package interfaces

import (
	"context"

	"github.com/ternarybob/tracksync/internal/models"
)

// InternalClient talks to the internal tracker API on behalf of a workspace.
type InternalClient interface {
	GetWorkItemByExternalID(ctx context.Context, projectID, externalID, source string) (*models.WorkItem, error)
	GetWorkItemByIdentifier(ctx context.Context, identifier string) (*models.WorkItem, error)
	CreateWorkItem(ctx context.Context, projectID string, item *models.WorkItem) (*models.WorkItem, error)
	UpdateWorkItem(ctx context.Context, projectID, itemID string, item *models.WorkItem) (*models.WorkItem, error)
	AddWorkItemLink(ctx context.Context, projectID, itemID string, link models.WorkItemLink) error

	GetCommentByExternalID(ctx context.Context, projectID, itemID, externalID, source string) (*models.WorkItemComment, error)
	CreateComment(ctx context.Context, projectID, itemID string, comment *models.WorkItemComment) (*models.WorkItemComment, error)
	UpdateComment(ctx context.Context, projectID, itemID, commentID string, comment *models.WorkItemComment) (*models.WorkItemComment, error)
}

// InternalClientFactory builds an internal API client for a workspace using the target token.
type InternalClientFactory func(workspaceSlug, accessToken string) InternalClient
