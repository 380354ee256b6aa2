package internalapi

import (
	"context"
	"errors"
	"fmt"

	"github.com/ternarybob/tracksync/internal/interfaces"
	"github.com/ternarybob/tracksync/internal/models"
)

// UpsertWorkItem updates the work item carrying item's external id, or creates
// it when none exists. created reports which happened.
func UpsertWorkItem(ctx context.Context, client interfaces.InternalClient, projectID string, item *models.WorkItem) (result *models.WorkItem, created bool, err error) {
	existing, err := client.GetWorkItemByExternalID(ctx, projectID, item.ExternalID, item.ExternalSource)
	switch {
	case err == nil:
		updated, err := client.UpdateWorkItem(ctx, projectID, existing.ID, item)
		if err != nil {
			return nil, false, fmt.Errorf("failed to update work item %s: %w", existing.ID, err)
		}
		if updated.ID == "" {
			updated.ID = existing.ID
		}
		return updated, false, nil
	case errors.Is(err, interfaces.ErrNotFound):
		createdItem, err := client.CreateWorkItem(ctx, projectID, item)
		if err != nil {
			return nil, false, fmt.Errorf("failed to create work item for %s: %w", item.ExternalID, err)
		}
		return createdItem, true, nil
	default:
		return nil, false, fmt.Errorf("failed to look up work item %s: %w", item.ExternalID, err)
	}
}

// UpsertComment updates the comment carrying comment's external id, or creates it.
func UpsertComment(ctx context.Context, client interfaces.InternalClient, projectID, itemID string, comment *models.WorkItemComment) (*models.WorkItemComment, error) {
	existing, err := client.GetCommentByExternalID(ctx, projectID, itemID, comment.ExternalID, comment.ExternalSource)
	switch {
	case err == nil:
		updated, err := client.UpdateComment(ctx, projectID, itemID, existing.ID, comment)
		if err != nil {
			return nil, fmt.Errorf("failed to update comment %s: %w", existing.ID, err)
		}
		return updated, nil
	case errors.Is(err, interfaces.ErrNotFound):
		created, err := client.CreateComment(ctx, projectID, itemID, comment)
		if err != nil {
			return nil, fmt.Errorf("failed to create comment for %s: %w", comment.ExternalID, err)
		}
		return created, nil
	default:
		return nil, fmt.Errorf("failed to look up comment %s: %w", comment.ExternalID, err)
	}
}
