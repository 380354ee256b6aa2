package interfaces

import (
	"context"

	"github.com/ternarybob/tracksync/internal/models"
)

// Behavior reacts to one normalized webhook event.
type Behavior interface {
	HandleEvent(ctx context.Context, event models.NormalizedEvent) error
}

// BehaviorDeps binds a behavior to the connection the event resolved to.
type BehaviorDeps struct {
	IntegrationKey      models.IntegrationKey
	WorkspaceConnection *models.WorkspaceConnection
	EntityConnection    *models.EntityConnection
	// Projects are all project mappings of the workspace connection.
	Projects []*models.EntityConnection
	Provider ProviderClient
	Internal InternalClient
}

// BehaviorFactory builds the behavior for one event category.
type BehaviorFactory func(deps BehaviorDeps) Behavior
