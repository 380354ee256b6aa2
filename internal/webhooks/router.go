// Package webhooks resolves queued provider events to a connection and runs the bound behavior.
package webhooks

import (
	"context"
	"errors"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/tracksync/internal/behaviors"
	"github.com/ternarybob/tracksync/internal/credentials"
	"github.com/ternarybob/tracksync/internal/interfaces"
	"github.com/ternarybob/tracksync/internal/models"
)

// Router resolves an event to its workspace connection, credential and behavior.
type Router struct {
	connections interfaces.ConnectionStorage
	credentials interfaces.CredentialStorage
	providers   map[models.IntegrationKey]interfaces.ProviderFactory
	internal    interfaces.InternalClientFactory
	behaviors   *behaviors.Registry
	logger      arbor.ILogger
}

// NewRouter creates a webhook router.
func NewRouter(
	storage interfaces.StorageManager,
	providers map[models.IntegrationKey]interfaces.ProviderFactory,
	internal interfaces.InternalClientFactory,
	registry *behaviors.Registry,
	logger arbor.ILogger,
) *Router {
	return &Router{
		connections: storage.ConnectionStorage(),
		credentials: storage.CredentialStorage(),
		providers:   providers,
		internal:    internal,
		behaviors:   registry,
		logger:      logger,
	}
}

// Route runs the behavior bound to the event. Events for unconfigured projects,
// connections or credentials are dropped with a log line and a nil error. A
// behavior failure is logged and returned.
func (r *Router) Route(ctx context.Context, event *models.WebhookEvent) error {
	key := models.IntegrationKeyFor(event.Provider, event.Enterprise)
	connType := behaviors.ConnectionType(event.Category)

	entity, err := r.connections.FindEntityConnection(ctx, key, event.EntityID, connType)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			r.logger.Info().
				Str("integration", string(key)).
				Str("entity_id", event.EntityID).
				Str("category", string(event.Category)).
				Msg("No project connection for webhook, dropping")
			return nil
		}
		return fmt.Errorf("failed to resolve project connection: %w", err)
	}

	workspace, err := r.connections.GetWorkspaceConnection(ctx, entity.WorkspaceConnectionID)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			r.logger.Info().
				Str("integration", string(key)).
				Str("workspace_connection_id", entity.WorkspaceConnectionID).
				Msg("Workspace connection missing, dropping webhook")
			return nil
		}
		return fmt.Errorf("failed to resolve workspace connection: %w", err)
	}

	cred, err := r.resolveCredential(ctx, workspace.CredentialID)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			r.logger.Info().
				Str("integration", string(key)).
				Str("credential_id", workspace.CredentialID).
				Msg("Credential missing, dropping webhook")
			return nil
		}
		return err
	}

	factory, ok := r.providers[key]
	if !ok {
		return fmt.Errorf("no provider registered for %s", key)
	}

	logger := r.logger.WithCorrelationId(event.DeliveryID)
	provider, err := factory(ctx, interfaces.ProviderTokens{
		AccessToken:  cred.SourceAccessToken,
		RefreshToken: cred.SourceRefreshToken,
	}, credentials.NewRefreshCallback(r.credentials, cred, logger), interfaces.ProviderOptions{
		BaseURL:      workspace.AppConfig.BaseURL,
		ClientID:     workspace.AppConfig.ClientID,
		ClientSecret: workspace.AppConfig.ClientSecret,
	})
	if err != nil {
		return fmt.Errorf("failed to create %s client: %w", key, err)
	}

	projects, err := r.connections.ListEntityConnections(ctx, workspace.ID)
	if err != nil {
		return fmt.Errorf("failed to list project connections: %w", err)
	}

	behavior, err := r.behaviors.Build(event.Category, interfaces.BehaviorDeps{
		IntegrationKey:      key,
		WorkspaceConnection: workspace,
		EntityConnection:    entity,
		Projects:            projects,
		Provider:            provider,
		Internal:            r.internal(workspace.WorkspaceSlug, cred.TargetAccessToken),
	})
	if err != nil {
		if errors.Is(err, behaviors.ErrNoBehavior) {
			logger.Info().Str("category", string(event.Category)).Msg("No behavior for event category, dropping")
			return nil
		}
		return err
	}

	if err := behavior.HandleEvent(ctx, event.Normalize()); err != nil {
		logger.Error().
			Err(err).
			Str("integration", string(key)).
			Str("workspace", workspace.WorkspaceSlug).
			Str("project_id", entity.ProjectID).
			Str("category", string(event.Category)).
			Str("action", event.Action).
			Str("repo", event.Repo().FullName()).
			Int("number", event.Number).
			Str("external_id", event.ExternalID).
			Msg("Behavior failed")
		return fmt.Errorf("%s behavior failed for %s: %w", event.Category, event.Repo().FullName(), err)
	}
	return nil
}

// resolveCredential follows the connection's credential to the most recent
// rotation of the same provider, workspace and user.
func (r *Router) resolveCredential(ctx context.Context, credentialID string) (*models.Credential, error) {
	cred, err := r.credentials.GetCredential(ctx, credentialID)
	if err != nil {
		return nil, err
	}
	latest, err := r.credentials.GetLatestCredential(ctx, cred.IntegrationKey, cred.WorkspaceID, cred.UserID)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return cred, nil
		}
		return nil, err
	}
	return latest, nil
}
