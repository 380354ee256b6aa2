package behaviors

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/tracksync/internal/interfaces"
	"github.com/ternarybob/tracksync/internal/internalapi"
	"github.com/ternarybob/tracksync/internal/models"
	"github.com/ternarybob/tracksync/internal/transform"
)

// IssueBehavior mirrors provider issue lifecycle events onto internal work items.
type IssueBehavior struct {
	deps        interfaces.BehaviorDeps
	transformer *transform.Service
	logger      arbor.ILogger
}

func NewIssueBehavior(deps interfaces.BehaviorDeps, transformer *transform.Service, logger arbor.ILogger) *IssueBehavior {
	return &IssueBehavior{deps: deps, transformer: transformer, logger: logger}
}

func (b *IssueBehavior) HandleEvent(ctx context.Context, event models.NormalizedEvent) error {
	if event.Action == "deleted" || event.Action == "transferred" {
		b.logger.Info().
			Str("external_id", event.ExternalID).
			Str("action", event.Action).
			Msg("Issue action not mirrored")
		return nil
	}

	project := b.deps.EntityConnection
	mapping := project.Config.StateMapping

	item := b.transformer.WorkItemFromEvent(event.Event, b.deps.IntegrationKey, mapping)
	// An action mapping such as "reopened" wins over the plain state.
	if state := transform.MapState(mapping, event.Action); state != "" {
		item.State = state
	}

	result, created, err := internalapi.UpsertWorkItem(ctx, b.deps.Internal, project.ProjectID, item)
	if err != nil {
		return err
	}

	if created && event.Event.URL != "" {
		link := models.WorkItemLink{
			Title: fmt.Sprintf("%s #%d", event.Event.Repo().FullName(), event.Number),
			URL:   event.Event.URL,
		}
		if err := b.deps.Internal.AddWorkItemLink(ctx, project.ProjectID, result.ID, link); err != nil {
			return fmt.Errorf("failed to link work item %s: %w", result.ID, err)
		}
	}

	b.logger.Info().
		Str("external_id", event.ExternalID).
		Str("work_item_id", result.ID).
		Str("action", event.Action).
		Bool("created", created).
		Msg("Issue event mirrored")
	return nil
}
