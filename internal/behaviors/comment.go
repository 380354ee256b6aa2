package behaviors

import (
	"context"
	"errors"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/tracksync/internal/interfaces"
	"github.com/ternarybob/tracksync/internal/internalapi"
	"github.com/ternarybob/tracksync/internal/models"
	"github.com/ternarybob/tracksync/internal/transform"
)

// CommentBehavior mirrors comments on synced issues onto the internal work item.
type CommentBehavior struct {
	deps        interfaces.BehaviorDeps
	transformer *transform.Service
	logger      arbor.ILogger
}

func NewCommentBehavior(deps interfaces.BehaviorDeps, transformer *transform.Service, logger arbor.ILogger) *CommentBehavior {
	return &CommentBehavior{deps: deps, transformer: transformer, logger: logger}
}

func (b *CommentBehavior) HandleEvent(ctx context.Context, event models.NormalizedEvent) error {
	e := event.Event
	if e.Comment == nil || event.Action == "deleted" || e.Extra["pull_request"] == "true" {
		return nil
	}

	project := b.deps.EntityConnection
	item, err := b.deps.Internal.GetWorkItemByExternalID(ctx, project.ProjectID, event.ExternalID, string(b.deps.IntegrationKey))
	if errors.Is(err, interfaces.ErrNotFound) {
		b.logger.Info().
			Str("external_id", event.ExternalID).
			Msg("Comment on an issue that was never synced, skipping")
		return nil
	}
	if err != nil {
		return err
	}

	comment := b.transformer.CommentFromEvent(e.Comment, b.deps.IntegrationKey)
	saved, err := internalapi.UpsertComment(ctx, b.deps.Internal, project.ProjectID, item.ID, comment)
	if err != nil {
		return err
	}

	b.logger.Info().
		Str("external_id", event.ExternalID).
		Str("work_item_id", item.ID).
		Str("comment_id", saved.ID).
		Msg("Comment mirrored")
	return nil
}
