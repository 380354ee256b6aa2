package credentials

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/tracksync/internal/common"
	"github.com/ternarybob/tracksync/internal/interfaces"
	"github.com/ternarybob/tracksync/internal/models"
)

// NewRefreshCallback returns the callback handed to provider clients built from prior.
// Every invocation appends a credential row with the rotated source tokens, the
// unchanged target token and the next sequence number after prior.
func NewRefreshCallback(store interfaces.CredentialStorage, prior *models.Credential, logger arbor.ILogger) interfaces.RefreshFunc {
	var rotations int64

	return func(ctx context.Context, accessToken, refreshToken string) error {
		seq := prior.Sequence + atomic.AddInt64(&rotations, 1)

		if refreshToken == "" {
			refreshToken = prior.SourceRefreshToken
		}

		rotated := &models.Credential{
			ID:                 common.NewCredentialID(),
			IntegrationKey:     prior.IntegrationKey,
			WorkspaceID:        prior.WorkspaceID,
			UserID:             prior.UserID,
			SourceAccessToken:  accessToken,
			SourceRefreshToken: refreshToken,
			TargetAccessToken:  prior.TargetAccessToken,
			SourceHostname:     prior.SourceHostname,
			Sequence:           seq,
			CreatedAt:          time.Now(),
		}

		if err := store.CreateCredential(ctx, rotated); err != nil {
			if errors.Is(err, models.ErrStaleRotation) {
				// A newer rotation already landed, ours is obsolete
				logger.Info().
					Str("integration_key", string(prior.IntegrationKey)).
					Str("workspace_id", prior.WorkspaceID).
					Int64("sequence", seq).
					Msg("Ignoring stale credential rotation")
				return nil
			}
			return fmt.Errorf("failed to persist rotated credential: %w", err)
		}

		logger.Info().
			Str("integration_key", string(prior.IntegrationKey)).
			Str("workspace_id", prior.WorkspaceID).
			Str("credential_id", rotated.ID).
			Int64("sequence", seq).
			Msg("Credential rotated")
		return nil
	}
}
