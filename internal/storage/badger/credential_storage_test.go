package badger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/tracksync/internal/interfaces"
	"github.com/ternarybob/tracksync/internal/models"
)

func testCredential(id string, seq int64, access string) *models.Credential {
	return &models.Credential{
		ID:                 id,
		IntegrationKey:     models.IntegrationGitLab,
		WorkspaceID:        "ws-1",
		UserID:             "user-1",
		SourceAccessToken:  access,
		SourceRefreshToken: "refresh-" + access,
		TargetAccessToken:  "target",
		Sequence:           seq,
	}
}

func TestCredentialStorage_AppendOnlyHead(t *testing.T) {
	ctx := context.Background()
	creds := newTestManager(t).CredentialStorage()

	require.NoError(t, creds.CreateCredential(ctx, testCredential("c1", 1, "a1")))
	require.NoError(t, creds.CreateCredential(ctx, testCredential("c2", 2, "a2")))

	latest, err := creds.GetLatestCredential(ctx, models.IntegrationGitLab, "ws-1", "user-1")
	require.NoError(t, err)
	assert.Equal(t, "c2", latest.ID)
	assert.Equal(t, "a2", latest.SourceAccessToken)

	// The prior row is untouched
	first, err := creds.GetCredential(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "a1", first.SourceAccessToken)

	history, err := creds.ListCredentials(ctx, models.IntegrationGitLab, "ws-1", "user-1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, int64(1), history[0].Sequence)
}

func TestCredentialStorage_StaleRotationRejected(t *testing.T) {
	ctx := context.Background()
	creds := newTestManager(t).CredentialStorage()

	require.NoError(t, creds.CreateCredential(ctx, testCredential("c3", 3, "a3")))
	err := creds.CreateCredential(ctx, testCredential("c2", 2, "a2"))
	assert.ErrorIs(t, err, models.ErrStaleRotation)

	latest, err := creds.GetLatestCredential(ctx, models.IntegrationGitLab, "ws-1", "user-1")
	require.NoError(t, err)
	assert.Equal(t, "c3", latest.ID)

	_, err = creds.GetCredential(ctx, "c2")
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
}

func TestCredentialStorage_LatestMissing(t *testing.T) {
	_, err := newTestManager(t).CredentialStorage().GetLatestCredential(context.Background(), models.IntegrationGitHub, "ws-x", "u")
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
}
