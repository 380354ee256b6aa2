package badger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/tracksync/internal/interfaces"
	"github.com/ternarybob/tracksync/internal/models"
)

func TestConnectionStorage_FindEntityConnection(t *testing.T) {
	ctx := context.Background()
	conns := newTestManager(t).ConnectionStorage()

	require.NoError(t, conns.SaveWorkspaceConnection(ctx, &models.WorkspaceConnection{
		ID: "wc-1", WorkspaceID: "ws-1", IntegrationKey: models.IntegrationGitLabEnterprise, CredentialID: "cred-1",
	}))
	require.NoError(t, conns.SaveEntityConnection(ctx, &models.EntityConnection{
		ID: "ec-1", WorkspaceConnectionID: "wc-1", IntegrationKey: models.IntegrationGitLabEnterprise,
		EntityID: "42", ProjectID: "proj-1", Type: models.EntityConnectionPRAutomation,
	}))

	found, err := conns.FindEntityConnection(ctx, models.IntegrationGitLabEnterprise, "42", models.EntityConnectionPRAutomation)
	require.NoError(t, err)
	assert.Equal(t, "proj-1", found.ProjectID)

	found, err = conns.FindEntityConnection(ctx, models.IntegrationGitLabEnterprise, "42", "")
	require.NoError(t, err)
	assert.Equal(t, "ec-1", found.ID)

	// Same entity id under the standard key is a different installation
	_, err = conns.FindEntityConnection(ctx, models.IntegrationGitLab, "42", models.EntityConnectionPRAutomation)
	assert.ErrorIs(t, err, interfaces.ErrNotFound)

	list, err := conns.ListEntityConnections(ctx, "wc-1")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	wc, err := conns.GetWorkspaceConnection(ctx, "wc-1")
	require.NoError(t, err)
	assert.Equal(t, "cred-1", wc.CredentialID)
}
