package badger

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/tracksync/internal/models"
)

const seedFile = `
[[workspace_connections]]
id = "acme-gitlab"
workspace_id = "ws-1"
workspace_slug = "acme"
integration_key = "gitlab_enterprise"
connection_id = "55"

[workspace_connections.app_config]
base_url = "https://git.acme.test"
client_id = "cid"
client_secret = "{SEED_CLIENT_SECRET}"

[workspace_connections.credential]
user_id = "user-1"
source_access_token = "{SEED_GITLAB_TOKEN}"
source_refresh_token = "refresh"
target_access_token = "target"

[[workspace_connections.entities]]
id = "acme-web"
project_id = "proj-1"
entity_id = "101"
entity_slug = "acme/web"

[workspace_connections.entities.state_mapping]
merged = "Done"

[[workspace_connections]]
id = "broken"
workspace_id = "ws-1"
integration_key = "bitbucket"
`

func TestLoadConnectionsFromFiles(t *testing.T) {
	ctx := context.Background()
	t.Setenv("SEED_GITLAB_TOKEN", "glpat-123")
	t.Setenv("SEED_CLIENT_SECRET", "shh")

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "acme.toml"), []byte(seedFile), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0644))

	m := newTestManager(t)
	require.NoError(t, LoadConnectionsFromFiles(ctx, m.ConnectionStorage(), m.CredentialStorage(), dir, arbor.NewNoOpLogger()))

	wc, err := m.ConnectionStorage().GetWorkspaceConnection(ctx, "acme-gitlab")
	require.NoError(t, err)
	assert.Equal(t, models.IntegrationGitLabEnterprise, wc.IntegrationKey)
	assert.Equal(t, "shh", wc.AppConfig.ClientSecret)

	cred, err := m.CredentialStorage().GetCredential(ctx, wc.CredentialID)
	require.NoError(t, err)
	assert.Equal(t, "glpat-123", cred.SourceAccessToken)
	assert.Equal(t, int64(1), cred.Sequence)

	ec, err := m.ConnectionStorage().FindEntityConnection(ctx, models.IntegrationGitLabEnterprise, "101", models.EntityConnectionPRAutomation)
	require.NoError(t, err)
	assert.Equal(t, "Done", ec.Config.StateMapping["merged"])

	_, err = m.ConnectionStorage().GetWorkspaceConnection(ctx, "broken")
	assert.Error(t, err)

	// Reloading keeps the existing credential head
	require.NoError(t, LoadConnectionsFromFiles(ctx, m.ConnectionStorage(), m.CredentialStorage(), dir, arbor.NewNoOpLogger()))
	wc2, err := m.ConnectionStorage().GetWorkspaceConnection(ctx, "acme-gitlab")
	require.NoError(t, err)
	assert.Equal(t, wc.CredentialID, wc2.CredentialID)
}

func TestLoadConnectionsFromFiles_MissingDir(t *testing.T) {
	m := newTestManager(t)
	err := LoadConnectionsFromFiles(context.Background(), m.ConnectionStorage(), m.CredentialStorage(), filepath.Join(t.TempDir(), "none"), arbor.NewNoOpLogger())
	assert.NoError(t, err)
}
