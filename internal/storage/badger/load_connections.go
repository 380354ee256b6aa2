package badger

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/tracksync/internal/common"
	"github.com/ternarybob/tracksync/internal/interfaces"
	"github.com/ternarybob/tracksync/internal/models"
)

// ConnectionFile is the TOML layout of a connection seed file.
// Token values may use {ENV_NAME} references.
//
//	[[workspace_connections]]
//	id = "acme-github"
//	workspace_id = "ws-1"
//	workspace_slug = "acme"
//	integration_key = "GITHUB"
//	connection_id = "4321"
//
//	[workspace_connections.credential]
//	user_id = "user-1"
//	source_access_token = "{GITHUB_TOKEN}"
//	target_access_token = "{TRACKER_TOKEN}"
//
//	[[workspace_connections.entities]]
//	id = "acme-web"
//	project_id = "proj-1"
//	entity_id = "98765"
//	entity_slug = "acme/web"
//	type = "PROJECT_PR_AUTOMATION"
type ConnectionFile struct {
	WorkspaceConnections []WorkspaceConnectionFile `toml:"workspace_connections"`
}

type WorkspaceConnectionFile struct {
	ID             string             `toml:"id"`
	WorkspaceID    string             `toml:"workspace_id"`
	WorkspaceSlug  string             `toml:"workspace_slug"`
	IntegrationKey string             `toml:"integration_key"`
	ConnectionID   string             `toml:"connection_id"`
	AppConfig      models.AppConfig   `toml:"app_config"`
	Credential     CredentialFile     `toml:"credential"`
	Entities       []EntityConnection `toml:"entities"`
}

type CredentialFile struct {
	UserID             string `toml:"user_id"`
	SourceAccessToken  string `toml:"source_access_token"`
	SourceRefreshToken string `toml:"source_refresh_token"`
	TargetAccessToken  string `toml:"target_access_token"`
	SourceHostname     string `toml:"source_hostname"`
}

type EntityConnection struct {
	ID           string            `toml:"id"`
	ProjectID    string            `toml:"project_id"`
	EntityID     string            `toml:"entity_id"`
	EntitySlug   string            `toml:"entity_slug"`
	Type         string            `toml:"type"`
	StateMapping map[string]string `toml:"state_mapping"`
}

var validIntegrationKeys = map[models.IntegrationKey]bool{
	models.IntegrationGitHub:           true,
	models.IntegrationGitHubEnterprise: true,
	models.IntegrationGitLab:           true,
	models.IntegrationGitLabEnterprise: true,
}

// LoadConnectionsFromFiles seeds workspace connections, their project mappings and
// initial credentials from TOML files in dirPath. An existing credential head is
// never replaced, so rotations made at runtime survive restarts.
func LoadConnectionsFromFiles(ctx context.Context, connStorage interfaces.ConnectionStorage, credStorage interfaces.CredentialStorage, dirPath string, logger arbor.ILogger) error {
	logger.Debug().Str("dir", dirPath).Msg("Loading connections from files")

	if _, err := os.Stat(dirPath); os.IsNotExist(err) {
		logger.Debug().Str("dir", dirPath).Msg("Connections directory does not exist, skipping")
		return nil
	}

	entries, err := os.ReadDir(dirPath)
	if err != nil {
		logger.Warn().Err(err).Str("dir", dirPath).Msg("Failed to read connections directory")
		return nil
	}

	loadedCount := 0
	skippedCount := 0
	errorCount := 0

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".toml") {
			continue
		}

		content, err := os.ReadFile(filepath.Join(dirPath, entry.Name()))
		if err != nil {
			logger.Warn().Err(err).Str("file", entry.Name()).Msg("Failed to read connection file")
			errorCount++
			continue
		}

		var file ConnectionFile
		if err := toml.Unmarshal(content, &file); err != nil {
			logger.Warn().Err(err).Str("file", entry.Name()).Msg("Failed to parse connection file")
			errorCount++
			continue
		}

		if err := common.ExpandSecretsInStruct(&file, os.LookupEnv, logger); err != nil {
			logger.Warn().Err(err).Str("file", entry.Name()).Msg("Failed to expand secret references")
			errorCount++
			continue
		}

		for _, wc := range file.WorkspaceConnections {
			key := models.IntegrationKey(strings.ToUpper(wc.IntegrationKey))
			if wc.ID == "" || wc.WorkspaceID == "" || !validIntegrationKeys[key] {
				logger.Warn().
					Str("file", entry.Name()).
					Str("connection", wc.ID).
					Str("integration_key", wc.IntegrationKey).
					Msg("Skipping connection: id, workspace_id and a known integration_key are required")
				skippedCount++
				continue
			}

			if err := seedConnection(ctx, connStorage, credStorage, wc, key, logger); err != nil {
				logger.Warn().Err(err).Str("connection", wc.ID).Msg("Failed to seed connection")
				errorCount++
				continue
			}
			loadedCount++
		}
	}

	logger.Info().
		Int("loaded", loadedCount).
		Int("skipped", skippedCount).
		Int("errors", errorCount).
		Msg("Finished loading connections from files")

	return nil
}

func seedConnection(ctx context.Context, connStorage interfaces.ConnectionStorage, credStorage interfaces.CredentialStorage, wc WorkspaceConnectionFile, key models.IntegrationKey, logger arbor.ILogger) error {
	credID := ""
	if wc.Credential.SourceAccessToken != "" {
		existing, err := credStorage.GetLatestCredential(ctx, key, wc.WorkspaceID, wc.Credential.UserID)
		switch {
		case err == nil:
			credID = existing.ID
		case errors.Is(err, interfaces.ErrNotFound):
			cred := &models.Credential{
				ID:                 common.NewCredentialID(),
				IntegrationKey:     key,
				WorkspaceID:        wc.WorkspaceID,
				UserID:             wc.Credential.UserID,
				SourceAccessToken:  wc.Credential.SourceAccessToken,
				SourceRefreshToken: wc.Credential.SourceRefreshToken,
				TargetAccessToken:  wc.Credential.TargetAccessToken,
				SourceHostname:     wc.Credential.SourceHostname,
				Sequence:           1,
			}
			if err := credStorage.CreateCredential(ctx, cred); err != nil {
				return err
			}
			credID = cred.ID
			logger.Debug().Str("connection", wc.ID).Str("credential_id", cred.ID).Msg("Seeded credential")
		default:
			return err
		}
	}

	if err := connStorage.SaveWorkspaceConnection(ctx, &models.WorkspaceConnection{
		ID:             wc.ID,
		WorkspaceID:    wc.WorkspaceID,
		WorkspaceSlug:  wc.WorkspaceSlug,
		IntegrationKey: key,
		ConnectionID:   wc.ConnectionID,
		CredentialID:   credID,
		AppConfig:      wc.AppConfig,
	}); err != nil {
		return err
	}

	for _, ec := range wc.Entities {
		connType := models.EntityConnectionType(ec.Type)
		if connType == "" {
			connType = models.EntityConnectionPRAutomation
		}
		if err := connStorage.SaveEntityConnection(ctx, &models.EntityConnection{
			ID:                    ec.ID,
			WorkspaceConnectionID: wc.ID,
			WorkspaceID:           wc.WorkspaceID,
			WorkspaceSlug:         wc.WorkspaceSlug,
			IntegrationKey:        key,
			ProjectID:             ec.ProjectID,
			EntityID:              ec.EntityID,
			EntitySlug:            ec.EntitySlug,
			Type:                  connType,
			Config:                models.EntityConnectionConfig{StateMapping: ec.StateMapping},
		}); err != nil {
			return err
		}
	}

	logger.Debug().
		Str("connection", wc.ID).
		Str("integration_key", string(key)).
		Int("entities", len(wc.Entities)).
		Msg("Loaded workspace connection")
	return nil
}
