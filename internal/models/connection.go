package models

import "time"

// EntityConnectionType names what a project-level mapping is used for.
type EntityConnectionType string

const (
	EntityConnectionPRAutomation EntityConnectionType = "PROJECT_PR_AUTOMATION"
	EntityConnectionIssueSync    EntityConnectionType = "PROJECT_ISSUE_SYNC"
)

// AppConfig carries the OAuth app of a self-hosted provider installation.
type AppConfig struct {
	BaseURL      string `json:"base_url,omitempty" toml:"base_url"`
	ClientID     string `json:"client_id,omitempty" toml:"client_id"`
	ClientSecret string `json:"client_secret,omitempty" toml:"client_secret"`
}

// WorkspaceConnection links a workspace to a provider account or installation.
type WorkspaceConnection struct {
	ID             string         `json:"id" badgerhold:"key"`
	WorkspaceID    string         `json:"workspace_id" badgerhold:"index"`
	WorkspaceSlug  string         `json:"workspace_slug"`
	IntegrationKey IntegrationKey `json:"integration_key" badgerhold:"index"`
	ConnectionID   string         `json:"connection_id"`
	CredentialID   string         `json:"credential_id"`
	AppConfig      AppConfig      `json:"app_config"`
	CreatedAt      time.Time      `json:"created_at"`
}

// EntityConnectionConfig holds per-project behavior settings.
type EntityConnectionConfig struct {
	// StateMapping maps a provider event action (opened, merged, closed...) to an internal state name.
	StateMapping map[string]string `json:"state_mapping,omitempty" toml:"state_mapping"`
}

// EntityConnection maps a provider project/repository onto an internal project.
type EntityConnection struct {
	ID                    string                 `json:"id" badgerhold:"key"`
	WorkspaceConnectionID string                 `json:"workspace_connection_id" badgerhold:"index"`
	WorkspaceID           string                 `json:"workspace_id"`
	WorkspaceSlug         string                 `json:"workspace_slug"`
	IntegrationKey        IntegrationKey         `json:"integration_key" badgerhold:"index"`
	ProjectID             string                 `json:"project_id"`
	EntityID              string                 `json:"entity_id" badgerhold:"index"`
	EntitySlug            string                 `json:"entity_slug"`
	Type                  EntityConnectionType   `json:"type"`
	Config                EntityConnectionConfig `json:"config"`
	CreatedAt             time.Time              `json:"created_at"`
}
