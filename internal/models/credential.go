package models

import (
	"errors"
	"time"
)

// ErrStaleRotation is returned when a token rotation is older than the stored head.
var ErrStaleRotation = errors.New("credential rotation is older than the current credential")

// IntegrationKey names a provider integration.
type IntegrationKey string

const (
	IntegrationGitHub           IntegrationKey = "GITHUB"
	IntegrationGitHubEnterprise IntegrationKey = "GITHUB_ENTERPRISE"
	IntegrationGitLab           IntegrationKey = "GITLAB"
	IntegrationGitLabEnterprise IntegrationKey = "GITLAB_ENTERPRISE"
)

// Provider is the provider family of an integration key.
type Provider string

const (
	ProviderGitHub Provider = "github"
	ProviderGitLab Provider = "gitlab"
)

// Provider returns the provider family shared by the standard and enterprise keys.
func (k IntegrationKey) Provider() Provider {
	switch k {
	case IntegrationGitHub, IntegrationGitHubEnterprise:
		return ProviderGitHub
	case IntegrationGitLab, IntegrationGitLabEnterprise:
		return ProviderGitLab
	}
	return ""
}

// IsEnterprise reports whether the key is the self-hosted variant.
func (k IntegrationKey) IsEnterprise() bool {
	return k == IntegrationGitHubEnterprise || k == IntegrationGitLabEnterprise
}

// IntegrationKeyFor selects the integration key for a provider and deployment variant.
func IntegrationKeyFor(provider Provider, enterprise bool) IntegrationKey {
	switch provider {
	case ProviderGitHub:
		if enterprise {
			return IntegrationGitHubEnterprise
		}
		return IntegrationGitHub
	case ProviderGitLab:
		if enterprise {
			return IntegrationGitLabEnterprise
		}
		return IntegrationGitLab
	}
	return ""
}

// Credential is an immutable provider/workspace/user scoped token record.
// Rotation writes a new record with a higher Sequence.
type Credential struct {
	ID                 string         `json:"id" badgerhold:"key"`
	IntegrationKey     IntegrationKey `json:"integration_key" badgerhold:"index"`
	WorkspaceID        string         `json:"workspace_id" badgerhold:"index"`
	UserID             string         `json:"user_id"`
	SourceAccessToken  string         `json:"source_access_token"`
	SourceRefreshToken string         `json:"source_refresh_token"`
	TargetAccessToken  string         `json:"target_access_token"`
	SourceHostname     string         `json:"source_hostname,omitempty"`
	Sequence           int64          `json:"sequence"`
	CreatedAt          time.Time      `json:"created_at"`
}

// HeadKey is the (provider, workspace, user) identity the credential belongs to.
func (c *Credential) HeadKey() string {
	return CredentialHeadKey(c.IntegrationKey, c.WorkspaceID, c.UserID)
}

// CredentialHeadKey builds the lookup key of the most recent credential.
func CredentialHeadKey(key IntegrationKey, workspaceID, userID string) string {
	return string(key) + ":" + workspaceID + ":" + userID
}

// CredentialHead points at the most recent credential of a (provider, workspace, user).
type CredentialHead struct {
	Key          string    `badgerhold:"key"`
	CredentialID string    `json:"credential_id"`
	Sequence     int64     `json:"sequence"`
	UpdatedAt    time.Time `json:"updated_at"`
}
