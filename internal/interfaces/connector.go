package interfaces

import (
	"context"

	"github.com/ternarybob/tracksync/internal/models"
)

// RefreshFunc is invoked with the rotated token pair whenever a provider client refreshes its credential.
type RefreshFunc func(ctx context.Context, accessToken, refreshToken string) error

// ProviderTokens is the source side token pair a provider client starts with.
type ProviderTokens struct {
	AccessToken  string
	RefreshToken string
}

// ProviderOptions carries the installation specific endpoints of a provider client.
type ProviderOptions struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
}

// ProviderClient is the provider API surface used by steps and behaviors.
type ProviderClient interface {
	// ListIssues returns one page of issues and the next page number, 0 when done.
	ListIssues(ctx context.Context, repo models.RepoRef, page int) ([]models.ProviderIssue, int, error)
	GetIssue(ctx context.Context, repo models.RepoRef, number int) (*models.ProviderIssue, error)
	CommentOnMergeRequest(ctx context.Context, repo models.RepoRef, number int, body string) error
	Provider() models.Provider
}

// ProviderFactory builds a provider client bound to a credential and its refresh callback.
type ProviderFactory func(ctx context.Context, tokens ProviderTokens, onRefresh RefreshFunc, opts ProviderOptions) (ProviderClient, error)
