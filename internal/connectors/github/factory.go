package github

import (
	"context"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/tracksync/internal/common"
	"github.com/ternarybob/tracksync/internal/credentials"
	"github.com/ternarybob/tracksync/internal/interfaces"
	"golang.org/x/oauth2"
)

// NewFactory returns the provider factory for github and github-enterprise connections.
// Installation specific ProviderOptions override the configured defaults.
func NewFactory(config common.GitHubConfig, pageSize int, logger arbor.ILogger) interfaces.ProviderFactory {
	return func(ctx context.Context, tokens interfaces.ProviderTokens, onRefresh interfaces.RefreshFunc, opts interfaces.ProviderOptions) (interfaces.ProviderClient, error) {
		clientID, clientSecret := config.ClientID, config.ClientSecret
		if opts.ClientID != "" {
			clientID, clientSecret = opts.ClientID, opts.ClientSecret
		}

		var oauthConfig *oauth2.Config
		if clientID != "" && config.TokenURL != "" {
			oauthConfig = &oauth2.Config{
				ClientID:     clientID,
				ClientSecret: clientSecret,
				Endpoint: oauth2.Endpoint{
					TokenURL:  config.TokenURL,
					AuthStyle: oauth2.AuthStyleInParams,
				},
			}
		}

		source := credentials.NewNotifyingTokenSource(tokens, oauthConfig, onRefresh, logger)

		baseURL := config.BaseURL
		if opts.BaseURL != "" {
			baseURL = opts.BaseURL
		}

		return NewConnector(
			credentials.NewHTTPClient(source, nil),
			logger,
			WithEnterpriseURL(baseURL),
			WithRateLimit(config.RequestsPerSecond),
			WithPageSize(pageSize),
		)
	}
}
