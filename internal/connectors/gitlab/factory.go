package gitlab

import (
	"context"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/tracksync/internal/common"
	"github.com/ternarybob/tracksync/internal/credentials"
	"github.com/ternarybob/tracksync/internal/interfaces"
	"golang.org/x/oauth2"
)

// NewFactory returns the provider factory for gitlab and gitlab-enterprise connections.
func NewFactory(config common.GitLabConfig, pageSize int, logger arbor.ILogger) interfaces.ProviderFactory {
	timeout := common.ParseDuration(config.Timeout, DefaultTimeout)

	return func(ctx context.Context, tokens interfaces.ProviderTokens, onRefresh interfaces.RefreshFunc, opts interfaces.ProviderOptions) (interfaces.ProviderClient, error) {
		baseURL := strings.TrimSuffix(config.BaseURL, "/")
		if opts.BaseURL != "" {
			baseURL = strings.TrimSuffix(opts.BaseURL, "/")
		}
		clientID, clientSecret := config.ClientID, config.ClientSecret
		if opts.ClientID != "" {
			clientID, clientSecret = opts.ClientID, opts.ClientSecret
		}

		var oauthConfig *oauth2.Config
		if clientID != "" {
			oauthConfig = &oauth2.Config{
				ClientID:     clientID,
				ClientSecret: clientSecret,
				Endpoint: oauth2.Endpoint{
					TokenURL:  baseURL + "/oauth/token",
					AuthStyle: oauth2.AuthStyleInParams,
				},
			}
		}

		source := credentials.NewNotifyingTokenSource(tokens, oauthConfig, onRefresh, logger)

		return NewClient(
			credentials.NewHTTPClient(source, nil),
			logger,
			WithBaseURL(baseURL),
			WithTimeout(timeout),
			WithRateLimit(config.RequestsPerSecond),
			WithPageSize(pageSize),
		), nil
	}
}
