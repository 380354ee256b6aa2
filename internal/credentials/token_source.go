package credentials

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/tracksync/internal/interfaces"
	"golang.org/x/oauth2"
)

// ErrCannotRefresh is returned when a 401 arrives and no refresh token or OAuth app is configured
var ErrCannotRefresh = errors.New("credential cannot be refreshed")

// NotifyingTokenSource holds the current provider token and refreshes it on demand
// through the OAuth refresh_token grant. Each successful refresh fires onRefresh.
type NotifyingTokenSource struct {
	mu        sync.Mutex
	token     *oauth2.Token
	config    *oauth2.Config
	onRefresh interfaces.RefreshFunc
	logger    arbor.ILogger
}

// NewNotifyingTokenSource creates a token source. A nil config disables refresh.
func NewNotifyingTokenSource(tokens interfaces.ProviderTokens, config *oauth2.Config, onRefresh interfaces.RefreshFunc, logger arbor.ILogger) *NotifyingTokenSource {
	return &NotifyingTokenSource{
		token: &oauth2.Token{
			AccessToken:  tokens.AccessToken,
			RefreshToken: tokens.RefreshToken,
			TokenType:    "Bearer",
		},
		config:    config,
		onRefresh: onRefresh,
		logger:    logger,
	}
}

// Token returns the current token without refreshing
func (s *NotifyingTokenSource) Token() (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := *s.token
	return &t, nil
}

// CanRefresh reports whether Refresh has what it needs
func (s *NotifyingTokenSource) CanRefresh() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config != nil && s.token.RefreshToken != ""
}

// Refresh exchanges the refresh token for a new pair. stale is the access token
// the caller saw rejected; if another request already rotated past it the
// current token is returned without a second exchange.
func (s *NotifyingTokenSource) Refresh(ctx context.Context, stale string) (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token.AccessToken != stale {
		t := *s.token
		return &t, nil
	}
	if s.config == nil || s.token.RefreshToken == "" {
		return nil, ErrCannotRefresh
	}

	// An empty access token forces the refresh grant
	fresh, err := s.config.TokenSource(ctx, &oauth2.Token{RefreshToken: s.token.RefreshToken}).Token()
	if err != nil {
		return nil, fmt.Errorf("failed to refresh token: %w", err)
	}
	if fresh.RefreshToken == "" {
		fresh.RefreshToken = s.token.RefreshToken
	}
	s.token = fresh

	s.logger.Debug().Msg("Provider token refreshed")

	if s.onRefresh != nil {
		if err := s.onRefresh(ctx, fresh.AccessToken, fresh.RefreshToken); err != nil {
			// The new token is valid regardless, keep using it
			s.logger.Error().Err(err).Msg("Refresh callback failed")
		}
	}

	t := *fresh
	return &t, nil
}
