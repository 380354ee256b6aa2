package github

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/google/go-github/v57/github"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/tracksync/internal/interfaces"
	"github.com/ternarybob/tracksync/internal/models"
	"golang.org/x/time/rate"
)

// DefaultPageSize is the issues page size used by ListIssues
const DefaultPageSize = 100

// Connector implements interfaces.ProviderClient on the GitHub REST API
type Connector struct {
	client   *github.Client
	limiter  *rate.Limiter
	pageSize int
	logger   arbor.ILogger
}

// ConnectorOption configures the Connector
type ConnectorOption func(*Connector) error

// WithEnterpriseURL points the client at a GitHub Enterprise Server API
func WithEnterpriseURL(baseURL string) ConnectorOption {
	return func(c *Connector) error {
		if baseURL == "" {
			return nil
		}
		client, err := c.client.WithEnterpriseURLs(baseURL, baseURL)
		if err != nil {
			return fmt.Errorf("invalid enterprise url %q: %w", baseURL, err)
		}
		c.client = client
		return nil
	}
}

// WithRateLimit caps outbound requests per second, 0 disables the limit
func WithRateLimit(requestsPerSecond float64) ConnectorOption {
	return func(c *Connector) error {
		if requestsPerSecond <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
			return nil
		}
		c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), int(requestsPerSecond)+1)
		return nil
	}
}

// WithPageSize sets the page size of ListIssues
func WithPageSize(size int) ConnectorOption {
	return func(c *Connector) error {
		if size > 0 && size <= 100 {
			c.pageSize = size
		}
		return nil
	}
}

// NewConnector creates a GitHub connector over an authenticating HTTP client
func NewConnector(httpClient *http.Client, logger arbor.ILogger, opts ...ConnectorOption) (*Connector, error) {
	c := &Connector{
		client:   github.NewClient(httpClient),
		limiter:  rate.NewLimiter(rate.Limit(10), 10),
		pageSize: DefaultPageSize,
		logger:   logger,
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Provider returns the provider family
func (c *Connector) Provider() models.Provider {
	return models.ProviderGitHub
}

// ListIssues returns one page of issues. Pull requests, which the issues
// endpoint also returns, are filtered out.
func (c *Connector) ListIssues(ctx context.Context, repo models.RepoRef, page int) ([]models.ProviderIssue, int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, 0, fmt.Errorf("rate limit wait: %w", err)
	}
	if page < 1 {
		page = 1
	}

	opts := &github.IssueListByRepoOptions{
		State:       "all",
		Sort:        "created",
		Direction:   "asc",
		ListOptions: github.ListOptions{Page: page, PerPage: c.pageSize},
	}
	issues, resp, err := c.client.Issues.ListByRepo(ctx, repo.Owner, repo.Name, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list issues for %s: %w", repo.FullName(), err)
	}

	result := make([]models.ProviderIssue, 0, len(issues))
	for _, issue := range issues {
		if issue.IsPullRequest() {
			continue
		}
		result = append(result, convertIssue(issue))
	}

	c.logger.Debug().
		Str("repo", repo.FullName()).
		Int("page", page).
		Int("issues", len(result)).
		Int("next_page", resp.NextPage).
		Msg("Listed GitHub issues")

	return result, resp.NextPage, nil
}

// GetIssue fetches a single issue by number
func (c *Connector) GetIssue(ctx context.Context, repo models.RepoRef, number int) (*models.ProviderIssue, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}
	issue, _, err := c.client.Issues.Get(ctx, repo.Owner, repo.Name, number)
	if err != nil {
		return nil, fmt.Errorf("failed to get issue %s#%d: %w", repo.FullName(), number, err)
	}
	converted := convertIssue(issue)
	return &converted, nil
}

// CommentOnMergeRequest posts a comment on a pull request conversation
func (c *Connector) CommentOnMergeRequest(ctx context.Context, repo models.RepoRef, number int, body string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	_, _, err := c.client.Issues.CreateComment(ctx, repo.Owner, repo.Name, number, &github.IssueComment{Body: github.String(body)})
	if err != nil {
		return fmt.Errorf("failed to comment on %s#%d: %w", repo.FullName(), number, err)
	}
	return nil
}

func convertIssue(issue *github.Issue) models.ProviderIssue {
	labels := make([]string, 0, len(issue.Labels))
	for _, l := range issue.Labels {
		labels = append(labels, l.GetName())
	}
	return models.ProviderIssue{
		ExternalID: strconv.FormatInt(issue.GetID(), 10),
		Number:     issue.GetNumber(),
		Title:      issue.GetTitle(),
		Body:       issue.GetBody(),
		State:      issue.GetState(),
		Labels:     labels,
		URL:        issue.GetHTMLURL(),
		Author:     issue.GetUser().GetLogin(),
		CreatedAt:  issue.GetCreatedAt().Time,
		UpdatedAt:  issue.GetUpdatedAt().Time,
	}
}

// Ensure interface compliance
var _ interfaces.ProviderClient = (*Connector)(nil)
