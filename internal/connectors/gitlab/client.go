// Package gitlab provides a GitLab REST v4 provider client and webhook parser.
package gitlab

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/tracksync/internal/interfaces"
	"github.com/ternarybob/tracksync/internal/models"
	"golang.org/x/time/rate"
)

const (
	// DefaultBaseURL is gitlab.com
	DefaultBaseURL = "https://gitlab.com"

	// DefaultTimeout is the default HTTP timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultRateLimit is the default rate limit (requests per second).
	DefaultRateLimit = 10

	// DefaultPageSize is the issues page size used by ListIssues
	DefaultPageSize = 100
)

// Client is a GitLab API client.
type Client struct {
	baseURL  string
	rest     *resty.Client
	limiter  *rate.Limiter
	pageSize int
	logger   arbor.ILogger
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithBaseURL sets the instance URL, without the /api/v4 suffix.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		if baseURL != "" {
			c.baseURL = baseURL
		}
	}
}

// WithTimeout sets the HTTP timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		if timeout > 0 {
			c.rest.SetTimeout(timeout)
		}
	}
}

// WithRateLimit sets a custom rate limit, 0 disables it.
func WithRateLimit(requestsPerSecond float64) ClientOption {
	return func(c *Client) {
		if requestsPerSecond <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), int(requestsPerSecond)+1)
	}
}

// WithPageSize sets the page size of ListIssues.
func WithPageSize(size int) ClientOption {
	return func(c *Client) {
		if size > 0 && size <= 100 {
			c.pageSize = size
		}
	}
}

// NewClient creates a GitLab client over an authenticating HTTP client.
func NewClient(httpClient *http.Client, logger arbor.ILogger, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:  DefaultBaseURL,
		rest:     resty.NewWithClient(httpClient).SetTimeout(DefaultTimeout),
		limiter:  rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
		pageSize: DefaultPageSize,
		logger:   logger,
	}

	for _, opt := range opts {
		opt(c)
	}

	c.rest.SetBaseURL(c.baseURL+"/api/v4").
		SetHeader("Accept", "application/json")

	return c
}

// APIError represents an error from the GitLab API.
type APIError struct {
	StatusCode int
	Message    string
	Endpoint   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gitlab API error: %s (status %d, endpoint: %s)", e.Message, e.StatusCode, e.Endpoint)
}

type apiUser struct {
	Username string `json:"username"`
}

type apiIssue struct {
	ID          int64     `json:"id"`
	IID         int       `json:"iid"`
	ProjectID   int64     `json:"project_id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	State       string    `json:"state"`
	Labels      []string  `json:"labels"`
	WebURL      string    `json:"web_url"`
	Author      apiUser   `json:"author"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (i apiIssue) toProviderIssue() models.ProviderIssue {
	return models.ProviderIssue{
		ExternalID: models.IssueExternalID(strconv.FormatInt(i.ProjectID, 10), i.IID),
		Number:     i.IID,
		Title:      i.Title,
		Body:       i.Description,
		State:      i.State,
		Labels:     i.Labels,
		URL:        i.WebURL,
		Author:     i.Author.Username,
		CreatedAt:  i.CreatedAt,
		UpdatedAt:  i.UpdatedAt,
	}
}

// Provider returns the provider family
func (c *Client) Provider() models.Provider {
	return models.ProviderGitLab
}

// ListIssues returns one page of project issues, oldest first.
func (c *Client) ListIssues(ctx context.Context, repo models.RepoRef, page int) ([]models.ProviderIssue, int, error) {
	if page < 1 {
		page = 1
	}

	var issues []apiIssue
	resp, err := c.do(ctx, c.rest.R().
		SetResult(&issues).
		SetQueryParams(map[string]string{
			"scope":    "all",
			"order_by": "created_at",
			"sort":     "asc",
			"page":     strconv.Itoa(page),
			"per_page": strconv.Itoa(c.pageSize),
		}), http.MethodGet, projectPath(repo)+"/issues")
	if err != nil {
		return nil, 0, err
	}

	next := 0
	if v := resp.Header().Get("X-Next-Page"); v != "" {
		next, _ = strconv.Atoi(v)
	}

	result := make([]models.ProviderIssue, 0, len(issues))
	for _, issue := range issues {
		result = append(result, issue.toProviderIssue())
	}

	c.logger.Debug().
		Str("project", projectID(repo)).
		Int("page", page).
		Int("issues", len(result)).
		Int("next_page", next).
		Msg("Listed GitLab issues")

	return result, next, nil
}

// GetIssue fetches a single issue by iid
func (c *Client) GetIssue(ctx context.Context, repo models.RepoRef, number int) (*models.ProviderIssue, error) {
	var issue apiIssue
	if _, err := c.do(ctx, c.rest.R().SetResult(&issue), http.MethodGet,
		fmt.Sprintf("%s/issues/%d", projectPath(repo), number)); err != nil {
		return nil, err
	}
	converted := issue.toProviderIssue()
	return &converted, nil
}

// CommentOnMergeRequest posts a note on a merge request
func (c *Client) CommentOnMergeRequest(ctx context.Context, repo models.RepoRef, number int, body string) error {
	_, err := c.do(ctx, c.rest.R().SetBody(map[string]string{"body": body}), http.MethodPost,
		fmt.Sprintf("%s/merge_requests/%d/notes", projectPath(repo), number))
	return err
}

func (c *Client) do(ctx context.Context, req *resty.Request, method, path string) (*resty.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	resp, err := req.SetContext(ctx).Execute(method, path)
	if err != nil {
		return nil, fmt.Errorf("gitlab request %s %s failed: %w", method, path, err)
	}
	if resp.IsError() {
		return nil, &APIError{
			StatusCode: resp.StatusCode(),
			Message:    resp.String(),
			Endpoint:   path,
		}
	}
	return resp, nil
}

// projectID is the numeric id when known, else the url-encoded namespace path.
func projectID(repo models.RepoRef) string {
	if repo.ID != "" {
		return repo.ID
	}
	return url.PathEscape(repo.FullName())
}

func projectPath(repo models.RepoRef) string {
	return "/projects/" + projectID(repo)
}

// Ensure interface compliance
var _ interfaces.ProviderClient = (*Client)(nil)
