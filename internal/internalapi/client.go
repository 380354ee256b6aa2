// Package internalapi is the client of the internal tracker REST API.
package internalapi

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/tracksync/internal/common"
	"github.com/ternarybob/tracksync/internal/interfaces"
	"github.com/ternarybob/tracksync/internal/models"
	"golang.org/x/time/rate"
)

const (
	// DefaultTimeout is the default HTTP timeout.
	DefaultTimeout = 30 * time.Second

	apiKeyHeader = "X-API-Key"
)

// APIError represents an error from the internal API.
type APIError struct {
	StatusCode int
	Message    string
	Endpoint   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("internal API error: %s (status %d, endpoint: %s)", e.Message, e.StatusCode, e.Endpoint)
}

// Client is bound to one workspace and its target access token.
type Client struct {
	rest          *resty.Client
	workspaceSlug string
	limiter       *rate.Limiter
	logger        arbor.ILogger
}

// NewFactory returns an InternalClientFactory. All clients it builds share one rate limiter.
func NewFactory(config common.InternalAPIConfig, logger arbor.ILogger) interfaces.InternalClientFactory {
	limiter := rate.NewLimiter(rate.Inf, 1)
	if config.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.RequestsPerSecond), int(config.RequestsPerSecond)+1)
	}
	timeout := common.ParseDuration(config.Timeout, DefaultTimeout)

	return func(workspaceSlug, accessToken string) interfaces.InternalClient {
		return NewClient(config.BaseURL, workspaceSlug, accessToken, timeout, limiter, logger)
	}
}

// NewClient creates a client for one workspace.
func NewClient(baseURL, workspaceSlug, accessToken string, timeout time.Duration, limiter *rate.Limiter, logger arbor.ILogger) *Client {
	rest := resty.New().
		SetBaseURL(baseURL+"/api/v1/workspaces/"+url.PathEscape(workspaceSlug)).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetHeader(apiKeyHeader, accessToken)

	return &Client{
		rest:          rest,
		workspaceSlug: workspaceSlug,
		limiter:       limiter,
		logger:        logger,
	}
}

// GetWorkItemByExternalID returns interfaces.ErrNotFound when no work item carries the external id.
func (c *Client) GetWorkItemByExternalID(ctx context.Context, projectID, externalID, source string) (*models.WorkItem, error) {
	var items []models.WorkItem
	path := fmt.Sprintf("/projects/%s/issues/", projectID)
	_, err := c.do(ctx, c.rest.R().
		SetResult(&items).
		SetQueryParams(map[string]string{"external_id": externalID, "external_source": source}),
		http.MethodGet, path)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("work item %s/%s: %w", source, externalID, interfaces.ErrNotFound)
	}
	return &items[0], nil
}

// GetWorkItemByIdentifier resolves a human readable key such as WEB-12.
func (c *Client) GetWorkItemByIdentifier(ctx context.Context, identifier string) (*models.WorkItem, error) {
	var item models.WorkItem
	if _, err := c.do(ctx, c.rest.R().SetResult(&item), http.MethodGet, "/issues/"+url.PathEscape(identifier)+"/"); err != nil {
		return nil, err
	}
	return &item, nil
}

func (c *Client) CreateWorkItem(ctx context.Context, projectID string, item *models.WorkItem) (*models.WorkItem, error) {
	var created models.WorkItem
	path := fmt.Sprintf("/projects/%s/issues/", projectID)
	if _, err := c.do(ctx, c.rest.R().SetBody(item).SetResult(&created), http.MethodPost, path); err != nil {
		return nil, err
	}
	return &created, nil
}

func (c *Client) UpdateWorkItem(ctx context.Context, projectID, itemID string, item *models.WorkItem) (*models.WorkItem, error) {
	var updated models.WorkItem
	path := fmt.Sprintf("/projects/%s/issues/%s/", projectID, itemID)
	if _, err := c.do(ctx, c.rest.R().SetBody(item).SetResult(&updated), http.MethodPatch, path); err != nil {
		return nil, err
	}
	return &updated, nil
}

func (c *Client) AddWorkItemLink(ctx context.Context, projectID, itemID string, link models.WorkItemLink) error {
	path := fmt.Sprintf("/projects/%s/issues/%s/links/", projectID, itemID)
	_, err := c.do(ctx, c.rest.R().SetBody(link), http.MethodPost, path)
	return err
}

// GetCommentByExternalID returns interfaces.ErrNotFound when the comment was never synced.
func (c *Client) GetCommentByExternalID(ctx context.Context, projectID, itemID, externalID, source string) (*models.WorkItemComment, error) {
	var comments []models.WorkItemComment
	path := fmt.Sprintf("/projects/%s/issues/%s/comments/", projectID, itemID)
	_, err := c.do(ctx, c.rest.R().
		SetResult(&comments).
		SetQueryParams(map[string]string{"external_id": externalID, "external_source": source}),
		http.MethodGet, path)
	if err != nil {
		return nil, err
	}
	if len(comments) == 0 {
		return nil, fmt.Errorf("comment %s/%s: %w", source, externalID, interfaces.ErrNotFound)
	}
	return &comments[0], nil
}

func (c *Client) CreateComment(ctx context.Context, projectID, itemID string, comment *models.WorkItemComment) (*models.WorkItemComment, error) {
	var created models.WorkItemComment
	path := fmt.Sprintf("/projects/%s/issues/%s/comments/", projectID, itemID)
	if _, err := c.do(ctx, c.rest.R().SetBody(comment).SetResult(&created), http.MethodPost, path); err != nil {
		return nil, err
	}
	return &created, nil
}

func (c *Client) UpdateComment(ctx context.Context, projectID, itemID, commentID string, comment *models.WorkItemComment) (*models.WorkItemComment, error) {
	var updated models.WorkItemComment
	path := fmt.Sprintf("/projects/%s/issues/%s/comments/%s/", projectID, itemID, commentID)
	if _, err := c.do(ctx, c.rest.R().SetBody(comment).SetResult(&updated), http.MethodPatch, path); err != nil {
		return nil, err
	}
	return &updated, nil
}

func (c *Client) do(ctx context.Context, req *resty.Request, method, path string) (*resty.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	c.logger.Debug().
		Str("workspace", c.workspaceSlug).
		Str("method", method).
		Str("path", path).
		Msg("Internal API request")

	resp, err := req.SetContext(ctx).Execute(method, path)
	if err != nil {
		return nil, fmt.Errorf("internal API request %s %s failed: %w", method, path, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, fmt.Errorf("%s %s: %w", method, path, interfaces.ErrNotFound)
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

// Ensure interface compliance
var _ interfaces.InternalClient = (*Client)(nil)
