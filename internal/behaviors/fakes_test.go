package behaviors

import (
	"context"
	"fmt"

	"github.com/ternarybob/tracksync/internal/interfaces"
	"github.com/ternarybob/tracksync/internal/models"
)

type fakeInternal struct {
	byIdentifier map[string]*models.WorkItem
	byExternalID map[string]*models.WorkItem
	comments     map[string]*models.WorkItemComment
	links        []models.WorkItemLink
	updates      []models.WorkItem
	created      []models.WorkItem
	calls        int
	err          error
}

func newFakeInternal() *fakeInternal {
	return &fakeInternal{
		byIdentifier: make(map[string]*models.WorkItem),
		byExternalID: make(map[string]*models.WorkItem),
		comments:     make(map[string]*models.WorkItemComment),
	}
}

func (f *fakeInternal) GetWorkItemByExternalID(ctx context.Context, projectID, externalID, source string) (*models.WorkItem, error) {
	f.calls++
	if item, ok := f.byExternalID[externalID]; ok {
		return item, nil
	}
	return nil, fmt.Errorf("%s: %w", externalID, interfaces.ErrNotFound)
}

func (f *fakeInternal) GetWorkItemByIdentifier(ctx context.Context, identifier string) (*models.WorkItem, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if item, ok := f.byIdentifier[identifier]; ok {
		return item, nil
	}
	return nil, fmt.Errorf("%s: %w", identifier, interfaces.ErrNotFound)
}

func (f *fakeInternal) CreateWorkItem(ctx context.Context, projectID string, item *models.WorkItem) (*models.WorkItem, error) {
	f.calls++
	created := *item
	created.ID = "wi-new"
	created.ProjectID = projectID
	f.created = append(f.created, created)
	f.byExternalID[item.ExternalID] = &created
	return &created, nil
}

func (f *fakeInternal) UpdateWorkItem(ctx context.Context, projectID, itemID string, item *models.WorkItem) (*models.WorkItem, error) {
	f.calls++
	updated := *item
	updated.ID = itemID
	f.updates = append(f.updates, updated)
	return &updated, nil
}

func (f *fakeInternal) AddWorkItemLink(ctx context.Context, projectID, itemID string, link models.WorkItemLink) error {
	f.calls++
	f.links = append(f.links, link)
	return nil
}

func (f *fakeInternal) GetCommentByExternalID(ctx context.Context, projectID, itemID, externalID, source string) (*models.WorkItemComment, error) {
	f.calls++
	if c, ok := f.comments[externalID]; ok {
		return c, nil
	}
	return nil, fmt.Errorf("%s: %w", externalID, interfaces.ErrNotFound)
}

func (f *fakeInternal) CreateComment(ctx context.Context, projectID, itemID string, comment *models.WorkItemComment) (*models.WorkItemComment, error) {
	f.calls++
	created := *comment
	created.ID = "c-new"
	f.comments[comment.ExternalID] = &created
	return &created, nil
}

func (f *fakeInternal) UpdateComment(ctx context.Context, projectID, itemID, commentID string, comment *models.WorkItemComment) (*models.WorkItemComment, error) {
	f.calls++
	updated := *comment
	updated.ID = commentID
	f.comments[comment.ExternalID] = &updated
	return &updated, nil
}

type fakeProvider struct {
	comments []string
}

func (p *fakeProvider) ListIssues(ctx context.Context, repo models.RepoRef, page int) ([]models.ProviderIssue, int, error) {
	return nil, 0, nil
}

func (p *fakeProvider) GetIssue(ctx context.Context, repo models.RepoRef, number int) (*models.ProviderIssue, error) {
	return nil, interfaces.ErrNotFound
}

func (p *fakeProvider) CommentOnMergeRequest(ctx context.Context, repo models.RepoRef, number int, body string) error {
	p.comments = append(p.comments, fmt.Sprintf("%s#%d: %s", repo.FullName(), number, body))
	return nil
}

func (p *fakeProvider) Provider() models.Provider { return models.ProviderGitHub }
