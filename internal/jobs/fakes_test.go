package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/tracksync/internal/interfaces"
	"github.com/ternarybob/tracksync/internal/models"
	badgerstore "github.com/ternarybob/tracksync/internal/storage/badger"
	"github.com/ternarybob/tracksync/internal/transform"
)

type sentMessage struct {
	Headers models.TaskHeaders
	Payload json.RawMessage
}

type fakeMQ struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (m *fakeMQ) SendMessage(ctx context.Context, headers models.TaskHeaders, payload json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentMessage{Headers: headers, Payload: payload})
	return nil
}

func (m *fakeMQ) pop() (sentMessage, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return sentMessage{}, false
	}
	msg := m.sent[0]
	m.sent = m.sent[1:]
	return msg, true
}

func (m *fakeMQ) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

type fakeProvider struct {
	issues   []models.ProviderIssue
	pageSize int
	calls    int
	err      error
}

func (p *fakeProvider) ListIssues(ctx context.Context, repo models.RepoRef, page int) ([]models.ProviderIssue, int, error) {
	p.calls++
	if p.err != nil {
		return nil, 0, p.err
	}
	start := (page - 1) * p.pageSize
	if start >= len(p.issues) {
		return nil, 0, nil
	}
	end := start + p.pageSize
	next := page + 1
	if end >= len(p.issues) {
		end = len(p.issues)
		next = 0
	}
	return p.issues[start:end], next, nil
}

func (p *fakeProvider) GetIssue(ctx context.Context, repo models.RepoRef, number int) (*models.ProviderIssue, error) {
	p.calls++
	return nil, interfaces.ErrNotFound
}

func (p *fakeProvider) CommentOnMergeRequest(ctx context.Context, repo models.RepoRef, number int, body string) error {
	p.calls++
	return nil
}

func (p *fakeProvider) Provider() models.Provider { return models.ProviderGitHub }

type fakeInternal struct {
	mu      sync.Mutex
	items   map[string]*models.WorkItem
	created int
	updated int
	err     error
}

func newFakeInternal() *fakeInternal {
	return &fakeInternal{items: make(map[string]*models.WorkItem)}
}

func (f *fakeInternal) GetWorkItemByExternalID(ctx context.Context, projectID, externalID, source string) (*models.WorkItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	item, ok := f.items[externalID]
	if !ok {
		return nil, fmt.Errorf("work item %s: %w", externalID, interfaces.ErrNotFound)
	}
	return item, nil
}

func (f *fakeInternal) GetWorkItemByIdentifier(ctx context.Context, identifier string) (*models.WorkItem, error) {
	return nil, interfaces.ErrNotFound
}

func (f *fakeInternal) CreateWorkItem(ctx context.Context, projectID string, item *models.WorkItem) (*models.WorkItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	created := *item
	created.ID = fmt.Sprintf("wi-%d", len(f.items)+1)
	f.items[item.ExternalID] = &created
	f.created++
	return &created, nil
}

func (f *fakeInternal) UpdateWorkItem(ctx context.Context, projectID, itemID string, item *models.WorkItem) (*models.WorkItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updated++
	return item, nil
}

func (f *fakeInternal) AddWorkItemLink(ctx context.Context, projectID, itemID string, link models.WorkItemLink) error {
	return nil
}

func (f *fakeInternal) GetCommentByExternalID(ctx context.Context, projectID, itemID, externalID, source string) (*models.WorkItemComment, error) {
	return nil, interfaces.ErrNotFound
}

func (f *fakeInternal) CreateComment(ctx context.Context, projectID, itemID string, comment *models.WorkItemComment) (*models.WorkItemComment, error) {
	return comment, nil
}

func (f *fakeInternal) UpdateComment(ctx context.Context, projectID, itemID, commentID string, comment *models.WorkItemComment) (*models.WorkItemComment, error) {
	return comment, nil
}

type testEnv struct {
	store      *badgerstore.Manager
	mq         *fakeMQ
	provider   *fakeProvider
	internal   *fakeInternal
	dispatcher *BatchDispatcher
	importer   *Importer
	service    *Service
}

const testRoute = "importer"

func newTestEnv(t *testing.T, batchSize int) *testEnv {
	t.Helper()
	logger := arbor.NewNoOpLogger()

	db, err := badgerstore.NewInMemoryBadgerDB(logger)
	require.NoError(t, err)
	store := badgerstore.NewManagerWithDB(db, logger)
	t.Cleanup(func() { store.Close() })

	require.NoError(t, store.CredentialStorage().CreateCredential(context.Background(), &models.Credential{
		ID:                "cred_1",
		IntegrationKey:    models.IntegrationGitHub,
		WorkspaceID:       "ws1",
		UserID:            "u1",
		SourceAccessToken: "source-access",
		TargetAccessToken: "target-access",
		Sequence:          1,
	}))

	env := &testEnv{
		store:    store,
		mq:       &fakeMQ{},
		provider: &fakeProvider{pageSize: 100},
		internal: newFakeInternal(),
	}

	pipelines := Pipelines{models.JobTypeIssueImport: NewIssueImport(transform.NewService(logger), 0).Pipeline()}
	providers := map[models.IntegrationKey]interfaces.ProviderFactory{
		models.IntegrationGitHub: func(ctx context.Context, tokens interfaces.ProviderTokens, onRefresh interfaces.RefreshFunc, opts interfaces.ProviderOptions) (interfaces.ProviderClient, error) {
			return env.provider, nil
		},
	}
	internalFactory := func(workspaceSlug, accessToken string) interfaces.InternalClient {
		return env.internal
	}

	env.dispatcher = NewBatchDispatcher(env.mq, store.BatchPlanStorage(), batchSize, logger)
	env.importer = NewImporter(store, pipelines, NewSequencer(env.mq, logger), env.dispatcher, providers, internalFactory, logger)
	env.service = NewService(store, env.mq, pipelines, testRoute, logger)
	return env
}

func (e *testEnv) createJob(t *testing.T) *models.Job {
	t.Helper()
	job, err := e.service.CreateJob(context.Background(), CreateJobRequest{
		Provider:      models.ProviderGitHub,
		WorkspaceID:   "ws1",
		WorkspaceSlug: "acme",
		ProjectID:     "proj1",
		UserID:        "u1",
		Config:        models.ImportConfig{Owner: "acme", Repository: "widgets"},
	})
	require.NoError(t, err)
	return job
}

// handleNext delivers the oldest published message to the importer.
func (e *testEnv) handleNext(t *testing.T) (sentMessage, bool) {
	t.Helper()
	msg, ok := e.mq.pop()
	require.True(t, ok, "expected a queued message")
	return msg, e.importer.HandleTask(context.Background(), msg.Headers, msg.Payload)
}

func makeIssues(n int) []models.ProviderIssue {
	issues := make([]models.ProviderIssue, n)
	for i := range issues {
		issues[i] = models.ProviderIssue{
			ExternalID: fmt.Sprintf("%d", 1000+i),
			Number:     i + 1,
			Title:      fmt.Sprintf("Issue %d", i+1),
			State:      "open",
		}
	}
	return issues
}
