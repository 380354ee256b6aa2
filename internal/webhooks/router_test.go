package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/tracksync/internal/behaviors"
	"github.com/ternarybob/tracksync/internal/interfaces"
	"github.com/ternarybob/tracksync/internal/models"
	badgerstore "github.com/ternarybob/tracksync/internal/storage/badger"
)

type recordingBehavior struct {
	deps   interfaces.BehaviorDeps
	events []models.NormalizedEvent
	err    error
}

func (b *recordingBehavior) HandleEvent(ctx context.Context, event models.NormalizedEvent) error {
	b.events = append(b.events, event)
	return b.err
}

type routerEnv struct {
	store         *badgerstore.Manager
	router        *Router
	behavior      *recordingBehavior
	providerCalls int
	internalCalls int
	gotOpts       interfaces.ProviderOptions
	gotTokens     interfaces.ProviderTokens
	gotTarget     string
}

func newRouterEnv(t *testing.T) *routerEnv {
	t.Helper()
	logger := arbor.NewNoOpLogger()
	db, err := badgerstore.NewInMemoryBadgerDB(logger)
	require.NoError(t, err)
	store := badgerstore.NewManagerWithDB(db, logger)
	t.Cleanup(func() { store.Close() })

	env := &routerEnv{store: store, behavior: &recordingBehavior{}}

	factory := func(ctx context.Context, tokens interfaces.ProviderTokens, onRefresh interfaces.RefreshFunc, opts interfaces.ProviderOptions) (interfaces.ProviderClient, error) {
		env.providerCalls++
		env.gotTokens = tokens
		env.gotOpts = opts
		return nil, nil
	}
	providers := map[models.IntegrationKey]interfaces.ProviderFactory{
		models.IntegrationGitHub:           factory,
		models.IntegrationGitHubEnterprise: factory,
		models.IntegrationGitLab:           factory,
	}
	internal := func(workspaceSlug, accessToken string) interfaces.InternalClient {
		env.internalCalls++
		env.gotTarget = accessToken
		return nil
	}

	registry := behaviors.NewRegistry()
	for _, c := range []models.EventCategory{models.EventMergeRequest, models.EventIssue} {
		registry.Register(c, func(deps interfaces.BehaviorDeps) interfaces.Behavior {
			env.behavior.deps = deps
			return env.behavior
		})
	}

	env.router = NewRouter(store, providers, internal, registry, logger)
	return env
}

func (e *routerEnv) seed(t *testing.T, key models.IntegrationKey) {
	t.Helper()
	ctx := context.Background()
	conns := e.store.ConnectionStorage()

	require.NoError(t, e.store.CredentialStorage().CreateCredential(ctx, &models.Credential{
		ID: "cred_1", IntegrationKey: key, WorkspaceID: "ws1", UserID: "u1",
		SourceAccessToken: "src-1", SourceRefreshToken: "ref-1", TargetAccessToken: "target", Sequence: 1,
	}))
	require.NoError(t, conns.SaveWorkspaceConnection(ctx, &models.WorkspaceConnection{
		ID: "wc_1", WorkspaceID: "ws1", WorkspaceSlug: "acme", IntegrationKey: key, CredentialID: "cred_1",
		AppConfig: models.AppConfig{BaseURL: "https://ghe.corp/api/v3", ClientID: "app"},
	}))
	require.NoError(t, conns.SaveEntityConnection(ctx, &models.EntityConnection{
		ID: "ec_pr", WorkspaceConnectionID: "wc_1", WorkspaceID: "ws1", IntegrationKey: key,
		ProjectID: "proj-web", EntityID: "42", Type: models.EntityConnectionPRAutomation,
	}))
	require.NoError(t, conns.SaveEntityConnection(ctx, &models.EntityConnection{
		ID: "ec_issues", WorkspaceConnectionID: "wc_1", WorkspaceID: "ws1", IntegrationKey: key,
		ProjectID: "proj-web", EntityID: "42", Type: models.EntityConnectionIssueSync,
	}))
}

func mrEvent(enterprise bool) *models.WebhookEvent {
	return &models.WebhookEvent{
		DeliveryID: "d-1",
		Provider:   models.ProviderGitHub,
		Enterprise: enterprise,
		Category:   models.EventMergeRequest,
		Action:     "opened",
		EntityID:   "42",
		Owner:      "acme",
		Repository: "widgets",
		Number:     12,
		ExternalID: "5001",
	}
}

func TestRouter_UnconfiguredProjectIsDroppedWithoutCalls(t *testing.T) {
	env := newRouterEnv(t)

	require.NoError(t, env.router.Route(context.Background(), mrEvent(false)))
	assert.Equal(t, 0, env.providerCalls)
	assert.Equal(t, 0, env.internalCalls)
	assert.Empty(t, env.behavior.events)
}

func TestRouter_EnterpriseSelectsIntegrationKey(t *testing.T) {
	env := newRouterEnv(t)
	env.seed(t, models.IntegrationGitHubEnterprise)

	// Same entity id on github.com is a different installation.
	require.NoError(t, env.router.Route(context.Background(), mrEvent(false)))
	assert.Equal(t, 0, env.providerCalls)

	require.NoError(t, env.router.Route(context.Background(), mrEvent(true)))
	assert.Equal(t, 1, env.providerCalls)
	assert.Equal(t, models.IntegrationGitHubEnterprise, env.behavior.deps.IntegrationKey)
	assert.Equal(t, "https://ghe.corp/api/v3", env.gotOpts.BaseURL)
}

func TestRouter_InvokesBehaviorWithResolvedConnection(t *testing.T) {
	env := newRouterEnv(t)
	env.seed(t, models.IntegrationGitHub)

	require.NoError(t, env.router.Route(context.Background(), mrEvent(false)))

	require.Len(t, env.behavior.events, 1)
	got := env.behavior.events[0]
	assert.Equal(t, "acme", got.Owner)
	assert.Equal(t, "widgets", got.Repository)
	assert.Equal(t, "5001", got.ExternalID)

	deps := env.behavior.deps
	assert.Equal(t, "ec_pr", deps.EntityConnection.ID)
	assert.Equal(t, "wc_1", deps.WorkspaceConnection.ID)
	assert.Len(t, deps.Projects, 2)
	assert.Equal(t, "src-1", env.gotTokens.AccessToken)
	assert.Equal(t, "ref-1", env.gotTokens.RefreshToken)
	assert.Equal(t, "target", env.gotTarget)
}

func TestRouter_UsesMostRecentCredential(t *testing.T) {
	env := newRouterEnv(t)
	env.seed(t, models.IntegrationGitHub)
	require.NoError(t, env.store.CredentialStorage().CreateCredential(context.Background(), &models.Credential{
		ID: "cred_2", IntegrationKey: models.IntegrationGitHub, WorkspaceID: "ws1", UserID: "u1",
		SourceAccessToken: "src-2", SourceRefreshToken: "ref-2", TargetAccessToken: "target", Sequence: 2,
	}))

	require.NoError(t, env.router.Route(context.Background(), mrEvent(false)))
	assert.Equal(t, "src-2", env.gotTokens.AccessToken)
}

func TestRouter_MissingCredentialIsDropped(t *testing.T) {
	env := newRouterEnv(t)
	ctx := context.Background()
	conns := env.store.ConnectionStorage()
	require.NoError(t, conns.SaveWorkspaceConnection(ctx, &models.WorkspaceConnection{ID: "wc_1", IntegrationKey: models.IntegrationGitHub, CredentialID: "cred_gone"}))
	require.NoError(t, conns.SaveEntityConnection(ctx, &models.EntityConnection{
		ID: "ec_pr", WorkspaceConnectionID: "wc_1", IntegrationKey: models.IntegrationGitHub, EntityID: "42", Type: models.EntityConnectionPRAutomation,
	}))

	require.NoError(t, env.router.Route(ctx, mrEvent(false)))
	assert.Equal(t, 0, env.providerCalls)
	assert.Equal(t, 0, env.internalCalls)
}

func TestRouter_BehaviorErrorIsReturned(t *testing.T) {
	env := newRouterEnv(t)
	env.seed(t, models.IntegrationGitHub)
	env.behavior.err = errors.New("internal api timeout")

	err := env.router.Route(context.Background(), mrEvent(false))
	assert.ErrorContains(t, err, "internal api timeout")
}

func TestRouter_CategoryWithoutBehaviorIsDropped(t *testing.T) {
	env := newRouterEnv(t)
	env.seed(t, models.IntegrationGitHub)
	event := mrEvent(false)
	event.Category = models.EventIssueComment

	require.NoError(t, env.router.Route(context.Background(), event))
	assert.Empty(t, env.behavior.events)
}

func TestTaskHandler(t *testing.T) {
	env := newRouterEnv(t)
	env.seed(t, models.IntegrationGitHub)
	headers := models.TaskHeaders{Route: "webhooks", Type: string(models.EventMergeRequest)}

	payload, err := json.Marshal(mrEvent(false))
	require.NoError(t, err)

	t.Run("success", func(t *testing.T) {
		h := NewTaskHandler(env.router, false, arbor.NewNoOpLogger())
		assert.True(t, h.HandleTask(context.Background(), headers, payload))
	})

	t.Run("behavior failure is acknowledged", func(t *testing.T) {
		env.behavior.err = errors.New("boom")
		defer func() { env.behavior.err = nil }()
		h := NewTaskHandler(env.router, false, arbor.NewNoOpLogger())
		assert.True(t, h.HandleTask(context.Background(), headers, payload))
	})

	t.Run("behavior failure redelivers when configured", func(t *testing.T) {
		env.behavior.err = errors.New("boom")
		defer func() { env.behavior.err = nil }()
		h := NewTaskHandler(env.router, true, arbor.NewNoOpLogger())
		assert.False(t, h.HandleTask(context.Background(), headers, payload))
	})

	t.Run("garbage payload is dropped", func(t *testing.T) {
		h := NewTaskHandler(env.router, true, arbor.NewNoOpLogger())
		assert.True(t, h.HandleTask(context.Background(), headers, json.RawMessage(`{not json`)))
		assert.True(t, h.HandleTask(context.Background(), headers, json.RawMessage(`{"provider":"github"}`)))
	})
}

func TestTaskHandler_UnconfiguredMergeRequestIsHandled(t *testing.T) {
	env := newRouterEnv(t)
	payload, err := json.Marshal(mrEvent(false))
	require.NoError(t, err)

	h := NewTaskHandler(env.router, false, arbor.NewNoOpLogger())
	assert.True(t, h.HandleTask(context.Background(), models.TaskHeaders{Route: "webhooks"}, payload))
	assert.Equal(t, 0, env.providerCalls)
	assert.Equal(t, 0, env.internalCalls)
}
