package app

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/tracksync/internal/behaviors"
	"github.com/ternarybob/tracksync/internal/common"
	githubconn "github.com/ternarybob/tracksync/internal/connectors/github"
	gitlabconn "github.com/ternarybob/tracksync/internal/connectors/gitlab"
	"github.com/ternarybob/tracksync/internal/handlers"
	"github.com/ternarybob/tracksync/internal/interfaces"
	"github.com/ternarybob/tracksync/internal/internalapi"
	"github.com/ternarybob/tracksync/internal/jobs"
	"github.com/ternarybob/tracksync/internal/models"
	"github.com/ternarybob/tracksync/internal/queue"
	"github.com/ternarybob/tracksync/internal/storage"
	"github.com/ternarybob/tracksync/internal/transform"
	"github.com/ternarybob/tracksync/internal/webhooks"
)

// App holds all application components and dependencies
type App struct {
	Config         *common.Config
	Logger         arbor.ILogger
	StorageManager *storage.Storage

	QueueManager interfaces.QueueManager
	Publisher    *queue.Publisher
	WorkerPool   *queue.WorkerPool

	TransformService *transform.Service
	Providers        map[models.IntegrationKey]interfaces.ProviderFactory
	InternalClients  interfaces.InternalClientFactory

	Pipelines       jobs.Pipelines
	BatchDispatcher *jobs.BatchDispatcher
	Importer        *jobs.Importer
	ResumeScheduler *jobs.ResumeScheduler
	JobService      *jobs.Service

	Behaviors      *behaviors.Registry
	WebhookRouter  *webhooks.Router
	WebhookHandler *handlers.WebhookHandler

	APIHandler *handlers.APIHandler
	JobHandler *handlers.JobHandler
}

// New initializes the application with all dependencies
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	if err := app.initDatabase(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := app.initQueue(); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to initialize queue: %w", err)
	}

	if err := app.initServices(); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	app.initHandlers()

	app.Logger.Info().
		Str("queue_backend", cfg.Queue.Backend).
		Bool("redis", cfg.Storage.Redis.Enabled).
		Int("batch_size", cfg.Jobs.BatchSize).
		Msg("Application initialization complete")

	return app, nil
}

// initDatabase opens storage and seeds connections from files
func (a *App) initDatabase() error {
	ctx := context.Background()

	storageManager, err := storage.NewStorageManager(ctx, a.Logger, a.Config)
	if err != nil {
		return fmt.Errorf("failed to create storage manager: %w", err)
	}
	a.StorageManager = storageManager

	a.Logger.Debug().
		Str("storage", "badger").
		Str("path", a.Config.Storage.Badger.Path).
		Msg("Storage layer initialized")

	if err := a.StorageManager.LoadConnectionsFromFiles(ctx, a.Config.Connections.Dir); err != nil {
		// Log warning but don't fail startup
		a.Logger.Warn().Err(err).Msg("Failed to load connections from files")
	}

	return nil
}

// initQueue creates the queue manager selected by [queue].backend
func (a *App) initQueue() error {
	cfg := queueConfig(a.Config.Queue)

	switch cfg.Backend {
	case "redis":
		manager, err := queue.NewRedisManager(a.StorageManager.Redis(), cfg, a.Logger)
		if err != nil {
			return err
		}
		a.QueueManager = manager
	default:
		manager, err := queue.NewBadgerManager(a.StorageManager.DB().Badger(), cfg, a.Logger)
		if err != nil {
			return err
		}
		a.QueueManager = manager
	}

	a.Publisher = queue.NewPublisher(a.QueueManager, a.Logger)
	a.WorkerPool = queue.NewWorkerPool(a.QueueManager, cfg, a.Logger)
	return nil
}

// initServices wires provider clients, the step pipelines and the webhook router
func (a *App) initServices() error {
	a.TransformService = transform.NewService(a.Logger)

	github := githubconn.NewFactory(a.Config.Providers.GitHub, a.Config.Jobs.PageSize, a.Logger)
	gitlab := gitlabconn.NewFactory(a.Config.Providers.GitLab, a.Config.Jobs.PageSize, a.Logger)
	a.Providers = map[models.IntegrationKey]interfaces.ProviderFactory{
		models.IntegrationGitHub:           github,
		models.IntegrationGitHubEnterprise: github,
		models.IntegrationGitLab:           gitlab,
		models.IntegrationGitLabEnterprise: gitlab,
	}
	a.InternalClients = internalapi.NewFactory(a.Config.InternalAPI, a.Logger)

	issueImport := jobs.NewIssueImport(a.TransformService, a.Config.Jobs.MaxPages)
	a.Pipelines = jobs.Pipelines{models.JobTypeIssueImport: issueImport.Pipeline()}
	for jobType, pipeline := range a.Pipelines {
		if err := pipeline.Validate(); err != nil {
			return fmt.Errorf("pipeline %s: %w", jobType, err)
		}
	}

	a.BatchDispatcher = jobs.NewBatchDispatcher(
		a.Publisher,
		a.StorageManager.BatchPlanStorage(),
		a.Config.Jobs.BatchSize,
		a.Logger,
	)
	a.Importer = jobs.NewImporter(
		a.StorageManager,
		a.Pipelines,
		jobs.NewSequencer(a.Publisher, a.Logger),
		a.BatchDispatcher,
		a.Providers,
		a.InternalClients,
		a.Logger,
	)
	a.JobService = jobs.NewService(a.StorageManager, a.Publisher, a.Pipelines, a.Config.Jobs.Route, a.Logger)

	if a.Config.Jobs.ResumeSchedule != "" {
		scheduler, err := jobs.NewResumeScheduler(
			a.BatchDispatcher,
			a.Config.Jobs.ResumeSchedule,
			common.ParseDuration(a.Config.Jobs.ResumeGrace, 2*time.Minute),
			a.Logger,
		)
		if err != nil {
			return err
		}
		a.ResumeScheduler = scheduler
	}

	a.Behaviors = behaviors.NewDefaultRegistry(a.TransformService, a.Logger)
	a.WebhookRouter = webhooks.NewRouter(a.StorageManager, a.Providers, a.InternalClients, a.Behaviors, a.Logger)

	a.WorkerPool.RegisterHandler(a.Config.Jobs.Route, a.Importer)
	a.WorkerPool.RegisterHandler(
		a.Config.Webhooks.Route,
		webhooks.NewTaskHandler(a.WebhookRouter, a.Config.Webhooks.RedeliverOnFailure, a.Logger),
	)

	return nil
}

// initHandlers creates the HTTP handlers
func (a *App) initHandlers() {
	a.APIHandler = handlers.NewAPIHandler(a.Logger)
	a.JobHandler = handlers.NewJobHandler(a.JobService, a.Logger)
	a.WebhookHandler = handlers.NewWebhookHandler(
		webhookSources(a.Config.Providers),
		a.Publisher,
		a.StorageManager.KeyValueStorage(),
		a.Config.Webhooks.Route,
		common.ParseDuration(a.Config.Webhooks.DedupInterval, 10*time.Minute),
		a.Config.Webhooks.MaxBodyBytes,
		a.Logger,
	)
}

// Start begins message processing. One resume sweep runs before the workers start.
func (a *App) Start() error {
	if a.ResumeScheduler != nil {
		a.ResumeScheduler.Start()
	} else if resumed, err := a.BatchDispatcher.ResumePlans(context.Background(), 0); err != nil {
		a.Logger.Warn().Err(err).Msg("Startup batch plan resume failed")
	} else if resumed > 0 {
		a.Logger.Info().Int("batches", resumed).Msg("Resumed undispatched batches")
	}

	return a.WorkerPool.Start()
}

// Close stops processing and releases storage
func (a *App) Close() error {
	if a.ResumeScheduler != nil {
		a.ResumeScheduler.Stop()
	}

	if a.WorkerPool != nil {
		if err := a.WorkerPool.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to stop worker pool")
		} else {
			a.Logger.Info().Msg("Worker pool stopped")
		}
	}

	if a.QueueManager != nil {
		if err := a.QueueManager.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close queue manager")
		}
	}

	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			return fmt.Errorf("failed to close storage: %w", err)
		}
		a.Logger.Info().Msg("Storage closed")
	}

	return nil
}

func queueConfig(cfg common.QueueConfig) queue.Config {
	defaults := queue.NewDefaultConfig()
	return queue.Config{
		Backend:           cfg.Backend,
		PollInterval:      common.ParseDuration(cfg.PollInterval, defaults.PollInterval),
		Concurrency:       cfg.Concurrency,
		VisibilityTimeout: common.ParseDuration(cfg.VisibilityTimeout, defaults.VisibilityTimeout),
		MaxReceive:        cfg.MaxReceive,
		QueueName:         cfg.QueueName,
	}
}

func webhookSources(cfg common.ProvidersConfig) []handlers.WebhookSource {
	return []handlers.WebhookSource{
		{Name: "github", Parse: githubconn.ParseWebhook, Secret: cfg.GitHub.WebhookSecret},
		{Name: "github-enterprise", Parse: githubconn.ParseWebhook, Secret: cfg.GitHub.WebhookSecret, Enterprise: true},
		{Name: "gitlab", Parse: gitlabconn.ParseWebhook, Secret: cfg.GitLab.WebhookSecret},
		{Name: "gitlab-enterprise", Parse: gitlabconn.ParseWebhook, Secret: cfg.GitLab.WebhookSecret, Enterprise: true},
	}
}

