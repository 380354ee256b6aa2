package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
)

// Config represents the application configuration
type Config struct {
	Environment string            `toml:"environment"` // "development" or "production"
	Server      ServerConfig      `toml:"server"`
	Queue       QueueConfig       `toml:"queue"`
	Storage     StorageConfig     `toml:"storage"`
	Logging     LoggingConfig     `toml:"logging"`
	Jobs        JobsConfig        `toml:"jobs"`
	Providers   ProvidersConfig   `toml:"providers"`
	InternalAPI InternalAPIConfig `toml:"internal_api"`
	Webhooks    WebhooksConfig    `toml:"webhooks"`
	Connections ConnectionsConfig `toml:"connections"` // Seed files for workspace/entity connections (./connections/*.toml)
}

type ServerConfig struct {
	Port int    `toml:"port" validate:"gte=1,lte=65535"`
	Host string `toml:"host"`
}

type QueueConfig struct {
	Backend           string `toml:"backend" validate:"oneof=badger redis"` // Queue manager implementation
	PollInterval      string `toml:"poll_interval" validate:"duration"`     // e.g., "1s" - how often workers poll for messages
	Concurrency       int    `toml:"concurrency" validate:"gte=1"`          // Number of concurrent workers
	VisibilityTimeout string `toml:"visibility_timeout" validate:"duration"` // e.g., "5m" - message visibility timeout for redelivery
	MaxReceive        int    `toml:"max_receive" validate:"gte=1"`          // Max times a message can be received before dead-letter
	QueueName         string `toml:"queue_name" validate:"required"`
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
	Redis  RedisConfig  `toml:"redis"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path" validate:"required"` // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"`         // Delete database on startup for clean test runs
}

// RedisConfig enables Redis for the queue and webhook delivery dedup
type RedisConfig struct {
	Enabled  bool   `toml:"enabled"`
	Addr     string `toml:"addr" validate:"required_if=Enabled true"`
	Username string `toml:"username"`
	Password string `toml:"password"`
	DB       int    `toml:"db" validate:"gte=0"`
	PoolSize int    `toml:"pool_size" validate:"gte=0"`
}

type LoggingConfig struct {
	Level      string   `toml:"level" validate:"oneof=trace debug info warn error"`
	Format     string   `toml:"format"` // "json" or "text"
	Output     []string `toml:"output"` // "stdout", "file"
	TimeFormat string   `toml:"time_format"`
	FileName   string   `toml:"file_name"`
}

// JobsConfig contains configuration for migration jobs
type JobsConfig struct {
	Route          string `toml:"route" validate:"required"`         // Queue route of the importer
	BatchSize      int    `toml:"batch_size" validate:"gte=1"`       // Entities per batch, fixed for a run
	PageSize       int    `toml:"page_size" validate:"gte=1,lte=100"` // Provider page size used by pull
	MaxPages       int    `toml:"max_pages" validate:"gte=0"`        // Upper bound of pages per pull, 0 = unbounded
	ResumeSchedule string `toml:"resume_schedule"`                   // Cron expression for re-publishing undispatched batches, empty = startup only
	ResumeGrace    string `toml:"resume_grace" validate:"duration"`  // Scheduled sweeps skip plans younger than this
}

type ProvidersConfig struct {
	GitHub GitHubConfig `toml:"github"`
	GitLab GitLabConfig `toml:"gitlab"`
}

type GitHubConfig struct {
	BaseURL           string  `toml:"base_url" validate:"omitempty,url"` // Enterprise API base, empty for github.com
	TokenURL          string  `toml:"token_url" validate:"omitempty,url"`
	ClientID          string  `toml:"client_id"`
	ClientSecret      string  `toml:"client_secret"`
	WebhookSecret     string  `toml:"webhook_secret"`
	RequestsPerSecond float64 `toml:"requests_per_second" validate:"gte=0"`
}

type GitLabConfig struct {
	BaseURL           string  `toml:"base_url" validate:"required,url"`
	ClientID          string  `toml:"client_id"`
	ClientSecret      string  `toml:"client_secret"`
	WebhookSecret     string  `toml:"webhook_secret"`
	RequestsPerSecond float64 `toml:"requests_per_second" validate:"gte=0"`
	Timeout           string  `toml:"timeout" validate:"duration"`
}

// InternalAPIConfig points at the internal tracker API
type InternalAPIConfig struct {
	BaseURL           string  `toml:"base_url" validate:"required,url"`
	Timeout           string  `toml:"timeout" validate:"duration"`
	RequestsPerSecond float64 `toml:"requests_per_second" validate:"gte=0"`
}

type WebhooksConfig struct {
	Route              string `toml:"route" validate:"required"`          // Queue route of webhook events
	DedupInterval      string `toml:"dedup_interval" validate:"duration"` // Window in which a redelivered webhook is dropped
	RedeliverOnFailure bool   `toml:"redeliver_on_failure"`               // Leave failed events in the queue instead of dropping them
	MaxBodyBytes       int64  `toml:"max_body_bytes" validate:"gte=1024"`
}

// ConnectionsConfig contains configuration for connection seed file loading
type ConnectionsConfig struct {
	Dir string `toml:"dir"`
}

// NewDefaultConfig creates a configuration with default values
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8080,
			Host: "localhost",
		},
		Queue: QueueConfig{
			Backend:           "badger",
			PollInterval:      "1s",
			Concurrency:       5,
			VisibilityTimeout: "5m",
			MaxReceive:        3,
			QueueName:         "tracksync_tasks",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data",
			},
			Redis: RedisConfig{
				Addr:     "localhost:6379",
				PoolSize: 10,
			},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     []string{"stdout", "file"},
			TimeFormat: "15:04:05.000",
			FileName:   "tracksync.log",
		},
		Jobs: JobsConfig{
			Route:          "importer",
			BatchSize:      50,
			PageSize:       100,
			MaxPages:       0,
			ResumeSchedule: "@every 5m",
			ResumeGrace:    "2m",
		},
		Providers: ProvidersConfig{
			GitHub: GitHubConfig{
				TokenURL:          "https://github.com/login/oauth/access_token",
				RequestsPerSecond: 10,
			},
			GitLab: GitLabConfig{
				BaseURL:           "https://gitlab.com",
				RequestsPerSecond: 10,
				Timeout:           "30s",
			},
		},
		InternalAPI: InternalAPIConfig{
			BaseURL:           "http://localhost:8000",
			Timeout:           "30s",
			RequestsPerSecond: 20,
		},
		Webhooks: WebhooksConfig{
			Route:              "webhooks",
			DedupInterval:      "10m",
			RedeliverOnFailure: false,
			MaxBodyBytes:       5 * 1024 * 1024,
		},
		Connections: ConnectionsConfig{
			Dir: "./connections",
		},
	}
}

// LoadFromFiles loads configuration from multiple files with priority: default -> file1 -> file2 -> ... -> env
// Later files override earlier files. {NAME} references in string values are expanded from the environment.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	if err := ExpandSecretsInStruct(config, os.LookupEnv, arbor.NewLogger()); err != nil {
		return nil, fmt.Errorf("failed to expand secret references: %w", err)
	}

	// Environment variables override all file values
	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies TRACKSYNC_* environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("TRACKSYNC_ENV"); env != "" {
		config.Environment = env
	}

	// Server
	if port := os.Getenv("TRACKSYNC_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("TRACKSYNC_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	// Queue
	if backend := os.Getenv("TRACKSYNC_QUEUE_BACKEND"); backend != "" {
		config.Queue.Backend = backend
	}
	if concurrency := os.Getenv("TRACKSYNC_QUEUE_CONCURRENCY"); concurrency != "" {
		if c, err := strconv.Atoi(concurrency); err == nil {
			config.Queue.Concurrency = c
		}
	}
	if visibilityTimeout := os.Getenv("TRACKSYNC_QUEUE_VISIBILITY_TIMEOUT"); visibilityTimeout != "" {
		config.Queue.VisibilityTimeout = visibilityTimeout
	}
	if maxReceive := os.Getenv("TRACKSYNC_QUEUE_MAX_RECEIVE"); maxReceive != "" {
		if mr, err := strconv.Atoi(maxReceive); err == nil {
			config.Queue.MaxReceive = mr
		}
	}

	// Storage
	if badgerPath := os.Getenv("TRACKSYNC_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}
	if addr := os.Getenv("TRACKSYNC_REDIS_ADDR"); addr != "" {
		config.Storage.Redis.Addr = addr
		config.Storage.Redis.Enabled = true
	}
	if password := os.Getenv("TRACKSYNC_REDIS_PASSWORD"); password != "" {
		config.Storage.Redis.Password = password
	}

	// Logging
	if level := os.Getenv("TRACKSYNC_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("TRACKSYNC_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}

	// Jobs
	if batchSize := os.Getenv("TRACKSYNC_JOBS_BATCH_SIZE"); batchSize != "" {
		if b, err := strconv.Atoi(batchSize); err == nil {
			config.Jobs.BatchSize = b
		}
	}

	// Providers
	if v := os.Getenv("TRACKSYNC_GITHUB_CLIENT_ID"); v != "" {
		config.Providers.GitHub.ClientID = v
	}
	if v := os.Getenv("TRACKSYNC_GITHUB_CLIENT_SECRET"); v != "" {
		config.Providers.GitHub.ClientSecret = v
	}
	if v := os.Getenv("TRACKSYNC_GITHUB_WEBHOOK_SECRET"); v != "" {
		config.Providers.GitHub.WebhookSecret = v
	}
	if v := os.Getenv("TRACKSYNC_GITLAB_BASE_URL"); v != "" {
		config.Providers.GitLab.BaseURL = v
	}
	if v := os.Getenv("TRACKSYNC_GITLAB_CLIENT_ID"); v != "" {
		config.Providers.GitLab.ClientID = v
	}
	if v := os.Getenv("TRACKSYNC_GITLAB_CLIENT_SECRET"); v != "" {
		config.Providers.GitLab.ClientSecret = v
	}
	if v := os.Getenv("TRACKSYNC_GITLAB_WEBHOOK_SECRET"); v != "" {
		config.Providers.GitLab.WebhookSecret = v
	}

	// Internal API
	if v := os.Getenv("TRACKSYNC_INTERNAL_API_URL"); v != "" {
		config.InternalAPI.BaseURL = v
	}

	// Webhooks
	if v := os.Getenv("TRACKSYNC_WEBHOOKS_REDELIVER_ON_FAILURE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			config.Webhooks.RedeliverOnFailure = b
		}
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// Validate checks field constraints and cross-field rules
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.RegisterValidation("duration", validateDuration); err != nil {
		return err
	}
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Queue.Backend == "redis" && !c.Storage.Redis.Enabled {
		return fmt.Errorf("invalid configuration: queue backend redis requires storage.redis.enabled")
	}
	if c.Jobs.ResumeSchedule != "" {
		if _, err := cron.ParseStandard(c.Jobs.ResumeSchedule); err != nil {
			return fmt.Errorf("invalid configuration: jobs.resume_schedule: %w", err)
		}
	}
	return nil
}

// validateDuration accepts empty values and anything time.ParseDuration understands
func validateDuration(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if value == "" {
		return true
	}
	_, err := time.ParseDuration(value)
	return err == nil
}

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}

// ParseDuration parses a config duration, falling back when empty or invalid
func ParseDuration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
