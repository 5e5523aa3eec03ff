// Package config loads the seagent service configuration and decodes the
// per-assistant configuration maps supplied through the control surface.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config is the complete service configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Store         StoreConfig         `koanf:"store"`
	Runtime       RuntimeConfig       `koanf:"runtime"`
	LLM           LLMConfig           `koanf:"llm"`
	Repository    RepositoryConfig    `koanf:"repository"`
	Index         IndexConfig         `koanf:"index"`
	Events        EventsConfig        `koanf:"events"`
	Temporal      TemporalConfig      `koanf:"temporal"`
	Webhook       WebhookConfig       `koanf:"webhook"`
	Logging       LoggingConfig       `koanf:"logging"`
	Observability ObservabilityConfig `koanf:"observability"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// StoreConfig selects the Summary Store and run repository backend.
type StoreConfig struct {
	// Driver is "sqlite" or "memory".
	Driver string `koanf:"driver"`
	Path   string `koanf:"path"`
}

// RuntimeConfig tunes run execution.
type RuntimeConfig struct {
	// RunTimeout bounds a single run. Zero means no bound.
	RunTimeout Duration `koanf:"run_timeout"`
	// StreamBuffer is the snapshot channel capacity for values-mode runs.
	StreamBuffer int `koanf:"stream_buffer"`
}

// LLMConfig configures providers and the resilience wrapper around them.
type LLMConfig struct {
	OpenAIAPIKey      Secret   `koanf:"openai_api_key"`
	OpenAIBaseURL     string   `koanf:"openai_base_url"`
	AnthropicAPIKey   Secret   `koanf:"anthropic_api_key"`
	OllamaURL         string   `koanf:"ollama_url"`
	Timeout           Duration `koanf:"timeout"`
	MaxRetries        int      `koanf:"max_retries"`
	BaseDelay         Duration `koanf:"base_delay"`
	MaxDelay          Duration `koanf:"max_delay"`
	RequestsPerSecond float64  `koanf:"requests_per_second"`
	Burst             int      `koanf:"burst"`
}

// RepositoryConfig configures repository access.
type RepositoryConfig struct {
	WorkDir      string   `koanf:"work_dir"`
	MaxFileSize  int64    `koanf:"max_file_size"`
	IgnoreFiles  []string `koanf:"ignore_files"`
	Exclude      []string `koanf:"exclude"`
	GitHubToken  Secret   `koanf:"github_token"`
	ScrubSecrets bool     `koanf:"scrub_secrets"`
}

// IndexConfig configures the semantic index over summaries.
type IndexConfig struct {
	Enabled        bool   `koanf:"enabled"`
	Path           string `koanf:"path"`
	EmbeddingModel string `koanf:"embedding_model"`
}

// EventsConfig configures run event publishing.
type EventsConfig struct {
	Enabled bool   `koanf:"enabled"`
	NATSURL string `koanf:"nats_url"`
}

// TemporalConfig configures the durable onboarding worker.
type TemporalConfig struct {
	Enabled   bool   `koanf:"enabled"`
	HostPort  string `koanf:"host_port"`
	Namespace string `koanf:"namespace"`
	TaskQueue string `koanf:"task_queue"`
}

// WebhookConfig configures the GitHub issue webhook served next to the HTTP
// API.
type WebhookConfig struct {
	Enabled bool   `koanf:"enabled"`
	Secret  Secret `koanf:"secret"`

	// Mention must appear in an issue's title or body, case-insensitively,
	// for the issue to be answered.
	Mention string `koanf:"mention"`

	// AssistantID is the resolve assistant issues are run against.
	AssistantID string        `koanf:"assistant_id"`
	Repos       []WebhookRepo `koanf:"repos"`
}

// WebhookRepo is an onboarded repository issues may be filed against. URL is
// what the run uses; it matches the event's repository by html or clone URL,
// or by github://owner/repo.
type WebhookRepo struct {
	URL       string `koanf:"url"`
	Branch    string `koanf:"branch"`
	SrcFolder string `koanf:"src_folder"`
}

// LoggingConfig is the service-level view of logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	OTEL   bool   `koanf:"otel"`
}

// ObservabilityConfig holds OpenTelemetry export settings.
type ObservabilityConfig struct {
	Enabled         bool     `koanf:"enabled"`
	Endpoint        string   `koanf:"endpoint"`
	Protocol        string   `koanf:"protocol"`
	Insecure        bool     `koanf:"insecure"`
	ServiceName     string   `koanf:"service_name"`
	SamplingRate    float64  `koanf:"sampling_rate"`
	MetricsInterval Duration `koanf:"metrics_interval"`
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8123
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}

	if cfg.Store.Driver == "" {
		cfg.Store.Driver = "sqlite"
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = "seagent.db"
	}

	if cfg.Runtime.StreamBuffer == 0 {
		cfg.Runtime.StreamBuffer = 16
	}

	if cfg.LLM.Timeout == 0 {
		cfg.LLM.Timeout = Duration(2 * time.Minute)
	}
	if cfg.LLM.MaxRetries == 0 {
		cfg.LLM.MaxRetries = 3
	}
	if cfg.LLM.BaseDelay == 0 {
		cfg.LLM.BaseDelay = Duration(2 * time.Second)
	}
	if cfg.LLM.MaxDelay == 0 {
		cfg.LLM.MaxDelay = Duration(60 * time.Second)
	}
	if cfg.LLM.RequestsPerSecond == 0 {
		cfg.LLM.RequestsPerSecond = 5
	}
	if cfg.LLM.Burst == 0 {
		cfg.LLM.Burst = 10
	}

	if cfg.Repository.MaxFileSize == 0 {
		cfg.Repository.MaxFileSize = 1 << 20
	}
	if len(cfg.Repository.IgnoreFiles) == 0 {
		cfg.Repository.IgnoreFiles = []string{".gitignore"}
	}

	if cfg.Index.Path == "" {
		cfg.Index.Path = "seagent-index"
	}
	if cfg.Index.EmbeddingModel == "" {
		cfg.Index.EmbeddingModel = "openai/text-embedding-3-small"
	}

	if cfg.Events.NATSURL == "" {
		cfg.Events.NATSURL = "nats://127.0.0.1:4222"
	}

	if cfg.Temporal.HostPort == "" {
		cfg.Temporal.HostPort = "localhost:7233"
	}
	if cfg.Temporal.Namespace == "" {
		cfg.Temporal.Namespace = "default"
	}
	if cfg.Temporal.TaskQueue == "" {
		cfg.Temporal.TaskQueue = "seagent-onboarding"
	}

	if cfg.Webhook.Mention == "" {
		cfg.Webhook.Mention = "seagent"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = "seagent"
	}
	if cfg.Observability.Protocol == "" {
		cfg.Observability.Protocol = "grpc"
	}
	if cfg.Observability.Endpoint == "" {
		cfg.Observability.Endpoint = "localhost:4317"
	}
	if cfg.Observability.SamplingRate == 0 {
		cfg.Observability.SamplingRate = 1.0
	}
	if cfg.Observability.MetricsInterval == 0 {
		cfg.Observability.MetricsInterval = Duration(15 * time.Second)
	}
}

// Validate checks the loaded configuration.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be in 1-65535, got %d", c.Server.Port))
	}
	switch c.Store.Driver {
	case "sqlite", "memory":
	default:
		errs = append(errs, fmt.Errorf("store.driver must be sqlite or memory, got %q", c.Store.Driver))
	}
	if c.LLM.MaxRetries < 0 {
		errs = append(errs, errors.New("llm.max_retries must be >= 0"))
	}
	if c.LLM.RequestsPerSecond < 0 {
		errs = append(errs, errors.New("llm.requests_per_second must be >= 0"))
	}
	if c.Observability.Protocol != "grpc" && c.Observability.Protocol != "http" {
		errs = append(errs, fmt.Errorf("observability.protocol must be grpc or http, got %q", c.Observability.Protocol))
	}
	if c.Observability.SamplingRate < 0 || c.Observability.SamplingRate > 1 {
		errs = append(errs, errors.New("observability.sampling_rate must be in [0,1]"))
	}
	if c.Webhook.Enabled {
		if !c.Webhook.Secret.IsSet() {
			errs = append(errs, errors.New("webhook.secret is required when the webhook is enabled"))
		}
		if c.Webhook.AssistantID == "" {
			errs = append(errs, errors.New("webhook.assistant_id is required when the webhook is enabled"))
		}
		for i, r := range c.Webhook.Repos {
			if r.URL == "" {
				errs = append(errs, fmt.Errorf("webhook.repos[%d].url is required", i))
			}
		}
	}
	return errors.Join(errs...)
}
