// Package config loads and validates ingestion configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/JakeFAU/jobs-ingest/internal/ingest"
)

// Backend names accepted by the queue, storage, db and breaker sections.
const (
	BackendMemory   = "memory"
	BackendPubSub   = "pubsub"
	BackendLocal    = "local"
	BackendGCS      = "gcs"
	BackendPostgres = "postgres"
	BackendStore    = "store"
	BackendRedis    = "redis"
)

// maxAckDeadline is the Pub/Sub ceiling for subscription ack deadlines.
const maxAckDeadline = 10 * time.Minute

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Storage   StorageConfig   `mapstructure:"storage"`
	DB        DBConfig        `mapstructure:"db"`
	Breaker   BreakerConfig   `mapstructure:"breaker"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Sources   SourcesConfig   `mapstructure:"sources"`
	Owners    []OwnerConfig   `mapstructure:"owners"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// TracingConfig configures the OpenTelemetry tracer provider.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// PipelineConfig sizes the worker pools and tunes the crawl stage.
type PipelineConfig struct {
	CoordinatorWorkers   int           `mapstructure:"coordinator_workers"`
	CrawlWorkers         int           `mapstructure:"crawl_workers"`
	ExtractWorkers       int           `mapstructure:"extract_workers"`
	FetchAttempts        int           `mapstructure:"fetch_attempts"`
	RetryDelay           time.Duration `mapstructure:"retry_delay"`
	BreakerThreshold     int           `mapstructure:"breaker_threshold"`
	RateLimitSleep       time.Duration `mapstructure:"rate_limit_sleep"`
	SimilarityThreshold  int           `mapstructure:"similarity_threshold"`
	QueueDepth           int           `mapstructure:"queue_depth"`
	MaxDeliveries        int           `mapstructure:"max_deliveries"`
	RedeliveryDelay      time.Duration `mapstructure:"redelivery_delay"`
	MaxConcurrentSources int           `mapstructure:"max_concurrent_sources"`
}

// RateLimitConfig paces requests per source.
type RateLimitConfig struct {
	DefaultRPS float64            `mapstructure:"default_rps"`
	Burst      int                `mapstructure:"burst"`
	PerSource  map[string]float64 `mapstructure:"per_source"`
}

// HTTPConfig configures the outbound HTTP client.
type HTTPConfig struct {
	ListTimeout  time.Duration `mapstructure:"list_timeout"`
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"`
	UserAgent    string        `mapstructure:"user_agent"`
	MaxBodyBytes int           `mapstructure:"max_body_bytes"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	MaxParallel int           `mapstructure:"max_parallel"`
	NavTimeout  time.Duration `mapstructure:"nav_timeout"`
}

// QueueConfig selects and configures the message transport.
type QueueConfig struct {
	Backend        string        `mapstructure:"backend"`
	ProjectID      string        `mapstructure:"project_id"`
	AckDeadline    time.Duration `mapstructure:"ack_deadline"`
	MaxOutstanding int           `mapstructure:"max_outstanding"`
	MinBackoff     time.Duration `mapstructure:"min_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
	CreateTopology bool          `mapstructure:"create_topology"`
	Runs           TopicConfig   `mapstructure:"runs"`
	Crawl          TopicConfig   `mapstructure:"crawl"`
	Extract        TopicConfig   `mapstructure:"extract"`
}

// TopicConfig names one Pub/Sub topic and its subscription.
type TopicConfig struct {
	Topic        string `mapstructure:"topic"`
	Subscription string `mapstructure:"subscription"`
}

// StorageConfig sets the raw content blob store.
type StorageConfig struct {
	Backend       string `mapstructure:"backend"`
	Bucket        string `mapstructure:"bucket"`
	Prefix        string `mapstructure:"prefix"`
	Dir           string `mapstructure:"dir"`
	ContentType   string `mapstructure:"content_type"`
	RetentionDays int    `mapstructure:"retention_days"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	Backend         string        `mapstructure:"backend"`
	DSN             string        `mapstructure:"dsn"`
	AltDSN          string        `mapstructure:"alt_dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// BreakerConfig chooses where breaker counters live.
type BreakerConfig struct {
	Backend  string        `mapstructure:"backend"`
	RedisURL string        `mapstructure:"redis_url"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// SchedulerConfig configures periodic runs.
type SchedulerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Spec    string `mapstructure:"spec"`
}

// SourcesConfig overrides adapter listing endpoints by source name.
type SourcesConfig struct {
	Endpoints map[string]string `mapstructure:"endpoints"`
}

// OwnerConfig lists static source settings for one owner.
type OwnerConfig struct {
	ID      string         `mapstructure:"id"`
	Sources []SourceConfig `mapstructure:"sources"`
}

// SourceConfig is one static source setting.
type SourceConfig struct {
	Source  string   `mapstructure:"source"`
	Include []string `mapstructure:"include"`
	Exclude []string `mapstructure:"exclude"`
	Enabled bool     `mapstructure:"enabled"`
}

// Load builds a Config from .env files, disk and environment.
func Load(path string) (Config, error) {
	// Missing .env files are fine.
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("INGEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "jobs-ingest")
	v.SetDefault("tracing.sample_ratio", 1.0)
	v.SetDefault("pipeline.coordinator_workers", 1)
	v.SetDefault("pipeline.crawl_workers", 4)
	v.SetDefault("pipeline.extract_workers", 4)
	v.SetDefault("pipeline.fetch_attempts", 3)
	v.SetDefault("pipeline.retry_delay", "1s")
	v.SetDefault("pipeline.breaker_threshold", 5)
	v.SetDefault("pipeline.rate_limit_sleep", "1s")
	v.SetDefault("pipeline.similarity_threshold", 3)
	v.SetDefault("pipeline.queue_depth", 256)
	v.SetDefault("pipeline.max_deliveries", 5)
	v.SetDefault("pipeline.redelivery_delay", "5s")
	v.SetDefault("pipeline.max_concurrent_sources", 4)
	v.SetDefault("rate_limit.default_rps", 0)
	v.SetDefault("rate_limit.burst", 1)
	v.SetDefault("http.list_timeout", "10s")
	v.SetDefault("http.fetch_timeout", "15s")
	v.SetDefault("http.max_body_bytes", 10*1024*1024)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout", "25s")
	v.SetDefault("queue.backend", BackendMemory)
	v.SetDefault("queue.ack_deadline", "120s")
	v.SetDefault("queue.max_outstanding", 10)
	v.SetDefault("queue.min_backoff", "10s")
	v.SetDefault("queue.max_backoff", "600s")
	v.SetDefault("queue.runs.topic", "ingest-runs")
	v.SetDefault("queue.runs.subscription", "ingest-runs-sub")
	v.SetDefault("queue.crawl.topic", "ingest-crawl")
	v.SetDefault("queue.crawl.subscription", "ingest-crawl-sub")
	v.SetDefault("queue.extract.topic", "ingest-extract")
	v.SetDefault("queue.extract.subscription", "ingest-extract-sub")
	v.SetDefault("storage.backend", BackendMemory)
	v.SetDefault("storage.prefix", "")
	v.SetDefault("storage.dir", "data/raw")
	v.SetDefault("storage.content_type", "text/html; charset=utf-8")
	v.SetDefault("storage.retention_days", 30)
	v.SetDefault("db.backend", BackendMemory)
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("db.max_conn_lifetime", "30m")
	v.SetDefault("breaker.backend", BackendStore)
	v.SetDefault("breaker.ttl", "24h")
	v.SetDefault("scheduler.enabled", false)
	v.SetDefault("scheduler.spec", "0 6 * * *")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if err := c.Pipeline.validate(); err != nil {
		return err
	}
	if c.HTTP.FetchTimeout <= 0 {
		return fmt.Errorf("http.fetch_timeout must be > 0")
	}
	if c.HTTP.ListTimeout <= 0 {
		return fmt.Errorf("http.list_timeout must be > 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if err := c.validateQueue(); err != nil {
		return err
	}
	if err := c.validateBackends(); err != nil {
		return err
	}
	if c.Scheduler.Enabled && c.Scheduler.Spec == "" {
		return fmt.Errorf("scheduler.spec must be set when the scheduler is enabled")
	}
	for _, owner := range c.Owners {
		if owner.ID == "" {
			return fmt.Errorf("owners: id is required")
		}
		for _, source := range owner.Sources {
			if !ingest.Source(source.Source).Valid() {
				return fmt.Errorf("owners.%s: unknown source %q", owner.ID, source.Source)
			}
		}
	}
	for name := range c.Sources.Endpoints {
		if !ingest.Source(name).Valid() {
			return fmt.Errorf("sources.endpoints: unknown source %q", name)
		}
	}
	return nil
}

func (p PipelineConfig) validate() error {
	switch {
	case p.CoordinatorWorkers <= 0:
		return fmt.Errorf("pipeline.coordinator_workers must be > 0")
	case p.CrawlWorkers <= 0:
		return fmt.Errorf("pipeline.crawl_workers must be > 0")
	case p.ExtractWorkers <= 0:
		return fmt.Errorf("pipeline.extract_workers must be > 0")
	case p.FetchAttempts <= 0:
		return fmt.Errorf("pipeline.fetch_attempts must be > 0")
	case p.RetryDelay < 0 || p.RateLimitSleep < 0:
		return fmt.Errorf("pipeline delays must be >= 0")
	case p.QueueDepth <= 0:
		return fmt.Errorf("pipeline.queue_depth must be > 0")
	}
	return nil
}

// CrawlBudget is the worst-case time one crawl message can stay in flight.
func (c Config) CrawlBudget() time.Duration {
	attempts := time.Duration(c.Pipeline.FetchAttempts)
	return attempts*(c.HTTP.FetchTimeout+c.Pipeline.RetryDelay) + c.Pipeline.RateLimitSleep
}

func (c Config) validateQueue() error {
	switch c.Queue.Backend {
	case BackendMemory:
		return nil
	case BackendPubSub:
	default:
		return fmt.Errorf("queue.backend %q is not supported", c.Queue.Backend)
	}
	if c.Queue.ProjectID == "" {
		return fmt.Errorf("queue.project_id is required for pubsub")
	}
	if c.Queue.AckDeadline > maxAckDeadline {
		return fmt.Errorf("queue.ack_deadline must be <= %s", maxAckDeadline)
	}
	if budget := c.CrawlBudget(); c.Queue.AckDeadline <= budget {
		return fmt.Errorf("queue.ack_deadline %s must exceed the worst-case crawl time %s", c.Queue.AckDeadline, budget)
	}
	for name, topic := range map[string]TopicConfig{"runs": c.Queue.Runs, "crawl": c.Queue.Crawl, "extract": c.Queue.Extract} {
		if topic.Topic == "" || topic.Subscription == "" {
			return fmt.Errorf("queue.%s topic and subscription are required", name)
		}
	}
	return nil
}

func (c Config) validateBackends() error {
	var errs []error
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendLocal:
		if c.Storage.Dir == "" {
			errs = append(errs, fmt.Errorf("storage.dir is required for local storage"))
		}
	case BackendGCS:
		if c.Storage.Bucket == "" {
			errs = append(errs, fmt.Errorf("storage.bucket is required for gcs"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.backend %q is not supported", c.Storage.Backend))
	}
	switch c.DB.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.DB.DSN == "" {
			errs = append(errs, fmt.Errorf("db.dsn is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("db.backend %q is not supported", c.DB.Backend))
	}
	switch c.Breaker.Backend {
	case BackendStore:
	case BackendRedis:
		if c.Breaker.RedisURL == "" {
			errs = append(errs, fmt.Errorf("breaker.redis_url is required for redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("breaker.backend %q is not supported", c.Breaker.Backend))
	}
	return errors.Join(errs...)
}

// Settings flattens the static owner config into source settings.
func (c Config) Settings() []ingest.SourceSetting {
	var settings []ingest.SourceSetting
	for _, owner := range c.Owners {
		for _, source := range owner.Sources {
			settings = append(settings, ingest.SourceSetting{
				OwnerID: owner.ID,
				Source:  ingest.Source(source.Source),
				Filter:  ingest.TitleFilter{Include: source.Include, Exclude: source.Exclude},
				Enabled: source.Enabled,
			})
		}
	}
	return settings
}

// Endpoints returns the listing URL overrides keyed by source.
func (c Config) Endpoints() map[ingest.Source]string {
	if len(c.Sources.Endpoints) == 0 {
		return nil
	}
	endpoints := make(map[ingest.Source]string, len(c.Sources.Endpoints))
	for name, url := range c.Sources.Endpoints {
		endpoints[ingest.Source(name)] = url
	}
	return endpoints
}

// PerSourceRPS returns the rate limit overrides keyed by source.
func (c Config) PerSourceRPS() map[ingest.Source]float64 {
	if len(c.RateLimit.PerSource) == 0 {
		return nil
	}
	limits := make(map[ingest.Source]float64, len(c.RateLimit.PerSource))
	for name, rps := range c.RateLimit.PerSource {
		limits[ingest.Source(name)] = rps
	}
	return limits
}
