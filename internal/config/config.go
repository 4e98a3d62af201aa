// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix namespaces every environment override, e.g. NEWSREFRESHER_SERVER_PORT.
const EnvPrefix = "NEWSREFRESHER"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	News       NewsConfig       `mapstructure:"news"`
	Fetcher    FetcherConfig    `mapstructure:"fetcher"`
	Extraction ExtractionConfig `mapstructure:"extraction"`
	Headless   HeadlessConfig   `mapstructure:"headless"`
	Archive    ArchiveConfig    `mapstructure:"archive"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Publisher  PublisherConfig  `mapstructure:"publisher"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                   int      `mapstructure:"port"`
	RequestTimeoutSeconds  int      `mapstructure:"request_timeout_seconds"`
	RefreshTimeoutSeconds  int      `mapstructure:"refresh_timeout_seconds"`
	ShutdownTimeoutSeconds int      `mapstructure:"shutdown_timeout_seconds"`
	CORSOrigins            []string `mapstructure:"cors_origins"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// NewsConfig locates the upstream news API. An empty APIURL is allowed at
// load time; refresh cycles then fail with a configuration error.
type NewsConfig struct {
	APIURL string `mapstructure:"api_url"`
}

// FetcherConfig governs article page downloads.
type FetcherConfig struct {
	UserAgent      string `mapstructure:"user_agent"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	RespectRobots  bool   `mapstructure:"respect_robots"`
	// RatePerHost caps page downloads per second against a single host.
	// Zero disables the limit.
	RatePerHost float64 `mapstructure:"rate_per_host"`
	Burst       int     `mapstructure:"burst"`
}

// ExtractionConfig tunes the extraction strategy chain.
type ExtractionConfig struct {
	RulesFile   string `mapstructure:"rules_file"`
	Readability bool   `mapstructure:"readability"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	MaxParallel     int  `mapstructure:"max_parallel"`
	NavTimeoutSec   int  `mapstructure:"nav_timeout_seconds"`
	PromotionThresh int  `mapstructure:"promotion_threshold"`
}

// ArchiveConfig selects where raw article pages are kept.
type ArchiveConfig struct {
	Backend   string `mapstructure:"backend"`
	Prefix    string `mapstructure:"prefix"`
	LocalDir  string `mapstructure:"local_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
}

// StorageConfig selects and configures the article datastore.
type StorageConfig struct {
	Backend  string         `mapstructure:"backend"`
	Migrate  bool           `mapstructure:"migrate"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Mongo    MongoConfig    `mapstructure:"mongo"`
}

// PostgresConfig controls the pgx pool.
type PostgresConfig struct {
	DSN                    string `mapstructure:"dsn"`
	Table                  string `mapstructure:"table"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MinConns               int32  `mapstructure:"min_conns"`
	MaxConnLifetimeMinutes int    `mapstructure:"max_conn_lifetime_minutes"`
}

// MongoConfig locates the posts collection.
type MongoConfig struct {
	URI        string `mapstructure:"uri"`
	Database   string `mapstructure:"database"`
	Collection string `mapstructure:"collection"`
}

// PublisherConfig selects where cycle events are sent.
type PublisherConfig struct {
	Backend string       `mapstructure:"backend"`
	Topic   string       `mapstructure:"topic"`
	PubSub  PubSubConfig `mapstructure:"pubsub"`
	NATS    NATSConfig   `mapstructure:"nats"`
	Kafka   KafkaConfig  `mapstructure:"kafka"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicID   string `mapstructure:"topic_id"`
}

// NATSConfig locates the NATS server.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

// KafkaConfig locates the Kafka cluster.
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// SchedulerConfig controls the twice-daily timer.
type SchedulerConfig struct {
	Enabled             bool `mapstructure:"enabled"`
	StartTimeoutSeconds int  `mapstructure:"start_timeout_seconds"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// TracingConfig controls the OpenTelemetry tracer provider.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

var (
	storageBackends   = []string{"postgres", "mongo", "memory"}
	archiveBackends   = []string{"none", "memory", "local", "gcs"}
	publisherBackends = []string{"none", "memory", "pubsub", "nats", "kafka"}
)

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := v.BindEnv("news.api_url", EnvPrefix+"_NEWS_API_URL", "NEWS_API_URL"); err != nil {
		return Config{}, fmt.Errorf("bind news api env: %w", err)
	}

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
	v.SetDefault("server.request_timeout_seconds", 30)
	v.SetDefault("server.refresh_timeout_seconds", 1800)
	v.SetDefault("server.shutdown_timeout_seconds", 15)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("fetcher.timeout_seconds", 10)
	v.SetDefault("fetcher.respect_robots", false)
	v.SetDefault("fetcher.rate_per_host", 2)
	v.SetDefault("fetcher.burst", 2)
	v.SetDefault("extraction.readability", false)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("headless.promotion_threshold", 2048)
	v.SetDefault("archive.backend", "none")
	v.SetDefault("archive.prefix", "pages")
	v.SetDefault("archive.local_dir", "data/pages")
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.migrate", true)
	v.SetDefault("storage.postgres.table", "articles")
	v.SetDefault("storage.postgres.max_conns", 10)
	v.SetDefault("storage.postgres.min_conns", 1)
	v.SetDefault("storage.postgres.max_conn_lifetime_minutes", 30)
	v.SetDefault("storage.mongo.database", "news")
	v.SetDefault("storage.mongo.collection", "posts")
	v.SetDefault("publisher.backend", "none")
	v.SetDefault("publisher.topic", "refresh.cycle")
	v.SetDefault("publisher.nats.subject_prefix", "newsrefresher")
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.start_timeout_seconds", 60)
	v.SetDefault("logging.development", true)
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.sample_ratio", 1.0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Server.RequestTimeoutSeconds <= 0 {
		return fmt.Errorf("server.request_timeout_seconds must be > 0")
	}
	if c.Server.RefreshTimeoutSeconds < c.Server.RequestTimeoutSeconds {
		return fmt.Errorf("server.refresh_timeout_seconds must be >= server.request_timeout_seconds")
	}
	if c.Scheduler.StartTimeoutSeconds > c.Server.RefreshTimeoutSeconds {
		return fmt.Errorf("scheduler.start_timeout_seconds must be <= server.refresh_timeout_seconds")
	}
	if c.Fetcher.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetcher.timeout_seconds must be > 0")
	}
	if c.Fetcher.RatePerHost < 0 {
		return fmt.Errorf("fetcher.rate_per_host must be >= 0")
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be within [0, 1]")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if err := c.validateStorage(); err != nil {
		return err
	}
	if err := c.validateArchive(); err != nil {
		return err
	}
	return c.validatePublisher()
}

func (c Config) validateStorage() error {
	if !slices.Contains(storageBackends, c.Storage.Backend) {
		return fmt.Errorf("storage.backend must be one of %v, got %q", storageBackends, c.Storage.Backend)
	}
	if c.Storage.Backend == "postgres" && c.Storage.Postgres.DSN == "" {
		return fmt.Errorf("storage.postgres.dsn must be set for the postgres backend")
	}
	if c.Storage.Backend == "mongo" && c.Storage.Mongo.URI == "" {
		return fmt.Errorf("storage.mongo.uri must be set for the mongo backend")
	}
	return nil
}

func (c Config) validateArchive() error {
	if !slices.Contains(archiveBackends, c.Archive.Backend) {
		return fmt.Errorf("archive.backend must be one of %v, got %q", archiveBackends, c.Archive.Backend)
	}
	if c.Archive.Backend == "local" && c.Archive.LocalDir == "" {
		return fmt.Errorf("archive.local_dir must be set for the local backend")
	}
	if c.Archive.Backend == "gcs" && c.Archive.GCSBucket == "" {
		return fmt.Errorf("archive.gcs_bucket must be set for the gcs backend")
	}
	return nil
}

func (c Config) validatePublisher() error {
	p := c.Publisher
	if !slices.Contains(publisherBackends, p.Backend) {
		return fmt.Errorf("publisher.backend must be one of %v, got %q", publisherBackends, p.Backend)
	}
	switch p.Backend {
	case "pubsub":
		if p.PubSub.ProjectID == "" || p.PubSub.TopicID == "" {
			return fmt.Errorf("publisher.pubsub.project_id and publisher.pubsub.topic_id must be set")
		}
	case "nats":
		if p.NATS.URL == "" {
			return fmt.Errorf("publisher.nats.url must be set")
		}
	case "kafka":
		if len(p.Kafka.Brokers) == 0 || p.Kafka.Topic == "" {
			return fmt.Errorf("publisher.kafka.brokers and publisher.kafka.topic must be set")
		}
	}
	return nil
}

// RequestTimeout bounds ordinary API requests.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}

// RefreshTimeout bounds the synchronous refresh endpoints.
func (c Config) RefreshTimeout() time.Duration {
	return time.Duration(c.Server.RefreshTimeoutSeconds) * time.Second
}

// ShutdownTimeout bounds graceful HTTP shutdown.
func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutSeconds) * time.Second
}
