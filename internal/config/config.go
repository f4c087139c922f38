// Package config loads and validates tracker configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/JakeFAU/creator-suite/internal/suite"
)

// EnvPrefix is prepended to every environment override, e.g. CREATOR_SERVER_PORT.
const EnvPrefix = "CREATOR"

// Storage backends.
const (
	StorageFile   = "file"
	StorageSQLite = "sqlite"
	StorageGCS    = "gcs"
	StorageMemory = "memory"
	StorageNone   = "none"
)

// Remote job sources.
const (
	RemoteHTTP     = "http"
	RemotePostgres = "postgres"
	RemoteNone     = "none"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Gateway GatewayConfig `mapstructure:"gateway"`
	Session SessionConfig `mapstructure:"session"`
	Jobs    JobsConfig    `mapstructure:"jobs"`
	Poll    PollConfig    `mapstructure:"poll"`
	Storage StorageConfig `mapstructure:"storage"`
	Remote  RemoteConfig  `mapstructure:"remote"`
	Events  EventsConfig  `mapstructure:"events"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig controls the local HTTP API.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// GatewayConfig locates the backend services.
type GatewayConfig struct {
	BaseURL string `mapstructure:"base_url"`
	// Services maps a service name (video, image, documents, youtube, chat,
	// director, history) to a dedicated origin.
	Services       map[string]string `mapstructure:"services"`
	Timeout        time.Duration     `mapstructure:"timeout"`
	RateLimitRPS   float64           `mapstructure:"rate_limit_rps"`
	RateLimitBurst int               `mapstructure:"rate_limit_burst"`
}

// SessionConfig signs a user in at startup.
type SessionConfig struct {
	UserID    string `mapstructure:"user_id"`
	Email     string `mapstructure:"email"`
	Token     string `mapstructure:"token"`
	TokenFile string `mapstructure:"token_file"`
	TokenEnv  string `mapstructure:"token_env"`
}

// JobsConfig bounds the tracked collection.
type JobsConfig struct {
	MaxJobs       int           `mapstructure:"max_jobs"`
	ReducedSize   int           `mapstructure:"reduced_size"`
	StorageKey    string        `mapstructure:"storage_key"`
	RemoteTimeout time.Duration `mapstructure:"remote_timeout"`
}

// PollConfig tunes status polling.
type PollConfig struct {
	Interval             time.Duration `mapstructure:"interval"`
	DirectorInterval     time.Duration `mapstructure:"director_interval"`
	RequestTimeout       time.Duration `mapstructure:"request_timeout"`
	MaxTransportFailures int           `mapstructure:"max_transport_failures"`
}

// StorageConfig selects where the job collection is persisted.
type StorageConfig struct {
	Backend string        `mapstructure:"backend"`
	Local   LocalConfig   `mapstructure:"local"`
	SQLite  SQLiteConfig  `mapstructure:"sqlite"`
	GCS     GCSConfig     `mapstructure:"gcs"`
	Memory  MemoryConfig  `mapstructure:"memory"`
}

// LocalConfig configures the file persister.
type LocalConfig struct {
	BaseDir  string `mapstructure:"base_dir"`
	MaxBytes int64  `mapstructure:"max_bytes"`
}

// SQLiteConfig configures the SQLite persister.
type SQLiteConfig struct {
	Path     string `mapstructure:"path"`
	MaxBytes int64  `mapstructure:"max_bytes"`
}

// GCSConfig configures the Cloud Storage persister.
type GCSConfig struct {
	Bucket   string `mapstructure:"bucket"`
	Prefix   string `mapstructure:"prefix"`
	MaxBytes int64  `mapstructure:"max_bytes"`
	// Endpoint points the client at an emulator; it also disables authentication.
	Endpoint string `mapstructure:"endpoint"`
}

// MemoryConfig configures the in-memory persister.
type MemoryConfig struct {
	MaxBytes int64 `mapstructure:"max_bytes"`
}

// RemoteConfig selects the remote job history.
type RemoteConfig struct {
	Backend  string         `mapstructure:"backend"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// PostgresConfig controls access to the Postgres job history.
type PostgresConfig struct {
	DSN       string `mapstructure:"dsn"`
	Table     string `mapstructure:"table"`
	ListLimit int    `mapstructure:"list_limit"`
	MaxConns  int32  `mapstructure:"max_conns"`
	Migrate   bool   `mapstructure:"migrate"`
}

// EventsConfig configures notification fan-out.
type EventsConfig struct {
	BufferSize        int           `mapstructure:"buffer_size"`
	MaxBatchEvents    int           `mapstructure:"max_batch_events"`
	MaxBatchWait      time.Duration `mapstructure:"max_batch_wait"`
	SinkTimeout       time.Duration `mapstructure:"sink_timeout"`
	LogEnabled        bool          `mapstructure:"log_enabled"`
	PrometheusEnabled bool          `mapstructure:"prometheus_enabled"`
	RecentLimit       int           `mapstructure:"recent_limit"`
	PubSub            PubSubConfig  `mapstructure:"pubsub"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// Enabled reports whether notifications should be published.
func (p PubSubConfig) Enabled() bool {
	return p.Topic != ""
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from .env files, disk and environment. Values already
// present in the environment win over .env entries.
func Load(path string) (Config, error) {
	if err := loadDotEnv(".env", ".env.local"); err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
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

func loadDotEnv(files ...string) error {
	var present []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			present = append(present, f)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("stat %s: %w", f, err)
		}
	}
	if len(present) == 0 {
		return nil
	}
	if err := godotenv.Load(present...); err != nil {
		return fmt.Errorf("load env files: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8090)
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("gateway.base_url", "http://127.0.0.1:8002")
	v.SetDefault("gateway.timeout", "60s")
	v.SetDefault("gateway.rate_limit_rps", 0)
	v.SetDefault("gateway.rate_limit_burst", 1)
	v.SetDefault("session.user_id", "")
	v.SetDefault("session.email", "")
	v.SetDefault("session.token", "")
	v.SetDefault("session.token_file", "")
	v.SetDefault("session.token_env", "")
	v.SetDefault("jobs.max_jobs", 20)
	v.SetDefault("jobs.reduced_size", 5)
	v.SetDefault("jobs.storage_key", "veo_jobs")
	v.SetDefault("jobs.remote_timeout", "30s")
	v.SetDefault("poll.interval", "5s")
	v.SetDefault("poll.director_interval", "3s")
	v.SetDefault("poll.request_timeout", "30s")
	v.SetDefault("poll.max_transport_failures", 0)
	v.SetDefault("storage.backend", StorageFile)
	v.SetDefault("storage.local.base_dir", ".creator-suite")
	v.SetDefault("storage.local.max_bytes", 5<<20)
	v.SetDefault("storage.sqlite.path", ".creator-suite/jobs.db")
	v.SetDefault("storage.sqlite.max_bytes", 5<<20)
	v.SetDefault("storage.gcs.bucket", "")
	v.SetDefault("storage.gcs.prefix", "creator-suite")
	v.SetDefault("storage.gcs.max_bytes", 0)
	v.SetDefault("storage.gcs.endpoint", "")
	v.SetDefault("storage.memory.max_bytes", 0)
	v.SetDefault("remote.backend", RemoteHTTP)
	v.SetDefault("remote.postgres.dsn", "")
	v.SetDefault("remote.postgres.table", "creator_jobs")
	v.SetDefault("remote.postgres.list_limit", 100)
	v.SetDefault("remote.postgres.max_conns", 4)
	v.SetDefault("remote.postgres.migrate", false)
	v.SetDefault("events.buffer_size", 256)
	v.SetDefault("events.max_batch_events", 64)
	v.SetDefault("events.max_batch_wait", "250ms")
	v.SetDefault("events.sink_timeout", "5s")
	v.SetDefault("events.log_enabled", true)
	v.SetDefault("events.prometheus_enabled", true)
	v.SetDefault("events.recent_limit", 50)
	v.SetDefault("events.pubsub.project_id", "")
	v.SetDefault("events.pubsub.topic", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if strings.TrimSpace(c.Gateway.BaseURL) == "" && len(c.Gateway.Services) == 0 {
		return fmt.Errorf("gateway.base_url must be set")
	}
	if _, err := c.ServiceURLs(); err != nil {
		return err
	}
	if c.Gateway.Timeout <= 0 {
		return fmt.Errorf("gateway.timeout must be > 0")
	}
	if c.Gateway.RateLimitRPS < 0 {
		return fmt.Errorf("gateway.rate_limit_rps must be >= 0")
	}
	if c.Session.UserID != "" && c.Session.Token == "" && c.Session.TokenFile == "" && c.Session.TokenEnv == "" {
		return fmt.Errorf("session.token, session.token_file or session.token_env must be set with session.user_id")
	}
	if c.Jobs.MaxJobs <= 0 {
		return fmt.Errorf("jobs.max_jobs must be > 0")
	}
	if c.Jobs.ReducedSize <= 0 || c.Jobs.ReducedSize > c.Jobs.MaxJobs {
		return fmt.Errorf("jobs.reduced_size must be between 1 and jobs.max_jobs")
	}
	if c.Jobs.StorageKey == "" {
		return fmt.Errorf("jobs.storage_key must be set")
	}
	if c.Poll.Interval <= 0 || c.Poll.DirectorInterval <= 0 {
		return fmt.Errorf("poll.interval and poll.director_interval must be > 0")
	}
	if c.Poll.RequestTimeout <= 0 {
		return fmt.Errorf("poll.request_timeout must be > 0")
	}
	if c.Poll.MaxTransportFailures < 0 {
		return fmt.Errorf("poll.max_transport_failures must be >= 0")
	}
	if err := c.Storage.validate(); err != nil {
		return err
	}
	switch c.Remote.Backend {
	case RemoteHTTP, RemoteNone:
	case RemotePostgres:
		if c.Remote.Postgres.DSN == "" {
			return fmt.Errorf("remote.postgres.dsn must be set when remote.backend is postgres")
		}
	default:
		return fmt.Errorf("remote.backend must be one of http, postgres, none")
	}
	if c.Events.PubSub.Enabled() && c.Events.PubSub.ProjectID == "" {
		return fmt.Errorf("events.pubsub.project_id must be set when a topic is configured")
	}
	return nil
}

func (s StorageConfig) validate() error {
	switch s.Backend {
	case StorageFile:
		if s.Local.BaseDir == "" {
			return fmt.Errorf("storage.local.base_dir must be set for the file backend")
		}
	case StorageSQLite:
		if s.SQLite.Path == "" {
			return fmt.Errorf("storage.sqlite.path must be set for the sqlite backend")
		}
	case StorageGCS:
		if s.GCS.Bucket == "" {
			return fmt.Errorf("storage.gcs.bucket must be set for the gcs backend")
		}
	case StorageMemory, StorageNone:
	default:
		return fmt.Errorf("storage.backend must be one of file, sqlite, gcs, memory, none")
	}
	return nil
}

// ServiceURLs converts gateway.services into typed service keys.
func (c Config) ServiceURLs() (map[suite.Service]string, error) {
	out := make(map[suite.Service]string, len(c.Gateway.Services))
	for name, raw := range c.Gateway.Services {
		svc := suite.Service(strings.ToLower(name))
		if !knownService(svc) {
			return nil, fmt.Errorf("gateway.services: unknown service %q", name)
		}
		if strings.TrimSpace(raw) == "" {
			continue
		}
		out[svc] = raw
	}
	return out, nil
}

func knownService(svc suite.Service) bool {
	if svc == suite.ServiceJobHistory {
		return true
	}
	for _, s := range suite.Services() {
		if s == svc {
			return true
		}
	}
	return false
}
