package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"github.com/wb-go/wbf/retry"

	"github.com/aliskhannn/generation-pipeline/internal/model"
)

// Queue backends.
const (
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Config holds the main configuration for the application.
type Config struct {
	Server      Server      `mapstructure:"server"`
	Database    Database    `mapstructure:"database"`
	Storage     Storage     `mapstructure:"storage"`
	Kafka       Kafka       `mapstructure:"kafka"`
	Redis       Redis       `mapstructure:"redis"`
	Queue       Queue       `mapstructure:"queue"`
	Defaults    Defaults    `mapstructure:"defaults"`
	Provider    Provider    `mapstructure:"provider"`
	PostProcess PostProcess `mapstructure:"postprocess"`
	Retry       Retry       `mapstructure:"retry"`
}

// Server holds HTTP server-related configuration.
type Server struct {
	HTTPPort        string        `mapstructure:"http_port"` // HTTP port to listen on
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Database holds database master and slave configuration.
type Database struct {
	Master DatabaseNode   `mapstructure:"master"`
	Slaves []DatabaseNode `mapstructure:"slaves"`

	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DatabaseNode holds connection parameters for a single database node.
type DatabaseNode struct {
	Host    string `mapstructure:"host"`
	Port    string `mapstructure:"port"`
	User    string `mapstructure:"user"`
	Pass    string `mapstructure:"pass"`
	Name    string `mapstructure:"name"`
	SSLMode string `mapstructure:"ssl_mode"`
}

// Storage holds configuration for the artifact storage backend.
type Storage struct {
	Endpoint   string `mapstructure:"endpoint"`
	AccessKey  string `mapstructure:"access_key"`
	SecretKey  string `mapstructure:"secret_key"`
	BucketName string `mapstructure:"bucket_name"`
	UseSSL     bool   `mapstructure:"use_ssl"`
	PublicURL  string `mapstructure:"public_url"` // base URL of served objects; derived from endpoint when empty
}

// Kafka holds configuration for the dead-letter topic.
type Kafka struct {
	Enabled         bool     `mapstructure:"enabled"`
	GroupID         string   `mapstructure:"group_id"`          // archiver consumer group ID
	DeadLetterTopic string   `mapstructure:"dead_letter_topic"` // topic receiving dead-letter records
	Brokers         []string `mapstructure:"brokers"`           // List of Kafka broker addresses
}

// Redis holds configuration for event publishing.
type Redis struct {
	Enabled     bool          `mapstructure:"enabled"`
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	Prefix      string        `mapstructure:"prefix"`
	ProgressTTL time.Duration `mapstructure:"progress_ttl"`
}

// Queue holds worker pool and job store settings.
type Queue struct {
	Backend         string        `mapstructure:"backend"` // postgres or memory
	Concurrency     int           `mapstructure:"concurrency"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	LockDuration    time.Duration `mapstructure:"lock_duration"`
	StalledInterval time.Duration `mapstructure:"stalled_interval"`
	MaxStalledCount int           `mapstructure:"max_stalled_count"`
	CleanInterval   time.Duration `mapstructure:"clean_interval"`
	EventBuffer     int           `mapstructure:"event_buffer"`
	DrainTimeout    time.Duration `mapstructure:"drain_timeout"`
}

// Defaults holds the execution policy applied to submissions that omit it.
type Defaults struct {
	Priority      int           `mapstructure:"priority"`
	MaxAttempts   int           `mapstructure:"max_attempts"`
	BackoffKind   string        `mapstructure:"backoff_kind"`
	BackoffDelay  time.Duration `mapstructure:"backoff_delay"`
	Timeout       time.Duration `mapstructure:"timeout"`
	KeepCompleted int           `mapstructure:"keep_completed"`
	KeepFailed    int           `mapstructure:"keep_failed"`
}

// Provider holds generative API settings.
type Provider struct {
	APIKey     string        `mapstructure:"api_key"`
	BaseURL    string        `mapstructure:"base_url"`
	ImageModel string        `mapstructure:"image_model"`
	TextModel  string        `mapstructure:"text_model"`
	Timeout    time.Duration `mapstructure:"timeout"`
	Breaker    Breaker       `mapstructure:"breaker"`
}

// Breaker configures the provider circuit breaker.
type Breaker struct {
	MaxRequests         uint32        `mapstructure:"max_requests"`         // probes allowed while half-open
	Interval            time.Duration `mapstructure:"interval"`             // closed-state counter reset period
	Timeout             time.Duration `mapstructure:"timeout"`              // open-state duration
	ConsecutiveFailures uint32        `mapstructure:"consecutive_failures"` // failures that open the breaker
}

// PostProcess configures image adjustments before upload.
type PostProcess struct {
	WatermarkText string  `mapstructure:"watermark_text"`
	FontPath      string  `mapstructure:"font_path"`
	FontScale     float64 `mapstructure:"font_scale"`
	Format        string  `mapstructure:"format"`
}

// Retry defines retry policy configuration.
type Retry struct {
	Attempts int           `mapstructure:"attempts"` // Number of retry attempts
	Delay    time.Duration `mapstructure:"delay"`    // Initial delay between retries
	Backoff  float64       `mapstructure:"backoff"`  // Backoff multiplier for delays
}

// DSN returns the PostgreSQL DSN string for connecting to this database node.
func (n DatabaseNode) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		n.User, n.Pass, n.Host, n.Port, n.Name, n.SSLMode,
	)
}

// SlaveDSNs returns the DSNs of all replicas.
func (d Database) SlaveDSNs() []string {
	dsns := make([]string, 0, len(d.Slaves))
	for _, s := range d.Slaves {
		dsns = append(dsns, s.DSN())
	}
	return dsns
}

// Strategy converts the retry settings into a wbf retry strategy.
func (r Retry) Strategy() retry.Strategy {
	return retry.Strategy{
		Attempts: r.Attempts,
		Delay:    r.Delay,
		Backoff:  r.Backoff,
	}
}

// JobOptions converts the defaults into a job execution policy.
func (d Defaults) JobOptions() model.Options {
	return model.Options{
		Priority:    d.Priority,
		MaxAttempts: d.MaxAttempts,
		Backoff:     model.Backoff{Kind: model.BackoffKind(d.BackoffKind), Delay: d.BackoffDelay},
		Timeout:     d.Timeout,
		Retention:   model.Retention{KeepCompleted: d.KeepCompleted, KeepFailed: d.KeepFailed},
	}
}

// Validate checks settings that have no usable fallback.
func (c *Config) Validate() error {
	var errs []error

	switch c.Queue.Backend {
	case BackendPostgres, BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("queue.backend must be %q or %q, got %q", BackendPostgres, BackendMemory, c.Queue.Backend))
	}
	if c.Queue.Concurrency < 1 {
		errs = append(errs, errors.New("queue.concurrency must be at least 1"))
	}
	if c.Queue.LockDuration <= c.Defaults.Timeout {
		errs = append(errs, errors.New("queue.lock_duration must exceed defaults.timeout"))
	}
	if err := c.Defaults.JobOptions().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("defaults: %w", err))
	}
	if c.Kafka.Enabled && (len(c.Kafka.Brokers) == 0 || c.Kafka.DeadLetterTopic == "") {
		errs = append(errs, errors.New("kafka.brokers and kafka.dead_letter_topic are required when kafka is enabled"))
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		errs = append(errs, errors.New("redis.addr is required when redis is enabled"))
	}

	return errors.Join(errs...)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http_port", "8080")
	v.SetDefault("server.shutdown_timeout", 5*time.Second)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)

	v.SetDefault("kafka.group_id", "dead-letter-archiver")
	v.SetDefault("kafka.dead_letter_topic", "generation-jobs-dlq")

	v.SetDefault("redis.prefix", "generation")
	v.SetDefault("redis.progress_ttl", time.Hour)

	v.SetDefault("queue.backend", BackendPostgres)
	v.SetDefault("queue.concurrency", 5)
	v.SetDefault("queue.poll_interval", time.Second)
	v.SetDefault("queue.lock_duration", 150*time.Second)
	v.SetDefault("queue.stalled_interval", 30*time.Second)
	v.SetDefault("queue.max_stalled_count", 2)
	v.SetDefault("queue.clean_interval", time.Minute)
	v.SetDefault("queue.event_buffer", 1024)
	v.SetDefault("queue.drain_timeout", 30*time.Second)

	v.SetDefault("defaults.priority", 10)
	v.SetDefault("defaults.max_attempts", 3)
	v.SetDefault("defaults.backoff_kind", string(model.BackoffExponential))
	v.SetDefault("defaults.backoff_delay", 5*time.Second)
	v.SetDefault("defaults.timeout", 120*time.Second)
	v.SetDefault("defaults.keep_completed", 100)
	v.SetDefault("defaults.keep_failed", 50)

	v.SetDefault("provider.base_url", "https://generativelanguage.googleapis.com/v1beta")
	v.SetDefault("provider.image_model", "gemini-2.5-flash-image")
	v.SetDefault("provider.text_model", "gemini-2.5-flash")
	v.SetDefault("provider.timeout", 90*time.Second)
	v.SetDefault("provider.breaker.max_requests", 1)
	v.SetDefault("provider.breaker.interval", time.Minute)
	v.SetDefault("provider.breaker.timeout", 30*time.Second)
	v.SetDefault("provider.breaker.consecutive_failures", 5)

	v.SetDefault("postprocess.format", "png")
	v.SetDefault("postprocess.font_scale", 0.04)

	v.SetDefault("retry.attempts", 3)
	v.SetDefault("retry.delay", 100*time.Millisecond)
	v.SetDefault("retry.backoff", 2.0)
}

// bindEnv binds secrets and connection settings to explicit environment variables.
func bindEnv(v *viper.Viper) error {
	bindings := map[string]string{
		"database.master.host": "DB_HOST",
		"database.master.port": "DB_PORT",
		"database.master.user": "DB_USER",
		"database.master.pass": "DB_PASSWORD",
		"database.master.name": "DB_NAME",
		"storage.access_key":   "MINIO_ACCESS_KEY",
		"storage.secret_key":   "MINIO_SECRET_KEY",
		"redis.password":       "REDIS_PASSWORD",
		"provider.api_key":     "GEMINI_API_KEY",
	}

	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	return nil
}

// Load reads the YAML file at path, applies .env and environment overrides,
// and validates the result. A missing file falls back to defaults and environment.
func Load(path string) (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := bindEnv(v); err != nil {
		return nil, err
	}

	if err := v.ReadInConfig(); err != nil {
		// SetConfigFile reports a missing file as a plain fs error.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}
