// Package config provides centralized configuration management for the
// pipeline. It loads configuration from environment variables with sensible
// defaults and validates all settings on startup to fail fast on
// misconfiguration.
package config

import "time"

// Config holds all pipeline configuration.
// All settings can be configured via environment variables.
type Config struct {
	Database DatabaseConfig
	Pipeline PipelineConfig
	Schedule ScheduleConfig
	Storage  StorageConfig
	Email    EmailConfig
	Metrics  MetricsConfig
	Logging  LoggingConfig
}

// DatabaseConfig holds database connection settings. An empty URL selects
// the in-memory store, for local development only.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `env:"DATABASE_URL" envAlt:"DB_URL"`

	// MaxConns is the maximum number of connections in the pool (default: 20)
	MaxConns int `env:"DB_MAX_CONNS" default:"20"`

	// MinConns is the minimum number of connections to keep open (default: 4)
	MinConns int `env:"DB_MIN_CONNS" default:"4"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// PipelineConfig holds the poller and processor settings.
type PipelineConfig struct {
	// ImportPollInterval is the import claim-loop tick (default: 2s)
	ImportPollInterval time.Duration `env:"PIPELINE_IMPORT_POLL_INTERVAL" default:"2s"`

	// ImportConcurrency is the import worker ceiling, clamped to 1-3 (default: 3)
	ImportConcurrency int `env:"PIPELINE_IMPORT_CONCURRENCY" default:"3"`

	// ExportPollInterval is the export claim-loop tick (default: 2s)
	ExportPollInterval time.Duration `env:"PIPELINE_EXPORT_POLL_INTERVAL" default:"2s"`

	// ExportConcurrency is the export worker ceiling, clamped to 1-3 (default: 3)
	ExportConcurrency int `env:"PIPELINE_EXPORT_CONCURRENCY" default:"3"`

	// ProgressBatchSize is rows processed between progress writes (default: 50)
	ProgressBatchSize int `env:"PIPELINE_PROGRESS_BATCH_SIZE" default:"50"`

	// ApplyTimeout bounds one row-applier call (default: 30s)
	ApplyTimeout time.Duration `env:"PIPELINE_APPLY_TIMEOUT" default:"30s"`

	// StaleThreshold is how long a processing job may sit before the
	// recovery sweep reverts it, floored at 5m (default: 30m)
	StaleThreshold time.Duration `env:"PIPELINE_STALE_THRESHOLD" default:"30m"`

	// MaxExportRows caps fetched records per export (default: 50000)
	MaxExportRows int `env:"PIPELINE_MAX_EXPORT_ROWS" default:"50000"`

	// ShutdownTimeout is the maximum wait for in-flight jobs on shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"PIPELINE_SHUTDOWN_TIMEOUT" default:"30s"`
}

// ScheduleConfig holds the scheduled export engine settings.
type ScheduleConfig struct {
	// Interval is the due-schedule discovery tick (default: 30s)
	Interval time.Duration `env:"SCHEDULE_INTERVAL" default:"30s"`

	// Batch is the maximum due definitions driven per tick (default: 5)
	Batch int `env:"SCHEDULE_BATCH" default:"5"`
}

// StorageConfig holds artifact storage settings.
type StorageConfig struct {
	// Backend is the artifact store to use: local or gcs (default: local)
	Backend string `env:"STORAGE_BACKEND" default:"local"`

	// LocalDir is the base directory for the local backend (default: ./data/artifacts)
	LocalDir string `env:"STORAGE_LOCAL_DIR" default:"./data/artifacts"`

	// Bucket is the bucket name for the gcs backend
	Bucket string `env:"STORAGE_BUCKET"`
}

// EmailConfig holds scheduled-export email delivery settings.
type EmailConfig struct {
	// Provider selects the delivery mechanism: smtp, mailgun, sendgrid or
	// none (default: none, scheduled sends fail until configured)
	Provider string `env:"EMAIL_PROVIDER" default:"none"`

	// From is the sender address, required for any provider but none
	From string `env:"EMAIL_FROM"`

	SMTPHost     string `env:"SMTP_HOST"`
	SMTPPort     string `env:"SMTP_PORT" default:"587"`
	SMTPUsername string `env:"SMTP_USERNAME"`
	SMTPPassword string `env:"SMTP_PASSWORD"`

	MailgunDomain string `env:"MAILGUN_DOMAIN"`
	MailgunAPIKey string `env:"MAILGUN_API_KEY"`

	SendGridAPIKey string `env:"SENDGRID_API_KEY"`
}

// MetricsConfig holds Prometheus exposition settings.
type MetricsConfig struct {
	// Enabled controls whether the metrics listener starts (default: true)
	Enabled bool `env:"METRICS_ENABLED" default:"true"`

	// Addr is the metrics listen address (default: :9090)
	Addr string `env:"METRICS_ADDR" default:":9090"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}
