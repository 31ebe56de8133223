package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// Load reads configuration from environment variables.
// It applies defaults for unset values and validates the result.
// Returns an error if required values are missing or validation fails.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := loadStruct(reflect.ValueOf(cfg).Elem()); err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration and panics on error.
// Use this only in main() where early termination is desired.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// loadStruct recursively populates struct fields from environment variables.
func loadStruct(v reflect.Value) error {
	t := v.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fieldVal := v.Field(i)

		// Skip unexported fields
		if !fieldVal.CanSet() {
			continue
		}

		// Recurse into nested structs
		if field.Type.Kind() == reflect.Struct && field.Type != reflect.TypeOf(time.Time{}) {
			if err := loadStruct(fieldVal); err != nil {
				return err
			}
			continue
		}

		// Get tags
		envName := field.Tag.Get("env")
		envAlt := field.Tag.Get("envAlt")
		defaultVal := field.Tag.Get("default")
		required := field.Tag.Get("required") == "true"

		if envName == "" {
			continue
		}

		// Try primary env var, then alternate
		value := os.Getenv(envName)
		if value == "" && envAlt != "" {
			value = os.Getenv(envAlt)
		}

		// Apply default if not set
		if value == "" {
			if required {
				return fmt.Errorf("required environment variable %s is not set", envName)
			}
			value = defaultVal
		}

		if value == "" {
			continue
		}

		// Set the field value
		if err := setField(fieldVal, value); err != nil {
			return fmt.Errorf("invalid value for %s=%q: %w", envName, value, err)
		}
	}

	return nil
}

// setField sets a reflect.Value from a string based on its type.
func setField(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int64:
		// Handle time.Duration specially
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("invalid duration: %w", err)
			}
			field.Set(reflect.ValueOf(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer: %w", err)
			}
			field.SetInt(i)
		}

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean: %w", err)
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			// Split comma-separated values, trim whitespace
			parts := strings.Split(value, ",")
			result := make([]string, 0, len(parts))
			for _, p := range parts {
				p = strings.TrimSpace(p)
				if p != "" {
					result = append(result, p)
				}
			}
			field.Set(reflect.ValueOf(result))
		} else {
			return fmt.Errorf("unsupported slice type: %s", field.Type().Elem().Kind())
		}

	default:
		return fmt.Errorf("unsupported field type: %s", field.Kind())
	}

	return nil
}

// Validate checks that the configuration is valid.
// Returns an error describing all validation failures.
func (c *Config) Validate() error {
	var errs []string

	// Database validation
	if c.Database.URL != "" {
		if c.Database.MaxConns < c.Database.MinConns {
			errs = append(errs, fmt.Sprintf("DB_MAX_CONNS (%d) must be >= DB_MIN_CONNS (%d)",
				c.Database.MaxConns, c.Database.MinConns))
		}
		if c.Database.MaxConns <= 0 {
			errs = append(errs, "DB_MAX_CONNS must be positive")
		}
		if c.Database.MinConns < 0 {
			errs = append(errs, "DB_MIN_CONNS must be non-negative")
		}
	}

	// Pipeline validation
	if c.Pipeline.ImportPollInterval <= 0 {
		errs = append(errs, "PIPELINE_IMPORT_POLL_INTERVAL must be positive")
	}
	if c.Pipeline.ExportPollInterval <= 0 {
		errs = append(errs, "PIPELINE_EXPORT_POLL_INTERVAL must be positive")
	}
	if c.Pipeline.ImportConcurrency <= 0 {
		errs = append(errs, "PIPELINE_IMPORT_CONCURRENCY must be positive")
	}
	if c.Pipeline.ExportConcurrency <= 0 {
		errs = append(errs, "PIPELINE_EXPORT_CONCURRENCY must be positive")
	}
	if c.Pipeline.ProgressBatchSize <= 0 {
		errs = append(errs, "PIPELINE_PROGRESS_BATCH_SIZE must be positive")
	}
	if c.Pipeline.ApplyTimeout <= 0 {
		errs = append(errs, "PIPELINE_APPLY_TIMEOUT must be positive")
	}
	if c.Pipeline.MaxExportRows <= 0 {
		errs = append(errs, "PIPELINE_MAX_EXPORT_ROWS must be positive")
	}
	if c.Pipeline.ShutdownTimeout <= 0 {
		errs = append(errs, "PIPELINE_SHUTDOWN_TIMEOUT must be positive")
	}

	// Schedule validation
	if c.Schedule.Interval <= 0 {
		errs = append(errs, "SCHEDULE_INTERVAL must be positive")
	}
	if c.Schedule.Batch <= 0 {
		errs = append(errs, "SCHEDULE_BATCH must be positive")
	}

	// Storage validation
	switch strings.ToLower(c.Storage.Backend) {
	case "local":
		if c.Storage.LocalDir == "" {
			errs = append(errs, "STORAGE_LOCAL_DIR is required for the local backend")
		}
	case "gcs":
		if c.Storage.Bucket == "" {
			errs = append(errs, "STORAGE_BUCKET is required for the gcs backend")
		}
	default:
		errs = append(errs, fmt.Sprintf("STORAGE_BACKEND (%q) must be one of: local, gcs", c.Storage.Backend))
	}

	// Email validation
	switch strings.ToLower(c.Email.Provider) {
	case "none":
	case "smtp":
		if c.Email.From == "" {
			errs = append(errs, "EMAIL_FROM is required for the smtp provider")
		}
		if c.Email.SMTPHost == "" {
			errs = append(errs, "SMTP_HOST is required for the smtp provider")
		}
	case "mailgun":
		if c.Email.From == "" {
			errs = append(errs, "EMAIL_FROM is required for the mailgun provider")
		}
		if c.Email.MailgunDomain == "" || c.Email.MailgunAPIKey == "" {
			errs = append(errs, "MAILGUN_DOMAIN and MAILGUN_API_KEY are required for the mailgun provider")
		}
	case "sendgrid":
		if c.Email.From == "" {
			errs = append(errs, "EMAIL_FROM is required for the sendgrid provider")
		}
		if c.Email.SendGridAPIKey == "" {
			errs = append(errs, "SENDGRID_API_KEY is required for the sendgrid provider")
		}
	default:
		errs = append(errs, fmt.Sprintf("EMAIL_PROVIDER (%q) must be one of: none, smtp, mailgun, sendgrid", c.Email.Provider))
	}

	// Metrics validation
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		errs = append(errs, "METRICS_ADDR is required when metrics are enabled")
	}

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, fmt.Sprintf("LOG_LEVEL (%q) must be one of: debug, info, warn, error", c.Logging.Level))
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, fmt.Sprintf("LOG_FORMAT (%q) must be one of: text, json", c.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// String returns a safe string representation of the config for logging.
// Sensitive values like database URLs and API keys are masked.
func (c *Config) String() string {
	var b strings.Builder
	b.WriteString("Config{")
	b.WriteString(fmt.Sprintf("Database: {URL: [MASKED], MaxConns: %d, MinConns: %d}, ",
		c.Database.MaxConns, c.Database.MinConns))
	b.WriteString(fmt.Sprintf("Pipeline: {ImportConcurrency: %d, ExportConcurrency: %d, StaleThreshold: %s}, ",
		c.Pipeline.ImportConcurrency, c.Pipeline.ExportConcurrency, c.Pipeline.StaleThreshold))
	b.WriteString(fmt.Sprintf("Schedule: {Interval: %s, Batch: %d}, ",
		c.Schedule.Interval, c.Schedule.Batch))
	b.WriteString(fmt.Sprintf("Storage: {Backend: %q}, ", c.Storage.Backend))
	b.WriteString(fmt.Sprintf("Email: {Provider: %q, From: %q}, ", c.Email.Provider, c.Email.From))
	b.WriteString(fmt.Sprintf("Logging: {Level: %q, Format: %q}",
		c.Logging.Level, c.Logging.Format))
	b.WriteString("}")
	return b.String()
}
