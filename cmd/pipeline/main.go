package main

import (
	"context"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/JonMunkholm/bulk/internal/artifact"
	"github.com/JonMunkholm/bulk/internal/config"
	"github.com/JonMunkholm/bulk/internal/logging"
	"github.com/JonMunkholm/bulk/internal/mailer"
	"github.com/JonMunkholm/bulk/internal/metrics"
	"github.com/JonMunkholm/bulk/internal/pipeline"
	"github.com/JonMunkholm/bulk/internal/registry"
	"github.com/JonMunkholm/bulk/internal/store"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	// Load and validate configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging based on config
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"storage_backend", cfg.Storage.Backend,
		"email_provider", cfg.Email.Provider,
		"import_concurrency", cfg.Pipeline.ImportConcurrency,
		"export_concurrency", cfg.Pipeline.ExportConcurrency,
	)

	ctx := context.Background()

	st, cleanup, err := openStore(ctx, cfg)
	if err != nil {
		slog.Error("failed to open job store", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	artifacts, err := openArtifacts(ctx, cfg)
	if err != nil {
		slog.Error("failed to open artifact store", "error", err)
		os.Exit(1)
	}

	sender, err := openMailer(cfg)
	if err != nil {
		slog.Error("failed to configure email provider", "error", err)
		os.Exit(1)
	}

	for _, mod := range registry.All() {
		slog.Info("module registered",
			"key", mod.Key,
			"label", mod.Label,
			"import", mod.ApplyRow != nil,
			"export", mod.Fetch != nil,
		)
	}
	slog.Info("modules registered", "count", registry.Count())

	supervisor := pipeline.NewSupervisor(st, artifacts, sender, pipeline.SupervisorConfig{
		ImportInterval:    cfg.Pipeline.ImportPollInterval,
		ImportConcurrency: cfg.Pipeline.ImportConcurrency,
		ExportInterval:    cfg.Pipeline.ExportPollInterval,
		ExportConcurrency: cfg.Pipeline.ExportConcurrency,
		ProgressBatchSize: cfg.Pipeline.ProgressBatchSize,
		ApplyTimeout:      cfg.Pipeline.ApplyTimeout,
		MaxExportRows:     cfg.Pipeline.MaxExportRows,
		StaleThreshold:    cfg.Pipeline.StaleThreshold,
		ScheduleInterval:  cfg.Schedule.Interval,
		ScheduleBatch:     cfg.Schedule.Batch,
		ShutdownTimeout:   cfg.Pipeline.ShutdownTimeout,
	})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if cfg.Metrics.Enabled {
		go metrics.Serve(runCtx, cfg.Metrics.Addr)
	}

	supervisor.Start(runCtx)
	slog.Info("pipeline started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	slog.Info("shutting down...")
	cancel()
	supervisor.Stop()
	slog.Info("pipeline stopped")
}

// openStore connects the configured job store. An empty database URL selects
// the in-memory store, which loses all jobs on restart.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, func(), error) {
	if cfg.Database.URL == "" {
		slog.Warn("no DATABASE_URL set, using in-memory job store")
		return store.NewMemory(), func() {}, nil
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		return nil, nil, err
	}
	poolConfig.MaxConns = int32(cfg.Database.MaxConns)
	poolConfig.MinConns = int32(cfg.Database.MinConns)
	poolConfig.MaxConnLifetime = cfg.Database.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.Database.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}

	if u, err := url.Parse(cfg.Database.URL); err == nil {
		slog.Info("connected to database", "name", strings.TrimPrefix(u.Path, "/"))
	} else {
		slog.Info("connected to database")
	}

	return store.NewPostgres(pool), pool.Close, nil
}

func openArtifacts(ctx context.Context, cfg *config.Config) (artifact.Store, error) {
	switch strings.ToLower(cfg.Storage.Backend) {
	case "gcs":
		return artifact.NewGCS(ctx, cfg.Storage.Bucket)
	default:
		return artifact.NewLocal(cfg.Storage.LocalDir)
	}
}

func openMailer(cfg *config.Config) (mailer.Sender, error) {
	if strings.ToLower(cfg.Email.Provider) == "none" {
		slog.Warn("no email provider configured, scheduled export sends will fail")
		return mailer.Disabled(), nil
	}
	return mailer.New(mailer.Config{
		Provider: strings.ToLower(cfg.Email.Provider),
		From:     cfg.Email.From,
		SMTP: mailer.SMTPConfig{
			Host:     cfg.Email.SMTPHost,
			Port:     cfg.Email.SMTPPort,
			Username: cfg.Email.SMTPUsername,
			Password: cfg.Email.SMTPPassword,
		},
		Mailgun: mailer.MailgunConfig{
			Domain: cfg.Email.MailgunDomain,
			APIKey: cfg.Email.MailgunAPIKey,
		},
		SendGrid: mailer.SendGridConfig{
			APIKey: cfg.Email.SendGridAPIKey,
		},
	})
}
