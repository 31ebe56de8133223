package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/bulk/internal/artifact"
	"github.com/JonMunkholm/bulk/internal/exporter"
	"github.com/JonMunkholm/bulk/internal/job"
	"github.com/JonMunkholm/bulk/internal/mailer"
	"github.com/JonMunkholm/bulk/internal/metrics"
	"github.com/JonMunkholm/bulk/internal/store"
)

// DefaultInterval is the engine's discovery tick; coarser than the job
// pollers because schedules fire at minute granularity at most.
const DefaultInterval = 30 * time.Second

// DefaultBatch bounds how many due definitions one tick will drive.
const DefaultBatch = 5

// Engine discovers due scheduled exports and drives each through an
// export-then-email cycle, recording per-run outcome.
//
// Failure policy: lastRunAt/nextRunAt advance on any terminal outcome of
// the whole run, success or failure, so a transient failure never skips
// the next legitimate firing window and a broken definition cannot
// hot-loop every tick.
type Engine struct {
	store     store.Store
	exporter  *exporter.Processor
	artifacts artifact.Store
	sender    mailer.Sender

	interval time.Duration
	batch    int
}

// NewEngine creates a scheduled export engine. interval <= 0 selects
// DefaultInterval, batch <= 0 selects DefaultBatch.
func NewEngine(st store.Store, exp *exporter.Processor, artifacts artifact.Store, sender mailer.Sender, interval time.Duration, batch int) *Engine {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if batch <= 0 {
		batch = DefaultBatch
	}
	return &Engine{
		store:     st,
		exporter:  exp,
		artifacts: artifacts,
		sender:    sender,
		interval:  interval,
		batch:     batch,
	}
}

// Run ticks until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	slog.Info("scheduled export engine started", "interval", e.interval, "batch", e.batch)

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("scheduled export engine stopped")
			return
		case <-ticker.C:
			e.Tick(ctx)
		}
	}
}

// Tick drives every due definition, up to the batch bound. Exported so
// tests can fire the engine without waiting out the interval.
func (e *Engine) Tick(ctx context.Context) {
	due, err := e.store.DueScheduledExports(ctx, time.Now(), e.batch)
	if err != nil {
		slog.Error("due scheduled exports query failed", "error", err)
		return
	}

	for _, se := range due {
		e.runOne(ctx, se)
	}
}

// runOne performs a single firing: run record, export job driven
// synchronously, artifact download, email, bookkeeping. The export job is
// created directly in processing state, never pending, so a concurrently
// ticking export poller can never pick it up.
func (e *Engine) runOne(ctx context.Context, se *job.ScheduledExport) {
	log := slog.With("scheduled_export_id", se.ID, "name", se.Name, "module", se.ModuleKey)
	firedAt := time.Now()

	sched, err := Parse(se.Schedule)
	if err != nil {
		// Validated at creation and re-activation, so a parse failure here
		// means the stored expression was corrupted. Deactivate rather
		// than fail the same way forever.
		log.Error("stored schedule no longer parses, deactivating", "schedule", se.Schedule, "error", err)
		if err := e.store.SetScheduledExportActive(ctx, se.ID, false, nil); err != nil {
			log.Error("deactivate failed", "error", err)
		}
		return
	}

	run := &job.ScheduledExportRun{
		ID:                uuid.NewString(),
		ScheduledExportID: se.ID,
		Status:            job.RunProcessing,
		CreatedAt:         firedAt,
	}
	if err := e.store.CreateRun(ctx, run); err != nil {
		log.Error("create run failed", "error", err)
		return
	}

	if err := e.drive(ctx, se, run); err != nil {
		run.Status = job.RunFailed
		run.Error = err.Error()
		if uerr := e.store.UpdateRun(ctx, run); uerr != nil {
			log.Error("record run failure failed", "error", uerr)
		}
		log.Error("scheduled export run failed", "run_id", run.ID, "error", err)
		metrics.ScheduledRun(string(job.RunFailed))
	} else {
		log.Info("scheduled export run sent", "run_id", run.ID, "recipients", len(se.Recipients))
		metrics.ScheduledRun(string(job.RunSent))
	}

	// Terminal outcome either way: advance the schedule.
	next := sched.Next(firedAt)
	if err := e.store.AdvanceScheduledExport(ctx, se.ID, firedAt, next); err != nil {
		log.Error("advance schedule failed", "error", err)
	}
}

// drive walks the run through exporting and sending, updating the run
// record at each stage boundary.
func (e *Engine) drive(ctx context.Context, se *job.ScheduledExport, run *job.ScheduledExportRun) error {
	startedAt := time.Now()
	exportJob := &job.ExportJob{
		ID:        uuid.NewString(),
		ModuleKey: se.ModuleKey,
		FileName:  artifact.DefaultExportFileName(se.ModuleKey, run.CreatedAt),
		Filters:   se.Filters,
		Columns:   se.Columns,
		Context:   se.Context,
		Status:    job.StatusProcessing,
		CreatedBy: se.CreatedBy,
		CreatedAt: run.CreatedAt,
		StartedAt: &startedAt,
	}
	if err := e.store.CreateExportJob(ctx, exportJob); err != nil {
		return fmt.Errorf("create export job: %w", err)
	}

	run.ExportJobID = exportJob.ID
	run.Status = job.RunExporting
	if err := e.store.UpdateRun(ctx, run); err != nil {
		return fmt.Errorf("update run: %w", err)
	}

	if err := e.exporter.Process(ctx, exportJob.ID); err != nil {
		return fmt.Errorf("export: %w", err)
	}

	finished, err := e.store.GetExportJob(ctx, exportJob.ID)
	if err != nil {
		return fmt.Errorf("reload export job: %w", err)
	}
	if finished.Status != job.StatusCompleted {
		return fmt.Errorf("export job ended %s", finished.Status)
	}

	data, err := e.artifacts.Get(ctx, finished.ArtifactRef)
	if err != nil {
		return &job.StorageError{Op: "get", Err: err}
	}

	run.Status = job.RunSending
	if err := e.store.UpdateRun(ctx, run); err != nil {
		return fmt.Errorf("update run: %w", err)
	}

	msg := mailer.Message{
		To:      se.Recipients,
		Subject: fmt.Sprintf("Scheduled export: %s", se.Name),
		Body: fmt.Sprintf("Attached is the %q export generated %s (%d rows).",
			se.Name, run.CreatedAt.Format(time.RFC1123), finished.TotalRows),
		Attachment: &mailer.Attachment{
			Filename:    finished.FileName,
			ContentType: "text/csv",
			Content:     data,
		},
	}
	if err := e.sender.Send(ctx, msg); err != nil {
		return fmt.Errorf("send email: %w", err)
	}

	now := time.Now()
	run.Status = job.RunSent
	run.SentAt = &now
	if err := e.store.UpdateRun(ctx, run); err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	return nil
}
