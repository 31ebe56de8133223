// Package importer consumes claimed import jobs: it decodes the stored
// source spreadsheet, maps and coerces each row per the job's column
// mapping, hands coerced rows to the module's row applier, accumulates
// row-level errors and keeps progress counters live in the job store.
package importer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/JonMunkholm/bulk/internal/artifact"
	"github.com/JonMunkholm/bulk/internal/job"
	"github.com/JonMunkholm/bulk/internal/logging"
	"github.com/JonMunkholm/bulk/internal/metrics"
	"github.com/JonMunkholm/bulk/internal/registry"
	"github.com/JonMunkholm/bulk/internal/store"
	"github.com/JonMunkholm/bulk/internal/tabular"
)

// DefaultProgressBatchSize is how many rows are processed between interim
// progress writes.
const DefaultProgressBatchSize = 50

// DefaultApplyTimeout bounds one row-applier call so a hung applier cannot
// starve the concurrency ceiling.
const DefaultApplyTimeout = 30 * time.Second

// Processor runs one claimed import job at a time.
type Processor struct {
	store     store.Store
	artifacts artifact.Store

	batchSize    int
	applyTimeout time.Duration
}

// Option configures a Processor.
type Option func(*Processor)

// WithProgressBatchSize overrides the progress flush interval.
func WithProgressBatchSize(n int) Option {
	return func(p *Processor) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

// WithApplyTimeout overrides the per-row applier timeout.
func WithApplyTimeout(d time.Duration) Option {
	return func(p *Processor) {
		if d > 0 {
			p.applyTimeout = d
		}
	}
}

// NewProcessor creates an import processor.
func NewProcessor(st store.Store, artifacts artifact.Store, opts ...Option) *Processor {
	p := &Processor{
		store:        st,
		artifacts:    artifacts,
		batchSize:    DefaultProgressBatchSize,
		applyTimeout: DefaultApplyTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process consumes one claimed import job. The job must already be in
// processing state (set by the claim step); any other state is a no-op.
// Row-level failures never abort the job; a top-level failure (unreadable
// source, unknown module) fails the whole job with a synthetic row-0 error.
func (p *Processor) Process(ctx context.Context, id string) error {
	j, err := p.store.GetImportJob(ctx, id)
	if err != nil {
		return fmt.Errorf("load import job %s: %w", id, err)
	}
	if j.Status != job.StatusProcessing {
		slog.Debug("import job not claimed, skipping", "job_id", id, "status", j.Status)
		return nil
	}

	log := logging.ForJob("import", id, j.ModuleKey)
	log.Info("import started", "file", j.FileName, "total_rows", j.TotalRows)

	var c counters

	mod, ok := registry.Get(j.ModuleKey)
	if !ok {
		return p.fail(ctx, j, c, fmt.Sprintf("unsupported module %q", j.ModuleKey))
	}

	data, err := p.artifacts.Get(ctx, j.SourceRef)
	if err != nil {
		return p.fail(ctx, j, c, fmt.Sprintf("read source file: %v", err))
	}

	doc, err := tabular.Decode(data)
	if err != nil {
		return p.fail(ctx, j, c, fmt.Sprintf("decode source file: %v", err))
	}

	var rowErrors []job.RowError

	for i, raw := range doc.Rows {
		rowNum := i + 1

		// Cancellation is observed between rows, never mid-row.
		status, err := p.store.ImportJobStatus(ctx, id)
		if err != nil {
			return p.fail(ctx, j, c, fmt.Sprintf("check job status: %v", err))
		}
		if status == job.StatusCancelled {
			log.Info("import cancelled", "processed_rows", c.processed)
			metrics.JobFinished("import", string(job.StatusCancelled))
			return p.finish(ctx, j, job.StatusCancelled, c, rowErrors)
		}

		row, err := buildRow(raw, j.Mapping)
		if err == nil {
			err = p.applyRow(ctx, mod, row, j)
		}

		c.processed++
		switch {
		case err == nil:
			c.success++
			metrics.RowProcessed("success")
		case errors.Is(err, errRowSkipped):
			c.skipped++
			metrics.RowProcessed("skipped")
		default:
			c.errored++
			rowErrors = append(rowErrors, job.RowError{Row: rowNum, Message: err.Error()})
			metrics.RowProcessed("error")
		}

		if c.processed%p.batchSize == 0 {
			if err := p.store.UpdateImportProgress(ctx, id, c.processed, c.success, c.errored, c.skipped); err != nil {
				log.Warn("progress update failed", "error", err)
			}
		}
	}

	status := job.StatusCompleted
	if len(rowErrors) > 0 {
		status = job.StatusFailed
	}

	log.Info("import finished",
		"status", status,
		"processed_rows", c.processed,
		"success_rows", c.success,
		"error_rows", c.errored,
		"skipped_rows", c.skipped,
	)
	metrics.JobFinished("import", string(status))

	return p.finish(ctx, j, status, c, rowErrors)
}

// errRowSkipped marks a row the applier deliberately left untouched under
// the "skip" duplicate strategy.
var errRowSkipped = errors.New("row skipped")

// applyRow invokes the module's row applier under the configured timeout.
func (p *Processor) applyRow(ctx context.Context, mod registry.Module, row registry.Row, j *job.ImportJob) error {
	applyCtx, cancel := context.WithTimeout(ctx, p.applyTimeout)
	defer cancel()

	outcome, err := mod.ApplyRow(applyCtx, row, j.Context, j.CreatedBy)
	if err != nil {
		return err
	}
	if outcome == registry.Skipped {
		return errRowSkipped
	}
	return nil
}

type counters struct {
	processed, success, errored, skipped int
}

func (p *Processor) finish(ctx context.Context, j *job.ImportJob, status job.Status, c counters, rowErrors []job.RowError) error {
	err := p.store.FinishImportJob(ctx, j.ID, status, c.processed, c.success, c.errored, c.skipped, rowErrors)
	if err != nil {
		return fmt.Errorf("finish import job %s: %w", j.ID, err)
	}
	return nil
}

// fail terminates the whole job with a single synthetic row-0 error.
func (p *Processor) fail(ctx context.Context, j *job.ImportJob, c counters, msg string) error {
	slog.Error("import job failed", "job_id", j.ID, "module", j.ModuleKey, "error", msg)
	metrics.JobFinished("import", string(job.StatusFailed))
	rowErrors := []job.RowError{{Row: 0, Message: msg}}
	return p.finish(ctx, j, job.StatusFailed, c, rowErrors)
}
