// Package exporter consumes claimed export jobs: it fetches matching
// domain records through the module registry, projects them to the
// requested columns, encodes the result as CSV and persists the artifact.
package exporter

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/JonMunkholm/bulk/internal/artifact"
	"github.com/JonMunkholm/bulk/internal/job"
	"github.com/JonMunkholm/bulk/internal/logging"
	"github.com/JonMunkholm/bulk/internal/metrics"
	"github.com/JonMunkholm/bulk/internal/registry"
	"github.com/JonMunkholm/bulk/internal/store"
	"github.com/JonMunkholm/bulk/internal/tabular"
)

// DefaultMaxRows is the hard safety cap on fetched records, protecting
// memory against runaway exports.
const DefaultMaxRows = 50000

// Processor runs one claimed export job at a time.
type Processor struct {
	store     store.Store
	artifacts artifact.Store
	maxRows   int
}

// NewProcessor creates an export processor. maxRows <= 0 selects
// DefaultMaxRows.
func NewProcessor(st store.Store, artifacts artifact.Store, maxRows int) *Processor {
	if maxRows <= 0 {
		maxRows = DefaultMaxRows
	}
	return &Processor{store: st, artifacts: artifacts, maxRows: maxRows}
}

// Process consumes one claimed export job. The job must already be in
// processing state; any other state is a no-op. Any failure marks the job
// failed with no partial artifact recorded as ready.
func (p *Processor) Process(ctx context.Context, id string) error {
	j, err := p.store.GetExportJob(ctx, id)
	if err != nil {
		return fmt.Errorf("load export job %s: %w", id, err)
	}
	if j.Status != job.StatusProcessing {
		slog.Debug("export job not claimed, skipping", "job_id", id, "status", j.Status)
		return nil
	}

	log := logging.ForJob("export", id, j.ModuleKey)
	log.Info("export started", "file", j.FileName, "columns", len(j.Columns))

	mod, ok := registry.Get(j.ModuleKey)
	if !ok {
		return p.fail(ctx, j, fmt.Errorf("unsupported module %q", j.ModuleKey))
	}

	records, err := mod.Fetch(ctx, j.Filters, j.Context, p.maxRows)
	if err != nil {
		return p.fail(ctx, j, fmt.Errorf("fetch records: %w", err))
	}
	if len(records) > p.maxRows {
		records = records[:p.maxRows]
	}

	rows := make([]map[string]string, len(records))
	for i, rec := range records {
		rows[i] = project(mod, rec, j.Columns)
	}

	data, err := tabular.Encode(j.Columns, rows)
	if err != nil {
		return p.fail(ctx, j, fmt.Errorf("encode: %w", err))
	}

	key := artifact.ExportKey(j.ID, j.FileName)
	if err := p.artifacts.Put(ctx, key, data, "text/csv"); err != nil {
		return p.fail(ctx, j, &job.StorageError{Op: "put", Err: err})
	}

	err = p.store.FinishExportJob(ctx, id, job.StatusCompleted, len(rows), key, p.artifacts.Location())
	if err != nil {
		return fmt.Errorf("finish export job %s: %w", id, err)
	}

	log.Info("export finished", "rows", len(rows), "artifact", key)
	metrics.JobFinished("export", string(job.StatusCompleted))
	return nil
}

// project extracts the requested columns from one record, substituting an
// empty value for any column the module does not know.
func project(mod registry.Module, rec registry.Record, columns []string) map[string]string {
	row := make(map[string]string, len(columns))
	for _, col := range columns {
		if mod.Project != nil {
			row[col] = mod.Project(rec, col)
		} else {
			row[col] = ""
		}
	}
	return row
}

func (p *Processor) fail(ctx context.Context, j *job.ExportJob, cause error) error {
	slog.Error("export job failed", "job_id", j.ID, "module", j.ModuleKey, "error", cause)
	metrics.JobFinished("export", string(job.StatusFailed))
	if err := p.store.FinishExportJob(ctx, j.ID, job.StatusFailed, 0, "", ""); err != nil {
		return fmt.Errorf("finish export job %s: %w", j.ID, err)
	}
	return cause
}
