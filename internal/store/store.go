// Package store persists pipeline state: import jobs, export jobs,
// scheduled export definitions and their runs. Two implementations share
// the same semantics: Postgres (production) and an in-memory store used by
// tests and embedded deployments.
//
// The claim methods are the pipeline's sole concurrency-control primitive.
// A claim is an atomic "update iff status is still pending" transition, so
// two concurrent claim attempts on the same job can never both succeed.
// All counter and status updates are single-statement writes, never
// read-modify-write across two round trips.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/JonMunkholm/bulk/internal/job"
)

// ErrNoPendingJobs is returned by the claim methods when no pending job
// remains to be claimed.
var ErrNoPendingJobs = errors.New("no pending jobs")

// Store is the durable job store.
type Store interface {
	// CreateImportJob persists a new import job. The job must be pending.
	CreateImportJob(ctx context.Context, j *job.ImportJob) error
	// GetImportJob returns a job by id, or job.ErrJobNotFound.
	GetImportJob(ctx context.Context, id string) (*job.ImportJob, error)
	// ListImportJobs returns jobs newest first. An empty createdBy lists
	// jobs for all creators.
	ListImportJobs(ctx context.Context, createdBy string, limit int) ([]*job.ImportJob, error)
	// ClaimNextImportJob atomically claims the oldest pending import job,
	// marking it processing with a start timestamp. Returns ErrNoPendingJobs
	// when the queue is drained.
	ClaimNextImportJob(ctx context.Context) (*job.ImportJob, error)
	// ImportJobStatus returns only the current status; the import processor
	// calls this at every row boundary to observe cancellation.
	ImportJobStatus(ctx context.Context, id string) (job.Status, error)
	// UpdateImportProgress persists interim progress counters.
	UpdateImportProgress(ctx context.Context, id string, processed, success, errored, skipped int) error
	// FinishImportJob stamps the terminal state, final counters, completion
	// time and the collected row errors. A job cancelled underneath the
	// processor keeps its cancelled status; only the completion time and
	// counters are recorded in that case.
	FinishImportJob(ctx context.Context, id string, status job.Status, processed, success, errored, skipped int, rowErrors []job.RowError) error
	// CancelImportJob flips any non-terminal import job to cancelled.
	// Returns false when the job is already terminal.
	CancelImportJob(ctx context.Context, id string) (bool, error)
	// ResetStuckImportJobs reverts processing jobs whose start timestamp is
	// older than stuckBefore back to pending, clearing the start timestamp.
	// Returns the ids reset. Terminal jobs are never touched.
	ResetStuckImportJobs(ctx context.Context, stuckBefore time.Time) ([]string, error)

	// CreateExportJob persists a new export job. Jobs are normally created
	// pending; the scheduled export engine creates its jobs directly in
	// processing state with a start timestamp, so a concurrently ticking
	// export poller can never claim them.
	CreateExportJob(ctx context.Context, j *job.ExportJob) error
	// GetExportJob returns a job by id, or job.ErrJobNotFound.
	GetExportJob(ctx context.Context, id string) (*job.ExportJob, error)
	// ListExportJobs returns jobs newest first. An empty createdBy lists
	// jobs for all creators.
	ListExportJobs(ctx context.Context, createdBy string, limit int) ([]*job.ExportJob, error)
	// ClaimNextExportJob atomically claims the oldest pending export job.
	ClaimNextExportJob(ctx context.Context) (*job.ExportJob, error)
	// FinishExportJob stamps the terminal state and, on completion, the row
	// count and artifact location.
	FinishExportJob(ctx context.Context, id string, status job.Status, totalRows int, artifactRef, location string) error
	// ResetStuckExportJobs mirrors ResetStuckImportJobs for export jobs.
	ResetStuckExportJobs(ctx context.Context, stuckBefore time.Time) ([]string, error)

	// CreateScheduledExport persists a new scheduled export definition.
	CreateScheduledExport(ctx context.Context, s *job.ScheduledExport) error
	// GetScheduledExport returns a definition by id, or job.ErrJobNotFound.
	GetScheduledExport(ctx context.Context, id string) (*job.ScheduledExport, error)
	// ListScheduledExports returns definitions newest first. An empty
	// createdBy lists all.
	ListScheduledExports(ctx context.Context, createdBy string, limit int) ([]*job.ScheduledExport, error)
	// SetScheduledExportActive toggles a definition and stores the next run
	// time computed by the caller (nil when deactivating).
	SetScheduledExportActive(ctx context.Context, id string, active bool, nextRunAt *time.Time) error
	// DueScheduledExports returns up to limit active definitions whose next
	// run time has passed, oldest due first.
	DueScheduledExports(ctx context.Context, now time.Time, limit int) ([]*job.ScheduledExport, error)
	// AdvanceScheduledExport records a firing and the recomputed next run.
	AdvanceScheduledExport(ctx context.Context, id string, lastRunAt, nextRunAt time.Time) error

	// CreateRun appends a scheduled-export run record.
	CreateRun(ctx context.Context, r *job.ScheduledExportRun) error
	// UpdateRun persists the run's current status, export job link, error
	// message and sent time.
	UpdateRun(ctx context.Context, r *job.ScheduledExportRun) error
	// ListRuns returns the most recent runs for one definition, newest
	// first, capped at limit.
	ListRuns(ctx context.Context, scheduledExportID string, limit int) ([]*job.ScheduledExportRun, error)
}
