package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/JonMunkholm/bulk/internal/job"
)

// DBTX is the interface for database operations.
// Satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Postgres is the production Store backed by PostgreSQL via pgx.
type Postgres struct {
	db DBTX
}

var _ Store = (*Postgres)(nil)

// NewPostgres creates a Postgres store on an open pool or transaction.
func NewPostgres(db DBTX) *Postgres {
	return &Postgres{db: db}
}

const importJobColumns = `id, module_key, source_ref, file_name, total_rows, mapping, context,
	status, processed_rows, success_rows, error_rows, skipped_rows, row_errors,
	created_by, created_at, started_at, completed_at`

// CreateImportJob implements Store.
func (p *Postgres) CreateImportJob(ctx context.Context, j *job.ImportJob) error {
	mapping, err := json.Marshal(j.Mapping)
	if err != nil {
		return fmt.Errorf("marshal mapping: %w", err)
	}
	jobCtx, err := marshalContext(j.Context)
	if err != nil {
		return err
	}

	_, err = p.db.Exec(ctx, `
		INSERT INTO import_jobs (id, module_key, source_ref, file_name, total_rows, mapping, context, status, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		j.ID, j.ModuleKey, j.SourceRef, j.FileName, j.TotalRows, mapping, jobCtx, j.Status, j.CreatedBy, j.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert import job: %w", err)
	}
	return nil
}

// GetImportJob implements Store.
func (p *Postgres) GetImportJob(ctx context.Context, id string) (*job.ImportJob, error) {
	row := p.db.QueryRow(ctx, `SELECT `+importJobColumns+` FROM import_jobs WHERE id = $1`, id)
	return scanImportJob(row)
}

// ListImportJobs implements Store.
func (p *Postgres) ListImportJobs(ctx context.Context, createdBy string, limit int) ([]*job.ImportJob, error) {
	rows, err := p.db.Query(ctx, `
		SELECT `+importJobColumns+` FROM import_jobs
		WHERE ($1 = '' OR created_by = $1)
		ORDER BY created_at DESC
		LIMIT $2`,
		createdBy, nullablePositive(limit))
	if err != nil {
		return nil, fmt.Errorf("list import jobs: %w", err)
	}
	defer rows.Close()

	var result []*job.ImportJob
	for rows.Next() {
		j, err := scanImportJob(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, j)
	}
	return result, rows.Err()
}

// ClaimNextImportJob implements Store. The conditional update with SKIP
// LOCKED makes the claim atomic: of any number of concurrent claimers, at
// most one sees the job while it is still pending.
func (p *Postgres) ClaimNextImportJob(ctx context.Context) (*job.ImportJob, error) {
	row := p.db.QueryRow(ctx, `
		UPDATE import_jobs SET status = $1, started_at = now()
		WHERE id = (
			SELECT id FROM import_jobs
			WHERE status = $2
			ORDER BY created_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		) AND status = $2
		RETURNING `+importJobColumns,
		job.StatusProcessing, job.StatusPending)

	j, err := scanImportJob(row)
	if errors.Is(err, job.ErrJobNotFound) {
		return nil, ErrNoPendingJobs
	}
	return j, err
}

// ImportJobStatus implements Store.
func (p *Postgres) ImportJobStatus(ctx context.Context, id string) (job.Status, error) {
	var status job.Status
	err := p.db.QueryRow(ctx, `SELECT status FROM import_jobs WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", job.ErrJobNotFound
	}
	if err != nil {
		return "", fmt.Errorf("import job status: %w", err)
	}
	return status, nil
}

// UpdateImportProgress implements Store.
func (p *Postgres) UpdateImportProgress(ctx context.Context, id string, processed, success, errored, skipped int) error {
	_, err := p.db.Exec(ctx, `
		UPDATE import_jobs
		SET processed_rows = $2, success_rows = $3, error_rows = $4, skipped_rows = $5
		WHERE id = $1`,
		id, processed, success, errored, skipped)
	if err != nil {
		return fmt.Errorf("update import progress: %w", err)
	}
	return nil
}

// FinishImportJob implements Store. A job cancelled underneath the
// processor keeps its cancelled status; counters and completion time are
// recorded either way.
func (p *Postgres) FinishImportJob(ctx context.Context, id string, status job.Status, processed, success, errored, skipped int, rowErrors []job.RowError) error {
	errs, err := json.Marshal(emptyToSlice(rowErrors))
	if err != nil {
		return fmt.Errorf("marshal row errors: %w", err)
	}

	_, err = p.db.Exec(ctx, `
		UPDATE import_jobs
		SET status = CASE WHEN status = $6 THEN status ELSE $2 END,
		    processed_rows = $3::int, success_rows = $4::int, error_rows = $5::int,
		    skipped_rows = $7::int, row_errors = $8, completed_at = now()
		WHERE id = $1 AND status IN ($9, $6)`,
		id, status, processed, success, errored, job.StatusCancelled, skipped, errs, job.StatusProcessing)
	if err != nil {
		return fmt.Errorf("finish import job: %w", err)
	}
	return nil
}

// CancelImportJob implements Store.
func (p *Postgres) CancelImportJob(ctx context.Context, id string) (bool, error) {
	tag, err := p.db.Exec(ctx, `
		UPDATE import_jobs
		SET status = $2,
		    completed_at = CASE WHEN status = $3 THEN now() ELSE completed_at END
		WHERE id = $1 AND status IN ($3, $4)`,
		id, job.StatusCancelled, job.StatusPending, job.StatusProcessing)
	if err != nil {
		return false, fmt.Errorf("cancel import job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish "missing" from "already terminal".
		if _, err := p.ImportJobStatus(ctx, id); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

// ResetStuckImportJobs implements Store.
func (p *Postgres) ResetStuckImportJobs(ctx context.Context, stuckBefore time.Time) ([]string, error) {
	rows, err := p.db.Query(ctx, `
		UPDATE import_jobs SET status = $1, started_at = NULL
		WHERE status = $2 AND started_at < $3
		RETURNING id`,
		job.StatusPending, job.StatusProcessing, stuckBefore)
	if err != nil {
		return nil, fmt.Errorf("reset stuck import jobs: %w", err)
	}
	defer rows.Close()
	return collectIDs(rows)
}

const exportJobColumns = `id, module_key, file_name, filters, columns, context, status,
	total_rows, artifact_ref, storage_location, created_by, created_at, started_at, completed_at`

// CreateExportJob implements Store.
func (p *Postgres) CreateExportJob(ctx context.Context, j *job.ExportJob) error {
	filters, err := marshalStringMap(j.Filters)
	if err != nil {
		return err
	}
	columns, err := json.Marshal(emptyToSlice(j.Columns))
	if err != nil {
		return fmt.Errorf("marshal columns: %w", err)
	}
	jobCtx, err := marshalContext(j.Context)
	if err != nil {
		return err
	}

	_, err = p.db.Exec(ctx, `
		INSERT INTO export_jobs (id, module_key, file_name, filters, columns, context, status, created_by, created_at, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		j.ID, j.ModuleKey, j.FileName, filters, columns, jobCtx, j.Status, j.CreatedBy, j.CreatedAt, j.StartedAt)
	if err != nil {
		return fmt.Errorf("insert export job: %w", err)
	}
	return nil
}

// GetExportJob implements Store.
func (p *Postgres) GetExportJob(ctx context.Context, id string) (*job.ExportJob, error) {
	row := p.db.QueryRow(ctx, `SELECT `+exportJobColumns+` FROM export_jobs WHERE id = $1`, id)
	return scanExportJob(row)
}

// ListExportJobs implements Store.
func (p *Postgres) ListExportJobs(ctx context.Context, createdBy string, limit int) ([]*job.ExportJob, error) {
	rows, err := p.db.Query(ctx, `
		SELECT `+exportJobColumns+` FROM export_jobs
		WHERE ($1 = '' OR created_by = $1)
		ORDER BY created_at DESC
		LIMIT $2`,
		createdBy, nullablePositive(limit))
	if err != nil {
		return nil, fmt.Errorf("list export jobs: %w", err)
	}
	defer rows.Close()

	var result []*job.ExportJob
	for rows.Next() {
		j, err := scanExportJob(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, j)
	}
	return result, rows.Err()
}

// ClaimNextExportJob implements Store.
func (p *Postgres) ClaimNextExportJob(ctx context.Context) (*job.ExportJob, error) {
	row := p.db.QueryRow(ctx, `
		UPDATE export_jobs SET status = $1, started_at = now()
		WHERE id = (
			SELECT id FROM export_jobs
			WHERE status = $2
			ORDER BY created_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		) AND status = $2
		RETURNING `+exportJobColumns,
		job.StatusProcessing, job.StatusPending)

	j, err := scanExportJob(row)
	if errors.Is(err, job.ErrJobNotFound) {
		return nil, ErrNoPendingJobs
	}
	return j, err
}

// FinishExportJob implements Store.
func (p *Postgres) FinishExportJob(ctx context.Context, id string, status job.Status, totalRows int, artifactRef, location string) error {
	_, err := p.db.Exec(ctx, `
		UPDATE export_jobs
		SET status = $2, total_rows = $3, artifact_ref = $4, storage_location = $5, completed_at = now()
		WHERE id = $1 AND status = $6`,
		id, status, totalRows, artifactRef, location, job.StatusProcessing)
	if err != nil {
		return fmt.Errorf("finish export job: %w", err)
	}
	return nil
}

// ResetStuckExportJobs implements Store.
func (p *Postgres) ResetStuckExportJobs(ctx context.Context, stuckBefore time.Time) ([]string, error) {
	rows, err := p.db.Query(ctx, `
		UPDATE export_jobs SET status = $1, started_at = NULL
		WHERE status = $2 AND started_at < $3
		RETURNING id`,
		job.StatusPending, job.StatusProcessing, stuckBefore)
	if err != nil {
		return nil, fmt.Errorf("reset stuck export jobs: %w", err)
	}
	defer rows.Close()
	return collectIDs(rows)
}

const scheduledExportColumns = `id, name, module_key, filters, columns, context, schedule,
	recipients, format, active, last_run_at, next_run_at, created_by, created_at`

// CreateScheduledExport implements Store.
func (p *Postgres) CreateScheduledExport(ctx context.Context, s *job.ScheduledExport) error {
	filters, err := marshalStringMap(s.Filters)
	if err != nil {
		return err
	}
	columns, err := json.Marshal(emptyToSlice(s.Columns))
	if err != nil {
		return fmt.Errorf("marshal columns: %w", err)
	}
	jobCtx, err := marshalContext(s.Context)
	if err != nil {
		return err
	}
	recipients, err := json.Marshal(emptyToSlice(s.Recipients))
	if err != nil {
		return fmt.Errorf("marshal recipients: %w", err)
	}

	_, err = p.db.Exec(ctx, `
		INSERT INTO scheduled_exports (id, name, module_key, filters, columns, context, schedule, recipients, format, active, next_run_at, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		s.ID, s.Name, s.ModuleKey, filters, columns, jobCtx, s.Schedule, recipients, s.Format, s.Active, s.NextRunAt, s.CreatedBy, s.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert scheduled export: %w", err)
	}
	return nil
}

// GetScheduledExport implements Store.
func (p *Postgres) GetScheduledExport(ctx context.Context, id string) (*job.ScheduledExport, error) {
	row := p.db.QueryRow(ctx, `SELECT `+scheduledExportColumns+` FROM scheduled_exports WHERE id = $1`, id)
	return scanScheduledExport(row)
}

// ListScheduledExports implements Store.
func (p *Postgres) ListScheduledExports(ctx context.Context, createdBy string, limit int) ([]*job.ScheduledExport, error) {
	rows, err := p.db.Query(ctx, `
		SELECT `+scheduledExportColumns+` FROM scheduled_exports
		WHERE ($1 = '' OR created_by = $1)
		ORDER BY created_at DESC
		LIMIT $2`,
		createdBy, nullablePositive(limit))
	if err != nil {
		return nil, fmt.Errorf("list scheduled exports: %w", err)
	}
	defer rows.Close()

	var result []*job.ScheduledExport
	for rows.Next() {
		s, err := scanScheduledExport(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, s)
	}
	return result, rows.Err()
}

// SetScheduledExportActive implements Store.
func (p *Postgres) SetScheduledExportActive(ctx context.Context, id string, active bool, nextRunAt *time.Time) error {
	tag, err := p.db.Exec(ctx, `
		UPDATE scheduled_exports SET active = $2, next_run_at = $3 WHERE id = $1`,
		id, active, nextRunAt)
	if err != nil {
		return fmt.Errorf("set scheduled export active: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return job.ErrJobNotFound
	}
	return nil
}

// DueScheduledExports implements Store.
func (p *Postgres) DueScheduledExports(ctx context.Context, now time.Time, limit int) ([]*job.ScheduledExport, error) {
	rows, err := p.db.Query(ctx, `
		SELECT `+scheduledExportColumns+` FROM scheduled_exports
		WHERE active AND next_run_at IS NOT NULL AND next_run_at <= $1
		ORDER BY next_run_at
		LIMIT $2`,
		now, nullablePositive(limit))
	if err != nil {
		return nil, fmt.Errorf("due scheduled exports: %w", err)
	}
	defer rows.Close()

	var result []*job.ScheduledExport
	for rows.Next() {
		s, err := scanScheduledExport(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, s)
	}
	return result, rows.Err()
}

// AdvanceScheduledExport implements Store.
func (p *Postgres) AdvanceScheduledExport(ctx context.Context, id string, lastRunAt, nextRunAt time.Time) error {
	_, err := p.db.Exec(ctx, `
		UPDATE scheduled_exports SET last_run_at = $2, next_run_at = $3 WHERE id = $1`,
		id, lastRunAt, nextRunAt)
	if err != nil {
		return fmt.Errorf("advance scheduled export: %w", err)
	}
	return nil
}

// CreateRun implements Store.
func (p *Postgres) CreateRun(ctx context.Context, r *job.ScheduledExportRun) error {
	_, err := p.db.Exec(ctx, `
		INSERT INTO scheduled_export_runs (id, scheduled_export_id, export_job_id, status, error, sent_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		r.ID, r.ScheduledExportID, nullIfEmpty(r.ExportJobID), r.Status, r.Error, r.SentAt, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// UpdateRun implements Store.
func (p *Postgres) UpdateRun(ctx context.Context, r *job.ScheduledExportRun) error {
	_, err := p.db.Exec(ctx, `
		UPDATE scheduled_export_runs
		SET export_job_id = $2, status = $3, error = $4, sent_at = $5
		WHERE id = $1`,
		r.ID, nullIfEmpty(r.ExportJobID), r.Status, r.Error, r.SentAt)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	return nil
}

// ListRuns implements Store.
func (p *Postgres) ListRuns(ctx context.Context, scheduledExportID string, limit int) ([]*job.ScheduledExportRun, error) {
	rows, err := p.db.Query(ctx, `
		SELECT id, scheduled_export_id, COALESCE(export_job_id::text, ''), status, error, sent_at, created_at
		FROM scheduled_export_runs
		WHERE scheduled_export_id = $1
		ORDER BY created_at DESC
		LIMIT $2`,
		scheduledExportID, nullablePositive(limit))
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var result []*job.ScheduledExportRun
	for rows.Next() {
		r := &job.ScheduledExportRun{}
		if err := rows.Scan(&r.ID, &r.ScheduledExportID, &r.ExportJobID, &r.Status, &r.Error, &r.SentAt, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

// Scan helpers

func scanImportJob(row pgx.Row) (*job.ImportJob, error) {
	j := &job.ImportJob{}
	var mapping, jobCtx, rowErrors []byte
	err := row.Scan(&j.ID, &j.ModuleKey, &j.SourceRef, &j.FileName, &j.TotalRows, &mapping, &jobCtx,
		&j.Status, &j.ProcessedRows, &j.SuccessRows, &j.ErrorRows, &j.SkippedRows, &rowErrors,
		&j.CreatedBy, &j.CreatedAt, &j.StartedAt, &j.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, job.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan import job: %w", err)
	}
	if err := json.Unmarshal(mapping, &j.Mapping); err != nil {
		return nil, fmt.Errorf("unmarshal mapping: %w", err)
	}
	if err := json.Unmarshal(jobCtx, &j.Context); err != nil {
		return nil, fmt.Errorf("unmarshal context: %w", err)
	}
	if err := json.Unmarshal(rowErrors, &j.Errors); err != nil {
		return nil, fmt.Errorf("unmarshal row errors: %w", err)
	}
	return j, nil
}

func scanExportJob(row pgx.Row) (*job.ExportJob, error) {
	j := &job.ExportJob{}
	var filters, columns, jobCtx []byte
	err := row.Scan(&j.ID, &j.ModuleKey, &j.FileName, &filters, &columns, &jobCtx, &j.Status,
		&j.TotalRows, &j.ArtifactRef, &j.StorageLocation, &j.CreatedBy, &j.CreatedAt, &j.StartedAt, &j.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, job.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan export job: %w", err)
	}
	if err := json.Unmarshal(filters, &j.Filters); err != nil {
		return nil, fmt.Errorf("unmarshal filters: %w", err)
	}
	if err := json.Unmarshal(columns, &j.Columns); err != nil {
		return nil, fmt.Errorf("unmarshal columns: %w", err)
	}
	if err := json.Unmarshal(jobCtx, &j.Context); err != nil {
		return nil, fmt.Errorf("unmarshal context: %w", err)
	}
	return j, nil
}

func scanScheduledExport(row pgx.Row) (*job.ScheduledExport, error) {
	s := &job.ScheduledExport{}
	var filters, columns, jobCtx, recipients []byte
	err := row.Scan(&s.ID, &s.Name, &s.ModuleKey, &filters, &columns, &jobCtx, &s.Schedule,
		&recipients, &s.Format, &s.Active, &s.LastRunAt, &s.NextRunAt, &s.CreatedBy, &s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, job.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan scheduled export: %w", err)
	}
	if err := json.Unmarshal(filters, &s.Filters); err != nil {
		return nil, fmt.Errorf("unmarshal filters: %w", err)
	}
	if err := json.Unmarshal(columns, &s.Columns); err != nil {
		return nil, fmt.Errorf("unmarshal columns: %w", err)
	}
	if err := json.Unmarshal(jobCtx, &s.Context); err != nil {
		return nil, fmt.Errorf("unmarshal context: %w", err)
	}
	if err := json.Unmarshal(recipients, &s.Recipients); err != nil {
		return nil, fmt.Errorf("unmarshal recipients: %w", err)
	}
	return s, nil
}

func collectIDs(rows pgx.Rows) ([]string, error) {
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// marshalStringMap marshals a map as a JSON object, never null.
func marshalStringMap(m map[string]string) ([]byte, error) {
	if m == nil {
		m = map[string]string{}
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal map: %w", err)
	}
	return data, nil
}

func marshalContext[M ~map[string]string](m M) ([]byte, error) {
	return marshalStringMap(map[string]string(m))
}

// emptyToSlice keeps JSONB columns as [] instead of null.
func emptyToSlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// nullablePositive converts a non-positive limit to NULL (no limit).
func nullablePositive(limit int) any {
	if limit <= 0 {
		return nil
	}
	return limit
}

// nullIfEmpty converts "" to NULL for nullable uuid columns.
func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
