package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/JonMunkholm/bulk/internal/job"
)

// Memory is a mutex-guarded in-memory Store with the same semantics as the
// Postgres implementation. It backs the test suite and small embedded
// deployments; all returned records are deep copies so callers can never
// mutate stored state directly.
type Memory struct {
	mu        sync.Mutex
	imports   map[string]*job.ImportJob
	exports   map[string]*job.ExportJob
	schedules map[string]*job.ScheduledExport
	runs      map[string]*job.ScheduledExportRun
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		imports:   make(map[string]*job.ImportJob),
		exports:   make(map[string]*job.ExportJob),
		schedules: make(map[string]*job.ScheduledExport),
		runs:      make(map[string]*job.ScheduledExportRun),
	}
}

// CreateImportJob implements Store.
func (m *Memory) CreateImportJob(ctx context.Context, j *job.ImportJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.imports[j.ID] = copyImport(j)
	return nil
}

// GetImportJob implements Store.
func (m *Memory) GetImportJob(ctx context.Context, id string) (*job.ImportJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.imports[id]
	if !ok {
		return nil, job.ErrJobNotFound
	}
	return copyImport(j), nil
}

// ListImportJobs implements Store.
func (m *Memory) ListImportJobs(ctx context.Context, createdBy string, limit int) ([]*job.ImportJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []*job.ImportJob
	for _, j := range m.imports {
		if createdBy == "" || j.CreatedBy == createdBy {
			result = append(result, copyImport(j))
		}
	}
	sort.Slice(result, func(i, k int) bool { return result[i].CreatedAt.After(result[k].CreatedAt) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// ClaimNextImportJob implements Store.
func (m *Memory) ClaimNextImportJob(ctx context.Context) (*job.ImportJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j := oldestPending(m.imports, func(j *job.ImportJob) (job.Status, time.Time) { return j.Status, j.CreatedAt })
	if j == nil {
		return nil, ErrNoPendingJobs
	}
	now := time.Now()
	j.Status = job.StatusProcessing
	j.StartedAt = &now
	return copyImport(j), nil
}

// ImportJobStatus implements Store.
func (m *Memory) ImportJobStatus(ctx context.Context, id string) (job.Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.imports[id]
	if !ok {
		return "", job.ErrJobNotFound
	}
	return j.Status, nil
}

// UpdateImportProgress implements Store.
func (m *Memory) UpdateImportProgress(ctx context.Context, id string, processed, success, errored, skipped int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.imports[id]
	if !ok {
		return job.ErrJobNotFound
	}
	j.ProcessedRows = processed
	j.SuccessRows = success
	j.ErrorRows = errored
	j.SkippedRows = skipped
	return nil
}

// FinishImportJob implements Store.
func (m *Memory) FinishImportJob(ctx context.Context, id string, status job.Status, processed, success, errored, skipped int, rowErrors []job.RowError) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.imports[id]
	if !ok {
		return job.ErrJobNotFound
	}
	if j.Status != job.StatusProcessing && j.Status != job.StatusCancelled {
		return nil
	}
	// A cancellation that raced the processor wins on status; counters and
	// completion time are still recorded.
	if j.Status != job.StatusCancelled {
		j.Status = status
	}
	now := time.Now()
	j.CompletedAt = &now
	j.ProcessedRows = processed
	j.SuccessRows = success
	j.ErrorRows = errored
	j.SkippedRows = skipped
	j.Errors = append([]job.RowError(nil), rowErrors...)
	return nil
}

// CancelImportJob implements Store.
func (m *Memory) CancelImportJob(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.imports[id]
	if !ok {
		return false, job.ErrJobNotFound
	}
	if j.Status.Terminal() {
		return false, nil
	}
	// A pending job will never be visited by a processor, so the
	// completion time is stamped here; a processing job gets its stamp
	// from the processor at the next row boundary.
	if j.Status == job.StatusPending {
		now := time.Now()
		j.CompletedAt = &now
	}
	j.Status = job.StatusCancelled
	return true, nil
}

// ResetStuckImportJobs implements Store.
func (m *Memory) ResetStuckImportJobs(ctx context.Context, stuckBefore time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var ids []string
	for _, j := range m.imports {
		if j.Status == job.StatusProcessing && j.StartedAt != nil && j.StartedAt.Before(stuckBefore) {
			j.Status = job.StatusPending
			j.StartedAt = nil
			ids = append(ids, j.ID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// CreateExportJob implements Store.
func (m *Memory) CreateExportJob(ctx context.Context, j *job.ExportJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exports[j.ID] = copyExport(j)
	return nil
}

// GetExportJob implements Store.
func (m *Memory) GetExportJob(ctx context.Context, id string) (*job.ExportJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.exports[id]
	if !ok {
		return nil, job.ErrJobNotFound
	}
	return copyExport(j), nil
}

// ListExportJobs implements Store.
func (m *Memory) ListExportJobs(ctx context.Context, createdBy string, limit int) ([]*job.ExportJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []*job.ExportJob
	for _, j := range m.exports {
		if createdBy == "" || j.CreatedBy == createdBy {
			result = append(result, copyExport(j))
		}
	}
	sort.Slice(result, func(i, k int) bool { return result[i].CreatedAt.After(result[k].CreatedAt) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// ClaimNextExportJob implements Store.
func (m *Memory) ClaimNextExportJob(ctx context.Context) (*job.ExportJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j := oldestPending(m.exports, func(j *job.ExportJob) (job.Status, time.Time) { return j.Status, j.CreatedAt })
	if j == nil {
		return nil, ErrNoPendingJobs
	}
	now := time.Now()
	j.Status = job.StatusProcessing
	j.StartedAt = &now
	return copyExport(j), nil
}

// FinishExportJob implements Store.
func (m *Memory) FinishExportJob(ctx context.Context, id string, status job.Status, totalRows int, artifactRef, location string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.exports[id]
	if !ok {
		return job.ErrJobNotFound
	}
	if j.Status != job.StatusProcessing {
		return nil
	}
	now := time.Now()
	j.Status = status
	j.CompletedAt = &now
	j.TotalRows = totalRows
	j.ArtifactRef = artifactRef
	j.StorageLocation = location
	return nil
}

// ResetStuckExportJobs implements Store.
func (m *Memory) ResetStuckExportJobs(ctx context.Context, stuckBefore time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var ids []string
	for _, j := range m.exports {
		if j.Status == job.StatusProcessing && j.StartedAt != nil && j.StartedAt.Before(stuckBefore) {
			j.Status = job.StatusPending
			j.StartedAt = nil
			ids = append(ids, j.ID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// CreateScheduledExport implements Store.
func (m *Memory) CreateScheduledExport(ctx context.Context, s *job.ScheduledExport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schedules[s.ID] = copySchedule(s)
	return nil
}

// GetScheduledExport implements Store.
func (m *Memory) GetScheduledExport(ctx context.Context, id string) (*job.ScheduledExport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.schedules[id]
	if !ok {
		return nil, job.ErrJobNotFound
	}
	return copySchedule(s), nil
}

// ListScheduledExports implements Store.
func (m *Memory) ListScheduledExports(ctx context.Context, createdBy string, limit int) ([]*job.ScheduledExport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []*job.ScheduledExport
	for _, s := range m.schedules {
		if createdBy == "" || s.CreatedBy == createdBy {
			result = append(result, copySchedule(s))
		}
	}
	sort.Slice(result, func(i, k int) bool { return result[i].CreatedAt.After(result[k].CreatedAt) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// SetScheduledExportActive implements Store.
func (m *Memory) SetScheduledExportActive(ctx context.Context, id string, active bool, nextRunAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.schedules[id]
	if !ok {
		return job.ErrJobNotFound
	}
	s.Active = active
	s.NextRunAt = copyTime(nextRunAt)
	return nil
}

// DueScheduledExports implements Store.
func (m *Memory) DueScheduledExports(ctx context.Context, now time.Time, limit int) ([]*job.ScheduledExport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var due []*job.ScheduledExport
	for _, s := range m.schedules {
		if s.Active && s.NextRunAt != nil && !s.NextRunAt.After(now) {
			due = append(due, copySchedule(s))
		}
	}
	sort.Slice(due, func(i, k int) bool { return due[i].NextRunAt.Before(*due[k].NextRunAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// AdvanceScheduledExport implements Store.
func (m *Memory) AdvanceScheduledExport(ctx context.Context, id string, lastRunAt, nextRunAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.schedules[id]
	if !ok {
		return job.ErrJobNotFound
	}
	last, next := lastRunAt, nextRunAt
	s.LastRunAt = &last
	s.NextRunAt = &next
	return nil
}

// CreateRun implements Store.
func (m *Memory) CreateRun(ctx context.Context, r *job.ScheduledExportRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[r.ID] = copyRun(r)
	return nil
}

// UpdateRun implements Store.
func (m *Memory) UpdateRun(ctx context.Context, r *job.ScheduledExportRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.runs[r.ID]
	if !ok {
		return job.ErrJobNotFound
	}
	stored.ExportJobID = r.ExportJobID
	stored.Status = r.Status
	stored.Error = r.Error
	stored.SentAt = copyTime(r.SentAt)
	return nil
}

// ListRuns implements Store.
func (m *Memory) ListRuns(ctx context.Context, scheduledExportID string, limit int) ([]*job.ScheduledExportRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []*job.ScheduledExportRun
	for _, r := range m.runs {
		if r.ScheduledExportID == scheduledExportID {
			result = append(result, copyRun(r))
		}
	}
	sort.Slice(result, func(i, k int) bool { return result[i].CreatedAt.After(result[k].CreatedAt) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// oldestPending returns the stored pending record with the earliest
// creation time, or nil.
func oldestPending[T any](records map[string]*T, fields func(*T) (job.Status, time.Time)) *T {
	var oldest *T
	var oldestAt time.Time
	for _, r := range records {
		status, createdAt := fields(r)
		if status != job.StatusPending {
			continue
		}
		if oldest == nil || createdAt.Before(oldestAt) {
			oldest = r
			oldestAt = createdAt
		}
	}
	return oldest
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func copyStringMap[M ~map[string]string](m M) M {
	if m == nil {
		return nil
	}
	out := make(M, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyImport(j *job.ImportJob) *job.ImportJob {
	out := *j
	out.Mapping = append([]job.ColumnMapping(nil), j.Mapping...)
	out.Context = copyStringMap(j.Context)
	out.Errors = append([]job.RowError(nil), j.Errors...)
	out.StartedAt = copyTime(j.StartedAt)
	out.CompletedAt = copyTime(j.CompletedAt)
	return &out
}

func copyExport(j *job.ExportJob) *job.ExportJob {
	out := *j
	out.Filters = copyStringMap(j.Filters)
	out.Columns = append([]string(nil), j.Columns...)
	out.Context = copyStringMap(j.Context)
	out.StartedAt = copyTime(j.StartedAt)
	out.CompletedAt = copyTime(j.CompletedAt)
	return &out
}

func copySchedule(s *job.ScheduledExport) *job.ScheduledExport {
	out := *s
	out.Filters = copyStringMap(s.Filters)
	out.Columns = append([]string(nil), s.Columns...)
	out.Context = copyStringMap(s.Context)
	out.Recipients = append([]string(nil), s.Recipients...)
	out.LastRunAt = copyTime(s.LastRunAt)
	out.NextRunAt = copyTime(s.NextRunAt)
	return &out
}

func copyRun(r *job.ScheduledExportRun) *job.ScheduledExportRun {
	out := *r
	out.SentAt = copyTime(r.SentAt)
	return &out
}
