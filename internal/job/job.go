// Package job defines the durable records that flow through the bulk data
// exchange pipeline: import jobs, export jobs, scheduled export definitions
// and their run history. The job store is the single source of truth for
// job state; only the pipeline mutates status and progress fields.
package job

import (
	"time"

	"github.com/JonMunkholm/bulk/internal/registry"
)

// Status is the lifecycle state of an import or export job.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether the status is final. Terminal jobs are never
// resurrected, not even by the stuck-job recovery sweep.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// RunStatus is the lifecycle state of a single scheduled-export firing.
type RunStatus string

const (
	RunProcessing RunStatus = "processing"
	RunExporting  RunStatus = "exporting"
	RunSending    RunStatus = "sending"
	RunSent       RunStatus = "sent"
	RunFailed     RunStatus = "failed"
)

// Terminal reports whether the run reached a final outcome.
func (s RunStatus) Terminal() bool {
	return s == RunSent || s == RunFailed
}

// ColumnMapping binds one template field to a source spreadsheet column.
// SourceColumn is empty when the field is unmapped; a required field must
// always have a source column by the time the job is created.
type ColumnMapping struct {
	Field        string             `json:"field"`
	SourceColumn string             `json:"sourceColumn,omitempty"`
	Required     bool               `json:"required"`
	Type         registry.FieldType `json:"type"`
	EnumValues   []string           `json:"enumValues,omitempty"`
}

// RowError records a single non-fatal row failure. Row is 1-based over the
// data rows (the header row is not counted). Row 0 is reserved for synthetic
// job-level failures such as an unreadable source file.
type RowError struct {
	Row     int    `json:"row"`
	Message string `json:"message"`
}

// ImportJob is one asynchronous spreadsheet-to-domain-table unit of work.
//
// Invariants: ProcessedRows <= TotalRows at all times, and
// SuccessRows+ErrorRows+SkippedRows == ProcessedRows once processing halts
// normally. Status only moves pending -> processing -> {completed|failed},
// or from any non-terminal state to cancelled.
type ImportJob struct {
	ID        string           `json:"id"`
	ModuleKey string           `json:"moduleKey"`
	SourceRef string           `json:"sourceRef"`
	FileName  string           `json:"fileName"`
	TotalRows int              `json:"totalRows"`
	Mapping   []ColumnMapping  `json:"mapping"`
	Context   registry.Context `json:"context,omitempty"`
	Status    Status           `json:"status"`

	ProcessedRows int        `json:"processedRows"`
	SuccessRows   int        `json:"successRows"`
	ErrorRows     int        `json:"errorRows"`
	SkippedRows   int        `json:"skippedRows"`
	Errors        []RowError `json:"errors,omitempty"`

	CreatedBy   string     `json:"createdBy"`
	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// ExportJob is one asynchronous domain-table-to-spreadsheet unit of work.
// TotalRows, ArtifactRef and StorageLocation are set on completion.
type ExportJob struct {
	ID        string            `json:"id"`
	ModuleKey string            `json:"moduleKey"`
	FileName  string            `json:"fileName"`
	Filters   map[string]string `json:"filters,omitempty"`
	Columns   []string          `json:"columns"`
	Context   registry.Context  `json:"context,omitempty"`
	Status    Status            `json:"status"`

	TotalRows       int    `json:"totalRows"`
	ArtifactRef     string `json:"artifactRef,omitempty"`
	StorageLocation string `json:"storageLocation,omitempty"`

	CreatedBy   string     `json:"createdBy"`
	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// ScheduledExport is a recurring export definition. Schedule is either one
// of the named shortcuts (daily, weekly, monthly) or a 5-field cron
// expression; it is validated at creation and at every re-activation.
type ScheduledExport struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	ModuleKey  string            `json:"moduleKey"`
	Filters    map[string]string `json:"filters,omitempty"`
	Columns    []string          `json:"columns"`
	Context    registry.Context  `json:"context,omitempty"`
	Schedule   string            `json:"schedule"`
	Recipients []string          `json:"recipients"`
	Format     string            `json:"format"`
	Active     bool              `json:"active"`

	LastRunAt *time.Time `json:"lastRunAt,omitempty"`
	NextRunAt *time.Time `json:"nextRunAt,omitempty"`

	CreatedBy string    `json:"createdBy"`
	CreatedAt time.Time `json:"createdAt"`
}

// ScheduledExportRun is one firing of a scheduled export. Runs are
// append-only history; a deleted parent definition leaves its runs in place
// for audit.
type ScheduledExportRun struct {
	ID                string     `json:"id"`
	ScheduledExportID string     `json:"scheduledExportId"`
	ExportJobID       string     `json:"exportJobId,omitempty"`
	Status            RunStatus  `json:"status"`
	Error             string     `json:"error,omitempty"`
	SentAt            *time.Time `json:"sentAt,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
}
