package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/bulk/internal/artifact"
	"github.com/JonMunkholm/bulk/internal/job"
	"github.com/JonMunkholm/bulk/internal/registry"
)

// ExportParams describes a new export job submission.
type ExportParams struct {
	ModuleKey string
	FileName  string

	// Filters narrow the exported record set; semantics are module-defined.
	Filters map[string]string

	// Columns selects and orders the output columns. Empty selects every
	// template column in template order.
	Columns []string

	Context registry.Context
}

// CreateExportJob validates a submission and enqueues a pending export job.
func (s *Service) CreateExportJob(ctx context.Context, actor Actor, params ExportParams) (*job.ExportJob, error) {
	mod, ok := registry.Get(params.ModuleKey)
	if !ok {
		return nil, fmt.Errorf("%w: %q", job.ErrUnsupportedModule, params.ModuleKey)
	}
	if mod.Fetch == nil {
		return nil, fmt.Errorf("%w: module %q does not support export", job.ErrUnsupportedModule, params.ModuleKey)
	}

	columns, err := resolveColumns(mod, params.Columns)
	if err != nil {
		return nil, err
	}

	if err := validateContext(mod, params.Context); err != nil {
		return nil, err
	}

	now := time.Now()
	fileName := params.FileName
	if fileName == "" {
		fileName = artifact.DefaultExportFileName(params.ModuleKey, now)
	}

	j := &job.ExportJob{
		ID:        uuid.NewString(),
		ModuleKey: params.ModuleKey,
		FileName:  fileName,
		Filters:   params.Filters,
		Columns:   columns,
		Context:   params.Context,
		Status:    job.StatusPending,
		CreatedBy: actor.ID,
		CreatedAt: now,
	}
	if err := s.store.CreateExportJob(ctx, j); err != nil {
		return nil, fmt.Errorf("create export job: %w", err)
	}
	return j, nil
}

// GetExportJob returns one of the caller's export jobs.
func (s *Service) GetExportJob(ctx context.Context, actor Actor, id string) (*job.ExportJob, error) {
	j, err := s.store.GetExportJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(actor, j.CreatedBy); err != nil {
		return nil, err
	}
	return j, nil
}

// GetExportDownload returns the generated file of a completed export job.
// Jobs not yet completed fail with job.ErrExportNotReady.
func (s *Service) GetExportDownload(ctx context.Context, actor Actor, id string) (string, []byte, error) {
	j, err := s.GetExportJob(ctx, actor, id)
	if err != nil {
		return "", nil, err
	}
	if j.Status != job.StatusCompleted {
		return "", nil, fmt.Errorf("%w: job is %s", job.ErrExportNotReady, j.Status)
	}
	data, err := s.artifacts.Get(ctx, j.ArtifactRef)
	if err != nil {
		return "", nil, &job.StorageError{Op: "get", Err: err}
	}
	return j.FileName, data, nil
}

// ListExportJobs returns the caller's export history, newest first.
func (s *Service) ListExportJobs(ctx context.Context, actor Actor, limit int) ([]*job.ExportJob, error) {
	return s.store.ListExportJobs(ctx, s.listScope(actor), limit)
}

// resolveColumns validates an explicit column selection against the module
// template, or defaults to the full template column set. Selections may use
// either the field name or the display header; the stored columns are always
// display headers so the artifact's header row reads well.
func resolveColumns(mod registry.Module, columns []string) ([]string, error) {
	if len(columns) == 0 {
		return mod.Template.Columns(), nil
	}
	resolved := make([]string, len(columns))
	for i, c := range columns {
		f, ok := mod.Template.Field(c)
		if !ok {
			f, ok = fieldByHeader(mod.Template, c)
		}
		if !ok {
			return nil, fmt.Errorf("%w: unknown column %q", job.ErrInvalidInput, c)
		}
		resolved[i] = f.DisplayHeader()
	}
	return resolved, nil
}

func fieldByHeader(tpl registry.Template, header string) (registry.FieldSpec, bool) {
	for _, f := range tpl.Fields {
		if strings.EqualFold(f.DisplayHeader(), header) {
			return f, true
		}
	}
	return registry.FieldSpec{}, false
}
