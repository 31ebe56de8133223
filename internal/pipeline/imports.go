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
	"github.com/JonMunkholm/bulk/internal/tabular"
)

// ImportParams describes a new import job submission.
type ImportParams struct {
	ModuleKey string
	FileName  string
	Data      []byte

	// Template names one of the module's reusable mapping presets. Preset
	// entries apply before Mapping, so an explicit Mapping entry wins over
	// the preset for the same field.
	Template string

	// Mapping overrides the automatic header match: field name -> source
	// column header. Fields absent from the map are auto-matched.
	Mapping map[string]string

	// Context carries module-specific parameters such as the duplicate
	// strategy or a target container id.
	Context registry.Context
}

// Preview is the decoded head of an upload, for the column-mapping path.
type Preview struct {
	Headers []string            `json:"headers"`
	Rows    []map[string]string `json:"rows"`
	Sampled int                 `json:"sampled"`
}

// PreviewUpload decodes the first rows of an upload without creating a job.
func (s *Service) PreviewUpload(ctx context.Context, data []byte) (*Preview, error) {
	doc, err := tabular.DecodeLimit(data, s.previewRows)
	if err != nil {
		return nil, err
	}
	return &Preview{Headers: doc.Headers, Rows: doc.Rows, Sampled: len(doc.Rows)}, nil
}

// CreateImportJob validates a submission, persists the source bytes and
// enqueues a pending import job. All structural preconditions (module
// exists, file decodes, required fields mapped, module context complete)
// are checked here so processing never sees a malformed job.
func (s *Service) CreateImportJob(ctx context.Context, actor Actor, params ImportParams) (*job.ImportJob, error) {
	mod, ok := registry.Get(params.ModuleKey)
	if !ok {
		return nil, fmt.Errorf("%w: %q", job.ErrUnsupportedModule, params.ModuleKey)
	}
	if mod.ApplyRow == nil {
		return nil, fmt.Errorf("%w: module %q does not support import", job.ErrUnsupportedModule, params.ModuleKey)
	}

	doc, err := tabular.Decode(params.Data)
	if err != nil {
		return nil, err
	}

	overrides, err := resolveMappingPreset(mod, params.Template, params.Mapping)
	if err != nil {
		return nil, err
	}

	mapping, err := buildMapping(mod.Template, doc.Headers, overrides)
	if err != nil {
		return nil, err
	}

	if err := validateContext(mod, params.Context); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	sourceRef := artifact.ImportSourceKey(id)
	if err := s.artifacts.Put(ctx, sourceRef, params.Data, "text/csv"); err != nil {
		return nil, &job.StorageError{Op: "put", Err: err}
	}

	j := &job.ImportJob{
		ID:        id,
		ModuleKey: params.ModuleKey,
		SourceRef: sourceRef,
		FileName:  params.FileName,
		TotalRows: len(doc.Rows),
		Mapping:   mapping,
		Context:   params.Context,
		Status:    job.StatusPending,
		CreatedBy: actor.ID,
		CreatedAt: time.Now(),
	}
	if err := s.store.CreateImportJob(ctx, j); err != nil {
		return nil, fmt.Errorf("create import job: %w", err)
	}
	return j, nil
}

// GetImportJob returns one of the caller's import jobs.
func (s *Service) GetImportJob(ctx context.Context, actor Actor, id string) (*job.ImportJob, error) {
	j, err := s.store.GetImportJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(actor, j.CreatedBy); err != nil {
		return nil, err
	}
	return j, nil
}

// GetImportErrors returns the itemized row-error list of one import job.
func (s *Service) GetImportErrors(ctx context.Context, actor Actor, id string) ([]job.RowError, error) {
	j, err := s.GetImportJob(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	return j.Errors, nil
}

// CancelImportJob requests cooperative cancellation. The processor
// observes the flip at the next row boundary; rows already applied stay
// applied. Returns false when the job is already terminal.
func (s *Service) CancelImportJob(ctx context.Context, actor Actor, id string) (bool, error) {
	j, err := s.store.GetImportJob(ctx, id)
	if err != nil {
		return false, err
	}
	if err := s.authorize(actor, j.CreatedBy); err != nil {
		return false, err
	}
	return s.store.CancelImportJob(ctx, id)
}

// ListImportJobs returns the caller's import history, newest first.
func (s *Service) ListImportJobs(ctx context.Context, actor Actor, limit int) ([]*job.ImportJob, error) {
	return s.store.ListImportJobs(ctx, s.listScope(actor), limit)
}

// ListImportTemplates returns a module's reusable mapping presets.
func (s *Service) ListImportTemplates(moduleKey string) ([]registry.ImportTemplate, error) {
	mod, ok := registry.Get(moduleKey)
	if !ok {
		return nil, fmt.Errorf("%w: %q", job.ErrUnsupportedModule, moduleKey)
	}
	return mod.ImportTemplates, nil
}

// resolveMappingPreset merges a named mapping preset with the caller's
// explicit overrides. With no preset name the overrides pass through
// untouched.
func resolveMappingPreset(mod registry.Module, template string, overrides map[string]string) (map[string]string, error) {
	if template == "" {
		return overrides, nil
	}
	preset, ok := mod.ImportTemplate(template)
	if !ok {
		return nil, fmt.Errorf("%w: unknown import template %q", job.ErrInvalidInput, template)
	}
	merged := make(map[string]string, len(preset.Mapping)+len(overrides))
	for field, col := range preset.Mapping {
		merged[field] = col
	}
	for field, col := range overrides {
		merged[field] = col
	}
	return merged, nil
}

// buildMapping binds every template field to a source column: an explicit
// override when given, otherwise a case-insensitive match on the field's
// header or name. A required field left unbound fails with
// job.ErrMissingRequiredMapping.
func buildMapping(tpl registry.Template, headers []string, overrides map[string]string) ([]job.ColumnMapping, error) {
	mapping := make([]job.ColumnMapping, 0, len(tpl.Fields))
	for _, f := range tpl.Fields {
		source := overrides[f.Name]
		if source == "" {
			source = matchHeader(headers, f)
		} else if !containsFold(headers, source) {
			return nil, fmt.Errorf("%w: column %q mapped to %q not present in file", job.ErrMissingRequiredMapping, f.Name, source)
		}
		if source == "" && f.Required {
			return nil, fmt.Errorf("%w: %q", job.ErrMissingRequiredMapping, f.Name)
		}
		mapping = append(mapping, job.ColumnMapping{
			Field:        f.Name,
			SourceColumn: source,
			Required:     f.Required,
			Type:         f.Type,
			EnumValues:   f.EnumValues,
		})
	}
	return mapping, nil
}

// matchHeader finds the first header equal to the field's display header
// or name, ignoring case.
func matchHeader(headers []string, f registry.FieldSpec) string {
	for _, h := range headers {
		if strings.EqualFold(h, f.DisplayHeader()) || strings.EqualFold(h, f.Name) {
			return h
		}
	}
	return ""
}

func containsFold(headers []string, want string) bool {
	for _, h := range headers {
		if strings.EqualFold(h, want) {
			return true
		}
	}
	return false
}

// validateContext checks the duplicate strategy spelling and runs the
// module's own structural context validation.
func validateContext(mod registry.Module, jobCtx registry.Context) error {
	if raw, ok := jobCtx[registry.ContextKeyDuplicateStrategy]; ok {
		if _, err := registry.ParseDuplicateStrategy(raw); err != nil {
			return fmt.Errorf("%w: %v", job.ErrInvalidInput, err)
		}
	}
	if mod.ValidateContext != nil {
		if err := mod.ValidateContext(jobCtx); err != nil {
			return fmt.Errorf("%w: %v", job.ErrInvalidInput, err)
		}
	}
	return nil
}
