package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/bulk/internal/job"
	"github.com/JonMunkholm/bulk/internal/registry"
	"github.com/JonMunkholm/bulk/internal/schedule"
)

// ScheduleParams describes a new scheduled export definition.
type ScheduleParams struct {
	Name      string
	ModuleKey string
	Filters   map[string]string
	Columns   []string
	Context   registry.Context

	// Schedule is "daily", "weekly", "monthly" or a 5-field cron expression.
	Schedule   string
	Recipients []string
}

// CreateScheduledExport validates and persists a new recurring export
// definition. New definitions start active with the next run time computed
// from now.
func (s *Service) CreateScheduledExport(ctx context.Context, actor Actor, params ScheduleParams) (*job.ScheduledExport, error) {
	mod, ok := registry.Get(params.ModuleKey)
	if !ok {
		return nil, fmt.Errorf("%w: %q", job.ErrUnsupportedModule, params.ModuleKey)
	}
	if mod.Fetch == nil {
		return nil, fmt.Errorf("%w: module %q does not support export", job.ErrUnsupportedModule, params.ModuleKey)
	}
	if params.Name == "" {
		return nil, fmt.Errorf("%w: name is required", job.ErrInvalidInput)
	}

	sched, err := schedule.Parse(params.Schedule)
	if err != nil {
		return nil, err
	}
	if err := s.validateRecipients(params.Recipients); err != nil {
		return nil, err
	}

	columns, err := resolveColumns(mod, params.Columns)
	if err != nil {
		return nil, err
	}
	if err := validateContext(mod, params.Context); err != nil {
		return nil, err
	}

	now := time.Now()
	next := sched.Next(now)
	se := &job.ScheduledExport{
		ID:         uuid.NewString(),
		Name:       params.Name,
		ModuleKey:  params.ModuleKey,
		Filters:    params.Filters,
		Columns:    columns,
		Context:    params.Context,
		Schedule:   params.Schedule,
		Recipients: params.Recipients,
		Format:     "csv",
		Active:     true,
		NextRunAt:  &next,
		CreatedBy:  actor.ID,
		CreatedAt:  now,
	}
	if err := s.store.CreateScheduledExport(ctx, se); err != nil {
		return nil, fmt.Errorf("create scheduled export: %w", err)
	}
	return se, nil
}

// GetScheduledExport returns one of the caller's definitions.
func (s *Service) GetScheduledExport(ctx context.Context, actor Actor, id string) (*job.ScheduledExport, error) {
	se, err := s.store.GetScheduledExport(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(actor, se.CreatedBy); err != nil {
		return nil, err
	}
	return se, nil
}

// ActivateScheduledExport re-enables a definition. The stored schedule is
// re-validated and the next run time recomputed from now, so a definition
// dormant for weeks does not fire immediately for every missed window.
func (s *Service) ActivateScheduledExport(ctx context.Context, actor Actor, id string) error {
	se, err := s.GetScheduledExport(ctx, actor, id)
	if err != nil {
		return err
	}
	sched, err := schedule.Parse(se.Schedule)
	if err != nil {
		return err
	}
	next := sched.Next(time.Now())
	return s.store.SetScheduledExportActive(ctx, id, true, &next)
}

// DeactivateScheduledExport disables a definition. The engine never picks
// up inactive definitions.
func (s *Service) DeactivateScheduledExport(ctx context.Context, actor Actor, id string) error {
	if _, err := s.GetScheduledExport(ctx, actor, id); err != nil {
		return err
	}
	return s.store.SetScheduledExportActive(ctx, id, false, nil)
}

// ListScheduledExports returns the caller's definitions, newest first.
func (s *Service) ListScheduledExports(ctx context.Context, actor Actor, limit int) ([]*job.ScheduledExport, error) {
	return s.store.ListScheduledExports(ctx, s.listScope(actor), limit)
}

// ListScheduledExportRuns returns the most recent run history for one of
// the caller's definitions.
func (s *Service) ListScheduledExportRuns(ctx context.Context, actor Actor, id string) ([]*job.ScheduledExportRun, error) {
	if _, err := s.GetScheduledExport(ctx, actor, id); err != nil {
		return nil, err
	}
	return s.store.ListRuns(ctx, id, s.runHistory)
}

func (s *Service) validateRecipients(recipients []string) error {
	if len(recipients) == 0 {
		return fmt.Errorf("%w: at least one recipient is required", job.ErrInvalidInput)
	}
	for _, r := range recipients {
		if err := s.validate.Var(r, "required,email"); err != nil {
			return fmt.Errorf("%w: invalid recipient %q", job.ErrInvalidInput, r)
		}
	}
	return nil
}
