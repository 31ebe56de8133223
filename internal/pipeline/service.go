// Package pipeline ties the bulk data exchange together: the submission
// service that callers use to create and inspect jobs, and the supervisor
// that owns the background loops (pollers, recovery sweep, scheduled
// export engine).
package pipeline

import (
	"github.com/go-playground/validator/v10"

	"github.com/JonMunkholm/bulk/internal/artifact"
	"github.com/JonMunkholm/bulk/internal/job"
	"github.com/JonMunkholm/bulk/internal/store"
)

// DefaultPreviewRows is how many data rows the upload preview decodes.
const DefaultPreviewRows = 20

// DefaultRunHistory caps how many runs are returned per scheduled export.
const DefaultRunHistory = 20

// Actor identifies the caller of a service method. Elevated actors may
// read jobs owned by anyone; everyone else only sees their own.
type Actor struct {
	ID       string
	Elevated bool
}

// Service is the submission interface of the pipeline. All structural
// validation happens here, synchronously, so that a job which reaches the
// queue is guaranteed well-formed.
type Service struct {
	store     store.Store
	artifacts artifact.Store
	validate  *validator.Validate

	previewRows int
	runHistory  int
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithPreviewRows overrides the upload preview row count.
func WithPreviewRows(n int) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.previewRows = n
		}
	}
}

// WithRunHistory overrides the per-definition run history cap.
func WithRunHistory(n int) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.runHistory = n
		}
	}
}

// NewService creates the submission service.
func NewService(st store.Store, artifacts artifact.Store, opts ...ServiceOption) *Service {
	s := &Service{
		store:       st,
		artifacts:   artifacts,
		validate:    validator.New(),
		previewRows: DefaultPreviewRows,
		runHistory:  DefaultRunHistory,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// authorize maps an ownership mismatch to job.ErrJobNotFound so callers
// cannot probe for the existence of other users' jobs.
func (s *Service) authorize(actor Actor, createdBy string) error {
	if actor.Elevated || actor.ID == createdBy {
		return nil
	}
	return job.ErrJobNotFound
}

// listScope returns the creator filter for list calls: elevated actors
// list everything.
func (s *Service) listScope(actor Actor) string {
	if actor.Elevated {
		return ""
	}
	return actor.ID
}
