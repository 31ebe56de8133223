package poller

import (
	"context"
	"log/slog"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/JonMunkholm/bulk/internal/metrics"
	"github.com/JonMunkholm/bulk/internal/store"
)

// DefaultStaleThreshold is how long a job may sit in processing before the
// recovery sweep presumes its worker crashed.
const DefaultStaleThreshold = 30 * time.Minute

// MinStaleThreshold is the floor on the staleness threshold: a lower value
// would revert jobs that are merely slow.
const MinStaleThreshold = 5 * time.Minute

// Sweeper reverts stuck jobs to pending so the pollers retry them. It
// reverts status only; rows a crashed worker already applied stay applied,
// which is why row appliers must be idempotent.
type Sweeper struct {
	store     store.Store
	threshold time.Duration
}

// NewSweeper creates a sweeper. The threshold is clamped to
// MinStaleThreshold; zero selects DefaultStaleThreshold.
func NewSweeper(st store.Store, threshold time.Duration) *Sweeper {
	if threshold <= 0 {
		threshold = DefaultStaleThreshold
	}
	if threshold < MinStaleThreshold {
		threshold = MinStaleThreshold
	}
	return &Sweeper{store: st, threshold: threshold}
}

// Threshold returns the effective staleness threshold.
func (s *Sweeper) Threshold() time.Duration { return s.threshold }

// Sweep reverts all stuck jobs of both kinds. It runs once at process
// startup and may be re-invoked; failures are aggregated and reported but
// must never crash the process.
func (s *Sweeper) Sweep(ctx context.Context) error {
	cutoff := time.Now().Add(-s.threshold)

	var merr *multierror.Error

	importIDs, err := s.store.ResetStuckImportJobs(ctx, cutoff)
	if err != nil {
		merr = multierror.Append(merr, err)
	} else if len(importIDs) > 0 {
		slog.Warn("reverted stuck import jobs", "count", len(importIDs), "job_ids", importIDs)
		metrics.StuckJobsReset("import", len(importIDs))
	}

	exportIDs, err := s.store.ResetStuckExportJobs(ctx, cutoff)
	if err != nil {
		merr = multierror.Append(merr, err)
	} else if len(exportIDs) > 0 {
		slog.Warn("reverted stuck export jobs", "count", len(exportIDs), "job_ids", exportIDs)
		metrics.StuckJobsReset("export", len(exportIDs))
	}

	if merr.ErrorOrNil() == nil && len(importIDs)+len(exportIDs) == 0 {
		slog.Debug("recovery sweep found no stuck jobs", "threshold", s.threshold)
	}

	return merr.ErrorOrNil()
}
