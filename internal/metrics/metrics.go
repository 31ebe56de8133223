// Package metrics exposes Prometheus counters for pipeline throughput and
// an optional exposition listener. Counters are package-level; callers
// record events through the helper functions so instrumented packages never
// touch prometheus types directly.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	jobsClaimed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bulk_jobs_claimed_total",
		Help: "Jobs claimed by the pollers, by kind.",
	}, []string{"kind"})

	jobsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bulk_jobs_finished_total",
		Help: "Jobs reaching a terminal state, by kind and status.",
	}, []string{"kind", "status"})

	rowsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bulk_import_rows_total",
		Help: "Import rows processed, by result.",
	}, []string{"result"})

	stuckJobsReset = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bulk_stuck_jobs_reset_total",
		Help: "Jobs reverted to pending by the recovery sweep, by kind.",
	}, []string{"kind"})

	scheduledRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bulk_scheduled_runs_total",
		Help: "Scheduled export runs, by terminal status.",
	}, []string{"status"})
)

// JobClaimed records a successful claim.
func JobClaimed(kind string) { jobsClaimed.WithLabelValues(kind).Inc() }

// JobFinished records a terminal job outcome.
func JobFinished(kind, status string) { jobsFinished.WithLabelValues(kind, status).Inc() }

// RowProcessed records one import row outcome: success, error or skipped.
func RowProcessed(result string) { rowsProcessed.WithLabelValues(result).Inc() }

// StuckJobsReset records recovery sweep resets.
func StuckJobsReset(kind string, n int) {
	stuckJobsReset.WithLabelValues(kind).Add(float64(n))
}

// ScheduledRun records a terminal scheduled-export run outcome.
func ScheduledRun(status string) { scheduledRuns.WithLabelValues(status).Inc() }

// Serve exposes /metrics on addr until ctx is cancelled. Errors are logged,
// never fatal: metrics are an ops convenience, not a pipeline dependency.
func Serve(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("metrics listener started", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("metrics listener failed", "error", err)
	}
}
