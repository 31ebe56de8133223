// Package poller drives the asynchronous half of the pipeline: a
// fixed-interval claim loop per job kind that hands claimed jobs to a
// processor, and the startup sweep that recovers jobs abandoned by a
// crashed worker.
package poller

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/JonMunkholm/bulk/internal/metrics"
	"github.com/JonMunkholm/bulk/internal/store"
)

// DefaultInterval is the default claim-loop tick.
const DefaultInterval = 2 * time.Second

// MaxConcurrency caps the per-poller concurrency ceiling.
const MaxConcurrency = 3

// ClaimFunc atomically claims the next pending job and returns its id, or
// store.ErrNoPendingJobs when the queue is drained.
type ClaimFunc func(ctx context.Context) (string, error)

// ProcessFunc consumes one claimed job.
type ProcessFunc func(ctx context.Context, id string) error

// Poller is a fixed-interval claim loop for one job kind. Claimed jobs are
// dispatched asynchronously; the loop keeps claiming each tick until the
// concurrency ceiling is reached or no pending job remains.
type Poller struct {
	kind     string
	interval time.Duration
	ceiling  int
	claim    ClaimFunc
	process  ProcessFunc

	mu       sync.Mutex
	inFlight int
	wg       sync.WaitGroup
}

// New creates a poller. interval <= 0 selects DefaultInterval; the
// concurrency ceiling is clamped to 1..MaxConcurrency.
func New(kind string, interval time.Duration, ceiling int, claim ClaimFunc, process ProcessFunc) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if ceiling < 1 {
		ceiling = 1
	}
	if ceiling > MaxConcurrency {
		ceiling = MaxConcurrency
	}
	return &Poller{
		kind:     kind,
		interval: interval,
		ceiling:  ceiling,
		claim:    claim,
		process:  process,
	}
}

// Run ticks until ctx is cancelled, then waits for in-flight processors to
// finish before returning.
func (p *Poller) Run(ctx context.Context) {
	slog.Info("poller started", "kind", p.kind, "interval", p.interval, "ceiling", p.ceiling)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("poller stopping", "kind", p.kind)
			p.wg.Wait()
			slog.Info("poller stopped", "kind", p.kind)
			return
		case <-ticker.C:
			p.Tick(ctx)
		}
	}
}

// Tick claims and dispatches jobs until the ceiling is reached or the
// queue is drained. Exported so tests and the supervisor can drive the
// poller without waiting out the interval.
func (p *Poller) Tick(ctx context.Context) {
	for {
		if !p.acquire() {
			return
		}

		id, err := p.claim(ctx)
		if err != nil {
			p.release()
			if !errors.Is(err, store.ErrNoPendingJobs) {
				slog.Error("claim failed", "kind", p.kind, "error", err)
			}
			return
		}

		metrics.JobClaimed(p.kind)
		slog.Debug("job claimed", "kind", p.kind, "job_id", id)

		p.wg.Add(1)
		go func(id string) {
			defer p.wg.Done()
			defer p.release()

			if err := p.process(ctx, id); err != nil {
				slog.Error("processor failed", "kind", p.kind, "job_id", id, "error", err)
			}
		}(id)
	}
}

// Wait blocks until all dispatched processors have returned.
func (p *Poller) Wait() { p.wg.Wait() }

// InFlight returns the number of currently running processors.
func (p *Poller) InFlight() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inFlight
}

// acquire reserves an in-flight slot, returning false at the ceiling.
func (p *Poller) acquire() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inFlight >= p.ceiling {
		return false
	}
	p.inFlight++
	return true
}

func (p *Poller) release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inFlight--
}
