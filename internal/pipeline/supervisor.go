package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/JonMunkholm/bulk/internal/artifact"
	"github.com/JonMunkholm/bulk/internal/exporter"
	"github.com/JonMunkholm/bulk/internal/importer"
	"github.com/JonMunkholm/bulk/internal/mailer"
	"github.com/JonMunkholm/bulk/internal/poller"
	"github.com/JonMunkholm/bulk/internal/schedule"
	"github.com/JonMunkholm/bulk/internal/store"
)

// DefaultShutdownTimeout bounds how long Stop waits for in-flight jobs.
const DefaultShutdownTimeout = 30 * time.Second

// SupervisorConfig tunes the background half of the pipeline. Zero values
// select the package defaults of each component.
type SupervisorConfig struct {
	ImportInterval    time.Duration
	ImportConcurrency int
	ExportInterval    time.Duration
	ExportConcurrency int

	ProgressBatchSize int
	ApplyTimeout      time.Duration
	MaxExportRows     int
	StaleThreshold    time.Duration

	ScheduleInterval time.Duration
	ScheduleBatch    int

	ShutdownTimeout time.Duration
}

// Supervisor owns the pipeline's background loops: the import and export
// pollers, the startup recovery sweep and the scheduled export engine.
type Supervisor struct {
	store   store.Store
	sweeper *poller.Sweeper
	imports *poller.Poller
	exports *poller.Poller
	engine  *schedule.Engine

	shutdownTimeout time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSupervisor wires the processors, pollers, sweeper and engine together.
func NewSupervisor(st store.Store, artifacts artifact.Store, sender mailer.Sender, cfg SupervisorConfig) *Supervisor {
	if sender == nil {
		sender = mailer.Disabled()
	}
	var importOpts []importer.Option
	if cfg.ProgressBatchSize > 0 {
		importOpts = append(importOpts, importer.WithProgressBatchSize(cfg.ProgressBatchSize))
	}
	if cfg.ApplyTimeout > 0 {
		importOpts = append(importOpts, importer.WithApplyTimeout(cfg.ApplyTimeout))
	}
	importProc := importer.NewProcessor(st, artifacts, importOpts...)
	exportProc := exporter.NewProcessor(st, artifacts, cfg.MaxExportRows)

	shutdownTimeout := cfg.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = DefaultShutdownTimeout
	}

	return &Supervisor{
		store:   st,
		sweeper: poller.NewSweeper(st, cfg.StaleThreshold),
		imports: poller.New("import", cfg.ImportInterval, cfg.ImportConcurrency,
			func(ctx context.Context) (string, error) {
				j, err := st.ClaimNextImportJob(ctx)
				if err != nil {
					return "", err
				}
				return j.ID, nil
			},
			importProc.Process,
		),
		exports: poller.New("export", cfg.ExportInterval, cfg.ExportConcurrency,
			func(ctx context.Context) (string, error) {
				j, err := st.ClaimNextExportJob(ctx)
				if err != nil {
					return "", err
				}
				return j.ID, nil
			},
			exportProc.Process,
		),
		engine:          schedule.NewEngine(st, exportProc, artifacts, sender, cfg.ScheduleInterval, cfg.ScheduleBatch),
		shutdownTimeout: shutdownTimeout,
	}
}

// Start runs the recovery sweep once, then launches the pollers and the
// scheduled export engine. Safe to call once; Stop tears everything down.
func (s *Supervisor) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	if err := s.sweeper.Sweep(runCtx); err != nil {
		slog.Error("recovery sweep reported errors", "error", err)
	}

	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); s.imports.Run(runCtx) }()
	go func() { defer wg.Done(); s.exports.Run(runCtx) }()
	go func() { defer wg.Done(); s.engine.Run(runCtx) }()

	done := s.done
	go func() {
		wg.Wait()
		close(done)
	}()

	slog.Info("pipeline supervisor started")
}

// Stop cancels the background loops and waits for in-flight jobs up to the
// shutdown timeout. Jobs still running past the timeout are abandoned; the
// next startup's recovery sweep reverts them to pending.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()

	select {
	case <-done:
		slog.Info("pipeline supervisor stopped")
	case <-time.After(s.shutdownTimeout):
		slog.Warn("shutdown timeout reached, abandoning in-flight jobs",
			"timeout", s.shutdownTimeout,
			"imports_in_flight", s.imports.InFlight(),
			"exports_in_flight", s.exports.InFlight(),
		)
	}
}
