package importer

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/bulk/internal/artifact"
	"github.com/JonMunkholm/bulk/internal/job"
	"github.com/JonMunkholm/bulk/internal/registry"
	"github.com/JonMunkholm/bulk/internal/store"
)

// ----------------------------------------------------------------------------
// Test Fixtures
// ----------------------------------------------------------------------------

var testMapping = []job.ColumnMapping{
	{Field: "sku", SourceColumn: "sku", Required: true, Type: registry.FieldString},
	{Field: "qty", SourceColumn: "qty", Type: registry.FieldInteger},
}

// newTestJob stores the source bytes and creates a claimed import job wired
// to a module whose applier is the given function.
func newTestJob(t *testing.T, st store.Store, csv string, apply registry.ApplyRowFunc) (*job.ImportJob, *Processor) {
	t.Helper()

	registry.Clear()
	t.Cleanup(registry.Clear)
	registry.Register(registry.Module{
		Key: "inventory",
		Template: registry.Template{Fields: []registry.FieldSpec{
			{Name: "sku", Required: true},
			{Name: "qty", Type: registry.FieldInteger},
		}},
		ApplyRow: apply,
	})

	artifacts, err := artifact.NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal() error = %v", err)
	}

	id := uuid.NewString()
	sourceRef := artifact.ImportSourceKey(id)
	if err := artifacts.Put(context.Background(), sourceRef, []byte(csv), "text/csv"); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	j := &job.ImportJob{
		ID:        id,
		ModuleKey: "inventory",
		SourceRef: sourceRef,
		FileName:  "stock.csv",
		TotalRows: 3,
		Mapping:   testMapping,
		Status:    job.StatusPending,
		CreatedBy: "user-1",
		CreatedAt: time.Now(),
	}
	if err := st.CreateImportJob(context.Background(), j); err != nil {
		t.Fatalf("CreateImportJob() error = %v", err)
	}
	claimed, err := st.ClaimNextImportJob(context.Background())
	if err != nil {
		t.Fatalf("ClaimNextImportJob() error = %v", err)
	}
	if claimed.ID != id {
		t.Fatalf("claimed job %s, want %s", claimed.ID, id)
	}

	return j, NewProcessor(st, artifacts, WithProgressBatchSize(2))
}

// ----------------------------------------------------------------------------
// Process Tests
// ----------------------------------------------------------------------------

func TestProcess_RowErrorFailsJobButContinues(t *testing.T) {
	st := store.NewMemory()
	csv := "sku,qty\nA-1,5\nB-2,bad\nC-3,2\n"

	j, p := newTestJob(t, st, csv, func(ctx context.Context, row registry.Row, jobCtx registry.Context, actorID string) (registry.ApplyOutcome, error) {
		return registry.Applied, nil
	})

	if err := p.Process(context.Background(), j.ID); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	got, err := st.GetImportJob(context.Background(), j.ID)
	if err != nil {
		t.Fatalf("GetImportJob() error = %v", err)
	}

	if got.Status != job.StatusFailed {
		t.Errorf("Status = %q, want %q", got.Status, job.StatusFailed)
	}
	if got.ProcessedRows != 3 || got.SuccessRows != 2 || got.ErrorRows != 1 {
		t.Errorf("counters = %d/%d/%d, want 3/2/1",
			got.ProcessedRows, got.SuccessRows, got.ErrorRows)
	}
	if len(got.Errors) != 1 {
		t.Fatalf("Errors = %d entries, want 1", len(got.Errors))
	}
	if got.Errors[0].Row != 2 {
		t.Errorf("Errors[0].Row = %d, want 2", got.Errors[0].Row)
	}
	if got.CompletedAt == nil {
		t.Error("CompletedAt should be set")
	}
}

func TestProcess_MissingRequiredFieldFailsThatRow(t *testing.T) {
	st := store.NewMemory()
	csv := "sku,qty\nA-1,5\n,3\nC-3,2\n" // row 2 has an empty required sku

	j, p := newTestJob(t, st, csv, func(ctx context.Context, row registry.Row, jobCtx registry.Context, actorID string) (registry.ApplyOutcome, error) {
		return registry.Applied, nil
	})

	if err := p.Process(context.Background(), j.ID); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	got, _ := st.GetImportJob(context.Background(), j.ID)
	if got.Status != job.StatusFailed {
		t.Errorf("Status = %q, want %q", got.Status, job.StatusFailed)
	}
	if got.ProcessedRows != 3 || got.SuccessRows != 2 || got.ErrorRows != 1 {
		t.Errorf("counters = %d/%d/%d, want 3/2/1",
			got.ProcessedRows, got.SuccessRows, got.ErrorRows)
	}
	if len(got.Errors) != 1 || got.Errors[0].Row != 2 {
		t.Fatalf("Errors = %+v, want one entry for row 2", got.Errors)
	}
}

func TestProcess_AllRowsSucceed(t *testing.T) {
	st := store.NewMemory()
	csv := "sku,qty\nA-1,5\nB-2,3\nC-3,2\n"

	j, p := newTestJob(t, st, csv, func(ctx context.Context, row registry.Row, jobCtx registry.Context, actorID string) (registry.ApplyOutcome, error) {
		return registry.Applied, nil
	})

	if err := p.Process(context.Background(), j.ID); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	got, _ := st.GetImportJob(context.Background(), j.ID)
	if got.Status != job.StatusCompleted {
		t.Errorf("Status = %q, want %q", got.Status, job.StatusCompleted)
	}
	if got.SuccessRows != 3 {
		t.Errorf("SuccessRows = %d, want 3", got.SuccessRows)
	}
	if got.SuccessRows+got.ErrorRows+got.SkippedRows != got.ProcessedRows {
		t.Error("counter invariant violated")
	}
}

func TestProcess_SkippedRowsCounted(t *testing.T) {
	st := store.NewMemory()
	csv := "sku,qty\nA-1,5\nA-1,5\nB-2,3\n"

	seen := map[string]bool{}
	j, p := newTestJob(t, st, csv, func(ctx context.Context, row registry.Row, jobCtx registry.Context, actorID string) (registry.ApplyOutcome, error) {
		sku := row["sku"].Str
		if seen[sku] {
			return registry.Skipped, nil
		}
		seen[sku] = true
		return registry.Applied, nil
	})

	if err := p.Process(context.Background(), j.ID); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	got, _ := st.GetImportJob(context.Background(), j.ID)
	if got.Status != job.StatusCompleted {
		t.Errorf("Status = %q, want %q", got.Status, job.StatusCompleted)
	}
	if got.SuccessRows != 2 || got.SkippedRows != 1 {
		t.Errorf("success/skipped = %d/%d, want 2/1", got.SuccessRows, got.SkippedRows)
	}
}

func TestProcess_DuplicateError(t *testing.T) {
	st := store.NewMemory()
	csv := "sku,qty\nA-1,5\nA-1,5\n"

	seen := map[string]bool{}
	j, p := newTestJob(t, st, csv, func(ctx context.Context, row registry.Row, jobCtx registry.Context, actorID string) (registry.ApplyOutcome, error) {
		sku := row["sku"].Str
		if seen[sku] {
			return 0, fmt.Errorf("%w: sku %q", job.ErrDuplicateKey, sku)
		}
		seen[sku] = true
		return registry.Applied, nil
	})

	if err := p.Process(context.Background(), j.ID); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	got, _ := st.GetImportJob(context.Background(), j.ID)
	if got.Status != job.StatusFailed {
		t.Errorf("Status = %q, want %q", got.Status, job.StatusFailed)
	}
	if got.ErrorRows != 1 || len(got.Errors) != 1 {
		t.Fatalf("ErrorRows = %d, Errors = %d, want 1/1", got.ErrorRows, len(got.Errors))
	}
}

func TestProcess_CancelledMidRun(t *testing.T) {
	st := store.NewMemory()
	csv := "sku,qty\nA-1,5\nB-2,3\nC-3,2\n"

	var j *job.ImportJob
	applied := 0
	j, p := newTestJob(t, st, csv, func(ctx context.Context, row registry.Row, jobCtx registry.Context, actorID string) (registry.ApplyOutcome, error) {
		applied++
		if applied == 1 {
			// Cancellation lands mid-run; the processor must stop at the
			// next row boundary and keep the rows already applied.
			if _, err := st.CancelImportJob(ctx, j.ID); err != nil {
				t.Errorf("CancelImportJob() error = %v", err)
			}
		}
		return registry.Applied, nil
	})

	if err := p.Process(context.Background(), j.ID); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	got, _ := st.GetImportJob(context.Background(), j.ID)
	if got.Status != job.StatusCancelled {
		t.Errorf("Status = %q, want %q", got.Status, job.StatusCancelled)
	}
	if applied != 1 {
		t.Errorf("applied = %d rows, want 1", applied)
	}
	if got.ProcessedRows != 1 {
		t.Errorf("ProcessedRows = %d, want 1", got.ProcessedRows)
	}
}

func TestProcess_UnknownModuleFailsWithSyntheticError(t *testing.T) {
	st := store.NewMemory()
	csv := "sku,qty\nA-1,5\n"

	j, p := newTestJob(t, st, csv, func(ctx context.Context, row registry.Row, jobCtx registry.Context, actorID string) (registry.ApplyOutcome, error) {
		return registry.Applied, nil
	})
	registry.Clear()

	if err := p.Process(context.Background(), j.ID); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	got, _ := st.GetImportJob(context.Background(), j.ID)
	if got.Status != job.StatusFailed {
		t.Errorf("Status = %q, want %q", got.Status, job.StatusFailed)
	}
	if len(got.Errors) != 1 || got.Errors[0].Row != 0 {
		t.Fatalf("Errors = %+v, want one synthetic row-0 entry", got.Errors)
	}
}

func TestProcess_PendingJobIsNoOp(t *testing.T) {
	st := store.NewMemory()

	artifacts, err := artifact.NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal() error = %v", err)
	}

	j := &job.ImportJob{
		ID:        uuid.NewString(),
		ModuleKey: "inventory",
		SourceRef: "imports/x/source.csv",
		Status:    job.StatusPending,
		CreatedAt: time.Now(),
	}
	if err := st.CreateImportJob(context.Background(), j); err != nil {
		t.Fatalf("CreateImportJob() error = %v", err)
	}

	p := NewProcessor(st, artifacts)
	if err := p.Process(context.Background(), j.ID); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	got, _ := st.GetImportJob(context.Background(), j.ID)
	if got.Status != job.StatusPending {
		t.Errorf("Status = %q, want untouched %q", got.Status, job.StatusPending)
	}
}
