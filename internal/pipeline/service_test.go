package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/JonMunkholm/bulk/internal/artifact"
	"github.com/JonMunkholm/bulk/internal/job"
	"github.com/JonMunkholm/bulk/internal/registry"
	"github.com/JonMunkholm/bulk/internal/store"
)

var (
	alice = Actor{ID: "alice"}
	bob   = Actor{ID: "bob"}
	admin = Actor{ID: "root", Elevated: true}
)

type supplierRecord struct {
	code string
	name string
}

func newTestService(t *testing.T, opts ...ServiceOption) (*Service, store.Store) {
	t.Helper()

	registry.Clear()
	t.Cleanup(registry.Clear)
	registry.Register(registry.Module{
		Key:   "suppliers",
		Label: "Suppliers",
		Template: registry.Template{Fields: []registry.FieldSpec{
			{Name: "code", Header: "Supplier Code", Required: true},
			{Name: "name", Header: "Name", Required: true},
			{Name: "rating", Header: "Rating", Type: registry.FieldInteger},
		}},
		ImportTemplates: []registry.ImportTemplate{
			{Name: "vendor-feed", Mapping: map[string]string{"code": "Vendor ID", "name": "Vendor"}},
		},
		ValidateContext: func(jobCtx registry.Context) error {
			if jobCtx["region"] == "atlantis" {
				return errors.New("unknown region")
			}
			return nil
		},
		ApplyRow: func(ctx context.Context, row registry.Row, jobCtx registry.Context, actorID string) (registry.ApplyOutcome, error) {
			return registry.Applied, nil
		},
		Fetch: func(ctx context.Context, filters map[string]string, jobCtx registry.Context, limit int) ([]registry.Record, error) {
			return []registry.Record{supplierRecord{code: "SUP-1", name: "Acme"}}, nil
		},
		Project: func(rec registry.Record, column string) string {
			r := rec.(supplierRecord)
			switch column {
			case "Supplier Code":
				return r.code
			case "Name":
				return r.name
			}
			return ""
		},
	})

	st := store.NewMemory()
	artifacts, err := artifact.NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal() error = %v", err)
	}
	return NewService(st, artifacts, opts...), st
}

// ----------------------------------------------------------------------------
// Import Submission Tests
// ----------------------------------------------------------------------------

func TestCreateImportJob(t *testing.T) {
	s, st := newTestService(t)
	ctx := context.Background()

	j, err := s.CreateImportJob(ctx, alice, ImportParams{
		ModuleKey: "suppliers",
		FileName:  "suppliers.csv",
		Data:      []byte("Supplier Code,Name,Rating\nSUP-1,Acme,4\nSUP-2,Globex,5\n"),
	})
	if err != nil {
		t.Fatalf("CreateImportJob() error = %v", err)
	}

	if j.Status != job.StatusPending {
		t.Errorf("Status = %q, want %q", j.Status, job.StatusPending)
	}
	if j.TotalRows != 2 {
		t.Errorf("TotalRows = %d, want 2", j.TotalRows)
	}
	if j.CreatedBy != "alice" {
		t.Errorf("CreatedBy = %q, want alice", j.CreatedBy)
	}
	if len(j.Mapping) != 3 {
		t.Fatalf("Mapping = %d entries, want 3", len(j.Mapping))
	}
	if j.Mapping[0].SourceColumn != "Supplier Code" {
		t.Errorf("auto-matched source = %q, want %q", j.Mapping[0].SourceColumn, "Supplier Code")
	}

	// Source bytes must be durably stored before the job is visible.
	data, err := s.artifacts.Get(ctx, j.SourceRef)
	if err != nil {
		t.Fatalf("source artifact missing: %v", err)
	}
	if len(data) == 0 {
		t.Error("source artifact empty")
	}

	stored, err := st.GetImportJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("job not persisted: %v", err)
	}
	if stored.Status != job.StatusPending {
		t.Errorf("persisted Status = %q, want pending", stored.Status)
	}
}

func TestCreateImportJob_MappingOverride(t *testing.T) {
	s, _ := newTestService(t)

	j, err := s.CreateImportJob(context.Background(), alice, ImportParams{
		ModuleKey: "suppliers",
		FileName:  "odd-headers.csv",
		Data:      []byte("Vendor ID,Vendor,Name\nSUP-1,Acme,ignored\n"),
		Mapping:   map[string]string{"code": "Vendor ID", "name": "Vendor"},
	})
	if err != nil {
		t.Fatalf("CreateImportJob() error = %v", err)
	}
	if j.Mapping[0].SourceColumn != "Vendor ID" || j.Mapping[1].SourceColumn != "Vendor" {
		t.Errorf("override mapping = %q/%q, want Vendor ID/Vendor",
			j.Mapping[0].SourceColumn, j.Mapping[1].SourceColumn)
	}
}

func TestCreateImportJob_TemplatePreset(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	j, err := s.CreateImportJob(ctx, alice, ImportParams{
		ModuleKey: "suppliers",
		FileName:  "vendor-feed.csv",
		Data:      []byte("Vendor ID,Vendor\nSUP-1,Acme\n"),
		Template:  "Vendor-Feed", // preset names match case-insensitively
	})
	if err != nil {
		t.Fatalf("CreateImportJob() error = %v", err)
	}
	if j.Mapping[0].SourceColumn != "Vendor ID" || j.Mapping[1].SourceColumn != "Vendor" {
		t.Errorf("preset mapping = %q/%q, want Vendor ID/Vendor",
			j.Mapping[0].SourceColumn, j.Mapping[1].SourceColumn)
	}

	// An explicit override beats the preset entry for the same field.
	j, err = s.CreateImportJob(ctx, alice, ImportParams{
		ModuleKey: "suppliers",
		FileName:  "vendor-feed.csv",
		Data:      []byte("Vendor ID,Label\nSUP-1,Acme\n"),
		Template:  "vendor-feed",
		Mapping:   map[string]string{"name": "Label"},
	})
	if err != nil {
		t.Fatalf("CreateImportJob() with override error = %v", err)
	}
	if j.Mapping[1].SourceColumn != "Label" {
		t.Errorf("overridden source = %q, want Label", j.Mapping[1].SourceColumn)
	}

	_, err = s.CreateImportJob(ctx, alice, ImportParams{
		ModuleKey: "suppliers",
		Data:      []byte("Vendor ID,Vendor\nSUP-1,Acme\n"),
		Template:  "no-such-preset",
	})
	if !errors.Is(err, job.ErrInvalidInput) {
		t.Errorf("unknown template error = %v, want ErrInvalidInput", err)
	}
}

func TestListImportTemplates(t *testing.T) {
	s, _ := newTestService(t)

	presets, err := s.ListImportTemplates("suppliers")
	if err != nil {
		t.Fatalf("ListImportTemplates() error = %v", err)
	}
	if len(presets) != 1 || presets[0].Name != "vendor-feed" {
		t.Errorf("presets = %+v, want the vendor-feed preset", presets)
	}

	if _, err := s.ListImportTemplates("unicorns"); !errors.Is(err, job.ErrUnsupportedModule) {
		t.Errorf("unknown module error = %v, want ErrUnsupportedModule", err)
	}
}

func TestCreateImportJob_Rejections(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		params  ImportParams
		wantErr error
	}{
		{
			name:    "unknown module",
			params:  ImportParams{ModuleKey: "unicorns", Data: []byte("a\n1\n")},
			wantErr: job.ErrUnsupportedModule,
		},
		{
			name:    "empty file",
			params:  ImportParams{ModuleKey: "suppliers", Data: nil},
			wantErr: job.ErrInvalidInput,
		},
		{
			name: "required field unmatched",
			params: ImportParams{
				ModuleKey: "suppliers",
				Data:      []byte("Name\nAcme\n"),
			},
			wantErr: job.ErrMissingRequiredMapping,
		},
		{
			name: "override names missing column",
			params: ImportParams{
				ModuleKey: "suppliers",
				Data:      []byte("Supplier Code,Name\nSUP-1,Acme\n"),
				Mapping:   map[string]string{"code": "No Such Column"},
			},
			wantErr: job.ErrMissingRequiredMapping,
		},
		{
			name: "invalid duplicate strategy",
			params: ImportParams{
				ModuleKey: "suppliers",
				Data:      []byte("Supplier Code,Name\nSUP-1,Acme\n"),
				Context:   registry.Context{registry.ContextKeyDuplicateStrategy: "merge"},
			},
			wantErr: job.ErrInvalidInput,
		},
		{
			name: "module context rejected",
			params: ImportParams{
				ModuleKey: "suppliers",
				Data:      []byte("Supplier Code,Name\nSUP-1,Acme\n"),
				Context:   registry.Context{"region": "atlantis"},
			},
			wantErr: job.ErrInvalidInput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.CreateImportJob(ctx, alice, tt.params)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("CreateImportJob() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestGetImportJob_Ownership(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	j, err := s.CreateImportJob(ctx, alice, ImportParams{
		ModuleKey: "suppliers",
		Data:      []byte("Supplier Code,Name\nSUP-1,Acme\n"),
	})
	if err != nil {
		t.Fatalf("CreateImportJob() error = %v", err)
	}

	if _, err := s.GetImportJob(ctx, alice, j.ID); err != nil {
		t.Errorf("owner read error = %v", err)
	}
	if _, err := s.GetImportJob(ctx, admin, j.ID); err != nil {
		t.Errorf("elevated read error = %v", err)
	}

	// Another user's probe looks identical to a missing job.
	if _, err := s.GetImportJob(ctx, bob, j.ID); !errors.Is(err, job.ErrJobNotFound) {
		t.Errorf("foreign read error = %v, want ErrJobNotFound", err)
	}
}

func TestCancelImportJob(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	j, _ := s.CreateImportJob(ctx, alice, ImportParams{
		ModuleKey: "suppliers",
		Data:      []byte("Supplier Code,Name\nSUP-1,Acme\n"),
	})

	if _, err := s.CancelImportJob(ctx, bob, j.ID); !errors.Is(err, job.ErrJobNotFound) {
		t.Errorf("foreign cancel error = %v, want ErrJobNotFound", err)
	}

	ok, err := s.CancelImportJob(ctx, alice, j.ID)
	if err != nil || !ok {
		t.Fatalf("CancelImportJob() = %v, %v, want true, nil", ok, err)
	}

	got, _ := s.GetImportJob(ctx, alice, j.ID)
	if got.Status != job.StatusCancelled {
		t.Errorf("Status = %q, want %q", got.Status, job.StatusCancelled)
	}
}

func TestPreviewUpload(t *testing.T) {
	s, _ := newTestService(t, WithPreviewRows(2))

	p, err := s.PreviewUpload(context.Background(), []byte("a,b\n1,2\n3,4\n5,6\n"))
	if err != nil {
		t.Fatalf("PreviewUpload() error = %v", err)
	}
	if len(p.Headers) != 2 || p.Headers[0] != "a" {
		t.Errorf("Headers = %v", p.Headers)
	}
	if p.Sampled != 2 || len(p.Rows) != 2 {
		t.Errorf("Sampled = %d rows = %d, want preview cap 2", p.Sampled, len(p.Rows))
	}

	if _, err := s.PreviewUpload(context.Background(), nil); !errors.Is(err, job.ErrInvalidInput) {
		t.Errorf("empty preview error = %v, want ErrInvalidInput", err)
	}
}

// ----------------------------------------------------------------------------
// Export Submission Tests
// ----------------------------------------------------------------------------

func TestCreateExportJob_Defaults(t *testing.T) {
	s, _ := newTestService(t)

	j, err := s.CreateExportJob(context.Background(), alice, ExportParams{ModuleKey: "suppliers"})
	if err != nil {
		t.Fatalf("CreateExportJob() error = %v", err)
	}

	wantCols := []string{"Supplier Code", "Name", "Rating"}
	if len(j.Columns) != len(wantCols) {
		t.Fatalf("Columns = %v, want full template %v", j.Columns, wantCols)
	}
	for i := range wantCols {
		if j.Columns[i] != wantCols[i] {
			t.Errorf("Columns[%d] = %q, want %q", i, j.Columns[i], wantCols[i])
		}
	}
	if j.FileName == "" {
		t.Error("FileName should default when not supplied")
	}
	if j.Status != job.StatusPending {
		t.Errorf("Status = %q, want pending", j.Status)
	}
}

func TestCreateExportJob_ColumnSelection(t *testing.T) {
	s, _ := newTestService(t)

	// Field names resolve to display headers.
	j, err := s.CreateExportJob(context.Background(), alice, ExportParams{
		ModuleKey: "suppliers",
		Columns:   []string{"code", "Name"},
	})
	if err != nil {
		t.Fatalf("CreateExportJob() error = %v", err)
	}
	if j.Columns[0] != "Supplier Code" || j.Columns[1] != "Name" {
		t.Errorf("Columns = %v, want resolved display headers", j.Columns)
	}

	_, err = s.CreateExportJob(context.Background(), alice, ExportParams{
		ModuleKey: "suppliers",
		Columns:   []string{"no-such-column"},
	})
	if !errors.Is(err, job.ErrInvalidInput) {
		t.Errorf("unknown column error = %v, want ErrInvalidInput", err)
	}
}

func TestGetExportDownload(t *testing.T) {
	s, st := newTestService(t)
	ctx := context.Background()

	j, _ := s.CreateExportJob(ctx, alice, ExportParams{ModuleKey: "suppliers"})

	if _, _, err := s.GetExportDownload(ctx, alice, j.ID); !errors.Is(err, job.ErrExportNotReady) {
		t.Fatalf("pending download error = %v, want ErrExportNotReady", err)
	}

	// Complete the job by hand with a stored artifact.
	key := artifact.ExportKey(j.ID, j.FileName)
	if err := s.artifacts.Put(ctx, key, []byte("Supplier Code\nSUP-1\n"), "text/csv"); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if claimed, err := st.ClaimNextExportJob(ctx); err != nil || claimed.ID != j.ID {
		t.Fatalf("ClaimNextExportJob() = %v, %v", claimed, err)
	}
	if err := st.FinishExportJob(ctx, j.ID, job.StatusCompleted, 1, key, "local"); err != nil {
		t.Fatalf("finish error = %v", err)
	}

	name, data, err := s.GetExportDownload(ctx, alice, j.ID)
	if err != nil {
		t.Fatalf("GetExportDownload() error = %v", err)
	}
	if name != j.FileName {
		t.Errorf("name = %q, want %q", name, j.FileName)
	}
	if len(data) == 0 {
		t.Error("download should return the artifact bytes")
	}

	if _, _, err := s.GetExportDownload(ctx, bob, j.ID); !errors.Is(err, job.ErrJobNotFound) {
		t.Errorf("foreign download error = %v, want ErrJobNotFound", err)
	}
}

// ----------------------------------------------------------------------------
// Scheduled Export Tests
// ----------------------------------------------------------------------------

func TestCreateScheduledExport(t *testing.T) {
	s, _ := newTestService(t)

	se, err := s.CreateScheduledExport(context.Background(), alice, ScheduleParams{
		Name:       "Weekly suppliers",
		ModuleKey:  "suppliers",
		Schedule:   "weekly",
		Recipients: []string{"ops@example.com"},
	})
	if err != nil {
		t.Fatalf("CreateScheduledExport() error = %v", err)
	}

	if !se.Active {
		t.Error("new definition should start active")
	}
	if se.NextRunAt == nil || !se.NextRunAt.After(time.Now().Add(6*24*time.Hour)) {
		t.Errorf("NextRunAt = %v, want about a week out", se.NextRunAt)
	}
	if se.Format != "csv" {
		t.Errorf("Format = %q, want csv", se.Format)
	}
}

func TestCreateScheduledExport_Rejections(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		params  ScheduleParams
		wantErr error
	}{
		{
			name: "invalid schedule",
			params: ScheduleParams{
				Name: "x", ModuleKey: "suppliers",
				Schedule: "whenever", Recipients: []string{"ops@example.com"},
			},
			wantErr: job.ErrInvalidSchedule,
		},
		{
			name: "no recipients",
			params: ScheduleParams{
				Name: "x", ModuleKey: "suppliers", Schedule: "daily",
			},
			wantErr: job.ErrInvalidInput,
		},
		{
			name: "malformed recipient",
			params: ScheduleParams{
				Name: "x", ModuleKey: "suppliers", Schedule: "daily",
				Recipients: []string{"not-an-address"},
			},
			wantErr: job.ErrInvalidInput,
		},
		{
			name: "missing name",
			params: ScheduleParams{
				ModuleKey: "suppliers", Schedule: "daily",
				Recipients: []string{"ops@example.com"},
			},
			wantErr: job.ErrInvalidInput,
		},
		{
			name: "unknown module",
			params: ScheduleParams{
				Name: "x", ModuleKey: "unicorns", Schedule: "daily",
				Recipients: []string{"ops@example.com"},
			},
			wantErr: job.ErrUnsupportedModule,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.CreateScheduledExport(ctx, alice, tt.params)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestActivateDeactivateScheduledExport(t *testing.T) {
	s, st := newTestService(t)
	ctx := context.Background()

	se, _ := s.CreateScheduledExport(ctx, alice, ScheduleParams{
		Name: "Weekly", ModuleKey: "suppliers", Schedule: "daily",
		Recipients: []string{"ops@example.com"},
	})

	if err := s.DeactivateScheduledExport(ctx, alice, se.ID); err != nil {
		t.Fatalf("Deactivate error = %v", err)
	}
	got, _ := st.GetScheduledExport(ctx, se.ID)
	if got.Active || got.NextRunAt != nil {
		t.Errorf("deactivated = active %v next %v, want inactive with no next run", got.Active, got.NextRunAt)
	}

	if err := s.ActivateScheduledExport(ctx, alice, se.ID); err != nil {
		t.Fatalf("Activate error = %v", err)
	}
	got, _ = st.GetScheduledExport(ctx, se.ID)
	if !got.Active || got.NextRunAt == nil {
		t.Error("reactivated definition should be active with a recomputed next run")
	}

	if err := s.DeactivateScheduledExport(ctx, bob, se.ID); !errors.Is(err, job.ErrJobNotFound) {
		t.Errorf("foreign deactivate error = %v, want ErrJobNotFound", err)
	}
}

func TestListScheduledExportRuns_CappedAndOwned(t *testing.T) {
	s, st := newTestService(t, WithRunHistory(3))
	ctx := context.Background()

	se, _ := s.CreateScheduledExport(ctx, alice, ScheduleParams{
		Name: "Weekly", ModuleKey: "suppliers", Schedule: "weekly",
		Recipients: []string{"ops@example.com"},
	})

	for i := 0; i < 5; i++ {
		st.CreateRun(ctx, &job.ScheduledExportRun{
			ID:                se.ID + string(rune('a'+i)),
			ScheduledExportID: se.ID,
			Status:            job.RunSent,
			CreatedAt:         time.Now().Add(time.Duration(i) * time.Minute),
		})
	}

	runs, err := s.ListScheduledExportRuns(ctx, alice, se.ID)
	if err != nil {
		t.Fatalf("ListScheduledExportRuns() error = %v", err)
	}
	if len(runs) != 3 {
		t.Errorf("runs = %d, want history cap 3", len(runs))
	}

	if _, err := s.ListScheduledExportRuns(ctx, bob, se.ID); !errors.Is(err, job.ErrJobNotFound) {
		t.Errorf("foreign run listing error = %v, want ErrJobNotFound", err)
	}
}
