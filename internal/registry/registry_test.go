package registry

import (
	"testing"
)

// ----------------------------------------------------------------------------
// Registry Tests
// ----------------------------------------------------------------------------

func TestRegisterAndGet(t *testing.T) {
	Clear()
	defer Clear()

	Register(Module{Key: "inventory", Label: "Inventory"})

	m, ok := Get("inventory")
	if !ok {
		t.Fatal("Get() should find registered module")
	}
	if m.Label != "Inventory" {
		t.Errorf("Label = %q, want %q", m.Label, "Inventory")
	}

	if _, ok := Get("missing"); ok {
		t.Error("Get() should not find unregistered module")
	}
}

func TestRegister_DuplicatePanics(t *testing.T) {
	Clear()
	defer Clear()

	Register(Module{Key: "inventory"})

	defer func() {
		if recover() == nil {
			t.Error("Register() should panic on duplicate key")
		}
	}()
	Register(Module{Key: "inventory"})
}

func TestKeys_Sorted(t *testing.T) {
	Clear()
	defer Clear()

	Register(Module{Key: "suppliers"})
	Register(Module{Key: "assets"})
	Register(Module{Key: "inventory"})

	want := []string{"assets", "inventory", "suppliers"}
	got := Keys()
	if len(got) != len(want) {
		t.Fatalf("Keys() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Keys()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	if Count() != 3 {
		t.Errorf("Count() = %d, want 3", Count())
	}
}

func TestAll_SortedByKey(t *testing.T) {
	Clear()
	defer Clear()

	Register(Module{Key: "suppliers", Label: "Suppliers"})
	Register(Module{Key: "assets", Label: "Assets"})

	mods := All()
	if len(mods) != 2 {
		t.Fatalf("All() = %d modules, want 2", len(mods))
	}
	if mods[0].Key != "assets" || mods[1].Key != "suppliers" {
		t.Errorf("All() order = %q, %q, want sorted by key", mods[0].Key, mods[1].Key)
	}
	if mods[0].Label != "Assets" {
		t.Errorf("Label = %q, want %q", mods[0].Label, "Assets")
	}
}

// ----------------------------------------------------------------------------
// Template Tests
// ----------------------------------------------------------------------------

func TestTemplate(t *testing.T) {
	tpl := Template{Fields: []FieldSpec{
		{Name: "sku", Required: true},
		{Name: "unitPrice", Header: "Unit Price", Type: FieldNumber},
	}}

	if _, ok := tpl.Field("SKU"); !ok {
		t.Error("Field() should match case-insensitively")
	}
	if _, ok := tpl.Field("missing"); ok {
		t.Error("Field() should not match unknown name")
	}

	cols := tpl.Columns()
	want := []string{"sku", "Unit Price"}
	if len(cols) != len(want) {
		t.Fatalf("Columns() = %v, want %v", cols, want)
	}
	for i := range want {
		if cols[i] != want[i] {
			t.Errorf("Columns()[%d] = %q, want %q", i, cols[i], want[i])
		}
	}
}

func TestModuleImportTemplate(t *testing.T) {
	m := Module{
		Key: "suppliers",
		ImportTemplates: []ImportTemplate{
			{Name: "vendor-feed", Mapping: map[string]string{"code": "Vendor ID"}},
		},
	}

	preset, ok := m.ImportTemplate("Vendor-Feed")
	if !ok {
		t.Fatal("ImportTemplate() should match case-insensitively")
	}
	if preset.Mapping["code"] != "Vendor ID" {
		t.Errorf("Mapping[code] = %q, want %q", preset.Mapping["code"], "Vendor ID")
	}

	if _, ok := m.ImportTemplate("missing"); ok {
		t.Error("ImportTemplate() should not match unknown name")
	}
}

// ----------------------------------------------------------------------------
// Duplicate Strategy Tests
// ----------------------------------------------------------------------------

func TestParseDuplicateStrategy(t *testing.T) {
	tests := []struct {
		input   string
		want    DuplicateStrategy
		wantErr bool
	}{
		{"skip", DuplicateSkip, false},
		{"update", DuplicateUpdate, false},
		{"error", DuplicateError, false},
		{" SKIP ", DuplicateSkip, false},
		{"merge", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		got, err := ParseDuplicateStrategy(tt.input)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseDuplicateStrategy(%q) expected error", tt.input)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseDuplicateStrategy(%q) error = %v", tt.input, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseDuplicateStrategy(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestContext_DuplicateStrategyDefault(t *testing.T) {
	var nilCtx Context
	if got := nilCtx.DuplicateStrategy(); got != DuplicateError {
		t.Errorf("nil context strategy = %q, want %q", got, DuplicateError)
	}

	ctx := Context{ContextKeyDuplicateStrategy: "skip"}
	if got := ctx.DuplicateStrategy(); got != DuplicateSkip {
		t.Errorf("strategy = %q, want %q", got, DuplicateSkip)
	}

	bad := Context{ContextKeyDuplicateStrategy: "merge"}
	if got := bad.DuplicateStrategy(); got != DuplicateError {
		t.Errorf("invalid strategy = %q, want default %q", got, DuplicateError)
	}
}
