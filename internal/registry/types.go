// Package registry holds the module registry: per-module column templates
// and the row-applier / exporter functions each business module supplies.
// The pipeline itself knows nothing about any domain entity; everything it
// needs from a module is captured in a Module value registered at startup.
package registry

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// FieldType is the primitive type expected for a template field.
type FieldType int

const (
	FieldString FieldType = iota
	FieldNumber
	FieldInteger
	FieldBool
	FieldDate
	FieldEnum
)

// String returns the lowercase name of the field type.
func (t FieldType) String() string {
	switch t {
	case FieldString:
		return "string"
	case FieldNumber:
		return "number"
	case FieldInteger:
		return "integer"
	case FieldBool:
		return "boolean"
	case FieldDate:
		return "date"
	case FieldEnum:
		return "enum"
	}
	return "unknown"
}

// FieldSpec defines one column of a module's import template.
type FieldSpec struct {
	Name       string   // Canonical field name passed to the row applier
	Header     string   // Display header; defaults to Name when empty
	Required   bool     // Row fails without a non-empty value
	Type       FieldType
	EnumValues []string // Valid values for FieldEnum
}

// DisplayHeader returns the header shown in spreadsheets for this field.
func (f FieldSpec) DisplayHeader() string {
	if f.Header != "" {
		return f.Header
	}
	return f.Name
}

// Template is a module's ordered column template.
type Template struct {
	Fields []FieldSpec
}

// Field returns the spec for a field name, matched case-insensitively.
func (t Template) Field(name string) (FieldSpec, bool) {
	for _, f := range t.Fields {
		if strings.EqualFold(f.Name, name) {
			return f, true
		}
	}
	return FieldSpec{}, false
}

// Columns returns the ordered display headers of the template.
func (t Template) Columns() []string {
	cols := make([]string, len(t.Fields))
	for i, f := range t.Fields {
		cols[i] = f.DisplayHeader()
	}
	return cols
}

// ImportTemplate is a named, reusable column-mapping preset a module can
// expose for its import. Mapping is field name -> source column header.
type ImportTemplate struct {
	Name    string            `json:"name"`
	Mapping map[string]string `json:"mapping"`
}

// DuplicateStrategy is the policy for handling a natural-key collision
// during import.
type DuplicateStrategy string

const (
	DuplicateSkip   DuplicateStrategy = "skip"
	DuplicateUpdate DuplicateStrategy = "update"
	DuplicateError  DuplicateStrategy = "error"
)

// ParseDuplicateStrategy validates a strategy string.
func ParseDuplicateStrategy(s string) (DuplicateStrategy, error) {
	switch DuplicateStrategy(strings.ToLower(strings.TrimSpace(s))) {
	case DuplicateSkip:
		return DuplicateSkip, nil
	case DuplicateUpdate:
		return DuplicateUpdate, nil
	case DuplicateError:
		return DuplicateError, nil
	}
	return "", fmt.Errorf("unknown duplicate strategy %q", s)
}

// Context carries module-specific job parameters, e.g. a target container
// id or the duplicate-resolution strategy.
type Context map[string]string

// ContextKeyDuplicateStrategy is the well-known context key for the
// duplicate strategy.
const ContextKeyDuplicateStrategy = "duplicateStrategy"

// DuplicateStrategy returns the configured strategy, defaulting to "error"
// so that collisions surface unless a job explicitly opts out.
func (c Context) DuplicateStrategy() DuplicateStrategy {
	if c == nil {
		return DuplicateError
	}
	s, err := ParseDuplicateStrategy(c[ContextKeyDuplicateStrategy])
	if err != nil {
		return DuplicateError
	}
	return s
}

// ValueKind tags a coerced field value.
type ValueKind int

const (
	ValueString ValueKind = iota
	ValueNumber
	ValueInteger
	ValueBool
	ValueDate
)

// Value is a tagged field value produced by import coercion. Row appliers
// switch on Kind instead of casting untyped payloads. Empty optional fields
// are a ValueString with Empty set.
type Value struct {
	Kind  ValueKind
	Empty bool

	Str   string
	Int   int64
	Float float64
	Bool  bool
	Time  time.Time
}

// StringValue returns a tagged string value. Enum fields coerce to a
// string value holding the matched enum member.
func StringValue(s string) Value { return Value{Kind: ValueString, Str: s, Empty: s == ""} }

// NumberValue returns a tagged float value.
func NumberValue(f float64) Value { return Value{Kind: ValueNumber, Float: f} }

// IntegerValue returns a tagged integer value.
func IntegerValue(i int64) Value { return Value{Kind: ValueInteger, Int: i} }

// BoolValue returns a tagged boolean value.
func BoolValue(b bool) Value { return Value{Kind: ValueBool, Bool: b} }

// DateValue returns a tagged date value.
func DateValue(t time.Time) Value { return Value{Kind: ValueDate, Time: t} }

// Row is a fully coerced record keyed by canonical field name.
type Row map[string]Value

// ApplyOutcome reports what a row applier did with one row.
type ApplyOutcome int

const (
	// Applied means a new record was created.
	Applied ApplyOutcome = iota
	// Updated means an existing record was mutated (duplicate strategy
	// "update").
	Updated
	// Skipped means a colliding row was left untouched (duplicate strategy
	// "skip").
	Skipped
)

// Record is one domain record fetched for export. Its concrete type is
// owned by the module; the pipeline only ever passes it to Project.
type Record any

// ApplyRowFunc validates and persists one coerced row. The applier resolves
// foreign references, applies the job's duplicate strategy on natural-key
// collisions, and performs its mutation transactionally so a partial
// multi-statement side effect never commits for a single row. Appliers must
// be idempotent (e.g. upsert by natural key): the stuck-job recovery sweep
// re-runs jobs without undoing rows already committed before a crash.
type ApplyRowFunc func(ctx context.Context, row Row, jobCtx Context, actorID string) (ApplyOutcome, error)

// FetchFunc returns domain records matching the given exact-match filters,
// at most limit of them.
type FetchFunc func(ctx context.Context, filters map[string]string, jobCtx Context, limit int) ([]Record, error)

// ProjectFunc extracts the named column from a record as spreadsheet text.
// Unknown columns must return "".
type ProjectFunc func(rec Record, column string) string

// Module is everything the pipeline needs from one business module.
type Module struct {
	Key   string
	Label string

	Template        Template
	ImportTemplates []ImportTemplate

	// ValidateContext, when set, rejects structurally incomplete job
	// context (e.g. a missing target container id) at submission time.
	ValidateContext func(jobCtx Context) error

	ApplyRow ApplyRowFunc
	Fetch    FetchFunc
	Project  ProjectFunc
}

// ImportTemplate returns the module's mapping preset with the given name,
// matched case-insensitively.
func (m Module) ImportTemplate(name string) (ImportTemplate, bool) {
	for _, t := range m.ImportTemplates {
		if strings.EqualFold(t.Name, name) {
			return t, true
		}
	}
	return ImportTemplate{}, false
}
