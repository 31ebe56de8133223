package importer

// coerce.go converts raw spreadsheet text into tagged field values.
//
// These functions handle the messy reality of user-provided spreadsheet
// data: currency symbols and thousand separators in numbers, several date
// formats, and a lexicon of boolean spellings.

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/JonMunkholm/bulk/internal/job"
	"github.com/JonMunkholm/bulk/internal/registry"
)

// dateLayouts are tried in order for date fields.
var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"1/2/2006", "01/02/2006",
	"1-2-2006", "01-02-2006",
	"Jan 2, 2006", "2 Jan 2006",
	"20060102",
	time.RFC3339,
}

// trueWords and falseWords form the boolean lexicon. The empty string also
// counts as false for optional boolean fields.
var (
	trueWords  = map[string]bool{"true": true, "1": true, "yes": true, "y": true}
	falseWords = map[string]bool{"false": true, "0": true, "no": true, "n": true, "": true}
)

// coerceValue converts one raw cell into a tagged value per the mapped
// field's type. A missing value on a required field, or text that cannot be
// coerced, fails with a descriptive message.
func coerceValue(raw string, m job.ColumnMapping) (registry.Value, error) {
	raw = strings.TrimSpace(raw)

	if raw == "" {
		if m.Required {
			return registry.Value{}, fmt.Errorf("missing required value for %q", m.Field)
		}
		if m.Type == registry.FieldBool {
			// Empty is in the false lexicon.
			v := registry.BoolValue(false)
			v.Empty = true
			return v, nil
		}
		return registry.StringValue(""), nil
	}

	switch m.Type {
	case registry.FieldString:
		return registry.StringValue(raw), nil

	case registry.FieldInteger:
		i, err := strconv.ParseInt(cleanNumeric(raw), 10, 64)
		if err != nil {
			return registry.Value{}, fmt.Errorf("invalid integer for %q: %q", m.Field, raw)
		}
		return registry.IntegerValue(i), nil

	case registry.FieldNumber:
		f, err := strconv.ParseFloat(cleanNumeric(raw), 64)
		if err != nil {
			return registry.Value{}, fmt.Errorf("invalid number for %q: %q", m.Field, raw)
		}
		return registry.NumberValue(f), nil

	case registry.FieldBool:
		word := strings.ToLower(raw)
		if trueWords[word] {
			return registry.BoolValue(true), nil
		}
		if falseWords[word] {
			return registry.BoolValue(false), nil
		}
		return registry.Value{}, fmt.Errorf("invalid boolean for %q: %q", m.Field, raw)

	case registry.FieldDate:
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, raw); err == nil {
				return registry.DateValue(t), nil
			}
		}
		return registry.Value{}, fmt.Errorf("invalid date for %q: %q", m.Field, raw)

	case registry.FieldEnum:
		for _, v := range m.EnumValues {
			if strings.EqualFold(raw, v) {
				return registry.StringValue(v), nil
			}
		}
		return registry.Value{}, fmt.Errorf("invalid value for %q: %q (expected one of %s)",
			m.Field, raw, strings.Join(m.EnumValues, ", "))
	}

	return registry.Value{}, fmt.Errorf("unknown field type for %q", m.Field)
}

// cleanNumeric strips currency symbols, thousands separators and
// accounting-style parentheses before numeric parsing.
func cleanNumeric(s string) string {
	neg := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		neg = true
		s = strings.TrimSpace(s[1 : len(s)-1])
	}

	r := strings.NewReplacer("$", "", "€", "", "£", "", ",", "")
	s = strings.TrimSpace(r.Replace(s))

	if neg {
		s = "-" + s
	}
	return s
}

// buildRow resolves the job's column mapping against one decoded row and
// coerces every mapped field. Unmapped optional fields are omitted.
func buildRow(raw map[string]string, mapping []job.ColumnMapping) (registry.Row, error) {
	row := make(registry.Row, len(mapping))
	for _, m := range mapping {
		if m.SourceColumn == "" {
			// Structural validation at submission guarantees required
			// fields are mapped; anything unmapped here is optional.
			continue
		}
		v, err := coerceValue(raw[m.SourceColumn], m)
		if err != nil {
			return nil, err
		}
		row[m.Field] = v
	}
	return row, nil
}
