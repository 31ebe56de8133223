package tabular

import (
	"errors"
	"strings"
	"testing"

	"github.com/JonMunkholm/bulk/internal/job"
)

// ----------------------------------------------------------------------------
// Decode Tests
// ----------------------------------------------------------------------------

func TestDecode(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		wantHeaders []string
		wantRows    int
	}{
		{
			name:        "basic file",
			input:       "sku,qty\nA-1,5\nB-2,3\n",
			wantHeaders: []string{"sku", "qty"},
			wantRows:    2,
		},
		{
			name:        "crlf line endings",
			input:       "sku,qty\r\nA-1,5\r\n",
			wantHeaders: []string{"sku", "qty"},
			wantRows:    1,
		},
		{
			name:        "utf8 bom stripped from first header",
			input:       "\xEF\xBB\xBFsku,qty\nA-1,5\n",
			wantHeaders: []string{"sku", "qty"},
			wantRows:    1,
		},
		{
			name:        "headers and cells trimmed",
			input:       " sku , qty \n A-1 , 5 \n",
			wantHeaders: []string{"sku", "qty"},
			wantRows:    1,
		},
		{
			name:        "blank rows skipped",
			input:       "sku,qty\nA-1,5\n,\n\nB-2,3\n",
			wantHeaders: []string{"sku", "qty"},
			wantRows:    2,
		},
		{
			name:        "quoted cell with embedded comma",
			input:       "name,notes\nWidget,\"small, blue\"\n",
			wantHeaders: []string{"name", "notes"},
			wantRows:    1,
		},
		{
			name:        "short row padded with empty cells",
			input:       "sku,qty,location\nA-1,5\n",
			wantHeaders: []string{"sku", "qty", "location"},
			wantRows:    1,
		},
		{
			name:        "no trailing newline",
			input:       "sku,qty\nA-1,5",
			wantHeaders: []string{"sku", "qty"},
			wantRows:    1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := Decode([]byte(tt.input))
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if len(doc.Headers) != len(tt.wantHeaders) {
				t.Fatalf("headers = %v, want %v", doc.Headers, tt.wantHeaders)
			}
			for i, h := range tt.wantHeaders {
				if doc.Headers[i] != h {
					t.Errorf("headers[%d] = %q, want %q", i, doc.Headers[i], h)
				}
			}
			if len(doc.Rows) != tt.wantRows {
				t.Errorf("rows = %d, want %d", len(doc.Rows), tt.wantRows)
			}
		})
	}
}

func TestDecode_CellValues(t *testing.T) {
	doc, err := Decode([]byte("name,notes\nWidget,\"small, blue\"\n"))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if got := doc.Rows[0]["notes"]; got != "small, blue" {
		t.Errorf("notes = %q, want %q", got, "small, blue")
	}
}

func TestDecode_ShortRowCellsEmpty(t *testing.T) {
	doc, err := Decode([]byte("sku,qty,location\nA-1,5\n"))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if got := doc.Rows[0]["location"]; got != "" {
		t.Errorf("location = %q, want empty", got)
	}
}

func TestDecode_InvalidUTF8Replaced(t *testing.T) {
	doc, err := Decode([]byte("name\nwid\xFFget\n"))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if got := doc.Rows[0]["name"]; got != "wid?get" {
		t.Errorf("name = %q, want %q", got, "wid?get")
	}
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty buffer", ""},
		{"whitespace only", "  \n\t\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.input))
			if !errors.Is(err, job.ErrInvalidInput) {
				t.Fatalf("Decode() error = %v, want ErrInvalidInput", err)
			}
		})
	}
}

func TestDecodeLimit(t *testing.T) {
	var b strings.Builder
	b.WriteString("sku\n")
	for i := 0; i < 100; i++ {
		b.WriteString("A\n")
	}

	doc, err := DecodeLimit([]byte(b.String()), 10)
	if err != nil {
		t.Fatalf("DecodeLimit() error = %v", err)
	}
	if len(doc.Rows) != 10 {
		t.Errorf("rows = %d, want 10", len(doc.Rows))
	}
}

// ----------------------------------------------------------------------------
// Encode Tests
// ----------------------------------------------------------------------------

func TestEncode(t *testing.T) {
	columns := []string{"sku", "notes"}
	rows := []map[string]string{
		{"sku": "A-1", "notes": "small, blue"},
		{"sku": "B-2"},
	}

	data, err := Encode(columns, rows)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	want := "sku,notes\nA-1,\"small, blue\"\nB-2,\n"
	if string(data) != want {
		t.Errorf("Encode() = %q, want %q", data, want)
	}
}

func TestEncode_NoColumns(t *testing.T) {
	_, err := Encode(nil, nil)
	if !errors.Is(err, job.ErrInvalidInput) {
		t.Fatalf("Encode() error = %v, want ErrInvalidInput", err)
	}
}

func TestEncode_RoundTrip(t *testing.T) {
	columns := []string{"name", "notes"}
	rows := []map[string]string{
		{"name": "Widget", "notes": "line1\nline2"},
		{"name": "he said \"hi\"", "notes": "a,b,c"},
	}

	data, err := Encode(columns, rows)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	doc, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if len(doc.Rows) != len(rows) {
		t.Fatalf("rows = %d, want %d", len(doc.Rows), len(rows))
	}
	for i, row := range rows {
		for _, col := range columns {
			if doc.Rows[i][col] != strings.TrimSpace(row[col]) {
				t.Errorf("row %d col %q = %q, want %q", i, col, doc.Rows[i][col], row[col])
			}
		}
	}
}
