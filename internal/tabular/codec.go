// Package tabular is the spreadsheet codec for the pipeline: it decodes an
// uploaded byte buffer into a header list plus ordered rows of trimmed text
// fields, and encodes rows back to RFC 4180 CSV. Decoding is streaming
// internally so large files never require more than one row in memory at a
// time beyond the returned result.
package tabular

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/JonMunkholm/bulk/internal/job"
)

// Document is a decoded spreadsheet: the trimmed header names and one
// header->value mapping per data row, in source order.
type Document struct {
	Headers []string
	Rows    []map[string]string
}

// Decode parses an entire spreadsheet buffer. An empty or headerless buffer
// fails with job.ErrInvalidInput. Input accepts \n or \r\n line endings and
// lazy quoting; cells and headers are whitespace-trimmed.
func Decode(data []byte) (*Document, error) {
	return DecodeLimit(data, 0)
}

// DecodeLimit parses at most limit data rows (0 means unbounded). The
// upload-preview path uses a small limit; a committed import decodes fully.
func DecodeLimit(data []byte, limit int) (*Document, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%w: empty file", job.ErrInvalidInput)
	}

	r := csv.NewReader(newSanitizingReader(bytes.NewReader(data)))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	headers, err := readHeader(r)
	if err != nil {
		return nil, err
	}

	doc := &Document{Headers: headers}

	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: parse row %d: %v", job.ErrInvalidInput, len(doc.Rows)+1, err)
		}
		if emptyRecord(record) {
			continue
		}

		row := make(map[string]string, len(headers))
		for i, h := range headers {
			if i < len(record) {
				row[h] = strings.TrimSpace(record[i])
			} else {
				row[h] = ""
			}
		}
		doc.Rows = append(doc.Rows, row)

		if limit > 0 && len(doc.Rows) >= limit {
			break
		}
	}

	return doc, nil
}

// readHeader returns the first non-empty record as trimmed header names.
func readHeader(r *csv.Reader) ([]string, error) {
	for {
		record, err := r.Read()
		if err == io.EOF {
			return nil, fmt.Errorf("%w: no header row", job.ErrInvalidInput)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: parse header: %v", job.ErrInvalidInput, err)
		}
		if emptyRecord(record) {
			continue
		}

		headers := make([]string, len(record))
		for i, h := range record {
			headers[i] = strings.TrimSpace(h)
		}
		return headers, nil
	}
}

// Encode writes a header line followed by one line per row, quoting per
// RFC 4180. Cells for columns absent from a row are empty. The round-trip
// property holds: Decode(Encode(cols, rows)) preserves every cell value.
func Encode(columns []string, rows []map[string]string) ([]byte, error) {
	if len(columns) == 0 {
		return nil, fmt.Errorf("%w: no columns to encode", job.ErrInvalidInput)
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(columns); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}

	record := make([]string, len(columns))
	for i, row := range rows {
		for j, col := range columns {
			record[j] = row[col]
		}
		if err := w.Write(record); err != nil {
			return nil, fmt.Errorf("write row %d: %w", i+1, err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush: %w", err)
	}

	return buf.Bytes(), nil
}

// emptyRecord reports whether every cell is blank.
func emptyRecord(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
