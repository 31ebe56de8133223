// Package artifact abstracts durable byte storage for the pipeline: import
// source files on the way in, export spreadsheets on the way out. Backends
// implement Store; local filesystem and Google Cloud Storage are provided.
package artifact

import (
	"context"
	"fmt"
	"time"
)

// Store is a flat key/value byte store.
type Store interface {
	// Put writes data under key, overwriting any existing object.
	Put(ctx context.Context, key string, data []byte, contentType string) error
	// Get reads the object stored under key.
	Get(ctx context.Context, key string) ([]byte, error)
	// Delete removes the object stored under key. Deleting a missing key is
	// not an error.
	Delete(ctx context.Context, key string) error
	// Location identifies the backend for job records, e.g. "local" or
	// "gcs:bucket-name".
	Location() string
}

// ImportSourceKey returns the storage key for an import job's uploaded
// source bytes.
func ImportSourceKey(jobID string) string {
	return fmt.Sprintf("imports/%s/source.csv", jobID)
}

// ExportKey returns the storage key for an export job's encoded output.
func ExportKey(jobID, fileName string) string {
	return fmt.Sprintf("exports/%s/%s", jobID, fileName)
}

// DefaultExportFileName builds an output name when the caller supplied none.
func DefaultExportFileName(moduleKey string, now time.Time) string {
	return fmt.Sprintf("%s-export-%s.csv", moduleKey, now.Format("2006-01-02"))
}
