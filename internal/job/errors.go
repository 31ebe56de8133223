package job

import (
	"errors"
	"fmt"
)

// Sentinel errors for the pipeline's error taxonomy. Structural errors are
// returned synchronously at submission time; anything raised during
// asynchronous processing is recorded on the job record instead of being
// thrown to an unattended caller.
var (
	// ErrInvalidInput indicates an empty or unparseable upload.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnsupportedModule indicates an unknown module key.
	ErrUnsupportedModule = errors.New("unsupported module")

	// ErrMissingRequiredMapping indicates a required template field with no
	// source column, detected at job creation.
	ErrMissingRequiredMapping = errors.New("missing required column mapping")

	// ErrDuplicateKey is returned by row appliers when a natural-key
	// collision is found under the "error" duplicate strategy.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrJobNotFound covers both genuinely missing jobs and ownership
	// failures; the two are indistinguishable to callers so that job
	// existence is never leaked.
	ErrJobNotFound = errors.New("job not found")

	// ErrInvalidSchedule indicates a malformed schedule expression.
	ErrInvalidSchedule = errors.New("invalid schedule")

	// ErrExportNotReady indicates a download request for an export job that
	// has not completed.
	ErrExportNotReady = errors.New("export not ready")
)

// StorageError wraps an artifact read or write failure. Storage failures
// are fatal to the job they occur in.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
