package lshkv

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/lshkv/ingest"
	"github.com/hupe1980/lshkv/projection"
	"github.com/hupe1980/lshkv/query"
	"github.com/hupe1980/lshkv/signature"
)

var (
	// ErrInvalidDimension is returned for a non-positive dimension.
	ErrInvalidDimension = errors.New("invalid dimension")

	// ErrConfigMismatch is returned when a config disagrees with the stored manifest.
	ErrConfigMismatch = errors.New("configuration does not match stored index")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("index closed")

	// ErrDropped is returned after Drop.
	ErrDropped = errors.New("index dropped")

	// ErrInvalidK is returned when k is not positive.
	ErrInvalidK = errors.New("k must be positive")

	// ErrNonFinite is returned for a vector with a NaN or infinite component.
	ErrNonFinite = signature.ErrNonFinite
)

// ConfigurationError reports an invalid or inconsistent configuration.
// It is raised before any vector is written.
type ConfigurationError struct {
	Field string
	Err   error
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("configuration error: %v", e.Err)
	}
	return fmt.Sprintf("configuration error: %s: %v", e.Field, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// IngestionError reports a failed chunk. Chunks before it stay committed;
// resume from Progress.Committed.
type IngestionError struct {
	Chunk    int
	ID       string
	Progress ingest.Progress
	Err      error
}

func (e *IngestionError) Error() string {
	msg := fmt.Sprintf("ingestion error: chunk %d (committed %d vectors, cursor %q)", e.Chunk, e.Progress.Indexed, e.Progress.Committed)
	if e.ID != "" {
		msg += fmt.Sprintf(" at %q", e.ID)
	}
	return msg + ": " + e.Err.Error()
}

func (e *IngestionError) Unwrap() error { return e.Err }

// QueryError reports a failed query. Stage is 1 for the bucket lookup and
// 2 for candidate fetching; 0 means the request was rejected up front.
type QueryError struct {
	Stage int
	Err   error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query error (stage %d): %v", e.Stage, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

// PartialFetchWarning describes stage-2 candidates that were dropped
// because they could not be fetched. It is reported inside QueryResult and
// never returned as an error.
type PartialFetchWarning struct {
	NotFound      int
	Failed        int
	FailedBatches int
	Err           error
}

// Dropped returns the total number of dropped candidates.
func (w *PartialFetchWarning) Dropped() int {
	if w == nil {
		return 0
	}
	return w.NotFound + w.Failed
}

func (w *PartialFetchWarning) String() string {
	return fmt.Sprintf("partial fetch: %d not found, %d failed in %d batches", w.NotFound, w.Failed, w.FailedBatches)
}

// ErrDimensionMismatch indicates a vector/query dimensionality mismatch.
//
// The original underlying error can be accessed via errors.Unwrap.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
	cause    error
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

func (e *ErrDimensionMismatch) Unwrap() error { return e.cause }

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func translateError(err error) error {
	if err == nil {
		return nil
	}
	var dm *projection.ErrDimensionMismatch
	if errors.As(err, &dm) {
		return &ErrDimensionMismatch{Expected: dm.Expected, Actual: dm.Actual, cause: err}
	}
	return err
}

func translateIngestError(err error) error {
	if err == nil {
		return nil
	}
	var ce *ingest.ChunkError
	if errors.As(err, &ce) {
		return &IngestionError{Chunk: ce.Chunk, ID: ce.ID, Progress: ce.Progress, Err: translateError(ce.Err)}
	}
	return &IngestionError{Err: translateError(err)}
}

func translateQueryError(err error, stage int) error {
	if err == nil {
		return nil
	}
	if isContextErr(err) {
		return err
	}
	if errors.Is(err, query.ErrInvalidRequest) {
		stage = 0
	}
	var dm *projection.ErrDimensionMismatch
	if errors.As(err, &dm) || errors.Is(err, signature.ErrNonFinite) {
		stage = 0
	}
	if errors.Is(err, query.ErrFetchOutage) || errors.Is(err, query.ErrNoFetcher) {
		stage = 2
	}
	return &QueryError{Stage: stage, Err: translateError(err)}
}
