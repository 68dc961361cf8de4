package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/lshkv/bucket"
	"github.com/hupe1980/lshkv/internal/retry"
	"github.com/hupe1980/lshkv/kvstore"
	"github.com/hupe1980/lshkv/resource"
	"github.com/hupe1980/lshkv/signature"
)

// DefaultBatchSize is the default number of records per chunk.
const DefaultBatchSize = 256

// Progress reports what an ingest run has committed.
type Progress struct {
	// Committed is the cursor after the last record of the last committed
	// chunk. Resume from here after a failure.
	Committed Cursor `json:"committed"`

	// Indexed counts records written to the index.
	Indexed int `json:"indexed"`

	// Skipped counts records not written: invalid records when SkipInvalid
	// is set, and earlier duplicates of an id within one chunk.
	Skipped int `json:"skipped"`

	// Chunks counts committed chunks.
	Chunks int `json:"chunks"`
}

// ChunkError reports a chunk that could not be committed.
type ChunkError struct {
	// Chunk is the zero-based index of the failed chunk in this run.
	Chunk int

	// ID is the record that failed, if the failure is tied to one.
	ID string

	// Progress is what was committed before the failed chunk.
	Progress Progress

	Err error
}

func (e *ChunkError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("ingest: chunk %d failed at %q (committed cursor %q): %v", e.Chunk, e.ID, e.Progress.Committed, e.Err)
	}
	return fmt.Sprintf("ingest: chunk %d failed (committed cursor %q): %v", e.Chunk, e.Progress.Committed, e.Err)
}

func (e *ChunkError) Unwrap() error { return e.Err }

// Options configures an Indexer.
type Options struct {
	// BatchSize is the number of records per chunk. Default: DefaultBatchSize.
	BatchSize int

	// Concurrency caps parallel signing and parallel index writes.
	// Default: 8.
	Concurrency int

	// Retry controls backoff for failed index writes.
	// The zero value uses retry.DefaultPolicy.
	Retry retry.Policy

	// Resource throttles vectors per second. Optional.
	Resource *resource.Controller

	// Logger receives chunk progress. Default: discard.
	Logger *slog.Logger

	// SkipInvalid skips records that cannot be signed (wrong dimension,
	// non-finite component, empty id) instead of failing the chunk.
	SkipInvalid bool

	// OnChunk is called after every committed chunk.
	OnChunk func(Progress)
}

// Indexer writes records into a bucket index.
type Indexer struct {
	gen   *signature.Generator
	index *bucket.Index
	opts  Options
}

// New creates an Indexer.
func New(gen *signature.Generator, index *bucket.Index, opts Options) *Indexer {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 8
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = retry.DefaultPolicy()
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Indexer{gen: gen, index: index, opts: opts}
}

// BatchSize returns the effective chunk size.
func (ix *Indexer) BatchSize() int { return ix.opts.BatchSize }

// Run consumes src from the given cursor until it is exhausted.
// On failure the error is a *ChunkError whose Progress equals the returned
// Progress.
func (ix *Indexer) Run(ctx context.Context, src Source, from Cursor) (Progress, error) {
	progress := Progress{Committed: from}
	chunk := make([]Record, 0, ix.opts.BatchSize)

	flush := func() error {
		if len(chunk) == 0 {
			return nil
		}
		indexed, skipped, err := ix.commit(ctx, progress.Chunks, chunk)
		if err != nil {
			return err
		}
		progress.Committed = chunk[len(chunk)-1].Cursor
		progress.Indexed += indexed
		progress.Skipped += skipped
		progress.Chunks++
		chunk = chunk[:0]

		ix.opts.Logger.DebugContext(ctx, "chunk committed",
			"chunk", progress.Chunks-1,
			"cursor", string(progress.Committed),
			"indexed", indexed,
			"skipped", skipped,
		)
		if ix.opts.OnChunk != nil {
			ix.opts.OnChunk(progress)
		}
		return nil
	}

	fail := func(err error) (Progress, error) {
		var ce *ChunkError
		if errors.As(err, &ce) {
			ce.Progress = progress
			return progress, ce
		}
		return progress, &ChunkError{Chunk: progress.Chunks, Progress: progress, Err: err}
	}

	for rec, err := range src.Scan(ctx, from) {
		if err != nil {
			// Records already read in this chunk are valid; commit them first.
			if ferr := flush(); ferr != nil {
				return fail(ferr)
			}
			return fail(fmt.Errorf("ingest: source: %w", err))
		}
		chunk = append(chunk, rec)
		if len(chunk) == ix.opts.BatchSize {
			if err := flush(); err != nil {
				return fail(err)
			}
		}
	}
	if err := flush(); err != nil {
		return fail(err)
	}
	return progress, nil
}

// Index writes ids and vectors as one run over a SliceSource.
func (ix *Indexer) Index(ctx context.Context, ids []string, vectors [][]float32) (Progress, error) {
	src, err := NewSliceSource(ids, vectors)
	if err != nil {
		return Progress{}, err
	}
	return ix.Run(ctx, src, "")
}

// commit signs and writes one chunk. It returns indexed and skipped counts.
func (ix *Indexer) commit(ctx context.Context, chunkIdx int, chunk []Record) (int, int, error) {
	start := time.Now()

	if err := ix.opts.Resource.AcquireVectors(ctx, len(chunk)); err != nil {
		return 0, 0, &ChunkError{Chunk: chunkIdx, Err: err}
	}

	vectors := make([][]float32, len(chunk))
	for i, rec := range chunk {
		vectors[i] = rec.Vector
	}
	sigs, errs, err := ix.gen.SignBatch(ctx, vectors, ix.opts.Concurrency)
	if err != nil {
		return 0, 0, &ChunkError{Chunk: chunkIdx, Err: err}
	}

	// The last occurrence of an id in the chunk wins.
	last := make(map[string]int, len(chunk))
	for i, rec := range chunk {
		last[rec.ID] = i
	}

	skipped := 0
	todo := make([]int, 0, len(chunk))
	for i, rec := range chunk {
		if last[rec.ID] != i {
			skipped++
			continue
		}
		invalid := errs[i]
		if rec.ID == "" {
			invalid = bucket.ErrEmptyID
		}
		if invalid != nil {
			if !ix.opts.SkipInvalid {
				return 0, 0, &ChunkError{Chunk: chunkIdx, ID: rec.ID, Err: invalid}
			}
			ix.opts.Logger.WarnContext(ctx, "skipping invalid record", "vector_id", rec.ID, "error", invalid)
			skipped++
			continue
		}
		todo = append(todo, i)
	}

	eg, ectx := errgroup.WithContext(ctx)
	eg.SetLimit(ix.opts.Concurrency)
	for _, i := range todo {
		rec := chunk[i]
		eg.Go(func() error {
			err := retry.Do(ectx, ix.opts.Retry, func(ctx context.Context) error {
				err := ix.index.Add(ctx, rec.ID, sigs[i])
				if permanent(err) {
					return retry.Permanent(err)
				}
				return err
			}, func(attempt int, err error) {
				ix.opts.Logger.WarnContext(ectx, "retrying index write",
					"vector_id", rec.ID,
					"attempt", attempt,
					"error", err,
				)
			})
			if err != nil {
				return &ChunkError{Chunk: chunkIdx, ID: rec.ID, Err: err}
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return 0, 0, err
	}

	ix.opts.Logger.DebugContext(ctx, "chunk written",
		"chunk", chunkIdx,
		"records", len(chunk),
		"duration", time.Since(start),
	)
	return len(todo), skipped, nil
}

// permanent reports write errors that retrying cannot fix.
func permanent(err error) bool {
	return errors.Is(err, kvstore.ErrInvalidKey) ||
		errors.Is(err, kvstore.ErrClosed) ||
		errors.Is(err, bucket.ErrEmptyID)
}
