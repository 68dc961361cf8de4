package ingest

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strconv"
)

// Cursor is an opaque resume position understood by a Source.
// The zero value means "from the beginning".
type Cursor string

// Record is one vector produced by a Source.
type Record struct {
	ID     string
	Vector []float32

	// Cursor is the position that resumes right after this record.
	Cursor Cursor
}

// Source produces records lazily, starting after the from cursor.
//
// A Source may yield an error; the indexer stops at that point and reports
// the progress committed so far.
type Source interface {
	Scan(ctx context.Context, from Cursor) iter.Seq2[Record, error]
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, from Cursor) iter.Seq2[Record, error]

// Scan calls f.
func (f SourceFunc) Scan(ctx context.Context, from Cursor) iter.Seq2[Record, error] {
	return f(ctx, from)
}

// ErrLengthMismatch is returned when ids and vectors differ in length.
var ErrLengthMismatch = errors.New("ingest: ids and vectors differ in length")

// SliceSource serves in-memory ids and vectors. Its cursor is the decimal
// index of the next record.
type SliceSource struct {
	ids     []string
	vectors [][]float32
}

// NewSliceSource creates a SliceSource. ids and vectors must be the same length.
func NewSliceSource(ids []string, vectors [][]float32) (*SliceSource, error) {
	if len(ids) != len(vectors) {
		return nil, fmt.Errorf("%w: %d ids, %d vectors", ErrLengthMismatch, len(ids), len(vectors))
	}
	return &SliceSource{ids: ids, vectors: vectors}, nil
}

// Len returns the number of records.
func (s *SliceSource) Len() int { return len(s.ids) }

// Scan yields records starting at the cursor position.
func (s *SliceSource) Scan(ctx context.Context, from Cursor) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		start := 0
		if from != "" {
			n, err := strconv.Atoi(string(from))
			if err != nil || n < 0 {
				yield(Record{}, fmt.Errorf("ingest: invalid cursor %q", from))
				return
			}
			start = n
		}
		for i := start; i < len(s.ids); i++ {
			if err := ctx.Err(); err != nil {
				yield(Record{}, err)
				return
			}
			rec := Record{
				ID:     s.ids[i],
				Vector: s.vectors[i],
				Cursor: Cursor(strconv.Itoa(i + 1)),
			}
			if !yield(rec, nil) {
				return
			}
		}
	}
}
