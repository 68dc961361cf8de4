package lshkv

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/hupe1980/lshkv/ingest"
)

// Logger wraps slog.Logger with lshkv-specific context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// WithPrefix adds the key namespace to the logger.
func (l *Logger) WithPrefix(prefix string) *Logger {
	return &Logger{
		Logger: l.Logger.With("prefix", prefix),
	}
}

// LogOpen logs how an index was opened.
func (l *Logger) LogOpen(ctx context.Context, created bool, dim, bands, rows int) {
	msg := "index opened"
	if created {
		msg = "index created"
	}
	l.InfoContext(ctx, msg,
		"dimension", dim,
		"bands", bands,
		"rows_per_band", rows,
	)
}

// LogIndex logs a batch index or ingest run.
func (l *Logger) LogIndex(ctx context.Context, p ingest.Progress, err error) {
	if err != nil {
		l.ErrorContext(ctx, "index failed",
			"indexed", p.Indexed,
			"skipped", p.Skipped,
			"cursor", string(p.Committed),
			"error", err,
		)
		return
	}
	if p.Skipped > 0 {
		l.WarnContext(ctx, "index completed with skipped vectors",
			"indexed", p.Indexed,
			"skipped", p.Skipped,
		)
		return
	}
	l.InfoContext(ctx, "index completed",
		"indexed", p.Indexed,
		"chunks", p.Chunks,
	)
}

// LogIngestChunk logs a committed ingest chunk.
func (l *Logger) LogIngestChunk(ctx context.Context, p ingest.Progress) {
	l.DebugContext(ctx, "chunk committed",
		"chunk", p.Chunks-1,
		"cursor", string(p.Committed),
		"indexed", p.Indexed,
	)
}

// LogQuery logs a query.
func (l *Logger) LogQuery(ctx context.Context, candidates, results int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "query failed",
			"candidates", candidates,
			"error", err,
		)
		return
	}
	l.DebugContext(ctx, "query completed",
		"candidates", candidates,
		"results", results,
	)
}

// LogPartialFetch logs candidates dropped during a query.
func (l *Logger) LogPartialFetch(ctx context.Context, w *PartialFetchWarning) {
	l.WarnContext(ctx, "query dropped candidates",
		"dropped", w.Dropped(),
		"not_found", w.NotFound,
		"failed", w.Failed,
		"failed_batches", w.FailedBatches,
	)
}

// LogDelete logs a delete operation.
func (l *Logger) LogDelete(ctx context.Context, id string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "delete failed",
			"vector_id", id,
			"error", err,
		)
		return
	}
	l.DebugContext(ctx, "delete completed",
		"vector_id", id,
	)
}
