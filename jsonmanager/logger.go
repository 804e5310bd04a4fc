package jsonmanager

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with helpers for the events a batch produces.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a Logger with the given handler.
// If handler is nil, uses a text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
	}
	return &Logger{Logger: slog.New(handler)}
}

// NewTextLogger creates a Logger writing human-readable lines to w.
func NewTextLogger(w io.Writer, level slog.Level) *Logger {
	return NewLogger(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// NoopLogger discards everything.
func NoopLogger() *Logger {
	return NewLogger(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.Level(1000)}))
}

// WithRun tags every record with the batch run ID.
func (l *Logger) WithRun(runID string) *Logger {
	return &Logger{Logger: l.Logger.With("run", runID)}
}

// LogLoadError logs a record that could not be read or decoded.
func (l *Logger) LogLoadError(ctx context.Context, path string, err error) {
	l.ErrorContext(ctx, "error processing file", "path", path, "error", err)
}

// LogInvalid logs a record whose position cannot be grouped.
func (l *Logger) LogInvalid(ctx context.Context, path string, err error) {
	var ipe *InvalidPositionError
	if errors.As(err, &ipe) && ipe.Raw != "" {
		l.WarnContext(ctx, "invalid position format", "path", path, "position", ipe.Raw, "reason", ipe.Reason())
		return
	}
	l.WarnContext(ctx, "invalid position", "path", path, "error", err)
}

// LogMutation logs one mutation outcome. Failures go to error level.
func (l *Logger) LogMutation(ctx context.Context, op, path string, outcome MutationOutcome, err error) {
	switch {
	case err != nil:
		l.ErrorContext(ctx, "mutation failed", "op", op, "path", path, "error", err)
	case outcome == OutcomeApplied:
		l.InfoContext(ctx, "mutation applied", "op", op, "path", path)
	default:
		l.DebugContext(ctx, "mutation skipped", "op", op, "path", path, "outcome", outcome.String())
	}
}

// LogBatch logs the end of a batch.
func (l *Logger) LogBatch(ctx context.Context, res *Result, err error) {
	attrs := []any{
		"root", res.Root,
		"scanned", res.Stats.Scanned,
		"grouped", res.Stats.Grouped,
		"invalid", res.Stats.Invalid,
		"errored", res.Stats.Errored,
		"duplicates", res.Stats.DuplicatePositions,
		"near", res.Stats.NearPositions,
		"elapsed", res.Stats.Elapsed,
	}
	if err != nil {
		l.WarnContext(ctx, "batch stopped", append(attrs, "error", err)...)
		return
	}
	l.InfoContext(ctx, "batch completed", attrs...)
}
