// Package telemetry persists error-level log records into the knowledge
// graph's SQLite store, so failures survive process restarts and can be
// queried alongside the data they affected.
package telemetry

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"runtime"

	"github.com/google/uuid"
)

type contextKey string

// ContextKeyRequestSource tags records with the API route that produced
// them, when the server put one in the context.
const ContextKeyRequestSource contextKey = "request_source"

// WithRequestSource returns a context carrying the request source tag.
func WithRequestSource(ctx context.Context, source string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestSource, source)
}

const errorSchema = `
CREATE TABLE IF NOT EXISTS execution_errors (
    id             TEXT PRIMARY KEY,
    timestamp      TIMESTAMP NOT NULL,
    level          TEXT NOT NULL,
    message        TEXT NOT NULL,
    request_source TEXT NOT NULL DEFAULT '',
    source_file    TEXT NOT NULL DEFAULT '',
    line_number    INTEGER NOT NULL DEFAULT 0,
    attributes     TEXT NOT NULL DEFAULT '{}'
)`

// ErrorHandler is a slog.Handler that forwards every record to the next
// handler and additionally writes error-level records to the store.
type ErrorHandler struct {
	next slog.Handler
	db   *sql.DB
}

var _ slog.Handler = (*ErrorHandler)(nil)

// NewErrorHandler wraps next with persistent error recording on db, creating
// the execution_errors table if needed.
func NewErrorHandler(next slog.Handler, db *sql.DB) (*ErrorHandler, error) {
	if _, err := db.Exec(errorSchema); err != nil {
		return nil, fmt.Errorf("init telemetry schema: %w", err)
	}
	return &ErrorHandler{next: next, db: db}, nil
}

func (h *ErrorHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *ErrorHandler) Handle(ctx context.Context, r slog.Record) error {
	if err := h.next.Handle(ctx, r); err != nil {
		return err
	}
	if r.Level < slog.LevelError {
		return nil
	}

	var requestSource string
	if v, ok := ctx.Value(ContextKeyRequestSource).(string); ok {
		requestSource = v
	}

	attrs := make(map[string]any)
	r.Attrs(func(a slog.Attr) bool {
		attrs[a.Key] = a.Value.String()
		return true
	})
	attrsJSON, _ := json.Marshal(attrs)

	frames := runtime.CallersFrames([]uintptr{r.PC})
	frame, _ := frames.Next()

	_, err := h.db.Exec(
		`INSERT INTO execution_errors (id, timestamp, level, message, request_source, source_file, line_number, attributes)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), r.Time.UTC(), r.Level.String(), r.Message,
		requestSource, frame.File, frame.Line, string(attrsJSON))
	if err != nil {
		// The log record already reached the next handler; losing the
		// persistent copy must not fail the caller.
		fmt.Fprintf(os.Stderr, "telemetry: failed to persist error record: %v\n", err)
	}
	return nil
}

func (h *ErrorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ErrorHandler{next: h.next.WithAttrs(attrs), db: h.db}
}

func (h *ErrorHandler) WithGroup(name string) slog.Handler {
	return &ErrorHandler{next: h.next.WithGroup(name), db: h.db}
}
