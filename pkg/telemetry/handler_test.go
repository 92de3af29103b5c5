package telemetry

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noemakg/noema/pkg/store"
)

func newHandler(t *testing.T) (*slog.Logger, *store.SQLiteStore) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "graph.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	h, err := NewErrorHandler(slog.NewTextHandler(testWriter{t}, nil), s.DB())
	require.NoError(t, err)
	return slog.New(h), s
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func TestErrorRecordsArePersisted(t *testing.T) {
	log, s := newHandler(t)
	ctx := WithRequestSource(context.Background(), "/api/content/process")

	log.ErrorContext(ctx, "ingest failed", "batch_size", 3)
	log.InfoContext(ctx, "this should not persist")

	var (
		count   int
		message string
		source  string
	)
	require.NoError(t, s.DB().QueryRow("SELECT COUNT(*) FROM execution_errors").Scan(&count))
	assert.Equal(t, 1, count)

	require.NoError(t, s.DB().QueryRow(
		"SELECT message, request_source FROM execution_errors").Scan(&message, &source))
	assert.Equal(t, "ingest failed", message)
	assert.Equal(t, "/api/content/process", source)
}

func TestHandlerPassesRecordsThrough(t *testing.T) {
	log, _ := newHandler(t)
	// Must not panic or error for any level.
	log.Debug("debug")
	log.Info("info")
	log.Warn("warn")
	log.Error("error", "key", "value")
}
