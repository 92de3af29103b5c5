package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	noema "github.com/noemakg/noema"
	"github.com/noemakg/noema/pkg/config"
	"github.com/noemakg/noema/pkg/migrate"
	"github.com/noemakg/noema/pkg/server"
	"github.com/noemakg/noema/pkg/server/dto"
	"github.com/noemakg/noema/pkg/store"
	"github.com/noemakg/noema/pkg/types"
)

type stubExtractor struct {
	result *types.ExtractionResult
}

func (s *stubExtractor) Extract(context.Context, string) (*types.ExtractionResult, error) {
	return s.result, nil
}

func newTestServer(t *testing.T, extraction *types.ExtractionResult) (*server.Server, *store.SQLiteStore) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "graph.db")
	runner := migrate.New(migrate.Options{
		StorePath: dbPath,
		Dir:       "../../migrations",
		Backup:    false,
	}, nil)
	_, err := runner.Apply(context.Background())
	require.NoError(t, err)

	s, err := store.Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	client := noema.NewClient(s, &stubExtractor{result: extraction}, nil)

	cfg := &config.Config{}
	cfg.Server.Mode = "test"
	cfg.Server.Host = "localhost"
	cfg.Server.ProcessTimeoutSeconds = 5

	srv := server.New(cfg, client, s, testLogger())
	srv.Setup()
	return srv, s
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func doRequest(t *testing.T, srv *server.Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Engine().ServeHTTP(rec, req)
	return rec
}

func TestProcessEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, &types.ExtractionResult{
		Entities: []types.CandidateEntity{
			{Name: "Socrates", Type: "person", Description: "Greek philosopher"},
			{Name: "Philosophy", Type: "concept", Description: "Study of fundamental questions"},
		},
		Relations: []types.CandidateRelation{
			{From: "Socrates", To: "Philosophy", Type: "practices"},
		},
	})

	rec := doRequest(t, srv, http.MethodPost, "/api/content/process", dto.ProcessRequest{
		Content: "Socrates practiced philosophy in ancient Athens.",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp dto.ProcessResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, 2, resp.EntitiesCreated)
	assert.Equal(t, 1, resp.RelationsCreated)
	assert.Equal(t, 2, resp.ObservationsCreated)
}

func TestProcessEndpointValidation(t *testing.T) {
	srv, _ := newTestServer(t, &types.ExtractionResult{})

	tests := []struct {
		name string
		body any
	}{
		{"missing content", map[string]string{}},
		{"whitespace content", dto.ProcessRequest{Content: "    "}},
		{"too short", dto.ProcessRequest{Content: "short"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, srv, http.MethodPost, "/api/content/process", tt.body)
			require.Equal(t, http.StatusBadRequest, rec.Code)

			var resp dto.ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.False(t, resp.Success)
			assert.Equal(t, dto.CodeValidationError, resp.Code)
		})
	}
}

func TestEntityEndpoints(t *testing.T) {
	srv, s := newTestServer(t, &types.ExtractionResult{})
	ctx := context.Background()

	var entityID int64
	err := s.RunInTx(ctx, func(tx store.Tx) error {
		e, err := tx.InsertEntity(ctx, "Socrates", "person", "Greek philosopher")
		if err != nil {
			return err
		}
		entityID = e.ID
		_, err = tx.InsertEntity(ctx, "Athens", "place", "City in Greece")
		return err
	})
	require.NoError(t, err)

	rec := doRequest(t, srv, http.MethodGet, "/api/entities", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list dto.ListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.EqualValues(t, 2, list.Total)

	rec = doRequest(t, srv, http.MethodGet, "/api/entities?type=person", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.EqualValues(t, 1, list.Total)

	rec = doRequest(t, srv, http.MethodGet, fmt.Sprintf("/api/entities/%d", entityID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var graph types.EntityGraph
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &graph))
	assert.Equal(t, "Socrates", graph.Entity.Name)

	rec = doRequest(t, srv, http.MethodGet, "/api/entities/99999", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(t, srv, http.MethodGet, "/api/entities/not-a-number", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, srv, http.MethodGet, "/api/entities/search?q=greece", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Athens")

	rec = doRequest(t, srv, http.MethodGet, "/api/entities/search", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatisticsAndVisualizationEndpoints(t *testing.T) {
	srv, _ := newTestServer(t, &types.ExtractionResult{})

	rec := doRequest(t, srv, http.MethodGet, "/api/statistics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats types.Statistics
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Zero(t, stats.TotalEntities)

	rec = doRequest(t, srv, http.MethodGet, "/api/visualization", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, srv, http.MethodGet, "/api/relations", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, &types.ExtractionResult{})

	rec := doRequest(t, srv, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")
}
