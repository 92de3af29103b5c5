package noema_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	noema "github.com/noemakg/noema"
	"github.com/noemakg/noema/pkg/migrate"
	"github.com/noemakg/noema/pkg/store"
	"github.com/noemakg/noema/pkg/types"
)

type stubExtractor struct {
	result *types.ExtractionResult
	err    error
	calls  int
}

func (s *stubExtractor) Extract(context.Context, string) (*types.ExtractionResult, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

type mapCache struct {
	entries map[string]*types.ExtractionResult
}

func (m *mapCache) Get(_ context.Context, key string) (*types.ExtractionResult, bool) {
	r, ok := m.entries[key]
	return r, ok
}

func (m *mapCache) Set(_ context.Context, key string, result *types.ExtractionResult) error {
	m.entries[key] = result
	return nil
}

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "graph.db")
	runner := migrate.New(migrate.Options{
		StorePath: dbPath,
		Dir:       "migrations",
		Backup:    false,
	}, nil)
	_, err := runner.Apply(context.Background())
	require.NoError(t, err)

	s, err := store.Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func philosophyBatch() *types.ExtractionResult {
	return &types.ExtractionResult{
		Entities: []types.CandidateEntity{
			{Name: "Philosophy", Type: "concept", Description: "Study of fundamental questions"},
			{Name: "Socrates", Type: "person", Description: "Ancient Greek philosopher"},
		},
		Relations: []types.CandidateRelation{
			{From: "Socrates", To: "Philosophy", Type: "practices", Evidence: "Socrates practiced philosophy in Athens"},
		},
	}
}

func TestIngestThenReplayIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	client := noema.NewClient(s, nil, nil)
	ctx := context.Background()
	source := noema.Source{Type: "text"}

	result, err := client.Ingest(ctx, philosophyBatch(), source)
	require.NoError(t, err)
	assert.Equal(t, 2, result.EntitiesCreated)
	assert.Equal(t, 0, result.EntitiesExisting)
	assert.Equal(t, 1, result.RelationsCreated)
	assert.Equal(t, 0, result.RelationsExisting)
	assert.Equal(t, 2, result.ObservationsCreated)
	assert.Equal(t, 2, result.TotalEntities)
	assert.Equal(t, 1, result.TotalRelations)

	result, err = client.Ingest(ctx, philosophyBatch(), source)
	require.NoError(t, err)
	assert.Equal(t, 0, result.EntitiesCreated)
	assert.Equal(t, 2, result.EntitiesExisting)
	assert.Equal(t, 0, result.RelationsCreated)
	assert.Equal(t, 1, result.RelationsExisting)

	stats, err := s.Statistics(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, stats.TotalEntities)
	assert.EqualValues(t, 1, stats.TotalRelations)
}

func TestCaseInsensitiveIdentityWithinBatch(t *testing.T) {
	s := newTestStore(t)
	client := noema.NewClient(s, nil, nil)
	ctx := context.Background()

	batch := &types.ExtractionResult{
		Entities: []types.CandidateEntity{
			{Name: "Socrates", Type: "person"},
			{Name: "socrates ", Type: "person"},
			{Name: "SOCRATES", Type: "person"},
		},
	}
	result, err := client.Ingest(ctx, batch, noema.Source{})
	require.NoError(t, err)
	assert.Equal(t, 1, result.EntitiesCreated)
	assert.Equal(t, 2, result.EntitiesExisting)

	stats, err := s.Statistics(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.TotalEntities)
}

func TestDanglingRelationEndpointsAreCreated(t *testing.T) {
	s := newTestStore(t)
	client := noema.NewClient(s, nil, nil)
	ctx := context.Background()

	batch := &types.ExtractionResult{
		Relations: []types.CandidateRelation{
			{From: "X", To: "Y", Type: "uses"},
		},
	}
	result, err := client.Ingest(ctx, batch, noema.Source{})
	require.NoError(t, err)
	assert.Equal(t, 2, result.EntitiesCreated)
	assert.Equal(t, 1, result.RelationsCreated)

	entities, _, err := s.ListEntities(ctx, "", 10, 0)
	require.NoError(t, err)
	require.Len(t, entities, 2)
	for _, e := range entities {
		assert.Equal(t, types.DefaultEntityType, e.EntityType)
		assert.Equal(t, types.InferredDescription, e.Description)
	}
}

func TestEndpointResolvesToExistingEntityAcrossTypes(t *testing.T) {
	s := newTestStore(t)
	client := noema.NewClient(s, nil, nil)
	ctx := context.Background()

	_, err := client.Ingest(ctx, &types.ExtractionResult{
		Entities: []types.CandidateEntity{{Name: "Socrates", Type: "person"}},
	}, noema.Source{})
	require.NoError(t, err)

	// A later batch references the same name as a bare endpoint; it must not
	// create a second entity under the default type.
	result, err := client.Ingest(ctx, &types.ExtractionResult{
		Relations: []types.CandidateRelation{{From: "socrates", To: "Philosophy", Type: "practices"}},
	}, noema.Source{})
	require.NoError(t, err)
	assert.Equal(t, 1, result.EntitiesCreated, "only Philosophy is new")

	stats, err := s.Statistics(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, stats.TotalEntities)
}

func TestEndpointTieBreakPrefersMostRecentlyUpdated(t *testing.T) {
	s := newTestStore(t)
	client := noema.NewClient(s, nil, nil)
	ctx := context.Background()

	_, err := client.Ingest(ctx, &types.ExtractionResult{
		Entities: []types.CandidateEntity{{Name: "Python", Type: "language", Description: "Programming language"}},
	}, noema.Source{})
	require.NoError(t, err)

	_, err = client.Ingest(ctx, &types.ExtractionResult{
		Entities: []types.CandidateEntity{{Name: "PYTHON", Type: "animal", Description: "Large snake"}},
	}, noema.Source{})
	require.NoError(t, err)

	// The bare endpoint matches both rows by normalized name; the most
	// recently updated one wins.
	_, err = client.Ingest(ctx, &types.ExtractionResult{
		Relations: []types.CandidateRelation{{From: "python", To: "Reptiles", Type: "belongs_to"}},
	}, noema.Source{})
	require.NoError(t, err)

	relations, _, err := s.ListRelations(ctx, "", 10, 0)
	require.NoError(t, err)
	require.Len(t, relations, 1)
	assert.Equal(t, "animal", relations[0].FromEntityType)
	assert.Equal(t, "PYTHON", relations[0].FromEntityName)
}

func TestSelfLoopRelationsAreSkipped(t *testing.T) {
	s := newTestStore(t)
	client := noema.NewClient(s, nil, nil)
	ctx := context.Background()

	batch := &types.ExtractionResult{
		Entities: []types.CandidateEntity{{Name: "Socrates", Type: "person"}},
		Relations: []types.CandidateRelation{
			{From: "Socrates", To: "Socrates", Type: "knows"},
			{From: "Socrates", To: "socrates", Type: "knows"},
		},
	}
	result, err := client.Ingest(ctx, batch, noema.Source{})
	require.NoError(t, err)
	assert.Zero(t, result.RelationsCreated)
	assert.Zero(t, result.RelationsExisting)

	stats, err := s.Statistics(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.TotalRelations)
}

func TestRelationEvidenceIsOverwrittenNotDuplicated(t *testing.T) {
	s := newTestStore(t)
	client := noema.NewClient(s, nil, nil)
	ctx := context.Background()

	first := &types.ExtractionResult{
		Relations: []types.CandidateRelation{
			{From: "A", To: "B", Type: "t", Evidence: "e1", Strength: 0.5},
		},
	}
	_, err := client.Ingest(ctx, first, noema.Source{})
	require.NoError(t, err)

	second := &types.ExtractionResult{
		Relations: []types.CandidateRelation{
			{From: "A", To: "B", Type: "t", Evidence: "e2", Strength: 0.9},
		},
	}
	result, err := client.Ingest(ctx, second, noema.Source{})
	require.NoError(t, err)
	assert.Zero(t, result.RelationsCreated)
	assert.Equal(t, 1, result.RelationsExisting)

	rels, total, err := s.ListRelations(ctx, "", 10, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	require.Len(t, rels, 1)
	assert.Equal(t, "e2", rels[0].Evidence)
	assert.InDelta(t, 0.9, rels[0].Strength, 1e-9)
}

func TestMalformedRecordsAreSkipped(t *testing.T) {
	s := newTestStore(t)
	client := noema.NewClient(s, nil, nil)
	ctx := context.Background()

	batch := &types.ExtractionResult{
		Entities: []types.CandidateEntity{
			{Name: "   "},
			{Name: "Valid", Type: "concept"},
		},
		Relations: []types.CandidateRelation{
			{From: "", To: "Valid"},
			{From: "Valid", To: "  "},
		},
	}
	result, err := client.Ingest(ctx, batch, noema.Source{})
	require.NoError(t, err)
	assert.Equal(t, 1, result.EntitiesCreated)
	assert.Zero(t, result.RelationsCreated)
}

func TestDescriptionBackfillOnExistingEntity(t *testing.T) {
	s := newTestStore(t)
	client := noema.NewClient(s, nil, nil)
	ctx := context.Background()

	_, err := client.Ingest(ctx, &types.ExtractionResult{
		Entities: []types.CandidateEntity{{Name: "Athens", Type: "place"}},
	}, noema.Source{})
	require.NoError(t, err)

	_, err = client.Ingest(ctx, &types.ExtractionResult{
		Entities: []types.CandidateEntity{{Name: "Athens", Type: "place", Description: "City in Greece"}},
	}, noema.Source{})
	require.NoError(t, err)

	entities, _, err := s.ListEntities(ctx, "place", 10, 0)
	require.NoError(t, err)
	require.Len(t, entities, 1)
	assert.Equal(t, "City in Greece", entities[0].Description)

	// A third description does not replace the one already present.
	_, err = client.Ingest(ctx, &types.ExtractionResult{
		Entities: []types.CandidateEntity{{Name: "Athens", Type: "place", Description: "Different"}},
	}, noema.Source{})
	require.NoError(t, err)

	entities, _, err = s.ListEntities(ctx, "place", 10, 0)
	require.NoError(t, err)
	assert.Equal(t, "City in Greece", entities[0].Description)
}

func TestTypeScopedIdentityAcrossBatches(t *testing.T) {
	s := newTestStore(t)
	client := noema.NewClient(s, nil, nil)
	ctx := context.Background()

	_, err := client.Ingest(ctx, &types.ExtractionResult{
		Entities: []types.CandidateEntity{{Name: "Python", Type: "language"}},
	}, noema.Source{})
	require.NoError(t, err)

	result, err := client.Ingest(ctx, &types.ExtractionResult{
		Entities: []types.CandidateEntity{{Name: "Python", Type: "animal"}},
	}, noema.Source{})
	require.NoError(t, err)
	assert.Equal(t, 1, result.EntitiesCreated, "same name under a new type is a new entity")
}

func TestProcessTextEmptyInputIsZeroCountSuccess(t *testing.T) {
	s := newTestStore(t)
	extractor := &stubExtractor{result: philosophyBatch()}
	client := noema.NewClient(s, extractor, nil)

	result, err := client.ProcessText(context.Background(), "   \n\t ", noema.Source{Type: "text"})
	require.NoError(t, err)
	assert.Zero(t, result.EntitiesCreated)
	assert.Zero(t, result.ObservationsCreated)
	assert.Zero(t, extractor.calls, "extractor must not run for empty text")
}

func TestProcessTextExtractionFailureLeavesStoreUntouched(t *testing.T) {
	s := newTestStore(t)
	extractor := &stubExtractor{err: &types.ExtractionError{Backend: "openai", Err: errors.New("boom")}}
	client := noema.NewClient(s, extractor, nil)
	ctx := context.Background()

	_, err := client.ProcessText(ctx, "Socrates taught Plato.", noema.Source{Type: "text"})
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrExtraction)

	stats, err := s.Statistics(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.TotalEntities)
}

func TestProcessTextUsesCache(t *testing.T) {
	s := newTestStore(t)
	extractor := &stubExtractor{result: philosophyBatch()}
	cache := &mapCache{entries: make(map[string]*types.ExtractionResult)}
	client := noema.NewClient(s, extractor, &noema.Config{Cache: cache})
	ctx := context.Background()

	text := "Socrates practiced philosophy."
	_, err := client.ProcessText(ctx, text, noema.Source{Type: "text"})
	require.NoError(t, err)
	assert.Equal(t, 1, extractor.calls)

	_, err = client.ProcessText(ctx, text, noema.Source{Type: "text"})
	require.NoError(t, err)
	assert.Equal(t, 1, extractor.calls, "second call must hit the cache")
}

func TestObservationsRecordSourceProvenance(t *testing.T) {
	s := newTestStore(t)
	client := noema.NewClient(s, nil, nil)
	ctx := context.Background()

	_, err := client.Ingest(ctx, &types.ExtractionResult{
		Entities: []types.CandidateEntity{
			{Name: "Socrates", Type: "person", Description: "Greek philosopher"},
		},
	}, noema.Source{Type: "pdf", Path: "/docs/apology.pdf"})
	require.NoError(t, err)

	entities, _, err := s.ListEntities(ctx, "person", 10, 0)
	require.NoError(t, err)
	require.Len(t, entities, 1)

	graph, err := s.GetEntityGraph(ctx, entities[0].ID)
	require.NoError(t, err)
	require.Len(t, graph.Observations, 1)
	obs := graph.Observations[0]
	assert.Equal(t, "Greek philosopher", obs.Content)
	assert.Equal(t, "pdf", obs.SourceType)
	assert.Equal(t, "/docs/apology.pdf", obs.SourcePath)
	assert.InDelta(t, 1.0, obs.Confidence, 1e-9)
}
