// Package noema builds a personal knowledge graph from noisy LLM extraction
// output. It merges extraction batches into a persistent graph of entities,
// observations, and relations, resolving entity identity across batches and
// across case/whitespace variation, exactly once per logical fact.
package noema

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"

	"github.com/noemakg/noema/pkg/extract"
	"github.com/noemakg/noema/pkg/store"
	"github.com/noemakg/noema/pkg/types"
)

// Noema is the main interface for building and maintaining the knowledge
// graph from raw text.
type Noema interface {
	// ProcessText extracts entities and relations from text and merges them
	// into the graph. Empty or whitespace-only text is a zero-count success.
	ProcessText(ctx context.Context, text string, source Source) (*types.IngestResult, error)

	// Ingest merges an already-extracted batch into the graph inside a single
	// transaction. Any store failure rolls back the whole batch.
	Ingest(ctx context.Context, extraction *types.ExtractionResult, source Source) (*types.IngestResult, error)
}

// Source describes the provenance of a batch, recorded on every observation
// it produces.
type Source struct {
	Type string
	Path string
}

// ExtractionCache caches extraction results keyed by content hash, so
// reprocessing identical text skips the extraction backend.
type ExtractionCache interface {
	Get(ctx context.Context, key string) (*types.ExtractionResult, bool)
	Set(ctx context.Context, key string, result *types.ExtractionResult) error
}

// Config holds optional collaborators for the Client.
type Config struct {
	// Cache is consulted before the extractor. Nil disables caching.
	Cache ExtractionCache
	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// Client is the main implementation of the Noema interface.
type Client struct {
	store     store.Store
	extractor extract.Extractor
	cache     ExtractionCache
	log       *slog.Logger
}

var _ Noema = (*Client)(nil)

// NewClient creates a knowledge graph client over an open store and an
// extraction backend.
func NewClient(s store.Store, extractor extract.Extractor, config *Config) *Client {
	if config == nil {
		config = &Config{}
	}
	log := config.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		store:     s,
		extractor: extractor,
		cache:     config.Cache,
		log:       log,
	}
}

// ProcessText runs the full pipeline: extraction (with cache) followed by a
// transactional merge into the graph.
func (c *Client) ProcessText(ctx context.Context, text string, source Source) (*types.IngestResult, error) {
	if strings.TrimSpace(text) == "" {
		return &types.IngestResult{}, nil
	}

	extraction, err := c.extract(ctx, text)
	if err != nil {
		return nil, err
	}
	return c.Ingest(ctx, extraction, source)
}

// extract returns the cached extraction for text, or calls the backend and
// caches the result. Extraction never runs inside a store transaction.
func (c *Client) extract(ctx context.Context, text string) (*types.ExtractionResult, error) {
	key := contentKey(text)
	if c.cache != nil {
		if cached, ok := c.cache.Get(ctx, key); ok {
			c.log.Debug("extraction cache hit", "key", key[:12])
			return cached, nil
		}
	}

	extraction, err := c.extractor.Extract(ctx, text)
	if err != nil {
		return nil, err
	}

	if c.cache != nil {
		if err := c.cache.Set(ctx, key, extraction); err != nil {
			c.log.Warn("failed to cache extraction", "error", err)
		}
	}
	return extraction, nil
}

func contentKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Ingest merges one extraction batch into the graph. The whole batch runs in
// a single transaction: entities first, then relations, so relations can
// reference entities created earlier in the same batch. Malformed records
// (empty names, self-loops) are skipped rather than failing the batch.
func (c *Client) Ingest(ctx context.Context, extraction *types.ExtractionResult, source Source) (*types.IngestResult, error) {
	result := &types.IngestResult{}
	if extraction == nil {
		return result, nil
	}
	result.TotalEntities = len(extraction.Entities)
	result.TotalRelations = len(extraction.Relations)

	err := c.store.RunInTx(ctx, func(tx store.Tx) error {
		batch := newBatchIndex()

		for _, cand := range extraction.Entities {
			name := strings.TrimSpace(cand.Name)
			if name == "" {
				continue
			}
			id, created, err := c.resolveEntity(ctx, tx, batch, name, cand)
			if err != nil {
				return err
			}
			if created {
				result.EntitiesCreated++
			} else {
				result.EntitiesExisting++
			}

			description := strings.TrimSpace(cand.Description)
			if description == "" {
				continue
			}
			if _, err := tx.InsertObservation(ctx, &types.Observation{
				EntityID:   id,
				Content:    description,
				SourceType: source.Type,
				SourcePath: source.Path,
				Confidence: 1.0,
			}); err != nil {
				return err
			}
			result.ObservationsCreated++
		}

		for _, rel := range extraction.Relations {
			if err := c.ingestRelation(ctx, tx, batch, rel, result); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.log.Info("batch ingested",
		"entities_created", result.EntitiesCreated,
		"entities_existing", result.EntitiesExisting,
		"relations_created", result.RelationsCreated,
		"relations_existing", result.RelationsExisting,
		"observations_created", result.ObservationsCreated)
	return result, nil
}

func (c *Client) ingestRelation(ctx context.Context, tx store.Tx, batch *batchIndex, rel types.CandidateRelation, result *types.IngestResult) error {
	from := strings.TrimSpace(rel.From)
	to := strings.TrimSpace(rel.To)
	if from == "" || to == "" {
		return nil
	}

	fromID, created, err := c.resolveEndpoint(ctx, tx, batch, from)
	if err != nil {
		return err
	}
	if created {
		result.EntitiesCreated++
	}
	toID, created, err := c.resolveEndpoint(ctx, tx, batch, to)
	if err != nil {
		return err
	}
	if created {
		result.EntitiesCreated++
	}

	// Self-loops can appear once both names resolve to the same entity.
	if fromID == toID {
		c.log.Debug("skipping self-loop relation", "from", from, "to", to)
		return nil
	}

	relationType := strings.TrimSpace(rel.Type)
	if relationType == "" {
		relationType = types.DefaultRelationType
	}
	strength := rel.Strength
	if strength <= 0 {
		strength = 1.0
	} else if strength > 1 {
		strength = 1.0
	}

	existing, err := tx.FindRelation(ctx, fromID, toID, relationType)
	switch {
	case err == nil:
		if err := tx.UpdateRelation(ctx, existing.ID, rel.Evidence, strength); err != nil {
			return err
		}
		result.RelationsExisting++
		return nil
	case isNotFound(err):
		_, err := tx.InsertRelation(ctx, &types.Relation{
			FromEntityID: fromID,
			ToEntityID:   toID,
			RelationType: relationType,
			Strength:     strength,
			Evidence:     rel.Evidence,
		})
		if err == nil {
			result.RelationsCreated++
			return nil
		}
		// A concurrent batch inserted the same triple first.
		if store.IsUniqueViolation(err) {
			raced, ferr := tx.FindRelation(ctx, fromID, toID, relationType)
			if ferr != nil {
				return ferr
			}
			if err := tx.UpdateRelation(ctx, raced.ID, rel.Evidence, strength); err != nil {
				return err
			}
			result.RelationsExisting++
			return nil
		}
		return err
	default:
		return err
	}
}
