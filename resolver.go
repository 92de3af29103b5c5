package noema

import (
	"context"
	"errors"
	"strings"

	"github.com/noemakg/noema/pkg/store"
	"github.com/noemakg/noema/pkg/types"
)

// batchIndex maps names already resolved in the current batch to entity ids,
// both exactly and by normalized form, so one batch never creates two
// entities for the same normalized name.
type batchIndex struct {
	exact      map[string]int64
	normalized map[string]int64
}

func newBatchIndex() *batchIndex {
	return &batchIndex{
		exact:      make(map[string]int64),
		normalized: make(map[string]int64),
	}
}

func (b *batchIndex) lookup(name string) (int64, bool) {
	if id, ok := b.exact[name]; ok {
		return id, true
	}
	id, ok := b.normalized[types.NormalizeName(name)]
	return id, ok
}

func (b *batchIndex) add(name string, id int64) {
	b.exact[name] = id
	b.normalized[types.NormalizeName(name)] = id
}

func isNotFound(err error) bool { return errors.Is(err, types.ErrNotFound) }

// resolveEntity resolves a candidate from the batch's entity list: batch
// index first, then an exact (name, type) store lookup, then create. A found
// entity with an empty description gets the candidate's description
// backfilled.
func (c *Client) resolveEntity(ctx context.Context, tx store.Tx, batch *batchIndex, name string, cand types.CandidateEntity) (int64, bool, error) {
	if id, ok := batch.lookup(name); ok {
		return id, false, nil
	}

	entityType := strings.TrimSpace(cand.Type)
	if entityType == "" {
		entityType = types.DefaultEntityType
	}
	description := strings.TrimSpace(cand.Description)

	entity, err := tx.FindEntityByNameType(ctx, name, entityType)
	switch {
	case err == nil:
		if description != "" && entity.Description == "" {
			if err := tx.BackfillDescription(ctx, entity.ID, description); err != nil {
				return 0, false, err
			}
		}
		batch.add(name, entity.ID)
		return entity.ID, false, nil
	case isNotFound(err):
		return c.createEntity(ctx, tx, batch, name, entityType, description)
	default:
		return 0, false, err
	}
}

// resolveEndpoint resolves a relation endpoint name: batch index first, then
// a normalized-name store lookup across all entity types, then create with
// the default type and an inferred description.
func (c *Client) resolveEndpoint(ctx context.Context, tx store.Tx, batch *batchIndex, name string) (int64, bool, error) {
	if id, ok := batch.lookup(name); ok {
		return id, false, nil
	}

	entity, err := tx.FindEntityByNormalizedName(ctx, types.NormalizeName(name))
	switch {
	case err == nil:
		batch.add(name, entity.ID)
		return entity.ID, false, nil
	case isNotFound(err):
		return c.createEntity(ctx, tx, batch, name, types.DefaultEntityType, types.InferredDescription)
	default:
		return 0, false, err
	}
}

// createEntity inserts a new entity, converting a unique-constraint race
// with a concurrent batch into "already exists, re-fetch".
func (c *Client) createEntity(ctx context.Context, tx store.Tx, batch *batchIndex, name, entityType, description string) (int64, bool, error) {
	entity, err := tx.InsertEntity(ctx, name, entityType, description)
	if err == nil {
		batch.add(name, entity.ID)
		return entity.ID, true, nil
	}
	if !store.IsUniqueViolation(err) {
		return 0, false, err
	}

	entity, ferr := tx.FindEntityByNameType(ctx, name, entityType)
	if ferr != nil {
		return 0, false, ferr
	}
	batch.add(name, entity.ID)
	return entity.ID, false, nil
}
