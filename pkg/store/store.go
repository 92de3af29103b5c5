// Package store persists the knowledge graph. The ingestion engine only
// touches the graph through Tx inside a single transaction per batch; read
// queries run outside transactions on the Store itself.
package store

import (
	"context"
	"database/sql"

	"github.com/noemakg/noema/pkg/types"
)

// Tx exposes the write operations available inside a single ingestion
// transaction. Implementations must not commit or roll back themselves;
// RunInTx owns the transaction lifecycle.
type Tx interface {
	// FindEntityByNameType looks up an entity by its exact (name, entity_type)
	// pair. Returns types.ErrNotFound when no row matches.
	FindEntityByNameType(ctx context.Context, name, entityType string) (*types.Entity, error)

	// FindEntityByNormalizedName looks up an entity by normalized name across
	// all entity types, preferring the most recently updated match. Returns
	// types.ErrNotFound when no row matches.
	FindEntityByNormalizedName(ctx context.Context, normalized string) (*types.Entity, error)

	// InsertEntity creates a new entity and returns it. The normalized name
	// column is derived from name internally.
	InsertEntity(ctx context.Context, name, entityType, description string) (*types.Entity, error)

	// BackfillDescription sets an entity's description only when the stored
	// description is empty.
	BackfillDescription(ctx context.Context, id int64, description string) error

	// InsertObservation appends an observation to an entity.
	InsertObservation(ctx context.Context, o *types.Observation) (int64, error)

	// FindRelation looks up a relation by its identity triple. Returns
	// types.ErrNotFound when no row matches.
	FindRelation(ctx context.Context, fromID, toID int64, relationType string) (*types.Relation, error)

	// InsertRelation creates a new relation and returns its id.
	InsertRelation(ctx context.Context, r *types.Relation) (int64, error)

	// UpdateRelation overwrites the evidence and strength of an existing
	// relation.
	UpdateRelation(ctx context.Context, id int64, evidence string, strength float64) error
}

// Store is the persistence interface for the knowledge graph.
type Store interface {
	// RunInTx runs fn inside a single transaction. If fn returns an error the
	// transaction is rolled back and the error is returned; otherwise it is
	// committed.
	RunInTx(ctx context.Context, fn func(tx Tx) error) error

	GetEntity(ctx context.Context, id int64) (*types.Entity, error)
	GetEntityGraph(ctx context.Context, id int64) (*types.EntityGraph, error)
	ListEntities(ctx context.Context, entityType string, limit, offset int) ([]types.Entity, int64, error)
	SearchEntities(ctx context.Context, query string, limit int) ([]types.Entity, error)
	ListRelations(ctx context.Context, relationType string, limit, offset int) ([]types.RelationDetail, int64, error)
	Statistics(ctx context.Context) (*types.Statistics, error)
	Visualization(ctx context.Context, limit int) (*types.Visualization, error)

	// DB exposes the underlying handle for components that need raw access,
	// such as the telemetry handler.
	DB() *sql.DB

	Close() error
}
