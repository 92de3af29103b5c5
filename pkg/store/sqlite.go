package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/noemakg/noema/pkg/types"
)

// SQLiteStore implements Store on top of a single SQLite database file.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

var _ Store = (*SQLiteStore)(nil)

// Open opens (or creates) the SQLite database at path and configures it for
// concurrent readers with a single writer.
func Open(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, &types.StoreError{Op: "open", Err: err}
	}

	// SQLite serializes writers; a single connection avoids SQLITE_BUSY
	// between our own transactions.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, &types.StoreError{Op: "pragma", Err: err}
		}
	}

	return &SQLiteStore{db: db, path: path}, nil
}

// DB returns the underlying database handle.
func (s *SQLiteStore) DB() *sql.DB { return s.db }

// Path returns the database file path.
func (s *SQLiteStore) Path() string { return s.path }

func (s *SQLiteStore) Close() error { return s.db.Close() }

// IsUniqueViolation reports whether err was caused by a UNIQUE constraint.
// The ingestion engine uses this to detect that a concurrent writer created
// the same entity or relation first.
func IsUniqueViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		code := se.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// RunInTx runs fn inside a single transaction, rolling back on error.
func (s *SQLiteStore) RunInTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &types.StoreError{Op: "begin", Err: err}
	}
	if err := fn(&sqliteTx{tx: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return &types.StoreError{Op: "rollback", Err: errors.Join(err, rbErr)}
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return &types.StoreError{Op: "commit", Err: err}
	}
	return nil
}

type sqliteTx struct {
	tx *sql.Tx
}

var _ Tx = (*sqliteTx)(nil)

const entityColumns = "id, name, entity_type, description, created_at, updated_at"

func scanEntity(row *sql.Row) (*types.Entity, error) {
	var e types.Entity
	err := row.Scan(&e.ID, &e.Name, &e.EntityType, &e.Description, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, &types.StoreError{Op: "scan entity", Err: err}
	}
	return &e, nil
}

func (t *sqliteTx) FindEntityByNameType(ctx context.Context, name, entityType string) (*types.Entity, error) {
	row := t.tx.QueryRowContext(ctx,
		"SELECT "+entityColumns+" FROM entities WHERE name = ? AND entity_type = ?",
		name, entityType)
	return scanEntity(row)
}

func (t *sqliteTx) FindEntityByNormalizedName(ctx context.Context, normalized string) (*types.Entity, error) {
	row := t.tx.QueryRowContext(ctx,
		"SELECT "+entityColumns+" FROM entities WHERE normalized_name = ? ORDER BY updated_at DESC, id DESC LIMIT 1",
		normalized)
	return scanEntity(row)
}

func (t *sqliteTx) InsertEntity(ctx context.Context, name, entityType, description string) (*types.Entity, error) {
	now := time.Now().UTC()
	res, err := t.tx.ExecContext(ctx,
		`INSERT INTO entities (name, normalized_name, entity_type, description, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		name, types.NormalizeName(name), entityType, description, now, now)
	if err != nil {
		if IsUniqueViolation(err) {
			return nil, err
		}
		return nil, &types.StoreError{Op: "insert entity", Err: err}
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, &types.StoreError{Op: "insert entity", Err: err}
	}
	return &types.Entity{
		ID:          id,
		Name:        name,
		EntityType:  entityType,
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

func (t *sqliteTx) BackfillDescription(ctx context.Context, id int64, description string) error {
	_, err := t.tx.ExecContext(ctx,
		"UPDATE entities SET description = ?, updated_at = ? WHERE id = ? AND description = ''",
		description, time.Now().UTC(), id)
	if err != nil {
		return &types.StoreError{Op: "backfill description", Err: err}
	}
	return nil
}

func (t *sqliteTx) InsertObservation(ctx context.Context, o *types.Observation) (int64, error) {
	res, err := t.tx.ExecContext(ctx,
		`INSERT INTO observations (entity_id, content, source_type, source_path, confidence, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		o.EntityID, o.Content, o.SourceType, o.SourcePath, o.Confidence, time.Now().UTC())
	if err != nil {
		return 0, &types.StoreError{Op: "insert observation", Err: err}
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, &types.StoreError{Op: "insert observation", Err: err}
	}
	return id, nil
}

func (t *sqliteTx) FindRelation(ctx context.Context, fromID, toID int64, relationType string) (*types.Relation, error) {
	var r types.Relation
	err := t.tx.QueryRowContext(ctx,
		`SELECT id, from_entity_id, to_entity_id, relation_type, strength, evidence, created_at
		 FROM relations WHERE from_entity_id = ? AND to_entity_id = ? AND relation_type = ?`,
		fromID, toID, relationType).
		Scan(&r.ID, &r.FromEntityID, &r.ToEntityID, &r.RelationType, &r.Strength, &r.Evidence, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, &types.StoreError{Op: "find relation", Err: err}
	}
	return &r, nil
}

func (t *sqliteTx) InsertRelation(ctx context.Context, r *types.Relation) (int64, error) {
	res, err := t.tx.ExecContext(ctx,
		`INSERT INTO relations (from_entity_id, to_entity_id, relation_type, strength, evidence, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		r.FromEntityID, r.ToEntityID, r.RelationType, r.Strength, r.Evidence, time.Now().UTC())
	if err != nil {
		if IsUniqueViolation(err) {
			return 0, err
		}
		return 0, &types.StoreError{Op: "insert relation", Err: err}
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, &types.StoreError{Op: "insert relation", Err: err}
	}
	return id, nil
}

func (t *sqliteTx) UpdateRelation(ctx context.Context, id int64, evidence string, strength float64) error {
	_, err := t.tx.ExecContext(ctx,
		"UPDATE relations SET evidence = ?, strength = ? WHERE id = ?",
		evidence, strength, id)
	if err != nil {
		return &types.StoreError{Op: "update relation", Err: err}
	}
	return nil
}

func (s *SQLiteStore) GetEntity(ctx context.Context, id int64) (*types.Entity, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+entityColumns+" FROM entities WHERE id = ?", id)
	return scanEntity(row)
}

func (s *SQLiteStore) GetEntityGraph(ctx context.Context, id int64) (*types.EntityGraph, error) {
	entity, err := s.GetEntity(ctx, id)
	if err != nil {
		return nil, err
	}

	graph := &types.EntityGraph{Entity: *entity}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, entity_id, content, source_type, source_path, confidence, created_at
		 FROM observations WHERE entity_id = ? ORDER BY created_at DESC`, id)
	if err != nil {
		return nil, &types.StoreError{Op: "list observations", Err: err}
	}
	defer rows.Close()
	for rows.Next() {
		var o types.Observation
		if err := rows.Scan(&o.ID, &o.EntityID, &o.Content, &o.SourceType, &o.SourcePath, &o.Confidence, &o.CreatedAt); err != nil {
			return nil, &types.StoreError{Op: "scan observation", Err: err}
		}
		graph.Observations = append(graph.Observations, o)
	}
	if err := rows.Err(); err != nil {
		return nil, &types.StoreError{Op: "list observations", Err: err}
	}

	graph.Outgoing, err = s.adjacentRelations(ctx, id, true)
	if err != nil {
		return nil, err
	}
	graph.Incoming, err = s.adjacentRelations(ctx, id, false)
	if err != nil {
		return nil, err
	}
	return graph, nil
}

// adjacentRelations returns relations touching an entity, joined with the
// entity on the far side.
func (s *SQLiteStore) adjacentRelations(ctx context.Context, id int64, outgoing bool) ([]types.EntityRelation, error) {
	near, far := "from_entity_id", "to_entity_id"
	if !outgoing {
		near, far = far, near
	}
	query := fmt.Sprintf(
		`SELECT r.id, r.from_entity_id, r.to_entity_id, r.relation_type, r.strength, r.evidence, r.created_at,
		        e.id, e.name, e.entity_type
		 FROM relations r JOIN entities e ON e.id = r.%s
		 WHERE r.%s = ? ORDER BY r.strength DESC`, far, near)

	rows, err := s.db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, &types.StoreError{Op: "list adjacent relations", Err: err}
	}
	defer rows.Close()

	var out []types.EntityRelation
	for rows.Next() {
		var er types.EntityRelation
		if err := rows.Scan(&er.ID, &er.FromEntityID, &er.ToEntityID, &er.RelationType,
			&er.Strength, &er.Evidence, &er.CreatedAt,
			&er.EntityID, &er.EntityName, &er.EntityType); err != nil {
			return nil, &types.StoreError{Op: "scan adjacent relation", Err: err}
		}
		out = append(out, er)
	}
	if err := rows.Err(); err != nil {
		return nil, &types.StoreError{Op: "list adjacent relations", Err: err}
	}
	return out, nil
}

func (s *SQLiteStore) ListEntities(ctx context.Context, entityType string, limit, offset int) ([]types.Entity, int64, error) {
	where := ""
	args := []any{}
	if entityType != "" {
		where = " WHERE entity_type = ?"
		args = append(args, entityType)
	}

	var total int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM entities"+where, args...).Scan(&total); err != nil {
		return nil, 0, &types.StoreError{Op: "count entities", Err: err}
	}

	args = append(args, limit, offset)
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+entityColumns+" FROM entities"+where+" ORDER BY updated_at DESC LIMIT ? OFFSET ?", args...)
	if err != nil {
		return nil, 0, &types.StoreError{Op: "list entities", Err: err}
	}
	defer rows.Close()

	entities, err := collectEntities(rows)
	if err != nil {
		return nil, 0, err
	}
	return entities, total, nil
}

func (s *SQLiteStore) SearchEntities(ctx context.Context, query string, limit int) ([]types.Entity, error) {
	pattern := "%" + query + "%"
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+entityColumns+` FROM entities
		 WHERE name LIKE ? OR description LIKE ?
		 ORDER BY updated_at DESC LIMIT ?`,
		pattern, pattern, limit)
	if err != nil {
		return nil, &types.StoreError{Op: "search entities", Err: err}
	}
	defer rows.Close()
	return collectEntities(rows)
}

func collectEntities(rows *sql.Rows) ([]types.Entity, error) {
	var out []types.Entity
	for rows.Next() {
		var e types.Entity
		if err := rows.Scan(&e.ID, &e.Name, &e.EntityType, &e.Description, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, &types.StoreError{Op: "scan entity", Err: err}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, &types.StoreError{Op: "list entities", Err: err}
	}
	return out, nil
}

func (s *SQLiteStore) ListRelations(ctx context.Context, relationType string, limit, offset int) ([]types.RelationDetail, int64, error) {
	where := ""
	args := []any{}
	if relationType != "" {
		where = " WHERE r.relation_type = ?"
		args = append(args, relationType)
	}

	var total int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM relations r"+where, args...).Scan(&total); err != nil {
		return nil, 0, &types.StoreError{Op: "count relations", Err: err}
	}

	args = append(args, limit, offset)
	rows, err := s.db.QueryContext(ctx,
		`SELECT r.id, r.from_entity_id, r.to_entity_id, r.relation_type, r.strength, r.evidence, r.created_at,
		        ef.name, ef.entity_type, et.name, et.entity_type
		 FROM relations r
		 JOIN entities ef ON ef.id = r.from_entity_id
		 JOIN entities et ON et.id = r.to_entity_id`+where+
			" ORDER BY r.created_at DESC LIMIT ? OFFSET ?", args...)
	if err != nil {
		return nil, 0, &types.StoreError{Op: "list relations", Err: err}
	}
	defer rows.Close()

	var out []types.RelationDetail
	for rows.Next() {
		var rd types.RelationDetail
		if err := rows.Scan(&rd.ID, &rd.FromEntityID, &rd.ToEntityID, &rd.RelationType,
			&rd.Strength, &rd.Evidence, &rd.CreatedAt,
			&rd.FromEntityName, &rd.FromEntityType, &rd.ToEntityName, &rd.ToEntityType); err != nil {
			return nil, 0, &types.StoreError{Op: "scan relation", Err: err}
		}
		out = append(out, rd)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, &types.StoreError{Op: "list relations", Err: err}
	}
	return out, total, nil
}

func (s *SQLiteStore) Statistics(ctx context.Context) (*types.Statistics, error) {
	var stats types.Statistics
	counts := map[string]*int64{
		"entities":     &stats.TotalEntities,
		"observations": &stats.TotalObservations,
		"relations":    &stats.TotalRelations,
	}
	for table, dst := range counts {
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(dst); err != nil {
			return nil, &types.StoreError{Op: "count " + table, Err: err}
		}
	}

	var err error
	stats.EntitiesByType, err = s.typeCounts(ctx,
		"SELECT entity_type, COUNT(*) FROM entities GROUP BY entity_type ORDER BY COUNT(*) DESC")
	if err != nil {
		return nil, err
	}
	stats.RelationsByType, err = s.typeCounts(ctx,
		"SELECT relation_type, COUNT(*) FROM relations GROUP BY relation_type ORDER BY COUNT(*) DESC")
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

func (s *SQLiteStore) typeCounts(ctx context.Context, query string) ([]types.TypeCount, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, &types.StoreError{Op: "type counts", Err: err}
	}
	defer rows.Close()

	var out []types.TypeCount
	for rows.Next() {
		var tc types.TypeCount
		if err := rows.Scan(&tc.Type, &tc.Count); err != nil {
			return nil, &types.StoreError{Op: "scan type count", Err: err}
		}
		out = append(out, tc)
	}
	if err := rows.Err(); err != nil {
		return nil, &types.StoreError{Op: "type counts", Err: err}
	}
	return out, nil
}

// Visualization builds a node/link graph for rendering, sized by how much the
// graph knows about each entity.
func (s *SQLiteStore) Visualization(ctx context.Context, limit int) (*types.Visualization, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT e.id, e.name, e.entity_type,
		        (SELECT COUNT(*) FROM observations o WHERE o.entity_id = e.id),
		        (SELECT COUNT(*) FROM relations r WHERE r.from_entity_id = e.id OR r.to_entity_id = e.id)
		 FROM entities e
		 ORDER BY 5 DESC, 4 DESC
		 LIMIT ?`, limit)
	if err != nil {
		return nil, &types.StoreError{Op: "viz nodes", Err: err}
	}
	defer rows.Close()

	viz := &types.Visualization{}
	included := make(map[int64]bool)
	categoryCounts := make(map[string]int64)
	var categoryOrder []string
	for rows.Next() {
		var (
			id       int64
			node     types.VizNode
			category string
		)
		if err := rows.Scan(&id, &node.Name, &category, &node.ObservationCount, &node.RelationCount); err != nil {
			return nil, &types.StoreError{Op: "scan viz node", Err: err}
		}
		if category == "" {
			category = types.DefaultEntityType
		}
		node.ID = strconv.FormatInt(id, 10)
		node.Category = category
		node.SymbolSize = symbolSize(node.ObservationCount, node.RelationCount)
		viz.Nodes = append(viz.Nodes, node)
		included[id] = true
		if categoryCounts[category] == 0 {
			categoryOrder = append(categoryOrder, category)
		}
		categoryCounts[category]++
	}
	if err := rows.Err(); err != nil {
		return nil, &types.StoreError{Op: "viz nodes", Err: err}
	}

	linkRows, err := s.db.QueryContext(ctx,
		"SELECT from_entity_id, to_entity_id, relation_type, strength FROM relations")
	if err != nil {
		return nil, &types.StoreError{Op: "viz links", Err: err}
	}
	defer linkRows.Close()
	for linkRows.Next() {
		var (
			from, to int64
			link     types.VizLink
		)
		if err := linkRows.Scan(&from, &to, &link.Name, &link.Value); err != nil {
			return nil, &types.StoreError{Op: "scan viz link", Err: err}
		}
		if !included[from] || !included[to] {
			continue
		}
		link.Source = strconv.FormatInt(from, 10)
		link.Target = strconv.FormatInt(to, 10)
		viz.Links = append(viz.Links, link)
	}
	if err := linkRows.Err(); err != nil {
		return nil, &types.StoreError{Op: "viz links", Err: err}
	}

	for _, category := range categoryOrder {
		viz.Categories = append(viz.Categories, types.TypeCount{Type: category, Count: categoryCounts[category]})
	}
	viz.Summary = types.VizSummary{
		TotalEntities:  len(viz.Nodes),
		TotalRelations: len(viz.Links),
		EntityTypes:    len(viz.Categories),
	}
	return viz, nil
}

func symbolSize(observations, relations int64) float64 {
	size := 10 + float64(observations)*3 + float64(relations)*2
	if size > 50 {
		size = 50
	}
	return size
}
