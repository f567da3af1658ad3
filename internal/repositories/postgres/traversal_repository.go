package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/asakaida/provgraph/internal/entities"
	"github.com/asakaida/provgraph/internal/repositories"
)

// PostgresTraversalRepository implements TraversalRepository with the SQL traversal functions
type PostgresTraversalRepository struct {
	db *sql.DB
}

// NewPostgresTraversalRepository creates a new PostgreSQL traversal repository
func NewPostgresTraversalRepository(db *sql.DB) *PostgresTraversalRepository {
	return &PostgresTraversalRepository{db: db}
}

var _ repositories.TraversalRepository = (*PostgresTraversalRepository)(nil)

// GetEntityLineage calls get_entity_lineage
func (r *PostgresTraversalRepository) GetEntityLineage(ctx context.Context, entityID string, maxDepth *int, includeMetadata bool) ([]*entities.TraversalRow, error) {
	return r.query(ctx, "get_entity_lineage", `SELECT * FROM get_entity_lineage($1, $2, $3)`,
		entityID, nullDepth(maxDepth), includeMetadata)
}

// GetEntityDescendants calls get_entity_descendants
func (r *PostgresTraversalRepository) GetEntityDescendants(ctx context.Context, entityID string, maxDepth *int, includeMetadata bool) ([]*entities.TraversalRow, error) {
	return r.query(ctx, "get_entity_descendants", `SELECT * FROM get_entity_descendants($1, $2, $3)`,
		entityID, nullDepth(maxDepth), includeMetadata)
}

// GetCommonAncestors calls get_common_ancestors
func (r *PostgresTraversalRepository) GetCommonAncestors(ctx context.Context, entityID1, entityID2 string, maxDepth *int, includeMetadata bool) ([]*entities.TraversalRow, error) {
	return r.query(ctx, "get_common_ancestors", `SELECT * FROM get_common_ancestors($1, $2, $3, $4)`,
		entityID1, entityID2, nullDepth(maxDepth), includeMetadata)
}

func (r *PostgresTraversalRepository) query(ctx context.Context, fn, query string, args ...interface{}) ([]*entities.TraversalRow, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to call %s: %w", fn, err)
	}
	defer rows.Close()

	var result []*entities.TraversalRow
	for rows.Next() {
		var row entities.TraversalRow
		var nodeType string
		var label, from, to, rel, role sql.NullString
		if err := rows.Scan(&row.NodeID, &label, &nodeType, &row.Depth, &row.Metadata,
			&from, &to, &rel, &role); err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", fn, err)
		}
		row.NodeType = entities.NodeType(nodeType)
		row.NodeLabel = optionalString(label)
		row.EdgeFrom = optionalString(from)
		row.EdgeTo = optionalString(to)
		row.Role = optionalString(role)
		if rel.Valid {
			row.RelationshipType = entities.RelPtr(entities.RelationshipType(rel.String))
		}
		result = append(result, &row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s rows: %w", fn, err)
	}
	return result, nil
}

func nullDepth(maxDepth *int) sql.NullInt32 {
	if maxDepth == nil {
		return sql.NullInt32{}
	}
	return sql.NullInt32{Int32: int32(*maxDepth), Valid: true}
}

func optionalString(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	return entities.StringPtr(s.String)
}
