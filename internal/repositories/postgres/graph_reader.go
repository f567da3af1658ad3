package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/asakaida/provgraph/internal/entities"
	"github.com/asakaida/provgraph/internal/repositories"
)

// PostgresGraphReader implements GraphReader with one query per traversal level
type PostgresGraphReader struct {
	db *sql.DB
}

// NewPostgresGraphReader creates a new PostgreSQL graph reader
func NewPostgresGraphReader(db *sql.DB) *PostgresGraphReader {
	return &PostgresGraphReader{db: db}
}

var _ repositories.GraphReader = (*PostgresGraphReader)(nil)

// $1 holds frontier entity ids, $2 frontier activity ids.
// Columns: from type, from id, to type, to id, relationship, edge from, edge to, role.
const backwardNeighborsQuery = `
	SELECT 'entity', g.entity_id, 'activity', g.activity_id, 'wasGeneratedBy', g.entity_id, g.activity_id, NULL::text
	FROM was_generated_by g WHERE g.entity_id = ANY($1)
	UNION ALL
	SELECT 'activity', u.activity_id, 'entity', u.entity_id, 'used', u.activity_id, u.entity_id, u.role
	FROM used u WHERE u.activity_id = ANY($2)
	UNION ALL
	SELECT 'activity', i.informed_id, 'activity', i.informer_id, 'wasInformedBy', i.informed_id, i.informer_id, NULL::text
	FROM was_informed_by i WHERE i.informed_id = ANY($2)
`

const forwardNeighborsQuery = `
	SELECT 'entity', u.entity_id, 'activity', u.activity_id, 'used', u.activity_id, u.entity_id, u.role
	FROM used u WHERE u.entity_id = ANY($1)
	UNION ALL
	SELECT 'activity', g.activity_id, 'entity', g.entity_id, 'wasGeneratedBy', g.entity_id, g.activity_id, NULL::text
	FROM was_generated_by g WHERE g.activity_id = ANY($2)
	UNION ALL
	SELECT 'activity', i.informer_id, 'activity', i.informed_id, 'wasInformedBy', i.informed_id, i.informer_id, NULL::text
	FROM was_informed_by i WHERE i.informer_id = ANY($2)
`

// Neighbors returns every step leaving the frontier in the given direction
func (r *PostgresGraphReader) Neighbors(ctx context.Context, frontier []entities.NodeRef, dir repositories.Direction) ([]repositories.Adjacency, error) {
	ids := splitByType(frontier)
	entityIDs := ids[entities.NodeTypeEntity]
	activityIDs := ids[entities.NodeTypeActivity]
	if len(entityIDs) == 0 && len(activityIDs) == 0 {
		return nil, nil
	}

	query := backwardNeighborsQuery
	if dir == repositories.Forward {
		query = forwardNeighborsQuery
	}

	rows, err := r.db.QueryContext(ctx, query, pq.Array(entityIDs), pq.Array(activityIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s neighbors: %w", dir, err)
	}
	defer rows.Close()

	var result []repositories.Adjacency
	for rows.Next() {
		var fromType, fromID, toType, toID, rel, edgeFrom, edgeTo string
		var role sql.NullString
		if err := rows.Scan(&fromType, &fromID, &toType, &toID, &rel, &edgeFrom, &edgeTo, &role); err != nil {
			return nil, fmt.Errorf("failed to scan neighbor: %w", err)
		}
		result = append(result, repositories.Adjacency{
			From: entities.NodeRef{Type: entities.NodeType(fromType), ID: fromID},
			To:   entities.NodeRef{Type: entities.NodeType(toType), ID: toID},
			Edge: entities.Edge{
				From:             edgeFrom,
				To:               edgeTo,
				RelationshipType: entities.RelationshipType(rel),
				Role:             optionalString(role),
			},
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating neighbors: %w", err)
	}
	return result, nil
}

// NodeInfo returns labels and metadata for the nodes that exist
func (r *PostgresGraphReader) NodeInfo(ctx context.Context, refs []entities.NodeRef) (map[entities.NodeRef]repositories.NodeInfo, error) {
	info := make(map[entities.NodeRef]repositories.NodeInfo, len(refs))
	ids := splitByType(refs)
	if len(refs) == 0 {
		return info, nil
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT 'entity', id, label, metadata FROM entities WHERE id = ANY($1)
		UNION ALL
		SELECT 'activity', id, label, metadata FROM activities WHERE id = ANY($2)
		UNION ALL
		SELECT 'agent', id, NULL::text, metadata FROM agents WHERE id = ANY($3)
	`, pq.Array(ids[entities.NodeTypeEntity]), pq.Array(ids[entities.NodeTypeActivity]), pq.Array(ids[entities.NodeTypeAgent]))
	if err != nil {
		return nil, fmt.Errorf("failed to read node info: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var nodeType, id string
		var label sql.NullString
		var metadata entities.Metadata
		if err := rows.Scan(&nodeType, &id, &label, &metadata); err != nil {
			return nil, fmt.Errorf("failed to scan node info: %w", err)
		}
		info[entities.NodeRef{Type: entities.NodeType(nodeType), ID: id}] = repositories.NodeInfo{
			Label:    optionalString(label),
			Metadata: metadata,
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating node info: %w", err)
	}
	return info, nil
}

func splitByType(refs []entities.NodeRef) map[entities.NodeType][]string {
	out := make(map[entities.NodeType][]string)
	for _, ref := range refs {
		out[ref.Type] = append(out[ref.Type], ref.ID)
	}
	return out
}
