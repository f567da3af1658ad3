package repositories

import (
	"context"

	"github.com/asakaida/provgraph/internal/entities"
)

// TraversalRepository runs the lineage traversal functions.
// A nil maxDepth means unbounded; 0 returns only the start node.
// Rows are ordered by depth then node ID.
type TraversalRepository interface {
	// GetEntityLineage walks backward from an entity to the activities and entities it derives from
	GetEntityLineage(ctx context.Context, entityID string, maxDepth *int, includeMetadata bool) ([]*entities.TraversalRow, error)

	// GetEntityDescendants walks forward from an entity to the activities and entities derived from it
	GetEntityDescendants(ctx context.Context, entityID string, maxDepth *int, includeMetadata bool) ([]*entities.TraversalRow, error)

	// GetCommonAncestors returns nodes present in the lineage of both entities, excluding the entities themselves
	GetCommonAncestors(ctx context.Context, entityID1, entityID2 string, maxDepth *int, includeMetadata bool) ([]*entities.TraversalRow, error)
}

// Direction selects which way an adjacency read follows provenance relations
type Direction int

const (
	// Backward follows wasGeneratedBy from entities, used and wasInformedBy (to the informer) from activities
	Backward Direction = iota
	// Forward follows used from entities, wasGeneratedBy and wasInformedBy (to the informed) from activities
	Forward
)

func (d Direction) String() string {
	if d == Forward {
		return "forward"
	}
	return "backward"
}

// Adjacency is one traversal step from a frontier node to a neighbour.
// Edge is reported in PROV direction regardless of the traversal direction.
type Adjacency struct {
	From entities.NodeRef
	To   entities.NodeRef
	Edge entities.Edge
}

// NodeInfo carries the descriptive columns of a visited node
type NodeInfo struct {
	Label    *string
	Metadata entities.Metadata
}

// GraphReader provides batched adjacency reads over the relational store
type GraphReader interface {
	// Neighbors returns every step leaving any of the frontier nodes in the given direction
	Neighbors(ctx context.Context, frontier []entities.NodeRef, dir Direction) ([]Adjacency, error)

	// NodeInfo returns labels and metadata for the given nodes. Missing nodes are omitted.
	NodeInfo(ctx context.Context, refs []entities.NodeRef) (map[entities.NodeRef]NodeInfo, error)
}
