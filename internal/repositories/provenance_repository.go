package repositories

import (
	"context"

	"github.com/asakaida/provgraph/internal/entities"
)

// Relational source names. They double as table names in the postgres store.
const (
	SourceEntities          = "entities"
	SourceActivities        = "activities"
	SourceAgents            = "agents"
	SourceWasGeneratedBy    = "was_generated_by"
	SourceUsed              = "used"
	SourceWasAttributedTo   = "was_attributed_to"
	SourceWasAssociatedWith = "was_associated_with"
	SourceWasInformedBy     = "was_informed_by"
)

// SourceCounts maps a relational source name to its row count
type SourceCounts map[string]int64

// ProvenanceRepository defines the interface for provenance fact storage
type ProvenanceRepository interface {
	// WriteFacts inserts all rows of the batch in a single transaction.
	// Nodes are inserted before relations. Re-inserting an existing node or unique relation is a no-op.
	// Returns the change token observed after commit.
	WriteFacts(ctx context.Context, batch *entities.FactBatch) (string, error)

	// DeleteFacts removes all rows of the batch in a single transaction.
	// Relations are removed before nodes; removing a node cascades to its relations.
	DeleteFacts(ctx context.Context, batch *entities.FactBatch) (string, error)

	// GetEntity retrieves an entity by ID
	GetEntity(ctx context.Context, id string) (*entities.Entity, error)

	// GetActivity retrieves an activity by ID
	GetActivity(ctx context.Context, id string) (*entities.Activity, error)

	// CountRows returns the number of rows per relational source
	CountRows(ctx context.Context) (SourceCounts, error)
}

// ChangeTokenProvider exposes a token that changes whenever committed provenance data changes
type ChangeTokenProvider interface {
	ChangeToken(ctx context.Context) (string, error)
}
