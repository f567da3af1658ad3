package repositories

import (
	"context"
	"encoding/json"
)

// GraphQuery is a named Cypher pattern against the graph mirror
type GraphQuery struct {
	Name    string                 // Stable query name, used for statement caching
	Pattern string                 // Cypher text with $param placeholders
	Params  map[string]interface{} // Parameter bundle
	Columns []string               // RETURN aliases, in order
}

// GraphExecutor runs graph queries against the mirror.
// Each returned row is a JSON object keyed by column name.
type GraphExecutor interface {
	ExecuteGraphQuery(ctx context.Context, q *GraphQuery) ([]json.RawMessage, error)

	// BindsParameters reports whether the engine binds Params itself.
	// When false, placeholders must be substituted into Pattern before execution.
	BindsParameters() bool
}
