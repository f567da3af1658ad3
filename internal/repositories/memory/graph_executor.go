package memory

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/asakaida/provgraph/internal/repositories"
)

// BindsParameters is false: the in-process mirror only accepts literal Cypher
func (s *Store) BindsParameters() bool {
	return false
}

// ExecuteGraphQuery runs a read-only Cypher pattern against the mirror and returns one JSON object per row
func (s *Store) ExecuteGraphQuery(ctx context.Context, q *repositories.GraphQuery) ([]json.RawMessage, error) {
	res, err := s.mirror.Query(ctx, q.Pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to run graph query %s: %w", q.Name, err)
	}

	rows := make([]json.RawMessage, 0, len(res.Rows))
	for _, r := range res.Rows {
		b, err := json.Marshal(r)
		if err != nil {
			return nil, fmt.Errorf("failed to encode graph row: %w", err)
		}
		rows = append(rows, b)
	}
	return rows, nil
}
