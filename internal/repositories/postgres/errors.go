package postgres

import (
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/asakaida/provgraph/internal/repositories"
)

const foreignKeyViolation = "23503"

// mirrorFunctionPrefix names every function installed by the graph mirror
const mirrorFunctionPrefix = "prov_mirror_"

// classify maps driver errors onto repository sentinel errors
func classify(op string, err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	switch {
	case pqErr.Code == foreignKeyViolation:
		return fmt.Errorf("failed to %s: %w: %s", op, repositories.ErrReferentialIntegrity, pqErr.Detail)
	case strings.HasPrefix(pqErr.Message, "graph mirror:") || strings.Contains(pqErr.Where, mirrorFunctionPrefix):
		return fmt.Errorf("failed to %s: %w: %s", op, repositories.ErrMirrorProjection, pqErr.Message)
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}
