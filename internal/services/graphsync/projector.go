package graphsync

import (
	"fmt"

	"github.com/asakaida/provgraph/internal/repositories"
)

// Row holds the column values of one relational row. A missing role column means no role.
type Row map[string]string

// MirrorWriter is the write surface of an in-process graph mirror transaction
type MirrorWriter interface {
	MergeNode(label, id string) error
	DetachDeleteNode(label, id string) error
	// CreateEdge returns the number of edges created; 0 when an endpoint is missing
	CreateEdge(edgeType, fromLabel, fromID, toLabel, toID string, props map[string]interface{}) (int, error)
	// DeleteEdge removes at most one matching edge. A nil prop value matches an absent property.
	DeleteEdge(edgeType, fromLabel, fromID, toLabel, toID string, props map[string]interface{}) (int, error)
}

// Projector applies the insert and delete projections of each source to a MirrorWriter.
// It mirrors the behaviour of the generated AGE triggers.
type Projector struct{}

// Insert projects an inserted row
func (Projector) Insert(w MirrorWriter, src Source, row Row) error {
	switch src.Kind {
	case NodeSource:
		id := row[src.IDColumn]
		if err := ValidateIdentifier(id); err != nil {
			return fmt.Errorf("%s insert: %w", src.Table, err)
		}
		if err := w.MergeNode(src.Label, id); err != nil {
			return fmt.Errorf("%w: %s insert: %v", repositories.ErrMirrorProjection, src.Table, err)
		}
		return nil

	case EdgeSource:
		from, to, props, err := edgeArgs(src, row)
		if err != nil {
			return fmt.Errorf("%s insert: %w", src.Table, err)
		}
		n, err := w.CreateEdge(src.Label, src.From.Label, from, src.To.Label, to, props)
		if err != nil {
			return fmt.Errorf("%w: %s insert: %v", repositories.ErrMirrorProjection, src.Table, err)
		}
		if n != 1 {
			return fmt.Errorf("%w: %s insert created %d edges for (%s)-[:%s]->(%s), expected 1",
				repositories.ErrMirrorProjection, src.Table, n, from, src.Label, to)
		}
		return nil
	}
	return fmt.Errorf("%w: unknown source kind %d", repositories.ErrMirrorProjection, src.Kind)
}

// Delete projects a deleted row. Deleting a node removes its incident edges.
func (Projector) Delete(w MirrorWriter, src Source, row Row) error {
	switch src.Kind {
	case NodeSource:
		id := row[src.IDColumn]
		if err := ValidateIdentifier(id); err != nil {
			return fmt.Errorf("%s delete: %w", src.Table, err)
		}
		if err := w.DetachDeleteNode(src.Label, id); err != nil {
			return fmt.Errorf("%w: %s delete: %v", repositories.ErrMirrorProjection, src.Table, err)
		}
		return nil

	case EdgeSource:
		from, to, props, err := edgeArgs(src, row)
		if err != nil {
			return fmt.Errorf("%s delete: %w", src.Table, err)
		}
		if props == nil && src.RoleColumn != "" {
			props = map[string]interface{}{"role": nil}
		}
		if _, err := w.DeleteEdge(src.Label, src.From.Label, from, src.To.Label, to, props); err != nil {
			return fmt.Errorf("%w: %s delete: %v", repositories.ErrMirrorProjection, src.Table, err)
		}
		return nil
	}
	return fmt.Errorf("%w: unknown source kind %d", repositories.ErrMirrorProjection, src.Kind)
}

func edgeArgs(src Source, row Row) (string, string, map[string]interface{}, error) {
	from := row[src.From.Column]
	to := row[src.To.Column]
	if err := ValidateIdentifier(from); err != nil {
		return "", "", nil, err
	}
	if err := ValidateIdentifier(to); err != nil {
		return "", "", nil, err
	}
	var props map[string]interface{}
	if src.RoleColumn != "" {
		if role := row[src.RoleColumn]; role != "" {
			if err := ValidateIdentifier(role); err != nil {
				return "", "", nil, err
			}
			props = map[string]interface{}{"role": role}
		}
	}
	return from, to, props, nil
}
