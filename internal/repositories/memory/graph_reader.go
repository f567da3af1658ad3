package memory

import (
	"context"

	"github.com/asakaida/provgraph/internal/entities"
	"github.com/asakaida/provgraph/internal/repositories"
)

// Neighbors returns every step leaving the frontier in the given direction, in frontier then insertion order
func (s *Store) Neighbors(ctx context.Context, frontier []entities.NodeRef, dir repositories.Direction) ([]repositories.Adjacency, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []repositories.Adjacency
	for _, ref := range frontier {
		switch ref.Type {
		case entities.NodeTypeEntity:
			if dir == repositories.Backward {
				t := s.relations[repositories.SourceWasGeneratedBy]
				for _, r := range t.sorted(t.byFrom, ref.ID) {
					out = append(out, step(ref, entities.NodeTypeActivity, r.to, entities.RelWasGeneratedBy, r.from, r.to, r.role))
				}
			} else {
				t := s.relations[repositories.SourceUsed]
				for _, r := range t.sorted(t.byTo, ref.ID) {
					out = append(out, step(ref, entities.NodeTypeActivity, r.from, entities.RelUsed, r.from, r.to, r.role))
				}
			}

		case entities.NodeTypeActivity:
			if dir == repositories.Backward {
				used := s.relations[repositories.SourceUsed]
				for _, r := range used.sorted(used.byFrom, ref.ID) {
					out = append(out, step(ref, entities.NodeTypeEntity, r.to, entities.RelUsed, r.from, r.to, r.role))
				}
				informed := s.relations[repositories.SourceWasInformedBy]
				for _, r := range informed.sorted(informed.byFrom, ref.ID) {
					out = append(out, step(ref, entities.NodeTypeActivity, r.to, entities.RelWasInformedBy, r.from, r.to, r.role))
				}
			} else {
				gen := s.relations[repositories.SourceWasGeneratedBy]
				for _, r := range gen.sorted(gen.byTo, ref.ID) {
					out = append(out, step(ref, entities.NodeTypeEntity, r.from, entities.RelWasGeneratedBy, r.from, r.to, r.role))
				}
				informed := s.relations[repositories.SourceWasInformedBy]
				for _, r := range informed.sorted(informed.byTo, ref.ID) {
					out = append(out, step(ref, entities.NodeTypeActivity, r.from, entities.RelWasInformedBy, r.from, r.to, r.role))
				}
			}
		}
	}
	return out, nil
}

func step(from entities.NodeRef, toType entities.NodeType, toID string, rel entities.RelationshipType, edgeFrom, edgeTo, role string) repositories.Adjacency {
	adj := repositories.Adjacency{
		From: from,
		To:   entities.NodeRef{Type: toType, ID: toID},
		Edge: entities.Edge{From: edgeFrom, To: edgeTo, RelationshipType: rel},
	}
	if role != "" {
		adj.Edge.Role = entities.StringPtr(role)
	}
	return adj
}

// NodeInfo returns labels and metadata for the nodes that exist
func (s *Store) NodeInfo(ctx context.Context, refs []entities.NodeRef) (map[entities.NodeRef]repositories.NodeInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[entities.NodeRef]repositories.NodeInfo, len(refs))
	for _, ref := range refs {
		switch ref.Type {
		case entities.NodeTypeEntity:
			if e, ok := s.entities[ref.ID]; ok {
				out[ref] = repositories.NodeInfo{Label: optionalLabel(e.Label), Metadata: e.Metadata}
			}
		case entities.NodeTypeActivity:
			if a, ok := s.activities[ref.ID]; ok {
				out[ref] = repositories.NodeInfo{Label: optionalLabel(a.Label), Metadata: a.Metadata}
			}
		case entities.NodeTypeAgent:
			if a, ok := s.agents[ref.ID]; ok {
				out[ref] = repositories.NodeInfo{Metadata: a.Metadata}
			}
		}
	}
	return out, nil
}

func optionalLabel(label string) *string {
	if label == "" {
		return nil
	}
	return entities.StringPtr(label)
}
