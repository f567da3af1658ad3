// Package lineage walks provenance relations from a starting entity using batched adjacency reads.
package lineage

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/asakaida/provgraph/internal/entities"
	"github.com/asakaida/provgraph/internal/repositories"
)

// Engine implements TraversalRepository over a GraphReader.
// Expansion is level by level; each branch keeps a parent pointer so the cycle guard
// only rejects nodes already on that branch's own path.
type Engine struct {
	reader repositories.GraphReader
}

// NewEngine creates a new Engine
func NewEngine(reader repositories.GraphReader) *Engine {
	return &Engine{reader: reader}
}

var _ repositories.TraversalRepository = (*Engine)(nil)

type branch struct {
	ref    entities.NodeRef
	depth  int
	parent *branch
}

// onPath reports whether ref is this node or one of its ancestors on the branch
func (b *branch) onPath(ref entities.NodeRef) bool {
	for p := b; p != nil; p = p.parent {
		if p.ref == ref {
			return true
		}
	}
	return false
}

// GetEntityLineage walks backward from the entity
func (e *Engine) GetEntityLineage(ctx context.Context, entityID string, maxDepth *int, includeMetadata bool) ([]*entities.TraversalRow, error) {
	rows, err := e.traverse(ctx, entityID, repositories.Backward, maxDepth)
	if err != nil {
		return nil, fmt.Errorf("failed to get lineage of %s: %w", entityID, err)
	}
	if err := e.describe(ctx, rows, includeMetadata); err != nil {
		return nil, err
	}
	return entities.SortTraversalRows(rows), nil
}

// GetEntityDescendants walks forward from the entity
func (e *Engine) GetEntityDescendants(ctx context.Context, entityID string, maxDepth *int, includeMetadata bool) ([]*entities.TraversalRow, error) {
	rows, err := e.traverse(ctx, entityID, repositories.Forward, maxDepth)
	if err != nil {
		return nil, fmt.Errorf("failed to get descendants of %s: %w", entityID, err)
	}
	if err := e.describe(ctx, rows, includeMetadata); err != nil {
		return nil, err
	}
	return entities.SortTraversalRows(rows), nil
}

// GetCommonAncestors intersects the backward traversals of both entities.
// Each common node is returned once, without edge columns, at the smaller of its two depths.
func (e *Engine) GetCommonAncestors(ctx context.Context, entityID1, entityID2 string, maxDepth *int, includeMetadata bool) ([]*entities.TraversalRow, error) {
	if entityID1 == entityID2 {
		return []*entities.TraversalRow{}, nil
	}

	var left, right []*entities.TraversalRow
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		left, err = e.traverse(gctx, entityID1, repositories.Backward, maxDepth)
		return err
	})
	g.Go(func() error {
		var err error
		right, err = e.traverse(gctx, entityID2, repositories.Backward, maxDepth)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to get common ancestors of %s and %s: %w", entityID1, entityID2, err)
	}

	excluded := map[entities.NodeRef]bool{
		{Type: entities.NodeTypeEntity, ID: entityID1}: true,
		{Type: entities.NodeTypeEntity, ID: entityID2}: true,
	}
	leftDepth := minDepths(left)
	rightDepth := minDepths(right)

	var rows []*entities.TraversalRow
	for ref, ld := range leftDepth {
		rd, ok := rightDepth[ref]
		if !ok || excluded[ref] {
			continue
		}
		rows = append(rows, &entities.TraversalRow{
			NodeID:   ref.ID,
			NodeType: ref.Type,
			Depth:    min(ld, rd),
		})
	}
	if err := e.describe(ctx, rows, includeMetadata); err != nil {
		return nil, err
	}
	return entities.SortTraversalRows(rows), nil
}

// traverse returns the start row plus one row per step taken by any branch.
// Branches are per path, not per node: k stacked diamonds yield 2^k branches.
func (e *Engine) traverse(ctx context.Context, entityID string, dir repositories.Direction, maxDepth *int) ([]*entities.TraversalRow, error) {
	start := &branch{ref: entities.NodeRef{Type: entities.NodeTypeEntity, ID: entityID}}
	rows := []*entities.TraversalRow{{NodeID: entityID, NodeType: entities.NodeTypeEntity}}

	frontier := []*branch{start}
	for depth := 0; len(frontier) > 0; depth++ {
		if maxDepth != nil && depth >= *maxDepth {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		adj, err := e.reader.Neighbors(ctx, frontierRefs(frontier), dir)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s neighbors at depth %d: %w", dir, depth, err)
		}
		steps := make(map[entities.NodeRef][]repositories.Adjacency)
		for _, a := range adj {
			steps[a.From] = append(steps[a.From], a)
		}

		var next []*branch
		for _, b := range frontier {
			// parallel edges to the same node extend the path once
			extended := make(map[entities.NodeRef]bool)
			for _, a := range steps[b.ref] {
				if b.onPath(a.To) {
					continue
				}
				rows = append(rows, stepRow(a, b.depth+1))
				if !extended[a.To] {
					extended[a.To] = true
					next = append(next, &branch{ref: a.To, depth: b.depth + 1, parent: b})
				}
			}
		}
		frontier = next
	}
	return rows, nil
}

// describe fills labels, and metadata when requested, from the store
func (e *Engine) describe(ctx context.Context, rows []*entities.TraversalRow, includeMetadata bool) error {
	if len(rows) == 0 {
		return nil
	}
	seen := make(map[entities.NodeRef]bool)
	var refs []entities.NodeRef
	for _, r := range rows {
		if ref := r.Ref(); !seen[ref] {
			seen[ref] = true
			refs = append(refs, ref)
		}
	}
	info, err := e.reader.NodeInfo(ctx, refs)
	if err != nil {
		return fmt.Errorf("failed to read node info: %w", err)
	}
	for _, r := range rows {
		ni, ok := info[r.Ref()]
		if !ok {
			continue
		}
		r.NodeLabel = ni.Label
		if includeMetadata {
			r.Metadata = ni.Metadata
		}
	}
	return nil
}

func frontierRefs(frontier []*branch) []entities.NodeRef {
	seen := make(map[entities.NodeRef]bool, len(frontier))
	refs := make([]entities.NodeRef, 0, len(frontier))
	for _, b := range frontier {
		if !seen[b.ref] {
			seen[b.ref] = true
			refs = append(refs, b.ref)
		}
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Key() < refs[j].Key() })
	return refs
}

func stepRow(a repositories.Adjacency, depth int) *entities.TraversalRow {
	rel := a.Edge.RelationshipType
	return &entities.TraversalRow{
		NodeID:           a.To.ID,
		NodeType:         a.To.Type,
		Depth:            depth,
		EdgeFrom:         entities.StringPtr(a.Edge.From),
		EdgeTo:           entities.StringPtr(a.Edge.To),
		RelationshipType: &rel,
		Role:             a.Edge.Role,
	}
}

func minDepths(rows []*entities.TraversalRow) map[entities.NodeRef]int {
	out := make(map[entities.NodeRef]int, len(rows))
	for _, r := range rows {
		if d, ok := out[r.Ref()]; !ok || r.Depth < d {
			out[r.Ref()] = r.Depth
		}
	}
	return out
}
