package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/google/jsonschema-go/jsonschema"
	"go.uber.org/zap"

	"github.com/asakaida/provgraph/internal/entities"
	"github.com/asakaida/provgraph/internal/repositories"
	"github.com/asakaida/provgraph/pkg/cache"
)

// Traversal operation names, used for cache keys and metrics
const (
	OpLineage         = "lineage"
	OpDescendants     = "descendants"
	OpCommonAncestors = "common_ancestors"
)

// LineageRequest is the input of GetEntityLineage and GetEntityDescendants
type LineageRequest struct {
	EntityID        string `json:"entityId"`
	MaxDepth        *int   `json:"maxDepth,omitempty"`
	IncludeMetadata bool   `json:"includeMetadata,omitempty"`
}

// CommonAncestorsRequest is the input of GetCommonAncestors
type CommonAncestorsRequest struct {
	EntityID1       string `json:"entityId1"`
	EntityID2       string `json:"entityId2"`
	MaxDepth        *int   `json:"maxDepth,omitempty"`
	IncludeMetadata bool   `json:"includeMetadata,omitempty"`
}

// LineageGraph is the normalized result of a lineage or descendants traversal.
// Results may be shared through the cache and must not be modified.
type LineageGraph struct {
	Nodes []*entities.Node `json:"nodes"`
	Edges []*entities.Edge `json:"edges"`
}

// CommonAncestors is the normalized result of GetCommonAncestors
type CommonAncestors struct {
	CommonAncestors []*entities.Node `json:"commonAncestors"`
}

// SizeBytes approximates the memory held by the graph
func (g *LineageGraph) SizeBytes() int64 {
	return nodesSize(g.Nodes) + int64(len(g.Edges))*96
}

// SizeBytes approximates the memory held by the result
func (c *CommonAncestors) SizeBytes() int64 {
	return nodesSize(c.CommonAncestors)
}

func nodesSize(nodes []*entities.Node) int64 {
	var n int64
	for _, node := range nodes {
		n += 64 + int64(len(node.ID))
		if !node.Metadata.IsNull() {
			b, _ := node.Metadata.MarshalJSON()
			n += int64(len(b))
		}
	}
	return n
}

// TraversalObserver receives one call per served traversal
type TraversalObserver interface {
	ObserveTraversal(operation string, rows int, cached bool)
}

// LineageServiceConfig holds the traversal limits
type LineageServiceConfig struct {
	DefaultMaxDepth int // used when a request omits maxDepth

	// MaxDepth is the largest maxDepth accepted. Traversals follow every simple
	// path, so on graphs whose paths split and rejoin (diamonds) the rows returned
	// can grow exponentially with depth; keep this bound low for such graphs.
	MaxDepth int
}

// LineageService validates traversal requests, runs them and normalizes the rows
type LineageService struct {
	traversal repositories.TraversalRepository
	cache     cache.Cache
	tokens    repositories.ChangeTokenProvider
	observer  TraversalObserver
	logger    *zap.Logger
	cfg       LineageServiceConfig

	lineageSchema  *jsonschema.Resolved
	ancestorSchema *jsonschema.Resolved
}

// LineageOption customizes a LineageService
type LineageOption func(*LineageService)

// WithCache enables result caching keyed on the change token
func WithCache(c cache.Cache, tokens repositories.ChangeTokenProvider) LineageOption {
	return func(s *LineageService) {
		s.cache = c
		s.tokens = tokens
	}
}

// WithObserver reports every traversal to o
func WithObserver(o TraversalObserver) LineageOption {
	return func(s *LineageService) { s.observer = o }
}

// WithLogger sets the service logger
func WithLogger(l *zap.Logger) LineageOption {
	return func(s *LineageService) { s.logger = l }
}

// NewLineageService creates a new LineageService
func NewLineageService(traversal repositories.TraversalRepository, cfg LineageServiceConfig, opts ...LineageOption) (*LineageService, error) {
	if cfg.MaxDepth < 1 {
		return nil, fmt.Errorf("max depth must be at least 1, got %d", cfg.MaxDepth)
	}
	if cfg.DefaultMaxDepth < 1 || cfg.DefaultMaxDepth > cfg.MaxDepth {
		return nil, fmt.Errorf("default max depth must be between 1 and %d, got %d", cfg.MaxDepth, cfg.DefaultMaxDepth)
	}

	s := &LineageService{traversal: traversal, cfg: cfg, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}

	var err error
	if s.lineageSchema, err = requestSchema[LineageRequest](cfg.MaxDepth, "entityId"); err != nil {
		return nil, err
	}
	if s.ancestorSchema, err = requestSchema[CommonAncestorsRequest](cfg.MaxDepth, "entityId1", "entityId2"); err != nil {
		return nil, err
	}
	return s, nil
}

// requestSchema infers the schema of T and bounds its id and depth properties
func requestSchema[T any](maxDepth int, idProps ...string) (*jsonschema.Resolved, error) {
	schema, err := jsonschema.For[T](nil)
	if err != nil {
		return nil, fmt.Errorf("failed to infer request schema: %w", err)
	}
	for _, name := range idProps {
		prop := schema.Properties[name]
		prop.MinLength = jsonschema.Ptr(1)
		prop.MaxLength = jsonschema.Ptr(entities.MaxIDLength)
	}
	depth := schema.Properties["maxDepth"]
	depth.Minimum = jsonschema.Ptr(1.0)
	depth.Maximum = jsonschema.Ptr(float64(maxDepth))

	resolved, err := schema.Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("invalid request schema: %w", err)
	}
	return resolved, nil
}

// GetEntityLineage returns the upstream graph of an entity
func (s *LineageService) GetEntityLineage(ctx context.Context, req *LineageRequest) (*LineageGraph, error) {
	return s.lineageGraph(ctx, OpLineage, req, s.traversal.GetEntityLineage)
}

// GetEntityDescendants returns the downstream graph of an entity
func (s *LineageService) GetEntityDescendants(ctx context.Context, req *LineageRequest) (*LineageGraph, error) {
	return s.lineageGraph(ctx, OpDescendants, req, s.traversal.GetEntityDescendants)
}

type traversalFunc func(ctx context.Context, entityID string, maxDepth *int, includeMetadata bool) ([]*entities.TraversalRow, error)

func (s *LineageService) lineageGraph(ctx context.Context, op string, req *LineageRequest, fn traversalFunc) (*LineageGraph, error) {
	if req == nil {
		return nil, NewValidationError("request is required")
	}
	if err := validate(s.lineageSchema, req); err != nil {
		return nil, err
	}
	depth := s.depth(req.MaxDepth)

	key, cacheable := s.cacheKey(ctx, op, req.EntityID, strconv.Itoa(depth), strconv.FormatBool(req.IncludeMetadata))
	if cacheable {
		if v, ok := s.cache.Get(ctx, key); ok {
			if g, ok := v.(*LineageGraph); ok {
				s.observe(op, len(g.Nodes), true)
				return g, nil
			}
		}
	}

	rows, err := fn(ctx, req.EntityID, &depth, req.IncludeMetadata)
	if err != nil {
		return nil, fmt.Errorf("%s traversal of %s failed: %w", op, req.EntityID, err)
	}
	g := &LineageGraph{Nodes: normalizeNodes(rows), Edges: normalizeEdges(rows)}

	if cacheable {
		if err := s.cache.Set(ctx, key, g, 0); err != nil {
			s.logger.Warn("failed to cache traversal", zap.String("operation", op), zap.Error(err))
		}
	}
	s.observe(op, len(rows), false)
	return g, nil
}

// GetCommonAncestors returns the nodes shared by the lineage of two entities
func (s *LineageService) GetCommonAncestors(ctx context.Context, req *CommonAncestorsRequest) (*CommonAncestors, error) {
	if req == nil {
		return nil, NewValidationError("request is required")
	}
	if err := validate(s.ancestorSchema, req); err != nil {
		return nil, err
	}
	depth := s.depth(req.MaxDepth)

	key, cacheable := s.cacheKey(ctx, OpCommonAncestors, req.EntityID1, req.EntityID2,
		strconv.Itoa(depth), strconv.FormatBool(req.IncludeMetadata))
	if cacheable {
		if v, ok := s.cache.Get(ctx, key); ok {
			if c, ok := v.(*CommonAncestors); ok {
				s.observe(OpCommonAncestors, len(c.CommonAncestors), true)
				return c, nil
			}
		}
	}

	rows, err := s.traversal.GetCommonAncestors(ctx, req.EntityID1, req.EntityID2, &depth, req.IncludeMetadata)
	if err != nil {
		return nil, fmt.Errorf("common ancestors of %s and %s failed: %w", req.EntityID1, req.EntityID2, err)
	}
	result := &CommonAncestors{CommonAncestors: normalizeNodes(rows)}

	if cacheable {
		if err := s.cache.Set(ctx, key, result, 0); err != nil {
			s.logger.Warn("failed to cache traversal", zap.String("operation", OpCommonAncestors), zap.Error(err))
		}
	}
	s.observe(OpCommonAncestors, len(rows), false)
	return result, nil
}

func (s *LineageService) depth(requested *int) int {
	if requested == nil {
		return s.cfg.DefaultMaxDepth
	}
	return *requested
}

// cacheKey returns the key for the current change token. Caching is skipped when
// no cache is configured or the token cannot be read.
func (s *LineageService) cacheKey(ctx context.Context, op string, args ...string) (string, bool) {
	if s.cache == nil || s.tokens == nil {
		return "", false
	}
	token, err := s.tokens.ChangeToken(ctx)
	if err != nil {
		s.logger.Warn("change token unavailable, bypassing cache", zap.Error(err))
		return "", false
	}
	return cache.Key(op, append(args, token)...), true
}

func (s *LineageService) observe(op string, rows int, cached bool) {
	if s.observer != nil {
		s.observer.ObserveTraversal(op, rows, cached)
	}
}

// validate checks req against schema, reporting failures as ValidationError
func validate(schema *jsonschema.Resolved, req interface{}) error {
	raw, err := json.Marshal(req)
	if err != nil {
		return NewValidationError("invalid request: %v", err)
	}
	var instance interface{}
	if err := json.Unmarshal(raw, &instance); err != nil {
		return NewValidationError("invalid request: %v", err)
	}
	if err := schema.Validate(instance); err != nil {
		return NewValidationError("invalid request: %v", err)
	}
	return nil
}

// normalizeNodes de-duplicates rows by (type, id), keeping the smallest depth and the first
// label and metadata seen, and orders the nodes by (depth, id, type)
func normalizeNodes(rows []*entities.TraversalRow) []*entities.Node {
	byRef := make(map[entities.NodeRef]*entities.Node)
	nodes := make([]*entities.Node, 0, len(rows))
	for _, r := range rows {
		n, ok := byRef[r.Ref()]
		if !ok {
			n = &entities.Node{ID: r.NodeID, NodeType: r.NodeType, Depth: r.Depth}
			byRef[r.Ref()] = n
			nodes = append(nodes, n)
		}
		if r.Depth < n.Depth {
			n.Depth = r.Depth
		}
		if n.Label == nil && r.NodeLabel != nil {
			n.Label = r.NodeLabel
		}
		if n.Metadata.IsNull() && !r.Metadata.IsNull() {
			n.Metadata = r.Metadata
		}
	}
	sort.SliceStable(nodes, func(i, j int) bool {
		a, b := nodes[i], nodes[j]
		if a.Depth != b.Depth {
			return a.Depth < b.Depth
		}
		if a.ID != b.ID {
			return a.ID < b.ID
		}
		return a.NodeType < b.NodeType
	})
	return nodes
}

// normalizeEdges de-duplicates edges by (from, to, type, role) in order of first appearance
func normalizeEdges(rows []*entities.TraversalRow) []*entities.Edge {
	seen := make(map[string]bool)
	edges := make([]*entities.Edge, 0, len(rows))
	for _, r := range rows {
		if !r.HasEdge() {
			continue
		}
		e := &entities.Edge{From: *r.EdgeFrom, To: *r.EdgeTo, RelationshipType: *r.RelationshipType, Role: r.Role}
		if seen[e.Key()] {
			continue
		}
		seen[e.Key()] = true
		edges = append(edges, e)
	}
	return edges
}
