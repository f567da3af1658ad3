package entities

import (
	"fmt"
	"sort"
)

// NodeType is the kind of node visited by a traversal
type NodeType string

const (
	NodeTypeEntity   NodeType = "entity"
	NodeTypeActivity NodeType = "activity"
	NodeTypeAgent    NodeType = "agent"
)

// Label returns the graph mirror label for the node type
func (t NodeType) Label() string {
	switch t {
	case NodeTypeEntity:
		return "Entity"
	case NodeTypeActivity:
		return "Activity"
	case NodeTypeAgent:
		return "Agent"
	default:
		return string(t)
	}
}

// RelationshipType names a PROV relation as reported on edges
type RelationshipType string

const (
	RelWasGeneratedBy    RelationshipType = "wasGeneratedBy"
	RelUsed              RelationshipType = "used"
	RelWasAttributedTo   RelationshipType = "wasAttributedTo"
	RelWasAssociatedWith RelationshipType = "wasAssociatedWith"
	RelWasInformedBy     RelationshipType = "wasInformedBy"
)

// NodeRef identifies a node. Entities and activities may share an id, so the type is part of the key.
type NodeRef struct {
	Type NodeType
	ID   string
}

// Key returns the "type:id" form used in traversal paths
func (r NodeRef) Key() string {
	return string(r.Type) + ":" + r.ID
}

func (r NodeRef) String() string {
	return r.Key()
}

// TraversalRow is one row produced by a traversal function.
// The start row of a traversal carries no edge.
type TraversalRow struct {
	NodeID           string
	NodeLabel        *string
	NodeType         NodeType
	Depth            int
	Metadata         Metadata
	EdgeFrom         *string
	EdgeTo           *string
	RelationshipType *RelationshipType
	Role             *string
}

// Ref returns the identity of the row's node
func (r *TraversalRow) Ref() NodeRef {
	return NodeRef{Type: r.NodeType, ID: r.NodeID}
}

// HasEdge reports whether the row describes the edge used to reach the node
func (r *TraversalRow) HasEdge() bool {
	return r.EdgeFrom != nil && r.EdgeTo != nil && r.RelationshipType != nil
}

// Node is a normalized traversal node returned to callers
type Node struct {
	ID       string   `json:"id"`
	Label    *string  `json:"label,omitempty"`
	NodeType NodeType `json:"nodeType"`
	Depth    int      `json:"depth"`
	Metadata Metadata `json:"metadata"`
}

// Edge is a normalized traversal edge, always in PROV direction
type Edge struct {
	From             string           `json:"from"`
	To               string           `json:"to"`
	RelationshipType RelationshipType `json:"relationshipType"`
	Role             *string          `json:"role"`
}

// Key returns the identity used for edge de-duplication
func (e *Edge) Key() string {
	role := "\x00"
	if e.Role != nil {
		role = *e.Role
	}
	return fmt.Sprintf("%s|%s|%s|%s", e.From, e.To, e.RelationshipType, role)
}

// SortTraversalRows orders rows by (depth, nodeId, nodeType, edgeFrom, edgeTo, relationshipType, role)
// and drops exact duplicates
func SortTraversalRows(rows []*TraversalRow) []*TraversalRow {
	sort.SliceStable(rows, func(i, j int) bool {
		return compareRows(rows[i], rows[j]) < 0
	})
	out := rows[:0]
	for i, row := range rows {
		if i > 0 && compareRows(rows[i-1], row) == 0 {
			continue
		}
		out = append(out, row)
	}
	return out
}

func compareRows(a, b *TraversalRow) int {
	if a.Depth != b.Depth {
		if a.Depth < b.Depth {
			return -1
		}
		return 1
	}
	if c := compareString(a.NodeID, b.NodeID); c != 0 {
		return c
	}
	if c := compareString(string(a.NodeType), string(b.NodeType)); c != 0 {
		return c
	}
	if c := compareOptional(a.EdgeFrom, b.EdgeFrom); c != 0 {
		return c
	}
	if c := compareOptional(a.EdgeTo, b.EdgeTo); c != 0 {
		return c
	}
	var ra, rb *string
	if a.RelationshipType != nil {
		s := string(*a.RelationshipType)
		ra = &s
	}
	if b.RelationshipType != nil {
		s := string(*b.RelationshipType)
		rb = &s
	}
	if c := compareOptional(ra, rb); c != 0 {
		return c
	}
	return compareOptional(a.Role, b.Role)
}

func compareString(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// nil sorts first
func compareOptional(a, b *string) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	default:
		return compareString(*a, *b)
	}
}

// StringPtr returns a pointer to s
func StringPtr(s string) *string {
	return &s
}

// RelPtr returns a pointer to rel
func RelPtr(rel RelationshipType) *RelationshipType {
	return &rel
}
