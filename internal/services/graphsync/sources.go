// Package graphsync keeps the property-graph mirror in step with the relational provenance store.
// Every relational source has an insert and a delete projection which run inside the writing
// transaction, either as Apache AGE triggers or through the in-process Projector.
package graphsync

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/asakaida/provgraph/internal/repositories"
)

// Kind tells whether a source projects to nodes or edges
type Kind int

const (
	NodeSource Kind = iota
	EdgeSource
)

func (k Kind) String() string {
	if k == EdgeSource {
		return "edge"
	}
	return "node"
}

// Endpoint is one end of an edge source: the column holding the id and the node label it refers to
type Endpoint struct {
	Column string
	Label  string
}

// Source describes how one relational table is projected into the mirror
type Source struct {
	Table      string
	Kind       Kind
	Label      string // node label or edge type
	IDColumn   string // node sources
	From       Endpoint
	To         Endpoint
	RoleColumn string // edge sources carrying a role property
}

// Sources lists the relational sources in write order: nodes before the edges that reference them
var Sources = []Source{
	{Table: repositories.SourceEntities, Kind: NodeSource, Label: "Entity", IDColumn: "id"},
	{Table: repositories.SourceActivities, Kind: NodeSource, Label: "Activity", IDColumn: "id"},
	{Table: repositories.SourceAgents, Kind: NodeSource, Label: "Agent", IDColumn: "id"},
	{
		Table: repositories.SourceWasGeneratedBy, Kind: EdgeSource, Label: "wasGeneratedBy",
		From: Endpoint{Column: "entity_id", Label: "Entity"},
		To:   Endpoint{Column: "activity_id", Label: "Activity"},
	},
	{
		Table: repositories.SourceUsed, Kind: EdgeSource, Label: "used",
		From:       Endpoint{Column: "activity_id", Label: "Activity"},
		To:         Endpoint{Column: "entity_id", Label: "Entity"},
		RoleColumn: "role",
	},
	{
		Table: repositories.SourceWasAttributedTo, Kind: EdgeSource, Label: "wasAttributedTo",
		From: Endpoint{Column: "entity_id", Label: "Entity"},
		To:   Endpoint{Column: "agent_id", Label: "Agent"},
	},
	{
		Table: repositories.SourceWasAssociatedWith, Kind: EdgeSource, Label: "wasAssociatedWith",
		From:       Endpoint{Column: "activity_id", Label: "Activity"},
		To:         Endpoint{Column: "agent_id", Label: "Agent"},
		RoleColumn: "role",
	},
	{
		Table: repositories.SourceWasInformedBy, Kind: EdgeSource, Label: "wasInformedBy",
		From: Endpoint{Column: "informed_id", Label: "Activity"},
		To:   Endpoint{Column: "informer_id", Label: "Activity"},
	},
}

// SourceByTable returns the source for a relational table
func SourceByTable(table string) (Source, bool) {
	for _, s := range Sources {
		if s.Table == table {
			return s, true
		}
	}
	return Source{}, false
}

// NodeLabels returns the distinct node labels of the mirror
func NodeLabels() []string {
	var labels []string
	for _, s := range Sources {
		if s.Kind == NodeSource {
			labels = append(labels, s.Label)
		}
	}
	return labels
}

// EdgeLabels returns the distinct edge types of the mirror
func EdgeLabels() []string {
	var labels []string
	for _, s := range Sources {
		if s.Kind == EdgeSource {
			labels = append(labels, s.Label)
		}
	}
	return labels
}

// mirrorQuoteMarker is the dollar-quote tag wrapping Cypher text inside the AGE triggers
const mirrorQuoteMarker = "$prov$"

// ValidateIdentifier applies the same rules as prov_mirror_literal in the trigger DDL
func ValidateIdentifier(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty identifier", repositories.ErrMirrorProjection)
	}
	if strings.Contains(id, mirrorQuoteMarker) {
		return fmt.Errorf("%w: malformed identifier %q", repositories.ErrMirrorProjection, id)
	}
	for _, r := range id {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: malformed identifier %q", repositories.ErrMirrorProjection, id)
		}
	}
	return nil
}
