package graphsync

import (
	"context"
	"fmt"
	"strings"

	"github.com/asakaida/provgraph/internal/entities"
	"github.com/asakaida/provgraph/internal/repositories"
	"github.com/asakaida/provgraph/internal/services/querycontract"
)

// Built-in typed queries against the mirror. Labels cannot be bound as Cypher
// parameters, so each label and edge type gets its own definition.

type noParams struct{}

type countRow struct {
	Count int64 `json:"count"`
}

type edgeMatchParams struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type nodeParams struct {
	ID string `json:"id"`
}

// idBound is the CEL constraint applied to every id parameter
func idBound(param string) string {
	return fmt.Sprintf("size(params.%s) > 0 && size(params.%s) <= %d", param, param, entities.MaxIDLength)
}

var (
	nodeCountQueries  = map[string]*querycontract.Definition[noParams, countRow]{}
	nodeExistsQueries = map[string]*querycontract.Definition[nodeParams, countRow]{}
	edgeCountQueries  = map[string]*querycontract.Definition[noParams, countRow]{}
	edgeMatchQueries  = map[string]*querycontract.Definition[edgeMatchParams, countRow]{}
)

func init() {
	for _, src := range Sources {
		suffix := strings.ToLower(src.Label)
		switch src.Kind {
		case NodeSource:
			nodeCountQueries[src.Label] = querycontract.MustDefine[noParams, countRow](
				"mirror_node_count_"+suffix,
				fmt.Sprintf("MATCH (n:%s) RETURN count(n) AS count", src.Label),
			)
			nodeExistsQueries[src.Label] = querycontract.MustDefine[nodeParams, countRow](
				"mirror_node_exists_"+suffix,
				fmt.Sprintf("MATCH (n:%s {id: $id}) RETURN count(n) AS count", src.Label),
				querycontract.WithConstraint(idBound("id")),
			)
		case EdgeSource:
			edgeCountQueries[src.Label] = querycontract.MustDefine[noParams, countRow](
				"mirror_edge_count_"+suffix,
				fmt.Sprintf("MATCH ()-[r:%s]->() RETURN count(r) AS count", src.Label),
			)
			edgeMatchQueries[src.Label] = querycontract.MustDefine[edgeMatchParams, countRow](
				"mirror_edge_match_"+suffix,
				fmt.Sprintf("MATCH (a:%s {id: $from})-[r:%s]->(b:%s {id: $to}) RETURN count(r) AS count",
					src.From.Label, src.Label, src.To.Label),
				querycontract.WithConstraint(idBound("from")+" && "+idBound("to")),
			)
		}
	}
}

// NodeCount returns the number of mirror nodes with the given label
func NodeCount(ctx context.Context, exec repositories.GraphExecutor, label string) (int64, error) {
	q, ok := nodeCountQueries[label]
	if !ok {
		return 0, fmt.Errorf("unknown node label %q", label)
	}
	row, err := q.Execute(ctx, exec, noParams{})
	return row.Count, err
}

// NodeExists reports whether the mirror holds a node with the given label and id
func NodeExists(ctx context.Context, exec repositories.GraphExecutor, label, id string) (bool, error) {
	q, ok := nodeExistsQueries[label]
	if !ok {
		return false, fmt.Errorf("unknown node label %q", label)
	}
	row, err := q.Execute(ctx, exec, nodeParams{ID: id})
	return row.Count > 0, err
}

// EdgeCount returns the number of mirror edges of the given type
func EdgeCount(ctx context.Context, exec repositories.GraphExecutor, edgeType string) (int64, error) {
	q, ok := edgeCountQueries[edgeType]
	if !ok {
		return 0, fmt.Errorf("unknown edge type %q", edgeType)
	}
	row, err := q.Execute(ctx, exec, noParams{})
	return row.Count, err
}

// EdgeMatches counts mirror edges (from)-[:edgeType]->(to)
func EdgeMatches(ctx context.Context, exec repositories.GraphExecutor, edgeType, from, to string) (int64, error) {
	q, ok := edgeMatchQueries[edgeType]
	if !ok {
		return 0, fmt.Errorf("unknown edge type %q", edgeType)
	}
	row, err := q.Execute(ctx, exec, edgeMatchParams{From: from, To: to})
	return row.Count, err
}
