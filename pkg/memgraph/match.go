package memgraph

import (
	"context"

	"github.com/dgraph-io/badger/v4"
)

// Result holds the rows produced by a query. Each row maps column name to value.
// Nodes are returned as {"label", "properties"} maps and edges as {"type", "properties"} maps.
type Result struct {
	Columns []string
	Rows    []map[string]interface{}
}

// Query parses and runs a read-only Cypher statement against the last committed snapshot.
// Parameters are not supported; placeholders must be substituted before the call.
func (g *Graph) Query(ctx context.Context, cypher string) (*Result, error) {
	q, err := parse(cypher)
	if err != nil {
		return nil, err
	}

	var res *Result
	err = g.db.View(func(txn *badger.Txn) error {
		var err error
		res, err = evaluate(ctx, view{txn: txn}, q)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func evaluate(ctx context.Context, v view, q *query) (*Result, error) {
	m := &matcher{
		ctx:       ctx,
		v:         v,
		q:         q,
		nodes:     map[NodeKey]*Node{},
		edges:     map[int64]*Edge{},
		nodeBind:  map[string]NodeKey{},
		edgeBind:  map[string]int64{},
		usedEdges: map[int64]bool{},
	}
	var matches []binding
	if err := m.matchPath(0, func(b binding) error {
		matches = append(matches, b)
		return nil
	}); err != nil {
		return nil, err
	}

	res := &Result{}
	for _, it := range q.items {
		res.Columns = append(res.Columns, it.column())
	}

	if q.isAggr {
		row := make(map[string]interface{}, len(q.items))
		for _, it := range q.items {
			var n int64
			for _, b := range matches {
				if it.star || b.bound(it.variable) {
					n++
				}
			}
			row[it.column()] = n
		}
		res.Rows = append(res.Rows, row)
		return res, nil
	}

	for _, b := range matches {
		row := make(map[string]interface{}, len(q.items))
		for _, it := range q.items {
			val, err := m.project(b, it)
			if err != nil {
				return nil, err
			}
			row[it.column()] = val
		}
		res.Rows = append(res.Rows, row)
	}
	return res, nil
}

type binding struct {
	nodes map[string]NodeKey
	edges map[string]int64
}

func (b binding) bound(variable string) bool {
	if _, ok := b.nodes[variable]; ok {
		return true
	}
	_, ok := b.edges[variable]
	return ok
}

// matcher backtracks over the MATCH paths. Nodes and edges read from the
// snapshot are memoized for the duration of the query.
type matcher struct {
	ctx context.Context
	v   view
	q   *query

	nodes map[NodeKey]*Node
	edges map[int64]*Edge

	nodeBind  map[string]NodeKey
	edgeBind  map[string]int64
	usedEdges map[int64]bool
}

func (m *matcher) node(key NodeKey) (*Node, error) {
	if n, ok := m.nodes[key]; ok {
		return n, nil
	}
	n, err := m.v.node(key)
	if err != nil {
		return nil, err
	}
	m.nodes[key] = n
	return n, nil
}

func (m *matcher) edge(id int64) (*Edge, error) {
	if e, ok := m.edges[id]; ok {
		return e, nil
	}
	e, err := m.v.edge(id)
	if err != nil {
		return nil, err
	}
	m.edges[id] = e
	return e, nil
}

func (m *matcher) project(b binding, it returnItem) (interface{}, error) {
	if key, ok := b.nodes[it.variable]; ok {
		node, err := m.node(key)
		if err != nil {
			return nil, err
		}
		if it.prop != "" {
			return node.Props[it.prop], nil
		}
		return map[string]interface{}{"label": key.Label, "properties": copyProps(node.Props)}, nil
	}
	if id, ok := b.edges[it.variable]; ok {
		e, err := m.edge(id)
		if err != nil {
			return nil, err
		}
		if it.prop != "" {
			return e.Props[it.prop], nil
		}
		return map[string]interface{}{
			"type":       e.Type,
			"start":      e.From.ID,
			"end":        e.To.ID,
			"properties": copyProps(e.Props),
		}, nil
	}
	return nil, nil
}

func (m *matcher) snapshot() binding {
	b := binding{nodes: make(map[string]NodeKey, len(m.nodeBind)), edges: make(map[string]int64, len(m.edgeBind))}
	for k, v := range m.nodeBind {
		b.nodes[k] = v
	}
	for k, v := range m.edgeBind {
		b.edges[k] = v
	}
	return b
}

// matchPath matches the path at index i and continues with the next one
func (m *matcher) matchPath(i int, emit func(binding) error) error {
	if err := m.ctx.Err(); err != nil {
		return err
	}
	if i == len(m.q.paths) {
		holds, err := m.whereHolds()
		if err != nil || !holds {
			return err
		}
		return emit(m.snapshot())
	}
	path := m.q.paths[i]
	candidates, err := m.candidates(path.nodes[0])
	if err != nil {
		return err
	}
	for _, key := range candidates {
		undo, ok := m.bindNode(path.nodes[0], key)
		if !ok {
			continue
		}
		err := m.matchHop(i, 0, key, emit)
		undo()
		if err != nil {
			return err
		}
	}
	return nil
}

// matchHop extends path i from node current across relationship hop
func (m *matcher) matchHop(i, hop int, current NodeKey, emit func(binding) error) error {
	path := m.q.paths[i]
	if hop == len(path.rels) {
		return m.matchPath(i+1, emit)
	}
	rel := path.rels[hop]
	target := path.nodes[hop+1]

	steps, err := m.steps(current, rel)
	if err != nil {
		return err
	}
	for _, st := range steps {
		if m.usedEdges[st.edgeID] {
			continue
		}
		ok, err := m.nodeMatches(st.next, target)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		undoNode, ok := m.bindNode(target, st.next)
		if !ok {
			continue
		}
		undoEdge, ok := m.bindEdge(rel, st.edgeID)
		if !ok {
			undoNode()
			continue
		}
		m.usedEdges[st.edgeID] = true
		err = m.matchHop(i, hop+1, st.next, emit)
		delete(m.usedEdges, st.edgeID)
		undoEdge()
		undoNode()
		if err != nil {
			return err
		}
	}
	return nil
}

func (m *matcher) bindNode(np nodePattern, key NodeKey) (func(), bool) {
	if np.variable == "" {
		return func() {}, true
	}
	if existing, ok := m.nodeBind[np.variable]; ok {
		return func() {}, existing == key
	}
	m.nodeBind[np.variable] = key
	return func() { delete(m.nodeBind, np.variable) }, true
}

func (m *matcher) bindEdge(rp relPattern, id int64) (func(), bool) {
	if rp.variable == "" {
		return func() {}, true
	}
	if existing, ok := m.edgeBind[rp.variable]; ok {
		return func() {}, existing == id
	}
	m.edgeBind[rp.variable] = id
	return func() { delete(m.edgeBind, rp.variable) }, true
}

func (m *matcher) candidates(np nodePattern) ([]NodeKey, error) {
	var keys []NodeKey
	switch {
	case np.variable != "" && m.bound(np.variable):
		keys = []NodeKey{m.nodeBind[np.variable]}
	case np.label != "" && isString(np.props["id"]):
		keys = []NodeKey{{Label: np.label, ID: np.props["id"].(string)}}
	default:
		all, err := m.v.nodeKeys()
		if err != nil {
			return nil, err
		}
		keys = all
	}

	out := keys[:0:0]
	for _, key := range keys {
		ok, err := m.nodeMatches(key, np)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, key)
		}
	}
	return out, nil
}

func (m *matcher) bound(variable string) bool {
	_, ok := m.nodeBind[variable]
	return ok
}

func isString(v interface{}) bool {
	_, ok := v.(string)
	return ok
}

func (m *matcher) whereHolds() (bool, error) {
	for _, c := range m.q.where {
		var props map[string]interface{}
		if key, ok := m.nodeBind[c.variable]; ok {
			node, err := m.node(key)
			if err != nil {
				return false, err
			}
			props = node.Props
		} else if id, ok := m.edgeBind[c.variable]; ok {
			e, err := m.edge(id)
			if err != nil {
				return false, err
			}
			props = e.Props
		}
		v, present := props[c.prop]
		if c.isNull != nil {
			if *c.isNull == present {
				return false, nil
			}
			continue
		}
		if c.value == nil || !present || !valuesEqual(v, c.value) {
			return false, nil
		}
	}
	return true, nil
}

func (m *matcher) nodeMatches(key NodeKey, np nodePattern) (bool, error) {
	if np.label != "" && key.Label != np.label {
		return false, nil
	}
	node, err := m.node(key)
	if err != nil || node == nil {
		return false, err
	}
	// a null literal matches an absent property
	return propsMatch(node.Props, np.props), nil
}

type step struct {
	edgeID int64
	next   NodeKey
}

func (m *matcher) steps(from NodeKey, rp relPattern) ([]step, error) {
	var out []step
	collect := func(dir byte) error {
		ids, err := m.v.adjacent(dir, from)
		if err != nil {
			return err
		}
		for _, id := range ids {
			e, err := m.edge(id)
			if err != nil {
				return err
			}
			if dir == inPrefix && rp.dir == dirBoth && e.From == e.To {
				continue // self loop already produced by the outgoing scan
			}
			if rp.relType != "" && e.Type != rp.relType {
				continue
			}
			if !propsMatch(e.Props, rp.props) {
				continue
			}
			next := e.To
			if dir == inPrefix {
				next = e.From
			}
			out = append(out, step{edgeID: id, next: next})
		}
		return nil
	}
	if rp.dir == dirOut || rp.dir == dirBoth {
		if err := collect(outPrefix); err != nil {
			return nil, err
		}
	}
	if rp.dir == dirIn || rp.dir == dirBoth {
		if err := collect(inPrefix); err != nil {
			return nil, err
		}
	}
	return out, nil
}
