// Package memgraph is an embedded property graph kept in an in-memory Badger database,
// with transactional writes and a read-only Cypher subset. It backs the graph mirror
// when no graph database is available.
package memgraph

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"
)

// ErrTxDone is returned when a finished transaction is used again
var ErrTxDone = errors.New("memgraph: transaction already committed or rolled back")

// NodeKey identifies a node by its label and id property
type NodeKey struct {
	Label string
	ID    string
}

func (k NodeKey) String() string {
	return fmt.Sprintf("(:%s {id: %q})", k.Label, k.ID)
}

// Node is a labelled vertex. Props always contains "id".
type Node struct {
	Key   NodeKey
	Props map[string]interface{}
}

// Edge is a typed, directed relationship between two nodes
type Edge struct {
	ID    int64
	Type  string
	From  NodeKey
	To    NodeKey
	Props map[string]interface{}
}

// Graph is safe for concurrent use. Readers see the last committed snapshot;
// writers are serialized, one Tx at a time.
type Graph struct {
	db *badger.DB

	writer     sync.Mutex
	nextEdgeID int64 // guarded by writer
}

// New opens an empty in-memory graph
func New() (*Graph, error) {
	opts := badger.DefaultOptions("").
		WithInMemory(true).
		WithLogger(nil).
		WithMetricsEnabled(false).
		WithBlockCacheSize(16 << 20)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open graph store: %w", err)
	}
	return &Graph{db: db}, nil
}

// Close releases the underlying store
func (g *Graph) Close() error {
	return g.db.Close()
}

// NodeCount returns the number of nodes with the given label, or all nodes when label is empty
func (g *Graph) NodeCount(label string) (int, error) {
	n := 0
	err := g.db.View(func(txn *badger.Txn) error {
		keys, err := view{txn: txn}.nodeKeys()
		for _, k := range keys {
			if label == "" || k.Label == label {
				n++
			}
		}
		return err
	})
	return n, err
}

// EdgeCount returns the number of edges of the given type, or all edges when edgeType is empty
func (g *Graph) EdgeCount(edgeType string) (int, error) {
	n := 0
	err := g.db.View(func(txn *badger.Txn) error {
		edges, err := view{txn: txn}.edges()
		for _, e := range edges {
			if edgeType == "" || e.Type == edgeType {
				n++
			}
		}
		return err
	})
	return n, err
}

// Begin starts a write transaction. It blocks while another Tx is open.
func (g *Graph) Begin() *Tx {
	g.writer.Lock()
	txn := g.db.NewTransaction(true)
	return &Tx{g: g, txn: txn, v: view{txn: txn}}
}

// Tx is a write transaction. Its reads see its own writes; nothing is visible to
// other readers until Commit.
type Tx struct {
	g    *Graph
	txn  *badger.Txn
	v    view
	done bool
}

// MergeNode creates the node unless it already exists. Reports whether it was created.
func (tx *Tx) MergeNode(label, id string, props map[string]interface{}) (bool, error) {
	if tx.done {
		return false, ErrTxDone
	}
	key := NodeKey{Label: label, ID: id}
	exists, err := tx.v.hasNode(key)
	if err != nil || exists {
		return false, err
	}
	p := copyProps(props)
	p["id"] = id
	val, err := json.Marshal(p)
	if err != nil {
		return false, fmt.Errorf("failed to encode node %s: %w", key, err)
	}
	if err := tx.txn.Set(nodeKey(key), val); err != nil {
		return false, fmt.Errorf("failed to store node %s: %w", key, err)
	}
	return true, nil
}

// DetachDeleteNode removes the node and every incident edge. Returns the number of nodes removed.
func (tx *Tx) DetachDeleteNode(label, id string) (int, error) {
	if tx.done {
		return 0, ErrTxDone
	}
	key := NodeKey{Label: label, ID: id}
	exists, err := tx.v.hasNode(key)
	if err != nil || !exists {
		return 0, err
	}
	incident, err := tx.v.incident(key)
	if err != nil {
		return 0, err
	}
	for _, edgeID := range incident {
		e, err := tx.v.edge(edgeID)
		if err != nil {
			return 0, err
		}
		if err := tx.removeEdge(e); err != nil {
			return 0, err
		}
	}
	if err := tx.txn.Delete(nodeKey(key)); err != nil {
		return 0, fmt.Errorf("failed to delete node %s: %w", key, err)
	}
	return 1, nil
}

// CreateEdge creates an edge between two existing nodes.
// Returns the number of edges created, which is 0 when either endpoint is missing.
func (tx *Tx) CreateEdge(edgeType string, from, to NodeKey, props map[string]interface{}) (int, error) {
	if tx.done {
		return 0, ErrTxDone
	}
	for _, k := range []NodeKey{from, to} {
		exists, err := tx.v.hasNode(k)
		if err != nil || !exists {
			return 0, err
		}
	}

	tx.g.nextEdgeID++
	id := tx.g.nextEdgeID
	val, err := json.Marshal(edgeRecord{Type: edgeType, From: from, To: to, Props: copyProps(props)})
	if err != nil {
		return 0, fmt.Errorf("failed to encode %s edge: %w", edgeType, err)
	}
	for _, kv := range []struct{ k, v []byte }{
		{edgeKey(id), val},
		{adjacencyKey(outPrefix, from, id), nil},
		{adjacencyKey(inPrefix, to, id), nil},
	} {
		if err := tx.txn.Set(kv.k, kv.v); err != nil {
			return 0, fmt.Errorf("failed to store %s edge: %w", edgeType, err)
		}
	}
	return 1, nil
}

// DeleteEdge removes one edge of the given type between the two nodes whose properties match.
// A nil value in props matches edges that do not carry the property.
// Returns the number of edges removed (0 or 1).
func (tx *Tx) DeleteEdge(edgeType string, from, to NodeKey, props map[string]interface{}) (int, error) {
	if tx.done {
		return 0, ErrTxDone
	}
	ids, err := tx.v.adjacent(outPrefix, from)
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		e, err := tx.v.edge(id)
		if err != nil {
			return 0, err
		}
		if e.Type != edgeType || e.To != to || !propsMatch(e.Props, props) {
			continue
		}
		if err := tx.removeEdge(e); err != nil {
			return 0, err
		}
		return 1, nil
	}
	return 0, nil
}

// Commit publishes the changes and releases the writer
func (tx *Tx) Commit() error {
	if tx.done {
		return ErrTxDone
	}
	tx.done = true
	defer tx.g.writer.Unlock()
	if err := tx.txn.Commit(); err != nil {
		return fmt.Errorf("failed to commit graph transaction: %w", err)
	}
	return nil
}

// Rollback discards every change made in the transaction and releases the writer.
// Calling Rollback after Commit is a no-op returning ErrTxDone.
func (tx *Tx) Rollback() error {
	if tx.done {
		return ErrTxDone
	}
	tx.done = true
	tx.txn.Discard()
	tx.g.writer.Unlock()
	return nil
}

func (tx *Tx) removeEdge(e *Edge) error {
	for _, k := range [][]byte{
		edgeKey(e.ID),
		adjacencyKey(outPrefix, e.From, e.ID),
		adjacencyKey(inPrefix, e.To, e.ID),
	} {
		if err := tx.txn.Delete(k); err != nil {
			return fmt.Errorf("failed to delete %s edge: %w", e.Type, err)
		}
	}
	return nil
}

func copyProps(props map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(props)+1)
	for k, v := range props {
		if v == nil {
			continue
		}
		out[k] = v
	}
	return out
}

func propsMatch(have, want map[string]interface{}) bool {
	for k, w := range want {
		h, ok := have[k]
		if w == nil {
			if ok {
				return false
			}
			continue
		}
		if !ok || !valuesEqual(h, w) {
			return false
		}
	}
	return true
}

// valuesEqual compares numbers by value; stored numbers decode as float64
func valuesEqual(a, b interface{}) bool {
	fa, aNum := toFloat(a)
	fb, bNum := toFloat(b)
	if aNum || bNum {
		return aNum && bNum && fa == fb
	}
	return a == b
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
