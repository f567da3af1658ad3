package memgraph

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/dgraph-io/badger/v4"
)

// Key layout:
//
//	n <node>          -> node properties (JSON)
//	e <edge id>       -> edgeRecord (JSON)
//	o <node> <edge id> -> outgoing index
//	i <node> <edge id> -> incoming index
//
// <node> is the label and id, each length prefixed; edge ids are big endian so
// index scans return edges in creation order.
const (
	nodePrefix byte = 'n'
	edgePrefix byte = 'e'
	outPrefix  byte = 'o'
	inPrefix   byte = 'i'
)

type edgeRecord struct {
	Type  string                 `json:"type"`
	From  NodeKey                `json:"from"`
	To    NodeKey                `json:"to"`
	Props map[string]interface{} `json:"props,omitempty"`
}

func appendNode(b []byte, k NodeKey) []byte {
	b = binary.AppendUvarint(b, uint64(len(k.Label)))
	b = append(b, k.Label...)
	b = binary.AppendUvarint(b, uint64(len(k.ID)))
	return append(b, k.ID...)
}

func nodeKey(k NodeKey) []byte {
	return appendNode([]byte{nodePrefix}, k)
}

func edgeKey(id int64) []byte {
	return binary.BigEndian.AppendUint64([]byte{edgePrefix}, uint64(id))
}

func adjacencyPrefix(dir byte, k NodeKey) []byte {
	return appendNode([]byte{dir}, k)
}

func adjacencyKey(dir byte, k NodeKey, id int64) []byte {
	return binary.BigEndian.AppendUint64(adjacencyPrefix(dir, k), uint64(id))
}

func decodeNode(b []byte) (NodeKey, error) {
	var k NodeKey
	label, rest, err := readString(b)
	if err != nil {
		return k, err
	}
	id, rest, err := readString(rest)
	if err != nil {
		return k, err
	}
	if len(rest) != 0 {
		return k, fmt.Errorf("memgraph: trailing bytes in node key")
	}
	return NodeKey{Label: label, ID: id}, nil
}

func readString(b []byte) (string, []byte, error) {
	n, size := binary.Uvarint(b)
	if size <= 0 || uint64(len(b)-size) < n {
		return "", nil, fmt.Errorf("memgraph: corrupt key")
	}
	end := size + int(n)
	return string(b[size:end]), b[end:], nil
}

// view reads graph state through a Badger transaction. In a write transaction
// it also sees that transaction's pending writes.
type view struct {
	txn *badger.Txn
}

func (v view) hasNode(k NodeKey) (bool, error) {
	_, err := v.txn.Get(nodeKey(k))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read node %s: %w", k, err)
	}
	return true, nil
}

// node returns nil when the node does not exist
func (v view) node(k NodeKey) (*Node, error) {
	item, err := v.txn.Get(nodeKey(k))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read node %s: %w", k, err)
	}
	n := &Node{Key: k}
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &n.Props)
	}); err != nil {
		return nil, fmt.Errorf("failed to decode node %s: %w", k, err)
	}
	return n, nil
}

func (v view) edge(id int64) (*Edge, error) {
	item, err := v.txn.Get(edgeKey(id))
	if err != nil {
		return nil, fmt.Errorf("failed to read edge %d: %w", id, err)
	}
	var rec edgeRecord
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &rec)
	}); err != nil {
		return nil, fmt.Errorf("failed to decode edge %d: %w", id, err)
	}
	return &Edge{ID: id, Type: rec.Type, From: rec.From, To: rec.To, Props: copyProps(rec.Props)}, nil
}

// adjacent returns the ids of edges leaving (outPrefix) or entering (inPrefix) k, ascending
func (v view) adjacent(dir byte, k NodeKey) ([]int64, error) {
	prefix := adjacencyPrefix(dir, k)
	var ids []int64
	err := v.scan(prefix, func(item *badger.Item) error {
		key := item.Key()
		if len(key) != len(prefix)+8 {
			return fmt.Errorf("memgraph: corrupt adjacency key for %s", k)
		}
		ids = append(ids, int64(binary.BigEndian.Uint64(key[len(prefix):])))
		return nil
	})
	return ids, err
}

// incident returns the ids of all edges touching k, self loops once
func (v view) incident(k NodeKey) ([]int64, error) {
	out, err := v.adjacent(outPrefix, k)
	if err != nil {
		return nil, err
	}
	in, err := v.adjacent(inPrefix, k)
	if err != nil {
		return nil, err
	}
	seen := make(map[int64]struct{}, len(out)+len(in))
	ids := make([]int64, 0, len(out)+len(in))
	for _, id := range append(out, in...) {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// nodeKeys returns every node, ordered by label then id
func (v view) nodeKeys() ([]NodeKey, error) {
	var keys []NodeKey
	err := v.scan([]byte{nodePrefix}, func(item *badger.Item) error {
		k, err := decodeNode(item.Key()[1:])
		if err != nil {
			return err
		}
		keys = append(keys, k)
		return nil
	})
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Label != keys[j].Label {
			return keys[i].Label < keys[j].Label
		}
		return keys[i].ID < keys[j].ID
	})
	return keys, err
}

func (v view) edges() ([]*Edge, error) {
	var ids []int64
	if err := v.scan([]byte{edgePrefix}, func(item *badger.Item) error {
		ids = append(ids, int64(binary.BigEndian.Uint64(item.Key()[1:])))
		return nil
	}); err != nil {
		return nil, err
	}
	out := make([]*Edge, 0, len(ids))
	for _, id := range ids {
		e, err := v.edge(id)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// scan visits every key under prefix. The iterator must be closed before the
// transaction commits or is discarded, so it never outlives scan.
func (v view) scan(prefix []byte, fn func(*badger.Item) error) error {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	it := v.txn.NewIterator(opts)
	defer it.Close()
	for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
		if err := fn(it.Item()); err != nil {
			return err
		}
	}
	return nil
}
