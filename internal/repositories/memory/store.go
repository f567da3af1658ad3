// Package memory is an in-process provenance store. Relational rows and the graph
// mirror are updated in one unit of work, so a failed projection leaves both untouched.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/asakaida/provgraph/internal/entities"
	"github.com/asakaida/provgraph/internal/repositories"
	"github.com/asakaida/provgraph/internal/services/graphsync"
	"github.com/asakaida/provgraph/pkg/memgraph"
)

type relRow struct {
	seq  int64
	from string
	to   string
	role string // empty means NULL
}

type relTable struct {
	src    graphsync.Source
	unique bool
	rows   map[int64]*relRow
	byFrom map[string]map[int64]struct{}
	byTo   map[string]map[int64]struct{}
}

func newRelTable(src graphsync.Source, unique bool) *relTable {
	return &relTable{
		src:    src,
		unique: unique,
		rows:   make(map[int64]*relRow),
		byFrom: make(map[string]map[int64]struct{}),
		byTo:   make(map[string]map[int64]struct{}),
	}
}

func (t *relTable) add(r *relRow) {
	t.rows[r.seq] = r
	if t.byFrom[r.from] == nil {
		t.byFrom[r.from] = make(map[int64]struct{})
	}
	if t.byTo[r.to] == nil {
		t.byTo[r.to] = make(map[int64]struct{})
	}
	t.byFrom[r.from][r.seq] = struct{}{}
	t.byTo[r.to][r.seq] = struct{}{}
}

func (t *relTable) remove(r *relRow) {
	delete(t.rows, r.seq)
	delete(t.byFrom[r.from], r.seq)
	delete(t.byTo[r.to], r.seq)
	if len(t.byFrom[r.from]) == 0 {
		delete(t.byFrom, r.from)
	}
	if len(t.byTo[r.to]) == 0 {
		delete(t.byTo, r.to)
	}
}

// sorted returns the rows indexed under key in insertion order
func (t *relTable) sorted(index map[string]map[int64]struct{}, key string) []*relRow {
	set := index[key]
	out := make([]*relRow, 0, len(set))
	for seq := range set {
		out = append(out, t.rows[seq])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// Store implements ProvenanceRepository, GraphReader, GraphExecutor and ChangeTokenProvider in memory
type Store struct {
	mu sync.RWMutex

	entities   map[string]*entities.Entity
	activities map[string]*entities.Activity
	agents     map[string]*entities.Agent
	relations  map[string]*relTable

	mirror    *memgraph.Graph
	projector graphsync.Projector

	seq     int64
	version int64
	now     func() time.Time
}

// NewStore creates an empty store with its own in-memory graph mirror
func NewStore() (*Store, error) {
	mirror, err := memgraph.New()
	if err != nil {
		return nil, fmt.Errorf("failed to open graph mirror: %w", err)
	}
	s := &Store{
		entities:   make(map[string]*entities.Entity),
		activities: make(map[string]*entities.Activity),
		agents:     make(map[string]*entities.Agent),
		relations:  make(map[string]*relTable),
		mirror:     mirror,
		now:        time.Now,
	}
	for _, src := range graphsync.Sources {
		if src.Kind != graphsync.EdgeSource {
			continue
		}
		// used and was_associated_with may repeat the same pair
		unique := src.RoleColumn == ""
		s.relations[src.Table] = newRelTable(src, unique)
	}
	return s, nil
}

// Close releases the graph mirror
func (s *Store) Close() error {
	return s.mirror.Close()
}

// Mirror returns the graph mirror
func (s *Store) Mirror() *memgraph.Graph {
	return s.mirror
}

// ChangeToken returns a token that changes on every committed write
func (s *Store) ChangeToken(ctx context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token(), nil
}

func (s *Store) token() string {
	return strconv.FormatInt(s.version, 10)
}

// unitOfWork records undo actions for relational changes and owns the mirror transaction
type unitOfWork struct {
	s       *Store
	mirror  *memgraph.Tx
	undo    []func()
	changed bool
}

func (s *Store) begin() *unitOfWork {
	return &unitOfWork{s: s, mirror: s.mirror.Begin()}
}

func (u *unitOfWork) rollback() {
	for i := len(u.undo) - 1; i >= 0; i-- {
		u.undo[i]()
	}
	u.undo = nil
	_ = u.mirror.Rollback()
}

func (u *unitOfWork) commit() error {
	if err := u.mirror.Commit(); err != nil {
		return fmt.Errorf("failed to commit graph mirror: %w", err)
	}
	if u.changed {
		u.s.version++
	}
	return nil
}

func (u *unitOfWork) writer() graphsync.MirrorWriter {
	return mirrorTx{tx: u.mirror}
}

// mirrorTx adapts a memgraph transaction to graphsync.MirrorWriter
type mirrorTx struct {
	tx *memgraph.Tx
}

func (m mirrorTx) MergeNode(label, id string) error {
	_, err := m.tx.MergeNode(label, id, nil)
	return err
}

func (m mirrorTx) DetachDeleteNode(label, id string) error {
	_, err := m.tx.DetachDeleteNode(label, id)
	return err
}

func (m mirrorTx) CreateEdge(edgeType, fromLabel, fromID, toLabel, toID string, props map[string]interface{}) (int, error) {
	return m.tx.CreateEdge(edgeType, memgraph.NodeKey{Label: fromLabel, ID: fromID}, memgraph.NodeKey{Label: toLabel, ID: toID}, props)
}

func (m mirrorTx) DeleteEdge(edgeType, fromLabel, fromID, toLabel, toID string, props map[string]interface{}) (int, error) {
	return m.tx.DeleteEdge(edgeType, memgraph.NodeKey{Label: fromLabel, ID: fromID}, memgraph.NodeKey{Label: toLabel, ID: toID}, props)
}

var (
	_ repositories.ProvenanceRepository = (*Store)(nil)
	_ repositories.GraphReader          = (*Store)(nil)
	_ repositories.GraphExecutor        = (*Store)(nil)
	_ repositories.ChangeTokenProvider  = (*Store)(nil)
)
