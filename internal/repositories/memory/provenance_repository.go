package memory

import (
	"context"
	"fmt"

	"github.com/asakaida/provgraph/internal/entities"
	"github.com/asakaida/provgraph/internal/repositories"
	"github.com/asakaida/provgraph/internal/services/graphsync"
)

// WriteFacts inserts the batch atomically: nodes first, then relations
func (s *Store) WriteFacts(ctx context.Context, batch *entities.FactBatch) (string, error) {
	if err := batch.Validate(); err != nil {
		return "", fmt.Errorf("invalid fact batch: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batch = batch.StampCreated(s.now())
	u := s.begin()
	if err := u.write(batch); err != nil {
		u.rollback()
		return "", err
	}
	if err := u.commit(); err != nil {
		u.rollback()
		return "", err
	}
	return s.token(), nil
}

// DeleteFacts removes the batch atomically: relations first, then nodes with their relations
func (s *Store) DeleteFacts(ctx context.Context, batch *entities.FactBatch) (string, error) {
	if err := batch.Validate(); err != nil {
		return "", fmt.Errorf("invalid fact batch: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.begin()
	if err := u.delete(batch); err != nil {
		u.rollback()
		return "", err
	}
	if err := u.commit(); err != nil {
		u.rollback()
		return "", err
	}
	return s.token(), nil
}

// GetEntity retrieves an entity by ID
func (s *Store) GetEntity(ctx context.Context, id string) (*entities.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entities[id]
	if !ok {
		return nil, fmt.Errorf("entity %s: %w", id, repositories.ErrNotFound)
	}
	cp := *e
	return &cp, nil
}

// GetActivity retrieves an activity by ID
func (s *Store) GetActivity(ctx context.Context, id string) (*entities.Activity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.activities[id]
	if !ok {
		return nil, fmt.Errorf("activity %s: %w", id, repositories.ErrNotFound)
	}
	cp := *a
	return &cp, nil
}

// CountRows returns the number of rows per relational source
func (s *Store) CountRows(ctx context.Context) (repositories.SourceCounts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := repositories.SourceCounts{
		repositories.SourceEntities:   int64(len(s.entities)),
		repositories.SourceActivities: int64(len(s.activities)),
		repositories.SourceAgents:     int64(len(s.agents)),
	}
	for table, t := range s.relations {
		counts[table] = int64(len(t.rows))
	}
	return counts, nil
}

func (u *unitOfWork) write(b *entities.FactBatch) error {
	for _, e := range b.Entities {
		if err := u.insertEntity(e); err != nil {
			return err
		}
	}
	for _, a := range b.Activities {
		if err := u.insertActivity(a); err != nil {
			return err
		}
	}
	for _, a := range b.Agents {
		if err := u.insertAgent(a); err != nil {
			return err
		}
	}
	for _, r := range b.WasGeneratedBy {
		if err := u.insertRelation(repositories.SourceWasGeneratedBy, r.EntityID, r.ActivityID, ""); err != nil {
			return err
		}
	}
	for _, r := range b.Used {
		if err := u.insertRelation(repositories.SourceUsed, r.ActivityID, r.EntityID, r.Role); err != nil {
			return err
		}
	}
	for _, r := range b.WasAttributedTo {
		if err := u.insertRelation(repositories.SourceWasAttributedTo, r.EntityID, r.AgentID, ""); err != nil {
			return err
		}
	}
	for _, r := range b.WasAssociatedWith {
		if err := u.insertRelation(repositories.SourceWasAssociatedWith, r.ActivityID, r.AgentID, r.Role); err != nil {
			return err
		}
	}
	for _, r := range b.WasInformedBy {
		if err := u.insertRelation(repositories.SourceWasInformedBy, r.InformedID, r.InformerID, ""); err != nil {
			return err
		}
	}
	return nil
}

func (u *unitOfWork) delete(b *entities.FactBatch) error {
	for _, r := range b.WasInformedBy {
		if err := u.deleteRelation(repositories.SourceWasInformedBy, r.InformedID, r.InformerID, ""); err != nil {
			return err
		}
	}
	for _, r := range b.WasAssociatedWith {
		if err := u.deleteRelation(repositories.SourceWasAssociatedWith, r.ActivityID, r.AgentID, r.Role); err != nil {
			return err
		}
	}
	for _, r := range b.WasAttributedTo {
		if err := u.deleteRelation(repositories.SourceWasAttributedTo, r.EntityID, r.AgentID, ""); err != nil {
			return err
		}
	}
	for _, r := range b.Used {
		if err := u.deleteRelation(repositories.SourceUsed, r.ActivityID, r.EntityID, r.Role); err != nil {
			return err
		}
	}
	for _, r := range b.WasGeneratedBy {
		if err := u.deleteRelation(repositories.SourceWasGeneratedBy, r.EntityID, r.ActivityID, ""); err != nil {
			return err
		}
	}
	for _, a := range b.Agents {
		if err := u.deleteNode(repositories.SourceAgents, a.ID); err != nil {
			return err
		}
	}
	for _, a := range b.Activities {
		if err := u.deleteNode(repositories.SourceActivities, a.ID); err != nil {
			return err
		}
	}
	for _, e := range b.Entities {
		if err := u.deleteNode(repositories.SourceEntities, e.ID); err != nil {
			return err
		}
	}
	return nil
}

func (u *unitOfWork) project(table string, row graphsync.Row, insert bool) error {
	src, ok := graphsync.SourceByTable(table)
	if !ok {
		return fmt.Errorf("unknown source %s", table)
	}
	if insert {
		return u.s.projector.Insert(u.writer(), src, row)
	}
	return u.s.projector.Delete(u.writer(), src, row)
}

func (u *unitOfWork) insertEntity(e *entities.Entity) error {
	s := u.s
	if _, exists := s.entities[e.ID]; exists {
		return nil
	}
	cp := *e
	s.entities[e.ID] = &cp
	u.undo = append(u.undo, func() { delete(s.entities, e.ID) })
	u.changed = true
	return u.project(repositories.SourceEntities, graphsync.Row{"id": e.ID}, true)
}

func (u *unitOfWork) insertActivity(a *entities.Activity) error {
	s := u.s
	if _, exists := s.activities[a.ID]; exists {
		return nil
	}
	cp := *a
	s.activities[a.ID] = &cp
	u.undo = append(u.undo, func() { delete(s.activities, a.ID) })
	u.changed = true
	return u.project(repositories.SourceActivities, graphsync.Row{"id": a.ID}, true)
}

func (u *unitOfWork) insertAgent(a *entities.Agent) error {
	s := u.s
	if _, exists := s.agents[a.ID]; exists {
		return nil
	}
	cp := *a
	s.agents[a.ID] = &cp
	u.undo = append(u.undo, func() { delete(s.agents, a.ID) })
	u.changed = true
	return u.project(repositories.SourceAgents, graphsync.Row{"id": a.ID}, true)
}

func (s *Store) nodeExists(label, id string) bool {
	switch label {
	case "Entity":
		_, ok := s.entities[id]
		return ok
	case "Activity":
		_, ok := s.activities[id]
		return ok
	case "Agent":
		_, ok := s.agents[id]
		return ok
	}
	return false
}

func (u *unitOfWork) insertRelation(table, from, to, role string) error {
	s := u.s
	t := s.relations[table]
	if !s.nodeExists(t.src.From.Label, from) {
		return fmt.Errorf("%w: %s references missing %s %q", repositories.ErrReferentialIntegrity,
			table, t.src.From.Label, from)
	}
	if !s.nodeExists(t.src.To.Label, to) {
		return fmt.Errorf("%w: %s references missing %s %q", repositories.ErrReferentialIntegrity,
			table, t.src.To.Label, to)
	}
	if t.unique {
		for _, r := range t.sorted(t.byFrom, from) {
			if r.to == to {
				return nil
			}
		}
	}

	s.seq++
	row := &relRow{seq: s.seq, from: from, to: to, role: role}
	t.add(row)
	u.undo = append(u.undo, func() { t.remove(row) })
	u.changed = true
	return u.project(table, relationRow(t.src, row), true)
}

// deleteRelation removes every row matching the pair and role, like a SQL DELETE
func (u *unitOfWork) deleteRelation(table, from, to, role string) error {
	t := u.s.relations[table]
	for _, r := range t.sorted(t.byFrom, from) {
		if r.to != to || r.role != role {
			continue
		}
		if err := u.removeRelationRow(t, r); err != nil {
			return err
		}
	}
	return nil
}

func (u *unitOfWork) removeRelationRow(t *relTable, r *relRow) error {
	t.remove(r)
	u.undo = append(u.undo, func() { t.add(r) })
	u.changed = true
	return u.project(t.src.Table, relationRow(t.src, r), false)
}

// deleteNode removes a node row; relations referencing it are removed first, as ON DELETE CASCADE would
func (u *unitOfWork) deleteNode(table, id string) error {
	s := u.s
	src, _ := graphsync.SourceByTable(table)
	if !s.nodeExists(src.Label, id) {
		return nil
	}

	for _, rs := range graphsync.Sources {
		if rs.Kind != graphsync.EdgeSource {
			continue
		}
		t := s.relations[rs.Table]
		if rs.From.Label == src.Label {
			for _, r := range t.sorted(t.byFrom, id) {
				if err := u.removeRelationRow(t, r); err != nil {
					return err
				}
			}
		}
		if rs.To.Label == src.Label {
			for _, r := range t.sorted(t.byTo, id) {
				if err := u.removeRelationRow(t, r); err != nil {
					return err
				}
			}
		}
	}

	switch table {
	case repositories.SourceEntities:
		old := s.entities[id]
		delete(s.entities, id)
		u.undo = append(u.undo, func() { s.entities[id] = old })
	case repositories.SourceActivities:
		old := s.activities[id]
		delete(s.activities, id)
		u.undo = append(u.undo, func() { s.activities[id] = old })
	case repositories.SourceAgents:
		old := s.agents[id]
		delete(s.agents, id)
		u.undo = append(u.undo, func() { s.agents[id] = old })
	}
	u.changed = true
	return u.project(table, graphsync.Row{"id": id}, false)
}

func relationRow(src graphsync.Source, r *relRow) graphsync.Row {
	row := graphsync.Row{src.From.Column: r.from, src.To.Column: r.to}
	if src.RoleColumn != "" && r.role != "" {
		row[src.RoleColumn] = r.role
	}
	return row
}
