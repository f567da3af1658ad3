package postgres

import (
	"context"
	"errors"
	"strconv"
	"testing"

	"github.com/asakaida/provgraph/internal/entities"
	"github.com/asakaida/provgraph/internal/repositories"
	"github.com/asakaida/provgraph/internal/services/lineage"
)

func intPtr(v int) *int { return &v }

// pipeline is input1.txt -> process1 -> intermediate.txt -> process2 -> output.txt
func pipeline() *entities.FactBatch {
	return &entities.FactBatch{
		Entities: []*entities.Entity{
			{ID: "input1.txt", Metadata: entities.ObjectMetadata(map[string]entities.Metadata{
				"size": entities.NumberMetadata("1024"),
			})},
			{ID: "intermediate.txt"},
			{ID: "output.txt", Label: "Report"},
		},
		Activities: []*entities.Activity{{ID: "process1"}, {ID: "process2", Label: "Aggregate"}},
		Agents:     []*entities.Agent{{ID: "alice"}},
		Used: []*entities.Used{
			{ActivityID: "process1", EntityID: "input1.txt", Role: "source"},
			{ActivityID: "process2", EntityID: "intermediate.txt"},
		},
		WasGeneratedBy: []*entities.WasGeneratedBy{
			{EntityID: "intermediate.txt", ActivityID: "process1"},
			{EntityID: "output.txt", ActivityID: "process2"},
		},
		WasAttributedTo:   []*entities.WasAttributedTo{{EntityID: "output.txt", AgentID: "alice"}},
		WasAssociatedWith: []*entities.WasAssociatedWith{{ActivityID: "process2", AgentID: "alice", Role: "operator"}},
		WasInformedBy:     []*entities.WasInformedBy{{InformedID: "process2", InformerID: "process1"}},
	}
}

func TestProvenanceRepository_WriteFacts(t *testing.T) {
	db := SetupTestDB(t)
	defer CleanupTestDB(t, db)

	repo := NewPostgresProvenanceRepository(db)
	ctx := context.Background()

	t.Run("write pipeline", func(t *testing.T) {
		before, err := repo.ChangeToken(ctx)
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}

		token, err := repo.WriteFacts(ctx, pipeline())
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if token == before {
			t.Errorf("Expected change token to advance from %s", before)
		}

		after, err := repo.ChangeToken(ctx)
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if after != token {
			t.Errorf("Expected committed token %s, got %s", token, after)
		}

		counts, err := repo.CountRows(ctx)
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		want := repositories.SourceCounts{
			repositories.SourceEntities:          3,
			repositories.SourceActivities:        2,
			repositories.SourceAgents:            1,
			repositories.SourceWasGeneratedBy:    2,
			repositories.SourceUsed:              2,
			repositories.SourceWasAttributedTo:   1,
			repositories.SourceWasAssociatedWith: 1,
			repositories.SourceWasInformedBy:     1,
		}
		for source, n := range want {
			if counts[source] != n {
				t.Errorf("Expected %d rows in %s, got %d", n, source, counts[source])
			}
		}
	})

	t.Run("rewriting nodes and unique relations is a no-op", func(t *testing.T) {
		b := pipeline()
		b.Used = nil
		b.WasAssociatedWith = nil
		if _, err := repo.WriteFacts(ctx, b); err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		counts, err := repo.CountRows(ctx)
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if counts[repositories.SourceEntities] != 3 || counts[repositories.SourceWasGeneratedBy] != 2 {
			t.Errorf("Expected unchanged counts, got %v", counts)
		}
	})

	t.Run("entity and activity metadata round trip", func(t *testing.T) {
		e, err := repo.GetEntity(ctx, "input1.txt")
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		size, ok := e.Metadata.Field("size")
		if !ok {
			t.Fatalf("Expected size metadata, got %v", e.Metadata)
		}
		if n, _ := size.Number(); n.String() != "1024" {
			t.Errorf("Expected size 1024, got %s", n)
		}

		a, err := repo.GetActivity(ctx, "process2")
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if a.Label != "Aggregate" {
			t.Errorf("Expected label Aggregate, got %q", a.Label)
		}
	})

	t.Run("missing entity", func(t *testing.T) {
		_, err := repo.GetEntity(ctx, "nope")
		if !errors.Is(err, repositories.ErrNotFound) {
			t.Errorf("Expected ErrNotFound, got: %v", err)
		}
	})

	t.Run("relation to a missing node rolls back the batch", func(t *testing.T) {
		b := &entities.FactBatch{
			Entities: []*entities.Entity{{ID: "orphan.txt"}},
			WasGeneratedBy: []*entities.WasGeneratedBy{
				{EntityID: "orphan.txt", ActivityID: "ghost"},
			},
		}
		_, err := repo.WriteFacts(ctx, b)
		if !errors.Is(err, repositories.ErrReferentialIntegrity) {
			t.Fatalf("Expected ErrReferentialIntegrity, got: %v", err)
		}
		if _, err := repo.GetEntity(ctx, "orphan.txt"); !errors.Is(err, repositories.ErrNotFound) {
			t.Errorf("Expected orphan.txt to be rolled back, got: %v", err)
		}
	})
}

func TestProvenanceRepository_DeleteFacts(t *testing.T) {
	db := SetupTestDB(t)
	defer CleanupTestDB(t, db)

	repo := NewPostgresProvenanceRepository(db)
	ctx := context.Background()

	if _, err := repo.WriteFacts(ctx, pipeline()); err != nil {
		t.Fatalf("Failed to seed: %v", err)
	}

	t.Run("role must match", func(t *testing.T) {
		b := &entities.FactBatch{Used: []*entities.Used{{ActivityID: "process1", EntityID: "input1.txt"}}}
		if _, err := repo.DeleteFacts(ctx, b); err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		counts, _ := repo.CountRows(ctx)
		if counts[repositories.SourceUsed] != 2 {
			t.Errorf("Expected role-less delete to keep the source row, got %d used rows", counts[repositories.SourceUsed])
		}

		b.Used[0].Role = "source"
		if _, err := repo.DeleteFacts(ctx, b); err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		counts, _ = repo.CountRows(ctx)
		if counts[repositories.SourceUsed] != 1 {
			t.Errorf("Expected 1 used row, got %d", counts[repositories.SourceUsed])
		}
	})

	t.Run("deleting an activity cascades", func(t *testing.T) {
		b := &entities.FactBatch{Activities: []*entities.Activity{{ID: "process2"}}}
		if _, err := repo.DeleteFacts(ctx, b); err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		counts, _ := repo.CountRows(ctx)
		for _, source := range []string{
			repositories.SourceUsed,
			repositories.SourceWasAssociatedWith,
			repositories.SourceWasInformedBy,
		} {
			if counts[source] != 0 {
				t.Errorf("Expected %s to be empty, got %d", source, counts[source])
			}
		}
		if counts[repositories.SourceWasGeneratedBy] != 1 {
			t.Errorf("Expected 1 wasGeneratedBy row, got %d", counts[repositories.SourceWasGeneratedBy])
		}
	})
}

func TestTraversalRepository_MatchesEngine(t *testing.T) {
	db := SetupTestDB(t)
	defer CleanupTestDB(t, db)

	ctx := context.Background()
	if _, err := NewPostgresProvenanceRepository(db).WriteFacts(ctx, pipeline()); err != nil {
		t.Fatalf("Failed to seed: %v", err)
	}

	sqlRepo := NewPostgresTraversalRepository(db)
	engine := lineage.NewEngine(NewPostgresGraphReader(db))

	type call func(r repositories.TraversalRepository, depth *int) ([]*entities.TraversalRow, error)
	calls := map[string]call{
		"lineage of output.txt": func(r repositories.TraversalRepository, depth *int) ([]*entities.TraversalRow, error) {
			return r.GetEntityLineage(ctx, "output.txt", depth, true)
		},
		"descendants of input1.txt": func(r repositories.TraversalRepository, depth *int) ([]*entities.TraversalRow, error) {
			return r.GetEntityDescendants(ctx, "input1.txt", depth, true)
		},
		"common ancestors": func(r repositories.TraversalRepository, depth *int) ([]*entities.TraversalRow, error) {
			return r.GetCommonAncestors(ctx, "output.txt", "intermediate.txt", depth, false)
		},
	}

	for name, fn := range calls {
		for _, depth := range []*int{nil, intPtr(0), intPtr(1), intPtr(3)} {
			label := "unbounded"
			if depth != nil {
				label = "depth " + strconv.Itoa(*depth)
			}
			t.Run(name+" "+label, func(t *testing.T) {
				want, err := fn(engine, depth)
				if err != nil {
					t.Fatalf("Engine failed: %v", err)
				}
				got, err := fn(sqlRepo, depth)
				if err != nil {
					t.Fatalf("SQL traversal failed: %v", err)
				}
				if len(got) != len(want) {
					t.Fatalf("Expected %d rows, got %d", len(want), len(got))
				}
				for i := range want {
					if describe(got[i]) != describe(want[i]) {
						t.Errorf("Row %d: expected %s, got %s", i, describe(want[i]), describe(got[i]))
					}
					if !got[i].Metadata.Equal(want[i].Metadata) {
						t.Errorf("Row %d: metadata differs", i)
					}
				}
			})
		}
	}
}

func describe(r *entities.TraversalRow) string {
	s := strconv.Itoa(r.Depth) + " " + r.Ref().Key()
	if r.NodeLabel != nil {
		s += " [" + *r.NodeLabel + "]"
	}
	if r.HasEdge() {
		s += " " + *r.EdgeFrom + " -" + string(*r.RelationshipType) + "-> " + *r.EdgeTo
	}
	if r.Role != nil {
		s += " as " + *r.Role
	}
	return s
}
