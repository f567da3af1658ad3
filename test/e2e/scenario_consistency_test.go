package e2e

import (
	"context"
	"testing"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/asakaida/provgraph/internal/entities"
	"github.com/asakaida/provgraph/internal/services"
	"github.com/asakaida/provgraph/internal/services/lineage"
)

type mirrorReport struct {
	Consistent bool `json:"consistent"`
	Sources    []struct {
		Source     string `json:"source"`
		Relational int64  `json:"relational"`
		Mirror     int64  `json:"mirror"`
	} `json:"sources"`
	Missing []string `json:"missing"`
}

func verifyMirror(t *testing.T, ctx context.Context, testServer *E2ETestServer) mirrorReport {
	t.Helper()
	var report mirrorReport
	if err := testServer.Client.VerifyMirror(ctx, &report); err != nil {
		t.Fatalf("VerifyMirror failed: %v", err)
	}
	if !report.Consistent {
		t.Errorf("mirror drifted from relational rows: %+v", report.Sources)
	}
	return report
}

// TestScenario_MirrorConsistency writes, re-writes and deletes facts and checks the mirror after each step
func TestScenario_MirrorConsistency(t *testing.T) {
	testServer := SetupE2ETest(t)
	defer testServer.Teardown(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	c := testServer.Client

	t.Log("Step 1: Initial write")
	first, err := c.WriteFacts(ctx, pipelineBatch())
	if err != nil {
		t.Fatalf("WriteFacts failed: %v", err)
	}
	verifyMirror(t, ctx, testServer)

	var facts mirrorReport
	if err := c.VerifyFacts(ctx, pipelineBatch(), &facts); err != nil {
		t.Fatalf("VerifyFacts failed: %v", err)
	}
	if !facts.Consistent || len(facts.Missing) != 0 {
		t.Errorf("expected every written fact in the mirror, missing %v", facts.Missing)
	}

	t.Log("Step 2: Re-writing the same facts is idempotent for nodes and unique relations")
	if _, err := c.WriteFacts(ctx, &entities.FactBatch{
		Entities:       []*entities.Entity{{ID: "output.txt"}},
		WasGeneratedBy: []*entities.WasGeneratedBy{{EntityID: "output.txt", ActivityID: "process2"}},
	}); err != nil {
		t.Fatalf("WriteFacts failed: %v", err)
	}
	report := verifyMirror(t, ctx, testServer)
	for _, s := range report.Sources {
		if s.Source == "was_generated_by" && s.Relational != 2 {
			t.Errorf("expected 2 wasGeneratedBy rows, got %d", s.Relational)
		}
	}

	t.Log("Step 3: A relation to a missing node fails the whole batch")
	_, err = c.WriteFacts(ctx, &entities.FactBatch{
		Entities: []*entities.Entity{{ID: "orphan-candidate"}},
		Used:     []*entities.Used{{ActivityID: "no-such-process", EntityID: "orphan-candidate"}},
	})
	if status.Code(err) != codes.FailedPrecondition {
		t.Fatalf("expected FailedPrecondition, got %v", err)
	}
	if _, err := testServer.Store.GetEntity(ctx, "orphan-candidate"); err == nil {
		t.Error("expected the entity of the failed batch to be rolled back")
	}
	verifyMirror(t, ctx, testServer)

	t.Log("Step 4: Deleting an activity cascades to its relations")
	last, err := c.DeleteFacts(ctx, &entities.FactBatch{Activities: []*entities.Activity{{ID: "process2"}}})
	if err != nil {
		t.Fatalf("DeleteFacts failed: %v", err)
	}
	if last == first {
		t.Error("expected the change token to move after delete")
	}
	verifyMirror(t, ctx, testServer)

	facts = mirrorReport{}
	if err := c.VerifyFacts(ctx, &entities.FactBatch{Activities: []*entities.Activity{{ID: "process2"}}}, &facts); err != nil {
		t.Fatalf("VerifyFacts failed: %v", err)
	}
	if facts.Consistent || len(facts.Missing) != 1 {
		t.Errorf("expected the deleted activity to be reported, got %v", facts.Missing)
	}

	var g services.LineageGraph
	if err := c.GetEntityLineage(ctx, services.LineageRequest{EntityID: "output.txt"}, &g); err != nil {
		t.Fatalf("GetEntityLineage failed: %v", err)
	}
	if len(g.Nodes) != 1 {
		t.Errorf("expected output.txt to have no lineage after delete, got %v", nodeIDs(g.Nodes))
	}
}

// TestScenario_CacheFollowsWrites checks that cached traversals are never served across a write
func TestScenario_CacheFollowsWrites(t *testing.T) {
	testServer := SetupE2ETest(t)
	defer testServer.Teardown(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	c := testServer.Client

	if _, err := c.WriteFacts(ctx, pipelineBatch()); err != nil {
		t.Fatalf("WriteFacts failed: %v", err)
	}

	req := services.LineageRequest{EntityID: "output.txt", IncludeMetadata: true}
	var before, again services.LineageGraph
	if err := c.GetEntityLineage(ctx, req, &before); err != nil {
		t.Fatalf("GetEntityLineage failed: %v", err)
	}
	if err := c.GetEntityLineage(ctx, req, &again); err != nil {
		t.Fatalf("GetEntityLineage failed: %v", err)
	}
	if hits := testServer.Collector.GetCacheMetrics().Hits; hits != 1 {
		t.Errorf("expected 1 cache hit, got %d", hits)
	}

	if _, err := c.WriteFacts(ctx, &entities.FactBatch{
		Entities: []*entities.Entity{{ID: "input2.txt", Metadata: entities.StringMetadata("late")}},
		Used:     []*entities.Used{{ActivityID: "process1", EntityID: "input2.txt"}},
	}); err != nil {
		t.Fatalf("WriteFacts failed: %v", err)
	}

	var after services.LineageGraph
	if err := c.GetEntityLineage(ctx, req, &after); err != nil {
		t.Fatalf("GetEntityLineage failed: %v", err)
	}
	if len(after.Nodes) != len(before.Nodes)+1 {
		t.Fatalf("expected %d nodes after write, got %v", len(before.Nodes)+1, nodeIDs(after.Nodes))
	}
	for _, n := range after.Nodes {
		if n.ID == "input2.txt" && !n.Metadata.Equal(entities.StringMetadata("late")) {
			t.Errorf("expected metadata on input2.txt, got %v", n.Metadata)
		}
	}

	// served results match a fresh traversal of the store
	rows, err := lineage.NewEngine(testServer.Store).GetEntityLineage(ctx, "output.txt", intPtr(10), true)
	if err != nil {
		t.Fatalf("engine traversal failed: %v", err)
	}
	seen := map[string]bool{}
	for _, r := range rows {
		seen[r.NodeID] = true
	}
	if len(seen) != len(after.Nodes) {
		t.Errorf("expected %d distinct nodes, got %d", len(seen), len(after.Nodes))
	}

	calls := testServer.Collector.GetTraversalMetrics().Calls[services.OpLineage]
	if calls != 3 {
		t.Errorf("expected 3 observed lineage calls, got %d", calls)
	}
}
