package e2e

import (
	"context"
	"strings"
	"testing"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/asakaida/provgraph/internal/entities"
	"github.com/asakaida/provgraph/internal/services"
)

// pipelineBatch is input1.txt -> process1 -> intermediate.txt -> process2 -> output.txt,
// with process2 also reading config.yaml and both processes run by alice
func pipelineBatch() *entities.FactBatch {
	return &entities.FactBatch{
		Entities: []*entities.Entity{
			{ID: "input1.txt", Label: "Raw input"},
			{ID: "config.yaml"},
			{ID: "intermediate.txt"},
			{ID: "output.txt", Label: "Report"},
		},
		Activities: []*entities.Activity{{ID: "process1"}, {ID: "process2"}},
		Agents:     []*entities.Agent{{ID: "alice"}},
		Used: []*entities.Used{
			{ActivityID: "process1", EntityID: "input1.txt"},
			{ActivityID: "process2", EntityID: "intermediate.txt", Role: "data"},
			{ActivityID: "process2", EntityID: "config.yaml", Role: "config"},
		},
		WasGeneratedBy: []*entities.WasGeneratedBy{
			{EntityID: "intermediate.txt", ActivityID: "process1"},
			{EntityID: "output.txt", ActivityID: "process2"},
		},
		WasAssociatedWith: []*entities.WasAssociatedWith{
			{ActivityID: "process1", AgentID: "alice"},
			{ActivityID: "process2", AgentID: "alice"},
		},
		WasAttributedTo: []*entities.WasAttributedTo{
			{EntityID: "output.txt", AgentID: "alice"},
		},
	}
}

// TestScenario_Pipeline walks a small ETL pipeline in both directions
func TestScenario_Pipeline(t *testing.T) {
	testServer := SetupE2ETest(t)
	defer testServer.Teardown(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	c := testServer.Client

	t.Log("Step 1: Writing provenance facts")
	token, err := c.WriteFacts(ctx, pipelineBatch())
	if err != nil {
		t.Fatalf("WriteFacts failed: %v", err)
	}
	if token == "" {
		t.Fatal("expected a change token")
	}

	t.Log("Step 2: Lineage of output.txt")
	var lineageGraph services.LineageGraph
	err = c.GetEntityLineage(ctx, services.LineageRequest{EntityID: "output.txt"}, &lineageGraph)
	if err != nil {
		t.Fatalf("GetEntityLineage failed: %v", err)
	}
	want := "output.txt,process2,config.yaml,intermediate.txt,process1,input1.txt"
	if got := strings.Join(nodeIDs(lineageGraph.Nodes), ","); got != want {
		t.Errorf("expected nodes %s, got %s", want, got)
	}
	if len(lineageGraph.Edges) != 5 {
		t.Errorf("expected 5 edges, got %d", len(lineageGraph.Edges))
	}
	for _, e := range lineageGraph.Edges {
		if e.RelationshipType == entities.RelWasAssociatedWith || e.RelationshipType == entities.RelWasAttributedTo {
			t.Errorf("agent relations are not traversed, got %s", e.RelationshipType)
		}
		if e.From == "process2" && e.To == "config.yaml" && (e.Role == nil || *e.Role != "config") {
			t.Errorf("expected role config on process2 -> config.yaml, got %v", e.Role)
		}
	}
	if lineageGraph.Nodes[0].Label == nil || *lineageGraph.Nodes[0].Label != "Report" {
		t.Errorf("expected label Report on output.txt, got %v", lineageGraph.Nodes[0].Label)
	}

	t.Log("Step 3: Lineage limited to depth 2")
	var shallow services.LineageGraph
	err = c.GetEntityLineage(ctx, services.LineageRequest{EntityID: "output.txt", MaxDepth: intPtr(2)}, &shallow)
	if err != nil {
		t.Fatalf("GetEntityLineage failed: %v", err)
	}
	for _, n := range shallow.Nodes {
		if n.Depth > 2 {
			t.Errorf("node %s beyond max depth: %d", n.ID, n.Depth)
		}
	}
	if len(shallow.Nodes) != 4 {
		t.Errorf("expected 4 nodes within depth 2, got %v", nodeIDs(shallow.Nodes))
	}

	t.Log("Step 4: Descendants of input1.txt")
	var desc services.LineageGraph
	err = c.GetEntityDescendants(ctx, services.LineageRequest{EntityID: "input1.txt"}, &desc)
	if err != nil {
		t.Fatalf("GetEntityDescendants failed: %v", err)
	}
	want = "input1.txt,process1,intermediate.txt,process2,output.txt"
	if got := strings.Join(nodeIDs(desc.Nodes), ","); got != want {
		t.Errorf("expected descendants %s, got %s", want, got)
	}

	t.Log("Step 5: Common ancestors of output.txt and intermediate.txt")
	var common services.CommonAncestors
	err = c.GetCommonAncestors(ctx, services.CommonAncestorsRequest{
		EntityID1: "output.txt",
		EntityID2: "intermediate.txt",
	}, &common)
	if err != nil {
		t.Fatalf("GetCommonAncestors failed: %v", err)
	}
	if got := strings.Join(nodeIDs(common.CommonAncestors), ","); got != "process1,input1.txt" {
		t.Errorf("expected [process1 input1.txt], got %s", got)
	}

	t.Log("Step 6: An entity with no generating activity")
	var root services.LineageGraph
	if err := c.GetEntityLineage(ctx, services.LineageRequest{EntityID: "input1.txt"}, &root); err != nil {
		t.Fatalf("GetEntityLineage failed: %v", err)
	}
	if len(root.Nodes) != 1 || root.Nodes[0].Depth != 0 || len(root.Edges) != 0 {
		t.Errorf("expected only input1.txt at depth 0, got %+v", root)
	}
}

// TestScenario_InformedByCycle checks that communication cycles terminate
func TestScenario_InformedByCycle(t *testing.T) {
	testServer := SetupE2ETest(t)
	defer testServer.Teardown(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	c := testServer.Client

	_, err := c.WriteFacts(ctx, &entities.FactBatch{
		Entities:   []*entities.Entity{{ID: "out"}},
		Activities: []*entities.Activity{{ID: "p1"}, {ID: "p2"}},
		WasGeneratedBy: []*entities.WasGeneratedBy{
			{EntityID: "out", ActivityID: "p1"},
		},
		WasInformedBy: []*entities.WasInformedBy{
			{InformedID: "p1", InformerID: "p2"},
			{InformedID: "p2", InformerID: "p1"},
		},
	})
	if err != nil {
		t.Fatalf("WriteFacts failed: %v", err)
	}

	var g services.LineageGraph
	if err := c.GetEntityLineage(ctx, services.LineageRequest{EntityID: "out", MaxDepth: intPtr(50)}, &g); err != nil {
		t.Fatalf("GetEntityLineage failed: %v", err)
	}
	if got := strings.Join(nodeIDs(g.Nodes), ","); got != "out,p1,p2" {
		t.Errorf("expected out,p1,p2, got %s", got)
	}
	if len(g.Edges) != 2 {
		t.Errorf("expected 2 edges, got %d", len(g.Edges))
	}
}

// TestScenario_InvalidRequests checks argument validation at the API
func TestScenario_InvalidRequests(t *testing.T) {
	testServer := SetupE2ETest(t)
	defer testServer.Teardown(t)

	ctx := context.Background()
	c := testServer.Client

	tests := []struct {
		name string
		req  interface{}
	}{
		{"empty entity id", services.LineageRequest{}},
		{"depth zero", services.LineageRequest{EntityID: "a", MaxDepth: intPtr(0)}},
		{"depth above limit", services.LineageRequest{EntityID: "a", MaxDepth: intPtr(51)}},
		{"unknown field", map[string]interface{}{"entityId": "a", "direction": "up"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.GetEntityLineage(ctx, tt.req, nil)
			if status.Code(err) != codes.InvalidArgument {
				t.Errorf("expected InvalidArgument, got %v", err)
			}
		})
	}
}
