package handlers

import (
	"context"
	"testing"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/asakaida/provgraph/internal/entities"
	"github.com/asakaida/provgraph/internal/services"
	"github.com/asakaida/provgraph/internal/services/graphsync"
)

// Mock LineageService
type mockLineageService struct {
	lineageFunc     func(ctx context.Context, req *services.LineageRequest) (*services.LineageGraph, error)
	descendantsFunc func(ctx context.Context, req *services.LineageRequest) (*services.LineageGraph, error)
	ancestorsFunc   func(ctx context.Context, req *services.CommonAncestorsRequest) (*services.CommonAncestors, error)
}

func (m *mockLineageService) GetEntityLineage(ctx context.Context, req *services.LineageRequest) (*services.LineageGraph, error) {
	if m.lineageFunc != nil {
		return m.lineageFunc(ctx, req)
	}
	return &services.LineageGraph{}, nil
}

func (m *mockLineageService) GetEntityDescendants(ctx context.Context, req *services.LineageRequest) (*services.LineageGraph, error) {
	if m.descendantsFunc != nil {
		return m.descendantsFunc(ctx, req)
	}
	return &services.LineageGraph{}, nil
}

func (m *mockLineageService) GetCommonAncestors(ctx context.Context, req *services.CommonAncestorsRequest) (*services.CommonAncestors, error) {
	if m.ancestorsFunc != nil {
		return m.ancestorsFunc(ctx, req)
	}
	return &services.CommonAncestors{}, nil
}

// Mock ProvenanceService
type mockProvenanceService struct {
	writeFunc  func(ctx context.Context, batch *entities.FactBatch) (string, error)
	deleteFunc func(ctx context.Context, batch *entities.FactBatch) (string, error)
	verifyFunc func(ctx context.Context, facts *entities.FactBatch) (*graphsync.Report, error)
}

func (m *mockProvenanceService) WriteFacts(ctx context.Context, batch *entities.FactBatch) (string, error) {
	if m.writeFunc != nil {
		return m.writeFunc(ctx, batch)
	}
	return "1", nil
}

func (m *mockProvenanceService) DeleteFacts(ctx context.Context, batch *entities.FactBatch) (string, error) {
	if m.deleteFunc != nil {
		return m.deleteFunc(ctx, batch)
	}
	return "1", nil
}

func (m *mockProvenanceService) VerifyMirror(ctx context.Context, facts *entities.FactBatch) (*graphsync.Report, error) {
	if m.verifyFunc != nil {
		return m.verifyFunc(ctx, facts)
	}
	return &graphsync.Report{}, nil
}

func mustStruct(t *testing.T, m map[string]interface{}) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(m)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	return s
}
