package handlers

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/asakaida/provgraph/internal/entities"
	"github.com/asakaida/provgraph/internal/repositories"
	"github.com/asakaida/provgraph/internal/services"
)

func TestLineageHandler_GetEntityLineage_Success(t *testing.T) {
	mockService := &mockLineageService{
		lineageFunc: func(ctx context.Context, req *services.LineageRequest) (*services.LineageGraph, error) {
			if req.EntityID != "output.txt" {
				t.Errorf("expected entity output.txt, got %s", req.EntityID)
			}
			if req.MaxDepth == nil || *req.MaxDepth != 3 {
				t.Errorf("expected max depth 3, got %v", req.MaxDepth)
			}
			if !req.IncludeMetadata {
				t.Error("expected includeMetadata")
			}
			return &services.LineageGraph{
				Nodes: []*entities.Node{
					{ID: "output.txt", NodeType: entities.NodeTypeEntity, Depth: 0},
					{ID: "process2", NodeType: entities.NodeTypeActivity, Depth: 1},
				},
				Edges: []*entities.Edge{
					{From: "output.txt", To: "process2", RelationshipType: entities.RelWasGeneratedBy},
				},
			}, nil
		},
	}
	handler := NewLineageHandler(mockService, nil)

	req := mustStruct(t, map[string]interface{}{
		"entityId":        "output.txt",
		"maxDepth":        3,
		"includeMetadata": true,
	})
	resp, err := handler.GetEntityLineage(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	nodes := resp.Fields["nodes"].GetListValue().GetValues()
	if len(nodes) != 2 {
		t.Fatalf("expected 2 nodes, got %d", len(nodes))
	}
	second := nodes[1].GetStructValue().Fields
	if second["nodeType"].GetStringValue() != "activity" || second["depth"].GetNumberValue() != 1 {
		t.Errorf("unexpected second node: %v", second)
	}

	edges := resp.Fields["edges"].GetListValue().GetValues()
	if len(edges) != 1 {
		t.Fatalf("expected 1 edge, got %d", len(edges))
	}
	edge := edges[0].GetStructValue().Fields
	if edge["relationshipType"].GetStringValue() != "wasGeneratedBy" {
		t.Errorf("expected wasGeneratedBy, got %v", edge["relationshipType"])
	}
	if _, ok := edge["role"].GetKind().(*structpb.Value_NullValue); !ok {
		t.Errorf("expected null role, got %v", edge["role"])
	}
}

func TestLineageHandler_DecodeErrors(t *testing.T) {
	handler := NewLineageHandler(&mockLineageService{}, nil)

	tests := []struct {
		name string
		req  map[string]interface{}
	}{
		{"unknown field", map[string]interface{}{"entityId": "a", "depth": 3}},
		{"fractional depth", map[string]interface{}{"entityId": "a", "maxDepth": 2.5}},
		{"wrong type", map[string]interface{}{"entityId": 7}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := handler.GetEntityLineage(context.Background(), mustStruct(t, tt.req))
			if status.Code(err) != codes.InvalidArgument {
				t.Errorf("expected InvalidArgument, got %v", err)
			}
		})
	}
}

func TestLineageHandler_ErrorMapping(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		code    codes.Code
		message string
	}{
		{
			name:    "validation error is returned verbatim",
			err:     services.NewValidationError("invalid request: maxDepth too large"),
			code:    codes.InvalidArgument,
			message: "invalid request: maxDepth too large",
		},
		{
			name:    "storage failure is hidden",
			err:     fmt.Errorf("lineage traversal of a failed: %w", errors.New("password authentication failed for user provgraph")),
			code:    codes.Internal,
			message: "internal error",
		},
		{
			name:    "canceled",
			err:     fmt.Errorf("lineage traversal of a failed: %w", context.Canceled),
			code:    codes.Canceled,
			message: "request canceled",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewLineageHandler(&mockLineageService{
				descendantsFunc: func(ctx context.Context, req *services.LineageRequest) (*services.LineageGraph, error) {
					return nil, tt.err
				},
			}, nil)

			_, err := handler.GetEntityDescendants(context.Background(), mustStruct(t, map[string]interface{}{"entityId": "a"}))
			st, ok := status.FromError(err)
			if !ok {
				t.Fatalf("expected gRPC status, got %v", err)
			}
			if st.Code() != tt.code {
				t.Errorf("expected code %v, got %v", tt.code, st.Code())
			}
			if st.Message() != tt.message {
				t.Errorf("expected message %q, got %q", tt.message, st.Message())
			}
		})
	}
}

func TestLineageHandler_GetCommonAncestors(t *testing.T) {
	label := "Input"
	handler := NewLineageHandler(&mockLineageService{
		ancestorsFunc: func(ctx context.Context, req *services.CommonAncestorsRequest) (*services.CommonAncestors, error) {
			if req.EntityID1 != "a" || req.EntityID2 != "b" {
				t.Errorf("unexpected ids %s, %s", req.EntityID1, req.EntityID2)
			}
			return &services.CommonAncestors{CommonAncestors: []*entities.Node{
				{ID: "in", Label: &label, NodeType: entities.NodeTypeEntity, Depth: 2},
			}}, nil
		},
	}, nil)

	resp, err := handler.GetCommonAncestors(context.Background(), mustStruct(t, map[string]interface{}{
		"entityId1": "a",
		"entityId2": "b",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ancestors := resp.Fields["commonAncestors"].GetListValue().GetValues()
	if len(ancestors) != 1 {
		t.Fatalf("expected 1 ancestor, got %d", len(ancestors))
	}
	if got := ancestors[0].GetStructValue().Fields["label"].GetStringValue(); got != label {
		t.Errorf("expected label %s, got %s", label, got)
	}
}

func TestToStatus_RepositoryErrors(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		err  error
		code codes.Code
	}{
		{fmt.Errorf("failed to write 3 facts: %w", repositories.ErrReferentialIntegrity), codes.FailedPrecondition},
		{fmt.Errorf("failed to write 3 facts: %w", repositories.ErrMirrorProjection), codes.Aborted},
		{fmt.Errorf("failed to verify: %w", services.ErrMirrorDisabled), codes.FailedPrecondition},
		{context.DeadlineExceeded, codes.DeadlineExceeded},
	}
	for _, tt := range tests {
		if got := status.Code(toStatus(ctx, nil, "Test", tt.err)); got != tt.code {
			t.Errorf("%v: expected %v, got %v", tt.err, tt.code, got)
		}
	}
}
