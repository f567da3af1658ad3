package handlers

import (
	"context"

	"go.uber.org/zap"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/asakaida/provgraph/internal/services"
)

// LineageServiceInterface is the query surface served by LineageHandler
type LineageServiceInterface interface {
	GetEntityLineage(ctx context.Context, req *services.LineageRequest) (*services.LineageGraph, error)
	GetEntityDescendants(ctx context.Context, req *services.LineageRequest) (*services.LineageGraph, error)
	GetCommonAncestors(ctx context.Context, req *services.CommonAncestorsRequest) (*services.CommonAncestors, error)
}

// LineageHandler handles Lineage service gRPC requests
type LineageHandler struct {
	lineageService LineageServiceInterface
	logger         *zap.Logger
}

// NewLineageHandler creates a new LineageHandler
func NewLineageHandler(lineageService LineageServiceInterface, logger *zap.Logger) *LineageHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LineageHandler{
		lineageService: lineageService,
		logger:         logger,
	}
}

// GetEntityLineage handles the GetEntityLineage RPC
func (h *LineageHandler) GetEntityLineage(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in services.LineageRequest
	if err := decodeRequest(req, &in); err != nil {
		return nil, toStatus(ctx, h.logger, MethodGetEntityLineage, err)
	}

	graph, err := h.lineageService.GetEntityLineage(ctx, &in)
	if err != nil {
		return nil, toStatus(ctx, h.logger, MethodGetEntityLineage, err)
	}
	return responseOrInternal(ctx, h.logger, MethodGetEntityLineage, graph)
}

// GetEntityDescendants handles the GetEntityDescendants RPC
func (h *LineageHandler) GetEntityDescendants(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in services.LineageRequest
	if err := decodeRequest(req, &in); err != nil {
		return nil, toStatus(ctx, h.logger, MethodGetEntityDescendants, err)
	}

	graph, err := h.lineageService.GetEntityDescendants(ctx, &in)
	if err != nil {
		return nil, toStatus(ctx, h.logger, MethodGetEntityDescendants, err)
	}
	return responseOrInternal(ctx, h.logger, MethodGetEntityDescendants, graph)
}

// GetCommonAncestors handles the GetCommonAncestors RPC
func (h *LineageHandler) GetCommonAncestors(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in services.CommonAncestorsRequest
	if err := decodeRequest(req, &in); err != nil {
		return nil, toStatus(ctx, h.logger, MethodGetCommonAncestors, err)
	}

	result, err := h.lineageService.GetCommonAncestors(ctx, &in)
	if err != nil {
		return nil, toStatus(ctx, h.logger, MethodGetCommonAncestors, err)
	}
	return responseOrInternal(ctx, h.logger, MethodGetCommonAncestors, result)
}

var _ LineageServer = (*LineageHandler)(nil)
