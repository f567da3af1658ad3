package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/asakaida/provgraph/internal/infrastructure/logging"
	"github.com/asakaida/provgraph/internal/repositories"
	"github.com/asakaida/provgraph/internal/services"
)

// === Shared Helper Functions for all handlers ===

// decodeRequest converts a Struct request into dst. Unknown fields are rejected.
func decodeRequest(req *structpb.Struct, dst interface{}) error {
	if req == nil {
		req = &structpb.Struct{}
	}
	raw, err := protojson.Marshal(req)
	if err != nil {
		return services.NewValidationError("invalid request: %v", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return services.NewValidationError("invalid request: %v", err)
	}
	return nil
}

// encodeResponse converts a JSON-serializable object into a Struct
func encodeResponse(v interface{}) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(raw, out); err != nil {
		return nil, err
	}
	return out, nil
}

// toStatus maps a service error to a gRPC status. Internal details are logged, never returned.
func toStatus(ctx context.Context, logger *zap.Logger, method string, err error) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	var ve *services.ValidationError
	switch {
	case errors.As(err, &ve):
		return status.Error(codes.InvalidArgument, ve.Message)
	case errors.Is(err, repositories.ErrReferentialIntegrity):
		return status.Error(codes.FailedPrecondition, "relation references a missing entity, activity or agent")
	case errors.Is(err, repositories.ErrMirrorProjection):
		logging.FromContext(ctx, logger).Warn("graph mirror rejected write", zap.String("method", method), zap.Error(err))
		return status.Error(codes.Aborted, "graph mirror projection failed, write rolled back")
	case errors.Is(err, services.ErrMirrorDisabled):
		return status.Error(codes.FailedPrecondition, services.ErrMirrorDisabled.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, "request canceled")
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, "deadline exceeded")
	}
	logging.FromContext(ctx, logger).Error("request failed", zap.String("method", method), zap.Error(err))
	return status.Error(codes.Internal, "internal error")
}

func responseOrInternal(ctx context.Context, logger *zap.Logger, method string, v interface{}) (*structpb.Struct, error) {
	out, err := encodeResponse(v)
	if err != nil {
		return nil, toStatus(ctx, logger, method, err)
	}
	return out, nil
}
