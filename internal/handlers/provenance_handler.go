package handlers

import (
	"context"

	"go.uber.org/zap"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/asakaida/provgraph/internal/entities"
	"github.com/asakaida/provgraph/internal/services/graphsync"
)

// ProvenanceServiceInterface is the write surface served by ProvenanceHandler
type ProvenanceServiceInterface interface {
	WriteFacts(ctx context.Context, batch *entities.FactBatch) (string, error)
	DeleteFacts(ctx context.Context, batch *entities.FactBatch) (string, error)
	VerifyMirror(ctx context.Context, facts *entities.FactBatch) (*graphsync.Report, error)
}

// ProvenanceHandler handles Provenance service gRPC requests
type ProvenanceHandler struct {
	provenanceService ProvenanceServiceInterface
	logger            *zap.Logger
}

// NewProvenanceHandler creates a new ProvenanceHandler
func NewProvenanceHandler(provenanceService ProvenanceServiceInterface, logger *zap.Logger) *ProvenanceHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProvenanceHandler{
		provenanceService: provenanceService,
		logger:            logger,
	}
}

type changeResponse struct {
	ChangeToken string `json:"changeToken"`
}

type sourceReport struct {
	Source     string `json:"source"`
	Kind       string `json:"kind"`
	Label      string `json:"label"`
	Relational int64  `json:"relational"`
	Mirror     int64  `json:"mirror"`
}

type verifyRequest struct {
	Facts *entities.FactBatch `json:"facts,omitempty"`
}

type verifyResponse struct {
	Consistent bool           `json:"consistent"`
	Sources    []sourceReport `json:"sources"`
	Missing    []string       `json:"missing,omitempty"`
}

// WriteFacts handles the WriteFacts RPC. The request is a FactBatch object.
func (h *ProvenanceHandler) WriteFacts(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var batch entities.FactBatch
	if err := decodeRequest(req, &batch); err != nil {
		return nil, toStatus(ctx, h.logger, MethodWriteFacts, err)
	}

	token, err := h.provenanceService.WriteFacts(ctx, &batch)
	if err != nil {
		return nil, toStatus(ctx, h.logger, MethodWriteFacts, err)
	}
	return responseOrInternal(ctx, h.logger, MethodWriteFacts, changeResponse{ChangeToken: token})
}

// DeleteFacts handles the DeleteFacts RPC
func (h *ProvenanceHandler) DeleteFacts(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var batch entities.FactBatch
	if err := decodeRequest(req, &batch); err != nil {
		return nil, toStatus(ctx, h.logger, MethodDeleteFacts, err)
	}

	token, err := h.provenanceService.DeleteFacts(ctx, &batch)
	if err != nil {
		return nil, toStatus(ctx, h.logger, MethodDeleteFacts, err)
	}
	return responseOrInternal(ctx, h.logger, MethodDeleteFacts, changeResponse{ChangeToken: token})
}

// VerifyMirror handles the VerifyMirror RPC. An optional "facts" batch is checked fact by fact.
func (h *ProvenanceHandler) VerifyMirror(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in verifyRequest
	if err := decodeRequest(req, &in); err != nil {
		return nil, toStatus(ctx, h.logger, MethodVerifyMirror, err)
	}

	report, err := h.provenanceService.VerifyMirror(ctx, in.Facts)
	if err != nil {
		return nil, toStatus(ctx, h.logger, MethodVerifyMirror, err)
	}

	resp := verifyResponse{
		Consistent: report.Consistent(),
		Sources:    make([]sourceReport, 0, len(report.Sources)),
		Missing:    report.Missing,
	}
	for _, s := range report.Sources {
		resp.Sources = append(resp.Sources, sourceReport{
			Source:     s.Source,
			Kind:       s.Kind.String(),
			Label:      s.Label,
			Relational: s.Relational,
			Mirror:     s.Mirror,
		})
	}
	return responseOrInternal(ctx, h.logger, MethodVerifyMirror, resp)
}

var _ ProvenanceServer = (*ProvenanceHandler)(nil)
