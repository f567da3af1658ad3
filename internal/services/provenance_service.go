package services

import (
	"context"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/asakaida/provgraph/internal/entities"
	"github.com/asakaida/provgraph/internal/repositories"
	"github.com/asakaida/provgraph/internal/services/graphsync"
)

// RevisionObserver is told about revisions produced by local writes,
// so cached reads on this instance see their own writes without waiting for a notification.
type RevisionObserver interface {
	Observe(revision int64)
}

// ProvenanceService writes and deletes provenance facts and verifies the graph mirror
type ProvenanceService struct {
	repo      repositories.ProvenanceRepository
	verifier  *graphsync.Verifier // nil when the mirror is disabled
	revisions RevisionObserver
	logger    *zap.Logger
}

// NewProvenanceService creates a new ProvenanceService.
// verifier and revisions may be nil.
func NewProvenanceService(repo repositories.ProvenanceRepository, verifier *graphsync.Verifier, revisions RevisionObserver, logger *zap.Logger) *ProvenanceService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProvenanceService{repo: repo, verifier: verifier, revisions: revisions, logger: logger}
}

// WriteFacts validates and stores a batch atomically, returning the new change token
func (s *ProvenanceService) WriteFacts(ctx context.Context, batch *entities.FactBatch) (string, error) {
	if err := validateBatch(batch); err != nil {
		return "", err
	}

	token, err := s.repo.WriteFacts(ctx, batch)
	if err != nil {
		return "", fmt.Errorf("failed to write %d facts: %w", batch.Len(), err)
	}
	s.observe(token)
	s.logger.Debug("wrote facts", zap.Int("facts", batch.Len()), zap.String("token", token))
	return token, nil
}

// DeleteFacts validates and removes a batch atomically, returning the new change token
func (s *ProvenanceService) DeleteFacts(ctx context.Context, batch *entities.FactBatch) (string, error) {
	if err := validateBatch(batch); err != nil {
		return "", err
	}

	token, err := s.repo.DeleteFacts(ctx, batch)
	if err != nil {
		return "", fmt.Errorf("failed to delete %d facts: %w", batch.Len(), err)
	}
	s.observe(token)
	s.logger.Debug("deleted facts", zap.Int("facts", batch.Len()), zap.String("token", token))
	return token, nil
}

// VerifyMirror compares relational row counts with the graph mirror.
// When facts is non-empty each of its nodes and relations is also looked up in the mirror.
func (s *ProvenanceService) VerifyMirror(ctx context.Context, facts *entities.FactBatch) (*graphsync.Report, error) {
	if s.verifier == nil {
		return nil, ErrMirrorDisabled
	}
	if facts.Len() > 0 {
		if err := validateBatch(facts); err != nil {
			return nil, err
		}
	}
	report, err := s.verifier.Verify(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to verify mirror: %w", err)
	}
	if facts.Len() > 0 {
		if report.Missing, err = s.verifier.VerifyFacts(ctx, facts); err != nil {
			return nil, fmt.Errorf("failed to verify mirror facts: %w", err)
		}
	}
	if !report.Consistent() {
		s.logger.Warn("graph mirror drift detected", zap.Any("sources", report.Sources), zap.Strings("missing", report.Missing))
	}
	return report, nil
}

func (s *ProvenanceService) observe(token string) {
	if s.revisions == nil {
		return
	}
	if rev, err := strconv.ParseInt(token, 10, 64); err == nil {
		s.revisions.Observe(rev)
	}
}

func validateBatch(batch *entities.FactBatch) error {
	if batch == nil {
		return NewValidationError("fact batch is required")
	}
	if err := batch.Validate(); err != nil {
		return NewValidationError("invalid fact batch: %v", err)
	}
	return nil
}
