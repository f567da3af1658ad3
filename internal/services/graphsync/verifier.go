package graphsync

import (
	"context"
	"fmt"

	"github.com/asakaida/provgraph/internal/entities"
	"github.com/asakaida/provgraph/internal/repositories"
)

// SourceReport compares one relational source with its mirror projection
type SourceReport struct {
	Source     string
	Kind       Kind
	Label      string
	Relational int64
	Mirror     int64
}

// Consistent reports whether the counts agree
func (r SourceReport) Consistent() bool {
	return r.Relational == r.Mirror
}

// Report is the result of a mirror verification
type Report struct {
	Sources []SourceReport
	Missing []string // facts of a checked batch with no mirror counterpart
}

// Consistent reports whether every source agrees with the mirror
func (r *Report) Consistent() bool {
	if len(r.Missing) > 0 {
		return false
	}
	for _, s := range r.Sources {
		if !s.Consistent() {
			return false
		}
	}
	return true
}

// Verifier checks that the mirror holds exactly one node per node row and one edge per relation row
type Verifier struct {
	repo repositories.ProvenanceRepository
	exec repositories.GraphExecutor
}

// NewVerifier creates a new Verifier
func NewVerifier(repo repositories.ProvenanceRepository, exec repositories.GraphExecutor) *Verifier {
	return &Verifier{repo: repo, exec: exec}
}

// Verify compares row counts per source with mirror counts
func (v *Verifier) Verify(ctx context.Context) (*Report, error) {
	counts, err := v.repo.CountRows(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count relational rows: %w", err)
	}

	report := &Report{}
	for _, src := range Sources {
		var mirror int64
		if src.Kind == NodeSource {
			mirror, err = NodeCount(ctx, v.exec, src.Label)
		} else {
			mirror, err = EdgeCount(ctx, v.exec, src.Label)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to count mirror %ss for %s: %w", src.Kind, src.Table, err)
		}
		report.Sources = append(report.Sources, SourceReport{
			Source:     src.Table,
			Kind:       src.Kind,
			Label:      src.Label,
			Relational: counts[src.Table],
			Mirror:     mirror,
		})
	}
	return report, nil
}

// VerifyFacts checks that every node and relation in batch has a mirror counterpart.
// It returns the facts that do not.
func (v *Verifier) VerifyFacts(ctx context.Context, batch *entities.FactBatch) ([]string, error) {
	var missing []string
	node := func(label, id string) error {
		ok, err := NodeExists(ctx, v.exec, label, id)
		if err != nil {
			return err
		}
		if !ok {
			missing = append(missing, NodeRef(label, id))
		}
		return nil
	}
	edge := func(edgeType, from, to, fact string) error {
		n, err := EdgeMatches(ctx, v.exec, edgeType, from, to)
		if err != nil {
			return err
		}
		if n == 0 {
			missing = append(missing, fact)
		}
		return nil
	}

	for _, e := range batch.Entities {
		if err := node("Entity", e.ID); err != nil {
			return nil, err
		}
	}
	for _, a := range batch.Activities {
		if err := node("Activity", a.ID); err != nil {
			return nil, err
		}
	}
	for _, a := range batch.Agents {
		if err := node("Agent", a.ID); err != nil {
			return nil, err
		}
	}
	for _, r := range batch.WasGeneratedBy {
		if err := edge("wasGeneratedBy", r.EntityID, r.ActivityID, r.String()); err != nil {
			return nil, err
		}
	}
	for _, r := range batch.Used {
		if err := edge("used", r.ActivityID, r.EntityID, r.String()); err != nil {
			return nil, err
		}
	}
	for _, r := range batch.WasAttributedTo {
		if err := edge("wasAttributedTo", r.EntityID, r.AgentID, r.String()); err != nil {
			return nil, err
		}
	}
	for _, r := range batch.WasAssociatedWith {
		if err := edge("wasAssociatedWith", r.ActivityID, r.AgentID, r.String()); err != nil {
			return nil, err
		}
	}
	for _, r := range batch.WasInformedBy {
		if err := edge("wasInformedBy", r.InformedID, r.InformerID, r.String()); err != nil {
			return nil, err
		}
	}
	return missing, nil
}

// NodeRef formats a mirror node the way it appears in a report
func NodeRef(label, id string) string {
	return fmt.Sprintf("(:%s {id: %q})", label, id)
}
