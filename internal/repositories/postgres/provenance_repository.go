package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/asakaida/provgraph/internal/entities"
	"github.com/asakaida/provgraph/internal/repositories"
)

// PostgresProvenanceRepository implements ProvenanceRepository using PostgreSQL.
// Mirror projection happens in the graphsync triggers, inside the same transaction.
type PostgresProvenanceRepository struct {
	db *sql.DB
}

// NewPostgresProvenanceRepository creates a new PostgreSQL provenance repository
func NewPostgresProvenanceRepository(db *sql.DB) *PostgresProvenanceRepository {
	return &PostgresProvenanceRepository{db: db}
}

var (
	_ repositories.ProvenanceRepository = (*PostgresProvenanceRepository)(nil)
	_ repositories.ChangeTokenProvider  = (*PostgresProvenanceRepository)(nil)
)

// WriteFacts inserts the batch in one transaction, nodes before relations
func (r *PostgresProvenanceRepository) WriteFacts(ctx context.Context, batch *entities.FactBatch) (string, error) {
	if err := batch.Validate(); err != nil {
		return "", fmt.Errorf("invalid fact batch: %w", err)
	}
	batch = batch.StampCreated(time.Now())

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, e := range batch.Entities {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO entities (id, label, metadata, created_at)
			VALUES ($1, NULLIF($2, ''), $3, $4)
			ON CONFLICT (id) DO NOTHING
		`, e.ID, e.Label, e.Metadata, e.CreatedAt)
		if err != nil {
			return "", classify("write entity "+e.ID, err)
		}
	}

	for _, a := range batch.Activities {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO activities (id, label, started_at, ended_at, metadata)
			VALUES ($1, NULLIF($2, ''), $3, $4, $5)
			ON CONFLICT (id) DO NOTHING
		`, a.ID, a.Label, nullTime(a.StartedAt), nullTime(a.EndedAt), a.Metadata)
		if err != nil {
			return "", classify("write activity "+a.ID, err)
		}
	}

	for _, a := range batch.Agents {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO agents (id, metadata) VALUES ($1, $2)
			ON CONFLICT (id) DO NOTHING
		`, a.ID, a.Metadata)
		if err != nil {
			return "", classify("write agent "+a.ID, err)
		}
	}

	for _, g := range batch.WasGeneratedBy {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO was_generated_by (entity_id, activity_id) VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`, g.EntityID, g.ActivityID); err != nil {
			return "", classify("write "+g.String(), err)
		}
	}

	for _, u := range batch.Used {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO used (activity_id, entity_id, role) VALUES ($1, $2, NULLIF($3, ''))
		`, u.ActivityID, u.EntityID, u.Role); err != nil {
			return "", classify("write "+u.String(), err)
		}
	}

	for _, a := range batch.WasAttributedTo {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO was_attributed_to (entity_id, agent_id) VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`, a.EntityID, a.AgentID); err != nil {
			return "", classify("write "+a.String(), err)
		}
	}

	for _, a := range batch.WasAssociatedWith {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO was_associated_with (activity_id, agent_id, role) VALUES ($1, $2, NULLIF($3, ''))
		`, a.ActivityID, a.AgentID, a.Role); err != nil {
			return "", classify("write "+a.String(), err)
		}
	}

	for _, i := range batch.WasInformedBy {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO was_informed_by (informed_id, informer_id) VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`, i.InformedID, i.InformerID); err != nil {
			return "", classify("write "+i.String(), err)
		}
	}

	token, err := revision(ctx, tx)
	if err != nil {
		return "", err
	}

	if err := tx.Commit(); err != nil {
		return "", classify("commit transaction", err)
	}
	return token, nil
}

// DeleteFacts removes the batch in one transaction. Relation rows go first;
// node rows cascade to any relation still referencing them.
func (r *PostgresProvenanceRepository) DeleteFacts(ctx context.Context, batch *entities.FactBatch) (string, error) {
	if err := batch.Validate(); err != nil {
		return "", fmt.Errorf("invalid fact batch: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	type deletion struct {
		what  string
		query string
		args  []interface{}
	}
	var deletions []deletion
	for _, i := range batch.WasInformedBy {
		deletions = append(deletions, deletion{i.String(),
			`DELETE FROM was_informed_by WHERE informed_id = $1 AND informer_id = $2`,
			[]interface{}{i.InformedID, i.InformerID}})
	}
	for _, a := range batch.WasAssociatedWith {
		deletions = append(deletions, deletion{a.String(),
			`DELETE FROM was_associated_with WHERE activity_id = $1 AND agent_id = $2 AND role IS NOT DISTINCT FROM NULLIF($3, '')`,
			[]interface{}{a.ActivityID, a.AgentID, a.Role}})
	}
	for _, a := range batch.WasAttributedTo {
		deletions = append(deletions, deletion{a.String(),
			`DELETE FROM was_attributed_to WHERE entity_id = $1 AND agent_id = $2`,
			[]interface{}{a.EntityID, a.AgentID}})
	}
	for _, u := range batch.Used {
		deletions = append(deletions, deletion{u.String(),
			`DELETE FROM used WHERE activity_id = $1 AND entity_id = $2 AND role IS NOT DISTINCT FROM NULLIF($3, '')`,
			[]interface{}{u.ActivityID, u.EntityID, u.Role}})
	}
	for _, g := range batch.WasGeneratedBy {
		deletions = append(deletions, deletion{g.String(),
			`DELETE FROM was_generated_by WHERE entity_id = $1 AND activity_id = $2`,
			[]interface{}{g.EntityID, g.ActivityID}})
	}
	for _, a := range batch.Agents {
		deletions = append(deletions, deletion{"agent " + a.ID, `DELETE FROM agents WHERE id = $1`, []interface{}{a.ID}})
	}
	for _, a := range batch.Activities {
		deletions = append(deletions, deletion{"activity " + a.ID, `DELETE FROM activities WHERE id = $1`, []interface{}{a.ID}})
	}
	for _, e := range batch.Entities {
		deletions = append(deletions, deletion{"entity " + e.ID, `DELETE FROM entities WHERE id = $1`, []interface{}{e.ID}})
	}

	for _, d := range deletions {
		if _, err := tx.ExecContext(ctx, d.query, d.args...); err != nil {
			return "", classify("delete "+d.what, err)
		}
	}

	token, err := revision(ctx, tx)
	if err != nil {
		return "", err
	}

	if err := tx.Commit(); err != nil {
		return "", classify("commit transaction", err)
	}
	return token, nil
}

// GetEntity retrieves an entity by ID
func (r *PostgresProvenanceRepository) GetEntity(ctx context.Context, id string) (*entities.Entity, error) {
	var (
		e     entities.Entity
		label sql.NullString
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, label, metadata, created_at FROM entities WHERE id = $1
	`, id).Scan(&e.ID, &label, &e.Metadata, &e.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("entity %s: %w", id, repositories.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entity: %w", err)
	}
	e.Label = label.String
	return &e, nil
}

// GetActivity retrieves an activity by ID
func (r *PostgresProvenanceRepository) GetActivity(ctx context.Context, id string) (*entities.Activity, error) {
	var (
		a                 entities.Activity
		label             sql.NullString
		started, finished sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, label, started_at, ended_at, metadata FROM activities WHERE id = $1
	`, id).Scan(&a.ID, &label, &started, &finished, &a.Metadata)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("activity %s: %w", id, repositories.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get activity: %w", err)
	}
	a.Label = label.String
	if started.Valid {
		a.StartedAt = &started.Time
	}
	if finished.Valid {
		a.EndedAt = &finished.Time
	}
	return &a, nil
}

// CountRows returns the number of rows per relational source
func (r *PostgresProvenanceRepository) CountRows(ctx context.Context) (repositories.SourceCounts, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT 'entities', count(*) FROM entities
		UNION ALL SELECT 'activities', count(*) FROM activities
		UNION ALL SELECT 'agents', count(*) FROM agents
		UNION ALL SELECT 'was_generated_by', count(*) FROM was_generated_by
		UNION ALL SELECT 'used', count(*) FROM used
		UNION ALL SELECT 'was_attributed_to', count(*) FROM was_attributed_to
		UNION ALL SELECT 'was_associated_with', count(*) FROM was_associated_with
		UNION ALL SELECT 'was_informed_by', count(*) FROM was_informed_by
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to count rows: %w", err)
	}
	defer rows.Close()

	counts := repositories.SourceCounts{}
	for rows.Next() {
		var (
			source string
			n      int64
		)
		if err := rows.Scan(&source, &n); err != nil {
			return nil, fmt.Errorf("failed to scan row count: %w", err)
		}
		counts[source] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating row counts: %w", err)
	}
	return counts, nil
}

// ChangeToken returns the committed provenance revision
func (r *PostgresProvenanceRepository) ChangeToken(ctx context.Context) (string, error) {
	var rev int64
	err := r.db.QueryRowContext(ctx, `SELECT revision FROM provenance_revision WHERE singleton`).Scan(&rev)
	if err == sql.ErrNoRows {
		return "0", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read provenance revision: %w", err)
	}
	return strconv.FormatInt(rev, 10), nil
}

// revision reads the revision the current transaction will publish
func revision(ctx context.Context, tx *sql.Tx) (string, error) {
	var rev int64
	if err := tx.QueryRowContext(ctx, `SELECT revision FROM provenance_revision WHERE singleton`).Scan(&rev); err != nil {
		return "", fmt.Errorf("failed to read provenance revision: %w", err)
	}
	return strconv.FormatInt(rev, 10), nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
