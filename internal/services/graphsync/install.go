package graphsync

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"
)

// Installer creates the AGE graph and applies the mirror triggers
type Installer struct {
	db        *sql.DB
	graphName string
	logger    *zap.Logger
}

// NewInstaller creates a new Installer
func NewInstaller(db *sql.DB, graphName string, logger *zap.Logger) (*Installer, error) {
	if err := ValidateGraphName(graphName); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Installer{db: db, graphName: graphName, logger: logger.Named("graphsync")}, nil
}

// Install creates the graph and its labels if missing and installs the triggers.
// With backfill the graph is rebuilt from the existing relational rows.
// Everything runs in one transaction.
func (i *Installer) Install(ctx context.Context, backfill bool) error {
	ddl, err := GenerateDDL(i.graphName)
	if err != nil {
		return err
	}

	tx, err := i.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS age"); err != nil {
		return fmt.Errorf("failed to create age extension: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "LOAD 'age'"); err != nil {
		return fmt.Errorf("failed to load age: %w", err)
	}

	var exists bool
	if err := tx.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM ag_catalog.ag_graph WHERE name = $1)", i.graphName,
	).Scan(&exists); err != nil {
		return fmt.Errorf("failed to look up graph: %w", err)
	}
	if !exists {
		if _, err := tx.ExecContext(ctx, "SELECT ag_catalog.create_graph($1)", i.graphName); err != nil {
			return fmt.Errorf("failed to create graph %s: %w", i.graphName, err)
		}
		i.logger.Info("created graph", zap.String("graph", i.graphName))
	}

	for _, label := range NodeLabels() {
		if err := i.ensureLabel(ctx, tx, "create_vlabel", label); err != nil {
			return err
		}
	}
	for _, label := range EdgeLabels() {
		if err := i.ensureLabel(ctx, tx, "create_elabel", label); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to install mirror triggers: %w", err)
	}

	if backfill {
		stmts, err := GenerateBackfillSQL(i.graphName)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, stmts); err != nil {
			return fmt.Errorf("failed to backfill graph mirror: %w", err)
		}
		i.logger.Info("backfilled graph mirror", zap.String("graph", i.graphName))
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	i.logger.Info("graph mirror installed", zap.String("graph", i.graphName), zap.Int("sources", len(Sources)))
	return nil
}

// Uninstall removes the triggers and helper functions. The graph itself is kept.
func (i *Installer) Uninstall(ctx context.Context) error {
	if _, err := i.db.ExecContext(ctx, GenerateTeardownDDL()); err != nil {
		return fmt.Errorf("failed to remove mirror triggers: %w", err)
	}
	i.logger.Info("graph mirror triggers removed", zap.String("graph", i.graphName))
	return nil
}

// Installed reports whether the mirror triggers are present
func (i *Installer) Installed(ctx context.Context) (bool, error) {
	var n int
	err := i.db.QueryRowContext(ctx,
		"SELECT count(*) FROM pg_trigger WHERE tgname LIKE 'prov_mirror_%' AND NOT tgisinternal",
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to inspect triggers: %w", err)
	}
	return n == 2*len(Sources), nil
}

func (i *Installer) ensureLabel(ctx context.Context, tx *sql.Tx, fn, label string) error {
	var exists bool
	err := tx.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM ag_catalog.ag_label l
			JOIN ag_catalog.ag_graph g ON l.graph = g.graphid
			WHERE g.name = $1 AND l.name = $2
		)`, i.graphName, label).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to look up label %s: %w", label, err)
	}
	if exists {
		return nil
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("SELECT ag_catalog.%s($1, $2)", fn), i.graphName, label); err != nil {
		return fmt.Errorf("failed to create label %s: %w", label, err)
	}
	return nil
}
