// Package postgres provides a PostgreSQL-backed RunStore. Run state lives
// outside the database being migrated, so a migration survives the loss of
// its own session against the target.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	migration "github.com/scriptautomation123/oracle-table-migration"
)

// Store is a PostgreSQL implementation of store.RunStore.
type Store struct {
	db         *sql.DB
	runsTable  string
	gatesTable string
}

// New creates a new PostgreSQL store with default table names.
func New(db *sql.DB) *Store {
	return NewWithConfig(db, DefaultTableConfig())
}

// NewWithConfig creates a new PostgreSQL store with custom table names.
func NewWithConfig(db *sql.DB, config TableConfig) *Store {
	return &Store{
		db:         db,
		runsTable:  config.RunsTable,
		gatesTable: config.GateResultsTable,
	}
}

// CreateRun persists a new run record.
func (s *Store) CreateRun(ctx context.Context, run migration.MigrationRun) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (id, schema_name, table_name, source_name, shadow_name, retired_name, target_scheme, phase, operator_action, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
	`, s.runsTable)

	_, err := s.db.ExecContext(ctx, query,
		run.ID,
		run.Identity.Schema,
		run.Identity.Name,
		run.Source.Name,
		run.Shadow.Name,
		run.RetiredName,
		run.Shadow.Scheme.Clause,
		string(run.Phase),
		run.OperatorAction,
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// GetRun returns a run by ID, gate results included.
// Returns migration.ErrRunNotFound if the run does not exist.
func (s *Store) GetRun(ctx context.Context, id string) (migration.MigrationRun, error) {
	query := fmt.Sprintf(`
		SELECT id, schema_name, table_name, source_name, shadow_name, retired_name, target_scheme, phase, operator_action, created_at, updated_at
		FROM %s WHERE id = $1
	`, s.runsTable)

	run, err := s.scanRun(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return migration.MigrationRun{}, migration.ErrRunNotFound
	}
	if err != nil {
		return migration.MigrationRun{}, fmt.Errorf("failed to get run: %w", err)
	}

	if run.GateResults, err = s.gateResults(ctx, id); err != nil {
		return migration.MigrationRun{}, err
	}
	return run, nil
}

// GetActiveRun returns the non-terminal run for an identity, if any.
// Returns migration.ErrRunNotFound if no active run exists.
func (s *Store) GetActiveRun(ctx context.Context, identity migration.TableIdentity) (migration.MigrationRun, error) {
	query := fmt.Sprintf(`
		SELECT id, schema_name, table_name, source_name, shadow_name, retired_name, target_scheme, phase, operator_action, created_at, updated_at
		FROM %s
		WHERE schema_name = $1 AND table_name = $2 AND phase NOT IN ('finalized', 'aborted')
		ORDER BY created_at DESC
		LIMIT 1
	`, s.runsTable)

	run, err := s.scanRun(s.db.QueryRowContext(ctx, query, identity.Schema, identity.Name))
	if err == sql.ErrNoRows {
		return migration.MigrationRun{}, migration.ErrRunNotFound
	}
	if err != nil {
		return migration.MigrationRun{}, fmt.Errorf("failed to get active run: %w", err)
	}

	if run.GateResults, err = s.gateResults(ctx, run.ID); err != nil {
		return migration.MigrationRun{}, err
	}
	return run, nil
}

// UpdatePhase records a phase transition.
// Returns migration.ErrRunNotFound if the run does not exist.
func (s *Store) UpdatePhase(ctx context.Context, id string, phase migration.Phase) error {
	query := fmt.Sprintf(`UPDATE %s SET phase = $1, updated_at = NOW() WHERE id = $2`, s.runsTable)

	result, err := s.db.ExecContext(ctx, query, string(phase), id)
	if err != nil {
		return fmt.Errorf("failed to update phase: %w", err)
	}
	return requireRow(result)
}

// FlagOperatorAction marks the run as requiring manual intervention.
// Returns migration.ErrRunNotFound if the run does not exist.
func (s *Store) FlagOperatorAction(ctx context.Context, id string) error {
	query := fmt.Sprintf(`UPDATE %s SET operator_action = TRUE, updated_at = NOW() WHERE id = $1`, s.runsTable)

	result, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to flag operator action: %w", err)
	}
	return requireRow(result)
}

// AppendGateResults records gate outcomes for a run.
// Returns migration.ErrRunNotFound if the run does not exist.
func (s *Store) AppendGateResults(ctx context.Context, id string, results []migration.GateResult) error {
	if _, err := s.GetRun(ctx, id); err != nil {
		return err
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (run_id, gate, verdict, detail, checked_at)
		VALUES ($1, $2, $3, $4, $5)
	`, s.gatesTable)

	for _, r := range results {
		if _, err := s.db.ExecContext(ctx, query, id, r.Gate, string(r.Verdict), r.Detail, r.At); err != nil {
			return fmt.Errorf("failed to append gate result: %w", err)
		}
	}
	return nil
}

// ListRuns returns all runs for an identity, oldest first.
func (s *Store) ListRuns(ctx context.Context, identity migration.TableIdentity) ([]migration.MigrationRun, error) {
	query := fmt.Sprintf(`
		SELECT id, schema_name, table_name, source_name, shadow_name, retired_name, target_scheme, phase, operator_action, created_at, updated_at
		FROM %s WHERE schema_name = $1 AND table_name = $2
		ORDER BY created_at ASC
	`, s.runsTable)

	rows, err := s.db.QueryContext(ctx, query, identity.Schema, identity.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []migration.MigrationRun
	for rows.Next() {
		run, err := s.scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanRun(row rowScanner) (migration.MigrationRun, error) {
	var run migration.MigrationRun
	var phase string
	err := row.Scan(
		&run.ID,
		&run.Identity.Schema,
		&run.Identity.Name,
		&run.Source.Name,
		&run.Shadow.Name,
		&run.RetiredName,
		&run.Shadow.Scheme.Clause,
		&phase,
		&run.OperatorAction,
		&run.CreatedAt,
		&run.UpdatedAt,
	)
	if err != nil {
		return migration.MigrationRun{}, err
	}

	run.Phase = migration.Phase(phase)
	run.Source.Schema = run.Identity.Schema
	run.Shadow.Schema = run.Identity.Schema
	return run, nil
}

func (s *Store) gateResults(ctx context.Context, id string) ([]migration.GateResult, error) {
	query := fmt.Sprintf(`
		SELECT gate, verdict, detail, checked_at FROM %s WHERE run_id = $1 ORDER BY checked_at ASC, id ASC
	`, s.gatesTable)

	rows, err := s.db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load gate results: %w", err)
	}
	defer rows.Close()

	var results []migration.GateResult
	for rows.Next() {
		var r migration.GateResult
		var verdict string
		if err := rows.Scan(&r.Gate, &verdict, &r.Detail, &r.At); err != nil {
			return nil, fmt.Errorf("failed to scan gate result: %w", err)
		}
		r.Verdict = migration.GateVerdict(verdict)
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to load gate results: %w", err)
	}
	return results, nil
}

func requireRow(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if affected == 0 {
		return migration.ErrRunNotFound
	}
	return nil
}
