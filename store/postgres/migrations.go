package postgres

import "fmt"

// TableConfig configures the table names used by the run store.
type TableConfig struct {
	// RunsTable is the name of the table storing migration run records.
	RunsTable string

	// GateResultsTable is the name of the table storing gate outcomes.
	GateResultsTable string
}

// DefaultTableConfig returns the default table configuration.
func DefaultTableConfig() TableConfig {
	return TableConfig{
		RunsTable:        "migration_runs",
		GateResultsTable: "migration_gate_results",
	}
}

// MigrationUp returns the SQL to create the run store tables.
func MigrationUp(config TableConfig) string {
	return fmt.Sprintf(`-- Create migration_runs table
CREATE TABLE %s (
    id UUID PRIMARY KEY,
    schema_name TEXT NOT NULL,
    table_name TEXT NOT NULL,
    source_name TEXT NOT NULL,
    shadow_name TEXT NOT NULL,
    retired_name TEXT NOT NULL,
    target_scheme TEXT NOT NULL,
    phase TEXT NOT NULL,
    operator_action BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

-- Index for finding the active run for an identity
CREATE INDEX idx_runs_identity ON %s(schema_name, table_name, created_at DESC);

-- Create migration_gate_results table
CREATE TABLE %s (
    id BIGSERIAL PRIMARY KEY,
    run_id UUID NOT NULL REFERENCES %s(id),
    gate TEXT NOT NULL,
    verdict TEXT NOT NULL,
    detail TEXT NOT NULL,
    checked_at TIMESTAMPTZ NOT NULL
);

-- Index for loading a run's gate history in order
CREATE INDEX idx_gate_results_run ON %s(run_id, checked_at);
`, config.RunsTable, config.RunsTable, config.GateResultsTable, config.RunsTable, config.GateResultsTable)
}

// MigrationDown returns the SQL to drop the run store tables.
func MigrationDown(config TableConfig) string {
	return fmt.Sprintf(`DROP TABLE IF EXISTS %s;
DROP TABLE IF EXISTS %s;
`, config.GateResultsTable, config.RunsTable)
}
