package store

import (
	"context"

	migration "github.com/scriptautomation123/oracle-table-migration"
)

// RunStore provides persistence for migration run records. Completed and
// aborted runs remain as archived records. Implementations must be safe for
// concurrent access.
type RunStore interface {
	// CreateRun persists a new run record.
	CreateRun(ctx context.Context, run migration.MigrationRun) error

	// GetRun returns a run by ID.
	// Returns migration.ErrRunNotFound if the run does not exist.
	GetRun(ctx context.Context, id string) (migration.MigrationRun, error)

	// GetActiveRun returns the non-terminal run for an identity, if any.
	// Returns migration.ErrRunNotFound if no active run exists.
	GetActiveRun(ctx context.Context, identity migration.TableIdentity) (migration.MigrationRun, error)

	// UpdatePhase records a phase transition.
	// Returns migration.ErrRunNotFound if the run does not exist.
	UpdatePhase(ctx context.Context, id string, phase migration.Phase) error

	// FlagOperatorAction marks the run as requiring manual intervention.
	// Returns migration.ErrRunNotFound if the run does not exist.
	FlagOperatorAction(ctx context.Context, id string) error

	// AppendGateResults records gate outcomes for a run.
	// Returns migration.ErrRunNotFound if the run does not exist.
	AppendGateResults(ctx context.Context, id string, results []migration.GateResult) error

	// ListRuns returns all runs for an identity, oldest first. Returns an
	// empty slice if none exist.
	ListRuns(ctx context.Context, identity migration.TableIdentity) ([]migration.MigrationRun, error)
}

// Terminal reports whether a phase ends a run.
func Terminal(phase migration.Phase) bool {
	return phase == migration.PhaseFinalized || phase == migration.PhaseAborted
}
