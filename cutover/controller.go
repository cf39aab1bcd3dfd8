// Package cutover performs the atomic swap of the shadow table into the
// canonical name. The swap is two renames wrapped in a compensation saga:
// if the second rename fails, the first is undone so readers never face a
// missing table for longer than the failed statement itself.
package cutover

import (
	"context"
	"fmt"
	"time"

	migration "github.com/scriptautomation123/oracle-table-migration"
	"github.com/scriptautomation123/oracle-table-migration/db"
	"github.com/scriptautomation123/oracle-table-migration/events"
	"github.com/scriptautomation123/oracle-table-migration/gate"
	"github.com/scriptautomation123/oracle-table-migration/internal/ddl"
	"github.com/scriptautomation123/oracle-table-migration/lifecycle"
	"github.com/scriptautomation123/oracle-table-migration/metrics"
)

// Config holds configuration for the cutover Controller.
type Config struct {
	// Gateway executes the rename statements (required).
	Gateway db.Gateway

	// Gates evaluates the pre-rename checks (required).
	Gates *gate.Engine

	// Lifecycle records phase transitions and gate outcomes (required).
	Lifecycle *lifecycle.Manager

	// Sink receives step events (optional).
	Sink events.Sink

	// Collector records cutover metrics (optional).
	Collector *metrics.Collector

	// WriterPattern matches in-flight SQL that counts as an active writer.
	// Defaults to any statement touching the source table by name.
	WriterPattern string
}

// Controller drives the rename window of a migration run.
type Controller struct {
	config Config
}

// New creates a cutover Controller with the given configuration.
func New(cfg Config) *Controller {
	if cfg.Sink == nil {
		cfg.Sink = events.Discard{}
	}
	return &Controller{config: cfg}
}

// CutOver swaps the shadow table into the canonical name. The run must be
// in the built phase. Renames happen in order: source to retired name,
// then shadow to canonical name. A failure of the second rename triggers
// the compensating rename of the retired table back to the canonical name;
// if that also fails the run is aborted and flagged for an operator,
// because the schema is left without the canonical table.
func (c *Controller) CutOver(ctx context.Context, run *migration.MigrationRun) error {
	if run.Phase != migration.PhaseBuilt {
		return &migration.PreconditionError{
			RunID: run.ID,
			Phase: run.Phase,
			Gate:  "phase",
			Results: []migration.GateResult{{
				Gate:    "phase",
				Verdict: migration.GateFail,
				Detail:  fmt.Sprintf("cutover requires phase %s, run is %s", migration.PhaseBuilt, run.Phase),
				At:      time.Now().UTC(),
			}},
		}
	}

	pattern := c.config.WriterPattern
	if pattern == "" {
		pattern = run.Identity.Name
	}
	writers, err := c.config.Gates.ActiveWriters(ctx, pattern)
	if err != nil {
		return fmt.Errorf("checking active writers for run %s: %w", run.ID, err)
	}
	if err := c.config.Lifecycle.RecordGates(ctx, run, "cutover_gates", []migration.GateResult{writers}); err != nil {
		return err
	}
	if writers.Verdict == migration.GateFail {
		return &migration.PreconditionError{
			RunID:   run.ID,
			Phase:   run.Phase,
			Gate:    writers.Gate,
			Results: []migration.GateResult{writers},
		}
	}

	started := time.Now()

	canonical := ddl.Qualify(run.Identity.Schema, run.Identity.Name)
	retireStmt := fmt.Sprintf("ALTER TABLE %s RENAME TO %s", canonical, run.RetiredName)
	if err := c.config.Gateway.Execute(ctx, retireStmt); err != nil {
		c.emit(run, "rename_source", events.OutcomeFailed, err.Error())
		return &migration.TransientError{RunID: run.ID, Phase: run.Phase, Statement: retireStmt, Err: err}
	}
	if err := c.config.Lifecycle.Transition(ctx, run, migration.PhaseRenamedSource); err != nil {
		return err
	}
	c.emit(run, "rename_source", events.OutcomeSucceeded, fmt.Sprintf("%s renamed to %s", canonical, run.RetiredName))

	promoteStmt := fmt.Sprintf("ALTER TABLE %s RENAME TO %s",
		ddl.Qualify(run.Shadow.Schema, run.Shadow.Name), run.Identity.Name)
	if err := c.config.Gateway.Execute(ctx, promoteStmt); err != nil {
		c.emit(run, "rename_shadow", events.OutcomeFailed, err.Error())
		return c.compensate(ctx, run, err)
	}
	if err := c.config.Lifecycle.Transition(ctx, run, migration.PhaseCutOver); err != nil {
		return err
	}
	c.emit(run, "rename_shadow", events.OutcomeSucceeded, fmt.Sprintf("%s promoted to %s", run.Shadow.Name, run.Identity.Name))

	if c.config.Collector != nil {
		c.config.Collector.ObserveCutoverDuration(time.Since(started).Seconds())
	}
	return nil
}

// compensate undoes the first rename after the second failed. On success
// the run returns to built and the promotion error is reported as
// retryable. On failure neither table carries the canonical name, so the
// run is aborted with the operator flag set.
func (c *Controller) compensate(ctx context.Context, run *migration.MigrationRun, promoteErr error) error {
	restoreStmt := fmt.Sprintf("ALTER TABLE %s RENAME TO %s",
		ddl.Qualify(run.Identity.Schema, run.RetiredName), run.Identity.Name)
	if compErr := c.config.Gateway.Execute(ctx, restoreStmt); compErr != nil {
		c.emit(run, "compensate_rename", events.OutcomeFailed, compErr.Error())
		if abortErr := c.config.Lifecycle.Abort(ctx, run, true); abortErr != nil {
			return abortErr
		}
		return &migration.CutoverError{
			RunID:           run.ID,
			RetiredName:     run.RetiredName,
			ShadowName:      run.Shadow.Name,
			RenameErr:       promoteErr,
			CompensationErr: compErr,
		}
	}

	if err := c.config.Lifecycle.Transition(ctx, run, migration.PhaseBuilt); err != nil {
		return err
	}
	c.emit(run, "compensate_rename", events.OutcomeSucceeded,
		fmt.Sprintf("%s restored to %s", run.RetiredName, run.Identity.Name))
	if c.config.Collector != nil {
		c.config.Collector.IncCompensations()
	}
	return &migration.TransientError{
		RunID:     run.ID,
		Phase:     run.Phase,
		Statement: fmt.Sprintf("ALTER TABLE %s RENAME TO %s", ddl.Qualify(run.Shadow.Schema, run.Shadow.Name), run.Identity.Name),
		Err:       promoteErr,
	}
}

func (c *Controller) emit(run *migration.MigrationRun, step string, outcome events.Outcome, detail string) {
	c.config.Sink.Emit(events.Now(events.Event{
		RunID:    run.ID,
		Identity: run.Identity.Qualified(),
		Phase:    run.Phase,
		Step:     step,
		Outcome:  outcome,
		Detail:   detail,
	}))
}
