// Package finalize retires the remains of a completed migration: the
// dual-write bridge is torn down, the retired table dropped, dependent
// objects recompiled and grants carried over to the promoted table.
// Finalization is the only irreversible step, so it is held behind a
// validation window.
package finalize

import (
	"context"
	"fmt"
	"time"

	migration "github.com/scriptautomation123/oracle-table-migration"
	"github.com/scriptautomation123/oracle-table-migration/bridge"
	"github.com/scriptautomation123/oracle-table-migration/db"
	"github.com/scriptautomation123/oracle-table-migration/events"
	"github.com/scriptautomation123/oracle-table-migration/internal/ddl"
	"github.com/scriptautomation123/oracle-table-migration/lifecycle"
	"github.com/scriptautomation123/oracle-table-migration/metrics"
	"github.com/scriptautomation123/oracle-table-migration/schema"
)

// DefaultValidationWindow is how long a run must sit in the bridged phase
// before the retired table may be dropped.
const DefaultValidationWindow = 24 * time.Hour

// Config holds configuration for the Finalizer.
type Config struct {
	// Gateway executes drop, compile and grant statements (required).
	Gateway db.Gateway

	// Discovery reads the retired table's grants before the drop (required).
	Discovery schema.Discovery

	// Bridge tears down the dual-write view and router (required).
	Bridge *bridge.Manager

	// Lifecycle records the terminal phase transition (required).
	Lifecycle *lifecycle.Manager

	// Sink receives step events (optional).
	Sink events.Sink

	// Collector records finalization metrics (optional).
	Collector *metrics.Collector

	// ValidationWindow is the minimum age of the bridged phase before
	// finalization proceeds. Defaults to DefaultValidationWindow.
	ValidationWindow time.Duration

	// now is overridable in tests.
	now func() time.Time
}

// Finalizer performs the terminal cleanup of a migration run.
type Finalizer struct {
	config Config
}

// New creates a Finalizer with the given configuration.
func New(cfg Config) *Finalizer {
	if cfg.ValidationWindow == 0 {
		cfg.ValidationWindow = DefaultValidationWindow
	}
	if cfg.Sink == nil {
		cfg.Sink = events.Discard{}
	}
	if cfg.now == nil {
		cfg.now = time.Now
	}
	return &Finalizer{config: cfg}
}

// Finalize drops the retired table and completes the run. The run must be
// in the bridged phase and must have been there for at least the
// validation window; otherwise nothing is dropped and a precondition
// error reports how much longer to wait. Grants held on the retired table
// are captured and reissued on the promoted table before the drop; a retry
// that finds the retired table already gone resumes at the post-drop
// steps. Objects invalidated by the swap get one recompile pass each.
func (f *Finalizer) Finalize(ctx context.Context, run *migration.MigrationRun) error {
	if run.Phase != migration.PhaseBridged {
		return precondition(run, "phase",
			fmt.Sprintf("finalize requires phase %s, run is %s", migration.PhaseBridged, run.Phase))
	}
	if age := f.config.now().Sub(run.UpdatedAt); age < f.config.ValidationWindow {
		return precondition(run, "validation_window",
			fmt.Sprintf("bridged for %s, validation window is %s", age.Round(time.Second), f.config.ValidationWindow))
	}

	retired := migration.TableIdentity{Schema: run.Identity.Schema, Name: run.RetiredName}
	present, err := f.retiredExists(ctx, run, retired)
	if err != nil {
		return err
	}
	if !present {
		f.emit(run, "drop_retired", events.OutcomeSucceeded, fmt.Sprintf("%s already absent", retired.Qualified()))
		if err := f.config.Bridge.Close(ctx, run); err != nil {
			return err
		}
		return f.complete(ctx, run)
	}

	meta, err := f.config.Discovery.Describe(ctx, retired)
	if err != nil {
		return fmt.Errorf("capturing grants from %s: %w", retired.Qualified(), err)
	}

	if err := f.config.Bridge.Close(ctx, run); err != nil {
		return err
	}
	if err := f.reapplyGrants(ctx, run, meta.Grants); err != nil {
		return err
	}

	dropStmt := fmt.Sprintf("DROP TABLE %s", ddl.Qualify(retired.Schema, retired.Name))
	if err := f.config.Gateway.Execute(ctx, dropStmt); err != nil {
		f.emit(run, "drop_retired", events.OutcomeFailed, err.Error())
		return &migration.TransientError{RunID: run.ID, Phase: run.Phase, Statement: dropStmt, Err: err}
	}
	f.emit(run, "drop_retired", events.OutcomeSucceeded, fmt.Sprintf("dropped %s", retired.Qualified()))

	return f.complete(ctx, run)
}

// complete runs the post-drop steps and closes out the run.
func (f *Finalizer) complete(ctx context.Context, run *migration.MigrationRun) error {
	if err := f.recompileInvalid(ctx, run); err != nil {
		return err
	}
	if err := f.config.Lifecycle.Transition(ctx, run, migration.PhaseFinalized); err != nil {
		return err
	}
	if f.config.Collector != nil {
		f.config.Collector.IncRunsFinalized()
	}
	return nil
}

func (f *Finalizer) retiredExists(ctx context.Context, run *migration.MigrationRun, retired migration.TableIdentity) (bool, error) {
	stmt := fmt.Sprintf(`SELECT COUNT(*) FROM all_tables WHERE owner = %s AND table_name = %s`,
		ddl.Literal(retired.Schema), ddl.Literal(retired.Name))

	n, err := f.config.Gateway.QueryInt(ctx, stmt)
	if err != nil {
		return false, &migration.TransientError{RunID: run.ID, Phase: run.Phase, Statement: stmt, Err: err}
	}
	return n > 0, nil
}

type invalidObject struct {
	name string
	kind string
}

// recompileInvalid gives every invalid object in the schema one compile
// attempt. Objects still invalid afterwards are reported, not retried;
// some may reference the retired table on purpose and stay broken until
// their owners fix them.
func (f *Finalizer) recompileInvalid(ctx context.Context, run *migration.MigrationRun) error {
	invalid, err := f.listInvalid(ctx, run.Identity.Schema)
	if err != nil {
		return err
	}
	if len(invalid) == 0 {
		return nil
	}

	for _, obj := range invalid {
		stmt := compileStatement(run.Identity.Schema, obj)
		if err := f.config.Gateway.Execute(ctx, stmt); err != nil {
			// compile errors land in the dictionary, re-checked below
			f.emit(run, "recompile", events.OutcomeWarned, fmt.Sprintf("%s %s: %v", obj.kind, obj.name, err))
		}
	}

	still, err := f.listInvalid(ctx, run.Identity.Schema)
	if err != nil {
		return err
	}
	if len(still) > 0 {
		names := make([]string, len(still))
		for i, obj := range still {
			names[i] = obj.name
		}
		f.emit(run, "recompile", events.OutcomeWarned,
			fmt.Sprintf("%d objects remain invalid after recompile: %v", len(still), names))
	} else {
		f.emit(run, "recompile", events.OutcomeSucceeded,
			fmt.Sprintf("%d objects recompiled", len(invalid)))
	}
	return nil
}

// compileStatement builds the recompile DDL. Package bodies use the
// COMPILE BODY form of ALTER PACKAGE rather than an ALTER PACKAGE BODY
// statement.
func compileStatement(owner string, obj invalidObject) string {
	if obj.kind == "PACKAGE BODY" {
		return fmt.Sprintf("ALTER PACKAGE %s COMPILE BODY", ddl.Qualify(owner, obj.name))
	}
	return fmt.Sprintf("ALTER %s %s COMPILE", obj.kind, ddl.Qualify(owner, obj.name))
}

func (f *Finalizer) listInvalid(ctx context.Context, owner string) ([]invalidObject, error) {
	stmt := fmt.Sprintf(`SELECT object_name, object_type
FROM all_objects WHERE owner = %s AND status = 'INVALID'
ORDER BY object_name`, ddl.Literal(owner))

	var objs []invalidObject
	err := f.config.Gateway.Query(ctx, stmt, func(row db.Scanner) error {
		var o invalidObject
		if err := row.Scan(&o.name, &o.kind); err != nil {
			return err
		}
		objs = append(objs, o)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing invalid objects in %s: %w", owner, err)
	}
	return objs, nil
}

func (f *Finalizer) reapplyGrants(ctx context.Context, run *migration.MigrationRun, grants []schema.Grant) error {
	for _, g := range grants {
		stmt := fmt.Sprintf("GRANT %s ON %s TO %s", g.Privilege, ddl.Qualify(run.Identity.Schema, run.Identity.Name), g.Grantee)
		if err := f.config.Gateway.Execute(ctx, stmt); err != nil {
			f.emit(run, "reapply_grants", events.OutcomeFailed, err.Error())
			return &migration.TransientError{RunID: run.ID, Phase: run.Phase, Statement: stmt, Err: err}
		}
	}
	f.emit(run, "reapply_grants", events.OutcomeSucceeded, fmt.Sprintf("%d grants reissued", len(grants)))
	return nil
}

func (f *Finalizer) emit(run *migration.MigrationRun, step string, outcome events.Outcome, detail string) {
	f.config.Sink.Emit(events.Now(events.Event{
		RunID:    run.ID,
		Identity: run.Identity.Qualified(),
		Phase:    run.Phase,
		Step:     step,
		Outcome:  outcome,
		Detail:   detail,
	}))
}

func precondition(run *migration.MigrationRun, gateName, detail string) error {
	return &migration.PreconditionError{
		RunID: run.ID,
		Phase: run.Phase,
		Gate:  gateName,
		Results: []migration.GateResult{{
			Gate:    gateName,
			Verdict: migration.GateFail,
			Detail:  detail,
			At:      time.Now().UTC(),
		}},
	}
}
