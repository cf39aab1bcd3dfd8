// Package bridge manages the read/write indirection used during the
// dual-existence window after cutover: a read view merging the new table
// with not-yet-backfilled rows from the retired one, and a write router
// forcing insert traffic into the new table only.
package bridge

import (
	"context"
	"fmt"

	migration "github.com/scriptautomation123/oracle-table-migration"
	"github.com/scriptautomation123/oracle-table-migration/db"
	"github.com/scriptautomation123/oracle-table-migration/events"
	"github.com/scriptautomation123/oracle-table-migration/gate"
	"github.com/scriptautomation123/oracle-table-migration/internal/ddl"
	"github.com/scriptautomation123/oracle-table-migration/schema"
)

// ViewSuffix is appended to the logical name to form the bridge view name.
const ViewSuffix = "_BRIDGE"

// Bridge is an open read/write indirection over a shadow table and its
// retired predecessor. It exists only while both tables exist.
type Bridge struct {
	// Identity is the logical name the bridge serves.
	Identity migration.TableIdentity

	// View is the qualified name of the merged read view.
	View string

	// Shadow is the table receiving routed writes. After cutover this is
	// the physical table under the canonical name.
	Shadow migration.PhysicalTable

	// Retired is the renamed former source, read for rows the shadow does
	// not hold yet.
	Retired migration.PhysicalTable

	// PrimaryKey are the deduplication key columns.
	PrimaryKey []string

	// Columns are all table columns, used by write routing.
	Columns []string
}

// ViewName returns the unqualified bridge view name for an identity.
func ViewName(id migration.TableIdentity) string {
	return id.Name + ViewSuffix
}

// Config holds configuration for the bridge Manager.
type Config struct {
	// Gateway executes statements against the target database (required).
	Gateway db.Gateway

	// Discovery supplies column and key metadata (required).
	Discovery schema.Discovery

	// Gates verifies both tables exist before opening (required).
	Gates *gate.Engine

	// Router forces bridge writes into the shadow table. Defaults to the
	// trigger-backed router.
	Router Router

	// Sink receives one event per step (optional).
	Sink events.Sink
}

// Manager opens and closes bridges.
type Manager struct {
	config Config
}

// New creates a Manager with the given configuration.
func New(cfg Config) *Manager {
	if cfg.Router == nil {
		cfg.Router = &TriggerRouter{Gateway: cfg.Gateway}
	}
	if cfg.Sink == nil {
		cfg.Sink = events.Discard{}
	}
	return &Manager{config: cfg}
}

// Open creates the bridge for a run: both tables are existence-gated, the
// merged read view is created, and the write router installed. The shadow
// table must already hold the canonical name, the retired table its retired
// name.
func (m *Manager) Open(ctx context.Context, run *migration.MigrationRun) (*Bridge, error) {
	shadowTable := migration.PhysicalTable{Schema: run.Identity.Schema, Name: run.Identity.Name, Scheme: run.Shadow.Scheme}
	retired := run.Retired()

	results, err := gate.RunAll(ctx,
		func(ctx context.Context) (migration.GateResult, error) {
			return m.config.Gates.Existence(ctx, shadowTable.Identity(), true)
		},
		func(ctx context.Context) (migration.GateResult, error) {
			return m.config.Gates.Existence(ctx, retired.Identity(), true)
		},
	)
	if err != nil {
		return nil, err
	}
	if failed, ok := gate.FirstFailure(results); ok {
		return nil, &migration.PreconditionError{RunID: run.ID, Phase: run.Phase, Gate: failed.Gate, Results: results}
	}

	meta, err := m.config.Discovery.Describe(ctx, shadowTable.Identity())
	if err != nil {
		return nil, fmt.Errorf("describing %s: %w", shadowTable.Qualified(), err)
	}
	if len(meta.PrimaryKey) == 0 {
		return nil, fmt.Errorf("cannot bridge %s: %w", run.Identity.Qualified(), migration.ErrMissingPrimaryKey)
	}

	b := &Bridge{
		Identity:   run.Identity,
		View:       ddl.Qualify(run.Identity.Schema, ViewName(run.Identity)),
		Shadow:     shadowTable,
		Retired:    retired,
		PrimaryKey: meta.PrimaryKey,
		Columns:    meta.ColumnNames(),
	}

	pk := ddl.ColumnList(b.PrimaryKey)
	view := fmt.Sprintf(`CREATE OR REPLACE VIEW %s AS
SELECT * FROM %s
UNION ALL
SELECT * FROM %s r WHERE (%s) NOT IN (SELECT %s FROM %s)`,
		b.View, b.Shadow.Qualified(), b.Retired.Qualified(), pk, pk, b.Shadow.Qualified())

	if err := m.config.Gateway.Execute(ctx, view); err != nil {
		return nil, &migration.TransientError{RunID: run.ID, Phase: run.Phase, Statement: view, Err: err}
	}
	m.emit(run, "create_bridge_view", events.OutcomeSucceeded, b.View)

	if err := m.config.Router.Install(ctx, b); err != nil {
		return nil, fmt.Errorf("installing write router: %w", err)
	}
	m.emit(run, "install_write_router", events.OutcomeSucceeded, b.View)

	return b, nil
}

// Close tears the bridge down: write router first, then the read view. Both
// steps are no-ops when the object is already absent, so Close is safe to
// retry.
func (m *Manager) Close(ctx context.Context, run *migration.MigrationRun) error {
	shadowTable := migration.PhysicalTable{Schema: run.Identity.Schema, Name: run.Identity.Name, Scheme: run.Shadow.Scheme}
	b := &Bridge{
		Identity: run.Identity,
		View:     ddl.Qualify(run.Identity.Schema, ViewName(run.Identity)),
		Shadow:   shadowTable,
		Retired:  run.Retired(),
	}

	if err := m.config.Router.Remove(ctx, b); err != nil {
		return fmt.Errorf("removing write router: %w", err)
	}
	m.emit(run, "remove_write_router", events.OutcomeSucceeded, b.View)

	present, err := m.viewExists(ctx, run.Identity)
	if err != nil {
		return err
	}
	if !present {
		return nil
	}

	drop := fmt.Sprintf("DROP VIEW %s", b.View)
	if err := m.config.Gateway.Execute(ctx, drop); err != nil {
		return &migration.TransientError{RunID: run.ID, Phase: run.Phase, Statement: drop, Err: err}
	}
	m.emit(run, "drop_bridge_view", events.OutcomeSucceeded, b.View)
	return nil
}

func (m *Manager) viewExists(ctx context.Context, id migration.TableIdentity) (bool, error) {
	stmt := fmt.Sprintf(`SELECT COUNT(*) FROM all_views WHERE owner = %s AND view_name = %s`,
		ddl.Literal(id.Schema), ddl.Literal(ViewName(id)))

	n, err := m.config.Gateway.QueryInt(ctx, stmt)
	if err != nil {
		return false, fmt.Errorf("bridge view existence check: %w", err)
	}
	return n > 0, nil
}

func (m *Manager) emit(run *migration.MigrationRun, step string, outcome events.Outcome, detail string) {
	m.config.Sink.Emit(events.Now(events.Event{
		RunID:    run.ID,
		Identity: run.Identity.Qualified(),
		Phase:    run.Phase,
		Step:     step,
		Outcome:  outcome,
		Detail:   detail,
	}))
}
