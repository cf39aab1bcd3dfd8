// Package runner wires the migration stages into one orchestrator. It owns
// run records, serializes work per table, and hands each stage the shared
// gateway, discovery, store and instrumentation.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	migration "github.com/scriptautomation123/oracle-table-migration"
	"github.com/scriptautomation123/oracle-table-migration/bridge"
	"github.com/scriptautomation123/oracle-table-migration/cutover"
	"github.com/scriptautomation123/oracle-table-migration/db"
	"github.com/scriptautomation123/oracle-table-migration/events"
	"github.com/scriptautomation123/oracle-table-migration/finalize"
	"github.com/scriptautomation123/oracle-table-migration/gate"
	"github.com/scriptautomation123/oracle-table-migration/lifecycle"
	"github.com/scriptautomation123/oracle-table-migration/metrics"
	"github.com/scriptautomation123/oracle-table-migration/schema"
	"github.com/scriptautomation123/oracle-table-migration/shadow"
	"github.com/scriptautomation123/oracle-table-migration/store"
)

// Config holds configuration for the Runner.
type Config struct {
	// Gateway executes all migration SQL (required).
	Gateway db.Gateway

	// Discovery reads table structure from the dictionary (required).
	Discovery schema.Discovery

	// Store persists run records (required).
	Store store.RunStore

	// Sink receives step events. Defaults to events.Discard.
	Sink events.Sink

	// ShadowSuffix names the shadow table. Defaults to
	// migration.DefaultShadowSuffix.
	ShadowSuffix string

	// RetiredSuffix names the retired table. Defaults to
	// migration.DefaultRetiredSuffix.
	RetiredSuffix string

	// Parallel is the parallel degree for backfill and index builds.
	// Defaults to 1.
	Parallel int

	// ValidationWindow is how long a run must stay bridged before it can
	// be finalized. Defaults to finalize.DefaultValidationWindow.
	ValidationWindow time.Duration

	// Instrument enables Prometheus metrics per table. Off by default so
	// library embedders control their own registry traffic.
	Instrument bool
}

// Runner coordinates migration runs across tables. At most one stage
// executes per table at a time; different tables proceed concurrently.
type Runner struct {
	config Config
	gates  *gate.Engine

	mu      sync.Mutex
	workers map[string]*worker
}

// worker is the per-table wiring. Its mutex serializes stages for the
// table it serves.
type worker struct {
	mu        sync.Mutex
	lifecycle *lifecycle.Manager
	builder   *shadow.Builder
	cutover   *cutover.Controller
	bridge    *bridge.Manager
	finalizer *finalize.Finalizer
	collector *metrics.Collector
}

// New creates a Runner with the given configuration.
func New(cfg Config) *Runner {
	if cfg.Sink == nil {
		cfg.Sink = events.Discard{}
	}
	if cfg.ShadowSuffix == "" {
		cfg.ShadowSuffix = migration.DefaultShadowSuffix
	}
	if cfg.RetiredSuffix == "" {
		cfg.RetiredSuffix = migration.DefaultRetiredSuffix
	}
	if cfg.Parallel <= 0 {
		cfg.Parallel = 1
	}
	if cfg.ValidationWindow == 0 {
		cfg.ValidationWindow = finalize.DefaultValidationWindow
	}
	return &Runner{
		config:  cfg,
		gates:   gate.New(cfg.Gateway),
		workers: make(map[string]*worker),
	}
}

func (r *Runner) worker(identity migration.TableIdentity) *worker {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := identity.Qualified()
	if w, ok := r.workers[key]; ok {
		return w
	}

	var collector *metrics.Collector
	if r.config.Instrument {
		collector = metrics.NewCollector(key)
	}
	lc := lifecycle.New(lifecycle.Config{Store: r.config.Store, Sink: r.config.Sink, Collector: collector})
	w := &worker{
		lifecycle: lc,
		collector: collector,
		builder: shadow.New(shadow.Config{
			Gateway:   r.config.Gateway,
			Discovery: r.config.Discovery,
			Sink:      r.config.Sink,
			Parallel:  r.config.Parallel,
		}),
		cutover: cutover.New(cutover.Config{
			Gateway:   r.config.Gateway,
			Gates:     r.gates,
			Lifecycle: lc,
			Sink:      r.config.Sink,
			Collector: collector,
		}),
		bridge: bridge.New(bridge.Config{
			Gateway:   r.config.Gateway,
			Discovery: r.config.Discovery,
			Gates:     r.gates,
			Sink:      r.config.Sink,
		}),
	}
	w.finalizer = finalize.New(finalize.Config{
		Gateway:          r.config.Gateway,
		Discovery:        r.config.Discovery,
		Bridge:           w.bridge,
		Lifecycle:        lc,
		Sink:             r.config.Sink,
		Collector:        collector,
		ValidationWindow: r.config.ValidationWindow,
	})
	r.workers[key] = w
	return w
}

// Begin creates a new run for the table. A table carries at most one
// unfinished run; beginning a second returns the existing run and an
// error.
func (r *Runner) Begin(ctx context.Context, identity migration.TableIdentity, scheme migration.PartitionScheme) (*migration.MigrationRun, error) {
	active, err := r.config.Store.GetActiveRun(ctx, identity)
	switch {
	case err == nil:
		return &active, fmt.Errorf("table %s already has run %s in phase %s", identity.Qualified(), active.ID, active.Phase)
	case !errors.Is(err, migration.ErrRunNotFound):
		return nil, fmt.Errorf("checking for active run on %s: %w", identity.Qualified(), err)
	}

	now := time.Now().UTC()
	run := migration.MigrationRun{
		ID:          uuid.NewString(),
		Identity:    identity,
		Source:      migration.PhysicalTable{Schema: identity.Schema, Name: identity.Name},
		Shadow:      migration.ShadowTable(identity, scheme, r.config.ShadowSuffix),
		RetiredName: migration.RetiredTableName(identity, r.config.RetiredSuffix),
		Phase:       migration.PhasePending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := r.config.Store.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("creating run for %s: %w", identity.Qualified(), err)
	}
	w := r.worker(identity)
	if w.collector != nil {
		w.collector.IncRunsStarted()
	}
	return &run, nil
}

// Build creates and backfills the shadow table, then verifies it against
// the source before marking the run built. A reconciliation failure leaves
// the run in the building phase and the shadow table in place for
// inspection.
func (r *Runner) Build(ctx context.Context, run *migration.MigrationRun) error {
	w := r.worker(run.Identity)
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.lifecycle.Transition(ctx, run, migration.PhaseBuilding); err != nil {
		return err
	}

	snapshot, err := r.config.Gateway.QueryInt(ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM %s", run.Source.Qualified()))
	if err != nil {
		return fmt.Errorf("counting %s: %w", run.Source.Qualified(), err)
	}

	started := time.Now()
	if err := w.builder.Build(ctx, run); err != nil {
		return err
	}
	if w.collector != nil {
		w.collector.ObserveBackfillDuration(time.Since(started).Seconds())
	}

	shadowID := run.Shadow.Identity()
	results, err := gate.RunAll(ctx,
		func(ctx context.Context) (migration.GateResult, error) {
			return r.gates.Existence(ctx, shadowID, true)
		},
		func(ctx context.Context) (migration.GateResult, error) {
			return r.gates.RowReconciliation(ctx, run.Source.Identity(), shadowID, snapshot)
		},
		func(ctx context.Context) (migration.GateResult, error) {
			return r.gates.ConstraintState(ctx, shadowID)
		},
	)
	if err != nil {
		return err
	}
	if err := w.lifecycle.RecordGates(ctx, run, "build_gates", results); err != nil {
		return err
	}
	if failed, ok := gate.FirstFailure(results); ok {
		return &migration.PreconditionError{RunID: run.ID, Phase: run.Phase, Gate: failed.Gate, Results: results}
	}

	return w.lifecycle.Transition(ctx, run, migration.PhaseBuilt)
}

// CutOver swaps the shadow table into the canonical name and opens the
// dual-write bridge over the retired table. A run already in the cut_over
// phase resumes at the bridge: the renames are committed and must not be
// reissued, while opening the bridge is safe to retry.
func (r *Runner) CutOver(ctx context.Context, run *migration.MigrationRun) error {
	w := r.worker(run.Identity)
	w.mu.Lock()
	defer w.mu.Unlock()

	if run.Phase != migration.PhaseCutOver {
		if err := w.cutover.CutOver(ctx, run); err != nil {
			return err
		}
	}
	if _, err := w.bridge.Open(ctx, run); err != nil {
		return err
	}
	return w.lifecycle.Transition(ctx, run, migration.PhaseBridged)
}

// Finalize tears down the bridge and drops the retired table once the
// validation window has passed.
func (r *Runner) Finalize(ctx context.Context, run *migration.MigrationRun) error {
	w := r.worker(run.Identity)
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.finalizer.Finalize(ctx, run)
}

// Abort moves an unfinished run to the aborted phase. Runs past the
// cutover cannot be aborted; the promoted table is live and the path
// forward is finalization.
func (r *Runner) Abort(ctx context.Context, run *migration.MigrationRun) error {
	w := r.worker(run.Identity)
	w.mu.Lock()
	defer w.mu.Unlock()

	switch run.Phase {
	case migration.PhaseCutOver, migration.PhaseBridged, migration.PhaseFinalized:
		return fmt.Errorf("run %s is past cutover (phase %s) and can only move forward", run.ID, run.Phase)
	}
	return w.lifecycle.Abort(ctx, run, false)
}

// Migrate runs the repartitioning end to end up to the bridged phase:
// begin, build, cut over. Finalization stays manual because of the
// validation window.
func (r *Runner) Migrate(ctx context.Context, identity migration.TableIdentity, scheme migration.PartitionScheme) (*migration.MigrationRun, error) {
	run, err := r.Begin(ctx, identity, scheme)
	if err != nil {
		return run, err
	}
	if err := r.Build(ctx, run); err != nil {
		return run, err
	}
	if err := r.CutOver(ctx, run); err != nil {
		return run, err
	}
	return run, nil
}

// Resume loads a persisted run so a restarted process can pick up where
// the previous one stopped.
func (r *Runner) Resume(ctx context.Context, identity migration.TableIdentity) (*migration.MigrationRun, error) {
	run, err := r.config.Store.GetActiveRun(ctx, identity)
	if err != nil {
		return nil, err
	}
	if run.OperatorAction {
		return &run, fmt.Errorf("run %s: %w", run.ID, migration.ErrOperatorActionRequired)
	}
	return &run, nil
}
