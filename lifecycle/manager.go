// Package lifecycle manages migration run phase transitions: validating
// adjacency, persisting the new phase, and emitting the step event. All
// mutation of a run's phase funnels through here, keeping the run a
// single-writer state.
package lifecycle

import (
	"context"
	"fmt"

	migration "github.com/scriptautomation123/oracle-table-migration"
	"github.com/scriptautomation123/oracle-table-migration/events"
	"github.com/scriptautomation123/oracle-table-migration/metrics"
	"github.com/scriptautomation123/oracle-table-migration/store"
)

// legal maps each phase to the phases reachable from it. renamed_source may
// return to built: that is the compensation path after a failed second
// rename. Every phase before the cutover may abort; from cut_over on the
// promoted table is live and the only way out is forward.
var legal = map[migration.Phase][]migration.Phase{
	migration.PhasePending:       {migration.PhaseBuilding, migration.PhaseAborted},
	migration.PhaseBuilding:      {migration.PhaseBuilt, migration.PhaseAborted},
	migration.PhaseBuilt:         {migration.PhaseRenamedSource, migration.PhaseAborted},
	migration.PhaseRenamedSource: {migration.PhaseCutOver, migration.PhaseBuilt, migration.PhaseAborted},
	migration.PhaseCutOver:       {migration.PhaseBridged},
	migration.PhaseBridged:       {migration.PhaseFinalized},
}

// Config holds configuration for the lifecycle Manager.
type Config struct {
	// Store persists run records (required).
	Store store.RunStore

	// Sink receives one event per transition (optional).
	Sink events.Sink

	// Collector records transition metrics (optional).
	Collector *metrics.Collector
}

// Manager validates and records phase transitions for migration runs.
type Manager struct {
	config Config
}

// New creates a lifecycle Manager with the given configuration.
func New(cfg Config) *Manager {
	if cfg.Sink == nil {
		cfg.Sink = events.Discard{}
	}
	return &Manager{config: cfg}
}

// Transition moves the run to the next phase, persisting and emitting the
// change. Re-asserting the current phase is a no-op, so a retried step does
// not corrupt the state machine. An illegal transition returns an error
// without touching the store.
func (m *Manager) Transition(ctx context.Context, run *migration.MigrationRun, next migration.Phase) error {
	if run.OperatorAction {
		return fmt.Errorf("run %s: %w", run.ID, migration.ErrOperatorActionRequired)
	}
	if run.Phase == next {
		return nil
	}
	if !allowed(run.Phase, next) {
		return fmt.Errorf("illegal phase transition for run %s: %s -> %s", run.ID, run.Phase, next)
	}

	if err := m.config.Store.UpdatePhase(ctx, run.ID, next); err != nil {
		return fmt.Errorf("recording phase %s for run %s: %w", next, run.ID, err)
	}

	previous := run.Phase
	run.Phase = next

	m.config.Sink.Emit(events.Now(events.Event{
		RunID:    run.ID,
		Identity: run.Identity.Qualified(),
		Phase:    next,
		Step:     "phase_transition",
		Outcome:  events.OutcomeSucceeded,
		Detail:   fmt.Sprintf("%s -> %s", previous, next),
	}))
	if m.config.Collector != nil {
		m.config.Collector.IncPhaseTransition(string(next))
		if next == migration.PhaseAborted {
			m.config.Collector.IncRunsAborted()
		}
	}
	return nil
}

// Abort moves the run to the terminal aborted phase. The same adjacency
// rules apply as for Transition: only pre-cutover phases have an abort
// edge. When operator is set, the run is additionally flagged for manual
// intervention and nothing will advance it again.
func (m *Manager) Abort(ctx context.Context, run *migration.MigrationRun, operator bool) error {
	if run.Phase != migration.PhaseAborted && !allowed(run.Phase, migration.PhaseAborted) {
		return fmt.Errorf("illegal phase transition for run %s: %s -> %s", run.ID, run.Phase, migration.PhaseAborted)
	}
	if err := m.config.Store.UpdatePhase(ctx, run.ID, migration.PhaseAborted); err != nil {
		return fmt.Errorf("recording abort for run %s: %w", run.ID, err)
	}
	run.Phase = migration.PhaseAborted

	if operator {
		if err := m.config.Store.FlagOperatorAction(ctx, run.ID); err != nil {
			return fmt.Errorf("flagging operator action for run %s: %w", run.ID, err)
		}
		run.OperatorAction = true
	}

	m.config.Sink.Emit(events.Now(events.Event{
		RunID:    run.ID,
		Identity: run.Identity.Qualified(),
		Phase:    migration.PhaseAborted,
		Step:     "phase_transition",
		Outcome:  events.OutcomeFailed,
		Detail:   fmt.Sprintf("aborted (operator intervention: %t)", operator),
	}))
	if m.config.Collector != nil {
		m.config.Collector.IncPhaseTransition(string(migration.PhaseAborted))
		m.config.Collector.IncRunsAborted()
	}
	return nil
}

// RecordGates persists gate outcomes on the run and emits them as one
// event.
func (m *Manager) RecordGates(ctx context.Context, run *migration.MigrationRun, step string, results []migration.GateResult) error {
	if err := m.config.Store.AppendGateResults(ctx, run.ID, results); err != nil {
		return fmt.Errorf("recording gate results for run %s: %w", run.ID, err)
	}
	run.GateResults = append(run.GateResults, results...)

	outcome := events.OutcomeSucceeded
	if _, failed := firstFailure(results); failed {
		outcome = events.OutcomeFailed
	}
	m.config.Sink.Emit(events.Now(events.Event{
		RunID:       run.ID,
		Identity:    run.Identity.Qualified(),
		Phase:       run.Phase,
		Step:        step,
		Outcome:     outcome,
		Detail:      fmt.Sprintf("%d gate checks", len(results)),
		GateResults: results,
	}))
	if m.config.Collector != nil {
		for _, r := range results {
			m.config.Collector.IncGateResult(r.Gate, string(r.Verdict))
		}
	}
	return nil
}

func allowed(from, to migration.Phase) bool {
	for _, p := range legal[from] {
		if p == to {
			return true
		}
	}
	return false
}

func firstFailure(results []migration.GateResult) (migration.GateResult, bool) {
	for _, r := range results {
		if r.Verdict == migration.GateFail {
			return r, true
		}
	}
	return migration.GateResult{}, false
}
