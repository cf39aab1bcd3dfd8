// Package exchange archives the oldest slice of a partitioned table by
// swapping partition segments through a staging table. Segment exchange
// moves data by dictionary update only, so a cycle costs seconds
// regardless of slice size.
package exchange

import (
	"context"
	"fmt"
	"time"

	migration "github.com/scriptautomation123/oracle-table-migration"
	"github.com/scriptautomation123/oracle-table-migration/db"
	"github.com/scriptautomation123/oracle-table-migration/events"
	"github.com/scriptautomation123/oracle-table-migration/gate"
	"github.com/scriptautomation123/oracle-table-migration/metrics"
)

// Config holds configuration for the exchange Engine.
type Config struct {
	// Gateway executes the exchange DDL (required).
	Gateway db.Gateway

	// Gates evaluates the staging and distribution checks (required).
	Gates *gate.Engine

	// Sink receives step events (optional).
	Sink events.Sink

	// Collector records archived-slice metrics (optional).
	Collector *metrics.Collector
}

// Engine runs partition-exchange archive cycles.
type Engine struct {
	config Config
}

// New creates an exchange Engine with the given configuration.
func New(cfg Config) *Engine {
	if cfg.Sink == nil {
		cfg.Sink = events.Discard{}
	}
	return &Engine{config: cfg}
}

// SwapOldestSlice moves the oldest slice of the active table into the
// history table. The staging table must be empty before anything runs: a
// populated staging table means an earlier cycle died between exchanges
// and its rows would be silently clobbered by a new swap. Steps after the
// gate have no compensation; a mid-cycle failure leaves rows in staging,
// which the next cycle's gate reports.
func (e *Engine) SwapOldestSlice(ctx context.Context, cycle migration.ArchiveCycle) (migration.PartitionSlice, error) {
	staging := cycle.Staging.Identity()
	clean, err := e.config.Gates.RowReconciliation(ctx, staging, staging, 0)
	if err != nil {
		return migration.PartitionSlice{}, fmt.Errorf("checking staging table %s: %w", staging.Qualified(), err)
	}
	if clean.Verdict == migration.GateFail {
		return migration.PartitionSlice{}, &migration.PreconditionError{
			Gate:    clean.Gate,
			Results: []migration.GateResult{clean},
		}
	}

	dist, slices, err := e.config.Gates.PartitionDistribution(ctx, cycle.Active.Identity())
	if err != nil {
		return migration.PartitionSlice{}, err
	}
	if len(slices) == 0 {
		return migration.PartitionSlice{}, &migration.PreconditionError{
			Gate: gate.GatePartitionDistribution,
			Results: []migration.GateResult{{
				Gate:    gate.GatePartitionDistribution,
				Verdict: migration.GateFail,
				Detail:  fmt.Sprintf("%s has no partitions to archive", cycle.Active.Qualified()),
				At:      time.Now().UTC(),
			}},
		}
	}
	e.emit(cycle, "distribution", events.OutcomeSucceeded, dist.Detail)

	oldest := slices[0]
	for _, s := range slices[1:] {
		if s.Position < oldest.Position {
			oldest = s
		}
	}

	steps := []struct {
		name string
		stmt string
	}{
		{"exchange_out", fmt.Sprintf(
			"ALTER TABLE %s EXCHANGE PARTITION %s WITH TABLE %s INCLUDING INDEXES WITHOUT VALIDATION",
			cycle.Active.Qualified(), oldest.Name, cycle.Staging.Qualified())},
		{"extend_history", fmt.Sprintf(
			"ALTER TABLE %s ADD PARTITION %s VALUES LESS THAN (%s)",
			cycle.History.Qualified(), oldest.Name, oldest.UpperBound)},
		{"exchange_in", fmt.Sprintf(
			"ALTER TABLE %s EXCHANGE PARTITION %s WITH TABLE %s INCLUDING INDEXES WITHOUT VALIDATION",
			cycle.History.Qualified(), oldest.Name, cycle.Staging.Qualified())},
		{"drop_slice", fmt.Sprintf(
			"ALTER TABLE %s DROP PARTITION %s",
			cycle.Active.Qualified(), oldest.Name)},
	}
	for _, step := range steps {
		if err := e.config.Gateway.Execute(ctx, step.stmt); err != nil {
			e.emit(cycle, step.name, events.OutcomeFailed, err.Error())
			return migration.PartitionSlice{}, &migration.TransientError{Statement: step.stmt, Err: err}
		}
		e.emit(cycle, step.name, events.OutcomeSucceeded, step.stmt)
	}

	if e.config.Collector != nil {
		e.config.Collector.AddSlicesArchived(1)
	}
	e.emit(cycle, "slice_archived", events.OutcomeSucceeded,
		fmt.Sprintf("slice %s (%d rows) moved to %s", oldest.Name, oldest.Rows, cycle.History.Qualified()))
	return oldest, nil
}

func (e *Engine) emit(cycle migration.ArchiveCycle, step string, outcome events.Outcome, detail string) {
	e.config.Sink.Emit(events.Now(events.Event{
		Identity: cycle.Active.Qualified(),
		Step:     step,
		Outcome:  outcome,
		Detail:   detail,
	}))
}
