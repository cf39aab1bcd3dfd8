// Package metrics exposes Prometheus instrumentation for migration runs.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	runsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "table_migration_runs_started_total",
		Help: "Number of migration runs started.",
	}, []string{"table"})

	runsFinalized = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "table_migration_runs_finalized_total",
		Help: "Number of migration runs that reached the finalized phase.",
	}, []string{"table"})

	runsAborted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "table_migration_runs_aborted_total",
		Help: "Number of migration runs that ended in the aborted phase.",
	}, []string{"table"})

	phaseTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "table_migration_phase_transitions_total",
		Help: "Number of phase transitions, by destination phase.",
	}, []string{"table", "phase"})

	gateResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "table_migration_gate_results_total",
		Help: "Number of gate checks evaluated, by gate and verdict.",
	}, []string{"table", "gate", "verdict"})

	cutoverDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "table_migration_cutover_duration_seconds",
		Help:    "Wall-clock duration of the rename window during cutover.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"table"})

	backfillDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "table_migration_backfill_duration_seconds",
		Help:    "Wall-clock duration of the shadow table backfill.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 14),
	}, []string{"table"})

	compensations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "table_migration_cutover_compensations_total",
		Help: "Number of cutovers rolled back by the compensating rename.",
	}, []string{"table"})

	slicesArchived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "table_migration_slices_archived_total",
		Help: "Number of partition slices moved to history by exchange cycles.",
	}, []string{"table"})
)

// Collector records metrics for one migrated table. All methods are safe
// for concurrent use.
type Collector struct {
	table string
}

// NewCollector creates a Collector labeling every metric with the qualified
// table name.
func NewCollector(table string) *Collector {
	return &Collector{table: table}
}

// IncRunsStarted increments the started-runs counter.
func (c *Collector) IncRunsStarted() {
	runsStarted.WithLabelValues(c.table).Inc()
}

// IncRunsFinalized increments the finalized-runs counter.
func (c *Collector) IncRunsFinalized() {
	runsFinalized.WithLabelValues(c.table).Inc()
}

// IncRunsAborted increments the aborted-runs counter.
func (c *Collector) IncRunsAborted() {
	runsAborted.WithLabelValues(c.table).Inc()
}

// IncPhaseTransition increments the transition counter for the destination
// phase.
func (c *Collector) IncPhaseTransition(phase string) {
	phaseTransitions.WithLabelValues(c.table, phase).Inc()
}

// IncGateResult increments the gate counter for one gate verdict.
func (c *Collector) IncGateResult(gate, verdict string) {
	gateResults.WithLabelValues(c.table, gate, verdict).Inc()
}

// ObserveCutoverDuration records the rename-window duration in seconds.
func (c *Collector) ObserveCutoverDuration(seconds float64) {
	cutoverDuration.WithLabelValues(c.table).Observe(seconds)
}

// ObserveBackfillDuration records the backfill duration in seconds.
func (c *Collector) ObserveBackfillDuration(seconds float64) {
	backfillDuration.WithLabelValues(c.table).Observe(seconds)
}

// IncCompensations increments the compensating-rename counter.
func (c *Collector) IncCompensations() {
	compensations.WithLabelValues(c.table).Inc()
}

// AddSlicesArchived adds to the archived-slices counter.
func (c *Collector) AddSlicesArchived(n int) {
	slicesArchived.WithLabelValues(c.table).Add(float64(n))
}
