package migration

import (
	"fmt"
	"time"
)

// TableIdentity is the name external clients use for a table. It never
// changes during a migration and must resolve to exactly one physical table
// at every committed instant except during the cutover rename pair.
type TableIdentity struct {
	// Schema is the owning schema. Identifiers are always schema-qualified;
	// the engine never depends on a session's current schema.
	Schema string

	// Name is the logical table name.
	Name string
}

// Qualified returns the schema-qualified form of the identity.
func (id TableIdentity) Qualified() string {
	return fmt.Sprintf("%s.%s", id.Schema, id.Name)
}

// PartitionScheme describes how a physical table is partitioned.
type PartitionScheme struct {
	// Clause is the complete PARTITION BY clause text, supplied by the
	// configuration producer as a plain value. Empty for an unpartitioned
	// table.
	Clause string

	// Column is the partition key column, used to order bulk backfills so
	// rows land in their slices sequentially.
	Column string
}

// Partitioned reports whether the scheme describes a partitioned table.
func (s PartitionScheme) Partitioned() bool {
	return s.Clause != ""
}

// PhysicalTable is a concrete table instance. During a migration up to three
// exist concurrently for one identity: the source, the shadow being built,
// and after cutover the retired (renamed) source pending drop.
type PhysicalTable struct {
	// Schema is the owning schema.
	Schema string

	// Name is the physical table name.
	Name string

	// Scheme is the table's partitioning scheme.
	Scheme PartitionScheme
}

// Qualified returns the schema-qualified form of the physical name.
func (t PhysicalTable) Qualified() string {
	return fmt.Sprintf("%s.%s", t.Schema, t.Name)
}

// Identity returns the physical table's name as a TableIdentity, for gates
// that operate on either logical or physical names.
func (t PhysicalTable) Identity() TableIdentity {
	return TableIdentity{Schema: t.Schema, Name: t.Name}
}

// Phase represents the single-writer state of a MigrationRun.
type Phase string

const (
	// PhasePending indicates the run is recorded but no shadow exists yet.
	PhasePending Phase = "pending"

	// PhaseBuilding indicates the shadow table is being created and backfilled.
	PhaseBuilding Phase = "building"

	// PhaseBuilt indicates the shadow table is complete and gate-verified.
	PhaseBuilt Phase = "built"

	// PhaseRenamedSource indicates the first cutover rename committed: the
	// source now carries its retired name and the logical name is unclaimed.
	PhaseRenamedSource Phase = "renamed_source"

	// PhaseCutOver indicates both cutover renames committed and the shadow
	// table now holds the logical name.
	PhaseCutOver Phase = "cut_over"

	// PhaseBridged indicates the bridge is open over shadow and retired.
	PhaseBridged Phase = "bridged"

	// PhaseFinalized indicates the retired table is dropped and the run is
	// complete.
	PhaseFinalized Phase = "finalized"

	// PhaseAborted is terminal. When OperatorAction is also set, both
	// physical tables were left under non-canonical names and manual
	// intervention is required before anything else touches them.
	PhaseAborted Phase = "aborted"
)

// GateVerdict is the outcome of a single gate check.
type GateVerdict string

const (
	// GatePass indicates the check found nothing blocking.
	GatePass GateVerdict = "PASS"

	// GateWarn indicates an ambiguous but acceptable condition; callers
	// decide whether to proceed or remediate.
	GateWarn GateVerdict = "WARN"

	// GateFail indicates a blocking condition; the run must not advance.
	GateFail GateVerdict = "FAIL"
)

// GateResult records one gate check outcome.
type GateResult struct {
	// Gate names the check that produced this result.
	Gate string

	// Verdict is PASS, WARN or FAIL.
	Verdict GateVerdict

	// Detail is a human-readable explanation of the verdict.
	Detail string

	// At is when the check completed.
	At time.Time
}

// MigrationRun tracks one re-partitioning migration of a single identity.
// It is mutated only through phase transitions; exactly one physical table
// holds the identity's logical name at any committed instant.
type MigrationRun struct {
	// ID is the unique identifier for this run (UUID).
	ID string

	// Identity is the logical name being migrated.
	Identity TableIdentity

	// Source is the current canonical physical table at run creation.
	Source PhysicalTable

	// Shadow is the new-scheme physical table being built.
	Shadow PhysicalTable

	// RetiredName is the physical name the source takes after the first
	// cutover rename.
	RetiredName string

	// Phase is the run's current state.
	Phase Phase

	// GateResults accumulates every gate outcome recorded for this run.
	GateResults []GateResult

	// OperatorAction is set when the run requires manual intervention and
	// no further automated action may be taken.
	OperatorAction bool

	// CreatedAt is when the run was created.
	CreatedAt time.Time

	// UpdatedAt is when the run last changed phase.
	UpdatedAt time.Time
}

// Retired returns the retired physical table, valid once the first cutover
// rename has committed.
func (r MigrationRun) Retired() PhysicalTable {
	return PhysicalTable{Schema: r.Source.Schema, Name: r.RetiredName, Scheme: r.Source.Scheme}
}

// PartitionSlice is one partition's worth of rows, ordered by upper bound.
type PartitionSlice struct {
	// Name is the partition name within its owning table.
	Name string

	// Position is the slice's ordinal position; the oldest slice has the
	// smallest position.
	Position int

	// UpperBound is the literal upper bound expression of the slice.
	UpperBound string

	// Rows is the estimated row count of the slice.
	Rows int64
}

// ArchiveCycle names the three tables of one partition hand-off cycle.
// Cycles are stateless; they own nothing beyond these names. Staging must be
// empty at the start and end of every successful cycle.
type ArchiveCycle struct {
	// Active is the live partitioned table slices are retired from.
	Active PhysicalTable

	// Staging is the intermediate exchange table. A non-empty staging table
	// means a previous cycle failed mid-flight and needs operator attention.
	Staging PhysicalTable

	// History is the partitioned archive table slices land in.
	History PhysicalTable
}

const (
	// DefaultShadowSuffix is appended to the logical name to form the
	// shadow table's physical name.
	DefaultShadowSuffix = "_MIG"

	// DefaultRetiredSuffix is appended to the logical name to form the
	// retired table's physical name.
	DefaultRetiredSuffix = "_OLD"
)

// ShadowTable derives the shadow physical table for an identity and target
// scheme using the given suffix (DefaultShadowSuffix when empty).
func ShadowTable(id TableIdentity, scheme PartitionScheme, suffix string) PhysicalTable {
	if suffix == "" {
		suffix = DefaultShadowSuffix
	}
	return PhysicalTable{Schema: id.Schema, Name: id.Name + suffix, Scheme: scheme}
}

// RetiredTableName derives the retired physical name for an identity using
// the given suffix (DefaultRetiredSuffix when empty).
func RetiredTableName(id TableIdentity, suffix string) string {
	if suffix == "" {
		suffix = DefaultRetiredSuffix
	}
	return id.Name + suffix
}
