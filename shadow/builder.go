// Package shadow builds the replacement table for a migration: a copy of the
// source under the target partitioning scheme, backfilled, indexed and
// analyzed. The shadow table is never user-visible until cutover, so a
// failed or cancelled build leaves nothing observable behind.
package shadow

import (
	"context"
	"fmt"
	"strings"

	migration "github.com/scriptautomation123/oracle-table-migration"
	"github.com/scriptautomation123/oracle-table-migration/db"
	"github.com/scriptautomation123/oracle-table-migration/events"
	"github.com/scriptautomation123/oracle-table-migration/internal/ddl"
	"github.com/scriptautomation123/oracle-table-migration/schema"
)

// Config holds configuration for the shadow Builder.
type Config struct {
	// Gateway executes statements against the target database (required).
	Gateway db.Gateway

	// Discovery supplies the source table's metadata (required).
	Discovery schema.Discovery

	// Sink receives one event per build step (optional).
	Sink events.Sink

	// Parallel is the degree of parallelism hinted on the backfill and
	// index rebuilds (default: 1, no hint).
	Parallel int

	// IndexSuffix is appended to rebuilt index names so they do not
	// collide with the source's while both tables exist (default: "_MIG").
	IndexSuffix string
}

// Builder creates and populates shadow tables.
type Builder struct {
	config Config
}

// New creates a Builder with the given configuration.
// Applies default values for Parallel and IndexSuffix if not set.
func New(cfg Config) *Builder {
	if cfg.Parallel == 0 {
		cfg.Parallel = 1
	}
	if cfg.IndexSuffix == "" {
		cfg.IndexSuffix = migration.DefaultShadowSuffix
	}
	if cfg.Sink == nil {
		cfg.Sink = events.Discard{}
	}
	return &Builder{config: cfg}
}

// Build runs all build steps in order: create, backfill, index rebuild,
// statistics. Any step failing aborts the build; the shadow table is left in
// place for operator inspection, since dropping it would destroy diagnostic
// evidence. Each step is independently retriable through its exported
// method.
func (b *Builder) Build(ctx context.Context, run *migration.MigrationRun) error {
	meta, err := b.sourceMetadata(ctx, run)
	if err != nil {
		return err
	}

	if err := b.CreateShadow(ctx, run, meta); err != nil {
		return err
	}
	if err := b.Backfill(ctx, run); err != nil {
		return err
	}
	if err := b.RebuildIndexes(ctx, run, meta); err != nil {
		return err
	}
	return b.CollectStatistics(ctx, run)
}

// sourceMetadata discovers the source table and enforces the primary key
// requirement: the bridge's deduplication depends on one, so a source
// without a primary key fails fast before anything is created.
func (b *Builder) sourceMetadata(ctx context.Context, run *migration.MigrationRun) (schema.TableMetadata, error) {
	meta, err := b.config.Discovery.Describe(ctx, run.Identity)
	if err != nil {
		return schema.TableMetadata{}, fmt.Errorf("discovering %s: %w", run.Identity.Qualified(), err)
	}
	if len(meta.PrimaryKey) == 0 {
		return schema.TableMetadata{}, fmt.Errorf("cannot migrate %s: %w", run.Identity.Qualified(), migration.ErrMissingPrimaryKey)
	}
	return meta, nil
}

// CreateShadow creates the shadow table under the target scheme, deriving
// its shape from the source, and declares the source's primary key on it.
func (b *Builder) CreateShadow(ctx context.Context, run *migration.MigrationRun, meta schema.TableMetadata) error {
	if err := ddl.ValidateIdentifier(run.Shadow.Name, "shadow table"); err != nil {
		return err
	}

	create := fmt.Sprintf("CREATE TABLE %s", run.Shadow.Qualified())
	if run.Shadow.Scheme.Partitioned() {
		create = fmt.Sprintf("%s %s", create, run.Shadow.Scheme.Clause)
	}
	create = fmt.Sprintf("%s AS SELECT * FROM %s WHERE 1 = 0", create, run.Source.Qualified())

	if err := b.step(ctx, run, "create_shadow", create); err != nil {
		return err
	}

	addPK := fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s_PK PRIMARY KEY (%s)",
		run.Shadow.Qualified(), run.Shadow.Name, ddl.ColumnList(meta.PrimaryKey))
	return b.step(ctx, run, "add_primary_key", addPK)
}

// Backfill bulk-copies all rows from source into shadow, ordered by the
// partition key so rows land in their slices sequentially. The copy is a
// single statement: cancellation or a timeout leaves either nothing or
// everything committed, never a torn batch.
func (b *Builder) Backfill(ctx context.Context, run *migration.MigrationRun) error {
	stmt := fmt.Sprintf("INSERT %sINTO %s SELECT * FROM %s",
		b.parallelHint(), run.Shadow.Qualified(), run.Source.Qualified())
	if col := run.Shadow.Scheme.Column; col != "" {
		stmt = fmt.Sprintf("%s ORDER BY %s", stmt, col)
	}
	return b.step(ctx, run, "backfill", stmt)
}

// RebuildIndexes recreates every non-primary-key index from the source onto
// the shadow, attaching per-partition (LOCAL) semantics when the target
// scheme is partitioned.
func (b *Builder) RebuildIndexes(ctx context.Context, run *migration.MigrationRun, meta schema.TableMetadata) error {
	pk := ddl.ColumnList(meta.PrimaryKey)
	for _, idx := range meta.Indexes {
		// The primary key index was created with the constraint.
		if idx.Unique && ddl.ColumnList(idx.Columns) == pk {
			continue
		}
		if err := ddl.ValidateIdentifier(idx.Name, "index"); err != nil {
			return err
		}

		var sb strings.Builder
		sb.WriteString("CREATE ")
		if idx.Unique {
			sb.WriteString("UNIQUE ")
		}
		fmt.Fprintf(&sb, "INDEX %s.%s%s ON %s (%s)",
			run.Shadow.Schema, idx.Name, b.config.IndexSuffix, run.Shadow.Qualified(), ddl.ColumnList(idx.Columns))
		// Unique indexes cannot be LOCAL unless they include the
		// partition key, so only non-unique ones go per-partition.
		if run.Shadow.Scheme.Partitioned() && !idx.Unique {
			sb.WriteString(" LOCAL")
		}
		if b.config.Parallel > 1 {
			fmt.Fprintf(&sb, " PARALLEL %d", b.config.Parallel)
		}

		if err := b.step(ctx, run, "rebuild_index", sb.String()); err != nil {
			return err
		}
	}
	return nil
}

// CollectStatistics gathers optimizer statistics on the shadow table.
func (b *Builder) CollectStatistics(ctx context.Context, run *migration.MigrationRun) error {
	stmt := fmt.Sprintf("BEGIN DBMS_STATS.GATHER_TABLE_STATS(ownname => %s, tabname => %s, cascade => TRUE, degree => %d); END;",
		ddl.Literal(run.Shadow.Schema), ddl.Literal(run.Shadow.Name), b.config.Parallel)
	return b.step(ctx, run, "collect_statistics", stmt)
}

func (b *Builder) parallelHint() string {
	if b.config.Parallel > 1 {
		return fmt.Sprintf("/*+ APPEND PARALLEL(%d) */ ", b.config.Parallel)
	}
	return "/*+ APPEND */ "
}

func (b *Builder) step(ctx context.Context, run *migration.MigrationRun, step, stmt string) error {
	if err := b.config.Gateway.Execute(ctx, stmt); err != nil {
		b.config.Sink.Emit(events.Now(events.Event{
			RunID:    run.ID,
			Identity: run.Identity.Qualified(),
			Phase:    run.Phase,
			Step:     step,
			Outcome:  events.OutcomeFailed,
			Detail:   err.Error(),
		}))
		return &migration.TransientError{RunID: run.ID, Phase: run.Phase, Statement: stmt, Err: err}
	}

	b.config.Sink.Emit(events.Now(events.Event{
		RunID:    run.ID,
		Identity: run.Identity.Qualified(),
		Phase:    run.Phase,
		Step:     step,
		Outcome:  events.OutcomeSucceeded,
		Detail:   stmt,
	}))
	return nil
}
