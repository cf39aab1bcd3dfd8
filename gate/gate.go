// Package gate provides the idempotent read-only checks that guard every
// migration transition. Gates never mutate state and are safe to call any
// number of times, including concurrently. A gate whose own query errors
// surfaces that error to the caller; it is never treated as a PASS.
package gate

import (
	"context"
	"fmt"
	"time"

	migration "github.com/scriptautomation123/oracle-table-migration"
	"github.com/scriptautomation123/oracle-table-migration/db"
	"github.com/scriptautomation123/oracle-table-migration/internal/ddl"
)

// Gate check names recorded in results.
const (
	GateExistence             = "Existence"
	GateRowReconciliation     = "RowReconciliation"
	GateConstraintState       = "ConstraintState"
	GateActiveWriters         = "ActiveWriters"
	GatePartitionDistribution = "PartitionDistribution"
)

// Engine runs gate checks through the database gateway.
type Engine struct {
	gw db.Gateway
}

// New creates a gate engine.
func New(gw db.Gateway) *Engine {
	return &Engine{gw: gw}
}

func result(gate string, verdict migration.GateVerdict, format string, args ...any) migration.GateResult {
	return migration.GateResult{
		Gate:    gate,
		Verdict: verdict,
		Detail:  fmt.Sprintf(format, args...),
		At:      time.Now(),
	}
}

// Existence checks that a table is present or absent as required. A table in
// the wrong state FAILs; this guards against retrying a step whose previous
// attempt partially succeeded.
func (e *Engine) Existence(ctx context.Context, table migration.TableIdentity, wantPresent bool) (migration.GateResult, error) {
	stmt := fmt.Sprintf(`SELECT COUNT(*) FROM all_tables WHERE owner = %s AND table_name = %s`,
		ddl.Literal(table.Schema), ddl.Literal(table.Name))

	n, err := e.gw.QueryInt(ctx, stmt)
	if err != nil {
		return migration.GateResult{}, &migration.TransientError{Statement: fmt.Sprintf("existence check for %s", table.Qualified()), Err: err}
	}

	present := n > 0
	switch {
	case wantPresent && !present:
		return result(GateExistence, migration.GateFail, "table %s is absent but required present", table.Qualified()), nil
	case !wantPresent && present:
		return result(GateExistence, migration.GateFail, "table %s is present but required absent", table.Qualified()), nil
	case present:
		return result(GateExistence, migration.GatePass, "table %s present", table.Qualified()), nil
	default:
		return result(GateExistence, migration.GatePass, "table %s absent", table.Qualified()), nil
	}
}

// RowReconciliation counts rows in source and target and compares both
// against the expected reference snapshot. Counts above the reference are a
// WARN, since writes continue during backfill. An empty or short target
// FAILs: the gate cannot distinguish legitimate deletes from rows the
// backfill missed, so it refuses to guess.
func (e *Engine) RowReconciliation(ctx context.Context, source, target migration.TableIdentity, expected int64) (migration.GateResult, error) {
	sourceRows, err := e.count(ctx, source)
	if err != nil {
		return migration.GateResult{}, err
	}
	targetRows := sourceRows
	if target != source {
		if targetRows, err = e.count(ctx, target); err != nil {
			return migration.GateResult{}, err
		}
	}

	switch {
	case expected == 0 && targetRows == 0 && sourceRows == 0:
		return result(GateRowReconciliation, migration.GatePass, "%s empty as expected", target.Qualified()), nil
	case expected == 0 && targetRows > 0:
		return result(GateRowReconciliation, migration.GateFail, "%s expected empty but holds %d rows", target.Qualified(), targetRows), nil
	case targetRows == 0:
		return result(GateRowReconciliation, migration.GateFail, "%s is empty while %s holds %d rows (expected %d)", target.Qualified(), source.Qualified(), sourceRows, expected), nil
	case targetRows < expected:
		return result(GateRowReconciliation, migration.GateFail, "%s holds %d rows, fewer than the %d expected", target.Qualified(), targetRows, expected), nil
	case sourceRows > expected || targetRows > expected || targetRows > sourceRows:
		return result(GateRowReconciliation, migration.GateWarn, "more rows than the reference snapshot: source %d, target %d, expected %d", sourceRows, targetRows, expected), nil
	default:
		return result(GateRowReconciliation, migration.GatePass, "row counts match: source %d, target %d, expected %d", sourceRows, targetRows, expected), nil
	}
}

func (e *Engine) count(ctx context.Context, table migration.TableIdentity) (int64, error) {
	n, err := e.gw.QueryInt(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", table.Qualified()))
	if err != nil {
		return 0, &migration.TransientError{Statement: fmt.Sprintf("row count for %s", table.Qualified()), Err: err}
	}
	return n, nil
}

// ConstraintState inspects the table's constraints. Disabled integrity
// constraints are a WARN, not a FAIL; callers decide whether to auto-enable
// or abort. Only an unrecognized constraint status FAILs.
func (e *Engine) ConstraintState(ctx context.Context, table migration.TableIdentity) (migration.GateResult, error) {
	stmt := fmt.Sprintf(`SELECT constraint_name, status FROM all_constraints WHERE owner = %s AND table_name = %s`,
		ddl.Literal(table.Schema), ddl.Literal(table.Name))

	var disabled, illegal []string
	err := e.gw.Query(ctx, stmt, func(row db.Scanner) error {
		var name, status string
		if err := row.Scan(&name, &status); err != nil {
			return err
		}
		switch status {
		case "ENABLED":
		case "DISABLED":
			disabled = append(disabled, name)
		default:
			illegal = append(illegal, fmt.Sprintf("%s (%s)", name, status))
		}
		return nil
	})
	if err != nil {
		return migration.GateResult{}, &migration.TransientError{Statement: fmt.Sprintf("constraint check for %s", table.Qualified()), Err: err}
	}

	switch {
	case len(illegal) > 0:
		return result(GateConstraintState, migration.GateFail, "unsupported constraint state on %s: %s", table.Qualified(), ddl.ColumnList(illegal)), nil
	case len(disabled) > 0:
		return result(GateConstraintState, migration.GateWarn, "disabled constraints on %s: %s", table.Qualified(), ddl.ColumnList(disabled)), nil
	default:
		return result(GateConstraintState, migration.GatePass, "all constraints on %s enabled", table.Qualified()), nil
	}
}

// ActiveWriters inspects server session activity for statements referencing
// the name pattern. It passes only when zero matching sessions are currently
// executing. The check is best-effort: a writer can arrive between the gate
// and the guarded step, which is why the cutover carries a compensation path.
func (e *Engine) ActiveWriters(ctx context.Context, pattern string) (migration.GateResult, error) {
	stmt := fmt.Sprintf(`SELECT COUNT(*)
FROM v$session s JOIN v$sqlarea q ON s.sql_id = q.sql_id
WHERE s.status = 'ACTIVE'
  AND s.audsid <> SYS_CONTEXT('USERENV', 'SESSIONID')
  AND UPPER(q.sql_text) LIKE %s`,
		ddl.Literal("%"+pattern+"%"))

	n, err := e.gw.QueryInt(ctx, stmt)
	if err != nil {
		return migration.GateResult{}, &migration.TransientError{Statement: fmt.Sprintf("active writer check for %q", pattern), Err: err}
	}

	if n > 0 {
		return result(GateActiveWriters, migration.GateFail, "%d active sessions reference %q", n, pattern), nil
	}
	return result(GateActiveWriters, migration.GatePass, "no active sessions reference %q", pattern), nil
}

// PartitionDistribution reports row counts per slice, ordered by position.
// It is informational and never fails; callers use it to pick the hot-swap
// candidate slice.
func (e *Engine) PartitionDistribution(ctx context.Context, table migration.TableIdentity) (migration.GateResult, []migration.PartitionSlice, error) {
	stmt := fmt.Sprintf(`SELECT partition_name, partition_position, high_value, NVL(num_rows, 0)
FROM all_tab_partitions WHERE table_owner = %s AND table_name = %s
ORDER BY partition_position`,
		ddl.Literal(table.Schema), ddl.Literal(table.Name))

	var slices []migration.PartitionSlice
	err := e.gw.Query(ctx, stmt, func(row db.Scanner) error {
		var s migration.PartitionSlice
		if err := row.Scan(&s.Name, &s.Position, &s.UpperBound, &s.Rows); err != nil {
			return err
		}
		slices = append(slices, s)
		return nil
	})
	if err != nil {
		return migration.GateResult{}, nil, &migration.TransientError{Statement: fmt.Sprintf("partition distribution for %s", table.Qualified()), Err: err}
	}

	var total int64
	for _, s := range slices {
		total += s.Rows
	}
	return result(GatePartitionDistribution, migration.GatePass, "%d slices, %d rows total on %s", len(slices), total, table.Qualified()), slices, nil
}
