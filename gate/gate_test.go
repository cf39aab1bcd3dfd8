package gate

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	migration "github.com/scriptautomation123/oracle-table-migration"
	"github.com/scriptautomation123/oracle-table-migration/db"
)

var (
	source = migration.TableIdentity{Schema: "APP", Name: "EVENTS"}
	shadow = migration.TableIdentity{Schema: "APP", Name: "EVENTS_MIG"}
)

// countGateway answers COUNT(*) queries with canned values keyed by a
// substring of the statement. The longest matching key wins, so overlapping
// names like APP.EVENTS and APP.EVENTS_MIG resolve deterministically.
func countGateway(counts map[string]int64) *db.MockGateway {
	return &db.MockGateway{
		QueryIntFunc: func(ctx context.Context, stmt string) (int64, error) {
			var best string
			found := false
			for substr := range counts {
				if strings.Contains(stmt, substr) && len(substr) > len(best) {
					best = substr
					found = true
				}
			}
			if !found {
				return 0, nil
			}
			return counts[best], nil
		},
	}
}

func TestExistence(t *testing.T) {
	t.Run("present when required present passes", func(t *testing.T) {
		e := New(countGateway(map[string]int64{"'EVENTS'": 1}))

		r, err := e.Existence(context.Background(), source, true)
		require.NoError(t, err)
		assert.Equal(t, migration.GatePass, r.Verdict)
	})

	t.Run("absent when required present fails", func(t *testing.T) {
		e := New(countGateway(nil))

		r, err := e.Existence(context.Background(), source, true)
		require.NoError(t, err)
		assert.Equal(t, migration.GateFail, r.Verdict)
		assert.Contains(t, r.Detail, "absent but required present")
	})

	t.Run("present when required absent fails", func(t *testing.T) {
		e := New(countGateway(map[string]int64{"'EVENTS_MIG'": 1}))

		r, err := e.Existence(context.Background(), shadow, false)
		require.NoError(t, err)
		assert.Equal(t, migration.GateFail, r.Verdict)
	})

	t.Run("query error is surfaced, never a pass", func(t *testing.T) {
		queryErr := errors.New("ORA-01034: ORACLE not available")
		e := New(&db.MockGateway{
			QueryIntFunc: func(ctx context.Context, stmt string) (int64, error) {
				return 0, queryErr
			},
		})

		_, err := e.Existence(context.Background(), source, true)
		assert.ErrorIs(t, err, queryErr)
		assert.True(t, migration.IsTransient(err))
	})
}

func TestRowReconciliation(t *testing.T) {
	t.Run("exact match passes", func(t *testing.T) {
		e := New(countGateway(map[string]int64{"APP.EVENTS_MIG": 100, "APP.EVENTS": 100}))

		r, err := e.RowReconciliation(context.Background(), source, shadow, 100)
		require.NoError(t, err)
		assert.Equal(t, migration.GatePass, r.Verdict)
	})

	t.Run("writes after snapshot warn", func(t *testing.T) {
		// 5 rows inserted into source after the backfill snapshot of 100.
		e := New(countGateway(map[string]int64{"APP.EVENTS_MIG": 100, "APP.EVENTS": 105}))

		r, err := e.RowReconciliation(context.Background(), source, shadow, 100)
		require.NoError(t, err)
		assert.Equal(t, migration.GateWarn, r.Verdict)
		assert.Contains(t, r.Detail, "more rows than the reference snapshot")
	})

	t.Run("empty target fails", func(t *testing.T) {
		e := New(countGateway(map[string]int64{"APP.EVENTS_MIG": 0, "APP.EVENTS": 100}))

		r, err := e.RowReconciliation(context.Background(), source, shadow, 100)
		require.NoError(t, err)
		assert.Equal(t, migration.GateFail, r.Verdict)
	})

	t.Run("target short of expected fails", func(t *testing.T) {
		e := New(countGateway(map[string]int64{"APP.EVENTS_MIG": 90, "APP.EVENTS": 100}))

		r, err := e.RowReconciliation(context.Background(), source, shadow, 100)
		require.NoError(t, err)
		assert.Equal(t, migration.GateFail, r.Verdict)
		assert.Contains(t, r.Detail, "fewer than")
	})

	t.Run("empty staging self-check passes", func(t *testing.T) {
		staging := migration.TableIdentity{Schema: "APP", Name: "EVENTS_STG"}
		e := New(countGateway(nil))

		r, err := e.RowReconciliation(context.Background(), staging, staging, 0)
		require.NoError(t, err)
		assert.Equal(t, migration.GatePass, r.Verdict)
	})

	t.Run("dirty staging self-check fails", func(t *testing.T) {
		staging := migration.TableIdentity{Schema: "APP", Name: "EVENTS_STG"}
		e := New(countGateway(map[string]int64{"APP.EVENTS_STG": 42}))

		r, err := e.RowReconciliation(context.Background(), staging, staging, 0)
		require.NoError(t, err)
		assert.Equal(t, migration.GateFail, r.Verdict)
		assert.Contains(t, r.Detail, "expected empty")
	})

	t.Run("is idempotent", func(t *testing.T) {
		e := New(countGateway(map[string]int64{"APP.EVENTS_MIG": 100, "APP.EVENTS": 105}))

		first, err := e.RowReconciliation(context.Background(), source, shadow, 100)
		require.NoError(t, err)
		second, err := e.RowReconciliation(context.Background(), source, shadow, 100)
		require.NoError(t, err)
		assert.Equal(t, first.Verdict, second.Verdict)
		assert.Equal(t, first.Detail, second.Detail)
	})
}

func constraintGateway(rows []db.ValueScanner) *db.MockGateway {
	return &db.MockGateway{
		QueryFunc: func(ctx context.Context, stmt string, fn func(db.Scanner) error) error {
			for _, r := range rows {
				if err := fn(r); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func TestConstraintState(t *testing.T) {
	t.Run("all enabled passes", func(t *testing.T) {
		e := New(constraintGateway([]db.ValueScanner{
			{"EVENTS_PK", "ENABLED"},
			{"EVENTS_FK", "ENABLED"},
		}))

		r, err := e.ConstraintState(context.Background(), source)
		require.NoError(t, err)
		assert.Equal(t, migration.GatePass, r.Verdict)
	})

	t.Run("disabled constraint warns not fails", func(t *testing.T) {
		e := New(constraintGateway([]db.ValueScanner{
			{"EVENTS_PK", "ENABLED"},
			{"EVENTS_FK", "DISABLED"},
		}))

		r, err := e.ConstraintState(context.Background(), source)
		require.NoError(t, err)
		assert.Equal(t, migration.GateWarn, r.Verdict)
		assert.Contains(t, r.Detail, "EVENTS_FK")
	})

	t.Run("unknown state fails", func(t *testing.T) {
		e := New(constraintGateway([]db.ValueScanner{
			{"EVENTS_CK", "ENABLE NOVALIDATE"},
		}))

		r, err := e.ConstraintState(context.Background(), source)
		require.NoError(t, err)
		assert.Equal(t, migration.GateFail, r.Verdict)
	})
}

func TestActiveWriters(t *testing.T) {
	t.Run("zero sessions passes", func(t *testing.T) {
		e := New(countGateway(nil))

		r, err := e.ActiveWriters(context.Background(), "EVENTS")
		require.NoError(t, err)
		assert.Equal(t, migration.GatePass, r.Verdict)
	})

	t.Run("one session fails", func(t *testing.T) {
		e := New(countGateway(map[string]int64{"v$session": 1}))

		r, err := e.ActiveWriters(context.Background(), "EVENTS")
		require.NoError(t, err)
		assert.Equal(t, migration.GateFail, r.Verdict)
		assert.Contains(t, r.Detail, "1 active session")
	})
}

func TestPartitionDistribution(t *testing.T) {
	e := New(&db.MockGateway{
		QueryFunc: func(ctx context.Context, stmt string, fn func(db.Scanner) error) error {
			rows := []db.ValueScanner{
				{"P202401", 1, "TO_DATE('2024-02-01')", int64(5000)},
				{"P202402", 2, "TO_DATE('2024-03-01')", int64(7500)},
			}
			for _, r := range rows {
				if err := fn(r); err != nil {
					return err
				}
			}
			return nil
		},
	})

	r, slices, err := e.PartitionDistribution(context.Background(), source)
	require.NoError(t, err)

	assert.Equal(t, migration.GatePass, r.Verdict, "distribution is informational and never fails")
	require.Len(t, slices, 2)
	assert.Equal(t, "P202401", slices[0].Name)
	assert.Equal(t, 1, slices[0].Position)
	assert.Equal(t, int64(5000), slices[0].Rows)
	assert.Contains(t, r.Detail, "2 slices")
	assert.Contains(t, r.Detail, "12500 rows")
}

func TestRunAll(t *testing.T) {
	t.Run("joins results in call order", func(t *testing.T) {
		e := New(countGateway(map[string]int64{"'EVENTS'": 1, "'EVENTS_MIG'": 1}))

		results, err := RunAll(context.Background(),
			func(ctx context.Context) (migration.GateResult, error) { return e.Existence(ctx, source, true) },
			func(ctx context.Context) (migration.GateResult, error) { return e.Existence(ctx, shadow, true) },
		)
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.Contains(t, results[0].Detail, "APP.EVENTS ")
		assert.Contains(t, results[1].Detail, "APP.EVENTS_MIG")
	})

	t.Run("first error wins", func(t *testing.T) {
		gateErr := errors.New("gate broke")
		_, err := RunAll(context.Background(),
			func(ctx context.Context) (migration.GateResult, error) { return migration.GateResult{}, gateErr },
		)
		assert.ErrorIs(t, err, gateErr)
	})
}

func TestFirstFailure(t *testing.T) {
	results := []migration.GateResult{
		{Gate: GateExistence, Verdict: migration.GatePass},
		{Gate: GateActiveWriters, Verdict: migration.GateFail, Detail: "1 active session"},
	}

	r, found := FirstFailure(results)
	require.True(t, found)
	assert.Equal(t, GateActiveWriters, r.Gate)

	_, found = FirstFailure(results[:1])
	assert.False(t, found)
}
