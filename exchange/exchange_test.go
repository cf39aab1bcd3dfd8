package exchange

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	migration "github.com/scriptautomation123/oracle-table-migration"
	"github.com/scriptautomation123/oracle-table-migration/db"
	"github.com/scriptautomation123/oracle-table-migration/gate"
)

func testCycle() migration.ArchiveCycle {
	return migration.ArchiveCycle{
		Active:  migration.PhysicalTable{Schema: "APP", Name: "EVENTS"},
		Staging: migration.PhysicalTable{Schema: "APP", Name: "EVENTS_STG"},
		History: migration.PhysicalTable{Schema: "APP", Name: "EVENTS_HIST"},
	}
}

// emptyStaging answers the staging count query with zero rows.
func emptyStaging(gw *db.MockGateway, stagingRows int64) {
	gw.QueryIntFunc = func(ctx context.Context, stmt string) (int64, error) {
		if strings.Contains(stmt, "EVENTS_STG") {
			return stagingRows, nil
		}
		return 0, nil
	}
}

func withSlices(gw *db.MockGateway, slices ...migration.PartitionSlice) {
	gw.QueryFunc = func(ctx context.Context, stmt string, fn func(db.Scanner) error) error {
		if !strings.Contains(stmt, "all_tab_partitions") {
			return nil
		}
		for _, s := range slices {
			if err := fn(db.ValueScanner{s.Name, s.Position, s.UpperBound, s.Rows}); err != nil {
				return err
			}
		}
		return nil
	}
}

func TestSwapOldestSlice_ExchangesThroughStaging(t *testing.T) {
	gw := &db.MockGateway{}
	emptyStaging(gw, 0)
	withSlices(gw,
		migration.PartitionSlice{Name: "P2024_01", Position: 1, UpperBound: "TO_DATE('2024-02-01', 'YYYY-MM-DD')", Rows: 500},
		migration.PartitionSlice{Name: "P2024_02", Position: 2, UpperBound: "TO_DATE('2024-03-01', 'YYYY-MM-DD')", Rows: 700},
	)
	engine := New(Config{Gateway: gw, Gates: gate.New(gw)})

	oldest, err := engine.SwapOldestSlice(context.Background(), testCycle())

	require.NoError(t, err)
	assert.Equal(t, "P2024_01", oldest.Name)
	require.Len(t, gw.ExecuteCalls, 4)
	assert.Equal(t, "ALTER TABLE APP.EVENTS EXCHANGE PARTITION P2024_01 WITH TABLE APP.EVENTS_STG INCLUDING INDEXES WITHOUT VALIDATION", gw.ExecuteCalls[0])
	assert.Equal(t, "ALTER TABLE APP.EVENTS_HIST ADD PARTITION P2024_01 VALUES LESS THAN (TO_DATE('2024-02-01', 'YYYY-MM-DD'))", gw.ExecuteCalls[1])
	assert.Equal(t, "ALTER TABLE APP.EVENTS_HIST EXCHANGE PARTITION P2024_01 WITH TABLE APP.EVENTS_STG INCLUDING INDEXES WITHOUT VALIDATION", gw.ExecuteCalls[2])
	assert.Equal(t, "ALTER TABLE APP.EVENTS DROP PARTITION P2024_01", gw.ExecuteCalls[3])
}

func TestSwapOldestSlice_RefusesDirtyStaging(t *testing.T) {
	gw := &db.MockGateway{}
	emptyStaging(gw, 42)
	engine := New(Config{Gateway: gw, Gates: gate.New(gw)})

	_, err := engine.SwapOldestSlice(context.Background(), testCycle())

	var pre *migration.PreconditionError
	require.ErrorAs(t, err, &pre)
	assert.Equal(t, gate.GateRowReconciliation, pre.Gate)
	assert.Empty(t, gw.ExecuteCalls)
}

func TestSwapOldestSlice_RefusesUnpartitionedActive(t *testing.T) {
	gw := &db.MockGateway{}
	emptyStaging(gw, 0)
	engine := New(Config{Gateway: gw, Gates: gate.New(gw)})

	_, err := engine.SwapOldestSlice(context.Background(), testCycle())

	var pre *migration.PreconditionError
	require.ErrorAs(t, err, &pre)
	assert.Equal(t, gate.GatePartitionDistribution, pre.Gate)
	assert.Empty(t, gw.ExecuteCalls)
}

func TestSwapOldestSlice_PicksLowestPosition(t *testing.T) {
	gw := &db.MockGateway{}
	emptyStaging(gw, 0)
	withSlices(gw,
		migration.PartitionSlice{Name: "P2024_03", Position: 3, UpperBound: "30", Rows: 10},
		migration.PartitionSlice{Name: "P2024_01", Position: 1, UpperBound: "10", Rows: 10},
		migration.PartitionSlice{Name: "P2024_02", Position: 2, UpperBound: "20", Rows: 10},
	)
	engine := New(Config{Gateway: gw, Gates: gate.New(gw)})

	oldest, err := engine.SwapOldestSlice(context.Background(), testCycle())

	require.NoError(t, err)
	assert.Equal(t, "P2024_01", oldest.Name)
}

func TestSwapOldestSlice_MidCycleFailureStopsWithoutCompensation(t *testing.T) {
	gw := &db.MockGateway{}
	emptyStaging(gw, 0)
	withSlices(gw, migration.PartitionSlice{Name: "P2024_01", Position: 1, UpperBound: "10", Rows: 10})
	gw.ExecuteFunc = func(ctx context.Context, stmt string) error {
		if strings.Contains(stmt, "ADD PARTITION") {
			return errors.New("ORA-14074: partition bound must collate higher")
		}
		return nil
	}
	engine := New(Config{Gateway: gw, Gates: gate.New(gw)})

	_, err := engine.SwapOldestSlice(context.Background(), testCycle())

	require.Error(t, err)
	assert.True(t, migration.IsTransient(err))
	// the failed step is the last statement issued, rows stay in staging
	require.Len(t, gw.ExecuteCalls, 2)
	assert.Contains(t, gw.ExecuteCalls[1], "ADD PARTITION")
}

func TestSwapOldestSlice_SecondCycleBlockedByFirstFailure(t *testing.T) {
	gw := &db.MockGateway{}
	stagingRows := int64(0)
	gw.QueryIntFunc = func(ctx context.Context, stmt string) (int64, error) {
		if strings.Contains(stmt, "EVENTS_STG") {
			return stagingRows, nil
		}
		return 0, nil
	}
	withSlices(gw, migration.PartitionSlice{Name: "P2024_01", Position: 1, UpperBound: "10", Rows: 10})
	gw.ExecuteFunc = func(ctx context.Context, stmt string) error {
		if strings.Contains(stmt, "EVENTS_HIST EXCHANGE") {
			return errors.New("ORA-14097: column type or size mismatch")
		}
		return nil
	}
	engine := New(Config{Gateway: gw, Gates: gate.New(gw)})

	_, err := engine.SwapOldestSlice(context.Background(), testCycle())
	require.Error(t, err)

	// the dead cycle left the slice's rows in staging
	stagingRows = 10
	before := len(gw.ExecuteCalls)
	_, err = engine.SwapOldestSlice(context.Background(), testCycle())

	var pre *migration.PreconditionError
	require.ErrorAs(t, err, &pre)
	assert.Len(t, gw.ExecuteCalls, before)
}
