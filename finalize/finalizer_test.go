package finalize

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	migration "github.com/scriptautomation123/oracle-table-migration"
	"github.com/scriptautomation123/oracle-table-migration/bridge"
	"github.com/scriptautomation123/oracle-table-migration/db"
	"github.com/scriptautomation123/oracle-table-migration/events"
	"github.com/scriptautomation123/oracle-table-migration/gate"
	"github.com/scriptautomation123/oracle-table-migration/lifecycle"
	"github.com/scriptautomation123/oracle-table-migration/schema"
	"github.com/scriptautomation123/oracle-table-migration/store"
)

func bridgedRun(bridgedAt time.Time) *migration.MigrationRun {
	return &migration.MigrationRun{
		ID:          "run-1",
		Identity:    migration.TableIdentity{Schema: "APP", Name: "EVENTS"},
		Source:      migration.PhysicalTable{Schema: "APP", Name: "EVENTS"},
		Shadow:      migration.PhysicalTable{Schema: "APP", Name: "EVENTS_MIG"},
		RetiredName: "EVENTS_OLD",
		Phase:       migration.PhaseBridged,
		UpdatedAt:   bridgedAt,
	}
}

type fixture struct {
	gateway   *db.MockGateway
	discovery *schema.MockDiscovery
	st        *store.MockRunStore
	sink      *events.Memory
	finalizer *Finalizer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	gw := &db.MockGateway{}
	gw.QueryIntFunc = func(ctx context.Context, stmt string) (int64, error) {
		// the retired table is still in the dictionary
		if strings.Contains(stmt, "all_tables") {
			return 1, nil
		}
		return 0, nil
	}
	disc := &schema.MockDiscovery{
		Metadata: schema.TableMetadata{
			Columns:    []schema.Column{{Name: "ID", DataType: "NUMBER"}},
			PrimaryKey: []string{"ID"},
			Grants:     []schema.Grant{{Grantee: "REPORTING", Privilege: "SELECT"}},
		},
	}
	st := &store.MockRunStore{}
	sink := &events.Memory{}
	mgr := lifecycle.New(lifecycle.Config{Store: st})
	br := bridge.New(bridge.Config{Gateway: gw, Discovery: disc, Gates: gate.New(gw), Sink: sink})

	f := New(Config{
		Gateway:   gw,
		Discovery: disc,
		Bridge:    br,
		Lifecycle: mgr,
		Sink:      sink,
		now:       func() time.Time { return time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC) },
	})
	return &fixture{gateway: gw, discovery: disc, st: st, sink: sink, finalizer: f}
}

func bridgedLongEnough() time.Time {
	return time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
}

func TestFinalize_DropsRetiredAndReappliesGrants(t *testing.T) {
	fx := newFixture(t)

	run := bridgedRun(bridgedLongEnough())
	err := fx.finalizer.Finalize(context.Background(), run)

	require.NoError(t, err)
	assert.True(t, fx.gateway.Executed("DROP TABLE APP.EVENTS_OLD"))
	assert.True(t, fx.gateway.Executed("GRANT SELECT ON APP.EVENTS TO REPORTING"))
	assert.Equal(t, migration.PhaseFinalized, run.Phase)
	require.NotEmpty(t, fx.st.UpdatePhaseCalls)
	assert.Equal(t, migration.PhaseFinalized, fx.st.UpdatePhaseCalls[len(fx.st.UpdatePhaseCalls)-1].Phase)
}

func TestFinalize_RequiresBridgedPhase(t *testing.T) {
	fx := newFixture(t)

	run := bridgedRun(bridgedLongEnough())
	run.Phase = migration.PhaseCutOver
	err := fx.finalizer.Finalize(context.Background(), run)

	var pre *migration.PreconditionError
	require.ErrorAs(t, err, &pre)
	assert.Empty(t, fx.gateway.ExecuteCalls)
}

func TestFinalize_HonorsValidationWindow(t *testing.T) {
	fx := newFixture(t)

	// bridged one hour before the frozen clock
	run := bridgedRun(time.Date(2026, 3, 2, 11, 0, 0, 0, time.UTC))
	err := fx.finalizer.Finalize(context.Background(), run)

	var pre *migration.PreconditionError
	require.ErrorAs(t, err, &pre)
	assert.Equal(t, "validation_window", pre.Gate)
	assert.Empty(t, fx.gateway.ExecuteCalls)
	assert.Equal(t, migration.PhaseBridged, run.Phase)
}

func TestFinalize_CapturesGrantsBeforeDrop(t *testing.T) {
	fx := newFixture(t)

	run := bridgedRun(bridgedLongEnough())
	err := fx.finalizer.Finalize(context.Background(), run)

	require.NoError(t, err)
	require.Len(t, fx.discovery.DescribeCalls, 1)
	assert.Equal(t, "EVENTS_OLD", fx.discovery.DescribeCalls[0].Name)
}

func TestFinalize_RecompilesInvalidObjects(t *testing.T) {
	fx := newFixture(t)
	calls := 0
	fx.gateway.QueryFunc = func(ctx context.Context, stmt string, fn func(db.Scanner) error) error {
		if !strings.Contains(stmt, "all_objects") {
			return nil
		}
		calls++
		if calls == 1 {
			return fn(db.ValueScanner{"EVENTS_V", "VIEW"})
		}
		return nil
	}

	run := bridgedRun(bridgedLongEnough())
	err := fx.finalizer.Finalize(context.Background(), run)

	require.NoError(t, err)
	assert.True(t, fx.gateway.Executed("ALTER VIEW APP.EVENTS_V COMPILE"))
	assert.Equal(t, 2, calls)
}

func TestFinalize_ReportsStillInvalidObjects(t *testing.T) {
	fx := newFixture(t)
	fx.gateway.QueryFunc = func(ctx context.Context, stmt string, fn func(db.Scanner) error) error {
		if !strings.Contains(stmt, "all_objects") {
			return nil
		}
		return fn(db.ValueScanner{"EVENTS_PKG", "PACKAGE BODY"})
	}

	run := bridgedRun(bridgedLongEnough())
	err := fx.finalizer.Finalize(context.Background(), run)

	require.NoError(t, err)
	var warned bool
	for _, e := range fx.sink.Events() {
		if e.Step == "recompile" && e.Outcome == events.OutcomeWarned &&
			strings.Contains(e.Detail, "EVENTS_PKG") {
			warned = true
		}
	}
	assert.True(t, warned, "still-invalid objects must be reported")
	assert.Equal(t, migration.PhaseFinalized, run.Phase)
}

func TestFinalize_DropFailureIsRetryable(t *testing.T) {
	fx := newFixture(t)
	fx.gateway.ExecuteFunc = func(ctx context.Context, stmt string) error {
		if strings.Contains(stmt, "DROP TABLE") {
			return errors.New("ORA-00054: resource busy")
		}
		return nil
	}

	run := bridgedRun(bridgedLongEnough())
	err := fx.finalizer.Finalize(context.Background(), run)

	require.Error(t, err)
	assert.True(t, migration.IsTransient(err))
	assert.Equal(t, migration.PhaseBridged, run.Phase)
	// grants are reissued before the drop, so nothing is lost to a retry
	assert.True(t, fx.gateway.Executed("GRANT SELECT ON APP.EVENTS TO REPORTING"))
}

func TestFinalize_RetryAfterDropResumes(t *testing.T) {
	fx := newFixture(t)
	dropped := false
	fx.gateway.ExecuteFunc = func(ctx context.Context, stmt string) error {
		if strings.Contains(stmt, "DROP TABLE") {
			dropped = true
		}
		return nil
	}
	fx.gateway.QueryIntFunc = func(ctx context.Context, stmt string) (int64, error) {
		if strings.Contains(stmt, "all_tables") && !dropped {
			return 1, nil
		}
		return 0, nil
	}
	listingDown := true
	fx.gateway.QueryFunc = func(ctx context.Context, stmt string, fn func(db.Scanner) error) error {
		if strings.Contains(stmt, "all_objects") && listingDown {
			return errors.New("ORA-03113: end-of-file on communication channel")
		}
		return nil
	}

	// the drop commits, then the recompile listing fails
	run := bridgedRun(bridgedLongEnough())
	err := fx.finalizer.Finalize(context.Background(), run)
	require.Error(t, err)
	assert.True(t, fx.gateway.Executed("DROP TABLE APP.EVENTS_OLD"))
	assert.Equal(t, migration.PhaseBridged, run.Phase)

	listingDown = false
	err = fx.finalizer.Finalize(context.Background(), run)

	require.NoError(t, err)
	assert.Equal(t, migration.PhaseFinalized, run.Phase)
	// the retry neither describes nor drops the vanished table again
	require.Len(t, fx.discovery.DescribeCalls, 1)
	drops := 0
	for _, stmt := range fx.gateway.ExecuteCalls {
		if strings.Contains(stmt, "DROP TABLE") {
			drops++
		}
	}
	assert.Equal(t, 1, drops)
}

func TestFinalize_DiscoveryErrorBlocksDrop(t *testing.T) {
	fx := newFixture(t)
	fx.discovery.DescribeFunc = func(ctx context.Context, id migration.TableIdentity) (schema.TableMetadata, error) {
		return schema.TableMetadata{}, errors.New("ORA-00942: table or view does not exist")
	}

	run := bridgedRun(bridgedLongEnough())
	err := fx.finalizer.Finalize(context.Background(), run)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "capturing grants")
	assert.False(t, fx.gateway.Executed("DROP TABLE"))
}
