package schema

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

var eventsTable = migration.TableIdentity{Schema: "APP", Name: "EVENTS"}

// dictionaryGateway replays canned dictionary rows keyed by the dictionary
// view each query reads.
func dictionaryGateway(rows map[string][]db.ValueScanner) *db.MockGateway {
	return &db.MockGateway{
		QueryFunc: func(ctx context.Context, stmt string, fn func(db.Scanner) error) error {
			for view, viewRows := range rows {
				if strings.Contains(stmt, view) {
					for _, r := range viewRows {
						if err := fn(r); err != nil {
							return err
						}
					}
					return nil
				}
			}
			return nil
		},
	}
}

func TestSQL_Describe(t *testing.T) {
	gw := dictionaryGateway(map[string][]db.ValueScanner{
		"all_tab_columns": {
			{"ID", "NUMBER(19)", "N"},
			{"CREATED_AT", "DATE", "N"},
			{"PAYLOAD", "VARCHAR2(4000)", "Y"},
		},
		"all_constraints": {
			{"ID"},
		},
		"all_indexes": {
			{"EVENTS_PK", "ID", "UNIQUE"},
			{"EVENTS_CREATED_IX", "CREATED_AT", "NONUNIQUE"},
			{"EVENTS_CREATED_IX", "PAYLOAD", "NONUNIQUE"},
		},
		"all_tab_privs": {
			{"REPORTING", "SELECT"},
			{"LOADER", "INSERT"},
		},
	})

	meta, err := NewSQL(gw).Describe(context.Background(), eventsTable)
	require.NoError(t, err)

	assert.Equal(t, []string{"ID", "CREATED_AT", "PAYLOAD"}, meta.ColumnNames())
	assert.False(t, meta.Columns[0].Nullable)
	assert.True(t, meta.Columns[2].Nullable)
	assert.Equal(t, []string{"ID"}, meta.PrimaryKey)

	require.Len(t, meta.Indexes, 2)
	assert.Equal(t, Index{Name: "EVENTS_PK", Columns: []string{"ID"}, Unique: true}, meta.Indexes[0])
	assert.Equal(t, Index{Name: "EVENTS_CREATED_IX", Columns: []string{"CREATED_AT", "PAYLOAD"}, Unique: false}, meta.Indexes[1])

	assert.Equal(t, []Grant{{Grantee: "REPORTING", Privilege: "SELECT"}, {Grantee: "LOADER", Privilege: "INSERT"}}, meta.Grants)
}

func TestSQL_Describe_TableWithoutPrimaryKey(t *testing.T) {
	gw := dictionaryGateway(map[string][]db.ValueScanner{
		"all_tab_columns": {
			{"ID", "NUMBER(19)", "N"},
		},
	})

	meta, err := NewSQL(gw).Describe(context.Background(), eventsTable)
	require.NoError(t, err)
	assert.Empty(t, meta.PrimaryKey)
}

func TestSQL_Describe_UnknownTable(t *testing.T) {
	gw := dictionaryGateway(nil)

	_, err := NewSQL(gw).Describe(context.Background(), eventsTable)
	assert.ErrorContains(t, err, "not found in dictionary")
}

func TestSQL_Describe_RejectsUnsafeIdentifiers(t *testing.T) {
	gw := &db.MockGateway{}

	_, err := NewSQL(gw).Describe(context.Background(), migration.TableIdentity{Schema: "APP", Name: "EVENTS; DROP"})
	assert.Error(t, err)
	assert.Empty(t, gw.QueryCalls, "no query should be issued for an unsafe identifier")
}

func TestSQL_Describe_SurfacesQueryErrors(t *testing.T) {
	queryErr := errors.New("ORA-03113: end-of-file on communication channel")
	gw := &db.MockGateway{
		QueryFunc: func(ctx context.Context, stmt string, fn func(db.Scanner) error) error {
			return queryErr
		},
	}

	_, err := NewSQL(gw).Describe(context.Background(), eventsTable)
	assert.ErrorIs(t, err, queryErr)
}

func TestSQL_Describe_QueriesAreSchemaQualified(t *testing.T) {
	gw := dictionaryGateway(map[string][]db.ValueScanner{
		"all_tab_columns": {{"ID", "NUMBER", "N"}},
	})

	_, err := NewSQL(gw).Describe(context.Background(), eventsTable)
	require.NoError(t, err)

	for _, q := range gw.QueryCalls {
		assert.Contains(t, q, "'APP'", "dictionary query must name the owner explicitly")
	}
}
