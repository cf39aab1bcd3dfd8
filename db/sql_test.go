package db

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGateway(t *testing.T) *SQL {
	t.Helper()

	conn, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return NewSQL(Config{DB: conn})
}

func TestSQL_ExecuteAndQueryInt(t *testing.T) {
	gw := newTestGateway(t)
	ctx := context.Background()

	require.NoError(t, gw.Execute(ctx, "CREATE TABLE events (id INTEGER PRIMARY KEY, payload TEXT)"))
	require.NoError(t, gw.Execute(ctx, "INSERT INTO events (id, payload) VALUES (1, 'a')"))
	require.NoError(t, gw.Execute(ctx, "INSERT INTO events (id, payload) VALUES (2, 'b')"))

	n, err := gw.QueryInt(ctx, "SELECT COUNT(*) FROM events")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestSQL_Query_IteratesRows(t *testing.T) {
	gw := newTestGateway(t)
	ctx := context.Background()

	require.NoError(t, gw.Execute(ctx, "CREATE TABLE events (id INTEGER PRIMARY KEY, payload TEXT)"))
	require.NoError(t, gw.Execute(ctx, "INSERT INTO events (id, payload) VALUES (1, 'a'), (2, 'b')"))

	var payloads []string
	err := gw.Query(ctx, "SELECT payload FROM events ORDER BY id", func(s Scanner) error {
		var p string
		if err := s.Scan(&p); err != nil {
			return err
		}
		payloads = append(payloads, p)
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, payloads)
}

func TestSQL_Query_PropagatesRowFuncError(t *testing.T) {
	gw := newTestGateway(t)
	ctx := context.Background()

	require.NoError(t, gw.Execute(ctx, "CREATE TABLE events (id INTEGER PRIMARY KEY)"))
	require.NoError(t, gw.Execute(ctx, "INSERT INTO events (id) VALUES (1)"))

	rowErr := errors.New("row rejected")
	err := gw.Query(ctx, "SELECT id FROM events", func(Scanner) error {
		return rowErr
	})

	assert.ErrorIs(t, err, rowErr)
}

func TestSQL_Execute_SurfacesStatementError(t *testing.T) {
	gw := newTestGateway(t)

	err := gw.Execute(context.Background(), "ALTER TABLE missing RENAME TO elsewhere")
	assert.Error(t, err)
}

func TestNewSQL_DefaultTimeout(t *testing.T) {
	gw := NewSQL(Config{})
	assert.Equal(t, 5*time.Minute, gw.timeout)

	custom := NewSQL(Config{StatementTimeout: time.Second})
	assert.Equal(t, time.Second, custom.timeout)
}

func TestValueScanner_Scan(t *testing.T) {
	t.Run("scans supported types", func(t *testing.T) {
		row := ValueScanner{"P1", 3, int64(100), true}

		var name string
		var pos int
		var rows int64
		var ok bool
		require.NoError(t, row.Scan(&name, &pos, &rows, &ok))

		assert.Equal(t, "P1", name)
		assert.Equal(t, 3, pos)
		assert.Equal(t, int64(100), rows)
		assert.True(t, ok)
	})

	t.Run("rejects destination count mismatch", func(t *testing.T) {
		row := ValueScanner{"P1", 3}
		var name string
		assert.Error(t, row.Scan(&name))
	})

	t.Run("rejects type mismatch", func(t *testing.T) {
		row := ValueScanner{"P1"}
		var n int64
		assert.Error(t, row.Scan(&n))
	})
}
