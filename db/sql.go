package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Config holds configuration for the SQL gateway.
type Config struct {
	// DB is the open database handle (required).
	DB *sql.DB

	// StatementTimeout bounds each statement and query (default: 5m).
	// Timeouts apply per statement, never per run; a step that times out
	// leaves no partial mutation because each mutating step is a single
	// statement.
	StatementTimeout time.Duration
}

// SQL is a Gateway backed by database/sql. It works with any registered
// driver; the engine itself never imports one.
type SQL struct {
	db      *sql.DB
	timeout time.Duration
}

// NewSQL creates a SQL gateway with the given configuration.
// Applies the default statement timeout if not set.
func NewSQL(cfg Config) *SQL {
	if cfg.StatementTimeout == 0 {
		cfg.StatementTimeout = 5 * time.Minute
	}
	return &SQL{
		db:      cfg.DB,
		timeout: cfg.StatementTimeout,
	}
}

// Execute runs a DDL or DML statement under the statement timeout.
func (g *SQL) Execute(ctx context.Context, stmt string) error {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	if _, err := g.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("execute failed: %w", err)
	}
	return nil
}

// QueryInt runs a single-value query under the statement timeout.
func (g *SQL) QueryInt(ctx context.Context, stmt string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	var n int64
	if err := g.db.QueryRowContext(ctx, stmt).Scan(&n); err != nil {
		return 0, fmt.Errorf("query failed: %w", err)
	}
	return n, nil
}

// Query runs a query under the statement timeout and invokes fn per row.
func (g *SQL) Query(ctx context.Context, stmt string, fn func(Scanner) error) error {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	rows, err := g.db.QueryContext(ctx, stmt)
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		if err := fn(rows); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("row iteration failed: %w", err)
	}
	return nil
}
