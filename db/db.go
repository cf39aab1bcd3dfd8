// Package db provides the database gateway the migration engine issues all
// statements and queries through. Identifiers are always schema-qualified by
// callers; every call carries an explicit timeout via its context or the
// gateway's configured statement timeout.
package db

import (
	"context"
	"fmt"
)

// Scanner scans one result row into destination values.
type Scanner interface {
	Scan(dest ...any) error
}

// Gateway executes statements and queries against the target database.
// Implementations must be safe for concurrent use.
type Gateway interface {
	// Execute runs a DDL or DML statement and returns any error.
	Execute(ctx context.Context, stmt string) error

	// QueryInt runs a single-row, single-column query and returns the
	// value as int64.
	QueryInt(ctx context.Context, stmt string) (int64, error)

	// Query runs a query and invokes fn once per result row.
	Query(ctx context.Context, stmt string, fn func(Scanner) error) error
}

// ValueScanner is a Scanner over a fixed slice of values, for tests and
// application-level routing that replay rows outside database/sql.
type ValueScanner []any

// Scan copies the row's values into dest. It supports the destination types
// the engine scans into: *string, *int, *int64 and *bool.
func (r ValueScanner) Scan(dest ...any) error {
	if len(dest) != len(r) {
		return fmt.Errorf("scan: expected %d destinations, got %d", len(r), len(dest))
	}
	for i, d := range dest {
		switch out := d.(type) {
		case *string:
			s, ok := r[i].(string)
			if !ok {
				return fmt.Errorf("scan: column %d is %T, not string", i, r[i])
			}
			*out = s
		case *int64:
			switch v := r[i].(type) {
			case int64:
				*out = v
			case int:
				*out = int64(v)
			default:
				return fmt.Errorf("scan: column %d is %T, not int64", i, r[i])
			}
		case *int:
			switch v := r[i].(type) {
			case int:
				*out = v
			case int64:
				*out = int(v)
			default:
				return fmt.Errorf("scan: column %d is %T, not int", i, r[i])
			}
		case *bool:
			b, ok := r[i].(bool)
			if !ok {
				return fmt.Errorf("scan: column %d is %T, not bool", i, r[i])
			}
			*out = b
		default:
			return fmt.Errorf("scan: unsupported destination type %T", d)
		}
	}
	return nil
}
