// Package schema discovers table metadata: columns, primary key, index
// definitions and access grants. The migration engine treats discovery as a
// pure read returning a typed structure.
package schema

import (
	"context"

	migration "github.com/scriptautomation123/oracle-table-migration"
)

// Column describes one table column.
type Column struct {
	// Name is the column name.
	Name string

	// DataType is the full type text, e.g. "NUMBER(10)" or "VARCHAR2(200)".
	DataType string

	// Nullable reports whether the column accepts NULL.
	Nullable bool
}

// Index describes one index on a table.
type Index struct {
	// Name is the index name.
	Name string

	// Columns are the indexed columns in order.
	Columns []string

	// Unique reports whether the index enforces uniqueness.
	Unique bool
}

// Grant describes one access grant on a table.
type Grant struct {
	// Grantee is the user or role holding the privilege.
	Grantee string

	// Privilege is the granted privilege, e.g. "SELECT".
	Privilege string
}

// TableMetadata is the discovered shape of a table.
type TableMetadata struct {
	// Columns are the table's columns in dictionary order.
	Columns []Column

	// PrimaryKey are the primary key columns in key order. Empty when the
	// table has no primary key.
	PrimaryKey []string

	// Indexes are the table's indexes, the primary key index included.
	Indexes []Index

	// Grants are the access grants held on the table.
	Grants []Grant
}

// ColumnNames returns the names of all columns in order.
func (m TableMetadata) ColumnNames() []string {
	names := make([]string, len(m.Columns))
	for i, c := range m.Columns {
		names[i] = c.Name
	}
	return names
}

// Discovery supplies table metadata to the shadow builder and finalizer.
// Implementations must be pure reads, safe to call repeatedly.
type Discovery interface {
	// Describe returns the metadata of the named table.
	Describe(ctx context.Context, table migration.TableIdentity) (TableMetadata, error)
}
