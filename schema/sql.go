package schema

import (
	"context"
	"fmt"

	migration "github.com/scriptautomation123/oracle-table-migration"
	"github.com/scriptautomation123/oracle-table-migration/db"
	"github.com/scriptautomation123/oracle-table-migration/internal/ddl"
)

// SQL is a Discovery implementation that reads the data dictionary through
// the database gateway.
type SQL struct {
	gw db.Gateway
}

// NewSQL creates a dictionary-backed Discovery.
func NewSQL(gw db.Gateway) *SQL {
	return &SQL{gw: gw}
}

// Describe reads columns, primary key, indexes and grants for the table.
func (s *SQL) Describe(ctx context.Context, table migration.TableIdentity) (TableMetadata, error) {
	if err := ddl.ValidateIdentifier(table.Schema, "schema"); err != nil {
		return TableMetadata{}, err
	}
	if err := ddl.ValidateIdentifier(table.Name, "table"); err != nil {
		return TableMetadata{}, err
	}

	var meta TableMetadata
	var err error

	if meta.Columns, err = s.columns(ctx, table); err != nil {
		return TableMetadata{}, err
	}
	if len(meta.Columns) == 0 {
		return TableMetadata{}, fmt.Errorf("table %s not found in dictionary", table.Qualified())
	}
	if meta.PrimaryKey, err = s.primaryKey(ctx, table); err != nil {
		return TableMetadata{}, err
	}
	if meta.Indexes, err = s.indexes(ctx, table); err != nil {
		return TableMetadata{}, err
	}
	if meta.Grants, err = s.grants(ctx, table); err != nil {
		return TableMetadata{}, err
	}
	return meta, nil
}

func (s *SQL) columns(ctx context.Context, table migration.TableIdentity) ([]Column, error) {
	stmt := fmt.Sprintf(`SELECT column_name, data_type, nullable FROM all_tab_columns WHERE owner = %s AND table_name = %s ORDER BY column_id`,
		ddl.Literal(table.Schema), ddl.Literal(table.Name))

	var cols []Column
	err := s.gw.Query(ctx, stmt, func(row db.Scanner) error {
		var name, dataType, nullable string
		if err := row.Scan(&name, &dataType, &nullable); err != nil {
			return err
		}
		cols = append(cols, Column{Name: name, DataType: dataType, Nullable: nullable == "Y"})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("column discovery for %s: %w", table.Qualified(), err)
	}
	return cols, nil
}

func (s *SQL) primaryKey(ctx context.Context, table migration.TableIdentity) ([]string, error) {
	stmt := fmt.Sprintf(`SELECT cc.column_name
FROM all_constraints c JOIN all_cons_columns cc
  ON c.owner = cc.owner AND c.constraint_name = cc.constraint_name
WHERE c.owner = %s AND c.table_name = %s AND c.constraint_type = 'P'
ORDER BY cc.position`,
		ddl.Literal(table.Schema), ddl.Literal(table.Name))

	var pk []string
	err := s.gw.Query(ctx, stmt, func(row db.Scanner) error {
		var col string
		if err := row.Scan(&col); err != nil {
			return err
		}
		pk = append(pk, col)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("primary key discovery for %s: %w", table.Qualified(), err)
	}
	return pk, nil
}

func (s *SQL) indexes(ctx context.Context, table migration.TableIdentity) ([]Index, error) {
	stmt := fmt.Sprintf(`SELECT i.index_name, ic.column_name, i.uniqueness
FROM all_indexes i JOIN all_ind_columns ic
  ON i.owner = ic.index_owner AND i.index_name = ic.index_name
WHERE i.table_owner = %s AND i.table_name = %s
ORDER BY i.index_name, ic.column_position`,
		ddl.Literal(table.Schema), ddl.Literal(table.Name))

	// Rows arrive one per index column; fold them into Index entries.
	var indexes []Index
	byName := map[string]int{}
	err := s.gw.Query(ctx, stmt, func(row db.Scanner) error {
		var name, col, uniqueness string
		if err := row.Scan(&name, &col, &uniqueness); err != nil {
			return err
		}
		i, ok := byName[name]
		if !ok {
			indexes = append(indexes, Index{Name: name, Unique: uniqueness == "UNIQUE"})
			i = len(indexes) - 1
			byName[name] = i
		}
		indexes[i].Columns = append(indexes[i].Columns, col)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("index discovery for %s: %w", table.Qualified(), err)
	}
	return indexes, nil
}

func (s *SQL) grants(ctx context.Context, table migration.TableIdentity) ([]Grant, error) {
	stmt := fmt.Sprintf(`SELECT grantee, privilege FROM all_tab_privs WHERE table_schema = %s AND table_name = %s ORDER BY grantee, privilege`,
		ddl.Literal(table.Schema), ddl.Literal(table.Name))

	var grants []Grant
	err := s.gw.Query(ctx, stmt, func(row db.Scanner) error {
		var grantee, privilege string
		if err := row.Scan(&grantee, &privilege); err != nil {
			return err
		}
		grants = append(grants, Grant{Grantee: grantee, Privilege: privilege})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("grant discovery for %s: %w", table.Qualified(), err)
	}
	return grants, nil
}

var _ Discovery = (*SQL)(nil)
