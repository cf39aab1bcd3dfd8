// Package ddl holds helpers for building schema-qualified statement text.
// Every identifier passes validation before it is interpolated, so no table
// or column name supplied by configuration can smuggle statement text.
package ddl

import (
	"fmt"
	"regexp"
	"strings"
)

var identifierRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_$#]*$`)

// ValidateIdentifier ensures an identifier contains only safe characters for
// SQL. Returns an error naming the offending field otherwise.
func ValidateIdentifier(name, fieldName string) error {
	if name == "" {
		return fmt.Errorf("%s cannot be empty", fieldName)
	}
	if !identifierRegex.MatchString(name) {
		return fmt.Errorf("%s must start with a letter and contain only letters, numbers, underscores, $ or # (got: %s)", fieldName, name)
	}
	return nil
}

// Qualify returns the schema-qualified form of a table name.
func Qualify(schema, name string) string {
	return fmt.Sprintf("%s.%s", schema, name)
}

// Literal returns an upper-cased single-quoted string literal for use in
// data dictionary predicates.
func Literal(s string) string {
	return fmt.Sprintf("'%s'", strings.ToUpper(strings.ReplaceAll(s, "'", "''")))
}

// ColumnList joins column names with commas.
func ColumnList(cols []string) string {
	return strings.Join(cols, ", ")
}

// PrefixedColumnList joins column names with commas, prefixing each, e.g.
// PrefixedColumnList(":NEW.", cols) for trigger bodies.
func PrefixedColumnList(prefix string, cols []string) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = prefix + c
	}
	return strings.Join(parts, ", ")
}
