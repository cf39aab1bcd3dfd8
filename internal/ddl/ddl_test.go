package ddl

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateIdentifier(t *testing.T) {
	t.Run("accepts plain identifiers", func(t *testing.T) {
		assert.NoError(t, ValidateIdentifier("EVENTS", "table"))
		assert.NoError(t, ValidateIdentifier("events_mig", "table"))
		assert.NoError(t, ValidateIdentifier("T$AUX", "table"))
	})

	t.Run("rejects empty", func(t *testing.T) {
		err := ValidateIdentifier("", "table")
		assert.ErrorContains(t, err, "table cannot be empty")
	})

	t.Run("rejects injection attempts", func(t *testing.T) {
		assert.Error(t, ValidateIdentifier("EVENTS; DROP TABLE X", "table"))
		assert.Error(t, ValidateIdentifier("EVENTS OLD", "table"))
		assert.Error(t, ValidateIdentifier("1EVENTS", "table"))
	})
}

func TestQualify(t *testing.T) {
	assert.Equal(t, "APP.EVENTS", Qualify("APP", "EVENTS"))
}

func TestLiteral(t *testing.T) {
	assert.Equal(t, "'EVENTS'", Literal("events"))
	assert.Equal(t, "'O''BRIEN'", Literal("o'brien"))
}

func TestColumnLists(t *testing.T) {
	cols := []string{"ID", "CREATED_AT", "PAYLOAD"}
	assert.Equal(t, "ID, CREATED_AT, PAYLOAD", ColumnList(cols))
	assert.Equal(t, ":NEW.ID, :NEW.CREATED_AT, :NEW.PAYLOAD", PrefixedColumnList(":NEW.", cols))
}
