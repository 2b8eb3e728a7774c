package sheets

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestColumnLetter(t *testing.T) {
	assert.Equal(t, "A", ColumnLetter(1))
	assert.Equal(t, "H", ColumnLetter(8))
	assert.Equal(t, "Z", ColumnLetter(26))
	assert.Equal(t, "AA", ColumnLetter(27))
	assert.Equal(t, "AZ", ColumnLetter(52))
}

func TestCellA1(t *testing.T) {
	assert.Equal(t, "'appeals'!G3", CellA1("appeals", 3, 7))
	assert.Equal(t, "'лист 1'!A1", CellA1("лист 1", 1, 1))
}
