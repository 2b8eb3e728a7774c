package sheets

import "fmt"

// ColumnLetter converts a 1-based column number into its A1 letter form.
func ColumnLetter(col int) string {
	s := ""
	for col > 0 {
		col--
		s = string(rune('A'+col%26)) + s
		col /= 26
	}
	return s
}

// CellA1 renders a single-cell A1 range, e.g. 'appeals'!G3.
func CellA1(sheetName string, row, col int) string {
	return fmt.Sprintf("'%s'!%s%d", sheetName, ColumnLetter(col), row)
}

// SheetA1 renders the whole-sheet range used by ListRows.
func SheetA1(sheetName string) string {
	return fmt.Sprintf("'%s'", sheetName)
}
