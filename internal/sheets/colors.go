package sheets

// Color is an RGB cell background in the 0..1 range the sheet API uses.
// The three status colors are part of the observable contract: specialists
// read the appeal state off the cell color, so the codes must not drift.
type Color struct {
	Red   float64
	Green float64
	Blue  float64
}

var (
	// ColorNone is the plain white background of a fresh appeal.
	ColorNone = Color{Red: 1, Green: 1, Blue: 1}

	// ColorInWork is the warm pink marking status=in_work.
	ColorInWork = Color{Red: 1, Green: 0.8, Blue: 0.82}

	// ColorResolved is the pale green marking status=resolved.
	ColorResolved = Color{Red: 0.85, Green: 0.94, Blue: 0.83}
)
