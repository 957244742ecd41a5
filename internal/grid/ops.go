package grid

import "math"

// Map applies fn to every cell, including invalid ones.
func (g *Grid) Map(fn func(v float64) float64) *Grid {
	out := make([]float64, len(g.cells))
	for i, v := range g.cells {
		out[i] = fn(v)
	}
	return adopt(g.geom, out)
}

// Scale multiplies every cell by k. Invalid cells stay invalid.
func (g *Grid) Scale(k float64) *Grid {
	return g.Map(func(v float64) float64 { return v * k })
}

// Add returns a + b. A cell is invalid if either input is.
func Add(a, b *Grid) (*Grid, error) {
	return zip("add", a, b, func(x, y float64) float64 { return x + y })
}

// Sub returns a - b. A cell is invalid if either input is.
func Sub(a, b *Grid) (*Grid, error) {
	return zip("sub", a, b, func(x, y float64) float64 { return x - y })
}

// Div returns a / b. Zero denominators produce invalid cells.
func Div(a, b *Grid) (*Grid, error) {
	return zip("div", a, b, SafeDiv)
}

// SafeDiv divides x by y, returning NoData when y is zero or either operand
// is invalid.
func SafeDiv(x, y float64) float64 {
	if y == 0 || math.IsNaN(x) || math.IsNaN(y) {
		return NoData
	}
	q := x / y
	if math.IsInf(q, 0) {
		return NoData
	}
	return q
}

func zip(op string, a, b *Grid, fn func(x, y float64) float64) (*Grid, error) {
	if err := checkAligned(op, a, b); err != nil {
		return nil, err
	}
	out := make([]float64, len(a.cells))
	for i := range out {
		x, y := a.cells[i], b.cells[i]
		if math.IsNaN(x) || math.IsNaN(y) {
			out[i] = NoData
			continue
		}
		out[i] = fn(x, y)
	}
	return adopt(a.geom, out), nil
}
