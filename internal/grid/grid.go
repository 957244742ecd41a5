package grid

import (
	"fmt"
	"math"
)

// NoData is the in-memory invalid cell marker.
var NoData = math.NaN()

// IsNoData reports whether v marks an invalid cell.
func IsNoData(v float64) bool { return math.IsNaN(v) }

// Grid is an immutable raster. The zero value is not usable; build grids
// with New, Fill, Empty or FromRows.
type Grid struct {
	geom  Geometry
	cells []float64 // row-major, row 0 north
}

// New returns a grid holding a copy of values.
func New(geom Geometry, values []float64) (*Grid, error) {
	if err := geom.Validate(); err != nil {
		return nil, err
	}
	if len(values) != geom.Len() {
		return nil, fmt.Errorf("%w: %d values for %dx%d grid", ErrShapeMismatch, len(values), geom.Cols, geom.Rows)
	}
	cells := make([]float64, len(values))
	copy(cells, values)
	return &Grid{geom: geom, cells: cells}, nil
}

// MustNew is New for callers with statically valid input, such as tests.
func MustNew(geom Geometry, values []float64) *Grid {
	g, err := New(geom, values)
	if err != nil {
		panic(err)
	}
	return g
}

// Fill returns a grid with every cell set to v.
func Fill(geom Geometry, v float64) (*Grid, error) {
	if err := geom.Validate(); err != nil {
		return nil, err
	}
	cells := make([]float64, geom.Len())
	for i := range cells {
		cells[i] = v
	}
	return &Grid{geom: geom, cells: cells}, nil
}

// Empty returns a grid with every cell invalid.
func Empty(geom Geometry) (*Grid, error) { return Fill(geom, NoData) }

// FromRows builds a grid from row slices, north row first.
func FromRows(originX, originY, cellWidth, cellHeight float64, rows [][]float64) (*Grid, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("no rows")
	}
	geom := Geometry{
		Cols: len(rows[0]), Rows: len(rows),
		OriginX: originX, OriginY: originY,
		CellWidth: cellWidth, CellHeight: cellHeight,
	}
	values := make([]float64, 0, geom.Len())
	for i, r := range rows {
		if len(r) != geom.Cols {
			return nil, fmt.Errorf("%w: row %d has %d cols, want %d", ErrShapeMismatch, i, len(r), geom.Cols)
		}
		values = append(values, r...)
	}
	return New(geom, values)
}

// adopt wraps cells without copying. Only for slices the caller owns.
func adopt(geom Geometry, cells []float64) *Grid {
	return &Grid{geom: geom, cells: cells}
}

// Geometry returns the grid's placement.
func (g *Grid) Geometry() Geometry { return g.geom }

// Len returns the number of cells.
func (g *Grid) Len() int { return len(g.cells) }

// At returns the value at (row, col).
func (g *Grid) At(row, col int) float64 { return g.cells[row*g.geom.Cols+col] }

// Index returns the value at flat index i.
func (g *Grid) Index(i int) float64 { return g.cells[i] }

// Valid reports whether flat index i holds data.
func (g *Grid) Valid(i int) bool { return !math.IsNaN(g.cells[i]) }

// Values returns a copy of the cells in row-major order.
func (g *Grid) Values() []float64 {
	out := make([]float64, len(g.cells))
	copy(out, g.cells)
	return out
}

// ValidCount returns the number of cells holding data.
func (g *Grid) ValidCount() int {
	n := 0
	for _, v := range g.cells {
		if !math.IsNaN(v) {
			n++
		}
	}
	return n
}

// WithGeometry returns a copy of g placed at geom. The shape must match.
func (g *Grid) WithGeometry(geom Geometry) (*Grid, error) {
	if !g.geom.SameShape(geom) {
		return nil, fmt.Errorf("%w: %s vs %s", ErrShapeMismatch, g.geom, geom)
	}
	return New(geom, g.cells)
}
