package grid

import (
	"fmt"
	"math"
)

// geometryTolerance bounds the float drift accepted when comparing origins
// and cell sizes, expressed as a fraction of the cell size.
const geometryTolerance = 1e-9

// Geometry describes the placement of a grid. OriginX/OriginY is the
// lower-left corner; row 0 is the northern-most row.
type Geometry struct {
	Cols       int     `json:"cols"`
	Rows       int     `json:"rows"`
	OriginX    float64 `json:"origin_x"`
	OriginY    float64 `json:"origin_y"`
	CellWidth  float64 `json:"cell_width"`
	CellHeight float64 `json:"cell_height"`
}

// Len returns the number of cells.
func (g Geometry) Len() int { return g.Cols * g.Rows }

// Validate reports whether the geometry can hold a grid.
func (g Geometry) Validate() error {
	if g.Cols <= 0 || g.Rows <= 0 {
		return fmt.Errorf("grid dimensions must be positive, got %dx%d", g.Cols, g.Rows)
	}
	if !(g.CellWidth > 0) || !(g.CellHeight > 0) {
		return fmt.Errorf("cell size must be positive, got %gx%g", g.CellWidth, g.CellHeight)
	}
	return nil
}

// SameShape reports whether two geometries have equal dimensions.
func (g Geometry) SameShape(o Geometry) bool {
	return g.Cols == o.Cols && g.Rows == o.Rows
}

// Equal reports whether two geometries are aligned: same shape, origin and
// cell size.
func (g Geometry) Equal(o Geometry) bool {
	if !g.SameShape(o) {
		return false
	}
	tolX := geometryTolerance * math.Max(g.CellWidth, o.CellWidth)
	tolY := geometryTolerance * math.Max(g.CellHeight, o.CellHeight)
	return math.Abs(g.OriginX-o.OriginX) <= tolX &&
		math.Abs(g.OriginY-o.OriginY) <= tolY &&
		math.Abs(g.CellWidth-o.CellWidth) <= tolX &&
		math.Abs(g.CellHeight-o.CellHeight) <= tolY
}

// MaxX returns the eastern edge.
func (g Geometry) MaxX() float64 { return g.OriginX + float64(g.Cols)*g.CellWidth }

// MaxY returns the northern edge.
func (g Geometry) MaxY() float64 { return g.OriginY + float64(g.Rows)*g.CellHeight }

// CellCenter returns the map coordinate of the centre of (row, col).
func (g Geometry) CellCenter(row, col int) (x, y float64) {
	x = g.OriginX + (float64(col)+0.5)*g.CellWidth
	y = g.MaxY() - (float64(row)+0.5)*g.CellHeight
	return x, y
}

// CellAt returns the (row, col) containing map coordinate (x, y).
// ok is false when the point lies outside the grid.
func (g Geometry) CellAt(x, y float64) (row, col int, ok bool) {
	if x < g.OriginX || y < g.OriginY || x >= g.MaxX() || y >= g.MaxY() {
		return 0, 0, false
	}
	col = int(math.Floor((x - g.OriginX) / g.CellWidth))
	row = int(math.Floor((g.MaxY() - y) / g.CellHeight))
	if col >= g.Cols || row >= g.Rows || col < 0 || row < 0 {
		return 0, 0, false
	}
	return row, col, true
}

// Shifted returns a copy of g with the origin moved by (dx, dy).
func (g Geometry) Shifted(dx, dy float64) Geometry {
	g.OriginX += dx
	g.OriginY += dy
	return g
}

func (g Geometry) String() string {
	return fmt.Sprintf("%dx%d@(%g,%g) cell=%gx%g", g.Cols, g.Rows, g.OriginX, g.OriginY, g.CellWidth, g.CellHeight)
}
