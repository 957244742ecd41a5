// Package roi derives region-of-interest masks from a classification grid,
// a boundary polygon and an attribute query.
package roi

import (
	"fmt"
	"strings"

	"github.com/banshee-data/spatialcompare/internal/category"
	"github.com/banshee-data/spatialcompare/internal/grid"
	"github.com/banshee-data/spatialcompare/internal/mask"
)

// Query selects classification cells whose Variable is one of Keys.
type Query struct {
	Variable string
	Keys     []category.Key
}

// String renders the query in attribute-query form, e.g. VALUE IN (1, 2).
func (q Query) String() string {
	parts := make([]string, len(q.Keys))
	for i, k := range q.Keys {
		parts[i] = k.String()
	}
	return fmt.Sprintf("%s IN (%s)", q.Variable, strings.Join(parts, ", "))
}

// Point is a map coordinate.
type Point struct {
	X float64 `mapstructure:"x" json:"x"`
	Y float64 `mapstructure:"y" json:"y"`
}

// Boundary is a closed polygon ring. The closing vertex may be omitted.
type Boundary []Point

// Contains reports whether p lies inside the ring (even-odd rule).
func (b Boundary) Contains(p Point) bool {
	inside := false
	n := len(b)
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		a, c := b[i], b[j]
		if (a.Y > p.Y) != (c.Y > p.Y) &&
			p.X < (c.X-a.X)*(p.Y-a.Y)/(c.Y-a.Y)+a.X {
			inside = !inside
		}
	}
	return inside
}

// Derive returns a mask of the cells whose centre lies inside boundary and
// whose class matches q. A nil boundary selects the whole grid.
func Derive(class *category.Classification, boundary Boundary, q Query) (*grid.Grid, error) {
	if class == nil || class.Grid == nil {
		return nil, fmt.Errorf("derive mask: no classification")
	}
	if len(boundary) > 0 && len(boundary) < 3 {
		return nil, fmt.Errorf("derive mask: boundary needs at least 3 vertices, got %d", len(boundary))
	}
	if !strings.EqualFold(q.Variable, class.Domain.Variable) {
		return nil, fmt.Errorf("derive mask: %w: %s declares %q, query uses %q",
			category.ErrUnknownVariableDomain, class.Name, class.Domain.Variable, q.Variable)
	}

	want := make(map[category.Key]bool, len(q.Keys))
	for _, k := range q.Keys {
		want[k] = true
	}

	geom := class.Grid.Geometry()
	inside := make([]bool, geom.Len())
	for r := 0; r < geom.Rows; r++ {
		for c := 0; c < geom.Cols; c++ {
			i := r*geom.Cols + c
			k, ok := class.KeyAt(i)
			if !ok || (len(want) > 0 && !want[k]) {
				continue
			}
			if len(boundary) > 0 {
				x, y := geom.CellCenter(r, c)
				if !boundary.Contains(Point{X: x, Y: y}) {
					continue
				}
			}
			inside[i] = true
		}
	}
	return mask.FromBools(geom, inside)
}
