// Package cellstats reduces several aligned grids into per-cell statistics.
//
// Reductions use NODATA semantics: a cell contributes only when every
// input holds data there. A cell missing from any input is nodata in the
// output.
package cellstats

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/spatialcompare/internal/grid"
)

var (
	// ErrNoInputs is returned when no grids are supplied.
	ErrNoInputs = errors.New("no input grids")
	// ErrUnalignedInputs is returned when inputs do not share geometry.
	ErrUnalignedInputs = errors.New("unaligned inputs")
)

// Statistic selects the per-cell reduction.
type Statistic int

const (
	// Mean is the arithmetic mean.
	Mean Statistic = iota
	// StdDev is the population standard deviation (divides by N).
	StdDev
)

func (s Statistic) String() string {
	switch s {
	case Mean:
		return "MEAN"
	case StdDev:
		return "STD"
	default:
		return fmt.Sprintf("Statistic(%d)", int(s))
	}
}

// Combine reduces grids cell by cell with the selected statistic.
func Combine(grids []*grid.Grid, s Statistic) (*grid.Grid, error) {
	switch s {
	case Mean, StdDev:
	default:
		return nil, fmt.Errorf("unsupported statistic %v", s)
	}
	mean, std, err := CombineAll(grids)
	if err != nil {
		return nil, err
	}
	if s == Mean {
		return mean, nil
	}
	return std, nil
}

// CombineAll computes the mean and population standard deviation grids in
// one pass over the inputs.
func CombineAll(grids []*grid.Grid) (mean, std *grid.Grid, err error) {
	if len(grids) == 0 {
		return nil, nil, ErrNoInputs
	}
	geom := grids[0].Geometry()
	for i, g := range grids[1:] {
		if !g.Geometry().Equal(geom) {
			return nil, nil, fmt.Errorf("%w: input %d is %s, input 0 is %s", ErrUnalignedInputs, i+1, g.Geometry(), geom)
		}
	}

	n := geom.Len()
	means := make([]float64, n)
	stds := make([]float64, n)
	buf := make([]float64, len(grids))

cells:
	for i := 0; i < n; i++ {
		for k, g := range grids {
			v := g.Index(i)
			if math.IsNaN(v) {
				means[i], stds[i] = grid.NoData, grid.NoData
				continue cells
			}
			buf[k] = v
		}
		means[i], stds[i] = meanStd(buf)
	}

	if mean, err = grid.New(geom, means); err != nil {
		return nil, nil, err
	}
	if std, err = grid.New(geom, stds); err != nil {
		return nil, nil, err
	}
	return mean, std, nil
}

func meanStd(x []float64) (float64, float64) {
	if len(x) == 1 {
		return x[0], 0
	}
	m, v := stat.PopMeanVariance(x, nil)
	if v < 0 {
		// Rounding in the compensated sum can dip just below zero.
		v = 0
	}
	return m, math.Sqrt(v)
}
