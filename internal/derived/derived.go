// Package derived computes normalised comparison metrics from cross-source
// mean and standard deviation grids.
package derived

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/banshee-data/spatialcompare/internal/grid"
)

// OverallMean returns the mean over the non-zero cells of g. Nodata counts
// as zero and zero cells are left out of the denominator.
//
// Treating zero as missing only holds for quantities where a true zero
// does not occur (annual evapotranspiration over cropped land). Returns
// NaN when no cell is non-zero.
func OverallMean(g *grid.Grid) float64 {
	v := g.Values()
	nonZero := 0
	for i, x := range v {
		if math.IsNaN(x) {
			v[i] = 0
			continue
		}
		if x != 0 {
			nonZero++
		}
	}
	if nonZero == 0 {
		return math.NaN()
	}
	return floats.Sum(v) / float64(nonZero)
}

// DeviationFromMean returns (cell - m) / m for every cell. An undefined or
// zero m marks every cell invalid rather than failing.
func DeviationFromMean(g *grid.Grid, m float64) *grid.Grid {
	if m == 0 || math.IsNaN(m) || math.IsInf(m, 0) {
		return g.Map(func(float64) float64 { return grid.NoData })
	}
	return g.Map(func(v float64) float64 { return grid.SafeDiv(v-m, m) })
}

// CoefficientOfVariation returns std / mean per cell. Zero means produce
// invalid cells.
func CoefficientOfVariation(std, mean *grid.Grid) (*grid.Grid, error) {
	cv, err := grid.Div(std, mean)
	if err != nil {
		return nil, fmt.Errorf("coefficient of variation: %w", err)
	}
	return cv, nil
}

// Summary holds the scalar outputs of one derivation.
type Summary struct {
	OverallMean float64
	Deviation   *grid.Grid
	Variation   *grid.Grid
}

// Derive runs the full metric set over a mean and std grid pair.
func Derive(mean, std *grid.Grid) (*Summary, error) {
	m := OverallMean(mean)
	cv, err := CoefficientOfVariation(std, mean)
	if err != nil {
		return nil, err
	}
	return &Summary{
		OverallMean: m,
		Deviation:   DeviationFromMean(mean, m),
		Variation:   cv,
	}, nil
}
