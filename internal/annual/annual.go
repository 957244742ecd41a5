// Package annual reduces a monthly water-year series to one calendar
// weighted annual total.
package annual

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/banshee-data/spatialcompare/internal/calendar"
	"github.com/banshee-data/spatialcompare/internal/grid"
)

var (
	// ErrMisalignedLayers is returned when bands of one series differ in shape.
	ErrMisalignedLayers = errors.New("misaligned layers")
	// ErrLayerCount is returned when a series does not hold one band per month.
	ErrLayerCount = errors.New("wrong layer count")
)

// Aggregate sums the twelve bands of series weighted by days in month.
//
// Nodata and negative cells are zeroed before weighting, so the result has
// no invalid cells. The output origin is the input's lower-left cell centre
// and the cell size is taken from the first band.
func Aggregate(series *grid.TimeSeries) (*grid.Grid, error) {
	if series == nil {
		return nil, fmt.Errorf("%w: nil series", ErrLayerCount)
	}
	if len(series.Layers) != calendar.Bands {
		return nil, fmt.Errorf("%w: %s has %d layers, want %d", ErrLayerCount, series.Source, len(series.Layers), calendar.Bands)
	}

	base := series.Layers[0].Geometry()
	for p, layer := range series.Layers[1:] {
		if !layer.Geometry().SameShape(base) {
			return nil, fmt.Errorf("%w: %s band %d is %dx%d, band 0 is %dx%d", ErrMisalignedLayers,
				series.Source, p+1, layer.Geometry().Cols, layer.Geometry().Rows, base.Cols, base.Rows)
		}
	}

	sum := make([]float64, base.Len())
	for p, layer := range series.Layers {
		days, err := calendar.Weight(p, series.Year)
		if err != nil {
			return nil, err
		}
		floats.AddScaled(sum, float64(days), clean(layer))
	}

	out := base.Shifted(base.CellWidth/2, base.CellHeight/2)
	return grid.New(out, sum)
}

// clean returns the band with nodata and negative values replaced by zero.
// Negative magnitudes are noise for this quantity, not signal.
func clean(layer *grid.Grid) []float64 {
	v := layer.Values()
	for i, x := range v {
		if math.IsNaN(x) || x < 0 {
			v[i] = 0
		}
	}
	return v
}
