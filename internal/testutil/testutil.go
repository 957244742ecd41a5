// Package testutil provides shared test helpers for grid fixtures.
package testutil

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/banshee-data/spatialcompare/internal/calendar"
	"github.com/banshee-data/spatialcompare/internal/grid"
	"github.com/banshee-data/spatialcompare/internal/monitoring"
)

// Fill returns n copies of v.
func Fill(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

// Bands returns a full water year of identical bands holding vals.
func Bands(geom grid.Geometry, vals []float64) []*grid.Grid {
	bands := make([]*grid.Grid, calendar.Bands)
	for i := range bands {
		bands[i] = grid.MustNew(geom, vals)
	}
	return bands
}

// AssertCells compares g's cells with want. NaN equals NaN and values
// within 1e-9 are equal.
func AssertCells(t *testing.T, want []float64, g *grid.Grid) {
	t.Helper()
	if g == nil {
		t.Fatalf("grid is nil")
	}
	if d := cmp.Diff(want, g.Values(), cmpopts.EquateNaNs(), cmpopts.EquateApprox(0, 1e-9)); d != "" {
		t.Errorf("cells mismatch (-want +got):\n%s", d)
	}
}

// MuteLogf silences monitoring.Logf for the rest of the test.
func MuteLogf(t *testing.T) {
	t.Helper()
	original := monitoring.Logf
	monitoring.SetLogf(nil)
	t.Cleanup(func() { monitoring.Logf = original })
}
