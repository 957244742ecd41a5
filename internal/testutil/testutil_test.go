package testutil

import (
	"math"
	"testing"

	"github.com/banshee-data/spatialcompare/internal/grid"
	"github.com/banshee-data/spatialcompare/internal/monitoring"
)

func TestBands(t *testing.T) {
	geom := grid.Geometry{Cols: 2, Rows: 1, CellWidth: 1, CellHeight: 1}
	bands := Bands(geom, []float64{1, 2})
	if len(bands) != 12 {
		t.Fatalf("len(Bands) = %d, want 12", len(bands))
	}
	AssertCells(t, []float64{1, 2}, bands[11])
}

func TestAssertCells_NaN(t *testing.T) {
	g := grid.MustNew(grid.Geometry{Cols: 2, Rows: 1, CellWidth: 1, CellHeight: 1}, []float64{math.NaN(), 1})
	fakeT := &testing.T{}
	AssertCells(fakeT, []float64{math.NaN(), 1 + 1e-12}, g)
	if fakeT.Failed() {
		t.Error("expected NaN and near-equal values to match")
	}
}

func TestMuteLogf(t *testing.T) {
	called := false
	original := monitoring.Logf
	monitoring.Logf = func(string, ...interface{}) { called = true }
	defer func() { monitoring.Logf = original }()

	t.Run("muted", func(t *testing.T) {
		MuteLogf(t)
		monitoring.Logf("hidden")
	})
	if called {
		t.Error("Logf was not muted")
	}
	monitoring.Logf("visible")
	if !called {
		t.Error("Logf was not restored")
	}
}
