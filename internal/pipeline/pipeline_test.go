package pipeline

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/banshee-data/spatialcompare/internal/annual"
	"github.com/banshee-data/spatialcompare/internal/category"
	"github.com/banshee-data/spatialcompare/internal/config"
	"github.com/banshee-data/spatialcompare/internal/grid"
	"github.com/banshee-data/spatialcompare/internal/gridstore"
	"github.com/banshee-data/spatialcompare/internal/telemetry"
	"github.com/banshee-data/spatialcompare/internal/testutil"
	"github.com/banshee-data/spatialcompare/internal/timeutil"
)

var inputGeom = grid.Geometry{Cols: 3, Rows: 3, OriginX: 0, OriginY: 0, CellWidth: 30, CellHeight: 30}

// outputGeom is where annual grids land: half a cell up and right.
var outputGeom = inputGeom.Shifted(15, 15)

func newMemStore() *gridstore.FileStore {
	return gridstore.NewFileStore(gridstore.NewMemoryFileSystem(), "/data")
}

// putSource stores twelve identical bands holding vals.
func putSource(t *testing.T, s gridstore.Store, id string, vals []float64) {
	t.Helper()
	require.NoError(t, s.SaveBands(context.Background(), testutil.Bands(inputGeom, vals), id))
}

func fill(v float64) []float64 { return testutil.Fill(inputGeom.Len(), v) }

func yearConfig(year string, sources ...string) *config.RunConfig {
	return &config.RunConfig{Years: map[string]*config.YearConfig{year: {Sources: sources}}}
}

func newTestPipeline(t *testing.T, s gridstore.Store, opts ...Option) *Pipeline {
	opts = append([]Option{WithLogger(zaptest.NewLogger(t))}, opts...)
	return New(s, opts...)
}

func TestRunYear_LeapYearOnes(t *testing.T) {
	store := newMemStore()
	putSource(t, store, "ccsm4_2016", fill(1))
	putSource(t, store, "gfdl_2016", fill(1))

	res, err := newTestPipeline(t, store).RunYear(context.Background(), yearConfig("2016", "ccsm4_2016", "gfdl_2016"), 2016)
	require.NoError(t, err)

	testutil.AssertCells(t, fill(366), res.Mean)
	testutil.AssertCells(t, fill(0), res.Std)
	assert.True(t, res.Geometry.Equal(outputGeom))
	assert.Equal(t, "ccsm4_2016", res.Reference)
	assert.Equal(t, 366.0, res.Summary.OverallMean)
	testutil.AssertCells(t, fill(0), res.Summary.Deviation)
	testutil.AssertCells(t, fill(0), res.Summary.Variation)
	assert.Nil(t, res.Categories)
	assert.False(t, res.Masked)

	saved, err := store.Load(context.Background(), "2016_mean")
	require.NoError(t, err)
	testutil.AssertCells(t, fill(366), saved)
	assert.Equal(t, map[string]string{
		OutMean:      "2016_mean",
		OutStd:       "2016_std",
		OutDeviation: "2016_deviation",
		OutVariation: "2016_variation",
	}, res.Outputs)
}

func TestRunYear_MeanAndSpread(t *testing.T) {
	store := newMemStore()
	putSource(t, store, "a", fill(1))
	putSource(t, store, "b", fill(2))

	res, err := newTestPipeline(t, store).RunYear(context.Background(), yearConfig("2015", "a", "b"), 2015)
	require.NoError(t, err)

	testutil.AssertCells(t, fill(547.5), res.Mean)
	testutil.AssertCells(t, fill(182.5), res.Std)
	assert.InDelta(t, 182.5/547.5, res.Summary.Variation.Index(0), 1e-12)
}

func TestRunYear_DebugPersistsAnnualGrids(t *testing.T) {
	store := newMemStore()
	putSource(t, store, "a", fill(1))
	putSource(t, store, "b", fill(1))
	cfg := yearConfig("2015", "a", "b")
	debug := true
	cfg.Debug = &debug

	_, err := newTestPipeline(t, store).RunYear(context.Background(), cfg, 2015)
	require.NoError(t, err)

	for _, src := range []string{"a", "b"} {
		g, err := store.Load(context.Background(), AnnualID(src))
		require.NoError(t, err, src)
		testutil.AssertCells(t, fill(365), g)
	}
}

func TestRunYear_NoDebugWritesNoIntermediates(t *testing.T) {
	store := newMemStore()
	putSource(t, store, "a", fill(1))

	_, err := newTestPipeline(t, store).RunYear(context.Background(), yearConfig("2015", "a"), 2015)
	require.NoError(t, err)

	_, err = store.Load(context.Background(), AnnualID("a"))
	assert.True(t, errors.Is(err, gridstore.ErrNotFound))
}

func TestRunYear_CustomSink(t *testing.T) {
	store := newMemStore()
	putSource(t, store, "a", fill(1))
	putSource(t, store, "b", fill(3))

	var mu sync.Mutex
	got := map[string]float64{}
	sink := func(_ context.Context, source string, year int, g *grid.Grid) error {
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, 2015, year)
		got[source] = g.Index(0)
		return nil
	}

	_, err := newTestPipeline(t, store, WithDebugSink(sink)).RunYear(context.Background(), yearConfig("2015", "a", "b"), 2015)
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"a": 365, "b": 1095}, got)
}

func TestRunYear_SinkErrorAbortsRun(t *testing.T) {
	store := newMemStore()
	putSource(t, store, "a", fill(1))
	boom := errors.New("disk full")

	res, err := newTestPipeline(t, store, WithDebugSink(func(context.Context, string, int, *grid.Grid) error { return boom })).
		RunYear(context.Background(), yearConfig("2015", "a"), 2015)
	assert.True(t, errors.Is(err, boom))
	assert.Nil(t, res)
}

func TestRunYear_LayerCountMismatch(t *testing.T) {
	store := newMemStore()
	putSource(t, store, "a", fill(1))
	require.NoError(t, store.SaveBands(context.Background(), []*grid.Grid{grid.MustNew(inputGeom, fill(1))}, "short"))

	_, err := newTestPipeline(t, store).RunYear(context.Background(), yearConfig("2015", "a", "short"), 2015)
	assert.True(t, errors.Is(err, annual.ErrLayerCount))

	_, err = store.Load(context.Background(), "2015_mean")
	assert.True(t, errors.Is(err, gridstore.ErrNotFound), "failed run must not write outputs")
}

func TestRunYear_MissingSource(t *testing.T) {
	store := newMemStore()
	putSource(t, store, "a", fill(1))

	_, err := newTestPipeline(t, store).RunYear(context.Background(), yearConfig("2015", "a", "ghost"), 2015)
	assert.True(t, errors.Is(err, gridstore.ErrNotFound))
}

func TestRunYear_UnknownYear(t *testing.T) {
	_, err := newTestPipeline(t, newMemStore()).RunYear(context.Background(), yearConfig("2015", "a"), 1999)
	assert.Error(t, err)
}

func TestRunYear_CancelledContext(t *testing.T) {
	store := newMemStore()
	putSource(t, store, "a", fill(1))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestPipeline(t, store).RunYear(ctx, yearConfig("2015", "a"), 2015)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestRunYear_ReferenceSourceGeometry(t *testing.T) {
	store := newMemStore()
	putSource(t, store, "a", fill(1))

	// b sits one cell further east; aligned to a, its eastmost column is lost.
	shifted := inputGeom.Shifted(30, 0)
	require.NoError(t, store.SaveBands(context.Background(), testutil.Bands(shifted, fill(3)), "b"))

	cfg := yearConfig("2015", "a", "b")
	ref := "a"
	cfg.ReferenceSource = &ref

	res, err := newTestPipeline(t, store).RunYear(context.Background(), cfg, 2015)
	require.NoError(t, err)
	assert.True(t, res.Geometry.Equal(outputGeom))
	// column 0 of a has no b coverage: NODATA in the cross-source mean.
	nan := math.NaN()
	testutil.AssertCells(t, []float64{nan, 730, 730, nan, 730, 730, nan, 730, 730}, res.Mean)
}

func TestRunYear_BackupMask(t *testing.T) {
	store := newMemStore()
	putSource(t, store, "a", fill(1))
	nan := math.NaN()
	m := grid.MustNew(outputGeom, []float64{1, 1, 1, nan, 1, 1, 1, 1, nan})
	require.NoError(t, store.Save(context.Background(), m, "delta_mask"))

	cfg := yearConfig("2015", "a")
	use := true
	cfg.Mask = &config.MaskConfig{UseBackup: &use, BackupID: "delta_mask"}

	res, err := newTestPipeline(t, store).RunYear(context.Background(), cfg, 2015)
	require.NoError(t, err)
	assert.True(t, res.Masked)
	testutil.AssertCells(t, []float64{365, 365, 365, nan, 365, 365, 365, 365, nan}, res.Mean)
	testutil.AssertCells(t, []float64{0, 0, 0, nan, 0, 0, 0, 0, nan}, res.Std)
}

func TestRunYear_DerivedMask(t *testing.T) {
	store := newMemStore()
	putSource(t, store, "a", fill(1))
	eco := grid.MustNew(outputGeom, []float64{
		3, 3, 4,
		4, 5, 5,
		3, 4, 5,
	})
	require.NoError(t, store.Save(context.Background(), eco, "ecoregions"))

	cfg := yearConfig("2015", "a")
	cfg.Mask = &config.MaskConfig{ClassificationID: "ecoregions", Variable: "VALUE", Keys: []string{"3", "4"}}

	res, err := newTestPipeline(t, store).RunYear(context.Background(), cfg, 2015)
	require.NoError(t, err)
	nan := math.NaN()
	testutil.AssertCells(t, []float64{365, 365, 365, 365, nan, nan, 365, 365, nan}, res.Mean)
}

func TestRunYear_DerivedTextMask(t *testing.T) {
	store := newMemStore()
	putSource(t, store, "a", fill(1))
	eco := grid.MustNew(outputGeom, []float64{
		1, 1, 2,
		2, 1, 2,
		1, 2, 2,
	})
	require.NoError(t, store.Save(context.Background(), eco, "landcover"))

	cfg := yearConfig("2015", "a")
	cfg.Mask = &config.MaskConfig{
		ClassificationID: "landcover",
		Variable:         "CLASS",
		Kind:             "text",
		Keys:             []string{"Crop"},
		AttributeTable: map[string]map[string]string{
			"1": {"CLASS": "Crop"},
			"2": {"CLASS": "Forest"},
		},
	}
	require.NoError(t, cfg.Validate())

	res, err := newTestPipeline(t, store).RunYear(context.Background(), cfg, 2015)
	require.NoError(t, err)
	nan := math.NaN()
	testutil.AssertCells(t, []float64{365, 365, nan, nan, 365, nan, 365, nan, nan}, res.Mean)
	assert.Equal(t, 365.0, res.Summary.OverallMean)
}

func TestRunYear_ZeroWorkersStillRuns(t *testing.T) {
	store := newMemStore()
	putSource(t, store, "a", fill(1))
	putSource(t, store, "b", fill(1))
	cfg := yearConfig("2015", "a", "b")
	zero := 0
	cfg.Workers = &zero

	done := make(chan error, 1)
	go func() {
		_, err := newTestPipeline(t, store).RunYear(context.Background(), cfg, 2015)
		done <- err
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("RunYear blocked with workers=0")
	}
}

func TestRunYear_MaskMissingBackup(t *testing.T) {
	store := newMemStore()
	putSource(t, store, "a", fill(1))
	cfg := yearConfig("2015", "a")
	use := true
	cfg.Mask = &config.MaskConfig{UseBackup: &use, BackupID: "nope"}

	_, err := newTestPipeline(t, store).RunYear(context.Background(), cfg, 2015)
	assert.True(t, errors.Is(err, gridstore.ErrNotFound))
}

var perCell = []float64{
	1, 1, 2,
	2, 3, 3,
	4, 4, 4,
}

func TestRunYear_NumericCategories(t *testing.T) {
	store := newMemStore()
	putSource(t, store, "a", perCell)
	putSource(t, store, "b", perCell)
	classes := grid.MustNew(outputGeom, []float64{
		1, 1, 2,
		2, 1, 2,
		3, 3, 3,
	})
	require.NoError(t, store.Save(context.Background(), classes, "landuse_2015"))

	cfg := yearConfig("2015", "a", "b")
	cfg.Years["2015"].Classification = &config.ClassificationConfig{
		ID: "landuse_2015", Variable: "VALUE", Keys: []string{"1", "2", "5"},
	}

	m := telemetry.New()
	res, err := newTestPipeline(t, store, WithMetrics(m)).RunYear(context.Background(), cfg, 2015)
	require.NoError(t, err)
	require.NotNil(t, res.Categories)

	cr := res.Categories
	require.Len(t, cr.Means, 2)
	assert.Equal(t, category.Numeric(1), cr.Means[0].Key)
	assert.InDelta(t, 365*5.0/3, cr.Means[0].Mean, 1e-9)
	assert.Equal(t, 608, cr.Means[0].Rounded)
	assert.Equal(t, 852, cr.Means[1].Rounded)
	assert.Equal(t, []category.Key{category.Numeric(5)}, cr.Skipped)

	nan := math.NaN()
	testutil.AssertCells(t, []float64{608, 608, 852, 852, 608, 852, nan, nan, nan}, cr.CategoryMean)
	assert.InDelta(t, 608-365.0, cr.Difference.Index(0), 1e-9)

	assert.Equal(t, "2015_category_mean", res.Outputs[OutCategoryMean])
	_, err = store.Load(context.Background(), "2015_category_cv")
	require.NoError(t, err)

	assert.Equal(t, 1.0, promtestutil.ToFloat64(m.CategoriesSkipped))
	assert.Equal(t, 1.0, promtestutil.ToFloat64(m.GridsWritten.WithLabelValues(OutDifferencePct)))
	assert.Equal(t, 1.0, promtestutil.ToFloat64(m.RunsTotal.WithLabelValues(gridstore.RunStatusSucceeded)))
}

func TestRunYear_TextCategories(t *testing.T) {
	store := newMemStore()
	putSource(t, store, "a", perCell)
	classes := grid.MustNew(outputGeom, []float64{
		1, 1, 2,
		2, 1, 2,
		3, 3, 3,
	})
	require.NoError(t, store.Save(context.Background(), classes, "vegetation"))

	cfg := yearConfig("2016", "a")
	cfg.Years["2016"].Classification = &config.ClassificationConfig{
		ID:       "vegetation",
		Variable: "CLASS",
		Kind:     "text",
		Keys:     []string{"G", "P"},
		AttributeTable: map[string]map[string]string{
			"1": {"CLASS": "G"},
			"2": {"CLASS": "P"},
			"3": {"CLASS": "W"},
		},
	}

	res, err := newTestPipeline(t, store).RunYear(context.Background(), cfg, 2016)
	require.NoError(t, err)
	cr := res.Categories
	require.Len(t, cr.Means, 2)
	assert.Equal(t, category.Text("G"), cr.Means[0].Key)
	assert.InDelta(t, 366*5.0/3, cr.Means[0].Mean, 1e-9)
	assert.Empty(t, cr.Skipped)
	// W is not a declared key: those cells stay out of every class.
	assert.True(t, math.IsNaN(cr.CategoryMean.Index(6)))
}

func TestRunYear_Histograms(t *testing.T) {
	store := newMemStore()
	putSource(t, store, "a", perCell)
	dir := t.TempDir()
	html := true

	cfg := yearConfig("2015", "a")
	cfg.Histogram = &config.HistogramConfig{Min: 0, Max: 1500, BucketWidth: 100, Dir: &dir, HTML: &html}

	res, err := newTestPipeline(t, store).RunYear(context.Background(), cfg, 2015)
	require.NoError(t, err)
	require.Len(t, res.Histograms, 2)
	for _, p := range res.Histograms {
		assert.Equal(t, dir, filepath.Dir(p))
		info, err := os.Stat(p)
		require.NoError(t, err)
		assert.Greater(t, info.Size(), int64(0))
	}
}

type fakeRecorder struct {
	runs []*gridstore.Run
}

func (f *fakeRecorder) RecordRun(_ context.Context, r *gridstore.Run) (string, error) {
	f.runs = append(f.runs, r)
	return "run-1", nil
}

func TestRunYear_RecordsRuns(t *testing.T) {
	store := newMemStore()
	putSource(t, store, "a", fill(1))
	rec := &fakeRecorder{}
	clock := timeutil.NewMockClock(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	clock.SetStep(time.Second)
	p := newTestPipeline(t, store, WithRunRecorder(rec), WithClock(clock))

	res, err := p.RunYear(context.Background(), yearConfig("2015", "a", "missing"), 2015)
	require.Error(t, err)
	assert.Nil(t, res)

	putSource(t, store, "missing", fill(1))
	res, err = p.RunYear(context.Background(), yearConfig("2015", "a", "missing"), 2015)
	require.NoError(t, err)
	assert.Equal(t, "run-1", res.RunID)

	require.Len(t, rec.runs, 2)
	assert.Equal(t, gridstore.RunStatusFailed, rec.runs[0].Status)
	assert.True(t, math.IsNaN(rec.runs[0].OverallMean))
	assert.Equal(t, gridstore.RunStatusSucceeded, rec.runs[1].Status)
	assert.Equal(t, 365.0, rec.runs[1].OverallMean)
	assert.True(t, rec.runs[1].FinishedAt.After(rec.runs[1].StartedAt))
}

func TestRunYear_SQLiteStore(t *testing.T) {
	testutil.MuteLogf(t)

	store, err := gridstore.OpenSQLite(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	defer store.Close()
	putSource(t, store, "a", fill(1))
	putSource(t, store, "b", fill(1))

	res, err := newTestPipeline(t, store).RunYear(context.Background(), yearConfig("2016", "a", "b"), 2016)
	require.NoError(t, err)
	require.NotEmpty(t, res.RunID)

	run, err := store.GetRun(context.Background(), res.RunID)
	require.NoError(t, err)
	assert.Equal(t, 2016, run.Year)
	assert.Equal(t, 366.0, run.OverallMean)
	assert.Equal(t, "2016_mean", run.Outputs[OutMean])
}

func TestRunAll(t *testing.T) {
	store := newMemStore()
	putSource(t, store, "a", fill(1))
	cfg := &config.RunConfig{Years: map[string]*config.YearConfig{
		"2016": {Sources: []string{"a"}},
		"2015": {Sources: []string{"a"}},
	}}

	results, err := newTestPipeline(t, store).RunAll(context.Background(), cfg)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, 2015, results[0].Year)
	assert.Equal(t, 365.0, results[0].Summary.OverallMean)
	assert.Equal(t, 366.0, results[1].Summary.OverallMean)
}
