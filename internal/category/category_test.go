package category

import (
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/spatialcompare/internal/grid"
)

var geom = grid.Geometry{Cols: 3, Rows: 2, CellWidth: 30, CellHeight: 30}

// numericClass has codes 1 and 2 declared; 9 appears in the grid but is
// not declared.
func numericClass() *Classification {
	return &Classification{
		Name: "landuse_2016",
		Grid: grid.MustNew(geom, []float64{1, 1, 2, 2, 9, grid.NoData}),
		Domain: Domain{
			Variable: "VALUE",
			Keys:     []Key{Numeric(1), Numeric(2), Numeric(3)},
		},
	}
}

func TestByCategory_NumericCodes(t *testing.T) {
	mean := grid.MustNew(geom, []float64{10, 20, 100, 101, 50, 60})
	std := grid.MustNew(geom, []float64{1, 2, 10, 10, 5, 6})

	res, err := ByCategory(mean, std, numericClass(), "VALUE", []Key{Numeric(1), Numeric(2), Numeric(3)})
	require.NoError(t, err)

	require.Len(t, res.Means, 2)
	assert.Equal(t, Numeric(1), res.Means[0].Key)
	assert.Equal(t, 15.0, res.Means[0].Mean)
	assert.Equal(t, 15, res.Means[0].Rounded)
	assert.Equal(t, 100.5, res.Means[1].Mean)
	assert.Equal(t, 101, res.Means[1].Rounded)
	assert.Equal(t, []Key{Numeric(3)}, res.Skipped, "absent key is skipped, not an error")

	opt := cmpopts.EquateNaNs()
	wantCat := []float64{15, 15, 101, 101, math.NaN(), math.NaN()}
	if d := cmp.Diff(wantCat, res.CategoryMean.Values(), opt); d != "" {
		t.Errorf("category mean mismatch (-want +got):\n%s", d)
	}
	wantDiff := []float64{5, -5, 1, 0, math.NaN(), math.NaN()}
	if d := cmp.Diff(wantDiff, res.Difference.Values(), opt); d != "" {
		t.Errorf("difference mismatch (-want +got):\n%s", d)
	}
	assert.Equal(t, 0.5, res.DifferencePct.Index(0))
	assert.InDelta(t, 1.0/15, res.Variation.Index(0), 1e-12)
	assert.InDelta(t, 10.0/101, res.Variation.Index(2), 1e-12)
}

func TestByCategory_TextLabels(t *testing.T) {
	class := &Classification{
		Name: "landuse_2014",
		Grid: grid.MustNew(geom, []float64{10, 10, 20, 30, 30, 40}),
		Table: AttributeTable{
			10: {"CLASS1": Text("G")},
			20: {"CLASS1": Text("P")},
			30: {"CLASS1": Text("G")},
			40: {"CLASS1": Text("X")}, // undeclared label
		},
		Domain: Domain{Variable: "CLASS1", Keys: []Key{Text("G"), Text("P")}},
	}
	mean := grid.MustNew(geom, []float64{2, 4, 8, 6, 8, 100})
	std := grid.MustNew(geom, []float64{1, 1, 1, 1, 1, 1})

	res, err := ByCategory(mean, std, class, "class1", nil)
	require.NoError(t, err)

	assert.Equal(t, map[Key]int{Text("G"): 5, Text("P"): 8}, res.Lookup())
	assert.False(t, res.CategoryMean.Valid(5), "undeclared label must not be merged into any class")
	assert.Equal(t, 5.0, res.CategoryMean.Index(0))
}

func TestByCategory_ZeroMeanCellsExcludedFromClassMean(t *testing.T) {
	mean := grid.MustNew(geom, []float64{0, 30, 0, 0, 1, 1})
	std := grid.MustNew(geom, []float64{0, 0, 0, 0, 0, 0})

	res, err := ByCategory(mean, std, numericClass(), "VALUE", []Key{Numeric(1), Numeric(2)})
	require.NoError(t, err)

	require.Len(t, res.Means, 1)
	assert.Equal(t, 30.0, res.Means[0].Mean)
	assert.Equal(t, []Key{Numeric(2)}, res.Skipped, "all-zero class has undefined mean")
}

func TestByCategory_UnknownDomain(t *testing.T) {
	mean := grid.MustNew(geom, []float64{1, 1, 1, 1, 1, 1})

	_, err := ByCategory(mean, mean, numericClass(), "CLASS1", nil)
	assert.True(t, errors.Is(err, ErrUnknownVariableDomain))

	_, err = ByCategory(mean, mean, numericClass(), "VALUE", []Key{Numeric(9)})
	assert.True(t, errors.Is(err, ErrUnknownVariableDomain))

	_, err = ByCategory(mean, mean, numericClass(), "VALUE", []Key{Text("1")})
	assert.True(t, errors.Is(err, ErrUnknownVariableDomain), "text key does not match numeric domain")
}

func TestByCategory_Misaligned(t *testing.T) {
	mean := grid.MustNew(geom, []float64{1, 1, 1, 1, 1, 1})
	std := grid.MustNew(geom.Shifted(30, 0), []float64{1, 1, 1, 1, 1, 1})

	_, err := ByCategory(mean, std, numericClass(), "VALUE", nil)
	assert.True(t, errors.Is(err, grid.ErrShapeMismatch))
}

func TestByCategory_WorkerCountDoesNotChangeResult(t *testing.T) {
	mean := grid.MustNew(geom, []float64{10, 20, 100, 101, 50, 60})
	a, err := ByCategory(mean, mean, numericClass(), "VALUE", nil, WithWorkers(1))
	require.NoError(t, err)
	b, err := ByCategory(mean, mean, numericClass(), "VALUE", nil, WithWorkers(8))
	require.NoError(t, err)

	assert.Equal(t, a.Means, b.Means)
	assert.Equal(t, a.Skipped, b.Skipped)
}

func TestKey(t *testing.T) {
	assert.Equal(t, "12", Numeric(12).String())
	assert.Equal(t, "'Grain'", Text("Grain").String())
	assert.Equal(t, "'O''Neil'", Text("O'Neil").String())
	assert.NotEqual(t, Numeric(1), Text("1"))

	k, err := ParseKey(KindText, "'G'")
	require.NoError(t, err)
	assert.Equal(t, Text("G"), k)

	k, err = ParseKey(KindNumeric, " 7 ")
	require.NoError(t, err)
	code, ok := k.Code()
	assert.True(t, ok)
	assert.Equal(t, 7, code)

	_, err = ParseKey(KindNumeric, "G")
	assert.Error(t, err)
}

func TestCatalog(t *testing.T) {
	c := Catalog{2016: numericClass().Domain}
	d, err := c.Lookup(2016)
	require.NoError(t, err)
	assert.Equal(t, "VALUE", d.Variable)

	_, err = c.Lookup(2015)
	assert.True(t, errors.Is(err, ErrUnknownVariableDomain))
}
