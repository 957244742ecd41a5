// Package category computes per-class statistics of a mean grid using a
// classification grid as the grouping key, and maps the class means back
// onto the landscape for comparison.
package category

import (
	"fmt"
	"math"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/spatialcompare/internal/derived"
	"github.com/banshee-data/spatialcompare/internal/grid"
)

// ClassMean is the mean of one category.
type ClassMean struct {
	Key     Key
	Mean    float64
	Rounded int
	Cells   int // valid mean cells in the class
}

// Result holds the per-category means and the grids derived from them.
type Result struct {
	Means   []ClassMean // requested order; skipped classes omitted
	Skipped []Key       // classes with no valid cells

	CategoryMean  *grid.Grid
	Difference    *grid.Grid
	DifferencePct *grid.Grid
	Variation     *grid.Grid
}

// Lookup returns the reclassification table: key to rounded class mean.
func (r *Result) Lookup() map[Key]int {
	m := make(map[Key]int, len(r.Means))
	for _, cm := range r.Means {
		m[cm.Key] = cm.Rounded
	}
	return m
}

type options struct {
	workers int
}

// Option configures ByCategory.
type Option func(*options)

// WithWorkers bounds the number of categories evaluated concurrently.
func WithWorkers(n int) Option {
	return func(o *options) { o.workers = n }
}

// ByCategory computes the mean of mean over each requested class of class,
// then reclassifies the classification grid with the rounded means and
// derives difference and variation grids against mean and std.
//
// An empty keys slice evaluates every declared key. A class with no valid
// cells is skipped, not an error.
func ByCategory(mean, std *grid.Grid, class *Classification, variable string, keys []Key, opts ...Option) (*Result, error) {
	o := options{workers: 4}
	for _, fn := range opts {
		fn(&o)
	}
	if class == nil || class.Grid == nil {
		return nil, fmt.Errorf("%w: no classification grid", ErrUnknownVariableDomain)
	}
	if len(keys) == 0 {
		keys = class.Domain.Keys
	}
	if err := class.checkRequest(variable, keys); err != nil {
		return nil, err
	}
	for _, g := range []*grid.Grid{std, class.Grid} {
		if !g.Geometry().Equal(mean.Geometry()) {
			return nil, fmt.Errorf("category statistics: %w: %s vs %s", grid.ErrShapeMismatch, g.Geometry(), mean.Geometry())
		}
	}

	cellKeys, hasKey := class.Keys()

	slots := make([]ClassMean, len(keys))
	found := make([]bool, len(keys))
	var eg errgroup.Group
	if o.workers > 0 {
		eg.SetLimit(o.workers)
	}
	for idx, k := range keys {
		eg.Go(func() error {
			cm, ok := classMean(mean, cellKeys, hasKey, k)
			slots[idx], found[idx] = cm, ok
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	res := &Result{}
	for i, k := range keys {
		if !found[i] {
			res.Skipped = append(res.Skipped, k)
			continue
		}
		res.Means = append(res.Means, slots[i])
	}

	var err error
	res.CategoryMean = reclassify(mean.Geometry(), cellKeys, hasKey, res.Lookup())
	if res.Difference, err = grid.Sub(res.CategoryMean, mean); err != nil {
		return nil, err
	}
	if res.DifferencePct, err = grid.Div(res.Difference, mean); err != nil {
		return nil, err
	}
	if res.Variation, err = grid.Div(std, res.CategoryMean); err != nil {
		return nil, err
	}
	return res, nil
}

// classMean selects the cells of class k that hold mean data and applies
// the overall-mean policy to them.
func classMean(mean *grid.Grid, cellKeys []Key, hasKey []bool, k Key) (ClassMean, bool) {
	subset := make([]float64, mean.Len())
	cells := 0
	for i := range subset {
		if hasKey[i] && cellKeys[i] == k && mean.Valid(i) {
			subset[i] = mean.Index(i)
			cells++
			continue
		}
		subset[i] = grid.NoData
	}
	if cells == 0 {
		return ClassMean{}, false
	}
	m := derived.OverallMean(grid.MustNew(mean.Geometry(), subset))
	if math.IsNaN(m) {
		return ClassMean{}, false
	}
	return ClassMean{Key: k, Mean: m, Rounded: int(math.Round(m)), Cells: cells}, true
}

// reclassify replaces each cell's key with its lookup value; keys without
// an entry become nodata.
func reclassify(geom grid.Geometry, cellKeys []Key, hasKey []bool, lookup map[Key]int) *grid.Grid {
	out := make([]float64, geom.Len())
	for i := range out {
		out[i] = grid.NoData
		if !hasKey[i] {
			continue
		}
		if v, ok := lookup[cellKeys[i]]; ok {
			out[i] = float64(v)
		}
	}
	return grid.MustNew(geom, out)
}
