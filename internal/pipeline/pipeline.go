// Package pipeline runs the yearly comparison: per-source annual totals,
// cross-source mean and spread, masking, derived metrics and per-category
// statistics, persisting each output grid to a store.
package pipeline

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/spatialcompare/internal/align"
	"github.com/banshee-data/spatialcompare/internal/annual"
	"github.com/banshee-data/spatialcompare/internal/category"
	"github.com/banshee-data/spatialcompare/internal/cellstats"
	"github.com/banshee-data/spatialcompare/internal/config"
	"github.com/banshee-data/spatialcompare/internal/derived"
	"github.com/banshee-data/spatialcompare/internal/grid"
	"github.com/banshee-data/spatialcompare/internal/gridstore"
	"github.com/banshee-data/spatialcompare/internal/mask"
	"github.com/banshee-data/spatialcompare/internal/monitoring"
	"github.com/banshee-data/spatialcompare/internal/render"
	"github.com/banshee-data/spatialcompare/internal/roi"
	"github.com/banshee-data/spatialcompare/internal/telemetry"
	"github.com/banshee-data/spatialcompare/internal/timeutil"
)

// Output kinds, used as keys of Result.Outputs and as metric labels.
const (
	OutMean          = "mean"
	OutStd           = "std"
	OutDeviation     = "deviation"
	OutVariation     = "variation"
	OutCategoryMean  = "category_mean"
	OutDifference    = "difference"
	OutDifferencePct = "difference_pct"
	OutCategoryCV    = "category_cv"
)

// Pipeline runs comparison years against a grid store.
type Pipeline struct {
	store    gridstore.Store
	backend  *align.Backend
	masks    *mask.Provider
	log      *zap.Logger
	metrics  *telemetry.Metrics
	clock    timeutil.Clock
	sink     DebugSink
	recorder RunRecorder
}

// New returns a pipeline reading and writing grids through store.
func New(store gridstore.Store, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:   store,
		backend: align.NewBackend(nil),
		log:     monitoring.L().Named("pipeline"),
		clock:   timeutil.RealClock{},
	}
	for _, o := range opts {
		o(p)
	}
	if p.recorder == nil {
		if r, ok := store.(RunRecorder); ok {
			p.recorder = r
		}
	}
	return p
}

// Result describes one completed year.
type Result struct {
	RunID     string // empty when no recorder is available
	Year      int
	Sources   []string
	Reference string
	Geometry  grid.Geometry

	Mean, Std  *grid.Grid // masked when a mask is configured
	Masked     bool
	Summary    *derived.Summary
	Categories *category.Result // nil without a classification

	Outputs    map[string]string // output kind to store id
	Histograms []string          // written file paths
}

// RunAll runs every configured year in ascending order, stopping at the
// first failure.
func (p *Pipeline) RunAll(ctx context.Context, cfg *config.RunConfig) ([]*Result, error) {
	var out []*Result
	for _, year := range cfg.YearList() {
		res, err := p.RunYear(ctx, cfg, year)
		if err != nil {
			return out, fmt.Errorf("year %d: %w", year, err)
		}
		out = append(out, res)
	}
	return out, nil
}

// RunYear runs the comparison for one configured year.
func (p *Pipeline) RunYear(ctx context.Context, cfg *config.RunConfig, year int) (res *Result, err error) {
	yc, err := cfg.Year(year)
	if err != nil {
		return nil, err
	}
	start := p.clock.Now()
	log := p.log.With(zap.Int("year", year))
	log.Info("run started", zap.Strings("sources", yc.Sources))

	res = &Result{
		Year:    year,
		Sources: append([]string(nil), yc.Sources...),
		Outputs: make(map[string]string),
	}
	defer func() {
		p.finish(ctx, log, res, start, err)
		if err != nil {
			res = nil
		}
	}()

	annuals, err := p.aggregate(ctx, cfg, year, yc.Sources)
	if err != nil {
		return res, err
	}

	ref := cfg.GetReferenceSource()
	refIdx := 0
	for i, s := range yc.Sources {
		if s == ref {
			refIdx = i
		}
	}
	res.Reference = yc.Sources[refIdx]
	res.Geometry = annuals[refIdx].Geometry()

	env := align.Environment{Reference: res.Geometry, Source: res.Reference}
	err = p.backend.Scoped(env, func(s *align.Scope) error {
		return p.analyse(ctx, s, cfg, year, yc, annuals, res)
	})
	if err != nil {
		return res, err
	}

	if cfg.Histogram != nil {
		if err = p.histograms(cfg.Histogram, year, res); err != nil {
			return res, err
		}
	}
	return res, nil
}

// aggregate loads and reduces every source concurrently. The returned
// slice follows sources order.
func (p *Pipeline) aggregate(ctx context.Context, cfg *config.RunConfig, year int, sources []string) ([]*grid.Grid, error) {
	defer p.stage("aggregate")()

	sink := p.sink
	if sink == nil {
		sink = NopSink
		if cfg.GetDebug() {
			sink = StoreSink(p.store)
		}
	}

	out := make([]*grid.Grid, len(sources))
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(cfg.GetWorkers())
	for i, src := range sources {
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			bands, err := p.store.LoadBands(ctx, src)
			if err != nil {
				return fmt.Errorf("load %s: %w", src, err)
			}
			a, err := annual.Aggregate(&grid.TimeSeries{Source: src, Year: year, Layers: bands})
			if err != nil {
				return fmt.Errorf("aggregate %s: %w", src, err)
			}
			if err := sink(ctx, src, year, a); err != nil {
				return err
			}
			out[i] = a
			p.log.Debug("source aggregated", zap.String("source", src), zap.Int("year", year), zap.Stringer("geometry", a.Geometry()))
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// analyse runs every stage that depends on the reference geometry. It
// executes inside the alignment scope.
func (p *Pipeline) analyse(ctx context.Context, s *align.Scope, cfg *config.RunConfig, year int, yc *config.YearConfig, annuals []*grid.Grid, res *Result) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	aligned, err := s.AlignAll(annuals)
	if err != nil {
		return fmt.Errorf("align annual grids: %w", err)
	}

	done := p.stage("combine")
	mean, std, err := cellstats.CombineAll(aligned)
	done()
	if err != nil {
		return err
	}

	if cfg.Mask != nil {
		done = p.stage("mask")
		m, err := p.maskFor(ctx, s, cfg.Mask)
		if err != nil {
			done()
			return err
		}
		if mean, err = mask.Apply(mean, m); err != nil {
			done()
			return fmt.Errorf("mask mean: %w", err)
		}
		if std, err = mask.Apply(std, m); err != nil {
			done()
			return fmt.Errorf("mask std: %w", err)
		}
		done()
		res.Masked = true
	}
	res.Mean, res.Std = mean, std

	out := yc.Outputs
	if err := p.save(ctx, res, mean, OutMean, cfg.OutputID(year, out.Mean, OutMean)); err != nil {
		return err
	}
	if err := p.save(ctx, res, std, OutStd, cfg.OutputID(year, out.Std, OutStd)); err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	done = p.stage("derive")
	summary, err := derived.Derive(mean, std)
	done()
	if err != nil {
		return err
	}
	res.Summary = summary
	p.log.Info("overall mean", zap.Int("year", year), zap.Float64("mean", summary.OverallMean))
	if err := p.save(ctx, res, summary.Deviation, OutDeviation, cfg.OutputID(year, out.Deviation, OutDeviation)); err != nil {
		return err
	}
	if err := p.save(ctx, res, summary.Variation, OutVariation, cfg.OutputID(year, out.Variation, OutVariation)); err != nil {
		return err
	}

	if yc.Classification == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.categories(ctx, s, cfg, year, yc, res)
}

func (p *Pipeline) categories(ctx context.Context, s *align.Scope, cfg *config.RunConfig, year int, yc *config.YearConfig, res *Result) error {
	defer p.stage("categories")()

	cc := yc.Classification
	dom, err := cc.Domain()
	if err != nil {
		return err
	}
	table, err := cc.Table()
	if err != nil {
		return err
	}
	cg, err := p.store.Load(ctx, cc.ID)
	if err != nil {
		return fmt.Errorf("load classification %s: %w", cc.ID, err)
	}
	if cg, err = s.Align(cg); err != nil {
		return fmt.Errorf("align classification %s: %w", cc.ID, err)
	}
	class := &category.Classification{Name: cc.ID, Grid: cg, Table: table, Domain: dom}

	cr, err := category.ByCategory(res.Mean, res.Std, class, dom.Variable, nil, category.WithWorkers(cfg.GetWorkers()))
	if err != nil {
		return err
	}
	res.Categories = cr
	for _, cm := range cr.Means {
		p.log.Debug("category mean", zap.Stringer("key", cm.Key), zap.Float64("mean", cm.Mean), zap.Int("cells", cm.Cells))
	}
	if len(cr.Skipped) > 0 {
		p.log.Warn("categories without valid cells", zap.Int("year", year), zap.Int("skipped", len(cr.Skipped)))
		if p.metrics != nil {
			p.metrics.CategoriesSkipped.Add(float64(len(cr.Skipped)))
		}
	}

	out := yc.Outputs
	for _, o := range []struct {
		g        *grid.Grid
		kind, id string
	}{
		{cr.CategoryMean, OutCategoryMean, out.CategoryMean},
		{cr.Difference, OutDifference, out.Difference},
		{cr.DifferencePct, OutDifferencePct, out.DifferencePct},
		{cr.Variation, OutCategoryCV, out.CategoryCV},
	} {
		if err := p.save(ctx, res, o.g, o.kind, cfg.OutputID(year, o.id, o.kind)); err != nil {
			return err
		}
	}
	return nil
}

// maskFor returns the run mask aligned to the scope's reference.
func (p *Pipeline) maskFor(ctx context.Context, s *align.Scope, mc *config.MaskConfig) (*grid.Grid, error) {
	provider := p.masks
	if provider == nil {
		provider = mask.NewProvider(p.store, func(ctx context.Context) (*grid.Grid, error) {
			return p.deriveMask(ctx, s, mc)
		})
	}
	m, err := provider.Mask(ctx, mask.Settings{UseBackup: mc.GetUseBackup(), BackupID: mc.BackupID})
	if err != nil {
		return nil, err
	}
	return s.Align(m)
}

func (p *Pipeline) deriveMask(ctx context.Context, s *align.Scope, mc *config.MaskConfig) (*grid.Grid, error) {
	q, err := mc.Query()
	if err != nil {
		return nil, err
	}
	table, err := mc.Table()
	if err != nil {
		return nil, err
	}
	cg, err := p.store.Load(ctx, mc.ClassificationID)
	if err != nil {
		return nil, fmt.Errorf("load mask classification %s: %w", mc.ClassificationID, err)
	}
	if cg, err = s.Align(cg); err != nil {
		return nil, err
	}
	p.log.Info("deriving mask", zap.String("classification", mc.ClassificationID), zap.Stringer("query", q))
	class := &category.Classification{
		Name:   mc.ClassificationID,
		Grid:   cg,
		Table:  table,
		Domain: category.Domain{Variable: q.Variable, Keys: q.Keys},
	}
	return roi.Derive(class, mc.Boundary, q)
}

func (p *Pipeline) save(ctx context.Context, res *Result, g *grid.Grid, kind, id string) error {
	if err := p.store.Save(ctx, g, id); err != nil {
		return fmt.Errorf("save %s: %w", kind, err)
	}
	res.Outputs[kind] = id
	if p.metrics != nil {
		p.metrics.WroteGrid(kind)
	}
	return nil
}

func (p *Pipeline) histograms(hc *config.HistogramConfig, year int, res *Result) error {
	defer p.stage("histogram")()

	h := render.Histogram{Min: hc.Min, Max: hc.Max, BucketWidth: hc.BucketWidth}
	title := fmt.Sprintf("Model annual means %d", year)
	base := filepath.Join(hc.GetDir(), fmt.Sprintf("%d_mean_histogram", year))

	if err := render.WritePNG(res.Mean, h, title, base+".png"); err != nil {
		return err
	}
	res.Histograms = append(res.Histograms, base+".png")

	if !hc.GetHTML() {
		return nil
	}
	f, err := os.Create(base + ".html")
	if err != nil {
		return fmt.Errorf("create histogram html: %w", err)
	}
	if err := render.WriteHTML(res.Mean, h, title, f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	res.Histograms = append(res.Histograms, base+".html")
	return nil
}

// finish records the run outcome.
func (p *Pipeline) finish(ctx context.Context, log *zap.Logger, res *Result, start time.Time, runErr error) {
	status := gridstore.RunStatusSucceeded
	if runErr != nil {
		status = gridstore.RunStatusFailed
		log.Error("run failed", zap.Error(runErr))
	}
	if p.metrics != nil {
		p.metrics.RunsTotal.WithLabelValues(status).Inc()
	}
	if p.recorder == nil {
		return
	}

	run := &gridstore.Run{
		Year:        res.Year,
		Sources:     res.Sources,
		Outputs:     res.Outputs,
		OverallMean: math.NaN(),
		Status:      status,
		StartedAt:   start,
		FinishedAt:  p.clock.Now(),
	}
	if res.Summary != nil {
		run.OverallMean = res.Summary.OverallMean
	}
	if res.Categories != nil {
		run.Skipped = len(res.Categories.Skipped)
	}
	// A cancelled run is still recorded.
	id, err := p.recorder.RecordRun(context.WithoutCancel(ctx), run)
	if err != nil {
		log.Warn("failed to record run", zap.Error(err))
		return
	}
	res.RunID = id
	log.Info("run recorded", zap.String("run_id", id), zap.String("status", status), zap.Duration("elapsed", p.clock.Since(start)))
}

// stage starts timing a stage; call the returned func when it ends.
func (p *Pipeline) stage(name string) func() {
	t := p.clock.Now()
	return func() {
		d := p.clock.Since(t)
		p.log.Debug("stage complete", zap.String("stage", name), zap.Duration("elapsed", d))
		if p.metrics != nil {
			p.metrics.ObserveStage(name, d.Seconds())
		}
	}
}
