package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/banshee-data/spatialcompare/internal/align"
	"github.com/banshee-data/spatialcompare/internal/grid"
	"github.com/banshee-data/spatialcompare/internal/gridstore"
	"github.com/banshee-data/spatialcompare/internal/mask"
	"github.com/banshee-data/spatialcompare/internal/telemetry"
	"github.com/banshee-data/spatialcompare/internal/timeutil"
)

// DebugSink receives each source's annual grid as soon as it is
// aggregated. It is called from worker goroutines and must be safe for
// concurrent use.
type DebugSink func(ctx context.Context, source string, year int, annual *grid.Grid) error

// NopSink discards intermediates.
func NopSink(context.Context, string, int, *grid.Grid) error { return nil }

// AnnualID is the store id a source's intermediate annual grid is saved to.
func AnnualID(source string) string { return source + "_annual" }

// StoreSink persists each annual grid to s under AnnualID.
func StoreSink(s gridstore.Store) DebugSink {
	return func(ctx context.Context, source string, _ int, annual *grid.Grid) error {
		if err := s.Save(ctx, annual, AnnualID(source)); err != nil {
			return fmt.Errorf("debug sink %s: %w", source, err)
		}
		return nil
	}
}

// RunRecorder persists run records. SQLiteStore implements it.
type RunRecorder interface {
	RecordRun(ctx context.Context, r *gridstore.Run) (string, error)
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithAligner replaces the nearest-cell aligner.
func WithAligner(a align.Aligner) Option {
	return func(p *Pipeline) { p.backend = align.NewBackend(a) }
}

// WithLogger sets the pipeline logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.log = l
		}
	}
}

// WithMetrics records stage timings and counts on m.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithClock replaces the wall clock.
func WithClock(c timeutil.Clock) Option {
	return func(p *Pipeline) { p.clock = c }
}

// WithDebugSink receives intermediate annual grids regardless of the
// configured debug flag.
func WithDebugSink(s DebugSink) Option {
	return func(p *Pipeline) { p.sink = s }
}

// WithMaskProvider overrides the mask provider built from the run
// configuration.
func WithMaskProvider(mp *mask.Provider) Option {
	return func(p *Pipeline) { p.masks = mp }
}

// WithRunRecorder records a run row after every RunYear. When the store
// itself implements RunRecorder it is used without this option.
func WithRunRecorder(r RunRecorder) Option {
	return func(p *Pipeline) { p.recorder = r }
}
