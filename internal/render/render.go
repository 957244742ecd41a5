// Package render exports value histograms of grids as PNG plots and
// interactive HTML charts.
package render

import (
	"fmt"
	"image/color"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/spatialcompare/internal/grid"
)

// Histogram is the display range and bucket width of a histogram.
type Histogram struct {
	Min         float64
	Max         float64
	BucketWidth float64
}

// Validate checks the range and width.
func (h Histogram) Validate() error {
	if !(h.BucketWidth > 0) {
		return fmt.Errorf("histogram bucket width must be positive, got %g", h.BucketWidth)
	}
	if !(h.Max > h.Min) {
		return fmt.Errorf("histogram max %g must exceed min %g", h.Max, h.Min)
	}
	return nil
}

// Buckets returns the number of buckets covering [Min, Max].
func (h Histogram) Buckets() int {
	return int(math.Ceil((h.Max - h.Min) / h.BucketWidth))
}

// Bin is one histogram bucket, [Lo, Hi).
type Bin struct {
	Lo, Hi float64
	Count  int
}

// Bucket counts the valid cells of g falling in each bucket. Cells outside
// [Min, Max] are ignored; Max itself lands in the last bucket.
func Bucket(g *grid.Grid, h Histogram) ([]Bin, error) {
	if err := h.Validate(); err != nil {
		return nil, err
	}
	n := h.Buckets()
	bins := make([]Bin, n)
	for i := range bins {
		bins[i].Lo = h.Min + float64(i)*h.BucketWidth
		bins[i].Hi = math.Min(bins[i].Lo+h.BucketWidth, h.Max)
	}
	for i := 0; i < g.Len(); i++ {
		v := g.Index(i)
		if math.IsNaN(v) || v < h.Min || v > h.Max {
			continue
		}
		idx := int((v - h.Min) / h.BucketWidth)
		if idx >= n {
			idx = n - 1
		}
		bins[idx].Count++
	}
	return bins, nil
}

// WritePNG saves a histogram plot of g to path.
func WritePNG(g *grid.Grid, h Histogram, title, path string) error {
	bins, err := Bucket(g, h)
	if err != nil {
		return err
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Value"
	p.Y.Label.Text = "Cells"
	p.X.Min, p.X.Max = h.Min, h.Max

	p.Add(histogramBars(bins))

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}
	if err := p.Save(10*vg.Inch, 6*vg.Inch, path); err != nil {
		return fmt.Errorf("save histogram %s: %w", path, err)
	}
	return nil
}

// WriteHTML renders g's histogram as an HTML bar chart to w.
func WriteHTML(g *grid.Grid, h Histogram, title string, w io.Writer) error {
	bins, err := Bucket(g, h)
	if err != nil {
		return err
	}
	x := make([]string, len(bins))
	y := make([]opts.BarData, len(bins))
	total := 0
	for i, b := range bins {
		x[i] = fmt.Sprintf("%g-%g", b.Lo, b.Hi)
		y[i] = opts.BarData{Value: b.Count}
		total += b.Count
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Width: "100%", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: fmt.Sprintf("cells=%d width=%g", total, h.BucketWidth)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Value"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Cells"}),
	)
	bar.SetXAxis(x).AddSeries("cells", y)
	return bar.Render(w)
}

// histogramBars draws each bin over its own bounds, so a last bin clipped
// to Max stays narrower than the rest.
func histogramBars(bins []Bin) *plotter.Histogram {
	hb := make([]plotter.HistogramBin, len(bins))
	for i, b := range bins {
		hb[i] = plotter.HistogramBin{Min: b.Lo, Max: b.Hi, Weight: float64(b.Count)}
	}
	return &plotter.Histogram{
		Bins:      hb,
		FillColor: color.RGBA{R: 49, G: 104, B: 142, A: 255},
		LineStyle: plotter.DefaultLineStyle,
	}
}
