// Package mask restricts grids to a region of interest.
//
// A mask is an ordinary grid: cells holding data are inside the region,
// nodata cells are outside. How the mask was produced does not matter here.
package mask

import (
	"context"
	"errors"
	"fmt"

	"github.com/banshee-data/spatialcompare/internal/grid"
)

// Apply returns g with every cell outside m set to nodata.
func Apply(g, m *grid.Grid) (*grid.Grid, error) {
	if !g.Geometry().Equal(m.Geometry()) {
		return nil, fmt.Errorf("apply mask: %w: grid %s, mask %s", grid.ErrShapeMismatch, g.Geometry(), m.Geometry())
	}
	out := g.Values()
	for i := range out {
		if !m.Valid(i) {
			out[i] = grid.NoData
		}
	}
	return grid.New(g.Geometry(), out)
}

// FromBools builds a mask grid: true cells are inside (value 1), false
// cells are nodata.
func FromBools(geom grid.Geometry, inside []bool) (*grid.Grid, error) {
	if len(inside) != geom.Len() {
		return nil, fmt.Errorf("%w: %d flags for %d cells", grid.ErrShapeMismatch, len(inside), geom.Len())
	}
	v := make([]float64, len(inside))
	for i, in := range inside {
		if in {
			v[i] = 1
		} else {
			v[i] = grid.NoData
		}
	}
	return grid.New(geom, v)
}

// Loader reads a stored grid by identifier.
type Loader interface {
	Load(ctx context.Context, id string) (*grid.Grid, error)
}

// DeriveFunc builds a mask from a classification query.
type DeriveFunc func(ctx context.Context) (*grid.Grid, error)

// Settings selects where the run's mask comes from.
type Settings struct {
	UseBackup bool
	BackupID  string
}

// ErrNoMaskSource is returned when neither a backup artifact nor a
// derivation is available.
var ErrNoMaskSource = errors.New("no mask source configured")

// Provider yields the run's mask from a precomputed backup artifact or a
// fresh derivation.
type Provider struct {
	loader Loader
	derive DeriveFunc
}

// NewProvider returns a Provider. Either argument may be nil when that
// provenance is not available.
func NewProvider(loader Loader, derive DeriveFunc) *Provider {
	return &Provider{loader: loader, derive: derive}
}

// Mask returns the mask selected by s.
func (p *Provider) Mask(ctx context.Context, s Settings) (*grid.Grid, error) {
	if s.UseBackup {
		if p.loader == nil || s.BackupID == "" {
			return nil, fmt.Errorf("%w: backup mask requested without id or store", ErrNoMaskSource)
		}
		m, err := p.loader.Load(ctx, s.BackupID)
		if err != nil {
			return nil, fmt.Errorf("load backup mask %s: %w", s.BackupID, err)
		}
		return m, nil
	}
	if p.derive == nil {
		return nil, ErrNoMaskSource
	}
	m, err := p.derive(ctx)
	if err != nil {
		return nil, fmt.Errorf("derive mask: %w", err)
	}
	return m, nil
}
