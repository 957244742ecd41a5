// Package align resamples grids onto a reference geometry so they can take
// part in one reduction.
package align

import (
	"fmt"
	"sync"

	"github.com/banshee-data/spatialcompare/internal/grid"
)

// Aligner resamples a grid onto a reference geometry.
type Aligner interface {
	Align(g *grid.Grid, ref grid.Geometry) (*grid.Grid, error)
}

// Nearest is an Aligner using nearest-cell lookup. Target cells whose
// centre falls outside the source are nodata.
type Nearest struct{}

// Align implements Aligner.
func (Nearest) Align(g *grid.Grid, ref grid.Geometry) (*grid.Grid, error) {
	if err := ref.Validate(); err != nil {
		return nil, fmt.Errorf("align reference: %w", err)
	}
	src := g.Geometry()
	if src.Equal(ref) {
		return g.WithGeometry(ref)
	}
	out := make([]float64, ref.Len())
	for r := 0; r < ref.Rows; r++ {
		for c := 0; c < ref.Cols; c++ {
			x, y := ref.CellCenter(r, c)
			sr, sc, ok := src.CellAt(x, y)
			if !ok {
				out[r*ref.Cols+c] = grid.NoData
				continue
			}
			out[r*ref.Cols+c] = g.At(sr, sc)
		}
	}
	return grid.New(ref, out)
}

// Environment is the analysis environment an alignment runs under: the
// geometry outputs snap to, and the source it was taken from.
type Environment struct {
	Reference grid.Geometry
	Source    string
}

// Backend runs alignments inside scoped environment overrides. Only one
// scope is active at a time; the previous environment is restored when the
// scope exits, including on error or panic.
type Backend struct {
	aligner Aligner

	scopeMu sync.Mutex // serialises scopes

	envMu sync.RWMutex
	env   *Environment
}

// NewBackend wraps aligner. A nil aligner selects Nearest.
func NewBackend(aligner Aligner) *Backend {
	if aligner == nil {
		aligner = Nearest{}
	}
	return &Backend{aligner: aligner}
}

// Current returns the active environment, if any.
func (b *Backend) Current() (Environment, bool) {
	b.envMu.RLock()
	defer b.envMu.RUnlock()
	if b.env == nil {
		return Environment{}, false
	}
	return *b.env, true
}

func (b *Backend) swap(env *Environment) *Environment {
	b.envMu.Lock()
	defer b.envMu.Unlock()
	prev := b.env
	b.env = env
	return prev
}

// Scoped runs fn with env active.
func (b *Backend) Scoped(env Environment, fn func(*Scope) error) error {
	if err := env.Reference.Validate(); err != nil {
		return fmt.Errorf("alignment environment: %w", err)
	}
	b.scopeMu.Lock()
	defer b.scopeMu.Unlock()

	prev := b.swap(&env)
	defer b.swap(prev)

	return fn(&Scope{backend: b, env: env})
}

// Scope is an active alignment environment.
type Scope struct {
	backend *Backend
	env     Environment
}

// Environment returns the scope's environment.
func (s *Scope) Environment() Environment { return s.env }

// Align resamples g onto the scope's reference geometry.
func (s *Scope) Align(g *grid.Grid) (*grid.Grid, error) {
	return s.backend.aligner.Align(g, s.env.Reference)
}

// AlignAll aligns every grid, failing on the first error.
func (s *Scope) AlignAll(grids []*grid.Grid) ([]*grid.Grid, error) {
	out := make([]*grid.Grid, len(grids))
	for i, g := range grids {
		a, err := s.Align(g)
		if err != nil {
			return nil, fmt.Errorf("align input %d: %w", i, err)
		}
		out[i] = a
	}
	return out, nil
}
